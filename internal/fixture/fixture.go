// Package fixture loads the reference catalogue (business hours, categories,
// providers and services) from YAML and writes it to a store.
package fixture

import (
	"context"
	"fmt"
	"os"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/hackgods/slot-booking/internal/booking"
)

// namespace keeps fixture IDs stable across runs so reseeding is a no-op.
var namespace = uuid.MustParse("6f1c2a8e-3d5b-4c1e-9a7f-2b8d4e6c0a13")

type Hours struct {
	Day      int           `yaml:"day" validate:"min=0,max=6"`
	Open     booking.Clock `yaml:"open"`
	Close    booking.Clock `yaml:"close"`
	IsClosed bool          `yaml:"closed"`
}

type Category struct {
	Name        string `yaml:"name" validate:"required"`
	Description string `yaml:"description"`
	Inactive    bool   `yaml:"inactive"`
}

type Provider struct {
	Name            string `yaml:"name" validate:"required"`
	Description     string `yaml:"description"`
	Phone           string `yaml:"phone"`
	Email           string `yaml:"email" validate:"omitempty,email"`
	Specialties     string `yaml:"specialties"`
	ExperienceYears int    `yaml:"experience_years" validate:"gte=0"`
	Inactive        bool   `yaml:"inactive"`
}

type Service struct {
	Name            string          `yaml:"name" validate:"required"`
	Description     string          `yaml:"description"`
	Category        string          `yaml:"category"`
	Provider        string          `yaml:"provider"`
	Price           decimal.Decimal `yaml:"price"`
	DurationMin     int             `yaml:"duration_minutes" validate:"gt=0"`
	MinAdvanceHours int             `yaml:"min_advance_hours" validate:"gte=0"`
	MaxAdvanceDays  int             `yaml:"max_advance_days" validate:"gte=0"`
	StockQuantity   int             `yaml:"stock_quantity" validate:"gte=0"`
	Featured        bool            `yaml:"featured"`
	Inactive        bool            `yaml:"inactive"`
}

type File struct {
	BusinessHours []Hours    `yaml:"business_hours" validate:"len=7,dive"`
	Categories    []Category `yaml:"categories" validate:"dive"`
	Providers     []Provider `yaml:"providers" validate:"dive"`
	Services      []Service  `yaml:"services" validate:"min=1,dive"`
}

// Catalog is the resolved fixture, ready to write.
type Catalog struct {
	Hours      []booking.BusinessHours
	Categories []booking.Category
	Providers  []booking.Provider
	Services   []booking.Service
}

func Load(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read fixture %s: %w", path, err)
	}
	return Parse(data)
}

func Parse(data []byte) (*Catalog, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("unmarshal fixture: %w", err)
	}
	if err := validator.New().Struct(f); err != nil {
		return nil, fmt.Errorf("fixture validation failed: %w", err)
	}
	return f.resolve()
}

func stableID(kind, name string) uuid.UUID {
	return uuid.NewSHA1(namespace, []byte(kind+":"+name))
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func (f File) resolve() (*Catalog, error) {
	var c Catalog

	for _, h := range f.BusinessHours {
		c.Hours = append(c.Hours, booking.BusinessHours{Day: h.Day, Open: h.Open, Close: h.Close, IsClosed: h.IsClosed})
	}
	if err := booking.ValidateWeek(c.Hours); err != nil {
		return nil, err
	}

	categories := make(map[string]uuid.UUID, len(f.Categories))
	for _, cat := range f.Categories {
		id := stableID("category", cat.Name)
		categories[cat.Name] = id
		c.Categories = append(c.Categories, booking.Category{
			ID:          id,
			Name:        cat.Name,
			Description: cat.Description,
			IsActive:    !cat.Inactive,
		})
	}

	providers := make(map[string]uuid.UUID, len(f.Providers))
	for _, p := range f.Providers {
		id := stableID("provider", p.Name)
		providers[p.Name] = id
		c.Providers = append(c.Providers, booking.Provider{
			ID:              id,
			Name:            p.Name,
			Description:     optional(p.Description),
			Phone:           optional(p.Phone),
			Email:           optional(p.Email),
			Specialties:     optional(p.Specialties),
			ExperienceYears: p.ExperienceYears,
			IsActive:        !p.Inactive,
		})
	}

	for _, s := range f.Services {
		svc := booking.Service{
			ID:              stableID("service", s.Name),
			Name:            s.Name,
			Description:     s.Description,
			Price:           s.Price,
			DurationMin:     s.DurationMin,
			MinAdvanceHours: s.MinAdvanceHours,
			MaxAdvanceDays:  s.MaxAdvanceDays,
			IsActive:        !s.Inactive,
			IsFeatured:      s.Featured,
			StockQuantity:   s.StockQuantity,
		}
		if s.Category != "" {
			id, ok := categories[s.Category]
			if !ok {
				return nil, fmt.Errorf("service %q: unknown category %q", s.Name, s.Category)
			}
			svc.CategoryID = &id
		}
		if s.Provider != "" {
			id, ok := providers[s.Provider]
			if !ok {
				return nil, fmt.Errorf("service %q: unknown provider %q", s.Name, s.Provider)
			}
			svc.ProviderID = &id
		}
		if err := svc.Validate(); err != nil {
			return nil, fmt.Errorf("service %q: %w", s.Name, err)
		}
		c.Services = append(c.Services, svc)
	}

	return &c, nil
}

// Store is the catalogue writer implemented by both booking repositories.
type Store interface {
	UpsertBusinessHours(ctx context.Context, h booking.BusinessHours) error
	InsertCategory(ctx context.Context, c booking.Category) error
	InsertProvider(ctx context.Context, p booking.Provider) error
	InsertService(ctx context.Context, s booking.Service) error
}

// Apply writes the catalogue. Existing rows with the same ID are left alone;
// business hours are overwritten.
func (c *Catalog) Apply(ctx context.Context, store Store) error {
	for _, h := range c.Hours {
		if err := store.UpsertBusinessHours(ctx, h); err != nil {
			return err
		}
	}
	for _, cat := range c.Categories {
		if err := store.InsertCategory(ctx, cat); err != nil {
			return err
		}
	}
	for _, p := range c.Providers {
		if err := store.InsertProvider(ctx, p); err != nil {
			return err
		}
	}
	for _, s := range c.Services {
		if err := store.InsertService(ctx, s); err != nil {
			return err
		}
	}
	return nil
}
