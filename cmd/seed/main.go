package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/hackgods/slot-booking/internal/booking"
	"github.com/hackgods/slot-booking/internal/config"
	"github.com/hackgods/slot-booking/internal/db"
	"github.com/hackgods/slot-booking/internal/fixture"
	"github.com/hackgods/slot-booking/internal/logging"
)

var specialties = []string{
	"Full swing",
	"Short game",
	"Putting",
	"Course management",
	"Junior coaching",
	"Fitting",
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		fallback := zerolog.New(os.Stderr)
		fallback.Fatal().Err(err).Msg("config load error")
	}
	logger := logging.New(cfg.Env, cfg.LogLevel, "seed")
	if cfg.StorageDriver != "postgres" {
		logger.Fatal().Str("storage", cfg.StorageDriver).Msg("seed writes to postgres; set STORAGE_DRIVER=postgres")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	pool, err := db.ConnectPostgres(ctx, cfg.PostgresDSN)
	if err != nil {
		logger.Fatal().Err(err).Msg("connect postgres")
	}
	defer pool.Close()

	if err := db.Migrate(ctx, pool); err != nil {
		logger.Fatal().Err(err).Msg("migrate")
	}
	repo := booking.NewPgRepository(pool)

	catalog, err := fixture.Load(cfg.FixturePath)
	if err != nil {
		logger.Fatal().Err(err).Msg("load fixture")
	}
	if err := catalog.Apply(ctx, repo); err != nil {
		logger.Fatal().Err(err).Msg("apply fixture")
	}
	logger.Info().
		Int("providers", len(catalog.Providers)).
		Int("services", len(catalog.Services)).
		Msg("fixture catalogue applied")

	gofakeit.Seed(time.Now().UnixNano())

	extraProviders := getInt("SEED_FAKE_PROVIDERS", 0)
	services, err := seedFakeProviders(ctx, repo, extraProviders, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("seed fake providers")
	}

	reservations := getInt("SEED_FAKE_RESERVATIONS", 0)
	if reservations > 0 {
		mgr := booking.NewManager(repo, nil, nil, booking.Options{
			Location: cfg.Location,
			Logger:   logger.With().Str("component", "booking").Logger(),
		})
		all, err := repo.ListServices(ctx, booking.ServiceFilter{ActiveOnly: true})
		if err != nil {
			logger.Fatal().Err(err).Msg("list services")
		}
		services = append(services, all...)
		if err := seedFakeReservations(ctx, mgr, services, reservations, logger); err != nil {
			logger.Fatal().Err(err).Msg("seed fake reservations")
		}
	}

	logger.Info().Msg("seed complete")
}

// seedFakeProviders adds count generated coaches, each with one bound lesson.
func seedFakeProviders(ctx context.Context, repo *booking.PgRepository, count int, logger zerolog.Logger) ([]booking.Service, error) {
	if count <= 0 {
		return nil, nil
	}
	logger.Info().Int("count", count).Msg("seeding fake providers")

	out := make([]booking.Service, 0, count)
	for i := 0; i < count; i++ {
		name := gofakeit.Name()
		email := gofakeit.Email()
		phone := gofakeit.Phone()
		specialty := specialties[gofakeit.Number(0, len(specialties)-1)]

		p := booking.Provider{
			ID:              uuid.New(),
			Name:            name,
			Email:           &email,
			Phone:           &phone,
			Specialties:     &specialty,
			ExperienceYears: gofakeit.Number(1, 30),
			IsActive:        true,
		}
		if err := repo.InsertProvider(ctx, p); err != nil {
			return nil, fmt.Errorf("insert provider %s: %w", name, err)
		}

		pid := p.ID
		svc := booking.Service{
			ID:             uuid.New(),
			ProviderID:     &pid,
			Name:           fmt.Sprintf("%s lesson with %s", specialty, name),
			Price:          decimal.NewFromInt(int64(gofakeit.Number(40, 150))),
			DurationMin:    []int{30, 45, 60, 90}[gofakeit.Number(0, 3)],
			MaxAdvanceDays: 60,
			IsActive:       true,
			StockQuantity:  1,
		}
		if err := repo.InsertService(ctx, svc); err != nil {
			return nil, fmt.Errorf("insert service %s: %w", svc.Name, err)
		}
		out = append(out, svc)
	}

	logger.Info().Int("count", count).Msg("fake providers seeded")
	return out, nil
}

// seedFakeReservations books count random open slots through the manager so
// every row passes the same checks as an API request.
func seedFakeReservations(ctx context.Context, mgr *booking.Manager, services []booking.Service, count int, logger zerolog.Logger) error {
	if len(services) == 0 {
		return errors.New("no active services to book")
	}
	logger.Info().Int("count", count).Msg("seeding fake reservations")

	var created, skipped int
	today := booking.DateOf(time.Now())
	for attempt := 0; created < count && attempt < count*5; attempt++ {
		svc := services[gofakeit.Number(0, len(services)-1)]
		date := today.AddDate(0, 0, gofakeit.Number(1, 14))

		slots, err := mgr.AvailableTimes(ctx, svc.ID, date, nil)
		if err != nil {
			return err
		}
		if len(slots) == 0 {
			skipped++
			continue
		}

		_, err = mgr.Create(ctx, booking.CreateInput{
			UserID:    uuid.New(),
			ServiceID: svc.ID,
			Date:      date,
			Time:      slots[gofakeit.Number(0, len(slots)-1)],
		})
		switch {
		case err == nil:
			created++
			if created%100 == 0 {
				logger.Info().Int("created", created).Int("target", count).Msg("reservations seeded")
			}
		case errors.Is(err, booking.ErrConflict), booking.IsValidation(err):
			skipped++
		default:
			return err
		}
	}

	logger.Info().Int("created", created).Int("skipped", skipped).Msg("fake reservations seeded")
	return nil
}

func getInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}
