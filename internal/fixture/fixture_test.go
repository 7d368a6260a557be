package fixture

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/hackgods/slot-booking/internal/booking"
)

func TestLoad_SeedFile(t *testing.T) {
	c, err := Load(filepath.Join("..", "..", "fixtures", "seed.yml"))
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if len(c.Hours) != 7 || len(c.Providers) != 4 || len(c.Services) != 8 {
		t.Fatalf("loaded %d hours, %d providers, %d services", len(c.Hours), len(c.Providers), len(c.Services))
	}
	if c.Hours[5].Open != booking.NewClock(6, 0) || c.Hours[5].Close != booking.NewClock(20, 0) {
		t.Errorf("saturday = %+v, want 06:00-20:00", c.Hours[5])
	}
	for _, s := range c.Services {
		if s.ProviderID == nil || s.CategoryID == nil {
			t.Errorf("service %q not linked: %+v", s.Name, s)
		}
	}
}

func TestParse_IDsAreStable(t *testing.T) {
	a, err := Load(filepath.Join("..", "..", "fixtures", "seed.yml"))
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	b, _ := Load(filepath.Join("..", "..", "fixtures", "seed.yml"))
	if a.Services[0].ID != b.Services[0].ID || a.Providers[0].ID != b.Providers[0].ID {
		t.Fatal("fixture IDs differ between loads")
	}
}

const minimal = `
business_hours:
  - { day: 0, open: "09:00", close: "17:00" }
  - { day: 1, open: "09:00", close: "17:00" }
  - { day: 2, open: "09:00", close: "17:00" }
  - { day: 3, open: "09:00", close: "17:00" }
  - { day: 4, open: "09:00", close: "17:00" }
  - { day: 5, closed: true }
  - { day: 6, closed: true }
services:
  - name: Walk-in
    price: "10.00"
    duration_minutes: 30
    stock_quantity: 1
    provider: %s
`

func TestParse_Errors(t *testing.T) {
	cases := map[string]string{
		"unknown provider": strings.Replace(minimal, "%s", "Nobody", 1),
		"missing day":      strings.Replace(strings.Replace(minimal, "    provider: %s\n", "", 1), "  - { day: 6, closed: true }\n", "", 1),
		"zero duration":    strings.Replace(strings.Replace(minimal, "    provider: %s\n", "", 1), "duration_minutes: 30", "duration_minutes: 0", 1),
		"bad clock":        strings.Replace(strings.Replace(minimal, "    provider: %s\n", "", 1), `open: "09:00"`, `open: "9am"`, 1),
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := Parse([]byte(doc)); err == nil {
				t.Fatal("Parse succeeded, want error")
			}
		})
	}
}

func TestApply_SeedsMemoryRepository(t *testing.T) {
	c, err := Parse([]byte(strings.Replace(minimal, "    provider: %s\n", "", 1)))
	if err != nil {
		t.Fatalf("Parse error: %v", err)
	}

	repo := booking.NewMemoryRepository()
	ctx := context.Background()
	if err := c.Apply(ctx, repo); err != nil {
		t.Fatalf("Apply error: %v", err)
	}
	if err := c.Apply(ctx, repo); err != nil {
		t.Fatalf("second Apply error: %v", err)
	}

	services, _ := repo.ListServices(ctx, booking.ServiceFilter{ActiveOnly: true})
	if len(services) != 1 || services[0].Name != "Walk-in" {
		t.Fatalf("services = %+v", services)
	}
	if _, err := repo.HoursFor(ctx, 5); err != nil {
		t.Fatalf("HoursFor(5) error: %v", err)
	}
}
