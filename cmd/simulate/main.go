package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"net/http"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/hackgods/slot-booking/internal/api"
	"github.com/hackgods/slot-booking/internal/booking"
	"github.com/hackgods/slot-booking/internal/config"
	"github.com/hackgods/slot-booking/internal/logging"
)

// simulate races many users for the same slot against a running api-server and
// reports how many requests won each slot. More than one winner per slot is a
// double booking.

type SimConfig struct {
	APIBaseURL  string
	Rounds      int
	Contenders  int
	DaysAhead   int
	ReadWorkers int
}

type OperationMetrics struct {
	Total     int64
	Success   int64
	Conflict  int64
	Error     int64
	Latencies []time.Duration
	mu        sync.Mutex
}

func (om *OperationMetrics) Record(latency time.Duration, success bool, conflict bool) {
	atomic.AddInt64(&om.Total, 1)
	switch {
	case success:
		atomic.AddInt64(&om.Success, 1)
	case conflict:
		atomic.AddInt64(&om.Conflict, 1)
	default:
		atomic.AddInt64(&om.Error, 1)
	}

	om.mu.Lock()
	om.Latencies = append(om.Latencies, latency)
	om.mu.Unlock()
}

func (om *OperationMetrics) Percentiles() (p50, p95, max time.Duration) {
	om.mu.Lock()
	defer om.mu.Unlock()

	if len(om.Latencies) == 0 {
		return 0, 0, 0
	}
	latencies := append([]time.Duration(nil), om.Latencies...)
	sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })

	at := func(pct int) time.Duration {
		idx := len(latencies) * pct / 100
		if idx >= len(latencies) {
			idx = len(latencies) - 1
		}
		return latencies[idx]
	}
	return at(50), at(95), latencies[len(latencies)-1]
}

type SlotOutcome struct {
	Service string
	Date    string
	Time    string
	Winners int
}

type Simulator struct {
	config   SimConfig
	auth     *api.Authenticator
	client   *http.Client
	logger   zerolog.Logger
	booking  OperationMetrics
	reads    OperationMetrics
	outcomes []SlotOutcome
}

func main() {
	baseCfg, err := config.Load()
	if err != nil {
		fallback := zerolog.New(os.Stderr)
		fallback.Fatal().Err(err).Msg("failed to load base config")
	}
	logger := logging.New(baseCfg.Env, baseCfg.LogLevel, "simulate")

	cfg := SimConfig{
		APIBaseURL:  strings.TrimRight(getEnv("SIM_API_BASE_URL", "http://localhost:8080"), "/"),
		Rounds:      getInt("SIM_ROUNDS", 20),
		Contenders:  getInt("SIM_CONTENDERS", 16),
		DaysAhead:   getInt("SIM_DAYS_AHEAD", 3),
		ReadWorkers: getInt("SIM_READ_WORKERS", 4),
	}
	if cfg.Rounds <= 0 || cfg.Contenders <= 1 {
		logger.Fatal().Msg("SIM_ROUNDS must be > 0 and SIM_CONTENDERS must be > 1")
	}

	sim := &Simulator{
		config: cfg,
		auth:   api.NewAuthenticator(baseCfg.JWTSecret),
		client: &http.Client{Timeout: 10 * time.Second},
		logger: logger,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	if err := sim.Run(ctx); err != nil {
		logger.Fatal().Err(err).Msg("simulation failed")
	}
	sim.PrintReport()
}

type serviceInfo struct {
	ID          uuid.UUID `json:"id"`
	Name        string    `json:"name"`
	IsAvailable bool      `json:"is_available"`
}

func (s *Simulator) Run(ctx context.Context) error {
	var services []serviceInfo
	if err := s.getJSON(ctx, "/services", "", &services); err != nil {
		return fmt.Errorf("list services: %w", err)
	}
	bookable := services[:0]
	for _, svc := range services {
		if svc.IsAvailable {
			bookable = append(bookable, svc)
		}
	}
	if len(bookable) == 0 {
		return fmt.Errorf("no bookable services at %s", s.config.APIBaseURL)
	}
	s.logger.Info().Int("services", len(bookable)).Int("rounds", s.config.Rounds).Int("contenders", s.config.Contenders).Msg("starting simulation")

	readCtx, stopReads := context.WithCancel(ctx)
	var readers sync.WaitGroup
	for i := 0; i < s.config.ReadWorkers; i++ {
		readers.Add(1)
		go func(worker int) {
			defer readers.Done()
			s.readLoop(readCtx, bookable, rand.New(rand.NewSource(time.Now().UnixNano()+int64(worker))))
		}(i)
	}

	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	for round := 0; round < s.config.Rounds && ctx.Err() == nil; round++ {
		svc := bookable[rng.Intn(len(bookable))]
		date := booking.FormatDate(time.Now().AddDate(0, 0, 1+rng.Intn(s.config.DaysAhead)))

		var slots []string
		if err := s.getJSON(ctx, "/services/"+svc.ID.String()+"/available-times?date="+date, "", &slots); err != nil {
			s.logger.Warn().Err(err).Str("service", svc.Name).Msg("fetch available times failed")
			continue
		}
		if len(slots) == 0 {
			continue
		}
		slot := slots[rng.Intn(len(slots))]

		winners := s.race(ctx, svc.ID, date, slot)
		s.outcomes = append(s.outcomes, SlotOutcome{Service: svc.Name, Date: date, Time: slot, Winners: winners})
		if winners > 1 {
			s.logger.Error().Str("service", svc.Name).Str("date", date).Str("time", slot).Int("winners", winners).Msg("double booking detected")
		}
	}

	stopReads()
	readers.Wait()
	return nil
}

// race fires Contenders create requests for one slot at once and returns how many succeeded.
func (s *Simulator) race(ctx context.Context, serviceID uuid.UUID, date, slot string) int {
	body, _ := json.Marshal(map[string]string{
		"service_id": serviceID.String(),
		"date":       date,
		"time":       slot,
	})

	var (
		wg      sync.WaitGroup
		winners int64
		start   = make(chan struct{})
	)
	for i := 0; i < s.config.Contenders; i++ {
		token, err := s.auth.Issue(booking.Actor{Kind: booking.ActorUser, ID: uuid.New()}, 10*time.Minute)
		if err != nil {
			s.logger.Error().Err(err).Msg("issue token")
			continue
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start

			req, _ := http.NewRequestWithContext(ctx, http.MethodPost, s.config.APIBaseURL+"/reservations", bytes.NewReader(body))
			req.Header.Set("Content-Type", "application/json")
			req.Header.Set("Authorization", "Bearer "+token)

			began := time.Now()
			resp, err := s.client.Do(req)
			latency := time.Since(began)
			if err != nil {
				s.booking.Record(latency, false, false)
				return
			}
			defer resp.Body.Close()

			var errBody api.ErrorResponse
			if resp.StatusCode != http.StatusCreated {
				_ = json.NewDecoder(resp.Body).Decode(&errBody)
			}
			ok := resp.StatusCode == http.StatusCreated
			if ok {
				atomic.AddInt64(&winners, 1)
			}
			s.booking.Record(latency, ok, errBody.Error == "conflict")
		}()
	}
	close(start)
	wg.Wait()
	return int(winners)
}

func (s *Simulator) readLoop(ctx context.Context, services []serviceInfo, rng *rand.Rand) {
	for ctx.Err() == nil {
		svc := services[rng.Intn(len(services))]
		date := booking.FormatDate(time.Now().AddDate(0, 0, 1+rng.Intn(s.config.DaysAhead)))

		began := time.Now()
		var slots []string
		err := s.getJSON(ctx, "/services/"+svc.ID.String()+"/available-times?date="+date, "", &slots)
		if ctx.Err() != nil {
			return
		}
		s.reads.Record(time.Since(began), err == nil, false)
	}
}

func (s *Simulator) getJSON(ctx context.Context, path, token string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.config.APIBaseURL+path, nil)
	if err != nil {
		return err
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("GET %s: status %d", path, resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (s *Simulator) PrintReport() {
	fmt.Println("\n" + strings.Repeat("=", 80))
	fmt.Println("SLOT RACE REPORT")
	fmt.Println(strings.Repeat("=", 80))
	fmt.Printf("Rounds: %d  Contenders per slot: %d\n\n", len(s.outcomes), s.config.Contenders)

	var single, none, double int
	for _, o := range s.outcomes {
		switch {
		case o.Winners == 1:
			single++
		case o.Winners == 0:
			none++
		default:
			double++
			fmt.Printf("  DOUBLE BOOKED: %s %s %s (%d winners)\n", o.Service, o.Date, o.Time, o.Winners)
		}
	}
	fmt.Printf("Slots with exactly one winner: %d\n", single)
	fmt.Printf("Slots with no winner:          %d\n", none)
	fmt.Printf("Slots double booked:           %d\n\n", double)

	printOperationReport("Create reservation", &s.booking)
	printOperationReport("Available times", &s.reads)
}

func printOperationReport(name string, om *OperationMetrics) {
	total := atomic.LoadInt64(&om.Total)
	if total == 0 {
		return
	}

	success := atomic.LoadInt64(&om.Success)
	conflict := atomic.LoadInt64(&om.Conflict)
	failed := atomic.LoadInt64(&om.Error)
	p50, p95, max := om.Percentiles()

	fmt.Printf("%s:\n", name)
	fmt.Printf("  Total: %d\n", total)
	fmt.Printf("  Success: %d (%.1f%%)\n", success, float64(success)/float64(total)*100)
	if conflict > 0 {
		fmt.Printf("  Conflicts: %d (%.1f%%)\n", conflict, float64(conflict)/float64(total)*100)
	}
	if failed > 0 {
		fmt.Printf("  Errors: %d (%.1f%%)\n", failed, float64(failed)/float64(total)*100)
	}
	fmt.Printf("  Latency: p50=%s p95=%s max=%s\n\n",
		p50.Round(time.Millisecond), p95.Round(time.Millisecond), max.Round(time.Millisecond))
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}
