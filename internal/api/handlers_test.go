package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/hackgods/slot-booking/internal/booking"
	redisclient "github.com/hackgods/slot-booking/internal/redis"
)

const testSecret = "test-secret-0123456789"

// Friday 2026-10-16 08:00 UTC; the next Monday is 2026-10-19.
var testNow = time.Date(2026, 10, 16, 8, 0, 0, 0, time.UTC)

type testServer struct {
	handler  http.Handler
	auth     *Authenticator
	repo     *booking.MemoryRepository
	service  booking.Service
	provider booking.Provider
}

func newTestServer(t *testing.T, deps ...Dependency) *testServer {
	t.Helper()

	repo := booking.NewMemoryRepository()
	for d := 0; d < 7; d++ {
		repo.PutBusinessHours(booking.BusinessHours{Day: d, Open: booking.NewClock(7, 0), Close: booking.NewClock(19, 0)})
	}
	provider := booking.Provider{ID: uuid.New(), Name: "Jamie Coach", IsActive: true}
	repo.PutProvider(provider)
	pid := provider.ID
	svc := booking.Service{
		ID:             uuid.New(),
		ProviderID:     &pid,
		Name:           "Swing Lesson",
		Price:          decimal.RequireFromString("50000"),
		DurationMin:    60,
		MaxAdvanceDays: 30,
		IsActive:       true,
		StockQuantity:  5,
	}
	repo.PutService(svc)

	mgr := booking.NewManager(repo, redisclient.NoopLocker{}, redisclient.NewMemoryChangeFeed(), booking.Options{
		Location: time.UTC,
		Now:      func() time.Time { return testNow },
		Logger:   zerolog.Nop(),
	})
	auth := NewAuthenticator(testSecret)

	h := NewRouter(RouterConfig{
		Manager:        mgr,
		Auth:           auth,
		Dependencies:   deps,
		Logger:         zerolog.Nop(),
		RequestTimeout: 5 * time.Second,
		Env:            "test",
		Version:        "test",
	})
	return &testServer{handler: h, auth: auth, repo: repo, service: svc, provider: provider}
}

func (s *testServer) token(t *testing.T, kind booking.ActorKind, id uuid.UUID) string {
	t.Helper()
	tok, err := s.auth.Issue(booking.Actor{Kind: kind, ID: id}, time.Hour)
	if err != nil {
		t.Fatalf("Issue error: %v", err)
	}
	return tok
}

func (s *testServer) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
	return v
}

func TestAvailableTimes(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodGet, "/services/"+s.service.ID.String()+"/available-times?date=2026-10-19", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	slots := decode[[]string](t, rec)
	if len(slots) != 23 || slots[0] != "07:00" || slots[len(slots)-1] != "18:00" {
		t.Fatalf("slots = %v", slots)
	}

	rec = s.do(t, http.MethodGet, "/services/"+s.service.ID.String()+"/available-times?date=19-10-2026", "", nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("malformed date: status = %d, want 400", rec.Code)
	}

	rec = s.do(t, http.MethodGet, "/services/"+uuid.NewString()+"/available-times?date=2026-10-19", "", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("unknown service: status = %d, want 404", rec.Code)
	}
}

func TestCreateReservation(t *testing.T) {
	s := newTestServer(t)
	alice, bob := uuid.New(), uuid.New()
	body := map[string]any{"service_id": s.service.ID, "date": "2026-10-19", "time": "09:00", "notes": "first lesson"}

	if rec := s.do(t, http.MethodPost, "/reservations", "", body); rec.Code != http.StatusUnauthorized {
		t.Errorf("anonymous: status = %d, want 401", rec.Code)
	}
	if rec := s.do(t, http.MethodPost, "/reservations", "not-a-jwt", body); rec.Code != http.StatusUnauthorized {
		t.Errorf("bad token: status = %d, want 401", rec.Code)
	}

	rec := s.do(t, http.MethodPost, "/reservations", s.token(t, booking.ActorUser, alice), body)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create: status = %d, body = %s", rec.Code, rec.Body.String())
	}
	res := decode[ReservationResponse](t, rec)
	if res.Status != "pending" || res.UserID != alice || res.Time != "09:00" || res.Date != "2026-10-19" {
		t.Errorf("reservation = %+v", res)
	}
	if res.ProviderID == nil || *res.ProviderID != s.provider.ID {
		t.Errorf("provider = %v, want %s", res.ProviderID, s.provider.ID)
	}

	rec = s.do(t, http.MethodPost, "/reservations", s.token(t, booking.ActorUser, bob), body)
	if rec.Code != http.StatusBadRequest || decode[ErrorResponse](t, rec).Error != "conflict" {
		t.Errorf("taken slot: status = %d, body = %s", rec.Code, rec.Body.String())
	}

	past := map[string]any{"service_id": s.service.ID, "date": "2026-10-01", "time": "09:00"}
	rec = s.do(t, http.MethodPost, "/reservations", s.token(t, booking.ActorUser, bob), past)
	if rec.Code != http.StatusBadRequest || decode[ErrorResponse](t, rec).Error != "validation_error" {
		t.Errorf("past date: status = %d, body = %s", rec.Code, rec.Body.String())
	}

	rec = s.do(t, http.MethodPost, "/reservations", s.token(t, booking.ActorUser, bob), map[string]any{"date": "2026-10-19"})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("missing fields: status = %d, want 400", rec.Code)
	}

	for _, bad := range []map[string]any{
		{"service_id": "not-a-uuid", "date": "2026-10-19", "time": "12:00"},
		{"service_id": s.service.ID, "provider_id": "nope", "date": "2026-10-19", "time": "12:00"},
	} {
		rec = s.do(t, http.MethodPost, "/reservations", s.token(t, booking.ActorUser, bob), bad)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("malformed id %v: status = %d, want 400", bad, rec.Code)
		}
	}

	overlap := map[string]any{"service_id": s.service.ID, "date": "2026-10-19", "time": "08:30"}
	rec = s.do(t, http.MethodPost, "/reservations", s.token(t, booking.ActorUser, bob), overlap)
	if rec.Code != http.StatusBadRequest || decode[ErrorResponse](t, rec).Error != "conflict" {
		t.Errorf("overlapping start: status = %d, body = %s", rec.Code, rec.Body.String())
	}

	rec = s.do(t, http.MethodGet, "/services/"+s.service.ID.String()+"/available-times?date=2026-10-19", "", nil)
	for _, slot := range decode[[]string](t, rec) {
		if slot == "08:30" || slot == "09:00" {
			t.Errorf("slot %s still offered after booking 09:00", slot)
		}
	}
}

func TestReservationTransitions(t *testing.T) {
	s := newTestServer(t)
	user := uuid.New()
	userTok := s.token(t, booking.ActorUser, user)
	providerTok := s.token(t, booking.ActorProvider, s.provider.ID)

	rec := s.do(t, http.MethodPost, "/reservations", userTok, map[string]any{"service_id": s.service.ID, "date": "2026-10-19", "time": "10:00"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create: status = %d, body = %s", rec.Code, rec.Body.String())
	}
	id := decode[ReservationResponse](t, rec).ID.String()

	if rec := s.do(t, http.MethodPost, "/reservations/"+id+"/confirm", userTok, nil); rec.Code != http.StatusForbidden {
		t.Errorf("user confirm: status = %d, want 403", rec.Code)
	}
	if rec := s.do(t, http.MethodPost, "/reservations/"+id+"/confirm", providerTok, nil); rec.Code != http.StatusOK {
		t.Fatalf("provider confirm: status = %d, body = %s", rec.Code, rec.Body.String())
	}
	if rec := s.do(t, http.MethodPost, "/reservations/"+id+"/complete", providerTok, nil); rec.Code != http.StatusOK {
		t.Fatalf("provider complete: status = %d, body = %s", rec.Code, rec.Body.String())
	}

	rec = s.do(t, http.MethodPost, "/reservations/"+id+"/cancel", userTok, nil)
	if rec.Code != http.StatusBadRequest || decode[ErrorResponse](t, rec).Error != "invalid_transition" {
		t.Errorf("cancel completed: status = %d, body = %s", rec.Code, rec.Body.String())
	}

	rec = s.do(t, http.MethodGet, "/reservations/"+id, s.token(t, booking.ActorUser, uuid.New()), nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("stranger get: status = %d, want 404", rec.Code)
	}
	rec = s.do(t, http.MethodGet, "/reservations/"+id, userTok, nil)
	if rec.Code != http.StatusOK || decode[ReservationResponse](t, rec).Status != "completed" {
		t.Errorf("owner get: status = %d, body = %s", rec.Code, rec.Body.String())
	}

	if rec := s.do(t, http.MethodPost, "/reservations/"+uuid.NewString()+"/cancel", userTok, nil); rec.Code != http.StatusNotFound {
		t.Errorf("unknown id: status = %d, want 404", rec.Code)
	}
	if rec := s.do(t, http.MethodPost, "/reservations/nope/cancel", userTok, nil); rec.Code != http.StatusBadRequest {
		t.Errorf("bad id: status = %d, want 400", rec.Code)
	}
}

func TestProviderUpdateStatus(t *testing.T) {
	s := newTestServer(t)
	user := uuid.New()
	userTok := s.token(t, booking.ActorUser, user)
	providerTok := s.token(t, booking.ActorProvider, s.provider.ID)

	rec := s.do(t, http.MethodPost, "/reservations", userTok, map[string]any{"service_id": s.service.ID, "date": "2026-10-19", "time": "11:00"})
	id := decode[ReservationResponse](t, rec).ID.String()

	if rec := s.do(t, http.MethodPost, "/provider-reservations/"+id+"/update-status", userTok, map[string]string{"status": "cancelled"}); rec.Code != http.StatusUnauthorized {
		t.Errorf("user on provider route: status = %d, want 401", rec.Code)
	}

	rec = s.do(t, http.MethodGet, "/provider-reservations", providerTok, nil)
	if rec.Code != http.StatusOK || len(decode[[]ReservationResponse](t, rec)) != 1 {
		t.Fatalf("provider list: status = %d, body = %s", rec.Code, rec.Body.String())
	}

	rec = s.do(t, http.MethodPost, "/provider-reservations/"+id+"/update-status", providerTok, map[string]string{"status": "cancelled"})
	if rec.Code != http.StatusOK {
		t.Fatalf("update-status: status = %d, body = %s", rec.Code, rec.Body.String())
	}
	resp := decode[UpdateStatusResponse](t, rec)
	if resp.Reservation.Status != "cancelled" {
		t.Errorf("status = %s, want cancelled", resp.Reservation.Status)
	}
	if len(resp.AvailableTimes) != 23 {
		t.Errorf("available_times = %v, want the full day back", resp.AvailableTimes)
	}

	rec = s.do(t, http.MethodGet, "/provider-reservations/"+id+"/update-status?status=confirmed", providerTok, nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("cancelled -> confirmed: status = %d, want 400", rec.Code)
	}

	rec = s.do(t, http.MethodPost, "/provider-reservations/"+id+"/update-status", providerTok, map[string]string{"status": "archived"})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("unknown status: status = %d, want 400", rec.Code)
	}
}

func TestTimeUpdates(t *testing.T) {
	s := newTestServer(t)
	userTok := s.token(t, booking.ActorUser, uuid.New())
	since := testNow.Add(-time.Minute).Format(time.RFC3339)

	rec := s.do(t, http.MethodPost, "/reservations", userTok, map[string]any{"service_id": s.service.ID, "date": "2026-10-20", "time": "07:00"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create: status = %d, body = %s", rec.Code, rec.Body.String())
	}

	rec = s.do(t, http.MethodGet, "/services/"+s.service.ID.String()+"/time-updates?since="+since, "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("time-updates: status = %d, body = %s", rec.Code, rec.Body.String())
	}
	updates := decode[[]TimeUpdateResponse](t, rec)
	if len(updates) != 1 || updates[0].Date != "2026-10-20" || len(updates[0].AvailableTimes) != 22 {
		t.Fatalf("updates = %+v", updates)
	}

	if rec := s.do(t, http.MethodGet, "/services/"+s.service.ID.String()+"/time-updates?since=yesterday", "", nil); rec.Code != http.StatusBadRequest {
		t.Errorf("bad since: status = %d, want 400", rec.Code)
	}
}

func TestCatalogueReads(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodGet, "/business-hours", "", nil)
	hours := decode[[]BusinessHoursResponse](t, rec)
	if len(hours) != 7 || hours[0].Open != "07:00" {
		t.Errorf("hours = %+v", hours)
	}

	rec = s.do(t, http.MethodGet, "/services", "", nil)
	services := decode[[]ServiceResponse](t, rec)
	if len(services) != 1 || !services[0].IsAvailable || !services[0].Price.Equal(decimal.NewFromInt(50000)) {
		t.Errorf("services = %+v", services)
	}

	rec = s.do(t, http.MethodGet, "/services/"+s.service.ID.String(), "", nil)
	if rec.Code != http.StatusOK || decode[ServiceResponse](t, rec).Name != "Swing Lesson" {
		t.Errorf("get service: status = %d, body = %s", rec.Code, rec.Body.String())
	}
}

func TestReviews(t *testing.T) {
	s := newTestServer(t)
	owner := uuid.New()
	ownerTok := s.token(t, booking.ActorUser, owner)
	providerTok := s.token(t, booking.ActorProvider, s.provider.ID)

	rec := s.do(t, http.MethodPost, "/reservations", ownerTok, map[string]any{"service_id": s.service.ID, "date": "2026-10-19", "time": "14:00"})
	id := decode[ReservationResponse](t, rec).ID
	body := map[string]any{"reservation_id": id, "rating": 4, "comment": "Great drills"}

	if rec := s.do(t, http.MethodPost, "/reviews", "", body); rec.Code != http.StatusUnauthorized {
		t.Errorf("anonymous: status = %d, want 401", rec.Code)
	}
	rec = s.do(t, http.MethodPost, "/reviews", ownerTok, body)
	if rec.Code != http.StatusBadRequest || decode[ErrorResponse](t, rec).Error != "validation_error" {
		t.Errorf("pending reservation: status = %d, body = %s", rec.Code, rec.Body.String())
	}

	for _, to := range []string{"confirm", "complete"} {
		if rec := s.do(t, http.MethodPost, "/reservations/"+id.String()+"/"+to, providerTok, nil); rec.Code != http.StatusOK {
			t.Fatalf("%s: status = %d, body = %s", to, rec.Code, rec.Body.String())
		}
	}

	bad := map[string]any{"reservation_id": id, "rating": 6, "comment": "too good"}
	if rec := s.do(t, http.MethodPost, "/reviews", ownerTok, bad); rec.Code != http.StatusBadRequest {
		t.Errorf("rating 6: status = %d, want 400", rec.Code)
	}
	if rec := s.do(t, http.MethodPost, "/reviews", s.token(t, booking.ActorUser, uuid.New()), body); rec.Code != http.StatusForbidden {
		t.Errorf("stranger: status = %d, want 403", rec.Code)
	}

	rec = s.do(t, http.MethodPost, "/reviews", ownerTok, body)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create review: status = %d, body = %s", rec.Code, rec.Body.String())
	}
	if rv := decode[ReviewResponse](t, rec); rv.Rating != 4 || rv.ReservationID != id || rv.ServiceID != s.service.ID {
		t.Errorf("review = %+v", rv)
	}

	rec = s.do(t, http.MethodPost, "/reviews", ownerTok, body)
	if rec.Code != http.StatusBadRequest || decode[ErrorResponse](t, rec).Error != "conflict" {
		t.Errorf("second review: status = %d, body = %s", rec.Code, rec.Body.String())
	}

	rec = s.do(t, http.MethodGet, "/services/"+s.service.ID.String()+"/reviews", ownerTok, nil)
	if rec.Code != http.StatusOK || len(decode[[]ReviewResponse](t, rec)) != 1 {
		t.Errorf("service reviews: status = %d, body = %s", rec.Code, rec.Body.String())
	}
	rec = s.do(t, http.MethodGet, "/reviews", providerTok, nil)
	if rec.Code != http.StatusOK || len(decode[[]ReviewResponse](t, rec)) != 1 {
		t.Errorf("provider reviews: status = %d, body = %s", rec.Code, rec.Body.String())
	}
}

func TestServiceFiltersAndDirectories(t *testing.T) {
	s := newTestServer(t)

	lessons := booking.Category{ID: uuid.New(), Name: "Lessons", IsActive: true}
	s.repo.PutCategory(lessons)
	cid := lessons.ID
	featured := booking.Service{ID: uuid.New(), CategoryID: &cid, Name: "Playing Lesson", DurationMin: 90, IsActive: true, IsFeatured: true, StockQuantity: 1}
	s.repo.PutService(featured)
	s.repo.PutProvider(booking.Provider{ID: uuid.New(), Name: "Retired Pro", IsActive: false})

	rec := s.do(t, http.MethodGet, "/services/featured", "", nil)
	if got := decode[[]ServiceResponse](t, rec); len(got) != 1 || got[0].ID != featured.ID {
		t.Errorf("featured = %+v", got)
	}
	rec = s.do(t, http.MethodGet, "/services/by-category?category_id="+cid.String(), "", nil)
	if got := decode[[]ServiceResponse](t, rec); len(got) != 1 || got[0].ID != featured.ID {
		t.Errorf("by category = %+v", got)
	}
	if rec := s.do(t, http.MethodGet, "/services/by-category?category_id=golf", "", nil); rec.Code != http.StatusBadRequest {
		t.Errorf("bad category: status = %d, want 400", rec.Code)
	}
	if rec := s.do(t, http.MethodGet, "/services/by-category", "", nil); rec.Code != http.StatusBadRequest {
		t.Errorf("missing category: status = %d, want 400", rec.Code)
	}
	if got := decode[[]ServiceResponse](t, s.do(t, http.MethodGet, "/services", "", nil)); len(got) != 2 {
		t.Errorf("services = %d, want 2", len(got))
	}

	rec = s.do(t, http.MethodGet, "/providers", "", nil)
	if got := decode[[]ProviderResponse](t, rec); len(got) != 1 || got[0].ID != s.provider.ID {
		t.Errorf("providers = %+v", got)
	}
	adminTok := s.token(t, booking.ActorAdmin, uuid.New())
	if got := decode[[]ProviderResponse](t, s.do(t, http.MethodGet, "/providers", adminTok, nil)); len(got) != 2 {
		t.Errorf("admin providers = %d, want 2", len(got))
	}
	if got := decode[[]ProviderResponse](t, s.do(t, http.MethodGet, "/providers/active", adminTok, nil)); len(got) != 1 {
		t.Errorf("admin active providers = %d, want 1", len(got))
	}

	rec = s.do(t, http.MethodGet, "/categories", "", nil)
	if got := decode[[]CategoryResponse](t, rec); len(got) != 1 || got[0].Name != "Lessons" {
		t.Errorf("categories = %+v", got)
	}
}

func TestProviderTimeUpdates(t *testing.T) {
	s := newTestServer(t)
	providerTok := s.token(t, booking.ActorProvider, s.provider.ID)
	since := testNow.Add(-time.Minute).Format(time.RFC3339)

	rec := s.do(t, http.MethodPost, "/reservations", s.token(t, booking.ActorUser, uuid.New()), map[string]any{"service_id": s.service.ID, "date": "2026-10-21", "time": "07:00"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create: status = %d, body = %s", rec.Code, rec.Body.String())
	}

	if rec := s.do(t, http.MethodGet, "/provider-reservations/time-updates?since="+since, s.token(t, booking.ActorUser, uuid.New()), nil); rec.Code != http.StatusUnauthorized {
		t.Errorf("user: status = %d, want 401", rec.Code)
	}
	if rec := s.do(t, http.MethodGet, "/provider-reservations/time-updates?since=soon", providerTok, nil); rec.Code != http.StatusBadRequest {
		t.Errorf("bad since: status = %d, want 400", rec.Code)
	}

	rec = s.do(t, http.MethodGet, "/provider-reservations/time-updates?since="+since, providerTok, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("time-updates: status = %d, body = %s", rec.Code, rec.Body.String())
	}
	updates := decode[[]ProviderTimeUpdateResponse](t, rec)
	if len(updates) != 1 || updates[0].Date != "2026-10-21" || len(updates[0].Services) != 1 {
		t.Fatalf("updates = %+v", updates)
	}
	if got := updates[0].Services[0]; got.ServiceID != s.service.ID || len(got.AvailableTimes) != 22 {
		t.Errorf("service times = %+v", got)
	}
}

type fakePinger struct{ err error }

func (p fakePinger) Ping(context.Context) error { return p.err }

func TestHealth(t *testing.T) {
	cases := []struct {
		name   string
		deps   []Dependency
		code   int
		status string
	}{
		{"all up", []Dependency{{Name: "postgres", Pinger: fakePinger{}}}, http.StatusOK, "ok"},
		{"optional down", []Dependency{{Name: "postgres", Pinger: fakePinger{}}, {Name: "redis", Pinger: fakePinger{errors.New("down")}, Optional: true}}, http.StatusOK, "degraded"},
		{"required down", []Dependency{{Name: "postgres", Pinger: fakePinger{errors.New("down")}}}, http.StatusServiceUnavailable, "error"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s := newTestServer(t, tc.deps...)
			rec := s.do(t, http.MethodGet, "/health/ready", "", nil)
			if rec.Code != tc.code || decode[ReadinessResponse](t, rec).Status != tc.status {
				t.Errorf("status = %d, body = %s", rec.Code, rec.Body.String())
			}
		})
	}

	s := newTestServer(t)
	rec := s.do(t, http.MethodGet, "/health/live", "", nil)
	if rec.Code != http.StatusOK || rec.Header().Get("X-Request-ID") == "" {
		t.Errorf("live: status = %d, request id = %q", rec.Code, rec.Header().Get("X-Request-ID"))
	}
}
