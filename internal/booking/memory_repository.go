package booking

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryRepository is an in-process Repository. Slot transactions serialise on
// per-key mutexes so it honours the same atomicity contract as the Postgres store.
type MemoryRepository struct {
	mu           sync.RWMutex
	hours        map[int]BusinessHours
	categories   map[uuid.UUID]Category
	services     map[uuid.UUID]Service
	providers    map[uuid.UUID]Provider
	reservations map[uuid.UUID]Reservation
	reviews      map[uuid.UUID]Review
	events       []EventLog

	keysMu sync.Mutex
	keys   map[string]*sync.Mutex

	now func() time.Time
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		hours:        make(map[int]BusinessHours),
		categories:   make(map[uuid.UUID]Category),
		services:     make(map[uuid.UUID]Service),
		providers:    make(map[uuid.UUID]Provider),
		reservations: make(map[uuid.UUID]Reservation),
		reviews:      make(map[uuid.UUID]Review),
		keys:         make(map[string]*sync.Mutex),
		now:          time.Now,
	}
}

func (m *MemoryRepository) PutBusinessHours(h BusinessHours) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hours[h.Day] = h
}

func (m *MemoryRepository) PutService(s Service) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.services[s.ID] = s
}

func (m *MemoryRepository) PutCategory(c Category) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.categories[c.ID] = c
}

func (m *MemoryRepository) PutProvider(p Provider) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.providers[p.ID] = p
}

// PutReservation stores r as-is, bypassing slot checks. Used for seeding.
func (m *MemoryRepository) PutReservation(r Reservation) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r.Date = DateOf(r.Date)
	m.reservations[r.ID] = r
}

// UpsertBusinessHours, InsertCategory, InsertProvider and InsertService mirror
// the Postgres catalogue writers so fixtures can seed either store.

func (m *MemoryRepository) UpsertBusinessHours(_ context.Context, h BusinessHours) error {
	m.PutBusinessHours(h)
	return nil
}

func (m *MemoryRepository) InsertCategory(_ context.Context, c Category) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.categories[c.ID]; !ok {
		m.categories[c.ID] = c
	}
	return nil
}

func (m *MemoryRepository) InsertProvider(_ context.Context, p Provider) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.providers[p.ID]; !ok {
		m.providers[p.ID] = p
	}
	return nil
}

func (m *MemoryRepository) InsertService(_ context.Context, s Service) error {
	if err := s.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.services[s.ID]; !ok {
		m.services[s.ID] = s
	}
	return nil
}

func (m *MemoryRepository) Events() []EventLog {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]EventLog(nil), m.events...)
}

func (m *MemoryRepository) HoursFor(_ context.Context, weekday int) (*BusinessHours, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	h, ok := m.hours[weekday]
	if !ok {
		return nil, ErrHoursNotFound
	}
	return &h, nil
}

func (m *MemoryRepository) ListBusinessHours(_ context.Context) ([]BusinessHours, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]BusinessHours, 0, len(m.hours))
	for _, h := range m.hours {
		out = append(out, h)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Day < out[j].Day })
	return out, nil
}

func (m *MemoryRepository) GetService(_ context.Context, id uuid.UUID) (*Service, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.services[id]
	if !ok {
		return nil, ErrServiceNotFound
	}
	return &s, nil
}

func (m *MemoryRepository) ListServices(_ context.Context, f ServiceFilter) ([]Service, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Service, 0, len(m.services))
	for _, s := range m.services {
		if f.Matches(s) {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (m *MemoryRepository) GetProvider(_ context.Context, id uuid.UUID) (*Provider, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.providers[id]
	if !ok {
		return nil, ErrProviderNotFound
	}
	return &p, nil
}

func (m *MemoryRepository) ListProviders(_ context.Context, activeOnly bool) ([]Provider, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Provider, 0, len(m.providers))
	for _, p := range m.providers {
		if activeOnly && !p.IsActive {
			continue
		}
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (m *MemoryRepository) ListCategories(_ context.Context, activeOnly bool) ([]Category, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Category, 0, len(m.categories))
	for _, c := range m.categories {
		if activeOnly && !c.IsActive {
			continue
		}
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (m *MemoryRepository) GetReservation(_ context.Context, id uuid.UUID) (*Reservation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.reservations[id]
	if !ok {
		return nil, ErrReservationNotFound
	}
	return &r, nil
}

func (m *MemoryRepository) ListReservations(_ context.Context, f ListFilter) ([]Reservation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]Reservation, 0)
	for _, r := range m.reservations {
		if f.UserID != nil && r.UserID != *f.UserID {
			continue
		}
		if f.ProviderID != nil && (r.ProviderID == nil || *r.ProviderID != *f.ProviderID) {
			continue
		}
		if f.FromDate != nil && r.Date.Before(DateOf(*f.FromDate)) {
			continue
		}
		if f.ActiveOnly && !r.Status.Active() {
			continue
		}
		out = append(out, r)
	}

	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if !a.Date.Equal(b.Date) {
			return a.Date.Before(b.Date) == f.Ascending
		}
		if a.Time != b.Time {
			return (a.Time < b.Time) == f.Ascending
		}
		return a.CreatedAt.Before(b.CreatedAt)
	})

	if f.Offset > 0 {
		if f.Offset >= len(out) {
			return []Reservation{}, nil
		}
		out = out[f.Offset:]
	}
	if f.Limit > 0 && f.Limit < len(out) {
		out = out[:f.Limit]
	}
	return out, nil
}

func (m *MemoryRepository) ListActiveInScope(_ context.Context, date time.Time, scope ScopeFilter) ([]Reservation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	day := DateOf(date)
	out := make([]Reservation, 0)
	for _, r := range m.reservations {
		if !r.Date.Equal(day) || !r.Status.Active() {
			continue
		}
		if scope.Matches(r) {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Time < out[j].Time })
	return out, nil
}

func (m *MemoryRepository) keyLock(key string) *sync.Mutex {
	m.keysMu.Lock()
	defer m.keysMu.Unlock()
	l, ok := m.keys[key]
	if !ok {
		l = &sync.Mutex{}
		m.keys[key] = l
	}
	return l
}

func (m *MemoryRepository) InSlotTx(ctx context.Context, key SlotKey, fn func(ctx context.Context, tx SlotTx) error) error {
	for _, k := range key.LockKeys() {
		l := m.keyLock(k)
		l.Lock()
		defer l.Unlock()
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return fn(ctx, memorySlotTx{repo: m})
}

type memorySlotTx struct {
	repo *MemoryRepository
}

func (tx memorySlotTx) FindActiveDuplicate(_ context.Context, userID uuid.UUID, key SlotKey) (*Reservation, error) {
	tx.repo.mu.RLock()
	defer tx.repo.mu.RUnlock()
	day := DateOf(key.Date)
	for _, r := range tx.repo.reservations {
		if r.UserID == userID && r.ServiceID == key.ServiceID && r.Date.Equal(day) && r.Time == key.Time && r.Status.Active() {
			found := r
			return &found, nil
		}
	}
	return nil, nil
}

func (tx memorySlotTx) FindActiveTaken(_ context.Context, key SlotKey) (*Reservation, error) {
	tx.repo.mu.RLock()
	defer tx.repo.mu.RUnlock()
	if r, ok := tx.repo.takenLocked(key); ok {
		return &r, nil
	}
	return nil, nil
}

func (tx memorySlotTx) ListActiveInScope(ctx context.Context, date time.Time, scope ScopeFilter) ([]Reservation, error) {
	return tx.repo.ListActiveInScope(ctx, date, scope)
}

func (tx memorySlotTx) Insert(_ context.Context, r Reservation) (*Reservation, error) {
	m := tx.repo
	m.mu.Lock()
	defer m.mu.Unlock()

	r.Date = DateOf(r.Date)
	key := SlotKey{ServiceID: r.ServiceID, ProviderID: r.ProviderID, Date: r.Date, Time: r.Time}
	if _, ok := m.takenLocked(key); ok {
		return nil, ErrSlotTaken
	}

	now := m.now()
	r.CreatedAt = now
	r.UpdatedAt = now
	m.reservations[r.ID] = r
	return &r, nil
}

// takenLocked mirrors the partial unique indexes of the Postgres schema: one
// active reservation per service start time and per provider start time.
func (m *MemoryRepository) takenLocked(key SlotKey) (Reservation, bool) {
	day := DateOf(key.Date)
	for _, r := range m.reservations {
		if !r.Date.Equal(day) || r.Time != key.Time || !r.Status.Active() {
			continue
		}
		if r.ServiceID == key.ServiceID {
			return r, true
		}
		if key.ProviderID != nil && r.ProviderID != nil && *r.ProviderID == *key.ProviderID {
			return r, true
		}
	}
	return Reservation{}, false
}

func (m *MemoryRepository) providerHeldLocked(providerID uuid.UUID, day time.Time, at Clock, except uuid.UUID) bool {
	for id, r := range m.reservations {
		if id == except || !r.Date.Equal(day) || r.Time != at || !r.Status.Active() {
			continue
		}
		if r.ProviderID != nil && *r.ProviderID == providerID {
			return true
		}
	}
	return false
}

func (m *MemoryRepository) UpdateStatus(_ context.Context, id uuid.UUID, from, to Status) (*Reservation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.reservations[id]
	if !ok || r.Status != from {
		return nil, ErrReservationNotFound
	}
	r.Status = to
	r.UpdatedAt = m.now()
	m.reservations[id] = r
	return &r, nil
}

func (m *MemoryRepository) BackfillProviders(_ context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for id, r := range m.reservations {
		if r.ProviderID != nil {
			continue
		}
		svc, ok := m.services[r.ServiceID]
		if !ok || svc.ProviderID == nil {
			continue
		}
		pid := *svc.ProviderID
		if r.Status.Active() && m.providerHeldLocked(pid, r.Date, r.Time, id) {
			continue
		}
		r.ProviderID = &pid
		r.UpdatedAt = m.now()
		m.reservations[id] = r
		n++
	}
	return n, nil
}

func (m *MemoryRepository) InsertReview(_ context.Context, rv Review) (*Review, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.reviews {
		if existing.ReservationID == rv.ReservationID {
			return nil, ErrReviewExists
		}
	}
	if rv.CreatedAt.IsZero() {
		rv.CreatedAt = m.now()
	}
	m.reviews[rv.ID] = rv
	return &rv, nil
}

func (m *MemoryRepository) ListReviews(_ context.Context, f ReviewFilter) ([]Review, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Review, 0)
	for _, rv := range m.reviews {
		if r, ok := m.reservations[rv.ReservationID]; ok {
			rv.UserID, rv.ServiceID, rv.ProviderID = r.UserID, r.ServiceID, r.ProviderID
		}
		if f.UserID != nil && rv.UserID != *f.UserID {
			continue
		}
		if f.ServiceID != nil && rv.ServiceID != *f.ServiceID {
			continue
		}
		if f.ProviderID != nil && (rv.ProviderID == nil || *rv.ProviderID != *f.ProviderID) {
			continue
		}
		out = append(out, rv)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (m *MemoryRepository) InsertEvent(_ context.Context, ev EventLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	ev.ID = int64(len(m.events) + 1)
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = m.now()
	}
	m.events = append(m.events, ev)
	return nil
}
