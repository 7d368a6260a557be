package booking

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

const (
	pgUniqueViolation     = "23505"
	pgForeignKeyViolation = "23503"
)

type PgRepository struct {
	pool *pgxpool.Pool
}

func NewPgRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool}
}

// querier is satisfied by both the pool and a transaction.
type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Helpers

const serviceColumns = `id, category_id, provider_id, name, description, price::text, duration_minutes,
	min_advance_hours, max_advance_days, is_active, is_featured, stock_quantity, created_at, updated_at`

const reservationColumns = `id, user_id, service_id, provider_id, reservation_date,
	to_char(start_time, 'HH24:MI'), status, notes, created_at, updated_at`

func scanHours(row pgx.Row) (*BusinessHours, error) {
	var h BusinessHours
	var openAt, closeAt string

	err := row.Scan(&h.Day, &openAt, &closeAt, &h.IsClosed)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrHoursNotFound
		}
		return nil, err
	}

	if h.Open, err = ParseClock(openAt); err != nil {
		return nil, err
	}
	if h.Close, err = ParseClock(closeAt); err != nil {
		return nil, err
	}
	return &h, nil
}

func scanService(row pgx.Row) (*Service, error) {
	var s Service
	var price string

	err := row.Scan(
		&s.ID,
		&s.CategoryID,
		&s.ProviderID,
		&s.Name,
		&s.Description,
		&price,
		&s.DurationMin,
		&s.MinAdvanceHours,
		&s.MaxAdvanceDays,
		&s.IsActive,
		&s.IsFeatured,
		&s.StockQuantity,
		&s.CreatedAt,
		&s.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrServiceNotFound
		}
		return nil, err
	}

	s.Price, err = decimal.NewFromString(price)
	if err != nil {
		return nil, fmt.Errorf("parse price of service %s: %w", s.ID, err)
	}
	return &s, nil
}

func scanProvider(row pgx.Row) (*Provider, error) {
	var p Provider

	err := row.Scan(
		&p.ID,
		&p.Name,
		&p.Description,
		&p.Phone,
		&p.Email,
		&p.Specialties,
		&p.ExperienceYears,
		&p.IsActive,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrProviderNotFound
		}
		return nil, err
	}
	return &p, nil
}

func scanReservation(row pgx.Row) (*Reservation, error) {
	var r Reservation
	var start, status string

	err := row.Scan(
		&r.ID,
		&r.UserID,
		&r.ServiceID,
		&r.ProviderID,
		&r.Date,
		&start,
		&status,
		&r.Notes,
		&r.CreatedAt,
		&r.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrReservationNotFound
		}
		return nil, err
	}

	if r.Time, err = ParseClock(start); err != nil {
		return nil, err
	}
	st, ok := ParseStatus(status)
	if !ok {
		return nil, fmt.Errorf("reservation %s has unknown status %q", r.ID, status)
	}
	r.Status = st
	r.Date = DateOf(r.Date)
	return &r, nil
}

func collectReservations(rows pgx.Rows) ([]Reservation, error) {
	defer rows.Close()

	result := []Reservation{}
	for rows.Next() {
		r, err := scanReservation(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// Calendar

func (r *PgRepository) HoursFor(ctx context.Context, weekday int) (*BusinessHours, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT day_of_week, to_char(open_time, 'HH24:MI'), to_char(close_time, 'HH24:MI'), is_closed
		FROM business_hours
		WHERE day_of_week = $1
	`, weekday)
	return scanHours(row)
}

func (r *PgRepository) ListBusinessHours(ctx context.Context) ([]BusinessHours, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT day_of_week, to_char(open_time, 'HH24:MI'), to_char(close_time, 'HH24:MI'), is_closed
		FROM business_hours
		ORDER BY day_of_week
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []BusinessHours
	for rows.Next() {
		h, err := scanHours(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *h)
	}
	return result, rows.Err()
}

// UpsertBusinessHours replaces the entry for h.Day.
func (r *PgRepository) UpsertBusinessHours(ctx context.Context, h BusinessHours) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO business_hours (day_of_week, open_time, close_time, is_closed)
		VALUES ($1, $2::time, $3::time, $4)
		ON CONFLICT (day_of_week) DO UPDATE
		SET open_time = EXCLUDED.open_time,
		    close_time = EXCLUDED.close_time,
		    is_closed = EXCLUDED.is_closed
	`, h.Day, h.Open.String(), h.Close.String(), h.IsClosed)
	if err != nil {
		return fmt.Errorf("upsert business hours for day %d: %w", h.Day, err)
	}
	return nil
}

// Catalogue

func (r *PgRepository) GetService(ctx context.Context, id uuid.UUID) (*Service, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+serviceColumns+` FROM services WHERE id = $1`, id)
	return scanService(row)
}

func (r *PgRepository) ListServices(ctx context.Context, f ServiceFilter) ([]Service, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+serviceColumns+`
		FROM services
		WHERE ($1::boolean = false OR is_active)
		  AND ($2::boolean = false OR is_featured)
		  AND ($3::uuid IS NULL OR category_id = $3)
		  AND ($4::uuid IS NULL OR provider_id = $4)
		ORDER BY name
	`, f.ActiveOnly, f.FeaturedOnly, f.CategoryID, f.ProviderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := []Service{}
	for rows.Next() {
		s, err := scanService(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *s)
	}
	return result, rows.Err()
}

func (r *PgRepository) GetProvider(ctx context.Context, id uuid.UUID) (*Provider, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, name, description, phone, email, specialties, experience_years, is_active, created_at, updated_at
		FROM providers
		WHERE id = $1
	`, id)
	return scanProvider(row)
}

func (r *PgRepository) ListProviders(ctx context.Context, activeOnly bool) ([]Provider, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, name, description, phone, email, specialties, experience_years, is_active, created_at, updated_at
		FROM providers
		WHERE ($1::boolean = false OR is_active)
		ORDER BY name
	`, activeOnly)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := []Provider{}
	for rows.Next() {
		p, err := scanProvider(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *p)
	}
	return result, rows.Err()
}

func (r *PgRepository) ListCategories(ctx context.Context, activeOnly bool) ([]Category, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, name, description, is_active, created_at, updated_at
		FROM categories
		WHERE ($1::boolean = false OR is_active)
		ORDER BY name
	`, activeOnly)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := []Category{}
	for rows.Next() {
		var c Category
		if err := rows.Scan(&c.ID, &c.Name, &c.Description, &c.IsActive, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, err
		}
		result = append(result, c)
	}
	return result, rows.Err()
}

func (r *PgRepository) InsertCategory(ctx context.Context, c Category) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO categories (id, name, description, is_active)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT DO NOTHING
	`, c.ID, c.Name, c.Description, c.IsActive)
	if err != nil {
		return fmt.Errorf("insert category %q: %w", c.Name, err)
	}
	return nil
}

func (r *PgRepository) InsertProvider(ctx context.Context, p Provider) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO providers (id, name, description, phone, email, specialties, experience_years, is_active)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO NOTHING
	`, p.ID, p.Name, p.Description, p.Phone, p.Email, p.Specialties, p.ExperienceYears, p.IsActive)
	if err != nil {
		return fmt.Errorf("insert provider %q: %w", p.Name, err)
	}
	return nil
}

func (r *PgRepository) InsertService(ctx context.Context, s Service) error {
	if err := s.Validate(); err != nil {
		return err
	}
	_, err := r.pool.Exec(ctx, `
		INSERT INTO services (id, category_id, provider_id, name, description, price, duration_minutes,
			min_advance_hours, max_advance_days, is_active, is_featured, stock_quantity)
		VALUES ($1, $2, $3, $4, $5, $6::numeric, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (id) DO NOTHING
	`, s.ID, s.CategoryID, s.ProviderID, s.Name, s.Description, s.Price.StringFixed(2), s.DurationMin,
		s.MinAdvanceHours, s.MaxAdvanceDays, s.IsActive, s.IsFeatured, s.StockQuantity)
	if err != nil {
		return fmt.Errorf("insert service %q: %w", s.Name, err)
	}
	return nil
}

// Reservations

func (r *PgRepository) GetReservation(ctx context.Context, id uuid.UUID) (*Reservation, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+reservationColumns+` FROM reservations WHERE id = $1`, id)
	return scanReservation(row)
}

func (r *PgRepository) ListReservations(ctx context.Context, f ListFilter) ([]Reservation, error) {
	var (
		where []string
		args  []any
	)
	add := func(cond string, arg any) {
		args = append(args, arg)
		where = append(where, fmt.Sprintf(cond, len(args)))
	}

	if f.UserID != nil {
		add("user_id = $%d", *f.UserID)
	}
	if f.ProviderID != nil {
		add("provider_id = $%d", *f.ProviderID)
	}
	if f.FromDate != nil {
		add("reservation_date >= $%d", DateOf(*f.FromDate))
	}
	if f.ActiveOnly {
		where = append(where, "status IN ('pending', 'confirmed')")
	}

	q := `SELECT ` + reservationColumns + ` FROM reservations`
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	if f.Ascending {
		q += " ORDER BY reservation_date ASC, start_time ASC, created_at ASC"
	} else {
		q += " ORDER BY reservation_date DESC, start_time DESC, created_at ASC"
	}
	if f.Limit > 0 {
		args = append(args, f.Limit)
		q += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if f.Offset > 0 {
		args = append(args, f.Offset)
		q += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	rows, err := r.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	return collectReservations(rows)
}

func (r *PgRepository) ListActiveInScope(ctx context.Context, date time.Time, scope ScopeFilter) ([]Reservation, error) {
	return listActiveInScope(ctx, r.pool, date, scope)
}

func listActiveInScope(ctx context.Context, q querier, date time.Time, scope ScopeFilter) ([]Reservation, error) {
	if scope.Empty() {
		return []Reservation{}, nil
	}
	rows, err := q.Query(ctx, `
		SELECT `+reservationColumns+`
		FROM reservations
		WHERE reservation_date = $1
		  AND status IN ('pending', 'confirmed')
		  AND (
		        ($2::uuid IS NOT NULL AND provider_id = $2)
		     OR ($3::uuid IS NOT NULL AND service_id = $3)
		     OR ($4::uuid IS NOT NULL AND user_id = $4)
		  )
		ORDER BY start_time
	`, DateOf(date), scope.ProviderID, scope.ServiceID, scope.UserID)
	if err != nil {
		return nil, err
	}
	return collectReservations(rows)
}

// InSlotTx takes a transaction-scoped advisory lock per slot key, in sorted
// order, before running fn. The locks are released on commit or rollback.
func (r *PgRepository) InSlotTx(ctx context.Context, key SlotKey, fn func(ctx context.Context, tx SlotTx) error) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("begin slot tx: %w", err)
	}
	defer func() { _ = tx.Rollback(context.WithoutCancel(ctx)) }()

	for _, k := range key.LockKeys() {
		if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, k); err != nil {
			return fmt.Errorf("acquire slot lock %s: %w", k, err)
		}
	}

	if err := fn(ctx, pgSlotTx{q: tx}); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit slot tx: %w", err)
	}
	return nil
}

type pgSlotTx struct {
	q querier
}

func (t pgSlotTx) FindActiveDuplicate(ctx context.Context, userID uuid.UUID, key SlotKey) (*Reservation, error) {
	row := t.q.QueryRow(ctx, `
		SELECT `+reservationColumns+`
		FROM reservations
		WHERE user_id = $1
		  AND service_id = $2
		  AND reservation_date = $3
		  AND start_time = $4::time
		  AND status IN ('pending', 'confirmed')
		LIMIT 1
	`, userID, key.ServiceID, DateOf(key.Date), key.Time.String())
	return optionalReservation(scanReservation(row))
}

func (t pgSlotTx) FindActiveTaken(ctx context.Context, key SlotKey) (*Reservation, error) {
	row := t.q.QueryRow(ctx, `
		SELECT `+reservationColumns+`
		FROM reservations
		WHERE reservation_date = $1
		  AND start_time = $2::time
		  AND status IN ('pending', 'confirmed')
		  AND (service_id = $3 OR ($4::uuid IS NOT NULL AND provider_id = $4))
		LIMIT 1
	`, DateOf(key.Date), key.Time.String(), key.ServiceID, key.ProviderID)
	return optionalReservation(scanReservation(row))
}

func (t pgSlotTx) ListActiveInScope(ctx context.Context, date time.Time, scope ScopeFilter) ([]Reservation, error) {
	return listActiveInScope(ctx, t.q, date, scope)
}

func (t pgSlotTx) Insert(ctx context.Context, res Reservation) (*Reservation, error) {
	row := t.q.QueryRow(ctx, `
		INSERT INTO reservations (id, user_id, service_id, provider_id, reservation_date, start_time, status, notes, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6::time, $7, $8, now(), now())
		RETURNING `+reservationColumns,
		res.ID, res.UserID, res.ServiceID, res.ProviderID, DateOf(res.Date), res.Time.String(), string(res.Status), res.Notes)

	created, err := scanReservation(row)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return nil, ErrSlotTaken
		}
		return nil, fmt.Errorf("insert reservation: %w", err)
	}
	return created, nil
}

func optionalReservation(r *Reservation, err error) (*Reservation, error) {
	if errors.Is(err, ErrReservationNotFound) {
		return nil, nil
	}
	return r, err
}

func (r *PgRepository) UpdateStatus(ctx context.Context, id uuid.UUID, from, to Status) (*Reservation, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE reservations
		SET status = $2,
		    updated_at = now()
		WHERE id = $1
		  AND status = $3
		RETURNING `+reservationColumns,
		id, string(to), string(from))

	updated, err := scanReservation(row)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return nil, ErrSlotTaken
		}
		return nil, err
	}
	return updated, nil
}

// BackfillProviders skips active rows whose slot the provider already holds;
// those stay provider-less rather than violating the unique index.
func (r *PgRepository) BackfillProviders(ctx context.Context) (int64, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE reservations AS r
		SET provider_id = s.provider_id,
		    updated_at = now()
		FROM services AS s
		WHERE r.service_id = s.id
		  AND r.provider_id IS NULL
		  AND s.provider_id IS NOT NULL
		  AND NOT (
		        r.status IN ('pending', 'confirmed')
		    AND EXISTS (
		          SELECT 1 FROM reservations o
		          WHERE o.provider_id = s.provider_id
		            AND o.reservation_date = r.reservation_date
		            AND o.start_time = r.start_time
		            AND o.status IN ('pending', 'confirmed')
		        )
		  )
	`)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// Reviews

const reviewColumns = `v.id, v.reservation_id, r.user_id, r.service_id, r.provider_id, v.rating, v.comment, v.created_at`

func scanReview(row pgx.Row) (*Review, error) {
	var rv Review
	err := row.Scan(&rv.ID, &rv.ReservationID, &rv.UserID, &rv.ServiceID, &rv.ProviderID, &rv.Rating, &rv.Comment, &rv.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &rv, nil
}

func (r *PgRepository) InsertReview(ctx context.Context, rv Review) (*Review, error) {
	row := r.pool.QueryRow(ctx, `
		WITH v AS (
			INSERT INTO reviews (id, reservation_id, rating, comment, created_at)
			VALUES ($1, $2, $3, $4, now())
			RETURNING id, reservation_id, rating, comment, created_at
		)
		SELECT `+reviewColumns+`
		FROM v
		JOIN reservations r ON r.id = v.reservation_id
	`, rv.ID, rv.ReservationID, rv.Rating, rv.Comment)

	created, err := scanReview(row)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) {
			switch pgErr.Code {
			case pgUniqueViolation:
				return nil, ErrReviewExists
			case pgForeignKeyViolation:
				return nil, ErrReservationNotFound
			}
		}
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrReservationNotFound
		}
		return nil, fmt.Errorf("insert review: %w", err)
	}
	return created, nil
}

func (r *PgRepository) ListReviews(ctx context.Context, f ReviewFilter) ([]Review, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+reviewColumns+`
		FROM reviews v
		JOIN reservations r ON r.id = v.reservation_id
		WHERE ($1::uuid IS NULL OR r.user_id = $1)
		  AND ($2::uuid IS NULL OR r.service_id = $2)
		  AND ($3::uuid IS NULL OR r.provider_id = $3)
		ORDER BY v.created_at DESC
	`, f.UserID, f.ServiceID, f.ProviderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := []Review{}
	for rows.Next() {
		rv, err := scanReview(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *rv)
	}
	return result, rows.Err()
}

func (r *PgRepository) InsertEvent(ctx context.Context, ev EventLog) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO event_logs (event_type, reservation_id, payload, created_at)
		VALUES ($1, $2, $3, COALESCE($4, now()))
	`, ev.EventType, ev.ReservationID, ev.Payload, nullableTime(ev.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert event log: %w", err)
	}

	return nil
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
