package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/hackgods/slot-booking/internal/booking"
)

type CreateReservationRequest struct {
	ServiceID  string  `json:"service_id" validate:"required,uuid"`
	ProviderID string  `json:"provider_id" validate:"omitempty,uuid"`
	Date       string  `json:"date" validate:"required"`
	Time       string  `json:"time" validate:"required"`
	Notes      *string `json:"notes" validate:"omitempty,max=1000"`
}

type UpdateStatusRequest struct {
	Status string `json:"status" validate:"required,oneof=pending confirmed completed cancelled"`
}

type ReservationResponse struct {
	ID         uuid.UUID  `json:"id"`
	UserID     uuid.UUID  `json:"user_id"`
	ServiceID  uuid.UUID  `json:"service_id"`
	ProviderID *uuid.UUID `json:"provider_id,omitempty"`
	Date       string     `json:"date"`
	Time       string     `json:"time"`
	Status     string     `json:"status"`
	Notes      *string    `json:"notes,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

func toReservationResponse(r *booking.Reservation) ReservationResponse {
	return ReservationResponse{
		ID:         r.ID,
		UserID:     r.UserID,
		ServiceID:  r.ServiceID,
		ProviderID: r.ProviderID,
		Date:       booking.FormatDate(r.Date),
		Time:       r.Time.String(),
		Status:     string(r.Status),
		Notes:      r.Notes,
		CreatedAt:  r.CreatedAt,
		UpdatedAt:  r.UpdatedAt,
	}
}

func toReservationList(rs []booking.Reservation) []ReservationResponse {
	out := make([]ReservationResponse, 0, len(rs))
	for i := range rs {
		out = append(out, toReservationResponse(&rs[i]))
	}
	return out
}

type ServiceResponse struct {
	ID              uuid.UUID       `json:"id"`
	CategoryID      *uuid.UUID      `json:"category_id,omitempty"`
	ProviderID      *uuid.UUID      `json:"provider_id,omitempty"`
	Name            string          `json:"name"`
	Description     string          `json:"description"`
	Price           decimal.Decimal `json:"price"`
	DurationMin     int             `json:"duration_minutes"`
	MinAdvanceHours int             `json:"min_advance_hours"`
	MaxAdvanceDays  int             `json:"max_advance_days"`
	IsActive        bool            `json:"is_active"`
	IsFeatured      bool            `json:"is_featured"`
	StockQuantity   int             `json:"stock_quantity"`
	IsAvailable     bool            `json:"is_available"`
}

func toServiceResponse(s *booking.Service) ServiceResponse {
	return ServiceResponse{
		ID:              s.ID,
		CategoryID:      s.CategoryID,
		ProviderID:      s.ProviderID,
		Name:            s.Name,
		Description:     s.Description,
		Price:           s.Price,
		DurationMin:     s.DurationMin,
		MinAdvanceHours: s.MinAdvanceHours,
		MaxAdvanceDays:  s.MaxAdvanceDays,
		IsActive:        s.IsActive,
		IsFeatured:      s.IsFeatured,
		StockQuantity:   s.StockQuantity,
		IsAvailable:     s.Bookable(),
	}
}

type BusinessHoursResponse struct {
	Day      int    `json:"day"`
	Open     string `json:"open_time"`
	Close    string `json:"close_time"`
	IsClosed bool   `json:"is_closed"`
}

type UpdateStatusResponse struct {
	Reservation    ReservationResponse `json:"reservation"`
	AvailableTimes []string            `json:"available_times"`
}

type TimeUpdateResponse struct {
	Date           string    `json:"date"`
	ChangedAt      time.Time `json:"changed_at"`
	AvailableTimes []string  `json:"available_times"`
}

type ProviderTimeUpdateResponse struct {
	Date      string                 `json:"date"`
	ChangedAt time.Time              `json:"changed_at"`
	Services  []ServiceTimesResponse `json:"services"`
}

type ServiceTimesResponse struct {
	ServiceID      uuid.UUID `json:"service_id"`
	AvailableTimes []string  `json:"available_times"`
}

type ProviderResponse struct {
	ID              uuid.UUID `json:"id"`
	Name            string    `json:"name"`
	Description     *string   `json:"description,omitempty"`
	Phone           *string   `json:"phone,omitempty"`
	Email           *string   `json:"email,omitempty"`
	Specialties     *string   `json:"specialties,omitempty"`
	ExperienceYears int       `json:"experience_years"`
	IsActive        bool      `json:"is_active"`
}

func toProviderResponse(p *booking.Provider) ProviderResponse {
	return ProviderResponse{
		ID:              p.ID,
		Name:            p.Name,
		Description:     p.Description,
		Phone:           p.Phone,
		Email:           p.Email,
		Specialties:     p.Specialties,
		ExperienceYears: p.ExperienceYears,
		IsActive:        p.IsActive,
	}
}

type CategoryResponse struct {
	ID          uuid.UUID `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	IsActive    bool      `json:"is_active"`
}

type CreateReviewRequest struct {
	ReservationID string `json:"reservation_id" validate:"required,uuid"`
	Rating        int    `json:"rating" validate:"min=1,max=5"`
	Comment       string `json:"comment" validate:"required,max=2000"`
}

type ReviewResponse struct {
	ID            uuid.UUID  `json:"id"`
	ReservationID uuid.UUID  `json:"reservation_id"`
	UserID        uuid.UUID  `json:"user_id"`
	ServiceID     uuid.UUID  `json:"service_id"`
	ProviderID    *uuid.UUID `json:"provider_id,omitempty"`
	Rating        int        `json:"rating"`
	Comment       string     `json:"comment"`
	CreatedAt     time.Time  `json:"created_at"`
}

func toReviewResponse(rv *booking.Review) ReviewResponse {
	return ReviewResponse{
		ID:            rv.ID,
		ReservationID: rv.ReservationID,
		UserID:        rv.UserID,
		ServiceID:     rv.ServiceID,
		ProviderID:    rv.ProviderID,
		Rating:        rv.Rating,
		Comment:       rv.Comment,
		CreatedAt:     rv.CreatedAt,
	}
}

func toReviewList(rvs []booking.Review) []ReviewResponse {
	out := make([]ReviewResponse, 0, len(rvs))
	for i := range rvs {
		out = append(out, toReviewResponse(&rvs[i]))
	}
	return out
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, details string) {
	writeJSON(w, status, ErrorResponse{Error: code, Details: details})
}
