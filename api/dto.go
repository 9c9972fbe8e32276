/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the inventory model from the external API contract.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

MONEY:
  Fares are serialized as decimal strings ("20.50") to avoid float rounding.

SEE ALSO:
  - handlers.go: Uses these types
*/
package api

import (
	"time"

	"github.com/warp/seat-ledger/inventory"
)

// =============================================================================
// ROUTES
// =============================================================================

type RouteDTO struct {
	RouteID     int64  `json:"route_id"`
	Source      string `json:"source"`
	Destination string `json:"destination"`
	Capacity    int    `json:"capacity"`
	Seats       int    `json:"seats"`
	Booked      int    `json:"booked"`
	Fare        string `json:"fare"`
}

// CreateRouteRequest adds a route. Capacity defaults to Seats.
type CreateRouteRequest struct {
	RouteID     int64  `json:"route_id"`
	Source      string `json:"source"`
	Destination string `json:"destination"`
	Capacity    int    `json:"capacity"`
	Seats       int    `json:"seats"`
	Fare        string `json:"fare"`
}

// RouteDTOs converts a listing; the result is never nil.
func RouteDTOs(routes []inventory.Route) []RouteDTO {
	out := make([]RouteDTO, 0, len(routes))
	for _, r := range routes {
		out = append(out, toRouteDTO(r))
	}
	return out
}

func toRouteDTO(r inventory.Route) RouteDTO {
	return RouteDTO{
		RouteID:     int64(r.ID),
		Source:      r.Source,
		Destination: r.Destination,
		Capacity:    r.Capacity,
		Seats:       r.Seats,
		Booked:      r.Booked(),
		Fare:        r.Fare.StringFixed(2),
	}
}

// =============================================================================
// BOOKINGS
// =============================================================================

type BookRequest struct {
	Username string `json:"username"`
	RouteID  int64  `json:"route_id"`
	Seats    int    `json:"seats"`
}

type BookingDTO struct {
	BookingID   string `json:"booking_id"`
	Username    string `json:"username"`
	RouteID     int64  `json:"route_id"`
	SeatsBooked int    `json:"seats_booked"`
	BookingTime string `json:"booking_time"`
}

type ConfirmationDTO struct {
	BookingID   string `json:"booking_id"`
	RouteID     int64  `json:"route_id"`
	Username    string `json:"username"`
	SeatsBooked int    `json:"seats_booked"`
	FareTotal   string `json:"fare_total"`
	SeatsLeft   int    `json:"seats_left"`
	BookingTime string `json:"booking_time"`
}

type CancellationDTO struct {
	Status        string `json:"status"`
	BookingID     string `json:"booking_id"`
	RouteID       int64  `json:"route_id"`
	SeatsReleased int    `json:"seats_released"`
	SeatsRestored bool   `json:"seats_restored"`
	Warning       string `json:"warning,omitempty"`
}

func NewConfirmationDTO(c inventory.Confirmation) ConfirmationDTO {
	return ConfirmationDTO{
		BookingID:   string(c.BookingID),
		RouteID:     int64(c.RouteID),
		Username:    string(c.Username),
		SeatsBooked: c.SeatsBooked,
		FareTotal:   c.FareTotal.StringFixed(2),
		SeatsLeft:   c.SeatsLeft,
		BookingTime: c.BookedAt.UTC().Format(time.RFC3339),
	}
}

func NewCancellationDTO(c inventory.Cancellation) CancellationDTO {
	return CancellationDTO{
		Status:        "cancelled",
		BookingID:     string(c.BookingID),
		RouteID:       int64(c.RouteID),
		SeatsReleased: c.SeatsReleased,
		SeatsRestored: c.SeatsRestored,
		Warning:       c.Warning,
	}
}

// BookingDTOs converts a listing; the result is never nil so it encodes
// as [] rather than null.
func BookingDTOs(bookings []inventory.Booking) []BookingDTO {
	out := make([]BookingDTO, 0, len(bookings))
	for _, b := range bookings {
		out = append(out, toBookingDTO(b))
	}
	return out
}

func toBookingDTO(b inventory.Booking) BookingDTO {
	return BookingDTO{
		BookingID:   string(b.ID),
		Username:    string(b.Username),
		RouteID:     int64(b.RouteID),
		SeatsBooked: b.SeatsBooked,
		BookingTime: b.BookedAt.UTC().Format(time.RFC3339),
	}
}

// =============================================================================
// ADMIN
// =============================================================================

type DiscrepancyDTO struct {
	RouteID   int64  `json:"route_id"`
	Kind      string `json:"kind"`
	Capacity  int    `json:"capacity"`
	Seats     int    `json:"seats"`
	Booked    int    `json:"booked"`
	BookingID string `json:"booking_id,omitempty"`
}

type VerifyDTO struct {
	Consistent    bool             `json:"consistent"`
	Discrepancies []DiscrepancyDTO `json:"discrepancies"`
}

func NewVerifyDTO(found []inventory.Discrepancy) VerifyDTO {
	out := VerifyDTO{Consistent: len(found) == 0, Discrepancies: make([]DiscrepancyDTO, 0, len(found))}
	for _, d := range found {
		out.Discrepancies = append(out.Discrepancies, DiscrepancyDTO{
			RouteID:   int64(d.RouteID),
			Kind:      string(d.Kind),
			Capacity:  d.Capacity,
			Seats:     d.Seats,
			Booked:    d.Booked,
			BookingID: string(d.BookingID),
		})
	}
	return out
}

// =============================================================================
// ERRORS
// =============================================================================

// ErrorResponse carries the error kind and the values a client needs to
// render a specific message.
type ErrorResponse struct {
	Error     string `json:"error"`
	Code      string `json:"code"`
	Details   string `json:"details,omitempty"`
	Field     string `json:"field,omitempty"`
	RouteID   *int64 `json:"route_id,omitempty"`
	BookingID string `json:"booking_id,omitempty"`
	Requested *int   `json:"requested,omitempty"`
	Available *int   `json:"available,omitempty"`
}
