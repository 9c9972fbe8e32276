/*
Package inventory provides the seat inventory and booking ledger core.

PURPOSE:
  Routes own a finite pool of seats. Bookings claim seats on a route on
  behalf of a user. The Engine applies book and cancel transactions so that
  seat counts never go negative or get double-counted, and persists the
  result through a Store.

KEY CONCEPTS IN THIS FILE (types.go):
  - Route: a bookable origin-destination offering with a seat pool and fare
  - Booking: a user's claim on seats of a route, active until canceled
  - Confirmation / Cancellation: results returned to callers

CONSERVATION LAW:
  For every route R:
    R.Seats + sum(SeatsBooked of active bookings on R) == R.Capacity

  Capacity is immutable and persisted alongside Seats so the law can be
  checked at any time (see Engine.Verify).

SEE ALSO:
  - errors.go: Typed failures returned by every operation
  - store.go: Ledger Store interface
  - engine.go: Reservation Engine
*/
package inventory

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

// RouteID is assigned externally. The core never generates route IDs.
type RouteID int64

// BookingID is assigned by the engine at creation time and never reused.
type BookingID string

// Username is an opaque reference to a user owned by the caller.
type Username string

// =============================================================================
// ROUTE
// =============================================================================

type Route struct {
	ID          RouteID
	Source      string
	Destination string
	Capacity    int
	Seats       int
	Fare        decimal.Decimal
}

// FareFor returns the total fare for n seats.
func (r Route) FareFor(n int) decimal.Decimal {
	return r.Fare.Mul(decimal.NewFromInt(int64(n)))
}

// Booked returns how many seats are currently claimed.
func (r Route) Booked() int {
	return r.Capacity - r.Seats
}

// =============================================================================
// BOOKING
// =============================================================================

// Booking is immutable after creation. Cancellation removes it.
type Booking struct {
	ID          BookingID
	Username    Username
	RouteID     RouteID
	SeatsBooked int
	BookedAt    time.Time
}

// =============================================================================
// RESULTS
// =============================================================================

// Confirmation is returned by a successful Book.
type Confirmation struct {
	BookingID   BookingID
	RouteID     RouteID
	Username    Username
	SeatsBooked int
	FareTotal   decimal.Decimal
	BookedAt    time.Time
	SeatsLeft   int // availability right after the booking committed
}

// Cancellation is returned by a successful Cancel.
//
// SeatsRestored is false when the route referenced by the booking no longer
// exists. The booking is still removed; Warning describes what was skipped.
type Cancellation struct {
	BookingID     BookingID
	RouteID       RouteID
	Username      Username
	SeatsReleased int
	SeatsRestored bool
	Warning       string
}

// Discrepancy describes a conservation-law violation found by Verify.
// BookingID is only set for orphaned bookings.
type Discrepancy struct {
	RouteID   RouteID
	Kind      DiscrepancyKind
	Capacity  int
	Seats     int
	Booked    int
	BookingID BookingID
}

type DiscrepancyKind string

const (
	DiscrepancySeatMismatch  DiscrepancyKind = "seat_mismatch"
	DiscrepancyNegativeSeats DiscrepancyKind = "negative_seats"
	DiscrepancyOverCapacity  DiscrepancyKind = "over_capacity"
	DiscrepancyOrphanBooking DiscrepancyKind = "orphan_booking"
)

// =============================================================================
// SAMPLE DATA
// =============================================================================

// SampleRoutes returns the fixed set used to bootstrap an empty ledger.
func SampleRoutes() []Route {
	return []Route{
		{ID: 1, Source: "CityA", Destination: "CityB", Capacity: 50, Seats: 50, Fare: decimal.NewFromInt(20)},
		{ID: 2, Source: "CityB", Destination: "CityC", Capacity: 40, Seats: 40, Fare: decimal.NewFromInt(25)},
		{ID: 3, Source: "CityA", Destination: "CityC", Capacity: 30, Seats: 30, Fare: decimal.NewFromInt(30)},
	}
}
