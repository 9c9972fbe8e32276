/*
errors.go - Centralized error types for the reservation core

PURPOSE:
  All error types in one place. Every failure carries enough structured
  detail (kind + relevant values) for the caller to render a specific
  message. The core itself produces no formatted user text.

ERROR CATEGORIES:
  1. Request errors   - InvalidRequest
  2. Lookup errors    - RouteNotFound, BookingNotFound
  3. Business rules   - NotOwner, InsufficientSeats
  4. Storage errors   - StorageCorrupt (load), Persistence (save),
                        StoreLocked (open)

USAGE:
  Match the category with errors.Is, extract details with errors.As:

    var short *inventory.InsufficientSeatsError
    if errors.As(err, &short) {
        fmt.Printf("only %d seats left", short.Available)
    }

SEE ALSO:
  - engine.go: Returns these errors
  - api/handlers.go: Maps them to HTTP status codes
*/
package inventory

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	ErrInvalidRequest    = errors.New("invalid request")
	ErrRouteNotFound     = errors.New("route not found")
	ErrBookingNotFound   = errors.New("booking not found")
	ErrNotOwner          = errors.New("booking belongs to another user")
	ErrInsufficientSeats = errors.New("insufficient seats")

	// ErrStorageCorrupt is returned when a persisted collection cannot be parsed.
	// The affected operation cannot proceed; the caller decides whether to
	// reset or abort.
	ErrStorageCorrupt = errors.New("storage corrupt")

	// ErrPersistence is returned when a save fails. In-memory state has been
	// rolled back to the last successfully persisted state.
	ErrPersistence = errors.New("persistence failed")

	// ErrStoreLocked is returned when another process already owns the
	// ledger data. The engine assumes it is the only writer.
	ErrStoreLocked = errors.New("ledger data is locked by another process")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

type InvalidRequestError struct {
	Field  string
	Reason string
}

func (e *InvalidRequestError) Error() string {
	return fmt.Sprintf("invalid request: %s %s", e.Field, e.Reason)
}

func (e *InvalidRequestError) Unwrap() error { return ErrInvalidRequest }

type RouteNotFoundError struct {
	RouteID RouteID
}

func (e *RouteNotFoundError) Error() string {
	return fmt.Sprintf("route not found: %d", e.RouteID)
}

func (e *RouteNotFoundError) Unwrap() error { return ErrRouteNotFound }

type BookingNotFoundError struct {
	BookingID BookingID
}

func (e *BookingNotFoundError) Error() string {
	return fmt.Sprintf("booking not found: %s", e.BookingID)
}

func (e *BookingNotFoundError) Unwrap() error { return ErrBookingNotFound }

type NotOwnerError struct {
	BookingID BookingID
	Owner     Username
	Requester Username
}

func (e *NotOwnerError) Error() string {
	return fmt.Sprintf("booking %s is not owned by %s", e.BookingID, e.Requester)
}

func (e *NotOwnerError) Unwrap() error { return ErrNotOwner }

// InsufficientSeatsError reports the actual availability at decision time.
type InsufficientSeatsError struct {
	RouteID   RouteID
	Requested int
	Available int
}

func (e *InsufficientSeatsError) Error() string {
	return fmt.Sprintf("insufficient seats on route %d: requested %d, available %d",
		e.RouteID, e.Requested, e.Available)
}

func (e *InsufficientSeatsError) Unwrap() error { return ErrInsufficientSeats }

type StorageCorruptError struct {
	Collection Collection
	Err        error
}

func (e *StorageCorruptError) Error() string {
	return fmt.Sprintf("storage corrupt: collection %s: %v", e.Collection, e.Err)
}

// Unwrap exposes both the sentinel and the underlying parse error.
func (e *StorageCorruptError) Unwrap() []error { return []error{ErrStorageCorrupt, e.Err} }

// PersistenceError names the collections whose save failed. SaveAll failures
// list both.
type PersistenceError struct {
	Collections []Collection
	Err         error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persisting %v: %v", e.Collections, e.Err)
}

func (e *PersistenceError) Unwrap() []error { return []error{ErrPersistence, e.Err} }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsClientError returns true if the error is due to the request itself.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInvalidRequest) ||
		errors.Is(err, ErrNotOwner) ||
		errors.Is(err, ErrInsufficientSeats)
}

// IsNotFound returns true if the error indicates a missing route or booking.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrRouteNotFound) ||
		errors.Is(err, ErrBookingNotFound)
}

// IsStorageError returns true for load or save failures.
func IsStorageError(err error) bool {
	return errors.Is(err, ErrStorageCorrupt) || errors.Is(err, ErrPersistence)
}

func invalid(field, reason string) error {
	return &InvalidRequestError{Field: field, Reason: reason}
}
