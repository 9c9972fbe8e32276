/*
engine.go - Reservation Engine

PURPOSE:
  Orchestrates book and cancel transactions against the Route Inventory and
  Booking Registry and persists the result through the Ledger Store.

TRANSACTION SHAPE (both Book and Cancel):
  1. Take the engine lock
  2. Validate against current in-memory state
  3. Snapshot both collections
  4. Mutate Route Inventory + Booking Registry
  5. Persist (SaveAll when the store supports it, else two ordered saves)
  6. On any persistence failure, restore the snapshot and return
     *PersistenceError. Memory never diverges from the last committed state.

CONCURRENCY:
  A single mutex guards mutation and persistence together, so no two Book
  calls can observe the same availability and both succeed. Reads take the
  same lock and therefore see only committed state.

CANCELLATION POLICY:
  A booking whose route was deleted externally is still removed. Seat
  restoration is skipped and reported through Cancellation.SeatsRestored
  and Cancellation.Warning rather than failing the cancel.

SEE ALSO:
  - routes.go, bookings.go: In-memory state
  - store.go: Persistence contract
*/
package inventory

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Engine is the sole writer of the routes and bookings collections.
// Create one per ledger with NewEngine; it is safe for concurrent use.
type Engine struct {
	mu       sync.Mutex
	store    Store
	routes   *RouteInventory
	bookings *BookingRegistry

	log   zerolog.Logger
	now   func() time.Time
	newID func() BookingID
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger. The default discards everything.
func WithLogger(l zerolog.Logger) Option {
	return func(e *Engine) { e.log = l }
}

// WithClock overrides the booking timestamp source.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithIDGenerator overrides booking ID generation.
func WithIDGenerator(gen func() BookingID) Option {
	return func(e *Engine) { e.newID = gen }
}

// NewBookingID returns a random UUID-based booking identifier.
func NewBookingID() BookingID {
	return BookingID(uuid.NewString())
}

// NewEngine loads both collections from the store and returns a ready
// engine. A corrupt collection fails with *StorageCorruptError.
func NewEngine(ctx context.Context, store Store, opts ...Option) (*Engine, error) {
	e := &Engine{
		store: store,
		log:   zerolog.Nop(),
		now:   time.Now,
		newID: NewBookingID,
	}
	for _, opt := range opts {
		opt(e)
	}

	if err := e.load(ctx); err != nil {
		return nil, err
	}
	return e, nil
}

// load replaces in-memory state with the store's contents. Caller holds mu
// or has exclusive access.
func (e *Engine) load(ctx context.Context) error {
	routes, err := e.store.LoadRoutes(ctx)
	if err != nil {
		return fmt.Errorf("loading routes: %w", err)
	}
	bookings, err := e.store.LoadBookings(ctx)
	if err != nil {
		return fmt.Errorf("loading bookings: %w", err)
	}

	e.routes = NewRouteInventory(backfillCapacity(routes, bookings))
	e.bookings = NewBookingRegistry(bookings, e.newID)

	if assigned := countAssignedIDs(bookings, e.bookings); assigned > 0 {
		// Pin the generated identifiers so they survive a restart.
		if err := e.store.SaveBookings(ctx, e.bookings.Snapshot()); err != nil {
			return &PersistenceError{Collections: []Collection{CollectionBookings}, Err: err}
		}
		e.log.Info().Int("bookings", assigned).Msg("assigned identifiers to legacy bookings")
	}

	for _, d := range e.verifyLocked() {
		e.log.Warn().
			Int64("route_id", int64(d.RouteID)).
			Str("kind", string(d.Kind)).
			Str("booking_id", string(d.BookingID)).
			Int("capacity", d.Capacity).
			Int("seats", d.Seats).
			Int("booked", d.Booked).
			Msg("ledger discrepancy on load")
	}

	e.log.Debug().
		Int("routes", e.routes.Len()).
		Int("bookings", e.bookings.Len()).
		Msg("ledger loaded")
	return nil
}

// backfillCapacity fills in capacity for records persisted without one.
// Capacity is derived from the conservation law at load time.
func backfillCapacity(routes []Route, bookings []Booking) []Route {
	booked := make(map[RouteID]int)
	for _, b := range bookings {
		booked[b.RouteID] += b.SeatsBooked
	}
	result := make([]Route, len(routes))
	for i, r := range routes {
		if r.Capacity == 0 {
			r.Capacity = r.Seats + booked[r.ID]
		}
		result[i] = r
	}
	return result
}

// countAssignedIDs reports how many loaded bookings were given a new ID by
// the registry.
func countAssignedIDs(loaded []Booking, reg *BookingRegistry) int {
	n := 0
	for i, b := range reg.Snapshot() {
		if loaded[i].ID != b.ID {
			n++
		}
	}
	return n
}

// Reload discards in-memory state and reads both collections again. Use it
// after repairing a store that returned ErrStorageCorrupt.
func (e *Engine) Reload(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.load(ctx)
}

// =============================================================================
// BOOK
// =============================================================================

// Book reserves seats on a route for a user.
//
// Fails with *InvalidRequestError (seats <= 0 or empty username),
// *RouteNotFoundError, *InsufficientSeatsError or *PersistenceError.
// On failure, inventory and bookings are unchanged.
func (e *Engine) Book(ctx context.Context, username Username, routeID RouteID, seats int) (Confirmation, error) {
	if err := ctx.Err(); err != nil {
		return Confirmation{}, err
	}
	if strings.TrimSpace(string(username)) == "" {
		return Confirmation{}, invalid("username", "is required")
	}
	if seats <= 0 {
		return Confirmation{}, invalid("seats", "must be positive")
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	route, err := e.routes.Find(routeID)
	if err != nil {
		return Confirmation{}, err
	}
	if seats > route.Seats {
		return Confirmation{}, &InsufficientSeatsError{RouteID: routeID, Requested: seats, Available: route.Seats}
	}

	before := e.snapshot()

	left, err := e.routes.Decrement(routeID, seats)
	if err != nil {
		return Confirmation{}, err
	}
	booking := e.bookings.Add(Booking{
		Username:    username,
		RouteID:     routeID,
		SeatsBooked: seats,
		BookedAt:    e.now().UTC(),
	})

	if err := e.commit(ctx, before, true, true); err != nil {
		return Confirmation{}, err
	}

	e.log.Debug().
		Str("booking_id", string(booking.ID)).
		Str("username", string(username)).
		Int64("route_id", int64(routeID)).
		Int("seats", seats).
		Int("seats_left", left).
		Msg("booking committed")

	return Confirmation{
		BookingID:   booking.ID,
		RouteID:     routeID,
		Username:    username,
		SeatsBooked: seats,
		FareTotal:   route.FareFor(seats),
		BookedAt:    booking.BookedAt,
		SeatsLeft:   left,
	}, nil
}

// =============================================================================
// CANCEL
// =============================================================================

// Cancel removes a booking and releases its seats.
//
// Fails with *BookingNotFoundError, *NotOwnerError or *PersistenceError.
// If the booking's route no longer exists the booking is removed anyway and
// the result reports SeatsRestored=false.
func (e *Engine) Cancel(ctx context.Context, username Username, bookingID BookingID) (Cancellation, error) {
	if err := ctx.Err(); err != nil {
		return Cancellation{}, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	booking, err := e.bookings.Find(bookingID)
	if err != nil {
		return Cancellation{}, err
	}
	if booking.Username != username {
		return Cancellation{}, &NotOwnerError{BookingID: bookingID, Owner: booking.Username, Requester: username}
	}

	before := e.snapshot()
	result := Cancellation{
		BookingID:     booking.ID,
		RouteID:       booking.RouteID,
		Username:      booking.Username,
		SeatsReleased: booking.SeatsBooked,
	}

	_, err = e.routes.Increment(booking.RouteID, booking.SeatsBooked)
	switch {
	case err == nil:
		result.SeatsRestored = true
	case errors.Is(err, ErrRouteNotFound):
		result.Warning = fmt.Sprintf("route %d no longer exists; %d seats were not restored",
			booking.RouteID, booking.SeatsBooked)
	default:
		return Cancellation{}, err
	}

	if _, err := e.bookings.Remove(bookingID); err != nil {
		e.restore(before)
		return Cancellation{}, err
	}

	if err := e.commit(ctx, before, result.SeatsRestored, true); err != nil {
		return Cancellation{}, err
	}

	if !result.SeatsRestored {
		e.log.Warn().
			Str("booking_id", string(bookingID)).
			Int64("route_id", int64(booking.RouteID)).
			Int("seats", booking.SeatsBooked).
			Msg("booking canceled without seat restoration: route missing")
	} else {
		e.log.Debug().
			Str("booking_id", string(bookingID)).
			Int64("route_id", int64(booking.RouteID)).
			Int("seats", booking.SeatsBooked).
			Msg("cancellation committed")
	}
	return result, nil
}

// =============================================================================
// ROUTE ADMINISTRATION
// =============================================================================

// AddRoute registers a new route and persists the routes collection.
// A zero Capacity is taken to mean the route starts full (Capacity = Seats).
func (e *Engine) AddRoute(ctx context.Context, r Route) (Route, error) {
	if err := ctx.Err(); err != nil {
		return Route{}, err
	}
	if r.Capacity == 0 {
		r.Capacity = r.Seats
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	before := e.snapshot()
	if err := e.routes.Add(r); err != nil {
		return Route{}, err
	}
	if err := e.commit(ctx, before, true, false); err != nil {
		return Route{}, err
	}
	e.log.Info().Int64("route_id", int64(r.ID)).Int("capacity", r.Capacity).Msg("route added")
	return r, nil
}

// Seed adds routes only when the ledger has none. It reports whether
// seeding happened.
func (e *Engine) Seed(ctx context.Context, routes []Route) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.routes.Len() > 0 {
		return false, nil
	}

	before := e.snapshot()
	for _, r := range routes {
		if r.Capacity == 0 {
			r.Capacity = r.Seats
		}
		if err := e.routes.Add(r); err != nil {
			e.restore(before)
			return false, err
		}
	}
	if err := e.commit(ctx, before, true, false); err != nil {
		return false, err
	}
	e.log.Info().Int("routes", len(routes)).Msg("seeded empty ledger")
	return true, nil
}

// =============================================================================
// QUERIES
// =============================================================================

// ListRoutes returns all routes ordered by ID.
func (e *Engine) ListRoutes(_ context.Context) []Route {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.routes.List()
}

// Route returns a single route.
func (e *Engine) Route(_ context.Context, id RouteID) (Route, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.routes.Find(id)
}

// ListBookings returns the user's active bookings in creation order.
func (e *Engine) ListBookings(_ context.Context, username Username) []Booking {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.bookings.FindByUser(username)
}

// Booking returns a single active booking.
func (e *Engine) Booking(_ context.Context, id BookingID) (Booking, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.bookings.Find(id)
}

// Verify checks the conservation law for every route and reports bookings
// that reference unknown routes. An empty result means the ledger is
// consistent.
func (e *Engine) Verify(_ context.Context) []Discrepancy {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.verifyLocked()
}

func (e *Engine) verifyLocked() []Discrepancy {
	var found []Discrepancy
	booked := e.bookings.SeatsByRoute()

	for _, r := range e.routes.List() {
		d := Discrepancy{RouteID: r.ID, Capacity: r.Capacity, Seats: r.Seats, Booked: booked[r.ID]}
		switch {
		case r.Seats < 0:
			d.Kind = DiscrepancyNegativeSeats
		case r.Seats > r.Capacity:
			d.Kind = DiscrepancyOverCapacity
		case r.Seats+booked[r.ID] != r.Capacity:
			d.Kind = DiscrepancySeatMismatch
		default:
			continue
		}
		found = append(found, d)
	}

	for _, b := range e.bookings.Snapshot() {
		if _, err := e.routes.Find(b.RouteID); err != nil {
			found = append(found, Discrepancy{
				RouteID:   b.RouteID,
				Kind:      DiscrepancyOrphanBooking,
				Booked:    b.SeatsBooked,
				BookingID: b.ID,
			})
		}
	}
	return found
}

// =============================================================================
// COMMIT / ROLLBACK
// =============================================================================

type snapshot struct {
	routes   []Route
	bookings []Booking
}

func (e *Engine) snapshot() snapshot {
	return snapshot{routes: e.routes.Snapshot(), bookings: e.bookings.Snapshot()}
}

func (e *Engine) restore(s snapshot) {
	e.routes.Restore(s.routes)
	e.bookings.Restore(s.bookings)
}

// commit persists the dirty collections. On failure memory is restored to
// before and a *PersistenceError is returned.
func (e *Engine) commit(ctx context.Context, before snapshot, routesDirty, bookingsDirty bool) error {
	routes := e.routes.Snapshot()
	bookings := e.bookings.Snapshot()

	if ts, ok := e.store.(TxStore); ok && routesDirty && bookingsDirty {
		if err := ts.SaveAll(ctx, routes, bookings); err != nil {
			e.restore(before)
			e.log.Error().Err(err).Msg("commit failed, rolled back")
			return &PersistenceError{Collections: []Collection{CollectionRoutes, CollectionBookings}, Err: err}
		}
		return nil
	}

	if routesDirty {
		if err := e.store.SaveRoutes(ctx, routes); err != nil {
			e.restore(before)
			e.log.Error().Err(err).Str("collection", string(CollectionRoutes)).Msg("commit failed, rolled back")
			return &PersistenceError{Collections: []Collection{CollectionRoutes}, Err: err}
		}
	}

	if bookingsDirty {
		if err := e.store.SaveBookings(ctx, bookings); err != nil {
			if routesDirty {
				// Routes already hit the store; put the previous version back.
				if cerr := e.store.SaveRoutes(ctx, before.routes); cerr != nil {
					e.log.Error().Err(cerr).Msg("compensating routes write failed; ledger needs Verify")
					err = errors.Join(err, cerr)
				}
			}
			e.restore(before)
			e.log.Error().Err(err).Str("collection", string(CollectionBookings)).Msg("commit failed, rolled back")
			return &PersistenceError{Collections: []Collection{CollectionBookings}, Err: err}
		}
	}
	return nil
}
