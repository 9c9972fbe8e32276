package inventory_test

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sourcegraph/conc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/seat-ledger/inventory"
	"github.com/warp/seat-ledger/inventory/store"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

var fixedNow = time.Date(2025, time.March, 10, 9, 30, 0, 0, time.UTC)

func sequentialIDs() func() inventory.BookingID {
	n := 0
	return func() inventory.BookingID {
		n++
		return inventory.BookingID(fmt.Sprintf("bk-%d", n))
	}
}

func route(id inventory.RouteID, seats int, fare int64) inventory.Route {
	return inventory.Route{
		ID:          id,
		Source:      "CityA",
		Destination: "CityB",
		Capacity:    seats,
		Seats:       seats,
		Fare:        decimal.NewFromInt(fare),
	}
}

func newTestEngine(t *testing.T, st inventory.Store) *inventory.Engine {
	t.Helper()
	engine, err := inventory.NewEngine(context.Background(), st,
		inventory.WithClock(func() time.Time { return fixedNow }),
		inventory.WithIDGenerator(sequentialIDs()),
	)
	require.NoError(t, err)
	return engine
}

func seats(t *testing.T, e *inventory.Engine, id inventory.RouteID) int {
	t.Helper()
	r, err := e.Route(context.Background(), id)
	require.NoError(t, err)
	return r.Seats
}

// =============================================================================
// END-TO-END
// =============================================================================

func TestEngine_EndToEnd_BookRejectCancel(t *testing.T) {
	// GIVEN: route 1 with 50 seats at fare 20
	// WHEN: alice books 5, bob asks for 50, alice cancels
	// THEN: fare 100, bob rejected with 45 available, seats back to 50

	ctx := context.Background()
	engine := newTestEngine(t, store.NewMemoryWith([]inventory.Route{route(1, 50, 20)}, nil))

	conf, err := engine.Book(ctx, "alice", 1, 5)
	require.NoError(t, err)
	assert.True(t, conf.FareTotal.Equal(decimal.NewFromInt(100)), "fare total: %s", conf.FareTotal)
	assert.Equal(t, 45, conf.SeatsLeft)
	assert.Equal(t, 45, seats(t, engine, 1))
	assert.Equal(t, fixedNow, conf.BookedAt)

	_, err = engine.Book(ctx, "bob", 1, 50)
	var short *inventory.InsufficientSeatsError
	require.ErrorAs(t, err, &short)
	assert.Equal(t, 50, short.Requested)
	assert.Equal(t, 45, short.Available)
	assert.Equal(t, 45, seats(t, engine, 1))

	canceled, err := engine.Cancel(ctx, "alice", conf.BookingID)
	require.NoError(t, err)
	assert.True(t, canceled.SeatsRestored)
	assert.Equal(t, 5, canceled.SeatsReleased)
	assert.Equal(t, 50, seats(t, engine, 1))
	assert.Empty(t, engine.ListBookings(ctx, "alice"))
	assert.Empty(t, engine.Verify(ctx))
}

// =============================================================================
// BOOK VALIDATION
// =============================================================================

func TestEngine_Book_NonPositiveSeats_Rejected(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemoryWith([]inventory.Route{route(1, 10, 5)}, nil)
	engine := newTestEngine(t, mem)

	for _, n := range []int{0, -1, -50} {
		_, err := engine.Book(ctx, "alice", 1, n)
		assert.ErrorIs(t, err, inventory.ErrInvalidRequest, "seats=%d", n)
	}

	assert.Equal(t, 10, seats(t, engine, 1))
	assert.Zero(t, mem.Saves(inventory.CollectionRoutes), "no mutation should be persisted")
	assert.Zero(t, mem.Saves(inventory.CollectionBookings))
}

func TestEngine_Book_EmptyUsername_Rejected(t *testing.T) {
	engine := newTestEngine(t, store.NewMemoryWith([]inventory.Route{route(1, 10, 5)}, nil))

	_, err := engine.Book(context.Background(), "  ", 1, 1)

	var invalid *inventory.InvalidRequestError
	require.ErrorAs(t, err, &invalid)
	assert.Equal(t, "username", invalid.Field)
}

func TestEngine_Book_UnknownRoute(t *testing.T) {
	engine := newTestEngine(t, store.NewMemoryWith([]inventory.Route{route(1, 10, 5)}, nil))

	_, err := engine.Book(context.Background(), "alice", 42, 1)

	var notFound *inventory.RouteNotFoundError
	require.ErrorAs(t, err, &notFound)
	assert.Equal(t, inventory.RouteID(42), notFound.RouteID)
	assert.True(t, inventory.IsNotFound(err))
}

func TestEngine_Book_ExactlyAllSeats(t *testing.T) {
	ctx := context.Background()
	engine := newTestEngine(t, store.NewMemoryWith([]inventory.Route{route(1, 3, 7)}, nil))

	conf, err := engine.Book(ctx, "alice", 1, 3)
	require.NoError(t, err)
	assert.Equal(t, 0, conf.SeatsLeft)

	_, err = engine.Book(ctx, "bob", 1, 1)
	assert.ErrorIs(t, err, inventory.ErrInsufficientSeats)
}

func TestEngine_Book_FareUsesDecimalArithmetic(t *testing.T) {
	r := route(1, 10, 0)
	r.Fare = decimal.RequireFromString("12.10")
	engine := newTestEngine(t, store.NewMemoryWith([]inventory.Route{r}, nil))

	conf, err := engine.Book(context.Background(), "alice", 1, 3)

	require.NoError(t, err)
	assert.Equal(t, "36.3", conf.FareTotal.String())
}

// =============================================================================
// CANCEL
// =============================================================================

func TestEngine_Cancel_RoundTripRestoresSeats(t *testing.T) {
	ctx := context.Background()
	engine := newTestEngine(t, store.NewMemoryWith([]inventory.Route{route(1, 40, 25)}, nil))

	_, err := engine.Book(ctx, "carol", 1, 7)
	require.NoError(t, err)
	before := seats(t, engine, 1)

	conf, err := engine.Book(ctx, "alice", 1, 12)
	require.NoError(t, err)
	_, err = engine.Cancel(ctx, "alice", conf.BookingID)
	require.NoError(t, err)

	assert.Equal(t, before, seats(t, engine, 1))
}

func TestEngine_Cancel_NotOwner_LeavesEverythingUnchanged(t *testing.T) {
	ctx := context.Background()
	engine := newTestEngine(t, store.NewMemoryWith([]inventory.Route{route(1, 10, 5)}, nil))

	conf, err := engine.Book(ctx, "alice", 1, 4)
	require.NoError(t, err)

	_, err = engine.Cancel(ctx, "mallory", conf.BookingID)

	var notOwner *inventory.NotOwnerError
	require.ErrorAs(t, err, &notOwner)
	assert.Equal(t, inventory.Username("alice"), notOwner.Owner)
	assert.Equal(t, inventory.Username("mallory"), notOwner.Requester)

	b, err := engine.Booking(ctx, conf.BookingID)
	require.NoError(t, err)
	assert.Equal(t, 4, b.SeatsBooked)
	assert.Equal(t, 6, seats(t, engine, 1))
}

func TestEngine_Cancel_UnknownBooking(t *testing.T) {
	engine := newTestEngine(t, store.NewMemoryWith([]inventory.Route{route(1, 10, 5)}, nil))

	_, err := engine.Cancel(context.Background(), "alice", "nope")

	var notFound *inventory.BookingNotFoundError
	require.ErrorAs(t, err, &notFound)
	assert.Equal(t, inventory.BookingID("nope"), notFound.BookingID)
}

func TestEngine_Cancel_Twice(t *testing.T) {
	ctx := context.Background()
	engine := newTestEngine(t, store.NewMemoryWith([]inventory.Route{route(1, 10, 5)}, nil))

	conf, err := engine.Book(ctx, "alice", 1, 2)
	require.NoError(t, err)
	_, err = engine.Cancel(ctx, "alice", conf.BookingID)
	require.NoError(t, err)

	_, err = engine.Cancel(ctx, "alice", conf.BookingID)
	assert.ErrorIs(t, err, inventory.ErrBookingNotFound)
	assert.Equal(t, 10, seats(t, engine, 1), "second cancel must not release seats again")
}

func TestEngine_Cancel_RouteDeleted_BookingStillRemoved(t *testing.T) {
	// GIVEN: a booking on route 9, which was deleted from the routes collection
	// WHEN: the owner cancels
	// THEN: the booking is removed, restoration is skipped and reported

	ctx := context.Background()
	mem := store.NewMemoryWith(
		[]inventory.Route{route(1, 10, 5)},
		[]inventory.Booking{{ID: "bk-orphan", Username: "alice", RouteID: 9, SeatsBooked: 3, BookedAt: fixedNow}},
	)
	engine := newTestEngine(t, mem)

	result, err := engine.Cancel(ctx, "alice", "bk-orphan")

	require.NoError(t, err)
	assert.False(t, result.SeatsRestored)
	assert.NotEmpty(t, result.Warning)
	assert.Equal(t, 3, result.SeatsReleased)
	assert.Empty(t, engine.ListBookings(ctx, "alice"))

	persisted, err := mem.LoadBookings(ctx)
	require.NoError(t, err)
	assert.Empty(t, persisted)
	assert.Zero(t, mem.Saves(inventory.CollectionRoutes), "routes were not touched")
}

// =============================================================================
// PERSISTENCE FAILURES
// =============================================================================

func TestEngine_Book_BookingsSaveFails_RollsBackBothCollections(t *testing.T) {
	// GIVEN: a store whose next bookings save fails
	// WHEN: booking
	// THEN: PersistenceError, memory and store both show the pre-booking state

	ctx := context.Background()
	mem := store.NewMemoryWith([]inventory.Route{route(1, 10, 5)}, nil)
	engine := newTestEngine(t, mem)
	mem.FailNext(inventory.CollectionBookings, errors.New("disk full"))

	_, err := engine.Book(ctx, "alice", 1, 4)

	var perr *inventory.PersistenceError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, []inventory.Collection{inventory.CollectionBookings}, perr.Collections)
	assert.ErrorIs(t, err, inventory.ErrPersistence)
	assert.True(t, inventory.IsStorageError(err))

	assert.Equal(t, 10, seats(t, engine, 1))
	assert.Empty(t, engine.ListBookings(ctx, "alice"))

	storedRoutes, err := mem.LoadRoutes(ctx)
	require.NoError(t, err)
	require.Len(t, storedRoutes, 1)
	assert.Equal(t, 10, storedRoutes[0].Seats, "routes write must be compensated")

	// The engine keeps working after the failure.
	_, err = engine.Book(ctx, "alice", 1, 4)
	require.NoError(t, err)
	assert.Equal(t, 6, seats(t, engine, 1))
}

func TestEngine_Book_RoutesSaveFails_NothingWritten(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemoryWith([]inventory.Route{route(1, 10, 5)}, nil)
	engine := newTestEngine(t, mem)
	mem.FailNext(inventory.CollectionRoutes, errors.New("read-only file system"))

	_, err := engine.Book(ctx, "alice", 1, 4)

	assert.ErrorIs(t, err, inventory.ErrPersistence)
	assert.Equal(t, 10, seats(t, engine, 1))
	assert.Zero(t, mem.Saves(inventory.CollectionBookings))
}

func TestEngine_Cancel_SaveFails_BookingSurvives(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemoryWith([]inventory.Route{route(1, 10, 5)}, nil)
	engine := newTestEngine(t, mem)

	conf, err := engine.Book(ctx, "alice", 1, 4)
	require.NoError(t, err)
	mem.FailNext(inventory.CollectionBookings, errors.New("io timeout"))

	_, err = engine.Cancel(ctx, "alice", conf.BookingID)

	assert.ErrorIs(t, err, inventory.ErrPersistence)
	assert.Equal(t, 6, seats(t, engine, 1))
	_, err = engine.Booking(ctx, conf.BookingID)
	assert.NoError(t, err, "booking must survive a failed cancel")
	assert.Empty(t, engine.Verify(ctx))
}

func TestEngine_TxStore_SaveAllFailure_RollsBack(t *testing.T) {
	ctx := context.Background()
	tx := store.NewTxMemory()
	require.NoError(t, tx.SaveRoutes(ctx, []inventory.Route{route(1, 10, 5)}))
	engine := newTestEngine(t, tx)
	tx.FailNext(inventory.CollectionRoutes, errors.New("constraint failed"))

	_, err := engine.Book(ctx, "alice", 1, 2)

	var perr *inventory.PersistenceError
	require.ErrorAs(t, err, &perr)
	assert.Len(t, perr.Collections, 2)
	assert.Equal(t, 10, seats(t, engine, 1))

	storedBookings, err := tx.LoadBookings(ctx)
	require.NoError(t, err)
	assert.Empty(t, storedBookings)
}

// =============================================================================
// LOAD / RELOAD
// =============================================================================

func TestNewEngine_CorruptStore_SurfacesError(t *testing.T) {
	mem := store.NewMemoryWith([]inventory.Route{route(1, 10, 5)}, nil)
	mem.Corrupt(inventory.CollectionBookings)

	_, err := inventory.NewEngine(context.Background(), mem)

	var corrupt *inventory.StorageCorruptError
	require.ErrorAs(t, err, &corrupt)
	assert.Equal(t, inventory.CollectionBookings, corrupt.Collection)
	assert.ErrorIs(t, err, inventory.ErrStorageCorrupt)
}

func TestEngine_Reload_AfterRepair(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemoryWith([]inventory.Route{route(1, 10, 5)}, nil)
	engine := newTestEngine(t, mem)

	mem.Corrupt(inventory.CollectionRoutes)
	require.ErrorIs(t, engine.Reload(ctx), inventory.ErrStorageCorrupt)
	assert.Len(t, engine.ListRoutes(ctx), 1, "failed reload keeps the last good state")

	mem.Repair(inventory.CollectionRoutes)
	require.NoError(t, mem.SaveRoutes(ctx, []inventory.Route{route(1, 10, 5), route(2, 8, 3)}))
	require.NoError(t, engine.Reload(ctx))
	assert.Len(t, engine.ListRoutes(ctx), 2)
}

func TestNewEngine_LegacyRecords_BackfillCapacityAndIDs(t *testing.T) {
	// GIVEN: records written without capacity or booking IDs
	// WHEN: loading
	// THEN: capacity = seats + booked, IDs assigned and persisted

	ctx := context.Background()
	legacy := route(1, 45, 20)
	legacy.Capacity = 0
	mem := store.NewMemoryWith(
		[]inventory.Route{legacy},
		[]inventory.Booking{
			{Username: "alice", RouteID: 1, SeatsBooked: 3, BookedAt: fixedNow},
			{Username: "bob", RouteID: 1, SeatsBooked: 2, BookedAt: fixedNow},
		},
	)

	engine := newTestEngine(t, mem)

	r, err := engine.Route(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 50, r.Capacity)
	assert.Empty(t, engine.Verify(ctx))

	stored, err := mem.LoadBookings(ctx)
	require.NoError(t, err)
	require.Len(t, stored, 2)
	assert.Equal(t, inventory.BookingID("bk-1"), stored[0].ID)
	assert.Equal(t, inventory.BookingID("bk-2"), stored[1].ID)
}

// =============================================================================
// SEEDING / ROUTES
// =============================================================================

func TestEngine_Seed_OnlyWhenEmpty(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	engine := newTestEngine(t, mem)

	seeded, err := engine.Seed(ctx, inventory.SampleRoutes())
	require.NoError(t, err)
	assert.True(t, seeded)

	routes := engine.ListRoutes(ctx)
	require.Len(t, routes, 3)
	assert.Equal(t, inventory.RouteID(1), routes[0].ID)
	assert.Equal(t, 50, routes[0].Seats)
	assert.True(t, routes[2].Fare.Equal(decimal.NewFromInt(30)))

	seeded, err = engine.Seed(ctx, []inventory.Route{route(7, 1, 1)})
	require.NoError(t, err)
	assert.False(t, seeded)
	assert.Len(t, engine.ListRoutes(ctx), 3)
}

func TestEngine_AddRoute_Validation(t *testing.T) {
	ctx := context.Background()
	engine := newTestEngine(t, store.NewMemoryWith([]inventory.Route{route(1, 10, 5)}, nil))

	_, err := engine.AddRoute(ctx, route(1, 5, 5))
	assert.ErrorIs(t, err, inventory.ErrInvalidRequest, "duplicate id")

	bad := route(2, 5, 5)
	bad.Fare = decimal.NewFromInt(-1)
	_, err = engine.AddRoute(ctx, bad)
	assert.ErrorIs(t, err, inventory.ErrInvalidRequest, "negative fare")

	added, err := engine.AddRoute(ctx, inventory.Route{ID: 3, Seats: 12, Fare: decimal.NewFromInt(9)})
	require.NoError(t, err)
	assert.Equal(t, 12, added.Capacity)
	assert.Len(t, engine.ListRoutes(ctx), 2)
}

func TestEngine_ListBookings_CreationOrderPerUser(t *testing.T) {
	ctx := context.Background()
	engine := newTestEngine(t, store.NewMemoryWith([]inventory.Route{route(1, 10, 5), route(2, 10, 5)}, nil))

	first, err := engine.Book(ctx, "alice", 2, 1)
	require.NoError(t, err)
	_, err = engine.Book(ctx, "bob", 1, 1)
	require.NoError(t, err)
	second, err := engine.Book(ctx, "alice", 1, 2)
	require.NoError(t, err)

	list := engine.ListBookings(ctx, "alice")
	require.Len(t, list, 2)
	assert.Equal(t, first.BookingID, list[0].ID)
	assert.Equal(t, second.BookingID, list[1].ID)
	assert.Empty(t, engine.ListBookings(ctx, "nobody"))
}

// =============================================================================
// INVARIANTS
// =============================================================================

func TestEngine_Verify_ReportsDiscrepancies(t *testing.T) {
	ctx := context.Background()
	tampered := route(1, 10, 5)
	tampered.Seats = 9 // nothing booked, one seat missing
	mem := store.NewMemoryWith(
		[]inventory.Route{tampered, route(2, 5, 5)},
		[]inventory.Booking{{ID: "bk-x", Username: "alice", RouteID: 3, SeatsBooked: 1, BookedAt: fixedNow}},
	)
	engine := newTestEngine(t, mem)

	found := engine.Verify(ctx)

	require.Len(t, found, 2)
	assert.Equal(t, inventory.DiscrepancySeatMismatch, found[0].Kind)
	assert.Equal(t, inventory.RouteID(1), found[0].RouteID)
	assert.Equal(t, inventory.DiscrepancyOrphanBooking, found[1].Kind)
	assert.Equal(t, inventory.BookingID("bk-x"), found[1].BookingID)
}

func TestEngine_ConservationLaw_HoldsAcrossRandomOperations(t *testing.T) {
	ctx := context.Background()
	engine := newTestEngine(t, store.NewMemoryWith(inventory.SampleRoutes(), nil))
	users := []inventory.Username{"alice", "bob", "carol"}
	rng := rand.New(rand.NewSource(7))

	var active []inventory.Confirmation
	for i := 0; i < 300; i++ {
		if len(active) > 0 && rng.Intn(3) == 0 {
			k := rng.Intn(len(active))
			_, err := engine.Cancel(ctx, active[k].Username, active[k].BookingID)
			require.NoError(t, err)
			active = append(active[:k], active[k+1:]...)
		} else {
			conf, err := engine.Book(ctx, users[rng.Intn(len(users))], inventory.RouteID(rng.Intn(3)+1), rng.Intn(12)+1)
			if err != nil {
				require.ErrorIs(t, err, inventory.ErrInsufficientSeats)
			} else {
				active = append(active, conf)
			}
		}
		require.Empty(t, engine.Verify(ctx), "step %d", i)
	}
}

func TestEngine_ConcurrentBooking_NoOversell(t *testing.T) {
	// GIVEN: 10 seats left
	// WHEN: 40 goroutines each try to book 1 seat
	// THEN: exactly 10 succeed, the rest see InsufficientSeats

	ctx := context.Background()
	engine, err := inventory.NewEngine(ctx, store.NewMemoryWith([]inventory.Route{route(1, 10, 5)}, nil))
	require.NoError(t, err)

	var succeeded, rejected atomic.Int64
	var wg conc.WaitGroup
	for i := 0; i < 40; i++ {
		user := inventory.Username(fmt.Sprintf("user-%d", i))
		wg.Go(func() {
			_, err := engine.Book(ctx, user, 1, 1)
			switch {
			case err == nil:
				succeeded.Add(1)
			case errors.Is(err, inventory.ErrInsufficientSeats):
				rejected.Add(1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		})
	}
	wg.Wait()

	assert.Equal(t, int64(10), succeeded.Load())
	assert.Equal(t, int64(30), rejected.Load())
	assert.Equal(t, 0, seats(t, engine, 1))
	assert.Empty(t, engine.Verify(ctx))
}

func TestEngine_ConcurrentMixedRequests_CumulativeFit(t *testing.T) {
	ctx := context.Background()
	engine, err := inventory.NewEngine(ctx, store.NewTxMemory())
	require.NoError(t, err)
	_, err = engine.AddRoute(ctx, route(1, 20, 5))
	require.NoError(t, err)

	var booked atomic.Int64
	var wg conc.WaitGroup
	for i := 0; i < 30; i++ {
		n := i%4 + 1
		wg.Go(func() {
			conf, err := engine.Book(ctx, "racer", 1, n)
			if err == nil {
				booked.Add(int64(conf.SeatsBooked))
			}
		})
	}
	wg.Wait()

	left := seats(t, engine, 1)
	assert.GreaterOrEqual(t, left, 0)
	assert.Equal(t, 20, left+int(booked.Load()))
	assert.Empty(t, engine.Verify(ctx))
}
