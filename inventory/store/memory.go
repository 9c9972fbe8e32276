// Package store provides in-memory Store implementations.
package store

import (
	"context"
	"errors"
	"sync"

	"github.com/warp/seat-ledger/inventory"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

// Memory keeps both collections in memory. It implements inventory.Store
// but not inventory.TxStore, so the engine uses ordered saves against it.
//
// Failures can be injected per collection with FailNext and Corrupt.
type Memory struct {
	mu       sync.RWMutex
	routes   []inventory.Route
	bookings []inventory.Booking

	failNext map[inventory.Collection]error
	corrupt  map[inventory.Collection]error
	saves    map[inventory.Collection]int
}

func NewMemory() *Memory {
	return &Memory{
		failNext: make(map[inventory.Collection]error),
		corrupt:  make(map[inventory.Collection]error),
		saves:    make(map[inventory.Collection]int),
	}
}

// NewMemoryWith returns a Memory store pre-populated with the given records.
func NewMemoryWith(routes []inventory.Route, bookings []inventory.Booking) *Memory {
	m := NewMemory()
	m.routes = append([]inventory.Route(nil), routes...)
	m.bookings = append([]inventory.Booking(nil), bookings...)
	return m
}

// FailNext makes the next save of collection fail with err.
func (m *Memory) FailNext(c inventory.Collection, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failNext[c] = err
}

// Corrupt makes every load of collection fail as unparseable until Repair.
func (m *Memory) Corrupt(c inventory.Collection) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.corrupt[c] = errors.New("unexpected end of input")
}

// Repair clears corruption for collection.
func (m *Memory) Repair(c inventory.Collection) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.corrupt, c)
}

// Saves returns how many successful saves hit collection.
func (m *Memory) Saves(c inventory.Collection) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.saves[c]
}

func (m *Memory) LoadRoutes(_ context.Context) ([]inventory.Route, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.corrupt[inventory.CollectionRoutes]; err != nil {
		return nil, &inventory.StorageCorruptError{Collection: inventory.CollectionRoutes, Err: err}
	}
	return append([]inventory.Route{}, m.routes...), nil
}

func (m *Memory) LoadBookings(_ context.Context) ([]inventory.Booking, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.corrupt[inventory.CollectionBookings]; err != nil {
		return nil, &inventory.StorageCorruptError{Collection: inventory.CollectionBookings, Err: err}
	}
	return append([]inventory.Booking{}, m.bookings...), nil
}

func (m *Memory) SaveRoutes(_ context.Context, routes []inventory.Route) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.takeFailure(inventory.CollectionRoutes); err != nil {
		return err
	}
	m.routes = append([]inventory.Route(nil), routes...)
	m.saves[inventory.CollectionRoutes]++
	return nil
}

func (m *Memory) SaveBookings(_ context.Context, bookings []inventory.Booking) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.takeFailure(inventory.CollectionBookings); err != nil {
		return err
	}
	m.bookings = append([]inventory.Booking(nil), bookings...)
	m.saves[inventory.CollectionBookings]++
	return nil
}

func (m *Memory) takeFailure(c inventory.Collection) error {
	err := m.failNext[c]
	delete(m.failNext, c)
	return err
}

// =============================================================================
// TRANSACTIONAL MEMORY STORE
// =============================================================================

// TxMemory wraps Memory with an atomic SaveAll.
type TxMemory struct {
	*Memory
}

func NewTxMemory() *TxMemory {
	return &TxMemory{Memory: NewMemory()}
}

// SaveAll replaces both collections or neither. A failure injected on either
// collection aborts the whole commit.
func (tm *TxMemory) SaveAll(_ context.Context, routes []inventory.Route, bookings []inventory.Booking) error {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	routesErr := tm.takeFailure(inventory.CollectionRoutes)
	bookingsErr := tm.takeFailure(inventory.CollectionBookings)
	if err := errors.Join(routesErr, bookingsErr); err != nil {
		return err
	}

	tm.routes = append([]inventory.Route(nil), routes...)
	tm.bookings = append([]inventory.Booking(nil), bookings...)
	tm.saves[inventory.CollectionRoutes]++
	tm.saves[inventory.CollectionBookings]++
	return nil
}
