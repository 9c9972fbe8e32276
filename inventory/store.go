/*
store.go - Ledger Store interface

PURPOSE:
  Durable persistence for the two record collections, Routes and Bookings.
  The Store only loads and replaces whole collections; all seat arithmetic
  and validation live in the Engine.

CONTRACT:
  Load*:
    - A collection that was never written loads as empty, never as an error.
    - Data that cannot be parsed fails with *StorageCorruptError.
  Save*:
    - Replaces the entire collection atomically. A crash mid-save leaves
      either the old or the new version, never a truncated one.
    - No delta updates. Every mutation rewrites the affected collection.

ATOMICITY ACROSS COLLECTIONS:
  The unit of atomicity is one collection. Stores that can commit both
  collections together implement TxStore; the Engine prefers SaveAll when
  available and otherwise sequences the two saves with compensation.

IMPLEMENTATIONS:
  - store/file:      JSON files, temp-file + fsync + rename
  - store/sqlite:    SQLite tables, one SQL transaction per save
  - inventory/store: In-memory with fault injection, for tests

SEE ALSO:
  - engine.go: Sole writer of both collections
*/
package inventory

import "context"

// Collection names a persisted record collection.
type Collection string

const (
	CollectionRoutes   Collection = "routes"
	CollectionBookings Collection = "bookings"
)

// Store handles whole-collection persistence of routes and bookings.
type Store interface {
	// LoadRoutes returns every persisted route in stored order.
	LoadRoutes(ctx context.Context) ([]Route, error)

	// LoadBookings returns every persisted booking in creation order.
	LoadBookings(ctx context.Context) ([]Booking, error)

	// SaveRoutes atomically replaces the routes collection.
	SaveRoutes(ctx context.Context, routes []Route) error

	// SaveBookings atomically replaces the bookings collection.
	SaveBookings(ctx context.Context, bookings []Booking) error
}

// TxStore extends Store with a single atomic commit of both collections.
type TxStore interface {
	Store

	// SaveAll replaces both collections in one atomic unit.
	// Either both are written or neither is.
	SaveAll(ctx context.Context, routes []Route, bookings []Booking) error
}
