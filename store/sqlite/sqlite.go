/*
Package sqlite provides a SQLite-backed implementation of the ledger store.

PURPOSE:
  Implements inventory.Store and inventory.TxStore using SQLite. Each
  collection lives in its own table; a save replaces the table contents
  inside one SQL transaction, so readers see either the old or the new
  collection and never a mix.

KEY TABLES:
  routes:   one row per route (fare stored as a decimal string)
  bookings: one row per active booking, ordered by seq (creation order)

ATOMICITY:
  SaveRoutes / SaveBookings: DELETE + INSERT in one transaction.
  SaveAll: both tables in one transaction.

CORRUPTION:
  A row whose fare or booking time cannot be parsed fails the load with
  *inventory.StorageCorruptError.

CONCURRENCY:
  Uses sync.RWMutex for thread-safety. The engine already serializes
  writers; the mutex keeps the store safe for direct use too.

SINGLE WRITER:
  A file-backed database is guarded by an advisory lock on <path>.lock.
  New fails with inventory.ErrStoreLocked while another process holds it.

WAL MODE:
  SQLite is opened with WAL (Write-Ahead Logging) for crash recovery and
  non-blocking readers.

USAGE:
  store, err := sqlite.New("./data/seats.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  engine, err := inventory.NewEngine(ctx, store)

SEE ALSO:
  - inventory/store.go: Interface definitions
  - store/file: JSON-file alternative
*/
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/gofrs/flock"
	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"
	"github.com/warp/seat-ledger/inventory"
)

// Store implements inventory.TxStore using SQLite.
type Store struct {
	db   *sql.DB
	lock *flock.Flock // nil for :memory: and NewFromDB
	mu   sync.RWMutex
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	var lock *flock.Flock
	if dbPath != ":memory:" {
		lock = flock.New(dbPath + ".lock")
		locked, err := lock.TryLock()
		if err != nil {
			return nil, fmt.Errorf("failed to lock database: %w", err)
		}
		if !locked {
			return nil, fmt.Errorf("%s: %w", dbPath, inventory.ErrStoreLocked)
		}
	}

	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		unlock(lock)
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// A :memory: database exists per connection.
	db.SetMaxOpenConns(1)

	store, err := NewFromDB(db)
	if err != nil {
		db.Close()
		unlock(lock)
		return nil, err
	}
	store.lock = lock
	return store, nil
}

func unlock(l *flock.Flock) error {
	if l == nil {
		return nil
	}
	return l.Unlock()
}

// NewFromDB wraps an already opened database and applies the schema.
// The caller keeps ownership of db until Close.
func NewFromDB(db *sql.DB) (*Store, error) {
	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	err := s.db.Close()
	if uerr := unlock(s.lock); err == nil {
		err = uerr
	}
	return err
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS routes (
		route_id INTEGER PRIMARY KEY,
		source TEXT NOT NULL,
		destination TEXT NOT NULL,
		capacity INTEGER NOT NULL DEFAULT 0,
		seats INTEGER NOT NULL,
		fare TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS bookings (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		booking_id TEXT NOT NULL UNIQUE,
		username TEXT NOT NULL,
		route_id INTEGER NOT NULL,
		seats_booked INTEGER NOT NULL CHECK (seats_booked > 0),
		booking_time TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_bookings_username
		ON bookings(username);
	CREATE INDEX IF NOT EXISTS idx_bookings_route
		ON bookings(route_id);
	`

	_, err := s.db.Exec(schema)
	return err
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// =============================================================================
// ROUTES
// =============================================================================

// LoadRoutes returns all routes ordered by route_id.
func (s *Store) LoadRoutes(ctx context.Context) ([]inventory.Route, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		"SELECT route_id, source, destination, capacity, seats, fare FROM routes ORDER BY route_id",
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query routes: %w", err)
	}
	defer rows.Close()

	routes := []inventory.Route{}
	for rows.Next() {
		var (
			r    inventory.Route
			fare string
		)
		if err := rows.Scan(&r.ID, &r.Source, &r.Destination, &r.Capacity, &r.Seats, &fare); err != nil {
			return nil, fmt.Errorf("failed to scan route: %w", err)
		}
		r.Fare, err = decimal.NewFromString(fare)
		if err != nil {
			return nil, &inventory.StorageCorruptError{
				Collection: inventory.CollectionRoutes,
				Err:        fmt.Errorf("route %d: fare %q: %w", r.ID, fare, err),
			}
		}
		routes = append(routes, r)
	}
	return routes, rows.Err()
}

// SaveRoutes replaces the routes table.
func (s *Store) SaveRoutes(ctx context.Context, routes []inventory.Route) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		return replaceRoutes(ctx, tx, routes)
	})
}

func replaceRoutes(ctx context.Context, db execer, routes []inventory.Route) error {
	if _, err := db.ExecContext(ctx, "DELETE FROM routes"); err != nil {
		return fmt.Errorf("failed to clear routes: %w", err)
	}
	for _, r := range routes {
		_, err := db.ExecContext(ctx,
			`INSERT INTO routes (route_id, source, destination, capacity, seats, fare)
			 VALUES (?, ?, ?, ?, ?, ?)`,
			int64(r.ID), r.Source, r.Destination, r.Capacity, r.Seats, r.Fare.String(),
		)
		if err != nil {
			return fmt.Errorf("failed to insert route %d: %w", r.ID, err)
		}
	}
	return nil
}

// =============================================================================
// BOOKINGS
// =============================================================================

// LoadBookings returns all bookings in creation order.
func (s *Store) LoadBookings(ctx context.Context) ([]inventory.Booking, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		"SELECT booking_id, username, route_id, seats_booked, booking_time FROM bookings ORDER BY seq",
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query bookings: %w", err)
	}
	defer rows.Close()

	bookings := []inventory.Booking{}
	for rows.Next() {
		var (
			b        inventory.Booking
			bookedAt string
		)
		if err := rows.Scan(&b.ID, &b.Username, &b.RouteID, &b.SeatsBooked, &bookedAt); err != nil {
			return nil, fmt.Errorf("failed to scan booking: %w", err)
		}
		b.BookedAt, err = time.Parse(time.RFC3339Nano, bookedAt)
		if err != nil {
			return nil, &inventory.StorageCorruptError{
				Collection: inventory.CollectionBookings,
				Err:        fmt.Errorf("booking %s: booking_time %q: %w", b.ID, bookedAt, err),
			}
		}
		bookings = append(bookings, b)
	}
	return bookings, rows.Err()
}

// SaveBookings replaces the bookings table.
func (s *Store) SaveBookings(ctx context.Context, bookings []inventory.Booking) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		return replaceBookings(ctx, tx, bookings)
	})
}

func replaceBookings(ctx context.Context, db execer, bookings []inventory.Booking) error {
	if _, err := db.ExecContext(ctx, "DELETE FROM bookings"); err != nil {
		return fmt.Errorf("failed to clear bookings: %w", err)
	}
	for _, b := range bookings {
		_, err := db.ExecContext(ctx,
			`INSERT INTO bookings (booking_id, username, route_id, seats_booked, booking_time)
			 VALUES (?, ?, ?, ?, ?)`,
			string(b.ID), string(b.Username), int64(b.RouteID), b.SeatsBooked,
			b.BookedAt.UTC().Format(time.RFC3339Nano),
		)
		if err != nil {
			return fmt.Errorf("failed to insert booking %s: %w", b.ID, err)
		}
	}
	return nil
}

// =============================================================================
// TRANSACTIONAL STORE (inventory.TxStore interface)
// =============================================================================

// SaveAll replaces both tables in one database transaction.
func (s *Store) SaveAll(ctx context.Context, routes []inventory.Route, bookings []inventory.Booking) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if err := replaceRoutes(ctx, tx, routes); err != nil {
			return err
		}
		return replaceBookings(ctx, tx, bookings)
	})
}

// withTx executes fn within a database transaction.
// If fn returns error, the transaction is rolled back.
func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(sqlTx); err != nil {
		return err
	}

	return sqlTx.Commit()
}

// Exec runs a raw statement. Intended for maintenance and tests that need to
// edit tables behind the engine's back.
func (s *Store) Exec(ctx context.Context, query string, args ...any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx, query, args...)
	return err
}
