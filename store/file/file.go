/*
Package file provides a JSON-file implementation of the ledger store.

PURPOSE:
  Persists the routes and bookings collections as two JSON documents in a
  data directory (routes.json, bookings.json). This is the layout the seat
  ledger has always used on disk, so existing data files load as-is.

ATOMIC REPLACE:
  Every save writes the full collection to <name>.tmp, fsyncs it, renames
  it over <name> and fsyncs the directory. Readers never see a partial
  document and a crash never truncates a collection.

ATOMIC COMMIT OF BOTH COLLECTIONS (SaveAll):
  1. Write and fsync routes.json.tmp and bookings.json.tmp
  2. Atomically write commit.journal listing both renames
  3. Rename both temp files into place
  4. Remove the journal
  Once step 2 succeeds the commit stands. A failure in steps 3 or 4 is
  logged and left to the journal: the next load or save through the same
  Store, or the next open, rolls the renames forward. Temp files without a
  journal are leftovers of an uncommitted save and are removed on open.

SINGLE WRITER:
  New takes an advisory lock on <dir>/ledger.lock and fails with
  inventory.ErrStoreLocked while another process holds it. Close releases it.

BOOTSTRAPPING:
  A collection file that does not exist is created holding an empty list on
  first load.

LEGACY RECORDS:
  Bookings written without booking_id load with an empty ID (the engine
  assigns one). booking_time accepts RFC3339 and "2006-01-02 15:04:05".
  Routes without capacity load with Capacity 0 (the engine backfills it).

SEE ALSO:
  - inventory/store.go: Store / TxStore contract
  - store/sqlite: SQL-backed alternative
*/
package file

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/gofrs/flock"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/warp/seat-ledger/inventory"
)

const (
	routesFile   = "routes.json"
	bookingsFile = "bookings.json"
	journalFile  = "commit.journal"
	lockFile     = "ledger.lock"
	tempSuffix   = ".tmp"

	legacyTimeLayout = "2006-01-02 15:04:05"
)

// Store implements inventory.TxStore on top of a directory of JSON files.
type Store struct {
	dir  string
	lock *flock.Flock
	mu   sync.Mutex
	log  zerolog.Logger

	// pending is set when a journaled commit could not be applied in place.
	pending bool
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger used for recovery messages.
func WithLogger(l zerolog.Logger) Option {
	return func(s *Store) { s.log = l }
}

// New opens (creating if needed) a data directory and completes or discards
// any interrupted commit.
func New(dir string, opts ...Option) (*Store, error) {
	s := &Store{dir: dir, log: zerolog.Nop()}
	for _, opt := range opts {
		opt(s)
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}

	s.lock = flock.New(s.path(lockFile))
	locked, err := s.lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("locking data directory: %w", err)
	}
	if !locked {
		return nil, fmt.Errorf("%s: %w", dir, inventory.ErrStoreLocked)
	}

	if err := s.recover(); err != nil {
		s.lock.Unlock()
		return nil, err
	}
	return s, nil
}

// Close releases the data directory lock.
func (s *Store) Close() error {
	return s.lock.Unlock()
}

// =============================================================================
// RECORD FORMAT
// =============================================================================

type routeRecord struct {
	RouteID     int64           `json:"route_id"`
	Source      string          `json:"source"`
	Destination string          `json:"destination"`
	Capacity    int             `json:"capacity,omitempty"`
	Seats       int             `json:"seats"`
	Fare        decimal.Decimal `json:"fare"`
}

type bookingRecord struct {
	BookingID   string `json:"booking_id,omitempty"`
	Username    string `json:"username"`
	RouteID     int64  `json:"route_id"`
	SeatsBooked int    `json:"seats_booked"`
	BookingTime string `json:"booking_time"`
}

type journal struct {
	Renames [][2]string `json:"renames"`
}

func toRouteRecords(routes []inventory.Route) []routeRecord {
	records := make([]routeRecord, len(routes))
	for i, r := range routes {
		records[i] = routeRecord{
			RouteID:     int64(r.ID),
			Source:      r.Source,
			Destination: r.Destination,
			Capacity:    r.Capacity,
			Seats:       r.Seats,
			Fare:        r.Fare,
		}
	}
	return records
}

func toBookingRecords(bookings []inventory.Booking) []bookingRecord {
	records := make([]bookingRecord, len(bookings))
	for i, b := range bookings {
		records[i] = bookingRecord{
			BookingID:   string(b.ID),
			Username:    string(b.Username),
			RouteID:     int64(b.RouteID),
			SeatsBooked: b.SeatsBooked,
			BookingTime: b.BookedAt.UTC().Format(time.RFC3339Nano),
		}
	}
	return records
}

func parseBookingTime(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t, nil
	}
	return time.ParseInLocation(legacyTimeLayout, s, time.Local)
}

// =============================================================================
// LOAD
// =============================================================================

func (s *Store) LoadRoutes(_ context.Context) ([]inventory.Route, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.settle(); err != nil {
		return nil, err
	}

	var records []routeRecord
	if err := s.readCollection(routesFile, inventory.CollectionRoutes, &records); err != nil {
		return nil, err
	}

	routes := make([]inventory.Route, len(records))
	for i, r := range records {
		routes[i] = inventory.Route{
			ID:          inventory.RouteID(r.RouteID),
			Source:      r.Source,
			Destination: r.Destination,
			Capacity:    r.Capacity,
			Seats:       r.Seats,
			Fare:        r.Fare,
		}
	}
	return routes, nil
}

func (s *Store) LoadBookings(_ context.Context) ([]inventory.Booking, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.settle(); err != nil {
		return nil, err
	}

	var records []bookingRecord
	if err := s.readCollection(bookingsFile, inventory.CollectionBookings, &records); err != nil {
		return nil, err
	}

	bookings := make([]inventory.Booking, len(records))
	for i, r := range records {
		bookedAt, err := parseBookingTime(r.BookingTime)
		if err != nil {
			return nil, &inventory.StorageCorruptError{
				Collection: inventory.CollectionBookings,
				Err:        fmt.Errorf("record %d: booking_time %q: %w", i, r.BookingTime, err),
			}
		}
		bookings[i] = inventory.Booking{
			ID:          inventory.BookingID(r.BookingID),
			Username:    inventory.Username(r.Username),
			RouteID:     inventory.RouteID(r.RouteID),
			SeatsBooked: r.SeatsBooked,
			BookedAt:    bookedAt,
		}
	}
	return bookings, nil
}

// readCollection decodes name into dst. A missing file is bootstrapped with
// an empty list.
func (s *Store) readCollection(name string, c inventory.Collection, dst any) error {
	path := filepath.Join(s.dir, name)
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		if err := s.install(name, []byte("[]\n")); err != nil {
			return fmt.Errorf("bootstrapping %s: %w", name, err)
		}
		return nil
	}
	if err != nil {
		return fmt.Errorf("reading %s: %w", name, err)
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return &inventory.StorageCorruptError{Collection: c, Err: err}
	}
	return nil
}

// =============================================================================
// SAVE
// =============================================================================

func (s *Store) SaveRoutes(_ context.Context, routes []inventory.Route) error {
	data, err := encode(toRouteRecords(routes))
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.settle(); err != nil {
		return err
	}
	return s.install(routesFile, data)
}

func (s *Store) SaveBookings(_ context.Context, bookings []inventory.Booking) error {
	data, err := encode(toBookingRecords(bookings))
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.settle(); err != nil {
		return err
	}
	return s.install(bookingsFile, data)
}

// SaveAll replaces both collections as one commit.
func (s *Store) SaveAll(_ context.Context, routes []inventory.Route, bookings []inventory.Booking) error {
	routesData, err := encode(toRouteRecords(routes))
	if err != nil {
		return err
	}
	bookingsData, err := encode(toBookingRecords(bookings))
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.settle(); err != nil {
		return err
	}

	if err := s.writeTemp(routesFile, routesData); err != nil {
		return err
	}
	if err := s.writeTemp(bookingsFile, bookingsData); err != nil {
		s.removeTemp(routesFile)
		return err
	}

	j := journal{Renames: [][2]string{
		{routesFile + tempSuffix, routesFile},
		{bookingsFile + tempSuffix, bookingsFile},
	}}
	journalData, err := json.Marshal(j)
	if err != nil {
		return fmt.Errorf("encoding commit journal: %w", err)
	}
	if err := s.install(journalFile, journalData); err != nil {
		if !s.exists(journalFile) {
			s.removeTemp(routesFile)
			s.removeTemp(bookingsFile)
			return err
		}
		// The journal reached its final name, so the commit stands.
		s.log.Error().Err(err).Str("dir", s.dir).Msg("commit journal installed but not synced")
	}

	// Past this point the commit is durable. Failures are finished by settle
	// or, after a restart, by recover.
	if err := s.applyJournal(j); err != nil {
		s.pending = true
		s.log.Error().Err(err).Str("dir", s.dir).Msg("commit journaled but not applied, will roll forward")
		return nil
	}
	if err := s.removeJournal(); err != nil {
		s.pending = true
		s.log.Error().Err(err).Str("dir", s.dir).Msg("commit applied but journal not removed")
	}
	return nil
}

func encode(v any) ([]byte, error) {
	data, err := json.MarshalIndent(v, "", "    ")
	if err != nil {
		return nil, fmt.Errorf("encoding collection: %w", err)
	}
	return append(data, '\n'), nil
}

// install atomically replaces name with data.
func (s *Store) install(name string, data []byte) error {
	if err := s.writeTemp(name, data); err != nil {
		return err
	}
	if err := os.Rename(s.path(name+tempSuffix), s.path(name)); err != nil {
		s.removeTemp(name)
		return fmt.Errorf("renaming %s into place: %w", name, err)
	}
	return s.syncDir()
}

// writeTemp writes data to name.tmp and fsyncs it.
func (s *Store) writeTemp(name string, data []byte) error {
	tempPath := s.path(name + tempSuffix)

	f, err := os.OpenFile(tempPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("creating %s: %w", tempPath, err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tempPath)
		return fmt.Errorf("writing %s: %w", tempPath, err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tempPath)
		return fmt.Errorf("syncing %s: %w", tempPath, err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("closing %s: %w", tempPath, err)
	}
	return nil
}

func (s *Store) removeTemp(name string) {
	os.Remove(s.path(name + tempSuffix))
}

func (s *Store) exists(name string) bool {
	_, err := os.Stat(s.path(name))
	return err == nil
}

func (s *Store) path(name string) string {
	return filepath.Join(s.dir, name)
}

// syncDir makes completed renames durable.
func (s *Store) syncDir() error {
	d, err := os.Open(s.dir)
	if err != nil {
		return fmt.Errorf("opening data directory: %w", err)
	}
	defer d.Close()
	if err := d.Sync(); err != nil {
		return fmt.Errorf("syncing data directory: %w", err)
	}
	return nil
}

// =============================================================================
// RECOVERY
// =============================================================================

// journalCollection labels corruption of the journal, which spans both
// collections.
const journalCollection inventory.Collection = "commit journal"

func (s *Store) recover() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rolled, err := s.rollForward()
	if err != nil {
		return err
	}
	if rolled {
		s.log.Info().Str("dir", s.dir).Msg("rolled forward interrupted commit")
	}

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return fmt.Errorf("listing data directory: %w", err)
	}
	for _, e := range entries {
		if strings.HasSuffix(e.Name(), tempSuffix) {
			os.Remove(s.path(e.Name()))
			s.log.Debug().Str("file", e.Name()).Msg("removed uncommitted temp file")
		}
	}
	return nil
}

// settle completes a commit whose renames failed after its journal was
// installed. Caller holds mu.
func (s *Store) settle() error {
	if !s.pending {
		return nil
	}
	if _, err := s.rollForward(); err != nil {
		return fmt.Errorf("completing pending commit: %w", err)
	}
	s.pending = false
	s.log.Info().Str("dir", s.dir).Msg("completed pending commit")
	return nil
}

// rollForward applies and removes a surviving journal. It reports whether
// one was found.
func (s *Store) rollForward() (bool, error) {
	data, err := os.ReadFile(s.path(journalFile))
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("reading commit journal: %w", err)
	}

	var j journal
	if err := json.Unmarshal(data, &j); err != nil {
		return false, &inventory.StorageCorruptError{Collection: journalCollection, Err: err}
	}
	if err := s.applyJournal(j); err != nil {
		return false, err
	}
	if err := s.removeJournal(); err != nil {
		return false, err
	}
	return true, nil
}

// applyJournal performs the journaled renames. A missing source means the
// rename already happened.
func (s *Store) applyJournal(j journal) error {
	for _, r := range j.Renames {
		err := os.Rename(s.path(r[0]), s.path(r[1]))
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("applying commit journal %s: %w", r[0], err)
		}
	}
	return s.syncDir()
}

func (s *Store) removeJournal() error {
	if err := os.Remove(s.path(journalFile)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("removing commit journal: %w", err)
	}
	return s.syncDir()
}
