package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/urfave/cli/v2"
	"github.com/warp/seat-ledger/api"
	"github.com/warp/seat-ledger/inventory"
	"github.com/warp/seat-ledger/store/file"
)

// runCLI executes one command and returns its stdout.
func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	t.Setenv("SEATLEDGER_CONFIG", "")

	var out bytes.Buffer
	app := newApp(zerolog.Nop())
	app.Writer = &out
	app.ErrWriter = &out
	app.ExitErrHandler = func(*cli.Context, error) {}

	err := app.Run(append([]string{"seatledger"}, args...))
	return out.String(), err
}

func TestCLI_BookListCancel_FileStore(t *testing.T) {
	dir := t.TempDir()

	// GIVEN: a fresh seeded file ledger
	out, err := runCLI(t, "--data", dir, "--seed", "routes")
	require.NoError(t, err)
	var routes []api.RouteDTO
	require.NoError(t, json.Unmarshal([]byte(out), &routes))
	require.Len(t, routes, 3)

	// WHEN: alice books 2 seats on route 2
	out, err = runCLI(t, "--data", dir, "book", "--user", "alice", "--route", "2", "--seats", "2")
	require.NoError(t, err)
	var conf api.ConfirmationDTO
	require.NoError(t, json.Unmarshal([]byte(out), &conf))
	assert.Equal(t, "50.00", conf.FareTotal)
	assert.Equal(t, 38, conf.SeatsLeft)

	// THEN: a later process sees the booking
	out, err = runCLI(t, "--data", dir, "bookings", "--user", "alice")
	require.NoError(t, err)
	var list []api.BookingDTO
	require.NoError(t, json.Unmarshal([]byte(out), &list))
	require.Len(t, list, 1)
	assert.Equal(t, conf.BookingID, list[0].BookingID)

	// WHEN: alice cancels it
	out, err = runCLI(t, "--data", dir, "cancel", "--user", "alice", "--booking", conf.BookingID)
	require.NoError(t, err)
	var canc api.CancellationDTO
	require.NoError(t, json.Unmarshal([]byte(out), &canc))
	assert.True(t, canc.SeatsRestored)

	out, err = runCLI(t, "--data", dir, "verify")
	require.NoError(t, err)
	assert.Contains(t, out, `"consistent": true`)
}

func TestCLI_SQLiteStore(t *testing.T) {
	db := filepath.Join(t.TempDir(), "ledger.db")

	_, err := runCLI(t, "--store", "sqlite", "--data", db, "--seed", "book", "--user", "bob", "--route", "1", "--seats", "3")
	require.NoError(t, err)

	out, err := runCLI(t, "--store", "sqlite", "--data", db, "routes")
	require.NoError(t, err)
	var routes []api.RouteDTO
	require.NoError(t, json.Unmarshal([]byte(out), &routes))
	assert.Equal(t, 47, routes[0].Seats)
}

func TestCLI_BookErrorsSurface(t *testing.T) {
	dir := t.TempDir()

	_, err := runCLI(t, "--data", dir, "--seed", "book", "--user", "alice", "--route", "1", "--seats", "51")
	assert.ErrorIs(t, err, inventory.ErrInsufficientSeats)

	_, err = runCLI(t, "--data", dir, "book", "--user", "alice", "--route", "9", "--seats", "1")
	assert.ErrorIs(t, err, inventory.ErrRouteNotFound)
}

func TestCLI_VerifyExitCodeOnDiscrepancy(t *testing.T) {
	// GIVEN: a routes file edited by hand so seats exceed what bookings explain
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "routes.json"),
		[]byte(`[{"route_id": 1, "source": "A", "destination": "B", "capacity": 10, "seats": 7, "fare": "5"}]`), 0o644))

	out, err := runCLI(t, "--data", dir, "verify")

	var exitErr cli.ExitCoder
	require.ErrorAs(t, err, &exitErr)
	assert.Equal(t, exitInconsistent, exitErr.ExitCode())
	assert.Contains(t, out, "seat_mismatch")
}

func TestCLI_InvalidStoreDriver(t *testing.T) {
	_, err := runCLI(t, "--store", "postgres", "--data", t.TempDir(), "routes")

	assert.ErrorContains(t, err, "store.driver")
}

func TestCLI_StoreFlagOverridesBadEnvironment(t *testing.T) {
	t.Setenv("SEATLEDGER_STORE_DRIVER", "bogus")
	db := filepath.Join(t.TempDir(), "ledger.db")

	out, err := runCLI(t, "--store", "sqlite", "--data", db, "--seed", "routes")

	require.NoError(t, err)
	var routes []api.RouteDTO
	require.NoError(t, json.Unmarshal([]byte(out), &routes))
	assert.Len(t, routes, 3)
}

func TestCLI_RefusesLedgerHeldByAnotherOwner(t *testing.T) {
	// GIVEN: a data directory already opened, as a running serve would
	dir := t.TempDir()
	held, err := file.New(dir)
	require.NoError(t, err)

	// WHEN: a one-shot command tries to book against it
	_, err = runCLI(t, "--data", dir, "--seed", "book", "--user", "alice", "--route", "1", "--seats", "1")

	// THEN: it is refused instead of writing behind the owner's back
	assert.ErrorIs(t, err, inventory.ErrStoreLocked)

	require.NoError(t, held.Close())
	_, err = runCLI(t, "--data", dir, "--seed", "book", "--user", "alice", "--route", "1", "--seats", "1")
	assert.NoError(t, err)
}
