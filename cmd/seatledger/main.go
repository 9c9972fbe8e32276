/*
main.go - seatledger command-line entry point

PURPOSE:
  Runs the seat ledger as an HTTP service (serve) or performs a single
  ledger operation and prints the result as JSON.

COMMANDS:
  serve      HTTP API with background conservation auditor
  routes     List routes and availability
  book       Book seats:          --user alice --route 1 --seats 2
  cancel     Cancel a booking:    --user alice --booking <id>
  bookings   List a user's bookings: --user alice
  verify     Check seats + booked == capacity; exits 2 when inconsistent

GLOBAL FLAGS:
  --config   YAML config file (also SEATLEDGER_CONFIG)
  --store    file | sqlite
  --data     Data directory (file) or database path (sqlite)
  --seed     Seed the sample routes into an empty ledger

ENVIRONMENT:
  SEATLEDGER_LOG_FORMAT=JSON   Structured JSON logs instead of console
  SEATLEDGER_DEBUG=YES         Debug level logging
  SEATLEDGER_*                 Config overrides (see config package)

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM serve stops accepting connections, waits up to 30s for
  active requests, stops the auditor and closes the store.

SEE ALSO:
  - commands.go: Command actions
  - api/server.go: Router configuration
  - config/config.go: Configuration sources
*/
package main

import (
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func main() {
	if os.Getenv("SEATLEDGER_LOG_FORMAT") != "JSON" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	}

	if os.Getenv("SEATLEDGER_DEBUG") == "YES" {
		log.Logger = log.Logger.Level(zerolog.DebugLevel)
	} else {
		log.Logger = log.Logger.Level(zerolog.InfoLevel)
	}

	if err := newApp(log.Logger).Run(os.Args); err != nil {
		log.Fatal().Err(err).Send()
	}
}
