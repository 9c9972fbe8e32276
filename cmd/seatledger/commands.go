package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/urfave/cli/v2"
	"github.com/warp/seat-ledger/api"
	"github.com/warp/seat-ledger/config"
	"github.com/warp/seat-ledger/inventory"
	"github.com/warp/seat-ledger/store/file"
	"github.com/warp/seat-ledger/store/sqlite"
)

// exitInconsistent is the verify exit status when discrepancies exist.
const exitInconsistent = 2

func newApp(log zerolog.Logger) *cli.App {
	return &cli.App{
		Name:  "seatledger",
		Usage: "seat inventory and booking ledger",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "config", Usage: "YAML config file", EnvVars: []string{"SEATLEDGER_CONFIG"}},
			&cli.StringFlag{Name: "store", Usage: "ledger backend: file or sqlite"},
			&cli.StringFlag{Name: "data", Usage: "data directory (file) or database path (sqlite)"},
			&cli.BoolFlag{Name: "seed", Usage: "seed sample routes into an empty ledger"},
		},
		Commands: []*cli.Command{
			{
				Name:  "serve",
				Usage: "run the HTTP API",
				Flags: []cli.Flag{
					&cli.IntFlag{Name: "port", Usage: "HTTP port (overrides config)"},
				},
				Action: func(c *cli.Context) error { return serve(c, log) },
			},
			{
				Name:   "routes",
				Usage:  "list routes and seat availability",
				Action: func(c *cli.Context) error { return listRoutes(c, log) },
			},
			{
				Name:  "book",
				Usage: "book seats on a route",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "user", Required: true},
					&cli.Int64Flag{Name: "route", Required: true},
					&cli.IntFlag{Name: "seats", Required: true},
				},
				Action: func(c *cli.Context) error { return book(c, log) },
			},
			{
				Name:  "cancel",
				Usage: "cancel one of your bookings",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "user", Required: true},
					&cli.StringFlag{Name: "booking", Required: true},
				},
				Action: func(c *cli.Context) error { return cancelBooking(c, log) },
			},
			{
				Name:  "bookings",
				Usage: "list a user's bookings",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "user", Required: true},
				},
				Action: func(c *cli.Context) error { return listBookings(c, log) },
			},
			{
				Name:   "verify",
				Usage:  "check the seat conservation law",
				Action: func(c *cli.Context) error { return verify(c, log) },
			},
		},
	}
}

// =============================================================================
// LEDGER SETUP
// =============================================================================

// ledger bundles an open engine with the store it must release.
type ledger struct {
	cfg    *config.Config
	engine *inventory.Engine
	close  func() error
}

// loadConfig merges the config file, environment and global flags.
func loadConfig(c *cli.Context) (*config.Config, error) {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return nil, err
	}
	if c.IsSet("store") {
		cfg.Store.Driver = c.String("store")
	}
	if c.IsSet("data") {
		cfg.Store.Path = c.String("data")
	}
	if c.IsSet("seed") {
		cfg.Seed = c.Bool("seed")
	}
	if c.IsSet("port") {
		cfg.HTTP.Port = c.Int("port")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func openLedger(c *cli.Context, log zerolog.Logger) (*ledger, error) {
	cfg, err := loadConfig(c)
	if err != nil {
		return nil, err
	}

	// Both stores lock their data, so a one-shot command fails with
	// inventory.ErrStoreLocked while serve owns the ledger.
	var (
		st      inventory.Store
		closeFn func() error
	)
	switch cfg.Store.Driver {
	case config.DriverSQLite:
		db, err := sqlite.New(cfg.Store.Path)
		if err != nil {
			return nil, fmt.Errorf("opening sqlite store: %w", err)
		}
		st, closeFn = db, db.Close
	default:
		fs, err := file.New(cfg.Store.Path, file.WithLogger(log))
		if err != nil {
			return nil, fmt.Errorf("opening file store: %w", err)
		}
		st, closeFn = fs, fs.Close
	}

	engine, err := inventory.NewEngine(c.Context, st, inventory.WithLogger(log))
	if err != nil {
		closeFn()
		return nil, err
	}

	if cfg.Seed {
		seeded, err := engine.Seed(c.Context, inventory.SampleRoutes())
		if err != nil {
			closeFn()
			return nil, fmt.Errorf("seeding routes: %w", err)
		}
		if seeded {
			log.Info().Msg("seeded sample routes")
		}
	}

	return &ledger{cfg: cfg, engine: engine, close: closeFn}, nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// =============================================================================
// ONE-SHOT COMMANDS
// =============================================================================

func listRoutes(c *cli.Context, log zerolog.Logger) error {
	l, err := openLedger(c, log)
	if err != nil {
		return err
	}
	defer l.close()

	return printJSON(c.App.Writer, api.RouteDTOs(l.engine.ListRoutes(c.Context)))
}

func book(c *cli.Context, log zerolog.Logger) error {
	l, err := openLedger(c, log)
	if err != nil {
		return err
	}
	defer l.close()

	conf, err := l.engine.Book(c.Context,
		inventory.Username(c.String("user")),
		inventory.RouteID(c.Int64("route")),
		c.Int("seats"))
	if err != nil {
		return err
	}
	return printJSON(c.App.Writer, api.NewConfirmationDTO(conf))
}

func cancelBooking(c *cli.Context, log zerolog.Logger) error {
	l, err := openLedger(c, log)
	if err != nil {
		return err
	}
	defer l.close()

	result, err := l.engine.Cancel(c.Context,
		inventory.Username(c.String("user")),
		inventory.BookingID(c.String("booking")))
	if err != nil {
		return err
	}
	return printJSON(c.App.Writer, api.NewCancellationDTO(result))
}

func listBookings(c *cli.Context, log zerolog.Logger) error {
	l, err := openLedger(c, log)
	if err != nil {
		return err
	}
	defer l.close()

	return printJSON(c.App.Writer, api.BookingDTOs(l.engine.ListBookings(c.Context, inventory.Username(c.String("user")))))
}

func verify(c *cli.Context, log zerolog.Logger) error {
	l, err := openLedger(c, log)
	if err != nil {
		return err
	}
	defer l.close()

	report := api.NewVerifyDTO(l.engine.Verify(c.Context))
	if err := printJSON(c.App.Writer, report); err != nil {
		return err
	}
	if !report.Consistent {
		return cli.Exit(fmt.Sprintf("%d discrepancies found", len(report.Discrepancies)), exitInconsistent)
	}
	return nil
}

// =============================================================================
// SERVE
// =============================================================================

func serve(c *cli.Context, log zerolog.Logger) error {
	l, err := openLedger(c, log)
	if err != nil {
		return err
	}
	defer l.close()

	ctx, stop := signal.NotifyContext(c.Context, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	auditor := api.NewAuditor(l.engine, l.cfg.AuditInterval(), log)
	auditor.Start()
	defer auditor.Stop()

	handler := api.NewHandler(l.engine, log)
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", l.cfg.HTTP.Port),
		Handler:      api.NewRouter(handler, l.cfg.HTTP.AllowedOrigins),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().
			Int("port", l.cfg.HTTP.Port).
			Str("store", l.cfg.Store.Driver).
			Str("path", l.cfg.Store.Path).
			Msg("server starting")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	log.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	log.Info().Msg("server stopped")
	return nil
}
