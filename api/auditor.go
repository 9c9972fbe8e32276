/*
auditor.go - Periodic conservation audit

PURPOSE:
  Runs Engine.Verify on a fixed interval and logs every discrepancy, so an
  operator notices when the ledger stops satisfying
  seats + booked == capacity (typically after an out-of-band edit of the
  persisted collections).

DESIGN:
  - One background goroutine driven by a ticker
  - Runs once immediately on Start
  - The last report is kept for the admin endpoint and tests

USAGE:
  auditor := NewAuditor(engine, time.Minute, logger)
  auditor.Start()
  // ... later
  auditor.Stop()

SEE ALSO:
  - handlers.go: GET /api/admin/verify (on-demand audit)
  - inventory/engine.go: Verify
*/
package api

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/sourcegraph/conc"
	"github.com/warp/seat-ledger/inventory"
)

// AuditReport is the outcome of one audit pass.
type AuditReport struct {
	At            time.Time
	Discrepancies []inventory.Discrepancy
}

// Auditor periodically verifies the ledger.
type Auditor struct {
	Engine   *inventory.Engine
	Interval time.Duration

	log    zerolog.Logger
	ticker *time.Ticker
	stop   chan struct{}
	wg     conc.WaitGroup
	mu     sync.Mutex
	last   AuditReport
	runs   int
}

// NewAuditor creates an auditor. A non-positive interval disables Start.
func NewAuditor(engine *inventory.Engine, interval time.Duration, log zerolog.Logger) *Auditor {
	return &Auditor{
		Engine:   engine,
		Interval: interval,
		log:      log,
	}
}

// Start begins periodic auditing.
func (a *Auditor) Start() {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.Interval <= 0 {
		a.log.Info().Msg("auditor disabled")
		return
	}
	if a.ticker != nil {
		return
	}

	a.ticker = time.NewTicker(a.Interval)
	a.stop = make(chan struct{})
	ticks, stop := a.ticker.C, a.stop
	a.wg.Go(func() { a.run(ticks, stop) })

	a.log.Info().Dur("interval", a.Interval).Msg("auditor started")
}

// Stop halts auditing and waits for an in-flight pass to finish.
func (a *Auditor) Stop() {
	a.mu.Lock()
	if a.ticker == nil {
		a.mu.Unlock()
		return
	}
	a.ticker.Stop()
	close(a.stop)
	a.ticker = nil
	a.mu.Unlock()

	a.wg.Wait()
	a.log.Info().Msg("auditor stopped")
}

func (a *Auditor) run(ticks <-chan time.Time, stop <-chan struct{}) {
	a.RunNow(context.Background())

	for {
		select {
		case <-ticks:
			a.RunNow(context.Background())
		case <-stop:
			return
		}
	}
}

// RunNow performs one audit pass and returns its report.
func (a *Auditor) RunNow(ctx context.Context) AuditReport {
	report := AuditReport{At: time.Now(), Discrepancies: a.Engine.Verify(ctx)}

	for _, d := range report.Discrepancies {
		a.log.Warn().
			Int64("route_id", int64(d.RouteID)).
			Str("kind", string(d.Kind)).
			Str("booking_id", string(d.BookingID)).
			Int("capacity", d.Capacity).
			Int("seats", d.Seats).
			Int("booked", d.Booked).
			Msg("ledger discrepancy")
	}
	if len(report.Discrepancies) == 0 {
		a.log.Debug().Msg("ledger consistent")
	}

	a.mu.Lock()
	a.last = report
	a.runs++
	a.mu.Unlock()
	return report
}

// Last returns the most recent report and how many passes have run.
func (a *Auditor) Last() (AuditReport, int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.last, a.runs
}
