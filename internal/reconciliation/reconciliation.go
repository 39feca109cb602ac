// Package reconciliation periodically rebuilds the advisory balance hints
// from the ledger sums and reports the scopes whose hint had drifted.
package reconciliation

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/mbd888/customsdesk/internal/ledger"
)

// Reconciler recomputes balances from entries and rewrites the hints.
// *ledger.Ledger satisfies it.
type Reconciler interface {
	Reconcile(ctx context.Context, scopes ...ledger.Scope) ([]ledger.Drift, error)
}

// Report is the outcome of one run.
type Report struct {
	At      time.Time      `json:"at"`
	Elapsed time.Duration  `json:"elapsed"`
	Drift   []ledger.Drift `json:"drift"`
}

// Runner executes reconciliation runs and remembers the last report.
type Runner struct {
	ledger Reconciler
	logger *slog.Logger
	now    func() time.Time

	mu   sync.Mutex
	last *Report
}

func NewRunner(l Reconciler, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{ledger: l, logger: logger, now: time.Now}
}

// Run reconciles every scope. A failed run leaves the previous report.
func (r *Runner) Run(ctx context.Context) (*Report, error) {
	start := r.now()
	drift, err := r.ledger.Reconcile(ctx)
	elapsed := r.now().Sub(start)
	runDuration.Observe(elapsed.Seconds())
	if err != nil {
		runErrors.Inc()
		return nil, err
	}

	driftedScopes.Set(float64(len(drift)))
	lastSuccess.Set(float64(start.Unix()))

	rep := &Report{At: start, Elapsed: elapsed, Drift: drift}
	r.mu.Lock()
	r.last = rep
	r.mu.Unlock()

	if len(drift) > 0 {
		r.logger.Warn("balance hints rebuilt with drift", "drifted", len(drift), "elapsed_ms", elapsed.Milliseconds())
	} else {
		r.logger.Debug("balance hints reconciled", "elapsed_ms", elapsed.Milliseconds())
	}
	return rep, nil
}

// Last returns the most recent successful report, or nil.
func (r *Runner) Last() *Report {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.last
}
