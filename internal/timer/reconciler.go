package timer

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// StatusFunc fetches the server's overall and time-window remaining seconds.
type StatusFunc func(ctx context.Context) (overall, window *int, err error)

// Reconciler periodically refreshes a Coordinator's server-reported budgets.
// It only updates numbers; it never triggers a submission itself.
type Reconciler struct {
	coord    *Coordinator
	fetch    StatusFunc
	interval time.Duration
	log      zerolog.Logger

	mu       sync.Mutex
	failures int
}

// NewReconciler creates a Reconciler feeding coord from fetch every interval.
func NewReconciler(coord *Coordinator, fetch StatusFunc, interval time.Duration, log zerolog.Logger) *Reconciler {
	return &Reconciler{
		coord:    coord,
		fetch:    fetch,
		interval: interval,
		log:      log.With().Str("component", "reconciler").Logger(),
	}
}

// Once performs a single reconciliation. On failure the coordinator keeps the
// last known values.
func (r *Reconciler) Once(ctx context.Context) error {
	overall, window, err := r.fetch(ctx)
	if err != nil {
		r.mu.Lock()
		r.failures++
		n := r.failures
		r.mu.Unlock()

		if ctx.Err() == nil {
			r.log.Warn().Err(err).Int("consecutive_failures", n).Msg("Status fetch failed, keeping last known budgets")
		}
		return err
	}

	r.mu.Lock()
	r.failures = 0
	r.mu.Unlock()

	r.coord.Reconcile(overall, window)
	return nil
}

// ConsecutiveFailures reports how many fetches in a row have failed.
func (r *Reconciler) ConsecutiveFailures() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.failures
}

// Run reconciles every interval until ctx is cancelled.
func (r *Reconciler) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_ = r.Once(ctx)
		}
	}
}
