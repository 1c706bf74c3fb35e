package entitlement

import (
	"context"
	"log/slog"
	"time"

	"github.com/swiftsaleapp/entitlement/pkg/logger"
)

const defaultSweepInterval = time.Minute

// Reconciler periodically applies due pending downgrades. The sweep is
// idempotent per account, so crashes and restarts never double-apply a
// downgrade: an account either still matches the pending_downgrade
// predicate or it does not.
type Reconciler struct {
	svc      Service
	interval time.Duration
	log      *slog.Logger
}

// NewReconciler creates a Reconciler sweeping at the given interval
// (defaulting to one minute when zero).
func NewReconciler(svc Service, interval time.Duration, log *slog.Logger) *Reconciler {
	if svc == nil {
		panic("entitlement: Service is required")
	}
	if interval <= 0 {
		interval = defaultSweepInterval
	}
	if log == nil {
		log = slog.Default()
	}
	return &Reconciler{svc: svc, interval: interval, log: log}
}

// Run sweeps until the context is cancelled. Sweep errors are logged and
// the loop keeps going; the next tick retries whatever failed.
func (r *Reconciler) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			applied, err := r.svc.ReconcileDowngrades(ctx)
			if err != nil {
				r.log.ErrorContext(ctx, "downgrade sweep failed", logger.Error(err))
			}
			if applied > 0 {
				r.log.InfoContext(ctx, "applied pending downgrades", "count", applied)
			}
		}
	}
}
