package usage

import (
	"context"
	"time"

	"github.com/hashicorp/cronexpr"

	"github.com/cloudvault/core/cvlog"
)

var log = cvlog.GetContextLoggerFunc("usage")

// OwnerSource enumerates the owners a Reconciler sweep should visit. A real
// deployment backs this with whatever owns the subscription table; tests can
// supply a fixed slice.
type OwnerSource interface {
	ListOwnersBatch(ctx context.Context, offset, limit int) ([]string, error)
}

// Reconciler periodically forces a fresh ListV2-backed recompute of every
// owner's usage counter, bounding the long-run divergence the design accepts
// between a counter's compare-read-write increments and reality. Not named
// by the distilled design directly; it formalizes the "reconciled
// opportunistically" / "reconciled on cache expiry or manual recompute"
// language into a scheduled sweep, the way notification's dispatch loop
// formalizes "eventually delivered" into an actual background loop.
type Reconciler struct {
	accountant *Accountant
	owners     OwnerSource
	cron       string
	batchSize  int
}

// NewReconciler builds a Reconciler. cron is a standard 5-field cron
// expression (default "*/15 * * * *" per configuration); batchSize bounds
// how many owners are recomputed per tick.
func NewReconciler(accountant *Accountant, owners OwnerSource, cron string, batchSize int) *Reconciler {
	if batchSize <= 0 {
		batchSize = 50
	}

	return &Reconciler{accountant: accountant, owners: owners, cron: cron, batchSize: batchSize}
}

// Run blocks, firing a reconciliation sweep on every cron tick until ctx is
// cancelled.
func (r *Reconciler) Run(ctx context.Context) error {
	expr, err := cronexpr.Parse(r.cron)
	if err != nil {
		return err
	}

	for {
		next := expr.Next(time.Now())
		timer := time.NewTimer(time.Until(next))

		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
			r.sweep(ctx)
		}
	}
}

func (r *Reconciler) sweep(ctx context.Context) {
	offset := 0

	for {
		owners, err := r.owners.ListOwnersBatch(ctx, offset, r.batchSize)
		if err != nil {
			log(ctx).Warnf("usage reconcile: listing owners batch at offset %d failed: %v", offset, err)
			return
		}

		if len(owners) == 0 {
			return
		}

		for _, owner := range owners {
			if _, err := r.accountant.Recompute(ctx, owner); err != nil {
				log(ctx).Warnf("usage reconcile: recompute for owner %s failed: %v", owner, err)
			}
		}

		offset += len(owners)
	}
}
