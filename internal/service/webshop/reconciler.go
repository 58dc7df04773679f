package webshop

import (
	"context"
	"log/slog"
	"time"

	"github.com/josh-kwaku/sep-payments/internal/lock"
	"github.com/josh-kwaku/sep-payments/internal/logging"
)

const (
	reconcileBatch   = 100
	reconcileLockKey = "webshop:reconcile"
)

type cacheCleaner interface {
	CleanExpired(ctx context.Context) (int64, error)
}

// Reconciler settles orders whose result callback never arrived by polling
// the PSP. Each cycle also drops expired idempotency entries.
type Reconciler struct {
	svc      *OrderService
	cache    cacheCleaner
	locker   lock.Locker
	logger   *slog.Logger
	interval time.Duration
	after    time.Duration
}

func NewReconciler(svc *OrderService, cache cacheCleaner, locker lock.Locker, logger *slog.Logger, interval, after time.Duration) *Reconciler {
	return &Reconciler{
		svc:      svc,
		cache:    cache,
		locker:   locker,
		logger:   logger,
		interval: interval,
		after:    after,
	}
}

func (r *Reconciler) Start(ctx context.Context) {
	r.logger.Info("order reconciler started", "interval", r.interval, "after", r.after)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("order reconciler stopped")
			return
		case <-ticker.C:
			r.Reconcile(ctx)
		}
	}
}

// Reconcile runs one cycle and returns how many orders it resolved.
func (r *Reconciler) Reconcile(ctx context.Context) int {
	release, ok, err := r.locker.Acquire(ctx, reconcileLockKey, r.interval)
	if err != nil {
		r.logger.Error("reconcile lock failed", "error", err)
		return 0
	}
	if !ok {
		r.logger.Debug("reconcile skipped, another replica holds the lock")
		return 0
	}
	defer release()

	ctx = logging.WithLogger(ctx, r.logger)

	if r.cache != nil {
		if n, err := r.cache.CleanExpired(ctx); err != nil {
			r.logger.Error("idempotency cache cleanup failed", "error", err)
		} else if n > 0 {
			r.logger.Info("idempotency cache cleaned", "deleted", n)
		}
	}

	orders, err := r.svc.orders.FindUnresolved(ctx, r.svc.now().Add(-r.after), reconcileBatch)
	if err != nil {
		r.logger.Error("failed to fetch unresolved orders", "error", err)
		return 0
	}

	resolved := 0
	for i := range orders {
		order := &orders[i]
		res, err := r.svc.reconcile(ctx, order)
		if err != nil {
			r.logger.Warn("order reconciliation failed", "order_id", order.ID, "error", err)
			r.svc.metrics.SchedulerItem("order_reconcile", "error")
			continue
		}
		if !res.Updated {
			r.svc.metrics.SchedulerItem("order_reconcile", "skipped")
			continue
		}
		resolved++
		r.svc.metrics.SchedulerItem("order_reconcile", "resolved")
	}
	return resolved
}
