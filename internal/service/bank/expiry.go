package bank

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/josh-kwaku/sep-payments/internal/domain"
	"github.com/josh-kwaku/sep-payments/internal/lock"
	"github.com/josh-kwaku/sep-payments/internal/logging"
)

const (
	expirySweepBatch   = 100
	expirySweepLockKey = "bank:expiry-sweep"
)

// ExpirySweeper periodically expires pending payments whose window has passed
// and tells the PSP they failed.
type ExpirySweeper struct {
	svc      *Service
	locker   lock.Locker
	logger   *slog.Logger
	interval time.Duration
}

func NewExpirySweeper(svc *Service, locker lock.Locker, logger *slog.Logger, interval time.Duration) *ExpirySweeper {
	return &ExpirySweeper{
		svc:      svc,
		locker:   locker,
		logger:   logger,
		interval: interval,
	}
}

func (e *ExpirySweeper) Start(ctx context.Context) {
	e.logger.Info("expiry sweeper started", "interval", e.interval)

	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			e.logger.Info("expiry sweeper stopped")
			return
		case <-ticker.C:
			e.Sweep(ctx)
		}
	}
}

// Sweep runs one cycle and returns how many transactions it expired.
func (e *ExpirySweeper) Sweep(ctx context.Context) int {
	release, ok, err := e.locker.Acquire(ctx, expirySweepLockKey, e.interval)
	if err != nil {
		e.logger.Error("expiry sweep lock failed", "error", err)
		return 0
	}
	if !ok {
		e.logger.Debug("expiry sweep skipped, another replica holds the lock")
		return 0
	}
	defer release()

	ctx = logging.WithLogger(ctx, e.logger)

	txns, err := e.svc.transactions.FindExpiredPending(ctx, e.svc.now(), expirySweepBatch)
	if err != nil {
		e.logger.Error("failed to fetch expired payments", "error", err)
		return 0
	}

	expired := 0
	for i := range txns {
		txn := &txns[i]
		if _, err := e.svc.expire(ctx, txn); err != nil {
			if errors.Is(err, domain.ErrAlreadyProcessed) {
				e.logger.Info("payment resolved before sweep", "payment_id", txn.PaymentID)
				e.svc.metrics.SchedulerItem("expiry_sweep", "skipped")
				continue
			}
			e.logger.Error("failed to expire payment", "payment_id", txn.PaymentID, "error", err)
			e.svc.metrics.SchedulerItem("expiry_sweep", "error")
			continue
		}
		expired++
		e.svc.metrics.SchedulerItem("expiry_sweep", "expired")
		e.logger.Info("payment expired", "payment_id", txn.PaymentID, "stan", txn.STAN)
	}
	return expired
}
