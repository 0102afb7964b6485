package sched

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"paywall-access/internal/domain"
	"paywall-access/internal/domain/ports/repository"
	"paywall-access/internal/infra/metrics"
	"paywall-access/internal/usecase"
)

const reconcileLockKey = "lock:sched:reconcile"

// PaymentReconciler fails pending purchases whose checkout was abandoned, so the
// (principal, resource) pair is free for a new order. A capture webhook arriving later
// for a failed purchase is acknowledged and logged for manual reconciliation.
type PaymentReconciler struct {
	ledger     usecase.LedgerUseCase
	locker     repository.Locker // optional
	interval   time.Duration     // how often to scan
	staleAfter time.Duration     // how old a pending purchase must be to fail
	batch      int
	log        *zerolog.Logger
}

func NewPaymentReconciler(ledger usecase.LedgerUseCase, locker repository.Locker, interval, staleAfter time.Duration, batch int, logger *zerolog.Logger) *PaymentReconciler {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	if staleAfter <= 0 {
		staleAfter = 10 * time.Minute
	}
	if batch <= 0 {
		batch = 200
	}
	l := logger.With().Str("component", "PaymentReconciler").Logger()
	return &PaymentReconciler{ledger: ledger, locker: locker, interval: interval, staleAfter: staleAfter, batch: batch, log: &l}
}

func (w *PaymentReconciler) Run(ctx context.Context) error {
	w.log.Info().Dur("stale_after", w.staleAfter).Msg("Starting payment reconciler")
	t := time.NewTicker(w.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			w.log.Info().Msg("Stopping payment reconciler")
			return ctx.Err()
		case <-t.C:
			w.Tick(ctx)
		}
	}
}

func (w *PaymentReconciler) Tick(ctx context.Context) {
	if w.locker != nil {
		token, err := w.locker.TryLock(ctx, reconcileLockKey, w.interval)
		switch {
		case errors.Is(err, domain.ErrLockNotAcquired):
			metrics.IncJobRun("reconcile", "skipped")
			return
		case err != nil:
			w.log.Warn().Err(err).Msg("reconcile lock unavailable")
		default:
			defer func() { _ = w.locker.Unlock(context.WithoutCancel(ctx), reconcileLockKey, token) }()
		}
	}

	n, err := w.ledger.FailAbandoned(ctx, w.staleAfter, w.batch)
	if err != nil {
		metrics.IncJobRun("reconcile", "error")
		w.log.Error().Err(err).Msg("fail abandoned purchases")
		return
	}
	if n > 0 {
		w.log.Info().Int("count", n).Msg("abandoned checkouts failed")
	}
	metrics.IncJobRun("reconcile", "ok")
}
