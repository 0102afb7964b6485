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

const expiryLockKey = "lock:sched:expiry"

// maxDrainPasses bounds how many full batches one tick may process.
const maxDrainPasses = 10

// ExpiryWorker expires stale one-time grants and closed subscription windows. It is
// the background expiry path; reads self-heal independently, so a missed tick only
// delays cleanup.
type ExpiryWorker struct {
	interval time.Duration
	batch    int
	ledger   usecase.LedgerUseCase
	registry usecase.SubscriptionRegistry
	locker   repository.Locker // optional
	log      *zerolog.Logger
}

func NewExpiryWorker(interval time.Duration, batch int, ledger usecase.LedgerUseCase, registry usecase.SubscriptionRegistry, locker repository.Locker, logger *zerolog.Logger) *ExpiryWorker {
	if interval <= 0 {
		interval = time.Minute
	}
	if batch <= 0 {
		batch = 200
	}
	exprLog := logger.With().Str("component", "ExpiryWorker").Logger()
	return &ExpiryWorker{
		interval: interval,
		batch:    batch,
		ledger:   ledger,
		registry: registry,
		locker:   locker,
		log:      &exprLog,
	}
}

func (w *ExpiryWorker) Run(ctx context.Context) error {
	w.log.Info().Dur("interval", w.interval).Msg("Starting expiry worker")
	w.Tick(ctx)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			w.log.Info().Msg("Stopping expiry worker")
			return ctx.Err()
		case <-ticker.C:
			w.Tick(ctx)
		}
	}
}

// Tick runs one sweep. Exported for tests and one-shot runs.
func (w *ExpiryWorker) Tick(ctx context.Context) {
	if w.locker != nil {
		token, err := w.locker.TryLock(ctx, expiryLockKey, w.interval)
		if err != nil {
			if errors.Is(err, domain.ErrLockNotAcquired) {
				w.log.Debug().Msg("another instance holds the expiry lock")
				metrics.IncJobRun("expiry", "skipped")
				return
			}
			// lock store down: sweep anyway, transitions are conditional
			w.log.Warn().Err(err).Msg("expiry lock unavailable")
		} else {
			defer func() {
				if err := w.locker.Unlock(context.WithoutCancel(ctx), expiryLockKey, token); err != nil {
					w.log.Warn().Err(err).Msg("expiry unlock failed")
				}
			}()
		}
	}

	result := "ok"
	total := 0
	for i := 0; i < maxDrainPasses; i++ {
		n, err := w.ledger.ExpireDue(ctx, w.batch)
		total += n
		if err != nil {
			result = "error"
			w.log.Error().Err(err).Msg("expire due purchases")
			break
		}
		if n < w.batch {
			break
		}
	}
	if total > 0 {
		metrics.AddPurchasesExpired(total)
		w.log.Info().Int("count", total).Msg("expired purchases")
	}

	subs, err := w.registry.FinishExpired(ctx, w.batch)
	if err != nil {
		result = "error"
		w.log.Error().Err(err).Msg("finish expired subscriptions")
	}
	if subs > 0 {
		metrics.AddSubscriptionsExpired(subs)
		w.log.Info().Int("count", subs).Msg("expired subscriptions finished")
	}
	metrics.IncJobRun("expiry", result)
}
