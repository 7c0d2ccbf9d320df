package followup

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/sawpanic/microsignal/internal/config"
	"github.com/sawpanic/microsignal/internal/monitor"
)

// Scheduler is the subset of queue.Scheduler the dispatcher needs.
type Scheduler interface {
	Enqueue(ctx context.Context, queueName, kind string, payload any, delay time.Duration, nowMs int64) (string, error)
}

// Dispatcher persists a passing signal and schedules its follow-up
// sampling tasks. It implements dispatch.SignalSink.
type Dispatcher struct {
	repo      Repo
	scheduler Scheduler
	cfg       *config.Config
	log       zerolog.Logger
}

// New constructs a Dispatcher.
func New(repo Repo, scheduler Scheduler, cfg *config.Config, log zerolog.Logger) *Dispatcher {
	return &Dispatcher{
		repo:      repo,
		scheduler: scheduler,
		cfg:       cfg,
		log:       log.With().Str("component", "followup").Logger(),
	}
}

// Handle persists sig, then enqueues three orderbook-sampling tasks and
// one price-trajectory task. A persistence failure surfaces immediately
// and no tasks are scheduled; a duplicate signal is logged and treated
// as a no-op (the signal was already followed up on). Individual
// enqueue failures are independent: one failing does not prevent the
// others from being scheduled.
func (d *Dispatcher) Handle(ctx context.Context, sig *monitor.Signal) error {
	id, err := d.repo.InsertSignal(ctx, sig)
	if errors.Is(err, ErrDuplicateSignal) {
		d.log.Debug().Str("symbol", sig.Symbol).Int64("signal_ts_ms", sig.SignalTimestampMs).Msg("duplicate signal, skipping follow-up")
		return nil
	}
	if err != nil {
		return err
	}

	nowMs := time.Now().UnixMilli()

	for _, offsetSec := range d.cfg.FollowUp.OrderbookOffsetsSec {
		payload := orderbookTaskPayload{SignalID: id, Symbol: sig.Symbol, OffsetSec: offsetSec}
		delay := time.Duration(offsetSec) * time.Second
		if _, err := d.scheduler.Enqueue(ctx, d.cfg.FollowUp.OrderbookQueue(), d.cfg.FollowUp.OrderbookKind(), payload, delay, nowMs); err != nil {
			d.log.Error().Err(err).Str("symbol", sig.Symbol).Int("offset_sec", offsetSec).Msg("failed to enqueue orderbook task")
		}
	}

	trajPayload := trajectoryTaskPayload{SignalID: id, Symbol: sig.Symbol, SignalTimestampMs: sig.SignalTimestampMs}
	trajDelay := time.Duration(d.cfg.FollowUp.TrajectoryDelayMs) * time.Millisecond
	if _, err := d.scheduler.Enqueue(ctx, d.cfg.FollowUp.PriceQueue(), d.cfg.FollowUp.PriceKind(), trajPayload, trajDelay, nowMs); err != nil {
		d.log.Error().Err(err).Str("symbol", sig.Symbol).Msg("failed to enqueue trajectory task")
	}

	return nil
}
