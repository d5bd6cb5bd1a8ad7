package worker

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/jmehdipour/event-relay/internal/metrics"
	"github.com/jmehdipour/event-relay/internal/model"
	"github.com/jmehdipour/event-relay/internal/outbox"
	"github.com/jmehdipour/event-relay/internal/repository"
	"go.uber.org/zap"
)

// Relay drains the service's own outbox on a fixed interval and delivers
// each pending row to the peer over the transport, sequentially to bound
// load on the peer and keep rough creation order.
//
// Classification per failed delivery:
//   - fatal: peer said 4xx (except 429), 409 included - compensate now
//   - exhausted: attempts reached MaxAttempts - compensate now
//   - anything else is transient and waits for the next tick
type Relay struct {
	Outbox      repository.OutboxRepository
	Transport   outbox.Transport
	Compensator outbox.Compensator
	Archive     repository.ArchiveRepository // optional, best-effort reporting

	Interval    time.Duration
	BatchSize   int
	MaxAttempts int
	Logger      *zap.Logger

	draining atomic.Bool
}

func NewRelay(
	outboxRepo repository.OutboxRepository,
	transport outbox.Transport,
	compensator outbox.Compensator,
	log *zap.Logger,
) *Relay {
	if log == nil {
		log = zap.NewNop()
	}
	return &Relay{
		Outbox:      outboxRepo,
		Transport:   transport,
		Compensator: compensator,
		Interval:    10 * time.Second,
		BatchSize:   50,
		MaxAttempts: 5,
		Logger:      log,
	}
}

// Run ticks until ctx is cancelled.
func (r *Relay) Run(ctx context.Context) error {
	if r.Interval <= 0 {
		r.Interval = 10 * time.Second
	}

	ticker := time.NewTicker(r.Interval)
	defer ticker.Stop()

	r.Logger.Info("relay started",
		zap.Duration("interval", r.Interval),
		zap.Int("batch_size", r.BatchSize),
		zap.Int("max_attempts", r.MaxAttempts),
	)

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := r.Tick(ctx); err != nil {
				r.Logger.Error("relay tick failed", zap.Error(err))
			}
		}
	}
}

// Tick runs one drain cycle. A tick is skipped entirely while a previous
// one is still draining; the guard is released on every exit path.
func (r *Relay) Tick(ctx context.Context) error {
	if !r.draining.CompareAndSwap(false, true) {
		r.Logger.Debug("relay tick skipped, previous drain still running")
		return nil
	}
	defer r.draining.Store(false)

	rows, err := r.Outbox.ListPending(ctx, r.BatchSize, r.MaxAttempts)
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		return nil
	}

	for i := range rows {
		// Per-row failures are contained; the rest of the batch still runs.
		r.processRow(ctx, &rows[i])
	}

	return nil
}

func (r *Relay) processRow(ctx context.Context, ev *model.OutboxEvent) {
	err := r.Transport.Deliver(ctx, ev)
	now := time.Now().UTC()

	if err == nil {
		if err := r.Outbox.MarkDelivered(ctx, ev.ID, now); err != nil {
			r.Logger.Error("mark delivered failed",
				zap.String("event_id", ev.ID), zap.Error(err))
			return
		}
		metrics.EventsTotal.WithLabelValues("delivered", ev.Aggregate).Inc()
		r.archive(ctx, *ev, "delivered", now)
		return
	}

	// The failed attempt is recorded before any terminal transition so
	// attempts reflects every delivery that went wrong.
	if rErr := r.Outbox.RecordFailure(ctx, ev.ID, err.Error()); rErr != nil {
		r.Logger.Error("record failure failed",
			zap.String("event_id", ev.ID), zap.Error(rErr))
		return
	}
	ev.Attempts++

	status, _ := outbox.StatusOf(err)
	fatal := outbox.IsFatal(err)
	exhausted := ev.Attempts >= r.MaxAttempts

	if !fatal && !exhausted {
		metrics.EventsTotal.WithLabelValues("transient", ev.Aggregate).Inc()
		r.Logger.Warn("delivery failed, will retry",
			zap.String("event_id", ev.ID),
			zap.String("event_type", ev.EventType),
			zap.Int("status", status),
			zap.Int("attempts", ev.Attempts),
			zap.Error(err),
		)
		return
	}

	if cErr := r.Compensator.Compensate(ctx, ev, err); cErr != nil {
		// Row stays pending-with-error for manual remediation.
		r.Logger.Error("compensation failed, manual remediation required",
			zap.String("event_id", ev.ID),
			zap.String("event_type", ev.EventType),
			zap.String("aggregate_key", ev.AggregateKey),
			zap.Bool("fatal", fatal),
			zap.Bool("exhausted", exhausted),
			zap.Error(cErr),
		)
		return
	}

	metrics.EventsTotal.WithLabelValues("compensated", ev.Aggregate).Inc()
	r.Logger.Warn("event compensated",
		zap.String("event_id", ev.ID),
		zap.String("event_type", ev.EventType),
		zap.Int("status", status),
		zap.Int("attempts", ev.Attempts),
		zap.Bool("exhausted", exhausted),
	)
	r.archive(ctx, *ev, "compensated", now)
}

func (r *Relay) archive(ctx context.Context, ev model.OutboxEvent, outcome string, processedAt time.Time) {
	if r.Archive == nil {
		return
	}
	if err := r.Archive.InsertTerminal(ctx, ev, outcome, processedAt); err != nil {
		r.Logger.Warn("archive insert failed",
			zap.String("event_id", ev.ID), zap.Error(err))
	}
}
