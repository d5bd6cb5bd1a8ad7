package worker

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/jmehdipour/event-relay/internal/model"
	"github.com/jmehdipour/event-relay/internal/notify"
	"github.com/jmehdipour/event-relay/internal/repository"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"
)

// Notifier polls a peer service's outbox table directly and converts
// claimed rows into local notifications. Claiming uses SKIP LOCKED, so any
// number of notifier instances can run against the same peer store.
//
// Claimed rows are marked processed inside the claim transaction, before
// local side effects run. A crash after that commit loses the side effects
// of that batch; attempts and last_error on the peer row keep enough to
// replay by hand.
type Notifier struct {
	PeerDB   *sqlx.DB
	Peer     repository.PeerOutboxRepository
	Registry *notify.Registry
	Sink     notify.Sink

	// OriginService names the peer whose store is polled; it keys the
	// notification dedup triple.
	OriginService string

	Interval  time.Duration
	BatchSize int
	Logger    *zap.Logger

	polling atomic.Bool
}

func NewNotifier(
	peerDB *sqlx.DB,
	peerRepo repository.PeerOutboxRepository,
	registry *notify.Registry,
	sink notify.Sink,
	originService string,
	log *zap.Logger,
) *Notifier {
	if log == nil {
		log = zap.NewNop()
	}
	return &Notifier{
		PeerDB:        peerDB,
		Peer:          peerRepo,
		Registry:      registry,
		Sink:          sink,
		OriginService: originService,
		Interval:      10 * time.Second,
		BatchSize:     50,
		Logger:        log,
	}
}

// Run ticks until ctx is cancelled.
func (n *Notifier) Run(ctx context.Context) error {
	if n.Interval <= 0 {
		n.Interval = 10 * time.Second
	}

	ticker := time.NewTicker(n.Interval)
	defer ticker.Stop()

	n.Logger.Info("notifier started",
		zap.String("origin_service", n.OriginService),
		zap.Duration("interval", n.Interval),
		zap.Int("batch_size", n.BatchSize),
	)

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := n.Tick(ctx); err != nil {
				n.Logger.Error("notifier tick failed", zap.Error(err))
			}
		}
	}
}

// Tick claims one batch from the peer store and runs local side effects.
func (n *Notifier) Tick(ctx context.Context) error {
	if !n.polling.CompareAndSwap(false, true) {
		n.Logger.Debug("notifier tick skipped, previous poll still running")
		return nil
	}
	defer n.polling.Store(false)

	claimed, err := n.claim(ctx)
	if err != nil {
		return err
	}
	if len(claimed) == 0 {
		return nil
	}

	for i := range claimed {
		row := claimed[i]
		if err := n.handleRow(ctx, row); err != nil {
			n.Logger.Error("event handling failed",
				zap.String("event_id", row.ID),
				zap.String("event_type", row.EventType),
				zap.Error(err),
			)
			if aErr := n.Peer.IncrementAttempts(ctx, row.ID, err.Error()); aErr != nil {
				n.Logger.Error("increment attempts failed",
					zap.String("event_id", row.ID), zap.Error(aErr))
			}
			continue
		}
	}

	return nil
}

// claim locks up to BatchSize pending peer rows and marks them processed in
// the same transaction, guaranteeing at-most-one successful claim per row.
func (n *Notifier) claim(ctx context.Context) ([]model.OutboxEvent, error) {
	tx, err := n.PeerDB.BeginTxx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	rows, err := n.Peer.ClaimPending(ctx, tx, n.BatchSize)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}

	ids := make([]string, 0, len(rows))
	for _, r := range rows {
		ids = append(ids, r.ID)
	}

	now := time.Now().UTC()
	if err := n.Peer.MarkProcessed(ctx, tx, ids, now); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return rows, nil
}

func (n *Notifier) handleRow(ctx context.Context, ev model.OutboxEvent) error {
	intents, err := n.Registry.Dispatch(ctx, ev)
	if err != nil {
		return err
	}
	if len(intents) == 0 {
		n.Logger.Debug("no handler or no recipients for event",
			zap.String("event_id", ev.ID),
			zap.String("event_type", ev.EventType),
		)
		return nil
	}

	var firstErr error
	for _, it := range intents {
		_, created, err := n.Sink.CreateIfAbsent(ctx, it.Subject, n.OriginService, ev.ID, it.Title, it.Body)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		if !created {
			n.Logger.Debug("duplicate delivery, notification already exists",
				zap.String("event_id", ev.ID),
				zap.String("subject_id", it.Subject),
			)
		}
	}
	return firstErr
}
