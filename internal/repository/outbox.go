package repository

import (
	"context"
	"errors"
	"time"

	"github.com/jmehdipour/event-relay/internal/model"
	"github.com/jmoiron/sqlx"
)

// ErrTxRequired is returned when a write that must share the caller's
// transaction is invoked without one.
var ErrTxRequired = errors.New("outbox: transaction required")

// OutboxRepository defines persistence for the service's own outbox_events
// table. Insert runs inside the caller's transaction so the event row
// commits or rolls back together with the business mutation it describes.
type OutboxRepository interface {
	Insert(ctx context.Context, tx *sqlx.Tx, ev *model.OutboxEvent) error

	// ListPending returns up to limit non-terminal rows with attempts below
	// maxAttempts, oldest first.
	ListPending(ctx context.Context, limit, maxAttempts int) ([]model.OutboxEvent, error)

	// MarkDelivered closes the row on successful delivery and clears the
	// diagnostic. A terminal row is never updated again.
	MarkDelivered(ctx context.Context, id string, at time.Time) error

	// RecordFailure increments attempts and stores the (truncated)
	// diagnostic, leaving the row pending for the next tick.
	RecordFailure(ctx context.Context, id, diag string) error

	// MarkCompensated closes the row terminally after compensation. When tx
	// is non-nil it participates in the compensation transaction so the
	// corrective action and the terminal mark are atomic.
	MarkCompensated(ctx context.Context, tx *sqlx.Tx, id, diag string, at time.Time) error

	GetByID(ctx context.Context, id string) (*model.OutboxEvent, error)
}

type OutboxRepositoryImpl struct {
	db *sqlx.DB
}

func NewOutboxRepository(db *sqlx.DB) *OutboxRepositoryImpl {
	return &OutboxRepositoryImpl{db: db}
}

var _ OutboxRepository = (*OutboxRepositoryImpl)(nil)

func (r *OutboxRepositoryImpl) Insert(ctx context.Context, tx *sqlx.Tx, ev *model.OutboxEvent) error {
	if tx == nil {
		return ErrTxRequired
	}
	const q = `
		INSERT INTO outbox_events
		    (id, aggregate, event_type, aggregate_key, payload, attempts, created_at)
		VALUES
		    (?,  ?,         ?,          ?,             ?,       0,        ?)
	`
	_, err := tx.ExecContext(ctx, q,
		ev.ID, ev.Aggregate, ev.EventType, ev.AggregateKey, ev.Payload, ev.CreatedAt,
	)
	return err
}

func (r *OutboxRepositoryImpl) ListPending(ctx context.Context, limit, maxAttempts int) ([]model.OutboxEvent, error) {
	if limit <= 0 {
		limit = 50
	}
	const q = `
		SELECT id, aggregate, event_type, aggregate_key, payload, attempts, last_error, created_at, processed_at
		  FROM outbox_events
		 WHERE processed_at IS NULL AND attempts < ?
		 ORDER BY created_at ASC
		 LIMIT ?
	`
	var rows []model.OutboxEvent
	if err := r.db.SelectContext(ctx, &rows, q, maxAttempts, limit); err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *OutboxRepositoryImpl) MarkDelivered(ctx context.Context, id string, at time.Time) error {
	const q = `
		UPDATE outbox_events
		   SET processed_at = ?, last_error = NULL
		 WHERE id = ? AND processed_at IS NULL
	`
	_, err := r.db.ExecContext(ctx, q, at, id)
	return err
}

func (r *OutboxRepositoryImpl) RecordFailure(ctx context.Context, id, diag string) error {
	const q = `
		UPDATE outbox_events
		   SET attempts = attempts + 1, last_error = ?
		 WHERE id = ? AND processed_at IS NULL
	`
	_, err := r.db.ExecContext(ctx, q, model.TruncateError(diag), id)
	return err
}

func (r *OutboxRepositoryImpl) MarkCompensated(ctx context.Context, tx *sqlx.Tx, id, diag string, at time.Time) error {
	const q = `
		UPDATE outbox_events
		   SET processed_at = ?, last_error = ?
		 WHERE id = ? AND processed_at IS NULL
	`
	diag = model.TruncateError(diag)
	if tx != nil {
		_, err := tx.ExecContext(ctx, q, at, diag, id)
		return err
	}
	_, err := r.db.ExecContext(ctx, q, at, diag, id)
	return err
}

func (r *OutboxRepositoryImpl) GetByID(ctx context.Context, id string) (*model.OutboxEvent, error) {
	const q = `
		SELECT id, aggregate, event_type, aggregate_key, payload, attempts, last_error, created_at, processed_at
		  FROM outbox_events
		 WHERE id = ? LIMIT 1
	`
	var ev model.OutboxEvent
	if err := r.db.GetContext(ctx, &ev, q, id); err != nil {
		return nil, err
	}
	return &ev, nil
}
