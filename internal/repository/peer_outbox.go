package repository

import (
	"context"
	"time"

	"github.com/jmehdipour/event-relay/internal/model"
	"github.com/jmoiron/sqlx"
)

// PeerOutboxRepository reads another service's outbox_events table directly.
// Claiming uses FOR UPDATE SKIP LOCKED (MySQL 8) so concurrent notifier
// instances never pick the same row and never block on each other.
type PeerOutboxRepository interface {
	// ClaimPending locks up to limit pending rows inside tx, oldest first.
	// Rows locked by another instance are skipped, not waited on.
	ClaimPending(ctx context.Context, tx *sqlx.Tx, limit int) ([]model.OutboxEvent, error)

	// MarkProcessed closes claimed rows inside the claim transaction, before
	// any local side effect runs. At-most-one successful claim per row.
	MarkProcessed(ctx context.Context, tx *sqlx.Tx, ids []string, at time.Time) error

	// IncrementAttempts records a failed local handling of an already
	// claimed row. Diagnostic only; the row stays terminal.
	IncrementAttempts(ctx context.Context, id, diag string) error
}

type PeerOutboxRepositoryImpl struct {
	db *sqlx.DB
}

func NewPeerOutboxRepository(db *sqlx.DB) *PeerOutboxRepositoryImpl {
	return &PeerOutboxRepositoryImpl{db: db}
}

var _ PeerOutboxRepository = (*PeerOutboxRepositoryImpl)(nil)

func (r *PeerOutboxRepositoryImpl) ClaimPending(ctx context.Context, tx *sqlx.Tx, limit int) ([]model.OutboxEvent, error) {
	if tx == nil {
		return nil, ErrTxRequired
	}
	if limit <= 0 {
		limit = 50
	}
	const q = `
		SELECT id, aggregate, event_type, aggregate_key, payload, attempts, last_error, created_at, processed_at
		  FROM outbox_events
		 WHERE processed_at IS NULL
		 ORDER BY created_at ASC
		 LIMIT ?
		 FOR UPDATE SKIP LOCKED
	`
	var rows []model.OutboxEvent
	if err := tx.SelectContext(ctx, &rows, q, limit); err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *PeerOutboxRepositoryImpl) MarkProcessed(ctx context.Context, tx *sqlx.Tx, ids []string, at time.Time) error {
	if tx == nil {
		return ErrTxRequired
	}
	if len(ids) == 0 {
		return nil
	}
	const base = `UPDATE outbox_events SET processed_at = ? WHERE id IN (?) AND processed_at IS NULL`
	query, args, err := sqlx.In(base, at, ids)
	if err != nil {
		return err
	}
	query = r.db.Rebind(query)
	_, err = tx.ExecContext(ctx, query, args...)
	return err
}

func (r *PeerOutboxRepositoryImpl) IncrementAttempts(ctx context.Context, id, diag string) error {
	const q = `
		UPDATE outbox_events
		   SET attempts = attempts + 1, last_error = ?
		 WHERE id = ?
	`
	_, err := r.db.ExecContext(ctx, q, model.TruncateError(diag), id)
	return err
}
