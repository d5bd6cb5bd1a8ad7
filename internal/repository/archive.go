package repository

import (
	"context"
	"time"

	"github.com/jmehdipour/event-relay/internal/model"
	"github.com/jmoiron/sqlx"
)

// ArchivedEvent is the ClickHouse row written when an outbox event turns
// terminal. Reporting only; the MySQL row stays the source of truth.
type ArchivedEvent struct {
	ID          string    `db:"id" json:"id"`
	Aggregate   string    `db:"aggregate" json:"aggregate"`
	EventType   string    `db:"event_type" json:"event_type"`
	Outcome     string    `db:"outcome" json:"outcome"` // delivered|compensated
	Attempts    int       `db:"attempts" json:"attempts"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
	ProcessedAt time.Time `db:"processed_at" json:"processed_at"`
}

// ArchiveRepository stores terminal events in ClickHouse for reporting.
type ArchiveRepository interface {
	InsertTerminal(ctx context.Context, ev model.OutboxEvent, outcome string, processedAt time.Time) error
	ListRecent(ctx context.Context, aggregate, outcome string, limit, offset int) ([]ArchivedEvent, error)
}

type archiveRepository struct {
	ch *sqlx.DB // ClickHouse connection
}

func NewArchiveRepository(ch *sqlx.DB) ArchiveRepository {
	return &archiveRepository{ch: ch}
}

func (r *archiveRepository) InsertTerminal(ctx context.Context, ev model.OutboxEvent, outcome string, processedAt time.Time) error {
	const q = `
		INSERT INTO relay.events_terminal
		    (id, aggregate, event_type, outcome, attempts, created_at, processed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`
	_, err := r.ch.ExecContext(ctx, q,
		ev.ID, ev.Aggregate, ev.EventType, outcome, ev.Attempts, ev.CreatedAt, processedAt,
	)
	return err
}

func (r *archiveRepository) ListRecent(ctx context.Context, aggregate, outcome string, limit, offset int) ([]ArchivedEvent, error) {
	if limit <= 0 || limit > 1000 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	q := `
		SELECT id, aggregate, event_type, outcome, attempts, created_at, processed_at
		FROM relay.events_terminal
		WHERE 1 = 1
	`
	args := []any{}

	if aggregate != "" {
		q += " AND aggregate = ?"
		args = append(args, aggregate)
	}
	if outcome != "" {
		q += " AND outcome = ?"
		args = append(args, outcome)
	}

	q += " ORDER BY processed_at DESC LIMIT ? OFFSET ?"
	args = append(args, limit, offset)

	var rows []ArchivedEvent
	if err := r.ch.SelectContext(ctx, &rows, q, args...); err != nil {
		return nil, err
	}
	return rows, nil
}
