package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmehdipour/event-relay/internal/model"
	"github.com/jmoiron/sqlx"
)

// NotificationsRepository persists the consumer-side derived records.
// Dedup is by (origin_service, origin_event_id, subject_id); it is done
// with a conditional insert rather than a unique-constraint error path so
// rows without an origin event id stay insertable any number of times.
type NotificationsRepository interface {
	// InsertIfAbsent inserts n unless a row with the same origin triple
	// exists. Returns whether a row was written.
	InsertIfAbsent(ctx context.Context, n *model.Notification) (bool, error)

	// GetByOrigin loads the row for an origin triple, nil when absent.
	GetByOrigin(ctx context.Context, originService, originEventID, subjectID string) (*model.Notification, error)

	ListBySubject(ctx context.Context, subjectID string, limit int) ([]model.Notification, error)

	MarkRead(ctx context.Context, id string, at time.Time) error
}

type NotificationsRepositoryImpl struct {
	db *sqlx.DB
}

func NewNotificationsRepository(db *sqlx.DB) *NotificationsRepositoryImpl {
	return &NotificationsRepositoryImpl{db: db}
}

var _ NotificationsRepository = (*NotificationsRepositoryImpl)(nil)

func (r *NotificationsRepositoryImpl) InsertIfAbsent(ctx context.Context, n *model.Notification) (bool, error) {
	// No origin event id: nothing to deduplicate against, plain insert.
	if n.OriginEventID == "" {
		const q = `
			INSERT INTO notifications (id, subject_id, origin_service, origin_event_id, title, body, created_at)
			VALUES (?, ?, ?, '', ?, ?, ?)
		`
		_, err := r.db.ExecContext(ctx, q, n.ID, n.SubjectID, n.OriginService, n.Title, n.Body, n.CreatedAt)
		return err == nil, err
	}

	const q = `
		INSERT INTO notifications (id, subject_id, origin_service, origin_event_id, title, body, created_at)
		SELECT ?, ?, ?, ?, ?, ?, ?
		  FROM DUAL
		 WHERE NOT EXISTS (
		       SELECT 1 FROM notifications
		        WHERE origin_service = ? AND origin_event_id = ? AND subject_id = ?
		 )
	`
	res, err := r.db.ExecContext(ctx, q,
		n.ID, n.SubjectID, n.OriginService, n.OriginEventID, n.Title, n.Body, n.CreatedAt,
		n.OriginService, n.OriginEventID, n.SubjectID,
	)
	if err != nil {
		return false, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

func (r *NotificationsRepositoryImpl) GetByOrigin(ctx context.Context, originService, originEventID, subjectID string) (*model.Notification, error) {
	const q = `
		SELECT id, subject_id, origin_service, origin_event_id, title, body, read_at, created_at
		  FROM notifications
		 WHERE origin_service = ? AND origin_event_id = ? AND subject_id = ?
		 LIMIT 1
	`
	var n model.Notification
	err := r.db.GetContext(ctx, &n, q, originService, originEventID, subjectID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &n, nil
}

func (r *NotificationsRepositoryImpl) ListBySubject(ctx context.Context, subjectID string, limit int) ([]model.Notification, error) {
	if limit <= 0 || limit > 1000 {
		limit = 50
	}
	const q = `
		SELECT id, subject_id, origin_service, origin_event_id, title, body, read_at, created_at
		  FROM notifications
		 WHERE subject_id = ?
		 ORDER BY created_at DESC
		 LIMIT ?
	`
	var rows []model.Notification
	if err := r.db.SelectContext(ctx, &rows, q, subjectID, limit); err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *NotificationsRepositoryImpl) MarkRead(ctx context.Context, id string, at time.Time) error {
	const q = `UPDATE notifications SET read_at = ? WHERE id = ? AND read_at IS NULL`
	_, err := r.db.ExecContext(ctx, q, at, id)
	return err
}
