package notify

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jmehdipour/event-relay/internal/metrics"
	"github.com/jmehdipour/event-relay/internal/model"
	"github.com/jmehdipour/event-relay/internal/repository"
	"github.com/jmehdipour/event-relay/internal/util"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Sink is the idempotent write path for derived notifications. Redelivery
// of the same origin event to the same subject returns the first record
// unchanged instead of creating a duplicate.
type Sink interface {
	CreateIfAbsent(ctx context.Context, subjectID, originService, originEventID, title, body string) (*model.Notification, bool, error)
}

// Service implements Sink over MySQL with a best-effort Redis live push to
// the subject's channel after each newly created row.
type Service struct {
	repo repository.NotificationsRepository
	rds  *redis.Client
	log  *zap.Logger
}

func NewService(repo repository.NotificationsRepository, rds *redis.Client, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{repo: repo, rds: rds, log: log}
}

var _ Sink = (*Service)(nil)

// CreateIfAbsent persists a notification unless one already exists for the
// (origin service, origin event, subject) triple. An empty originEventID
// disables dedup for that row. Returns the persisted record and whether it
// was created by this call.
func (s *Service) CreateIfAbsent(ctx context.Context, subjectID, originService, originEventID, title, body string) (*model.Notification, bool, error) {
	n := &model.Notification{
		ID:            util.New(),
		SubjectID:     subjectID,
		OriginService: originService,
		OriginEventID: originEventID,
		Title:         title,
		Body:          body,
		CreatedAt:     time.Now().UTC(),
	}

	created, err := s.repo.InsertIfAbsent(ctx, n)
	if err != nil {
		metrics.NotificationsTotal.WithLabelValues("error").Inc()
		return nil, false, err
	}

	if !created {
		metrics.NotificationsTotal.WithLabelValues("duplicate").Inc()
		existing, err := s.repo.GetByOrigin(ctx, originService, originEventID, subjectID)
		if err != nil {
			return nil, false, err
		}
		return existing, false, nil
	}

	metrics.NotificationsTotal.WithLabelValues("created").Inc()
	s.push(ctx, n)

	return n, true, nil
}

// MarkRead is the only later mutation a notification sees.
func (s *Service) MarkRead(ctx context.Context, id string) error {
	return s.repo.MarkRead(ctx, id, time.Now().UTC())
}

// push publishes the notification to the subject's live channel. Failures
// are logged and dropped; the durable row is already committed.
func (s *Service) push(ctx context.Context, n *model.Notification) {
	if s.rds == nil {
		return
	}
	payload, err := json.Marshal(n)
	if err != nil {
		return
	}
	if err := s.rds.Publish(ctx, "notify:"+n.SubjectID, payload).Err(); err != nil {
		s.log.Debug("live push failed",
			zap.String("subject_id", n.SubjectID),
			zap.String("notification_id", n.ID),
			zap.Error(err),
		)
	}
}
