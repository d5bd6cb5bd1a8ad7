package outbox

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jmehdipour/event-relay/internal/model"
	"github.com/jmehdipour/event-relay/internal/repository"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"
)

// Compensator applies a local corrective action for an event that can never
// be delivered, and closes the row terminally in the same transaction. A
// returned error means compensation itself failed; the row stays
// pending-with-error for manual remediation.
type Compensator interface {
	Compensate(ctx context.Context, ev *model.OutboxEvent, cause error) error
}

// diagnostic is the structured last_error written on terminal compensation.
type diagnostic struct {
	Message             string    `json:"message"`
	CompensationApplied bool      `json:"compensationApplied"`
	Timestamp           time.Time `json:"timestamp"`
}

// OrderCompensator quarantines the order an undeliverable event refers to.
// If blocking cannot be applied (row gone, drifted schema) it degrades to
// canceling the order outright. Aggregates it does not know are closed
// without a local action.
type OrderCompensator struct {
	db     *sqlx.DB
	orders repository.OrdersRepository
	outbox repository.OutboxRepository
	log    *zap.Logger
}

func NewOrderCompensator(db *sqlx.DB, orders repository.OrdersRepository, outboxRepo repository.OutboxRepository, log *zap.Logger) *OrderCompensator {
	if log == nil {
		log = zap.NewNop()
	}
	return &OrderCompensator{db: db, orders: orders, outbox: outboxRepo, log: log}
}

var _ Compensator = (*OrderCompensator)(nil)

func (c *OrderCompensator) Compensate(ctx context.Context, ev *model.OutboxEvent, cause error) error {
	now := time.Now().UTC()

	tx, err := c.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if ev.Aggregate == "order" {
		reason := "undeliverable event " + ev.EventType
		if err := c.orders.MarkBlocked(ctx, tx, ev.AggregateKey, reason); err != nil {
			c.log.Warn("block failed, canceling order instead",
				zap.String("event_id", ev.ID),
				zap.String("order_id", ev.AggregateKey),
				zap.Error(err),
			)
			if err := c.orders.Cancel(ctx, tx, ev.AggregateKey); err != nil {
				return err
			}
		}
	}

	diag, err := json.Marshal(diagnostic{
		Message:             model.TruncateError(cause.Error()),
		CompensationApplied: true,
		Timestamp:           now,
	})
	if err != nil {
		return err
	}

	if err := c.outbox.MarkCompensated(ctx, tx, ev.ID, string(diag), now); err != nil {
		return err
	}

	return tx.Commit()
}
