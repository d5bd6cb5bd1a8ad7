package orders

import (
	"context"
	"errors"
	"fmt"

	"github.com/jmehdipour/event-relay/internal/model"
	"github.com/jmehdipour/event-relay/internal/outbox"
	"github.com/jmehdipour/event-relay/internal/repository"
	"github.com/jmoiron/sqlx"
)

var ErrOrderNotFound = errors.New("order not found")

// Service is the representative producing-side business logic: every
// mutation and its outbox event commit in a single transaction, so a fact
// is recorded if and only if the mutation it describes committed.
type Service struct {
	db       *sqlx.DB
	orders   repository.OrdersRepository
	producer *outbox.Producer
}

func New(db *sqlx.DB, ordersRepo repository.OrdersRepository, producer *outbox.Producer) *Service {
	return &Service{db: db, orders: ordersRepo, producer: producer}
}

// Create persists a new order; no event is emitted until validation.
func (s *Service) Create(ctx context.Context, o model.Order) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	o.Status = model.OrderStatusCreated
	if err := s.orders.Insert(ctx, tx, o); err != nil {
		return fmt.Errorf("insert order: %w", err)
	}

	return tx.Commit()
}

// Validate flips the order to validated and appends the OrderValidated
// event in the same transaction. Returns the appended event.
func (s *Service) Validate(ctx context.Context, orderID string) (*model.OutboxEvent, error) {
	o, err := s.orders.GetByID(ctx, orderID)
	if err != nil {
		return nil, fmt.Errorf("load order: %w", err)
	}
	if o == nil {
		return nil, ErrOrderNotFound
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	if err := s.orders.SetStatus(ctx, tx, orderID, model.OrderStatusValidated); err != nil {
		return nil, fmt.Errorf("set status: %w", err)
	}

	payload := map[string]any{
		"customer_id": o.CustomerID,
	}
	if o.AssigneeID != nil {
		payload["assignee_id"] = *o.AssigneeID
	}

	ev, err := s.producer.Append(ctx, tx, outbox.AppendInput{
		Aggregate:    "order",
		EventType:    "OrderValidated",
		AggregateKey: orderID,
		Payload:      payload,
	})
	if err != nil {
		return nil, fmt.Errorf("append event: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return ev, nil
}
