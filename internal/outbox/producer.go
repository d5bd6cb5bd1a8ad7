package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmehdipour/event-relay/internal/metrics"
	"github.com/jmehdipour/event-relay/internal/model"
	"github.com/jmehdipour/event-relay/internal/repository"
	"github.com/jmehdipour/event-relay/internal/util"
	"github.com/jmoiron/sqlx"
)

var (
	ErrAggregateRequired    = errors.New("outbox: aggregate is required")
	ErrEventTypeRequired    = errors.New("outbox: event type is required")
	ErrAggregateKeyRequired = errors.New("outbox: aggregate key is required")
)

// AppendInput describes the fact to record. Payload is an opaque document
// interpreted only by consumer-side handlers, never by the relay.
type AppendInput struct {
	Aggregate    string
	EventType    string
	AggregateKey string
	Payload      map[string]any
}

// Producer writes outbox rows inside the caller's already-open transaction.
// It performs no transaction control of its own; store errors propagate
// unchanged so the enclosing business transaction rolls back with them.
type Producer struct {
	repo repository.OutboxRepository
}

func NewProducer(repo repository.OutboxRepository) *Producer {
	return &Producer{repo: repo}
}

// Append inserts one pending event row and returns it.
func (p *Producer) Append(ctx context.Context, tx *sqlx.Tx, in AppendInput) (*model.OutboxEvent, error) {
	if tx == nil {
		return nil, repository.ErrTxRequired
	}
	if in.Aggregate == "" {
		return nil, ErrAggregateRequired
	}
	if in.EventType == "" {
		return nil, ErrEventTypeRequired
	}
	if in.AggregateKey == "" {
		return nil, ErrAggregateKeyRequired
	}

	payload := in.Payload
	if payload == nil {
		payload = map[string]any{}
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}

	ev := &model.OutboxEvent{
		ID:           util.New(),
		Aggregate:    in.Aggregate,
		EventType:    in.EventType,
		AggregateKey: in.AggregateKey,
		Payload:      body,
		CreatedAt:    time.Now().UTC(),
	}

	if err := p.repo.Insert(ctx, tx, ev); err != nil {
		return nil, err
	}

	metrics.EventsTotal.WithLabelValues("produced", ev.Aggregate).Inc()

	return ev, nil
}
