package model

import (
	"encoding/json"
	"time"
)

// MaxLastErrorLen bounds the diagnostic stored on a failed event row.
const MaxLastErrorLen = 2000

// OutboxEvent is the DB entity persisted in the outbox_events table.
// A row is pending while ProcessedAt is NULL; once set the row is terminal
// and immutable.
type OutboxEvent struct {
	ID           string          `db:"id" json:"id"`                       // ULID
	Aggregate    string          `db:"aggregate" json:"aggregate"`         // e.g. "order"
	EventType    string          `db:"event_type" json:"event_type"`       // e.g. "OrderValidated"
	AggregateKey string          `db:"aggregate_key" json:"aggregate_key"` // business entity id, string form
	Payload      json.RawMessage `db:"payload" json:"payload"`             // opaque JSON document
	Attempts     int             `db:"attempts" json:"attempts"`
	LastError    *string         `db:"last_error" json:"last_error,omitempty"`
	CreatedAt    time.Time       `db:"created_at" json:"created_at"`
	ProcessedAt  *time.Time      `db:"processed_at" json:"processed_at,omitempty"`
}

// Pending reports whether the row is still eligible for delivery.
func (e OutboxEvent) Pending() bool { return e.ProcessedAt == nil }

// TruncateError bounds a diagnostic message to MaxLastErrorLen bytes.
func TruncateError(msg string) string {
	if len(msg) > MaxLastErrorLen {
		return msg[:MaxLastErrorLen]
	}
	return msg
}
