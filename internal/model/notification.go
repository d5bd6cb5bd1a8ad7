package model

import "time"

// Notification is the consumer-side derived record. Rows produced from a
// peer event are deduplicated on (origin_service, origin_event_id,
// subject_id); a row without an origin event id is never deduplicated.
type Notification struct {
	ID            string     `db:"id" json:"id"` // ULID
	SubjectID     string     `db:"subject_id" json:"subject_id"`
	OriginService string     `db:"origin_service" json:"origin_service"`
	OriginEventID string     `db:"origin_event_id" json:"origin_event_id,omitempty"`
	Title         string     `db:"title" json:"title"`
	Body          string     `db:"body" json:"body"`
	ReadAt        *time.Time `db:"read_at" json:"read_at,omitempty"`
	CreatedAt     time.Time  `db:"created_at" json:"created_at"`
}
