package notify

import (
	"context"

	"github.com/jmehdipour/event-relay/internal/model"
)

// Intent is one notification a handler wants created for a subject.
type Intent struct {
	Subject string
	Title   string
	Body    string
}

// Handler converts a peer event into zero or more notification intents.
// Handlers are pure with respect to the event payload.
type Handler func(ctx context.Context, ev model.OutboxEvent) ([]Intent, error)

// Registry maps event_type to its handler. Events with no registered
// handler are a silent no-op; the claimed row is still marked processed.
type Registry struct {
	handlers map[string]Handler
}

func NewRegistry() *Registry {
	return &Registry{handlers: map[string]Handler{}}
}

func (r *Registry) Register(eventType string, h Handler) {
	r.handlers[eventType] = h
}

func (r *Registry) Dispatch(ctx context.Context, ev model.OutboxEvent) ([]Intent, error) {
	h, ok := r.handlers[ev.EventType]
	if !ok {
		return nil, nil
	}
	return h(ctx, ev)
}
