package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jmehdipour/event-relay/internal/model"
)

// RegisterOrderHandlers wires the order-service event types: the customer,
// the assigned staff member (when any) and every supervisor get notified.
func RegisterOrderHandlers(reg *Registry, roles *RoleCache) {
	reg.Register("OrderValidated", func(ctx context.Context, ev model.OutboxEvent) ([]Intent, error) {
		var p struct {
			CustomerID string `json:"customer_id"`
			AssigneeID string `json:"assignee_id"`
		}
		if err := json.Unmarshal(ev.Payload, &p); err != nil {
			return nil, fmt.Errorf("decode %s payload: %w", ev.EventType, err)
		}

		subjects := make([]string, 0, 4)
		if p.CustomerID != "" {
			subjects = append(subjects, p.CustomerID)
		}
		if p.AssigneeID != "" {
			subjects = append(subjects, p.AssigneeID)
		}
		subjects = append(subjects, roles.Get(ctx, "supervisor")...)

		return fanOut(dedup(subjects),
			"Order validated",
			fmt.Sprintf("Order %s was validated", ev.AggregateKey),
		), nil
	})

	reg.Register("OrderBlocked", func(ctx context.Context, ev model.OutboxEvent) ([]Intent, error) {
		var p struct {
			CustomerID string `json:"customer_id"`
			Reason     string `json:"reason"`
		}
		if err := json.Unmarshal(ev.Payload, &p); err != nil {
			return nil, fmt.Errorf("decode %s payload: %w", ev.EventType, err)
		}

		subjects := make([]string, 0, 4)
		if p.CustomerID != "" {
			subjects = append(subjects, p.CustomerID)
		}
		subjects = append(subjects, roles.Get(ctx, "supervisor")...)

		body := fmt.Sprintf("Order %s was blocked", ev.AggregateKey)
		if p.Reason != "" {
			body += ": " + p.Reason
		}

		return fanOut(dedup(subjects), "Order blocked", body), nil
	})
}

// RegisterUserHandlers wires the user-service event types.
func RegisterUserHandlers(reg *Registry, roles *RoleCache) {
	reg.Register("UserRegistered", func(ctx context.Context, ev model.OutboxEvent) ([]Intent, error) {
		var p struct {
			Name string `json:"name"`
		}
		if err := json.Unmarshal(ev.Payload, &p); err != nil {
			return nil, fmt.Errorf("decode %s payload: %w", ev.EventType, err)
		}

		name := p.Name
		if name == "" {
			name = ev.AggregateKey
		}

		intents := []Intent{{
			Subject: ev.AggregateKey,
			Title:   "Welcome",
			Body:    fmt.Sprintf("Welcome aboard, %s", name),
		}}
		for _, admin := range dedup(roles.Get(ctx, "admin")) {
			if admin == ev.AggregateKey {
				continue
			}
			intents = append(intents, Intent{
				Subject: admin,
				Title:   "User registered",
				Body:    fmt.Sprintf("User %s registered", name),
			})
		}
		return intents, nil
	})
}

func fanOut(subjects []string, title, body string) []Intent {
	intents := make([]Intent, 0, len(subjects))
	for _, s := range subjects {
		intents = append(intents, Intent{Subject: s, Title: title, Body: body})
	}
	return intents
}

// dedup keeps first occurrences, preserving order.
func dedup(subjects []string) []string {
	seen := make(map[string]struct{}, len(subjects))
	out := make([]string, 0, len(subjects))
	for _, s := range subjects {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}
