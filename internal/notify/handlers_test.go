package notify

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/jmehdipour/event-relay/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func orderEvent(eventType, payload string) model.OutboxEvent {
	return model.OutboxEvent{
		ID:           "01HANDLERSEVENT000000000AA",
		Aggregate:    "order",
		EventType:    eventType,
		AggregateKey: "ord-7",
		Payload:      json.RawMessage(payload),
		CreatedAt:    time.Now().UTC(),
	}
}

func rolesWith(t *testing.T, byRole map[string][]string) *RoleCache {
	t.Helper()
	return NewRoleCache(roleFunc(func(ctx context.Context, role string) ([]string, error) {
		return byRole[role], nil
	}), time.Minute)
}

type roleFunc func(ctx context.Context, role string) ([]string, error)

func (f roleFunc) UsersByRole(ctx context.Context, role string) ([]string, error) {
	return f(ctx, role)
}

func subjectsOf(intents []Intent) []string {
	out := make([]string, 0, len(intents))
	for _, it := range intents {
		out = append(out, it.Subject)
	}
	return out
}

func TestOrderValidatedFansOutToCustomerAssigneeAndSupervisors(t *testing.T) {
	reg := NewRegistry()
	RegisterOrderHandlers(reg, rolesWith(t, map[string][]string{
		"supervisor": {"u-supervisor-1", "u-supervisor-2"},
	}))

	intents, err := reg.Dispatch(context.Background(),
		orderEvent("OrderValidated", `{"customer_id":"u-customer-1","assignee_id":"u-courier-1"}`))
	require.NoError(t, err)

	assert.Equal(t,
		[]string{"u-customer-1", "u-courier-1", "u-supervisor-1", "u-supervisor-2"},
		subjectsOf(intents))
	for _, it := range intents {
		assert.Equal(t, "Order validated", it.Title)
		assert.Contains(t, it.Body, "ord-7")
	}
}

func TestOrderValidatedDeduplicatesOverlappingSubjects(t *testing.T) {
	reg := NewRegistry()
	RegisterOrderHandlers(reg, rolesWith(t, map[string][]string{
		"supervisor": {"u-courier-1", "u-supervisor-1"},
	}))

	// the assignee is also a supervisor: one intent, not two
	intents, err := reg.Dispatch(context.Background(),
		orderEvent("OrderValidated", `{"customer_id":"u-customer-1","assignee_id":"u-courier-1"}`))
	require.NoError(t, err)
	assert.Equal(t, []string{"u-customer-1", "u-courier-1", "u-supervisor-1"}, subjectsOf(intents))
}

func TestOrderValidatedWithoutAssignee(t *testing.T) {
	reg := NewRegistry()
	RegisterOrderHandlers(reg, rolesWith(t, map[string][]string{
		"supervisor": {"u-supervisor-1"},
	}))

	intents, err := reg.Dispatch(context.Background(),
		orderEvent("OrderValidated", `{"customer_id":"u-customer-1"}`))
	require.NoError(t, err)
	assert.Equal(t, []string{"u-customer-1", "u-supervisor-1"}, subjectsOf(intents))
}

func TestOrderBlockedIncludesReason(t *testing.T) {
	reg := NewRegistry()
	RegisterOrderHandlers(reg, rolesWith(t, map[string][]string{
		"supervisor": {"u-supervisor-1"},
	}))

	intents, err := reg.Dispatch(context.Background(),
		orderEvent("OrderBlocked", `{"customer_id":"u-customer-1","reason":"undeliverable event OrderValidated"}`))
	require.NoError(t, err)

	require.NotEmpty(t, intents)
	assert.Equal(t, "Order blocked", intents[0].Title)
	assert.Contains(t, intents[0].Body, "undeliverable event OrderValidated")
}

func TestOrderHandlerRejectsMalformedPayload(t *testing.T) {
	reg := NewRegistry()
	RegisterOrderHandlers(reg, rolesWith(t, nil))

	_, err := reg.Dispatch(context.Background(), orderEvent("OrderValidated", `not json`))
	require.Error(t, err)
}

func TestUserRegisteredWelcomesAndNotifiesAdmins(t *testing.T) {
	reg := NewRegistry()
	RegisterUserHandlers(reg, rolesWith(t, map[string][]string{
		"admin": {"u-admin-1", "u-admin-2"},
	}))

	ev := model.OutboxEvent{
		ID:           "01HANDLERSEVENT000000000AB",
		Aggregate:    "user",
		EventType:    "UserRegistered",
		AggregateKey: "u-new-1",
		Payload:      json.RawMessage(`{"name":"Dana"}`),
	}

	intents, err := reg.Dispatch(context.Background(), ev)
	require.NoError(t, err)
	require.Len(t, intents, 3)

	assert.Equal(t, "u-new-1", intents[0].Subject)
	assert.Equal(t, "Welcome", intents[0].Title)
	assert.Contains(t, intents[0].Body, "Dana")
	assert.Equal(t, []string{"u-new-1", "u-admin-1", "u-admin-2"}, subjectsOf(intents))
}

func TestUserRegisteredSkipsSelfAdmin(t *testing.T) {
	reg := NewRegistry()
	RegisterUserHandlers(reg, rolesWith(t, map[string][]string{
		"admin": {"u-admin-1"},
	}))

	ev := model.OutboxEvent{
		ID:           "01HANDLERSEVENT000000000AC",
		Aggregate:    "user",
		EventType:    "UserRegistered",
		AggregateKey: "u-admin-1",
		Payload:      json.RawMessage(`{"name":"Root"}`),
	}

	intents, err := reg.Dispatch(context.Background(), ev)
	require.NoError(t, err)
	require.Len(t, intents, 1, "the new admin only gets the welcome, not a self-notification")
	assert.Equal(t, "Welcome", intents[0].Title)
}

func TestDispatchUnknownEventType(t *testing.T) {
	reg := NewRegistry()
	RegisterOrderHandlers(reg, rolesWith(t, nil))

	intents, err := reg.Dispatch(context.Background(), orderEvent("OrderShipped", `{}`))
	require.NoError(t, err)
	assert.Nil(t, intents)
}
