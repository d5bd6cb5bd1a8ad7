package worker

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/jmehdipour/event-relay/internal/model"
	"github.com/jmehdipour/event-relay/internal/notify"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sinkCall struct {
	subject, origin, eventID, title, body string
}

type fakeSink struct {
	calls      []sinkCall
	failOn     string // subject id that errors
	duplicates map[string]bool
}

func (f *fakeSink) CreateIfAbsent(ctx context.Context, subjectID, originService, originEventID, title, body string) (*model.Notification, bool, error) {
	f.calls = append(f.calls, sinkCall{subjectID, originService, originEventID, title, body})
	if subjectID == f.failOn {
		return nil, false, errors.New("insert failed")
	}
	if f.duplicates[subjectID] {
		return &model.Notification{ID: "existing", SubjectID: subjectID}, false, nil
	}
	return &model.Notification{ID: "new", SubjectID: subjectID}, true, nil
}

func peerEvent(eventType string, payload string) model.OutboxEvent {
	return model.OutboxEvent{
		ID:           "01PEEREVENT0000000000000AA",
		Aggregate:    "order",
		EventType:    eventType,
		AggregateKey: "ord-9",
		Payload:      json.RawMessage(payload),
		CreatedAt:    time.Now().UTC(),
	}
}

func newTestNotifier(reg *notify.Registry, sink notify.Sink) *Notifier {
	return NewNotifier(nil, nil, reg, sink, "order", nil)
}

func TestNotifierHandleRowFansOut(t *testing.T) {
	reg := notify.NewRegistry()
	reg.Register("OrderValidated", func(ctx context.Context, ev model.OutboxEvent) ([]notify.Intent, error) {
		return []notify.Intent{
			{Subject: "u-customer-1", Title: "Order validated", Body: "Order ord-9 was validated"},
			{Subject: "u-supervisor-1", Title: "Order validated", Body: "Order ord-9 was validated"},
		}, nil
	})
	sink := &fakeSink{}
	n := newTestNotifier(reg, sink)

	err := n.handleRow(context.Background(), peerEvent("OrderValidated", `{}`))
	require.NoError(t, err)

	require.Len(t, sink.calls, 2)
	assert.Equal(t, "u-customer-1", sink.calls[0].subject)
	assert.Equal(t, "order", sink.calls[0].origin)
	assert.Equal(t, "01PEEREVENT0000000000000AA", sink.calls[0].eventID)
	assert.Equal(t, "u-supervisor-1", sink.calls[1].subject)
}

func TestNotifierHandleRowUnknownEventTypeIsNoop(t *testing.T) {
	sink := &fakeSink{}
	n := newTestNotifier(notify.NewRegistry(), sink)

	err := n.handleRow(context.Background(), peerEvent("SomethingElse", `{}`))
	require.NoError(t, err)
	assert.Empty(t, sink.calls)
}

func TestNotifierHandleRowDispatchErrorPropagates(t *testing.T) {
	reg := notify.NewRegistry()
	reg.Register("OrderValidated", func(ctx context.Context, ev model.OutboxEvent) ([]notify.Intent, error) {
		return nil, errors.New("bad payload")
	})
	n := newTestNotifier(reg, &fakeSink{})

	err := n.handleRow(context.Background(), peerEvent("OrderValidated", `{`))
	require.Error(t, err)
}

func TestNotifierHandleRowSinkErrorDoesNotStopFanOut(t *testing.T) {
	reg := notify.NewRegistry()
	reg.Register("OrderValidated", func(ctx context.Context, ev model.OutboxEvent) ([]notify.Intent, error) {
		return []notify.Intent{
			{Subject: "u-1", Title: "t", Body: "b"},
			{Subject: "u-2", Title: "t", Body: "b"},
			{Subject: "u-3", Title: "t", Body: "b"},
		}, nil
	})
	sink := &fakeSink{failOn: "u-2"}
	n := newTestNotifier(reg, sink)

	err := n.handleRow(context.Background(), peerEvent("OrderValidated", `{}`))
	require.Error(t, err, "first sink error is reported so attempts get recorded")
	assert.Len(t, sink.calls, 3, "remaining subjects are still attempted")
}

func TestNotifierHandleRowDuplicateIsNotAnError(t *testing.T) {
	reg := notify.NewRegistry()
	reg.Register("OrderValidated", func(ctx context.Context, ev model.OutboxEvent) ([]notify.Intent, error) {
		return []notify.Intent{{Subject: "u-1", Title: "t", Body: "b"}}, nil
	})
	sink := &fakeSink{duplicates: map[string]bool{"u-1": true}}
	n := newTestNotifier(reg, sink)

	err := n.handleRow(context.Background(), peerEvent("OrderValidated", `{}`))
	require.NoError(t, err)
}
