package worker

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jmehdipour/event-relay/internal/model"
	"github.com/jmehdipour/event-relay/internal/outbox"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeOutbox is an in-memory OutboxRepository covering the relay's read and
// write paths.
type fakeOutbox struct {
	mu   sync.Mutex
	rows map[string]*model.OutboxEvent
	ord  []string

	listCalls      int
	listErr        error
	markErr        error
	recordErr      error
	recordFailures []string // ids in call order
}

func newFakeOutbox(rows ...*model.OutboxEvent) *fakeOutbox {
	f := &fakeOutbox{rows: map[string]*model.OutboxEvent{}}
	for _, r := range rows {
		f.rows[r.ID] = r
		f.ord = append(f.ord, r.ID)
	}
	return f
}

func (f *fakeOutbox) Insert(ctx context.Context, tx *sqlx.Tx, ev *model.OutboxEvent) error {
	return nil
}

func (f *fakeOutbox) ListPending(ctx context.Context, limit, maxAttempts int) ([]model.OutboxEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listCalls++
	if f.listErr != nil {
		return nil, f.listErr
	}
	var out []model.OutboxEvent
	for _, id := range f.ord {
		r := f.rows[id]
		if r.ProcessedAt == nil && r.Attempts < maxAttempts && len(out) < limit {
			out = append(out, *r)
		}
	}
	return out, nil
}

func (f *fakeOutbox) MarkDelivered(ctx context.Context, id string, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.markErr != nil {
		return f.markErr
	}
	r := f.rows[id]
	r.ProcessedAt = &at
	r.LastError = nil
	return nil
}

func (f *fakeOutbox) RecordFailure(ctx context.Context, id, diag string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.recordErr != nil {
		return f.recordErr
	}
	f.recordFailures = append(f.recordFailures, id)
	r := f.rows[id]
	r.Attempts++
	diag = model.TruncateError(diag)
	r.LastError = &diag
	return nil
}

func (f *fakeOutbox) MarkCompensated(ctx context.Context, tx *sqlx.Tx, id, diag string, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	r := f.rows[id]
	r.ProcessedAt = &at
	r.LastError = &diag
	return nil
}

func (f *fakeOutbox) GetByID(ctx context.Context, id string) (*model.OutboxEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.rows[id], nil
}

type fakeTransport struct {
	mu      sync.Mutex
	calls   int
	deliver func(call int, ev *model.OutboxEvent) error
	entered chan struct{} // closed on first call, when set
	blockOn chan struct{} // Deliver waits on this, when set
}

func (f *fakeTransport) Deliver(ctx context.Context, ev *model.OutboxEvent) error {
	f.mu.Lock()
	f.calls++
	call := f.calls
	entered, block := f.entered, f.blockOn
	f.mu.Unlock()

	if entered != nil && call == 1 {
		close(entered)
	}
	if block != nil {
		<-block
	}
	if f.deliver == nil {
		return nil
	}
	return f.deliver(call, ev)
}

type fakeCompensator struct {
	mu     sync.Mutex
	events []*model.OutboxEvent
	causes []error
	err    error
	outbox *fakeOutbox
}

func (f *fakeCompensator) Compensate(ctx context.Context, ev *model.OutboxEvent, cause error) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.events = append(f.events, ev)
	f.causes = append(f.causes, cause)
	if f.outbox != nil {
		diag, _ := json.Marshal(map[string]any{
			"message":             cause.Error(),
			"compensationApplied": true,
			"timestamp":           time.Now().UTC(),
		})
		_ = f.outbox.MarkCompensated(ctx, nil, ev.ID, string(diag), time.Now().UTC())
	}
	return nil
}

func pendingEvent(id string, attempts int) *model.OutboxEvent {
	return &model.OutboxEvent{
		ID:           id,
		Aggregate:    "order",
		EventType:    "OrderValidated",
		AggregateKey: "ord-" + id,
		Payload:      json.RawMessage(`{}`),
		Attempts:     attempts,
		CreatedAt:    time.Now().UTC(),
	}
}

func TestRelayTickDeliversPendingRow(t *testing.T) {
	repo := newFakeOutbox(pendingEvent("ev-1", 0))
	tr := &fakeTransport{}
	comp := &fakeCompensator{}
	r := NewRelay(repo, tr, comp, nil)

	require.NoError(t, r.Tick(context.Background()))

	row := repo.rows["ev-1"]
	require.NotNil(t, row.ProcessedAt)
	assert.Nil(t, row.LastError)
	assert.Equal(t, 0, row.Attempts)
	assert.Empty(t, repo.recordFailures)
	assert.Empty(t, comp.events)
}

func TestRelayTickTransientFailureLeavesRowPending(t *testing.T) {
	repo := newFakeOutbox(pendingEvent("ev-1", 0))
	tr := &fakeTransport{deliver: func(int, *model.OutboxEvent) error {
		return &outbox.DeliveryError{Status: 503, Body: "try later"}
	}}
	comp := &fakeCompensator{}
	r := NewRelay(repo, tr, comp, nil)

	require.NoError(t, r.Tick(context.Background()))

	row := repo.rows["ev-1"]
	assert.Nil(t, row.ProcessedAt)
	assert.Equal(t, 1, row.Attempts)
	require.NotNil(t, row.LastError)
	assert.Contains(t, *row.LastError, "503")
	assert.Empty(t, comp.events, "transient failures never compensate")
}

func TestRelayTickFatalStatusCompensatesImmediately(t *testing.T) {
	repo := newFakeOutbox(pendingEvent("ev-1", 0))
	tr := &fakeTransport{deliver: func(int, *model.OutboxEvent) error {
		return &outbox.DeliveryError{Status: 404, Body: "unknown event type"}
	}}
	comp := &fakeCompensator{outbox: repo}
	r := NewRelay(repo, tr, comp, nil)

	require.NoError(t, r.Tick(context.Background()))

	// the failed attempt is recorded first, then compensation closes the row
	require.Len(t, comp.events, 1)
	assert.Equal(t, 1, comp.events[0].Attempts)
	assert.Equal(t, []string{"ev-1"}, repo.recordFailures)

	row := repo.rows["ev-1"]
	require.NotNil(t, row.ProcessedAt)
	require.NotNil(t, row.LastError)
	assert.Contains(t, *row.LastError, `"compensationApplied":true`)
}

func TestRelayTickConflictIsFatal(t *testing.T) {
	repo := newFakeOutbox(pendingEvent("ev-1", 0))
	tr := &fakeTransport{deliver: func(int, *model.OutboxEvent) error {
		return &outbox.DeliveryError{Status: 409}
	}}
	comp := &fakeCompensator{outbox: repo}
	r := NewRelay(repo, tr, comp, nil)

	require.NoError(t, r.Tick(context.Background()))
	assert.Len(t, comp.events, 1)
}

func TestRelayRetriesThenSucceeds(t *testing.T) {
	repo := newFakeOutbox(pendingEvent("ev-1", 0))
	tr := &fakeTransport{deliver: func(call int, ev *model.OutboxEvent) error {
		if call <= 4 {
			return &outbox.DeliveryError{Status: 500}
		}
		return nil
	}}
	comp := &fakeCompensator{}
	r := NewRelay(repo, tr, comp, nil)

	ctx := context.Background()
	for i := 0; i < 5; i++ {
		require.NoError(t, r.Tick(ctx))
	}

	row := repo.rows["ev-1"]
	require.NotNil(t, row.ProcessedAt, "fifth attempt should deliver")
	assert.Equal(t, 4, row.Attempts, "success never increments attempts")
	assert.Nil(t, row.LastError)
	assert.Empty(t, comp.events)
}

func TestRelayCompensatesOnExhaustion(t *testing.T) {
	repo := newFakeOutbox(pendingEvent("ev-1", 0))
	tr := &fakeTransport{deliver: func(int, *model.OutboxEvent) error {
		return &outbox.DeliveryError{Status: 500}
	}}
	comp := &fakeCompensator{outbox: repo}
	r := NewRelay(repo, tr, comp, nil)
	r.MaxAttempts = 3

	ctx := context.Background()
	for i := 0; i < 5; i++ {
		require.NoError(t, r.Tick(ctx))
	}

	assert.Equal(t, 3, tr.calls, "delivery stops once attempts reach the cap")
	require.Len(t, comp.events, 1)
	assert.Equal(t, 3, comp.events[0].Attempts)
	require.NotNil(t, repo.rows["ev-1"].ProcessedAt)
}

func TestRelayCompensationFailureLeavesRowPending(t *testing.T) {
	repo := newFakeOutbox(pendingEvent("ev-1", 0))
	tr := &fakeTransport{deliver: func(int, *model.OutboxEvent) error {
		return &outbox.DeliveryError{Status: 400}
	}}
	comp := &fakeCompensator{err: errors.New("order row is gone")}
	r := NewRelay(repo, tr, comp, nil)

	require.NoError(t, r.Tick(context.Background()))

	row := repo.rows["ev-1"]
	assert.Nil(t, row.ProcessedAt, "row stays pending-with-error for manual remediation")
	assert.Equal(t, 1, row.Attempts)
	require.NotNil(t, row.LastError)
}

func TestRelayTickPerRowIsolation(t *testing.T) {
	repo := newFakeOutbox(pendingEvent("ev-1", 0), pendingEvent("ev-2", 0))
	tr := &fakeTransport{deliver: func(call int, ev *model.OutboxEvent) error {
		if ev.ID == "ev-1" {
			return errors.New("connection reset")
		}
		return nil
	}}
	comp := &fakeCompensator{}
	r := NewRelay(repo, tr, comp, nil)

	require.NoError(t, r.Tick(context.Background()))

	assert.Nil(t, repo.rows["ev-1"].ProcessedAt)
	assert.Equal(t, 1, repo.rows["ev-1"].Attempts)
	require.NotNil(t, repo.rows["ev-2"].ProcessedAt, "one bad row must not stop the batch")
}

func TestRelayTickSingleFlight(t *testing.T) {
	repo := newFakeOutbox(pendingEvent("ev-1", 0))
	entered := make(chan struct{})
	block := make(chan struct{})
	tr := &fakeTransport{entered: entered, blockOn: block}
	r := NewRelay(repo, tr, &fakeCompensator{}, nil)

	done := make(chan error, 1)
	go func() { done <- r.Tick(context.Background()) }()
	<-entered

	// overlapping tick is a no-op: no second list, no second delivery
	require.NoError(t, r.Tick(context.Background()))
	assert.Equal(t, 1, repo.listCalls)

	close(block)
	require.NoError(t, <-done)

	// guard is released afterwards
	require.NoError(t, r.Tick(context.Background()))
	assert.Equal(t, 2, repo.listCalls)
}

func TestRelayTickListErrorReleasesGuard(t *testing.T) {
	repo := newFakeOutbox()
	repo.listErr = errors.New("db gone")
	r := NewRelay(repo, &fakeTransport{}, &fakeCompensator{}, nil)

	require.Error(t, r.Tick(context.Background()))

	repo.listErr = nil
	require.NoError(t, r.Tick(context.Background()))
	assert.Equal(t, 2, repo.listCalls)
}
