package outbox

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/jmehdipour/event-relay/internal/model"
)

// ErrPeerUnavailable is returned without hitting the network when the
// breaker is open. Always transient.
var ErrPeerUnavailable = errors.New("peer unavailable (breaker open)")

// Transport delivers one event to a peer service. A nil return is a
// successful delivery; a *DeliveryError carries the peer's status code for
// classification, any other error is a network-level transient failure.
type Transport interface {
	Deliver(ctx context.Context, ev *model.OutboxEvent) error
}

// DeliveryError is a delivery rejected by the peer with an HTTP status.
type DeliveryError struct {
	Status int
	Body   string
}

func (e *DeliveryError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("peer rejected event: status=%d", e.Status)
	}
	return fmt.Sprintf("peer rejected event: status=%d body=%s", e.Status, e.Body)
}

// StatusOf extracts the peer status code from a delivery error.
func StatusOf(err error) (int, bool) {
	var de *DeliveryError
	if errors.As(err, &de) {
		return de.Status, true
	}
	return 0, false
}

// IsFatal reports whether a delivery failure can never succeed on retry:
// any 4xx except 429, with 409 (peer already has this fact) included.
func IsFatal(err error) bool {
	status, ok := StatusOf(err)
	if !ok {
		return false
	}
	if status == http.StatusConflict {
		return true
	}
	return status >= 400 && status < 500 && status != http.StatusTooManyRequests
}

// HTTPTransport POSTs events as JSON to a peer-service path, identified by
// a shared-secret service token. A micro circuit breaker sheds calls while
// the peer looks down.
type HTTPTransport struct {
	peer    string
	baseURL string
	path    string
	token   string
	origin  string
	client  *http.Client
	br      *MicroBreaker
}

func NewHTTPTransport(peer, baseURL, path, token, origin string, timeoutMs, failThreshold, openForMs int) *HTTPTransport {
	if timeoutMs <= 0 {
		timeoutMs = 3000
	}
	if failThreshold <= 0 {
		failThreshold = 3
	}
	if openForMs <= 0 {
		openForMs = 15000
	}

	return &HTTPTransport{
		peer:    peer,
		baseURL: baseURL,
		path:    path,
		token:   token,
		origin:  origin,
		client:  &http.Client{Timeout: time.Duration(timeoutMs) * time.Millisecond},
		br:      NewMicroBreaker(failThreshold, time.Duration(openForMs)*time.Millisecond),
	}
}

func (t *HTTPTransport) Peer() string { return t.peer }

func (t *HTTPTransport) Deliver(ctx context.Context, ev *model.OutboxEvent) error {
	if !t.br.TryAcquire() {
		return ErrPeerUnavailable
	}

	b, err := json.Marshal(ev)
	if err != nil {
		t.br.OnSuccess()
		return fmt.Errorf("marshal event: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.baseURL+t.path, bytes.NewReader(b))
	if err != nil {
		t.br.OnSuccess()
		return err
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Service-Token", t.token)
	req.Header.Set("X-Origin-Service", t.origin)

	res, err := t.client.Do(req)
	if err != nil {
		t.br.OnFailure()
		return err
	}
	defer res.Body.Close()

	if res.StatusCode/100 == 2 {
		t.br.OnSuccess()
		return nil
	}

	// A 4xx still means the peer is up; only 5xx feeds the breaker.
	if res.StatusCode >= 500 {
		t.br.OnFailure()
	} else {
		t.br.OnSuccess()
	}

	body, _ := io.ReadAll(io.LimitReader(res.Body, 512))
	return &DeliveryError{Status: res.StatusCode, Body: string(bytes.TrimSpace(body))}
}
