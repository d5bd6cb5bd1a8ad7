package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"
)

// HTTPDirectory queries the user service for role membership:
// GET {base}/users/by-role/{role} returning a JSON array of users.
type HTTPDirectory struct {
	baseURL string
	client  *http.Client
}

func NewHTTPDirectory(baseURL string, timeoutMs int) *HTTPDirectory {
	if timeoutMs <= 0 {
		timeoutMs = 2000
	}
	return &HTTPDirectory{
		baseURL: baseURL,
		client:  &http.Client{Timeout: time.Duration(timeoutMs) * time.Millisecond},
	}
}

var _ Directory = (*HTTPDirectory)(nil)

func (d *HTTPDirectory) UsersByRole(ctx context.Context, role string) ([]string, error) {
	u := d.baseURL + "/users/by-role/" + url.PathEscape(role)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}

	res, err := d.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("directory: role=%s status=%d", role, res.StatusCode)
	}

	var users []struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(res.Body).Decode(&users); err != nil {
		return nil, fmt.Errorf("directory: decode: %w", err)
	}

	ids := make([]string, 0, len(users))
	for _, u := range users {
		if u.ID != "" {
			ids = append(ids, u.ID)
		}
	}
	return ids, nil
}
