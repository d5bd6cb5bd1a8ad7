package notify

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPDirectoryUsersByRole(t *testing.T) {
	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[{"id":"u-supervisor-1","name":"Sam"},{"id":"u-supervisor-2"},{"id":""}]`))
	}))
	defer srv.Close()

	d := NewHTTPDirectory(srv.URL, 1000)
	ids, err := d.UsersByRole(context.Background(), "supervisor")
	require.NoError(t, err)

	assert.Equal(t, "/users/by-role/supervisor", gotPath)
	assert.Equal(t, []string{"u-supervisor-1", "u-supervisor-2"}, ids, "users without an id are dropped")
}

func TestHTTPDirectoryNon200IsAnError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	d := NewHTTPDirectory(srv.URL, 1000)
	_, err := d.UsersByRole(context.Background(), "supervisor")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status=500")
}

func TestHTTPDirectoryEscapesRole(t *testing.T) {
	var gotRaw string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotRaw = r.URL.EscapedPath()
		_, _ = w.Write([]byte(`[]`))
	}))
	defer srv.Close()

	d := NewHTTPDirectory(srv.URL, 1000)
	_, err := d.UsersByRole(context.Background(), "shift lead")
	require.NoError(t, err)
	assert.Equal(t, "/users/by-role/shift%20lead", gotRaw)
}
