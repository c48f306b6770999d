package metrics

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Iron-Ham/roster/internal/event"
)

func TestServer_Metrics(t *testing.T) {
	c := NewCollector()
	c.Observe(event.NewTaskAddedEvent("T1", "x"))
	srv := httptest.NewServer(NewServer(c, nil, nil).Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "roster_tasks_added_total 1")
}

func TestServer_Healthz(t *testing.T) {
	tests := []struct {
		name   string
		health HealthCheck
		code   int
		status string
	}{
		{name: "no check", health: nil, code: http.StatusOK, status: "ok"},
		{name: "healthy", health: func(context.Context) error { return nil }, code: http.StatusOK, status: "ok"},
		{
			name:   "store down",
			health: func(context.Context) error { return errors.New("store unavailable") },
			code:   http.StatusServiceUnavailable,
			status: "unavailable",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(NewServer(NewCollector(), tt.health, nil).Handler())
			defer srv.Close()

			resp, err := http.Get(srv.URL + "/healthz")
			require.NoError(t, err)
			defer resp.Body.Close()

			var body map[string]string
			require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
			assert.Equal(t, tt.code, resp.StatusCode)
			assert.Equal(t, tt.status, body["status"])
		})
	}
}

func TestServer_StartShutdown(t *testing.T) {
	s := NewServer(NewCollector(), nil, nil)
	assert.Empty(t, s.Addr())
	require.NoError(t, s.Start("127.0.0.1:0"))

	resp, err := http.Get("http://" + s.Addr() + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, s.Shutdown(ctx))
}
