package client

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/TungSeven30/henrii-sub000/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLogEventSendsScopeHeadersAndFlatBody(t *testing.T) {
	var got map[string]any
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, models.EndpointLog, r.URL.Path)
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		assert.Equal(t, "alice", r.Header.Get("X-User-ID"))
		assert.Equal(t, "b1", r.Header.Get("X-Baby-ID"))
		_ = json.NewDecoder(r.Body).Decode(&got)
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": true, "event_id": "e1", "event_table": "feedings"})
	}))
	defer ts.Close()

	c := NewClient(ts.Client(), ts.URL+"/", "tok", "alice", "b1")
	res, err := c.LogEvent(context.Background(), LogRequest{
		Type: "feeding", ClientUUID: "cu-1", Fields: map[string]any{"feeding_type": "bottle"},
	})
	require.NoError(t, err)
	assert.Equal(t, "e1", res.EventID)
	assert.Equal(t, "feeding", got["type"])
	assert.Equal(t, "cu-1", got["clientUuid"])
	assert.Equal(t, "bottle", got["feeding_type"])
	_, hasHappened := got["happenedAt"]
	assert.False(t, hasHappened)
}

func TestMutateConflictAndErrors(t *testing.T) {
	status := http.StatusConflict
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
		switch status {
		case http.StatusConflict:
			_ = json.NewEncoder(w).Encode(map[string]any{"conflict": true, "conflict_id": "mc-1", "current_updated_at": "2026-01-01T00:00:00Z"})
		case http.StatusNotFound:
			_ = json.NewEncoder(w).Encode(map[string]any{"error": "not_found"})
		default:
			_ = json.NewEncoder(w).Encode(map[string]any{"error": "validation_failed", "detail": "no valid fields"})
		}
	}))
	defer ts.Close()
	c := NewClient(ts.Client(), ts.URL, "", "", "")
	req := MutationRequest{Table: "feedings", ID: "e1", Operation: models.OperationUpdate, Patch: map[string]any{"amount_ml": 1}}

	_, err := c.Mutate(context.Background(), req)
	var conflict *ConflictError
	require.True(t, errors.As(err, &conflict))
	assert.Equal(t, "mc-1", conflict.ConflictID)
	assert.False(t, IsConnectivityError(err))

	status = http.StatusNotFound
	_, err = c.Mutate(context.Background(), req)
	assert.ErrorIs(t, err, ErrNotFound)

	status = http.StatusUnprocessableEntity
	_, err = c.Mutate(context.Background(), req)
	var httpErr *HTTPError
	require.True(t, errors.As(err, &httpErr))
	assert.Equal(t, http.StatusUnprocessableEntity, httpErr.StatusCode)
	assert.Contains(t, httpErr.Error(), "no valid fields")
}

func TestSendReportsStatusWithoutError(t *testing.T) {
	var body string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		body = string(b)
		assert.Equal(t, models.EndpointMutate, r.URL.Path)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer ts.Close()

	c := NewClient(ts.Client(), ts.URL, "", "u", "b")
	code, err := c.Send(context.Background(), models.QueuedMutation{
		ID: "q1", Kind: models.KindMutate, Body: json.RawMessage(`{"id":"e1"}`),
	})
	require.NoError(t, err)
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Equal(t, `{"id":"e1"}`, body)
}

func TestTransportFailureIsConnectivityError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := ts.URL
	ts.Close()

	c := NewClient(nil, url, "", "", "")
	err := c.Health(context.Background())
	require.Error(t, err)
	assert.True(t, IsConnectivityError(err))

	code, err := c.Send(context.Background(), models.QueuedMutation{Kind: models.KindLog, Body: json.RawMessage(`{}`)})
	assert.Equal(t, 0, code)
	assert.True(t, IsConnectivityError(err))
}
