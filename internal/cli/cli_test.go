package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TungSeven30/henrii-sub000/internal/config"
	"github.com/TungSeven30/henrii-sub000/internal/logging"
	"github.com/TungSeven30/henrii-sub000/internal/models"
	"github.com/TungSeven30/henrii-sub000/internal/recorder"
)

type harness struct {
	t       *testing.T
	dir     string
	baseURL string
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	gin.SetMode(gin.TestMode)
	dir := t.TempDir()
	t.Setenv("HENRII_CONFIG", "")
	t.Setenv("HENRII_DATABASE_URL", filepath.Join(dir, "server.db"))
	t.Setenv("HENRII_QUEUE_DSN", "sqlite://"+filepath.Join(dir, "queue.db"))
	t.Setenv("HENRII_FLAGS_DSN", "sqlite://"+filepath.Join(dir, "flags.db"))
	t.Setenv("HENRII_REQUEST_TIMEOUT_SECONDS", "5")
	return &harness{t: t, dir: dir}
}

// startServer runs the real router over a temp SQLite database.
func (h *harness) startServer() {
	h.t.Helper()
	cfg, err := config.Load()
	require.NoError(h.t, err)
	srv, d, err := buildServer(context.Background(), cfg.Server, logging.Discard())
	require.NoError(h.t, err)
	ts := httptest.NewServer(srv.Handler)
	h.t.Cleanup(func() {
		ts.Close()
		_ = d.Close()
	})
	h.baseURL = ts.URL
}

// unreachable points the client at a port nothing listens on.
func (h *harness) unreachable() {
	ts := httptest.NewServer(nil)
	h.baseURL = ts.URL
	ts.Close()
}

func (h *harness) run(args ...string) (string, error) {
	h.t.Helper()
	opts := &RootOptions{loadConfig: func() (config.Config, error) {
		cfg, err := config.Load()
		cfg.Sync.BaseURL = h.baseURL
		return cfg, err
	}}
	cmd := newRootCommand(opts)
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	cmd.SetArgs(append(args, "--log-level", "error"))
	err := cmd.Execute()
	return out.String(), err
}

func (h *harness) runJSON(v any, args ...string) {
	h.t.Helper()
	out, err := h.run(append(args, "--format", "json")...)
	require.NoError(h.t, err, out)
	require.NoError(h.t, json.Unmarshal([]byte(out), v), out)
}

func TestLogOnline(t *testing.T) {
	h := newHarness(t)
	h.startServer()

	var res recorder.LogResult
	h.runJSON(&res, "log", "feeding", "--field", "feeding_type=bottle", "--field", "amount_ml=120")
	assert.False(t, res.Queued)
	assert.NotEmpty(t, res.EventID)
	assert.Equal(t, "feedings", res.Table)

	var events []models.EventRecord
	h.runJSON(&events, "events", "--table", "feedings")
	require.Len(t, events, 1)
	assert.Equal(t, res.EventID, events[0].ID)
	assert.Equal(t, res.ClientUUID, events[0].ClientUUID)
}

func TestLogOfflineThenSync(t *testing.T) {
	h := newHarness(t)
	h.unreachable()

	var res recorder.LogResult
	h.runJSON(&res, "log", "diaper", "--field", "diaper_kind=wet", "--at", "2026-05-04T07:30:00Z")
	assert.True(t, res.Queued)
	assert.NotEmpty(t, res.QueueID)

	var count map[string]int
	h.runJSON(&count, "queue", "count")
	assert.Equal(t, 1, count["pending"])

	h.startServer()
	var report syncReport
	h.runJSON(&report, "sync")
	assert.Equal(t, 1, report.Pass.Succeeded)
	assert.Zero(t, report.Status.Pending)

	var events []models.EventRecord
	h.runJSON(&events, "events", "--table", "diaper")
	require.Len(t, events, 1)
	assert.Equal(t, res.ClientUUID, events[0].ClientUUID)
	assert.Equal(t, "2026-05-04T07:30:00Z", models.FormatTime(events[0].HappenedAt))
}

func TestDuplicateFlagsAcrossInvocations(t *testing.T) {
	h := newHarness(t)
	h.unreachable()

	_, err := h.run("log", "feeding", "--field", "feeding_type=breast", "--at", "2026-05-04T07:30:00Z")
	require.NoError(t, err)
	var second recorder.LogResult
	h.runJSON(&second, "log", "feeding", "--field", "feeding_type=breast", "--at", "2026-05-04T07:33:00Z")
	require.NotNil(t, second.Flag)

	var flags []models.DuplicateFlag
	h.runJSON(&flags, "flags", "list")
	require.Len(t, flags, 1)
	assert.Equal(t, second.ClientUUID, flags[0].EventID)

	out, err := h.run("flags", "resolve", flags[0].ID)
	require.NoError(t, err)
	assert.Contains(t, out, "resolved")

	var cleared map[string]int
	h.runJSON(&cleared, "flags", "clear")
	assert.Equal(t, 1, cleared["cleared"])
}

func TestQueueRemove(t *testing.T) {
	h := newHarness(t)
	h.unreachable()

	var res recorder.LogResult
	h.runJSON(&res, "log", "sleep")
	require.True(t, res.Queued)

	_, err := h.run("queue", "remove", res.QueueID)
	require.NoError(t, err)

	out, err := h.run("queue", "list")
	require.NoError(t, err)
	assert.Equal(t, "queue is empty", strings.TrimSpace(out))
}

func TestEditConflictAndList(t *testing.T) {
	h := newHarness(t)
	h.startServer()

	var logged recorder.LogResult
	h.runJSON(&logged, "log", "feeding", "--field", "feeding_type=bottle")

	var edited recorder.MutationResult
	h.runJSON(&edited, "edit", "feedings", logged.EventID, "--set", "amount_ml=90")
	require.NotNil(t, edited.Response)
	require.NotEmpty(t, edited.Response.UpdatedAt)

	_, err := h.run("edit", "feedings", logged.EventID, "--set", "amount_ml=100", "--expected", "2020-01-01T00:00:00Z")
	require.Error(t, err)

	var conflicts struct {
		MutationConflicts []models.MutationConflict `json:"mutation_conflicts"`
	}
	h.runJSON(&conflicts, "conflicts")
	require.Len(t, conflicts.MutationConflicts, 1)
	assert.Equal(t, logged.EventID, conflicts.MutationConflicts[0].EventID)
}

func TestInvalidFormat(t *testing.T) {
	h := newHarness(t)
	_, err := h.run("queue", "count", "--format", "yaml")
	require.Error(t, err)
}
