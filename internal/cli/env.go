package cli

import (
	"fmt"
	"strings"

	"github.com/TungSeven30/henrii-sub000/internal/client"
	"github.com/TungSeven30/henrii-sub000/internal/config"
	"github.com/TungSeven30/henrii-sub000/internal/dupflags"
	"github.com/TungSeven30/henrii-sub000/internal/queue"
	"github.com/TungSeven30/henrii-sub000/internal/syncengine"
)

// clientEnv is the local state a client command works against.
type clientEnv struct {
	api   *client.Client
	queue queue.Store
	flags dupflags.Store
}

func openClientEnv(cfg config.SyncConfig) (*clientEnv, error) {
	q, err := queue.Open(cfg.QueueDSN)
	if err != nil {
		return nil, fmt.Errorf("open queue: %w", err)
	}
	flags, err := dupflags.Open(cfg.FlagsDSN)
	if err != nil {
		_ = q.Close()
		return nil, fmt.Errorf("open flags: %w", err)
	}
	return &clientEnv{api: newAPI(cfg), queue: q, flags: flags}, nil
}

func newAPI(cfg config.SyncConfig) *client.Client {
	return client.NewClient(client.NewHTTPClient(cfg.RequestTimeout()), cfg.BaseURL, cfg.Token, cfg.UserID, cfg.BabyID)
}

func (e *clientEnv) Close() error {
	qErr := e.queue.Close()
	fErr := e.flags.Close()
	if qErr != nil {
		return qErr
	}
	return fErr
}

func enginePolicy(cfg config.SyncConfig) syncengine.Policy {
	return syncengine.Policy{
		BaseDelay:   cfg.BackoffBase(),
		MaxDelay:    cfg.BackoffMax(),
		MaxAttempts: cfg.MaxAttempts,
	}
}

// parseAssignments turns repeated key=value flags into a field map. Values
// stay strings; the server coerces them per field.
func parseAssignments(pairs []string) (map[string]any, error) {
	out := make(map[string]any, len(pairs))
	for _, p := range pairs {
		k, v, ok := strings.Cut(p, "=")
		k = strings.TrimSpace(k)
		if !ok || k == "" {
			return nil, fmt.Errorf("invalid field %q: want key=value", p)
		}
		out[k] = v
	}
	return out, nil
}
