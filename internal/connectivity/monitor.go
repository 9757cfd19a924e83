// Package connectivity tracks whether the server is reachable and reports
// the moment it comes back.
package connectivity

import (
	"context"
	"sync"
	"time"

	"github.com/TungSeven30/henrii-sub000/internal/logging"
)

const DefaultInterval = 10 * time.Second

type Prober interface {
	Health(ctx context.Context) error
}

type Monitor struct {
	prober   Prober
	interval time.Duration
	onOnline func()
	log      *logging.Logger

	mu     sync.Mutex
	online bool
}

// New starts out assuming the server is reachable. onOnline runs on every
// offline to online transition.
func New(prober Prober, interval time.Duration, onOnline func(), log *logging.Logger) *Monitor {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Monitor{prober: prober, interval: interval, onOnline: onOnline, log: log, online: true}
}

func (m *Monitor) Online() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.online
}

// MarkOffline records a failed request seen elsewhere so the next successful
// probe counts as a transition.
func (m *Monitor) MarkOffline() {
	m.set(false)
}

// Probe checks the server once and returns the new state.
func (m *Monitor) Probe(ctx context.Context) bool {
	err := m.prober.Health(ctx)
	if err != nil {
		m.log.Debugf("health probe failed: %v", err)
	}
	return m.set(err == nil)
}

func (m *Monitor) set(online bool) bool {
	m.mu.Lock()
	was := m.online
	m.online = online
	m.mu.Unlock()

	if was && !online {
		m.log.Warnf("server unreachable, writes will be queued")
	}
	if !was && online {
		m.log.Infof("server reachable again")
		if m.onOnline != nil {
			m.onOnline()
		}
	}
	return online
}

// Run probes on the interval until ctx is done.
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	m.Probe(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Probe(ctx)
		}
	}
}
