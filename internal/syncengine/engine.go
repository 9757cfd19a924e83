// Package syncengine replays the local queue against the server. One Engine
// owns the retry bookkeeping of one queue for the lifetime of a session.
package syncengine

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/TungSeven30/henrii-sub000/internal/logging"
	"github.com/TungSeven30/henrii-sub000/internal/models"
	"github.com/TungSeven30/henrii-sub000/internal/queue"
	"golang.org/x/sync/semaphore"
)

type Trigger string

const (
	TriggerOnline  Trigger = "online"
	TriggerTimer   Trigger = "timer"
	TriggerFocus   Trigger = "focus"
	TriggerVisible Trigger = "visible"
	TriggerManual  Trigger = "manual"
)

const (
	DefaultInterval        = 15 * time.Second
	DefaultRefreshDebounce = 5 * time.Second
)

type Sender interface {
	Send(ctx context.Context, m models.QueuedMutation) (int, error)
}

// Refresher reloads server state after replayed writes landed.
type Refresher interface {
	Refresh(ctx context.Context) error
}

type RefresherFunc func(ctx context.Context) error

func (f RefresherFunc) Refresh(ctx context.Context) error { return f(ctx) }

type Options struct {
	Queue           queue.Store
	Sender          Sender
	Refresher       Refresher
	Policy          Policy
	Interval        time.Duration
	RefreshDebounce time.Duration
	Clock           Clock
	NewTicker       TickerFactory
	Log             *logging.Logger
}

type PassResult struct {
	Trigger   Trigger
	Skipped   bool
	Attempted int
	Succeeded int
	Dropped   int
	Retrying  int
	Stuck     int
	Remaining int
	Refreshed bool
	Err       error
}

// Status feeds the pending-sync indicator.
type Status struct {
	Pending       int       `json:"pending"`
	Stuck         int       `json:"stuck"`
	InFlight      bool      `json:"in_flight"`
	LastPassAt    time.Time `json:"last_pass_at"`
	LastSuccessAt time.Time `json:"last_success_at"`
	LastError     string    `json:"last_error,omitempty"`
}

type Engine struct {
	queue     queue.Store
	sender    Sender
	refresher Refresher
	policy    Policy
	interval  time.Duration
	debounce  time.Duration
	clock     Clock
	newTicker TickerFactory
	log       *logging.Logger

	guard    *semaphore.Weighted
	inFlight atomic.Bool
	triggers chan Trigger

	mu          sync.Mutex
	states      map[string]State
	lastRefresh time.Time
	status      Status
	cancel      context.CancelFunc
	done        chan struct{}
}

func New(opts Options) (*Engine, error) {
	if opts.Queue == nil {
		return nil, fmt.Errorf("syncengine: queue is required")
	}
	if opts.Sender == nil {
		return nil, fmt.Errorf("syncengine: sender is required")
	}
	e := &Engine{
		queue:     opts.Queue,
		sender:    opts.Sender,
		refresher: opts.Refresher,
		policy:    opts.Policy.withDefaults(),
		interval:  opts.Interval,
		debounce:  opts.RefreshDebounce,
		clock:     opts.Clock,
		newTicker: opts.NewTicker,
		log:       opts.Log,
		guard:     semaphore.NewWeighted(1),
		triggers:  make(chan Trigger, 1),
		states:    map[string]State{},
	}
	if e.interval <= 0 {
		e.interval = DefaultInterval
	}
	if e.debounce <= 0 {
		e.debounce = DefaultRefreshDebounce
	}
	if e.clock == nil {
		e.clock = realClock{}
	}
	if e.newTicker == nil {
		e.newTicker = newRealTicker
	}
	return e, nil
}

// Start runs the periodic timer and the trigger loop until ctx is done or
// Stop is called. Starting twice is a no-op.
func (e *Engine) Start(ctx context.Context) {
	e.mu.Lock()
	if e.cancel != nil {
		e.mu.Unlock()
		return
	}
	runCtx, cancel := context.WithCancel(ctx)
	e.cancel = cancel
	e.done = make(chan struct{})
	done := e.done
	e.mu.Unlock()

	go e.run(runCtx, done)
}

func (e *Engine) run(ctx context.Context, done chan struct{}) {
	defer close(done)
	ticker := e.newTicker(e.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C():
			e.SyncNow(ctx, TriggerTimer)
		case tr := <-e.triggers:
			e.SyncNow(ctx, tr)
		}
	}
}

// Stop cancels the timer loop and waits for it to exit.
func (e *Engine) Stop() {
	e.mu.Lock()
	cancel, done := e.cancel, e.done
	e.cancel, e.done = nil, nil
	e.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// Notify hands a trigger to the running loop. It is dropped when a pass is
// already in flight or another trigger is waiting.
func (e *Engine) Notify(tr Trigger) {
	if e.inFlight.Load() {
		return
	}
	select {
	case e.triggers <- tr:
	default:
	}
}

// SyncNow runs one replay pass on the calling goroutine. If a pass is
// already running it returns immediately with Skipped set.
func (e *Engine) SyncNow(ctx context.Context, tr Trigger) PassResult {
	if !e.guard.TryAcquire(1) {
		return PassResult{Trigger: tr, Skipped: true}
	}
	e.inFlight.Store(true)
	defer func() {
		e.inFlight.Store(false)
		e.guard.Release(1)
	}()

	res := e.pass(ctx, tr)
	e.finishPass(res)
	return res
}

func (e *Engine) pass(ctx context.Context, tr Trigger) PassResult {
	res := PassResult{Trigger: tr}
	entries, err := e.queue.ListQueuedEvents(ctx)
	if err != nil {
		res.Err = fmt.Errorf("list queue: %w", err)
		return res
	}
	e.pruneStates(entries)

	for _, entry := range entries {
		if ctx.Err() != nil {
			res.Err = ctx.Err()
			break
		}
		st := e.stateOf(entry.ID)
		if !st.Eligible(e.clock.Now()) {
			if st.Phase == PhaseStuck {
				res.Stuck++
			}
			continue
		}

		res.Attempted++
		code, sendErr := e.sender.Send(ctx, entry)
		next := Transition(st, Outcome{StatusCode: code, Err: sendErr}, e.clock.Now(), e.policy)
		entryLog := e.log.WithFields(map[string]any{"entry_id": entry.ID, "kind": string(entry.Kind), "status": code})

		switch next.Phase {
		case PhaseSucceeded, PhaseDropped:
			if err := e.queue.RemoveQueuedEvent(ctx, entry.ID); err != nil {
				entryLog.WithError(err).Errorf("remove replayed entry failed")
				res.Err = fmt.Errorf("remove %s: %w", entry.ID, err)
				continue
			}
			e.forget(entry.ID)
			if next.Phase == PhaseSucceeded {
				res.Succeeded++
				entryLog.Debugf("replayed")
			} else {
				res.Dropped++
				entryLog.Warnf("dropped after permanent failure: %s", next.Reason)
			}
		case PhaseStuck:
			e.setState(entry.ID, next)
			res.Stuck++
			entryLog.WithError(sendErr).Warnf("giving up after %d attempts", next.Attempts)
		default:
			e.setState(entry.ID, next)
			res.Retrying++
			if sendErr != nil {
				res.Err = sendErr
			} else {
				res.Err = fmt.Errorf("replay %s: status %d", entry.ID, code)
			}
			entryLog.WithError(sendErr).Infof("retry %d scheduled at %s", next.Attempts, next.NextAttemptAt.Format(time.RFC3339))
		}
	}

	if n, err := e.queue.CountQueuedEvents(ctx); err == nil {
		res.Remaining = n
	} else if res.Err == nil {
		res.Err = err
	}

	if res.Succeeded > 0 {
		res.Refreshed = e.requestRefresh(ctx, tr == TriggerOnline)
	}
	return res
}

// requestRefresh calls the refresher at most once per debounce window unless
// forced.
func (e *Engine) requestRefresh(ctx context.Context, force bool) bool {
	if e.refresher == nil {
		return false
	}
	now := e.clock.Now()
	e.mu.Lock()
	if !force && !e.lastRefresh.IsZero() && now.Sub(e.lastRefresh) < e.debounce {
		e.mu.Unlock()
		return false
	}
	e.lastRefresh = now
	e.mu.Unlock()

	if err := e.refresher.Refresh(ctx); err != nil {
		e.log.WithError(err).Warnf("refresh after replay failed")
	}
	return true
}

func (e *Engine) finishPass(res PassResult) {
	e.mu.Lock()
	defer e.mu.Unlock()
	now := e.clock.Now()
	e.status.LastPassAt = now
	e.status.Pending = res.Remaining
	e.status.Stuck = e.stuckLocked()
	if res.Succeeded > 0 {
		e.status.LastSuccessAt = now
	}
	if res.Err != nil {
		e.status.LastError = res.Err.Error()
	} else if res.Attempted > 0 {
		e.status.LastError = ""
	}
}

// Status returns the last known status with a fresh pending count.
func (e *Engine) Status(ctx context.Context) Status {
	n, err := e.queue.CountQueuedEvents(ctx)
	e.mu.Lock()
	defer e.mu.Unlock()
	if err == nil {
		e.status.Pending = n
	}
	out := e.status
	out.Stuck = e.stuckLocked()
	out.InFlight = e.inFlight.Load()
	return out
}

// EntryState exposes the replay state of one entry, Pending if unknown.
func (e *Engine) EntryState(id string) State {
	return e.stateOf(id)
}

func (e *Engine) stateOf(id string) State {
	e.mu.Lock()
	defer e.mu.Unlock()
	if st, ok := e.states[id]; ok {
		return st
	}
	return Pending()
}

func (e *Engine) setState(id string, st State) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.states[id] = st
}

func (e *Engine) forget(id string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.states, id)
}

// pruneStates drops bookkeeping for entries removed behind our back.
func (e *Engine) pruneStates(entries []models.QueuedMutation) {
	live := make(map[string]struct{}, len(entries))
	for _, m := range entries {
		live[m.ID] = struct{}{}
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	for id := range e.states {
		if _, ok := live[id]; !ok {
			delete(e.states, id)
		}
	}
}

func (e *Engine) stuckLocked() int {
	n := 0
	for _, st := range e.states {
		if st.Phase == PhaseStuck {
			n++
		}
	}
	return n
}
