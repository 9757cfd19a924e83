package syncengine

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/TungSeven30/henrii-sub000/internal/logging"
	"github.com/TungSeven30/henrii-sub000/internal/models"
	"github.com/TungSeven30/henrii-sub000/internal/queue"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 5, 4, 7, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type manualTicker struct {
	ch      chan time.Time
	stopped atomic.Bool
}

func (m *manualTicker) C() <-chan time.Time { return m.ch }
func (m *manualTicker) Stop()               { m.stopped.Store(true) }

// scriptedSender answers with respond and records the ids it was sent.
type scriptedSender struct {
	mu      sync.Mutex
	sent    []string
	respond func(m models.QueuedMutation) (int, error)
}

func (s *scriptedSender) Send(_ context.Context, m models.QueuedMutation) (int, error) {
	s.mu.Lock()
	s.sent = append(s.sent, m.ID)
	respond := s.respond
	s.mu.Unlock()
	return respond(m)
}

func (s *scriptedSender) setRespond(fn func(m models.QueuedMutation) (int, error)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.respond = fn
}

func (s *scriptedSender) sentIDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.sent...)
}

func status(code int) func(models.QueuedMutation) (int, error) {
	return func(models.QueuedMutation) (int, error) { return code, nil }
}

var errOffline = errors.New("dial tcp 127.0.0.1:8090: connect: connection refused")

func offline(models.QueuedMutation) (int, error) { return 0, errOffline }

type fixture struct {
	queue     queue.Store
	sender    *scriptedSender
	clock     *fakeClock
	refreshes atomic.Int32
	engine    *Engine
}

func newFixture(t *testing.T, respond func(models.QueuedMutation) (int, error)) *fixture {
	t.Helper()
	f := &fixture{
		queue:  queue.NewMemoryStore(),
		sender: &scriptedSender{respond: respond},
		clock:  newFakeClock(),
	}
	e, err := New(Options{
		Queue:  f.queue,
		Sender: f.sender,
		Refresher: RefresherFunc(func(context.Context) error {
			f.refreshes.Add(1)
			return nil
		}),
		Clock: f.clock,
		Log:   logging.Discard(),
	})
	require.NoError(t, err)
	f.engine = e
	return f
}

func (f *fixture) enqueue(t *testing.T, body map[string]any) models.QueuedMutation {
	t.Helper()
	p, err := queue.NewLogPayload(body)
	require.NoError(t, err)
	m, err := f.queue.EnqueueEvent(context.Background(), p)
	require.NoError(t, err)
	return m
}

func TestNewRequiresQueueAndSender(t *testing.T) {
	_, err := New(Options{Sender: &scriptedSender{}})
	assert.Error(t, err)
	_, err = New(Options{Queue: queue.NewMemoryStore()})
	assert.Error(t, err)
}

func TestScenarioOfflineBottleFeedingReplays(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, offline)
	f.enqueue(t, map[string]any{"type": "feeding", "feeding_type": "bottle", "amount_ml": 120, "clientUuid": "cu-1"})

	res := f.engine.SyncNow(ctx, TriggerTimer)
	assert.Equal(t, 1, res.Attempted)
	assert.Equal(t, 1, res.Retrying)
	assert.Equal(t, 1, res.Remaining)
	assert.ErrorIs(t, res.Err, errOffline)
	assert.Equal(t, 1, f.engine.Status(ctx).Pending)

	f.sender.setRespond(status(http.StatusOK))
	f.clock.Advance(2 * time.Second)
	res = f.engine.SyncNow(ctx, TriggerOnline)
	assert.Equal(t, 1, res.Succeeded)
	assert.Equal(t, 0, res.Remaining)
	assert.True(t, res.Refreshed)

	st := f.engine.Status(ctx)
	assert.Equal(t, 0, st.Pending)
	assert.Equal(t, 0, st.Stuck)
	assert.Empty(t, st.LastError)
	assert.Equal(t, f.clock.Now(), st.LastSuccessAt)
}

func TestEntryInCooldownIsSkipped(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, status(http.StatusServiceUnavailable))
	m := f.enqueue(t, map[string]any{"n": 1})

	require.Equal(t, 1, f.engine.SyncNow(ctx, TriggerTimer).Attempted)
	assert.Equal(t, PhaseScheduled, f.engine.EntryState(m.ID).Phase)

	f.clock.Advance(time.Second)
	assert.Equal(t, 0, f.engine.SyncNow(ctx, TriggerFocus).Attempted)

	f.clock.Advance(time.Second)
	assert.Equal(t, 1, f.engine.SyncNow(ctx, TriggerVisible).Attempted)
	assert.Equal(t, 2, f.engine.EntryState(m.ID).Attempts)
}

func TestEntryStuckAfterFiveFailuresStaysQueued(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, status(http.StatusTooManyRequests))
	m := f.enqueue(t, map[string]any{"n": 1})

	for i := 0; i < 5; i++ {
		res := f.engine.SyncNow(ctx, TriggerTimer)
		require.Equal(t, 1, res.Attempted, "pass %d", i)
		f.clock.Advance(time.Minute)
	}
	assert.Equal(t, Stuck(5), f.engine.EntryState(m.ID))

	f.clock.Advance(time.Hour)
	res := f.engine.SyncNow(ctx, TriggerManual)
	assert.Equal(t, 0, res.Attempted)
	assert.Equal(t, 1, res.Stuck)
	assert.Equal(t, 1, res.Remaining)
	assert.Len(t, f.sender.sentIDs(), 5)

	st := f.engine.Status(ctx)
	assert.Equal(t, 1, st.Pending)
	assert.Equal(t, 1, st.Stuck)
}

func TestPermanentFailureIsRemoved(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, status(http.StatusUnprocessableEntity))
	f.enqueue(t, map[string]any{"n": 1})

	res := f.engine.SyncNow(ctx, TriggerTimer)
	assert.Equal(t, 1, res.Dropped)
	assert.Equal(t, 0, res.Remaining)
	assert.False(t, res.Refreshed)
	assert.Equal(t, int32(0), f.refreshes.Load())
}

func TestPassIsFIFOAndContinuesPastFailures(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	a := f.enqueue(t, map[string]any{"n": 1})
	b := f.enqueue(t, map[string]any{"n": 2})
	c := f.enqueue(t, map[string]any{"n": 3})
	f.sender.setRespond(func(m models.QueuedMutation) (int, error) {
		if m.ID == b.ID {
			return http.StatusInternalServerError, nil
		}
		return http.StatusOK, nil
	})

	res := f.engine.SyncNow(ctx, TriggerManual)
	assert.Equal(t, []string{a.ID, b.ID, c.ID}, f.sender.sentIDs())
	assert.Equal(t, 2, res.Succeeded)
	assert.Equal(t, 1, res.Retrying)

	left, err := f.queue.ListQueuedEvents(ctx)
	require.NoError(t, err)
	require.Len(t, left, 1)
	assert.Equal(t, b.ID, left[0].ID)
}

func TestConcurrentTriggerIsNoop(t *testing.T) {
	ctx := context.Background()
	entered := make(chan struct{})
	release := make(chan struct{})
	f := newFixture(t, func(models.QueuedMutation) (int, error) {
		close(entered)
		<-release
		return http.StatusOK, nil
	})
	f.enqueue(t, map[string]any{"n": 1})

	done := make(chan PassResult)
	go func() { done <- f.engine.SyncNow(ctx, TriggerTimer) }()
	<-entered

	assert.True(t, f.engine.Status(ctx).InFlight)
	second := f.engine.SyncNow(ctx, TriggerOnline)
	assert.True(t, second.Skipped)
	assert.Equal(t, 0, second.Attempted)
	f.engine.Notify(TriggerFocus)

	close(release)
	first := <-done
	assert.Equal(t, 1, first.Succeeded)
	assert.Len(t, f.sender.sentIDs(), 1)
	assert.Len(t, f.engine.triggers, 0)
}

func TestRefreshIsDebouncedUnlessOnline(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, status(http.StatusOK))

	f.enqueue(t, map[string]any{"n": 1})
	assert.True(t, f.engine.SyncNow(ctx, TriggerTimer).Refreshed)

	f.clock.Advance(2 * time.Second)
	f.enqueue(t, map[string]any{"n": 2})
	assert.False(t, f.engine.SyncNow(ctx, TriggerTimer).Refreshed)

	f.enqueue(t, map[string]any{"n": 3})
	assert.True(t, f.engine.SyncNow(ctx, TriggerOnline).Refreshed)

	f.clock.Advance(5 * time.Second)
	f.enqueue(t, map[string]any{"n": 4})
	assert.True(t, f.engine.SyncNow(ctx, TriggerTimer).Refreshed)
	assert.Equal(t, int32(3), f.refreshes.Load())

	assert.False(t, f.engine.SyncNow(ctx, TriggerTimer).Refreshed, "nothing replayed")
}

func TestRemovedEntriesForgetRetryState(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, status(http.StatusBadGateway))
	m := f.enqueue(t, map[string]any{"n": 1})
	f.engine.SyncNow(ctx, TriggerTimer)
	require.Equal(t, 1, f.engine.EntryState(m.ID).Attempts)

	require.NoError(t, f.queue.RemoveQueuedEvent(ctx, m.ID))
	f.engine.SyncNow(ctx, TriggerTimer)
	assert.Equal(t, Pending(), f.engine.EntryState(m.ID))
}

func TestStartRunsOnTickAndStopTearsDown(t *testing.T) {
	ticker := &manualTicker{ch: make(chan time.Time)}
	sent := make(chan string, 4)
	f := newFixture(t, func(m models.QueuedMutation) (int, error) {
		sent <- m.ID
		return http.StatusOK, nil
	})
	f.engine.newTicker = func(d time.Duration) Ticker {
		assert.Equal(t, DefaultInterval, d)
		return ticker
	}
	m := f.enqueue(t, map[string]any{"n": 1})

	f.engine.Start(context.Background())
	f.engine.Start(context.Background())
	ticker.ch <- f.clock.Now()

	select {
	case id := <-sent:
		assert.Equal(t, m.ID, id)
	case <-time.After(2 * time.Second):
		t.Fatal("tick did not start a pass")
	}

	m2 := f.enqueue(t, map[string]any{"n": 2})
	require.Eventually(t, func() bool { return !f.engine.Status(context.Background()).InFlight }, time.Second, time.Millisecond)
	f.engine.Notify(TriggerOnline)
	select {
	case id := <-sent:
		assert.Equal(t, m2.ID, id)
	case <-time.After(2 * time.Second):
		t.Fatal("trigger did not start a pass")
	}

	f.engine.Stop()
	assert.True(t, ticker.stopped.Load())
	f.engine.Stop()
}
