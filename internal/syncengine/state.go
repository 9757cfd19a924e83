package syncengine

import (
	"fmt"
	"net/http"
	"time"
)

type Phase int

const (
	PhasePending Phase = iota
	PhaseScheduled
	PhaseStuck
	PhaseSucceeded
	PhaseDropped
)

func (p Phase) String() string {
	switch p {
	case PhasePending:
		return "pending"
	case PhaseScheduled:
		return "scheduled"
	case PhaseStuck:
		return "stuck"
	case PhaseSucceeded:
		return "succeeded"
	case PhaseDropped:
		return "dropped"
	default:
		return fmt.Sprintf("phase(%d)", int(p))
	}
}

// State is the replay state of one queue entry. Attempts and NextAttemptAt
// are meaningful for Scheduled and Stuck, Reason for Dropped.
type State struct {
	Phase         Phase
	Attempts      int
	NextAttemptAt time.Time
	Reason        string
}

func Pending() State { return State{Phase: PhasePending} }

func Scheduled(attempts int, next time.Time) State {
	return State{Phase: PhaseScheduled, Attempts: attempts, NextAttemptAt: next}
}

func Stuck(attempts int) State { return State{Phase: PhaseStuck, Attempts: attempts} }

func Succeeded() State { return State{Phase: PhaseSucceeded} }

func Dropped(reason string) State { return State{Phase: PhaseDropped, Reason: reason} }

// Eligible reports whether the entry may be sent at now.
func (s State) Eligible(now time.Time) bool {
	switch s.Phase {
	case PhasePending:
		return true
	case PhaseScheduled:
		return !now.Before(s.NextAttemptAt)
	default:
		return false
	}
}

// Outcome of one send. Err is set only when no HTTP answer arrived.
type Outcome struct {
	StatusCode int
	Err        error
}

type Class int

const (
	ClassSuccess Class = iota
	ClassRetryable
	ClassPermanent
)

var permanentStatuses = map[int]bool{
	http.StatusBadRequest:          true,
	http.StatusForbidden:           true,
	http.StatusNotFound:            true,
	http.StatusConflict:            true,
	http.StatusGone:                true,
	http.StatusUnprocessableEntity: true,
}

func Classify(o Outcome) Class {
	switch {
	case o.Err != nil || o.StatusCode == 0:
		return ClassRetryable
	case o.StatusCode >= 200 && o.StatusCode < 300:
		return ClassSuccess
	case permanentStatuses[o.StatusCode]:
		return ClassPermanent
	default:
		// 5xx, 429 and anything else unexpected.
		return ClassRetryable
	}
}

type Policy struct {
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	MaxAttempts int
}

func DefaultPolicy() Policy {
	return Policy{BaseDelay: 2 * time.Second, MaxDelay: 60 * time.Second, MaxAttempts: 5}
}

func (p Policy) withDefaults() Policy {
	d := DefaultPolicy()
	if p.BaseDelay <= 0 {
		p.BaseDelay = d.BaseDelay
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = d.MaxDelay
	}
	if p.MaxDelay < p.BaseDelay {
		p.MaxDelay = p.BaseDelay
	}
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = d.MaxAttempts
	}
	return p
}

// Backoff is the delay after the given number of failed attempts:
// BaseDelay * 2^(attempts-1), capped at MaxDelay.
func (p Policy) Backoff(attempts int) time.Duration {
	p = p.withDefaults()
	if attempts < 1 {
		attempts = 1
	}
	d := p.BaseDelay
	for i := 1; i < attempts; i++ {
		d *= 2
		if d >= p.MaxDelay {
			return p.MaxDelay
		}
	}
	if d > p.MaxDelay {
		return p.MaxDelay
	}
	return d
}

// Transition is the whole replay state machine. It has no side effects.
func Transition(s State, o Outcome, now time.Time, p Policy) State {
	p = p.withDefaults()
	switch Classify(o) {
	case ClassSuccess:
		return Succeeded()
	case ClassPermanent:
		return Dropped(fmt.Sprintf("status %d", o.StatusCode))
	}
	attempts := s.Attempts + 1
	if attempts >= p.MaxAttempts {
		return Stuck(attempts)
	}
	return Scheduled(attempts, now.Add(p.Backoff(attempts)))
}
