package domain

import (
	"errors"
	"fmt"
)

// AttemptStatus is the lifecycle state of a single delivery attempt.
type AttemptStatus string

// Attempt lifecycle states. StatusPending is the initial state; StatusSent
// and StatusRetried are terminal. StatusFailed records the error for this
// try and may only move on to StatusRetried; the row that actually retries
// is a fresh attempt with the next attempt number.
const (
	StatusPending AttemptStatus = "pending"
	StatusSent    AttemptStatus = "sent"
	StatusFailed  AttemptStatus = "failed"
	StatusRetried AttemptStatus = "retried"
)

// ErrIllegalTransition indicates an attempted status change that the state
// machine forbids. It signals a programming error in the caller, not a
// domain-level delivery failure.
var ErrIllegalTransition = errors.New("illegal attempt status transition")

// legalTransitions enumerates every permitted edge of the attempt state
// machine. Anything absent is illegal, including all edges out of the
// terminal states.
var legalTransitions = map[AttemptStatus]map[AttemptStatus]struct{}{
	StatusPending: {StatusSent: {}, StatusFailed: {}},
	StatusFailed:  {StatusRetried: {}},
}

// CanTransition reports whether moving from to next is a legal edge.
func CanTransition(from, to AttemptStatus) bool {
	next, ok := legalTransitions[from]
	if !ok {
		return false
	}
	_, ok = next[to]
	return ok
}

// Transition mutates the attempt's status after checking legality. The
// returned error wraps ErrIllegalTransition with both endpoints for
// diagnostics.
func (a *DeliveryAttempt) Transition(to AttemptStatus) error {
	if !CanTransition(a.Status, to) {
		return fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, a.Status, to)
	}
	a.Status = to
	return nil
}

// Terminal reports whether s admits no further transition.
func (s AttemptStatus) Terminal() bool { return s == StatusSent || s == StatusRetried }
