// Package delivery holds the channel-level retry policy: an exponential
// backoff schedule with a fixed ceiling and a per-channel attempt cap. The
// policy only computes timestamps; the broker tier topology is what turns
// a timestamp into an actual redelivery.
package delivery

import "time"

// Defaults applied by NewBackoffPolicy when a field is unset.
const (
	DefaultBackoffBase = time.Minute
	DefaultBackoffCap  = 30 * time.Minute
	DefaultMaxAttempts = 3
)

// BackoffPolicy computes when a failed channel attempt becomes eligible for
// its next try. The delay doubles per attempt up to Cap; MaxAttempts bounds
// the number of tries per channel.
type BackoffPolicy struct {
	Base        time.Duration
	Cap         time.Duration
	MaxAttempts int
}

// NewBackoffPolicy fills unset fields with the package defaults.
func NewBackoffPolicy(base, cap time.Duration, maxAttempts int) BackoffPolicy {
	p := BackoffPolicy{Base: base, Cap: cap, MaxAttempts: maxAttempts}
	if p.Base <= 0 {
		p.Base = DefaultBackoffBase
	}
	if p.Cap <= 0 {
		p.Cap = DefaultBackoffCap
	}
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = DefaultMaxAttempts
	}
	return p
}

// Delay returns the wait after the given attempt number (>= 1) fails:
// Base * 2^(n-1), clamped to Cap.
func (p BackoffPolicy) Delay(attemptNumber int) time.Duration {
	if attemptNumber < 1 {
		attemptNumber = 1
	}
	d := p.Base
	for i := 1; i < attemptNumber; i++ {
		d *= 2
		if d >= p.Cap {
			return p.Cap
		}
	}
	if d > p.Cap {
		return p.Cap
	}
	return d
}

// NextRetryAt returns the UTC instant at which a failure on attemptNumber
// becomes retryable, or nil when the attempt ceiling is reached. A nil
// schedule means the channel has permanently failed for this request.
func (p BackoffPolicy) NextRetryAt(now time.Time, attemptNumber int) *time.Time {
	if p.MaxAttemptsReached(attemptNumber) {
		return nil
	}
	t := now.UTC().Add(p.Delay(attemptNumber))
	return &t
}

// MaxAttemptsReached reports whether attemptNumber has consumed the
// per-channel retry budget.
func (p BackoffPolicy) MaxAttemptsReached(attemptNumber int) bool {
	return attemptNumber >= p.MaxAttempts
}
