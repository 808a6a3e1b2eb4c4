// Package services implements the business logic of the delivery engine.
// This file centralizes the service-level error taxonomy so that callers
// (the HTTP handlers and the broker consumer) can classify outcomes with
// errors.Is/errors.As instead of inspecting strings.
//
// The taxonomy is deliberately small:
//   - validation failures (bad input, field-level detail, never retried)
//   - not-found failures (no deliverable channel; never retried)
//   - retryable delivery failures (at least one channel attempt has a
//     scheduled retry, the only classification the consumer redrives)
//
// Persistence and resolver failures bubble unchanged, preserving the
// original signal for diagnostics.
package services

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// ErrDeliveryRetryable marks the distinguished retryable classification:
// the request is persisted, at least one channel attempt failed with a
// scheduled retry, and the triggering event should be redriven.
var ErrDeliveryRetryable = errors.New("delivery failed, retry scheduled")

// ErrNoDeliverableChannel marks the not-found classification: after
// resolution and the deliverability filter, no channel remained.
var ErrNoDeliverableChannel = errors.New("no deliverable channel")

// ValidationError reports field-level input problems. It is never retried
// and produces no side effects.
type ValidationError struct {
	Fields map[string]string
}

// Error renders the field problems deterministically (sorted by field).
func (e *ValidationError) Error() string {
	if len(e.Fields) == 0 {
		return "validation failed"
	}
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+": "+e.Fields[k])
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// NoDeliverableChannelError wraps ErrNoDeliverableChannel with the skip
// trail, so the failure message enumerates what was attempted and why each
// candidate was excluded.
type NoDeliverableChannelError struct {
	// Skipped maps each considered channel to its exclusion reason.
	Skipped map[string]string
}

// Error lists every candidate and its skip reason, sorted by channel.
func (e *NoDeliverableChannelError) Error() string {
	if len(e.Skipped) == 0 {
		return ErrNoDeliverableChannel.Error()
	}
	keys := make([]string, 0, len(e.Skipped))
	for k := range e.Skipped {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s (%s)", k, e.Skipped[k]))
	}
	return ErrNoDeliverableChannel.Error() + ": " + strings.Join(parts, ", ")
}

// Unwrap lets errors.Is(err, ErrNoDeliverableChannel) classify this error.
func (e *NoDeliverableChannelError) Unwrap() error { return ErrNoDeliverableChannel }
