// Package dispatch defines the channel dispatcher contract and the closed
// registry the orchestrator resolves providers from. One dispatcher exists
// per channel; each wraps a single vendor call with a bounded timeout.
package dispatch

import (
	"context"

	"github.com/tbourn/go-notify-backend/internal/domain"
)

// Request carries the rendered content for one channel-level send.
type Request struct {
	Address          string
	Title            string
	Content          string
	PlainTextContent string
}

// Result is the dispatcher outcome for an ordinary (non-exceptional) send.
// Success carries the provider's message identifier; failure carries the
// provider-reported error text.
type Result struct {
	Success           bool
	ProviderMessageID string
	Error             string
}

// Dispatcher sends one message over one channel. Implementations must not
// return a non-nil error for ordinary delivery failures (those are
// reported through Result) and should reserve errors for truly exceptional
// conditions (the orchestrator still converts both into a failed attempt).
type Dispatcher interface {
	// Name identifies the provider for logs and diagnostics.
	Name() string

	// Dispatch performs the vendor call. It must honor ctx cancellation so
	// a stalled provider cannot stall sibling channels indefinitely.
	Dispatch(ctx context.Context, req Request) (Result, error)
}

// Registry maps each supported channel to its dispatcher. It is fixed at
// orchestrator construction time: the channel set is a closed enum, so a
// dynamic plugin lookup buys nothing here.
type Registry map[domain.Channel]Dispatcher

// Get returns the dispatcher for c, if one is configured.
func (r Registry) Get(c domain.Channel) (Dispatcher, bool) {
	d, ok := r[c]
	return d, ok
}
