// Package services – DeliveryService
//
// This file implements DeliveryService, the delivery orchestrator. Given a
// content payload and a recipient, it resolves the effective channel set,
// persists the Message/DeliveryRequest/DeliveryAttempt trail, fans out to
// the channel dispatchers concurrently, and classifies the overall outcome
// as success, not-deliverable, or retryable.
//
// Idempotency: the caller-supplied correlation id claims the request row
// under a DB unique index, so racing consumers cannot double-deliver. A
// redelivered correlation id for an unprocessed request resumes where the
// previous pass stopped: restarting from resolution when nothing was ever
// dispatched, redriving channels whose latest attempt owes a due retry or
// was interrupted mid-dispatch. A processed request short-circuits to the
// stored result with no side effects.
//
// Observability: public methods are OpenTelemetry-instrumented; spans carry
// the correlation id and recipient.
package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/tbourn/go-notify-backend/internal/channels"
	"github.com/tbourn/go-notify-backend/internal/contacts"
	"github.com/tbourn/go-notify-backend/internal/delivery"
	"github.com/tbourn/go-notify-backend/internal/dispatch"
	"github.com/tbourn/go-notify-backend/internal/domain"
	"github.com/tbourn/go-notify-backend/internal/repo"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Input length bounds enforced before any side effect.
const (
	MaxContentLen = 50000
	MaxTitleLen   = 255
	maxOpaqueID   = 128
)

// Deliverability skip reasons recorded when a resolved channel cannot
// actually be dispatched.
const (
	SkipNoAddress    = "no_address"
	SkipNoDispatcher = "no_dispatcher"
)

// PreferenceSource supplies channel preferences for a recipient. A nil
// preference (with nil error) means none is stored and defaults apply.
type PreferenceSource interface {
	FindByRecipient(ctx context.Context, contactID string) (*domain.ChannelPreference, error)
}

// DeliverInput is the orchestrator's input contract.
type DeliverInput struct {
	SenderService      string         `json:"sender_service"`
	SenderUserID       string         `json:"sender_user_id,omitempty"`
	SenderContactID    string         `json:"sender_contact_id,omitempty"`
	Title              string         `json:"title"`
	Content            string         `json:"content"`
	PlainTextContent   string         `json:"plain_text_content"`
	RecipientContactID string         `json:"recipient_contact_id"`
	CorrelationID      string         `json:"correlation_id"`
	Sensitive          bool           `json:"sensitive,omitempty"`
	Urgency            domain.Urgency `json:"urgency,omitempty"`
	// RequestedChannels narrows the candidate set for normal urgency. Nil
	// means the full default set; an explicitly empty slice means none.
	RequestedChannels []domain.Channel `json:"requested_channels,omitempty"`
	Metadata          map[string]any   `json:"metadata,omitempty"`
}

// DeliverResult reports the persisted identifiers and the full attempt
// trail. It is populated even when Deliver returns ErrDeliveryRetryable, so
// callers can inspect what was scheduled.
type DeliverResult struct {
	MessageID string                   `json:"message_id"`
	RequestID string                   `json:"request_id"`
	Attempts  []domain.DeliveryAttempt `json:"attempts"`

	// Quiet-hours status as reported by channel resolution. The engine
	// never defers delivery itself; deferral is an app-layer policy.
	InQuietHours     bool       `json:"in_quiet_hours,omitempty"`
	QuietHoursEndUTC *time.Time `json:"quiet_hours_end_utc,omitempty"`
}

// DeliveryService coordinates persistence, channel resolution, recipient
// resolution, and the concurrent dispatcher fan-out.
type DeliveryService struct {
	DB          *gorm.DB
	Contacts    contacts.Resolver
	Dispatchers dispatch.Registry
	Prefs       PreferenceSource
	Backoff     delivery.BackoffPolicy

	// DispatchTimeout bounds each dispatcher call so a stalled provider
	// cannot stall sibling channels or the consumer budget indefinitely.
	DispatchTimeout time.Duration

	// Now is a clock seam for tests; defaults to time.Now.
	Now func() time.Time
}

// NewDeliveryService wires the orchestrator with its collaborators. The
// dispatcher registry is fixed here: the channel enum is closed, so no
// per-call plugin lookup is needed.
func NewDeliveryService(db *gorm.DB, resolver contacts.Resolver, reg dispatch.Registry, prefs PreferenceSource, backoff delivery.BackoffPolicy) *DeliveryService {
	return &DeliveryService{
		DB:              db,
		Contacts:        resolver,
		Dispatchers:     reg,
		Prefs:           prefs,
		Backoff:         backoff,
		DispatchTimeout: 30 * time.Second,
		Now:             time.Now,
	}
}

// Deliver executes one delivery intent end to end. Classified outcomes:
//
//   - (*ValidationError): bad input, no side effects
//   - ErrNoDeliverableChannel: nothing dispatchable, no attempt rows
//   - ErrDeliveryRetryable: at least one channel attempt has a scheduled
//     retry; the triggering event should be redriven
//   - nil: every attempt is terminal with no retry owed; the request is
//     marked processed
//
// Resolver and persistence failures bubble unchanged.
func (s *DeliveryService) Deliver(ctx context.Context, in DeliverInput) (*DeliverResult, error) {
	tr := otel.Tracer("services/DeliveryService")
	ctx, span := tr.Start(ctx, "Deliver",
		trace.WithAttributes(
			attribute.String("correlation.id", in.CorrelationID),
			attribute.String("recipient.contact_id", in.RecipientContactID),
		),
	)
	defer span.End()

	if verr := in.validate(); verr != nil {
		deliveriesTotal.WithLabelValues("validation").Inc()
		return nil, verr
	}
	if in.Urgency == "" {
		in.Urgency = domain.UrgencyNormal
	}

	// Idempotency fast path. The unique index below remains the real guard.
	existing, err := repo.GetRequestByCorrelationID(ctx, s.DB, in.CorrelationID)
	switch {
	case err == nil:
		return s.resume(ctx, in, existing)
	case !errors.Is(err, repo.ErrNotFound):
		return nil, err
	}

	now := s.now()
	msg := &domain.Message{
		ID:               uuid.NewString(),
		Content:          in.Content,
		PlainTextContent: in.PlainTextContent,
		Title:            in.Title,
		Sensitive:        in.Sensitive,
		Urgency:          in.Urgency,
		SenderService:    in.SenderService,
		SenderUserID:     in.SenderUserID,
		SenderContactID:  in.SenderContactID,
		Metadata:         datatypes.JSONMap(in.Metadata),
		CreatedAt:        now,
	}
	req := &domain.DeliveryRequest{
		ID:                 uuid.NewString(),
		MessageID:          msg.ID,
		CorrelationID:      in.CorrelationID,
		RecipientContactID: in.RecipientContactID,
		CreatedAt:          now,
	}

	err = s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := repo.CreateMessage(ctx, tx, msg); err != nil {
			return err
		}
		return repo.CreateDeliveryRequest(ctx, tx, req)
	})
	if errors.Is(err, repo.ErrDuplicate) {
		// Lost the race on the correlation id: converge on the winner.
		winner, gerr := repo.GetRequestByCorrelationID(ctx, s.DB, in.CorrelationID)
		if gerr != nil {
			return nil, gerr
		}
		return s.resume(ctx, in, winner)
	}
	if err != nil {
		return nil, err
	}

	return s.dispatchFresh(ctx, in, msg, req)
}

// dispatchFresh runs the first delivery pass for a request with no attempt
// trail: resolve the recipient, load preferences, resolve channels, filter
// for deliverability, and fan out. Deliver calls it right after persisting
// the request; resume calls it when a redelivered event finds the request
// row but no attempts, meaning the first pass died before reaching the
// fan-out.
func (s *DeliveryService) dispatchFresh(ctx context.Context, in DeliverInput, msg *domain.Message, req *domain.DeliveryRequest) (*DeliverResult, error) {
	addrs, err := s.Contacts.Resolve(ctx, req.RecipientContactID)
	if err != nil {
		return nil, err
	}
	prefs, err := s.Prefs.FindByRecipient(ctx, req.RecipientContactID)
	if err != nil {
		return nil, err
	}

	res := channels.Resolve(in.RequestedChannels, prefs, channels.MessageAttributes{
		Sensitive: msg.Sensitive,
		Urgency:   msg.Urgency,
	}, s.now())
	trace.SpanFromContext(ctx).SetAttributes(attribute.Int("channels.resolved", len(res.Channels)))

	skipped := make(map[string]string, 2)
	for _, sk := range res.Skipped {
		skipped[string(sk.Channel)] = sk.Reason
	}

	var targets []dispatchTarget
	for _, c := range res.Channels {
		addr := addressFor(addrs, c)
		if addr == "" {
			skipped[string(c)] = SkipNoAddress
			continue
		}
		if _, ok := s.Dispatchers.Get(c); !ok {
			skipped[string(c)] = SkipNoDispatcher
			continue
		}
		targets = append(targets, dispatchTarget{channel: c, address: addr, attemptNumber: 1})
	}

	if len(targets) == 0 {
		deliveriesTotal.WithLabelValues("no_channel").Inc()
		return nil, &NoDeliverableChannelError{Skipped: skipped}
	}

	attempts, err := s.fanOut(ctx, msg, req, targets)
	if err != nil {
		return nil, err
	}

	result := &DeliverResult{
		MessageID:        msg.ID,
		RequestID:        req.ID,
		Attempts:         attempts,
		InQuietHours:     res.InQuietHours,
		QuietHoursEndUTC: res.QuietHoursEndUTC,
	}
	return s.finish(ctx, req.ID, result)
}

// resume handles a correlation id that already owns a request row.
//
// A processed request short-circuits to the stored result verbatim. An
// unprocessed request is classified by its attempt trail:
//
//   - no attempts at all: the first pass persisted the request but died
//     before dispatching anything (resolver outage, crash), so the delivery
//     restarts from resolution; stamping it processed here would ack the
//     event as delivered without a single dispatch
//   - latest attempt pending: the dispatch was interrupted before a
//     terminal status landed; the row is retired and the channel redriven
//   - latest attempt failed with a due retry: the channel is redriven
//   - latest attempt failed with a future retry: left alone, the request
//     classifies as retryable so the event goes back through a delay tier
//
// Without the redrive paths, tier-queue redelivery would always hit the
// short-circuit and failed channels could never make progress.
func (s *DeliveryService) resume(ctx context.Context, in DeliverInput, req *domain.DeliveryRequest) (*DeliverResult, error) {
	attempts, err := repo.ListAttemptsByRequest(ctx, s.DB, req.ID)
	if err != nil {
		return nil, err
	}
	result := &DeliverResult{MessageID: req.MessageID, RequestID: req.ID, Attempts: attempts}

	if req.Processed() {
		deliveriesTotal.WithLabelValues("success").Inc()
		return result, nil
	}

	if len(attempts) == 0 {
		msg, err := repo.GetMessage(ctx, s.DB, req.MessageID)
		if err != nil {
			return nil, err
		}
		return s.dispatchFresh(ctx, in, msg, req)
	}

	latest, err := repo.LatestAttemptsByChannel(ctx, s.DB, req.ID)
	if err != nil {
		return nil, err
	}
	now := s.now()
	var targets []dispatchTarget
	for _, a := range latest {
		switch {
		case a.Status == domain.StatusPending:
			stale := "interrupted before a terminal status was recorded"
			err := repo.UpdateAttemptStatus(ctx, s.DB, a, domain.StatusFailed, repo.AttemptUpdate{Error: &stale})
			if errors.Is(err, repo.ErrStaleAttempt) {
				// A concurrent worker transitioned the row; it owns the channel.
				continue
			}
			if err != nil {
				return nil, err
			}
			targets = append(targets, dispatchTarget{
				channel:       a.Channel,
				address:       a.RecipientAddress,
				attemptNumber: a.AttemptNumber + 1,
				prior:         a,
			})
		case a.Retryable():
			if a.NextRetryAt.After(now) {
				// Not due yet; finish classifies the request retryable.
				continue
			}
			targets = append(targets, dispatchTarget{
				channel:       a.Channel,
				address:       a.RecipientAddress,
				attemptNumber: a.AttemptNumber + 1,
				prior:         a,
			})
		}
	}

	if len(targets) == 0 {
		// Crash-and-requeue can leave a fully terminal request unmarked;
		// finish stamps it only when nothing retryable or in flight remains.
		return s.finish(ctx, req.ID, result)
	}

	msg, err := repo.GetMessage(ctx, s.DB, req.MessageID)
	if err != nil {
		return nil, err
	}
	if _, err := s.fanOut(ctx, msg, req, targets); err != nil {
		return nil, err
	}

	result.Attempts, err = repo.ListAttemptsByRequest(ctx, s.DB, req.ID)
	if err != nil {
		return nil, err
	}
	return s.finish(ctx, req.ID, result)
}

// finish classifies the final attempt trail: any attempt still owing a
// retry, or still pending from an interrupted dispatch, yields
// ErrDeliveryRetryable; otherwise the request is marked processed and the
// result is returned as success.
func (s *DeliveryService) finish(ctx context.Context, requestID string, result *DeliverResult) (*DeliverResult, error) {
	latest, err := repo.LatestAttemptsByChannel(ctx, s.DB, requestID)
	if err != nil {
		return nil, err
	}
	for _, a := range latest {
		if a.Retryable() || a.Status == domain.StatusPending {
			deliveriesTotal.WithLabelValues("retryable").Inc()
			return result, fmt.Errorf("%w: channel %s attempt %d", ErrDeliveryRetryable, a.Channel, a.AttemptNumber)
		}
	}
	if err := repo.MarkRequestProcessed(ctx, s.DB, requestID, s.now()); err != nil {
		return nil, err
	}
	deliveriesTotal.WithLabelValues("success").Inc()
	return result, nil
}

// dispatchTarget is one channel scheduled for dispatch in the fan-out.
// prior, when set, is the failed attempt row this dispatch redrives; it is
// transitioned to retried before the fresh attempt is inserted.
type dispatchTarget struct {
	channel       domain.Channel
	address       string
	attemptNumber int
	prior         *domain.DeliveryAttempt
}

// dispatchOutcome is what each fan-out task yields. Exactly one of attempt
// or err is meaningful: err reports a persistence fault inside the task,
// never a provider failure (those are captured on the attempt row).
type dispatchOutcome struct {
	attempt *domain.DeliveryAttempt
	err     error
}

// fanOut dispatches every target on its own goroutine and joins them such
// that one channel's failure or panic never aborts or masks another's.
// Channels are independent delivery paths with independent provider
// outages. Each task persists its attempt row in pending, performs the
// bounded dispatcher call, and updates the row to sent or failed.
func (s *DeliveryService) fanOut(ctx context.Context, msg *domain.Message, req *domain.DeliveryRequest, targets []dispatchTarget) ([]domain.DeliveryAttempt, error) {
	outcomes := make(chan dispatchOutcome, len(targets))
	for _, t := range targets {
		go func(t dispatchTarget) {
			out := dispatchOutcome{}
			defer func() {
				if r := recover(); r != nil {
					// A panicking task still yields an outcome; the row, if
					// created, is failed below on the next redrive pass.
					out.err = fmt.Errorf("dispatch %s: panic: %v", t.channel, r)
				}
				outcomes <- out
			}()
			out = s.dispatchOne(ctx, msg, req, t)
		}(t)
	}

	attempts := make([]domain.DeliveryAttempt, 0, len(targets))
	var firstErr error
	for range targets {
		out := <-outcomes
		if out.err != nil && firstErr == nil {
			firstErr = out.err
		}
		if out.attempt != nil {
			attempts = append(attempts, *out.attempt)
		}
	}
	if firstErr != nil {
		return attempts, firstErr
	}
	return attempts, nil
}

// dispatchOne runs a single channel try: retire the prior failed row on a
// redrive, insert the pending attempt, call the dispatcher under its
// timeout, and persist the terminal-for-this-try status. Dispatcher errors
// and panics are converted into a failed attempt, never propagated.
func (s *DeliveryService) dispatchOne(ctx context.Context, msg *domain.Message, req *domain.DeliveryRequest, t dispatchTarget) dispatchOutcome {
	if t.prior != nil {
		err := repo.UpdateAttemptStatus(ctx, s.DB, t.prior, domain.StatusRetried, repo.AttemptUpdate{
			Error: t.prior.Error,
		})
		if errors.Is(err, repo.ErrStaleAttempt) {
			// A concurrent redrive retired this row first; that worker owns
			// the channel, so this task stands down without dispatching.
			return dispatchOutcome{}
		}
		if err != nil {
			return dispatchOutcome{err: err}
		}
	}

	attempt, err := repo.CreateAttempt(ctx, s.DB, req.ID, t.channel, t.address, t.attemptNumber)
	if err != nil {
		return dispatchOutcome{err: err}
	}

	d, _ := s.Dispatchers.Get(t.channel) // presence checked by the filter

	res, dispatchErr := s.callDispatcher(ctx, d, dispatch.Request{
		Address:          t.address,
		Title:            msg.Title,
		Content:          msg.Content,
		PlainTextContent: msg.PlainTextContent,
	}, t.channel)

	if dispatchErr == nil && res.Success {
		pmid := res.ProviderMessageID
		if err := repo.UpdateAttemptStatus(ctx, s.DB, attempt, domain.StatusSent, repo.AttemptUpdate{
			ProviderMessageID: &pmid,
		}); err != nil {
			return dispatchOutcome{err: err}
		}
		attemptsTotal.WithLabelValues(string(t.channel), string(domain.StatusSent)).Inc()
		return dispatchOutcome{attempt: attempt}
	}

	errText := res.Error
	if dispatchErr != nil {
		errText = dispatchErr.Error()
	}
	if errText == "" {
		errText = "dispatcher reported failure without detail"
	}
	next := s.Backoff.NextRetryAt(s.now(), attempt.AttemptNumber)
	if err := repo.UpdateAttemptStatus(ctx, s.DB, attempt, domain.StatusFailed, repo.AttemptUpdate{
		Error:       &errText,
		NextRetryAt: next,
	}); err != nil {
		return dispatchOutcome{err: err}
	}
	attemptsTotal.WithLabelValues(string(t.channel), string(domain.StatusFailed)).Inc()
	return dispatchOutcome{attempt: attempt}
}

// callDispatcher performs the provider call under the per-dispatch timeout,
// converting panics into errors so a misbehaving dispatcher is indistinct
// from one that failed normally.
func (s *DeliveryService) callDispatcher(ctx context.Context, d dispatch.Dispatcher, req dispatch.Request, c domain.Channel) (res dispatch.Result, err error) {
	timeout := s.DispatchTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	dctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			res = dispatch.Result{}
			err = fmt.Errorf("dispatcher %s panicked: %v", d.Name(), r)
		}
	}()

	start := time.Now()
	res, err = d.Dispatch(dctx, req)
	dispatchDuration.WithLabelValues(string(c)).Observe(time.Since(start).Seconds())
	return res, err
}

// now returns the orchestrator clock in UTC.
func (s *DeliveryService) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

// validate enforces the input contract. It returns nil when the input is
// acceptable; otherwise a field-keyed ValidationError.
func (in DeliverInput) validate() *ValidationError {
	fields := map[string]string{}

	if strings.TrimSpace(in.SenderService) == "" {
		fields["sender_service"] = "must not be empty"
	}
	if strings.TrimSpace(in.Title) == "" {
		fields["title"] = "must not be empty"
	} else if utf8.RuneCountInString(in.Title) > MaxTitleLen {
		fields["title"] = fmt.Sprintf("must be at most %d characters", MaxTitleLen)
	}
	if strings.TrimSpace(in.Content) == "" {
		fields["content"] = "must not be empty"
	} else if utf8.RuneCountInString(in.Content) > MaxContentLen {
		fields["content"] = fmt.Sprintf("must be at most %d characters", MaxContentLen)
	}
	if strings.TrimSpace(in.PlainTextContent) == "" {
		fields["plain_text_content"] = "must not be empty"
	} else if utf8.RuneCountInString(in.PlainTextContent) > MaxContentLen {
		fields["plain_text_content"] = fmt.Sprintf("must be at most %d characters", MaxContentLen)
	}
	if !opaqueID(in.RecipientContactID) {
		fields["recipient_contact_id"] = "must be a well-formed identifier"
	}
	if !opaqueID(in.CorrelationID) {
		fields["correlation_id"] = "must be a well-formed identifier"
	}
	if in.Urgency != "" && !in.Urgency.Valid() {
		fields["urgency"] = "must be one of normal, important, urgent"
	}
	for _, c := range in.RequestedChannels {
		if !c.Valid() {
			fields["requested_channels"] = "must contain only email or sms"
			break
		}
	}

	if len(fields) > 0 {
		return &ValidationError{Fields: fields}
	}
	return nil
}

// opaqueID accepts non-empty printable identifiers without whitespace, up
// to maxOpaqueID runes.
func opaqueID(s string) bool {
	if s == "" || utf8.RuneCountInString(s) > maxOpaqueID {
		return false
	}
	for _, r := range s {
		if unicode.IsSpace(r) || unicode.IsControl(r) {
			return false
		}
	}
	return true
}

// addressFor picks the deliverable address for a channel.
func addressFor(a contacts.Addresses, c domain.Channel) string {
	switch c {
	case domain.ChannelEmail:
		return a.Email
	case domain.ChannelSMS:
		return a.Phone
	default:
		return ""
	}
}
