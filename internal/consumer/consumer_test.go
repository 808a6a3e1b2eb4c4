package consumer

import (
	"context"
	"errors"
	"fmt"
	"testing"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"

	"github.com/tbourn/go-notify-backend/internal/services"
)

// ----- Fakes -----

type fakeDeliverer struct {
	gotInput services.DeliverInput
	result   *services.DeliverResult
	err      error
	calls    int
}

func (f *fakeDeliverer) Deliver(_ context.Context, in services.DeliverInput) (*services.DeliverResult, error) {
	f.calls++
	f.gotInput = in
	return f.result, f.err
}

type fakePublisher struct {
	tier    int
	body    []byte
	headers amqp.Table
	err     error
	calls   int
}

func (f *fakePublisher) PublishToTier(_ context.Context, tier int, body []byte, headers amqp.Table) error {
	f.calls++
	f.tier = tier
	f.body = body
	f.headers = headers
	return f.err
}

func (f *fakePublisher) TierCount() int { return 3 }

func newTestConsumer(d *fakeDeliverer, p *fakePublisher) *Consumer {
	return NewConsumer(d, p, zerolog.Nop())
}

func okResult() *services.DeliverResult {
	return &services.DeliverResult{MessageID: "m1", RequestID: "q1"}
}

// ----- Envelope decoding -----

func TestDecodeEvent_Families(t *testing.T) {
	verification := []byte(`{"correlation_id":"c1","recipient_contact_id":"r1","verification_code":"123456"}`)
	in, family, err := decodeEvent(verification)
	if err != nil || family != "verification" {
		t.Fatalf("family = %s, err = %v", family, err)
	}
	if in.CorrelationID != "c1" || in.RecipientContactID != "r1" {
		t.Fatalf("input = %+v", in)
	}
	if in.Sensitive {
		t.Fatal("verification events are not sensitive")
	}
	if in.Title == "" || in.Content == "" || in.PlainTextContent == "" {
		t.Fatalf("rendered content missing: %+v", in)
	}

	reset := []byte(`{"correlation_id":"c2","recipient_contact_id":"r1","reset_token":"tok","reset_url":"https://app/reset?t=tok"}`)
	in, family, err = decodeEvent(reset)
	if err != nil || family != "password_reset" {
		t.Fatalf("family = %s, err = %v", family, err)
	}
	if !in.Sensitive {
		t.Fatal("password reset events must be sensitive")
	}

	generic := []byte(`{"correlation_id":"c3","recipient_contact_id":"r1","sender_service":"billing","title":"Hi","content":"<p>x</p>","urgency":"urgent"}`)
	in, family, err = decodeEvent(generic)
	if err != nil || family != "notification" {
		t.Fatalf("family = %s, err = %v", family, err)
	}
	if in.SenderService != "billing" || in.Urgency != "urgent" {
		t.Fatalf("input = %+v", in)
	}
	if in.PlainTextContent != in.Content {
		t.Fatal("missing plain text must fall back to content")
	}
}

func TestDecodeEvent_UnknownShapes(t *testing.T) {
	for _, body := range [][]byte{
		[]byte(`not json`),
		[]byte(`{"correlation_id":"c1","recipient_contact_id":"r1"}`),
		[]byte(`{}`),
	} {
		if _, _, err := decodeEvent(body); !errors.Is(err, ErrUnknownShape) {
			t.Errorf("body %q: err = %v, want ErrUnknownShape", body, err)
		}
	}
}

// ----- Handle classification -----

func validBody() []byte {
	return []byte(`{"correlation_id":"c1","recipient_contact_id":"r1","title":"Hi","content":"x"}`)
}

func TestHandle_SuccessAcks(t *testing.T) {
	d := &fakeDeliverer{result: okResult()}
	c := newTestConsumer(d, &fakePublisher{})

	outcome, family := c.Handle(context.Background(), validBody(), 0)
	if outcome != OutcomeAck || family != "notification" {
		t.Fatalf("outcome = %s, family = %s", outcome, family)
	}
	if d.calls != 1 {
		t.Fatalf("deliver calls = %d", d.calls)
	}
}

func TestHandle_UnknownShapeAcksWithoutDelivering(t *testing.T) {
	d := &fakeDeliverer{result: okResult()}
	c := newTestConsumer(d, &fakePublisher{})

	outcome, family := c.Handle(context.Background(), []byte(`{"nope":true}`), 0)
	if outcome != OutcomeAck || family != "unknown" {
		t.Fatalf("outcome = %s, family = %s", outcome, family)
	}
	if d.calls != 0 {
		t.Fatal("unknown shapes must not reach the orchestrator")
	}
}

func TestHandle_RetryableRedrivesUntilBudgetExhausted(t *testing.T) {
	d := &fakeDeliverer{result: okResult(), err: fmt.Errorf("wrap: %w", services.ErrDeliveryRetryable)}
	c := newTestConsumer(d, &fakePublisher{})
	c.MaxRedrives = 2

	if outcome, _ := c.Handle(context.Background(), validBody(), 0); outcome != OutcomeRedrive {
		t.Fatalf("retry 0: outcome = %s, want redrive", outcome)
	}
	if outcome, _ := c.Handle(context.Background(), validBody(), 1); outcome != OutcomeRedrive {
		t.Fatalf("retry 1: outcome = %s, want redrive", outcome)
	}
	if outcome, _ := c.Handle(context.Background(), validBody(), 2); outcome != OutcomeDrop {
		t.Fatalf("retry 2: outcome = %s, want drop", outcome)
	}
}

func TestHandle_PermanentFailuresDrop(t *testing.T) {
	cases := []error{
		&services.ValidationError{Fields: map[string]string{"title": "must not be empty"}},
		&services.NoDeliverableChannelError{Skipped: map[string]string{"sms": "preference_disabled"}},
	}
	for _, err := range cases {
		d := &fakeDeliverer{err: err}
		c := newTestConsumer(d, &fakePublisher{})
		if outcome, _ := c.Handle(context.Background(), validBody(), 0); outcome != OutcomeDrop {
			t.Errorf("err %v: outcome = %s, want drop", err, outcome)
		}
	}
}

func TestHandle_InfrastructureFaultRedrives(t *testing.T) {
	d := &fakeDeliverer{err: errors.New("database is locked")}
	c := newTestConsumer(d, &fakePublisher{})

	if outcome, _ := c.Handle(context.Background(), validBody(), 0); outcome != OutcomeRedrive {
		t.Fatalf("outcome = %s, want redrive", outcome)
	}
	if outcome, _ := c.Handle(context.Background(), validBody(), DefaultMaxRedrives); outcome != OutcomeDrop {
		t.Fatalf("outcome = %s, want drop at budget", outcome)
	}
}
