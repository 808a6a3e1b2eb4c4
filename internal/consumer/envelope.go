// Package consumer runs the broker-facing side of the delivery engine: it
// drains the main queue, dispatches each inbound event to the matching
// sub-handler, and turns the orchestrator's classification into an explicit
// three-way outcome (ack, redrive through a delay tier, or drop).
package consumer

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/tbourn/go-notify-backend/internal/domain"
	"github.com/tbourn/go-notify-backend/internal/services"
)

// ErrUnknownShape indicates an event payload matching no known family.
// Unknown shapes are tolerated: logged and acknowledged, never retried.
var ErrUnknownShape = errors.New("unrecognized event shape")

// Envelope is the superset of all inbound event families. Families are
// distinguished by a required field unique to each: verification events
// carry verification_code, password-reset events carry reset_token, and
// generic notification events carry content.
type Envelope struct {
	CorrelationID      string         `json:"correlation_id"`
	RecipientContactID string         `json:"recipient_contact_id"`
	SenderService      string         `json:"sender_service,omitempty"`
	Metadata           map[string]any `json:"metadata,omitempty"`

	// Verification family.
	VerificationCode string `json:"verification_code,omitempty"`

	// Password-reset family.
	ResetToken string `json:"reset_token,omitempty"`
	ResetURL   string `json:"reset_url,omitempty"`

	// Generic notification family.
	Title             string           `json:"title,omitempty"`
	Content           string           `json:"content,omitempty"`
	PlainTextContent  string           `json:"plain_text_content,omitempty"`
	Sensitive         bool             `json:"sensitive,omitempty"`
	Urgency           domain.Urgency   `json:"urgency,omitempty"`
	RequestedChannels []domain.Channel `json:"requested_channels,omitempty"`
}

// decodeEvent parses an inbound payload and builds the orchestrator input
// for its family. Payloads that are not JSON objects or match no family
// return ErrUnknownShape.
func decodeEvent(body []byte) (services.DeliverInput, string, error) {
	var env Envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return services.DeliverInput{}, "", fmt.Errorf("%w: %v", ErrUnknownShape, err)
	}

	switch {
	case env.VerificationCode != "":
		return buildVerification(env), "verification", nil
	case env.ResetToken != "":
		return buildPasswordReset(env), "password_reset", nil
	case env.Content != "":
		return buildNotification(env), "notification", nil
	default:
		return services.DeliverInput{}, "", ErrUnknownShape
	}
}

// buildVerification renders the verification-code event. Codes escalate to
// important so email is always tried even when the recipient disabled it.
func buildVerification(env Envelope) services.DeliverInput {
	content := fmt.Sprintf("Your verification code is <strong>%s</strong>. It expires shortly.", env.VerificationCode)
	plain := fmt.Sprintf("Your verification code is %s. It expires shortly.", env.VerificationCode)
	return services.DeliverInput{
		SenderService:      senderOrDefault(env),
		Title:              "Your verification code",
		Content:            content,
		PlainTextContent:   plain,
		RecipientContactID: env.RecipientContactID,
		CorrelationID:      env.CorrelationID,
		Urgency:            domain.UrgencyImportant,
		Metadata:           env.Metadata,
	}
}

// buildPasswordReset renders the password-reset event. Reset links are
// confidential, so the message is flagged sensitive (email only).
func buildPasswordReset(env Envelope) services.DeliverInput {
	content := fmt.Sprintf("A password reset was requested for your account. Use this link to continue: %s", env.ResetURL)
	plain := content
	if env.ResetURL == "" {
		content = fmt.Sprintf("A password reset was requested for your account. Your reset token is %s.", env.ResetToken)
		plain = content
	}
	return services.DeliverInput{
		SenderService:      senderOrDefault(env),
		Title:              "Password reset requested",
		Content:            content,
		PlainTextContent:   plain,
		RecipientContactID: env.RecipientContactID,
		CorrelationID:      env.CorrelationID,
		Sensitive:          true,
		Urgency:            domain.UrgencyImportant,
		Metadata:           env.Metadata,
	}
}

// buildNotification passes the generic event through verbatim.
func buildNotification(env Envelope) services.DeliverInput {
	plain := env.PlainTextContent
	if plain == "" {
		plain = env.Content
	}
	return services.DeliverInput{
		SenderService:      senderOrDefault(env),
		Title:              env.Title,
		Content:            env.Content,
		PlainTextContent:   plain,
		RecipientContactID: env.RecipientContactID,
		CorrelationID:      env.CorrelationID,
		Sensitive:          env.Sensitive,
		Urgency:            env.Urgency,
		RequestedChannels:  env.RequestedChannels,
		Metadata:           env.Metadata,
	}
}

func senderOrDefault(env Envelope) string {
	if env.SenderService != "" {
		return env.SenderService
	}
	return "notifications"
}
