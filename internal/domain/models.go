// Package domain defines the persistence models for the notification
// delivery engine: messages, delivery requests, delivery attempts, and
// per-recipient channel preferences. These types are mapped with GORM and
// form the core data layer shared by the repository and service layers.
package domain

import (
	"time"

	"gorm.io/datatypes"
)

// Channel identifies a delivery medium with an independent dispatcher and
// recipient address. The set is closed: email and SMS.
type Channel string

// Supported delivery channels.
const (
	ChannelEmail Channel = "email"
	ChannelSMS   Channel = "sms"
)

// Valid reports whether c is one of the supported channels.
func (c Channel) Valid() bool { return c == ChannelEmail || c == ChannelSMS }

// Urgency classifies how aggressively a message escalates across channels.
type Urgency string

// Urgency levels, in ascending order of escalation.
const (
	UrgencyNormal    Urgency = "normal"
	UrgencyImportant Urgency = "important"
	UrgencyUrgent    Urgency = "urgent"
)

// Valid reports whether u is a recognized urgency level.
func (u Urgency) Valid() bool {
	return u == UrgencyNormal || u == UrgencyImportant || u == UrgencyUrgent
}

// Message is the immutable content unit of one notification. It is created
// once by the orchestrator and never mutated by the delivery path.
//
// Fields:
//   - ID: stable UUID primary key (char(36)).
//   - Content / PlainTextContent: rich and plain renderings of the body.
//   - Title: optional subject line.
//   - Sensitive: confidentiality flag; forces email-only delivery.
//   - Urgency: normal|important|urgent (enforced by DB constraint).
//   - SenderService / SenderUserID / SenderContactID: sender identity;
//     at least one must be present (enforced at input validation).
//   - Metadata: opaque key-value map, stored as JSON.
type Message struct {
	ID               string            `json:"id"                 gorm:"type:char(36);primaryKey"`
	Content          string            `json:"content"            gorm:"type:text;not null"`
	PlainTextContent string            `json:"plain_text_content" gorm:"type:text;not null"`
	Title            string            `json:"title,omitempty"    gorm:"type:varchar(255)"`
	Sensitive        bool              `json:"sensitive"          gorm:"not null;default:false"`
	Urgency          Urgency           `json:"urgency"            gorm:"type:varchar(16);not null;default:'normal';check:urgency IN ('normal','important','urgent')"`
	SenderService    string            `json:"sender_service"     gorm:"type:varchar(64);index"`
	SenderUserID     string            `json:"sender_user_id,omitempty"    gorm:"type:varchar(64)"`
	SenderContactID  string            `json:"sender_contact_id,omitempty" gorm:"type:varchar(64)"`
	Metadata         datatypes.JSONMap `json:"metadata,omitempty" gorm:"type:text"`
	CreatedAt        time.Time         `json:"created_at"`
}

// TableName returns the database table name for Message.
func (Message) TableName() string { return "messages" }

// DeliveryRequest records one delivery intent: one Message to one recipient,
// identified by a caller-supplied correlation ID that acts as an idempotency
// key. At most one request may exist per correlation ID; the unique index is
// the authoritative guard because concurrent consumers can race on the same
// inbound event.
//
// ProcessedAt is set exactly once, when every attempt has reached a terminal
// state with no further retry owed.
type DeliveryRequest struct {
	ID                 string     `json:"id"                   gorm:"type:char(36);primaryKey"`
	MessageID          string     `json:"message_id"           gorm:"type:char(36);not null;index"`
	CorrelationID      string     `json:"correlation_id"       gorm:"type:varchar(128);not null;uniqueIndex:ux_requests_correlation"`
	RecipientContactID string     `json:"recipient_contact_id" gorm:"type:varchar(64);not null;index"`
	CreatedAt          time.Time  `json:"created_at"`
	ProcessedAt        *time.Time `json:"processed_at,omitempty"`

	// Message is the owned content unit. Requests are removed only by the
	// external retention purge, never by the delivery path.
	Message Message `json:"-" gorm:"foreignKey:MessageID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

// TableName returns the database table name for DeliveryRequest.
func (DeliveryRequest) TableName() string { return "delivery_requests" }

// Processed reports whether the request has reached its terminal state.
func (r *DeliveryRequest) Processed() bool { return r.ProcessedAt != nil }

// DeliveryAttempt is one channel-level try for a request. Rows are
// append/update-only: an attempt is inserted in StatusPending and updated in
// place to its terminal-for-this-try status; a retry appends a new row with
// an incremented AttemptNumber instead of mutating the failed one.
//
// NextRetryAt is nil for sent attempts and for failures that exhausted the
// per-channel attempt ceiling (permanent failure for that channel).
type DeliveryAttempt struct {
	ID                string        `json:"id"                gorm:"type:char(36);primaryKey"`
	RequestID         string        `json:"request_id"        gorm:"type:char(36);not null;index:idx_attempts_request,priority:1"`
	Channel           Channel       `json:"channel"           gorm:"type:varchar(16);not null;check:channel IN ('email','sms')"`
	RecipientAddress  string        `json:"recipient_address" gorm:"type:varchar(255);not null"`
	AttemptNumber     int           `json:"attempt_number"    gorm:"not null;check:attempt_number >= 1"`
	Status            AttemptStatus `json:"status"            gorm:"type:varchar(16);not null;check:status IN ('pending','sent','failed','retried')"`
	ProviderMessageID *string       `json:"provider_message_id,omitempty" gorm:"type:varchar(255)"`
	Error             *string       `json:"error,omitempty"   gorm:"type:text"`
	NextRetryAt       *time.Time    `json:"next_retry_at,omitempty"`
	CreatedAt         time.Time     `json:"created_at"        gorm:"index:idx_attempts_request,priority:2"`

	// Request is the owning delivery intent.
	Request DeliveryRequest `json:"-" gorm:"foreignKey:RequestID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

// TableName returns the database table name for DeliveryAttempt.
func (DeliveryAttempt) TableName() string { return "delivery_attempts" }

// Retryable reports whether this attempt still owes a scheduled retry.
func (a *DeliveryAttempt) Retryable() bool {
	return a.Status == StatusFailed && a.NextRetryAt != nil
}
