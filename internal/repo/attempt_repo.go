// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the
// DeliveryAttempt model. Attempt rows are append/update-only: inserted in
// pending, updated in place to their terminal-for-this-try status.
package repo

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tbourn/go-notify-backend/internal/domain"
)

// CreateAttempt inserts a new attempt row in StatusPending.
func CreateAttempt(ctx context.Context, db *gorm.DB, requestID string, channel domain.Channel, address string, attemptNumber int) (*domain.DeliveryAttempt, error) {
	a := &domain.DeliveryAttempt{
		ID:               uuid.NewString(),
		RequestID:        requestID,
		Channel:          channel,
		RecipientAddress: address,
		AttemptNumber:    attemptNumber,
		Status:           domain.StatusPending,
		CreatedAt:        time.Now().UTC(),
	}
	return a, db.WithContext(ctx).Create(a).Error
}

// AttemptUpdate carries the terminal-for-this-try fields written alongside
// a status change.
type AttemptUpdate struct {
	ProviderMessageID *string
	Error             *string
	NextRetryAt       *time.Time
}

// UpdateAttemptStatus transitions an attempt through the state machine and
// persists the outcome. Illegal transitions surface as
// domain.ErrIllegalTransition before anything is written. The UPDATE is
// guarded on the from-state so two workers holding the same row cannot both
// transition it; the loser gets ErrStaleAttempt and must treat the row as
// owned by the winner.
func UpdateAttemptStatus(ctx context.Context, db *gorm.DB, a *domain.DeliveryAttempt, to domain.AttemptStatus, upd AttemptUpdate) error {
	from := a.Status
	if err := a.Transition(to); err != nil {
		return err
	}
	a.ProviderMessageID = upd.ProviderMessageID
	a.Error = upd.Error
	a.NextRetryAt = upd.NextRetryAt
	res := db.WithContext(ctx).
		Model(&domain.DeliveryAttempt{}).
		Where("id = ? AND status = ?", a.ID, from).
		Updates(map[string]any{
			"status":              a.Status,
			"provider_message_id": a.ProviderMessageID,
			"error":               a.Error,
			"next_retry_at":       a.NextRetryAt,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrStaleAttempt
	}
	return nil
}

// GetAttempt fetches an attempt by ID.
func GetAttempt(ctx context.Context, db *gorm.DB, id string) (*domain.DeliveryAttempt, error) {
	var a domain.DeliveryAttempt
	err := db.WithContext(ctx).Where("id = ?", id).First(&a).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// ListAttemptsByRequest returns every attempt for a request ordered
// deterministically (CreatedAt ASC, ID ASC).
func ListAttemptsByRequest(ctx context.Context, db *gorm.DB, requestID string) ([]domain.DeliveryAttempt, error) {
	var out []domain.DeliveryAttempt
	err := db.WithContext(ctx).
		Where("request_id = ?", requestID).
		Order("created_at ASC, id ASC").
		Find(&out).Error
	return out, err
}

// CountAttempts returns the attempt total for pagination.
func CountAttempts(ctx context.Context, db *gorm.DB, requestID string) (int64, error) {
	var total int64
	err := db.WithContext(ctx).
		Model(&domain.DeliveryAttempt{}).
		Where("request_id = ?", requestID).
		Count(&total).Error
	return total, err
}

// ListAttemptsPage returns a paginated slice ordered (CreatedAt ASC, ID ASC).
func ListAttemptsPage(ctx context.Context, db *gorm.DB, requestID string, offset, limit int) ([]domain.DeliveryAttempt, error) {
	var out []domain.DeliveryAttempt
	err := db.WithContext(ctx).
		Where("request_id = ?", requestID).
		Order("created_at ASC, id ASC").
		Offset(offset).
		Limit(limit).
		Find(&out).Error
	return out, err
}

// LatestAttemptsByChannel reduces a request's attempt history to the row
// with the highest attempt number per channel. The redrive path uses this
// to decide which channels still owe a retry.
func LatestAttemptsByChannel(ctx context.Context, db *gorm.DB, requestID string) (map[domain.Channel]*domain.DeliveryAttempt, error) {
	attempts, err := ListAttemptsByRequest(ctx, db, requestID)
	if err != nil {
		return nil, err
	}
	latest := make(map[domain.Channel]*domain.DeliveryAttempt, 2)
	for i := range attempts {
		a := &attempts[i]
		if cur, ok := latest[a.Channel]; !ok || a.AttemptNumber > cur.AttemptNumber {
			latest[a.Channel] = a
		}
	}
	return latest, nil
}
