// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for Message and
// DeliveryRequest rows, including the correlation-id uniqueness guard that
// makes delivery idempotent across racing consumers.
package repo

import (
	"context"
	"errors"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/go-notify-backend/internal/domain"
)

// CreateMessage inserts the immutable content row.
func CreateMessage(ctx context.Context, db *gorm.DB, m *domain.Message) error {
	return db.WithContext(ctx).Create(m).Error
}

// GetMessage fetches a message by ID.
func GetMessage(ctx context.Context, db *gorm.DB, id string) (*domain.Message, error) {
	var m domain.Message
	err := db.WithContext(ctx).Where("id = ?", id).First(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// CreateDeliveryRequest inserts a request row and returns ErrDuplicate when
// another row already claimed the correlation id. The unique index is the
// authoritative guard; the orchestrator's lookup is only a fast path.
func CreateDeliveryRequest(ctx context.Context, db *gorm.DB, r *domain.DeliveryRequest) error {
	if err := db.WithContext(ctx).Create(r).Error; err != nil {
		// glebarez/sqlite often returns plain-text errors for UNIQUE violations.
		low := strings.ToLower(err.Error())
		if errors.Is(err, gorm.ErrDuplicatedKey) ||
			strings.Contains(low, "unique constraint failed") ||
			strings.Contains(low, "constraint failed: unique") {
			return ErrDuplicate
		}
		return err
	}
	return nil
}

// GetRequestByCorrelationID returns the request claimed by the given
// correlation id, or ErrNotFound.
func GetRequestByCorrelationID(ctx context.Context, db *gorm.DB, correlationID string) (*domain.DeliveryRequest, error) {
	var r domain.DeliveryRequest
	err := db.WithContext(ctx).Where("correlation_id = ?", correlationID).First(&r).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// GetRequest fetches a request by primary id.
func GetRequest(ctx context.Context, db *gorm.DB, id string) (*domain.DeliveryRequest, error) {
	var r domain.DeliveryRequest
	err := db.WithContext(ctx).Where("id = ?", id).First(&r).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// MarkRequestProcessed stamps ProcessedAt exactly once. Re-marking an
// already processed request is a no-op so crash-and-requeue overlaps stay
// harmless.
func MarkRequestProcessed(ctx context.Context, db *gorm.DB, id string, at time.Time) error {
	res := db.WithContext(ctx).
		Model(&domain.DeliveryRequest{}).
		Where("id = ? AND processed_at IS NULL", id).
		Update("processed_at", at.UTC())
	return res.Error
}
