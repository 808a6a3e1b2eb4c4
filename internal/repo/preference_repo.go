// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the
// ChannelPreference model. Validation of the quiet-hours invariant happens
// at the service boundary; this layer is plain CRUD.
package repo

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tbourn/go-notify-backend/internal/domain"
)

// FindPreferenceByRecipient returns the preference row owned by the given
// contact id, or ErrNotFound. A missing row is not an error condition for
// delivery (defaults apply), so callers decide how to treat ErrNotFound.
func FindPreferenceByRecipient(ctx context.Context, db *gorm.DB, contactID string) (*domain.ChannelPreference, error) {
	var p domain.ChannelPreference
	err := db.WithContext(ctx).Where("contact_id = ?", contactID).First(&p).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// CreatePreference inserts a preference row, assigning an ID when absent.
func CreatePreference(ctx context.Context, db *gorm.DB, p *domain.ChannelPreference) error {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	return db.WithContext(ctx).Create(p).Error
}

// UpdatePreference rewrites the mutable fields of an existing row.
func UpdatePreference(ctx context.Context, db *gorm.DB, p *domain.ChannelPreference) error {
	res := db.WithContext(ctx).
		Model(&domain.ChannelPreference{}).
		Where("id = ?", p.ID).
		Updates(map[string]any{
			"email_enabled":     p.EmailEnabled,
			"sms_enabled":       p.SMSEnabled,
			"quiet_hours_start": p.QuietHoursStart,
			"quiet_hours_end":   p.QuietHoursEnd,
			"quiet_hours_tz":    p.QuietHoursTz,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}
