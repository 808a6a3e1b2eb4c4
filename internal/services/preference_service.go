// Package services – PreferenceService
//
// This file implements PreferenceService, which owns channel preference
// reads and writes. Reads go through an optional Redis cache; any cache
// failure degrades silently to the repository because a cache outage must
// never fail a delivery. Writes enforce the all-or-nothing quiet-hours
// invariant at the boundary and invalidate the cached entry.
package services

import (
	"context"
	"encoding/json"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/go-notify-backend/internal/cache"
	"github.com/tbourn/go-notify-backend/internal/domain"
	"github.com/tbourn/go-notify-backend/internal/repo"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// PreferenceService reads and writes per-recipient channel preferences.
type PreferenceService struct {
	DB    *gorm.DB
	Cache cache.Cache   // optional; nil disables caching
	TTL   time.Duration // cache entry lifetime; <= 0 selects 5m
}

// NewPreferenceService constructs a PreferenceService. c may be nil.
func NewPreferenceService(db *gorm.DB, c cache.Cache, ttl time.Duration) *PreferenceService {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &PreferenceService{DB: db, Cache: c, TTL: ttl}
}

// FindByRecipient returns the preference for a contact, or (nil, nil) when
// none is stored. Absence is not an error; defaults apply downstream.
func (s *PreferenceService) FindByRecipient(ctx context.Context, contactID string) (*domain.ChannelPreference, error) {
	tr := otel.Tracer("services/PreferenceService")
	ctx, span := tr.Start(ctx, "FindByRecipient",
		trace.WithAttributes(attribute.String("recipient.contact_id", contactID)),
	)
	defer span.End()

	if s.Cache != nil {
		if raw, err := s.Cache.Get(ctx, prefKey(contactID)); err == nil {
			var p domain.ChannelPreference
			if jerr := json.Unmarshal([]byte(raw), &p); jerr == nil {
				return &p, nil
			}
			// Corrupt entry: fall through to the repository.
		}
	}

	p, err := repo.FindPreferenceByRecipient(ctx, s.DB, contactID)
	if err != nil {
		if err == repo.ErrNotFound {
			return nil, nil
		}
		return nil, err
	}

	if s.Cache != nil {
		if raw, jerr := json.Marshal(p); jerr == nil {
			_ = s.Cache.Set(ctx, prefKey(contactID), string(raw), s.TTL)
		}
	}
	return p, nil
}

// Upsert creates or updates the preference owned by contactID, enforcing
// the quiet-hours invariant before anything touches the store, and
// invalidates the cached entry afterwards.
func (s *PreferenceService) Upsert(ctx context.Context, contactID string, p *domain.ChannelPreference) (*domain.ChannelPreference, error) {
	tr := otel.Tracer("services/PreferenceService")
	ctx, span := tr.Start(ctx, "Upsert",
		trace.WithAttributes(attribute.String("recipient.contact_id", contactID)),
	)
	defer span.End()

	p.ContactID = &contactID
	if err := p.Validate(); err != nil {
		return nil, err
	}

	existing, err := repo.FindPreferenceByRecipient(ctx, s.DB, contactID)
	switch {
	case err == nil:
		p.ID = existing.ID
		if err := repo.UpdatePreference(ctx, s.DB, p); err != nil {
			return nil, err
		}
	case err == repo.ErrNotFound:
		if err := repo.CreatePreference(ctx, s.DB, p); err != nil {
			return nil, err
		}
	default:
		return nil, err
	}

	if s.Cache != nil {
		_ = s.Cache.Del(ctx, prefKey(contactID))
	}
	return p, nil
}

// prefKey namespaces cache entries per recipient.
func prefKey(contactID string) string { return "prefs:contact:" + contactID }
