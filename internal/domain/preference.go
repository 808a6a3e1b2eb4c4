package domain

import (
	"errors"
	"regexp"
	"time"
)

// Preference validation errors, returned at construction/update time so a
// malformed preference never reaches the store.
var (
	// ErrPreferenceOwnerRequired indicates that neither a user nor a contact
	// identity owns the preference row.
	ErrPreferenceOwnerRequired = errors.New("preference requires a user or contact owner")

	// ErrQuietHoursIncomplete indicates a partially specified quiet-hours
	// window. The three fields (start, end, timezone) are all-or-nothing.
	ErrQuietHoursIncomplete = errors.New("quiet hours start, end and timezone must be set together")

	// ErrQuietHoursInvalidTime indicates a start/end value outside the
	// zero-padded 24h range 00:00–23:59.
	ErrQuietHoursInvalidTime = errors.New("quiet hours times must be HH:MM between 00:00 and 23:59")

	// ErrQuietHoursInvalidZone indicates an unknown IANA timezone name.
	ErrQuietHoursInvalidZone = errors.New("quiet hours timezone must be a valid IANA zone")
)

// quietHourRE accepts zero-padded 24h clock values (e.g. "07:30", "22:00").
var quietHourRE = regexp.MustCompile(`^([01][0-9]|2[0-3]):[0-5][0-9]$`)

// ChannelPreference stores per-recipient delivery settings, owned by a user
// or contact identity (at least one owner key is required). Channel flags
// default to enabled; the quiet-hours window is optional but must be fully
// specified when any of its three fields is present.
type ChannelPreference struct {
	ID              string    `json:"id"          gorm:"type:char(36);primaryKey"`
	UserID          *string   `json:"user_id,omitempty"    gorm:"type:varchar(64);uniqueIndex:ux_prefs_user"`
	ContactID       *string   `json:"contact_id,omitempty" gorm:"type:varchar(64);uniqueIndex:ux_prefs_contact"`
	EmailEnabled    bool      `json:"email_enabled"   gorm:"not null;default:true"`
	SMSEnabled      bool      `json:"sms_enabled"     gorm:"not null;default:true"`
	QuietHoursStart *string   `json:"quiet_hours_start,omitempty" gorm:"type:varchar(5)"`
	QuietHoursEnd   *string   `json:"quiet_hours_end,omitempty"   gorm:"type:varchar(5)"`
	QuietHoursTz    *string   `json:"quiet_hours_tz,omitempty"    gorm:"type:varchar(64)"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// TableName returns the database table name for ChannelPreference.
func (ChannelPreference) TableName() string { return "channel_preferences" }

// Validate enforces the preference invariants: an owner key must exist and
// the quiet-hours fields are all-or-nothing, with valid clock values and a
// resolvable IANA zone.
func (p *ChannelPreference) Validate() error {
	if (p.UserID == nil || *p.UserID == "") && (p.ContactID == nil || *p.ContactID == "") {
		return ErrPreferenceOwnerRequired
	}

	set := 0
	for _, f := range []*string{p.QuietHoursStart, p.QuietHoursEnd, p.QuietHoursTz} {
		if f != nil && *f != "" {
			set++
		}
	}
	switch set {
	case 0:
		return nil
	case 3:
		// fall through to field checks
	default:
		return ErrQuietHoursIncomplete
	}

	if !quietHourRE.MatchString(*p.QuietHoursStart) || !quietHourRE.MatchString(*p.QuietHoursEnd) {
		return ErrQuietHoursInvalidTime
	}
	if _, err := time.LoadLocation(*p.QuietHoursTz); err != nil {
		return ErrQuietHoursInvalidZone
	}
	return nil
}

// QuietHoursConfigured reports whether the full quiet-hours window is set.
func (p *ChannelPreference) QuietHoursConfigured() bool {
	return p != nil &&
		p.QuietHoursStart != nil && *p.QuietHoursStart != "" &&
		p.QuietHoursEnd != nil && *p.QuietHoursEnd != "" &&
		p.QuietHoursTz != nil && *p.QuietHoursTz != ""
}

// Enabled reports whether the given channel is switched on. A nil receiver
// behaves as the default preference (everything enabled), so callers can
// pass through a missing row without special-casing.
func (p *ChannelPreference) Enabled(c Channel) bool {
	if p == nil {
		return true
	}
	switch c {
	case ChannelEmail:
		return p.EmailEnabled
	case ChannelSMS:
		return p.SMSEnabled
	default:
		return false
	}
}
