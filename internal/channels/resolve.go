// Package channels implements the channel resolution engine: a pure function
// that maps requested channels, recipient preferences, message attributes,
// and the current instant to a concrete channel set. It performs no I/O and
// never delays delivery itself: quiet-hours status is only reported, and
// the decision to defer belongs to the caller.
package channels

import (
	"time"

	"github.com/tbourn/go-notify-backend/internal/domain"
)

// Skip reasons reported for channels that were considered but excluded.
const (
	SkipSensitivePolicy    = "sensitive_email_only"
	SkipPreferenceDisabled = "preference_disabled"
	SkipNotRequested       = "not_requested"
)

// Skipped describes one channel that resolution excluded, for diagnostics.
type Skipped struct {
	Channel domain.Channel `json:"channel"`
	Reason  string         `json:"reason"`
}

// MessageAttributes carries the two message fields resolution depends on.
type MessageAttributes struct {
	Sensitive bool
	Urgency   domain.Urgency
}

// Resolution is the outcome of Resolve. Channels is the effective set in a
// stable order (email before SMS); Skipped lists every considered-but-
// excluded channel and is empty when nothing was excluded.
type Resolution struct {
	Channels         []domain.Channel
	Skipped          []Skipped
	InQuietHours     bool
	QuietHoursEndUTC *time.Time
}

// Includes reports whether the effective set contains c.
func (r Resolution) Includes(c domain.Channel) bool {
	for _, ch := range r.Channels {
		if ch == c {
			return true
		}
	}
	return false
}

// Resolve computes the effective channel set. Precedence, highest first:
//
//  1. Sensitive messages deliver on email only; SMS is always skipped and
//     quiet hours are bypassed. Sensitivity is a confidentiality control
//     that urgency must not override.
//  2. Urgent messages deliver on both channels unconditionally, overriding
//     preferences and bypassing quiet hours.
//  3. Important messages force email on; SMS follows the preference flag.
//     Quiet hours are evaluated and reported.
//  4. Normal messages start from the requested set (nil means the full
//     default set, an explicitly empty slice means an empty result) and
//     drop any channel whose preference flag is off. Quiet hours are
//     evaluated and reported.
func Resolve(requested []domain.Channel, prefs *domain.ChannelPreference, msg MessageAttributes, now time.Time) Resolution {
	switch {
	case msg.Sensitive:
		return Resolution{
			Channels: []domain.Channel{domain.ChannelEmail},
			Skipped:  []Skipped{{Channel: domain.ChannelSMS, Reason: SkipSensitivePolicy}},
		}

	case msg.Urgency == domain.UrgencyUrgent:
		return Resolution{
			Channels: []domain.Channel{domain.ChannelEmail, domain.ChannelSMS},
		}

	case msg.Urgency == domain.UrgencyImportant:
		res := Resolution{Channels: []domain.Channel{domain.ChannelEmail}}
		if prefs.Enabled(domain.ChannelSMS) {
			res.Channels = append(res.Channels, domain.ChannelSMS)
		} else {
			res.Skipped = append(res.Skipped, Skipped{Channel: domain.ChannelSMS, Reason: SkipPreferenceDisabled})
		}
		res.InQuietHours, res.QuietHoursEndUTC = evalQuietHours(prefs, now)
		return res

	default:
		want := requested
		if want == nil {
			want = []domain.Channel{domain.ChannelEmail, domain.ChannelSMS}
		}
		res := Resolution{}
		for _, c := range []domain.Channel{domain.ChannelEmail, domain.ChannelSMS} {
			if !contains(want, c) {
				res.Skipped = append(res.Skipped, Skipped{Channel: c, Reason: SkipNotRequested})
				continue
			}
			if !prefs.Enabled(c) {
				res.Skipped = append(res.Skipped, Skipped{Channel: c, Reason: SkipPreferenceDisabled})
				continue
			}
			res.Channels = append(res.Channels, c)
		}
		res.InQuietHours, res.QuietHoursEndUTC = evalQuietHours(prefs, now)
		return res
	}
}

// evalQuietHours tests membership of now in the preference's local-time
// window [start, end), which may wrap midnight (22:00–07:00 spans two
// calendar days). It returns false with no end instant unless all three
// quiet-hours fields are set. When inside the window it also computes the
// next UTC instant at which the window ends.
//
// Preferences are validated at the boundary, so a malformed stored value is
// treated as "no window" rather than an error.
func evalQuietHours(prefs *domain.ChannelPreference, now time.Time) (bool, *time.Time) {
	if !prefs.QuietHoursConfigured() {
		return false, nil
	}
	loc, err := time.LoadLocation(*prefs.QuietHoursTz)
	if err != nil {
		return false, nil
	}
	startH, startM, ok1 := parseClock(*prefs.QuietHoursStart)
	endH, endM, ok2 := parseClock(*prefs.QuietHoursEnd)
	if !ok1 || !ok2 {
		return false, nil
	}

	local := now.In(loc)
	y, m, d := local.Date()
	start := time.Date(y, m, d, startH, startM, 0, 0, loc)
	end := time.Date(y, m, d, endH, endM, 0, 0, loc)

	if !end.After(start) {
		// Window wraps midnight: inside when past today's start or before
		// today's end.
		switch {
		case !local.Before(start):
			endUTC := end.AddDate(0, 0, 1).UTC()
			return true, &endUTC
		case local.Before(end):
			endUTC := end.UTC()
			return true, &endUTC
		default:
			return false, nil
		}
	}

	if !local.Before(start) && local.Before(end) {
		endUTC := end.UTC()
		return true, &endUTC
	}
	return false, nil
}

// parseClock splits a validated "HH:MM" value into its components.
func parseClock(s string) (hour, minute int, ok bool) {
	if len(s) != 5 || s[2] != ':' {
		return 0, 0, false
	}
	h := int(s[0]-'0')*10 + int(s[1]-'0')
	m := int(s[3]-'0')*10 + int(s[4]-'0')
	if h < 0 || h > 23 || m < 0 || m > 59 {
		return 0, 0, false
	}
	return h, m, true
}

func contains(set []domain.Channel, c domain.Channel) bool {
	for _, x := range set {
		if x == c {
			return true
		}
	}
	return false
}
