package domain

import (
	"errors"
	"testing"
)

func strptr(s string) *string { return &s }

func TestChannelPreference_Validate_OwnerRequired(t *testing.T) {
	p := &ChannelPreference{EmailEnabled: true, SMSEnabled: true}
	if err := p.Validate(); !errors.Is(err, ErrPreferenceOwnerRequired) {
		t.Fatalf("err = %v, want ErrPreferenceOwnerRequired", err)
	}

	p.ContactID = strptr("")
	if err := p.Validate(); !errors.Is(err, ErrPreferenceOwnerRequired) {
		t.Fatalf("empty owner: err = %v, want ErrPreferenceOwnerRequired", err)
	}

	p.ContactID = strptr("r1")
	if err := p.Validate(); err != nil {
		t.Fatalf("contact owner should suffice: %v", err)
	}

	p = &ChannelPreference{UserID: strptr("u1")}
	if err := p.Validate(); err != nil {
		t.Fatalf("user owner should suffice: %v", err)
	}
}

func TestChannelPreference_Validate_QuietHoursAllOrNothing(t *testing.T) {
	base := func() *ChannelPreference {
		return &ChannelPreference{ContactID: strptr("r1"), EmailEnabled: true, SMSEnabled: true}
	}

	// None set: fine.
	if err := base().Validate(); err != nil {
		t.Fatalf("no quiet hours: %v", err)
	}

	// One or two of three set: rejected.
	partials := []*ChannelPreference{}
	p := base()
	p.QuietHoursStart = strptr("22:00")
	partials = append(partials, p)
	p = base()
	p.QuietHoursStart = strptr("22:00")
	p.QuietHoursEnd = strptr("07:00")
	partials = append(partials, p)
	p = base()
	p.QuietHoursTz = strptr("UTC")
	partials = append(partials, p)

	for i, p := range partials {
		if err := p.Validate(); !errors.Is(err, ErrQuietHoursIncomplete) {
			t.Errorf("partial %d: err = %v, want ErrQuietHoursIncomplete", i, err)
		}
	}

	// All three set: fine.
	p = base()
	p.QuietHoursStart = strptr("22:00")
	p.QuietHoursEnd = strptr("07:00")
	p.QuietHoursTz = strptr("Europe/Athens")
	if err := p.Validate(); err != nil {
		t.Fatalf("full quiet hours: %v", err)
	}
}

func TestChannelPreference_Validate_QuietHoursFieldChecks(t *testing.T) {
	mk := func(start, end, tz string) *ChannelPreference {
		return &ChannelPreference{
			ContactID:       strptr("r1"),
			QuietHoursStart: strptr(start),
			QuietHoursEnd:   strptr(end),
			QuietHoursTz:    strptr(tz),
		}
	}

	badTimes := []*ChannelPreference{
		mk("24:00", "07:00", "UTC"),
		mk("22:00", "7:00", "UTC"), // not zero-padded
		mk("22:60", "07:00", "UTC"),
		mk("nope", "07:00", "UTC"),
	}
	for i, p := range badTimes {
		if err := p.Validate(); !errors.Is(err, ErrQuietHoursInvalidTime) {
			t.Errorf("bad time %d: err = %v, want ErrQuietHoursInvalidTime", i, err)
		}
	}

	if err := mk("22:00", "07:00", "Mars/Olympus").Validate(); !errors.Is(err, ErrQuietHoursInvalidZone) {
		t.Fatalf("bad zone: err should be ErrQuietHoursInvalidZone")
	}
	if err := mk("00:00", "23:59", "America/New_York").Validate(); err != nil {
		t.Fatalf("boundary clock values should pass: %v", err)
	}
}

func TestChannelPreference_Enabled_NilReceiverDefaults(t *testing.T) {
	var p *ChannelPreference
	if !p.Enabled(ChannelEmail) || !p.Enabled(ChannelSMS) {
		t.Fatal("nil preference must report every channel enabled")
	}

	p = &ChannelPreference{EmailEnabled: false, SMSEnabled: true}
	if p.Enabled(ChannelEmail) {
		t.Fatal("email disabled but Enabled returned true")
	}
	if !p.Enabled(ChannelSMS) {
		t.Fatal("sms enabled but Enabled returned false")
	}
	if p.Enabled(Channel("push")) {
		t.Fatal("unknown channel must be disabled")
	}
}

func TestChannelPreference_QuietHoursConfigured(t *testing.T) {
	var nilPref *ChannelPreference
	if nilPref.QuietHoursConfigured() {
		t.Fatal("nil preference has no quiet hours")
	}
	p := &ChannelPreference{
		ContactID:       strptr("r1"),
		QuietHoursStart: strptr("22:00"),
		QuietHoursEnd:   strptr("07:00"),
	}
	if p.QuietHoursConfigured() {
		t.Fatal("missing tz must not count as configured")
	}
	p.QuietHoursTz = strptr("UTC")
	if !p.QuietHoursConfigured() {
		t.Fatal("full window must count as configured")
	}
}
