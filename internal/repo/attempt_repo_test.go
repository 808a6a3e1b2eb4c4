package repo

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/tbourn/go-notify-backend/internal/domain"
)

func TestCreateAttempt_InsertsPending(t *testing.T) {
	db := newRepoDB(t, &domain.DeliveryAttempt{})

	a, err := CreateAttempt(context.Background(), db, "q1", domain.ChannelEmail, "a@example.com", 1)
	if err != nil {
		t.Fatalf("CreateAttempt: %v", err)
	}
	if a.ID == "" || a.Status != domain.StatusPending || a.AttemptNumber != 1 {
		t.Fatalf("unexpected attempt: %+v", a)
	}

	got, err := GetAttempt(context.Background(), db, a.ID)
	if err != nil {
		t.Fatalf("GetAttempt: %v", err)
	}
	if got.Channel != domain.ChannelEmail || got.RecipientAddress != "a@example.com" {
		t.Fatalf("round-trip mismatch: %+v", got)
	}
}

func TestUpdateAttemptStatus_PersistsTransition(t *testing.T) {
	db := newRepoDB(t, &domain.DeliveryAttempt{})
	a, _ := CreateAttempt(context.Background(), db, "q1", domain.ChannelSMS, "+15551234567", 1)

	errText := "gateway timeout"
	next := time.Date(2026, 3, 10, 12, 1, 0, 0, time.UTC)
	if err := UpdateAttemptStatus(context.Background(), db, a, domain.StatusFailed, AttemptUpdate{
		Error:       &errText,
		NextRetryAt: &next,
	}); err != nil {
		t.Fatalf("fail transition: %v", err)
	}

	got, _ := GetAttempt(context.Background(), db, a.ID)
	if got.Status != domain.StatusFailed || got.Error == nil || *got.Error != errText {
		t.Fatalf("failed row not persisted: %+v", got)
	}
	if got.NextRetryAt == nil || !got.NextRetryAt.Equal(next) {
		t.Fatalf("NextRetryAt = %v, want %v", got.NextRetryAt, next)
	}
	if !got.Retryable() {
		t.Fatal("failed attempt with schedule must be retryable")
	}
}

func TestUpdateAttemptStatus_IllegalTransitionWritesNothing(t *testing.T) {
	db := newRepoDB(t, &domain.DeliveryAttempt{})
	a, _ := CreateAttempt(context.Background(), db, "q1", domain.ChannelEmail, "a@example.com", 1)

	pmid := "prov-1"
	if err := UpdateAttemptStatus(context.Background(), db, a, domain.StatusSent, AttemptUpdate{ProviderMessageID: &pmid}); err != nil {
		t.Fatalf("sent transition: %v", err)
	}

	// sent is terminal: no further moves.
	err := UpdateAttemptStatus(context.Background(), db, a, domain.StatusFailed, AttemptUpdate{})
	if !errors.Is(err, domain.ErrIllegalTransition) {
		t.Fatalf("err = %v, want ErrIllegalTransition", err)
	}
	got, _ := GetAttempt(context.Background(), db, a.ID)
	if got.Status != domain.StatusSent || got.ProviderMessageID == nil || *got.ProviderMessageID != pmid {
		t.Fatalf("terminal row mutated: %+v", got)
	}
}

func TestUpdateAttemptStatus_ConcurrentTransitionLosesRace(t *testing.T) {
	db := newRepoDB(t, &domain.DeliveryAttempt{})
	a, _ := CreateAttempt(context.Background(), db, "q1", domain.ChannelEmail, "a@example.com", 1)

	errText := "gateway 503"
	next := time.Date(2026, 3, 10, 12, 1, 0, 0, time.UTC)
	if err := UpdateAttemptStatus(context.Background(), db, a, domain.StatusFailed, AttemptUpdate{
		Error:       &errText,
		NextRetryAt: &next,
	}); err != nil {
		t.Fatalf("fail transition: %v", err)
	}

	// Two workers loaded the same failed row. The first transition wins;
	// the second matches nothing and must not double-write.
	winner, loser := *a, *a
	if err := UpdateAttemptStatus(context.Background(), db, &winner, domain.StatusRetried, AttemptUpdate{Error: &errText}); err != nil {
		t.Fatalf("winner transition: %v", err)
	}
	err := UpdateAttemptStatus(context.Background(), db, &loser, domain.StatusRetried, AttemptUpdate{})
	if !errors.Is(err, ErrStaleAttempt) {
		t.Fatalf("err = %v, want ErrStaleAttempt", err)
	}

	got, _ := GetAttempt(context.Background(), db, a.ID)
	if got.Status != domain.StatusRetried || got.Error == nil || *got.Error != errText {
		t.Fatalf("winner's write clobbered: %+v", got)
	}
}

func TestListAttempts_OrderAndPagination(t *testing.T) {
	db := newRepoDB(t, &domain.DeliveryAttempt{})

	base := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	rows := []domain.DeliveryAttempt{
		{ID: "a1", RequestID: "q1", Channel: domain.ChannelEmail, AttemptNumber: 1, Status: domain.StatusRetried, CreatedAt: base},
		{ID: "a2", RequestID: "q1", Channel: domain.ChannelSMS, AttemptNumber: 1, Status: domain.StatusSent, CreatedAt: base.Add(time.Second)},
		{ID: "a3", RequestID: "q1", Channel: domain.ChannelEmail, AttemptNumber: 2, Status: domain.StatusSent, CreatedAt: base.Add(2 * time.Second)},
		{ID: "zz", RequestID: "q2", Channel: domain.ChannelEmail, AttemptNumber: 1, Status: domain.StatusSent, CreatedAt: base},
	}
	for _, r := range rows {
		if err := db.Create(&r).Error; err != nil {
			t.Fatalf("seed %s: %v", r.ID, err)
		}
	}

	all, err := ListAttemptsByRequest(context.Background(), db, "q1")
	if err != nil {
		t.Fatalf("ListAttemptsByRequest: %v", err)
	}
	if len(all) != 3 || all[0].ID != "a1" || all[1].ID != "a2" || all[2].ID != "a3" {
		t.Fatalf("unexpected order: %+v", all)
	}

	total, err := CountAttempts(context.Background(), db, "q1")
	if err != nil || total != 3 {
		t.Fatalf("CountAttempts = %d, %v; want 3", total, err)
	}

	page, err := ListAttemptsPage(context.Background(), db, "q1", 1, 1)
	if err != nil || len(page) != 1 || page[0].ID != "a2" {
		t.Fatalf("page = %+v, %v; want [a2]", page, err)
	}
}

func TestLatestAttemptsByChannel(t *testing.T) {
	db := newRepoDB(t, &domain.DeliveryAttempt{})

	base := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	next := base.Add(time.Minute)
	rows := []domain.DeliveryAttempt{
		{ID: "a1", RequestID: "q1", Channel: domain.ChannelEmail, AttemptNumber: 1, Status: domain.StatusRetried, CreatedAt: base},
		{ID: "a2", RequestID: "q1", Channel: domain.ChannelEmail, AttemptNumber: 2, Status: domain.StatusFailed, NextRetryAt: &next, CreatedAt: base.Add(time.Second)},
		{ID: "a3", RequestID: "q1", Channel: domain.ChannelSMS, AttemptNumber: 1, Status: domain.StatusSent, CreatedAt: base},
	}
	for _, r := range rows {
		if err := db.Create(&r).Error; err != nil {
			t.Fatalf("seed %s: %v", r.ID, err)
		}
	}

	latest, err := LatestAttemptsByChannel(context.Background(), db, "q1")
	if err != nil {
		t.Fatalf("LatestAttemptsByChannel: %v", err)
	}
	if len(latest) != 2 {
		t.Fatalf("latest has %d channels, want 2", len(latest))
	}
	if latest[domain.ChannelEmail].ID != "a2" {
		t.Fatalf("email latest = %s, want a2", latest[domain.ChannelEmail].ID)
	}
	if !latest[domain.ChannelEmail].Retryable() {
		t.Fatal("email latest must be retryable")
	}
	if latest[domain.ChannelSMS].ID != "a3" || latest[domain.ChannelSMS].Retryable() {
		t.Fatalf("sms latest = %+v, want sent a3", latest[domain.ChannelSMS])
	}
}
