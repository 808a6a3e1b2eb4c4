package broker

import (
	"context"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

func TestRetryCount(t *testing.T) {
	cases := []struct {
		name    string
		headers amqp.Table
		want    int
	}{
		{"nil headers", nil, 0},
		{"absent", amqp.Table{}, 0},
		{"int", amqp.Table{RetryCountHeader: 3}, 3},
		{"int32", amqp.Table{RetryCountHeader: int32(4)}, 4},
		{"int64", amqp.Table{RetryCountHeader: int64(5)}, 5},
		{"float64", amqp.Table{RetryCountHeader: float64(2)}, 2},
		{"malformed", amqp.Table{RetryCountHeader: "two"}, 0},
	}
	for _, c := range cases {
		if got := RetryCount(c.headers); got != c.want {
			t.Errorf("%s: RetryCount = %d, want %d", c.name, got, c.want)
		}
	}
}

func TestTierNaming(t *testing.T) {
	b := &Broker{cfg: Config{
		Exchange:   "notify",
		Queue:      "notify.deliver",
		RoutingKey: "deliver",
		Tiers:      []time.Duration{time.Minute, 5 * time.Minute, 30 * time.Minute},
	}}

	if got := b.retryExchange(); got != "notify.retry" {
		t.Fatalf("retryExchange = %s", got)
	}
	if got := b.tierQueue(0); got != "notify.deliver.retry.1" {
		t.Fatalf("tierQueue(0) = %s", got)
	}
	if got := b.tierQueue(2); got != "notify.deliver.retry.3" {
		t.Fatalf("tierQueue(2) = %s", got)
	}
	if got := b.tierKey(1); got != "deliver.tier.2" {
		t.Fatalf("tierKey(1) = %s", got)
	}
	if got := b.TierCount(); got != 3 {
		t.Fatalf("TierCount = %d", got)
	}
}

func TestPublishToTier_RequiresTiers(t *testing.T) {
	b := &Broker{cfg: Config{Exchange: "notify", Queue: "q", RoutingKey: "k"}}
	if err := b.PublishToTier(context.Background(), 0, nil, nil); err == nil {
		t.Fatal("expected error with no tiers configured")
	}
}
