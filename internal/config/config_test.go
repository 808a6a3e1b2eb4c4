package config

import (
	"reflect"
	"testing"
	"time"
)

// --- MustLoad ---

func TestMustLoad_PanicsOnInvalidConfig(t *testing.T) {
	t.Setenv("LOG_LEVEL", "verbose") // invalid -> Load() error
	defer func() {
		if r := recover(); r == nil {
			t.Fatalf("MustLoad should panic on invalid config")
		}
	}()
	_ = MustLoad()
}

// --- Load success + normalization + parsing ---

func TestLoad_Success_DefaultsAndOverrides(t *testing.T) {
	// Server timeouts / sizes (valid)
	t.Setenv("PORT", "8088")
	t.Setenv("READ_TIMEOUT", "2s")
	t.Setenv("READ_HEADER_TIMEOUT", "1s")
	t.Setenv("WRITE_TIMEOUT", "3s")
	t.Setenv("IDLE_TIMEOUT", "4s")
	t.Setenv("MAX_HEADER_BYTES", "8192")
	t.Setenv("GIN_MODE", "weird") // will normalize to "release"

	// Logging
	t.Setenv("LOG_LEVEL", "warning") // will normalize to "warn"
	t.Setenv("LOG_PRETTY", "yes")
	t.Setenv("API_BASE_PATH", "api/v1/") // no leading slash + trailing slash -> "/api/v1"

	// App
	t.Setenv("DB_PATH", "db.sqlite")
	t.Setenv("CONTACTS_BASE_URL", "http://contacts.internal")
	t.Setenv("EMAIL_ENDPOINT", "http://mail.internal/send")
	t.Setenv("SMS_ENDPOINT", "http://sms.internal/send")
	t.Setenv("DISPATCH_TIMEOUT", "12s")
	t.Setenv("BACKOFF_BASE", "30s")
	t.Setenv("BACKOFF_CAP", "10m")
	t.Setenv("MAX_ATTEMPTS", "4")

	// Rate limiting (use invalids for parse to fall back to defaults)
	t.Setenv("RATE_RPS", "x")      // -> default 5.0
	t.Setenv("RATE_BURST", "nope") // -> default 10

	// Web protection
	t.Setenv("CORS_ALLOWED_ORIGINS", " https://a.com , , http://b ")
	t.Setenv("ENABLE_HSTS", "TRUE")
	t.Setenv("HSTS_MAX_AGE", "24h")

	// Messaging
	t.Setenv("BROKER_ENABLED", "1")
	t.Setenv("BROKER_URL", "amqp://guest:guest@mq:5672/")
	t.Setenv("BROKER_EXCHANGE", "notifx")
	t.Setenv("BROKER_QUEUE", "notifx.deliver")
	t.Setenv("BROKER_ROUTING_KEY", "go")
	t.Setenv("BROKER_RETRY_TIERS", " 30s, bogus ,5m , 1h ")
	t.Setenv("BROKER_MAX_RETRIES", "7")
	t.Setenv("REDIS_ENABLED", "on")
	t.Setenv("REDIS_ADDR", "redis:6379")
	t.Setenv("PREFERENCE_CACHE_TTL", "90s")

	// OTEL
	t.Setenv("OTEL_ENABLED", "1")
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "otel:4317")
	t.Setenv("OTEL_EXPORTER_OTLP_INSECURE", "0")
	t.Setenv("OTEL_SERVICE_NAME", "svc")
	t.Setenv("OTEL_TRACES_SAMPLER_ARG", "0.75")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	// Server
	if cfg.Port != "8088" ||
		cfg.ReadTimeout != 2*time.Second ||
		cfg.ReadHeaderTimeout != 1*time.Second ||
		cfg.WriteTimeout != 3*time.Second ||
		cfg.IdleTimeout != 4*time.Second ||
		cfg.MaxHeaderBytes != 8192 ||
		cfg.GinMode != "release" {
		t.Fatalf("server fields unexpected: %+v", cfg)
	}

	// Logging
	if cfg.LogLevel != "warn" || !cfg.LogPretty || cfg.APIBasePath != "/api/v1" {
		t.Fatalf("logging fields unexpected: %+v", cfg)
	}

	// App
	if cfg.DBPath != "db.sqlite" || cfg.ContactsBaseURL != "http://contacts.internal" {
		t.Fatalf("app fields unexpected: %+v", cfg)
	}
	if cfg.DispatchTimeout != 12*time.Second {
		t.Fatalf("dispatch timeout unexpected: %v", cfg.DispatchTimeout)
	}
	if cfg.Backoff.Base != 30*time.Second || cfg.Backoff.Cap != 10*time.Minute || cfg.Backoff.MaxAttempts != 4 {
		t.Fatalf("backoff unexpected: %+v", cfg.Backoff)
	}

	// Rate limiting (parse fallback to defaults)
	if cfg.RateRPS != 5.0 || cfg.RateBurst != 10 {
		t.Fatalf("rate limiting unexpected: %+v", cfg)
	}

	// Web protection
	if !reflect.DeepEqual(cfg.CORS.AllowedOrigins, []string{"https://a.com", "http://b"}) {
		t.Fatalf("cors origins unexpected: %#v", cfg.CORS.AllowedOrigins)
	}
	if !cfg.Security.EnableHSTS || cfg.Security.HSTSMaxAge != 24*time.Hour {
		t.Fatalf("security unexpected: %+v", cfg.Security)
	}

	// Messaging: malformed tier entries are dropped, valid ones kept in order.
	wantTiers := []time.Duration{30 * time.Second, 5 * time.Minute, time.Hour}
	if !cfg.Broker.Enabled || !reflect.DeepEqual(cfg.Broker.Tiers, wantTiers) {
		t.Fatalf("broker tiers unexpected: %#v", cfg.Broker.Tiers)
	}
	if cfg.Broker.Exchange != "notifx" || cfg.Broker.Queue != "notifx.deliver" || cfg.Broker.RoutingKey != "go" || cfg.Broker.MaxRetries != 7 {
		t.Fatalf("broker unexpected: %+v", cfg.Broker)
	}
	if !cfg.Redis.Enabled || cfg.Redis.Addr != "redis:6379" || cfg.Redis.PrefTTL != 90*time.Second {
		t.Fatalf("redis unexpected: %+v", cfg.Redis)
	}

	// OTEL
	if !cfg.OTEL.Enabled || cfg.OTEL.Endpoint != "otel:4317" || cfg.OTEL.Insecure || cfg.OTEL.ServiceName != "svc" || cfg.OTEL.SampleRatio != 0.75 {
		t.Fatalf("otel unexpected: %+v", cfg.OTEL)
	}
}

// --- Load validations (each case triggers exactly one validation error) ---

func TestLoad_ValidationErrors(t *testing.T) {
	t.Run("invalid LOG_LEVEL", func(t *testing.T) {
		t.Setenv("LOG_LEVEL", "verbose")
		if _, err := Load(); err == nil {
			t.Fatal("expected error")
		}
	})
	t.Run("non-positive DISPATCH_TIMEOUT", func(t *testing.T) {
		t.Setenv("DISPATCH_TIMEOUT", "-1s")
		if _, err := Load(); err == nil {
			t.Fatal("expected error")
		}
	})
	t.Run("cap below base", func(t *testing.T) {
		t.Setenv("BACKOFF_BASE", "10m")
		t.Setenv("BACKOFF_CAP", "1m")
		if _, err := Load(); err == nil {
			t.Fatal("expected error")
		}
	})
	t.Run("zero MAX_ATTEMPTS", func(t *testing.T) {
		t.Setenv("MAX_ATTEMPTS", "0")
		if _, err := Load(); err == nil {
			t.Fatal("expected error")
		}
	})
	t.Run("broker enabled without tiers", func(t *testing.T) {
		t.Setenv("BROKER_ENABLED", "1")
		t.Setenv("BROKER_RETRY_TIERS", "bogus")
		if _, err := Load(); err == nil {
			t.Fatal("expected error")
		}
	})
	t.Run("broker tiers must not decrease", func(t *testing.T) {
		t.Setenv("BROKER_ENABLED", "1")
		t.Setenv("BROKER_RETRY_TIERS", "5m,1m")
		if _, err := Load(); err == nil {
			t.Fatal("expected error")
		}
	})
	t.Run("sampler ratio out of range", func(t *testing.T) {
		t.Setenv("OTEL_TRACES_SAMPLER_ARG", "1.5")
		if _, err := Load(); err == nil {
			t.Fatal("expected error")
		}
	})
}
