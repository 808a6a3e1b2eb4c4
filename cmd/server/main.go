// Command server boots the notification delivery engine: SQLite storage,
// optional Redis preference cache, optional AMQP consumer with tiered retry
// queues, the channel dispatcher registry, and the public HTTP API.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/tbourn/go-notify-backend/internal/broker"
	"github.com/tbourn/go-notify-backend/internal/cache"
	"github.com/tbourn/go-notify-backend/internal/config"
	"github.com/tbourn/go-notify-backend/internal/consumer"
	"github.com/tbourn/go-notify-backend/internal/contacts"
	"github.com/tbourn/go-notify-backend/internal/delivery"
	"github.com/tbourn/go-notify-backend/internal/dispatch"
	"github.com/tbourn/go-notify-backend/internal/domain"
	httpapi "github.com/tbourn/go-notify-backend/internal/http"
	"github.com/tbourn/go-notify-backend/internal/observability"
	"github.com/tbourn/go-notify-backend/internal/repo"
	"github.com/tbourn/go-notify-backend/internal/services"
)

// version is stamped at build time via -ldflags.
var version = "dev"

func main() {
	_ = godotenv.Load()
	cfg := config.MustLoad()

	setupLogger(cfg)
	gin.SetMode(cfg.GinMode)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownOTel, err := observability.SetupOTel(ctx, cfg.OTEL, version)
	if err != nil {
		log.Fatal().Err(err).Msg("otel setup failed")
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownOTel(sctx)
	}()

	db, err := repo.OpenSQLite(cfg.DBPath)
	if err != nil {
		log.Fatal().Err(err).Str("path", cfg.DBPath).Msg("open database failed")
	}
	if err := repo.AutoMigrate(db); err != nil {
		log.Fatal().Err(err).Msg("migration failed")
	}

	var prefCache cache.Cache
	if cfg.Redis.Enabled {
		rc, err := cache.NewRedis(ctx, cfg.Redis.Addr)
		if err != nil {
			log.Fatal().Err(err).Str("addr", cfg.Redis.Addr).Msg("redis connect failed")
		}
		defer rc.Close()
		prefCache = rc
	}

	prefSvc := services.NewPreferenceService(db, prefCache, cfg.Redis.PrefTTL)
	deliverySvc := services.NewDeliveryService(
		db,
		buildContactResolver(cfg),
		buildDispatchers(cfg),
		prefSvc,
		delivery.NewBackoffPolicy(cfg.Backoff.Base, cfg.Backoff.Cap, cfg.Backoff.MaxAttempts),
	)
	deliverySvc.DispatchTimeout = cfg.DispatchTimeout

	if cfg.Broker.Enabled {
		b, err := broker.Dial(broker.Config{
			URL:        cfg.Broker.URL,
			Exchange:   cfg.Broker.Exchange,
			Queue:      cfg.Broker.Queue,
			RoutingKey: cfg.Broker.RoutingKey,
			Tiers:      cfg.Broker.Tiers,
		})
		if err != nil {
			log.Fatal().Err(err).Msg("broker connect failed")
		}
		defer b.Close()

		deliveries, err := b.Consume("notify-consumer")
		if err != nil {
			log.Fatal().Err(err).Msg("broker consume failed")
		}
		cons := consumer.NewConsumer(deliverySvc, b, log.With().Str("component", "consumer").Logger())
		cons.MaxRedrives = cfg.Broker.MaxRetries
		go func() {
			if err := cons.Run(ctx, deliveries); err != nil && !errors.Is(err, context.Canceled) {
				log.Error().Err(err).Msg("consumer stopped")
			}
		}()
		log.Info().Int("tiers", b.TierCount()).Str("queue", cfg.Broker.Queue).Msg("consumer started")
	}

	r := gin.New()
	httpapi.RegisterRoutes(r, deliverySvc, prefSvc, cfg)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
		MaxHeaderBytes:    cfg.MaxHeaderBytes,
	}

	go func() {
		log.Info().Str("port", cfg.Port).Str("version", version).Msg("http server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("http server failed")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down")

	sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(sctx); err != nil {
		log.Error().Err(err).Msg("http shutdown failed")
	}
}

// setupLogger configures the global zerolog logger from config.
func setupLogger(cfg config.Config) {
	lvl, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)
	zerolog.TimeFieldFormat = time.RFC3339
	if cfg.LogPretty {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	}
}

// buildContactResolver selects the HTTP contact service when configured, or
// an empty static resolver for isolated runs.
func buildContactResolver(cfg config.Config) contacts.Resolver {
	if strings.TrimSpace(cfg.ContactsBaseURL) != "" {
		return contacts.NewHTTPResolver(cfg.ContactsBaseURL, cfg.ContactsToken, 10*time.Second)
	}
	log.Warn().Msg("no contact service configured, using empty static resolver")
	return contacts.Static{}
}

// buildDispatchers registers one webhook dispatcher per configured channel
// gateway. A channel without an endpoint is simply absent from the registry
// and reported as undeliverable per request.
func buildDispatchers(cfg config.Config) dispatch.Registry {
	reg := dispatch.Registry{}
	if strings.TrimSpace(cfg.EmailEndpoint) != "" {
		reg[domain.ChannelEmail] = dispatch.NewWebhookDispatcher("email", cfg.EmailEndpoint, cfg.EmailToken, cfg.DispatchTimeout)
	}
	if strings.TrimSpace(cfg.SMSEndpoint) != "" {
		reg[domain.ChannelSMS] = dispatch.NewWebhookDispatcher("sms", cfg.SMSEndpoint, cfg.SMSToken, cfg.DispatchTimeout)
	}
	if len(reg) == 0 {
		log.Warn().Msg("no channel gateways configured, every delivery will be undeliverable")
	}
	return reg
}
