package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/xelth-com/sensestamp/internal/buildinfo"
	"github.com/xelth-com/sensestamp/internal/config"
	"github.com/xelth-com/sensestamp/internal/database"
	"github.com/xelth-com/sensestamp/internal/handlers"
	"github.com/xelth-com/sensestamp/internal/mqtt"
	"github.com/xelth-com/sensestamp/internal/repository"
	"github.com/xelth-com/sensestamp/internal/services/eventlog"
	"github.com/xelth-com/sensestamp/internal/services/ingest"
	"github.com/xelth-com/sensestamp/internal/services/proof"
	"github.com/xelth-com/sensestamp/internal/services/registry"
	"github.com/xelth-com/sensestamp/internal/services/tenant"
	"github.com/xelth-com/sensestamp/internal/websocket"
)

func main() {
	// 1. Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("loading configuration")
	}

	logger := newLogger(cfg)
	log.Logger = logger

	build := buildinfo.Get()
	logger.Info().
		Str("commit", build.Commit).
		Str("build_time", build.BuildTime).
		Str("env", cfg.NodeEnv).
		Msg("starting sensestamp api")

	// 2. Error reporting (optional)
	var reporter *sentry.Client
	if cfg.SentryDSN != "" {
		reporter, err = sentry.NewClient(sentry.ClientOptions{
			Dsn:         cfg.SentryDSN,
			Release:     build.Commit,
			Environment: cfg.NodeEnv,
		})
		if err != nil {
			logger.Fatal().Err(err).Msg("creating sentry client")
		}
		defer reporter.Flush(2 * time.Second)
	}

	// 3. Database (embedded, external or sqlite)
	db, err := database.Connect(cfg.Database)
	if err != nil {
		logger.Fatal().Err(err).Msg("connecting to database")
	}
	if err := database.Migrate(db.DB); err != nil {
		logger.Fatal().Err(err).Msg("migrating schema")
	}
	store := repository.New(db.DB)

	// 4. Services
	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	hub := websocket.NewHub()
	go hub.Run(ctx)

	ingestSvc := ingest.NewService(store, ingest.WithNotifier(hub))
	deps := handlers.Deps{
		Ingest:   ingestSvc,
		Registry: registry.NewService(store),
		Proof:    proof.NewService(store, cfg.PublicBaseURL),
		Events:   eventlog.NewService(store),
		Tenants:  tenant.NewService(store, cfg.JWTSecret),
		Hub:      hub,
		Reporter: reporter,
		Logger:   logger,
	}

	// 5. Start server with graceful shutdown
	router := handlers.NewRouter(deps)
	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	go func() {
		logger.Info().Str("port", cfg.Port).Msg("serving http")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("http server")
		}
	}()

	// 6. MQTT transport (optional), connected after HTTP is up
	var subscriber *mqtt.Subscriber
	if cfg.MQTT.Enabled() {
		subscriber = mqtt.NewSubscriber(cfg.MQTT, ingestSvc, logger)
		if err := subscriber.Connect(); err != nil {
			logger.Error().Err(err).Msg("mqtt transport disabled")
			subscriber = nil
		}
	}

	sig := <-shutdown
	logger.Info().Str("signal", sig.String()).Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("http server shutdown")
	}
	if subscriber != nil {
		subscriber.Close()
	}
	stop()

	// Closing the database also stops embedded PostgreSQL
	if err := db.Close(); err != nil {
		logger.Error().Err(err).Msg("closing database")
	}

	logger.Info().Msg("shutdown complete")
}

func newLogger(cfg *config.Config) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}

	var logger zerolog.Logger
	if cfg.IsProduction() {
		logger = zerolog.New(os.Stdout)
	} else {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339})
	}
	return logger.Level(level).With().Timestamp().Logger()
}
