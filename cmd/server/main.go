// Command server runs the identity synchronization service: the webhook
// ingestion gateway, the stream dispatcher, and the admin API, in one process.
package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	_ "github.com/jackc/pgx/v5/stdlib"

	"sante/internal/admin"
	"sante/internal/dispatch"
	"sante/internal/event"
	"sante/internal/gdpr"
	idstore "sante/internal/identity/store"
	"sante/internal/notify"
	"sante/internal/platform/config"
	"sante/internal/platform/httpserver"
	"sante/internal/platform/logger"
	"sante/internal/platform/metrics"
	platformredis "sante/internal/platform/redis"
	"sante/internal/roles"
	"sante/internal/stream"
	isync "sante/internal/sync"
	"sante/internal/webhook"
	"sante/migrations"
	"sante/pkg/platform/tx"
)

func main() {
	if err := run(); err != nil {
		slog.Error("server exited", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg := config.FromEnv()
	log := logger.New("sante")
	m := metrics.New()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Stream broker: Redis when configured, in-process otherwise. The memory
	// broker does not survive restarts; it exists for local development.
	var broker stream.Broker
	redisClient, err := platformredis.New(cfg.Redis)
	if err != nil {
		return fmt.Errorf("connect redis: %w", err)
	}
	if redisClient != nil {
		defer redisClient.Close()
		broker = stream.NewRedisBroker(redisClient.Client)
		log.Info("using redis stream broker")
	} else {
		broker = stream.NewMemoryBroker()
		log.Warn("no redis configured, events are not durable")
	}

	// Identity store: Postgres when configured, memory otherwise.
	var (
		store     idstore.Store
		runner    tx.Runner
		deadStore stream.DeadLetterStore
	)
	if cfg.Postgres.URL != "" {
		db, err := sql.Open("pgx", cfg.Postgres.URL)
		if err != nil {
			return fmt.Errorf("open postgres: %w", err)
		}
		defer db.Close()
		if err := db.PingContext(ctx); err != nil {
			return fmt.Errorf("ping postgres: %w", err)
		}
		if err := migrations.Apply(ctx, db); err != nil {
			return fmt.Errorf("apply migrations: %w", err)
		}
		store = idstore.NewPostgres(db)
		runner = tx.NewSQLRunner(db)
		deadStore = stream.NewPostgresDeadLetterStore(db)
		log.Info("using postgres identity store")
	} else {
		store = idstore.NewMemoryStore()
		runner = tx.Passthrough{}
		deadStore = stream.NewMemoryDeadLetterStore()
		log.Warn("no postgres configured, identity records are not durable")
	}

	// Notification bus: Kafka when configured, log-only recorder otherwise.
	var notifier notify.Notifier
	if len(cfg.Kafka.Brokers) > 0 {
		kafka, err := notify.NewKafka(ctx, cfg.Kafka)
		if err != nil {
			return fmt.Errorf("connect kafka: %w", err)
		}
		defer kafka.Close()
		notifier = kafka
		log.Info("using kafka notifier", "brokers", cfg.Kafka.Brokers)
	} else {
		notifier = notify.NewRecorder(log)
		log.Warn("no kafka configured, notifications are logged only")
	}
	notifier = notify.NewRetrying(notifier)

	hasher := gdpr.NewHasher(cfg.GDPR.CorrelationSalt)
	engine := gdpr.NewEngine(store, runner, notifier, hasher,
		gdpr.WithGracePeriod(cfg.GDPR.GracePeriod),
		gdpr.WithLogger(log),
		gdpr.WithMetrics(m),
	)

	rolesClient := roles.NewClient(cfg.Provider, log, roles.WithMetrics(m))

	registry := isync.NewRegistry(map[string]isync.Handler{
		event.TypeRegister:      isync.NewRegistrationHandler(store, runner, engine, notifier, log),
		event.TypeUpdateProfile: isync.NewProfileHandler(store, runner),
		event.TypeUpdateEmail:   isync.NewEmailHandler(store, runner),
		event.TypeLogin:         isync.NewLoginHandler(notifier, log),
		event.TypeDeleteAccount: isync.NewDeletionHandler(rolesClient, store, engine, log),
	})

	deadSink := stream.NewFanoutSink(
		stream.NewStreamSink(broker, cfg.Dispatcher.DeadLetterStream),
		stream.NewStoreSink(deadStore),
	)
	dispatcher := dispatch.New(broker, deadSink,
		dispatch.NewPolicy(cfg.Dispatcher.AllowedClients), registry, cfg.Dispatcher, log, m)

	verifier := webhook.NewVerifier(cfg.Webhook.Secret, cfg.Webhook.Tolerance)
	webhookHandler := webhook.New(verifier, broker, cfg.Webhook, cfg.Dispatcher.Stream, log, m)
	validator := admin.NewTokenValidator(cfg.Server.JWTSigningKey, cfg.Server.AdminTokenHash)
	adminHandler := admin.New(engine, store, deadStore, validator, log)

	router := chi.NewRouter()
	router.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	router.Method(http.MethodGet, "/metrics", promhttp.Handler())
	adminHandler.Register(router)
	webhookHandler.Register(router)

	srv := httpserver.New(cfg.Server.Addr, router)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("http server listening", "addr", cfg.Server.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	g.Go(func() error { return dispatcher.Run(ctx) })
	g.Go(func() error { return dispatcher.RunReclaim(ctx) })

	if cfg.GDPR.SweepInterval > 0 {
		g.Go(func() error { return runSweep(ctx, engine, cfg.GDPR.SweepInterval, log) })
	} else {
		log.Info("anonymization sweep ticker disabled, use the admin endpoint")
	}

	log.Info("sante started")
	err = g.Wait()
	log.Info("sante stopped")
	return err
}

// runSweep anonymizes expired records on a fixed interval until ctx is
// cancelled.
func runSweep(ctx context.Context, engine *gdpr.Engine, interval time.Duration, log *slog.Logger) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}

		count, err := engine.AnonymizeExpired(ctx, time.Now().UTC())
		if err != nil {
			log.ErrorContext(ctx, "anonymization sweep failed", "error", err)
			continue
		}
		if count > 0 {
			log.InfoContext(ctx, "anonymization sweep completed", "anonymized", count)
		}
	}
}
