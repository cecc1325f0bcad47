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

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"bav/internal/bav/handler"
	bavmetrics "bav/internal/bav/metrics"
	"bav/internal/bav/service"
	"bav/internal/bav/session"
	"bav/internal/bav/store"
	"bav/internal/hmrc"
	"bav/internal/platform/config"
	"bav/internal/platform/httpserver"
	"bav/internal/platform/kafka"
	"bav/internal/platform/logger"
	"bav/internal/platform/metrics"
	"bav/internal/platform/postgres"
	"bav/internal/platform/redis"
	audit "bav/pkg/platform/audit"
	"bav/pkg/platform/audit/publisher"
	auditkafka "bav/pkg/platform/audit/store/kafka"
	auditmemory "bav/pkg/platform/audit/store/memory"
	auditpostgres "bav/pkg/platform/audit/store/postgres"
	"bav/pkg/platform/circuit"
	"bav/pkg/platform/middleware/metadata"
	"bav/pkg/platform/middleware/requesttime"
)

// sessionStore is what the verification and session services need together.
type sessionStore interface {
	service.Store
	session.Store
	handler.HealthChecker
}

// main wires dependencies, exposes the HTTP router, and keeps the server
// lifecycle small. Business logic lives in the internal/bav packages.
func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	log := logger.New(cfg.Log, os.Stdout)

	if err := run(cfg, log); err != nil {
		log.Error("server exited", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, log *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rc, err := redis.New(ctx, cfg.Redis)
	if err != nil {
		return fmt.Errorf("redis: %w", err)
	}
	if rc != nil {
		defer rc.Close()
	}

	sessions, db, err := buildStore(ctx, cfg, rc, log)
	if err != nil {
		return err
	}
	if db != nil {
		defer db.Close()
	}

	var tokenCache hmrc.TokenCache = hmrc.NewMemoryTokenCache()
	if rc != nil {
		tokenCache = hmrc.NewRedisTokenCache(rc.Client, cfg.Store.KeyPrefix)
	}
	hmrcMetrics := hmrc.NewMetrics()
	client := hmrc.NewClient(cfg.HMRC, hmrc.WithLogger(log), hmrc.WithMetrics(hmrcMetrics))
	tokens := hmrc.NewTokenProvider(client, tokenCache, cfg.HMRC,
		hmrc.WithTokenLogger(log),
		hmrc.WithTokenMetrics(hmrcMetrics),
	)

	auditStore, producer, err := buildAuditStore(ctx, cfg, db, log)
	if err != nil {
		return err
	}
	pub := publisher.NewPublisher(auditStore,
		publisher.WithAsyncBuffer(cfg.Store.AuditBufferSize),
		publisher.WithAppendTimeout(cfg.Store.AuditAppendTimeout),
		publisher.WithLogger(log),
	)

	bavMetrics := bavmetrics.New()
	verification, err := service.New(sessions, client, tokens, pub,
		service.WithLogger(log),
		service.WithMetrics(bavMetrics),
	)
	if err != nil {
		return err
	}
	sessionOpts := []session.Option{session.WithLogger(log), session.WithMetrics(bavMetrics)}
	if db != nil {
		sessionOpts = append(sessionOpts, session.WithTx(newSessionPostgresTx(db)))
	}
	sessionService, err := session.New(sessions, cfg.Store.AuthSessionTTL, sessionOpts...)
	if err != nil {
		return err
	}

	handlerOpts := []handler.Option{
		handler.WithHealthCheck("store", sessions),
		handler.WithAuditReader(pub, cfg.Server.AdminToken),
		handler.WithSessionRoutes(cfg.Server.ClientToken),
	}
	if cfg.Server.ClientToken == "" {
		log.Warn("SESSION_API_TOKEN not set; session routes are disabled")
	}
	if producer != nil {
		handlerOpts = append(handlerOpts, handler.WithHealthCheck("audit_sink", producer))
	}
	h := handler.New(verification, sessionService, log, handlerOpts...)

	httpMetrics := metrics.New()
	r := chi.NewRouter()
	r.Use(chimiddleware.Recoverer)
	r.Use(metadata.RequestID)
	r.Use(requesttime.Middleware)
	r.Use(metadata.ClientMetadata)
	r.Use(chimiddleware.Timeout(cfg.Server.RequestTimeout))
	r.Use(httpMetrics.Middleware)
	r.Handle("/metrics", metrics.Handler())
	h.Register(r)

	srv := httpserver.New(cfg.Server, r)
	errCh := make(chan error, 1)
	go func() {
		log.Info("starting bav", "addr", cfg.Server.Addr, "store", cfg.Store.Backend)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("graceful shutdown failed", "error", err)
	}
	// Drain queued audit events before the producer goes away.
	if err := pub.Close(shutdownCtx); err != nil {
		log.Error("audit events dropped at shutdown", "error", err)
	}
	if producer != nil {
		if err := producer.Close(shutdownCtx); err != nil {
			log.Error("kafka producer close failed", "error", err)
		}
	}
	return nil
}

func buildStore(ctx context.Context, cfg *config.Config, rc *redis.Client, log *slog.Logger) (sessionStore, *sql.DB, error) {
	switch cfg.Store.Backend {
	case config.StorePostgres:
		if cfg.Postgres.RunMigrations {
			if err := postgres.RunMigrations(cfg.Postgres.URL); err != nil {
				return nil, nil, fmt.Errorf("migrations: %w", err)
			}
		}
		db, err := postgres.Open(ctx, cfg.Postgres)
		if err != nil {
			return nil, nil, fmt.Errorf("postgres: %w", err)
		}
		return store.NewPostgres(db), db, nil
	case config.StoreRedis:
		if rc == nil {
			return nil, nil, errors.New("redis store selected but REDIS_URL is empty")
		}
		return store.NewRedis(rc.Client, cfg.Store.KeyPrefix), nil, nil
	default:
		log.Warn("using in-memory session store; data is lost on restart")
		return store.NewInMemory(), nil, nil
	}
}

func buildAuditStore(ctx context.Context, cfg *config.Config, db *sql.DB, log *slog.Logger) (audit.Store, *kafka.Producer, error) {
	if len(cfg.Kafka.Brokers) == 0 {
		if db != nil {
			log.Info("KAFKA_BROKERS not set; audit events written to postgres")
			return auditpostgres.New(db), nil, nil
		}
		log.Warn("KAFKA_BROKERS not set; audit events kept in memory")
		return auditmemory.NewInMemoryStore(), nil, nil
	}
	producer, err := kafka.NewProducer(cfg.Kafka)
	if err != nil {
		return nil, nil, fmt.Errorf("kafka: %w", err)
	}
	if err := producer.EnsureTopic(ctx, 1, 1); err != nil {
		log.Warn("could not ensure TxMA topic", "topic", cfg.Kafka.TxMATopic, "error", err)
	}
	breaker := circuit.New("txma",
		circuit.WithFailureThreshold(cfg.Kafka.BreakerFailures),
		circuit.WithCooldown(cfg.Kafka.BreakerCooldown),
	)
	return auditkafka.New(producer, breaker, auditkafka.NewMetrics(), log), producer, nil
}
