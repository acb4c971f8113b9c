package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/dmehra2102/payment-webhooks/internal/config"
	"github.com/dmehra2102/payment-webhooks/internal/metrics"
	"github.com/dmehra2102/payment-webhooks/internal/payment/application"
	"github.com/dmehra2102/payment-webhooks/internal/payment/domain"
	paymenthttp "github.com/dmehra2102/payment-webhooks/internal/payment/infrastructure/http"
	paymentkafka "github.com/dmehra2102/payment-webhooks/internal/payment/infrastructure/kafka"
	"github.com/dmehra2102/payment-webhooks/internal/payment/infrastructure/memory"
	pg "github.com/dmehra2102/payment-webhooks/internal/payment/infrastructure/postgres"
	"github.com/dmehra2102/payment-webhooks/internal/payment/infrastructure/signature"
	"github.com/dmehra2102/payment-webhooks/internal/payment/provider"
	"github.com/dmehra2102/payment-webhooks/pkg/idempotency"
	"github.com/dmehra2102/payment-webhooks/pkg/logging"
	"github.com/dmehra2102/payment-webhooks/pkg/outbox"
	"github.com/dmehra2102/payment-webhooks/pkg/shutdown"
	"github.com/dmehra2102/payment-webhooks/pkg/tracing"
	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("config invalid", "err", err)
		os.Exit(1)
	}
	log := logging.New(cfg.LogLevel)

	ctx, cancel := shutdown.WithSignals(context.Background())
	defer cancel()

	tp, err := tracing.Init(ctx, "webhook-service", cfg.TracingURL, log)
	if err != nil {
		log.Error("otel init failed", "err", err)
		os.Exit(1)
	}
	defer func() { _ = tp.Shutdown(context.Background()) }()

	var ledger application.LedgerStore
	switch cfg.Store {
	case config.StoreMemory:
		log.Warn("using in-memory ledger, balances are lost on restart")
		ledger = memory.NewStore()
	default:
		pool, err := pgxpool.New(ctx, cfg.PGURL)
		if err != nil {
			log.Error("pg connect failed", "err", err)
			os.Exit(1)
		}
		defer pool.Close()
		if err := pg.Migrate(ctx, pool); err != nil {
			log.Error("pg migrate failed", "err", err)
			os.Exit(1)
		}
		ledger = pg.NewRepository(log, pool)

		writer := paymentkafka.NewWriter(strings.Split(cfg.KafkaAddr, ","))
		defer func() { _ = writer.Close() }()

		dispatch := outbox.NewDispatcher(log, writer, cfg.OutboxTopic)
		relay := outbox.NewRelay(log, pg.NewOutboxStore(log, pool), dispatch, "webhook-service-relay",
			outbox.WithBatchSize(cfg.OutboxBatch),
			outbox.WithLease(cfg.OutboxLease),
			outbox.WithInterval(cfg.OutboxInterval),
			outbox.WithObserver(func(result string) {
				metrics.OutboxDispatched.WithLabelValues(result).Inc()
			}),
		)
		go func() {
			if err := relay.Run(ctx); err != nil {
				log.Error("relay stopped", "err", err)
			}
		}()
	}

	// Redis only short-circuits replays; the ledger stays authoritative.
	var (
		cache application.ProcessedCache
		guard paymenthttp.RequestGuard
	)
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		defer func() { _ = rdb.Close() }()
		if err := rdb.Ping(ctx).Err(); err != nil {
			log.Warn("redis unavailable, running without dedup cache", "addr", cfg.RedisAddr, "err", err)
		} else {
			idem := idempotency.NewStore(rdb, cfg.DedupTTL)
			cache, guard = idem, idem
		}
	}

	verifiers := make(map[domain.Provider]application.Verifier, len(cfg.Providers))
	tokens := make(map[domain.Provider]string, len(cfg.Providers))
	for p, pc := range cfg.Providers {
		verifiers[p] = signature.NewVerifier(pc.Secret, provider.SignatureField(p))
		tokens[p] = pc.Token
	}

	svc := application.NewService(log, ledger, cache, verifiers)
	handler := paymenthttp.NewHandler(log, svc, tokens, cfg.AdminToken, guard)

	r := chi.NewRouter()
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Mount("/", handler.Routes())

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		log.Info("webhook-service listening", "addr", cfg.HTTPAddr, "store", cfg.Store)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http server failed", "err", err)
			cancel()
		}
	}()

	<-ctx.Done()
	if err := shutdown.HTTP(srv, cfg.ShutdownTimeout); err != nil {
		log.Error("http shutdown", "err", err)
	}
	log.Info("webhook-service shutdown")
}
