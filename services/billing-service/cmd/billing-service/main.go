package main

import (
	"context"
	"net/http"
	"time"

	"github.com/hoaht-8203/courtops/libs/config"
	"github.com/hoaht-8203/courtops/libs/db"
	"github.com/hoaht-8203/courtops/libs/httpx"
	"github.com/hoaht-8203/courtops/libs/kafkax"
	otelx "github.com/hoaht-8203/courtops/libs/otel"
	"github.com/hoaht-8203/courtops/libs/outbox"
	"github.com/hoaht-8203/courtops/libs/runtime"
	"github.com/hoaht-8203/courtops/services/billing-service/internal/consumer"
	"github.com/hoaht-8203/courtops/services/billing-service/internal/handlers"
	"github.com/hoaht-8203/courtops/services/billing-service/internal/reconcile"
	"github.com/hoaht-8203/courtops/services/billing-service/internal/settlement"
	"github.com/hoaht-8203/courtops/services/billing-service/internal/storage"
	"github.com/hoaht-8203/courtops/services/billing-service/internal/stripeapi"
	"github.com/hoaht-8203/courtops/services/billing-service/migrations"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

type settings struct {
	ServiceName     string        `envconfig:"SERVICE_NAME" default:"billing-service"`
	Port            string        `envconfig:"PORT" default:"8084"`
	DatabaseURL     string        `envconfig:"DATABASE_URL" required:"true"`
	KafkaBrokers    string        `envconfig:"KAFKA_BROKERS"`
	KafkaGroupID    string        `envconfig:"KAFKA_GROUP_ID" default:"billing-service"`
	OutboxRetention time.Duration `envconfig:"OUTBOX_RETENTION" default:"168h"`
	RequestTimeout  time.Duration `envconfig:"HTTP_REQUEST_TIMEOUT" default:"20s"`

	StripeSecretKey        string        `envconfig:"STRIPE_SECRET_KEY"`
	StripeWebhookSecret    string        `envconfig:"STRIPE_WEBHOOK_SECRET"`
	StripeWebhookTolerance time.Duration `envconfig:"STRIPE_WEBHOOK_TOLERANCE" default:"5m"`
	CheckoutSuccessURL     string        `envconfig:"CHECKOUT_SUCCESS_URL"`
	CheckoutCancelURL      string        `envconfig:"CHECKOUT_CANCEL_URL"`

	ReconcileEnabled    bool          `envconfig:"BILLING_STRIPE_RECONCILE_ENABLED" default:"true"`
	ReconcileInterval   time.Duration `envconfig:"BILLING_STRIPE_RECONCILE_INTERVAL" default:"5m"`
	ReconcileStaleAfter time.Duration `envconfig:"BILLING_STRIPE_RECONCILE_STALE_AFTER" default:"15m"`
	ReconcileBatchSize  int           `envconfig:"BILLING_STRIPE_RECONCILE_BATCH_SIZE" default:"50"`
	ReconcileLockKey    int64         `envconfig:"BILLING_STRIPE_RECONCILE_LOCK_KEY" default:"4242001"`
}

func main() {
	var cfg settings
	if err := config.Load("", &cfg); err != nil {
		panic(err)
	}
	logger := runtime.NewLogger(cfg.ServiceName)

	ctx, stop := runtime.ShutdownContext(logger)
	defer stop()

	otelShutdown, err := otelx.Setup(ctx, otelx.ConfigFromEnv(cfg.ServiceName))
	if err != nil {
		logger.Error("otel setup failed", "err", err)
	} else {
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = otelShutdown(shutdownCtx)
		}()
	}

	pool, err := db.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Error("db connection failed", "err", err)
		panic(err)
	}
	defer pool.Close()
	if err := db.Migrate(ctx, pool, migrations.FS, ".", logger); err != nil {
		logger.Error("migrations failed", "err", err)
		panic(err)
	}
	repo := storage.NewRepository(pool)

	var gateway stripeapi.Gateway
	if client := stripeapi.New(cfg.StripeSecretKey); client != nil {
		gateway = client
	} else {
		logger.Warn("STRIPE_SECRET_KEY not set; card checkout disabled")
	}
	settler := settlement.New(repo, logger)

	publisher := outbox.NewPublisher(pool, outbox.NewRepository(pool), logger, outbox.PublisherConfig{
		Brokers:   cfg.KafkaBrokers,
		PollEvery: 2 * time.Second,
		BatchSize: 50,
		Retention: cfg.OutboxRetention,
	})
	go publisher.Run(ctx)

	consumer.Start(ctx, logger, pool, repo, consumer.Config{Brokers: cfg.KafkaBrokers, GroupID: cfg.KafkaGroupID})

	if cfg.ReconcileEnabled && gateway != nil {
		r := reconcile.New(repo, gateway, settler, reconcile.NewPoolLocker(pool, cfg.ReconcileLockKey), logger, reconcile.Config{
			Interval:   cfg.ReconcileInterval,
			StaleAfter: cfg.ReconcileStaleAfter,
			BatchSize:  cfg.ReconcileBatchSize,
		})
		go r.Run(ctx)
	}

	mux := runtime.NewBaseMuxWithReady(
		runtime.ReadyCheck{Name: "db", Check: db.ReadyCheck(pool)},
		runtime.ReadyCheck{Name: "kafka", Check: kafkax.ReadyCheck(cfg.KafkaBrokers)},
	)
	handlers.New(repo, gateway, settler, logger, handlers.Config{
		WebhookSecret:    cfg.StripeWebhookSecret,
		WebhookTolerance: cfg.StripeWebhookTolerance,
		SuccessURL:       cfg.CheckoutSuccessURL,
		CancelURL:        cfg.CheckoutCancelURL,
	}).Register(mux)

	handler := httpx.Chain(mux,
		httpx.WithRequestID,
		httpx.WithAccessLog(logger),
		httpx.WithRecover(logger),
		httpx.WithBodyLimit(1<<20),
		httpx.WithTimeout(cfg.RequestTimeout),
	)
	handler = otelhttp.NewHandler(handler, "billing")
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("http server starting", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server error", "err", err)
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "err", err)
	}
	logger.Info("http server stopped")
}
