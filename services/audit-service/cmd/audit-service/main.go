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
	"github.com/hoaht-8203/courtops/libs/runtime"
	"github.com/hoaht-8203/courtops/services/audit-service/internal/consumer"
	"github.com/hoaht-8203/courtops/services/audit-service/internal/handlers"
	"github.com/hoaht-8203/courtops/services/audit-service/internal/retention"
	"github.com/hoaht-8203/courtops/services/audit-service/internal/storage"
	"github.com/hoaht-8203/courtops/services/audit-service/migrations"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

type settings struct {
	ServiceName    string        `envconfig:"SERVICE_NAME" default:"audit-service"`
	Port           string        `envconfig:"PORT" default:"8091"`
	DatabaseURL    string        `envconfig:"DATABASE_URL" required:"true"`
	KafkaBrokers   string        `envconfig:"KAFKA_BROKERS"`
	KafkaGroupID   string        `envconfig:"KAFKA_GROUP_ID" default:"audit-service"`
	RequestTimeout time.Duration `envconfig:"HTTP_REQUEST_TIMEOUT" default:"15s"`
	RetentionDays  int           `envconfig:"AUDIT_RETENTION_DAYS" default:"90"`
	RetentionEvery time.Duration `envconfig:"AUDIT_RETENTION_INTERVAL" default:"24h"`
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

	consumer.Start(ctx, logger, pool, repo, consumer.Config{
		Brokers: cfg.KafkaBrokers,
		GroupID: cfg.KafkaGroupID,
	})
	go retention.New(repo, logger, cfg.RetentionDays, cfg.RetentionEvery).Run(ctx)

	mux := runtime.NewBaseMuxWithReady(
		runtime.ReadyCheck{Name: "db", Check: db.ReadyCheck(pool)},
		runtime.ReadyCheck{Name: "kafka", Check: kafkax.ReadyCheck(cfg.KafkaBrokers)},
	)
	handlers.New(repo).Register(mux)

	handler := httpx.Chain(mux,
		httpx.WithRequestID,
		httpx.WithAccessLog(logger),
		httpx.WithRecover(logger),
		httpx.WithTimeout(cfg.RequestTimeout),
	)
	handler = otelhttp.NewHandler(handler, "audit")
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("http server starting", "addr", srv.Addr, "retention_days", cfg.RetentionDays)
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
