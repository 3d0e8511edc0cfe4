package main

import (
	"context"
	"net/http"
	"time"

	"github.com/hoaht-8203/courtops/libs/config"
	"github.com/hoaht-8203/courtops/libs/db"
	"github.com/hoaht-8203/courtops/libs/grpcx"
	"github.com/hoaht-8203/courtops/libs/httpx"
	"github.com/hoaht-8203/courtops/libs/kafkax"
	otelx "github.com/hoaht-8203/courtops/libs/otel"
	"github.com/hoaht-8203/courtops/libs/outbox"
	"github.com/hoaht-8203/courtops/libs/runtime"
	"github.com/hoaht-8203/courtops/services/court-service/internal/consumer"
	"github.com/hoaht-8203/courtops/services/court-service/internal/grpcserver"
	"github.com/hoaht-8203/courtops/services/court-service/internal/handlers"
	"github.com/hoaht-8203/courtops/services/court-service/internal/storage"
	"github.com/hoaht-8203/courtops/services/court-service/internal/templates"
	"github.com/hoaht-8203/courtops/services/court-service/migrations"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

type settings struct {
	ServiceName     string        `envconfig:"SERVICE_NAME" default:"court-service"`
	Port            string        `envconfig:"PORT" default:"8082"`
	GRPCAddr        string        `envconfig:"GRPC_ADDR" default:":9082"`
	DatabaseURL     string        `envconfig:"DATABASE_URL" required:"true"`
	KafkaBrokers    string        `envconfig:"KAFKA_BROKERS"`
	KafkaGroupID    string        `envconfig:"KAFKA_GROUP_ID" default:"court-service"`
	OutboxRetention time.Duration `envconfig:"OUTBOX_RETENTION" default:"168h"`
	RequestTimeout  time.Duration `envconfig:"HTTP_REQUEST_TIMEOUT" default:"15s"`
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
	defaults, err := templates.Defaults()
	if err != nil {
		logger.Error("pricing template catalog invalid", "err", err)
	} else if n, err := repo.SeedTemplates(ctx, defaults); err != nil {
		logger.Error("pricing template seed failed", "err", err)
	} else if n > 0 {
		logger.Info("pricing templates seeded", "count", n)
	}

	publisher := outbox.NewPublisher(pool, outbox.NewRepository(pool), logger, outbox.PublisherConfig{
		Brokers:   cfg.KafkaBrokers,
		PollEvery: 2 * time.Second,
		BatchSize: 50,
		Retention: cfg.OutboxRetention,
	})
	go publisher.Run(ctx)

	consumer.Start(ctx, logger, pool, repo, consumer.Config{Brokers: cfg.KafkaBrokers, GroupID: cfg.KafkaGroupID})

	grpcServer := grpcx.NewServer(logger)
	grpcserver.Register(grpcServer, repo)
	go func() {
		if err := grpcx.Serve(ctx, grpcServer, cfg.GRPCAddr, logger); err != nil {
			logger.Error("grpc server error", "err", err)
		}
	}()

	mux := runtime.NewBaseMuxWithReady(
		runtime.ReadyCheck{Name: "db", Check: db.ReadyCheck(pool)},
		runtime.ReadyCheck{Name: "kafka", Check: kafkax.ReadyCheck(cfg.KafkaBrokers)},
	)
	handlers.New(repo).Register(mux)

	handler := httpx.Chain(mux,
		httpx.WithRequestID,
		httpx.WithAccessLog(logger),
		httpx.WithRecover(logger),
		httpx.WithBodyLimit(1<<20),
		httpx.WithTimeout(cfg.RequestTimeout),
	)
	handler = otelhttp.NewHandler(handler, "court")
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
