package main

import (
	"context"
	"net/http"
	"time"

	"github.com/hoaht-8203/courtops/libs/config"
	"github.com/hoaht-8203/courtops/libs/dates"
	"github.com/hoaht-8203/courtops/libs/db"
	"github.com/hoaht-8203/courtops/libs/httpx"
	"github.com/hoaht-8203/courtops/libs/kafkax"
	"github.com/hoaht-8203/courtops/libs/mq"
	otelx "github.com/hoaht-8203/courtops/libs/otel"
	"github.com/hoaht-8203/courtops/libs/outbox"
	"github.com/hoaht-8203/courtops/libs/runtime"
	"github.com/hoaht-8203/courtops/services/booking-service/internal/booking"
	"github.com/hoaht-8203/courtops/services/booking-service/internal/consumer"
	"github.com/hoaht-8203/courtops/services/booking-service/internal/discounts"
	"github.com/hoaht-8203/courtops/services/booking-service/internal/handlers"
	"github.com/hoaht-8203/courtops/services/booking-service/internal/quotes"
	"github.com/hoaht-8203/courtops/services/booking-service/internal/realtime"
	"github.com/hoaht-8203/courtops/services/booking-service/internal/storage"
	"github.com/hoaht-8203/courtops/services/booking-service/internal/sweeper"
	"github.com/hoaht-8203/courtops/services/booking-service/migrations"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

type settings struct {
	ServiceName     string        `envconfig:"SERVICE_NAME" default:"booking-service"`
	Port            string        `envconfig:"PORT" default:"8083"`
	DatabaseURL     string        `envconfig:"DATABASE_URL" required:"true"`
	KafkaBrokers    string        `envconfig:"KAFKA_BROKERS"`
	KafkaGroupID    string        `envconfig:"KAFKA_GROUP_ID" default:"booking-service"`
	OutboxRetention time.Duration `envconfig:"OUTBOX_RETENTION" default:"168h"`
	RequestTimeout  time.Duration `envconfig:"HTTP_REQUEST_TIMEOUT" default:"15s"`
	TimeZone        string        `envconfig:"VENUE_TIMEZONE" default:"Asia/Ho_Chi_Minh"`

	PricingAddr   string        `envconfig:"PRICING_GRPC_ADDR" default:"court-service:9082"`
	LoyaltyAddr   string        `envconfig:"LOYALTY_GRPC_ADDR"`
	RedisAddr     string        `envconfig:"REDIS_ADDR"`
	RedisPassword string        `envconfig:"REDIS_PASSWORD"`
	QuoteCacheTTL time.Duration `envconfig:"QUOTE_CACHE_TTL" default:"1m"`
	AMQPURL       string        `envconfig:"AMQP_URL"`
	AMQPExchange  string        `envconfig:"AMQP_EXCHANGE" default:"courtops.realtime"`

	HoldFor        time.Duration   `envconfig:"PAYMENT_HOLD" default:"15m"`
	OrderTTL       time.Duration   `envconfig:"ORDER_TTL" default:"5m"`
	LateFeePercent decimal.Decimal `envconfig:"LATE_FEE_PERCENT" default:"150"`
	OpenAt         string          `envconfig:"OPEN_AT" default:"05:00"`
	CloseAt        string          `envconfig:"CLOSE_AT" default:"23:00"`
	SePayAccount   string          `envconfig:"SEPAY_ACCOUNT"`
	SePayBank      string          `envconfig:"SEPAY_BANK"`
	SePayAPIKey    string          `envconfig:"SEPAY_API_KEY"`
}

func main() {
	var cfg settings
	if err := config.Load("", &cfg); err != nil {
		panic(err)
	}
	logger := runtime.NewLogger(cfg.ServiceName)
	if err := dates.SetLocation(cfg.TimeZone); err != nil {
		logger.Error("unknown venue time zone", "tz", cfg.TimeZone, "err", err)
		panic(err)
	}
	openAt, err := dates.ParseClock(cfg.OpenAt)
	if err != nil {
		panic(err)
	}
	closeAt, err := dates.ParseClock(cfg.CloseAt)
	if err != nil {
		panic(err)
	}

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

	checks := []runtime.ReadyCheck{
		{Name: "db", Check: db.ReadyCheck(pool)},
		{Name: "kafka", Check: kafkax.ReadyCheck(cfg.KafkaBrokers)},
	}

	quoter, quoteConn, err := quotes.NewProvider(cfg.PricingAddr)
	if err != nil {
		logger.Error("pricing client init failed", "err", err)
		panic(err)
	}
	if quoteConn != nil {
		defer quoteConn.Close()
	}
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
		defer func() { _ = rdb.Close() }()
		quoter = quotes.NewCached(quoter, rdb, cfg.QuoteCacheTTL, logger)
		checks = append(checks, runtime.ReadyCheck{Name: "redis", Check: func(ctx context.Context) error {
			return rdb.Ping(ctx).Err()
		}})
		logger.Info("quote cache enabled", "redis_addr", cfg.RedisAddr, "ttl", cfg.QuoteCacheTTL)
	}

	disc, loyaltyConn, err := discounts.NewLoyaltyProvider(logger, cfg.LoyaltyAddr)
	if err != nil {
		panic(err)
	}
	if loyaltyConn != nil {
		defer loyaltyConn.Close()
	}

	var notifier mq.Notifier = mq.Discard{}
	if cfg.AMQPURL != "" {
		pub, err := mq.NewPublisher(cfg.AMQPURL, cfg.AMQPExchange)
		if err != nil {
			logger.Warn("realtime broker unavailable; board updates disabled", "err", err)
		} else {
			defer func() { _ = pub.Close() }()
			notifier = pub
			checks = append(checks, runtime.ReadyCheck{Name: "amqp", Check: pub.Ready})
		}
	}
	board := realtime.New(notifier, logger)

	publisher := outbox.NewPublisher(pool, outbox.NewRepository(pool), logger, outbox.PublisherConfig{
		Brokers:   cfg.KafkaBrokers,
		PollEvery: 2 * time.Second,
		BatchSize: 50,
		Retention: cfg.OutboxRetention,
	})
	go publisher.Run(ctx)

	consumer.Start(ctx, logger, pool, repo, board, consumer.Config{Brokers: cfg.KafkaBrokers, GroupID: cfg.KafkaGroupID})

	go sweeper.New(repo, board, logger, sweeper.Config{OrderTTL: cfg.OrderTTL}).Run(ctx)

	mux := runtime.NewBaseMuxWithReady(checks...)
	handlers.New(repo, quoter, disc, board, logger, handlers.Config{
		HoldFor:        cfg.HoldFor,
		QR:             booking.TransferQR{Account: cfg.SePayAccount, Bank: cfg.SePayBank},
		SePayAPIKey:    cfg.SePayAPIKey,
		LateFeePercent: cfg.LateFeePercent,
		OpenAt:         openAt,
		CloseAt:        closeAt,
	}).Register(mux)

	handler := httpx.Chain(mux,
		httpx.WithRequestID,
		httpx.WithAccessLog(logger),
		httpx.WithRecover(logger),
		httpx.WithBodyLimit(1<<20),
		httpx.WithTimeout(cfg.RequestTimeout),
	)
	handler = otelhttp.NewHandler(handler, "booking")
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
