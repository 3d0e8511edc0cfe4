package main

import (
	"context"
	"net/http"
	"time"

	"github.com/hoaht-8203/courtops/libs/config"
	"github.com/hoaht-8203/courtops/libs/db"
	"github.com/hoaht-8203/courtops/libs/httpx"
	"github.com/hoaht-8203/courtops/libs/kafkax"
	"github.com/hoaht-8203/courtops/libs/mq"
	otelx "github.com/hoaht-8203/courtops/libs/otel"
	"github.com/hoaht-8203/courtops/libs/outbox"
	"github.com/hoaht-8203/courtops/libs/runtime"
	"github.com/hoaht-8203/courtops/services/notification-service/internal/consumer"
	"github.com/hoaht-8203/courtops/services/notification-service/internal/delivery"
	"github.com/hoaht-8203/courtops/services/notification-service/internal/email"
	"github.com/hoaht-8203/courtops/services/notification-service/internal/handlers"
	"github.com/hoaht-8203/courtops/services/notification-service/internal/realtime"
	"github.com/hoaht-8203/courtops/services/notification-service/internal/sms"
	"github.com/hoaht-8203/courtops/services/notification-service/internal/storage"
	"github.com/hoaht-8203/courtops/services/notification-service/migrations"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

type settings struct {
	ServiceName     string        `envconfig:"SERVICE_NAME" default:"notification-service"`
	Port            string        `envconfig:"PORT" default:"8090"`
	DatabaseURL     string        `envconfig:"DATABASE_URL" required:"true"`
	KafkaBrokers    string        `envconfig:"KAFKA_BROKERS"`
	KafkaGroupID    string        `envconfig:"KAFKA_GROUP_ID" default:"notification-service"`
	OutboxRetention time.Duration `envconfig:"OUTBOX_RETENTION" default:"168h"`
	RequestTimeout  time.Duration `envconfig:"HTTP_REQUEST_TIMEOUT" default:"15s"`

	EmailEnabled bool   `envconfig:"NOTIFY_EMAIL_ENABLED" default:"true"`
	SMTPHost     string `envconfig:"SMTP_HOST" default:"mailpit"`
	SMTPPort     string `envconfig:"SMTP_PORT" default:"1025"`
	SMTPFrom     string `envconfig:"SMTP_FROM" default:"no-reply@courtops.local"`
	SMTPUsername string `envconfig:"SMTP_USERNAME"`
	SMTPPassword string `envconfig:"SMTP_PASSWORD"`

	SMSEnabled      bool   `envconfig:"NOTIFY_SMS_ENABLED" default:"true"`
	SMSProvider     string `envconfig:"SMS_PROVIDER" default:"noop"`
	SMSWebhookURL   string `envconfig:"SMS_WEBHOOK_URL"`
	SMSWebhookToken string `envconfig:"SMS_WEBHOOK_TOKEN"`
	FailSuffix      string `envconfig:"NOTIFICATION_FAIL_SUFFIX"`

	AMQPURL        string        `envconfig:"AMQP_URL"`
	AMQPExchange   string        `envconfig:"AMQP_EXCHANGE" default:"courtops.realtime"`
	SSEHeartbeat   time.Duration `envconfig:"SSE_HEARTBEAT" default:"25s"`
	SSEClientQueue int           `envconfig:"SSE_CLIENT_BUFFER" default:"32"`
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

	publisher := outbox.NewPublisher(pool, outbox.NewRepository(pool), logger, outbox.PublisherConfig{
		Brokers:   cfg.KafkaBrokers,
		PollEvery: 2 * time.Second,
		BatchSize: 50,
		Retention: cfg.OutboxRetention,
	})
	go publisher.Run(ctx)

	emailSender := email.NewSMTPSender(email.Config{
		Host:     cfg.SMTPHost,
		Port:     cfg.SMTPPort,
		From:     cfg.SMTPFrom,
		Username: cfg.SMTPUsername,
		Password: cfg.SMTPPassword,
	})
	smsSender := sms.New(cfg.SMSProvider, cfg.SMSWebhookURL, cfg.SMSWebhookToken)
	dispatcher := delivery.New(repo, emailSender, smsSender, logger, delivery.Config{
		EmailEnabled: cfg.EmailEnabled,
		SMSEnabled:   cfg.SMSEnabled,
		FailSuffix:   cfg.FailSuffix,
	})
	consumer.Start(ctx, logger, pool, dispatcher, consumer.Config{Brokers: cfg.KafkaBrokers, GroupID: cfg.KafkaGroupID})

	hub := realtime.NewHub(logger, cfg.SSEClientQueue)
	checks := []runtime.ReadyCheck{
		{Name: "db", Check: db.ReadyCheck(pool)},
		{Name: "kafka", Check: kafkax.ReadyCheck(cfg.KafkaBrokers)},
	}
	if cfg.AMQPURL != "" {
		board, err := mq.NewConsumer(cfg.AMQPURL, mq.ConsumerConfig{
			Exchange:  cfg.AMQPExchange,
			Exclusive: true,
			Keys:      []string{"board.#"},
		})
		if err != nil {
			logger.Error("board consumer failed; realtime stream will stay idle", "err", err)
		} else {
			defer board.Close()
			deliveries, err := board.Deliveries(ctx)
			if err != nil {
				logger.Error("board consume failed", "err", err)
			} else {
				logger.Info("relaying board updates", "exchange", cfg.AMQPExchange, "queue", board.Queue())
				go hub.Relay(ctx, deliveries)
			}
		}
	} else {
		logger.Warn("AMQP_URL not set; realtime stream will stay idle")
	}

	mux := runtime.NewBaseMuxWithReady(checks...)
	handlers.New(repo).Register(mux)

	api := httpx.Chain(mux,
		httpx.WithRequestID,
		httpx.WithAccessLog(logger),
		httpx.WithRecover(logger),
		httpx.WithTimeout(cfg.RequestTimeout),
	)
	// The event stream is long-lived and must not sit behind the request timeout.
	stream := httpx.Chain(hub.Stream(cfg.SSEHeartbeat),
		httpx.WithRequestID,
		httpx.WithAccessLog(logger),
	)
	root := http.NewServeMux()
	root.Handle("GET /api/v1/realtime/stream", stream)
	root.Handle("/", api)

	handler := otelhttp.NewHandler(root, "notification")
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
