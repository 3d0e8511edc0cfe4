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
	"github.com/hoaht-8203/courtops/services/auth-service/internal/accounts"
	"github.com/hoaht-8203/courtops/services/auth-service/internal/handlers"
	"github.com/hoaht-8203/courtops/services/auth-service/internal/sessions"
	"github.com/hoaht-8203/courtops/services/auth-service/internal/tokens"
	"github.com/hoaht-8203/courtops/services/auth-service/internal/users"
	"github.com/hoaht-8203/courtops/services/auth-service/migrations"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

type settings struct {
	ServiceName     string        `envconfig:"SERVICE_NAME" default:"auth-service"`
	Port            string        `envconfig:"PORT" default:"8081"`
	DatabaseURL     string        `envconfig:"DATABASE_URL" required:"true"`
	KafkaBrokers    string        `envconfig:"KAFKA_BROKERS"`
	OutboxRetention time.Duration `envconfig:"OUTBOX_RETENTION" default:"168h"`
	RequestTimeout  time.Duration `envconfig:"HTTP_REQUEST_TIMEOUT" default:"15s"`
	Issuer          string        `envconfig:"JWT_ISSUER" default:"courtops"`
	AccessTTL       time.Duration `envconfig:"JWT_ACCESS_TTL" default:"1h"`
	RefreshTTL      time.Duration `envconfig:"REFRESH_TTL" default:"720h"`
	JWTSecret       string        `envconfig:"JWT_SECRET" default:"dev-secret"`
	PrivateKeyPEM   string        `envconfig:"JWT_PRIVATE_KEY_PEM"`
	PrivateKeysPEM  string        `envconfig:"JWT_PRIVATE_KEYS_PEM"`
	KeyID           string        `envconfig:"JWT_KID"`
	ActiveKID       string        `envconfig:"JWT_ACTIVE_KID"`
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

	signer, err := buildSigner(cfg)
	if err != nil {
		logger.Error("failed to init jwt signer", "err", err)
		panic(err)
	}

	publisher := outbox.NewPublisher(pool, outbox.NewRepository(pool), logger, outbox.PublisherConfig{
		Brokers:   cfg.KafkaBrokers,
		PollEvery: 2 * time.Second,
		BatchSize: 50,
		Retention: cfg.OutboxRetention,
	})
	go publisher.Run(ctx)

	svc := accounts.New(pool, users.NewRepository(pool), sessions.NewRepository(), signer, accounts.Config{
		Issuer:     cfg.Issuer,
		AccessTTL:  cfg.AccessTTL,
		RefreshTTL: cfg.RefreshTTL,
	})

	mux := runtime.NewBaseMuxWithReady(
		runtime.ReadyCheck{Name: "db", Check: db.ReadyCheck(pool)},
		runtime.ReadyCheck{Name: "kafka", Check: kafkax.ReadyCheck(cfg.KafkaBrokers)},
	)
	handlers.NewAuthHandler(svc).Register(mux)

	handler := httpx.Chain(mux,
		httpx.WithRequestID,
		httpx.WithAccessLog(logger),
		httpx.WithRecover(logger),
		httpx.WithBodyLimit(1<<20),
		httpx.WithTimeout(cfg.RequestTimeout),
	)
	handler = otelhttp.NewHandler(handler, "auth")
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("http server starting", "addr", srv.Addr, "jwks_keys", len(signer.JWKS().Keys))
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

// buildSigner prefers a key set, then a single RSA key, then the shared secret.
func buildSigner(cfg settings) (tokens.Signer, error) {
	if cfg.PrivateKeysPEM != "" {
		keys, err := tokens.ParseKeySet(cfg.PrivateKeysPEM)
		if err != nil {
			return nil, err
		}
		return tokens.NewKeyRing(keys, cfg.ActiveKID)
	}
	if cfg.PrivateKeyPEM != "" {
		return tokens.NewRS256Signer([]byte(cfg.PrivateKeyPEM), cfg.KeyID)
	}
	return tokens.NewHS256Signer(cfg.JWTSecret), nil
}
