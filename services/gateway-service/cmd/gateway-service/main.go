package main

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/hoaht-8203/courtops/libs/auth"
	"github.com/hoaht-8203/courtops/libs/config"
	"github.com/hoaht-8203/courtops/libs/httpx"
	otelx "github.com/hoaht-8203/courtops/libs/otel"
	"github.com/hoaht-8203/courtops/libs/runtime"
	"github.com/hoaht-8203/courtops/services/gateway-service/internal/identity"
	"github.com/hoaht-8203/courtops/services/gateway-service/internal/policy"
	"github.com/hoaht-8203/courtops/services/gateway-service/internal/proxy"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const streamPath = "/api/v1/realtime/stream"

type settings struct {
	ServiceName    string        `envconfig:"SERVICE_NAME" default:"gateway-service"`
	Port           string        `envconfig:"PORT" default:"8080"`
	JWTSecret      string        `envconfig:"JWT_SECRET" default:"dev-secret"`
	JWKSURL        string        `envconfig:"JWKS_URL"`
	JWKSCacheTTL   time.Duration `envconfig:"JWKS_CACHE_TTL" default:"5m"`
	BodyLimit      int64         `envconfig:"REQUEST_BODY_LIMIT_BYTES" default:"1048576"`
	RequestTimeout time.Duration `envconfig:"HTTP_REQUEST_TIMEOUT" default:"15s"`

	RateLimitPerMinute int    `envconfig:"RATE_LIMIT_PER_MINUTE" default:"120"`
	RateLimitPrefix    string `envconfig:"RATE_LIMIT_PREFIX" default:"rl"`
	RateLimitFailOpen  bool   `envconfig:"RATE_LIMIT_FAIL_OPEN" default:"true"`
	RedisAddr          string `envconfig:"REDIS_ADDR"`
	RedisPassword      string `envconfig:"REDIS_PASSWORD"`
	RedisDB            int    `envconfig:"REDIS_DB" default:"0"`

	CORSAllowedOrigins   []string      `envconfig:"CORS_ALLOWED_ORIGINS"`
	CORSAllowedMethods   []string      `envconfig:"CORS_ALLOWED_METHODS" default:"GET,POST,PUT,PATCH,DELETE,OPTIONS"`
	CORSAllowedHeaders   []string      `envconfig:"CORS_ALLOWED_HEADERS" default:"Authorization,Content-Type,X-Request-Id,X-Idempotency-Key"`
	CORSAllowCredentials bool          `envconfig:"CORS_ALLOW_CREDENTIALS" default:"false"`
	CORSMaxAge           time.Duration `envconfig:"CORS_MAX_AGE" default:"10m"`

	AuthURL         string `envconfig:"AUTH_URL" default:"http://auth-service:8081"`
	CourtURL        string `envconfig:"COURT_URL" default:"http://court-service:8082"`
	BookingURL      string `envconfig:"BOOKING_URL" default:"http://booking-service:8083"`
	BillingURL      string `envconfig:"BILLING_URL" default:"http://billing-service:8084"`
	LoyaltyURL      string `envconfig:"LOYALTY_URL" default:"http://loyalty-service:8085"`
	InventoryURL    string `envconfig:"INVENTORY_URL" default:"http://inventory-service:8086"`
	StaffURL        string `envconfig:"STAFF_URL" default:"http://staff-service:8087"`
	FinanceURL      string `envconfig:"FINANCE_URL" default:"http://finance-service:8088"`
	SchedulerURL    string `envconfig:"SCHEDULER_URL" default:"http://scheduler-service:8089"`
	NotificationURL string `envconfig:"NOTIFICATION_URL" default:"http://notification-service:8090"`
	AuditURL        string `envconfig:"AUDIT_URL" default:"http://audit-service:8091"`
}

func (s settings) targets() map[string]string {
	return map[string]string{
		"auth":         s.AuthURL,
		"court":        s.CourtURL,
		"booking":      s.BookingURL,
		"billing":      s.BillingURL,
		"loyalty":      s.LoyaltyURL,
		"inventory":    s.InventoryURL,
		"staff":        s.StaffURL,
		"finance":      s.FinanceURL,
		"scheduler":    s.SchedulerURL,
		"notification": s.NotificationURL,
		"audit":        s.AuditURL,
	}
}

// verifier accepts RS256 tokens from the JWKS when configured and HS256
// tokens signed with the shared secret.
func (s settings) verifier() auth.Verifier {
	var vs identity.Verifiers
	if s.JWKSURL != "" {
		vs = append(vs, auth.JWKSVerifier{Client: auth.NewJWKSClient(s.JWKSURL, s.JWKSCacheTTL)})
	}
	if s.JWTSecret != "" {
		vs = append(vs, auth.HS256Verifier{Secret: s.JWTSecret})
	}
	return vs
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

	table, err := policy.Default()
	if err != nil {
		logger.Error("route table invalid", "err", err)
		panic(err)
	}

	var (
		rateLimit httpx.Middleware
		checks    []runtime.ReadyCheck
	)
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		defer func() { _ = rdb.Close() }()
		rateLimit = httpx.NewRedisRateLimiter(rdb, cfg.RateLimitPerMinute, time.Minute, cfg.RateLimitPrefix).
			Middleware(logger, cfg.RateLimitFailOpen)
		checks = append(checks, runtime.ReadyCheck{Name: "redis", Check: func(ctx context.Context) error {
			return rdb.Ping(ctx).Err()
		}})
		logger.Info("rate limiting enabled (redis)", "per_minute", cfg.RateLimitPerMinute, "redis_addr", cfg.RedisAddr)
	} else {
		rateLimit = httpx.NewRateLimiter(cfg.RateLimitPerMinute, time.Minute).Middleware()
		logger.Info("rate limiting enabled (in-memory)", "per_minute", cfg.RateLimitPerMinute)
	}

	handler, err := newHandler(cfg, table, cfg.verifier(), rateLimit, logger, checks...)
	if err != nil {
		logger.Error("gateway setup failed", "err", err)
		panic(err)
	}
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           otelhttp.NewHandler(handler, "gateway"),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("http server starting", "addr", srv.Addr, "upstreams", table.Upstreams())
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

// newHandler assembles the gateway. The realtime stream skips the request
// timeout; everything else shares one middleware stack.
func newHandler(cfg settings, table *policy.Table, v auth.Verifier, rateLimit httpx.Middleware, logger *slog.Logger, checks ...runtime.ReadyCheck) (http.Handler, error) {
	router, err := proxy.New(table, cfg.targets(), otelhttp.NewTransport(http.DefaultTransport), logger)
	if err != nil {
		return nil, err
	}

	common := []httpx.Middleware{
		httpx.WithCORS(httpx.CORSPolicy{
			AllowedOrigins:   cfg.CORSAllowedOrigins,
			AllowedMethods:   cfg.CORSAllowedMethods,
			AllowedHeaders:   cfg.CORSAllowedHeaders,
			AllowCredentials: cfg.CORSAllowCredentials,
			MaxAge:           cfg.CORSMaxAge,
		}),
		httpx.WithRequestID,
		httpx.WithAccessLog(logger),
		httpx.WithRecover(logger),
		identity.Middleware(v, table, logger),
		rateLimit,
	}
	api := httpx.Chain(router, append(common, httpx.WithBodyLimit(cfg.BodyLimit), httpx.WithTimeout(cfg.RequestTimeout))...)
	stream := httpx.Chain(router, common...)

	mux := runtime.NewBaseMuxWithReady(checks...)
	mux.Handle("GET "+streamPath, stream)
	mux.HandleFunc("GET /billing/success", checkoutReturn("Payment received", "Your payment is being confirmed. You can close this page."))
	mux.HandleFunc("GET /billing/cancel", checkoutReturn("Payment cancelled", "No charge was made. You can try again from your booking."))
	mux.Handle("/", api)
	return mux, nil
}
