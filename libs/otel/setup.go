package otelx

import (
	"context"
	"os"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
)

const namespace = "courtops"

type Config struct {
	Enabled      bool
	ServiceName  string
	Version      string
	Environment  string
	OTLPEndpoint string // host:port of the collector
	Insecure     bool
	SampleRatio  float64
}

// ConfigFromEnv reads the OTEL_* variables. An https:// endpoint switches the
// exporter to TLS; anything else talks plaintext to the collector.
func ConfigFromEnv(serviceName string) Config {
	cfg := Config{
		Enabled:     !isFalse(getenv("OTEL_ENABLED", "true")),
		ServiceName: getenv("OTEL_SERVICE_NAME", serviceName),
		Version:     getenv("SERVICE_VERSION", "dev"),
		Environment: getenv("DEPLOYMENT_ENV", "local"),
		Insecure:    true,
		SampleRatio: 1,
	}

	endpoint := getenv("OTEL_EXPORTER_OTLP_ENDPOINT", "jaeger:4317")
	if rest, ok := strings.CutPrefix(endpoint, "https://"); ok {
		endpoint, cfg.Insecure = rest, false
	}
	cfg.OTLPEndpoint = strings.TrimPrefix(endpoint, "http://")
	if v, ok := lookupEnv("OTEL_EXPORTER_OTLP_INSECURE"); ok {
		cfg.Insecure = !isFalse(v)
	}

	ratio := getenv("OTEL_TRACES_SAMPLER_RATIO", getenv("OTEL_SAMPLING_RATIO", "1"))
	if f, err := strconv.ParseFloat(ratio, 64); err == nil && f >= 0 && f <= 1 {
		cfg.SampleRatio = f
	}
	return cfg
}

// Setup installs the W3C propagators and, when enabled, a batching OTLP tracer
// provider. The returned func flushes pending spans.
func Setup(ctx context.Context, cfg Config) (func(context.Context) error, error) {
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
	if !cfg.Enabled {
		return func(context.Context) error { return nil }, nil
	}

	opts := []otlptracegrpc.Option{
		otlptracegrpc.WithEndpoint(cfg.OTLPEndpoint),
		otlptracegrpc.WithTimeout(3 * time.Second),
	}
	if cfg.Insecure {
		opts = append(opts, otlptracegrpc.WithInsecure())
	}
	exp, err := otlptracegrpc.New(ctx, opts...)
	if err != nil {
		return nil, err
	}

	res, err := resource.New(ctx, resource.WithAttributes(cfg.attributes()...))
	if err != nil {
		return nil, err
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.SampleRatio))),
		sdktrace.WithBatcher(exp),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)
	return tp.Shutdown, nil
}

func (c Config) attributes() []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		semconv.ServiceName(c.ServiceName),
		semconv.ServiceNamespace(namespace),
	}
	if c.Version != "" {
		attrs = append(attrs, semconv.ServiceVersion(c.Version))
	}
	if c.Environment != "" {
		attrs = append(attrs, semconv.DeploymentEnvironment(c.Environment))
	}
	return attrs
}

func isFalse(v string) bool {
	switch strings.ToLower(v) {
	case "false", "0", "no", "off":
		return true
	}
	return false
}

// lookupEnv is swapped in tests.
var lookupEnv = os.LookupEnv

func getenv(key, fallback string) string {
	if v, ok := lookupEnv(key); ok && strings.TrimSpace(v) != "" {
		return strings.TrimSpace(v)
	}
	return fallback
}
