package grpcx

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

type DialOptions struct {
	// Timeout bounds every call whose context carries no deadline.
	Timeout time.Duration
	// Retries is how many extra attempts a call failing with Unavailable
	// gets. courtops RPCs are read-only lookups, so retrying is safe.
	Retries int
	// Defaults to insecure credentials; traffic stays inside the cluster.
	TransportCredentials grpc.DialOption
}

// Dial returns a lazily connecting client for addr.
func Dial(addr string, opts DialOptions, extra ...grpc.DialOption) (*grpc.ClientConn, error) {
	if opts.Timeout <= 0 {
		opts.Timeout = 3 * time.Second
	}
	if opts.Retries < 0 {
		opts.Retries = 0
	}
	creds := opts.TransportCredentials
	if creds == nil {
		creds = grpc.WithTransportCredentials(insecure.NewCredentials())
	}
	dialOpts := []grpc.DialOption{
		creds,
		grpc.WithStatsHandler(otelgrpc.NewClientHandler()),
		grpc.WithChainUnaryInterceptor(
			UnaryClientRequestIDInterceptor(),
			unaryClientTimeoutInterceptor(opts.Timeout),
		),
	}
	if opts.Retries > 0 {
		dialOpts = append(dialOpts, grpc.WithDefaultServiceConfig(retryServiceConfig(opts.Retries)))
	}
	return grpc.NewClient(addr, append(dialOpts, extra...)...)
}

// retryServiceConfig retries Unavailable on every method. gRPC caps
// maxAttempts at 5.
func retryServiceConfig(retries int) string {
	attempts := min(retries+1, 5)
	return fmt.Sprintf(`{"methodConfig":[{"name":[{}],"retryPolicy":{"maxAttempts":%d,`+
		`"initialBackoff":"0.1s","maxBackoff":"1s","backoffMultiplier":2,"retryableStatusCodes":["UNAVAILABLE"]}}]}`, attempts)
}

func unaryClientTimeoutInterceptor(d time.Duration) grpc.UnaryClientInterceptor {
	return func(ctx context.Context, method string, req, reply any, cc *grpc.ClientConn, invoker grpc.UnaryInvoker, opts ...grpc.CallOption) error {
		if _, ok := ctx.Deadline(); !ok {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, d)
			defer cancel()
		}
		return invoker(ctx, method, req, reply, cc, opts...)
	}
}
