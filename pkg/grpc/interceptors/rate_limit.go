package interceptors

import (
	"context"
	"net"
	"sync"
	"time"

	"golang.org/x/time/rate"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"
)

// RateLimiter keeps one token bucket per calling peer.
type RateLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	rate     rate.Limit
	burst    int
	exempt   map[string]struct{}
}

// NewRateLimiter creates a limiter allowing requestsPerSecond with burst per
// peer. Methods listed in exempt are never limited.
func NewRateLimiter(requestsPerSecond float64, burst int, exempt ...string) *RateLimiter {
	if burst < 1 {
		burst = 1
	}
	rl := &RateLimiter{
		limiters: make(map[string]*rate.Limiter),
		rate:     rate.Limit(requestsPerSecond),
		burst:    burst,
		exempt:   make(map[string]struct{}, len(exempt)),
	}
	for _, m := range exempt {
		rl.exempt[m] = struct{}{}
	}
	return rl
}

func (rl *RateLimiter) limiter(clientID string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	limiter, ok := rl.limiters[clientID]
	if !ok {
		limiter = rate.NewLimiter(rl.rate, rl.burst)
		rl.limiters[clientID] = limiter
	}
	return limiter
}

// allow reports whether the call may proceed and, if not, how long the
// client should wait.
func (rl *RateLimiter) allow(ctx context.Context, method string) (bool, time.Duration) {
	if _, ok := rl.exempt[method]; ok {
		return true, 0
	}
	limiter := rl.limiter(clientID(ctx))
	if limiter.Allow() {
		return true, 0
	}
	reservation := limiter.Reserve()
	delay := reservation.Delay()
	reservation.Cancel()
	return false, delay
}

// RateLimitUnaryInterceptor rejects calls over the limit with
// codes.ResourceExhausted and a retry-after header.
func RateLimitUnaryInterceptor(rl *RateLimiter) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		if ok, retryAfter := rl.allow(ctx, info.FullMethod); !ok {
			_ = grpc.SetHeader(ctx, metadata.Pairs("retry-after", retryAfter.String()))
			return nil, status.Error(codes.ResourceExhausted, "rate limit exceeded")
		}
		return handler(ctx, req)
	}
}

// RateLimitStreamInterceptor applies the limit when a stream opens.
func RateLimitStreamInterceptor(rl *RateLimiter) grpc.StreamServerInterceptor {
	return func(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		if ok, _ := rl.allow(ss.Context(), info.FullMethod); !ok {
			return status.Error(codes.ResourceExhausted, "rate limit exceeded")
		}
		return handler(srv, ss)
	}
}

// clientID identifies the caller by peer host.
func clientID(ctx context.Context) string {
	p, ok := peer.FromContext(ctx)
	if !ok || p.Addr == nil {
		return "anonymous"
	}
	addr := p.Addr.String()
	if host, _, err := net.SplitHostPort(addr); err == nil {
		return host
	}
	return addr
}
