package interceptors

import (
	"context"

	"github.com/google/uuid"
	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"
)

// RequestIDKey is the metadata key for the request ID.
const RequestIDKey = "x-request-id"

// RequestIDUnaryInterceptor propagates the caller's request ID or generates
// one, and echoes it in the response header.
func RequestIDUnaryInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		requestID := extractOrGenerateRequestID(ctx)
		ctx = withRequestID(ctx, requestID)
		_ = grpc.SetHeader(ctx, metadata.Pairs(RequestIDKey, requestID))
		return handler(ctx, req)
	}
}

// RequestIDStreamInterceptor does the same for streams.
func RequestIDStreamInterceptor() grpc.StreamServerInterceptor {
	return func(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		requestID := extractOrGenerateRequestID(ss.Context())
		_ = ss.SetHeader(metadata.Pairs(RequestIDKey, requestID))
		wrapped := &wrappedStream{ServerStream: ss, ctx: withRequestID(ss.Context(), requestID)}
		return handler(srv, wrapped)
	}
}

func extractOrGenerateRequestID(ctx context.Context) string {
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		if ids := md.Get(RequestIDKey); len(ids) > 0 && ids[0] != "" {
			return ids[0]
		}
	}
	return uuid.NewString()
}

// wrappedStream wraps grpc.ServerStream with a derived context.
type wrappedStream struct {
	grpc.ServerStream
	ctx context.Context
}

func (w *wrappedStream) Context() context.Context {
	return w.ctx
}
