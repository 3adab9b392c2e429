package interceptors

import (
	"context"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/goclaw/pumpcycle/pkg/logger"
)

// LoggingUnaryInterceptor logs every unary RPC with its status and duration.
func LoggingUnaryInterceptor(log logger.Logger) grpc.UnaryServerInterceptor {
	log = orNop(log)
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		logRPC(ctx, log, "gRPC request", info.FullMethod, err, time.Since(start))
		return resp, err
	}
}

// LoggingStreamInterceptor logs stream lifecycles.
func LoggingStreamInterceptor(log logger.Logger) grpc.StreamServerInterceptor {
	log = orNop(log)
	return func(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		start := time.Now()
		err := handler(srv, ss)
		logRPC(ss.Context(), log, "gRPC stream", info.FullMethod, err, time.Since(start))
		return err
	}
}

func logRPC(ctx context.Context, log logger.Logger, msg, method string, err error, d time.Duration) {
	code := status.Code(err)
	args := []any{
		"method", method,
		"code", code.String(),
		"duration_ms", d.Milliseconds(),
	}
	if requestID, ok := RequestIDFromContext(ctx); ok {
		args = append(args, "request_id", requestID)
	}

	switch code {
	case codes.OK:
		log.InfoContext(ctx, msg, args...)
	case codes.Internal, codes.Unknown, codes.DataLoss:
		log.ErrorContext(ctx, msg, append(args, "error", err)...)
	default:
		log.WarnContext(ctx, msg, append(args, "error", err)...)
	}
}

func orNop(log logger.Logger) logger.Logger {
	if log == nil {
		return logger.Nop()
	}
	return log
}
