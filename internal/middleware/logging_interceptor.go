package middleware

import (
	"context"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

func grpcRequestID(ctx context.Context) string {
	md, _ := metadata.FromIncomingContext(ctx)
	if ids := md.Get("x-request-id"); len(ids) > 0 {
		return ids[0]
	}
	return ""
}

func logRPC(logger *zap.Logger, msg, method, requestID string, start time.Time, err error) {
	code := codes.OK
	logLevel := zapcore.DebugLevel
	if err != nil {
		code = status.Code(err)
		logLevel = zapcore.ErrorLevel
	}

	logger.Check(logLevel, msg).Write(
		zap.String("method", method),
		zap.String("request_id", requestID),
		zap.Duration("duration", time.Since(start)),
		zap.String("code", code.String()),
		zap.Error(err),
	)
}

// UnaryLoggingInterceptor logs unary RPC calls with timing and errors.
// Successful calls log at debug level: health probes are frequent.
func UnaryLoggingInterceptor(logger *zap.Logger) grpc.UnaryServerInterceptor {
	return func(
		ctx context.Context,
		req interface{},
		info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (interface{}, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		logRPC(logger, "unary RPC", info.FullMethod, grpcRequestID(ctx), start, err)
		return resp, err
	}
}

// StreamLoggingInterceptor logs streaming RPC calls (health Watch) with timing and errors
func StreamLoggingInterceptor(logger *zap.Logger) grpc.StreamServerInterceptor {
	return func(
		srv interface{},
		ss grpc.ServerStream,
		info *grpc.StreamServerInfo,
		handler grpc.StreamHandler,
	) error {
		start := time.Now()
		err := handler(srv, ss)
		logRPC(logger, "stream RPC", info.FullMethod, grpcRequestID(ss.Context()), start, err)
		return err
	}
}
