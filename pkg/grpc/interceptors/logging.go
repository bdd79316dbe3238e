package interceptors

import (
	"context"
	"time"

	"github.com/amoskys/amoskys/pkg/logger"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// LoggingUnaryInterceptor logs request and response for unary RPCs.
func LoggingUnaryInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		start := time.Now()

		requestID, ok := requestIDFromContext(ctx)
		if !ok {
			requestID = "unknown"
		}

		logger.InfoContext(ctx, "grpc request started", "request_id", requestID, "method", info.FullMethod)

		resp, err := handler(ctx, req)

		duration := time.Since(start)
		statusCode := codes.OK
		if err != nil {
			statusCode = status.Code(err)
		}

		logger.InfoContext(ctx, "grpc request finished",
			"request_id", requestID,
			"method", info.FullMethod,
			"code", statusCode.String(),
			"duration_ms", duration.Milliseconds(),
		)

		return resp, err
	}
}

// LoggingStreamInterceptor logs stream lifecycle for streaming RPCs.
func LoggingStreamInterceptor() grpc.StreamServerInterceptor {
	return func(srv interface{}, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		start := time.Now()

		ctx := ss.Context()
		requestID, ok := requestIDFromContext(ctx)
		if !ok {
			requestID = "unknown"
		}

		logger.InfoContext(ctx, "grpc stream started",
			"request_id", requestID,
			"method", info.FullMethod,
			"client_stream", info.IsClientStream,
			"server_stream", info.IsServerStream,
		)

		err := handler(srv, ss)

		duration := time.Since(start)
		statusCode := codes.OK
		if err != nil {
			statusCode = status.Code(err)
		}

		logger.InfoContext(ctx, "grpc stream finished",
			"request_id", requestID,
			"method", info.FullMethod,
			"code", statusCode.String(),
			"duration_ms", duration.Milliseconds(),
		)

		return err
	}
}
