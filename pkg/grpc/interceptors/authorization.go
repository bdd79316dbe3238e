package interceptors

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Authorizer decides whether an agent identity, as extracted by
// IdentityUnaryInterceptor, is currently permitted to publish. Implementations
// back this with a hot-reloadable trust map rather than a static role table.
type Authorizer interface {
	IsTrusted(agentID string) bool
}

// AuthorizationUnaryInterceptor rejects calls from agent identities that are
// not present in the trust map (unknown or revoked agents).
func AuthorizationUnaryInterceptor(authz Authorizer) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		if info.FullMethod == "/grpc.health.v1.Health/Check" ||
			info.FullMethod == "/grpc.health.v1.Health/Watch" {
			return handler(ctx, req)
		}

		agentID, ok := AgentIDFromContext(ctx)
		if !ok {
			return nil, status.Error(codes.PermissionDenied, "missing agent identity")
		}
		if !authz.IsTrusted(agentID) {
			return nil, status.Errorf(codes.PermissionDenied, "agent %s is not in the trust map", agentID)
		}

		return handler(ctx, req)
	}
}

// AuthorizationStreamInterceptor is the streaming counterpart of
// AuthorizationUnaryInterceptor.
func AuthorizationStreamInterceptor(authz Authorizer) grpc.StreamServerInterceptor {
	return func(srv interface{}, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		if info.FullMethod == "/grpc.health.v1.Health/Check" ||
			info.FullMethod == "/grpc.health.v1.Health/Watch" {
			return handler(srv, ss)
		}

		ctx := ss.Context()
		agentID, ok := AgentIDFromContext(ctx)
		if !ok {
			return status.Error(codes.PermissionDenied, "missing agent identity")
		}
		if !authz.IsTrusted(agentID) {
			return status.Errorf(codes.PermissionDenied, "agent %s is not in the trust map", agentID)
		}

		return handler(srv, ss)
	}
}
