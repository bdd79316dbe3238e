package interceptors

import "context"

type contextKey string

const (
	agentIDContextKey   contextKey = "agent_id"
	requestIDContextKey contextKey = "request_id"
)

func withAgentID(ctx context.Context, agentID string) context.Context {
	return context.WithValue(ctx, agentIDContextKey, agentID)
}

// ContextWithAgentID returns a context carrying agentID the same way
// IdentityUnaryInterceptor does. Exported so callers that invoke a service
// handler directly, bypassing the interceptor chain (tests, in-process
// calls), can still provide the identity Authorization/handlers expect.
func ContextWithAgentID(ctx context.Context, agentID string) context.Context {
	return withAgentID(ctx, agentID)
}

// AgentIDFromContext returns the agent identity extracted from the peer's
// verified TLS certificate by IdentityUnaryInterceptor, if present.
func AgentIDFromContext(ctx context.Context) (string, bool) {
	agentID, ok := ctx.Value(agentIDContextKey).(string)
	return agentID, ok
}

func withRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDContextKey, requestID)
}

func requestIDFromContext(ctx context.Context) (string, bool) {
	requestID, ok := ctx.Value(requestIDContextKey).(string)
	return requestID, ok
}
