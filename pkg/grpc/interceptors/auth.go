package interceptors

import (
	"context"
	"crypto/x509"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"
)

// SubjectExtractor derives the agent identity from a client's verified leaf
// certificate. The bus uses the certificate's Subject Common Name.
type SubjectExtractor func(cert *x509.Certificate) string

// CommonNameExtractor is the default SubjectExtractor, using the leaf
// certificate's Subject Common Name as the agent identity.
func CommonNameExtractor(cert *x509.Certificate) string {
	return cert.Subject.CommonName
}

// IdentityUnaryInterceptor extracts the caller's agent identity from the
// verified client certificate presented during the mTLS handshake and
// stores it in the context for downstream interceptors and handlers.
func IdentityUnaryInterceptor(extract SubjectExtractor) grpc.UnaryServerInterceptor {
	if extract == nil {
		extract = CommonNameExtractor
	}
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		if info.FullMethod == "/grpc.health.v1.Health/Check" ||
			info.FullMethod == "/grpc.health.v1.Health/Watch" {
			return handler(ctx, req)
		}

		agentID, err := identityFromContext(ctx, extract)
		if err != nil {
			return nil, err
		}

		return handler(withAgentID(ctx, agentID), req)
	}
}

// IdentityStreamInterceptor is the streaming counterpart of IdentityUnaryInterceptor.
func IdentityStreamInterceptor(extract SubjectExtractor) grpc.StreamServerInterceptor {
	if extract == nil {
		extract = CommonNameExtractor
	}
	return func(srv interface{}, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		ctx := ss.Context()

		agentID, err := identityFromContext(ctx, extract)
		if err != nil {
			return err
		}

		wrapped := &wrappedStream{ServerStream: ss, ctx: withAgentID(ctx, agentID)}
		return handler(srv, wrapped)
	}
}

func identityFromContext(ctx context.Context, extract SubjectExtractor) (string, error) {
	p, ok := peer.FromContext(ctx)
	if !ok || p.AuthInfo == nil {
		return "", status.Error(codes.Unauthenticated, "missing peer transport credentials")
	}

	tlsInfo, ok := p.AuthInfo.(credentials.TLSInfo)
	if !ok {
		return "", status.Error(codes.Unauthenticated, "connection is not authenticated via TLS")
	}

	chains := tlsInfo.State.VerifiedChains
	if len(chains) == 0 || len(chains[0]) == 0 {
		return "", status.Error(codes.Unauthenticated, "no verified client certificate presented")
	}

	agentID := extract(chains[0][0])
	if agentID == "" {
		return "", status.Error(codes.Unauthenticated, "client certificate carries no usable identity")
	}

	return agentID, nil
}
