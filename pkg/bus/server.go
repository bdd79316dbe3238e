package bus

import (
	"context"
	"fmt"

	"github.com/amoskys/amoskys/config"
	"github.com/amoskys/amoskys/pkg/bus/store"
	"github.com/amoskys/amoskys/pkg/grpc"
	"github.com/amoskys/amoskys/pkg/grpc/interceptors"
	"github.com/amoskys/amoskys/pkg/logger"
	"github.com/amoskys/amoskys/pkg/metrics"
	"github.com/amoskys/amoskys/pkg/trust"
)

// Server is the EventBus daemon: an mTLS gRPC server terminating agent
// Publish calls, backed by a Pipeline and its Store.
type Server struct {
	grpcSrv  *grpc.Server
	pipeline *Pipeline
	trust    *trust.Map
	store    store.Store
}

// Deps collects the constructed dependencies a Server wires together. Callers
// (cmd/busd) build these from config.Config rather than the Server
// reaching into config itself, keeping this package config-shape agnostic
// beyond the Config type below.
type Deps struct {
	Trust   *trust.Map
	Store   store.Store
	Metrics *metrics.Manager
}

// NewServer builds the bus's gRPC server from cfg and deps: it constructs the
// Publish pipeline, assembles the recovery/request-id/identity/authorization/
// rate-limit/validation/logging interceptor chain ahead of the
// hand-rolled Publish RPC, and registers the service.
func NewServer(cfg *config.Config, deps Deps) (*Server, error) {
	if deps.Trust == nil {
		return nil, fmt.Errorf("bus: trust map is required")
	}
	if deps.Store == nil {
		return nil, fmt.Errorf("bus: event store is required")
	}

	pipeline := NewPipeline(Config{
		Trust:       deps.Trust,
		Store:       deps.Store,
		MaxInFlight: cfg.Bus.MaxInFlight,
		Metrics:     deps.Metrics,
	})

	grpcCfg := cfg.Server.GRPC.ToGRPCConfig()
	grpcCfg.EnableHealthCheck = true

	chain := interceptors.NewChainBuilder().
		WithRecovery().
		WithRequestID().
		WithIdentity(nil).
		WithAuthorization(deps.Trust).
		WithRateLimit(cfg.Bus.RateLimit.RatePerSecond, cfg.Bus.RateLimit.Burst).
		WithValidation().
		WithLogging()

	grpcCfg.UnaryInterceptors = chain.UnaryInterceptors()
	grpcCfg.StreamInterceptors = chain.StreamInterceptors()

	srv, err := grpc.New(grpcCfg)
	if err != nil {
		return nil, fmt.Errorf("bus: build grpc server: %w", err)
	}

	s := &Server{
		grpcSrv:  srv,
		pipeline: pipeline,
		trust:    deps.Trust,
		store:    deps.Store,
	}
	srv.RegisterService(&ServiceDesc, s)
	return s, nil
}

// Publish implements PublishService, satisfying the hand-rolled ServiceDesc.
// The caller's identity was already extracted and authorized by the
// interceptor chain; Publish re-derives it here only to pass into the
// pipeline's own identity-match check against the envelope payload.
func (s *Server) Publish(ctx context.Context, req *PublishRequest) (*PublishAck, error) {
	agentID, _ := interceptors.AgentIDFromContext(ctx)
	result := s.pipeline.Publish(ctx, agentID, req.Envelope)
	return &PublishAck{Status: result.Outcome.String(), Detail: result.Detail}, nil
}

// Start begins serving gRPC traffic.
func (s *Server) Start() error {
	if err := s.grpcSrv.Start(); err != nil {
		return err
	}
	logger.Info("bus server started", "address", s.grpcSrv.Address())
	return nil
}

// Stop gracefully stops the server.
func (s *Server) Stop(ctx context.Context) error {
	return s.grpcSrv.Stop(ctx)
}

// InFlightLen exposes the pipeline's in-flight depth for readiness checks.
func (s *Server) InFlightLen() int {
	return s.pipeline.InFlightLen()
}

// SetOverloaded forwards to the pipeline, for operator shed-load control.
func (s *Server) SetOverloaded(overloaded bool) {
	s.pipeline.SetOverloaded(overloaded)
}

// Health returns the underlying gRPC health server, or nil before Start.
func (s *Server) Health() *grpc.HealthServer {
	return s.grpcSrv.Health()
}
