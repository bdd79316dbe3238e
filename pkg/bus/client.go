package bus

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/amoskys/amoskys/pkg/envelope"
	"github.com/amoskys/amoskys/pkg/wal"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/keepalive"
)

// ClientOptions configures Client's connection to the bus.
type ClientOptions struct {
	// Address is the bus's gRPC listen address (host:port).
	Address string

	// CertFile/KeyFile are this agent's client certificate and key, whose
	// Subject Common Name must equal its source_agent_id.
	CertFile string
	KeyFile  string
	// CAFile verifies the bus's server certificate.
	CAFile string
	// ServerName overrides the name used for server certificate verification
	// when it differs from the dialed address's host.
	ServerName string

	DialTimeout time.Duration
}

// DefaultClientOptions returns options for address with a 10s dial timeout.
// Keepalive parameters are not part of ClientOptions; NewClient sets them.
func DefaultClientOptions(address string) ClientOptions {
	return ClientOptions{
		Address:     address,
		DialTimeout: 10 * time.Second,
	}
}

// Client is the agent-side gRPC client for the bus's Publish RPC. It
// implements pkg/wal.Publisher, letting the WAL's drain loop call it
// directly.
type Client struct {
	conn *grpc.ClientConn
	opts ClientOptions
}

// NewClient dials the bus over mutual TLS and returns a ready Client.
func NewClient(opts ClientOptions) (*Client, error) {
	if opts.Address == "" {
		return nil, fmt.Errorf("bus: client address is required")
	}

	creds, err := loadClientTLS(opts)
	if err != nil {
		return nil, fmt.Errorf("bus: load client tls: %w", err)
	}

	dialOpts := []grpc.DialOption{
		grpc.WithTransportCredentials(creds),
		grpc.WithDefaultCallOptions(grpc.CallContentSubtype(codecName)),
		grpc.WithKeepaliveParams(keepalive.ClientParameters{
			Time:                30 * time.Second,
			Timeout:             10 * time.Second,
			PermitWithoutStream: true,
		}),
	}

	timeout := opts.DialTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	conn, err := grpc.DialContext(ctx, opts.Address, dialOpts...)
	if err != nil {
		return nil, fmt.Errorf("bus: dial %s: %w", opts.Address, err)
	}

	return &Client{conn: conn, opts: opts}, nil
}

func loadClientTLS(opts ClientOptions) (credentials.TransportCredentials, error) {
	var certPool *x509.CertPool
	if opts.CAFile != "" {
		caCert, err := os.ReadFile(opts.CAFile)
		if err != nil {
			return nil, fmt.Errorf("read ca file: %w", err)
		}
		certPool = x509.NewCertPool()
		if !certPool.AppendCertsFromPEM(caCert) {
			return nil, fmt.Errorf("parse ca file %s", opts.CAFile)
		}
	}

	var certs []tls.Certificate
	if opts.CertFile != "" && opts.KeyFile != "" {
		cert, err := tls.LoadX509KeyPair(opts.CertFile, opts.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("load client certificate: %w", err)
		}
		certs = append(certs, cert)
	}

	return credentials.NewTLS(&tls.Config{
		Certificates: certs,
		RootCAs:      certPool,
		ServerName:   opts.ServerName,
		MinVersion:   tls.VersionTLS12,
	}), nil
}

// Publish implements wal.Publisher: it decodes envelopeBytes, sends it to the
// bus's Publish RPC, and maps the PublishAck's status onto a wal.Outcome.
func (c *Client) Publish(ctx context.Context, envelopeBytes []byte) (wal.Outcome, error) {
	var env envelope.Envelope
	if err := json.Unmarshal(envelopeBytes, &env); err != nil {
		return wal.OutcomeInvalid, fmt.Errorf("bus client: decode envelope: %w", err)
	}

	req := &PublishRequest{Envelope: env}
	ack := new(PublishAck)

	err := c.conn.Invoke(ctx, "/"+serviceName+"/Publish", req, ack)
	if err != nil {
		return wal.OutcomeRetry, fmt.Errorf("bus client: publish rpc: %w", err)
	}

	return busOutcomeToWAL(statusToOutcome(ack.Status)), nil
}

func busOutcomeToWAL(o Outcome) wal.Outcome {
	switch o {
	case OK:
		return wal.OutcomeOK
	case Invalid:
		return wal.OutcomeInvalid
	case Overload:
		return wal.OutcomeOverload
	default:
		return wal.OutcomeRetry
	}
}

// Close tears down the underlying connection.
func (c *Client) Close() error {
	return c.conn.Close()
}
