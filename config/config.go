// Package config provides configuration management for the bus, agent, and
// fusion daemons.
package config

import (
	"fmt"
	"time"
)

// Config is the global configuration tree. Each daemon loads the same
// structure and reads only the sections it needs.
type Config struct {
	// App is the application configuration.
	App AppConfig `mapstructure:"app" validate:"required"`

	// Server is the server configuration.
	Server ServerConfig `mapstructure:"server" validate:"required"`

	// Log is the logging configuration.
	Log LogConfig `mapstructure:"log" validate:"required"`

	// Trust is the mTLS trust-map configuration shared by the bus and agent.
	Trust TrustConfig `mapstructure:"trust"`

	// Bus is the EventBus daemon configuration.
	Bus BusConfig `mapstructure:"bus"`

	// Agent is the agent WAL/publisher configuration.
	Agent AgentConfig `mapstructure:"agent"`

	// Fusion is the correlation engine configuration.
	Fusion FusionConfig `mapstructure:"fusion"`

	// Metrics is the observability configuration.
	Metrics MetricsConfig `mapstructure:"metrics"`

	// Tracing is the distributed tracing configuration.
	Tracing TracingConfig `mapstructure:"tracing"`
}

// AppConfig holds application metadata and settings.
type AppConfig struct {
	// Name is the application name.
	Name string `mapstructure:"name" validate:"required"`

	// Version is the application version.
	Version string `mapstructure:"version"`

	// Environment is the runtime environment (development, staging, production).
	Environment string `mapstructure:"environment" validate:"oneof=development staging production"`

	// Debug enables debug mode with verbose logging.
	Debug bool `mapstructure:"debug"`
}

// ServerConfig holds the HTTP/gRPC server configuration.
type ServerConfig struct {
	// Host is the bind address.
	Host string `mapstructure:"host"`

	// Port is the HTTP API port (health/metrics).
	Port int `mapstructure:"port" validate:"required,min=1,max=65535"`

	// GRPC is the gRPC server configuration.
	GRPC GRPCConfig `mapstructure:"grpc"`

	// HTTP is the HTTP server configuration.
	HTTP HTTPConfig `mapstructure:"http"`
}

// GRPCConfig holds gRPC-specific settings.
type GRPCConfig struct {
	// Enabled enables the gRPC server.
	Enabled bool `mapstructure:"enabled"`

	// Port is the gRPC server port.
	Port int `mapstructure:"port" validate:"min=1,max=65535"`

	// MaxConnections is the maximum number of concurrent connections.
	MaxConnections int `mapstructure:"max_connections" validate:"min=0"`

	// MaxRecvMsgSize is the maximum message size the server can receive (bytes).
	MaxRecvMsgSize int `mapstructure:"max_recv_msg_size" validate:"min=0"`

	// MaxSendMsgSize is the maximum message size the server can send (bytes).
	MaxSendMsgSize int `mapstructure:"max_send_msg_size" validate:"min=0"`

	// EnableReflection enables gRPC server reflection for debugging.
	EnableReflection bool `mapstructure:"enable_reflection"`

	// EnableHealthCheck enables gRPC health check service.
	EnableHealthCheck bool `mapstructure:"enable_health_check"`

	// TLS is the mutual-TLS configuration. ClientAuth is always required for
	// the bus's Publish RPC: the client certificate's subject is the agent's
	// identity.
	TLS GRPCTLSConfig `mapstructure:"tls"`

	// Keepalive is the keepalive configuration.
	Keepalive GRPCKeepaliveConfig `mapstructure:"keepalive"`
}

// GRPCTLSConfig holds gRPC mTLS settings.
type GRPCTLSConfig struct {
	// Enabled indicates whether TLS is enabled.
	Enabled bool `mapstructure:"enabled"`

	// CertFile is the path to the server certificate file.
	CertFile string `mapstructure:"cert_file"`

	// KeyFile is the path to the server private key file.
	KeyFile string `mapstructure:"key_file"`

	// CAFile is the path to the CA certificate file used to verify client
	// certificates.
	CAFile string `mapstructure:"ca_file"`

	// ClientAuth indicates whether to require client certificates (mTLS).
	ClientAuth bool `mapstructure:"client_auth"`
}

// GRPCKeepaliveConfig holds gRPC keepalive settings.
type GRPCKeepaliveConfig struct {
	// MaxIdleSeconds is the maximum idle time before closing connection.
	MaxIdleSeconds int `mapstructure:"max_idle_seconds" validate:"min=0"`

	// MaxAgeSeconds is the maximum connection age.
	MaxAgeSeconds int `mapstructure:"max_age_seconds" validate:"min=0"`

	// MaxAgeGraceSeconds is the grace period for closing connections.
	MaxAgeGraceSeconds int `mapstructure:"max_age_grace_seconds" validate:"min=0"`

	// TimeSeconds is the keepalive ping interval.
	TimeSeconds int `mapstructure:"time_seconds" validate:"min=0"`

	// TimeoutSeconds is the keepalive ping timeout.
	TimeoutSeconds int `mapstructure:"timeout_seconds" validate:"min=0"`

	// MinTimeSeconds is the minimum time between client pings.
	MinTimeSeconds int `mapstructure:"min_time_seconds" validate:"min=0"`

	// PermitWithoutStream allows pings without active streams.
	PermitWithoutStream bool `mapstructure:"permit_without_stream"`
}

// HTTPConfig holds HTTP-specific settings for the health/metrics surface.
type HTTPConfig struct {
	// Enabled enables the HTTP server.
	Enabled bool `mapstructure:"enabled"`

	// ReadTimeout is the maximum duration for reading the entire request.
	ReadTimeout time.Duration `mapstructure:"read_timeout"`

	// WriteTimeout is the maximum duration before timing out writes.
	WriteTimeout time.Duration `mapstructure:"write_timeout"`

	// IdleTimeout is the maximum amount of time to wait for the next request.
	IdleTimeout time.Duration `mapstructure:"idle_timeout"`

	// ShutdownTimeout is the maximum duration to wait for graceful shutdown.
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`

	// MaxHeaderBytes limits the size of request headers.
	MaxHeaderBytes int `mapstructure:"max_header_bytes"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	// Level is the log level (debug, info, warn, error).
	Level string `mapstructure:"level" validate:"oneof=debug info warn error"`

	// Format is the output format (json, text).
	Format string `mapstructure:"format" validate:"oneof=json text"`

	// Output is the output destination (stdout, stderr, or file path).
	Output string `mapstructure:"output"`
}

// TrustConfig points at the trust-map file granting agents bus access.
type TrustConfig struct {
	// Path is the trust-map file (YAML or JSON) listing trusted agent IDs,
	// their Ed25519 public keys, and certificate fingerprints.
	Path string `mapstructure:"path" validate:"required"`

	// WatchForChanges enables hot reload via fsnotify.
	WatchForChanges bool `mapstructure:"watch_for_changes"`
}

// BusConfig holds EventBus daemon settings.
type BusConfig struct {
	// MaxInFlight bounds concurrently-admitted-but-not-yet-stored envelopes.
	MaxInFlight int `mapstructure:"max_in_flight" validate:"min=1"`

	// DedupWindow is how long a recently-seen event_id is remembered for
	// duplicate rejection.
	DedupWindow time.Duration `mapstructure:"dedup_window"`

	// RateLimit is the per-agent admission rate limit.
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`

	// Store is the durable event-store configuration.
	Store EventStoreConfig `mapstructure:"store"`
}

// RateLimitConfig configures the token-bucket admission limiter.
type RateLimitConfig struct {
	// RatePerSecond is the sustained admission rate per agent.
	RatePerSecond float64 `mapstructure:"rate_per_second" validate:"min=0"`

	// Burst is the token bucket capacity.
	Burst int `mapstructure:"burst" validate:"min=1"`
}

// EventStoreConfig holds the SQLite-backed event store settings.
type EventStoreConfig struct {
	// Path is the SQLite database file path.
	Path string `mapstructure:"path" validate:"required"`

	// RetentionDays is how long stored events are kept before pruning.
	RetentionDays int `mapstructure:"retention_days" validate:"min=0"`
}

// AgentConfig holds agent WAL/publisher settings.
type AgentConfig struct {
	// ID is this agent's identity; it must match the Common Name on its
	// mTLS client certificate.
	ID string `mapstructure:"id" validate:"required"`

	// WAL is the Badger-backed write-ahead-log configuration.
	WAL WALConfig `mapstructure:"wal"`

	// BusAddress is the bus's gRPC endpoint.
	BusAddress string `mapstructure:"bus_address" validate:"required"`

	// SigningKeyFile is the path to this agent's Ed25519 private key, used to
	// sign outgoing envelopes.
	SigningKeyFile string `mapstructure:"signing_key_file" validate:"required"`

	// ClientCertFile/ClientKeyFile are this agent's mTLS client identity; the
	// certificate's Subject Common Name must equal ID.
	ClientCertFile string `mapstructure:"client_cert_file" validate:"required"`
	ClientKeyFile  string `mapstructure:"client_key_file" validate:"required"`

	// CAFile verifies the bus's server certificate.
	CAFile string `mapstructure:"ca_file" validate:"required"`

	// ServerName overrides the TLS server-name verification when the bus
	// address's host is not directly the certificate's subject.
	ServerName string `mapstructure:"server_name"`
}

// WALConfig holds write-ahead-log settings.
type WALConfig struct {
	// Path is the Badger database directory for this agent's WAL.
	Path string `mapstructure:"path" validate:"required"`

	// WriteMode is "sync" or "async".
	WriteMode string `mapstructure:"write_mode" validate:"oneof=sync async"`

	// AsyncQueueSize bounds the buffered async writer channel.
	AsyncQueueSize int `mapstructure:"async_queue_size" validate:"min=0"`

	// MaxRecords is the high-water mark enforced by the backpressure limiter.
	MaxRecords int `mapstructure:"max_records" validate:"min=1"`

	// BackpressurePolicy is "block" or "drop" once MaxRecords is reached.
	BackpressurePolicy string `mapstructure:"backpressure_policy" validate:"oneof=block drop"`

	// BatchSize is how many pending records the publish loop drains per tick.
	BatchSize int `mapstructure:"batch_size" validate:"min=1"`

	// PollInterval is how often the publish loop polls for pending records.
	PollInterval time.Duration `mapstructure:"poll_interval"`
}

// FusionConfig holds correlation-engine settings.
type FusionConfig struct {
	// WindowSize bounds the number of events retained per device.
	WindowSize int `mapstructure:"window_size" validate:"min=1"`

	// WindowTTL is the maximum age of an event kept in a device's window.
	WindowTTL time.Duration `mapstructure:"window_ttl"`

	// EvaluationSchedule is a cron expression controlling how often rules
	// are re-evaluated against each device's window.
	EvaluationSchedule string `mapstructure:"evaluation_schedule" validate:"required"`

	// Workers is the size of the per-device rule-evaluation worker pool.
	Workers int `mapstructure:"workers" validate:"min=1"`

	// EnabledRules lists the rule names to evaluate; empty means all.
	EnabledRules []string `mapstructure:"enabled_rules"`

	// Store is the SQLite-backed incident/risk store configuration.
	Store IncidentStoreConfig `mapstructure:"store"`
}

// IncidentStoreConfig holds the fusion engine's SQLite store settings.
type IncidentStoreConfig struct {
	// Path is the SQLite database file path.
	Path string `mapstructure:"path" validate:"required"`
}

// MetricsConfig holds observability settings.
type MetricsConfig struct {
	// Enabled enables metrics collection.
	Enabled bool `mapstructure:"enabled"`

	// Path is the metrics endpoint path.
	Path string `mapstructure:"path"`

	// Port is the metrics server port.
	Port int `mapstructure:"port" validate:"min=1,max=65535"`
}

// TracingConfig holds distributed tracing settings.
type TracingConfig struct {
	// Enabled enables distributed tracing.
	Enabled bool `mapstructure:"enabled"`

	// Type is the tracing backend (jaeger, zipkin).
	Type string `mapstructure:"type" validate:"oneof=jaeger zipkin"`

	// Endpoint is the collector endpoint.
	Endpoint string `mapstructure:"endpoint"`

	// SampleRate is the fraction of traces to sample (0.0-1.0).
	SampleRate float64 `mapstructure:"sample_rate" validate:"min=0,max=1"`
}

// Validate performs validation on the configuration.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}
	return nil
}

// String returns a string representation of the configuration (without sensitive data).
func (c *Config) String() string {
	return fmt.Sprintf("Config{App: %s, Server: :%d, Env: %s}",
		c.App.Name, c.Server.Port, c.App.Environment)
}
