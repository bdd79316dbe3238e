package config

import "time"

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		App: AppConfig{
			Name:        "amoskys",
			Version:     "dev",
			Environment: "development",
			Debug:       false,
		},
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: 8080,
			GRPC: GRPCConfig{
				Enabled:           true,
				Port:              9090,
				MaxConnections:    1000,
				MaxRecvMsgSize:    4 * 1024 * 1024, // 4MB
				MaxSendMsgSize:    4 * 1024 * 1024, // 4MB
				EnableReflection:  false,
				EnableHealthCheck: true,
				TLS: GRPCTLSConfig{
					Enabled:    true,
					ClientAuth: true,
				},
				Keepalive: GRPCKeepaliveConfig{
					MaxIdleSeconds:      300,
					MaxAgeSeconds:       3600,
					MaxAgeGraceSeconds:  60,
					TimeSeconds:         60,
					TimeoutSeconds:      20,
					MinTimeSeconds:      30,
					PermitWithoutStream: false,
				},
			},
			HTTP: HTTPConfig{
				Enabled:         true,
				ReadTimeout:     30 * time.Second,
				WriteTimeout:    30 * time.Second,
				IdleTimeout:     120 * time.Second,
				ShutdownTimeout: 10 * time.Second,
				MaxHeaderBytes:  1 << 20, // 1MB
			},
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Trust: TrustConfig{
			Path:            "./config/trust.yaml",
			WatchForChanges: true,
		},
		Bus: BusConfig{
			MaxInFlight: 1024,
			DedupWindow: 5 * time.Minute,
			RateLimit: RateLimitConfig{
				RatePerSecond: 200,
				Burst:         400,
			},
			Store: EventStoreConfig{
				Path:          "./data/bus/events.db",
				RetentionDays: 30,
			},
		},
		Agent: AgentConfig{
			WAL: WALConfig{
				Path:               "./data/agent/wal",
				WriteMode:          "async",
				AsyncQueueSize:     1024,
				MaxRecords:         50000,
				BackpressurePolicy: "block",
				BatchSize:          32,
				PollInterval:       250 * time.Millisecond,
			},
			BusAddress:     "localhost:9090",
			SigningKeyFile: "./config/agent.key",
			ClientCertFile: "./config/agent.crt",
			ClientKeyFile:  "./config/agent.key.pem",
			CAFile:         "./config/ca.crt",
		},
		Fusion: FusionConfig{
			WindowSize:         500,
			WindowTTL:          30 * time.Minute,
			EvaluationSchedule: "@every 60s",
			Workers:            4,
			Store: IncidentStoreConfig{
				Path: "./data/fusion/incidents.db",
			},
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
			Port:    9091,
		},
		Tracing: TracingConfig{
			Enabled:    false,
			Type:       "jaeger",
			Endpoint:   "http://localhost:14268/api/traces",
			SampleRate: 0.1,
		},
	}
}
