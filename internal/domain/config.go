package domain

import "time"

// Config holds the complete fraudgraph configuration.
type Config struct {
	// Server settings for the optional HTTP presentation layer
	Server ServerConfig `yaml:"server" json:"server"`

	// Profile selects the backing stack
	// - "local": SQLite + channels + in-memory cache
	// - "cluster": PostgreSQL + NATS + Redis
	Profile Profile `yaml:"profile" json:"profile" validate:"oneof=local cluster"`

	// Component configurations
	Store    StoreConfig    `yaml:"store" json:"store"`
	Cache    CacheConfig    `yaml:"cache" json:"cache"`
	EventBus EventBusConfig `yaml:"eventBus" json:"eventBus"`

	// Scoring pipeline
	Pipeline PipelineConfig `yaml:"pipeline" json:"pipeline"`
	Report   ReportConfig   `yaml:"report" json:"report"`

	// Observability
	Logging LoggingConfig `yaml:"logging" json:"logging"`
	Tracing TracingConfig `yaml:"tracing" json:"tracing"`
	Metrics MetricsConfig `yaml:"metrics" json:"metrics"`
}

// Profile represents the deployment profile.
type Profile string

const (
	// ProfileLocal runs everything in-process on a SQLite file.
	ProfileLocal Profile = "local"

	// ProfileCluster uses PostgreSQL, NATS and Redis.
	ProfileCluster Profile = "cluster"
)

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string `yaml:"host" json:"host"`
	Port         int    `yaml:"port" json:"port" validate:"gte=0,lte=65535"`
	ReadTimeout  int    `yaml:"readTimeout" json:"readTimeout"`   // seconds
	WriteTimeout int    `yaml:"writeTimeout" json:"writeTimeout"` // seconds
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level" json:"level" validate:"oneof=debug info warn error"`
	Format string `yaml:"format" json:"format" validate:"oneof=json text"`
}

// TracingConfig holds OpenTelemetry settings.
type TracingConfig struct {
	Enabled     bool   `yaml:"enabled" json:"enabled"`
	ServiceName string `yaml:"serviceName" json:"serviceName"`
}

// MetricsConfig holds Prometheus settings.
type MetricsConfig struct {
	Enabled   bool   `yaml:"enabled" json:"enabled"`
	Namespace string `yaml:"namespace" json:"namespace"`
}

// ReportConfig controls where evaluation output is written.
type ReportConfig struct {
	// Path is a local file path or an s3://bucket/key URL. Empty disables
	// the JSON report.
	Path string `yaml:"path" json:"path"`

	// S3 settings used when Path is an s3:// URL
	S3Region   string `yaml:"s3Region" json:"s3Region"`
	S3Endpoint string `yaml:"s3Endpoint" json:"s3Endpoint"`

	// Optional CSV exports
	ScoresCSV   string `yaml:"scoresCsv" json:"scoresCsv"`
	AccountsCSV string `yaml:"accountsCsv" json:"accountsCsv"`
	TopN        int    `yaml:"topN" json:"topN" validate:"gte=0"`
}

// DefaultConfig returns the local profile configuration.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			ReadTimeout:  30,
			WriteTimeout: 30,
		},
		Profile: ProfileLocal,
		Store: StoreConfig{
			Driver:     "sqlite",
			SQLitePath: "./fraudgraph.db",
		},
		Cache: CacheConfig{
			Type:         "memory",
			LocalMaxSize: 1000,
			LocalTTL:     5 * time.Minute,
		},
		EventBus: EventBusConfig{
			Type:              "channel",
			ChannelBufferSize: 100,
		},
		Pipeline: DefaultPipelineConfig(),
		Report: ReportConfig{
			TopN: 100,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Tracing: TracingConfig{
			Enabled:     false,
			ServiceName: "fraudgraph",
		},
		Metrics: MetricsConfig{
			Enabled:   true,
			Namespace: "fraudgraph",
		},
	}
}

// ClusterConfig returns a configuration backed by PostgreSQL, Redis and NATS.
func ClusterConfig() *Config {
	cfg := DefaultConfig()
	cfg.Profile = ProfileCluster
	cfg.Store = StoreConfig{
		Driver:       "postgres",
		PostgresHost: "localhost",
		PostgresPort: 5432,
		PostgresDB:   "fraudgraph",
		MaxOpenConns: 16,
		MaxIdleConns: 4,
	}
	cfg.Cache = CacheConfig{
		Type:           "redis",
		RedisAddr:      "localhost:6379",
		EnableTwoPhase: true,
		LocalMaxSize:   1000,
		LocalTTL:       time.Minute,
	}
	cfg.EventBus = EventBusConfig{
		Type:              "nats",
		NATSUrl:           "nats://localhost:4222",
		NATSMaxReconnects: 10,
		NATSReconnectWait: 5,
	}
	cfg.Tracing.Enabled = true
	return cfg
}
