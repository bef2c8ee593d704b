package config

import (
	"fmt"
	"time"

	pkgconfig "github.com/Simodalstix/AWS-multiregion-ecommerce/pkg/config"
)

// Config holds all configuration for the fulfillment service.
type Config struct {
	Environment string `env:"ENVIRONMENT" envDefault:"development"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`

	// Region identity. Region is this deployment's home region; PeerRegions
	// lists the regions whose replication streams we consume.
	Region      string   `env:"REGION" envDefault:"us-east-1"`
	PeerRegions []string `env:"PEER_REGIONS" envSeparator:","`

	// HTTP server
	HTTPPort           int      `env:"FULFILLMENT_HTTP_PORT" envDefault:"8080"`
	PprofCIDRs         []string `env:"PPROF_ALLOWED_CIDRS" envDefault:"127.0.0.1/32" envSeparator:","`
	CORSAllowedOrigins []string `env:"CORS_ALLOWED_ORIGINS" envDefault:"*" envSeparator:","`

	// PostgreSQL
	PostgresHost string `env:"POSTGRES_HOST" envDefault:"localhost"`
	PostgresPort int    `env:"POSTGRES_PORT" envDefault:"5432"`
	PostgresUser string `env:"POSTGRES_USER" envDefault:"fulfillment"`
	PostgresPass string `env:"POSTGRES_PASSWORD" envDefault:"fulfillment_secret"`
	PostgresDB   string `env:"FULFILLMENT_DB_NAME" envDefault:"fulfillment_db"`
	PostgresSSL  string `env:"POSTGRES_SSL_MODE" envDefault:"disable"`

	// Kafka
	KafkaBrokers []string `env:"KAFKA_BROKERS" envDefault:"localhost:9092" envSeparator:","`

	// Redis (side-effect ledger)
	RedisHost      string        `env:"REDIS_HOST" envDefault:"localhost"`
	RedisPort      int           `env:"REDIS_PORT" envDefault:"6379"`
	RedisPassword  string        `env:"REDIS_PASSWORD"`
	RedisDB        int           `env:"REDIS_DB" envDefault:"0"`
	LedgerTTL      time.Duration `env:"SIDE_EFFECT_LEDGER_TTL" envDefault:"168h"`
	LedgerDisabled bool          `env:"SIDE_EFFECT_LEDGER_DISABLED" envDefault:"false"`

	// Downstream services
	InventoryBaseURL    string `env:"INVENTORY_BASE_URL" envDefault:"http://localhost:8081"`
	PaymentBaseURL      string `env:"PAYMENT_BASE_URL" envDefault:"http://localhost:8082"`
	ShippingBaseURL     string `env:"SHIPPING_BASE_URL" envDefault:"http://localhost:8083"`
	NotificationBaseURL string `env:"NOTIFICATION_BASE_URL" envDefault:"http://localhost:8084"`

	// Saga worker
	WorkerID       string        `env:"WORKER_ID"`
	LeaseTTL       time.Duration `env:"SAGA_LEASE_TTL" envDefault:"60s"`
	StepTimeout    time.Duration `env:"SAGA_STEP_TIMEOUT" envDefault:"10s"`
	PollInterval   time.Duration `env:"SAGA_POLL_INTERVAL" envDefault:"1s"`
	BatchSize      int           `env:"SAGA_BATCH_SIZE" envDefault:"50"`
	Concurrency    int           `env:"SAGA_CONCURRENCY" envDefault:"10"`
	RetryAttempts  int           `env:"SAGA_RETRY_ATTEMPTS" envDefault:"5"`
	RetryBaseDelay time.Duration `env:"SAGA_RETRY_BASE_DELAY" envDefault:"500ms"`
	RetryMaxDelay  time.Duration `env:"SAGA_RETRY_MAX_DELAY" envDefault:"30s"`

	// Tracing
	TracingEnabled bool    `env:"TRACING_ENABLED" envDefault:"false"`
	OTLPEndpoint   string  `env:"OTEL_EXPORTER_OTLP_ENDPOINT" envDefault:"localhost:4317"`
	TraceSampleRatio float64 `env:"TRACE_SAMPLE_RATIO" envDefault:"0.1"`
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := pkgconfig.Load(cfg); err != nil {
		return nil, fmt.Errorf("load fulfillment config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// validate checks configuration invariants.
func (c *Config) validate() error {
	if c.HTTPPort < 1 || c.HTTPPort > 65535 {
		return fmt.Errorf("invalid HTTP port: %d", c.HTTPPort)
	}
	if c.Region == "" {
		return fmt.Errorf("REGION must not be empty")
	}
	for _, peer := range c.PeerRegions {
		if peer == c.Region {
			return fmt.Errorf("PEER_REGIONS must not include the home region %s", c.Region)
		}
	}
	if c.LeaseTTL <= 0 {
		return fmt.Errorf("invalid lease TTL: %s", c.LeaseTTL)
	}
	if c.StepTimeout <= 0 || c.StepTimeout >= c.LeaseTTL {
		return fmt.Errorf("step timeout %s must be positive and shorter than the lease TTL %s", c.StepTimeout, c.LeaseTTL)
	}
	if c.RetryAttempts < 1 {
		return fmt.Errorf("invalid retry attempts: %d", c.RetryAttempts)
	}
	return nil
}

// PostgresDSN returns the PostgreSQL connection string.
func (c *Config) PostgresDSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.PostgresUser, c.PostgresPass, c.PostgresHost, c.PostgresPort, c.PostgresDB, c.PostgresSSL,
	)
}
