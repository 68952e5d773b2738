package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	LedgerDriverFile     = "file"
	LedgerDriverPebble   = "pebble"
	LedgerDriverPostgres = "postgres"
)

type Config struct {
	Port               int           `env:"PORT"`
	CORSAllowedOrigins string        `env:"CORS_ALLOWED_ORIGINS"`
	RequestTimeout     time.Duration `env:"REQUEST_TIMEOUT"`
	ShutdownTimeout    time.Duration `env:"SHUTDOWN_TIMEOUT"`

	FIB struct {
		BaseURL             string        `env:"FIB_BASE_URL"`
		AuthURL             string        `env:"FIB_AUTH_URL"`
		ClientID            string        `env:"FIB_CLIENT_ID"`
		ClientSecret        string        `env:"FIB_CLIENT_SECRET"`
		SubAuthURL          string        `env:"FIB_SUB_AUTH_URL"`
		SubClientID         string        `env:"FIB_SUB_CLIENT_ID"`
		SubClientSecret     string        `env:"FIB_SUB_CLIENT_SECRET"`
		SSOURL              string        `env:"FIB_SSO_URL"`
		SSOClientIdentifier string        `env:"FIB_SSO_CLIENT_IDENTIFIER"`
		SSOClientSecret     string        `env:"FIB_SSO_CLIENT_SECRET"`
		HTTPTimeout         time.Duration `env:"FIB_HTTP_TIMEOUT"`
	}

	PaymentValidity    time.Duration `env:"PAYMENT_VALIDITY"`
	PaymentCallbackURL string        `env:"PAYMENT_CALLBACK_URL"`
	AutoPoll           bool          `env:"AUTO_POLL"`
	MaxSessions        int           `env:"MAX_SESSIONS"`

	LedgerDriver    string `env:"LEDGER_DRIVER"`
	LedgerFile      string `env:"LEDGER_FILE"`
	LedgerPebbleDir string `env:"LEDGER_PEBBLE_DIR"`

	DBConfig struct {
		Host     string `env:"LEDGER_DB_HOST"`
		Port     int    `env:"LEDGER_DB_PORT"`
		User     string `env:"LEDGER_DB_USER"`
		Password string `env:"LEDGER_DB_PASSWORD"`
		Name     string `env:"LEDGER_DB_NAME"`
		SSLMode  string `env:"LEDGER_DB_SSLMODE"`
	}

	KafkaBrokerURL           string        `env:"KAFKA_BROKER_URL"`
	KafkaTransactionsTopic   string        `env:"KAFKA_TRANSACTIONS_TOPIC"`
	KafkaPublishQueueSize    int           `env:"KAFKA_PUBLISH_QUEUE_SIZE"`
	KafkaPublishFlushTimeout time.Duration `env:"KAFKA_PUBLISH_FLUSH_TIMEOUT"`

	OutboxPollInterval time.Duration `env:"OUTBOX_POLL_INTERVAL"`
	OutboxPollTimeout  time.Duration `env:"OUTBOX_POLL_TIMEOUT"`

	LogLevel  string `env:"LOG_LEVEL"`
	LogFormat string `env:"LOG_FORMAT"`
}

func LoadConfig() (*Config, error) {
	cfg := &Config{}

	cfg.Port = getEnvAsInt("PORT", 3001)
	cfg.CORSAllowedOrigins = getEnvOrDefault("CORS_ALLOWED_ORIGINS", "*")
	cfg.RequestTimeout = getEnvAsDuration("REQUEST_TIMEOUT", 30*time.Second)
	cfg.ShutdownTimeout = getEnvAsDuration("SHUTDOWN_TIMEOUT", 15*time.Second)

	cfg.FIB.BaseURL = getEnvOrDefault("FIB_BASE_URL", "https://fib.stage.fib.iq/protected/v1")
	cfg.FIB.AuthURL = getEnvOrDefault("FIB_AUTH_URL", "https://fib.stage.fib.iq/auth/realms/fib-online-shop/protocol/openid-connect/token")
	cfg.FIB.ClientID = getEnvOrDefault("FIB_CLIENT_ID", "")
	cfg.FIB.ClientSecret = getEnvOrDefault("FIB_CLIENT_SECRET", "")
	cfg.FIB.SubAuthURL = getEnvOrDefault("FIB_SUB_AUTH_URL", cfg.FIB.AuthURL)
	cfg.FIB.SubClientID = getEnvOrDefault("FIB_SUB_CLIENT_ID", cfg.FIB.ClientID)
	cfg.FIB.SubClientSecret = getEnvOrDefault("FIB_SUB_CLIENT_SECRET", cfg.FIB.ClientSecret)
	cfg.FIB.SSOURL = getEnvOrDefault("FIB_SSO_URL", "https://fib.stage.fib.iq/auth/realms/fib-personal-application/protocol/openid-connect/sso")
	cfg.FIB.SSOClientIdentifier = getEnvOrDefault("FIB_SSO_CLIENT_IDENTIFIER", "")
	cfg.FIB.SSOClientSecret = getEnvOrDefault("FIB_SSO_CLIENT_SECRET", "")
	cfg.FIB.HTTPTimeout = getEnvAsDuration("FIB_HTTP_TIMEOUT", 10*time.Second)

	cfg.PaymentValidity = getEnvAsDuration("PAYMENT_VALIDITY", 60*time.Second)
	cfg.PaymentCallbackURL = getEnvOrDefault("PAYMENT_CALLBACK_URL", "")
	cfg.AutoPoll = getEnvAsBool("AUTO_POLL", true)
	cfg.MaxSessions = getEnvAsInt("MAX_SESSIONS", 10000)

	cfg.LedgerDriver = strings.ToLower(getEnvOrDefault("LEDGER_DRIVER", LedgerDriverFile))
	cfg.LedgerFile = getEnvOrDefault("LEDGER_FILE", "transactions.json")
	cfg.LedgerPebbleDir = getEnvOrDefault("LEDGER_PEBBLE_DIR", "ledger.pebble")

	cfg.DBConfig.Host = getEnvOrDefault("LEDGER_DB_HOST", "localhost")
	cfg.DBConfig.Port = getEnvAsInt("LEDGER_DB_PORT", 5432)
	cfg.DBConfig.User = getEnvOrDefault("LEDGER_DB_USER", "user")
	cfg.DBConfig.Password = getEnvOrDefault("LEDGER_DB_PASSWORD", "password")
	cfg.DBConfig.Name = getEnvOrDefault("LEDGER_DB_NAME", "dashboard_db")
	cfg.DBConfig.SSLMode = getEnvOrDefault("LEDGER_DB_SSLMODE", "disable")

	cfg.KafkaBrokerURL = getEnvOrDefault("KAFKA_BROKER_URL", "")
	cfg.KafkaTransactionsTopic = getEnvOrDefault("KAFKA_TRANSACTIONS_TOPIC", "ledger_transactions")
	cfg.KafkaPublishQueueSize = getEnvAsInt("KAFKA_PUBLISH_QUEUE_SIZE", 256)
	cfg.KafkaPublishFlushTimeout = getEnvAsDuration("KAFKA_PUBLISH_FLUSH_TIMEOUT", 5*time.Second)

	cfg.OutboxPollInterval = getEnvAsDuration("OUTBOX_POLL_INTERVAL", 1*time.Second)
	cfg.OutboxPollTimeout = getEnvAsDuration("OUTBOX_POLL_TIMEOUT", 500*time.Millisecond)

	cfg.LogLevel = getEnvOrDefault("LOG_LEVEL", "info")
	cfg.LogFormat = getEnvOrDefault("LOG_FORMAT", "json")

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.LedgerDriver {
	case LedgerDriverFile, LedgerDriverPebble, LedgerDriverPostgres:
	default:
		return fmt.Errorf("unknown LEDGER_DRIVER %q", c.LedgerDriver)
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid PORT %d", c.Port)
	}
	if c.PaymentValidity <= 0 {
		return fmt.Errorf("PAYMENT_VALIDITY must be positive")
	}
	if c.MaxSessions < 0 {
		return fmt.Errorf("MAX_SESSIONS must not be negative")
	}
	return nil
}

func (c *Config) GetAllowedOrigins() []string {
	var origins []string
	for _, o := range strings.Split(c.CORSAllowedOrigins, ",") {
		if o = strings.TrimSpace(o); o != "" {
			origins = append(origins, o)
		}
	}
	return origins
}

// KafkaEnabled reports whether ledger events should be published.
func (c *Config) KafkaEnabled() bool {
	return strings.TrimSpace(c.KafkaBrokerURL) != ""
}

func (c *Config) GetKafkaBrokers() []string {
	return strings.Split(c.KafkaBrokerURL, ",")
}

func getEnvOrDefault(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnvOrDefault(key, strconv.Itoa(defaultValue))
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnvOrDefault(key, defaultValue.String())
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnvOrDefault(key, strconv.FormatBool(defaultValue))
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}
