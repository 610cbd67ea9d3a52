// Package config handles application configuration from environment variables
package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

// Config holds all application configuration
type Config struct {
	// Server settings
	Port      string
	Env       string // "development", "staging", "production"
	LogLevel  string
	LogFormat string // "text" or "json"

	// Database (optional, in-memory stores when unset)
	DatabaseURL string
	AutoMigrate bool // apply embedded migrations at startup

	// Observability
	OTLPEndpoint string

	// APIToken guards mutating routes when set.
	APIToken string

	// HTTP edge
	CORSOrigins    []string
	RateLimitRPM   int
	RateLimitBurst int

	Gateway    GatewayConfig
	Network    NetworkConfig
	Escrow     EscrowConfig
	Governance GovernanceConfig

	// ReconcileInterval is how often escrow holds are checked against the
	// ledger. Zero disables the background check.
	ReconcileInterval time.Duration

	Currency string
}

// GatewayConfig configures the outbound protocol gateway client.
type GatewayConfig struct {
	URL         string
	APIKey      string
	Timeout     time.Duration
	MaxAttempts int
	RPS         float64 // 0 disables client-side rate limiting
}

// NetworkConfig carries the fixed participant identity stamped on every
// protocol context.
type NetworkConfig struct {
	Domain      string
	Country     string
	City        string
	CoreVersion string
	BAPID       string
	BAPURI      string
}

// EscrowConfig configures hold policy defaults and the timeout sweeper.
type EscrowConfig struct {
	GracePeriod        time.Duration // added to stay end before timeout release
	TimerInterval      time.Duration
	RefundPercentage   decimal.Decimal
	CancellationWindow time.Duration // deadline = check-in minus this window
	// DisputeBlocksConfirmations keeps check-in/check-out from releasing
	// funds while a dispute is open.
	DisputeBlocksConfirmations bool
}

// GovernanceConfig configures dispute proposals.
type GovernanceConfig struct {
	VotingPeriod     time.Duration
	QuorumPercentage int
	EligiblePower    int64
	TimerInterval    time.Duration
}

const (
	DefaultPort               = "8080"
	DefaultEnv                = "development"
	DefaultLogLevel           = "info"
	DefaultLogFormat          = "text"
	DefaultGatewayURL         = "https://beckn-gateway.villagestay.com"
	DefaultGatewayTimeout     = 10 * time.Second
	DefaultGatewayMaxAttempts = 3
	DefaultDomain             = "rural-tourism"
	DefaultCountry            = "IND"
	DefaultCity               = "std:080"
	DefaultCoreVersion        = "1.2.0"
	DefaultBAPID              = "villagestay.com"
	DefaultBAPURI             = "https://villagestay.com/beckn"
	DefaultCurrency           = "INR"
	DefaultGracePeriod        = 7 * 24 * time.Hour
	DefaultEscrowInterval     = time.Minute
	DefaultRefundPercentage   = "80"
	DefaultCancellationWindow = 24 * time.Hour
	DefaultVotingPeriod       = 7 * 24 * time.Hour
	DefaultQuorumPercentage   = 20
	DefaultEligiblePower      = 1000
	DefaultGovernanceInterval = time.Minute
	DefaultRateLimitRPM       = 120
	DefaultRateLimitBurst     = 20
	DefaultReconcileInterval  = 5 * time.Minute
)

// Load reads configuration from environment variables
// It loads .env file if present (for local development)
func Load() (*Config, error) {
	_ = godotenv.Load()

	refundPct, err := decimal.NewFromString(getEnv("ESCROW_REFUND_PERCENTAGE", DefaultRefundPercentage))
	if err != nil {
		return nil, fmt.Errorf("ESCROW_REFUND_PERCENTAGE: %w", err)
	}

	cfg := &Config{
		Port:           getEnv("PORT", DefaultPort),
		Env:            getEnv("ENV", DefaultEnv),
		LogLevel:       getEnv("LOG_LEVEL", DefaultLogLevel),
		LogFormat:      getEnv("LOG_FORMAT", DefaultLogFormat),
		DatabaseURL:    os.Getenv("DATABASE_URL"),
		AutoMigrate:    getEnvBool("DB_AUTO_MIGRATE", false),
		OTLPEndpoint:   os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		APIToken:       os.Getenv("API_TOKEN"),
		CORSOrigins:    splitList(os.Getenv("CORS_ORIGINS")),
		RateLimitRPM:   int(getEnvInt64("RATE_LIMIT_RPM", DefaultRateLimitRPM)),
		RateLimitBurst: int(getEnvInt64("RATE_LIMIT_BURST", DefaultRateLimitBurst)),
		Gateway: GatewayConfig{
			URL:         getEnv("GATEWAY_URL", DefaultGatewayURL),
			APIKey:      os.Getenv("GATEWAY_API_KEY"),
			Timeout:     getEnvDuration("GATEWAY_TIMEOUT", DefaultGatewayTimeout),
			MaxAttempts: int(getEnvInt64("GATEWAY_MAX_ATTEMPTS", DefaultGatewayMaxAttempts)),
			RPS:         getEnvFloat("GATEWAY_RPS", 0),
		},
		Network: NetworkConfig{
			Domain:      getEnv("BECKN_DOMAIN", DefaultDomain),
			Country:     getEnv("BECKN_COUNTRY", DefaultCountry),
			City:        getEnv("BECKN_CITY", DefaultCity),
			CoreVersion: getEnv("BECKN_CORE_VERSION", DefaultCoreVersion),
			BAPID:       getEnv("BAP_ID", DefaultBAPID),
			BAPURI:      getEnv("BAP_URI", DefaultBAPURI),
		},
		Escrow: EscrowConfig{
			GracePeriod:                getEnvDuration("ESCROW_GRACE_PERIOD", DefaultGracePeriod),
			TimerInterval:              getEnvDuration("ESCROW_TIMER_INTERVAL", DefaultEscrowInterval),
			RefundPercentage:           refundPct,
			CancellationWindow:         getEnvDuration("ESCROW_CANCELLATION_WINDOW", DefaultCancellationWindow),
			DisputeBlocksConfirmations: getEnvBool("ESCROW_DISPUTE_BLOCKS_CONFIRMATIONS", true),
		},
		Governance: GovernanceConfig{
			VotingPeriod:     getEnvDuration("GOVERNANCE_VOTING_PERIOD", DefaultVotingPeriod),
			QuorumPercentage: int(getEnvInt64("GOVERNANCE_QUORUM_PERCENTAGE", DefaultQuorumPercentage)),
			EligiblePower:    getEnvInt64("GOVERNANCE_ELIGIBLE_POWER", DefaultEligiblePower),
			TimerInterval:    getEnvDuration("GOVERNANCE_TIMER_INTERVAL", DefaultGovernanceInterval),
		},
		ReconcileInterval: getEnvDuration("RECONCILE_INTERVAL", DefaultReconcileInterval),
		Currency:          getEnv("CURRENCY", DefaultCurrency),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that configuration values are usable
func (c *Config) Validate() error {
	u, err := url.Parse(c.Gateway.URL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("GATEWAY_URL must be an absolute URL")
	}
	if c.Gateway.MaxAttempts < 1 {
		return fmt.Errorf("GATEWAY_MAX_ATTEMPTS must be at least 1")
	}
	if c.Gateway.Timeout <= 0 {
		return fmt.Errorf("GATEWAY_TIMEOUT must be positive")
	}
	if c.Network.BAPID == "" || c.Network.BAPURI == "" {
		return fmt.Errorf("BAP_ID and BAP_URI are required")
	}
	if c.Escrow.RefundPercentage.IsNegative() || c.Escrow.RefundPercentage.GreaterThan(decimal.NewFromInt(100)) {
		return fmt.Errorf("ESCROW_REFUND_PERCENTAGE must be between 0 and 100")
	}
	if c.Escrow.GracePeriod < 0 || c.Escrow.CancellationWindow < 0 {
		return fmt.Errorf("escrow durations must not be negative")
	}
	if c.ReconcileInterval < 0 {
		return fmt.Errorf("RECONCILE_INTERVAL must not be negative")
	}
	if c.Escrow.TimerInterval <= 0 || c.Governance.TimerInterval <= 0 {
		return fmt.Errorf("timer intervals must be positive")
	}
	if c.Governance.QuorumPercentage < 0 || c.Governance.QuorumPercentage > 100 {
		return fmt.Errorf("GOVERNANCE_QUORUM_PERCENTAGE must be between 0 and 100")
	}
	if c.Governance.VotingPeriod <= 0 {
		return fmt.Errorf("GOVERNANCE_VOTING_PERIOD must be positive")
	}
	if c.RateLimitRPM < 0 || c.RateLimitBurst < 0 {
		return fmt.Errorf("rate limits must not be negative")
	}
	if c.Governance.EligiblePower <= 0 {
		return fmt.Errorf("GOVERNANCE_ELIGIBLE_POWER must be positive")
	}
	return nil
}

// IsDevelopment returns true if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.ParseInt(value, 10, 64); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
