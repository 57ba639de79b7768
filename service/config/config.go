package config

import (
	"fmt"
	"os"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/joho/godotenv"
)

// Clusters the service knows how to label.
var validClusters = map[string]bool{
	"mainnet":  true,
	"devnet":   true,
	"testnet":  true,
	"localnet": true,
}

// Config holds all application configuration loaded from environment variables.
// All required fields are validated at startup to ensure fail-fast behavior.
type Config struct {
	// Server configuration
	ServerAddr string
	LogLevel   string

	// NATS configuration. An empty URL disables event publishing.
	NATSURL string

	// Solana configuration
	SolanaRPCURL  string
	SolanaCluster string
	RPCCommitment string

	// SignerPrivateKey is the base58 keypair used to sign and send transactions.
	// Submission endpoints are disabled when it is empty.
	SignerPrivateKey string

	// Portfolio configuration
	BalancePollInterval time.Duration
	ProgressHold        time.Duration
}

// Load reads configuration from environment variables and validates all required fields.
// A .env file in the working directory is loaded first if present; real environment
// variables take precedence over it.
// Returns an error if any required configuration is missing or invalid.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{}
	var errs []error

	// Server configuration
	cfg.ServerAddr = getEnvOrDefault("SERVER_ADDR", ":8080")
	cfg.LogLevel = getEnvOrDefault("LOG_LEVEL", "info")

	// NATS configuration
	cfg.NATSURL = os.Getenv("NATS_URL")

	// Solana configuration
	cfg.SolanaRPCURL = os.Getenv("SOLANA_RPC_URL")
	if cfg.SolanaRPCURL == "" {
		errs = append(errs, fmt.Errorf("SOLANA_RPC_URL is required"))
	}

	cfg.SolanaCluster = getEnvOrDefault("SOLANA_CLUSTER", "devnet")
	if !validClusters[cfg.SolanaCluster] {
		errs = append(errs, fmt.Errorf("SOLANA_CLUSTER must be one of mainnet, devnet, testnet, localnet (got %q)", cfg.SolanaCluster))
	}

	cfg.RPCCommitment = getEnvOrDefault("RPC_COMMITMENT", "confirmed")
	if err := validateCommitment(cfg.RPCCommitment); err != nil {
		errs = append(errs, fmt.Errorf("RPC_COMMITMENT: %w", err))
	}

	cfg.SignerPrivateKey = os.Getenv("SIGNER_PRIVATE_KEY")
	if cfg.SignerPrivateKey != "" {
		if _, err := solana.PrivateKeyFromBase58(cfg.SignerPrivateKey); err != nil {
			errs = append(errs, fmt.Errorf("SIGNER_PRIVATE_KEY is not a valid base58 keypair: %w", err))
		}
	}

	// Portfolio configuration
	pollInterval, err := parseDuration("BALANCE_POLL_INTERVAL", "30s")
	if err != nil {
		errs = append(errs, err)
	} else {
		cfg.BalancePollInterval = pollInterval
	}

	hold, err := parseDuration("PROGRESS_HOLD", "500ms")
	if err != nil {
		errs = append(errs, err)
	} else {
		cfg.ProgressHold = hold
	}

	if cfg.BalancePollInterval != 0 && cfg.BalancePollInterval < time.Second {
		errs = append(errs, fmt.Errorf("BALANCE_POLL_INTERVAL (%v) must be 0 or at least 1s", cfg.BalancePollInterval))
	}

	if cfg.ProgressHold < 0 {
		errs = append(errs, fmt.Errorf("PROGRESS_HOLD (%v) cannot be negative", cfg.ProgressHold))
	}

	// Return all validation errors
	if len(errs) > 0 {
		return nil, fmt.Errorf("configuration validation failed: %v", errs)
	}

	return cfg, nil
}

// MustLoad is like Load but panics if configuration is invalid.
// Useful for server initialization where misconfiguration should halt startup.
func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load configuration: %v", err))
	}
	return cfg
}

// Validate checks if the configuration is valid.
// This is useful for testing configuration without loading from env.
func (c *Config) Validate() error {
	var errs []error

	if c.SolanaRPCURL == "" {
		errs = append(errs, fmt.Errorf("SolanaRPCURL is required"))
	}

	if !validClusters[c.SolanaCluster] {
		errs = append(errs, fmt.Errorf("SolanaCluster %q is not a known cluster", c.SolanaCluster))
	}

	if err := validateCommitment(c.RPCCommitment); err != nil {
		errs = append(errs, fmt.Errorf("RPCCommitment: %w", err))
	}

	if c.BalancePollInterval != 0 && c.BalancePollInterval < time.Second {
		errs = append(errs, fmt.Errorf("BalancePollInterval must be 0 or at least 1 second"))
	}

	if c.ProgressHold < 0 {
		errs = append(errs, fmt.Errorf("ProgressHold cannot be negative"))
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed: %v", errs)
	}

	return nil
}

// SubmissionEnabled reports whether a signer keypair is configured.
func (c *Config) SubmissionEnabled() bool {
	return c.SignerPrivateKey != ""
}

func validateCommitment(value string) error {
	switch value {
	case "processed", "confirmed", "finalized":
		return nil
	default:
		return fmt.Errorf("must be processed, confirmed or finalized (got %q)", value)
	}
}

// getEnvOrDefault returns the environment variable value or a default if not set.
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// parseDuration parses a duration from an environment variable or uses a default.
func parseDuration(key, defaultValue string) (time.Duration, error) {
	value := getEnvOrDefault(key, defaultValue)
	duration, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", key, value, err)
	}
	return duration, nil
}
