package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"

	"sendfleet/internal/constants"
	"sendfleet/internal/models"
	"sendfleet/internal/security"
)

var (
	ErrMissingGatewayURL = models.ConfigError{Message: "missing transport gateway base URL"}
	ErrMissingDBPath     = models.ConfigError{Message: "missing database path"}
	ErrInvalidWindow     = models.ConfigError{Message: `rateLimit.window must be "utc"`}
)

// LoadConfig reads, validates, and defaults the configuration file.
// Environment overrides apply after file values so deployments can inject
// endpoints and secrets without editing the file.
func LoadConfig(path string) (*models.Config, error) {
	// Validate config file path to prevent directory traversal
	if err := security.ValidateFilePath(path); err != nil {
		return nil, fmt.Errorf("invalid config path: %w", err)
	}

	file, err := os.ReadFile(path) // #nosec G304 - Path validated by security.ValidateFilePath above
	if err != nil {
		return nil, err
	}

	var config models.Config
	if err := json.Unmarshal(file, &config); err != nil {
		return nil, err
	}

	applyEnvironmentOverrides(&config)

	if err := validate(&config); err != nil {
		return nil, err
	}

	if err := validateSecurity(&config); err != nil {
		return nil, err
	}

	return &config, nil
}

func validate(c *models.Config) error {
	if c.Transport.GatewayBaseURL == "" {
		return ErrMissingGatewayURL
	}
	if c.Database.Path == "" {
		return ErrMissingDBPath
	}

	if c.RateLimit.Window == "" {
		c.RateLimit.Window = "utc"
	}
	if c.RateLimit.Window != "utc" {
		return ErrInvalidWindow
	}
	if c.RateLimit.DefaultDailyLimit < 0 {
		return models.ConfigError{Message: "rateLimit.defaultDailyLimit must not be negative"}
	}
	if c.RateLimit.DefaultDailyLimit == 0 {
		c.RateLimit.DefaultDailyLimit = constants.DefaultDailyLimit
	}

	if c.Transport.TimeoutSec <= 0 {
		c.Transport.TimeoutSec = constants.DefaultHTTPTimeoutSec
	}
	if c.Transport.SendTimeoutSec <= 0 {
		c.Transport.SendTimeoutSec = constants.DefaultSendTimeoutSec
	}

	if c.Dispatch.MaxAttempts <= 0 {
		c.Dispatch.MaxAttempts = constants.DefaultDispatchAttempts
	}
	if c.Dispatch.PollIntervalMs <= 0 {
		c.Dispatch.PollIntervalMs = constants.DefaultDispatchPollMs
	}
	if c.Dispatch.BreakerFailures <= 0 {
		c.Dispatch.BreakerFailures = constants.DefaultBreakerFailures
	}
	if c.Dispatch.BreakerOpenSec <= 0 {
		c.Dispatch.BreakerOpenSec = constants.DefaultBreakerOpenSec
	}

	if c.Lifecycle.QRExpirySec <= 0 {
		c.Lifecycle.QRExpirySec = constants.DefaultQRExpirySec
	}
	if c.Lifecycle.QRMaxIssuances <= 0 {
		c.Lifecycle.QRMaxIssuances = constants.DefaultQRMaxIssuances
	}
	if c.Lifecycle.LockStalenessSec <= 0 {
		c.Lifecycle.LockStalenessSec = constants.DefaultLockStalenessSec
	}
	if c.Lifecycle.LockRenewSec <= 0 {
		c.Lifecycle.LockRenewSec = constants.DefaultLockRenewSec
	}
	// Renewal must beat staleness or a healthy holder loses its own lock.
	if c.Lifecycle.LockRenewSec >= c.Lifecycle.LockStalenessSec {
		return models.ConfigError{Message: "lifecycle.lockRenewSec must be less than lifecycle.lockStalenessSec"}
	}
	if c.Lifecycle.SweepIntervalSec <= 0 {
		c.Lifecycle.SweepIntervalSec = constants.DefaultMaintenanceSec
	}
	if c.Lifecycle.StaleSendWarnAfter <= 0 {
		c.Lifecycle.StaleSendWarnAfter = constants.DefaultStaleSendWarnSec
	}

	if c.Retry.InitialBackoffMs <= 0 {
		c.Retry.InitialBackoffMs = constants.DefaultRetryBackoffMs
	}
	if c.Retry.MaxBackoffMs <= 0 {
		c.Retry.MaxBackoffMs = constants.DefaultMaxBackoffMs
	}
	if c.Retry.MaxAttempts <= 0 {
		c.Retry.MaxAttempts = constants.DefaultDatabaseRetryAttempts
	}

	if c.Server.Port <= 0 {
		c.Server.Port = constants.DefaultServerPort
	}
	return nil
}

func applyEnvironmentOverrides(c *models.Config) {
	if url := os.Getenv("SENDFLEET_GATEWAY_URL"); url != "" {
		c.Transport.GatewayBaseURL = url
	}
	if path := os.Getenv("SENDFLEET_DB_PATH"); path != "" {
		c.Database.Path = path
	}
	if level := os.Getenv("SENDFLEET_LOG_LEVEL"); level != "" {
		c.LogLevel = level
	}
	if port := os.Getenv("SENDFLEET_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil && p > 0 {
			c.Server.Port = p
		}
	}
}

// validateSecurity enforces production-only requirements.
func validateSecurity(c *models.Config) error {
	isProduction := os.Getenv("SENDFLEET_ENV") == "production"

	if isProduction {
		// Session blobs hold transport credentials; storing them in the
		// clear is acceptable only for development databases.
		if os.Getenv("SENDFLEET_ENCRYPTION_SECRET") == "" {
			return models.ConfigError{Message: "session encryption is required in production (set SENDFLEET_ENCRYPTION_SECRET environment variable)"}
		}

		if c.LogLevel == "debug" {
			return models.ConfigError{Message: "debug logging should not be used in production (security risk)"}
		}
	} else {
		if os.Getenv("SENDFLEET_ENCRYPTION_SECRET") == "" {
			fmt.Fprintf(os.Stderr, "WARNING: session encryption secret not set. Set SENDFLEET_ENCRYPTION_SECRET to encrypt stored session material.\n")
		}
	}

	return nil
}
