package models

// Config holds the application configuration
type Config struct {
	Transport TransportConfig `json:"transport"`
	Database  DatabaseConfig  `json:"database"`
	Dispatch  DispatchConfig  `json:"dispatch"`
	RateLimit RateLimitConfig `json:"rateLimit"`
	Lifecycle LifecycleConfig `json:"lifecycle"`
	Retry     RetryConfig     `json:"retry"`
	Server    ServerConfig    `json:"server"`
	Tracing   TracingConfig   `json:"tracing"`
	LogLevel  string          `json:"log_level"`
}

// TransportConfig holds the external messaging gateway configuration.
type TransportConfig struct {
	GatewayBaseURL string `json:"gateway_base_url"`
	TimeoutSec     int    `json:"timeoutSec"`
	SendTimeoutSec int    `json:"sendTimeoutSec"`
	// RetryableErrors and TerminalErrors override the built-in transport
	// error classification by gateway error code.
	RetryableErrors []string `json:"retryableErrors"`
	TerminalErrors  []string `json:"terminalErrors"`
}

// DatabaseConfig holds database related configurations
type DatabaseConfig struct {
	Path string `json:"path"`
}

// DispatchConfig tunes the dispatch queue.
type DispatchConfig struct {
	MaxAttempts     int `json:"maxAttempts"`
	PollIntervalMs  int `json:"pollIntervalMs"`
	BreakerFailures int `json:"breakerFailures"`
	BreakerOpenSec  int `json:"breakerOpenSec"`
}

// RateLimitConfig tunes the per-account daily rate limiter. Window only
// accepts "utc": the usage window resets at UTC midnight.
type RateLimitConfig struct {
	DefaultDailyLimit int    `json:"defaultDailyLimit"`
	Window            string `json:"window"`
}

// LifecycleConfig tunes the account lifecycle manager.
type LifecycleConfig struct {
	QRExpirySec        int `json:"qrExpirySec"`
	QRMaxIssuances     int `json:"qrMaxIssuances"`
	LockStalenessSec   int `json:"lockStalenessSec"`
	LockRenewSec       int `json:"lockRenewSec"`
	SweepIntervalSec   int `json:"sweepIntervalSec"`
	StaleSendWarnAfter int `json:"staleSendWarnAfterSec"`
}

// RetryConfig holds retry related configurations
type RetryConfig struct {
	InitialBackoffMs int `json:"initialBackoffMs"`
	MaxBackoffMs     int `json:"maxBackoffMs"`
	MaxAttempts      int `json:"maxAttempts"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port int `json:"port"`
}

// TracingConfig holds OpenTelemetry related configuration.
type TracingConfig struct {
	Enabled        bool    `json:"enabled"`
	ServiceName    string  `json:"service_name"`
	ServiceVersion string  `json:"service_version"`
	Environment    string  `json:"environment"`
	OTLPEndpoint   string  `json:"otlp_endpoint"`
	SampleRate     float64 `json:"sample_rate"`
	UseStdout      bool    `json:"use_stdout"`
}

type ConfigError struct {
	Message string
}

func (e ConfigError) Error() string {
	return e.Message
}
