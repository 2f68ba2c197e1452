package constants

// Default dispatch and rate-limit configuration values
const (
	DefaultDailyLimit         = 200
	DefaultDispatchAttempts   = 3
	DefaultDispatchPollMs     = 500
	DefaultRetryBackoffMs     = 1000
	DefaultMaxBackoffMs       = 60000
	DefaultServerPort         = 8084
	DefaultBreakerFailures    = 5
	DefaultBreakerOpenSec     = 60
	DefaultHealthScoreWindow  = 100
	DefaultHealthScore        = 100
	DefaultDisconnectPenalty  = 10
	DefaultStaleSendWarnSec   = 300
	DefaultStaleSendSweepSec  = 60
)

// Default lifecycle configuration values
const (
	DefaultQRExpirySec        = 20
	DefaultQRMaxIssuances     = 3
	DefaultLockStalenessSec   = 90
	DefaultLockRenewSec       = 30
	DefaultMaintenanceSec     = 60
	DefaultEventBufferSize    = 64
	DefaultReconnectTimeoutSec = 60
)

// Default timeout values
const (
	DefaultHTTPTimeoutSec        = 30
	DefaultSendTimeoutSec        = 45
	DefaultDatabaseRetryAttempts = 3
	DefaultGracefulShutdownSec   = 30
	DefaultServerReadTimeoutSec  = 15
	DefaultServerWriteTimeoutSec = 15
	DefaultServerIdleTimeoutSec  = 60
	ServerErrorChannelSize       = 1
)

// Privacy settings
const (
	DefaultPhoneMaskLength = 4
	DefaultMessageIDLength = 8
)

// Validation bounds
const (
	MinRecipientLength  = 7
	MaxRecipientLength  = 20
	MaxLabelLength      = 64
	MaxPayloadBytes     = 65536
	MaxMessageIDLength  = 128
	MaxListLimit        = 500
	DefaultListLimit    = 100
)
