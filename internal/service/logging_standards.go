package service

// Logging standards for sendfleet.
//
// Use these exact field names for consistency across all logging calls.
const (
	// Core identifiers
	LogFieldAccountID  = "account_id"
	LogFieldMessageID  = "message_id"
	LogFieldCampaignID = "campaign_id"
	LogFieldExternalID = "external_id"
	LogFieldRecipient  = "recipient" // always masked via privacy.MaskPhoneNumber

	// Service and operation fields
	LogFieldComponent = "component"
	LogFieldOperation = "operation"
	LogFieldEvent     = "event"

	// State machine fields
	LogFieldStatus     = "status"
	LogFieldFromStatus = "from_status"
	LogFieldToStatus   = "to_status"
	LogFieldReason     = "reason"

	// Dispatch fields
	LogFieldAttempt     = "attempt"
	LogFieldRetryable   = "retryable"
	LogFieldHealthScore = "health_score"
	LogFieldRemaining   = "remaining"

	// Performance and metrics
	LogFieldDuration = "duration_ms"
	LogFieldCount    = "count"

	// HTTP fields
	LogFieldMethod     = "method"
	LogFieldPath       = "path"
	LogFieldStatusCode = "status_code"
	LogFieldRemoteIP   = "remote_ip"
	LogFieldRequestID  = "request_id"
	LogFieldTraceID    = "trace_id"

	// Error fields
	LogFieldErrorCode = "error_code"
)
