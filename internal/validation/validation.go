package validation

import (
	"fmt"
	"net/http"
	"strings"
	"unicode"

	"sendfleet/internal/constants"
	"sendfleet/internal/errors"
)

// ValidateRecipient validates a recipient phone number in E.164-ish form.
func ValidateRecipient(recipient string) error {
	if recipient == "" {
		return errors.New(errors.ErrCodeInvalidInput, "recipient cannot be empty")
	}

	cleaned := strings.TrimPrefix(recipient, "+")

	if len(cleaned) < constants.MinRecipientLength {
		return errors.New(errors.ErrCodeInvalidInput,
			fmt.Sprintf("recipient must be at least %d digits", constants.MinRecipientLength))
	}
	if len(cleaned) > constants.MaxRecipientLength {
		return errors.New(errors.ErrCodeInvalidInput,
			fmt.Sprintf("recipient too long (max %d digits)", constants.MaxRecipientLength))
	}

	for _, char := range cleaned {
		if !unicode.IsDigit(char) {
			return errors.New(errors.ErrCodeInvalidInput, "recipient must contain only digits")
		}
	}

	return nil
}

// ValidateMessageID validates caller-supplied message ID format and length.
func ValidateMessageID(messageID string) error {
	if messageID == "" {
		return errors.New(errors.ErrCodeInvalidInput, "message ID cannot be empty")
	}

	if len(messageID) > constants.MaxMessageIDLength {
		return errors.New(errors.ErrCodeInvalidInput,
			fmt.Sprintf("message ID too long (max %d characters)", constants.MaxMessageIDLength))
	}

	for _, char := range messageID {
		if char == '\x00' || char == '\n' || char == '\r' || char == '\t' {
			return errors.New(errors.ErrCodeInvalidInput, "message ID contains invalid characters")
		}
	}

	return nil
}

// ValidateAccountLabel validates operator-assigned account labels.
// Labels appear in logs and URLs, so the character set is restricted.
func ValidateAccountLabel(label string) error {
	if label == "" {
		return errors.New(errors.ErrCodeInvalidInput, "account label cannot be empty")
	}

	if len(label) > constants.MaxLabelLength {
		return errors.New(errors.ErrCodeInvalidInput,
			fmt.Sprintf("account label too long (max %d characters)", constants.MaxLabelLength))
	}

	for _, char := range label {
		if !unicode.IsLetter(char) && !unicode.IsDigit(char) && char != '_' && char != '-' && char != ' ' {
			return errors.New(errors.ErrCodeInvalidInput,
				"account label must contain only letters, numbers, spaces, underscores, and dashes")
		}
	}

	return nil
}

// ValidatePayload validates an outbound message payload.
func ValidatePayload(payload string) error {
	if payload == "" {
		return errors.New(errors.ErrCodeInvalidInput, "payload cannot be empty")
	}

	if len(payload) > constants.MaxPayloadBytes {
		return errors.New(errors.ErrCodeInvalidInput,
			fmt.Sprintf("payload too large (max %d bytes)", constants.MaxPayloadBytes))
	}

	return nil
}

// ValidateDailyLimit validates a per-account daily send ceiling.
// Zero means "use the configured default"; negative is never valid.
func ValidateDailyLimit(limit int) error {
	if limit < 0 {
		return errors.New(errors.ErrCodeInvalidInput, "daily limit cannot be negative")
	}
	if limit > 100000 {
		return errors.New(errors.ErrCodeInvalidInput, "daily limit too large (max 100000)")
	}
	return nil
}

// ValidateListLimit normalizes a list page size to configured bounds.
func ValidateListLimit(limit int) (int, error) {
	if limit < 0 {
		return 0, errors.New(errors.ErrCodeInvalidInput, "limit cannot be negative")
	}
	if limit == 0 {
		return constants.DefaultListLimit, nil
	}
	if limit > constants.MaxListLimit {
		return 0, errors.New(errors.ErrCodeInvalidInput,
			fmt.Sprintf("limit too large (max %d)", constants.MaxListLimit))
	}
	return limit, nil
}

// ValidateHTTPRequestSize validates incoming HTTP request size.
func ValidateHTTPRequestSize(r *http.Request, maxSizeBytes int64) error {
	if r.ContentLength < 0 {
		return errors.New(errors.ErrCodeInvalidInput, "invalid content length")
	}

	if r.ContentLength > maxSizeBytes {
		return errors.New(errors.ErrCodeInvalidInput,
			fmt.Sprintf("request too large: %d bytes (max %d bytes)", r.ContentLength, maxSizeBytes))
	}

	return nil
}
