package errors

import (
	"context"
	"errors"
	"net"
	"strings"
)

// TransportCoder is implemented by transport errors that carry a gateway
// error code. Classification by code takes priority over heuristics.
type TransportCoder interface {
	TransportCode() string
}

// Classifier maps transport failures to the retryable/terminal taxonomy.
// The code tables are configuration-driven; built-in defaults cover the
// common gateway codes.
type Classifier struct {
	retryable map[string]struct{}
	terminal  map[string]struct{}
}

// Default transport error code classification. Overridable via config.
var (
	defaultRetryableCodes = []string{"TIMEOUT", "NETWORK", "GATEWAY_BUSY", "SESSION_RESTARTING"}
	defaultTerminalCodes  = []string{"INVALID_RECIPIENT", "RECIPIENT_BLOCKED", "ACCOUNT_BANNED", "POLICY_REJECTED", "PAYLOAD_REJECTED"}
)

// NewClassifier builds a classifier from configured code lists. Empty lists
// fall back to the built-in defaults.
func NewClassifier(retryableCodes, terminalCodes []string) *Classifier {
	if len(retryableCodes) == 0 {
		retryableCodes = defaultRetryableCodes
	}
	if len(terminalCodes) == 0 {
		terminalCodes = defaultTerminalCodes
	}

	c := &Classifier{
		retryable: make(map[string]struct{}, len(retryableCodes)),
		terminal:  make(map[string]struct{}, len(terminalCodes)),
	}
	for _, code := range retryableCodes {
		c.retryable[strings.ToUpper(code)] = struct{}{}
	}
	for _, code := range terminalCodes {
		c.terminal[strings.ToUpper(code)] = struct{}{}
	}
	return c
}

// ClassifySend wraps a transport send failure as retryable or terminal.
// A deadline expiry is special: the outcome is unknown and the send must
// not be blindly retried, so it maps to ErrCodeSendUnconfirmed.
func (c *Classifier) ClassifySend(err error) *AppError {
	if err == nil {
		return nil
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return Wrap(err, ErrCodeSendUnconfirmed, "send timed out with unknown outcome")
	}

	var coder TransportCoder
	if errors.As(err, &coder) {
		code := strings.ToUpper(coder.TransportCode())
		if _, ok := c.terminal[code]; ok {
			return Wrap(err, ErrCodeTransportTerminal, "transport rejected message").
				WithContext("transport_code", code)
		}
		if _, ok := c.retryable[code]; ok {
			return WrapRetryable(err, ErrCodeTransportTransient, "transient transport failure").
				WithContext("transport_code", code)
		}
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return WrapRetryable(err, ErrCodeTransportTransient, "network failure during send")
	}

	// Unknown failures default to retryable so a flaky gateway cannot
	// terminally fail messages without an explicit code.
	return WrapRetryable(err, ErrCodeTransportTransient, "unclassified transport failure")
}

// IsUnconfirmed reports whether the error represents a timed-out send whose
// outcome is unknown.
func IsUnconfirmed(err error) bool {
	return GetCode(err) == ErrCodeSendUnconfirmed
}
