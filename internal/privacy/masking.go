package privacy

import (
	"strings"
)

// MaskPhoneNumber masks a phone number showing only the last 4 digits
// Example: "+1234567890" -> "+******7890"
func MaskPhoneNumber(phone string) string {
	if phone == "" {
		return ""
	}

	if strings.HasPrefix(phone, "+") {
		if len(phone) == 1 { // Just "+"
			return phone
		}
		if len(phone) <= 5 { // "+1234" or shorter
			return "+" + strings.Repeat("*", len(phone)-1)
		}
		return "+" + strings.Repeat("*", len(phone)-5) + phone[len(phone)-4:]
	}

	if len(phone) <= 4 {
		return strings.Repeat("*", len(phone))
	}
	return strings.Repeat("*", len(phone)-4) + phone[len(phone)-4:]
}

// MaskExternalID masks a gateway-assigned message identifier while
// keeping the tail for log correlation.
// Example: "gw-3f9a8b2c1d" -> "******2c1d"
func MaskExternalID(externalID string) string {
	if externalID == "" {
		return ""
	}
	return maskString(externalID, 4)
}

// MaskRecipient masks a recipient identifier. Recipients are phone
// numbers in this system, but gateway-specific suffixes may appear.
func MaskRecipient(recipient string) string {
	if recipient == "" {
		return ""
	}

	if strings.HasPrefix(recipient, "+") || isNumeric(recipient) {
		return MaskPhoneNumber(recipient)
	}
	return maskString(recipient, 4)
}

// MaskSessionBlob reports only the size of session material. The blob
// itself never appears in logs in any form.
func MaskSessionBlob(blob []byte) string {
	if len(blob) == 0 {
		return "<empty>"
	}
	return "<redacted>"
}

// maskString masks a string showing only the last n characters
func maskString(s string, keepLast int) string {
	if s == "" {
		return ""
	}

	if len(s) <= keepLast {
		return strings.Repeat("*", len(s))
	}

	return strings.Repeat("*", len(s)-keepLast) + s[len(s)-keepLast:]
}

// isNumeric checks if a string contains only digits
func isNumeric(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return len(s) > 0
}

// MaskSensitiveFields applies appropriate masking to common logging fields
func MaskSensitiveFields(fields map[string]interface{}) map[string]interface{} {
	if fields == nil {
		return nil
	}

	masked := make(map[string]interface{})
	for k, v := range fields {
		switch k {
		case "phone", "phone_number", "from", "to":
			if s, ok := v.(string); ok {
				masked[k] = MaskPhoneNumber(s)
			} else {
				masked[k] = v
			}
		case "recipient":
			if s, ok := v.(string); ok {
				masked[k] = MaskRecipient(s)
			} else {
				masked[k] = v
			}
		case "external_id", "externalId":
			if s, ok := v.(string); ok {
				masked[k] = MaskExternalID(s)
			} else {
				masked[k] = v
			}
		default:
			masked[k] = v
		}
	}

	return masked
}
