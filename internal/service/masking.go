package service

import "sendfleet/internal/privacy"

// maskForLog hides recipient and account phone numbers before they reach
// log output. Never log these values raw.
func maskForLog(phone string) string {
	return privacy.MaskPhoneNumber(phone)
}
