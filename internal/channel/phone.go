package channel

import (
	"strings"
)

const chatSuffix = "@c.us"

// NormalizePhone rewrites a raw phone number into the gateway's chat id
// form: digits only, Indonesian local mobile numbers rewritten to
// international form (08xx -> 628xx, 8xx -> 628xx), "@c.us" appended.
func NormalizePhone(phone string) string {
	var b strings.Builder
	for _, r := range phone {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	digits := b.String()

	if strings.HasPrefix(digits, "08") {
		digits = "62" + digits[1:]
	} else if strings.HasPrefix(digits, "8") {
		digits = "62" + digits
	}

	return digits + chatSuffix
}

// PhoneFromChatID strips the gateway suffix from an inbound chat id,
// yielding the bare international number used as the contact key.
func PhoneFromChatID(chatID string) string {
	return strings.TrimSuffix(chatID, chatSuffix)
}
