package channel

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizePhone(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"local mobile with leading zero", "08123456789", "628123456789@c.us"},
		{"local mobile without zero", "8123456789", "628123456789@c.us"},
		{"already international", "628123456789", "628123456789@c.us"},
		{"formatted input", "+62 812-3456-789", "628123456789@c.us"},
		{"parentheses and spaces", "(0812) 3456 789", "628123456789@c.us"},
		{"non-indonesian number kept as-is", "14155552671", "14155552671@c.us"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, NormalizePhone(tt.input))
		})
	}
}

func TestPhoneFromChatID(t *testing.T) {
	assert.Equal(t, "628123456789", PhoneFromChatID("628123456789@c.us"))
	assert.Equal(t, "628123456789", PhoneFromChatID("628123456789"))
}
