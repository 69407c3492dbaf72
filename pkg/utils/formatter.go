package utils

import (
	"strconv"
	"strings"
)

// FormatThousands renders a numeric amount with comma thousand separators,
// e.g. 150000000 -> "150,000,000". Fractions are dropped; campaign budgets
// are displayed as whole currency amounts.
func FormatThousands(amount float64) string {
	neg := amount < 0
	if neg {
		amount = -amount
	}

	digits := strconv.FormatInt(int64(amount), 10)

	var b strings.Builder
	if neg {
		b.WriteByte('-')
	}
	for i, d := range digits {
		if i > 0 && (len(digits)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(d)
	}
	return b.String()
}
