package catalog

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Money is a price in hundredths of the store currency (grosze).
// Prices are kept in fixed point so that same-day comparisons are exact.
type Money int64

var ErrBadPrice = errors.New("unparsable price")

var priceRe = regexp.MustCompile(`[0-9][0-9 .\x{00A0}\x{202F}']*(?:,[0-9]{1,2})?|[0-9]+\.[0-9]{1,2}`)

func (m Money) String() string {
	sign := ""
	v := int64(m)
	if v < 0 {
		sign = "-"
		v = -v
	}
	return fmt.Sprintf("%s%d.%02d", sign, v/100, v%100)
}

// ParseMoney normalizes a locale formatted price string like
// "129,99 zł", "1 299,00" or "1.299,99" into fixed point.
func ParseMoney(s string) (Money, error) {
	match := priceRe.FindString(s)
	if match == "" {
		return 0, fmt.Errorf("%w: %q", ErrBadPrice, s)
	}

	// comma is the decimal separator; spaces, NBSP and dots group thousands
	normalized := strings.Map(func(r rune) rune {
		switch r {
		case ' ', ' ', ' ', '\'':
			return -1
		}
		return r
	}, match)

	if strings.Contains(normalized, ",") {
		normalized = strings.ReplaceAll(normalized, ".", "")
		normalized = strings.Replace(normalized, ",", ".", 1)
	} else if dots := strings.Count(normalized, "."); dots > 1 {
		normalized = strings.ReplaceAll(normalized, ".", "")
	} else if i := strings.Index(normalized, "."); i >= 0 && len(normalized)-i-1 == 3 {
		// a lone dot followed by three digits is a thousands separator
		normalized = strings.ReplaceAll(normalized, ".", "")
	}

	whole, frac := normalized, "0"
	if i := strings.Index(normalized, "."); i >= 0 {
		whole, frac = normalized[:i], normalized[i+1:]
	}

	if len(frac) == 1 {
		frac += "0"
	}

	w, err := strconv.ParseInt(whole, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrBadPrice, s)
	}
	f, err := strconv.ParseInt(frac, 10, 64)
	if err != nil || f > 99 {
		return 0, fmt.Errorf("%w: %q", ErrBadPrice, s)
	}

	return Money(w*100 + f), nil
}

// MoneyPtr is a convenience for building nullable price fields.
func MoneyPtr(m Money) *Money { return &m }
