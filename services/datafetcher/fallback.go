package datafetcher

import (
	"strconv"

	"github.com/shopspring/decimal"
)

// Provider payloads are loosely typed and field names drift between API
// versions (adjusted vs raw prices, renamed volume fields). The fallback
// accessors read the first present, usable field from an ordered list
// instead of scattering try-A-else-B chains through the mapping code.

// FallbackDecimal returns the first key whose value converts to a
// non-zero decimal, or zero when none does.
func FallbackDecimal(row map[string]interface{}, keys ...string) decimal.Decimal {
	for _, key := range keys {
		v, ok := row[key]
		if !ok || v == nil {
			continue
		}
		d, ok := toDecimal(v)
		if ok && !d.IsZero() {
			return d
		}
	}
	return decimal.Zero
}

// FallbackInt64 returns the first key whose value converts to a
// non-zero integer.
func FallbackInt64(row map[string]interface{}, keys ...string) int64 {
	for _, key := range keys {
		v, ok := row[key]
		if !ok || v == nil {
			continue
		}
		switch n := v.(type) {
		case float64:
			if n != 0 {
				return int64(n)
			}
		case int64:
			if n != 0 {
				return n
			}
		case string:
			if parsed, err := strconv.ParseInt(n, 10, 64); err == nil && parsed != 0 {
				return parsed
			}
		}
	}
	return 0
}

// FallbackString returns the first key holding a non-empty string.
func FallbackString(row map[string]interface{}, keys ...string) string {
	for _, key := range keys {
		if v, ok := row[key]; ok {
			if s, ok := v.(string); ok && s != "" {
				return s
			}
		}
	}
	return ""
}

func toDecimal(v interface{}) (decimal.Decimal, bool) {
	switch n := v.(type) {
	case float64:
		return decimal.NewFromFloat(n), true
	case int64:
		return decimal.NewFromInt(n), true
	case string:
		d, err := decimal.NewFromString(n)
		if err != nil {
			return decimal.Zero, false
		}
		return d, true
	default:
		return decimal.Zero, false
	}
}
