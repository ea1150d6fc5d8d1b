package mapper

import (
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	logger "github.com/sirupsen/logrus"
)

// parseDecimalSafe parses an exchange numeric string. Empty or malformed values are
// logged and defaulted to zero instead of aborting the whole mapping.
func parseDecimalSafe(mapper, field, v string) decimal.Decimal {
	v = strings.TrimSpace(v)
	if v == "" {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(v)
	if err != nil {
		logger.WithFields(map[string]interface{}{
			"mapper": mapper,
			"field":  field,
			"value":  v,
		}).WithError(err).Error("Failed to parse decimal from exchange field; defaulting to 0")
		return decimal.Zero
	}
	return d
}

// parseMillisSafe converts a millisecond epoch string; zero time on failure.
func parseMillisSafe(v string) time.Time {
	ms, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
	if err != nil || ms <= 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}

func millis(ms int64) time.Time {
	if ms <= 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}
