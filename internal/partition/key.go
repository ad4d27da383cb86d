package partition

import (
	"fmt"
	"regexp"
	"time"
)

const keyLayout = "200601"

var keyPattern = regexp.MustCompile(`^\d{6}$`)

// KeyFromTime derives the yearMonth partition key from an event's content
// timestamp. Placement follows the content time, never the receipt time.
func KeyFromTime(t time.Time) string {
	return t.UTC().Format(keyLayout)
}

// KeyFromMillis derives the partition key from epoch milliseconds.
func KeyFromMillis(ms int64) string {
	return KeyFromTime(time.UnixMilli(ms))
}

// PreviousKey returns the key of the calendar month before key.
func PreviousKey(key string) (string, error) {
	t, err := time.Parse(keyLayout, key)
	if err != nil {
		return "", fmt.Errorf("invalid partition key %q: %w", key, err)
	}
	return t.AddDate(0, -1, 0).Format(keyLayout), nil
}

// ValidKey reports whether key has the yearMonth shape. Keys are interpolated
// into DDL, so anything else is rejected outright.
func ValidKey(key string) bool {
	return keyPattern.MatchString(key)
}
