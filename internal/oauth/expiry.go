package oauth

import (
	"time"
)

// ExpiryBuffer is how long before the recorded expiry a token is
// already treated as expired, so a refresh lands before the provider
// rejects the old token mid-call.
const ExpiryBuffer = 5 * time.Minute

// naiveLayouts are accepted for expiry timestamps stored without zone
// information. Naive timestamps are interpreted as UTC; they must never
// be compared against a zone-aware now directly.
var naiveLayouts = []string{
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
}

// IsTokenExpired reports whether the token is expired or will expire
// within the buffer. A nil expiry means the token's lifetime is
// unknown and it is treated as expired.
func IsTokenExpired(expiresAt *time.Time) bool {
	return isTokenExpiredAt(expiresAt, time.Now())
}

func isTokenExpiredAt(expiresAt *time.Time, now time.Time) bool {
	if expiresAt == nil {
		return true
	}
	return !now.UTC().Add(ExpiryBuffer).Before(expiresAt.UTC())
}

// ParseExpiry parses an expiry timestamp. RFC3339 values keep their
// zone; naive values are interpreted as UTC.
func ParseExpiry(value string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return t, nil
	}
	var lastErr error
	for _, layout := range naiveLayouts {
		t, err := time.ParseInLocation(layout, value, time.UTC)
		if err == nil {
			return t, nil
		}
		lastErr = err
	}
	return time.Time{}, lastErr
}
