package oauth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsTokenExpired(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name      string
		expiresAt *time.Time
		want      bool
	}{
		{"nil expiry treated as expired", nil, true},
		{"already past", timePtr(now.Add(-time.Hour)), true},
		{"inside the buffer", timePtr(now.Add(2 * time.Minute)), true},
		{"exactly at the buffer edge", timePtr(now.Add(5 * time.Minute)), true},
		{"comfortably in the future", timePtr(now.Add(time.Hour)), false},
		{"just outside the buffer", timePtr(now.Add(5*time.Minute + time.Second)), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, isTokenExpiredAt(tt.expiresAt, now))
		})
	}
}

func TestIsTokenExpiredZoneHandling(t *testing.T) {
	// A non-UTC "now" must not skew the comparison.
	loc := time.FixedZone("UTC+3", 3*60*60)
	now := time.Date(2025, 6, 1, 15, 0, 0, 0, loc) // 12:00 UTC
	expiry := time.Date(2025, 6, 1, 13, 0, 0, 0, time.UTC)

	assert.False(t, isTokenExpiredAt(&expiry, now))
}

func TestParseExpiry(t *testing.T) {
	t.Run("rfc3339 keeps its zone", func(t *testing.T) {
		got, err := ParseExpiry("2025-06-01T12:00:00+03:00")
		require.NoError(t, err)
		assert.Equal(t, time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC), got.UTC())
	})

	t.Run("naive timestamp interpreted as UTC", func(t *testing.T) {
		got, err := ParseExpiry("2025-06-01T12:00:00")
		require.NoError(t, err)
		assert.Equal(t, time.UTC, got.Location())
		assert.Equal(t, 12, got.Hour())
	})

	t.Run("space separated naive timestamp", func(t *testing.T) {
		got, err := ParseExpiry("2025-06-01 12:00:00")
		require.NoError(t, err)
		assert.Equal(t, time.UTC, got.Location())
	})

	t.Run("garbage errors", func(t *testing.T) {
		_, err := ParseExpiry("next tuesday")
		require.Error(t, err)
	})
}

func timePtr(t time.Time) *time.Time { return &t }
