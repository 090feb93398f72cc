package platform

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    Platform
		wantErr bool
	}{
		{"canonical ga", "google_analytics", GoogleAnalytics, false},
		{"short alias", "ga4", GoogleAnalytics, false},
		{"dashed ads", "google-ads", GoogleAds, false},
		{"meta alias", "meta", FacebookAds, false},
		{"case and whitespace", "  Facebook  ", FacebookAds, false},
		{"unknown", "tiktok", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Parse(tt.input)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestExpand(t *testing.T) {
	t.Run("google expands to both google platforms", func(t *testing.T) {
		got, err := Expand([]string{"google", "facebook"})
		require.NoError(t, err)
		assert.Equal(t, []Platform{GoogleAnalytics, GoogleAds, FacebookAds}, got)
	})

	t.Run("duplicates dropped, order preserved", func(t *testing.T) {
		got, err := Expand([]string{"ads", "google", "google_ads"})
		require.NoError(t, err)
		assert.Equal(t, []Platform{GoogleAds, GoogleAnalytics}, got)
	})

	t.Run("unknown name errors", func(t *testing.T) {
		_, err := Expand([]string{"google", "pinterest"})
		require.Error(t, err)
	})
}

func TestFromServerName(t *testing.T) {
	tests := []struct {
		server string
		want   Platform
		ok     bool
	}{
		{"google_analytics-http", GoogleAnalytics, true},
		{"Google-Analytics-MCP", GoogleAnalytics, true},
		{"google_ads-stdio", GoogleAds, true},
		{"facebook_ads-http", FacebookAds, true},
		{"meta-marketing-api", FacebookAds, true},
		{"mystery-server", "", false},
	}

	for _, tt := range tests {
		got, ok := FromServerName(tt.server)
		assert.Equal(t, tt.ok, ok, tt.server)
		assert.Equal(t, tt.want, got, tt.server)
	}
}

func TestProvider(t *testing.T) {
	assert.Equal(t, ProviderGoogle, GoogleAnalytics.Provider())
	assert.Equal(t, ProviderGoogle, GoogleAds.Provider())
	assert.Equal(t, ProviderFacebook, FacebookAds.Provider())
}

func TestWorkingSetWithout(t *testing.T) {
	ws := NewWorkingSet([]Platform{GoogleAnalytics, GoogleAds, FacebookAds})
	require.Equal(t, 3, ws.Len())

	shrunk := ws.Without("refresh", map[Platform]string{
		GoogleAds: "token_refresh_failed: invalid_grant",
	})

	// The original set is untouched.
	assert.Equal(t, 3, ws.Len())
	assert.True(t, ws.Contains(GoogleAds))

	assert.Equal(t, 2, shrunk.Len())
	assert.False(t, shrunk.Contains(GoogleAds))
	assert.Equal(t, []Platform{GoogleAnalytics, FacebookAds}, shrunk.Platforms())

	removals := shrunk.Removals()
	require.Len(t, removals, 1)
	assert.Equal(t, GoogleAds, removals[0].Platform)
	assert.Equal(t, "refresh", removals[0].Stage)
}

func TestWorkingSetRemovalHistoryCarries(t *testing.T) {
	ws := NewWorkingSet([]Platform{GoogleAnalytics, GoogleAds, FacebookAds})
	ws = ws.Without("refresh", map[Platform]string{GoogleAds: "needs_reauth"})
	ws = ws.Without("validate", map[Platform]string{FacebookAds: "no tools available"})

	assert.Equal(t, []Platform{GoogleAnalytics}, ws.Platforms())

	removals := ws.Removals()
	require.Len(t, removals, 2)
	assert.Equal(t, "refresh", removals[0].Stage)
	assert.Equal(t, "validate", removals[1].Stage)
}

func TestWorkingSetClear(t *testing.T) {
	ws := NewWorkingSet([]Platform{GoogleAnalytics, FacebookAds})
	cleared := ws.Clear("refresh", "token refresh subsystem unavailable")

	assert.True(t, cleared.IsEmpty())
	require.Len(t, cleared.Removals(), 2)
	for _, r := range cleared.Removals() {
		assert.Equal(t, "token refresh subsystem unavailable", r.Reason)
	}
}

func TestWorkingSetDeduplicates(t *testing.T) {
	ws := NewWorkingSet([]Platform{GoogleAds, GoogleAds, GoogleAnalytics})
	assert.Equal(t, []Platform{GoogleAds, GoogleAnalytics}, ws.Platforms())
}

func TestBundle(t *testing.T) {
	b := Bundle{
		GoogleAnalytics: {RefreshToken: "rt", PropertyID: "123"},
		FacebookAds:     {AccessToken: "at", AccountID: "act_1"},
	}

	require.NotNil(t, b.Get(GoogleAnalytics))
	assert.Nil(t, b.Get(GoogleAds))

	b.Remove(GoogleAnalytics)
	assert.Nil(t, b.Get(GoogleAnalytics))
	assert.Len(t, b, 1)
}
