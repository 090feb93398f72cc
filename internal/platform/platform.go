// Package platform defines the canonical advertising/analytics platform
// identifiers and the run-scoped credential and working-set types shared
// by every stage of the connection pipeline.
package platform

import (
	"fmt"
	"strings"
)

// Platform identifies one external advertising/analytics integration.
type Platform string

const (
	GoogleAnalytics Platform = "google_analytics"
	GoogleAds       Platform = "google_ads"
	FacebookAds     Platform = "facebook_ads"
)

// Provider identifies the OAuth provider behind a platform. Google
// Analytics and Google Ads share the Google token endpoint but remain
// independent platform entries.
type Provider string

const (
	ProviderGoogle   Provider = "google"
	ProviderFacebook Provider = "facebook"
)

// All returns the known platforms in canonical order.
func All() []Platform {
	return []Platform{GoogleAnalytics, GoogleAds, FacebookAds}
}

// Provider returns the OAuth provider for the platform.
func (p Platform) Provider() Provider {
	if p == FacebookAds {
		return ProviderFacebook
	}
	return ProviderGoogle
}

// String implements fmt.Stringer.
func (p Platform) String() string { return string(p) }

// aliases maps accepted spellings to canonical platforms. The entries
// cover the names used by tenant-facing APIs, the stdio server registry
// and the HTTP microservice identifiers.
var aliases = map[string]Platform{
	"google_analytics": GoogleAnalytics,
	"google-analytics": GoogleAnalytics,
	"ga":               GoogleAnalytics,
	"ga4":              GoogleAnalytics,
	"analytics":        GoogleAnalytics,

	"google_ads": GoogleAds,
	"google-ads": GoogleAds,
	"ads":        GoogleAds,
	"adwords":    GoogleAds,

	"facebook_ads": FacebookAds,
	"facebook-ads": FacebookAds,
	"facebook":     FacebookAds,
	"meta":         FacebookAds,
	"meta_ads":     FacebookAds,
	"meta-ads":     FacebookAds,
}

// Parse resolves a platform name or alias to its canonical Platform.
func Parse(name string) (Platform, error) {
	key := strings.ToLower(strings.TrimSpace(name))
	if p, ok := aliases[key]; ok {
		return p, nil
	}
	return "", fmt.Errorf("unknown platform %q", name)
}

// Expand resolves a list of requested names into canonical platforms.
// The legacy name "google" expands to both Google platforms; order is
// preserved and duplicates are dropped.
func Expand(names []string) ([]Platform, error) {
	var out []Platform
	seen := make(map[Platform]bool)
	add := func(p Platform) {
		if !seen[p] {
			seen[p] = true
			out = append(out, p)
		}
	}

	for _, name := range names {
		key := strings.ToLower(strings.TrimSpace(name))
		if key == "google" || key == "both" {
			add(GoogleAnalytics)
			add(GoogleAds)
			continue
		}
		p, err := Parse(name)
		if err != nil {
			return nil, err
		}
		add(p)
	}
	return out, nil
}

// serverKeywords maps case-insensitive substrings of transport/server
// identifiers to platforms, most specific first.
var serverKeywords = []struct {
	keyword  string
	platform Platform
}{
	{"google_analytics", GoogleAnalytics},
	{"google-analytics", GoogleAnalytics},
	{"analytics", GoogleAnalytics},
	{"ga4", GoogleAnalytics},
	{"google_ads", GoogleAds},
	{"google-ads", GoogleAds},
	{"ads_mcp", GoogleAds},
	{"facebook", FacebookAds},
	{"meta", FacebookAds},
}

// FromServerName infers the platform behind a transport/server
// identifier by case-insensitive substring matching. The boolean is
// false when no keyword matches; callers must treat that as an
// indeterminate failure affecting the whole working set.
func FromServerName(server string) (Platform, bool) {
	lower := strings.ToLower(server)
	for _, kw := range serverKeywords {
		if strings.Contains(lower, kw.keyword) {
			return kw.platform, true
		}
	}
	return "", false
}
