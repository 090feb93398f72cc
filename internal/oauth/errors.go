// Package oauth refreshes stored OAuth credentials against the Google
// and Facebook token endpoints and classifies refresh failures.
package oauth

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors for consistent handling across the pipeline.
var (
	// ErrNoToken indicates no refresh/access token is available for the
	// platform, so a refresh cannot even be attempted.
	ErrNoToken = errors.New("no token available for refresh")

	// ErrSubsystemUnavailable indicates the refresh subsystem itself is
	// unusable (no provider client credentials configured). The caller
	// must treat this as fatal for the whole working set.
	ErrSubsystemUnavailable = errors.New("token refresh subsystem unavailable")
)

// RefreshError is a structured refresh failure from a provider token
// endpoint.
type RefreshError struct {
	Provider    string // "google" or "facebook"
	Code        string // provider error code, e.g. "invalid_grant"
	Description string
}

// Error implements the error interface.
func (e *RefreshError) Error() string {
	return fmt.Sprintf("%s token refresh failed: %s - %s", e.Provider, e.Code, e.Description)
}

// Permanent reports whether the failure means the grant is gone for
// good and a human must re-authenticate. Google signals this with
// invalid_grant; Facebook uses a family of invalid-token error types.
func (e *RefreshError) Permanent() bool {
	if e.Code == "invalid_grant" {
		return true
	}
	if e.Provider == "facebook" && strings.Contains(strings.ToLower(e.Code), "invalid") {
		return true
	}
	return false
}

// IsPermanent reports whether err is a refresh failure that requires
// re-authentication.
func IsPermanent(err error) bool {
	var re *RefreshError
	return errors.As(err, &re) && re.Permanent()
}

// FailureReason builds the failure_reason text recorded for a refresh
// error.
func FailureReason(err error) string {
	var re *RefreshError
	if errors.As(err, &re) {
		return "token_refresh_failed: " + re.Code
	}
	return "token_refresh_failed: " + err.Error()
}
