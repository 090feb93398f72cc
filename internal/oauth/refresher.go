package oauth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/Satoappco/SatoApp-sub002/internal/config"
	"github.com/Satoappco/SatoApp-sub002/internal/platform"
	"github.com/Satoappco/SatoApp-sub002/internal/storage"
)

// Default provider token endpoints.
const (
	GoogleTokenURL   = "https://oauth2.googleapis.com/token"
	FacebookTokenURL = "https://graph.facebook.com/v18.0/oauth/access_token"

	refreshTimeout = 10 * time.Second
)

// TokenResult is a successful refresh response.
type TokenResult struct {
	AccessToken string
	ExpiresIn   int
	ExpiresAt   time.Time
}

// ConnectionStore is the slice of storage the refresher needs.
type ConnectionStore interface {
	GetConnection(id string) (*storage.ConnectionRecord, error)
	GetConnectionByPlatform(p platform.Platform, campaignerID, customerID string) (*storage.ConnectionRecord, error)
	UpdateConnection(id string, fn func(*storage.ConnectionRecord) error) error
}

// HealthRecorder records refresh outcomes on connection records.
type HealthRecorder interface {
	RecordFailure(connectionID, reason string, alsoSetNeedsReauth bool) bool
	RecordSuccess(connectionID string, resetFailureCount bool) bool
}

// MetricsRecorder counts refresh attempts by provider and outcome.
type MetricsRecorder interface {
	RecordTokenRefresh(provider, outcome string)
}

// Refresh attempt outcomes reported to the metrics recorder.
const (
	OutcomeSuccess          = "success"
	OutcomePermanentFailure = "permanent_failure"
	OutcomeTransientFailure = "transient_failure"
	OutcomeUnavailable      = "unavailable"
)

// Refresher exchanges stored refresh credentials for fresh access
// credentials before the transport stage runs.
type Refresher struct {
	providers config.OAuthProviders
	store     ConnectionStore
	recorder  HealthRecorder
	metrics   MetricsRecorder
	client    *http.Client
	logger    *zap.Logger
}

// NewRefresher creates a token refresher.
func NewRefresher(providers config.OAuthProviders, store ConnectionStore, recorder HealthRecorder, logger *zap.Logger) *Refresher {
	return &Refresher{
		providers: providers,
		store:     store,
		recorder:  recorder,
		client:    &http.Client{Timeout: refreshTimeout},
		logger:    logger,
	}
}

// SetMetrics attaches a metrics recorder. Must be called before the
// first RefreshAll.
func (r *Refresher) SetMetrics(m MetricsRecorder) {
	r.metrics = m
}

// recordAttempt reports one refresh attempt outcome for a provider.
func (r *Refresher) recordAttempt(p platform.Platform, outcome string) {
	if r.metrics != nil {
		r.metrics.RecordTokenRefresh(string(p.Provider()), outcome)
	}
}

// refreshOutcome is the per-platform result collected before the batch
// is applied to the working set.
type refreshOutcome struct {
	platform platform.Platform
	remove   bool
	reason   string
	fatal    bool
}

// RefreshAll refreshes every platform in the working set that needs it
// and returns the shrunk set. Credentials are updated in place with
// fresh tokens; entries for removed platforms are dropped from the
// bundle. Per-platform refresh calls run concurrently; removals are
// applied as one batch afterwards.
func (r *Refresher) RefreshAll(ctx context.Context, campaignerID string, ws *platform.WorkingSet, creds platform.Bundle) *platform.WorkingSet {
	platforms := ws.Platforms()
	outcomes := make([]refreshOutcome, len(platforms))

	var wg sync.WaitGroup
	for i, p := range platforms {
		wg.Add(1)
		go func(i int, p platform.Platform) {
			defer wg.Done()
			outcomes[i] = r.refreshOne(ctx, campaignerID, p, creds.Get(p))
		}(i, p)
	}
	wg.Wait()

	for _, o := range outcomes {
		if o.fatal {
			// Cannot proceed without credentials at all.
			r.logger.Error("Token refresh subsystem unavailable, quarantining all platforms",
				zap.String("campaigner_id", campaignerID),
				zap.String("reason", o.reason))
			next := ws.Clear("refresh", o.reason)
			for _, p := range platforms {
				creds.Remove(p)
			}
			return next
		}
	}

	reasons := make(map[platform.Platform]string)
	for _, o := range outcomes {
		if o.remove {
			reasons[o.platform] = o.reason
			creds.Remove(o.platform)
		}
	}
	return ws.Without("refresh", reasons)
}

// refreshOne refreshes a single platform's credential if its stored
// expiry (minus buffer) has passed.
func (r *Refresher) refreshOne(ctx context.Context, campaignerID string, p platform.Platform, c *platform.Credentials) refreshOutcome {
	keep := refreshOutcome{platform: p}
	if c == nil {
		return refreshOutcome{platform: p, remove: true, reason: "missing credentials"}
	}

	conn := r.lookupConnection(p, campaignerID, c)
	if conn == nil {
		// No stored record to consult; validation will catch a dead
		// credential later.
		r.logger.Warn("No connection record for platform, skipping refresh",
			zap.String("platform", p.String()),
			zap.String("campaigner_id", campaignerID))
		return keep
	}
	if c.ConnectionID == "" {
		c.ConnectionID = conn.ID
	}

	if conn.NeedsReauth {
		// Silent refresh is forbidden until a human re-links.
		return refreshOutcome{platform: p, remove: true, reason: "needs_reauth"}
	}

	if !IsTokenExpired(conn.ExpiresAt) {
		r.logger.Debug("Stored token still valid, skipping refresh",
			zap.String("platform", p.String()),
			zap.Timep("expires_at", conn.ExpiresAt))
		return keep
	}

	tok, err := r.refreshProvider(ctx, p, c)
	if err != nil {
		if errors.Is(err, ErrSubsystemUnavailable) {
			r.recordAttempt(p, OutcomeUnavailable)
			return refreshOutcome{platform: p, remove: true, reason: err.Error(), fatal: true}
		}

		reason := FailureReason(err)
		permanent := IsPermanent(err)
		if permanent {
			r.recordAttempt(p, OutcomePermanentFailure)
		} else {
			r.recordAttempt(p, OutcomeTransientFailure)
		}
		r.logger.Error("Token refresh failed",
			zap.String("platform", p.String()),
			zap.String("connection_id", conn.ID),
			zap.Bool("permanent", permanent),
			zap.Error(err))
		r.recorder.RecordFailure(conn.ID, reason, permanent)
		return refreshOutcome{platform: p, remove: true, reason: reason}
	}

	r.recordAttempt(p, OutcomeSuccess)
	if err := r.persistToken(conn.ID, tok); err != nil {
		r.logger.Error("Failed to persist refreshed token",
			zap.String("platform", p.String()),
			zap.String("connection_id", conn.ID),
			zap.Error(err))
		// The fresh token is still usable for this run.
	} else {
		r.recorder.RecordSuccess(conn.ID, true)
	}

	c.AccessToken = tok.AccessToken
	r.logger.Info("Token refreshed",
		zap.String("platform", p.String()),
		zap.String("connection_id", conn.ID),
		zap.Time("expires_at", tok.ExpiresAt))
	return keep
}

// lookupConnection finds the connection record via the bundle's id or
// by platform.
func (r *Refresher) lookupConnection(p platform.Platform, campaignerID string, c *platform.Credentials) *storage.ConnectionRecord {
	if c.ConnectionID != "" {
		if conn, err := r.store.GetConnection(c.ConnectionID); err == nil {
			return conn
		}
	}
	conn, err := r.store.GetConnectionByPlatform(p, campaignerID, c.CustomerID)
	if err != nil {
		return nil
	}
	return conn
}

// persistToken writes the refreshed token and expiry back to storage.
func (r *Refresher) persistToken(connectionID string, tok *TokenResult) error {
	return r.store.UpdateConnection(connectionID, func(conn *storage.ConnectionRecord) error {
		expiresAt := tok.ExpiresAt
		conn.AccessToken = tok.AccessToken
		conn.ExpiresAt = &expiresAt
		conn.NeedsReauth = false
		return nil
	})
}

// refreshProvider dispatches to the platform's OAuth provider.
func (r *Refresher) refreshProvider(ctx context.Context, p platform.Platform, c *platform.Credentials) (*TokenResult, error) {
	switch p.Provider() {
	case platform.ProviderFacebook:
		if c.AccessToken == "" {
			return nil, ErrNoToken
		}
		return r.refreshFacebook(ctx, c.AccessToken)
	default:
		if c.RefreshToken == "" {
			return nil, ErrNoToken
		}
		return r.refreshGoogle(ctx, c.RefreshToken)
	}
}

// refreshGoogle exchanges a Google refresh token for a fresh access
// token.
func (r *Refresher) refreshGoogle(ctx context.Context, refreshToken string) (*TokenResult, error) {
	cfg := r.providers.Google
	if cfg.ClientID == "" || cfg.ClientSecret == "" {
		return nil, fmt.Errorf("google client credentials missing: %w", ErrSubsystemUnavailable)
	}

	endpoint := cfg.TokenURL
	if endpoint == "" {
		endpoint = GoogleTokenURL
	}

	form := url.Values{
		"client_id":     {cfg.ClientID},
		"client_secret": {cfg.ClientSecret},
		"refresh_token": {refreshToken},
		"grant_type":    {"refresh_token"},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, &RefreshError{Provider: "google", Code: "network_error", Description: err.Error()}
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, &RefreshError{Provider: "google", Code: "network_error", Description: err.Error()}
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		var errBody struct {
			Error            string `json:"error"`
			ErrorDescription string `json:"error_description"`
		}
		_ = json.Unmarshal(body, &errBody)
		if errBody.Error == "" {
			errBody.Error = "unknown"
		}
		if errBody.ErrorDescription == "" {
			errBody.ErrorDescription = "token refresh failed"
		}
		return nil, &RefreshError{Provider: "google", Code: errBody.Error, Description: errBody.ErrorDescription}
	}

	var data struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int    `json:"expires_in"`
	}
	if err := json.Unmarshal(body, &data); err != nil {
		return nil, &RefreshError{Provider: "google", Code: "invalid_response", Description: err.Error()}
	}

	return &TokenResult{
		AccessToken: data.AccessToken,
		ExpiresIn:   data.ExpiresIn,
		ExpiresAt:   time.Now().UTC().Add(time.Duration(data.ExpiresIn) * time.Second),
	}, nil
}

// refreshFacebook exchanges the current Facebook access token for a
// fresh long-lived token.
func (r *Refresher) refreshFacebook(ctx context.Context, accessToken string) (*TokenResult, error) {
	cfg := r.providers.Facebook
	if cfg.AppID == "" || cfg.AppSecret == "" {
		return nil, fmt.Errorf("facebook app credentials missing: %w", ErrSubsystemUnavailable)
	}

	endpoint := cfg.TokenURL
	if endpoint == "" {
		endpoint = FacebookTokenURL
	}

	params := url.Values{
		"grant_type":        {"fb_exchange_token"},
		"client_id":         {cfg.AppID},
		"client_secret":     {cfg.AppSecret},
		"fb_exchange_token": {accessToken},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint+"?"+params.Encode(), http.NoBody)
	if err != nil {
		return nil, &RefreshError{Provider: "facebook", Code: "network_error", Description: err.Error()}
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, &RefreshError{Provider: "facebook", Code: "network_error", Description: err.Error()}
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		var errBody struct {
			Error struct {
				Type    string `json:"type"`
				Message string `json:"message"`
			} `json:"error"`
		}
		_ = json.Unmarshal(body, &errBody)
		if errBody.Error.Type == "" {
			errBody.Error.Type = "unknown"
		}
		if errBody.Error.Message == "" {
			errBody.Error.Message = "token refresh failed"
		}
		return nil, &RefreshError{Provider: "facebook", Code: errBody.Error.Type, Description: errBody.Error.Message}
	}

	var data struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int    `json:"expires_in"`
	}
	if err := json.Unmarshal(body, &data); err != nil {
		return nil, &RefreshError{Provider: "facebook", Code: "invalid_response", Description: err.Error()}
	}

	return &TokenResult{
		AccessToken: data.AccessToken,
		ExpiresIn:   data.ExpiresIn,
		ExpiresAt:   time.Now().UTC().Add(time.Duration(data.ExpiresIn) * time.Second),
	}, nil
}
