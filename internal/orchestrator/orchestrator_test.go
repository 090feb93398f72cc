package orchestrator

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/Satoappco/SatoApp-sub002/internal/config"
	"github.com/Satoappco/SatoApp-sub002/internal/health"
	"github.com/Satoappco/SatoApp-sub002/internal/oauth"
	"github.com/Satoappco/SatoApp-sub002/internal/platform"
	"github.com/Satoappco/SatoApp-sub002/internal/storage"
	"github.com/Satoappco/SatoApp-sub002/internal/upstream"
	"github.com/Satoappco/SatoApp-sub002/internal/upstream/types"
	"github.com/Satoappco/SatoApp-sub002/internal/validate"
)

// stubStore is an in-memory connection store shared by the refresher
// and the health recorder in tests.
type stubStore struct {
	mu      sync.Mutex
	records map[string]*storage.ConnectionRecord
	byPlat  map[platform.Platform]string
}

func newStubStore() *stubStore {
	return &stubStore{
		records: make(map[string]*storage.ConnectionRecord),
		byPlat:  make(map[platform.Platform]string),
	}
}

func (s *stubStore) add(p platform.Platform, rec *storage.ConnectionRecord) {
	s.records[rec.ID] = rec
	s.byPlat[p] = rec.ID
}

func (s *stubStore) get(id string) *storage.ConnectionRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.records[id]
}

func (s *stubStore) GetConnection(id string) (*storage.ConnectionRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	clone := *rec
	return &clone, nil
}

func (s *stubStore) GetConnectionByPlatform(p platform.Platform, _, _ string) (*storage.ConnectionRecord, error) {
	s.mu.Lock()
	id, ok := s.byPlat[p]
	s.mu.Unlock()
	if !ok {
		return nil, storage.ErrNotFound
	}
	return s.GetConnection(id)
}

func (s *stubStore) UpdateConnection(id string, fn func(*storage.ConnectionRecord) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[id]
	if !ok {
		return storage.ErrNotFound
	}
	return fn(rec)
}

// microservice fakes one platform's HTTP tool server. probeOutput is
// what the probe tool returns; initCount tracks re-negotiations.
type microservice struct {
	server      *httptest.Server
	initCount   atomic.Int32
	tools       []map[string]string
	probeOutput string
	failInit    bool
}

func newMicroservice(t *testing.T, tools []map[string]string, probeOutput string) *microservice {
	t.Helper()
	ms := &microservice{tools: tools, probeOutput: probeOutput}

	mux := http.NewServeMux()
	mux.HandleFunc("/initialize", func(w http.ResponseWriter, _ *http.Request) {
		ms.initCount.Add(1)
		if ms.failInit {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]string{"session_id": "sess"})
	})
	mux.HandleFunc("/tools/sess", func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"tools": ms.tools})
	})
	mux.HandleFunc("/tool/sess/", func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"success": true,
			"content": ms.probeOutput,
		})
	})
	mux.HandleFunc("/session/sess", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	ms.server = httptest.NewServer(mux)
	t.Cleanup(ms.server.Close)
	return ms
}

func gaTools() []map[string]string {
	return []map[string]string{{"name": "get_metadata"}, {"name": "run_report"}}
}

func adsTools() []map[string]string {
	return []map[string]string{{"name": "list_accessible_customers"}}
}

func fbTools() []map[string]string {
	return []map[string]string{{"name": "get_insights"}}
}

type fixture struct {
	cfg   *config.Config
	store *stubStore
	orch  *Orchestrator
}

func newFixture(t *testing.T, cfg *config.Config, store *stubStore) *fixture {
	t.Helper()
	logger := zaptest.NewLogger(t)
	recorder := health.NewRecorder(store, nil, logger)
	refresher := oauth.NewRefresher(cfg.OAuth, store, recorder, logger)
	negotiator := upstream.NewNegotiator(cfg, logger)
	validator := validate.NewValidator(logger)
	return &fixture{
		cfg:   cfg,
		store: store,
		orch:  New(cfg, refresher, negotiator, validator, recorder, nil, logger),
	}
}

func baseConfig() *config.Config {
	cfg := config.Default()
	cfg.DataDir = "/tmp/test"
	cfg.EnableTokenRefresh = false
	cfg.EnableValidation = true
	cfg.OAuth.Google = config.GoogleOAuth{ClientID: "cid", ClientSecret: "secret"}
	return cfg
}

func bundleFor(platforms ...platform.Platform) platform.Bundle {
	b := platform.Bundle{}
	for _, p := range platforms {
		switch p {
		case platform.GoogleAnalytics:
			b[p] = &platform.Credentials{ConnectionID: "conn-ga", RefreshToken: "rt", PropertyID: "123"}
		case platform.GoogleAds:
			b[p] = &platform.Credentials{ConnectionID: "conn-ads", RefreshToken: "rt", CustomerID: "999", DeveloperToken: "dev"}
		case platform.FacebookAds:
			b[p] = &platform.Credentials{ConnectionID: "conn-fb", AccessToken: "at", AccountID: "act_1"}
		}
	}
	return b
}

func TestInitializeHappyPath(t *testing.T) {
	ga := newMicroservice(t, gaTools(), `{"dimensions": 40}`)
	ads := newMicroservice(t, adsTools(), "customers/123")
	fb := newMicroservice(t, fbTools(), "")

	cfg := baseConfig()
	cfg.Platforms = map[string]*config.PlatformConfig{
		"google_analytics": {BaseURL: ga.server.URL},
		"google_ads":       {BaseURL: ads.server.URL},
		"facebook_ads":     {BaseURL: fb.server.URL},
	}

	store := newStubStore()
	store.add(platform.GoogleAnalytics, &storage.ConnectionRecord{ID: "conn-ga"})
	store.add(platform.GoogleAds, &storage.ConnectionRecord{ID: "conn-ads"})
	store.add(platform.FacebookAds, &storage.ConnectionRecord{ID: "conn-fb"})
	f := newFixture(t, cfg, store)

	client, results, ok := f.orch.Initialize(context.Background(), "camp-1",
		[]string{"google", "facebook"}, bundleFor(platform.All()...), types.ModeHTTP)

	require.True(t, ok)
	require.NotNil(t, client)
	defer client.Close(context.Background())

	assert.Len(t, client.Platforms(), 3)
	summary := validate.Summarize(results)
	assert.Equal(t, 3, summary.Success)
	assert.Zero(t, summary.Failed)

	// Validation success stamps telemetry on every connection.
	for _, id := range []string{"conn-ga", "conn-ads", "conn-fb"} {
		rec := store.get(id)
		require.NotNil(t, rec.LastValidatedAt, id)
		require.NotNil(t, rec.LastUsedAt, id)
	}

	tools, err := client.ListTools(context.Background())
	require.NoError(t, err)
	assert.Len(t, tools, 4)
}

func TestInitializeValidationShrinkReinitializes(t *testing.T) {
	ga := newMicroservice(t, gaTools(), `{"dimensions": 40}`)
	ads := newMicroservice(t, adsTools(), "token has been expired or revoked")

	cfg := baseConfig()
	cfg.Platforms = map[string]*config.PlatformConfig{
		"google_analytics": {BaseURL: ga.server.URL},
		"google_ads":       {BaseURL: ads.server.URL},
	}

	store := newStubStore()
	store.add(platform.GoogleAnalytics, &storage.ConnectionRecord{ID: "conn-ga"})
	store.add(platform.GoogleAds, &storage.ConnectionRecord{ID: "conn-ads"})
	f := newFixture(t, cfg, store)

	client, results, ok := f.orch.Initialize(context.Background(), "camp-1",
		[]string{"google_analytics", "google_ads"}, bundleFor(platform.GoogleAnalytics, platform.GoogleAds), types.ModeHTTP)

	require.True(t, ok)
	defer client.Close(context.Background())

	// The failed platform is gone from the final client.
	assert.Equal(t, []platform.Platform{platform.GoogleAnalytics}, client.Platforms())

	// The surviving platform's transport was negotiated twice.
	assert.Equal(t, int32(2), ga.initCount.Load())

	// The caller still sees why the platform is absent.
	var adsResult *validate.Result
	for i := range results {
		if results[i].Platform == platform.GoogleAds {
			adsResult = &results[i]
		}
	}
	require.NotNil(t, adsResult)
	assert.Equal(t, validate.StatusFailed, adsResult.Status)

	// No validation telemetry for the failed platform; the failure is
	// written back instead, and the revocation wording in the probe
	// output flags the connection for re-authentication.
	rec := store.get("conn-ads")
	assert.Nil(t, rec.LastValidatedAt)
	assert.Equal(t, 1, rec.FailureCount)
	assert.True(t, rec.NeedsReauth)
	assert.Contains(t, rec.FailureReason, "validation_failed")
}

func TestInitializeValidationFailureIncrementsFailureCount(t *testing.T) {
	ga := newMicroservice(t, gaTools(), `{"dimensions": 40}`)
	ads := newMicroservice(t, []map[string]string{}, "")

	cfg := baseConfig()
	cfg.Platforms = map[string]*config.PlatformConfig{
		"google_analytics": {BaseURL: ga.server.URL},
		"google_ads":       {BaseURL: ads.server.URL},
	}

	store := newStubStore()
	store.add(platform.GoogleAnalytics, &storage.ConnectionRecord{ID: "conn-ga"})
	store.add(platform.GoogleAds, &storage.ConnectionRecord{ID: "conn-ads"})
	f := newFixture(t, cfg, store)

	client, results, ok := f.orch.Initialize(context.Background(), "camp-1",
		[]string{"google_analytics", "google_ads"}, bundleFor(platform.GoogleAnalytics, platform.GoogleAds), types.ModeHTTP)

	require.True(t, ok)
	defer client.Close(context.Background())

	var adsResult *validate.Result
	for i := range results {
		if results[i].Platform == platform.GoogleAds {
			adsResult = &results[i]
		}
	}
	require.NotNil(t, adsResult)
	assert.Equal(t, validate.StatusFailed, adsResult.Status)
	assert.Equal(t, "no tools available", adsResult.Message)

	// The empty tool surface counts as one failure on the stored
	// connection. Nothing suggests a revoked credential, so the
	// connection is not flagged for re-authentication.
	rec := store.get("conn-ads")
	assert.Equal(t, 1, rec.FailureCount)
	assert.False(t, rec.NeedsReauth)
	assert.Equal(t, "validation_failed: no tools available", rec.FailureReason)
	require.NotNil(t, rec.LastFailureAt)

	// The healthy platform still gets its success stamp.
	require.NotNil(t, store.get("conn-ga").LastValidatedAt)
}

func TestInitializeAllPlatformsFailValidation(t *testing.T) {
	ga := newMicroservice(t, []map[string]string{}, "")

	cfg := baseConfig()
	cfg.Platforms = map[string]*config.PlatformConfig{
		"google_analytics": {BaseURL: ga.server.URL},
	}

	f := newFixture(t, cfg, newStubStore())
	client, results, ok := f.orch.Initialize(context.Background(), "camp-1",
		[]string{"google_analytics"}, bundleFor(platform.GoogleAnalytics), types.ModeHTTP)

	assert.False(t, ok)
	assert.Nil(t, client)
	require.Len(t, results, 1)
	assert.Equal(t, validate.StatusFailed, results[0].Status)
	assert.Equal(t, "no tools available", results[0].Message)
}

func TestInitializeTransportTotalFailure(t *testing.T) {
	cfg := baseConfig()
	// No microservice base URLs configured.
	f := newFixture(t, cfg, newStubStore())

	client, _, ok := f.orch.Initialize(context.Background(), "camp-1",
		[]string{"google_analytics"}, bundleFor(platform.GoogleAnalytics), types.ModeHTTP)

	assert.False(t, ok)
	assert.Nil(t, client)
}

func TestInitializeRefreshRemovalSurfacesInResults(t *testing.T) {
	// Refresh endpoint reports a revoked grant for the ads connection.
	tokenServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_ = json.NewEncoder(w).Encode(map[string]string{
			"error":             "invalid_grant",
			"error_description": "Token has been revoked.",
		})
	}))
	defer tokenServer.Close()

	ga := newMicroservice(t, gaTools(), `{"dimensions": 40}`)

	cfg := baseConfig()
	cfg.EnableTokenRefresh = true
	cfg.OAuth.Google.TokenURL = tokenServer.URL
	cfg.Platforms = map[string]*config.PlatformConfig{
		"google_analytics": {BaseURL: ga.server.URL},
	}

	expired := time.Now().UTC().Add(-time.Hour)
	fresh := time.Now().UTC().Add(time.Hour)
	store := newStubStore()
	store.add(platform.GoogleAnalytics, &storage.ConnectionRecord{ID: "conn-ga", ExpiresAt: &fresh})
	store.add(platform.GoogleAds, &storage.ConnectionRecord{ID: "conn-ads", ExpiresAt: &expired})
	f := newFixture(t, cfg, store)

	client, results, ok := f.orch.Initialize(context.Background(), "camp-1",
		[]string{"google_analytics", "google_ads"}, bundleFor(platform.GoogleAnalytics, platform.GoogleAds), types.ModeHTTP)

	require.True(t, ok)
	defer client.Close(context.Background())

	assert.Equal(t, []platform.Platform{platform.GoogleAnalytics}, client.Platforms())

	// The revoked connection is flagged for re-authentication.
	rec := store.get("conn-ads")
	assert.True(t, rec.NeedsReauth)
	assert.Equal(t, 1, rec.FailureCount)
	assert.Equal(t, "token_refresh_failed: invalid_grant", rec.FailureReason)

	// The refresh removal shows up in the result list.
	var adsResult *validate.Result
	for i := range results {
		if results[i].Platform == platform.GoogleAds {
			adsResult = &results[i]
		}
	}
	require.NotNil(t, adsResult)
	assert.Equal(t, validate.StatusFailed, adsResult.Status)
	assert.Contains(t, adsResult.Message, "invalid_grant")
}

func TestInitializeAllPlatformsRemovedDuringRefresh(t *testing.T) {
	tokenServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_ = json.NewEncoder(w).Encode(map[string]string{"error": "invalid_grant"})
	}))
	defer tokenServer.Close()

	cfg := baseConfig()
	cfg.EnableTokenRefresh = true
	cfg.OAuth.Google.TokenURL = tokenServer.URL

	expired := time.Now().UTC().Add(-time.Hour)
	store := newStubStore()
	store.add(platform.GoogleAnalytics, &storage.ConnectionRecord{ID: "conn-ga", ExpiresAt: &expired})
	f := newFixture(t, cfg, store)

	client, results, ok := f.orch.Initialize(context.Background(), "camp-1",
		[]string{"google_analytics"}, bundleFor(platform.GoogleAnalytics), types.ModeHTTP)

	assert.False(t, ok)
	assert.Nil(t, client)
	require.Len(t, results, 1)
	assert.Equal(t, validate.StatusFailed, results[0].Status)
}

func TestInitializeValidationDisabledYieldsSkipped(t *testing.T) {
	ga := newMicroservice(t, gaTools(), "")

	cfg := baseConfig()
	cfg.EnableValidation = false
	cfg.Platforms = map[string]*config.PlatformConfig{
		"google_analytics": {BaseURL: ga.server.URL},
	}

	f := newFixture(t, cfg, newStubStore())
	client, results, ok := f.orch.Initialize(context.Background(), "camp-1",
		[]string{"google_analytics"}, bundleFor(platform.GoogleAnalytics), types.ModeHTTP)

	require.True(t, ok)
	defer client.Close(context.Background())

	require.Len(t, results, 1)
	assert.Equal(t, validate.StatusSkipped, results[0].Status)
}

func TestInitializeUnknownPlatformName(t *testing.T) {
	f := newFixture(t, baseConfig(), newStubStore())
	client, _, ok := f.orch.Initialize(context.Background(), "camp-1",
		[]string{"myspace"}, platform.Bundle{}, types.ModeHTTP)

	assert.False(t, ok)
	assert.Nil(t, client)
}
