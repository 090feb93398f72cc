package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	assert.Equal(t, ":8085", cfg.Listen)
	assert.Equal(t, TransportAuto, cfg.TransportMode)
	assert.True(t, cfg.EnableTokenRefresh)
	assert.True(t, cfg.EnableValidation)
	assert.Equal(t, 3, cfg.MaxFailures)
}

func TestValidate(t *testing.T) {
	cfg := Default()
	cfg.DataDir = t.TempDir()
	require.NoError(t, cfg.Validate())

	cfg.TransportMode = "telnet"
	require.Error(t, cfg.Validate())

	cfg.TransportMode = TransportHTTP
	cfg.MaxFailures = 0
	require.Error(t, cfg.Validate())

	cfg.MaxFailures = 3
	cfg.DataDir = ""
	require.Error(t, cfg.Validate())
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "connector.json")
	content := `{
		"listen": ":9999",
		"data-dir": "` + dir + `",
		"transport-mode": "http",
		"enable-token-refresh": false,
		"max-failures": 5,
		"oauth": {
			"google": {"client-id": "file-cid", "client-secret": "file-secret"}
		},
		"platforms": {
			"google_analytics": {"base-url": "http://localhost:8001"}
		}
	}`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":9999", cfg.Listen)
	assert.Equal(t, TransportHTTP, cfg.TransportMode)
	assert.False(t, cfg.EnableTokenRefresh)
	assert.Equal(t, 5, cfg.MaxFailures)
	assert.Equal(t, "file-cid", cfg.OAuth.Google.ClientID)

	require.Contains(t, cfg.Platforms, "google_analytics")
	assert.Equal(t, "http://localhost:8001", cfg.Platforms["google_analytics"].BaseURL)
}

func TestLoadMalformedFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "connector.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "malformed JSON")
}

func TestEnvOverrides(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("SATO_DATA_DIR", dir)
	t.Setenv("SATO_TRANSPORT_MODE", "STDIO")
	t.Setenv("SATO_GOOGLE_CLIENT_ID", "env-cid")
	t.Setenv("SATO_ALERT_URL", "https://alerts.example.com/api")
	t.Setenv("SATO_ENABLE_VALIDATION", "false")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, dir, cfg.DataDir)
	assert.Equal(t, TransportStdio, cfg.TransportMode)
	assert.Equal(t, "env-cid", cfg.OAuth.Google.ClientID)
	require.NotNil(t, cfg.Alerting)
	assert.Equal(t, "https://alerts.example.com/api", cfg.Alerting.URL)
	assert.False(t, cfg.EnableValidation)
}
