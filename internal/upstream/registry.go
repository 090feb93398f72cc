// Package upstream negotiates transports to the per-platform servers
// and presents the surviving connections behind one unified client.
package upstream

import (
	"fmt"

	"github.com/Satoappco/SatoApp-sub002/internal/config"
	"github.com/Satoappco/SatoApp-sub002/internal/platform"
	"github.com/Satoappco/SatoApp-sub002/internal/upstream/stdio"
)

// Default subprocess servers per platform, used when config does not
// override the command.
var defaultStdioServers = map[platform.Platform]struct {
	command string
	args    []string
}{
	platform.GoogleAnalytics: {command: "uvx", args: []string{"google-analytics-mcp"}},
	platform.GoogleAds:       {command: "uvx", args: []string{"google-ads-mcp"}},
	platform.FacebookAds:     {command: "uvx", args: []string{"facebook-ads-mcp"}},
}

// buildServerParams turns config plus the credential bundle into the
// subprocess parameter set for one platform. Credentials travel to the
// subprocess through its environment.
func buildServerParams(cfg *config.Config, p platform.Platform, c *platform.Credentials) (stdio.ServerParams, error) {
	if c == nil {
		return stdio.ServerParams{}, fmt.Errorf("no credentials for platform %s", p)
	}

	params := stdio.ServerParams{
		Platform: p,
		Env:      map[string]string{},
	}

	if pc, ok := cfg.Platforms[p.String()]; ok && pc != nil {
		params.Command = pc.Command
		params.Args = pc.Args
		params.WorkingDir = pc.WorkingDir
		for k, v := range pc.Env {
			params.Env[k] = v
		}
	}
	if params.Command == "" {
		def, ok := defaultStdioServers[p]
		if !ok {
			return stdio.ServerParams{}, fmt.Errorf("no subprocess server registered for platform %s", p)
		}
		params.Command = def.command
		params.Args = append([]string(nil), def.args...)
	}

	env, err := credentialEnv(cfg, p, c)
	if err != nil {
		return stdio.ServerParams{}, err
	}
	for k, v := range env {
		params.Env[k] = v
	}
	return params, nil
}

// credentialEnv maps a platform's credentials onto the environment
// variables its subprocess server reads. Missing required fields are
// an error; in stdio mode that fails the whole negotiation.
func credentialEnv(cfg *config.Config, p platform.Platform, c *platform.Credentials) (map[string]string, error) {
	switch p {
	case platform.GoogleAnalytics:
		if c.RefreshToken == "" || c.PropertyID == "" {
			return nil, fmt.Errorf("google_analytics requires refresh_token and property_id")
		}
		return map[string]string{
			"GOOGLE_ANALYTICS_REFRESH_TOKEN": c.RefreshToken,
			"GOOGLE_ANALYTICS_PROPERTY_ID":   c.PropertyID,
			"GOOGLE_CLIENT_ID":               cfg.OAuth.Google.ClientID,
			"GOOGLE_CLIENT_SECRET":           cfg.OAuth.Google.ClientSecret,
		}, nil

	case platform.GoogleAds:
		if c.RefreshToken == "" || c.CustomerID == "" || c.DeveloperToken == "" {
			return nil, fmt.Errorf("google_ads requires refresh_token, customer_id and developer_token")
		}
		return map[string]string{
			"GOOGLE_ADS_REFRESH_TOKEN":   c.RefreshToken,
			"GOOGLE_ADS_CUSTOMER_ID":     c.CustomerID,
			"GOOGLE_ADS_DEVELOPER_TOKEN": c.DeveloperToken,
			"GOOGLE_CLIENT_ID":           cfg.OAuth.Google.ClientID,
			"GOOGLE_CLIENT_SECRET":       cfg.OAuth.Google.ClientSecret,
		}, nil

	case platform.FacebookAds:
		if c.AccessToken == "" || c.AccountID == "" {
			return nil, fmt.Errorf("facebook_ads requires access_token and account_id")
		}
		return map[string]string{
			"FACEBOOK_ACCESS_TOKEN": c.AccessToken,
			"FACEBOOK_ACCOUNT_ID":   c.AccountID,
		}, nil

	default:
		return nil, fmt.Errorf("unknown platform %s", p)
	}
}

// initializePayload maps a platform's credentials onto the HTTP
// microservice initialize body. The required fields per platform
// mirror credentialEnv; a missing field is an error, which in HTTP
// mode removes only that platform.
func initializePayload(cfg *config.Config, p platform.Platform, c *platform.Credentials) (map[string]string, error) {
	if c == nil {
		return nil, fmt.Errorf("no credentials for platform %s", p)
	}

	switch p {
	case platform.GoogleAnalytics:
		if c.RefreshToken == "" || c.PropertyID == "" {
			return nil, fmt.Errorf("google_analytics requires refresh_token and property_id")
		}
		return map[string]string{
			"refresh_token": c.RefreshToken,
			"property_id":   c.PropertyID,
			"client_id":     cfg.OAuth.Google.ClientID,
			"client_secret": cfg.OAuth.Google.ClientSecret,
		}, nil

	case platform.GoogleAds:
		if c.RefreshToken == "" || c.CustomerID == "" || c.DeveloperToken == "" {
			return nil, fmt.Errorf("google_ads requires refresh_token, customer_id and developer_token")
		}
		return map[string]string{
			"refresh_token":   c.RefreshToken,
			"customer_id":     c.CustomerID,
			"developer_token": c.DeveloperToken,
			"client_id":       cfg.OAuth.Google.ClientID,
			"client_secret":   cfg.OAuth.Google.ClientSecret,
		}, nil

	case platform.FacebookAds:
		if c.AccessToken == "" || c.AccountID == "" {
			return nil, fmt.Errorf("facebook_ads requires access_token and account_id")
		}
		return map[string]string{
			"access_token": c.AccessToken,
			"account_id":   c.AccountID,
		}, nil

	default:
		return nil, fmt.Errorf("unknown platform %s", p)
	}
}
