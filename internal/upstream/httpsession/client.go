// Package httpsession implements the per-platform HTTP microservice
// session protocol: initialize a session, list its tools, call tools
// and tear the session down.
package httpsession

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/Satoappco/SatoApp-sub002/internal/platform"
	"github.com/Satoappco/SatoApp-sub002/internal/upstream/types"
)

const (
	initializeTimeout = 15 * time.Second
	requestTimeout    = 30 * time.Second
)

// SessionClient is one initialized session against a platform's HTTP
// microservice. A zero session id means Initialize has not succeeded.
type SessionClient struct {
	platform  platform.Platform
	baseURL   string
	sessionID string
	client    *http.Client
	logger    *zap.Logger
}

// NewSessionClient creates an uninitialized session client for the
// microservice at baseURL.
func NewSessionClient(p platform.Platform, baseURL string, logger *zap.Logger) *SessionClient {
	return &SessionClient{
		platform: p,
		baseURL:  strings.TrimRight(baseURL, "/"),
		client:   &http.Client{Timeout: requestTimeout},
		logger:   logger,
	}
}

// Platform returns the platform this session belongs to.
func (s *SessionClient) Platform() platform.Platform { return s.platform }

// BaseURL returns the microservice base URL.
func (s *SessionClient) BaseURL() string { return s.baseURL }

// SessionID returns the opaque session id, empty before Initialize.
func (s *SessionClient) SessionID() string { return s.sessionID }

// Initialize opens a session with the platform-specific credential
// payload and stores the returned session id.
func (s *SessionClient) Initialize(ctx context.Context, payload map[string]string) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal initialize payload: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, initializeTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/initialize", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build initialize request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("initialize request failed: %w", err)
	}
	defer resp.Body.Close()

	data, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("initialize returned status %d: %s", resp.StatusCode, truncate(string(data), 200))
	}

	var result struct {
		SessionID string `json:"session_id"`
	}
	if err := json.Unmarshal(data, &result); err != nil {
		return fmt.Errorf("failed to decode initialize response: %w", err)
	}
	if result.SessionID == "" {
		return fmt.Errorf("initialize response missing session_id")
	}

	s.sessionID = result.SessionID
	s.logger.Debug("HTTP session initialized",
		zap.String("platform", s.platform.String()),
		zap.String("base_url", s.baseURL))
	return nil
}

// ListTools fetches the session's tool list.
func (s *SessionClient) ListTools(ctx context.Context) ([]types.ToolInfo, error) {
	if s.sessionID == "" {
		return nil, fmt.Errorf("session not initialized")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+"/tools/"+s.sessionID, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("failed to build list tools request: %w", err)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("list tools request failed: %w", err)
	}
	defer resp.Body.Close()

	data, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("list tools returned status %d: %s", resp.StatusCode, truncate(string(data), 200))
	}

	var result struct {
		Tools []types.ToolInfo `json:"tools"`
	}
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("failed to decode tool list: %w", err)
	}
	return result.Tools, nil
}

// CallTool invokes one tool in the session and collapses whatever
// shape the microservice returned into a single string.
func (s *SessionClient) CallTool(ctx context.Context, toolName string, args map[string]interface{}) (string, error) {
	if s.sessionID == "" {
		return "", fmt.Errorf("session not initialized")
	}
	if args == nil {
		args = map[string]interface{}{}
	}

	body, err := json.Marshal(map[string]interface{}{
		"tool_name": toolName,
		"arguments": args,
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal tool call: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/tool/"+s.sessionID+"/"+toolName, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to build tool call request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("tool call request failed: %w", err)
	}
	defer resp.Body.Close()

	data, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("tool call returned status %d: %s", resp.StatusCode, truncate(string(data), 200))
	}

	var result struct {
		Success bool        `json:"success"`
		Content interface{} `json:"content"`
		Error   string      `json:"error"`
	}
	if err := json.Unmarshal(data, &result); err != nil {
		// Not JSON at all; take the raw body as the tool output.
		return string(data), nil
	}
	if !result.Success && result.Error != "" {
		return "", fmt.Errorf("tool %s failed: %s", toolName, result.Error)
	}
	return CollapseContent(result.Content), nil
}

// Close deletes the session upstream. Safe to call on an
// uninitialized client.
func (s *SessionClient) Close(ctx context.Context) error {
	if s.sessionID == "" {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, s.baseURL+"/session/"+s.sessionID, http.NoBody)
	if err != nil {
		return fmt.Errorf("failed to build session delete request: %w", err)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("session delete failed: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	s.sessionID = ""
	return nil
}

// CollapseContent flattens the three content shapes microservices are
// known to return (plain string, list of content blocks, arbitrary
// JSON value) into one string.
func CollapseContent(content interface{}) string {
	switch v := content.(type) {
	case nil:
		return ""
	case string:
		return v
	case []interface{}:
		parts := make([]string, 0, len(v))
		for _, item := range v {
			if block, ok := item.(map[string]interface{}); ok {
				if text, ok := block["text"].(string); ok {
					parts = append(parts, text)
					continue
				}
			}
			parts = append(parts, collapseScalar(item))
		}
		return strings.Join(parts, "\n")
	default:
		return collapseScalar(v)
	}
}

func collapseScalar(v interface{}) string {
	if s, ok := v.(string); ok {
		return s
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(data)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
