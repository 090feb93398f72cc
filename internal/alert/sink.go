// Package alert delivers best-effort incident notifications to an
// external alerting sink. Delivery failures never affect the caller.
package alert

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Satoappco/SatoApp-sub002/internal/config"
)

const defaultTimeout = 5 * time.Second

// Incident is the payload sent to the alerting sink.
type Incident struct {
	ID    string `json:"id"`
	Title string `json:"title"`
	Body  string `json:"body"` // markdown
}

// Sink posts incidents to the configured alerting endpoint.
type Sink struct {
	url     string
	apiKey  string
	timeout time.Duration
	client  *http.Client
	logger  *zap.Logger
}

// NewSink creates a sink from config. A nil or URL-less config yields a
// disabled sink whose Notify is a no-op.
func NewSink(cfg *config.AlertConfig, logger *zap.Logger) *Sink {
	s := &Sink{
		timeout: defaultTimeout,
		client:  &http.Client{},
		logger:  logger,
	}
	if cfg != nil {
		s.url = cfg.URL
		s.apiKey = cfg.APIKey
		if cfg.Timeout > 0 {
			s.timeout = cfg.Timeout
		}
	}
	return s
}

// Enabled reports whether the sink has an endpoint configured.
func (s *Sink) Enabled() bool { return s.url != "" }

// CreateIncident posts one incident synchronously. Callers on the
// pipeline path should use Notify instead.
func (s *Sink) CreateIncident(ctx context.Context, title, body string) error {
	if !s.Enabled() {
		return nil
	}

	incident := Incident{
		ID:    uuid.NewString(),
		Title: title,
		Body:  body,
	}
	payload, err := json.Marshal(incident)
	if err != nil {
		return fmt.Errorf("failed to marshal incident: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to build incident request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if s.apiKey != "" {
		req.Header.Set("Authorization", s.apiKey)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("incident delivery failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("incident sink returned status %d", resp.StatusCode)
	}
	return nil
}

// Notify delivers an incident asynchronously. Errors are logged and
// discarded; the decision the incident reports is already committed.
func (s *Sink) Notify(title, body string) {
	if !s.Enabled() {
		return
	}
	go func() {
		if err := s.CreateIncident(context.Background(), title, body); err != nil {
			s.logger.Warn("Failed to deliver incident to alerting sink",
				zap.String("title", title),
				zap.Error(err))
		}
	}()
}
