// Package validate probes freshly negotiated transport sessions to
// weed out platforms whose credentials are silently dead before the
// client is handed to the caller.
package validate

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/Satoappco/SatoApp-sub002/internal/platform"
	"github.com/Satoappco/SatoApp-sub002/internal/upstream/types"
)

// ProbeTimeout bounds each live probe call. A probe that runs past it
// is treated as success: the tools exist, the upstream is just slow,
// and quarantining on latency alone causes false positives.
const ProbeTimeout = 10 * time.Second

// Status classifies one platform's validation outcome.
type Status string

const (
	StatusSuccess Status = "success"
	StatusFailed  Status = "failed"
	StatusSkipped Status = "skipped"
	StatusError   Status = "error"
)

// Result is one platform's validation outcome. Platform is empty when
// the server identifier could not be resolved to a known platform; the
// orchestrator treats that case conservatively.
type Result struct {
	Server       string            `json:"server"`
	Platform     platform.Platform `json:"platform,omitempty"`
	Status       Status            `json:"status"`
	Message      string            `json:"message,omitempty"`
	ErrorDetail  string            `json:"error_detail,omitempty"`
	DurationMS   int64             `json:"duration_ms"`
	ConnectionID string            `json:"connection_id,omitempty"`
}

// credentialKeywords in a probe's textual output mean the credential
// is dead even though the call itself succeeded.
var credentialKeywords = []string{"invalid", "expired", "revoked", "credentials"}

// revocationKeywords mark a failed result as a revoked or expired
// credential rather than a plain validation miss such as an empty tool
// list.
var revocationKeywords = []string{"revoked", "expired", "invalid"}

// IndicatesRevocation reports whether a failed result's text points at
// a revoked or expired credential, which warrants flagging the
// connection for re-authentication.
func (r Result) IndicatesRevocation() bool {
	if r.Status != StatusFailed {
		return false
	}
	text := strings.ToLower(r.Message + " " + r.ErrorDetail)
	for _, kw := range revocationKeywords {
		if strings.Contains(text, kw) {
			return true
		}
	}
	return false
}

// probeTools names the live probe tool per platform. Facebook has no
// entry: tool presence alone is accepted there, a live call against
// the ads account is too expensive for a health probe.
var probeTools = map[platform.Platform]string{
	platform.GoogleAnalytics: "get_metadata",
	platform.GoogleAds:       "list_accessible_customers",
}

// Client is the slice of the unified client the validator needs.
type Client interface {
	Platforms() []platform.Platform
	ListPlatformTools(ctx context.Context, p platform.Platform) ([]types.ToolHandle, error)
	CallTool(ctx context.Context, handle types.ToolHandle, args map[string]interface{}) (string, error)
}

// Validator runs per-platform validation probes.
type Validator struct {
	logger *zap.Logger
}

// NewValidator creates a validator.
func NewValidator(logger *zap.Logger) *Validator {
	return &Validator{logger: logger}
}

// ValidateAll validates every connected platform and returns one
// result per platform. connectionIDs maps platforms to their stored
// connection record ids for telemetry write-back; missing entries are
// fine.
func (v *Validator) ValidateAll(ctx context.Context, client Client, connectionIDs map[platform.Platform]string) []Result {
	platforms := client.Platforms()
	results := make([]Result, len(platforms))

	// Probes are independent per platform, so they run concurrently.
	// Each goroutine writes only its own slot.
	var wg sync.WaitGroup
	for i, p := range platforms {
		wg.Add(1)
		go func(i int, p platform.Platform) {
			defer wg.Done()
			r := v.validatePlatform(ctx, client, p)
			r.ConnectionID = connectionIDs[p]
			results[i] = r
		}(i, p)
	}
	wg.Wait()

	for _, r := range results {
		v.logger.Info("Platform validated",
			zap.String("server", r.Server),
			zap.String("platform", string(r.Platform)),
			zap.String("status", string(r.Status)),
			zap.String("message", r.Message),
			zap.Int64("duration_ms", r.DurationMS))
	}
	return results
}

func (v *Validator) validatePlatform(ctx context.Context, client Client, p platform.Platform) Result {
	start := time.Now()
	server := p.String()
	result := Result{Server: server}

	// The working platform is resolved from the server identifier, not
	// trusted from the loop variable, so a misnamed server surfaces as
	// an unresolvable result instead of validating the wrong platform.
	resolved, ok := platform.FromServerName(server)
	if ok {
		result.Platform = resolved
	}

	tools, err := client.ListPlatformTools(ctx, p)
	if err != nil {
		result.Status = StatusError
		result.Message = "failed to list tools"
		result.ErrorDetail = err.Error()
		result.DurationMS = time.Since(start).Milliseconds()
		return result
	}
	if len(tools) == 0 {
		result.Status = StatusFailed
		result.Message = "no tools available"
		result.DurationMS = time.Since(start).Milliseconds()
		return result
	}

	probeName, hasProbe := probeTools[p]
	probe := findTool(tools, probeName)
	if !hasProbe || probe == nil {
		// Presence of tools is the whole check for this platform.
		result.Status = StatusSuccess
		result.Message = "tools available"
		result.DurationMS = time.Since(start).Milliseconds()
		return result
	}

	probeCtx, cancel := context.WithTimeout(ctx, ProbeTimeout)
	defer cancel()

	output, err := client.CallTool(probeCtx, *probe, map[string]interface{}{})
	result.DurationMS = time.Since(start).Milliseconds()

	if err != nil {
		if isTimeout(err) {
			result.Status = StatusSuccess
			result.Message = "probe timed out, tools available"
			return result
		}
		if containsCredentialKeyword(err.Error()) {
			result.Status = StatusFailed
			result.Message = "probe rejected credentials"
			result.ErrorDetail = err.Error()
			return result
		}
		result.Status = StatusError
		result.Message = "probe call failed"
		result.ErrorDetail = err.Error()
		return result
	}

	if containsCredentialKeyword(output) {
		result.Status = StatusFailed
		result.Message = "probe output indicates dead credentials"
		result.ErrorDetail = truncate(output, 300)
		return result
	}

	result.Status = StatusSuccess
	result.Message = "probe succeeded"
	return result
}

func findTool(tools []types.ToolHandle, name string) *types.ToolHandle {
	if name == "" {
		return nil
	}
	for i := range tools {
		if tools[i].Name == name {
			return &tools[i]
		}
	}
	return nil
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "deadline exceeded") || strings.Contains(msg, "timeout")
}

func containsCredentialKeyword(text string) bool {
	lower := strings.ToLower(text)
	for _, kw := range credentialKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// Summary aggregates a result list by status.
type Summary struct {
	Total   int `json:"total"`
	Success int `json:"success"`
	Failed  int `json:"failed"`
	Skipped int `json:"skipped"`
	Errors  int `json:"errors"`
}

// Summarize counts results by status.
func Summarize(results []Result) Summary {
	s := Summary{Total: len(results)}
	for _, r := range results {
		switch r.Status {
		case StatusSuccess:
			s.Success++
		case StatusFailed:
			s.Failed++
		case StatusSkipped:
			s.Skipped++
		case StatusError:
			s.Errors++
		}
	}
	return s
}
