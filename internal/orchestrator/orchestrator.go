// Package orchestrator runs the connection lifecycle pipeline: refresh
// stored tokens, negotiate transports, validate the resulting tool
// surface and hand the survivors to the caller behind one client.
package orchestrator

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/Satoappco/SatoApp-sub002/internal/config"
	"github.com/Satoappco/SatoApp-sub002/internal/health"
	"github.com/Satoappco/SatoApp-sub002/internal/oauth"
	"github.com/Satoappco/SatoApp-sub002/internal/observability"
	"github.com/Satoappco/SatoApp-sub002/internal/platform"
	"github.com/Satoappco/SatoApp-sub002/internal/upstream"
	"github.com/Satoappco/SatoApp-sub002/internal/upstream/types"
	"github.com/Satoappco/SatoApp-sub002/internal/validate"
)

// Orchestrator wires the pipeline stages together. One orchestrator
// serves many runs; all run state lives in the working set.
type Orchestrator struct {
	cfg       *config.Config
	refresher *oauth.Refresher
	negotiate *upstream.Negotiator
	validator *validate.Validator
	recorder  *health.Recorder
	metrics   *observability.MetricsManager
	logger    *zap.Logger
}

// New creates an orchestrator. metrics may be nil.
func New(cfg *config.Config, refresher *oauth.Refresher, negotiate *upstream.Negotiator, validator *validate.Validator, recorder *health.Recorder, metrics *observability.MetricsManager, logger *zap.Logger) *Orchestrator {
	return &Orchestrator{
		cfg:       cfg,
		refresher: refresher,
		negotiate: negotiate,
		validator: validator,
		recorder:  recorder,
		metrics:   metrics,
		logger:    logger,
	}
}

// Initialize runs the full pipeline for one campaigner and the named
// platforms. It returns the unified client over the surviving
// platforms, one validation result per requested platform (removed
// platforms included, so the caller can see why each one is absent)
// and whether a usable client was produced.
//
// The credential bundle is consumed: entries for removed platforms are
// deleted and surviving entries may carry refreshed tokens. Callers
// must not reuse the bundle for another run.
func (o *Orchestrator) Initialize(ctx context.Context, campaignerID string, platformNames []string, creds platform.Bundle, mode types.TransportMode) (*upstream.UnifiedClient, []validate.Result, bool) {
	requested, err := platform.Expand(platformNames)
	if err != nil {
		o.logger.Error("Cannot resolve requested platforms",
			zap.Strings("platforms", platformNames),
			zap.Error(err))
		o.recordRun("failed", 0, 0)
		return nil, nil, false
	}

	ws := platform.NewWorkingSet(requested)
	total := ws.Len()
	o.logger.Info("Starting connection initialization",
		zap.String("campaigner_id", campaignerID),
		zap.Int("platforms", total),
		zap.String("transport_mode", mode.String()))

	// Stage 1: token refresh.
	if o.cfg.EnableTokenRefresh {
		sizeBefore := ws.Len()
		ws = o.refresher.RefreshAll(ctx, campaignerID, ws, creds)
		if ws.Len() < sizeBefore {
			o.logger.Warn("Token refresh removed platforms",
				zap.Int("before", sizeBefore),
				zap.Int("after", ws.Len()))
		}
		if ws.IsEmpty() {
			o.logger.Error("All platforms removed during token refresh",
				zap.String("campaigner_id", campaignerID))
			o.recordRun("failed", total, 0)
			return nil, removalResults(ws), false
		}
	}

	// Stage 2: transport negotiation.
	client, ws, err := o.negotiate.Connect(ctx, ws, creds, mode)
	if err != nil {
		o.logger.Error("Transport negotiation failed",
			zap.String("campaigner_id", campaignerID),
			zap.Error(err))
		o.recordRun("failed", total, 0)
		return nil, removalResults(ws), false
	}

	// Stage 3: validation.
	var results []validate.Result
	if o.cfg.EnableValidation {
		results = o.validator.ValidateAll(ctx, client, creds.ConnectionIDs())
		o.recordValidationOutcomes(results)

		reasons, indeterminate := removalsFromResults(results)
		sizeBefore := ws.Len()
		if indeterminate {
			// A failing result that cannot be pinned to a platform
			// taints the entire set.
			o.logger.Error("Validation result with unresolvable platform, removing all platforms")
			ws = ws.Clear("validate", "validation result could not be attributed to a platform")
		} else {
			ws = ws.Without("validate", reasons)
		}

		if ws.Len() < sizeBefore {
			client.Close(ctx)
			for _, r := range ws.Removals() {
				if r.Stage == "validate" {
					creds.Remove(r.Platform)
				}
			}
			if ws.IsEmpty() {
				o.logger.Error("All platforms removed during validation",
					zap.String("campaigner_id", campaignerID))
				o.recordRun("failed", total, 0)
				return nil, results, false
			}

			// A platform that failed validation must not ride along in
			// the final client just because its session was open.
			o.logger.Info("Re-negotiating transports for reduced platform set",
				zap.Int("platforms", ws.Len()))
			client, ws, err = o.negotiate.Connect(ctx, ws, creds, mode)
			if err != nil {
				o.logger.Error("Transport re-negotiation failed",
					zap.String("campaigner_id", campaignerID),
					zap.Error(err))
				o.recordRun("failed", total, 0)
				return nil, results, false
			}
		}
	} else {
		for _, p := range ws.Platforms() {
			results = append(results, validate.Result{
				Server:   p.String(),
				Platform: p,
				Status:   validate.StatusSkipped,
				Message:  "validation disabled",
			})
		}
	}

	results = append(results, removalResults(ws)...)

	o.logger.Info("Connection initialization complete",
		zap.String("campaigner_id", campaignerID),
		zap.Int("requested", total),
		zap.Int("connected", ws.Len()),
		zap.String("transport_mode", client.Mode().String()))
	o.recordRun("ok", total, ws.Len())
	o.recordQuarantines(ws)
	return client, results, true
}

// recordValidationOutcomes is stage 4: every validation result is
// written back to the connection record. Success stamps the validation
// timestamps, failed and errored results increment the failure counter.
// A failure whose text points at a revoked or expired credential also
// flags the connection for re-authentication.
func (o *Orchestrator) recordValidationOutcomes(results []validate.Result) {
	for _, r := range results {
		if o.metrics != nil && r.Platform != "" {
			o.metrics.RecordValidation(r.Platform.String(), string(r.Status), time.Duration(r.DurationMS)*time.Millisecond)
		}
		if r.ConnectionID == "" {
			continue
		}
		switch r.Status {
		case validate.StatusSuccess:
			o.recorder.RecordSuccess(r.ConnectionID, false)
		case validate.StatusFailed, validate.StatusError:
			reason := "validation_failed: " + r.Message
			if r.ErrorDetail != "" {
				reason += ": " + r.ErrorDetail
			}
			o.recorder.RecordFailure(r.ConnectionID, reason, r.IndicatesRevocation())
		}
	}
}

// removalsFromResults translates non-success validation results into
// working-set removals. The second return is true when a non-success
// result carries no platform, meaning the offender cannot be isolated.
func removalsFromResults(results []validate.Result) (map[platform.Platform]string, bool) {
	reasons := make(map[platform.Platform]string)
	for _, r := range results {
		if r.Status == validate.StatusSuccess || r.Status == validate.StatusSkipped {
			continue
		}
		if r.Platform == "" {
			return nil, true
		}
		reason := r.Message
		if r.ErrorDetail != "" {
			reason = r.Message + ": " + r.ErrorDetail
		}
		reasons[r.Platform] = reason
	}
	return reasons, false
}

// removalResults converts refresh and transport stage removals into
// result entries so callers see why a platform is absent, not just
// that it is.
func removalResults(ws *platform.WorkingSet) []validate.Result {
	var out []validate.Result
	for _, r := range ws.Removals() {
		if r.Stage == "validate" {
			// Already present as a real validation result.
			continue
		}
		status := validate.StatusFailed
		if r.Stage == "transport" {
			status = validate.StatusError
		}
		out = append(out, validate.Result{
			Server:   r.Platform.String(),
			Platform: r.Platform,
			Status:   status,
			Message:  r.Reason,
		})
	}
	return out
}

func (o *Orchestrator) recordRun(outcome string, requested, connected int) {
	if o.metrics != nil {
		o.metrics.RecordInitRun(outcome, requested, connected)
	}
}

func (o *Orchestrator) recordQuarantines(ws *platform.WorkingSet) {
	if o.metrics == nil {
		return
	}
	for _, r := range ws.Removals() {
		o.metrics.RecordQuarantine(r.Stage)
	}
}
