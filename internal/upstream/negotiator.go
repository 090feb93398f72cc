package upstream

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/Satoappco/SatoApp-sub002/internal/config"
	"github.com/Satoappco/SatoApp-sub002/internal/platform"
	"github.com/Satoappco/SatoApp-sub002/internal/upstream/httpsession"
	"github.com/Satoappco/SatoApp-sub002/internal/upstream/stdio"
	"github.com/Satoappco/SatoApp-sub002/internal/upstream/types"
)

const transportStage = "transport"

// Negotiator builds transport clients for a working set of platforms
// according to the configured transport mode.
type Negotiator struct {
	cfg    *config.Config
	logger *zap.Logger
}

// NewNegotiator creates a negotiator.
func NewNegotiator(cfg *config.Config, logger *zap.Logger) *Negotiator {
	return &Negotiator{cfg: cfg, logger: logger}
}

// Connect negotiates transports for every platform in the working set
// and returns the unified client plus the possibly shrunk set.
//
// In HTTP mode each platform that fails to initialize is removed from
// the set; only a total failure fails the negotiation. In stdio mode
// any failure fails the whole negotiation. Auto tries HTTP first and
// falls back to stdio only when HTTP produced no session at all.
func (n *Negotiator) Connect(ctx context.Context, ws *platform.WorkingSet, creds platform.Bundle, mode types.TransportMode) (*UnifiedClient, *platform.WorkingSet, error) {
	switch mode {
	case types.ModeHTTP:
		return n.connectHTTP(ctx, ws, creds)

	case types.ModeStdio:
		client, err := n.connectStdio(ctx, ws, creds)
		if err != nil {
			return nil, ws, err
		}
		return client, ws, nil

	case types.ModeAuto:
		client, next, err := n.connectHTTP(ctx, ws, creds)
		if err == nil {
			return client, next, nil
		}
		n.logger.Warn("HTTP transport unavailable for all platforms, falling back to stdio",
			zap.Error(err))
		client, err = n.connectStdio(ctx, ws, creds)
		if err != nil {
			return nil, ws, err
		}
		return client, ws, nil

	default:
		return nil, ws, fmt.Errorf("unknown transport mode %q", mode)
	}
}

// connectHTTP initializes one microservice session per platform.
// Failed platforms are removed; total failure is an error.
func (n *Negotiator) connectHTTP(ctx context.Context, ws *platform.WorkingSet, creds platform.Bundle) (*UnifiedClient, *platform.WorkingSet, error) {
	platforms := ws.Platforms()

	type initOutcome struct {
		session *httpsession.SessionClient
		err     error
	}
	outcomes := make([]initOutcome, len(platforms))

	// Sessions initialize concurrently, one goroutine per platform
	// writing its own slot. Removals are applied in one batch after.
	var wg sync.WaitGroup
	for i, p := range platforms {
		wg.Add(1)
		go func(i int, p platform.Platform) {
			defer wg.Done()
			session, err := n.initHTTPSession(ctx, p, creds.Get(p))
			outcomes[i] = initOutcome{session: session, err: err}
		}(i, p)
	}
	wg.Wait()

	sessions := make(map[platform.Platform]*httpsession.SessionClient)
	reasons := make(map[platform.Platform]string)
	for i, p := range platforms {
		if outcomes[i].err != nil {
			n.logger.Warn("HTTP transport init failed for platform",
				zap.String("platform", p.String()),
				zap.Error(outcomes[i].err))
			reasons[p] = "transport_init_failed: " + outcomes[i].err.Error()
			continue
		}
		sessions[p] = outcomes[i].session
	}

	if len(sessions) == 0 {
		return nil, ws, fmt.Errorf("http transport init failed for all %d platforms", ws.Len())
	}

	next := ws.Without(transportStage, reasons)
	for p := range reasons {
		creds.Remove(p)
	}
	return newHTTPUnifiedClient(sessions, n.logger), next, nil
}

func (n *Negotiator) initHTTPSession(ctx context.Context, p platform.Platform, c *platform.Credentials) (*httpsession.SessionClient, error) {
	pc, ok := n.cfg.Platforms[p.String()]
	if !ok || pc == nil || pc.BaseURL == "" {
		return nil, fmt.Errorf("no microservice base URL configured for %s", p)
	}

	payload, err := initializePayload(n.cfg, p, c)
	if err != nil {
		return nil, err
	}

	session := httpsession.NewSessionClient(p, pc.BaseURL, n.logger)
	if err := session.Initialize(ctx, payload); err != nil {
		return nil, err
	}
	return session, nil
}

// connectStdio spawns one subprocess server per platform. All or
// nothing.
func (n *Negotiator) connectStdio(ctx context.Context, ws *platform.WorkingSet, creds platform.Bundle) (*UnifiedClient, error) {
	params := make([]stdio.ServerParams, 0, ws.Len())
	for _, p := range ws.Platforms() {
		sp, err := buildServerParams(n.cfg, p, creds.Get(p))
		if err != nil {
			return nil, fmt.Errorf("stdio transport setup failed: %w", err)
		}
		params = append(params, sp)
	}

	multi := stdio.NewMultiClient(params, n.logger)
	if err := multi.Start(ctx); err != nil {
		return nil, err
	}
	return newStdioUnifiedClient(multi, n.logger), nil
}
