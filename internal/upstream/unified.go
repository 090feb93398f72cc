package upstream

import (
	"context"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/Satoappco/SatoApp-sub002/internal/platform"
	"github.com/Satoappco/SatoApp-sub002/internal/upstream/httpsession"
	"github.com/Satoappco/SatoApp-sub002/internal/upstream/stdio"
	"github.com/Satoappco/SatoApp-sub002/internal/upstream/types"
)

// UnifiedClient is the single surface callers use regardless of which
// transport the negotiation landed on. Tool handles returned by
// ListTools carry the routing information CallTool needs.
type UnifiedClient struct {
	mode types.TransportMode
	http map[platform.Platform]*httpsession.SessionClient
	proc *stdio.MultiClient

	logger *zap.Logger
}

func newHTTPUnifiedClient(sessions map[platform.Platform]*httpsession.SessionClient, logger *zap.Logger) *UnifiedClient {
	return &UnifiedClient{mode: types.ModeHTTP, http: sessions, logger: logger}
}

func newStdioUnifiedClient(multi *stdio.MultiClient, logger *zap.Logger) *UnifiedClient {
	return &UnifiedClient{mode: types.ModeStdio, proc: multi, logger: logger}
}

// Mode reports which transport the client is backed by.
func (u *UnifiedClient) Mode() types.TransportMode { return u.mode }

// Platforms returns the connected platforms in stable order.
func (u *UnifiedClient) Platforms() []platform.Platform {
	if u.mode == types.ModeStdio {
		return u.proc.Platforms()
	}
	out := make([]platform.Platform, 0, len(u.http))
	for p := range u.http {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// ListTools returns every connected platform's tools as
// transport-agnostic handles.
func (u *UnifiedClient) ListTools(ctx context.Context) ([]types.ToolHandle, error) {
	var handles []types.ToolHandle

	for _, p := range u.Platforms() {
		tools, err := u.ListPlatformTools(ctx, p)
		if err != nil {
			return nil, err
		}
		handles = append(handles, tools...)
	}
	return handles, nil
}

// ListPlatformTools returns one platform's tools as handles.
func (u *UnifiedClient) ListPlatformTools(ctx context.Context, p platform.Platform) ([]types.ToolHandle, error) {
	var (
		tools  []types.ToolInfo
		server string
		sid    string
		base   string
		err    error
	)

	if u.mode == types.ModeStdio {
		server = p.String() + "-stdio"
		tools, err = u.proc.ListTools(ctx, p)
	} else {
		session, ok := u.http[p]
		if !ok {
			return nil, fmt.Errorf("no session for platform %s", p)
		}
		server = p.String() + "-http"
		sid = session.SessionID()
		base = session.BaseURL()
		tools, err = session.ListTools(ctx)
	}
	if err != nil {
		return nil, err
	}

	handles := make([]types.ToolHandle, 0, len(tools))
	for _, t := range tools {
		handles = append(handles, types.ToolHandle{
			Platform:    p,
			Server:      server,
			Name:        t.Name,
			Description: t.Description,
			SessionID:   sid,
			BaseURL:     base,
		})
	}
	return handles, nil
}

// CallTool invokes a tool through whichever transport owns it and
// returns the collapsed text output.
func (u *UnifiedClient) CallTool(ctx context.Context, handle types.ToolHandle, args map[string]interface{}) (string, error) {
	if u.mode == types.ModeStdio {
		return u.proc.CallTool(ctx, handle.Platform, handle.Name, args)
	}
	session, ok := u.http[handle.Platform]
	if !ok {
		return "", fmt.Errorf("no session for platform %s", handle.Platform)
	}
	return session.CallTool(ctx, handle.Name, args)
}

// Close tears down every transport session. Errors are logged, not
// returned; by the time Close runs the run's outcome is already
// decided.
func (u *UnifiedClient) Close(ctx context.Context) {
	if u.mode == types.ModeStdio {
		u.proc.Close()
		return
	}
	for p, session := range u.http {
		if err := session.Close(ctx); err != nil {
			u.logger.Warn("Error closing HTTP session",
				zap.String("platform", p.String()),
				zap.Error(err))
		}
	}
}
