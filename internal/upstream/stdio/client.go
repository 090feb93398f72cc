// Package stdio runs per-platform subprocess servers over the MCP
// stdio transport and exposes list/call across all of them.
package stdio

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"sort"
	"time"

	"github.com/mark3labs/mcp-go/client"
	uptransport "github.com/mark3labs/mcp-go/client/transport"
	"github.com/mark3labs/mcp-go/mcp"
	"go.uber.org/zap"

	"github.com/Satoappco/SatoApp-sub002/internal/platform"
	"github.com/Satoappco/SatoApp-sub002/internal/upstream/types"
)

const initializeTimeout = 30 * time.Second

// ServerParams describes one subprocess server to spawn.
type ServerParams struct {
	Platform   platform.Platform
	Command    string
	Args       []string
	WorkingDir string
	Env        map[string]string
}

// serverClient is one running subprocess and its MCP client.
type serverClient struct {
	params ServerParams
	client *client.Client
	cancel context.CancelFunc
}

// MultiClient manages the full set of subprocess servers for a run.
// Start is all-or-nothing: if any server fails to come up, every
// already-started server is stopped and the whole start fails.
type MultiClient struct {
	servers map[platform.Platform]*serverClient
	order   []platform.Platform
	logger  *zap.Logger
}

// NewMultiClient creates a multi-server client for the given params.
func NewMultiClient(params []ServerParams, logger *zap.Logger) *MultiClient {
	m := &MultiClient{
		servers: make(map[platform.Platform]*serverClient, len(params)),
		logger:  logger,
	}
	for _, p := range params {
		m.servers[p.Platform] = &serverClient{params: p}
		m.order = append(m.order, p.Platform)
	}
	return m
}

// Start spawns every configured subprocess and completes the MCP
// handshake with each. Any failure stops everything already running.
func (m *MultiClient) Start(ctx context.Context) error {
	for _, p := range m.order {
		if err := m.startOne(ctx, m.servers[p]); err != nil {
			m.Close()
			return fmt.Errorf("failed to start %s server: %w", p, err)
		}
	}
	return nil
}

func (m *MultiClient) startOne(ctx context.Context, sc *serverClient) error {
	env := os.Environ()
	for k, v := range sc.params.Env {
		env = append(env, k+"="+v)
	}

	commandFunc := workingDirCommandFunc(sc.params.WorkingDir)
	stdioTransport := uptransport.NewStdioWithOptions(sc.params.Command, env, sc.params.Args,
		uptransport.WithCommandFunc(commandFunc))
	c := client.NewClient(stdioTransport)

	// The subprocess must outlive the connect context; it is stopped
	// explicitly via Close.
	persistentCtx, cancel := context.WithCancel(context.Background())
	if err := c.Start(persistentCtx); err != nil {
		cancel()
		return fmt.Errorf("failed to spawn %s: %w", sc.params.Command, err)
	}

	initCtx, initCancel := context.WithTimeout(ctx, initializeTimeout)
	defer initCancel()

	initRequest := mcp.InitializeRequest{}
	initRequest.Params.ProtocolVersion = mcp.LATEST_PROTOCOL_VERSION
	initRequest.Params.ClientInfo = mcp.Implementation{
		Name:    "sato-connector",
		Version: "1.0.0",
	}
	initRequest.Params.Capabilities = mcp.ClientCapabilities{}

	serverInfo, err := c.Initialize(initCtx, initRequest)
	if err != nil {
		cancel()
		_ = c.Close()
		return fmt.Errorf("handshake failed: %w", err)
	}

	m.logger.Info("Stdio server started",
		zap.String("platform", sc.params.Platform.String()),
		zap.String("command", sc.params.Command),
		zap.String("server_name", serverInfo.ServerInfo.Name),
		zap.String("server_version", serverInfo.ServerInfo.Version))

	sc.client = c
	sc.cancel = cancel
	return nil
}

// workingDirCommandFunc builds the subprocess command with its working
// directory applied.
func workingDirCommandFunc(workingDir string) uptransport.CommandFunc {
	return func(ctx context.Context, command string, env []string, args []string) (*exec.Cmd, error) {
		cmd := exec.CommandContext(ctx, command, args...)
		cmd.Env = env
		if workingDir != "" {
			cmd.Dir = workingDir
		}
		return cmd, nil
	}
}

// Platforms returns the platforms with a running server, in start
// order.
func (m *MultiClient) Platforms() []platform.Platform {
	out := make([]platform.Platform, 0, len(m.order))
	for _, p := range m.order {
		if m.servers[p].client != nil {
			out = append(out, p)
		}
	}
	return out
}

// ListTools lists the tools of one platform's server.
func (m *MultiClient) ListTools(ctx context.Context, p platform.Platform) ([]types.ToolInfo, error) {
	sc, ok := m.servers[p]
	if !ok || sc.client == nil {
		return nil, fmt.Errorf("no running server for platform %s", p)
	}

	result, err := sc.client.ListTools(ctx, mcp.ListToolsRequest{})
	if err != nil {
		return nil, fmt.Errorf("list tools failed for %s: %w", p, err)
	}

	tools := make([]types.ToolInfo, 0, len(result.Tools))
	for _, t := range result.Tools {
		tools = append(tools, types.ToolInfo{Name: t.Name, Description: t.Description})
	}
	return tools, nil
}

// ListAllTools lists tools across every running server, keyed by
// platform. Platforms are visited in a stable order.
func (m *MultiClient) ListAllTools(ctx context.Context) (map[platform.Platform][]types.ToolInfo, error) {
	platforms := m.Platforms()
	sort.Slice(platforms, func(i, j int) bool { return platforms[i] < platforms[j] })

	out := make(map[platform.Platform][]types.ToolInfo, len(platforms))
	for _, p := range platforms {
		tools, err := m.ListTools(ctx, p)
		if err != nil {
			return nil, err
		}
		out[p] = tools
	}
	return out, nil
}

// CallTool invokes one tool on one platform's server and collapses the
// result content to a single string.
func (m *MultiClient) CallTool(ctx context.Context, p platform.Platform, toolName string, args map[string]interface{}) (string, error) {
	sc, ok := m.servers[p]
	if !ok || sc.client == nil {
		return "", fmt.Errorf("no running server for platform %s", p)
	}

	request := mcp.CallToolRequest{}
	request.Params.Name = toolName
	request.Params.Arguments = args

	result, err := sc.client.CallTool(ctx, request)
	if err != nil {
		return "", fmt.Errorf("tool %s failed on %s: %w", toolName, p, err)
	}

	text := collapseResult(result)
	if result.IsError {
		return "", fmt.Errorf("tool %s failed on %s: %s", toolName, p, text)
	}
	return text, nil
}

// collapseResult joins a tool result's content blocks into one string.
func collapseResult(result *mcp.CallToolResult) string {
	var out string
	for _, content := range result.Content {
		if text, ok := content.(mcp.TextContent); ok {
			if out != "" {
				out += "\n"
			}
			out += text.Text
		}
	}
	return out
}

// Close stops every running subprocess. Safe to call more than once.
func (m *MultiClient) Close() {
	for _, p := range m.order {
		sc := m.servers[p]
		if sc.client == nil {
			continue
		}
		if err := sc.client.Close(); err != nil {
			m.logger.Warn("Error closing stdio server",
				zap.String("platform", p.String()),
				zap.Error(err))
		}
		if sc.cancel != nil {
			sc.cancel()
		}
		sc.client = nil
		sc.cancel = nil
	}
}
