package mcp

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	sdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/nvandessel/tracegraph/internal/engine"
	"github.com/nvandessel/tracegraph/internal/logging"
	"github.com/nvandessel/tracegraph/internal/ratelimit"
)

// Server wraps the MCP SDK server around a tracegraph engine.
type Server struct {
	server       *sdk.Server
	engine       *engine.Engine
	root         string
	logger       *slog.Logger
	auditLogger  *AuditLogger
	toolLimiters ratelimit.ToolLimiters
}

// Config holds server configuration.
type Config struct {
	Name    string // Server name (e.g., "tracegraph")
	Version string // Server version
	Root    string // Project root directory; the audit log lives below it

	// Engine serves every tool. The caller owns its store.
	Engine *engine.Engine
	Logger *slog.Logger

	// RatePerMinute and Burst size the per-tool limiters. A rate of zero
	// disables limiting.
	RatePerMinute int
	Burst         int
}

// NewServer creates a new MCP server with tracegraph tools.
func NewServer(cfg *Config) (*Server, error) {
	if cfg.Engine == nil {
		return nil, fmt.Errorf("mcp server requires an engine")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Discard()
	}

	mcpServer := sdk.NewServer(&sdk.Implementation{
		Name:    cfg.Name,
		Version: cfg.Version,
	}, &sdk.ServerOptions{
		InitializedHandler: func(ctx context.Context, req *sdk.InitializedRequest) {
			logger.Debug("mcp client initialized")
		},
	})

	s := &Server{
		server:       mcpServer,
		engine:       cfg.Engine,
		root:         cfg.Root,
		logger:       logger,
		auditLogger:  NewAuditLogger(cfg.Root),
		toolLimiters: ratelimit.NewToolLimiters(cfg.RatePerMinute, cfg.Burst),
	}

	s.registerTools()
	s.registerResources()

	return s, nil
}

// Run serves over stdio until the client disconnects, the context is
// cancelled, or the process receives an interrupt.
func (s *Server) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	notifySignals(sigChan)
	go func() {
		select {
		case <-sigChan:
			s.logger.Info("mcp server shutting down on signal")
			cancel()
		case <-ctx.Done():
		}
	}()

	s.logger.Info("mcp server listening on stdio", "audit_log", s.auditLogger.Path())
	err := s.server.Run(ctx, &sdk.StdioTransport{})
	s.Close()
	return err
}

// Close releases the audit log. The engine's store is left open.
func (s *Server) Close() error {
	return s.auditLogger.Close()
}
