// Package mcp provides an MCP (Model Context Protocol) server that exposes
// the propagation engine to out-of-process sessions.
package mcp

import (
	"context"
	"errors"
	"log/slog"

	sdk "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/nvandessel/contagion/internal/logging"
	"github.com/nvandessel/contagion/internal/propagation"
	"github.com/nvandessel/contagion/internal/ratelimit"
)

// Server wraps the MCP SDK server around a propagation engine.
type Server struct {
	server       *sdk.Server
	engine       *propagation.Engine
	toolLimiters ratelimit.ToolLimiters
	auditLogger  *AuditLogger
	logger       *slog.Logger
}

// Config holds server configuration.
type Config struct {
	Name    string // Server name (e.g., "contagion")
	Version string // Server version

	// Engine serves every tool call. Required.
	Engine *propagation.Engine

	// AuditDir receives audit.jsonl. Empty disables auditing.
	AuditDir string

	Logger *slog.Logger
}

// NewServer creates a new MCP server with the contagion tools.
func NewServer(cfg *Config) (*Server, error) {
	if cfg == nil || cfg.Engine == nil {
		return nil, errors.New("mcp server requires an engine")
	}

	mcpServer := sdk.NewServer(&sdk.Implementation{
		Name:    cfg.Name,
		Version: cfg.Version,
	}, nil)

	s := &Server{
		server:       mcpServer,
		engine:       cfg.Engine,
		toolLimiters: ratelimit.NewToolLimiters(),
		logger:       logging.Component(cfg.Logger, "mcp"),
	}
	if cfg.AuditDir != "" {
		s.auditLogger = NewAuditLogger(cfg.AuditDir)
	}

	s.registerTools()
	s.registerResources()
	return s, nil
}

// Run starts the MCP server over stdio transport.
// This blocks until the client disconnects or the context is cancelled.
func (s *Server) Run(ctx context.Context) error {
	s.logger.Info("mcp server listening on stdio")
	err := s.server.Run(ctx, &sdk.StdioTransport{})
	if errors.Is(err, context.Canceled) {
		err = nil
	}
	return err
}

// Close releases the audit log.
func (s *Server) Close() error {
	return s.auditLogger.Close()
}
