package mcp

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"

	sdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/nvandessel/cozmo-brain/internal/assembly"
	"github.com/nvandessel/cozmo-brain/internal/ratelimit"
	"github.com/nvandessel/cozmo-brain/internal/telemetry"
)

// Server wraps the MCP SDK server and exposes a running brain as tools.
type Server struct {
	server       *sdk.Server
	brain        *assembly.Brain
	journal      telemetry.Journal
	toolLimiters ratelimit.ToolLimiters
	auditLogger  *AuditLogger
	log          *slog.Logger
}

// Config holds server configuration.
type Config struct {
	Name    string // Server name (e.g., "cozmo-brain")
	Version string // Server version

	// Brain is required. The server never ticks or closes it.
	Brain *assembly.Brain

	// Journal backs brain_history. Without one the tool reports an error.
	Journal telemetry.Journal

	// AuditDir receives audit.jsonl. Empty disables auditing.
	AuditDir string

	Logger *slog.Logger
}

// NewServer creates a new MCP server with the brain tools registered.
func NewServer(cfg *Config) (*Server, error) {
	if cfg == nil || cfg.Brain == nil {
		return nil, errors.New("mcp server needs a brain")
	}
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}

	mcpServer := sdk.NewServer(&sdk.Implementation{
		Name:    cfg.Name,
		Version: cfg.Version,
	}, &sdk.ServerOptions{
		InitializedHandler: func(ctx context.Context, req *sdk.InitializedRequest) {
			log.Debug("mcp client initialized")
		},
	})

	s := &Server{
		server:       mcpServer,
		brain:        cfg.Brain,
		journal:      cfg.Journal,
		toolLimiters: ratelimit.NewToolLimiters(cfg.Brain.Clock),
		log:          log.With("component", "mcp"),
	}
	if cfg.AuditDir != "" {
		s.auditLogger = NewAuditLogger(cfg.AuditDir, s.log)
	}

	s.registerTools()
	s.registerResources()
	return s, nil
}

// Run serves MCP over stdio. It blocks until the client disconnects, the
// context is cancelled or the process is signalled.
func (s *Server) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	notifySignals(sigChan)
	defer signal.Stop(sigChan)
	go func() {
		select {
		case <-sigChan:
			cancel()
		case <-ctx.Done():
		}
	}()

	s.log.Info("mcp server listening on stdio")
	err := s.server.Run(ctx, &sdk.StdioTransport{})
	if errors.Is(err, context.Canceled) {
		err = nil
	}
	return err
}

// Close releases the audit log. Safe to call more than once.
func (s *Server) Close() error {
	return s.auditLogger.Close()
}
