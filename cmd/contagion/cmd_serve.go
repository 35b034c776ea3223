package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/nvandessel/contagion/internal/config"
	"github.com/nvandessel/contagion/internal/logging"
	"github.com/nvandessel/contagion/internal/mcp"
	"github.com/nvandessel/contagion/internal/pathutil"
	"github.com/nvandessel/contagion/internal/propagation"
	"github.com/nvandessel/contagion/internal/store"
	"github.com/spf13/cobra"
)

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the engine tick loop and the MCP stdio server",
		Long: `Start the propagation engine and expose it over MCP on stdin/stdout.

Sessions in other processes call contagion_register, contagion_inject,
contagion_deregister, contagion_diagnostics and contagion_effects. Logs go to
stderr; stdout is reserved for the protocol.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			noAudit, _ := cmd.Flags().GetBool("no-audit")

			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			logger := newLogger(cfg, os.Stderr)

			dataDir, err := store.DataDir()
			if err != nil {
				return err
			}

			engine, closeEngine, err := buildEngine(cfg, dataDir)
			if err != nil {
				return err
			}
			defer closeEngine()

			auditDir := dataDir
			if noAudit {
				auditDir = ""
			}
			server, err := mcp.NewServer(&mcp.Config{
				Name:     "contagion",
				Version:  version,
				Engine:   engine,
				AuditDir: auditDir,
				Logger:   logger,
			})
			if err != nil {
				return fmt.Errorf("failed to create MCP server: %w", err)
			}
			defer server.Close()

			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()

			engineErr := make(chan error, 1)
			go func() {
				engineErr <- engine.Run(ctx)
			}()

			serveErr := server.Run(ctx)
			cancel()
			if err := <-engineErr; err != nil {
				return fmt.Errorf("engine stopped: %w", err)
			}
			if serveErr != nil && !errors.Is(serveErr, context.Canceled) {
				return fmt.Errorf("mcp server: %w", serveErr)
			}
			return nil
		},
	}

	cmd.Flags().Bool("no-audit", false, "Do not write ~/.contagion/audit.jsonl")
	return cmd
}

// buildEngine constructs an engine from cfg with logging, decision tracing
// and, when enabled, the SQLite journal. The returned func releases them.
func buildEngine(cfg *config.Config, dataDir string) (*propagation.Engine, func(), error) {
	logger := newLogger(cfg, os.Stderr)
	decisions := logging.NewDecisionLogger(dataDir, cfg.Logging.Level)

	opts := cfg.Options()
	opts.Logger = logger
	opts.Decisions = decisions

	var journal *store.SQLiteJournal
	if cfg.Journal.Enabled {
		j, err := openJournal(cfg)
		if err != nil {
			decisions.Close()
			return nil, nil, err
		}
		journal = j
		opts.Journal = j
		logger.Info("journal enabled", "path", pathutil.RedactPath(j.Path()))
	}

	engine, err := propagation.New(opts)
	if err != nil {
		decisions.Close()
		if journal != nil {
			journal.Close()
		}
		return nil, nil, fmt.Errorf("failed to create engine: %w", err)
	}

	return engine, func() {
		if journal != nil {
			journal.Close()
		}
		decisions.Close()
	}, nil
}
