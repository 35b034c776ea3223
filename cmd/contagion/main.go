package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/nvandessel/contagion/internal/config"
	"github.com/nvandessel/contagion/internal/logging"
	"github.com/nvandessel/contagion/internal/pathutil"
	"github.com/nvandessel/contagion/internal/store"
	"github.com/spf13/cobra"
)

var (
	version = "0.1.0-dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	notifySignals(sigCh)
	go func() {
		<-sigCh
		cancel()
	}()

	err := newRootCmd().ExecuteContext(ctx)
	cancel()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "contagion",
		Short: "Cross-session contamination engine",
		Long: `contagion propagates a decaying intensity signal between otherwise isolated
sessions through a shared 3-D diffusion field.

Sessions register gateways, inject telemetry, and receive effects chosen by
the vector catalogue and mutation engine. The engine can be served to other
processes over MCP or driven offline by the simulate command.`,
		SilenceUsage: true,
	}

	// Global flags
	rootCmd.PersistentFlags().Bool("json", false, "Output as JSON")
	rootCmd.PersistentFlags().String("config", "", "Config file (default ~/.contagion/config.yaml)")
	rootCmd.PersistentFlags().String("log-level", "", "Log level: info, debug or trace (overrides config)")

	rootCmd.AddCommand(
		newVersionCmd(),
		newSimulateCmd(),
		newServeCmd(),
		newJournalCmd(),
		newConfigCmd(),
	)
	return rootCmd
}

// loadConfig resolves configuration for a command: defaults, then the
// --config file or ~/.contagion/config.yaml, then CONTAGION_* variables,
// then --log-level.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")

	var cfg *config.Config
	var err error
	if path != "" {
		cfg, err = config.LoadFromFile(path)
		if err == nil {
			err = config.ApplyEnv(cfg)
		}
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	if level, _ := cmd.Flags().GetString("log-level"); level != "" {
		cfg.Logging.Level = level
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// configPath returns the file config set and get operate on.
func configPath(cmd *cobra.Command) (string, error) {
	if path, _ := cmd.Flags().GetString("config"); path != "" {
		return path, nil
	}
	return config.DefaultPath()
}

func newLogger(cfg *config.Config, w io.Writer) *slog.Logger {
	return logging.NewLogger(cfg.Logging.Level, w)
}

// journalPath returns the configured journal location.
func journalPath(cfg *config.Config) (string, error) {
	if cfg.Journal.Path != "" {
		return cfg.Journal.Path, nil
	}
	return store.DefaultJournalPath()
}

func openJournal(cfg *config.Config) (*store.SQLiteJournal, error) {
	path, err := journalPath(cfg)
	if err != nil {
		return nil, err
	}
	j, err := store.OpenSQLiteJournal(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open journal %s: %w", pathutil.RedactPath(path), err)
	}
	return j, nil
}
