// Package cli implements sentinelctl.
package cli

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/af-corp/sentinel-gate/internal/config"
	"github.com/af-corp/sentinel-gate/internal/scan"
	"github.com/af-corp/sentinel-gate/internal/telemetry"
)

// Version is set at build time.
var Version = "dev"

var (
	configDir  string
	jsonOutput bool
	logLevel   string
)

// Package-level variables for testability.
var (
	ioIn       io.Reader = os.Stdin
	ioOut      io.Writer = os.Stdout
	ioErr      io.Writer = os.Stderr
	isTerminal           = func() bool { return term.IsTerminal(int(os.Stdout.Fd())) }
)

var rootCmd = &cobra.Command{
	Use:   "sentinelctl",
	Short: "Scan prompts and agent output from the command line",
	Long: `sentinelctl runs the Sentinel Gate detector layers locally.

Examples:
  sentinelctl scan generated.py
  cat reply.txt | sentinelctl scan - --direction output --kind text
  sentinelctl batch --input snippets.jsonl --output results.jsonl
  sentinelctl index rebuild --corpus configs/corpus.yaml`,
	SilenceUsage:      true,
	DisableAutoGenTag: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configDir, "config", "configs", "path to configuration directory")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "print JSON even on a terminal")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "warn", "log level written to stderr")
}

func Execute() error {
	return rootCmd.Execute()
}

// pretty reports whether output should be human-formatted.
func pretty() bool {
	return !jsonOutput && isTerminal()
}

func newLogger() *slog.Logger {
	return telemetry.NewLogger(ioErr, config.TelemetryConfig{LogLevel: logLevel, LogFormat: "text"})
}

// loadConfig reads the config directory, or returns defaults when it has no
// sentinel.yaml.
func loadConfig(logger *slog.Logger) (*config.Config, *config.CorpusConfig, error) {
	if _, err := os.Stat(filepath.Join(configDir, "sentinel.yaml")); errors.Is(err, fs.ErrNotExist) {
		logger.Debug("no sentinel.yaml, using defaults", "dir", configDir)
		return config.DefaultConfig(), &config.CorpusConfig{}, nil
	}
	loader := config.NewLoader(configDir, logger)
	if err := loader.Load(); err != nil {
		return nil, nil, err
	}
	return loader.Config(), loader.Corpus(), nil
}

// buildStack wires the scan layers from config. The caller closes it.
func buildStack(logger *slog.Logger) (*scan.Stack, *config.Config, error) {
	cfg, corpus, err := loadConfig(logger)
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	stack, err := scan.Build(
		func() *config.Config { return cfg },
		func() *config.CorpusConfig { return corpus },
		nil, logger,
	)
	if err != nil {
		return nil, nil, fmt.Errorf("build scan layers: %w", err)
	}
	return stack, cfg, nil
}
