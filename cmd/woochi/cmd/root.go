// Package cmd provides the CLI commands for woochi.
package cmd

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/woochi/internal/config"
	woerrors "github.com/Aman-CERP/woochi/internal/errors"
	"github.com/Aman-CERP/woochi/internal/logging"
	"github.com/Aman-CERP/woochi/internal/profiling"
	"github.com/Aman-CERP/woochi/pkg/version"
	"github.com/Aman-CERP/woochi/pkg/woochi"
)

// Persistent flags
var (
	configDir      string
	debugMode      bool
	loggingCleanup func()

	profileOpts profiling.Options
	profiler    *profiling.Session
)

// NewRootCmd creates the root command for the woochi CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "woochi",
		Short: "Hybrid BM25 + vector retrieval engine",
		Long: `woochi answers free-text queries with passages from pre-indexed
collections, fusing BM25 lexical scores and dense-vector cosine scores.

Collections are filled with 'woochi ingest' and queried with 'woochi search'.
Use a durable storage backend (sqlite or badger) so collections survive
between invocations.`,
		Version:       version.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.SetVersionTemplate("woochi version {{.Version}}\n")

	cmd.PersistentFlags().StringVar(&configDir, "config-dir", ".", "Directory holding .woochi.yaml or .woochi.toml")
	cmd.PersistentFlags().BoolVar(&debugMode, "debug", false, "Enable debug logging to ~/.woochi/logs/")

	cmd.PersistentFlags().StringVar(&profileOpts.CPU, "profile-cpu", "", "Write CPU profile to file")
	cmd.PersistentFlags().StringVar(&profileOpts.Heap, "profile-mem", "", "Write memory profile to file")
	cmd.PersistentFlags().StringVar(&profileOpts.Trace, "profile-trace", "", "Write execution trace to file")

	cmd.PersistentPreRunE = startProfilingAndLogging
	cmd.PersistentPostRunE = stopProfilingAndLogging

	cmd.AddCommand(newIngestCmd())
	cmd.AddCommand(newSearchCmd())
	cmd.AddCommand(newCollectionsCmd())
	cmd.AddCommand(newDropCmd())
	cmd.AddCommand(newCheckCmd())
	cmd.AddCommand(newLogsCmd())
	cmd.AddCommand(newConfigCmd())
	cmd.AddCommand(newVersionCmd())

	return cmd
}

func startProfilingAndLogging(_ *cobra.Command, _ []string) error {
	if debugMode {
		logger, cleanup, err := logging.Setup(logging.DebugConfig())
		if err != nil {
			return fmt.Errorf("failed to setup debug logging: %w", err)
		}
		loggingCleanup = cleanup
		slog.SetDefault(logger)
		slog.Info("Debug logging enabled",
			slog.String("log_file", logging.DefaultLogPath()),
			slog.String("version", version.Version))
	}

	if profileOpts.Enabled() {
		s, err := profiling.Start(profileOpts)
		if err != nil {
			return err
		}
		profiler = s
	}
	return nil
}

func stopProfilingAndLogging(_ *cobra.Command, _ []string) error {
	err := profiler.Stop()
	profiler = nil

	if loggingCleanup != nil {
		slog.Info("Debug logging stopped")
		loggingCleanup()
		loggingCleanup = nil
	}
	return err
}

// Process exit codes.
const (
	ExitOK    = 0
	ExitError = 1
	// ExitFatal marks errors with fatal severity, such as diverged indexes.
	ExitFatal = 2
)

// Execute runs the root command, reports any error on stderr and returns
// the process exit code.
func Execute() int {
	return run(NewRootCmd(), os.Stderr)
}

func run(root *cobra.Command, stderr io.Writer) int {
	executed, err := root.ExecuteC()
	if err == nil {
		return ExitOK
	}
	reportError(stderr, executed, err)
	if woerrors.IsFatal(err) {
		return ExitFatal
	}
	return ExitError
}

// reportError writes err as a JSON document when the failing command ran
// with --json, and as CLI text otherwise.
func reportError(w io.Writer, c *cobra.Command, err error) {
	if c != nil && jsonRequested(c) {
		if data, jerr := woerrors.FormatJSON(err); jerr == nil {
			_, _ = fmt.Fprintln(w, string(data))
			return
		}
	}
	_, _ = fmt.Fprint(w, woerrors.FormatForCLI(err))
}

func jsonRequested(c *cobra.Command) bool {
	f := c.Flags().Lookup("json")
	return f != nil && f.Value.String() == "true"
}

// openEngine loads configuration from --config-dir and opens an engine.
// The returned cleanup closes the engine and any log file it opened.
func openEngine(ctx context.Context) (*woochi.Engine, func(), error) {
	cfg, err := config.Load(configDir)
	if err != nil {
		return nil, nil, err
	}

	logger, logCleanup, err := engineLogger(cfg.Logging)
	if err != nil {
		return nil, nil, err
	}

	engine, err := woochi.Open(ctx, cfg, woochi.WithLogger(logger))
	if err != nil {
		logCleanup()
		return nil, nil, err
	}
	return engine, func() {
		_ = engine.Close()
		logCleanup()
	}, nil
}

// engineLogger picks the engine's logger: the debug logger under --debug,
// the configured file or stderr otherwise, or nothing when neither is set.
func engineLogger(lc config.LoggingConfig) (*slog.Logger, func(), error) {
	if debugMode {
		return slog.Default(), func() {}, nil
	}
	if lc.File == "" && !lc.Stderr {
		return logging.Discard(), func() {}, nil
	}
	return logging.Setup(logging.Config{
		Level:         lc.Level,
		FilePath:      lc.File,
		MaxSizeMB:     lc.MaxSizeMB,
		MaxFiles:      lc.MaxFiles,
		WriteToStderr: lc.Stderr,
	})
}
