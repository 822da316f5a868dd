package root

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/evagent/evagent/pkg/config"
)

type rootFlags struct {
	configPath string
	debug      bool
	logFormat  string
}

// RunFailedError is returned by the run command when at least one worker
// kind ended invalid.
type RunFailedError struct {
	RunID  string
	Failed []string
}

func (e *RunFailedError) Error() string {
	return fmt.Sprintf("run %s finished with final_status 0 (invalid: %v)", e.RunID, e.Failed)
}

// NewRootCmd builds the evagent command tree.
func NewRootCmd() *cobra.Command {
	var flags rootFlags

	cmd := &cobra.Command{
		Use:   "evagent",
		Short: "EV market analysis supervisor",
		Long:  "evagent gathers technology, supply chain, market and ESG data for EV makers, validates it and writes per-company reports.",
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return setupLogging(cmd.ErrOrStderr(), flags.debug, flags.logFormat)
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVarP(&flags.configPath, "config", "c", config.DefaultPath, "Path to the configuration file")
	cmd.PersistentFlags().BoolVarP(&flags.debug, "debug", "d", false, "Enable debug logging")
	cmd.PersistentFlags().StringVar(&flags.logFormat, "log-format", "auto", "Log format: text, json or auto (text on a terminal, json otherwise)")

	cmd.AddCommand(
		newRunCmd(&flags),
		newCheckCmd(),
		newSummaryCmd(&flags),
		newHistoryCmd(&flags),
		newVersionCmd(),
	)
	return cmd
}

// Execute runs the command line with args and returns the process exit code.
func Execute(ctx context.Context, stdout, stderr io.Writer, args ...string) int {
	cmd := NewRootCmd()
	cmd.SetArgs(args)
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)

	if err := cmd.ExecuteContext(ctx); err != nil {
		var failed *RunFailedError
		if !errors.As(err, &failed) {
			fmt.Fprintln(stderr, red("Error: %v", err))
		}
		return 1
	}
	return 0
}

func setupLogging(w io.Writer, debug bool, format string) error {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	switch resolveLogFormat(w, format) {
	case "text":
		handler = slog.NewTextHandler(w, opts)
	case "json":
		handler = slog.NewJSONHandler(w, opts)
	default:
		return fmt.Errorf("unknown log format %q", format)
	}
	slog.SetDefault(slog.New(handler))
	return nil
}

// resolveLogFormat turns "auto" into "text" when w is a terminal and
// "json" otherwise.
func resolveLogFormat(w io.Writer, format string) string {
	if format != "" && format != "auto" {
		return format
	}
	if isTerminal(w) {
		return "text"
	}
	return "json"
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(interface{ Fd() uintptr })
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

func loadConfig(flags *rootFlags) (*config.Config, error) {
	cfg, err := config.Load(flags.configPath)
	if err != nil {
		return nil, err
	}
	slog.Debug("Configuration loaded", "path", flags.configPath, "companies", len(cfg.Companies), "out_dir", cfg.OutDir)
	return cfg, nil
}
