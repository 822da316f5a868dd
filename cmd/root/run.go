package root

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/lthibault/jitterbug/v2"
	"github.com/spf13/cobra"

	"github.com/evagent/evagent/pkg/config"
	"github.com/evagent/evagent/pkg/supervisor"
)

type runFlags struct {
	oems       []string
	regions    []string
	outDir     string
	skipReport bool
	watch      bool
	every      time.Duration
}

func newRunCmd(root *rootFlags) *cobra.Command {
	var flags runFlags

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the workers, validate their results and write reports",
		Long: `Run dispatches the tech, valuechain, stock and esg workers, retries the ones
whose results are incomplete and writes supervisor_summary.json. When every
worker ends with a complete result the per-company reports are written too.

The command exits with status 1 when any worker is still incomplete.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(root)
			if err != nil {
				return err
			}
			if !flags.watch && flags.every <= 0 {
				_, err := runOnce(cmd.Context(), cmd.OutOrStdout(), cfg, flags, collaborators{})
				return err
			}
			return runLoop(cmd.Context(), cmd.OutOrStdout(), root.configPath, cfg, flags)
		},
	}

	cmd.Flags().StringSliceVar(&flags.oems, "oems", nil, "Companies to analyse (defaults to the configured subjects)")
	cmd.Flags().StringSliceVar(&flags.regions, "regions", nil, "Region codes for the ESG policy lookup")
	cmd.Flags().StringVarP(&flags.outDir, "out-dir", "o", "", "Output directory (defaults to out_dir from the configuration)")
	cmd.Flags().BoolVar(&flags.skipReport, "skip-report", false, "Do not write reports")
	cmd.Flags().BoolVar(&flags.watch, "watch", false, "Run again whenever the configuration file changes")
	cmd.Flags().DurationVar(&flags.every, "every", 0, "Run periodically at this interval (with jitter)")

	return cmd
}

func (f runFlags) request(cfg *config.Config) supervisor.Request {
	req := supervisor.Request{
		Subjects: cfg.Subjects,
		Regions:  cfg.Regions,
		OutDir:   cfg.OutDir,
	}
	if len(f.oems) > 0 {
		req.Subjects = f.oems
	}
	if len(f.regions) > 0 {
		req.Regions = f.regions
	}
	if f.outDir != "" {
		req.OutDir = f.outDir
	}
	return req
}

// runOnce executes one supervised run and, when it succeeds, the report stage.
func runOnce(ctx context.Context, out io.Writer, cfg *config.Config, flags runFlags, deps collaborators) (*supervisor.Result, error) {
	p, err := newPipeline(ctx, cfg, deps)
	if err != nil {
		return nil, err
	}
	defer p.Close(context.WithoutCancel(ctx))

	res, err := p.supervisor.Run(ctx, flags.request(cfg))
	if res != nil {
		printSummary(out, res.Summary, res.SummaryPath)
	}
	if err != nil {
		return res, err
	}

	if !res.Succeeded() {
		failed := make([]string, 0, 4)
		for _, k := range res.Summary.FailedKinds() {
			failed = append(failed, string(k))
		}
		slog.Warn("Skipping reports, some workers are incomplete", "run_id", res.RunID, "invalid", failed)
		return res, &RunFailedError{RunID: res.RunID, Failed: failed}
	}

	if flags.skipReport || cfg.Report.Skip {
		slog.Info("Report stage skipped", "run_id", res.RunID)
	} else {
		docs, err := p.composer.Compose(ctx, res)
		printDocuments(out, docs)
		if err != nil {
			return res, fmt.Errorf("writing reports: %w", err)
		}
	}

	printArtifacts(out, res.OutDir)
	return res, nil
}

// runLoop keeps running until ctx is done, triggered by the jittered ticker
// and by configuration reloads.
func runLoop(ctx context.Context, out io.Writer, configPath string, cfg *config.Config, flags runFlags) error {
	var ticks <-chan time.Time
	if flags.every > 0 {
		ticker := jitterbug.New(flags.every, &jitterbug.Norm{Stdev: flags.every / 20, Mean: 0})
		defer ticker.Stop()
		ticks = ticker.C
	}

	var reloads <-chan config.Reload
	if flags.watch {
		w, err := config.NewWatcher(configPath)
		if err != nil {
			return err
		}
		defer w.Close()
		w.Start(ctx)
		reloads = w.Reloads()
	}

	runLogged := func() {
		if _, err := runOnce(ctx, out, cfg, flags, collaborators{}); err != nil {
			var failed *RunFailedError
			if !errors.As(err, &failed) {
				slog.Error("Run failed", "error", err)
			}
		}
	}

	runLogged()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticks:
			runLogged()
		case r, ok := <-reloads:
			if !ok {
				return nil
			}
			if r.Err != nil {
				slog.Warn("Ignoring invalid configuration change", "path", r.Path, "error", r.Err)
				continue
			}
			slog.Info("Configuration changed, running again", "path", r.Path)
			cfg = r.Config
			runLogged()
		}
	}
}
