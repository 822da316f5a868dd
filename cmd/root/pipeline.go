package root

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/evagent/evagent/pkg/agents/esg"
	"github.com/evagent/evagent/pkg/agents/stock"
	"github.com/evagent/evagent/pkg/agents/tech"
	"github.com/evagent/evagent/pkg/agents/valuechain"
	"github.com/evagent/evagent/pkg/config"
	"github.com/evagent/evagent/pkg/environment"
	"github.com/evagent/evagent/pkg/history"
	_ "github.com/evagent/evagent/pkg/history/minio"
	_ "github.com/evagent/evagent/pkg/history/sqlite"
	"github.com/evagent/evagent/pkg/llm"
	"github.com/evagent/evagent/pkg/metrics"
	"github.com/evagent/evagent/pkg/report"
	"github.com/evagent/evagent/pkg/search"
	"github.com/evagent/evagent/pkg/supervisor"
	"github.com/evagent/evagent/pkg/telemetry"
	"github.com/evagent/evagent/pkg/version"
	"github.com/evagent/evagent/pkg/worker"
)

// pipeline is the supervisor, its recorders and the report composer built
// from one configuration.
type pipeline struct {
	cfg        *config.Config
	supervisor *supervisor.Supervisor
	composer   *report.Composer
	store      history.Store
	shutdown   telemetry.ShutdownFunc
}

// collaborators are the external clients the workers depend on. Fields left
// nil are built from the configuration.
type collaborators struct {
	env      environment.Provider
	searcher search.Searcher
	model    llm.Completer
	quotes   stock.Source
}

func newPipeline(ctx context.Context, cfg *config.Config, deps collaborators) (_ *pipeline, err error) {
	if deps.env == nil {
		env, err := environment.Default(cfg.EnvFile)
		if err != nil {
			return nil, err
		}
		deps.env = env
	}
	if deps.searcher == nil {
		deps.searcher = openSearcher(ctx, cfg, deps.env)
	}
	if deps.model == nil {
		deps.model = openModel(ctx, cfg, deps.env)
	}
	if deps.quotes == nil {
		deps.quotes = stock.NewYahoo(cfg.Stock, &http.Client{Timeout: cfg.Stock.Timeout()})
	}

	p := &pipeline{cfg: cfg}
	defer func() {
		if err != nil {
			p.Close(context.WithoutCancel(ctx))
		}
	}()

	tp, shutdown, err := telemetry.Setup(ctx, cfg.Telemetry, version.Detect().Version)
	if err != nil {
		return nil, err
	}
	p.shutdown = shutdown

	recorders := []supervisor.Recorder{metrics.New(cfg.Metrics.Textfile)}
	switch store, err := history.Open(ctx, cfg.History); {
	case errors.Is(err, history.ErrDisabled):
		slog.Debug("Run history disabled")
	case err != nil:
		return nil, fmt.Errorf("failed to open run history: %w", err)
	default:
		p.store = store
		recorders = append(recorders, store)
	}

	workers := []worker.Worker{
		tech.New(cfg, deps.searcher, tech.WithModel(deps.model)),
		valuechain.New(cfg, valuechain.WithModel(deps.model)),
		stock.New(cfg, deps.quotes, stock.WithModel(deps.model)),
		esg.New(cfg, deps.searcher),
	}

	p.supervisor, err = supervisor.New(workers,
		supervisor.WithMaxRetries(cfg.MaxRetries()),
		supervisor.WithDefaults(cfg.DefaultSubjects(), cfg.Regions),
		supervisor.WithRecorders(recorders...),
		supervisor.WithTracerProvider(tp),
	)
	if err != nil {
		return nil, err
	}

	p.composer = report.New(
		report.WithModel(deps.model),
		report.WithHTML(cfg.Report.HTML == nil || *cfg.Report.HTML),
	)
	return p, nil
}

func openSearcher(ctx context.Context, cfg *config.Config, env environment.Provider) search.Searcher {
	client, err := search.New(ctx, cfg.Search, env)
	if err != nil {
		slog.Warn("Web search disabled", "error", err)
		return nil
	}
	return client
}

func openModel(ctx context.Context, cfg *config.Config, env environment.Provider) llm.Completer {
	model, err := llm.New(ctx, cfg.Model, env)
	switch {
	case errors.Is(err, llm.ErrDisabled):
		slog.Debug("Language model disabled, using rule-based evaluations")
		return nil
	case err != nil:
		slog.Warn("Language model unavailable, using rule-based evaluations", "error", err)
		return nil
	}
	return model
}

// Close flushes traces and closes the history store.
func (p *pipeline) Close(ctx context.Context) {
	if p.store != nil {
		if err := p.store.Close(); err != nil {
			slog.Warn("Failed to close run history", "error", err)
		}
	}
	if p.shutdown != nil {
		if err := p.shutdown(ctx); err != nil {
			slog.Warn("Failed to flush traces", "error", err)
		}
	}
}
