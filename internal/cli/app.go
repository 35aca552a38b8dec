package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/malbeclabs/sqlviz/pkg/config"
	"github.com/malbeclabs/sqlviz/pkg/llm"
	"github.com/malbeclabs/sqlviz/pkg/logger"
	"github.com/malbeclabs/sqlviz/pkg/metrics"
	"github.com/malbeclabs/sqlviz/pkg/pipeline"
	"github.com/malbeclabs/sqlviz/pkg/querier"
	"github.com/malbeclabs/sqlviz/pkg/schema"
	"github.com/malbeclabs/sqlviz/pkg/vizexec"
)

// app holds what every subcommand needs after flag parsing.
type app struct {
	log *slog.Logger
	cfg *config.Config
}

// newApp loads the configuration. Commands that never call a model pass
// needLLM false so no provider key is required.
func newApp(cmd *cobra.Command, needLLM bool) (*app, error) {
	// The subcommand's flag set holds the parsed persistent flags.
	flags := cmd.Flags()
	verbose, err := flags.GetBool(flagVerbose)
	if err != nil {
		return nil, fmt.Errorf("failed to get verbose flag: %w", err)
	}
	cfg, err := config.LoadFlags(flags, !needLLM)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return &app{
		log: logger.New(verbose),
		cfg: cfg,
	}, nil
}

// signalContext returns a context cancelled on SIGINT or SIGTERM.
func (a *app) signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		defer signal.Stop(sigCh)
		select {
		case sig := <-sigCh:
			a.log.Info("sqlviz: received signal", "signal", sig.String())
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, cancel
}

// startMetrics serves /metrics on the configured address until ctx is done.
// Errors after startup are reported on the returned channel.
func (a *app) startMetrics(ctx context.Context, build BuildInfo) (<-chan error, error) {
	errCh := make(chan error, 1)
	if a.cfg.Metrics.Addr == "" {
		return errCh, nil
	}
	metrics.BuildInfo.WithLabelValues(build.Version, build.Commit, build.Date).Set(1)

	listener, err := net.Listen("tcp", a.cfg.Metrics.Addr)
	if err != nil {
		return nil, fmt.Errorf("failed to start prometheus metrics server listener: %w", err)
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: defaultReadHeaderTimeout}

	a.log.Info("prometheus metrics server listening", "address", listener.Addr().String())
	go func() {
		if err := srv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.log.Error("failed to serve prometheus metrics", "error", err)
			errCh <- err
		}
	}()
	go func() {
		<-ctx.Done()
		_ = srv.Close()
	}()
	return errCh, nil
}

func (a *app) openQuerier(ctx context.Context) (querier.Querier, error) {
	q, err := querier.Open(ctx, a.cfg.QuerierConfig(a.log))
	if err != nil {
		return nil, fmt.Errorf("failed to open %s database: %w", a.cfg.Database.Driver, err)
	}
	return q, nil
}

// openPipeline wires the configured backends into a pipeline. The returned
// querier must be closed by the caller.
func (a *app) openPipeline(ctx context.Context) (*pipeline.Pipeline, querier.Querier, error) {
	q, err := a.openQuerier(ctx)
	if err != nil {
		return nil, nil, err
	}
	p, err := a.newPipeline(ctx, q)
	if err != nil {
		_ = q.Close()
		return nil, nil, err
	}
	return p, q, nil
}

func (a *app) newPipeline(ctx context.Context, q querier.Querier) (*pipeline.Pipeline, error) {
	catalog, err := schema.New(schema.Config{Logger: a.log, Querier: q})
	if err != nil {
		return nil, fmt.Errorf("failed to create schema catalog: %w", err)
	}
	completer, err := llm.New(ctx, a.cfg.LLMConfig(a.log))
	if err != nil {
		return nil, fmt.Errorf("failed to create llm client: %w", err)
	}
	executor, err := vizexec.New(a.cfg.ExecutorConfig(a.log))
	if err != nil {
		return nil, fmt.Errorf("failed to create code executor: %w", err)
	}
	p, err := pipeline.New(pipeline.Config{
		Logger:        a.log,
		LLM:           completer,
		Catalog:       catalog,
		Querier:       q,
		Executor:      executor,
		Dialect:       pipeline.DialectFor(q.Driver()),
		MaxRetries:    a.cfg.Pipeline.MaxRetries,
		MaxErrorChars: a.cfg.Pipeline.MaxErrorChars,
		ReviewSQL:     a.cfg.Pipeline.ReviewSQL,
		RunTimeout:    a.cfg.Pipeline.RunTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create pipeline: %w", err)
	}
	return p, nil
}

func (a *app) closeQuerier(q querier.Querier) {
	if err := q.Close(); err != nil {
		a.log.Error("failed to close database", "error", err)
	}
}
