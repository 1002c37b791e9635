package cli

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/cloudfoundry/multiapps-controller-sub003/internal/scheduler"
	"github.com/cloudfoundry/multiapps-controller-sub003/process"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

func (a *app) serveCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Poll every unfinished process instance until interrupted",
		Long: `serve runs the unfinished deploy and undeploy processes, one tick per polling interval.
Several deployers may serve the same database when redis.addr is configured.
Metrics are served on metrics.addr under /metrics when it is set.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.serve(cmd.Context())
		},
	}
}

func (a *app) serve(ctx context.Context) error {
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	a.metrics = process.NewMetrics(registry)
	if err := a.register(); err != nil {
		return err
	}
	s := scheduler.New(a.service, a.types.All(), a.cfg.Polling.Interval, a.cfg.Polling.Parallelism, scheduler.WithRegisterer(registry))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return s.Run(gctx)
	})
	if addr := a.cfg.Metrics.Addr; addr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry}))
		server := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		g.Go(func() error {
			slog.InfoContext(gctx, "serving metrics", "addr", addr)
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return errors.WithMessagef(err, "serve metrics on %s", addr)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return server.Shutdown(shutdownCtx)
		})
	}
	a.printf("Serving %v every %s\n", a.types.All(), a.cfg.Polling.Interval)
	return g.Wait()
}
