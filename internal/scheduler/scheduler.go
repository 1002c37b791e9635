// Package scheduler re-invokes the process instances that are still running.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/cloudfoundry/multiapps-controller-sub003/workflow"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"
	"k8s.io/utils/clock"
)

// Scheduler runs one tick of every unfinished instance of its workflow types per interval.
// An instance locked by another scheduler is skipped until the next interval.
type Scheduler struct {
	service       workflow.WorkflowService
	workflowTypes []string
	interval      time.Duration
	parallelism   int
	clock         clock.WithTicker
	ticks         *prometheus.CounterVec
}

type Option func(*Scheduler)

func WithClock(clk clock.WithTicker) Option {
	return func(s *Scheduler) {
		s.clock = clk
	}
}

// WithRegisterer counts the instance ticks by outcome
func WithRegisterer(registerer prometheus.Registerer) Option {
	return func(s *Scheduler) {
		s.ticks = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mtadeploy",
			Subsystem: "scheduler",
			Name:      "instance_ticks_total",
			Help:      "Ticks of process instances by outcome.",
		}, []string{"outcome"})
		registerer.MustRegister(s.ticks)
	}
}

func New(service workflow.WorkflowService, workflowTypes []string, interval time.Duration, parallelism int, opts ...Option) *Scheduler {
	if parallelism < 1 {
		parallelism = 1
	}
	s := &Scheduler{
		service:       service,
		workflowTypes: workflowTypes,
		interval:      interval,
		parallelism:   parallelism,
		clock:         clock.RealClock{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run ticks until ctx is done
func (s *Scheduler) Run(ctx context.Context) error {
	ticker := s.clock.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		if _, err := s.Tick(ctx); err != nil {
			slog.ErrorContext(ctx, fmt.Sprintf("scheduler tick failed, err: %v", err))
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C():
		}
	}
}

// Tick runs every unfinished instance once and returns how many were run.
// Failures of single instances are logged, only a failed lookup is returned.
func (s *Scheduler) Tick(ctx context.Context) (int, error) {
	instances, err := s.service.QueryWorkflowInstancePo(ctx, &workflow.QueryWorkflowInstanceParams{
		WorkflowTypeIn: s.workflowTypes,
		StatusIn:       []string{workflow.WorkflowInstanceStatusInit, workflow.WorkflowInstanceStatusRunning},
		OrderbyIDAsc:   workflow.Bool(true),
		Page:           &workflow.Pager{IsNoLimit: workflow.Bool(true)},
	})
	if err != nil {
		return 0, errors.WithMessage(err, "query unfinished instances failed")
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.parallelism)
	for _, instance := range instances {
		id := instance.ID
		g.Go(func() error {
			s.runInstance(gctx, id)
			return nil
		})
	}
	return len(instances), g.Wait()
}

func (s *Scheduler) runInstance(ctx context.Context, id int64) {
	if ctx.Err() != nil {
		return
	}
	err := s.service.RunWorkflow(ctx, id)
	switch {
	case err == nil:
		s.count("ok")
	case errors.Is(err, workflow.LockFailedError):
		slog.DebugContext(ctx, fmt.Sprintf("instance is run elsewhere, workflowInstanceID: %d", id))
		s.count("locked")
	case errors.Is(err, workflow.ErrWorkflowTaskFailedWithFailed):
		slog.WarnContext(ctx, fmt.Sprintf("instance failed, workflowInstanceID: %d, err: %v", id, err))
		s.count("failed")
	default:
		slog.ErrorContext(ctx, fmt.Sprintf("RunWorkflow failed, workflowInstanceID: %d, err: %v", id, err))
		s.count("error")
	}
}

func (s *Scheduler) count(outcome string) {
	if s.ticks != nil {
		s.ticks.WithLabelValues(outcome).Inc()
	}
}
