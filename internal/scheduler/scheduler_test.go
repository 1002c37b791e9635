package scheduler

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cloudfoundry/multiapps-controller-sub003/workflow"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	testingclock "k8s.io/utils/clock/testing"
)

func setupTestService(t *testing.T) workflow.WorkflowService {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })
	require.NoError(t, workflow.AutoMigrate(db))
	return workflow.NewWorkflowService(workflow.NewWorkflowRepo(db), workflow.NewLocalWorkflowLock())
}

// pollingWorker ready after `polls` async checks
type pollingWorker struct {
	workflow.BaseTaskWorker
	polls int64
}

func (w *pollingWorker) Run(ctx context.Context, execution *workflow.Execution) error {
	execution.SetLocalVariable("polls", 0)
	return nil
}

func (w *pollingWorker) AsynchronousWaitCheck(ctx context.Context, execution *workflow.Execution) error {
	done, _ := execution.NodeContext.GetInt64(workflow.NodeContextKeyVariables, "polls")
	done++
	execution.SetLocalVariable("polls", done)
	if done < w.polls {
		return workflow.ErrorWorkflowTaskInstanceNotReady
	}
	return nil
}

type brokenWorker struct {
	workflow.BaseTaskWorker
}

func (w *brokenWorker) Run(ctx context.Context, execution *workflow.Execution) error {
	return errors.Wrap(workflow.ErrWorkflowTaskFailedWithFailed, "descriptor is invalid")
}

func registerPolling(t *testing.T, workflowType string, polls int) {
	config := workflow.WorkflowConfig{}
	require.NoError(t, json.Unmarshal([]byte(`{"id": "`+workflowType+`", "name": "poll", "nodes": [{"id": "poll", "name": "poll", "next_nodes": []}]}`), &config))
	require.NoError(t, workflow.LoadWorkflowConfig(&config))
	require.NoError(t, workflow.RegisterWorkflowTask(workflowType, "poll", &pollingWorker{polls: int64(polls)}))
}

func create(t *testing.T, service workflow.WorkflowService, workflowType string, businessID string) int64 {
	instance, err := service.CreateWorkflow(context.Background(), &workflow.CreateWorkflowReq{WorkflowType: workflowType, BusinessID: businessID})
	require.NoError(t, err)
	return instance.ID
}

func status(t *testing.T, service workflow.WorkflowService, id int64) string {
	instances, err := service.QueryWorkflowInstancePo(context.Background(), &workflow.QueryWorkflowInstanceParams{
		WorkflowInstanceID: &id,
		Page:               &workflow.Pager{Page: 1, Size: 1},
	})
	require.NoError(t, err)
	require.Len(t, instances, 1)
	return instances[0].Status
}

func TestTick(t *testing.T) {
	service := setupTestService(t)
	registerPolling(t, "sched_tick", 2)
	registerPolling(t, "sched_tick_other", 1)
	ids := []int64{
		create(t, service, "sched_tick", "a"),
		create(t, service, "sched_tick", "b"),
		create(t, service, "sched_tick", "c"),
	}
	other := create(t, service, "sched_tick_other", "d")
	s := New(service, []string{"sched_tick"}, time.Second, 2)
	ctx := context.Background()

	n, err := s.Tick(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	for _, id := range ids {
		assert.Equal(t, workflow.WorkflowInstanceStatusRunning, status(t, service, id))
	}

	n, err = s.Tick(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	for _, id := range ids {
		assert.Equal(t, workflow.WorkflowInstanceStatusCompleted, status(t, service, id))
	}

	n, err = s.Tick(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Equal(t, workflow.WorkflowInstanceStatusInit, status(t, service, other))
}

func TestTick_CountsOutcomes(t *testing.T) {
	service := setupTestService(t)
	config := workflow.WorkflowConfig{}
	require.NoError(t, json.Unmarshal([]byte(`{"id": "sched_failing", "name": "failing", "nodes": [{"id": "broken", "name": "broken", "next_nodes": []}]}`), &config))
	require.NoError(t, workflow.LoadWorkflowConfig(&config))
	require.NoError(t, workflow.RegisterWorkflowTask("sched_failing", "broken", &brokenWorker{}))
	registerPolling(t, "sched_counted", 1)
	failing := create(t, service, "sched_failing", "a")
	create(t, service, "sched_counted", "b")

	registry := prometheus.NewRegistry()
	s := New(service, []string{"sched_failing", "sched_counted"}, time.Second, 0, WithRegisterer(registry))
	n, err := s.Tick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, workflow.WorkflowInstanceStatusFailed, status(t, service, failing))
	assert.Equal(t, float64(1), testutil.ToFloat64(s.ticks.WithLabelValues("failed")))
	assert.Equal(t, float64(1), testutil.ToFloat64(s.ticks.WithLabelValues("ok")))
}

func TestRun(t *testing.T) {
	service := setupTestService(t)
	registerPolling(t, "sched_run", 3)
	id := create(t, service, "sched_run", "a")
	clk := testingclock.NewFakeClock(time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC))
	s := New(service, []string{"sched_run"}, 5*time.Second, 1, WithClock(clk))

	ctx, cancel := context.WithCancel(context.Background())
	var stopped atomic.Bool
	go func() {
		_ = s.Run(ctx)
		stopped.Store(true)
	}()

	assert.Eventually(t, func() bool {
		if clk.HasWaiters() {
			clk.Step(5 * time.Second)
		}
		return status(t, service, id) == workflow.WorkflowInstanceStatusCompleted
	}, 5*time.Second, 10*time.Millisecond)

	cancel()
	clk.Step(5 * time.Second)
	assert.Eventually(t, stopped.Load, time.Second, 10*time.Millisecond)
}
