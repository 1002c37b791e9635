package workflow_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/cloudfoundry/multiapps-controller-sub003/workflow"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// setupTestService in-memory sqlite, one connection so every query sees the same database
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

func loadConfig(t *testing.T, configJSON string) {
	var config workflow.WorkflowConfig
	require.NoError(t, json.Unmarshal([]byte(configJSON), &config))
	require.NoError(t, workflow.LoadWorkflowConfig(&config))
}

func queryDetail(t *testing.T, service workflow.WorkflowService, id int64) *workflow.WorkflowInstanceDetailEntity {
	details, err := service.QueryWorkflowInstanceDetail(context.Background(), &workflow.QueryWorkflowInstanceParams{
		WorkflowInstanceID: &id,
		Page:               &workflow.Pager{Page: 1, Size: 1},
	})
	require.NoError(t, err)
	require.Len(t, details, 1)
	return details[0]
}

func taskStatus(detail *workflow.WorkflowInstanceDetailEntity, taskType string) *workflow.TaskInstanceEntity {
	for _, task := range detail.TaskInstances {
		if task.TaskType == taskType {
			return task
		}
	}
	return nil
}

func TestCreateWorkflow_Validation(t *testing.T) {
	service := setupTestService(t)
	ctx := context.Background()

	_, err := service.CreateWorkflow(ctx, &workflow.CreateWorkflowReq{WorkflowType: "deploy"})
	assert.ErrorIs(t, err, workflow.ErrWorkflowParamInvalid)

	_, err = service.CreateWorkflow(ctx, &workflow.CreateWorkflowReq{
		WorkflowType: "unknown_type",
		BusinessID:   "mta-1",
		IsRun:        true,
	})
	assert.ErrorIs(t, err, workflow.ErrWorkflowConfigNotFound)

	assert.ErrorIs(t, service.RunWorkflow(ctx, 0), workflow.ErrWorkflowParamInvalid)
	assert.ErrorIs(t, service.RunWorkflow(ctx, 999), workflow.ErrWorkflowInstanceNotFound)
	assert.Error(t, service.CancelWorkflowInstance(ctx, 999))
}

func TestRunWorkflow_SequentialNodesShareVariables(t *testing.T) {
	service := setupTestService(t)
	ctx := context.Background()
	loadConfig(t, `{
		"id": "wf_sequential",
		"name": "sequential",
		"nodes": [
			{"id": "upload", "name": "upload", "next_nodes": ["stage"]},
			{"id": "stage", "name": "stage", "next_nodes": []}
		]
	}`)
	require.NoError(t, workflow.RegisterWorkflowTask("wf_sequential", "upload",
		newFuncWorker(func(ctx context.Context, execution *workflow.Execution) error {
			execution.SetVariable("cloudPackage", "pkg-1")
			execution.SetLocalVariable("StepPhase", "DONE")
			return nil
		}, nil)))
	var seenPackage any
	require.NoError(t, workflow.RegisterWorkflowTask("wf_sequential", "stage",
		newFuncWorker(func(ctx context.Context, execution *workflow.Execution) error {
			seenPackage, _ = execution.GetVariable("cloudPackage")
			_, shared := execution.GetLocalVariable("StepPhase")
			execution.SetVariable("stepPhaseLeaked", shared)
			return nil
		}, nil)))

	instance, err := service.CreateWorkflow(ctx, &workflow.CreateWorkflowReq{
		WorkflowType: "wf_sequential",
		BusinessID:   "mta-sequential",
		Context:      map[string]any{"mtaId": "com.example.mta"},
		IsRun:        true,
	})
	require.NoError(t, err)
	assert.Equal(t, "pkg-1", seenPackage)

	detail := queryDetail(t, service, instance.ID)
	assert.Equal(t, workflow.WorkflowInstanceStatusCompleted, detail.Status)
	mtaID, _ := detail.WorkflowContext.GetString("mtaId")
	assert.Equal(t, "com.example.mta", mtaID)
	pkg, _ := detail.WorkflowContext.GetString("cloudPackage")
	assert.Equal(t, "pkg-1", pkg)
	leaked, _ := detail.WorkflowContext.GetBool("stepPhaseLeaked")
	assert.False(t, leaked)

	upload := taskStatus(detail, "upload")
	require.NotNil(t, upload)
	assert.Equal(t, workflow.WorkflowTaskNodeStatusCompleted, upload.Status)
	phase, _ := upload.NodeContext.GetString(workflow.NodeContextKeyVariables, "StepPhase")
	assert.Equal(t, "DONE", phase)
	assert.Equal(t, []string{"stage"}, upload.NextNodesKeys)
}

func TestRunWorkflow_AsynchronousWaitCheck(t *testing.T) {
	service := setupTestService(t)
	ctx := context.Background()
	loadConfig(t, `{
		"id": "wf_async",
		"name": "async",
		"nodes": [{"id": "poll", "name": "poll", "next_nodes": []}]
	}`)
	runCount := 0
	require.NoError(t, workflow.RegisterWorkflowTask("wf_async", "poll",
		newFuncWorker(
			func(ctx context.Context, execution *workflow.Execution) error {
				runCount++
				execution.SetLocalVariable("polls", 0)
				return nil
			},
			func(ctx context.Context, execution *workflow.Execution) error {
				polls, _ := execution.NodeContext.GetInt64(workflow.NodeContextKeyVariables, "polls")
				polls++
				execution.SetLocalVariable("polls", polls)
				if polls < 3 {
					return workflow.ErrorWorkflowTaskInstanceNotReady
				}
				return nil
			},
		)))

	instance, err := service.CreateWorkflow(ctx, &workflow.CreateWorkflowReq{
		WorkflowType: "wf_async",
		BusinessID:   "mta-async",
		IsRun:        true,
	})
	require.NoError(t, err)

	detail := queryDetail(t, service, instance.ID)
	assert.Equal(t, workflow.WorkflowInstanceStatusRunning, detail.Status)
	assert.Equal(t, workflow.WorkflowTaskNodeStatusPending, taskStatus(detail, "poll").Status)

	require.NoError(t, service.RunWorkflow(ctx, instance.ID))
	detail = queryDetail(t, service, instance.ID)
	assert.Equal(t, workflow.WorkflowTaskNodeStatusPending, taskStatus(detail, "poll").Status)
	polls, _ := taskStatus(detail, "poll").NodeContext.GetInt64(workflow.NodeContextKeyVariables, "polls")
	assert.Equal(t, int64(2), polls)

	require.NoError(t, service.RunWorkflow(ctx, instance.ID))
	detail = queryDetail(t, service, instance.ID)
	assert.Equal(t, workflow.WorkflowInstanceStatusCompleted, detail.Status)
	assert.Equal(t, 1, runCount)
	assert.Equal(t, int64(0), taskStatus(detail, "poll").FailCount)
}

func TestRunWorkflow_FailMaxCount(t *testing.T) {
	service := setupTestService(t)
	ctx := context.Background()
	loadConfig(t, `{
		"id": "wf_fail_max",
		"name": "fail max",
		"nodes": [{"id": "flaky", "name": "flaky", "next_nodes": [], "fail_max_count": 2}]
	}`)
	require.NoError(t, workflow.RegisterWorkflowTask("wf_fail_max", "flaky",
		newFuncWorker(func(ctx context.Context, execution *workflow.Execution) error {
			return errors.New("controller unavailable")
		}, nil)))

	instance, err := service.CreateWorkflow(ctx, &workflow.CreateWorkflowReq{WorkflowType: "wf_fail_max", BusinessID: "mta-flaky"})
	require.NoError(t, err)

	// a plain error is retried on the next tick
	require.NoError(t, service.RunWorkflow(ctx, instance.ID))
	detail := queryDetail(t, service, instance.ID)
	flaky := taskStatus(detail, "flaky")
	assert.Equal(t, workflow.WorkflowTaskNodeStatusRunning, flaky.Status)
	assert.Equal(t, int64(1), flaky.FailCount)
	lastError, _ := flaky.NodeContext.GetString(workflow.NodeContextKeySystem, "last_error")
	assert.Contains(t, lastError, "controller unavailable")

	err = service.RunWorkflow(ctx, instance.ID)
	assert.ErrorIs(t, err, workflow.ErrWorkflowTaskFailedWithFailed)
	detail = queryDetail(t, service, instance.ID)
	assert.Equal(t, workflow.WorkflowInstanceStatusFailed, detail.Status)
	assert.Equal(t, workflow.WorkflowTaskNodeStatusFailed, taskStatus(detail, "flaky").Status)

	// finished instances are not run again
	assert.NoError(t, service.RunWorkflow(ctx, instance.ID))

	// a restart gives the node its full number of attempts again
	require.NoError(t, service.RestartWorkflowInstance(ctx, &workflow.RestartWorkflowParams{WorkflowInstanceID: instance.ID}))
	flaky = taskStatus(queryDetail(t, service, instance.ID), "flaky")
	assert.Equal(t, workflow.WorkflowTaskNodeStatusRestarting, flaky.Status)
	assert.Zero(t, flaky.FailCount)
}

func TestRestartWorkflowInstance_KeepsLocalVariables(t *testing.T) {
	service := setupTestService(t)
	ctx := context.Background()
	loadConfig(t, `{
		"id": "wf_restart",
		"name": "restart",
		"nodes": [
			{"id": "start_app", "name": "start app", "next_nodes": ["after"]},
			{"id": "after", "name": "after", "next_nodes": []}
		]
	}`)
	require.NoError(t, workflow.RegisterWorkflowTask("wf_restart", "start_app",
		newFuncWorker(func(ctx context.Context, execution *workflow.Execution) error {
			_, invokedBefore := execution.GetLocalVariable("StepPhase")
			if !invokedBefore {
				execution.SetLocalVariable("StepPhase", "POLL")
				execution.SetVariable("ErrorType", "UNKNOWN_ERROR")
				return errors.Wrap(workflow.ErrWorkflowTaskFailedWithFailed, "app crashed")
			}
			execution.SetLocalVariable("StepPhase", "DONE")
			execution.RemoveVariable("ErrorType")
			return nil
		}, nil)))
	require.NoError(t, workflow.RegisterWorkflowTask("wf_restart", "after",
		newFuncWorker(func(ctx context.Context, execution *workflow.Execution) error {
			return nil
		}, nil)))

	instance, err := service.CreateWorkflow(ctx, &workflow.CreateWorkflowReq{WorkflowType: "wf_restart", BusinessID: "mta-restart"})
	require.NoError(t, err)

	err = service.RunWorkflow(ctx, instance.ID)
	assert.ErrorIs(t, err, workflow.ErrWorkflowTaskFailedWithFailed)
	detail := queryDetail(t, service, instance.ID)
	assert.Equal(t, workflow.WorkflowInstanceStatusFailed, detail.Status)
	errorType, _ := detail.WorkflowContext.GetString("ErrorType")
	assert.Equal(t, "UNKNOWN_ERROR", errorType)
	assert.Equal(t, workflow.WorkflowTaskNodeStatusStatusUnCreated, taskStatus(detail, "after").Status)

	require.NoError(t, service.RestartWorkflowInstance(ctx, &workflow.RestartWorkflowParams{
		WorkflowInstanceID: instance.ID,
		IsRun:              true,
	}))
	detail = queryDetail(t, service, instance.ID)
	assert.Equal(t, workflow.WorkflowInstanceStatusCompleted, detail.Status)
	_, ok := detail.WorkflowContext.Get("ErrorType")
	assert.False(t, ok)
	phase, _ := taskStatus(detail, "start_app").NodeContext.GetString(workflow.NodeContextKeyVariables, "StepPhase")
	assert.Equal(t, "DONE", phase)

	// completed instances are left alone
	assert.NoError(t, service.RestartWorkflowInstance(ctx, &workflow.RestartWorkflowParams{WorkflowInstanceID: instance.ID}))
}

func TestRestartWorkflowNode(t *testing.T) {
	service := setupTestService(t)
	ctx := context.Background()
	loadConfig(t, `{
		"id": "wf_restart_node",
		"name": "restart node",
		"nodes": [
			{"id": "detect", "name": "detect", "next_nodes": ["rename"]},
			{"id": "rename", "name": "rename", "next_nodes": []}
		]
	}`)
	renames := 0
	require.NoError(t, workflow.RegisterWorkflowTask("wf_restart_node", "detect",
		newFuncWorker(func(ctx context.Context, execution *workflow.Execution) error { return nil }, nil)))
	require.NoError(t, workflow.RegisterWorkflowTask("wf_restart_node", "rename",
		newFuncWorker(func(ctx context.Context, execution *workflow.Execution) error {
			renames++
			return nil
		}, nil)))

	instance, err := service.CreateWorkflow(ctx, &workflow.CreateWorkflowReq{WorkflowType: "wf_restart_node", BusinessID: "mta-node", IsRun: true})
	require.NoError(t, err)
	require.Equal(t, 1, renames)

	err = service.RestartWorkflowNode(ctx, &workflow.RestartWorkflowNodeParams{WorkflowInstanceID: instance.ID, TaskType: "rename"})
	assert.Error(t, err)

	require.NoError(t, service.RestartWorkflowNode(ctx, &workflow.RestartWorkflowNodeParams{
		WorkflowInstanceID:      instance.ID,
		TaskType:                "rename",
		IsForcedRestartWorkflow: true,
	}))
	detail := queryDetail(t, service, instance.ID)
	assert.Equal(t, workflow.WorkflowInstanceStatusRunning, detail.Status)
	assert.Equal(t, workflow.WorkflowTaskNodeStatusRestarting, taskStatus(detail, "rename").Status)
	assert.Zero(t, taskStatus(detail, "rename").FailCount)
	assert.Equal(t, workflow.WorkflowTaskNodeStatusCompleted, taskStatus(detail, "detect").Status)

	require.NoError(t, service.RunWorkflow(ctx, instance.ID))
	assert.Equal(t, 2, renames)
	assert.Equal(t, workflow.WorkflowInstanceStatusCompleted, queryDetail(t, service, instance.ID).Status)

	err = service.RestartWorkflowNode(ctx, &workflow.RestartWorkflowNodeParams{WorkflowInstanceID: instance.ID, TaskType: "missing", IsForcedRestartWorkflow: true})
	assert.ErrorIs(t, err, workflow.ErrWorkflowTaskInstanceNotFound)
}

func TestCancelWorkflowInstance(t *testing.T) {
	service := setupTestService(t)
	ctx := context.Background()
	loadConfig(t, `{
		"id": "wf_cancel",
		"name": "cancel",
		"nodes": [{"id": "wait", "name": "wait", "next_nodes": []}]
	}`)
	require.NoError(t, workflow.RegisterWorkflowTask("wf_cancel", "wait",
		newFuncWorker(nil, func(ctx context.Context, execution *workflow.Execution) error {
			return workflow.ErrorWorkflowTaskInstanceNotReady
		})))

	instance, err := service.CreateWorkflow(ctx, &workflow.CreateWorkflowReq{WorkflowType: "wf_cancel", BusinessID: "mta-cancel", IsRun: true})
	require.NoError(t, err)
	// the worker has no run function, Run fails and the node stays running until cancelled
	detail := queryDetail(t, service, instance.ID)
	assert.Equal(t, workflow.WorkflowTaskNodeStatusRunning, taskStatus(detail, "wait").Status)

	require.NoError(t, service.CancelWorkflowInstance(ctx, instance.ID))
	detail = queryDetail(t, service, instance.ID)
	assert.Equal(t, workflow.WorkflowInstanceStatusCancelled, detail.Status)
	assert.Equal(t, workflow.WorkflowTaskNodeStatusCancelled, taskStatus(detail, "wait").Status)

	// cancelling twice is a no-op
	assert.NoError(t, service.CancelWorkflowInstance(ctx, instance.ID))
}

func TestFailedWithContinue(t *testing.T) {
	service := setupTestService(t)
	ctx := context.Background()
	loadConfig(t, `{
		"id": "wf_continue",
		"name": "continue",
		"nodes": [
			{"id": "optional", "name": "optional", "next_nodes": ["next"]},
			{"id": "next", "name": "next", "next_nodes": []}
		]
	}`)
	require.NoError(t, workflow.RegisterWorkflowTask("wf_continue", "optional",
		newFuncWorker(func(ctx context.Context, execution *workflow.Execution) error {
			return workflow.ErrorWorkflowTaskFailedWithContinue
		}, nil)))
	reached := false
	require.NoError(t, workflow.RegisterWorkflowTask("wf_continue", "next",
		newFuncWorker(func(ctx context.Context, execution *workflow.Execution) error {
			reached = true
			return nil
		}, nil)))

	instance, err := service.CreateWorkflow(ctx, &workflow.CreateWorkflowReq{WorkflowType: "wf_continue", BusinessID: "mta-continue"})
	require.NoError(t, err)
	require.NoError(t, service.RunWorkflow(ctx, instance.ID))
	assert.True(t, reached)
	detail := queryDetail(t, service, instance.ID)
	assert.Equal(t, int64(1), taskStatus(detail, "optional").FailCount)
	assert.Equal(t, workflow.WorkflowInstanceStatusCompleted, detail.Status)
}

func TestCountAndQueryWorkflowInstance(t *testing.T) {
	service := setupTestService(t)
	ctx := context.Background()
	loadConfig(t, `{
		"id": "wf_query",
		"name": "query",
		"nodes": [{"id": "noop", "name": "noop", "next_nodes": []}]
	}`)
	require.NoError(t, workflow.RegisterWorkflowTask("wf_query", "noop", newFuncWorker(
		func(ctx context.Context, execution *workflow.Execution) error { return nil }, nil)))

	for _, id := range []string{"mta-a", "mta-b", "mta-c"} {
		_, err := service.CreateWorkflow(ctx, &workflow.CreateWorkflowReq{WorkflowType: "wf_query", BusinessID: id})
		require.NoError(t, err)
	}
	count, err := service.CountWorkflowInstance(ctx, &workflow.QueryWorkflowInstanceParams{WorkflowTypeIn: []string{"wf_query"}})
	require.NoError(t, err)
	assert.Equal(t, int64(3), count)

	pos, err := service.QueryWorkflowInstancePo(ctx, &workflow.QueryWorkflowInstanceParams{
		BusinessID:   workflow.String("mta-b"),
		OrderbyIDAsc: workflow.Bool(true),
		Page:         &workflow.Pager{Page: 1, Size: 10},
	})
	require.NoError(t, err)
	require.Len(t, pos, 1)
	assert.Equal(t, workflow.WorkflowInstanceStatusInit, pos[0].Status)

	detail := queryDetail(t, service, pos[0].ID)
	// start, noop and end, none created yet
	require.Len(t, detail.TaskInstances, 3)
	for _, task := range detail.TaskInstances {
		assert.Equal(t, workflow.WorkflowTaskNodeStatusStatusUnCreated, task.Status)
	}
}

func TestLoadWorkflowConfig_Errors(t *testing.T) {
	assert.Error(t, workflow.LoadWorkflowConfig(nil))
	assert.Error(t, workflow.RegisterWorkflowTask("wf_any", "node", nil))

	loadConfig(t, `{
		"id": "wf_cycle",
		"name": "cycle",
		"nodes": [
			{"id": "a", "name": "a", "next_nodes": ["b"]},
			{"id": "b", "name": "b", "next_nodes": ["c"]},
			{"id": "c", "name": "c", "next_nodes": ["b"]}
		]
	}`)
	worker := newFuncWorker(nil, nil)
	require.NoError(t, workflow.RegisterWorkflowTask("wf_cycle", "a", worker))
	require.NoError(t, workflow.RegisterWorkflowTask("wf_cycle", "b", worker))
	require.NoError(t, workflow.RegisterWorkflowTask("wf_cycle", "c", worker))
	assert.ErrorIs(t, workflow.RegisterWorkflowTask("wf_cycle", "b", worker), workflow.ErrWorkflowTaskWorkerAlreadyRegistered)
	_, err := workflow.GetAndLoadWorkflowDefinition("wf_cycle")
	assert.Error(t, err)

	loadConfig(t, `{
		"id": "wf_missing_worker",
		"name": "missing worker",
		"nodes": [{"id": "a", "name": "a", "next_nodes": []}]
	}`)
	_, err = workflow.GetAndLoadWorkflowDefinition("wf_missing_worker")
	assert.ErrorIs(t, err, workflow.ErrWorkflowTaskWorkerNotFound)

	err = workflow.PreloadWorkflowDefinitions("wf_cycle", "wf_missing_worker")
	assert.ErrorIs(t, err, workflow.ErrWorkflowTaskWorkerNotFound)
	assert.ErrorContains(t, err, "PreloadWorkflowDefinitions failed")
	assert.ErrorContains(t, err, "wf_cycle")
}

type recordingLock struct {
	workflow.WorkflowLock
	durations []time.Duration
}

func (l *recordingLock) NonBlockingSynchronized(ctx context.Context, key string, d time.Duration, f func(context.Context) error) error {
	l.durations = append(l.durations, d)
	return l.WorkflowLock.NonBlockingSynchronized(ctx, key, d, f)
}

func TestWithLockTimeout(t *testing.T) {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })
	require.NoError(t, workflow.AutoMigrate(db))

	lock := &recordingLock{WorkflowLock: workflow.NewLocalWorkflowLock()}
	service := workflow.NewWorkflowService(workflow.NewWorkflowRepo(db), lock, workflow.WithLockTimeout(time.Minute))
	loadConfig(t, `{
		"id": "wf_lock_timeout",
		"name": "lock timeout",
		"nodes": [{"id": "only", "name": "only", "next_nodes": []}]
	}`)
	require.NoError(t, workflow.RegisterWorkflowTask("wf_lock_timeout", "only",
		newFuncWorker(func(ctx context.Context, execution *workflow.Execution) error { return nil }, nil)))

	ctx := context.Background()
	instance, err := service.CreateWorkflow(ctx, &workflow.CreateWorkflowReq{WorkflowType: "wf_lock_timeout", BusinessID: "mta-lock"})
	require.NoError(t, err)
	require.NoError(t, service.RunWorkflow(ctx, instance.ID))
	require.NotEmpty(t, lock.durations)
	for _, d := range lock.durations {
		assert.Equal(t, time.Minute, d)
	}
}
