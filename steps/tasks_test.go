package steps

import (
	"testing"
	"time"

	cc "github.com/cloudfoundry/multiapps-controller-sub003/cloudcontroller"
	"github.com/cloudfoundry/multiapps-controller-sub003/descriptor"
	"github.com/cloudfoundry/multiapps-controller-sub003/process"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTaskHarness(t *testing.T, task *cc.CloudTask) (*harness, *cc.CloudApplication) {
	h := newHarness(t, NewExecuteTaskStep(DefaultTimeouts()))
	app := h.client.AddApplication(&cc.CloudApplication{Name: "backend"})
	process.Set(h.context(), process.VarAppToProcess, app)
	process.Set(h.context(), process.VarTaskToExecute, task)
	return h, app
}

func TestExecuteTask_RunsUntilSucceeded(t *testing.T) {
	h, _ := newTaskHarness(t, &cc.CloudTask{Name: "seed", Command: "bin/seed"})

	phase, err := h.invoke()
	require.NoError(t, err)
	assert.Equal(t, process.StepPhasePoll, phase)
	started := process.Get(h.context(), process.VarStartedTask)
	require.NotNil(t, started)
	assert.Equal(t, "backend", started.ApplicationName)

	// long running tasks are only bounded by the task execution timeout
	h.client.SetTaskState(started.GUID, cc.TaskStateRunning, "")
	h.clock.Step(901001 * time.Millisecond)
	phase, err = h.invoke()
	require.NoError(t, err)
	assert.Equal(t, process.StepPhasePoll, phase)

	h.client.SetTaskState(started.GUID, cc.TaskStateSucceeded, "")
	phase, err = h.invoke()
	require.NoError(t, err)
	assert.Equal(t, process.StepPhaseDone, phase)
	assert.Equal(t, 1, h.client.Calls("RunTask"))
	assert.Contains(t, h.messages.ofType(process.ProgressMessageInfo), `Task "seed" on application "backend" succeeded`)
}

func TestExecuteTask_Failed(t *testing.T) {
	h, _ := newTaskHarness(t, &cc.CloudTask{Name: "seed", Command: "bin/seed"})
	_, err := h.invoke()
	require.NoError(t, err)

	h.client.SetTaskState(process.Get(h.context(), process.VarStartedTask).GUID, cc.TaskStateFailed, "exit status 1")
	_, err = h.invoke()
	var stepErr *process.StepError
	require.ErrorAs(t, err, &stepErr)
	assert.Equal(t, `Error polling task "seed" on application "backend"`, stepErr.Message)
	assert.Contains(t, h.messages.ofType(process.ProgressMessageError), `Task "seed" on application "backend" failed: exit status 1`)
}

func TestExecuteTask_Timeout(t *testing.T) {
	h, _ := newTaskHarness(t, &cc.CloudTask{Name: "seed", Command: "bin/seed"})
	process.Set(h.context(), process.VarAppsTaskExecutionTimeout, 600)
	_, err := h.invoke()
	require.NoError(t, err)

	h.clock.Step(10*time.Minute + time.Millisecond)
	_, err = h.invoke()
	assert.ErrorIs(t, err, process.ErrTimeout)
	assert.Equal(t, 0, h.client.Calls("GetTask"))
}

func TestExecuteTask_WithoutCommand(t *testing.T) {
	h, _ := newTaskHarness(t, &cc.CloudTask{Name: "seed"})
	_, err := h.invoke()
	var stepErr *process.StepError
	require.ErrorAs(t, err, &stepErr)
	assert.Equal(t, process.ErrorTypeContent, stepErr.ErrorType)
	assert.Equal(t, 0, h.client.Calls("RunTask"))
}

func TestTasksOfModule(t *testing.T) {
	tasks := TasksOfModule(&descriptor.Module{Parameters: map[string]any{
		"tasks": []any{
			map[string]any{"name": "seed", "command": "bin/seed", "memory": "256M"},
			map[string]any{"name": "warmup", "command": "bin/warmup"},
		},
	}})
	require.Len(t, tasks, 2)
	assert.Equal(t, &cc.CloudTask{Name: "seed", Command: "bin/seed", MemoryInMB: 256}, tasks[0])
	assert.Equal(t, 0, tasks[1].MemoryInMB)
	assert.Empty(t, TasksOfModule(&descriptor.Module{}))
}
