package steps

import (
	"time"

	cc "github.com/cloudfoundry/multiapps-controller-sub003/cloudcontroller"
	"github.com/cloudfoundry/multiapps-controller-sub003/descriptor"
	"github.com/cloudfoundry/multiapps-controller-sub003/process"
)

func taskData(pc *process.ProcessContext, task *cc.CloudTask) map[string]any {
	data := map[string]any{"app": appName(pc), "task": ""}
	if task != nil {
		data["task"] = task.Name
	}
	return data
}

// TasksOfModule tasks declared by the "tasks" parameter of module
func TasksOfModule(module *descriptor.Module) []*cc.CloudTask {
	declared := descriptor.MapListParameter(module.Parameters, "tasks")
	ret := make([]*cc.CloudTask, 0, len(declared))
	for _, task := range declared {
		ret = append(ret, &cc.CloudTask{
			Name:       descriptor.StringParameter(task, "name", ""),
			Command:    descriptor.StringParameter(task, "command", ""),
			MemoryInMB: descriptor.MemoryParameter(task, "memory", 0),
		})
	}
	return ret
}

// ExecuteTaskStep runs process.VarTaskToExecute on the application being deployed and waits for it
type ExecuteTaskStep struct {
	Timeouts Timeouts
}

func NewExecuteTaskStep(timeouts Timeouts) *process.AsyncStep {
	return process.NewAsyncStep(&ExecuteTaskStep{Timeouts: timeouts})
}

func (s *ExecuteTaskStep) ExecuteAsync(pc *process.ProcessContext) (process.StepPhase, error) {
	task := process.Get(pc, process.VarTaskToExecute)
	if task == nil {
		return process.StepPhaseDone, nil
	}
	if task.Command == "" {
		return "", process.NewContentError("Task %q of application %q has no command", task.Name, appName(pc))
	}
	app, err := appToProcess(pc)
	if err != nil {
		return "", err
	}
	pc.Logger().Infof("%s", format(MessageExecutingTask, taskData(pc, task)))
	started, err := pc.Client().RunTask(pc.Context(), app.GUID, task)
	if err != nil {
		return "", err
	}
	started.ApplicationName = app.Name
	process.Set(pc, process.VarStartedTask, started)
	process.Set(pc, process.VarLogsOffset, pc.Now().UnixNano())
	return process.StepPhasePoll, nil
}

func (s *ExecuteTaskStep) AsyncExecutions(pc *process.ProcessContext) []process.AsyncExecution {
	return []process.AsyncExecution{&PollTaskExecution{}}
}

func (s *ExecuteTaskStep) Timeout(pc *process.ProcessContext) time.Duration {
	return pc.Timeout(process.VarAppsTaskExecutionTimeout, s.Timeouts.TaskExecution)
}

func (s *ExecuteTaskStep) ErrorMessage(pc *process.ProcessContext) string {
	return format(MessageErrorExecuteTask, taskData(pc, process.Get(pc, process.VarTaskToExecute)))
}

// PollTaskExecution polls process.VarStartedTask.
// The state is mapped on every poll, however long the task already runs.
type PollTaskExecution struct{}

func (e *PollTaskExecution) Execute(pc *process.ProcessContext) process.AsyncExecutionState {
	started := process.Get(pc, process.VarStartedTask)
	if started == nil {
		return process.AsyncExecutionStateError
	}
	task, err := pc.Client().GetTask(pc.Context(), started.GUID)
	if err != nil {
		return stateOnLookupError(pc, err, false)
	}
	app := process.Get(pc, process.VarAppToProcess)
	data := taskData(pc, started)
	switch task.State {
	case cc.TaskStateSucceeded:
		reportRecentLogs(pc, app)
		pc.Logger().Infof("%s", format(MessageTaskSucceeded, data))
		return process.AsyncExecutionStateFinished
	case cc.TaskStateFailed:
		reportRecentLogs(pc, app)
		data["reason"] = task.FailureReason
		pc.Logger().Errorf("%s", format(MessageTaskFailed, data))
		return process.AsyncExecutionStateError
	case cc.TaskStatePending, cc.TaskStateRunning, cc.TaskStateCanceling:
		reportRecentLogs(pc, app)
		return process.AsyncExecutionStateRunning
	}
	pc.Logger().Errorf("task %s is in unexpected state %q", started.GUID, task.State)
	return process.AsyncExecutionStateError
}

func (e *PollTaskExecution) PollingErrorMessage(pc *process.ProcessContext) string {
	return format(MessageErrorPollingTask, taskData(pc, process.Get(pc, process.VarStartedTask)))
}
