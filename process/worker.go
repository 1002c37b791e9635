package process

import (
	"context"

	"github.com/cloudfoundry/multiapps-controller-sub003/workflow"
	"github.com/pkg/errors"
)

// StepWorker runs a step as a workflow node.
// Run is the first invocation of the node instance, or the first one after a restart or a failed Run.
// AsynchronousWaitCheck invokes the step again until it reports DONE.
type StepWorker struct {
	runner *Runner
}

func NewStepWorker(runner *Runner) workflow.WorkflowTaskNodeWorker {
	return &StepWorker{runner: runner}
}

func (w *StepWorker) Run(ctx context.Context, execution *workflow.Execution) error {
	phase := StepPhaseExecute
	if _, invokedBefore := execution.GetLocalVariable(VarStepPhase.Name); invokedBefore {
		phase = StepPhaseRetry
		// a restart resets the fail count, the timeout windows start over with it
		if execution.FailCount == 0 {
			execution.RemoveLocalVariable(VarStepStartTime.Name)
			execution.RemoveLocalVariable(VarRetryStartTime.Name)
		}
	}
	execution.SetLocalVariable(VarStepPhase.Name, string(phase))
	_, err := w.invoke(ctx, execution)
	return err
}

func (w *StepWorker) AsynchronousWaitCheck(ctx context.Context, execution *workflow.Execution) error {
	if phase, _ := execution.GetLocalVariable(VarStepPhase.Name); phase == string(StepPhaseDone) {
		return nil
	}
	phase, err := w.invoke(ctx, execution)
	if err != nil {
		return err
	}
	if phase != StepPhaseDone {
		return workflow.ErrorWorkflowTaskInstanceNotReady
	}
	return nil
}

// invoke retriable failures stay plain errors so the engine invokes the node again
func (w *StepWorker) invoke(ctx context.Context, execution *workflow.Execution) (StepPhase, error) {
	phase, err := w.runner.Invoke(ctx, execution)
	if err == nil {
		return phase, nil
	}
	var stepErr *StepError
	if errors.As(err, &stepErr) && stepErr.Retriable {
		return phase, err
	}
	return "", errors.WithMessage(workflow.ErrWorkflowTaskFailedWithFailed, err.Error())
}
