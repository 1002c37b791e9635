package process

import (
	"context"
	"net/http"
	"testing"

	cc "github.com/cloudfoundry/multiapps-controller-sub003/cloudcontroller"
	"github.com/cloudfoundry/multiapps-controller-sub003/workflow"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newWorkflowExecution() *workflow.Execution {
	return &workflow.Execution{
		WorkflowInstanceID: 7,
		TaskType:           "create-service",
		Variables:          workflow.NewJSONContext(nil),
		NodeContext:        workflow.NewJSONContext(nil),
	}
}

type scriptedStep struct {
	seen    []StepPhase
	results []StepPhase
	errs    []error
}

func (s *scriptedStep) Execute(pc *ProcessContext) (StepPhase, error) {
	i := len(s.seen)
	s.seen = append(s.seen, Get(pc, VarStepPhase))
	if i < len(s.errs) && s.errs[i] != nil {
		return "", s.errs[i]
	}
	return s.results[min(i, len(s.results)-1)], nil
}

func (s *scriptedStep) ErrorMessage(pc *ProcessContext) string {
	return `Error creating service "db"`
}

func TestStepWorker_PollsUntilDone(t *testing.T) {
	step := &scriptedStep{results: []StepPhase{StepPhasePoll, StepPhasePoll, StepPhaseDone}}
	runner, _ := newTestRunner(step)
	worker := NewStepWorker(runner)
	execution := newWorkflowExecution()
	ctx := context.Background()

	require.NoError(t, worker.Run(ctx, execution))
	assert.ErrorIs(t, worker.AsynchronousWaitCheck(ctx, execution), workflow.ErrorWorkflowTaskInstanceNotReady)
	require.NoError(t, worker.AsynchronousWaitCheck(ctx, execution))
	// DONE is not invoked again
	require.NoError(t, worker.AsynchronousWaitCheck(ctx, execution))

	assert.Equal(t, []StepPhase{StepPhaseExecute, StepPhasePoll, StepPhasePoll}, step.seen)
	phase, ok := execution.NodeContext.GetString(workflow.NodeContextKeyVariables, VarStepPhase.Name)
	assert.True(t, ok)
	assert.Equal(t, string(StepPhaseDone), phase)
}

func TestStepWorker_SecondRunIsRetry(t *testing.T) {
	step := &scriptedStep{results: []StepPhase{StepPhaseDone}}
	runner, _ := newTestRunner(step)
	worker := NewStepWorker(runner)
	execution := newWorkflowExecution()

	require.NoError(t, worker.Run(context.Background(), execution))
	require.NoError(t, worker.Run(context.Background(), execution))
	assert.Equal(t, []StepPhase{StepPhaseExecute, StepPhaseRetry}, step.seen)
}

func TestStepWorker_RetriableErrorStaysPlain(t *testing.T) {
	step := &scriptedStep{
		results: []StepPhase{StepPhasePoll},
		errs:    []error{nil, cc.NewCloudOperationError(http.StatusServiceUnavailable, "")},
	}
	runner, _ := newTestRunner(step)
	worker := NewStepWorker(runner)
	execution := newWorkflowExecution()
	ctx := context.Background()

	require.NoError(t, worker.Run(ctx, execution))
	err := worker.AsynchronousWaitCheck(ctx, execution)
	require.Error(t, err)
	assert.NotErrorIs(t, err, workflow.ErrWorkflowTaskFailedWithFailed)
	assert.NotErrorIs(t, err, workflow.ErrorWorkflowTaskInstanceNotReady)

	// the next invocation starts the operation over
	assert.ErrorIs(t, worker.AsynchronousWaitCheck(ctx, execution), workflow.ErrorWorkflowTaskInstanceNotReady)
	assert.Equal(t, []StepPhase{StepPhaseExecute, StepPhasePoll, StepPhaseRetry}, step.seen)
}

func TestStepWorker_FatalErrorFailsNode(t *testing.T) {
	step := &scriptedStep{errs: []error{errors.New("quota exceeded")}}
	runner, _ := newTestRunner(step)
	execution := newWorkflowExecution()

	err := NewStepWorker(runner).Run(context.Background(), execution)
	assert.ErrorIs(t, err, workflow.ErrWorkflowTaskFailedWithFailed)
	assert.ErrorContains(t, err, `Error creating service "db": quota exceeded`)

	errorType, ok := execution.Variables.GetString(VarErrorType.Name)
	assert.True(t, ok)
	assert.Equal(t, string(ErrorTypeUnknown), errorType)
}

func TestStepWorker_RestartResetsTimeoutWindows(t *testing.T) {
	step := &scriptedStep{results: []StepPhase{StepPhasePoll}}
	runner, _ := newTestRunner(step)
	worker := NewStepWorker(runner)
	execution := newWorkflowExecution()
	execution.SetLocalVariable(VarStepPhase.Name, string(StepPhaseRetry))
	execution.SetLocalVariable(VarStepStartTime.Name, testStart.UnixMilli())

	execution.FailCount = 3
	require.NoError(t, worker.Run(context.Background(), execution))
	_, ok := execution.GetLocalVariable(VarStepStartTime.Name)
	assert.True(t, ok, "retried by the engine")

	execution.FailCount = 0
	require.NoError(t, worker.Run(context.Background(), execution))
	_, ok = execution.GetLocalVariable(VarStepStartTime.Name)
	assert.False(t, ok, "restarted by the user")
	assert.Equal(t, []StepPhase{StepPhaseRetry, StepPhaseRetry}, step.seen)
}
