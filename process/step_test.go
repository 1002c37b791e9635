package process

import (
	"context"
	"net/http"
	"testing"
	"time"

	cc "github.com/cloudfoundry/multiapps-controller-sub003/cloudcontroller"
	"github.com/cloudfoundry/multiapps-controller-sub003/descriptor"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	testingclock "k8s.io/utils/clock/testing"
)

func newTestRunner(step Step) (*Runner, *recordedMessages) {
	messages := &recordedMessages{}
	return &Runner{
		Step:     step,
		Messages: messages,
		Clock:    testingclock.NewFakeClock(testStart),
		Metrics:  NewMetrics(prometheus.NewRegistry()),
	}, messages
}

func failingStep(err error) *SyncStep {
	return &SyncStep{
		ExecuteFunc: func(pc *ProcessContext) (StepPhase, error) {
			return "", err
		},
		ErrorMessageFunc: func(pc *ProcessContext) string {
			return `Error creating service "db"`
		},
	}
}

func TestRunner_StoresPhase(t *testing.T) {
	runner, _ := newTestRunner(&SyncStep{ExecuteFunc: func(pc *ProcessContext) (StepPhase, error) {
		return StepPhasePoll, nil
	}})
	execution := newFakeExecution()

	phase, err := runner.Invoke(context.Background(), execution)
	require.NoError(t, err)
	assert.Equal(t, StepPhasePoll, phase)
	assert.Equal(t, string(StepPhasePoll), execution.locals[VarStepPhase.Name])
}

func TestRunner_ClassifiesErrors(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		errorType ErrorType
		retriable bool
		message   string
	}{
		{
			name:      "unknown error is fatal",
			err:       errors.New("connection reset"),
			errorType: ErrorTypeUnknown,
			message:   `Error creating service "db": connection reset`,
		},
		{
			name:      "platform unavailable is retriable",
			err:       errors.WithMessage(cc.NewCloudOperationError(http.StatusBadGateway, "router"), "create service"),
			errorType: ErrorTypeUnknown,
			retriable: true,
		},
		{
			name:      "platform rejection is fatal",
			err:       cc.NewCloudOperationError(http.StatusForbidden, "not authorized"),
			errorType: ErrorTypeUnknown,
		},
		{
			name:      "descriptor error is a content error",
			err:       errors.WithMessage(descriptor.ErrInvalidDescriptor, "module name is empty"),
			errorType: ErrorTypeContent,
		},
		{
			name:      "content error is kept",
			err:       NewContentError("Service %q has no plan", "db"),
			errorType: ErrorTypeContent,
			message:   `Service "db" has no plan`,
		},
		{
			name:      "step error without message gets the step message",
			err:       &StepError{Retriable: true},
			errorType: ErrorTypeUnknown,
			retriable: true,
			message:   `Error creating service "db"`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			runner, messages := newTestRunner(failingStep(tt.err))
			execution := newFakeExecution()

			phase, err := runner.Invoke(context.Background(), execution)
			var stepErr *StepError
			require.ErrorAs(t, err, &stepErr)
			assert.Equal(t, tt.errorType, stepErr.ErrorType)
			assert.Equal(t, tt.retriable, stepErr.Retriable)
			if tt.message != "" {
				assert.Equal(t, tt.message, stepErr.Error())
			}
			assert.Equal(t, string(tt.errorType), execution.variables[VarErrorType.Name])
			assert.Equal(t, stepErr.Error(), execution.variables[VarErrorMessage.Name])
			assert.Equal(t, []string{stepErr.Error()}, messages.ofType(ProgressMessageError))
			if tt.retriable {
				assert.Equal(t, StepPhaseRetry, phase)
				assert.Equal(t, string(StepPhaseRetry), execution.locals[VarStepPhase.Name])
			} else {
				assert.Empty(t, phase)
			}
			assert.Equal(t, float64(1), testutil.ToFloat64(runner.Metrics.Failures.WithLabelValues("test-step", string(tt.errorType))))
		})
	}
}

func TestRunner_TimeoutMetric(t *testing.T) {
	runner, _ := newTestRunner(failingStep(NewStepError(ErrTimeout, "timed out")))

	_, err := runner.Invoke(context.Background(), newFakeExecution())
	require.Error(t, err)
	assert.Equal(t, float64(1), testutil.ToFloat64(runner.Metrics.PollTimeouts.WithLabelValues("test-step")))
	assert.Equal(t, 1, testutil.CollectAndCount(runner.Metrics.InvocationDuration))
}

func TestRunner_RetriesUntilStepTimeout(t *testing.T) {
	unavailable := true
	step := &SyncStep{
		ExecuteFunc: func(pc *ProcessContext) (StepPhase, error) {
			if unavailable {
				return "", cc.NewCloudOperationError(http.StatusServiceUnavailable, "service broker unavailable")
			}
			return StepPhaseDone, nil
		},
		ErrorMessageFunc: func(pc *ProcessContext) string {
			return `Error creating service "db"`
		},
	}
	runner, _ := newTestRunner(step)
	runner.RetryTimeout = time.Hour
	clk := runner.Clock.(*testingclock.FakeClock)
	execution := newFakeExecution()

	for i := 0; i < 3; i++ {
		phase, err := runner.Invoke(context.Background(), execution)
		assert.Equal(t, StepPhaseRetry, phase)
		var stepErr *StepError
		require.ErrorAs(t, err, &stepErr)
		assert.True(t, stepErr.Retriable)
		clk.Step(25 * time.Minute)
	}

	phase, err := runner.Invoke(context.Background(), execution)
	assert.Empty(t, phase)
	assert.ErrorIs(t, err, ErrTimeout)
	var stepErr *StepError
	require.ErrorAs(t, err, &stepErr)
	assert.False(t, stepErr.Retriable)
	assert.Equal(t, `Step "test-step" kept failing for 1h0m0s, giving up`, stepErr.Message)

	t.Run("success closes the window", func(t *testing.T) {
		execution := newFakeExecution()
		_, err := runner.Invoke(context.Background(), execution)
		require.Error(t, err)
		assert.Contains(t, execution.locals, VarRetryStartTime.Name)

		unavailable = false
		phase, err := runner.Invoke(context.Background(), execution)
		require.NoError(t, err)
		assert.Equal(t, StepPhaseDone, phase)
		assert.NotContains(t, execution.locals, VarRetryStartTime.Name)
	})

	t.Run("stepTimeout variable overrides", func(t *testing.T) {
		unavailable = true
		execution := newFakeExecution()
		execution.variables[VarStepTimeout.Name] = 60
		_, err := runner.Invoke(context.Background(), execution)
		require.Error(t, err)
		clk.Step(2 * time.Minute)
		_, err = runner.Invoke(context.Background(), execution)
		assert.ErrorIs(t, err, ErrTimeout)
	})

	t.Run("zero timeout retries", func(t *testing.T) {
		unavailable = true
		runner, _ := newTestRunner(step)
		clk := runner.Clock.(*testingclock.FakeClock)
		execution := newFakeExecution()
		for i := 0; i < 5; i++ {
			phase, err := runner.Invoke(context.Background(), execution)
			assert.Equal(t, StepPhaseRetry, phase)
			require.Error(t, err)
			clk.Step(24 * time.Hour)
		}
	})
}

type hookedStep struct {
	SyncStep
	before []HookPoint
	after  []HookPoint
}

func (s *hookedStep) HookPointsBeforeStep(pc *ProcessContext) []HookPoint { return s.before }
func (s *hookedStep) HookPointsAfterStep(pc *ProcessContext) []HookPoint  { return s.after }

type recordingHookExecutor struct {
	executed [][]string
	err      error
}

func (e *recordingHookExecutor) ExecuteHooks(pc *ProcessContext, module *descriptor.Module, hooks []*descriptor.Hook, points []HookPoint) error {
	names := make([]string, 0, len(hooks))
	for _, hook := range hooks {
		names = append(names, hook.Name)
	}
	e.executed = append(e.executed, names)
	return e.err
}

var hookedModule = &descriptor.Module{
	Name: "backend",
	Hooks: []*descriptor.Hook{
		{Name: "drain", Phases: []string{"application.before-stop"}},
		{Name: "report", Phases: []string{"application.after-stop"}},
	},
}

func TestRunner_Hooks(t *testing.T) {
	next := StepPhasePoll
	step := &hookedStep{
		SyncStep: SyncStep{ExecuteFunc: func(pc *ProcessContext) (StepPhase, error) { return next, nil }},
		before:   []HookPoint{HookPointBeforeStop},
		after:    []HookPoint{HookPointAfterStop},
	}
	runner, messages := newTestRunner(step)
	hooks := &recordingHookExecutor{}
	runner.Hooks = hooks
	execution := newFakeExecution()
	pc, _, _ := newTestContext(t, execution)
	Set(pc, VarModuleToDeploy, hookedModule)

	_, err := runner.Invoke(context.Background(), execution)
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"drain"}}, hooks.executed)
	assert.Equal(t, []string{`Executing hooks drain of module "backend"`}, messages.ofType(ProgressMessageInfo))

	// polling invocations skip the before-step hooks
	next = StepPhaseDone
	_, err = runner.Invoke(context.Background(), execution)
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"drain"}, {"report"}}, hooks.executed)
}

func TestRunner_HookFailureFailsStep(t *testing.T) {
	executed := false
	step := &hookedStep{
		SyncStep: SyncStep{ExecuteFunc: func(pc *ProcessContext) (StepPhase, error) {
			executed = true
			return StepPhaseDone, nil
		}},
		before: []HookPoint{HookPointBeforeStop},
	}
	runner, _ := newTestRunner(step)
	runner.Hooks = &recordingHookExecutor{err: errors.New("task failed")}
	execution := newFakeExecution()
	pc, _, _ := newTestContext(t, execution)
	Set(pc, VarModuleToDeploy, hookedModule)

	_, err := runner.Invoke(context.Background(), execution)
	require.Error(t, err)
	assert.False(t, executed)
}

func TestRunner_NoModuleNoHooks(t *testing.T) {
	step := &hookedStep{
		SyncStep: SyncStep{ExecuteFunc: func(pc *ProcessContext) (StepPhase, error) { return StepPhaseDone, nil }},
		before:   []HookPoint{HookPointBeforeStop},
	}
	runner, _ := newTestRunner(step)

	phase, err := runner.Invoke(context.Background(), newFakeExecution())
	require.NoError(t, err)
	assert.Equal(t, StepPhaseDone, phase)
}

type hookedAsyncSpec struct {
	fakeAsyncSpec
}

func (s *hookedAsyncSpec) HookPointsBeforeStep(pc *ProcessContext) []HookPoint {
	return []HookPoint{HookPointBeforeStop}
}
func (s *hookedAsyncSpec) HookPointsAfterStep(pc *ProcessContext) []HookPoint { return nil }

func TestRunner_HooksOfAsyncSpec(t *testing.T) {
	runner, _ := newTestRunner(NewAsyncStep(&hookedAsyncSpec{}))
	hooks := &recordingHookExecutor{}
	runner.Hooks = hooks
	execution := newFakeExecution()
	pc, _, _ := newTestContext(t, execution)
	Set(pc, VarModuleToDeploy, hookedModule)

	phase, err := runner.Invoke(context.Background(), execution)
	require.NoError(t, err)
	assert.Equal(t, StepPhasePoll, phase)
	assert.Equal(t, [][]string{{"drain"}}, hooks.executed)
}

func TestRunner_MissingHookExecutor(t *testing.T) {
	step := &hookedStep{
		SyncStep: SyncStep{ExecuteFunc: func(pc *ProcessContext) (StepPhase, error) { return StepPhaseDone, nil }},
		before:   []HookPoint{HookPointBeforeStop},
	}
	runner, _ := newTestRunner(step)
	execution := newFakeExecution()
	pc, _, _ := newTestContext(t, execution)
	Set(pc, VarModuleToDeploy, hookedModule)

	_, err := runner.Invoke(context.Background(), execution)
	assert.ErrorContains(t, err, "no hook executor configured")
}
