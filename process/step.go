package process

import (
	"context"
	"fmt"
	"time"

	cc "github.com/cloudfoundry/multiapps-controller-sub003/cloudcontroller"
	"github.com/cloudfoundry/multiapps-controller-sub003/descriptor"
	"github.com/pkg/errors"
	"k8s.io/utils/clock"
)

// Step one idempotent unit of work.
// Execute may run several times for one step instance, it must not repeat side effects
// that already happened.
type Step interface {
	Execute(pc *ProcessContext) (StepPhase, error)
	// ErrorMessage user-facing message naming the resource the step works on
	ErrorMessage(pc *ProcessContext) string
}

// SyncStep a Step made of two functions
type SyncStep struct {
	ExecuteFunc      func(pc *ProcessContext) (StepPhase, error)
	ErrorMessageFunc func(pc *ProcessContext) string
}

func (s *SyncStep) Execute(pc *ProcessContext) (StepPhase, error) {
	return s.ExecuteFunc(pc)
}

func (s *SyncStep) ErrorMessage(pc *ProcessContext) string {
	if s.ErrorMessageFunc == nil {
		return FormatMessage(MessageStepFailed, map[string]any{"step": pc.StepID()})
	}
	return s.ErrorMessageFunc(pc)
}

// HookPointProvider steps with extension points around their own logic
type HookPointProvider interface {
	HookPointsBeforeStep(pc *ProcessContext) []HookPoint
	HookPointsAfterStep(pc *ProcessContext) []HookPoint
}

// Runner invokes one step on behalf of the engine and classifies its failures.
type Runner struct {
	Step     Step
	Client   cc.Client
	Messages ProgressMessageService
	Hooks    HookExecutor
	Clock    clock.PassiveClock
	Metrics  *Metrics
	// RetryTimeout how long retriable failures in a row are retried before the step fails,
	// the stepTimeout variable overrides it, 0 retries until the engine gives up
	RetryTimeout time.Duration
}

/*
*
  - @description: run the step once
  - @param ctx context.Context
  - @param execution Execution
  - @return StepPhase the phase stored for the next invocation
  - @return error always a *StepError, Retriable tells whether invoking again may help
*/
func (r *Runner) Invoke(ctx context.Context, execution Execution) (phase StepPhase, err error) {
	clk := r.Clock
	if clk == nil {
		clk = clock.RealClock{}
	}
	logger := NewStepLogger(ctx, execution.ProcessInstanceID(), execution.ActivityID(), r.Messages, clk.Now)
	pc := NewContext(ctx, execution, r.Client, logger, clk)
	pc.hooks = r.Hooks
	begin := clk.Now()
	defer func() {
		r.observe(pc, phase, err, clk.Since(begin))
	}()

	phase, err = runStep(pc, r.Step)
	if err != nil {
		stepErr := r.classify(pc, err)
		if stepErr.Retriable && r.retriesExhausted(pc) {
			timeout := pc.Timeout(VarStepTimeout, r.RetryTimeout)
			message := FormatMessage(MessageRetriesTimedOut, map[string]any{"step": pc.StepID(), "timeout": timeout.String()})
			stepErr = NewStepError(errors.WithMessage(ErrTimeout, stepErr.Error()), "%s", message)
		}
		Set(pc, VarErrorType, stepErr.ErrorType)
		Set(pc, VarErrorMessage, stepErr.Error())
		logger.Errorf("%s", stepErr.Error())
		if stepErr.Retriable {
			Set(pc, VarStepPhase, StepPhaseRetry)
			return StepPhaseRetry, stepErr
		}
		return "", stepErr
	}
	Remove(pc, VarRetryStartTime)
	Set(pc, VarStepPhase, phase)
	return phase, nil
}

// retriesExhausted the retry window opens with the first retriable failure and closes on success
func (r *Runner) retriesExhausted(pc *ProcessContext) bool {
	if !IsSet(pc, VarRetryStartTime) {
		Set(pc, VarRetryStartTime, pc.Now().UnixMilli())
		return false
	}
	timeout := pc.Timeout(VarStepTimeout, r.RetryTimeout)
	return timeout > 0 && pc.Since(Get(pc, VarRetryStartTime)) > timeout
}

// runStep executes step between its before and after hooks.
// Before-step hooks are skipped while the step is polling.
func runStep(pc *ProcessContext, step Step) (StepPhase, error) {
	provider := hookPointProviderOf(step)
	if provider != nil && Get(pc, VarStepPhase) != StepPhasePoll {
		if err := executeHooks(pc, provider.HookPointsBeforeStep(pc)); err != nil {
			return "", err
		}
	}
	phase, err := step.Execute(pc)
	if err != nil {
		return "", err
	}
	if provider != nil && phase == StepPhaseDone {
		if err := executeHooks(pc, provider.HookPointsAfterStep(pc)); err != nil {
			return "", err
		}
	}
	return phase, nil
}

func hookPointProviderOf(step Step) HookPointProvider {
	if provider, ok := step.(HookPointProvider); ok {
		return provider
	}
	if asyncStep, ok := step.(*AsyncStep); ok {
		if provider, ok := asyncStep.Spec.(HookPointProvider); ok {
			return provider
		}
	}
	return nil
}

func executeHooks(pc *ProcessContext, points []HookPoint) error {
	module, hooks := resolveHooks(pc, points)
	if len(hooks) == 0 {
		return nil
	}
	if pc.hooks == nil {
		return errors.Errorf("no hook executor configured, module: %s", module.Name)
	}
	names := make([]string, 0, len(hooks))
	for _, hook := range hooks {
		names = append(names, hook.Name)
	}
	pc.Logger().Infof("%s", FormatMessage(MessageExecutingHooks, map[string]any{"hooks": names, "module": module.Name}))
	return pc.hooks.ExecuteHooks(pc, module, hooks, points)
}

// classify content errors and unclassified errors are fatal, platform unavailability may be retried
func (r *Runner) classify(pc *ProcessContext, err error) *StepError {
	var stepErr *StepError
	if errors.As(err, &stepErr) {
		if stepErr.Message == "" {
			stepErr.Message = r.Step.ErrorMessage(pc)
		}
		if stepErr.ErrorType == "" {
			stepErr.ErrorType = ErrorTypeUnknown
		}
		return stepErr
	}
	if errors.Is(err, descriptor.ErrInvalidDescriptor) || errors.Is(err, descriptor.ErrUnsupportedSchemaVersion) {
		return AsContentError(err, "%s", r.Step.ErrorMessage(pc))
	}
	if cc.Classify(err) == cc.OutcomeUnavailable {
		return NewRetriableError(err, "%s", r.Step.ErrorMessage(pc))
	}
	return NewStepError(err, "%s", r.Step.ErrorMessage(pc))
}

func (r *Runner) observe(pc *ProcessContext, phase StepPhase, err error, elapsed time.Duration) {
	if r.Metrics == nil {
		return
	}
	r.Metrics.InvocationDuration.WithLabelValues(pc.StepID(), string(phase), fmt.Sprint(err == nil)).Observe(elapsed.Seconds())
	if err == nil {
		return
	}
	errorType := ErrorTypeUnknown
	var stepErr *StepError
	if errors.As(err, &stepErr) {
		errorType = stepErr.ErrorType
	}
	r.Metrics.Failures.WithLabelValues(pc.StepID(), string(errorType)).Inc()
	if errors.Is(err, ErrTimeout) {
		r.Metrics.PollTimeouts.WithLabelValues(pc.StepID()).Inc()
	}
}
