package process

import (
	"strings"
	"time"
)

// AsyncExecution one poll of one remote operation.
// It only reads remote state, it never starts work.
type AsyncExecution interface {
	Execute(pc *ProcessContext) AsyncExecutionState
	// PollingErrorMessage names the resource instance that was polled
	PollingErrorMessage(pc *ProcessContext) string
}

// AsyncStepSpec the parts of a polling step that differ per resource
type AsyncStepSpec interface {
	// ExecuteAsync starts the remote operation and returns StepPhasePoll,
	// or StepPhaseDone when the platform completed it synchronously
	ExecuteAsync(pc *ProcessContext) (StepPhase, error)
	// AsyncExecutions polled in this order on every invocation in StepPhasePoll
	AsyncExecutions(pc *ProcessContext) []AsyncExecution
	// Timeout measured from the start of ExecuteAsync, 0 disables it
	Timeout(pc *ProcessContext) time.Duration
	ErrorMessage(pc *ProcessContext) string
}

// PollingErrorHandler decides what a failed poll means, e.g. optional resources end the step with a warning.
// Without it a failed poll fails the step.
type PollingErrorHandler interface {
	OnPollingError(pc *ProcessContext, err *StepError) (StepPhase, error)
}

// AsyncStep Step that starts a remote operation once and polls it until it ends or times out
type AsyncStep struct {
	Spec AsyncStepSpec
}

func NewAsyncStep(spec AsyncStepSpec) *AsyncStep {
	return &AsyncStep{Spec: spec}
}

func (s *AsyncStep) Execute(pc *ProcessContext) (StepPhase, error) {
	phase := Get(pc, VarStepPhase)
	if phase == StepPhasePoll {
		return s.poll(pc)
	}
	// RETRY repeats the attempt in the window it started, a restarted step has no window yet
	if phase != StepPhaseRetry || !IsSet(pc, VarStepStartTime) {
		Set(pc, VarStepStartTime, pc.Now().UnixMilli())
	} else if err := s.checkTimeout(pc); err != nil {
		return s.onError(pc, err)
	}
	return s.Spec.ExecuteAsync(pc)
}

func (s *AsyncStep) checkTimeout(pc *ProcessContext) *StepError {
	timeout := s.Spec.Timeout(pc)
	if timeout <= 0 || pc.Since(Get(pc, VarStepStartTime)) <= timeout {
		return nil
	}
	message := FormatMessage(MessageStepTimedOut, map[string]any{"step": pc.StepID(), "timeout": timeout.String()})
	return NewStepError(ErrTimeout, "%s", message)
}

func (s *AsyncStep) ErrorMessage(pc *ProcessContext) string {
	return s.Spec.ErrorMessage(pc)
}

func (s *AsyncStep) poll(pc *ProcessContext) (StepPhase, error) {
	if !IsSet(pc, VarStepStartTime) {
		Set(pc, VarStepStartTime, pc.Now().UnixMilli())
	}
	if err := s.checkTimeout(pc); err != nil {
		return s.onError(pc, err)
	}

	executions := s.Spec.AsyncExecutions(pc)
	states := make([]AsyncExecutionState, 0, len(executions))
	failures := make([]string, 0)
	for _, execution := range executions {
		state := execution.Execute(pc)
		states = append(states, state)
		if state == AsyncExecutionStateError {
			failures = append(failures, execution.PollingErrorMessage(pc))
		}
	}
	switch Aggregate(states...) {
	case AsyncExecutionStateFinished:
		return StepPhaseDone, nil
	case AsyncExecutionStateRunning:
		return StepPhasePoll, nil
	}
	return s.onError(pc, NewStepError(ErrPollingFailed, "%s", strings.Join(failures, "; ")))
}

func (s *AsyncStep) onError(pc *ProcessContext, err *StepError) (StepPhase, error) {
	if handler, ok := s.Spec.(PollingErrorHandler); ok {
		return handler.OnPollingError(pc, err)
	}
	return "", err
}
