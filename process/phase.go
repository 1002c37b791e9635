package process

// StepPhase lifecycle of a step, stored in VarStepPhase between invocations
type StepPhase string

const (
	// StepPhaseExecute do the work or start the remote operation, the phase of an unset variable
	StepPhaseExecute StepPhase = "EXECUTE"
	// StepPhasePoll a remote operation is in flight
	StepPhasePoll StepPhase = "POLL"
	StepPhaseDone StepPhase = "DONE"
	// StepPhaseRetry the last attempt failed and may be repeated, handled like StepPhaseExecute
	StepPhaseRetry StepPhase = "RETRY"
)

// AsyncExecutionState outcome of one poll of one remote operation
type AsyncExecutionState string

const (
	AsyncExecutionStateRunning  AsyncExecutionState = "RUNNING"
	AsyncExecutionStateFinished AsyncExecutionState = "FINISHED"
	AsyncExecutionStateError    AsyncExecutionState = "ERROR"
)

// Aggregate ERROR dominates RUNNING, RUNNING dominates FINISHED. No states aggregate to FINISHED.
func Aggregate(states ...AsyncExecutionState) AsyncExecutionState {
	result := AsyncExecutionStateFinished
	for _, state := range states {
		switch state {
		case AsyncExecutionStateError:
			return AsyncExecutionStateError
		case AsyncExecutionStateRunning:
			result = AsyncExecutionStateRunning
		}
	}
	return result
}

// PhaseOf maps an aggregated state to the phase of the polling step
func PhaseOf(state AsyncExecutionState) StepPhase {
	if state == AsyncExecutionStateFinished {
		return StepPhaseDone
	}
	return StepPhasePoll
}
