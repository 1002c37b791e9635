package steps

import (
	"fmt"
	"time"

	cc "github.com/cloudfoundry/multiapps-controller-sub003/cloudcontroller"
	"github.com/cloudfoundry/multiapps-controller-sub003/process"
	"github.com/pkg/errors"
)

func keyData(key *cc.ServiceKey) map[string]any {
	if key == nil {
		return map[string]any{"key": "", "service": ""}
	}
	return map[string]any{"key": key.Name, "service": key.ServiceInstanceName}
}

// CreateServiceKeyStep creates process.VarServiceKeyToProcess.
// A key that already exists is not created again, a key still being created by an earlier
// invocation is polled through its last operation.
type CreateServiceKeyStep struct {
	Timeouts Timeouts
}

func NewCreateServiceKeyStep(timeouts Timeouts) *process.AsyncStep {
	return process.NewAsyncStep(&CreateServiceKeyStep{Timeouts: timeouts})
}

func (s *CreateServiceKeyStep) ExecuteAsync(pc *process.ProcessContext) (process.StepPhase, error) {
	key := process.Get(pc, process.VarServiceKeyToProcess)
	if key == nil {
		return "", process.NewContentError("No service key to create")
	}
	process.Set(pc, process.VarUseLastOperationForServiceKeyCreation, false)
	process.Remove(pc, process.VarJobID)
	pc.Logger().Infof("%s", format(MessageCreatingServiceKey, keyData(key)))

	jobID, err := pc.Client().CreateServiceKey(pc.Context(), key)
	switch cc.Classify(err) {
	case cc.OutcomeOK:
		if jobID == "" {
			pc.Logger().Infof("%s", format(MessageServiceKeyCreated, keyData(key)))
			return process.StepPhaseDone, nil
		}
		process.Set(pc, process.VarJobID, jobID)
		return process.StepPhasePoll, nil
	case cc.OutcomeConflict:
		return s.onExistingKey(pc, key)
	}
	return tolerateOptional(pc, key.Optional, err, format(MessageErrorCreatingServiceKey, keyData(key)))
}

// onExistingKey the key exists, maybe because an earlier invocation created it
func (s *CreateServiceKeyStep) onExistingKey(pc *process.ProcessContext, key *cc.ServiceKey) (process.StepPhase, error) {
	existing, err := pc.Client().GetServiceKey(pc.Context(), key.ServiceInstanceName, key.Name)
	if err != nil {
		return tolerateOptional(pc, key.Optional, err, format(MessageErrorCreatingServiceKey, keyData(key)))
	}
	if existing.LastOperation == nil {
		pc.Logger().Infof("%s", format(MessageServiceKeyAlreadyExists, keyData(key)))
		return process.StepPhaseDone, nil
	}
	switch existing.LastOperation.State {
	case cc.OperationStateInitial, cc.OperationStateInProgress:
		pc.Logger().Infof("%s", format(MessageServiceKeyInProgress, keyData(key)))
		process.Set(pc, process.VarUseLastOperationForServiceKeyCreation, true)
		return process.StepPhasePoll, nil
	case cc.OperationStateFailed:
		err := process.NewContentError("%s: last operation %s failed: %s", format(MessageErrorCreatingServiceKey, keyData(key)),
			existing.LastOperation.Type, existing.LastOperation.Description)
		if key.Optional {
			pc.Logger().Warnf("%s", err.Error())
			return process.StepPhaseDone, nil
		}
		return "", err
	}
	pc.Logger().Infof("%s", format(MessageServiceKeyAlreadyExists, keyData(key)))
	return process.StepPhaseDone, nil
}

func (s *CreateServiceKeyStep) AsyncExecutions(pc *process.ProcessContext) []process.AsyncExecution {
	if process.Get(pc, process.VarUseLastOperationForServiceKeyCreation) {
		return []process.AsyncExecution{&PollServiceKeyLastOperationExecution{}}
	}
	return []process.AsyncExecution{&PollJobExecution{
		Resource: func(pc *process.ProcessContext) string {
			key := process.Get(pc, process.VarServiceKeyToProcess)
			return fmt.Sprintf("service key %q of service %q", key.Name, key.ServiceInstanceName)
		},
		Optional: serviceKeyIsOptional,
	}}
}

func (s *CreateServiceKeyStep) Timeout(pc *process.ProcessContext) time.Duration {
	return pc.Timeout(process.VarStepTimeout, s.Timeouts.Step)
}

func (s *CreateServiceKeyStep) ErrorMessage(pc *process.ProcessContext) string {
	return format(MessageErrorCreatingServiceKey, keyData(process.Get(pc, process.VarServiceKeyToProcess)))
}

func (s *CreateServiceKeyStep) OnPollingError(pc *process.ProcessContext, err *process.StepError) (process.StepPhase, error) {
	return tolerateOptionalPolling(pc, serviceKeyIsOptional(pc), err)
}

func serviceKeyIsOptional(pc *process.ProcessContext) bool {
	key := process.Get(pc, process.VarServiceKeyToProcess)
	return key != nil && key.Optional
}

// PollServiceKeyLastOperationExecution polls a key whose creation was started by an earlier invocation
type PollServiceKeyLastOperationExecution struct{}

func (e *PollServiceKeyLastOperationExecution) Execute(pc *process.ProcessContext) process.AsyncExecutionState {
	key := process.Get(pc, process.VarServiceKeyToProcess)
	if key == nil {
		return process.AsyncExecutionStateError
	}
	existing, err := pc.Client().GetServiceKey(pc.Context(), key.ServiceInstanceName, key.Name)
	if err != nil {
		return stateOnLookupError(pc, err, key.Optional)
	}
	if existing.LastOperation == nil {
		return process.AsyncExecutionStateFinished
	}
	switch existing.LastOperation.State {
	case cc.OperationStateSucceeded:
		pc.Logger().Infof("%s", format(MessageServiceKeyCreated, keyData(key)))
		return process.AsyncExecutionStateFinished
	case cc.OperationStateInitial, cc.OperationStateInProgress:
		return process.AsyncExecutionStateRunning
	case cc.OperationStateFailed:
		pc.Logger().Errorf("%s", existing.LastOperation.Description)
		return process.AsyncExecutionStateError
	}
	pc.Logger().Errorf("service key %s has last operation in unexpected state %q", key.Name, existing.LastOperation.State)
	return process.AsyncExecutionStateError
}

func (e *PollServiceKeyLastOperationExecution) PollingErrorMessage(pc *process.ProcessContext) string {
	return format(MessageErrorPollingServiceKey, keyData(process.Get(pc, process.VarServiceKeyToProcess)))
}

// NewDeleteServiceKeysStep deletes process.VarServiceKeysToDelete.
// Keys that are already gone are skipped, a failure on an optional key is logged and the rest is deleted.
func NewDeleteServiceKeysStep() process.Step {
	return &process.SyncStep{
		ExecuteFunc: func(pc *process.ProcessContext) (process.StepPhase, error) {
			for _, key := range process.Get(pc, process.VarServiceKeysToDelete) {
				if err := deleteServiceKey(pc, key); err != nil {
					return "", err
				}
			}
			return process.StepPhaseDone, nil
		},
		ErrorMessageFunc: func(pc *process.ProcessContext) string {
			return "Error deleting service keys"
		},
	}
}

func deleteServiceKey(pc *process.ProcessContext, key *cc.ServiceKey) error {
	pc.Logger().Infof("%s", format(MessageDeletingServiceKey, keyData(key)))
	guid := key.GUID
	if guid == "" {
		existing, err := pc.Client().GetServiceKey(pc.Context(), key.ServiceInstanceName, key.Name)
		if cc.Classify(err) == cc.OutcomeNotFound {
			pc.Logger().Infof("%s", format(MessageServiceKeyAlreadyDeleted, keyData(key)))
			return nil
		}
		if err != nil {
			return skipOptionalKey(pc, key, err)
		}
		guid = existing.GUID
	}
	jobID, err := pc.Client().DeleteServiceKey(pc.Context(), guid)
	switch cc.Classify(err) {
	case cc.OutcomeOK:
		if jobID != "" {
			pc.Logger().Debugf("deletion of service key %s runs as job %s", key.Name, jobID)
		}
		return nil
	case cc.OutcomeNotFound:
		pc.Logger().Infof("%s", format(MessageServiceKeyAlreadyDeleted, keyData(key)))
		return nil
	}
	return skipOptionalKey(pc, key, err)
}

func skipOptionalKey(pc *process.ProcessContext, key *cc.ServiceKey, err error) error {
	message := format(MessageErrorDeletingServiceKey, keyData(key))
	if key.Optional {
		pc.Logger().Warnf("%s", format(MessageIgnoringOptional, map[string]any{"message": message, "error": err.Error()}))
		return nil
	}
	return errors.WithMessage(err, message)
}
