package steps

import (
	"time"

	cc "github.com/cloudfoundry/multiapps-controller-sub003/cloudcontroller"
	"github.com/cloudfoundry/multiapps-controller-sub003/process"
)

func serviceData(service *cc.CloudServiceInstance) map[string]any {
	if service == nil {
		return map[string]any{"service": ""}
	}
	return map[string]any{"service": service.Name}
}

func serviceIsOptional(pc *process.ProcessContext) bool {
	service := process.Get(pc, process.VarServiceToProcess)
	return service != nil && service.Optional
}

// CreateOrUpdateServiceStep creates process.VarServiceToProcess or updates the existing instance,
// then polls the last operation of the instance.
type CreateOrUpdateServiceStep struct {
	Timeouts Timeouts
}

func NewCreateOrUpdateServiceStep(timeouts Timeouts) *process.AsyncStep {
	return process.NewAsyncStep(&CreateOrUpdateServiceStep{Timeouts: timeouts})
}

func (s *CreateOrUpdateServiceStep) ExecuteAsync(pc *process.ProcessContext) (process.StepPhase, error) {
	service := process.Get(pc, process.VarServiceToProcess)
	if service == nil {
		return "", process.NewContentError("No service to create")
	}
	message := format(MessageErrorCreatingService, serviceData(service))

	existing, err := pc.Client().GetServiceInstance(pc.Context(), service.Name)
	switch cc.Classify(err) {
	case cc.OutcomeNotFound:
		return s.create(pc, service, message)
	case cc.OutcomeOK:
		return s.update(pc, service, existing, message)
	}
	return tolerateOptional(pc, service.Optional, err, message)
}

func (s *CreateOrUpdateServiceStep) create(pc *process.ProcessContext, service *cc.CloudServiceInstance, message string) (process.StepPhase, error) {
	pc.Logger().Infof("%s", format(MessageCreatingService, serviceData(service)))
	process.Set(pc, process.VarIsServiceUpdated, false)
	jobID, err := pc.Client().CreateServiceInstance(pc.Context(), service)
	switch cc.Classify(err) {
	case cc.OutcomeOK:
		if jobID == "" {
			return process.StepPhaseDone, nil
		}
		return process.StepPhasePoll, nil
	case cc.OutcomeConflict:
		// created concurrently, its last operation tells the rest
		pc.Logger().Infof("%s", format(MessageServiceInProgress, serviceData(service)))
		return process.StepPhasePoll, nil
	}
	return tolerateOptional(pc, service.Optional, err, message)
}

func (s *CreateOrUpdateServiceStep) update(pc *process.ProcessContext, service *cc.CloudServiceInstance, existing *cc.CloudServiceInstance, message string) (process.StepPhase, error) {
	if existing.LastOperation != nil && isInProgress(existing.LastOperation.State) {
		pc.Logger().Infof("%s", format(MessageServiceInProgress, serviceData(service)))
		return process.StepPhasePoll, nil
	}
	if existing.UserProvided != service.UserProvided {
		return "", process.NewContentError("Service %q exists with a different type and cannot be updated", service.Name)
	}
	pc.Logger().Infof("%s", format(MessageUpdatingService, serviceData(service)))
	updated := *service
	updated.GUID = existing.GUID
	jobID, err := pc.Client().UpdateServiceInstance(pc.Context(), &updated)
	switch cc.Classify(err) {
	case cc.OutcomeOK:
		process.Set(pc, process.VarIsServiceUpdated, true)
		if jobID == "" {
			return process.StepPhaseDone, nil
		}
		return process.StepPhasePoll, nil
	case cc.OutcomeConflict:
		// another operation is in progress, wait for it
		pc.Logger().Infof("%s", format(MessageServiceInProgress, serviceData(service)))
		return process.StepPhasePoll, nil
	}
	return tolerateOptional(pc, service.Optional, err, message)
}

func (s *CreateOrUpdateServiceStep) AsyncExecutions(pc *process.ProcessContext) []process.AsyncExecution {
	return []process.AsyncExecution{&PollServiceOperationExecution{}}
}

func (s *CreateOrUpdateServiceStep) Timeout(pc *process.ProcessContext) time.Duration {
	return pc.Timeout(process.VarStepTimeout, s.Timeouts.Step)
}

func (s *CreateOrUpdateServiceStep) ErrorMessage(pc *process.ProcessContext) string {
	return format(MessageErrorCreatingService, serviceData(process.Get(pc, process.VarServiceToProcess)))
}

func (s *CreateOrUpdateServiceStep) OnPollingError(pc *process.ProcessContext, err *process.StepError) (process.StepPhase, error) {
	return tolerateOptionalPolling(pc, serviceIsOptional(pc), err)
}

func isInProgress(state cc.OperationState) bool {
	return state == cc.OperationStateInitial || state == cc.OperationStateInProgress
}

// PollServiceOperationExecution polls the last operation of process.VarServiceToProcess.
// With Deleting set a vanished instance means the deletion finished.
type PollServiceOperationExecution struct {
	Deleting bool
}

func (e *PollServiceOperationExecution) Execute(pc *process.ProcessContext) process.AsyncExecutionState {
	service := process.Get(pc, process.VarServiceToProcess)
	if service == nil {
		return process.AsyncExecutionStateError
	}
	existing, err := pc.Client().GetServiceInstance(pc.Context(), service.Name)
	if err != nil {
		if e.Deleting && cc.Classify(err) == cc.OutcomeNotFound {
			return process.AsyncExecutionStateFinished
		}
		return stateOnLookupError(pc, err, service.Optional)
	}
	operation := existing.LastOperation
	if operation == nil {
		return process.AsyncExecutionStateFinished
	}
	switch operation.State {
	case cc.OperationStateSucceeded:
		return process.AsyncExecutionStateFinished
	case cc.OperationStateInitial, cc.OperationStateInProgress:
		return process.AsyncExecutionStateRunning
	case cc.OperationStateFailed:
		pc.Logger().Errorf("%s", format(MessageServiceOperationError, map[string]any{
			"type":        operation.Type,
			"service":     service.Name,
			"description": operation.Description,
		}))
		return process.AsyncExecutionStateError
	}
	pc.Logger().Errorf("service %s has last operation in unexpected state %q", service.Name, operation.State)
	return process.AsyncExecutionStateError
}

func (e *PollServiceOperationExecution) PollingErrorMessage(pc *process.ProcessContext) string {
	return format(MessageErrorPollingService, serviceData(process.Get(pc, process.VarServiceToProcess)))
}

// DeleteServiceStep deletes process.VarServiceToProcess, an instance that is already gone counts as deleted
type DeleteServiceStep struct {
	Timeouts Timeouts
}

func NewDeleteServiceStep(timeouts Timeouts) *process.AsyncStep {
	return process.NewAsyncStep(&DeleteServiceStep{Timeouts: timeouts})
}

func (s *DeleteServiceStep) ExecuteAsync(pc *process.ProcessContext) (process.StepPhase, error) {
	service := process.Get(pc, process.VarServiceToProcess)
	if service == nil {
		return "", process.NewContentError("No service to delete")
	}
	existing, err := pc.Client().GetServiceInstance(pc.Context(), service.Name)
	if cc.Classify(err) == cc.OutcomeNotFound {
		pc.Logger().Infof("%s", format(MessageServiceAlreadyDeleted, serviceData(service)))
		return process.StepPhaseDone, nil
	}
	if err != nil {
		return tolerateOptional(pc, service.Optional, err, format(MessageErrorDeletingService, serviceData(service)))
	}
	if existing.LastOperation != nil && existing.LastOperation.Type == cc.OperationTypeDelete && isInProgress(existing.LastOperation.State) {
		return process.StepPhasePoll, nil
	}

	pc.Logger().Infof("%s", format(MessageDeletingService, serviceData(service)))
	jobID, err := pc.Client().DeleteServiceInstance(pc.Context(), existing.GUID)
	switch cc.Classify(err) {
	case cc.OutcomeOK:
		if jobID == "" {
			return process.StepPhaseDone, nil
		}
		return process.StepPhasePoll, nil
	case cc.OutcomeNotFound:
		pc.Logger().Infof("%s", format(MessageServiceAlreadyDeleted, serviceData(service)))
		return process.StepPhaseDone, nil
	case cc.OutcomeConflict:
		return process.StepPhasePoll, nil
	}
	return tolerateOptional(pc, service.Optional, err, format(MessageErrorDeletingService, serviceData(service)))
}

func (s *DeleteServiceStep) AsyncExecutions(pc *process.ProcessContext) []process.AsyncExecution {
	return []process.AsyncExecution{&PollServiceOperationExecution{Deleting: true}}
}

func (s *DeleteServiceStep) Timeout(pc *process.ProcessContext) time.Duration {
	return pc.Timeout(process.VarStepTimeout, s.Timeouts.Step)
}

func (s *DeleteServiceStep) ErrorMessage(pc *process.ProcessContext) string {
	return format(MessageErrorDeletingService, serviceData(process.Get(pc, process.VarServiceToProcess)))
}

func (s *DeleteServiceStep) OnPollingError(pc *process.ProcessContext, err *process.StepError) (process.StepPhase, error) {
	return tolerateOptionalPolling(pc, serviceIsOptional(pc), err)
}
