package steps

import (
	"fmt"
	"time"

	cc "github.com/cloudfoundry/multiapps-controller-sub003/cloudcontroller"
	"github.com/cloudfoundry/multiapps-controller-sub003/process"
)

func bindingData(binding *cc.ServiceBinding) map[string]any {
	if binding == nil {
		return map[string]any{"service": "", "app": ""}
	}
	return map[string]any{"service": binding.ServiceInstanceName, "app": binding.ApplicationName}
}

// BindServiceStep binds process.VarBindingToProcess and polls the binding job
type BindServiceStep struct {
	Timeouts Timeouts
}

func NewBindServiceStep(timeouts Timeouts) *process.AsyncStep {
	return process.NewAsyncStep(&BindServiceStep{Timeouts: timeouts})
}

func (s *BindServiceStep) ExecuteAsync(pc *process.ProcessContext) (process.StepPhase, error) {
	binding := process.Get(pc, process.VarBindingToProcess)
	if binding == nil {
		return "", process.NewContentError("No service binding to create")
	}
	process.Remove(pc, process.VarJobID)
	pc.Logger().Infof("%s", format(MessageBindingService, bindingData(binding)))

	jobID, err := pc.Client().BindService(pc.Context(), binding)
	switch cc.Classify(err) {
	case cc.OutcomeOK:
		if jobID == "" {
			return process.StepPhaseDone, nil
		}
		process.Set(pc, process.VarJobID, jobID)
		return process.StepPhasePoll, nil
	case cc.OutcomeConflict:
		pc.Logger().Infof("%s", format(MessageServiceAlreadyBound, bindingData(binding)))
		return process.StepPhaseDone, nil
	}
	return tolerateOptional(pc, binding.Optional, err, format(MessageErrorBindingService, bindingData(binding)))
}

func (s *BindServiceStep) AsyncExecutions(pc *process.ProcessContext) []process.AsyncExecution {
	return []process.AsyncExecution{&PollJobExecution{
		Resource: func(pc *process.ProcessContext) string {
			binding := process.Get(pc, process.VarBindingToProcess)
			return fmt.Sprintf("binding of service %q to application %q", binding.ServiceInstanceName, binding.ApplicationName)
		},
		Optional: bindingIsOptional,
	}}
}

func (s *BindServiceStep) Timeout(pc *process.ProcessContext) time.Duration {
	return pc.Timeout(process.VarStepTimeout, s.Timeouts.Step)
}

func (s *BindServiceStep) ErrorMessage(pc *process.ProcessContext) string {
	return format(MessageErrorBindingService, bindingData(process.Get(pc, process.VarBindingToProcess)))
}

func (s *BindServiceStep) OnPollingError(pc *process.ProcessContext, err *process.StepError) (process.StepPhase, error) {
	return tolerateOptionalPolling(pc, bindingIsOptional(pc), err)
}

func bindingIsOptional(pc *process.ProcessContext) bool {
	binding := process.Get(pc, process.VarBindingToProcess)
	return binding != nil && binding.Optional
}
