package steps

import (
	"strings"

	cc "github.com/cloudfoundry/multiapps-controller-sub003/cloudcontroller"
	"github.com/cloudfoundry/multiapps-controller-sub003/process"
)

// PollJobExecution polls the platform job stored in process.VarJobID.
// No job id means the operation completed synchronously.
type PollJobExecution struct {
	// Resource describes what the job works on, e.g. `service key "reader" of service "db"`
	Resource func(pc *process.ProcessContext) string
	Optional func(pc *process.ProcessContext) bool
}

func (e *PollJobExecution) optional(pc *process.ProcessContext) bool {
	return e.Optional != nil && e.Optional(pc)
}

func (e *PollJobExecution) Execute(pc *process.ProcessContext) process.AsyncExecutionState {
	jobID := process.Get(pc, process.VarJobID)
	if jobID == "" {
		return process.AsyncExecutionStateFinished
	}
	job, err := pc.Client().GetJob(pc.Context(), jobID)
	if err != nil {
		if cc.Classify(err) == cc.OutcomeNotFound {
			pc.Logger().Debugf("%s", format(MessageJobNotFound, map[string]any{"job": jobID, "resource": e.Resource(pc)}))
		}
		return stateOnLookupError(pc, err, e.optional(pc))
	}
	switch job.State {
	case cc.JobStateComplete:
		return process.AsyncExecutionStateFinished
	case cc.JobStateProcessing, cc.JobStatePolling:
		return process.AsyncExecutionStateRunning
	case cc.JobStateFailed:
		details := make([]string, 0, len(job.Errors))
		for _, jobErr := range job.Errors {
			details = append(details, jobErr.Detail)
		}
		pc.Logger().Errorf("%s", format(MessageJobFailed, map[string]any{"job": jobID, "resource": e.Resource(pc), "errors": strings.Join(details, "; ")}))
		return process.AsyncExecutionStateError
	}
	pc.Logger().Errorf("job %s for %s is in unexpected state %q", jobID, e.Resource(pc), job.State)
	return process.AsyncExecutionStateError
}

func (e *PollJobExecution) PollingErrorMessage(pc *process.ProcessContext) string {
	return format(MessageErrorPollingJob, map[string]any{"job": process.Get(pc, process.VarJobID), "resource": e.Resource(pc)})
}
