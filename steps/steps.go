// Package steps is the catalog of deployment steps and the executions that poll them.
package steps

import (
	"cmp"
	"slices"
	"time"

	cc "github.com/cloudfoundry/multiapps-controller-sub003/cloudcontroller"
	"github.com/cloudfoundry/multiapps-controller-sub003/process"
)

// Timeouts used when the process does not set its own timeout variables
type Timeouts struct {
	Step          time.Duration `yaml:"default_step" validate:"gte=0"`
	Upload        time.Duration `yaml:"upload" validate:"gte=0"`
	Stage         time.Duration `yaml:"stage" validate:"gte=0"`
	Start         time.Duration `yaml:"start_app" validate:"gte=0"`
	TaskExecution time.Duration `yaml:"task_execution" validate:"gte=0"`
}

func DefaultTimeouts() Timeouts {
	return Timeouts{
		Step:          time.Hour,
		Upload:        time.Hour,
		Stage:         time.Hour,
		Start:         time.Hour,
		TaskExecution: 12 * time.Hour,
	}
}

func format(text string, data map[string]any) string {
	return process.FormatMessage(text, data)
}

// tolerateOptional ends the step with a warning when a platform call failed for an optional resource.
// Mandatory resources return err, the runner decides whether it is retriable.
func tolerateOptional(pc *process.ProcessContext, optional bool, err error, message string) (process.StepPhase, error) {
	if optional && cc.StatusCode(err) != 0 {
		pc.Logger().Warnf("%s", format(MessageIgnoringOptional, map[string]any{"message": message, "error": err.Error()}))
		return process.StepPhaseDone, nil
	}
	return "", err
}

// tolerateOptionalPolling is the polling counterpart of tolerateOptional
func tolerateOptionalPolling(pc *process.ProcessContext, optional bool, err *process.StepError) (process.StepPhase, error) {
	if optional {
		pc.Logger().Warnf("%s", format(MessageIgnoringOptional, map[string]any{"message": err.Message, "error": err.Unwrap()}))
		return process.StepPhaseDone, nil
	}
	return "", err
}

// stateOnLookupError maps a failed read of the polled resource.
// A vanished resource is fine when it was optional, an unavailable platform is asked again next time.
func stateOnLookupError(pc *process.ProcessContext, err error, optional bool) process.AsyncExecutionState {
	switch cc.Classify(err) {
	case cc.OutcomeNotFound:
		if optional {
			pc.Logger().Warnf("%v", err)
			return process.AsyncExecutionStateFinished
		}
	case cc.OutcomeUnavailable:
		pc.Logger().Debugf("platform unavailable while polling, err: %v", err)
		return process.AsyncExecutionStateRunning
	}
	pc.Logger().Errorf("%v", err)
	return process.AsyncExecutionStateError
}

// appToProcess the application of the current module, its GUID is looked up once
func appToProcess(pc *process.ProcessContext) (*cc.CloudApplication, error) {
	app := process.Get(pc, process.VarAppToProcess)
	if app == nil {
		return nil, process.NewContentError("No application to process")
	}
	if app.GUID != "" {
		return app, nil
	}
	existing, err := pc.Client().GetApplication(pc.Context(), app.Name)
	if err != nil {
		return nil, err
	}
	app.GUID = existing.GUID
	process.Set(pc, process.VarAppToProcess, app)
	return app, nil
}

func appName(pc *process.ProcessContext) string {
	if app := process.Get(pc, process.VarAppToProcess); app != nil {
		return app.Name
	}
	return ""
}

// reportRecentLogs turns application logs not reported yet into progress messages
func reportRecentLogs(pc *process.ProcessContext, app *cc.CloudApplication) {
	if app == nil || app.GUID == "" {
		return
	}
	logs, err := pc.Client().GetRecentLogs(pc.Context(), app.GUID)
	if err != nil {
		pc.Logger().Debugf("read recent logs of application %s failed, err: %v", app.Name, err)
		return
	}
	slices.SortFunc(logs, func(a, b cc.ApplicationLog) int {
		return cmp.Compare(a.Timestamp, b.Timestamp)
	})
	offset := process.Get(pc, process.VarLogsOffset)
	latest := offset
	for _, log := range logs {
		if log.Timestamp <= offset {
			continue
		}
		text := format(MessageApplicationLog, map[string]any{"app": app.Name, "source": log.Source, "message": log.Message})
		if log.IsError {
			pc.Logger().Warnf("%s", text)
		} else {
			pc.Logger().Infof("%s", text)
		}
		latest = log.Timestamp
	}
	if latest != offset {
		process.Set(pc, process.VarLogsOffset, latest)
	}
}
