package steps

import (
	"fmt"
	"os"
	"time"

	cc "github.com/cloudfoundry/multiapps-controller-sub003/cloudcontroller"
	"github.com/cloudfoundry/multiapps-controller-sub003/descriptor"
	"github.com/cloudfoundry/multiapps-controller-sub003/process"
)

func appData(pc *process.ProcessContext) map[string]any {
	return map[string]any{"app": appName(pc)}
}

// ApplicationName name of the application of module once the deployment completed
func ApplicationName(module *descriptor.Module) string {
	return descriptor.StringParameter(module.Parameters, "app-name", module.Name)
}

// deployedName name the application of module is deployed under, idle during a blue/green deployment
func deployedName(pc *process.ProcessContext, module *descriptor.Module) string {
	name := ApplicationName(module)
	if process.Get(pc, process.VarDeployStrategy) == process.DeployStrategyBlueGreen {
		name += process.Get(pc, process.VarIdleSuffix)
	}
	return name
}

// applicationFor the application declared by module
func applicationFor(pc *process.ProcessContext, d *descriptor.DeploymentDescriptor, module *descriptor.Module) *cc.CloudApplication {
	env := make(map[string]string)
	if declared, ok := module.Parameters["env"].(map[string]any); ok {
		for k, v := range declared {
			env[k] = fmt.Sprint(v)
		}
	}
	return &cc.CloudApplication{
		Name:      deployedName(pc, module),
		Instances: descriptor.IntParameter(module.Parameters, "instances", 1),
		Memory:    descriptor.MemoryParameter(module.Parameters, "memory", 1024),
		Env:       env,
		Routes:    descriptor.StringListParameter(module.Parameters, "routes"),
		Labels: map[string]string{
			cc.LabelMtaID:      d.ID,
			cc.LabelMtaModule:  module.Name,
			cc.LabelMtaVersion: d.Version,
		},
	}
}

// NewCreateOrUpdateAppStep creates process.VarAppToProcess or brings the existing application up to date, and records its GUID
func NewCreateOrUpdateAppStep() process.Step {
	return &process.SyncStep{
		ExecuteFunc: func(pc *process.ProcessContext) (process.StepPhase, error) {
			app := process.Get(pc, process.VarAppToProcess)
			if app == nil {
				return "", process.NewContentError("No application to create")
			}
			existing, err := pc.Client().GetApplication(pc.Context(), app.Name)
			switch cc.Classify(err) {
			case cc.OutcomeOK:
				pc.Logger().Infof("%s", format(MessageUpdatingApp, appData(pc)))
				app.GUID = existing.GUID
				updated, err := pc.Client().UpdateApplication(pc.Context(), app)
				if err != nil {
					return "", err
				}
				app.State = updated.State
				pc.Logger().Infof("%s", format(MessageAppUpdated, appData(pc)))
			case cc.OutcomeNotFound:
				pc.Logger().Infof("%s", format(MessageCreatingApp, appData(pc)))
				created, err := pc.Client().CreateApplication(pc.Context(), app)
				if cc.Classify(err) == cc.OutcomeConflict {
					created, err = pc.Client().GetApplication(pc.Context(), app.Name)
				}
				if err != nil {
					return "", err
				}
				app.GUID = created.GUID
				pc.Logger().Infof("%s", format(MessageAppCreated, appData(pc)))
			default:
				return "", err
			}
			process.Set(pc, process.VarAppToProcess, app)
			return process.StepPhaseDone, nil
		},
		ErrorMessageFunc: func(pc *process.ProcessContext) string {
			return format(MessageErrorCreatingApp, appData(pc))
		},
	}
}

// UploadAppStep uploads the archive of the module to a new package of the application
type UploadAppStep struct {
	Timeouts Timeouts
}

func NewUploadAppStep(timeouts Timeouts) *process.AsyncStep {
	return process.NewAsyncStep(&UploadAppStep{Timeouts: timeouts})
}

func (s *UploadAppStep) ExecuteAsync(pc *process.ProcessContext) (process.StepPhase, error) {
	app, err := appToProcess(pc)
	if err != nil {
		return "", err
	}
	moduleName := app.ModuleName()
	if module := process.Get(pc, process.VarModuleToDeploy); module != nil {
		moduleName = module.Name
	}
	path := process.Get(pc, process.VarAppArchivePaths)[moduleName]
	if path == "" {
		return "", process.NewContentError("%s", format(MessageNoArchiveForModule, map[string]any{"module": moduleName}))
	}
	archive, err := os.Open(path)
	if err != nil {
		return "", process.AsContentError(err, "%s", format(MessageNoArchiveForModule, map[string]any{"module": moduleName}))
	}
	defer archive.Close()

	pc.Logger().Infof("%s", format(MessageUploadingApp, appData(pc)))
	pkg, err := pc.Client().CreatePackage(pc.Context(), app.GUID, archive)
	if err != nil {
		return "", err
	}
	process.Set(pc, process.VarCloudPackage, pkg)
	if pkg.Status == cc.PackageStateReady {
		pc.Logger().Infof("%s", format(MessageAppUploaded, appData(pc)))
		return process.StepPhaseDone, nil
	}
	return process.StepPhasePoll, nil
}

func (s *UploadAppStep) AsyncExecutions(pc *process.ProcessContext) []process.AsyncExecution {
	return []process.AsyncExecution{&PollUploadExecution{}}
}

func (s *UploadAppStep) Timeout(pc *process.ProcessContext) time.Duration {
	return pc.Timeout(process.VarAppsUploadTimeout, s.Timeouts.Upload)
}

func (s *UploadAppStep) ErrorMessage(pc *process.ProcessContext) string {
	return format(MessageErrorUploadingApp, appData(pc))
}

// PollUploadExecution polls the package in process.VarCloudPackage
type PollUploadExecution struct{}

func (e *PollUploadExecution) Execute(pc *process.ProcessContext) process.AsyncExecutionState {
	pkg := process.Get(pc, process.VarCloudPackage)
	if pkg == nil {
		return process.AsyncExecutionStateError
	}
	current, err := pc.Client().GetPackage(pc.Context(), pkg.GUID)
	if err != nil {
		return stateOnLookupError(pc, err, false)
	}
	switch current.Status {
	case cc.PackageStateReady:
		pc.Logger().Infof("%s", format(MessageAppUploaded, appData(pc)))
		return process.AsyncExecutionStateFinished
	case cc.PackageStateAwaitingUpload, cc.PackageStateProcessingUpload, cc.PackageStateCopying:
		return process.AsyncExecutionStateRunning
	}
	pc.Logger().Errorf("%s", format(MessageUploadFailed, map[string]any{"app": appName(pc), "state": current.Status}))
	return process.AsyncExecutionStateError
}

func (e *PollUploadExecution) PollingErrorMessage(pc *process.ProcessContext) string {
	return format(MessageErrorUploadingApp, appData(pc))
}

// StageAppStep builds a droplet from the uploaded package
type StageAppStep struct {
	Timeouts Timeouts
}

func NewStageAppStep(timeouts Timeouts) *process.AsyncStep {
	return process.NewAsyncStep(&StageAppStep{Timeouts: timeouts})
}

func (s *StageAppStep) ExecuteAsync(pc *process.ProcessContext) (process.StepPhase, error) {
	if _, err := appToProcess(pc); err != nil {
		return "", err
	}
	pkg := process.Get(pc, process.VarCloudPackage)
	if pkg == nil {
		return "", process.NewContentError("No package to stage for application %q", appName(pc))
	}
	pc.Logger().Infof("%s", format(MessageStagingApp, appData(pc)))
	build, err := pc.Client().CreateBuild(pc.Context(), pkg.GUID)
	if err != nil {
		return "", err
	}
	process.Set(pc, process.VarBuildGUID, build.GUID)
	process.Set(pc, process.VarLogsOffset, pc.Now().UnixNano())
	if build.State == cc.BuildStateStaged {
		return process.StepPhaseDone, nil
	}
	return process.StepPhasePoll, nil
}

func (s *StageAppStep) AsyncExecutions(pc *process.ProcessContext) []process.AsyncExecution {
	return []process.AsyncExecution{&PollStageExecution{}}
}

func (s *StageAppStep) Timeout(pc *process.ProcessContext) time.Duration {
	return pc.Timeout(process.VarAppsStageTimeout, s.Timeouts.Stage)
}

func (s *StageAppStep) ErrorMessage(pc *process.ProcessContext) string {
	return format(MessageErrorStagingApp, appData(pc))
}

// PollStageExecution polls the build in process.VarBuildGUID and reports staging logs
type PollStageExecution struct{}

func (e *PollStageExecution) Execute(pc *process.ProcessContext) process.AsyncExecutionState {
	buildGUID := process.Get(pc, process.VarBuildGUID)
	if buildGUID == "" {
		return process.AsyncExecutionStateError
	}
	build, err := pc.Client().GetBuild(pc.Context(), buildGUID)
	if err != nil {
		return stateOnLookupError(pc, err, false)
	}
	app := process.Get(pc, process.VarAppToProcess)
	switch build.State {
	case cc.BuildStateStaged:
		reportRecentLogs(pc, app)
		pc.Logger().Infof("%s", format(MessageAppStaged, appData(pc)))
		return process.AsyncExecutionStateFinished
	case cc.BuildStateStaging:
		reportRecentLogs(pc, app)
		return process.AsyncExecutionStateRunning
	case cc.BuildStateFailed:
		reportRecentLogs(pc, app)
		pc.Logger().Errorf("%s", format(MessageStagingFailed, map[string]any{"app": appName(pc), "error": build.Error}))
		return process.AsyncExecutionStateError
	}
	pc.Logger().Errorf("build %s is in unexpected state %q", buildGUID, build.State)
	return process.AsyncExecutionStateError
}

func (e *PollStageExecution) PollingErrorMessage(pc *process.ProcessContext) string {
	return format(MessageErrorStagingApp, appData(pc))
}

// StartAppStep sets the staged droplet and starts the application
type StartAppStep struct {
	Timeouts Timeouts
}

func NewStartAppStep(timeouts Timeouts) *process.AsyncStep {
	return process.NewAsyncStep(&StartAppStep{Timeouts: timeouts})
}

func (s *StartAppStep) ExecuteAsync(pc *process.ProcessContext) (process.StepPhase, error) {
	app, err := appToProcess(pc)
	if err != nil {
		return "", err
	}
	if buildGUID := process.Get(pc, process.VarBuildGUID); buildGUID != "" {
		build, err := pc.Client().GetBuild(pc.Context(), buildGUID)
		if err != nil {
			return "", err
		}
		if build.DropletGUID != "" {
			if err := pc.Client().SetCurrentDroplet(pc.Context(), app.GUID, build.DropletGUID); err != nil {
				return "", err
			}
		}
	}
	pc.Logger().Infof("%s", format(MessageStartingApp, appData(pc)))
	if err := pc.Client().StartApplication(pc.Context(), app.GUID); err != nil {
		return "", err
	}
	process.Set(pc, process.VarLogsOffset, pc.Now().UnixNano())
	return process.StepPhasePoll, nil
}

func (s *StartAppStep) AsyncExecutions(pc *process.ProcessContext) []process.AsyncExecution {
	return []process.AsyncExecution{&PollStartAppStatusExecution{StartTimeout: pc.Timeout(process.VarStartTimeout, s.Timeouts.Start)}}
}

func (s *StartAppStep) Timeout(pc *process.ProcessContext) time.Duration {
	return pc.Timeout(process.VarStepTimeout, s.Timeouts.Step)
}

func (s *StartAppStep) ErrorMessage(pc *process.ProcessContext) string {
	return format(MessageErrorStartingApp, appData(pc))
}

func (s *StartAppStep) HookPointsBeforeStep(pc *process.ProcessContext) []process.HookPoint {
	return []process.HookPoint{process.HookPointBeforeStart}
}

func (s *StartAppStep) HookPointsAfterStep(pc *process.ProcessContext) []process.HookPoint {
	return nil
}

// PollStartAppStatusExecution waits until every instance runs.
// The start timeout is checked after the instance states were read.
type PollStartAppStatusExecution struct {
	StartTimeout time.Duration
}

func (e *PollStartAppStatusExecution) Execute(pc *process.ProcessContext) process.AsyncExecutionState {
	app, err := appToProcess(pc)
	if err != nil {
		pc.Logger().Errorf("%v", err)
		return process.AsyncExecutionStateError
	}
	instances, err := pc.Client().GetApplicationInstances(pc.Context(), app.GUID)
	if err != nil {
		return stateOnLookupError(pc, err, false)
	}
	running, crashed := 0, 0
	for _, instance := range instances {
		switch instance.State {
		case cc.InstanceStateRunning:
			running++
		case cc.InstanceStateCrashed:
			crashed++
		}
	}
	reportRecentLogs(pc, app)
	if crashed > 0 {
		pc.Logger().Errorf("%s", format(MessageAppCrashed, appData(pc)))
		return process.AsyncExecutionStateError
	}
	if len(instances) > 0 && running == len(instances) {
		pc.Logger().Infof("%s", format(MessageAppStarted, appData(pc)))
		return process.AsyncExecutionStateFinished
	}
	pc.Logger().Debugf("%s", format(MessageAppInstances, map[string]any{"app": app.Name, "running": running, "total": len(instances)}))
	if e.StartTimeout > 0 && pc.Since(process.Get(pc, process.VarStepStartTime)) > e.StartTimeout {
		pc.Logger().Errorf("%s", format(MessageAppStartTimedOut, map[string]any{"app": app.Name, "timeout": e.StartTimeout.String()}))
		return process.AsyncExecutionStateError
	}
	return process.AsyncExecutionStateRunning
}

func (e *PollStartAppStatusExecution) PollingErrorMessage(pc *process.ProcessContext) string {
	return format(MessageErrorStartingApp, appData(pc))
}

// StopApplicationStep stops process.VarAppToProcess between its before-stop and after-stop hooks
type StopApplicationStep struct{}

func NewStopApplicationStep() *StopApplicationStep {
	return &StopApplicationStep{}
}

func (s *StopApplicationStep) Execute(pc *process.ProcessContext) (process.StepPhase, error) {
	app := process.Get(pc, process.VarAppToProcess)
	if app == nil {
		return "", process.NewContentError("No application to stop")
	}
	existing, err := pc.Client().GetApplication(pc.Context(), app.Name)
	switch cc.Classify(err) {
	case cc.OutcomeNotFound:
		return process.StepPhaseDone, nil
	case cc.OutcomeOK:
	default:
		return "", err
	}
	if existing.State == cc.AppStateStopped {
		pc.Logger().Debugf("application %s is already stopped", app.Name)
		return process.StepPhaseDone, nil
	}
	pc.Logger().Infof("%s", format(MessageStoppingApp, appData(pc)))
	if err := pc.Client().StopApplication(pc.Context(), existing.GUID); err != nil {
		return "", err
	}
	pc.Logger().Infof("%s", format(MessageAppStopped, appData(pc)))
	return process.StepPhaseDone, nil
}

func (s *StopApplicationStep) ErrorMessage(pc *process.ProcessContext) string {
	return format(MessageErrorStoppingApp, appData(pc))
}

func (s *StopApplicationStep) HookPointsBeforeStep(pc *process.ProcessContext) []process.HookPoint {
	return []process.HookPoint{process.HookPointBeforeStop, process.HookPointBeforeUnmapRoutes}
}

func (s *StopApplicationStep) HookPointsAfterStep(pc *process.ProcessContext) []process.HookPoint {
	return []process.HookPoint{process.HookPointAfterStop}
}

// NewDeleteOldAppsStep deletes process.VarAppsToUndeploy, applications already gone are skipped
func NewDeleteOldAppsStep() process.Step {
	return &process.SyncStep{
		ExecuteFunc: func(pc *process.ProcessContext) (process.StepPhase, error) {
			for _, app := range process.Get(pc, process.VarAppsToUndeploy) {
				existing, err := pc.Client().GetApplication(pc.Context(), app.Name)
				if cc.Classify(err) == cc.OutcomeNotFound {
					continue
				}
				if err != nil {
					return "", err
				}
				if existing.ModuleName() != app.ModuleName() {
					// the name was taken over by another application
					continue
				}
				pc.Logger().Infof("%s", format(MessageDeletingApp, map[string]any{"app": app.Name}))
				jobID, err := pc.Client().DeleteApplication(pc.Context(), existing.GUID)
				if err != nil && cc.Classify(err) != cc.OutcomeNotFound {
					return "", err
				}
				if jobID != "" {
					pc.Logger().Debugf("deletion of application %s runs as job %s", app.Name, jobID)
				}
			}
			return process.StepPhaseDone, nil
		},
		ErrorMessageFunc: func(pc *process.ProcessContext) string {
			return MessageErrorDeletingApps
		},
	}
}

// NewRenameApplicationsStep gives the idle applications of a blue/green deployment their final names.
// Applications renamed by an earlier invocation are skipped.
func NewRenameApplicationsStep() process.Step {
	return &process.SyncStep{
		ExecuteFunc: func(pc *process.ProcessContext) (process.StepPhase, error) {
			if process.Get(pc, process.VarDeployStrategy) != process.DeployStrategyBlueGreen {
				return process.StepPhaseDone, nil
			}
			d := process.Get(pc, process.VarDeploymentDescriptor)
			if d == nil {
				return "", process.NewContentError(MessageNoDescriptor)
			}
			suffix := process.Get(pc, process.VarIdleSuffix)
			for _, moduleName := range process.Get(pc, process.VarAppsToDeploy) {
				module := d.Module(moduleName)
				if module == nil {
					return "", process.NewContentError("%s", format(MessageUnknownModule, map[string]any{"module": moduleName}))
				}
				final := ApplicationName(module)
				idle, err := pc.Client().GetApplication(pc.Context(), final+suffix)
				if cc.Classify(err) == cc.OutcomeNotFound {
					continue
				}
				if err != nil {
					return "", err
				}
				pc.Logger().Infof("%s", format(MessageRenamingApp, map[string]any{"from": idle.Name, "to": final}))
				if err := pc.Client().RenameApplication(pc.Context(), idle.GUID, final); err != nil {
					return "", err
				}
			}
			return process.StepPhaseDone, nil
		},
		ErrorMessageFunc: func(pc *process.ProcessContext) string {
			return MessageErrorRenamingApps
		},
	}
}
