package process

import (
	cc "github.com/cloudfoundry/multiapps-controller-sub003/cloudcontroller"
	"github.com/cloudfoundry/multiapps-controller-sub003/descriptor"
)

// DeployedMta what is already running for an MTA id
type DeployedMta struct {
	MtaID        string                 `json:"mtaId"`
	Version      string                 `json:"version"`
	Applications []*cc.CloudApplication `json:"applications"`
	Services     []string               `json:"services"`
}

// step instance state
var (
	VarStepPhase      = Variable[StepPhase]{Name: "StepPhase", DefaultValue: StepPhaseExecute, StepScoped: true}
	VarStepStartTime  = Variable[int64]{Name: "StepStartTime", StepScoped: true}
	VarRetryStartTime = Variable[int64]{Name: "RetryStartTime", StepScoped: true}
	VarIterationPhase = Variable[StepPhase]{Name: "IterationPhase", DefaultValue: StepPhaseExecute, StepScoped: true}
	VarIterationIndex = Variable[int]{Name: "IterationIndex", StepScoped: true}
	VarJobID          = Variable[string]{Name: "JobId", StepScoped: true}
	VarSequencePhase  = Variable[StepPhase]{Name: "SequencePhase", DefaultValue: StepPhaseExecute, StepScoped: true}
	VarSequenceIndex  = Variable[int]{Name: "SequenceIndex", StepScoped: true}
	VarLogsOffset     = Variable[int64]{Name: "LogsOffset", StepScoped: true}
	VarExecutedHooks  = Variable[[]string]{Name: "executedHooks", StepScoped: true}

	VarUseLastOperationForServiceKeyCreation = Variable[bool]{Name: "useLastOperationForServiceKeyCreation", StepScoped: true}
)

// failure reporting
var (
	VarErrorType    = Variable[ErrorType]{Name: "errorType"}
	VarErrorMessage = Variable[string]{Name: "errorMessage"}
)

// deployment input
var (
	VarMtaID                = Variable[string]{Name: "mtaId"}
	VarDeploymentDescriptor = Variable[*descriptor.DeploymentDescriptor]{Name: "deploymentDescriptor"}
	VarAppArchivePaths      = Variable[map[string]string]{Name: "appArchivePaths"}
	VarDeployStrategy       = Variable[DeployStrategy]{Name: "deployStrategy", DefaultValue: DeployStrategyDefault}
	VarDeploymentPhase      = Variable[DeploymentPhase]{Name: "phase"}
	VarIdleSuffix           = Variable[string]{Name: "idleSuffix", DefaultValue: "-idle"}
	VarDeleteServices       = Variable[bool]{Name: "deleteServices"}
)

// applications
var (
	VarAppsToDeploy      = Variable[[]string]{Name: "appsToDeploy"}
	VarModuleToDeploy    = Variable[*descriptor.Module]{Name: "moduleToDeploy"}
	VarAppToProcess      = Variable[*cc.CloudApplication]{Name: "app"}
	VarAppsToUndeploy    = Variable[[]*cc.CloudApplication]{Name: "appsToUndeploy"}
	VarCloudPackage      = Variable[*cc.CloudPackage]{Name: "cloudPackage"}
	VarBuildGUID         = Variable[string]{Name: "buildGuid"}
	VarTasksToExecute    = Variable[[]*cc.CloudTask]{Name: "tasksToExecute"}
	VarTaskToExecute     = Variable[*cc.CloudTask]{Name: "taskToExecute"}
	VarStartedTask       = Variable[*cc.CloudTask]{Name: "startedTask"}
	VarDeployedMta       = Variable[*DeployedMta]{Name: "deployedMta"}
	VarHooksForExecution = Variable[[]*descriptor.Hook]{Name: "hooksForExecution"}
)

// services
var (
	VarServicesToCreate      = Variable[[]*cc.CloudServiceInstance]{Name: "servicesToCreate"}
	VarServiceToProcess      = Variable[*cc.CloudServiceInstance]{Name: "serviceToProcess"}
	VarIsServiceUpdated      = Variable[bool]{Name: "isServiceUpdated"}
	VarServicesToDelete      = Variable[[]string]{Name: "servicesToDelete"}
	VarServiceKeysToCreate   = Variable[[]*cc.ServiceKey]{Name: "serviceKeysToCreate"}
	VarServiceKeyToProcess   = Variable[*cc.ServiceKey]{Name: "serviceKeyToProcess"}
	VarServiceKeysToDelete   = Variable[[]*cc.ServiceKey]{Name: "serviceKeysToDelete"}
	VarBindingsToCreate      = Variable[[]*cc.ServiceBinding]{Name: "bindingsToCreate"}
	VarBindingToProcess      = Variable[*cc.ServiceBinding]{Name: "bindingToProcess"}
	VarSubscriptionsToDelete = Variable[[]int64]{Name: "subscriptionsToDelete"}
)

// timeouts in seconds, unset means the configured default
var (
	VarStartTimeout             = Variable[int]{Name: "startTimeout"}
	VarAppsStageTimeout         = Variable[int]{Name: "appsStageTimeout"}
	VarAppsUploadTimeout        = Variable[int]{Name: "appsUploadTimeout"}
	VarAppsTaskExecutionTimeout = Variable[int]{Name: "appsTaskExecutionTimeout"}
	VarStepTimeout              = Variable[int]{Name: "stepTimeout"}
)
