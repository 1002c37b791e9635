package steps

import (
	cc "github.com/cloudfoundry/multiapps-controller-sub003/cloudcontroller"
	"github.com/cloudfoundry/multiapps-controller-sub003/descriptor"
	"github.com/cloudfoundry/multiapps-controller-sub003/process"
	"github.com/cloudfoundry/multiapps-controller-sub003/workflow"
	"github.com/pkg/errors"
	"k8s.io/utils/clock"
)

// DeployProcessType workflow type of an MTA deployment
const DeployProcessType = "mta_deploy"

// node ids of the deploy process, in execution order
const (
	NodeDetectDeployedMta   = "detect_deployed_mta"
	NodePrepareDeployment   = "prepare_deployment"
	NodeCreateSubscriptions = "create_subscriptions"
	NodeCreateServices      = "create_services"
	NodeDeleteServiceKeys   = "delete_service_keys"
	NodeCreateServiceKeys   = "create_service_keys"
	NodeDeployApps          = "deploy_apps"
	NodeStopOldApps         = "stop_old_apps"
	NodeDeleteOldApps       = "delete_old_apps"
	NodeRenameApps          = "rename_apps"
	NodeDeleteServices      = "delete_services"
	NodeDeleteSubscriptions = "delete_subscriptions"
)

// iteration state of the loops nested in deploy_apps
var (
	VarBindingsIndex = process.Variable[int]{Name: "BindingsIndex", StepScoped: true}
	VarBindingsPhase = process.Variable[process.StepPhase]{Name: "BindingsPhase", DefaultValue: process.StepPhaseExecute, StepScoped: true}
	VarTasksIndex    = process.Variable[int]{Name: "TasksIndex", StepScoped: true}
	VarTasksPhase    = process.Variable[process.StepPhase]{Name: "TasksPhase", DefaultValue: process.StepPhaseExecute, StepScoped: true}
)

// Deps collaborators of the deploy process steps
type Deps struct {
	// WorkflowType defaults to the type of the registered process
	WorkflowType  string
	Client        cc.Client
	Messages      process.ProgressMessageService
	Subscriptions SubscriptionStore
	Timeouts      Timeouts
	Clock         clock.PassiveClock
	Metrics       *process.Metrics
	// FailMaxCount retriable failures after which a node fails, <=0 leaves it to Timeouts.Step
	FailMaxCount int64
}

type node struct {
	id   string
	name string
	step process.Step
}

// deployNodes the steps of the deploy process, in execution order
func deployNodes(deps Deps) []node {
	timeouts := deps.Timeouts
	return []node{
		{NodeDetectDeployedMta, "Detect deployed MTA", NewDetectDeployedMtaStep()},
		{NodePrepareDeployment, "Prepare deployment", NewPrepareDeploymentStep(deps.Subscriptions)},
		{NodeCreateSubscriptions, "Create configuration subscriptions", newCreateSubscriptionsStep(deps.Subscriptions)},
		{NodeCreateServices, "Create or update services", &process.IterateStep{
			Inner: NewCreateOrUpdateServiceStep(timeouts),
			Count: func(pc *process.ProcessContext) int { return len(process.Get(pc, process.VarServicesToCreate)) },
			Prepare: func(pc *process.ProcessContext, index int) error {
				process.Set(pc, process.VarServiceToProcess, process.Get(pc, process.VarServicesToCreate)[index])
				return nil
			},
		}},
		{NodeDeleteServiceKeys, "Delete service keys", NewDeleteServiceKeysStep()},
		{NodeCreateServiceKeys, "Create service keys", &process.IterateStep{
			Inner: NewCreateServiceKeyStep(timeouts),
			Count: func(pc *process.ProcessContext) int { return len(process.Get(pc, process.VarServiceKeysToCreate)) },
			Prepare: func(pc *process.ProcessContext, index int) error {
				process.Set(pc, process.VarServiceKeyToProcess, process.Get(pc, process.VarServiceKeysToCreate)[index])
				return nil
			},
		}},
		{NodeDeployApps, "Deploy applications", &process.IterateStep{
			Inner:   newDeployAppStep(timeouts),
			Count:   func(pc *process.ProcessContext) int { return len(process.Get(pc, process.VarAppsToDeploy)) },
			Prepare: prepareModuleToDeploy,
		}},
		stopOldAppsNode(),
		{NodeDeleteOldApps, "Delete old applications", NewDeleteOldAppsStep()},
		{NodeRenameApps, "Rename applications", NewRenameApplicationsStep()},
		deleteServicesNode(timeouts),
		{NodeDeleteSubscriptions, "Delete configuration subscriptions", newDeleteSubscriptionsStep(deps.Subscriptions)},
	}
}

func stopOldAppsNode() node {
	return node{NodeStopOldApps, "Stop old applications", &process.IterateStep{
		Inner:   NewStopApplicationStep(),
		Count:   func(pc *process.ProcessContext) int { return len(process.Get(pc, process.VarAppsToUndeploy)) },
		Prepare: prepareAppToUndeploy,
	}}
}

func deleteServicesNode(timeouts Timeouts) node {
	return node{NodeDeleteServices, "Delete services", &process.IterateStep{
		Inner: NewDeleteServiceStep(timeouts),
		Count: func(pc *process.ProcessContext) int { return len(process.Get(pc, process.VarServicesToDelete)) },
		Prepare: func(pc *process.ProcessContext, index int) error {
			name := process.Get(pc, process.VarServicesToDelete)[index]
			if current := process.Get(pc, process.VarServiceToProcess); current == nil || current.Name != name {
				process.Set(pc, process.VarServiceToProcess, &cc.CloudServiceInstance{Name: name})
			}
			return nil
		},
	}}
}

func newCreateSubscriptionsStep(store SubscriptionStore) process.Step {
	if store == nil {
		return &process.SyncStep{ExecuteFunc: done}
	}
	return NewCreateSubscriptionsStep(store)
}

func newDeleteSubscriptionsStep(store SubscriptionStore) process.Step {
	if store == nil {
		return &process.SyncStep{ExecuteFunc: done}
	}
	return NewDeleteSubscriptionsStep(store)
}

func done(pc *process.ProcessContext) (process.StepPhase, error) {
	return process.StepPhaseDone, nil
}

// newDeployAppStep deploys one application: create, bind, upload, stage, start and run its tasks
func newDeployAppStep(timeouts Timeouts) process.Step {
	return process.NewSequenceStep(
		NewCreateOrUpdateAppStep(),
		&process.IterateStep{
			Inner: NewBindServiceStep(timeouts),
			Count: func(pc *process.ProcessContext) int { return len(bindingsOfApp(pc)) },
			Prepare: func(pc *process.ProcessContext, index int) error {
				process.Set(pc, process.VarBindingToProcess, bindingsOfApp(pc)[index])
				return nil
			},
			IndexVariable: VarBindingsIndex,
			PhaseVariable: VarBindingsPhase,
		},
		NewUploadAppStep(timeouts),
		NewStageAppStep(timeouts),
		NewStartAppStep(timeouts),
		&process.IterateStep{
			Inner: NewExecuteTaskStep(timeouts),
			Count: func(pc *process.ProcessContext) int { return len(process.Get(pc, process.VarTasksToExecute)) },
			Prepare: func(pc *process.ProcessContext, index int) error {
				task := process.Get(pc, process.VarTasksToExecute)[index]
				task.ApplicationName = appName(pc)
				process.Set(pc, process.VarTaskToExecute, task)
				return nil
			},
			IndexVariable: VarTasksIndex,
			PhaseVariable: VarTasksPhase,
		},
	)
}

func bindingsOfApp(pc *process.ProcessContext) []*cc.ServiceBinding {
	name := appName(pc)
	ret := make([]*cc.ServiceBinding, 0)
	for _, binding := range process.Get(pc, process.VarBindingsToCreate) {
		if binding.ApplicationName == name {
			ret = append(ret, binding)
		}
	}
	return ret
}

// prepareModuleToDeploy publishes the module at index and the application it is deployed as
func prepareModuleToDeploy(pc *process.ProcessContext, index int) error {
	d := process.Get(pc, process.VarDeploymentDescriptor)
	if d == nil {
		return process.NewContentError(MessageNoDescriptor)
	}
	moduleName := process.Get(pc, process.VarAppsToDeploy)[index]
	module := d.Module(moduleName)
	if module == nil {
		return process.NewContentError("%s", format(MessageUnknownModule, map[string]any{"module": moduleName}))
	}
	if current := process.Get(pc, process.VarModuleToDeploy); current == nil || current.Name != module.Name {
		process.Set(pc, process.VarModuleToDeploy, module)
	}
	app := applicationFor(pc, d, module)
	if current := process.Get(pc, process.VarAppToProcess); current == nil || current.Name != app.Name {
		process.Set(pc, process.VarAppToProcess, app)
		process.Set(pc, process.VarTasksToExecute, TasksOfModule(module))
	}
	if seconds := descriptor.IntParameter(module.Parameters, "start-timeout", 0); seconds > 0 {
		process.Set(pc, process.VarStartTimeout, seconds)
	} else {
		process.Remove(pc, process.VarStartTimeout)
	}
	if process.Get(pc, process.VarDeployStrategy) == process.DeployStrategyBlueGreen {
		process.Set(pc, process.VarDeploymentPhase, process.DeploymentPhaseIdle)
	}
	return nil
}

// prepareAppToUndeploy publishes the old application at index, its hooks come from the module of the same name
func prepareAppToUndeploy(pc *process.ProcessContext, index int) error {
	app := process.Get(pc, process.VarAppsToUndeploy)[index]
	if current := process.Get(pc, process.VarAppToProcess); current == nil || current.Name != app.Name {
		process.Set(pc, process.VarAppToProcess, app)
	}
	process.Remove(pc, process.VarModuleToDeploy)
	if d := process.Get(pc, process.VarDeploymentDescriptor); d != nil {
		if module := d.Module(app.ModuleName()); module != nil {
			process.Set(pc, process.VarModuleToDeploy, module)
		}
	}
	if process.Get(pc, process.VarDeployStrategy) == process.DeployStrategyBlueGreen {
		process.Set(pc, process.VarDeploymentPhase, process.DeploymentPhaseLive)
	}
	return nil
}

/*
*
  - @description: register the deploy process: one step worker per node and the node chain
  - @param deps Deps
  - @return error
*/
func RegisterDeployProcess(deps Deps) error {
	workflowType := deps.WorkflowType
	if workflowType == "" {
		workflowType = DeployProcessType
	}
	return registerProcess(deps, workflowType, "Deploy MTA", deployNodes(deps))
}

// registerProcess registers nodes as a chain, each node runs after the previous one completed
func registerProcess(deps Deps, workflowType string, name string, nodes []node) error {
	if deps.Client == nil {
		return errors.New("client is nil")
	}
	hooks := &TaskHookExecutor{}
	config := &workflow.WorkflowConfig{
		ID:    workflowType,
		Name:  name,
		Nodes: make([]*workflow.NodeDefinitionConfig, 0, len(nodes)),
	}
	for i, n := range nodes {
		runner := &process.Runner{
			Step:     n.step,
			Client:   deps.Client,
			Messages: deps.Messages,
			Hooks:    hooks,
			Clock:    deps.Clock,
			Metrics:  deps.Metrics,

			RetryTimeout: deps.Timeouts.Step,
		}
		if err := workflow.RegisterWorkflowTask(workflowType, n.id, process.NewStepWorker(runner)); err != nil {
			return errors.WithMessagef(err, "register node %s", n.id)
		}
		next := make([]string, 0, 1)
		if i+1 < len(nodes) {
			next = append(next, nodes[i+1].id)
		}
		nodeConfig := &workflow.NodeDefinitionConfig{ID: n.id, Name: n.name, NextNodes: next}
		if deps.FailMaxCount > 0 {
			failMaxCount := deps.FailMaxCount
			nodeConfig.FailMaxCount = &failMaxCount
		}
		config.Nodes = append(config.Nodes, nodeConfig)
	}
	return workflow.LoadWorkflowConfig(config)
}
