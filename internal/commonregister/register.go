// Package commonregister registers the processes of the deployer with the workflow engine.
package commonregister

import (
	"github.com/cloudfoundry/multiapps-controller-sub003/steps"
	"github.com/cloudfoundry/multiapps-controller-sub003/workflow"
	"github.com/pkg/errors"
)

// ProcessTypes the workflow types the processes are registered under
type ProcessTypes struct {
	Deploy   string
	Undeploy string
}

var DefaultProcessTypes = ProcessTypes{
	Deploy:   steps.DeployProcessType,
	Undeploy: steps.UndeployProcessType,
}

func (t ProcessTypes) All() []string {
	return []string{t.Deploy, t.Undeploy}
}

/*
*
  - @description: register the deploy and undeploy processes, a type can be registered once per binary
  - @param deps steps.Deps, deps.WorkflowType is ignored
  - @param types ProcessTypes
  - @return error
*/
func RegisterProcesses(deps steps.Deps, types ProcessTypes) error {
	if types.Deploy == "" || types.Undeploy == "" {
		return errors.New("process types are empty")
	}
	deps.WorkflowType = types.Deploy
	if err := steps.RegisterDeployProcess(deps); err != nil {
		return errors.WithMessagef(err, "register %s", types.Deploy)
	}
	deps.WorkflowType = types.Undeploy
	if err := steps.RegisterUndeployProcess(deps); err != nil {
		return errors.WithMessagef(err, "register %s", types.Undeploy)
	}
	// a node without a worker or a cycle is reported at startup, not on the first run
	return workflow.PreloadWorkflowDefinitions(types.All()...)
}
