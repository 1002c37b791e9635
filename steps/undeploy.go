package steps

import (
	cc "github.com/cloudfoundry/multiapps-controller-sub003/cloudcontroller"
	"github.com/cloudfoundry/multiapps-controller-sub003/process"
	"github.com/pkg/errors"
)

// UndeployProcessType workflow type of an MTA undeployment, the process starts with process.VarMtaID set
const UndeployProcessType = "mta_undeploy"

const NodePrepareUndeployment = "prepare_undeployment"

// NewPrepareUndeploymentStep marks every application of the deployed MTA for removal, its services too
// when process.VarDeleteServices is set. Nothing deployed leaves every list empty.
func NewPrepareUndeploymentStep(store SubscriptionStore) process.Step {
	return &process.SyncStep{
		ExecuteFunc: func(pc *process.ProcessContext) (process.StepPhase, error) {
			mtaID := process.Get(pc, process.VarMtaID)
			apps := make([]*cc.CloudApplication, 0)
			services := make([]string, 0)
			if deployed := process.Get(pc, process.VarDeployedMta); deployed != nil {
				apps = append(apps, deployed.Applications...)
				if process.Get(pc, process.VarDeleteServices) {
					owned, err := ownedServices(pc, mtaID, deployed.Services)
					if err != nil {
						return "", err
					}
					services = owned
				}
			}
			process.Set(pc, process.VarAppsToUndeploy, apps)
			process.Set(pc, process.VarServicesToDelete, services)

			subscriptions := make([]int64, 0)
			if store != nil {
				existing, err := store.FindByMta(pc.Context(), mtaID)
				if err != nil {
					return "", errors.WithMessagef(err, "read subscriptions of %s", mtaID)
				}
				for _, subscription := range existing {
					subscriptions = append(subscriptions, subscription.ID)
				}
			}
			process.Set(pc, process.VarSubscriptionsToDelete, subscriptions)
			pc.Logger().Infof("%s", format(MessageUndeploymentPlan, map[string]any{"apps": len(apps), "services": len(services), "mta": mtaID}))
			return process.StepPhaseDone, nil
		},
		ErrorMessageFunc: func(pc *process.ProcessContext) string {
			return format(MessageErrorUndeploying, map[string]any{"mta": process.Get(pc, process.VarMtaID)})
		},
	}
}

func undeployNodes(deps Deps) []node {
	return []node{
		{NodeDetectDeployedMta, "Detect deployed MTA", NewDetectDeployedMtaStep()},
		{NodePrepareUndeployment, "Prepare undeployment", NewPrepareUndeploymentStep(deps.Subscriptions)},
		stopOldAppsNode(),
		{NodeDeleteOldApps, "Delete applications", NewDeleteOldAppsStep()},
		deleteServicesNode(deps.Timeouts),
		{NodeDeleteSubscriptions, "Delete configuration subscriptions", newDeleteSubscriptionsStep(deps.Subscriptions)},
	}
}

// RegisterUndeployProcess deps.WorkflowType defaults to UndeployProcessType
func RegisterUndeployProcess(deps Deps) error {
	workflowType := deps.WorkflowType
	if workflowType == "" {
		workflowType = UndeployProcessType
	}
	return registerProcess(deps, workflowType, "Undeploy MTA", undeployNodes(deps))
}
