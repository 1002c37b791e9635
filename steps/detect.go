package steps

import (
	"slices"
	"strings"

	cc "github.com/cloudfoundry/multiapps-controller-sub003/cloudcontroller"
	"github.com/cloudfoundry/multiapps-controller-sub003/process"
)

// NewDetectDeployedMtaStep finds the applications labeled with the MTA id and stores them as
// process.VarDeployedMta, which is removed when nothing is deployed yet
func NewDetectDeployedMtaStep() process.Step {
	return &process.SyncStep{
		ExecuteFunc: func(pc *process.ProcessContext) (process.StepPhase, error) {
			mtaID := process.Get(pc, process.VarMtaID)
			if mtaID == "" {
				if d := process.Get(pc, process.VarDeploymentDescriptor); d != nil {
					mtaID = d.ID
				}
			}
			if mtaID == "" {
				return "", process.NewContentError(MessageNoDescriptor)
			}
			pc.Logger().Infof("%s", format(MessageDetectingMta, map[string]any{"mta": mtaID}))
			apps, err := pc.Client().GetApplicationsByLabel(pc.Context(), cc.LabelMtaID+"="+mtaID)
			if err != nil {
				return "", err
			}
			if len(apps) == 0 {
				pc.Logger().Infof("%s", format(MessageNoDeployedMta, map[string]any{"mta": mtaID}))
				process.Remove(pc, process.VarDeployedMta)
				return process.StepPhaseDone, nil
			}
			slices.SortFunc(apps, func(a, b *cc.CloudApplication) int {
				return strings.Compare(a.Name, b.Name)
			})
			deployed := &process.DeployedMta{MtaID: mtaID, Applications: apps}
			for _, app := range apps {
				if version := app.Labels[cc.LabelMtaVersion]; version != "" {
					deployed.Version = version
				}
				for _, service := range app.Services {
					if !slices.Contains(deployed.Services, service) {
						deployed.Services = append(deployed.Services, service)
					}
				}
			}
			slices.Sort(deployed.Services)
			process.Set(pc, process.VarDeployedMta, deployed)
			pc.Logger().Infof("%s", format(MessageDetectedMta, map[string]any{"mta": mtaID, "version": deployed.Version, "apps": len(apps)}))
			return process.StepPhaseDone, nil
		},
		ErrorMessageFunc: func(pc *process.ProcessContext) string {
			return format(MessageErrorDetectingMta, map[string]any{"mta": process.Get(pc, process.VarMtaID)})
		},
	}
}

