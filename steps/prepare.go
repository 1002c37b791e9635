package steps

import (
	"slices"

	cc "github.com/cloudfoundry/multiapps-controller-sub003/cloudcontroller"
	"github.com/cloudfoundry/multiapps-controller-sub003/descriptor"
	"github.com/cloudfoundry/multiapps-controller-sub003/process"
	"github.com/pkg/errors"
)

func isServiceResource(r *descriptor.Resource) bool {
	switch r.Type {
	case descriptor.ResourceTypeManagedService, descriptor.ResourceTypeUserProvidedService, descriptor.ResourceTypeExistingService:
		return r.IsActive()
	}
	return false
}

// ServiceName name of the service instance behind resource r
func ServiceName(r *descriptor.Resource) string {
	return descriptor.StringParameter(r.Parameters, "service-name", r.Name)
}

// serviceFor the service instance to create for r, nil when the deployer does not own it
func serviceFor(d *descriptor.DeploymentDescriptor, r *descriptor.Resource) *cc.CloudServiceInstance {
	if r.Type != descriptor.ResourceTypeManagedService && r.Type != descriptor.ResourceTypeUserProvidedService {
		return nil
	}
	config, _ := r.Parameters["config"].(map[string]any)
	return &cc.CloudServiceInstance{
		Name:         ServiceName(r),
		Offering:     descriptor.StringParameter(r.Parameters, "service", ""),
		Plan:         descriptor.StringParameter(r.Parameters, "service-plan", ""),
		Parameters:   config,
		Tags:         descriptor.StringListParameter(r.Parameters, "service-tags"),
		UserProvided: r.Type == descriptor.ResourceTypeUserProvidedService,
		Optional:     r.Optional,
		Labels: map[string]string{
			cc.LabelMtaID:       d.ID,
			cc.LabelMtaResource: r.Name,
		},
	}
}

// NewPrepareDeploymentStep validates the descriptor and computes every list the later steps iterate.
// store may be nil, then no subscriptions are deleted.
func NewPrepareDeploymentStep(store SubscriptionStore) process.Step {
	return &process.SyncStep{
		ExecuteFunc: func(pc *process.ProcessContext) (process.StepPhase, error) {
			d := process.Get(pc, process.VarDeploymentDescriptor)
			if d == nil {
				return "", process.NewContentError(MessageNoDescriptor)
			}
			if err := d.Validate(); err != nil {
				return "", process.AsContentError(err, "%s", format(MessageErrorPreparing, map[string]any{"mta": d.ID}))
			}
			process.Set(pc, process.VarMtaID, d.ID)

			services := make([]*cc.CloudServiceInstance, 0)
			keys := make([]*cc.ServiceKey, 0)
			declaredServices := make([]string, 0)
			for _, r := range d.Resources {
				if !isServiceResource(r) {
					continue
				}
				declaredServices = append(declaredServices, ServiceName(r))
				if service := serviceFor(d, r); service != nil {
					services = append(services, service)
				}
				for _, keyName := range descriptor.StringListParameter(r.Parameters, "service-keys") {
					keys = append(keys, &cc.ServiceKey{Name: keyName, ServiceInstanceName: ServiceName(r), Optional: r.Optional})
				}
			}
			process.Set(pc, process.VarServicesToCreate, services)
			process.Set(pc, process.VarServiceKeysToCreate, keys)

			keysToDelete, err := serviceKeysToDelete(pc, d)
			if err != nil {
				return "", err
			}
			process.Set(pc, process.VarServiceKeysToDelete, keysToDelete)

			bindings, err := bindingsOf(pc, d)
			if err != nil {
				return "", err
			}
			process.Set(pc, process.VarBindingsToCreate, bindings)

			appsToDeploy := make([]string, 0, len(d.Modules))
			deployedNames := make([]string, 0, len(d.Modules))
			for _, module := range d.Modules {
				appsToDeploy = append(appsToDeploy, module.Name)
				deployedNames = append(deployedNames, deployedName(pc, module))
			}
			process.Set(pc, process.VarAppsToDeploy, appsToDeploy)

			appsToUndeploy := make([]*cc.CloudApplication, 0)
			servicesToDelete := make([]string, 0)
			if deployed := process.Get(pc, process.VarDeployedMta); deployed != nil {
				for _, app := range deployed.Applications {
					if !slices.Contains(deployedNames, app.Name) {
						appsToUndeploy = append(appsToUndeploy, app)
					}
				}
				if process.Get(pc, process.VarDeleteServices) {
					undeclared := make([]string, 0)
					for _, service := range deployed.Services {
						if !slices.Contains(declaredServices, service) {
							undeclared = append(undeclared, service)
						}
					}
					owned, err := ownedServices(pc, d.ID, undeclared)
					if err != nil {
						return "", err
					}
					servicesToDelete = owned
				}
			}
			process.Set(pc, process.VarAppsToUndeploy, appsToUndeploy)
			process.Set(pc, process.VarServicesToDelete, servicesToDelete)

			subscriptionsToDelete, err := subscriptionsToDelete(pc, store, d)
			if err != nil {
				return "", err
			}
			process.Set(pc, process.VarSubscriptionsToDelete, subscriptionsToDelete)

			pc.Logger().Infof("%s", format(MessageDeploymentPlan, map[string]any{"apps": len(appsToDeploy), "services": len(services), "mta": d.ID}))
			return process.StepPhaseDone, nil
		},
		ErrorMessageFunc: func(pc *process.ProcessContext) string {
			return format(MessageErrorPreparing, map[string]any{"mta": process.Get(pc, process.VarMtaID)})
		},
	}
}

// serviceKeysToDelete existing keys of resources that declare service-keys but no longer declare them
func serviceKeysToDelete(pc *process.ProcessContext, d *descriptor.DeploymentDescriptor) ([]*cc.ServiceKey, error) {
	ret := make([]*cc.ServiceKey, 0)
	for _, r := range d.Resources {
		if !isServiceResource(r) {
			continue
		}
		if _, declared := r.Parameters["service-keys"]; !declared {
			continue
		}
		wanted := descriptor.StringListParameter(r.Parameters, "service-keys")
		existing, err := pc.Client().GetServiceKeys(pc.Context(), ServiceName(r))
		switch cc.Classify(err) {
		case cc.OutcomeOK:
		case cc.OutcomeNotFound:
			continue
		default:
			if r.Optional {
				pc.Logger().Warnf("read service keys of optional service %s failed, err: %v", ServiceName(r), err)
				continue
			}
			return nil, errors.WithMessagef(err, "read service keys of %s", ServiceName(r))
		}
		for _, key := range existing {
			if !slices.Contains(wanted, key.Name) {
				key.Optional = r.Optional
				ret = append(ret, key)
			}
		}
	}
	return ret, nil
}

func bindingsOf(pc *process.ProcessContext, d *descriptor.DeploymentDescriptor) ([]*cc.ServiceBinding, error) {
	ret := make([]*cc.ServiceBinding, 0)
	for _, module := range d.Modules {
		for _, required := range module.Requires {
			r := d.Resource(required.Name)
			if r == nil {
				return nil, process.NewContentError("%s", format(MessageUnknownBindingTo, map[string]any{"module": module.Name, "resource": required.Name}))
			}
			if !isServiceResource(r) {
				continue
			}
			ret = append(ret, &cc.ServiceBinding{
				ApplicationName:     deployedName(pc, module),
				ServiceInstanceName: ServiceName(r),
				Parameters:          required.Parameters,
				Optional:            r.Optional,
			})
		}
	}
	return ret, nil
}

func subscriptionsToDelete(pc *process.ProcessContext, store SubscriptionStore, d *descriptor.DeploymentDescriptor) ([]int64, error) {
	if store == nil {
		return nil, nil
	}
	existing, err := store.FindByMta(pc.Context(), d.ID)
	if err != nil {
		return nil, errors.WithMessagef(err, "read subscriptions of %s", d.ID)
	}
	declared := SubscriptionsOf(d)
	ret := make([]int64, 0)
	for _, subscription := range existing {
		kept := slices.ContainsFunc(declared, func(s *Subscription) bool {
			return s.AppName == subscription.AppName && s.ResourceName == subscription.ResourceName
		})
		if !kept {
			ret = append(ret, subscription.ID)
		}
	}
	return ret, nil
}

// ownedServices the services among names that carry the mta_id label of mtaID.
// Services bound to the MTA but created elsewhere are never deleted with it.
func ownedServices(pc *process.ProcessContext, mtaID string, names []string) ([]string, error) {
	ret := make([]string, 0, len(names))
	for _, name := range names {
		service, err := pc.Client().GetServiceInstance(pc.Context(), name)
		switch cc.Classify(err) {
		case cc.OutcomeOK:
		case cc.OutcomeNotFound:
			continue
		default:
			return nil, errors.WithMessagef(err, "read service %s", name)
		}
		if service.Labels[cc.LabelMtaID] == mtaID {
			ret = append(ret, name)
		} else {
			pc.Logger().Debugf("service %s is not owned by MTA %s, it is kept", name, mtaID)
		}
	}
	return ret, nil
}
