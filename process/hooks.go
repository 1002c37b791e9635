package process

import (
	"slices"

	"github.com/cloudfoundry/multiapps-controller-sub003/descriptor"
)

type DeployStrategy string

const (
	DeployStrategyDefault   DeployStrategy = "DEFAULT"
	DeployStrategyBlueGreen DeployStrategy = "BLUE_GREEN"
)

// DeploymentPhase which side of a blue/green deployment is being processed
type DeploymentPhase string

const (
	DeploymentPhaseLive DeploymentPhase = "live"
	DeploymentPhaseIdle DeploymentPhase = "idle"
)

// HookPoint abstract extension point a step asks for
type HookPoint string

const (
	HookPointBeforeStop        HookPoint = "before-stop"
	HookPointAfterStop         HookPoint = "after-stop"
	HookPointBeforeUnmapRoutes HookPoint = "before-unmap-routes"
	HookPointBeforeStart       HookPoint = "before-start"
)

// HookPhase concrete phase name as declared by module hooks in the descriptor
type HookPhase string

const genericHookPrefix = "application."
const blueGreenHookPrefix = "blue-green.application."

// ResolveHookPhases turns hook points into the phases to look up in the descriptor.
// Blue/green deployments get their strategy phases first, then the generic ones.
func ResolveHookPhases(points []HookPoint, strategy DeployStrategy, phase DeploymentPhase) []HookPhase {
	ret := make([]HookPhase, 0, 2*len(points))
	if strategy == DeployStrategyBlueGreen {
		for _, point := range points {
			blueGreenPhase := HookPhase(blueGreenHookPrefix + string(point))
			if phase != "" {
				blueGreenPhase += HookPhase("." + string(phase))
			}
			if !slices.Contains(ret, blueGreenPhase) {
				ret = append(ret, blueGreenPhase)
			}
		}
	}
	for _, point := range points {
		genericPhase := HookPhase(genericHookPrefix + string(point))
		if !slices.Contains(ret, genericPhase) {
			ret = append(ret, genericPhase)
		}
	}
	return ret
}

// HooksForModule hooks of module declared for any of phases, in declaration order
func HooksForModule(module *descriptor.Module, phases []HookPhase) []*descriptor.Hook {
	ret := make([]*descriptor.Hook, 0)
	if module == nil || len(phases) == 0 {
		return ret
	}
	for _, hook := range module.Hooks {
		for _, declared := range hook.Phases {
			if slices.Contains(phases, HookPhase(declared)) {
				ret = append(ret, hook)
				break
			}
		}
	}
	return ret
}

// HookExecutor runs resolved hooks, implemented by steps.TaskHookExecutor.
// It is invoked on every tick the step is not polling, so it must be idempotent.
// points are the hook points the hooks were resolved for.
type HookExecutor interface {
	ExecuteHooks(pc *ProcessContext, module *descriptor.Module, hooks []*descriptor.Hook, points []HookPoint) error
}

// resolveHooks hooks of the module being deployed for points
func resolveHooks(pc *ProcessContext, points []HookPoint) (*descriptor.Module, []*descriptor.Hook) {
	if len(points) == 0 {
		return nil, nil
	}
	module := Get(pc, VarModuleToDeploy)
	if module == nil {
		return nil, nil
	}
	phases := ResolveHookPhases(points, Get(pc, VarDeployStrategy), Get(pc, VarDeploymentPhase))
	return module, HooksForModule(module, phases)
}
