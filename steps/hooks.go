package steps

import (
	"slices"
	"strings"

	cc "github.com/cloudfoundry/multiapps-controller-sub003/cloudcontroller"
	"github.com/cloudfoundry/multiapps-controller-sub003/descriptor"
	"github.com/cloudfoundry/multiapps-controller-sub003/process"
	"github.com/pkg/errors"
)

// TaskHookExecutor runs hooks as one-off tasks on the application being processed.
// A hook already started for the same application and hook points is not started again.
type TaskHookExecutor struct{}

var _ process.HookExecutor = (*TaskHookExecutor)(nil)

func (e *TaskHookExecutor) ExecuteHooks(pc *process.ProcessContext, module *descriptor.Module, hooks []*descriptor.Hook, points []process.HookPoint) error {
	app, err := appToProcess(pc)
	if err != nil {
		return err
	}
	executed := process.Get(pc, process.VarExecutedHooks)
	for _, hook := range hooks {
		key := hookKey(app, module, hook, points)
		if slices.Contains(executed, key) {
			pc.Logger().Debugf("hook %s already executed, key: %s", hook.Name, key)
			continue
		}
		command := descriptor.StringParameter(hook.Parameters, "command", "")
		if command == "" {
			return process.NewContentError("Hook %q of module %q has no command", hook.Name, module.Name)
		}
		pc.Logger().Infof("%s", format(MessageExecutingHook, map[string]any{"hook": hook.Name, "module": module.Name, "app": app.Name}))
		task := &cc.CloudTask{
			Name:       descriptor.StringParameter(hook.Parameters, "name", hook.Name),
			Command:    command,
			MemoryInMB: descriptor.MemoryParameter(hook.Parameters, "memory", 0),
		}
		if _, err := pc.Client().RunTask(pc.Context(), app.GUID, task); err != nil {
			return errors.WithMessagef(err, "run hook %s of module %s", hook.Name, module.Name)
		}
		executed = append(executed, key)
		process.Set(pc, process.VarExecutedHooks, executed)
		process.Set(pc, process.VarHooksForExecution, append(process.Get(pc, process.VarHooksForExecution), hook))
	}
	return nil
}

func hookKey(app *cc.CloudApplication, module *descriptor.Module, hook *descriptor.Hook, points []process.HookPoint) string {
	names := make([]string, 0, len(points))
	for _, point := range points {
		names = append(names, string(point))
	}
	return strings.Join([]string{app.Name, module.Name, hook.Name, strings.Join(names, "+")}, "/")
}
