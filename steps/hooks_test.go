package steps

import (
	"testing"

	cc "github.com/cloudfoundry/multiapps-controller-sub003/cloudcontroller"
	"github.com/cloudfoundry/multiapps-controller-sub003/descriptor"
	"github.com/cloudfoundry/multiapps-controller-sub003/process"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTaskHookExecutor(t *testing.T) {
	h := newHarness(t, nil)
	app := h.client.AddApplication(&cc.CloudApplication{Name: "backend"})
	pc := h.context()
	process.Set(pc, process.VarAppToProcess, &cc.CloudApplication{Name: "backend"})
	module := &descriptor.Module{Name: "backend"}
	migrate := &descriptor.Hook{Name: "migrate", Parameters: map[string]any{"command": "npm run migrate", "memory": "128M"}}
	executor := &TaskHookExecutor{}

	require.NoError(t, executor.ExecuteHooks(pc, module, []*descriptor.Hook{migrate}, []process.HookPoint{process.HookPointBeforeStart}))
	require.Len(t, h.client.Tasks, 1)
	for _, task := range h.client.Tasks {
		assert.Equal(t, "migrate", task.Name)
		assert.Equal(t, 128, task.MemoryInMB)
	}
	assert.Equal(t, app.GUID, process.Get(pc, process.VarAppToProcess).GUID)

	// the same hook point again is a no-op, another point runs the hook again
	require.NoError(t, executor.ExecuteHooks(pc, module, []*descriptor.Hook{migrate}, []process.HookPoint{process.HookPointBeforeStart}))
	assert.Len(t, h.client.Tasks, 1)
	require.NoError(t, executor.ExecuteHooks(pc, module, []*descriptor.Hook{migrate}, []process.HookPoint{process.HookPointAfterStop}))
	assert.Len(t, h.client.Tasks, 2)
	assert.Len(t, process.Get(pc, process.VarExecutedHooks), 2)
}

func TestTaskHookExecutor_HookWithoutCommand(t *testing.T) {
	h := newHarness(t, nil)
	h.client.AddApplication(&cc.CloudApplication{Name: "backend"})
	pc := h.context()
	process.Set(pc, process.VarAppToProcess, &cc.CloudApplication{Name: "backend"})

	err := (&TaskHookExecutor{}).ExecuteHooks(pc, &descriptor.Module{Name: "backend"},
		[]*descriptor.Hook{{Name: "broken"}}, []process.HookPoint{process.HookPointBeforeStop})
	var stepErr *process.StepError
	require.ErrorAs(t, err, &stepErr)
	assert.Equal(t, process.ErrorTypeContent, stepErr.ErrorType)
	assert.Empty(t, h.client.Tasks)
}
