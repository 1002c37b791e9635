package steps

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/cloudfoundry/multiapps-controller-sub003/cloudcontroller/cctest"
	"github.com/cloudfoundry/multiapps-controller-sub003/process"
	testingclock "k8s.io/utils/clock/testing"
)

type fakeExecution struct {
	variables map[string]any
	locals    map[string]any
}

func newFakeExecution() *fakeExecution {
	return &fakeExecution{variables: make(map[string]any), locals: make(map[string]any)}
}

func (e *fakeExecution) ProcessInstanceID() string { return "1" }
func (e *fakeExecution) ActivityID() string        { return "test-step" }
func (e *fakeExecution) GetVariable(name string) (any, bool) {
	v, ok := e.variables[name]
	return v, ok
}
func (e *fakeExecution) SetVariable(name string, value any) { e.variables[name] = value }
func (e *fakeExecution) RemoveVariable(name string)         { delete(e.variables, name) }
func (e *fakeExecution) GetLocalVariable(name string) (any, bool) {
	v, ok := e.locals[name]
	return v, ok
}
func (e *fakeExecution) SetLocalVariable(name string, value any) { e.locals[name] = value }
func (e *fakeExecution) RemoveLocalVariable(name string)         { delete(e.locals, name) }

type recordedMessages struct {
	mu       sync.Mutex
	messages []*process.ProgressMessage
}

func (r *recordedMessages) Add(ctx context.Context, message *process.ProgressMessage) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages = append(r.messages, message)
	return nil
}

func (r *recordedMessages) ofType(messageType process.ProgressMessageType) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	ret := make([]string, 0)
	for _, m := range r.messages {
		if m.Type == messageType {
			ret = append(ret, m.Text)
		}
	}
	return ret
}

var testStart = time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

// harness one step instance driven the way the engine drives it
type harness struct {
	t         *testing.T
	execution *fakeExecution
	client    *cctest.FakeClient
	clock     *testingclock.FakeClock
	messages  *recordedMessages
	runner    *process.Runner
}

func newHarness(t *testing.T, step process.Step) *harness {
	t.Helper()
	h := &harness{
		t:         t,
		execution: newFakeExecution(),
		client:    cctest.NewFakeClient(),
		clock:     testingclock.NewFakeClock(testStart),
		messages:  &recordedMessages{},
	}
	h.runner = &process.Runner{
		Step:     step,
		Client:   h.client,
		Messages: h.messages,
		Hooks:    &TaskHookExecutor{},
		Clock:    h.clock,
	}
	return h
}

// context a process context over the step instance, for seeding and reading variables
func (h *harness) context() *process.ProcessContext {
	return process.NewContext(context.Background(), h.execution, h.client, nil, h.clock)
}

func (h *harness) invoke() (process.StepPhase, error) {
	return h.runner.Invoke(context.Background(), h.execution)
}

func (h *harness) phase() process.StepPhase {
	return process.Get(h.context(), process.VarStepPhase)
}
