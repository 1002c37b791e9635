package process

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/cloudfoundry/multiapps-controller-sub003/cloudcontroller/cctest"
	testingclock "k8s.io/utils/clock/testing"
)

type fakeExecution struct {
	processID  string
	activityID string
	variables  map[string]any
	locals     map[string]any
}

func newFakeExecution() *fakeExecution {
	return &fakeExecution{
		processID:  "1",
		activityID: "test-step",
		variables:  make(map[string]any),
		locals:     make(map[string]any),
	}
}

func (e *fakeExecution) ProcessInstanceID() string { return e.processID }
func (e *fakeExecution) ActivityID() string        { return e.activityID }
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
	messages []*ProgressMessage
}

func (r *recordedMessages) Add(ctx context.Context, message *ProgressMessage) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages = append(r.messages, message)
	return nil
}

func (r *recordedMessages) ofType(messageType ProgressMessageType) []string {
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

func newTestContext(t *testing.T, execution Execution) (*ProcessContext, *testingclock.FakeClock, *cctest.FakeClient) {
	t.Helper()
	clk := testingclock.NewFakeClock(testStart)
	client := cctest.NewFakeClient()
	return NewContext(context.Background(), execution, client, nil, clk), clk, client
}
