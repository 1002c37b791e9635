package process

import (
	"context"
	"time"

	"github.com/cloudfoundry/multiapps-controller-sub003/cloudcontroller"
	"k8s.io/utils/clock"
)

// Execution the engine's handle on the running step, implemented by workflow.Execution.
// Local variables belong to the step instance, the others to the process instance.
type Execution interface {
	ProcessInstanceID() string
	ActivityID() string
	GetVariable(name string) (any, bool)
	SetVariable(name string, value any)
	RemoveVariable(name string)
	GetLocalVariable(name string) (any, bool)
	SetLocalVariable(name string, value any)
	RemoveLocalVariable(name string)
}

// ProcessContext everything a step invocation can reach.
// It is built when the invocation starts and dropped when it returns.
type ProcessContext struct {
	ctx       context.Context
	execution Execution
	client    cloudcontroller.Client
	logger    *StepLogger
	clock     clock.PassiveClock
	hooks     HookExecutor
}

func NewContext(ctx context.Context, execution Execution, client cloudcontroller.Client, logger *StepLogger, clk clock.PassiveClock) *ProcessContext {
	if clk == nil {
		clk = clock.RealClock{}
	}
	if logger == nil {
		logger = NewStepLogger(ctx, execution.ProcessInstanceID(), execution.ActivityID(), nil, clk.Now)
	}
	return &ProcessContext{
		ctx:       ctx,
		execution: execution,
		client:    client,
		logger:    logger,
		clock:     clk,
	}
}

func (pc *ProcessContext) Context() context.Context {
	return pc.ctx
}

func (pc *ProcessContext) Execution() Execution {
	return pc.execution
}

func (pc *ProcessContext) Client() cloudcontroller.Client {
	return pc.client
}

func (pc *ProcessContext) Logger() *StepLogger {
	return pc.logger
}

func (pc *ProcessContext) Now() time.Time {
	return pc.clock.Now()
}

// Since elapsed time from an epoch milliseconds timestamp
func (pc *ProcessContext) Since(startMillis int64) time.Duration {
	return pc.clock.Since(time.UnixMilli(startMillis))
}

func (pc *ProcessContext) ProcessInstanceID() string {
	return pc.execution.ProcessInstanceID()
}

func (pc *ProcessContext) StepID() string {
	return pc.execution.ActivityID()
}

// Timeout reads a timeout variable holding seconds, def when unset or not positive
func (pc *ProcessContext) Timeout(v Variable[int], def time.Duration) time.Duration {
	seconds := Get(pc, v)
	if seconds <= 0 {
		return def
	}
	return time.Duration(seconds) * time.Second
}
