package workflow_test

import (
	"context"

	"github.com/cloudfoundry/multiapps-controller-sub003/workflow"
)

type workerFunc func(ctx context.Context, execution *workflow.Execution) error

// funcWorker node worker made of two functions, a nil run fails Run and a nil wait is ready at once
type funcWorker struct {
	workflow.BaseTaskWorker
	run  workerFunc
	wait workerFunc
}

func newFuncWorker(run, wait workerFunc) workflow.WorkflowTaskNodeWorker {
	return &funcWorker{run: run, wait: wait}
}

func (w *funcWorker) Run(ctx context.Context, execution *workflow.Execution) error {
	if w.run == nil {
		return w.BaseTaskWorker.Run(ctx, execution)
	}
	return w.run(ctx, execution)
}

func (w *funcWorker) AsynchronousWaitCheck(ctx context.Context, execution *workflow.Execution) error {
	if w.wait == nil {
		return w.BaseTaskWorker.AsynchronousWaitCheck(ctx, execution)
	}
	return w.wait(ctx, execution)
}
