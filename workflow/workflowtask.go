package workflow

import (
	"context"
	"strconv"

	"github.com/pkg/errors"
)

// NodeContextKeyVariables node-local variables, they survive a restart of the node
const NodeContextKeyVariables NodeContextKey = "variables"

// Execution is the state one node invocation can see.
// Variables is the workflow instance context shared by every node, it is persisted after each invocation.
// NodeContext belongs to the node; local variables live under NodeContextKeyVariables.
type Execution struct {
	WorkflowInstanceID int64
	TaskInstanceID     int64
	TaskType           string
	BusinessID         string
	FailCount          int64
	Variables          *JSONContext
	NodeContext        *JSONContext
}

func (e *Execution) ProcessInstanceID() string {
	return strconv.FormatInt(e.WorkflowInstanceID, 10)
}

func (e *Execution) ActivityID() string {
	return e.TaskType
}

func (e *Execution) GetVariable(name string) (any, bool) {
	return e.Variables.Get(name)
}

func (e *Execution) SetVariable(name string, value any) {
	e.Variables.Set([]string{name}, value)
}

func (e *Execution) RemoveVariable(name string) {
	e.Variables.Delete(name)
}

func (e *Execution) GetLocalVariable(name string) (any, bool) {
	return e.NodeContext.Get(NodeContextKeyVariables, name)
}

func (e *Execution) SetLocalVariable(name string, value any) {
	e.NodeContext.Set([]string{NodeContextKeyVariables, name}, value)
}

func (e *Execution) RemoveLocalVariable(name string) {
	e.NodeContext.Delete(NodeContextKeyVariables, name)
}

// WorkflowTaskNodeWorker node worker, implemented by the caller
type WorkflowTaskNodeWorker interface {
	/**
	 * @description: first invocation of the node, repeated while it returns a plain error
	 * @param ctx context.Context
	 * @param execution *Execution variables and node context, changes are written back to the store
	 * @return error nil moves the node to pending
	 */
	Run(ctx context.Context, execution *Execution) error
	/**
	 * @description: called on every tick while the node is pending
	 * @param ctx context.Context
	 * @param execution *Execution variables and node context, changes are written back to the store
	 * @return error nil finishes the node, ErrorWorkflowTaskInstanceNotReady keeps it pending
	 */
	AsynchronousWaitCheck(ctx context.Context, execution *Execution) error
}

var defaultEmptyTaskWorker WorkflowTaskNodeWorker = &EmptyTaskWorker{}

type EmptyTaskWorker struct {
}

func (w EmptyTaskWorker) Run(ctx context.Context, execution *Execution) error {
	return errors.New("Not implemented")
}

func (w EmptyTaskWorker) AsynchronousWaitCheck(ctx context.Context, execution *Execution) error {
	return errors.New("Not implemented")
}

type BaseTaskWorker struct {
	EmptyTaskWorker
}

// AsynchronousWaitCheck most nodes have nothing to wait for
func (w BaseTaskWorker) AsynchronousWaitCheck(ctx context.Context, execution *Execution) error {
	return nil
}

// RootNodeWorker start of every workflow
type RootNodeWorker struct {
	BaseTaskWorker
}

func (w RootNodeWorker) Run(ctx context.Context, execution *Execution) error {
	return nil
}

// EndNodeWorker end of every workflow
type EndNodeWorker struct {
	BaseTaskWorker
}

func (w EndNodeWorker) Run(ctx context.Context, execution *Execution) error {
	return nil
}

func NewRootTaskNodeDefinition() *WorkflowTaskNodeDefinition {
	return &WorkflowTaskNodeDefinition{
		TaskType:   rootTaskNode,
		TaskName:   "start",
		PreNodes:   make([]*WorkflowTaskNodeDefinition, 0),
		NextNodes:  make([]*WorkflowTaskNodeDefinition, 0),
		TaskWorker: RootNodeWorker{},
	}
}

func NewEndTaskNodeDefinition() *WorkflowTaskNodeDefinition {
	return &WorkflowTaskNodeDefinition{
		TaskType:   endTaskNode,
		TaskName:   "end",
		PreNodes:   make([]*WorkflowTaskNodeDefinition, 0),
		NextNodes:  make([]*WorkflowTaskNodeDefinition, 0),
		TaskWorker: &EndNodeWorker{},
	}
}
