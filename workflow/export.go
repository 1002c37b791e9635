package workflow

import (
	"context"
	"time"
)

type WorkflowService interface {
	/**
	 * @description: create a workflow instance
	 * @param ctx context.Context
	 * @param req *CreateWorkflowReq
	 * @return *WorkflowInstance, error
	 */
	CreateWorkflow(ctx context.Context, req *CreateWorkflowReq) (*WorkflowInstance, error)
	/**
	 * @description: count workflow instances
	 * @param ctx context.Context
	 * @param params *QueryWorkflowInstanceParams
	 * @return int64, error
	 */
	CountWorkflowInstance(ctx context.Context, params *QueryWorkflowInstanceParams) (int64, error)
	/**
	 * @description: workflow instances with every node of their definition, created or not
	 */
	QueryWorkflowInstanceDetail(ctx context.Context, params *QueryWorkflowInstanceParams) ([]*WorkflowInstanceDetailEntity, error)
	QueryWorkflowInstancePo(ctx context.Context, params *QueryWorkflowInstanceParams) ([]*WorkflowInstancePo, error)
	/**
	 * @description: run one tick of a workflow instance
	 *				 an instance is run by one goroutine at a time,
	 *				 LockFailedError is returned while another one holds it
	 * @param ctx context.Context
	 * @param workflowID int64
	 * @return error
	 */
	RunWorkflow(ctx context.Context, workflowID int64) error
	/**
	 * @description: cancel a workflow instance, every unfinished node is cancelled too
	 * @param ctx context.Context
	 * @param workflowInstanceID int64
	 * @return error
	 */
	CancelWorkflowInstance(ctx context.Context, workflowInstanceID int64) error

	/**
	 * @description: restart a node and every node after it
	 *                node-local variables are kept, the worker sees it was invoked before
	 * @param ctx context.Context
	 * @param restartWorkflowNodeParams *RestartWorkflowNodeParams
	 *				  restartWorkflowNodeParams.WorkflowInstanceID workflow instance id
	 *				  restartWorkflowNodeParams.TaskType node to restart
	 *				  restartWorkflowNodeParams.IsForcedRestartWorkflow also reopen a finished workflow instance
	 * @return error
	 */
	RestartWorkflowNode(ctx context.Context, restartWorkflowNodeParams *RestartWorkflowNodeParams) error

	/**
	 * @description: restart a failed or cancelled workflow instance, completed ones cannot be restarted
	 * @param ctx context.Context
	 * @param restartWorkflowParams *RestartWorkflowParams
	 *				  restartWorkflowParams.WorkflowInstanceID workflow instance id
	 *				  restartWorkflowParams.IsRun run one tick right away
	 * @return error
	 */
	RestartWorkflowInstance(ctx context.Context, restartWorkflowParams *RestartWorkflowParams) error
}

// WorkflowServiceImpl workflow service
type WorkflowServiceImpl struct {
	repo        WorkflowRepo
	executeLock WorkflowLock
	lockTimeout time.Duration
}

const defaultLockTimeout = 10 * time.Minute

type WorkflowServiceOption func(*WorkflowServiceImpl)

// WithLockTimeout how long an instance lock is held before it expires, <=0 keeps the default
func WithLockTimeout(timeout time.Duration) WorkflowServiceOption {
	return func(s *WorkflowServiceImpl) {
		if timeout > 0 {
			s.lockTimeout = timeout
		}
	}
}

func NewWorkflowService(repo WorkflowRepo, executeLock WorkflowLock, opts ...WorkflowServiceOption) WorkflowService {
	s := &WorkflowServiceImpl{repo: repo, executeLock: executeLock, lockTimeout: defaultLockTimeout}
	for _, opt := range opts {
		opt(s)
	}
	return s
}
