package workflow

import (
	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"
)

var validatorUtil = validator.New()

var (
	ErrWorkflowParamInvalid                = errors.New("workflow param invalid")
	ErrWorkflowConfigNotFound              = errors.New("workflow config not found")
	ErrWorkflowDefinitionNotFound          = errors.New("workflow definition not found")
	ErrWorkflowTaskWorkerNotFound          = errors.New("workflow task worker not found")
	ErrWorkflowTaskWorkerAlreadyRegistered = errors.New("workflow task worker already registered")
	ErrWorkflowInstanceNotFound            = errors.New("workflow instance not found")
	ErrWorkflowTaskInstanceNotFound        = errors.New("workflow task instance not found")
	// errors below change how the engine moves a node
	// ErrorWorkflowTaskInstanceNotReady: the node is waiting for something, check again on the next tick.
	// e.g. a platform operation is still in progress
	ErrorWorkflowTaskInstanceNotReady = errors.New("workflow task instance not ready")
	// ErrorWorkflowTaskFailedWithContinue: the node failed but the workflow goes on, the node counts as completed.
	// e.g. cleanup of something nobody depends on
	ErrorWorkflowTaskFailedWithContinue = errors.New("workflow task failed with continue")
	// ErrWorkflowTaskFailedWithFailed: the node failed and so does the workflow instance.
	// e.g. invalid input, no retry can fix it
	ErrWorkflowTaskFailedWithFailed = errors.New("workflow task failed with termination")

	// for callers, they only change the log level of the scheduler
	// errors.Wrapf(ErrWorkBussinessCriticalError, "...") is logged as error
	// errors.Wrapf(ErrWorkBussinessWarningError, "...") is logged as warn
	ErrWorkBussinessCriticalError = errors.New("work bussiness critical error")
	ErrWorkBussinessWarningError  = errors.New("work bussiness warning error")
)

var (
	rootTaskNode = "root"
	endTaskNode  = "end"
)

type WorkflowInstanceStatus = string

const (
	WorkflowInstanceStatusInit    WorkflowInstanceStatus = "init"
	WorkflowInstanceStatusRunning WorkflowInstanceStatus = "running"
	// final, every node completed
	WorkflowInstanceStatusCompleted WorkflowInstanceStatus = "completed"
	// final, a node failed and stopped the workflow
	WorkflowInstanceStatusFailed WorkflowInstanceStatus = "failed"
	// final, cancelled by an operator
	WorkflowInstanceStatusCancelled WorkflowInstanceStatus = "canceled"
)

func IsOverWorkflowInstanceStatus(status WorkflowInstanceStatus) bool {
	return status == WorkflowInstanceStatusFailed || status == WorkflowInstanceStatusCancelled || status == WorkflowInstanceStatusCompleted
}

func GetWorkflowInstanceStatusText(status WorkflowInstanceStatus) string {
	switch status {
	case WorkflowInstanceStatusInit:
		return "Initialized"
	case WorkflowInstanceStatusRunning:
		return "Running"
	case WorkflowInstanceStatusCompleted:
		return "Completed"
	case WorkflowInstanceStatusFailed:
		return "Failed"
	case WorkflowInstanceStatusCancelled:
		return "Cancelled"
	}
	return "Unknown"
}

type WorkflowTaskNodeStatus = string

const (
	WorkflowTaskNodeStatusStatusUnCreated WorkflowInstanceStatus = "uncreated"  // never stored, the node has no instance yet
	WorkflowTaskNodeStatusInit            WorkflowTaskNodeStatus = "init"       // never stored
	WorkflowTaskNodeStatusRestarting      WorkflowTaskNodeStatus = "restarting" // like init, the node instance already exists
	WorkflowTaskNodeStatusRunning         WorkflowTaskNodeStatus = "running"
	WorkflowTaskNodeStatusPending         WorkflowTaskNodeStatus = "pending"
	WorkflowTaskNodeStatusFinishing       WorkflowTaskNodeStatus = "finishing"
	// final, also used for ErrorWorkflowTaskFailedWithContinue
	WorkflowTaskNodeStatusCompleted WorkflowTaskNodeStatus = "completed"
	// final, the node stopped the workflow
	WorkflowTaskNodeStatusFailed WorkflowTaskNodeStatus = "failed"
	// final, cancelled by an operator
	WorkflowTaskNodeStatusCancelled WorkflowTaskNodeStatus = "canceled"
)

func IsOverWorkflowTaskNodeStatus(status WorkflowTaskNodeStatus) bool {
	return status == WorkflowTaskNodeStatusFailed || status == WorkflowTaskNodeStatusCancelled || status == WorkflowTaskNodeStatusCompleted
}

// NodeContextKey key of the node context
type NodeContextKey = string

const (
	NodeContextKeySystem         NodeContextKey = "system"
	NodeContextKeyPreNodeContext NodeContextKey = "pre_node_context"
	// why the node failed
	NodeContextKeyReason NodeContextKey = "reason"
)

func GetWorkflowTaskNodeStatusText(status WorkflowTaskNodeStatus) string {
	switch status {
	case WorkflowTaskNodeStatusStatusUnCreated:
		return "Not created"
	case WorkflowTaskNodeStatusInit:
		return "Initialized"
	case WorkflowTaskNodeStatusRestarting:
		return "Restarting"
	case WorkflowTaskNodeStatusRunning:
		return "Running"
	case WorkflowTaskNodeStatusPending:
		return "Waiting"
	case WorkflowTaskNodeStatusFinishing:
		return "Finishing"
	case WorkflowTaskNodeStatusCancelled:
		return "Cancelled"
	case WorkflowTaskNodeStatusFailed:
		return "Failed"
	case WorkflowTaskNodeStatusCompleted:
		return "Completed"
	}
	return "Unknown"
}

// IsSeriousError tells the scheduler which failures need an operator:
// the instance will not be retried any more, or it cannot run at all (e.g. wrong configuration).
// Serious errors are logged as error, the rest as warn.
func IsSeriousError(err error) bool {
	if err == nil {
		return false
	}
	causeErr := errors.Cause(err)
	if errors.Is(causeErr, ErrWorkflowConfigNotFound) ||
		errors.Is(causeErr, ErrWorkflowDefinitionNotFound) ||
		errors.Is(causeErr, ErrWorkflowTaskWorkerNotFound) ||
		errors.Is(causeErr, ErrWorkflowTaskWorkerAlreadyRegistered) ||
		errors.Is(causeErr, ErrWorkflowInstanceNotFound) ||
		errors.Is(causeErr, ErrWorkflowTaskInstanceNotFound) ||
		errors.Is(causeErr, ErrWorkflowTaskFailedWithFailed) ||
		errors.Is(causeErr, ErrorWorkflowTaskFailedWithContinue) ||
		errors.Is(causeErr, ErrWorkBussinessCriticalError) {
		return true
	}
	return false

}
