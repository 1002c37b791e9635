package cloudcontroller

// AppState desired state of an application
type AppState = string

const (
	AppStateStarted AppState = "STARTED"
	AppStateStopped AppState = "STOPPED"
)

// InstanceState state of one running application instance
type InstanceState = string

const (
	InstanceStateRunning  InstanceState = "RUNNING"
	InstanceStateStarting InstanceState = "STARTING"
	InstanceStateCrashed  InstanceState = "CRASHED"
	InstanceStateDown     InstanceState = "DOWN"
)

// Label keys used to find the applications that belong to one MTA
const (
	LabelMtaID       = "mta_id"
	LabelMtaModule   = "mta_module"
	LabelMtaVersion  = "mta_version"
	LabelMtaResource = "mta_resource"
)

type CloudApplication struct {
	GUID      string            `json:"guid"`
	Name      string            `json:"name"`
	State     AppState          `json:"state"`
	Instances int               `json:"instances"`
	Memory    int               `json:"memory"`
	Env       map[string]string `json:"env,omitempty"`
	Labels    map[string]string `json:"labels,omitempty"`
	Routes    []string          `json:"routes,omitempty"`
	Services  []string          `json:"services,omitempty"`
}

func (a *CloudApplication) ModuleName() string {
	if a == nil || a.Labels == nil {
		return ""
	}
	return a.Labels[LabelMtaModule]
}

type InstanceInfo struct {
	Index int           `json:"index"`
	State InstanceState `json:"state"`
}

// OperationType kind of a service (or service key) last operation
type OperationType = string

const (
	OperationTypeCreate OperationType = "create"
	OperationTypeUpdate OperationType = "update"
	OperationTypeDelete OperationType = "delete"
)

// OperationState state of a service last operation
type OperationState = string

const (
	OperationStateInitial    OperationState = "initial"
	OperationStateInProgress OperationState = "in progress"
	OperationStateSucceeded  OperationState = "succeeded"
	OperationStateFailed     OperationState = "failed"
)

type ServiceOperation struct {
	Type        OperationType  `json:"type"`
	State       OperationState `json:"state"`
	Description string         `json:"description,omitempty"`
}

type CloudServiceInstance struct {
	GUID          string            `json:"guid,omitempty"`
	Name          string            `json:"name"`
	Offering      string            `json:"offering,omitempty"`
	Plan          string            `json:"plan,omitempty"`
	Parameters    map[string]any    `json:"parameters,omitempty"`
	Tags          []string          `json:"tags,omitempty"`
	UserProvided  bool              `json:"user_provided,omitempty"`
	Optional      bool              `json:"optional,omitempty"`
	Labels        map[string]string `json:"labels,omitempty"`
	LastOperation *ServiceOperation `json:"last_operation,omitempty"`
}

type ServiceKey struct {
	GUID                string            `json:"guid,omitempty"`
	Name                string            `json:"name"`
	ServiceInstanceName string            `json:"service_instance_name"`
	Parameters          map[string]any    `json:"parameters,omitempty"`
	Credentials         map[string]any    `json:"credentials,omitempty"`
	Optional            bool              `json:"optional,omitempty"`
	LastOperation       *ServiceOperation `json:"last_operation,omitempty"`
}

type ServiceBinding struct {
	GUID                string         `json:"guid,omitempty"`
	ApplicationName     string         `json:"application_name"`
	ServiceInstanceName string         `json:"service_instance_name"`
	Parameters          map[string]any `json:"parameters,omitempty"`
	Optional            bool           `json:"optional,omitempty"`
}

// TaskState state of a one-off task
type TaskState = string

const (
	TaskStatePending   TaskState = "PENDING"
	TaskStateRunning   TaskState = "RUNNING"
	TaskStateCanceling TaskState = "CANCELING"
	TaskStateSucceeded TaskState = "SUCCEEDED"
	TaskStateFailed    TaskState = "FAILED"
)

type CloudTask struct {
	GUID            string    `json:"guid,omitempty"`
	ApplicationName string    `json:"application_name,omitempty"`
	Name            string    `json:"name"`
	Command         string    `json:"command"`
	MemoryInMB      int       `json:"memory_in_mb,omitempty"`
	State           TaskState `json:"state,omitempty"`
	FailureReason   string    `json:"failure_reason,omitempty"`
}

// PackageState state of an uploaded application package
type PackageState = string

const (
	PackageStateAwaitingUpload   PackageState = "AWAITING_UPLOAD"
	PackageStateProcessingUpload PackageState = "PROCESSING_UPLOAD"
	PackageStateCopying          PackageState = "COPYING"
	PackageStateReady            PackageState = "READY"
	PackageStateFailed           PackageState = "FAILED"
	PackageStateExpired          PackageState = "EXPIRED"
)

type CloudPackage struct {
	GUID   string       `json:"guid"`
	Status PackageState `json:"status"`
}

// BuildState state of a staging build
type BuildState = string

const (
	BuildStateStaging BuildState = "STAGING"
	BuildStateStaged  BuildState = "STAGED"
	BuildStateFailed  BuildState = "FAILED"
)

type CloudBuild struct {
	GUID        string     `json:"guid"`
	State       BuildState `json:"state"`
	Error       string     `json:"error,omitempty"`
	DropletGUID string     `json:"droplet_guid,omitempty"`
}

// JobState state of an asynchronous platform job
type JobState = string

const (
	JobStateProcessing JobState = "PROCESSING"
	JobStatePolling    JobState = "POLLING"
	JobStateComplete   JobState = "COMPLETE"
	JobStateFailed     JobState = "FAILED"
)

type JobError struct {
	Code   int    `json:"code"`
	Title  string `json:"title"`
	Detail string `json:"detail"`
}

type CloudJob struct {
	GUID      string     `json:"guid"`
	Operation string     `json:"operation"`
	State     JobState   `json:"state"`
	Errors    []JobError `json:"errors,omitempty"`
}

type ApplicationLog struct {
	Timestamp int64  `json:"timestamp"`
	Source    string `json:"source"`
	Message   string `json:"message"`
	IsError   bool   `json:"is_error"`
}
