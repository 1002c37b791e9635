package cloudcontroller

import (
	"context"
	"io"
)

// Client is the platform controller API the deployment steps depend on.
// Every call may fail with *CloudOperationError. Mutations that the platform runs in the
// background return a job id; an empty job id means the call completed synchronously.
type Client interface {
	GetApplication(ctx context.Context, name string) (*CloudApplication, error)
	GetApplicationsByLabel(ctx context.Context, labelSelector string) ([]*CloudApplication, error)
	CreateApplication(ctx context.Context, app *CloudApplication) (*CloudApplication, error)
	// UpdateApplication applies instances, memory, env and labels of app to the application app.GUID
	UpdateApplication(ctx context.Context, app *CloudApplication) (*CloudApplication, error)
	RenameApplication(ctx context.Context, guid string, newName string) error
	StartApplication(ctx context.Context, guid string) error
	StopApplication(ctx context.Context, guid string) error
	DeleteApplication(ctx context.Context, guid string) (jobID string, err error)
	GetApplicationInstances(ctx context.Context, guid string) ([]InstanceInfo, error)
	GetRecentLogs(ctx context.Context, guid string) ([]ApplicationLog, error)

	GetServiceInstance(ctx context.Context, name string) (*CloudServiceInstance, error)
	CreateServiceInstance(ctx context.Context, service *CloudServiceInstance) (jobID string, err error)
	UpdateServiceInstance(ctx context.Context, service *CloudServiceInstance) (jobID string, err error)
	DeleteServiceInstance(ctx context.Context, guid string) (jobID string, err error)

	GetServiceKey(ctx context.Context, serviceInstanceName string, keyName string) (*ServiceKey, error)
	GetServiceKeys(ctx context.Context, serviceInstanceName string) ([]*ServiceKey, error)
	CreateServiceKey(ctx context.Context, key *ServiceKey) (jobID string, err error)
	DeleteServiceKey(ctx context.Context, guid string) (jobID string, err error)

	BindService(ctx context.Context, binding *ServiceBinding) (jobID string, err error)

	CreatePackage(ctx context.Context, appGUID string, archive io.Reader) (*CloudPackage, error)
	GetPackage(ctx context.Context, guid string) (*CloudPackage, error)
	CreateBuild(ctx context.Context, packageGUID string) (*CloudBuild, error)
	GetBuild(ctx context.Context, guid string) (*CloudBuild, error)
	SetCurrentDroplet(ctx context.Context, appGUID string, dropletGUID string) error

	RunTask(ctx context.Context, appGUID string, task *CloudTask) (*CloudTask, error)
	GetTask(ctx context.Context, guid string) (*CloudTask, error)

	GetJob(ctx context.Context, guid string) (*CloudJob, error)
}
