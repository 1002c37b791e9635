// Package cctest provides an in-memory controller used by tests and by simulated deployments.
package cctest

import (
	"context"
	"io"
	"maps"
	"net/http"
	"slices"
	"strings"
	"sync"

	"github.com/google/uuid"

	cc "github.com/cloudfoundry/multiapps-controller-sub003/cloudcontroller"
)

// FakeClient keeps the whole platform in memory.
// Errors injected with Fail are returned by the named method until Recover is called.
// With AsyncJobs mutations of services, keys and bindings are answered with a job in
// PROCESSING state. With AutoComplete every pending resource reaches its successful
// terminal state the first time it is read.
type FakeClient struct {
	mu sync.Mutex

	AsyncJobs    bool
	AutoComplete bool

	Apps      map[string]*cc.CloudApplication
	Instances map[string][]cc.InstanceInfo
	Logs      map[string][]cc.ApplicationLog
	Services  map[string]*cc.CloudServiceInstance
	Keys      map[string]*cc.ServiceKey
	Bindings  []*cc.ServiceBinding
	Packages  map[string]*cc.CloudPackage
	Builds    map[string]*cc.CloudBuild
	Droplets  map[string]string
	Tasks     map[string]*cc.CloudTask
	Jobs      map[string]*cc.CloudJob

	errs  map[string]error
	calls map[string]int
}

func NewFakeClient() *FakeClient {
	return &FakeClient{
		Apps:      make(map[string]*cc.CloudApplication),
		Instances: make(map[string][]cc.InstanceInfo),
		Logs:      make(map[string][]cc.ApplicationLog),
		Services:  make(map[string]*cc.CloudServiceInstance),
		Keys:      make(map[string]*cc.ServiceKey),
		Packages:  make(map[string]*cc.CloudPackage),
		Builds:    make(map[string]*cc.CloudBuild),
		Droplets:  make(map[string]string),
		Tasks:     make(map[string]*cc.CloudTask),
		Jobs:      make(map[string]*cc.CloudJob),
		errs:      make(map[string]error),
		calls:     make(map[string]int),
	}
}

var _ cc.Client = (*FakeClient)(nil)

// Fail makes method return err until Recover(method).
func (f *FakeClient) Fail(method string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errs[method] = err
}

func (f *FakeClient) Recover(method string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.errs, method)
}

// Calls number of invocations of method
func (f *FakeClient) Calls(method string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[method]
}

func (f *FakeClient) enter(method string) error {
	f.calls[method]++
	return f.errs[method]
}

func notFound(kind string, name string) error {
	return cc.NewCloudOperationError(http.StatusNotFound, kind+" "+name+" not found")
}

func keyID(serviceInstanceName string, keyName string) string {
	return serviceInstanceName + "/" + keyName
}

// newJob registers a job in PROCESSING state when AsyncJobs is set and returns its id.
func (f *FakeClient) newJob(operation string) string {
	if !f.AsyncJobs {
		return ""
	}
	id := uuid.NewString()
	f.Jobs[id] = &cc.CloudJob{GUID: id, Operation: operation, State: cc.JobStateProcessing}
	return id
}

// AddApplication puts an application on the platform.
func (f *FakeClient) AddApplication(app *cc.CloudApplication) *cc.CloudApplication {
	f.mu.Lock()
	defer f.mu.Unlock()
	if app.GUID == "" {
		app.GUID = uuid.NewString()
	}
	f.Apps[app.Name] = app
	return app
}

// AddServiceInstance puts a service instance on the platform.
func (f *FakeClient) AddServiceInstance(service *cc.CloudServiceInstance) *cc.CloudServiceInstance {
	f.mu.Lock()
	defer f.mu.Unlock()
	if service.GUID == "" {
		service.GUID = uuid.NewString()
	}
	f.Services[service.Name] = service
	return service
}

// AddServiceKey puts a service key on the platform.
func (f *FakeClient) AddServiceKey(key *cc.ServiceKey) *cc.ServiceKey {
	f.mu.Lock()
	defer f.mu.Unlock()
	if key.GUID == "" {
		key.GUID = uuid.NewString()
	}
	f.Keys[keyID(key.ServiceInstanceName, key.Name)] = key
	return key
}

// SetJobState moves a job to state, attaching detail as error when the job failed.
func (f *FakeClient) SetJobState(id string, state cc.JobState, detail string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	job, ok := f.Jobs[id]
	if !ok {
		return
	}
	job.State = state
	if state == cc.JobStateFailed {
		job.Errors = append(job.Errors, cc.JobError{Code: 10008, Title: "CF-UnprocessableEntity", Detail: detail})
	}
}

// SetInstances replaces the instance states reported for an application.
func (f *FakeClient) SetInstances(appName string, states ...cc.InstanceState) {
	f.mu.Lock()
	defer f.mu.Unlock()
	app, ok := f.Apps[appName]
	if !ok {
		return
	}
	instances := make([]cc.InstanceInfo, 0, len(states))
	for i, state := range states {
		instances = append(instances, cc.InstanceInfo{Index: i, State: state})
	}
	f.Instances[app.GUID] = instances
}

func (f *FakeClient) GetApplication(ctx context.Context, name string) (*cc.CloudApplication, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("GetApplication"); err != nil {
		return nil, err
	}
	app, ok := f.Apps[name]
	if !ok {
		return nil, notFound("application", name)
	}
	copied := *app
	return &copied, nil
}

func (f *FakeClient) GetApplicationsByLabel(ctx context.Context, labelSelector string) ([]*cc.CloudApplication, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("GetApplicationsByLabel"); err != nil {
		return nil, err
	}
	selector := make(map[string]string)
	for _, part := range strings.Split(labelSelector, ",") {
		kv := strings.SplitN(part, "=", 2)
		if len(kv) == 2 {
			selector[kv[0]] = kv[1]
		}
	}
	ret := make([]*cc.CloudApplication, 0)
	for _, app := range f.Apps {
		matched := true
		for k, v := range selector {
			if app.Labels[k] != v {
				matched = false
				break
			}
		}
		if matched {
			copied := *app
			ret = append(ret, &copied)
		}
	}
	return ret, nil
}

func (f *FakeClient) CreateApplication(ctx context.Context, app *cc.CloudApplication) (*cc.CloudApplication, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("CreateApplication"); err != nil {
		return nil, err
	}
	if _, ok := f.Apps[app.Name]; ok {
		return nil, cc.NewCloudOperationError(http.StatusUnprocessableEntity, "application "+app.Name+" already exists")
	}
	created := *app
	created.GUID = uuid.NewString()
	if created.State == "" {
		created.State = cc.AppStateStopped
	}
	f.Apps[created.Name] = &created
	ret := created
	return &ret, nil
}

func (f *FakeClient) findApp(guid string) *cc.CloudApplication {
	for _, app := range f.Apps {
		if app.GUID == guid {
			return app
		}
	}
	return nil
}

func (f *FakeClient) UpdateApplication(ctx context.Context, app *cc.CloudApplication) (*cc.CloudApplication, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("UpdateApplication"); err != nil {
		return nil, err
	}
	existing := f.findApp(app.GUID)
	if existing == nil {
		return nil, notFound("application", app.GUID)
	}
	if app.Instances > 0 {
		existing.Instances = app.Instances
	}
	if app.Memory > 0 {
		existing.Memory = app.Memory
	}
	if len(app.Env) > 0 {
		existing.Env = maps.Clone(app.Env)
	}
	if app.Labels != nil {
		existing.Labels = maps.Clone(app.Labels)
	}
	if app.Routes != nil {
		existing.Routes = slices.Clone(app.Routes)
	}
	ret := *existing
	return &ret, nil
}

func (f *FakeClient) RenameApplication(ctx context.Context, guid string, newName string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("RenameApplication"); err != nil {
		return err
	}
	app := f.findApp(guid)
	if app == nil {
		return notFound("application", guid)
	}
	if _, ok := f.Apps[newName]; ok && newName != app.Name {
		return cc.NewCloudOperationError(http.StatusUnprocessableEntity, "application "+newName+" already exists")
	}
	delete(f.Apps, app.Name)
	app.Name = newName
	f.Apps[newName] = app
	return nil
}

func (f *FakeClient) StartApplication(ctx context.Context, guid string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("StartApplication"); err != nil {
		return err
	}
	app := f.findApp(guid)
	if app == nil {
		return notFound("application", guid)
	}
	app.State = cc.AppStateStarted
	if _, ok := f.Instances[guid]; !ok {
		count := app.Instances
		if count == 0 {
			count = 1
		}
		instances := make([]cc.InstanceInfo, 0, count)
		for i := 0; i < count; i++ {
			instances = append(instances, cc.InstanceInfo{Index: i, State: cc.InstanceStateStarting})
		}
		f.Instances[guid] = instances
	}
	return nil
}

func (f *FakeClient) StopApplication(ctx context.Context, guid string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("StopApplication"); err != nil {
		return err
	}
	app := f.findApp(guid)
	if app == nil {
		return notFound("application", guid)
	}
	app.State = cc.AppStateStopped
	delete(f.Instances, guid)
	return nil
}

func (f *FakeClient) DeleteApplication(ctx context.Context, guid string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("DeleteApplication"); err != nil {
		return "", err
	}
	app := f.findApp(guid)
	if app == nil {
		return "", notFound("application", guid)
	}
	delete(f.Apps, app.Name)
	delete(f.Instances, guid)
	return f.newJob("app.delete"), nil
}

func (f *FakeClient) GetApplicationInstances(ctx context.Context, guid string) ([]cc.InstanceInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("GetApplicationInstances"); err != nil {
		return nil, err
	}
	if f.findApp(guid) == nil {
		return nil, notFound("application", guid)
	}
	instances := f.Instances[guid]
	if f.AutoComplete {
		for i := range instances {
			if instances[i].State == cc.InstanceStateStarting {
				instances[i].State = cc.InstanceStateRunning
			}
		}
	}
	return append([]cc.InstanceInfo(nil), instances...), nil
}

func (f *FakeClient) GetRecentLogs(ctx context.Context, guid string) ([]cc.ApplicationLog, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("GetRecentLogs"); err != nil {
		return nil, err
	}
	return append([]cc.ApplicationLog(nil), f.Logs[guid]...), nil
}

func (f *FakeClient) GetServiceInstance(ctx context.Context, name string) (*cc.CloudServiceInstance, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("GetServiceInstance"); err != nil {
		return nil, err
	}
	service, ok := f.Services[name]
	if !ok {
		return nil, notFound("service instance", name)
	}
	if f.AutoComplete && service.LastOperation != nil && service.LastOperation.State == cc.OperationStateInProgress {
		if service.LastOperation.Type == cc.OperationTypeDelete {
			delete(f.Services, name)
			return nil, notFound("service instance", name)
		}
		service.LastOperation.State = cc.OperationStateSucceeded
	}
	copied := *service
	if service.LastOperation != nil {
		operation := *service.LastOperation
		copied.LastOperation = &operation
	}
	return &copied, nil
}

func (f *FakeClient) serviceOperation(operationType cc.OperationType) *cc.ServiceOperation {
	state := cc.OperationStateSucceeded
	if f.AsyncJobs {
		state = cc.OperationStateInProgress
	}
	return &cc.ServiceOperation{Type: operationType, State: state}
}

func (f *FakeClient) CreateServiceInstance(ctx context.Context, service *cc.CloudServiceInstance) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("CreateServiceInstance"); err != nil {
		return "", err
	}
	if _, ok := f.Services[service.Name]; ok {
		return "", cc.NewCloudOperationError(http.StatusUnprocessableEntity, "service instance "+service.Name+" already exists")
	}
	created := *service
	created.GUID = uuid.NewString()
	created.LastOperation = f.serviceOperation(cc.OperationTypeCreate)
	f.Services[created.Name] = &created
	return f.newJob("service_instance.create"), nil
}

func (f *FakeClient) UpdateServiceInstance(ctx context.Context, service *cc.CloudServiceInstance) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("UpdateServiceInstance"); err != nil {
		return "", err
	}
	existing, ok := f.Services[service.Name]
	if !ok {
		return "", notFound("service instance", service.Name)
	}
	existing.Parameters = service.Parameters
	existing.Tags = service.Tags
	if service.Plan != "" {
		existing.Plan = service.Plan
	}
	existing.LastOperation = f.serviceOperation(cc.OperationTypeUpdate)
	return f.newJob("service_instance.update"), nil
}

func (f *FakeClient) DeleteServiceInstance(ctx context.Context, guid string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("DeleteServiceInstance"); err != nil {
		return "", err
	}
	for name, service := range f.Services {
		if service.GUID != guid {
			continue
		}
		if f.AsyncJobs {
			service.LastOperation = &cc.ServiceOperation{Type: cc.OperationTypeDelete, State: cc.OperationStateInProgress}
			return f.newJob("service_instance.delete"), nil
		}
		delete(f.Services, name)
		return "", nil
	}
	return "", notFound("service instance", guid)
}

func (f *FakeClient) GetServiceKey(ctx context.Context, serviceInstanceName string, keyName string) (*cc.ServiceKey, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("GetServiceKey"); err != nil {
		return nil, err
	}
	key, ok := f.Keys[keyID(serviceInstanceName, keyName)]
	if !ok {
		return nil, notFound("service key", keyName)
	}
	if f.AutoComplete && key.LastOperation != nil && key.LastOperation.State == cc.OperationStateInProgress {
		key.LastOperation.State = cc.OperationStateSucceeded
	}
	copied := *key
	if key.LastOperation != nil {
		operation := *key.LastOperation
		copied.LastOperation = &operation
	}
	return &copied, nil
}

func (f *FakeClient) GetServiceKeys(ctx context.Context, serviceInstanceName string) ([]*cc.ServiceKey, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("GetServiceKeys"); err != nil {
		return nil, err
	}
	ret := make([]*cc.ServiceKey, 0)
	for _, key := range f.Keys {
		if key.ServiceInstanceName == serviceInstanceName {
			copied := *key
			ret = append(ret, &copied)
		}
	}
	return ret, nil
}

func (f *FakeClient) CreateServiceKey(ctx context.Context, key *cc.ServiceKey) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("CreateServiceKey"); err != nil {
		return "", err
	}
	if _, ok := f.Services[key.ServiceInstanceName]; !ok {
		return "", notFound("service instance", key.ServiceInstanceName)
	}
	id := keyID(key.ServiceInstanceName, key.Name)
	if _, ok := f.Keys[id]; ok {
		return "", cc.NewCloudOperationError(http.StatusUnprocessableEntity, "service key "+key.Name+" already exists")
	}
	created := *key
	created.GUID = uuid.NewString()
	created.LastOperation = f.serviceOperation(cc.OperationTypeCreate)
	f.Keys[id] = &created
	return f.newJob("service_keys.create"), nil
}

func (f *FakeClient) DeleteServiceKey(ctx context.Context, guid string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("DeleteServiceKey"); err != nil {
		return "", err
	}
	for id, key := range f.Keys {
		if key.GUID == guid {
			delete(f.Keys, id)
			return f.newJob("service_keys.delete"), nil
		}
	}
	return "", notFound("service key", guid)
}

func (f *FakeClient) BindService(ctx context.Context, binding *cc.ServiceBinding) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("BindService"); err != nil {
		return "", err
	}
	app, ok := f.Apps[binding.ApplicationName]
	if !ok {
		return "", notFound("application", binding.ApplicationName)
	}
	if _, ok := f.Services[binding.ServiceInstanceName]; !ok {
		return "", notFound("service instance", binding.ServiceInstanceName)
	}
	for _, existing := range f.Bindings {
		if existing.ApplicationName == binding.ApplicationName && existing.ServiceInstanceName == binding.ServiceInstanceName {
			return "", cc.NewCloudOperationError(http.StatusUnprocessableEntity, "binding already exists")
		}
	}
	created := *binding
	created.GUID = uuid.NewString()
	f.Bindings = append(f.Bindings, &created)
	app.Services = append(app.Services, binding.ServiceInstanceName)
	return f.newJob("service_bindings.create"), nil
}

func (f *FakeClient) CreatePackage(ctx context.Context, appGUID string, archive io.Reader) (*cc.CloudPackage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("CreatePackage"); err != nil {
		return nil, err
	}
	if f.findApp(appGUID) == nil {
		return nil, notFound("application", appGUID)
	}
	if archive != nil {
		if _, err := io.Copy(io.Discard, archive); err != nil {
			return nil, err
		}
	}
	pkg := &cc.CloudPackage{GUID: uuid.NewString(), Status: cc.PackageStateProcessingUpload}
	f.Packages[pkg.GUID] = pkg
	copied := *pkg
	return &copied, nil
}

// SetPackageState moves a package to state.
func (f *FakeClient) SetPackageState(guid string, state cc.PackageState) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if pkg, ok := f.Packages[guid]; ok {
		pkg.Status = state
	}
}

func (f *FakeClient) GetPackage(ctx context.Context, guid string) (*cc.CloudPackage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("GetPackage"); err != nil {
		return nil, err
	}
	pkg, ok := f.Packages[guid]
	if !ok {
		return nil, notFound("package", guid)
	}
	if f.AutoComplete && (pkg.Status == cc.PackageStateProcessingUpload || pkg.Status == cc.PackageStateAwaitingUpload || pkg.Status == cc.PackageStateCopying) {
		pkg.Status = cc.PackageStateReady
	}
	copied := *pkg
	return &copied, nil
}

func (f *FakeClient) CreateBuild(ctx context.Context, packageGUID string) (*cc.CloudBuild, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("CreateBuild"); err != nil {
		return nil, err
	}
	if _, ok := f.Packages[packageGUID]; !ok {
		return nil, notFound("package", packageGUID)
	}
	build := &cc.CloudBuild{GUID: uuid.NewString(), State: cc.BuildStateStaging}
	f.Builds[build.GUID] = build
	copied := *build
	return &copied, nil
}

// SetBuildState moves a build to state; a staged build gets a droplet.
func (f *FakeClient) SetBuildState(guid string, state cc.BuildState, buildError string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if build, ok := f.Builds[guid]; ok {
		build.State = state
		build.Error = buildError
		if state == cc.BuildStateStaged && build.DropletGUID == "" {
			build.DropletGUID = uuid.NewString()
		}
	}
}

func (f *FakeClient) GetBuild(ctx context.Context, guid string) (*cc.CloudBuild, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("GetBuild"); err != nil {
		return nil, err
	}
	build, ok := f.Builds[guid]
	if !ok {
		return nil, notFound("build", guid)
	}
	if f.AutoComplete && build.State == cc.BuildStateStaging {
		build.State = cc.BuildStateStaged
		build.DropletGUID = uuid.NewString()
	}
	copied := *build
	return &copied, nil
}

func (f *FakeClient) SetCurrentDroplet(ctx context.Context, appGUID string, dropletGUID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("SetCurrentDroplet"); err != nil {
		return err
	}
	if f.findApp(appGUID) == nil {
		return notFound("application", appGUID)
	}
	f.Droplets[appGUID] = dropletGUID
	return nil
}

func (f *FakeClient) RunTask(ctx context.Context, appGUID string, task *cc.CloudTask) (*cc.CloudTask, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("RunTask"); err != nil {
		return nil, err
	}
	if f.findApp(appGUID) == nil {
		return nil, notFound("application", appGUID)
	}
	created := *task
	created.GUID = uuid.NewString()
	created.State = cc.TaskStatePending
	f.Tasks[created.GUID] = &created
	ret := created
	return &ret, nil
}

// SetTaskState moves a task to state.
func (f *FakeClient) SetTaskState(guid string, state cc.TaskState, failureReason string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if task, ok := f.Tasks[guid]; ok {
		task.State = state
		task.FailureReason = failureReason
	}
}

func (f *FakeClient) GetTask(ctx context.Context, guid string) (*cc.CloudTask, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("GetTask"); err != nil {
		return nil, err
	}
	task, ok := f.Tasks[guid]
	if !ok {
		return nil, notFound("task", guid)
	}
	if f.AutoComplete && (task.State == cc.TaskStatePending || task.State == cc.TaskStateRunning) {
		task.State = cc.TaskStateSucceeded
	}
	copied := *task
	return &copied, nil
}

func (f *FakeClient) GetJob(ctx context.Context, guid string) (*cc.CloudJob, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("GetJob"); err != nil {
		return nil, err
	}
	job, ok := f.Jobs[guid]
	if !ok {
		return nil, notFound("job", guid)
	}
	if f.AutoComplete && (job.State == cc.JobStateProcessing || job.State == cc.JobStatePolling) {
		job.State = cc.JobStateComplete
	}
	copied := *job
	return &copied, nil
}
