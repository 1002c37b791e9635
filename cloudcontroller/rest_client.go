package cloudcontroller

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/Jeffail/gabs/v2"
	"github.com/go-resty/resty/v2"
	"github.com/pkg/errors"
	"golang.org/x/time/rate"
)

// RestClientConfig connection settings for the v3 controller API
type RestClientConfig struct {
	URL               string        `validate:"required,url"`
	LogCacheURL       string        `validate:"omitempty,url"`
	Token             string        `validate:"-"`
	SpaceGUID         string        `validate:"-"`
	Timeout           time.Duration `validate:"gte=0"`
	RetryCount        int           `validate:"gte=0,lte=10"`
	RequestsPerSecond float64       `validate:"gte=0"`
}

type restClient struct {
	client    *resty.Client
	logCache  string
	spaceGUID string
}

// NewRestClient creates a Client talking to the controller over HTTP.
// Only transport failures are retried here; status codes are left to the steps.
func NewRestClient(cfg RestClientConfig) Client {
	client := resty.New().
		SetBaseURL(strings.TrimSuffix(cfg.URL, "/")).
		SetTimeout(cfg.Timeout).
		SetRetryCount(cfg.RetryCount).
		SetHeader("Accept", "application/json")
	if cfg.Token != "" {
		client.SetAuthToken(cfg.Token)
	}
	if cfg.RequestsPerSecond > 0 {
		limiter := rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1)
		client.OnBeforeRequest(func(_ *resty.Client, r *resty.Request) error {
			return limiter.Wait(r.Context())
		})
	}
	return &restClient{
		client:    client,
		logCache:  strings.TrimSuffix(cfg.LogCacheURL, "/"),
		spaceGUID: cfg.SpaceGUID,
	}
}

func (c *restClient) do(ctx context.Context, method string, url string, body any) (*gabs.Container, *resty.Response, error) {
	req := c.client.R().SetContext(ctx)
	if body != nil {
		req.SetHeader("Content-Type", "application/json").SetBody(body)
	}
	resp, err := req.Execute(method, url)
	if err != nil {
		return nil, nil, errors.WithMessagef(err, "%s %s failed", method, url)
	}
	if resp.IsError() {
		return nil, resp, newErrorFromResponse(resp)
	}
	if len(resp.Body()) == 0 {
		return gabs.New(), resp, nil
	}
	parsed, err := gabs.ParseJSON(resp.Body())
	if err != nil {
		return nil, resp, errors.WithMessagef(err, "decode response of %s %s failed", method, url)
	}
	return parsed, resp, nil
}

func newErrorFromResponse(resp *resty.Response) *CloudOperationError {
	description := ""
	if parsed, err := gabs.ParseJSON(resp.Body()); err == nil {
		for _, e := range parsed.S("errors").Children() {
			description = str(e, "detail")
			if description != "" {
				break
			}
		}
	}
	return NewCloudOperationError(resp.StatusCode(), description)
}

// first returns the first resource of a list response or a 404 error.
func first(list *gabs.Container, kind string, name string) (*gabs.Container, error) {
	resources := list.S("resources").Children()
	if len(resources) == 0 {
		return nil, NewCloudOperationError(http.StatusNotFound, fmt.Sprintf("%s %q not found", kind, name))
	}
	return resources[0], nil
}

func jobIDFrom(resp *resty.Response) string {
	if resp == nil || resp.StatusCode() != http.StatusAccepted {
		return ""
	}
	location := resp.Header().Get("Location")
	if location == "" {
		return ""
	}
	return path.Base(location)
}

func str(c *gabs.Container, hierarchy ...string) string {
	v, _ := c.Search(hierarchy...).Data().(string)
	return v
}

func num(c *gabs.Container, hierarchy ...string) int {
	v, _ := c.Search(hierarchy...).Data().(float64)
	return int(v)
}

func stringMap(c *gabs.Container, hierarchy ...string) map[string]string {
	ret := make(map[string]string)
	for k, v := range c.Search(hierarchy...).ChildrenMap() {
		if s, ok := v.Data().(string); ok {
			ret[k] = s
		}
	}
	return ret
}

func anyMap(c *gabs.Container, hierarchy ...string) map[string]any {
	v, _ := c.Search(hierarchy...).Data().(map[string]any)
	return v
}

func lastOperation(c *gabs.Container) *ServiceOperation {
	if !c.Exists("last_operation") || c.S("last_operation").Data() == nil {
		return nil
	}
	return &ServiceOperation{
		Type:        str(c, "last_operation", "type"),
		State:       str(c, "last_operation", "state"),
		Description: str(c, "last_operation", "description"),
	}
}

func toApplication(c *gabs.Container) *CloudApplication {
	return &CloudApplication{
		GUID:   str(c, "guid"),
		Name:   str(c, "name"),
		State:  str(c, "state"),
		Labels: stringMap(c, "metadata", "labels"),
	}
}

func (c *restClient) GetApplication(ctx context.Context, name string) (*CloudApplication, error) {
	list, _, err := c.do(ctx, http.MethodGet, "/v3/apps?names="+url.QueryEscape(name)+c.spaceFilter(), nil)
	if err != nil {
		return nil, err
	}
	resource, err := first(list, "application", name)
	if err != nil {
		return nil, err
	}
	return toApplication(resource), nil
}

func (c *restClient) GetApplicationsByLabel(ctx context.Context, labelSelector string) ([]*CloudApplication, error) {
	list, _, err := c.do(ctx, http.MethodGet, "/v3/apps?label_selector="+url.QueryEscape(labelSelector)+c.spaceFilter(), nil)
	if err != nil {
		return nil, err
	}
	ret := make([]*CloudApplication, 0)
	for _, resource := range list.S("resources").Children() {
		ret = append(ret, toApplication(resource))
	}
	return ret, nil
}

func (c *restClient) CreateApplication(ctx context.Context, app *CloudApplication) (*CloudApplication, error) {
	body := map[string]any{
		"name":     app.Name,
		"metadata": map[string]any{"labels": app.Labels},
	}
	if c.spaceGUID != "" {
		body["relationships"] = map[string]any{"space": map[string]any{"data": map[string]any{"guid": c.spaceGUID}}}
	}
	if len(app.Env) > 0 {
		body["environment_variables"] = app.Env
	}
	created, _, err := c.do(ctx, http.MethodPost, "/v3/apps", body)
	if err != nil {
		return nil, err
	}
	return toApplication(created), nil
}

// UpdateApplication patches labels first, then the environment and the scale of the web process
func (c *restClient) UpdateApplication(ctx context.Context, app *CloudApplication) (*CloudApplication, error) {
	patched, _, err := c.do(ctx, http.MethodPatch, "/v3/apps/"+app.GUID, map[string]any{
		"metadata": map[string]any{"labels": app.Labels},
	})
	if err != nil {
		return nil, err
	}
	if len(app.Env) > 0 {
		if _, _, err := c.do(ctx, http.MethodPatch, "/v3/apps/"+app.GUID+"/environment_variables", map[string]any{"var": app.Env}); err != nil {
			return nil, err
		}
	}
	scale := make(map[string]any)
	if app.Instances > 0 {
		scale["instances"] = app.Instances
	}
	if app.Memory > 0 {
		scale["memory_in_mb"] = app.Memory
	}
	updated := toApplication(patched)
	updated.Env = app.Env
	if len(scale) > 0 {
		web, _, err := c.do(ctx, http.MethodPost, "/v3/apps/"+app.GUID+"/processes/web/actions/scale", scale)
		if err != nil {
			return nil, err
		}
		updated.Instances = num(web, "instances")
		updated.Memory = num(web, "memory_in_mb")
	}
	return updated, nil
}

func (c *restClient) RenameApplication(ctx context.Context, guid string, newName string) error {
	_, _, err := c.do(ctx, http.MethodPatch, "/v3/apps/"+guid, map[string]any{"name": newName})
	return err
}

func (c *restClient) StartApplication(ctx context.Context, guid string) error {
	_, _, err := c.do(ctx, http.MethodPost, "/v3/apps/"+guid+"/actions/start", nil)
	return err
}

func (c *restClient) StopApplication(ctx context.Context, guid string) error {
	_, _, err := c.do(ctx, http.MethodPost, "/v3/apps/"+guid+"/actions/stop", nil)
	return err
}

func (c *restClient) DeleteApplication(ctx context.Context, guid string) (string, error) {
	_, resp, err := c.do(ctx, http.MethodDelete, "/v3/apps/"+guid, nil)
	if err != nil {
		return "", err
	}
	return jobIDFrom(resp), nil
}

func (c *restClient) GetApplicationInstances(ctx context.Context, guid string) ([]InstanceInfo, error) {
	stats, _, err := c.do(ctx, http.MethodGet, "/v3/apps/"+guid+"/processes/web/stats", nil)
	if err != nil {
		return nil, err
	}
	ret := make([]InstanceInfo, 0)
	for _, resource := range stats.S("resources").Children() {
		ret = append(ret, InstanceInfo{Index: num(resource, "index"), State: str(resource, "state")})
	}
	return ret, nil
}

// GetRecentLogs reads the last application logs from log-cache. Without a log-cache URL
// no logs are returned.
func (c *restClient) GetRecentLogs(ctx context.Context, guid string) ([]ApplicationLog, error) {
	if c.logCache == "" {
		return nil, nil
	}
	envelopes, _, err := c.do(ctx, http.MethodGet, c.logCache+"/api/v1/read/"+guid+"?envelope_types=LOG&descending=true&limit=100", nil)
	if err != nil {
		return nil, err
	}
	ret := make([]ApplicationLog, 0)
	for _, envelope := range envelopes.Search("envelopes", "batch").Children() {
		payload, err := base64.StdEncoding.DecodeString(str(envelope, "log", "payload"))
		if err != nil {
			continue
		}
		timestamp, _ := envelope.S("timestamp").Data().(string)
		ts, err := strconv.ParseInt(timestamp, 10, 64)
		if err != nil {
			// the offset of reported logs is a timestamp, an entry without one cannot be placed
			continue
		}
		ret = append(ret, ApplicationLog{
			Timestamp: ts,
			Source:    str(envelope, "tags", "source_type"),
			Message:   string(payload),
			IsError:   str(envelope, "log", "type") == "ERR",
		})
	}
	return ret, nil
}

func toServiceInstance(c *gabs.Container) *CloudServiceInstance {
	return &CloudServiceInstance{
		GUID:          str(c, "guid"),
		Name:          str(c, "name"),
		UserProvided:  str(c, "type") == "user-provided",
		Labels:        stringMap(c, "metadata", "labels"),
		LastOperation: lastOperation(c),
	}
}

func (c *restClient) GetServiceInstance(ctx context.Context, name string) (*CloudServiceInstance, error) {
	list, _, err := c.do(ctx, http.MethodGet, "/v3/service_instances?names="+url.QueryEscape(name)+c.spaceFilter(), nil)
	if err != nil {
		return nil, err
	}
	resource, err := first(list, "service instance", name)
	if err != nil {
		return nil, err
	}
	return toServiceInstance(resource), nil
}

func (c *restClient) CreateServiceInstance(ctx context.Context, service *CloudServiceInstance) (string, error) {
	body := map[string]any{
		"name":       service.Name,
		"parameters": service.Parameters,
		"tags":       service.Tags,
		"metadata":   map[string]any{"labels": service.Labels},
	}
	if service.UserProvided {
		body["type"] = "user-provided"
		body["credentials"] = service.Parameters
		delete(body, "parameters")
	} else {
		body["type"] = "managed"
		body["relationships"] = map[string]any{
			"service_plan": map[string]any{"data": map[string]any{"guid": service.Plan}},
		}
	}
	if c.spaceGUID != "" {
		relationships, _ := body["relationships"].(map[string]any)
		if relationships == nil {
			relationships = map[string]any{}
		}
		relationships["space"] = map[string]any{"data": map[string]any{"guid": c.spaceGUID}}
		body["relationships"] = relationships
	}
	_, resp, err := c.do(ctx, http.MethodPost, "/v3/service_instances", body)
	if err != nil {
		return "", err
	}
	return jobIDFrom(resp), nil
}

func (c *restClient) UpdateServiceInstance(ctx context.Context, service *CloudServiceInstance) (string, error) {
	body := map[string]any{
		"parameters": service.Parameters,
		"tags":       service.Tags,
	}
	if service.Plan != "" && !service.UserProvided {
		body["relationships"] = map[string]any{
			"service_plan": map[string]any{"data": map[string]any{"guid": service.Plan}},
		}
	}
	_, resp, err := c.do(ctx, http.MethodPatch, "/v3/service_instances/"+service.GUID, body)
	if err != nil {
		return "", err
	}
	return jobIDFrom(resp), nil
}

func (c *restClient) DeleteServiceInstance(ctx context.Context, guid string) (string, error) {
	_, resp, err := c.do(ctx, http.MethodDelete, "/v3/service_instances/"+guid, nil)
	if err != nil {
		return "", err
	}
	return jobIDFrom(resp), nil
}

func toServiceKey(c *gabs.Container, serviceInstanceName string) *ServiceKey {
	return &ServiceKey{
		GUID:                str(c, "guid"),
		Name:                str(c, "name"),
		ServiceInstanceName: serviceInstanceName,
		LastOperation:       lastOperation(c),
	}
}

func (c *restClient) GetServiceKey(ctx context.Context, serviceInstanceName string, keyName string) (*ServiceKey, error) {
	list, _, err := c.do(ctx, http.MethodGet, "/v3/service_credential_bindings?type=key&service_instance_names="+
		url.QueryEscape(serviceInstanceName)+"&names="+url.QueryEscape(keyName), nil)
	if err != nil {
		return nil, err
	}
	resource, err := first(list, "service key", keyName)
	if err != nil {
		return nil, err
	}
	return toServiceKey(resource, serviceInstanceName), nil
}

func (c *restClient) GetServiceKeys(ctx context.Context, serviceInstanceName string) ([]*ServiceKey, error) {
	list, _, err := c.do(ctx, http.MethodGet, "/v3/service_credential_bindings?type=key&service_instance_names="+
		url.QueryEscape(serviceInstanceName), nil)
	if err != nil {
		return nil, err
	}
	ret := make([]*ServiceKey, 0)
	for _, resource := range list.S("resources").Children() {
		ret = append(ret, toServiceKey(resource, serviceInstanceName))
	}
	return ret, nil
}

func (c *restClient) CreateServiceKey(ctx context.Context, key *ServiceKey) (string, error) {
	service, err := c.GetServiceInstance(ctx, key.ServiceInstanceName)
	if err != nil {
		return "", err
	}
	_, resp, err := c.do(ctx, http.MethodPost, "/v3/service_credential_bindings", map[string]any{
		"type":       "key",
		"name":       key.Name,
		"parameters": key.Parameters,
		"relationships": map[string]any{
			"service_instance": map[string]any{"data": map[string]any{"guid": service.GUID}},
		},
	})
	if err != nil {
		return "", err
	}
	return jobIDFrom(resp), nil
}

func (c *restClient) DeleteServiceKey(ctx context.Context, guid string) (string, error) {
	_, resp, err := c.do(ctx, http.MethodDelete, "/v3/service_credential_bindings/"+guid, nil)
	if err != nil {
		return "", err
	}
	return jobIDFrom(resp), nil
}

func (c *restClient) BindService(ctx context.Context, binding *ServiceBinding) (string, error) {
	app, err := c.GetApplication(ctx, binding.ApplicationName)
	if err != nil {
		return "", err
	}
	service, err := c.GetServiceInstance(ctx, binding.ServiceInstanceName)
	if err != nil {
		return "", err
	}
	_, resp, err := c.do(ctx, http.MethodPost, "/v3/service_credential_bindings", map[string]any{
		"type":       "app",
		"parameters": binding.Parameters,
		"relationships": map[string]any{
			"app":              map[string]any{"data": map[string]any{"guid": app.GUID}},
			"service_instance": map[string]any{"data": map[string]any{"guid": service.GUID}},
		},
	})
	if err != nil {
		return "", err
	}
	return jobIDFrom(resp), nil
}

func (c *restClient) CreatePackage(ctx context.Context, appGUID string, archive io.Reader) (*CloudPackage, error) {
	created, _, err := c.do(ctx, http.MethodPost, "/v3/packages", map[string]any{
		"type":          "bits",
		"relationships": map[string]any{"app": map[string]any{"data": map[string]any{"guid": appGUID}}},
	})
	if err != nil {
		return nil, err
	}
	packageGUID := str(created, "guid")
	resp, err := c.client.R().
		SetContext(ctx).
		SetFileReader("bits", "application.zip", archive).
		Post("/v3/packages/" + packageGUID + "/upload")
	if err != nil {
		return nil, errors.WithMessagef(err, "upload package %s failed", packageGUID)
	}
	if resp.IsError() {
		return nil, newErrorFromResponse(resp)
	}
	uploaded, err := gabs.ParseJSON(resp.Body())
	if err != nil {
		return nil, errors.WithMessagef(err, "decode upload response of package %s failed", packageGUID)
	}
	return &CloudPackage{GUID: packageGUID, Status: str(uploaded, "state")}, nil
}

func (c *restClient) GetPackage(ctx context.Context, guid string) (*CloudPackage, error) {
	pkg, _, err := c.do(ctx, http.MethodGet, "/v3/packages/"+guid, nil)
	if err != nil {
		return nil, err
	}
	return &CloudPackage{GUID: str(pkg, "guid"), Status: str(pkg, "state")}, nil
}

func toBuild(c *gabs.Container) *CloudBuild {
	return &CloudBuild{
		GUID:        str(c, "guid"),
		State:       str(c, "state"),
		Error:       str(c, "error"),
		DropletGUID: str(c, "droplet", "guid"),
	}
}

func (c *restClient) CreateBuild(ctx context.Context, packageGUID string) (*CloudBuild, error) {
	build, _, err := c.do(ctx, http.MethodPost, "/v3/builds", map[string]any{
		"package": map[string]any{"guid": packageGUID},
	})
	if err != nil {
		return nil, err
	}
	return toBuild(build), nil
}

func (c *restClient) GetBuild(ctx context.Context, guid string) (*CloudBuild, error) {
	build, _, err := c.do(ctx, http.MethodGet, "/v3/builds/"+guid, nil)
	if err != nil {
		return nil, err
	}
	return toBuild(build), nil
}

func (c *restClient) SetCurrentDroplet(ctx context.Context, appGUID string, dropletGUID string) error {
	_, _, err := c.do(ctx, http.MethodPatch, "/v3/apps/"+appGUID+"/relationships/current_droplet", map[string]any{
		"data": map[string]any{"guid": dropletGUID},
	})
	return err
}

func toTask(c *gabs.Container) *CloudTask {
	return &CloudTask{
		GUID:          str(c, "guid"),
		Name:          str(c, "name"),
		Command:       str(c, "command"),
		MemoryInMB:    num(c, "memory_in_mb"),
		State:         str(c, "state"),
		FailureReason: str(c, "result", "failure_reason"),
	}
}

func (c *restClient) RunTask(ctx context.Context, appGUID string, task *CloudTask) (*CloudTask, error) {
	body := map[string]any{"name": task.Name, "command": task.Command}
	if task.MemoryInMB > 0 {
		body["memory_in_mb"] = task.MemoryInMB
	}
	created, _, err := c.do(ctx, http.MethodPost, "/v3/apps/"+appGUID+"/tasks", body)
	if err != nil {
		return nil, err
	}
	return toTask(created), nil
}

func (c *restClient) GetTask(ctx context.Context, guid string) (*CloudTask, error) {
	task, _, err := c.do(ctx, http.MethodGet, "/v3/tasks/"+guid, nil)
	if err != nil {
		return nil, err
	}
	return toTask(task), nil
}

func (c *restClient) GetJob(ctx context.Context, guid string) (*CloudJob, error) {
	job, _, err := c.do(ctx, http.MethodGet, "/v3/jobs/"+guid, nil)
	if err != nil {
		return nil, err
	}
	ret := &CloudJob{
		GUID:      str(job, "guid"),
		Operation: str(job, "operation"),
		State:     str(job, "state"),
	}
	for _, e := range job.S("errors").Children() {
		ret.Errors = append(ret.Errors, JobError{Code: num(e, "code"), Title: str(e, "title"), Detail: str(e, "detail")})
	}
	return ret, nil
}

func (c *restClient) spaceFilter() string {
	if c.spaceGUID == "" {
		return ""
	}
	return "&space_guids=" + url.QueryEscape(c.spaceGUID)
}
