package cli

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	cc "github.com/cloudfoundry/multiapps-controller-sub003/cloudcontroller"
	"github.com/cloudfoundry/multiapps-controller-sub003/cloudcontroller/cctest"
	"github.com/cloudfoundry/multiapps-controller-sub003/internal/commonregister"
	"github.com/cloudfoundry/multiapps-controller-sub003/workflow"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const cliDescriptor = `
_schema-version: "3.3"
ID: shop
version: 1.0.0
modules:
  - name: backend
    requires:
      - name: db
resources:
  - name: db
    type: org.cloudfoundry.managed-service
    parameters:
      service: postgresql
      service-plan: small
`

type harness struct {
	app        *app
	client     *cctest.FakeClient
	out        *bytes.Buffer
	errOut     *bytes.Buffer
	dir        string
	configPath string
}

// newHarness one app per test, its process types are unique to the test
func newHarness(t *testing.T) *harness {
	t.Helper()
	dir := t.TempDir()
	configPath := filepath.Join(dir, "config.yaml")
	config := fmt.Sprintf("database:\n  dsn: %s\npolling:\n  interval: 1ms\n", filepath.Join(dir, "mtadeploy.sqlite3"))
	require.NoError(t, os.WriteFile(configPath, []byte(config), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "mtad.yaml"), []byte(cliDescriptor), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "backend.zip"), []byte("PK"), 0o600))

	out, errOut := &bytes.Buffer{}, &bytes.Buffer{}
	a := newApp(commonregister.ProcessTypes{Deploy: "cli_deploy_" + t.Name(), Undeploy: "cli_undeploy_" + t.Name()}, out, errOut)
	client := cctest.NewFakeClient()
	client.AsyncJobs = true
	client.AutoComplete = true
	a.client = client
	t.Cleanup(func() { a.close() })
	return &harness{app: a, client: client, out: out, errOut: errOut, dir: dir, configPath: configPath}
}

func (h *harness) run(ctx context.Context, args ...string) error {
	root := h.app.rootCommand()
	root.SetArgs(append([]string{"--config", h.configPath}, args...))
	return root.ExecuteContext(ctx)
}

func (h *harness) deploy(args ...string) error {
	base := []string{"deploy", filepath.Join(h.dir, "mtad.yaml"), "--archive", "backend=" + filepath.Join(h.dir, "backend.zip")}
	return h.run(context.Background(), append(base, args...)...)
}

func TestDeploy(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.deploy())
	assert.Contains(t, h.out.String(), "Process 1 started")
	assert.Contains(t, h.out.String(), "Process 1 completed")
	require.Contains(t, h.client.Apps, "backend")
	assert.Equal(t, cc.AppStateStarted, h.client.Apps["backend"].State)
	assert.Contains(t, h.client.Services, "db")

	h.out.Reset()
	require.NoError(t, h.run(context.Background(), "status", "1"))
	assert.Contains(t, h.out.String(), "deploy_apps")
	assert.Contains(t, h.out.String(), workflow.WorkflowInstanceStatusCompleted)

	h.out.Reset()
	require.NoError(t, h.run(context.Background(), "list"))
	assert.Contains(t, h.out.String(), "No processes found")

	h.out.Reset()
	require.NoError(t, h.run(context.Background(), "list", "--all", "--mta", "shop"))
	assert.Contains(t, h.out.String(), "cli_deploy_TestDeploy")
}

func TestDeploy_Conflict(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.deploy("--detach"))
	assert.Empty(t, h.client.Apps)

	err := h.deploy()
	assert.ErrorIs(t, err, ErrConflictingProcess)
	err = h.run(context.Background(), "undeploy", "shop")
	assert.ErrorIs(t, err, ErrConflictingProcess)
}

func TestDeploy_InvalidArguments(t *testing.T) {
	h := newHarness(t)
	assert.Error(t, h.deploy("--strategy", "canary"))
	assert.Error(t, h.run(context.Background(), "deploy", filepath.Join(h.dir, "missing.yaml")))
	assert.Error(t, h.run(context.Background(), "status", "first"))
	assert.Error(t, h.run(context.Background(), "status", "42"))
	assert.Error(t, h.run(context.Background(), "--log-level", "loud", "list"))
}

func TestRetry(t *testing.T) {
	h := newHarness(t)
	h.client.Fail("CreateBuild", cc.NewCloudOperationError(http.StatusBadRequest, "buildpack not found"))
	err := h.deploy()
	require.ErrorIs(t, err, ErrProcessFailed)
	assert.Contains(t, h.out.String(), "Process 1 failed")

	h.out.Reset()
	require.NoError(t, h.run(context.Background(), "status", "1", "--errors"))
	assert.Contains(t, h.out.String(), "ERROR")

	h.client.Recover("CreateBuild")
	require.NoError(t, h.run(context.Background(), "retry", "1"))
	assert.Contains(t, h.out.String(), "Process 1 completed")
	require.Contains(t, h.client.Apps, "backend")
	assert.Equal(t, cc.AppStateStarted, h.client.Apps["backend"].State)
}

func TestAbort(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.deploy("--detach"))
	require.NoError(t, h.run(context.Background(), "abort", "1"))
	assert.Contains(t, h.out.String(), "Process 1 aborted")

	detail, err := h.app.detail(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, workflow.WorkflowInstanceStatusCancelled, detail.Status)

	// an aborted process no longer blocks the MTA
	require.NoError(t, h.deploy())
	assert.Contains(t, h.out.String(), "Process 2 completed")
}

func TestUndeploy(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.deploy())
	require.Contains(t, h.client.Apps, "backend")

	require.NoError(t, h.run(context.Background(), "undeploy", "shop", "--delete-services"))
	assert.Contains(t, h.out.String(), "Process 2 completed")
	assert.Empty(t, h.client.Apps)
	assert.NotContains(t, h.client.Services, "db")
}

func TestServe(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.deploy("--detach"))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- h.run(ctx, "serve")
	}()
	assert.Eventually(t, func() bool {
		detail, err := h.app.detail(context.Background(), 1)
		return err == nil && detail.Status == workflow.WorkflowInstanceStatusCompleted
	}, 10*time.Second, 10*time.Millisecond)
	cancel()
	require.NoError(t, <-done)
	assert.Contains(t, h.client.Apps, "backend")
}
