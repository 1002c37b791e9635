// Package cli is the command line of the deployer.
package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"

	cc "github.com/cloudfoundry/multiapps-controller-sub003/cloudcontroller"
	"github.com/cloudfoundry/multiapps-controller-sub003/cloudcontroller/cctest"
	"github.com/cloudfoundry/multiapps-controller-sub003/config"
	"github.com/cloudfoundry/multiapps-controller-sub003/internal/commonregister"
	"github.com/cloudfoundry/multiapps-controller-sub003/internal/database"
	"github.com/cloudfoundry/multiapps-controller-sub003/persistence"
	"github.com/cloudfoundry/multiapps-controller-sub003/process"
	"github.com/cloudfoundry/multiapps-controller-sub003/steps"
	"github.com/cloudfoundry/multiapps-controller-sub003/workflow"
	"github.com/pkg/errors"
	"gorm.io/gorm"
)

// app the state shared by the commands of one invocation
type app struct {
	out    io.Writer
	errOut io.Writer
	types  commonregister.ProcessTypes

	configPath string
	simulate   bool
	logLevel   string

	cfg           *config.Config
	db            *gorm.DB
	closeLock     func() error
	service       workflow.WorkflowService
	client        cc.Client
	messages      *persistence.ProgressMessageRepo
	subscriptions *persistence.ConfigurationSubscriptionRepo
	metrics       *process.Metrics
	registered    bool
}

func newApp(types commonregister.ProcessTypes, out io.Writer, errOut io.Writer) *app {
	return &app{out: out, errOut: errOut, types: types}
}

func (a *app) setupLogging() error {
	var level slog.Level
	if err := level.UnmarshalText([]byte(a.logLevel)); err != nil {
		return errors.Errorf("invalid log level %q", a.logLevel)
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(a.errOut, &slog.HandlerOptions{Level: level})))
	return nil
}

// open loads the configuration and opens the store, once per invocation
func (a *app) open(ctx context.Context) error {
	if a.service != nil {
		return nil
	}
	cfg, err := config.LoadFile(a.configPath)
	if err != nil {
		return err
	}
	db, err := database.Open(cfg.Database.DSN)
	if err != nil {
		return err
	}
	lock, closeLock, err := database.NewLock(ctx, cfg.Redis)
	if err != nil {
		return err
	}
	a.cfg = cfg
	a.db = db
	a.closeLock = closeLock
	a.service = database.NewWorkflowService(db, lock, workflow.WithLockTimeout(cfg.Polling.LockTimeout))
	a.messages = persistence.NewProgressMessageRepo(db)
	a.subscriptions = persistence.NewConfigurationSubscriptionRepo(db)
	return nil
}

func (a *app) close() error {
	var errs []string
	if a.closeLock != nil {
		if err := a.closeLock(); err != nil {
			errs = append(errs, err.Error())
		}
	}
	if a.db != nil {
		if sqlDB, err := a.db.DB(); err == nil {
			if err := sqlDB.Close(); err != nil {
				errs = append(errs, err.Error())
			}
		}
	}
	a.service = nil
	a.db = nil
	a.closeLock = nil
	if len(errs) > 0 {
		return errors.Errorf("close failed: %s", strings.Join(errs, "; "))
	}
	return nil
}

// newClient the controller client, a simulated landscape with --simulate
func (a *app) newClient() (cc.Client, error) {
	if a.simulate {
		client := cctest.NewFakeClient()
		client.AsyncJobs = true
		client.AutoComplete = true
		return client, nil
	}
	if a.cfg.Controller.URL == "" {
		return nil, errors.New("controller.url is not configured, use --simulate to run without a controller")
	}
	return cc.NewRestClient(a.cfg.Controller.RestClientConfig()), nil
}

// register registers the processes with the engine, the processes need the controller client
func (a *app) register() error {
	if a.registered {
		return nil
	}
	if a.client == nil {
		client, err := a.newClient()
		if err != nil {
			return err
		}
		a.client = client
	}
	err := commonregister.RegisterProcesses(steps.Deps{
		Client:        a.client,
		Messages:      a.messages,
		Subscriptions: a.subscriptions,
		Timeouts:      a.cfg.Timeouts,
		Metrics:       a.metrics,
		FailMaxCount:  a.cfg.FailMaxCount,
	}, a.types)
	if err != nil {
		return err
	}
	a.registered = true
	return nil
}

func (a *app) printf(format string, args ...any) {
	fmt.Fprintf(a.out, format, args...)
}
