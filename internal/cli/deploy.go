package cli

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/briandowns/spinner"
	"github.com/cloudfoundry/multiapps-controller-sub003/descriptor"
	"github.com/cloudfoundry/multiapps-controller-sub003/persistence"
	"github.com/cloudfoundry/multiapps-controller-sub003/process"
	"github.com/cloudfoundry/multiapps-controller-sub003/workflow"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

// ErrConflictingProcess another deployment of the same MTA is not over yet
var ErrConflictingProcess = errors.New("conflicting process")

// ErrProcessFailed the watched process instance did not complete
var ErrProcessFailed = errors.New("process did not complete")

var strategies = map[string]process.DeployStrategy{
	"default":    process.DeployStrategyDefault,
	"blue-green": process.DeployStrategyBlueGreen,
}

func (a *app) deployCommand() *cobra.Command {
	var (
		archives       map[string]string
		strategy       string
		deleteServices bool
		detach         bool
	)
	cmd := &cobra.Command{
		Use:   "deploy DESCRIPTOR",
		Short: "Deploy an MTA from its deployment descriptor",
		Example: `  mtadeploy deploy mtad.yaml --archive backend=backend.zip --archive web=web.zip
  mtadeploy deploy mtad.yaml --archive backend=backend.zip --strategy blue-green`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			deployStrategy, ok := strategies[strategy]
			if !ok {
				return errors.Errorf("unknown strategy %q, use default or blue-green", strategy)
			}
			d, err := descriptor.LoadFile(args[0])
			if err != nil {
				return err
			}
			vars := make(map[string]any)
			if err := process.Put(vars, process.VarDeploymentDescriptor, d); err != nil {
				return err
			}
			if err := process.Put(vars, process.VarAppArchivePaths, archives); err != nil {
				return err
			}
			if err := process.Put(vars, process.VarDeployStrategy, deployStrategy); err != nil {
				return err
			}
			if err := process.Put(vars, process.VarDeleteServices, deleteServices); err != nil {
				return err
			}
			return a.start(cmd.Context(), a.types.Deploy, d.ID, vars, detach)
		},
	}
	cmd.Flags().StringToStringVarP(&archives, "archive", "a", nil, "archive of a module, as MODULE=PATH")
	cmd.Flags().StringVar(&strategy, "strategy", "default", "deploy strategy: default or blue-green")
	cmd.Flags().BoolVar(&deleteServices, "delete-services", false, "delete services of the MTA that are no longer declared")
	cmd.Flags().BoolVar(&detach, "detach", false, "leave the process to serve instead of polling it")
	return cmd
}

func (a *app) undeployCommand() *cobra.Command {
	var (
		deleteServices bool
		detach         bool
	)
	cmd := &cobra.Command{
		Use:   "undeploy MTA_ID",
		Short: "Remove the applications of a deployed MTA",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			vars := make(map[string]any)
			if err := process.Put(vars, process.VarMtaID, args[0]); err != nil {
				return err
			}
			if err := process.Put(vars, process.VarDeleteServices, deleteServices); err != nil {
				return err
			}
			return a.start(cmd.Context(), a.types.Undeploy, args[0], vars, detach)
		},
	}
	cmd.Flags().BoolVar(&deleteServices, "delete-services", false, "also delete the services created by the MTA")
	cmd.Flags().BoolVar(&detach, "detach", false, "leave the process to serve instead of polling it")
	return cmd
}

// start creates a process instance for mtaID and watches it unless detach is set
func (a *app) start(ctx context.Context, workflowType string, mtaID string, vars map[string]any, detach bool) error {
	if err := a.register(); err != nil {
		return err
	}
	running, err := a.service.CountWorkflowInstance(ctx, &workflow.QueryWorkflowInstanceParams{
		WorkflowTypeIn: a.types.All(),
		BusinessID:     &mtaID,
		StatusIn:       []string{workflow.WorkflowInstanceStatusInit, workflow.WorkflowInstanceStatusRunning},
	})
	if err != nil {
		return err
	}
	if running > 0 {
		return errors.Wrapf(ErrConflictingProcess, "MTA %s has %d unfinished processes, abort or retry them first", mtaID, running)
	}
	instance, err := a.service.CreateWorkflow(ctx, &workflow.CreateWorkflowReq{
		WorkflowType: workflowType,
		BusinessID:   mtaID,
		Context:      vars,
	})
	if err != nil {
		return err
	}
	a.printf("Process %d started, %s of %s\n", instance.ID, workflowType, mtaID)
	if detach {
		return nil
	}
	return a.watch(ctx, instance.ID)
}

// watch runs the instance until it is over and prints its progress messages
func (a *app) watch(ctx context.Context, id int64) error {
	s := spinner.New(spinner.CharSets[14], 100*time.Millisecond, spinner.WithWriter(a.errOut))
	s.Suffix = fmt.Sprintf(" Process %d is running...", id)
	s.Start()
	defer s.Stop()

	processID := strconv.FormatInt(id, 10)
	var lastMessageID int64
	ticker := time.NewTicker(a.cfg.Polling.Interval)
	defer ticker.Stop()
	for {
		// retriable step failures are run again on the next tick, the instance status decides
		if err := a.service.RunWorkflow(ctx, id); err != nil && !errors.Is(err, workflow.ErrWorkflowTaskFailedWithFailed) {
			slog.DebugContext(ctx, "process tick failed", "process_id", id, "err", err)
		}
		messages, err := a.messages.Query(ctx, &persistence.QueryProgressMessageParams{
			ProcessID:     &processID,
			IDGreaterThan: &lastMessageID,
		})
		if err != nil {
			return err
		}
		if len(messages) > 0 {
			s.Stop()
			for _, message := range messages {
				a.printf("%s [%s] %s\n", message.Type, message.StepID, message.Text)
				lastMessageID = message.ID
			}
			s.Start()
		}
		detail, err := a.detail(ctx, id)
		if err != nil {
			return err
		}
		if workflow.IsOverWorkflowInstanceStatus(detail.Status) {
			s.Stop()
			a.printf("Process %d %s\n", id, detail.Status)
			if detail.Status != workflow.WorkflowInstanceStatusCompleted {
				return errors.Wrapf(ErrProcessFailed, "process %d %s, use \"retry %d\" to resume it", id, detail.Status, id)
			}
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (a *app) detail(ctx context.Context, id int64) (*workflow.WorkflowInstanceDetailEntity, error) {
	details, err := a.service.QueryWorkflowInstanceDetail(ctx, &workflow.QueryWorkflowInstanceParams{
		WorkflowInstanceID: &id,
		Page:               &workflow.Pager{Page: 1, Size: 1},
	})
	if err != nil {
		return nil, err
	}
	if len(details) == 0 {
		return nil, errors.Errorf("process %d not found", id)
	}
	return details[0], nil
}
