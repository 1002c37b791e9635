package cli

import (
	"github.com/cloudfoundry/multiapps-controller-sub003/workflow"
	"github.com/spf13/cobra"
)

func (a *app) retryCommand() *cobra.Command {
	var (
		step   string
		detach bool
	)
	cmd := &cobra.Command{
		Use:   "retry PROCESS_ID",
		Short: "Resume a failed or aborted process instance",
		Long: `retry resumes a process instance from its failed step, or from --step.
Restarting a step also restarts every step after it.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseProcessID(args[0])
			if err != nil {
				return err
			}
			if err := a.register(); err != nil {
				return err
			}
			ctx := cmd.Context()
			if step != "" {
				err = a.service.RestartWorkflowNode(ctx, &workflow.RestartWorkflowNodeParams{
					WorkflowInstanceID:      id,
					TaskType:                step,
					IsForcedRestartWorkflow: true,
				})
			} else {
				err = a.service.RestartWorkflowInstance(ctx, &workflow.RestartWorkflowParams{WorkflowInstanceID: id})
			}
			if err != nil {
				return err
			}
			a.printf("Process %d restarted\n", id)
			if detach {
				return nil
			}
			return a.watch(ctx, id)
		},
	}
	cmd.Flags().StringVar(&step, "step", "", "step to restart from, see status for the step ids")
	cmd.Flags().BoolVar(&detach, "detach", false, "leave the process to serve instead of polling it")
	return cmd
}

func (a *app) abortCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "abort PROCESS_ID",
		Short: "Cancel a process instance, steps already done are not reverted",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseProcessID(args[0])
			if err != nil {
				return err
			}
			if err := a.service.CancelWorkflowInstance(cmd.Context(), id); err != nil {
				return err
			}
			a.printf("Process %d aborted\n", id)
			return nil
		},
	}
}
