package cli

import (
	"strconv"
	"time"

	"github.com/cloudfoundry/multiapps-controller-sub003/persistence"
	"github.com/cloudfoundry/multiapps-controller-sub003/process"
	"github.com/cloudfoundry/multiapps-controller-sub003/workflow"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

func (a *app) newTable() table.Writer {
	t := table.NewWriter()
	t.SetOutputMirror(a.out)
	t.SetStyle(table.StyleRounded)
	return t
}

func formatUnix(seconds int64) string {
	if seconds == 0 {
		return "-"
	}
	return time.Unix(seconds, 0).UTC().Format(time.DateTime)
}

func statusColor(status string) text.Colors {
	switch status {
	case workflow.WorkflowInstanceStatusCompleted:
		return text.Colors{text.FgGreen}
	case workflow.WorkflowInstanceStatusFailed:
		return text.Colors{text.FgRed}
	case workflow.WorkflowInstanceStatusCancelled, workflow.WorkflowTaskNodeStatusStatusUnCreated:
		return text.Colors{text.FgHiBlack}
	default:
		return text.Colors{text.FgYellow}
	}
}

func (a *app) listCommand() *cobra.Command {
	var (
		mtaID string
		all   bool
		limit int64
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List process instances, the unfinished ones unless --all is given",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			params := &workflow.QueryWorkflowInstanceParams{
				WorkflowTypeIn: a.types.All(),
				Page:           &workflow.Pager{Page: 1, Size: limit},
			}
			if mtaID != "" {
				params.BusinessID = &mtaID
			}
			if !all {
				params.StatusIn = []string{workflow.WorkflowInstanceStatusInit, workflow.WorkflowInstanceStatusRunning}
			}
			instances, err := a.service.QueryWorkflowInstancePo(cmd.Context(), params)
			if err != nil {
				return err
			}
			if len(instances) == 0 {
				a.printf("No processes found\n")
				return nil
			}
			t := a.newTable()
			t.AppendHeader(table.Row{"ID", "Type", "MTA", "Status", "Created", "Updated"})
			for _, instance := range instances {
				t.AppendRow(table.Row{
					instance.ID,
					instance.WorkflowType,
					instance.BusinessID,
					statusColor(instance.Status).Sprint(instance.Status),
					formatUnix(instance.CreatedAt),
					formatUnix(instance.UpdatedAt),
				})
			}
			t.Render()
			return nil
		},
	}
	cmd.Flags().StringVar(&mtaID, "mta", "", "only processes of this MTA")
	cmd.Flags().BoolVar(&all, "all", false, "include finished processes")
	cmd.Flags().Int64Var(&limit, "limit", 20, "maximum number of processes")
	return cmd
}

func (a *app) statusCommand() *cobra.Command {
	var errorsOnly bool
	cmd := &cobra.Command{
		Use:   "status PROCESS_ID",
		Short: "Show the steps and the progress messages of a process instance",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseProcessID(args[0])
			if err != nil {
				return err
			}
			detail, err := a.detail(cmd.Context(), id)
			if err != nil {
				return err
			}
			a.printf("Process %d, %s of %s: %s\n", detail.ID, detail.WorkflowType, detail.BusinessID, detail.Status)

			steps := a.newTable()
			steps.AppendHeader(table.Row{"Step", "Name", "Status", "Failures", "Updated"})
			for _, task := range detail.TaskInstances {
				steps.AppendRow(table.Row{
					task.TaskType,
					task.TaskName,
					statusColor(task.Status).Sprint(task.Status),
					task.FailCount,
					formatUnix(task.UpdatedAt),
				})
			}
			steps.Render()

			params := &persistence.QueryProgressMessageParams{ProcessID: &args[0]}
			if errorsOnly {
				params.TypeIn = []string{string(process.ProgressMessageError)}
			}
			messages, err := a.messages.Query(cmd.Context(), params)
			if err != nil {
				return err
			}
			if len(messages) == 0 {
				return nil
			}
			log := a.newTable()
			log.AppendHeader(table.Row{"Time", "Step", "Type", "Message"})
			for _, message := range messages {
				log.AppendRow(table.Row{
					message.Timestamp.UTC().Format(time.DateTime),
					message.StepID,
					message.Type,
					message.Text,
				})
			}
			log.Render()
			return nil
		},
	}
	cmd.Flags().BoolVar(&errorsOnly, "errors", false, "only error messages")
	return cmd
}

func parseProcessID(arg string) (int64, error) {
	id, err := strconv.ParseInt(arg, 10, 64)
	if err != nil || id <= 0 {
		return 0, errors.Errorf("invalid process id %q", arg)
	}
	return id, nil
}
