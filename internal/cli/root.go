package cli

import (
	"context"
	"os"

	"github.com/cloudfoundry/multiapps-controller-sub003/internal/commonregister"
	"github.com/spf13/cobra"
)

// Execute runs the command line with the process arguments
func Execute(ctx context.Context) error {
	a := newApp(commonregister.DefaultProcessTypes, os.Stdout, os.Stderr)
	defer a.close()
	return a.rootCommand().ExecuteContext(ctx)
}

func (a *app) rootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   "mtadeploy",
		Short: "Deploy multi-target applications",
		Long: `mtadeploy deploys and undeploys multi-target applications (MTAs) on a Cloud Foundry controller.

A deployment is a process instance that survives restarts of the deployer:
"serve" keeps polling every unfinished instance, "deploy" and "undeploy" poll
their own instance until it is over unless --detach is given.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := a.setupLogging(); err != nil {
				return err
			}
			return a.open(cmd.Context())
		},
	}
	root.SetOut(a.out)
	root.SetErr(a.errOut)
	root.PersistentFlags().StringVarP(&a.configPath, "config", "c", "", "path of the YAML configuration, defaults are used when empty")
	root.PersistentFlags().BoolVar(&a.simulate, "simulate", false, "run against an in-memory controller")
	root.PersistentFlags().StringVar(&a.logLevel, "log-level", "warn", "log level: debug, info, warn or error")

	root.AddCommand(
		a.deployCommand(),
		a.undeployCommand(),
		a.listCommand(),
		a.statusCommand(),
		a.retryCommand(),
		a.abortCommand(),
		a.serveCommand(),
	)
	return root
}
