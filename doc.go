// Package multiapps deploys multi-target applications (MTAs) on a Cloud Foundry controller.
//
// A deployment is a workflow instance whose nodes are steps. Every step runs in phases and
// the workflow engine invokes it again until it reports DONE, so slow platform operations
// such as service creation, staging or task execution are polled instead of awaited.
// Instances and their variables are stored with gorm, several deployers can share them
// behind a redis lock.
//
// Packages:
//   - workflow: the engine, node chains with persisted variables and locks
//   - process: steps, phases, variables, async polling and hooks
//   - steps: the deploy and undeploy processes
//   - descriptor: the MTA deployment descriptor
//   - cloudcontroller: the controller client and an in-memory fake
//   - persistence: progress messages and configuration subscriptions
//   - config: the YAML configuration
//
// Basic usage:
//
//	db, _ := database.Open("mtadeploy.sqlite3")
//	service := database.NewWorkflowService(db, workflow.NewLocalWorkflowLock())
//	_ = commonregister.RegisterProcesses(steps.Deps{
//	    Client:        cloudcontroller.NewRestClient(cfg.Controller.RestClientConfig()),
//	    Messages:      persistence.NewProgressMessageRepo(db),
//	    Subscriptions: persistence.NewConfigurationSubscriptionRepo(db),
//	    Timeouts:      steps.DefaultTimeouts(),
//	}, commonregister.DefaultProcessTypes)
//
//	vars := map[string]any{}
//	_ = process.Put(vars, process.VarDeploymentDescriptor, d)
//	_ = process.Put(vars, process.VarAppArchivePaths, map[string]string{"backend": "backend.zip"})
//	instance, _ := service.CreateWorkflow(ctx, &workflow.CreateWorkflowReq{
//	    WorkflowType: steps.DeployProcessType,
//	    BusinessID:   d.ID,
//	    Context:      vars,
//	})
//
//	// poll until the instance is over, or let scheduler.Scheduler do it
//	_ = service.RunWorkflow(ctx, instance.ID)
//
// The mtadeploy command in cmd/mtadeploy wraps the same flow.
package multiapps
