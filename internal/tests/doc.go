// Package tests runs deployments end to end: the workflow engine, the deploy and undeploy
// processes, the gorm stores and the scheduler against a simulated controller.
//
// The package lives under internal/ and holds tests only:
//
//	go test ./internal/tests/...
package tests
