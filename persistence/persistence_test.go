package persistence

import (
	"context"
	"testing"
	"time"

	"github.com/cloudfoundry/multiapps-controller-sub003/process"
	"github.com/cloudfoundry/multiapps-controller-sub003/steps"
	"github.com/cloudfoundry/multiapps-controller-sub003/workflow"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func setupDB(t *testing.T) *gorm.DB {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })
	require.NoError(t, AutoMigrate(db))
	return db
}

func TestProgressMessageRepo(t *testing.T) {
	repo := NewProgressMessageRepo(setupDB(t))
	ctx := context.Background()
	at := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

	require.NoError(t, repo.Add(ctx, &process.ProgressMessage{ProcessID: "1", StepID: "upload", Type: process.ProgressMessageInfo, Text: "Uploading", Timestamp: at}))
	require.NoError(t, repo.Add(ctx, &process.ProgressMessage{ProcessID: "1", StepID: "stage", Type: process.ProgressMessageError, Text: "Staging failed", Timestamp: at.Add(time.Second)}))
	third := &process.ProgressMessage{ProcessID: "2", StepID: "upload", Type: process.ProgressMessageInfo, Text: "Uploading"}
	require.NoError(t, repo.Add(ctx, third))
	assert.Equal(t, int64(3), third.ID)
	assert.Error(t, repo.Add(ctx, nil))

	messages, err := repo.Query(ctx, &QueryProgressMessageParams{ProcessID: workflow.String("1")})
	require.NoError(t, err)
	require.Len(t, messages, 2)
	assert.Equal(t, "Uploading", messages[0].Text)
	assert.True(t, at.Equal(messages[0].Timestamp))
	assert.Equal(t, process.ProgressMessageError, messages[1].Type)

	newer, err := repo.Query(ctx, &QueryProgressMessageParams{ProcessID: workflow.String("1"), IDGreaterThan: &messages[0].ID})
	require.NoError(t, err)
	require.Len(t, newer, 1)
	assert.Equal(t, "stage", newer[0].StepID)

	errorsOnly, err := repo.Query(ctx, &QueryProgressMessageParams{TypeIn: []string{string(process.ProgressMessageError)}})
	require.NoError(t, err)
	require.Len(t, errorsOnly, 1)
	assert.Equal(t, "stage", errorsOnly[0].StepID)

	limited, err := repo.Query(ctx, &QueryProgressMessageParams{Limit: 1, StepID: workflow.String("upload")})
	require.NoError(t, err)
	require.Len(t, limited, 1)
	assert.Equal(t, "1", limited[0].ProcessID)

	deleted, err := repo.DeleteByProcess(ctx, "1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), deleted)
	messages, err = repo.Query(ctx, &QueryProgressMessageParams{ProcessID: workflow.String("1")})
	require.NoError(t, err)
	assert.Empty(t, messages)

	_, err = repo.Query(ctx, nil)
	assert.Error(t, err)
}

func TestProgressMessageRepo_FromStepLogger(t *testing.T) {
	repo := NewProgressMessageRepo(setupDB(t))
	ctx := context.Background()
	logger := process.NewStepLogger(ctx, "7", "start_app", repo, time.Now)

	logger.Infof("Starting application %q", "web")
	logger.Debugf("not recorded")
	logger.Warnf("slow start")

	messages, err := repo.Query(ctx, &QueryProgressMessageParams{ProcessID: workflow.String("7")})
	require.NoError(t, err)
	require.Len(t, messages, 2)
	assert.Equal(t, `Starting application "web"`, messages[0].Text)
	assert.Equal(t, process.ProgressMessageWarning, messages[1].Type)
}

func TestConfigurationSubscriptionRepo(t *testing.T) {
	repo := NewConfigurationSubscriptionRepo(setupDB(t))
	ctx := context.Background()

	first := &steps.Subscription{MtaID: "shop", AppName: "backend", ResourceName: "settings", ProviderID: "config:v1"}
	require.NoError(t, repo.Save(ctx, first))
	assert.NotZero(t, first.ID)
	require.NoError(t, repo.Save(ctx, &steps.Subscription{MtaID: "shop", AppName: "web", ResourceName: "settings"}))
	require.NoError(t, repo.Save(ctx, &steps.Subscription{MtaID: "other", AppName: "web", ResourceName: "settings"}))

	again := &steps.Subscription{MtaID: "shop", AppName: "backend", ResourceName: "settings", ProviderID: "config:v2"}
	require.NoError(t, repo.Save(ctx, again))
	assert.Equal(t, first.ID, again.ID)

	shop, err := repo.FindByMta(ctx, "shop")
	require.NoError(t, err)
	require.Len(t, shop, 2)
	assert.Equal(t, "config:v2", shop[0].ProviderID)
	assert.Equal(t, "web", shop[1].AppName)

	bySettings, err := repo.FindByResource(ctx, "settings")
	require.NoError(t, err)
	assert.Len(t, bySettings, 3)

	require.NoError(t, repo.Delete(ctx, first.ID))
	assert.ErrorIs(t, repo.Delete(ctx, first.ID), steps.ErrSubscriptionNotFound)
	shop, err = repo.FindByMta(ctx, "shop")
	require.NoError(t, err)
	assert.Len(t, shop, 1)
	assert.Error(t, repo.Save(ctx, nil))
}
