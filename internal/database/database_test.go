package database

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/cloudfoundry/multiapps-controller-sub003/config"
	"github.com/cloudfoundry/multiapps-controller-sub003/persistence"
	"github.com/cloudfoundry/multiapps-controller-sub003/workflow"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mtadeploy.sqlite3")
	db, err := Open(path)
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	t.Cleanup(func() { sqlDB.Close() })

	for _, table := range []any{&workflow.WorkflowInstancePo{}, &workflow.WorkflowTaskInstancePo{}, &persistence.ProgressMessagePo{}, &persistence.ConfigurationSubscriptionPo{}} {
		assert.True(t, db.Migrator().HasTable(table))
	}

	// a second open migrates nothing and sees the same data
	service := NewWorkflowService(db, workflow.NewLocalWorkflowLock())
	count, err := service.CountWorkflowInstance(context.Background(), &workflow.QueryWorkflowInstanceParams{})
	require.NoError(t, err)
	assert.Zero(t, count)
	require.NoError(t, sqlDB.Close())

	again, err := Open(path)
	require.NoError(t, err)
	againDB, err := again.DB()
	require.NoError(t, err)
	againDB.Close()
}

func TestNewLock(t *testing.T) {
	lock, closeLock, err := NewLock(context.Background(), config.RedisConfig{})
	require.NoError(t, err)
	require.NotNil(t, lock)
	assert.NoError(t, closeLock())

	ran := false
	require.NoError(t, lock.NonBlockingSynchronized(context.Background(), "instance-1", time.Minute, func(ctx context.Context) error {
		ran = true
		return nil
	}))
	assert.True(t, ran)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, _, err = NewLock(ctx, config.RedisConfig{Addr: "127.0.0.1:1"})
	assert.Error(t, err)
}
