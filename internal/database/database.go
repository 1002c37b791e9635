// Package database opens the store shared by the workflow engine and the deployer.
package database

import (
	"context"
	"time"

	"github.com/cloudfoundry/multiapps-controller-sub003/config"
	"github.com/cloudfoundry/multiapps-controller-sub003/persistence"
	"github.com/cloudfoundry/multiapps-controller-sub003/workflow"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Open opens the sqlite database at dsn and creates the missing tables.
// sqlite serializes writers, so one connection is kept.
func Open(dsn string) (*gorm.DB, error) {
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		return nil, errors.WithMessagef(err, "open database %s", dsn)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, errors.WithMessage(err, "get sql db")
	}
	sqlDB.SetMaxOpenConns(1)
	if err := workflow.AutoMigrate(db); err != nil {
		return nil, err
	}
	if err := persistence.AutoMigrate(db); err != nil {
		return nil, err
	}
	return db, nil
}

// NewLock the redis lock when an address is configured, the in-memory lock otherwise.
// The returned func releases the redis connection.
func NewLock(ctx context.Context, cfg config.RedisConfig) (workflow.WorkflowLock, func() error, error) {
	if cfg.Addr == "" {
		return workflow.NewLocalWorkflowLock(), func() error { return nil }, nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:        cfg.Addr,
		Password:    cfg.Password,
		DB:          cfg.DB,
		DialTimeout: 5 * time.Second,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, nil, errors.WithMessagef(err, "ping redis %s", cfg.Addr)
	}
	return workflow.NewRedisWorkflowLock(client), client.Close, nil
}

// NewWorkflowService the engine over db and lock
func NewWorkflowService(db *gorm.DB, lock workflow.WorkflowLock, opts ...workflow.WorkflowServiceOption) workflow.WorkflowService {
	return workflow.NewWorkflowService(workflow.NewWorkflowRepo(db), lock, opts...)
}
