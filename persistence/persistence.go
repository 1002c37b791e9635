// Package persistence stores what the deployer owns next to the workflow tables:
// progress messages of the steps and configuration subscriptions.
package persistence

import (
	"context"

	"github.com/pkg/errors"
	"gorm.io/gorm"
)

// AutoMigrate creates the tables of this package
func AutoMigrate(db *gorm.DB) error {
	if err := db.AutoMigrate(&ProgressMessagePo{}, &ConfigurationSubscriptionPo{}); err != nil {
		return errors.WithMessage(err, "auto migrate persistence tables")
	}
	return nil
}

type contextKey string

const transactionContextKey contextKey = "persistence_transaction"

type baseRepo struct {
	db *gorm.DB
}

func (r *baseRepo) getDBWithContext(ctx context.Context) *gorm.DB {
	tx := ctx.Value(transactionContextKey)
	if tx == nil {
		return r.db.WithContext(ctx)
	}
	return tx.(*gorm.DB)
}

func (r *baseRepo) transaction(ctx context.Context, fn func(ctx context.Context) error) error {
	if ctx.Value(transactionContextKey) != nil {
		return fn(ctx)
	}
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(context.WithValue(ctx, transactionContextKey, tx))
	})
}
