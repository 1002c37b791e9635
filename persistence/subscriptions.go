package persistence

import (
	"context"
	"time"

	"github.com/cloudfoundry/multiapps-controller-sub003/steps"
	"github.com/pkg/errors"
	"gorm.io/gorm"
)

type ConfigurationSubscriptionPo struct {
	ID           int64  `gorm:"column:id;primaryKey;autoIncrement"`
	MtaID        string `gorm:"column:mta_id;uniqueIndex:idx_subscription"`
	AppName      string `gorm:"column:app_name;uniqueIndex:idx_subscription"`
	ResourceName string `gorm:"column:resource_name;uniqueIndex:idx_subscription"`
	ProviderID   string `gorm:"column:provider_id"`
	CreatedAt    int64  `gorm:"column:created_at"`
	UpdatedAt    int64  `gorm:"column:updated_at"`
}

func (ConfigurationSubscriptionPo) TableName() string {
	return "configuration_subscription"
}

func (po *ConfigurationSubscriptionPo) toSubscription() *steps.Subscription {
	return &steps.Subscription{
		ID:           po.ID,
		MtaID:        po.MtaID,
		AppName:      po.AppName,
		ResourceName: po.ResourceName,
		ProviderID:   po.ProviderID,
	}
}

// ConfigurationSubscriptionRepo one row per (mta, app, resource)
type ConfigurationSubscriptionRepo struct {
	baseRepo
}

var _ steps.SubscriptionStore = (*ConfigurationSubscriptionRepo)(nil)

func NewConfigurationSubscriptionRepo(db *gorm.DB) *ConfigurationSubscriptionRepo {
	return &ConfigurationSubscriptionRepo{baseRepo{db: db}}
}

func (r *ConfigurationSubscriptionRepo) FindByMta(ctx context.Context, mtaID string) ([]*steps.Subscription, error) {
	pos := make([]*ConfigurationSubscriptionPo, 0)
	err := r.getDBWithContext(ctx).Where("mta_id = ?", mtaID).Order("id ASC").Find(&pos).Error
	if err != nil {
		return nil, errors.WithMessagef(err, "query subscriptions failed, mtaID: %s", mtaID)
	}
	ret := make([]*steps.Subscription, 0, len(pos))
	for _, po := range pos {
		ret = append(ret, po.toSubscription())
	}
	return ret, nil
}

// FindByResource subscriptions of every MTA to a configuration resource
func (r *ConfigurationSubscriptionRepo) FindByResource(ctx context.Context, resourceName string) ([]*steps.Subscription, error) {
	pos := make([]*ConfigurationSubscriptionPo, 0)
	err := r.getDBWithContext(ctx).Where("resource_name = ?", resourceName).Order("id ASC").Find(&pos).Error
	if err != nil {
		return nil, errors.WithMessagef(err, "query subscriptions failed, resourceName: %s", resourceName)
	}
	ret := make([]*steps.Subscription, 0, len(pos))
	for _, po := range pos {
		ret = append(ret, po.toSubscription())
	}
	return ret, nil
}

func (r *ConfigurationSubscriptionRepo) Save(ctx context.Context, subscription *steps.Subscription) error {
	if subscription == nil {
		return errors.New("subscription is nil")
	}
	return r.transaction(ctx, func(ctx context.Context) error {
		db := r.getDBWithContext(ctx)
		now := time.Now().Unix()
		existing := &ConfigurationSubscriptionPo{}
		err := db.Where("mta_id = ? AND app_name = ? AND resource_name = ?",
			subscription.MtaID, subscription.AppName, subscription.ResourceName).First(existing).Error
		switch {
		case err == nil:
			err = db.Model(existing).Updates(map[string]any{"provider_id": subscription.ProviderID, "updated_at": now}).Error
			if err != nil {
				return errors.WithMessagef(err, "update subscription failed, id: %d", existing.ID)
			}
			subscription.ID = existing.ID
			return nil
		case errors.Is(err, gorm.ErrRecordNotFound):
		default:
			return errors.WithMessagef(err, "query subscription failed, mtaID: %s", subscription.MtaID)
		}
		po := &ConfigurationSubscriptionPo{
			MtaID:        subscription.MtaID,
			AppName:      subscription.AppName,
			ResourceName: subscription.ResourceName,
			ProviderID:   subscription.ProviderID,
			CreatedAt:    now,
			UpdatedAt:    now,
		}
		if err := db.Create(po).Error; err != nil {
			return errors.WithMessagef(err, "create subscription failed, mtaID: %s, app: %s", subscription.MtaID, subscription.AppName)
		}
		subscription.ID = po.ID
		return nil
	})
}

func (r *ConfigurationSubscriptionRepo) Delete(ctx context.Context, id int64) error {
	result := r.getDBWithContext(ctx).Delete(&ConfigurationSubscriptionPo{}, id)
	if result.Error != nil {
		return errors.WithMessagef(result.Error, "delete subscription failed, id: %d", id)
	}
	if result.RowsAffected == 0 {
		return errors.Wrapf(steps.ErrSubscriptionNotFound, "id: %d", id)
	}
	return nil
}
