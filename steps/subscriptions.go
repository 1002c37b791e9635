package steps

import (
	"context"

	"github.com/cloudfoundry/multiapps-controller-sub003/descriptor"
	"github.com/cloudfoundry/multiapps-controller-sub003/process"
	"github.com/pkg/errors"
)

var ErrSubscriptionNotFound = errors.New("configuration subscription not found")

// Subscription an application of an MTA that consumes a configuration resource
type Subscription struct {
	ID           int64  `json:"id"`
	MtaID        string `json:"mtaId"`
	AppName      string `json:"appName"`
	ResourceName string `json:"resourceName"`
	ProviderID   string `json:"providerId"`
}

// SubscriptionStore implemented by persistence.ConfigurationSubscriptionRepo
type SubscriptionStore interface {
	FindByMta(ctx context.Context, mtaID string) ([]*Subscription, error)
	// Save creates the subscription, or updates the one with the same mta, app and resource
	Save(ctx context.Context, subscription *Subscription) error
	// Delete returns ErrSubscriptionNotFound when id does not exist
	Delete(ctx context.Context, id int64) error
}

// SubscriptionsOf subscriptions declared by d: every module requiring a configuration resource
func SubscriptionsOf(d *descriptor.DeploymentDescriptor) []*Subscription {
	ret := make([]*Subscription, 0)
	for _, module := range d.Modules {
		for _, required := range module.Requires {
			resource := d.Resource(required.Name)
			if resource == nil || resource.Type != descriptor.ResourceTypeConfiguration || !resource.IsActive() {
				continue
			}
			ret = append(ret, &Subscription{
				MtaID:        d.ID,
				AppName:      ApplicationName(module),
				ResourceName: resource.Name,
				ProviderID:   descriptor.StringParameter(resource.Parameters, "provider-id", ""),
			})
		}
	}
	return ret
}

func NewCreateSubscriptionsStep(store SubscriptionStore) process.Step {
	return &process.SyncStep{
		ExecuteFunc: func(pc *process.ProcessContext) (process.StepPhase, error) {
			d := process.Get(pc, process.VarDeploymentDescriptor)
			if d == nil {
				return "", process.NewContentError(MessageNoDescriptor)
			}
			subscriptions := SubscriptionsOf(d)
			if len(subscriptions) == 0 {
				return process.StepPhaseDone, nil
			}
			pc.Logger().Infof("%s", format(MessageCreatingSubscriptions, map[string]any{"mta": d.ID}))
			for _, subscription := range subscriptions {
				if err := store.Save(pc.Context(), subscription); err != nil {
					return "", errors.WithMessagef(err, "save subscription of %s to %s", subscription.AppName, subscription.ResourceName)
				}
			}
			return process.StepPhaseDone, nil
		},
		ErrorMessageFunc: func(pc *process.ProcessContext) string {
			return format(MessageErrorCreatingSubscriptions, map[string]any{"mta": process.Get(pc, process.VarMtaID)})
		},
	}
}

// NewDeleteSubscriptionsStep deletes process.VarSubscriptionsToDelete, ids that no longer exist are skipped
func NewDeleteSubscriptionsStep(store SubscriptionStore) process.Step {
	return &process.SyncStep{
		ExecuteFunc: func(pc *process.ProcessContext) (process.StepPhase, error) {
			ids := process.Get(pc, process.VarSubscriptionsToDelete)
			if len(ids) == 0 {
				return process.StepPhaseDone, nil
			}
			pc.Logger().Infof("%s", format(MessageDeletingSubscriptions, map[string]any{"count": len(ids)}))
			for _, id := range ids {
				err := store.Delete(pc.Context(), id)
				if errors.Is(err, ErrSubscriptionNotFound) {
					pc.Logger().Debugf("%s", format(MessageSubscriptionAlreadyDeleted, map[string]any{"id": id}))
					continue
				}
				if err != nil {
					return "", errors.WithMessagef(err, "delete subscription %d", id)
				}
			}
			return process.StepPhaseDone, nil
		},
		ErrorMessageFunc: func(pc *process.ProcessContext) string {
			return MessageErrorDeletingSubscriptions
		},
	}
}
