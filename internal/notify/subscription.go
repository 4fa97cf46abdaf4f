package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/kazz187/triguild/pkg/cerr"
	"github.com/kazz187/triguild/pkg/storage"
)

const subscriptionsPrefix = "push_subscriptions"

// Subscription is a browser push endpoint.
type Subscription struct {
	ID        string    `yaml:"id" json:"id"`
	Endpoint  string    `yaml:"endpoint" json:"endpoint"`
	P256dhKey string    `yaml:"p256dh_key" json:"p256dh_key"`
	AuthKey   string    `yaml:"auth_key" json:"auth_key"`
	CreatedAt time.Time `yaml:"created_at" json:"created_at"`
}

type SubscriptionRepository struct {
	storage storage.Storage
}

func NewSubscriptionRepository(s storage.Storage) *SubscriptionRepository {
	return &SubscriptionRepository{storage: s}
}

func subscriptionPath(id string) string {
	return fmt.Sprintf("%s/%s.yaml", subscriptionsPrefix, id)
}

// Add stores a subscription, replacing any existing one for the endpoint.
func (r *SubscriptionRepository) Add(ctx context.Context, endpoint, p256dh, auth string) (*Subscription, error) {
	if endpoint == "" || p256dh == "" || auth == "" {
		return nil, cerr.Errorf(cerr.InvalidArgument, "endpoint, p256dh and auth keys are required")
	}
	if old, err := r.findByEndpoint(ctx, endpoint); err == nil {
		if err := r.Delete(ctx, old.ID); err != nil {
			return nil, err
		}
	}
	s := &Subscription{
		ID:        uuid.NewString(),
		Endpoint:  endpoint,
		P256dhKey: p256dh,
		AuthKey:   auth,
		CreatedAt: time.Now(),
	}
	data, err := yaml.Marshal(s)
	if err != nil {
		return nil, cerr.NewError(cerr.Internal, "server error", fmt.Errorf("failed to marshal push subscription: %w", err))
	}
	if err := r.storage.Write(ctx, subscriptionPath(s.ID), data); err != nil {
		return nil, cerr.WrapStorageWriteError("push_subscription", err)
	}
	return s, nil
}

// List skips entries that cannot be read or decoded.
func (r *SubscriptionRepository) List(ctx context.Context) ([]*Subscription, error) {
	paths, err := r.storage.List(ctx, subscriptionsPrefix)
	if err != nil {
		return nil, cerr.WrapStorageReadError("push_subscriptions", err)
	}
	var all []*Subscription
	for _, p := range paths {
		data, err := r.storage.Read(ctx, p)
		if err != nil {
			continue
		}
		var s Subscription
		if err := yaml.Unmarshal(data, &s); err != nil {
			continue
		}
		all = append(all, &s)
	}
	return all, nil
}

func (r *SubscriptionRepository) Delete(ctx context.Context, id string) error {
	if err := r.storage.Delete(ctx, subscriptionPath(id)); err != nil {
		return cerr.WrapStorageDeleteError("push_subscription", err)
	}
	return nil
}

func (r *SubscriptionRepository) findByEndpoint(ctx context.Context, endpoint string) (*Subscription, error) {
	all, err := r.List(ctx)
	if err != nil {
		return nil, err
	}
	for _, s := range all {
		if s.Endpoint == endpoint {
			return s, nil
		}
	}
	return nil, cerr.NewError(cerr.NotFound, "push subscription not found", nil)
}
