package client

import (
	"context"
	"fmt"

	"github.com/kazz187/triguild/internal/api"
	"github.com/kazz187/triguild/internal/notify"
)

func (c *Client) SubscribePush(ctx context.Context, req *api.SubscribeRequest) (*notify.Subscription, error) {
	res, err := call[api.SubscribeRequest, api.SubscribeResponse](ctx, c, api.SubscribePushProcedure, req)
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe: %w", err)
	}
	return res.Subscription, nil
}

func (c *Client) UnsubscribePush(ctx context.Context, id string) error {
	if _, err := call[api.IDRequest, api.Empty](ctx, c, api.UnsubscribePushProcedure, &api.IDRequest{ID: id}); err != nil {
		return fmt.Errorf("failed to unsubscribe: %w", err)
	}
	return nil
}

func (c *Client) ListSubscriptions(ctx context.Context) ([]*notify.Subscription, error) {
	res, err := call[api.Empty, api.ListSubscriptionsResponse](ctx, c, api.ListSubscriptionsProcedure, &api.Empty{})
	if err != nil {
		return nil, fmt.Errorf("failed to list subscriptions: %w", err)
	}
	return res.Subscriptions, nil
}

func (c *Client) VAPIDKey(ctx context.Context) (string, error) {
	res, err := call[api.Empty, api.VAPIDKeyResponse](ctx, c, api.VAPIDKeyProcedure, &api.Empty{})
	if err != nil {
		return "", fmt.Errorf("failed to get VAPID key: %w", err)
	}
	return res.PublicKey, nil
}

func (c *Client) TestNotify(ctx context.Context, title, body string) error {
	if _, err := call[api.TestNotifyRequest, api.Empty](ctx, c, api.TestNotifyProcedure, &api.TestNotifyRequest{Title: title, Body: body}); err != nil {
		return fmt.Errorf("failed to send test notification: %w", err)
	}
	return nil
}
