package server

import (
	"context"
	"time"

	"connectrpc.com/connect"

	"github.com/kazz187/triguild/internal/api"
	"github.com/kazz187/triguild/internal/notify"
	"github.com/kazz187/triguild/pkg/cerr"
)

func (s *Server) notifyRoutes(opts []connect.HandlerOption) []route {
	subs := func() (*notify.SubscriptionRepository, error) {
		if s.deps.Subscriptions == nil {
			return nil, errUnavailable("notify")
		}
		return s.deps.Subscriptions, nil
	}
	return []route{
		unary(api.SubscribePushProcedure, func(ctx context.Context, req *api.SubscribeRequest) (*api.SubscribeResponse, error) {
			repo, err := subs()
			if err != nil {
				return nil, err
			}
			if req.Endpoint == "" {
				return nil, cerr.Errorf(cerr.InvalidArgument, "endpoint is required").WithViolation("endpoint", "must not be empty")
			}
			sub, err := repo.Add(ctx, req.Endpoint, req.P256dhKey, req.AuthKey)
			if err != nil {
				return nil, err
			}
			return &api.SubscribeResponse{Subscription: sub}, nil
		}, opts),
		unary(api.UnsubscribePushProcedure, func(ctx context.Context, req *api.IDRequest) (*api.Empty, error) {
			repo, err := subs()
			if err != nil {
				return nil, err
			}
			if err := repo.Delete(ctx, req.ID); err != nil {
				return nil, err
			}
			return &api.Empty{}, nil
		}, opts),
		unary(api.ListSubscriptionsProcedure, func(ctx context.Context, _ *api.Empty) (*api.ListSubscriptionsResponse, error) {
			repo, err := subs()
			if err != nil {
				return nil, err
			}
			list, err := repo.List(ctx)
			if err != nil {
				return nil, err
			}
			return &api.ListSubscriptionsResponse{Subscriptions: list}, nil
		}, opts),
		unary(api.VAPIDKeyProcedure, func(context.Context, *api.Empty) (*api.VAPIDKeyResponse, error) {
			if !s.env.PushEnabled() {
				return nil, cerr.Errorf(cerr.FailedPrecondition, "web push is not configured")
			}
			return &api.VAPIDKeyResponse{PublicKey: s.env.VAPIDPublicKey}, nil
		}, opts),
		unary(api.TestNotifyProcedure, func(ctx context.Context, req *api.TestNotifyRequest) (*api.Empty, error) {
			if s.deps.Notifier == nil {
				return nil, errUnavailable("notify")
			}
			n := &notify.Notification{
				Title:     req.Title,
				Body:      req.Body,
				Level:     notify.LevelInfo,
				Timestamp: time.Now(),
			}
			if n.Title == "" {
				n.Title = "triguild"
			}
			if n.Body == "" {
				n.Body = "Test notification"
			}
			if err := s.deps.Notifier.Notify(ctx, n); err != nil {
				return nil, cerr.NewError(cerr.Unavailable, "failed to send notification", err)
			}
			return &api.Empty{}, nil
		}, opts),
	}
}
