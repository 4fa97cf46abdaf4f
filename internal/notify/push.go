package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	webpush "github.com/SherClockHolmes/webpush-go"

	"github.com/kazz187/triguild/internal/config"
)

type payload struct {
	Title string `json:"title"`
	Body  string `json:"body"`
	URL   string `json:"url,omitempty"`
	Tag   string `json:"tag,omitempty"`
}

type sendFunc func(message []byte, s *webpush.Subscription, options *webpush.Options) (*http.Response, error)

// Push delivers notifications to every stored web push subscription.
type Push struct {
	env  *config.NotifyEnv
	repo *SubscriptionRepository
	send sendFunc
}

func NewPush(env *config.NotifyEnv, repo *SubscriptionRepository) *Push {
	return &Push{env: env, repo: repo, send: webpush.SendNotification}
}

func (p *Push) Notify(ctx context.Context, n *Notification) error {
	if !p.env.PushEnabled() {
		return nil
	}
	subs, err := p.repo.List(ctx)
	if err != nil {
		return err
	}
	data, err := json.Marshal(payload{Title: n.Title, Body: n.Body, URL: n.URL, Tag: n.TaskID})
	if err != nil {
		return fmt.Errorf("failed to marshal push payload: %w", err)
	}
	var errs []error
	for _, sub := range subs {
		if err := p.sendOne(ctx, sub, data); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (p *Push) sendOne(ctx context.Context, sub *Subscription, data []byte) error {
	resp, err := p.send(data, &webpush.Subscription{
		Endpoint: sub.Endpoint,
		Keys: webpush.Keys{
			P256dh: sub.P256dhKey,
			Auth:   sub.AuthKey,
		},
	}, &webpush.Options{
		VAPIDPublicKey:  p.env.VAPIDPublicKey,
		VAPIDPrivateKey: p.env.VAPIDPrivateKey,
		Subscriber:      p.env.VAPIDSubscriber,
		TTL:             86400,
	})
	if err != nil {
		return fmt.Errorf("failed to push to %s: %w", sub.Endpoint, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusGone:
		slog.InfoContext(ctx, "push subscription expired, removing", slog.String("endpoint", sub.Endpoint))
		if err := p.repo.Delete(ctx, sub.ID); err != nil {
			return fmt.Errorf("failed to delete expired subscription %s: %w", sub.ID, err)
		}
	case resp.StatusCode >= 400:
		slog.WarnContext(ctx, "unexpected push status", slog.String("endpoint", sub.Endpoint), slog.Int("status", resp.StatusCode))
	}
	return nil
}
