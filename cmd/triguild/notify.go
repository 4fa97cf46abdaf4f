package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/kazz187/triguild/internal/api"
	"github.com/kazz187/triguild/internal/client"
)

var (
	notifyCmd = app.Command("notify", "Push notification commands")

	notifyKeyCmd  = notifyCmd.Command("vapid-key", "Print the VAPID public key")
	notifyListCmd = notifyCmd.Command("list", "List push subscriptions").Default()

	notifySubscribeCmd    = notifyCmd.Command("subscribe", "Register a push subscription")
	notifySubscribeURL    = notifySubscribeCmd.Arg("endpoint", "Push endpoint URL").Required().String()
	notifySubscribeP256dh = notifySubscribeCmd.Flag("p256dh", "Client public key").Required().String()
	notifySubscribeAuth   = notifySubscribeCmd.Flag("auth", "Client auth secret").Required().String()

	notifyUnsubscribeCmd = notifyCmd.Command("unsubscribe", "Remove a push subscription")
	notifyUnsubscribeID  = notifyUnsubscribeCmd.Arg("id", "Subscription ID").Required().String()

	notifyTestCmd   = notifyCmd.Command("test", "Send a test notification")
	notifyTestTitle = notifyTestCmd.Flag("title", "Title").String()
	notifyTestBody  = notifyTestCmd.Arg("body", "Body").String()

	eventsCmd = app.Command("events", "Event stream commands")

	eventsWatchCmd   = eventsCmd.Command("watch", "Follow live events").Default()
	eventsWatchTypes = eventsWatchCmd.Flag("type", "Only these event types (repeatable)").Strings()

	eventsListCmd  = eventsCmd.Command("list", "List journaled events for a day")
	eventsListDay  = eventsListCmd.Flag("day", "Day (YYYY-MM-DD), today when omitted").String()
	eventsListType = eventsListCmd.Flag("type", "Only this event type").String()
)

func init() {
	remoteHandlers[notifyKeyCmd.FullCommand()] = func(ctx context.Context, c *client.Client) error {
		key, err := c.VAPIDKey(ctx)
		if err != nil {
			return err
		}
		fmt.Println(key)
		return nil
	}
	remoteHandlers[notifyListCmd.FullCommand()] = func(ctx context.Context, c *client.Client) error {
		subs, err := c.ListSubscriptions(ctx)
		if err != nil {
			return err
		}
		if ok, err := printJSON(subs); ok {
			return err
		}
		for _, s := range subs {
			fmt.Printf("%s  %s  %s\n", s.ID, s.CreatedAt.Format(time.DateTime), s.Endpoint)
		}
		return nil
	}
	remoteHandlers[notifySubscribeCmd.FullCommand()] = func(ctx context.Context, c *client.Client) error {
		sub, err := c.SubscribePush(ctx, &api.SubscribeRequest{
			Endpoint:  *notifySubscribeURL,
			P256dhKey: *notifySubscribeP256dh,
			AuthKey:   *notifySubscribeAuth,
		})
		if err != nil {
			return err
		}
		fmt.Printf("Subscribed %s\n", sub.ID)
		return nil
	}
	remoteHandlers[notifyUnsubscribeCmd.FullCommand()] = func(ctx context.Context, c *client.Client) error {
		return c.UnsubscribePush(ctx, *notifyUnsubscribeID)
	}
	remoteHandlers[notifyTestCmd.FullCommand()] = func(ctx context.Context, c *client.Client) error {
		return c.TestNotify(ctx, *notifyTestTitle, *notifyTestBody)
	}
	remoteHandlers[eventsWatchCmd.FullCommand()] = runEventsWatch
	remoteHandlers[eventsListCmd.FullCommand()] = runEventsList
}

func runEventsWatch(ctx context.Context, c *client.Client) error {
	return c.WatchEvents(ctx, *eventsWatchTypes, printEvent)
}

func runEventsList(ctx context.Context, c *client.Client) error {
	day := time.Now()
	if *eventsListDay != "" {
		var err error
		if day, err = time.ParseInLocation(time.DateOnly, *eventsListDay, time.Local); err != nil {
			return fmt.Errorf("invalid day %q: %w", *eventsListDay, err)
		}
	}
	events, err := c.ListEvents(ctx, day, *eventsListType)
	if err != nil {
		return err
	}
	for _, e := range events {
		if err := printEvent(e); err != nil {
			return err
		}
	}
	return nil
}

func printEvent(e *api.EventMessage) error {
	if ok, err := printJSON(e); ok {
		return err
	}
	var data bytes.Buffer
	if err := json.Compact(&data, e.Data); err != nil {
		data.Reset()
		data.Write(e.Data)
	}
	fmt.Printf("%s  %-22s %s\n", e.Timestamp.Format(time.TimeOnly), e.Type, data.String())
	return nil
}
