package client

import (
	"context"
	"fmt"
	"time"

	"connectrpc.com/connect"

	"github.com/kazz187/triguild/internal/api"
)

func (c *Client) ListEvents(ctx context.Context, day time.Time, eventType string) ([]*api.EventMessage, error) {
	res, err := call[api.ListEventsRequest, api.ListEventsResponse](ctx, c, api.ListEventsProcedure,
		&api.ListEventsRequest{Day: day, Type: eventType})
	if err != nil {
		return nil, fmt.Errorf("failed to list events: %w", err)
	}
	return res.Events, nil
}

// WatchEvents streams live events to fn until ctx is done, the daemon closes
// the stream or fn returns an error.
func (c *Client) WatchEvents(ctx context.Context, types []string, fn func(*api.EventMessage) error) error {
	cl := connect.NewClient[api.WatchEventsRequest, api.EventMessage](c.http, c.baseURL+api.WatchEventsProcedure, c.opts...)
	stream, err := cl.CallServerStream(ctx, connect.NewRequest(&api.WatchEventsRequest{Types: types}))
	if err != nil {
		return fmt.Errorf("failed to watch events: %w", err)
	}
	defer stream.Close()

	for stream.Receive() {
		if err := fn(stream.Msg()); err != nil {
			return err
		}
	}
	if err := stream.Err(); err != nil && ctx.Err() == nil {
		return fmt.Errorf("event stream failed: %w", err)
	}
	return nil
}
