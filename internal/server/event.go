package server

import (
	"context"
	"slices"
	"time"

	"connectrpc.com/connect"

	"github.com/kazz187/triguild/internal/api"
	"github.com/kazz187/triguild/internal/event"
)

const watchBuffer = 64

func toEventMessage(m *event.Message) *api.EventMessage {
	return &api.EventMessage{
		ID:        m.ID,
		Type:      string(m.Type),
		Timestamp: m.Timestamp,
		Source:    m.Source,
		Data:      m.Data,
	}
}

func (s *Server) eventRoutes(opts []connect.HandlerOption) []route {
	return []route{
		{
			path:    api.WatchEventsProcedure,
			handler: connect.NewServerStreamHandler(api.WatchEventsProcedure, s.watchEvents, opts...),
		},
		unary(api.ListEventsProcedure, func(ctx context.Context, req *api.ListEventsRequest) (*api.ListEventsResponse, error) {
			if s.deps.Journal == nil {
				return nil, errUnavailable("event journal")
			}
			day := req.Day
			if day.IsZero() {
				day = time.Now()
			}
			msgs, err := s.deps.Journal.Read(ctx, day, event.EventType(req.Type))
			if err != nil {
				return nil, err
			}
			res := &api.ListEventsResponse{Events: make([]*api.EventMessage, 0, len(msgs))}
			for _, m := range msgs {
				res.Events = append(res.Events, toEventMessage(m))
			}
			return res, nil
		}, opts),
	}
}

// watchEvents streams bus events until the client goes away or the daemon
// shuts down.
func (s *Server) watchEvents(ctx context.Context, req *connect.Request[api.WatchEventsRequest], stream *connect.ServerStream[api.EventMessage]) error {
	if s.deps.Broadcaster == nil {
		return errUnavailable("event")
	}
	id, ch := s.deps.Broadcaster.Watch(watchBuffer)
	defer s.deps.Broadcaster.Unwatch(id)

	types := req.Msg.Types
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			if len(types) > 0 && !slices.Contains(types, string(msg.Type)) {
				continue
			}
			if err := stream.Send(toEventMessage(msg)); err != nil {
				return err
			}
		}
	}
}
