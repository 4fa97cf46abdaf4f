package clog

import (
	"context"
	"errors"
	"time"

	"connectrpc.com/connect"
)

type connectConfig struct {
	filter func(spec connect.Spec) bool
}

type ConnectOption func(*connectConfig)

func WithConnectFilter(filter func(connect.Spec) bool) ConnectOption {
	return func(cfg *connectConfig) {
		cfg.filter = filter
	}
}

// SkipHealthCheck is a filter that keeps health probes out of the log.
func SkipHealthCheck(spec connect.Spec) bool {
	return spec.Procedure != "/grpc.health.v1.Health/Check"
}

type slogInterceptor struct {
	cfg connectConfig
}

// NewSlogConnectInterceptor logs every unary call and streaming handler
// with its procedure, result code and duration.
func NewSlogConnectInterceptor(opts ...ConnectOption) connect.Interceptor {
	var cfg connectConfig
	for _, opt := range opts {
		opt(&cfg)
	}
	return &slogInterceptor{cfg: cfg}
}

func (s *slogInterceptor) WrapUnary(next connect.UnaryFunc) connect.UnaryFunc {
	return func(ctx context.Context, req connect.AnyRequest) (connect.AnyResponse, error) {
		if req.Spec().IsClient {
			return next(ctx, req)
		}
		start := time.Now()
		ctx = ContextWithSlog(ctx)
		AddAttributes(ctx, map[string]any{
			"method":      req.HTTPMethod(),
			"procedure":   req.Spec().Procedure,
			"stream_type": req.Spec().StreamType.String(),
		})
		resp, err := next(ctx, req)
		if s.cfg.filter == nil || s.cfg.filter(req.Spec()) {
			s.finish(ctx, start, err)
		}
		return resp, err
	}
}

func (s *slogInterceptor) WrapStreamingClient(next connect.StreamingClientFunc) connect.StreamingClientFunc {
	return next
}

func (s *slogInterceptor) WrapStreamingHandler(next connect.StreamingHandlerFunc) connect.StreamingHandlerFunc {
	return func(ctx context.Context, conn connect.StreamingHandlerConn) error {
		start := time.Now()
		ctx = ContextWithSlog(ctx)
		AddAttributes(ctx, map[string]any{
			"procedure":   conn.Spec().Procedure,
			"stream_type": conn.Spec().StreamType.String(),
		})
		err := next(ctx, conn)
		if s.cfg.filter == nil || s.cfg.filter(conn.Spec()) {
			s.finish(ctx, start, err)
		}
		return err
	}
}

func (s *slogInterceptor) finish(ctx context.Context, start time.Time, err error) {
	AddAttribute(ctx, "duration", time.Since(start))
	if err == nil {
		AddAttribute(ctx, "code", "ok")
		Log(ctx, LevelInfo, "Finished")
		return
	}
	var cerr *connect.Error
	if !errors.As(err, &cerr) {
		cerr = connect.NewError(connect.CodeUnknown, err)
	}
	AddAttribute(ctx, "code", cerr.Code().String())
	Log(ctx, ConnectCodeToLevel(cerr.Code()), cerr.Message())
}
