package cerr

import (
	"context"

	"connectrpc.com/connect"
)

type convertInterceptor struct{}

// NewConvertConnectErrorInterceptor turns handler errors into connect errors
// carrying the cerr code and message, hiding the underlying cause.
func NewConvertConnectErrorInterceptor() connect.Interceptor {
	return &convertInterceptor{}
}

func (i *convertInterceptor) WrapUnary(next connect.UnaryFunc) connect.UnaryFunc {
	return func(ctx context.Context, req connect.AnyRequest) (connect.AnyResponse, error) {
		resp, err := next(ctx, req)
		if req.Spec().IsClient {
			return resp, err
		}
		return resp, ExtractConnectError(ctx, err)
	}
}

func (i *convertInterceptor) WrapStreamingClient(next connect.StreamingClientFunc) connect.StreamingClientFunc {
	return next
}

func (i *convertInterceptor) WrapStreamingHandler(next connect.StreamingHandlerFunc) connect.StreamingHandlerFunc {
	return func(ctx context.Context, conn connect.StreamingHandlerConn) error {
		return ExtractConnectError(ctx, next(ctx, conn))
	}
}
