// Package client talks to the triguild daemon over Connect.
package client

import (
	"context"
	"net/http"
	"strings"

	"connectrpc.com/connect"

	"github.com/kazz187/triguild/internal/api"
)

type Option func(*Client)

func WithHTTPClient(hc connect.HTTPClient) Option {
	return func(c *Client) { c.http = hc }
}

// WithAPIKey sends key in the X-API-Key header of every call.
func WithAPIKey(key string) Option {
	return func(c *Client) { c.apiKey = key }
}

type Client struct {
	baseURL string
	http    connect.HTTPClient
	apiKey  string
	opts    []connect.ClientOption
}

func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		http:    http.DefaultClient,
	}
	for _, o := range opts {
		o(c)
	}
	c.opts = []connect.ClientOption{connect.WithCodec(api.Codec{})}
	if c.apiKey != "" {
		c.opts = append(c.opts, connect.WithInterceptors(&apiKeyInterceptor{key: c.apiKey}))
	}
	return c
}

func (c *Client) BaseURL() string {
	return c.baseURL
}

func call[Req, Res any](ctx context.Context, c *Client, procedure string, req *Req) (*Res, error) {
	cl := connect.NewClient[Req, Res](c.http, c.baseURL+procedure, c.opts...)
	resp, err := cl.CallUnary(ctx, connect.NewRequest(req))
	if err != nil {
		return nil, err
	}
	return resp.Msg, nil
}

type apiKeyInterceptor struct {
	key string
}

func (i *apiKeyInterceptor) WrapUnary(next connect.UnaryFunc) connect.UnaryFunc {
	return func(ctx context.Context, req connect.AnyRequest) (connect.AnyResponse, error) {
		req.Header().Set("X-API-Key", i.key)
		return next(ctx, req)
	}
}

func (i *apiKeyInterceptor) WrapStreamingClient(next connect.StreamingClientFunc) connect.StreamingClientFunc {
	return func(ctx context.Context, spec connect.Spec) connect.StreamingClientConn {
		conn := next(ctx, spec)
		conn.RequestHeader().Set("X-API-Key", i.key)
		return conn
	}
}

func (i *apiKeyInterceptor) WrapStreamingHandler(next connect.StreamingHandlerFunc) connect.StreamingHandlerFunc {
	return next
}
