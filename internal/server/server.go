// Package server exposes the daemon state over Connect (JSON) and a small
// plain HTTP API.
package server

import (
	"context"
	"crypto/subtle"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"

	"connectrpc.com/connect"
	"connectrpc.com/grpchealth"
	"github.com/go-chi/chi/v5"
	"github.com/rs/cors"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	"github.com/kazz187/triguild/internal/api"
	"github.com/kazz187/triguild/internal/command"
	"github.com/kazz187/triguild/internal/config"
	"github.com/kazz187/triguild/internal/consensus"
	"github.com/kazz187/triguild/internal/event"
	"github.com/kazz187/triguild/internal/notify"
	"github.com/kazz187/triguild/internal/queue"
	"github.com/kazz187/triguild/internal/service"
	"github.com/kazz187/triguild/internal/statusbar"
	"github.com/kazz187/triguild/pkg/cerr"
	"github.com/kazz187/triguild/pkg/clog"
)

// Deps is everything the handlers serve. Queue and consensus are optional;
// their procedures answer Unavailable when unset.
type Deps struct {
	Services      *service.Services
	Executor      *command.Executor
	Queue         *queue.Queue
	Consensus     *consensus.Store
	Verifier      *consensus.Verifier
	Subscriptions *notify.SubscriptionRepository
	Notifier      notify.Notifier
	Broadcaster   *event.Broadcaster
	Journal       *event.Journal
}

type Server struct {
	mu     sync.Mutex
	server *http.Server
	closed bool
	env    *config.Env
	deps   *Deps
}

func NewServer(env *config.Env, deps *Deps) *Server {
	return &Server{env: env, deps: deps}
}

// Handler builds the full HTTP handler: Connect procedures, health checks
// and the /api routes, behind CORS and the API key check.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Route("/api", func(r chi.Router) {
		r.Use(
			clog.SlogChiMiddleware(),
			cerr.NewJSONChiMiddleware(),
		)
		r.Get("/status", s.handleStatus)
		r.NotFound(func(w http.ResponseWriter, r *http.Request) {
			cerr.SetNewJSONError(r.Context(), cerr.NotFound, "not found", nil)
		})
	})

	mux := http.NewServeMux()
	mux.Handle("/health", &HealthChecker{})
	mux.Handle("/api/", r)
	mux.Handle(grpchealth.NewHandler(grpchealth.NewStaticChecker(
		api.TaskServiceName, api.AgentServiceName, api.CostServiceName, api.CommandServiceName,
		api.QueueServiceName, api.ConsensusServiceName, api.NotifyServiceName, api.EventServiceName,
	)))

	opts := []connect.HandlerOption{
		connect.WithCodec(api.Codec{}),
		connect.WithInterceptors(s.interceptors()...),
	}
	for _, h := range s.handlers(opts) {
		mux.Handle(h.path, h.handler)
	}

	return cors.New(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: true,
	}).Handler(s.apiKeyMiddleware(mux))
}

// ListenAndServe starts the HTTP server. ctx becomes the base context of
// every request so streams end when the daemon shuts down.
func (s *Server) ListenAndServe(ctx context.Context) error {
	addr := net.JoinHostPort(s.env.HTTPHost, s.env.HTTPPort)
	slog.Info("starting server", "addr", addr)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return http.ErrServerClosed
	}
	srv := &http.Server{
		Addr:        addr,
		Handler:     h2c.NewHandler(s.Handler(), &http2.Server{}),
		BaseContext: func(_ net.Listener) context.Context { return ctx },
	}
	s.server = srv
	s.mu.Unlock()
	return srv.ListenAndServe()
}

// Shutdown stops the server. A later ListenAndServe returns
// http.ErrServerClosed.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	srv := s.server
	s.mu.Unlock()
	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}

type HealthChecker struct{}

func (hc *HealthChecker) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}

func (s *Server) interceptors() []connect.Interceptor {
	return []connect.Interceptor{
		clog.NewSlogConnectInterceptor(clog.WithConnectFilter(clog.SkipHealthCheck)),
		cerr.NewConvertConnectErrorInterceptor(),
	}
}

func (s *Server) apiKeyMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.env.APIKey == "" || r.URL.Path == "/health" || r.URL.Path == "/grpc.health.v1.Health/Check" {
			next.ServeHTTP(w, r)
			return
		}
		apiKey := r.Header.Get("X-API-Key")
		if apiKey == "" {
			apiKey = strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		}
		if subtle.ConstantTimeCompare([]byte(apiKey), []byte(s.env.APIKey)) != 1 {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	snap := s.deps.Services.Status(r.Context())
	if r.URL.Query().Get("format") == "line" {
		cerr.SetJSONResponse(r.Context(), map[string]string{"line": statusbar.Render(*snap, false)})
		return
	}
	cerr.SetJSONResponse(r.Context(), snap)
}

type route struct {
	path    string
	handler http.Handler
}

func unary[Req, Res any](procedure string, fn func(ctx context.Context, req *Req) (*Res, error), opts []connect.HandlerOption) route {
	return route{path: procedure, handler: connect.NewUnaryHandler(procedure,
		func(ctx context.Context, req *connect.Request[Req]) (*connect.Response[Res], error) {
			res, err := fn(ctx, req.Msg)
			if err != nil {
				return nil, err
			}
			return connect.NewResponse(res), nil
		}, opts...)}
}

func (s *Server) handlers(opts []connect.HandlerOption) []route {
	var routes []route
	routes = append(routes, s.taskRoutes(opts)...)
	routes = append(routes, s.agentRoutes(opts)...)
	routes = append(routes, s.commandRoutes(opts)...)
	routes = append(routes, s.queueRoutes(opts)...)
	routes = append(routes, s.consensusRoutes(opts)...)
	routes = append(routes, s.notifyRoutes(opts)...)
	routes = append(routes, s.eventRoutes(opts)...)
	return routes
}
