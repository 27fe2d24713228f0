package server

import (
	"errors"
	"net/http"

	"github.com/gorilla/mux"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/platinummonkey/warden/pkg/audit"
	"github.com/platinummonkey/warden/pkg/authz"
	"github.com/platinummonkey/warden/pkg/httputil"
	"github.com/platinummonkey/warden/pkg/middleware"
	"github.com/platinummonkey/warden/pkg/observability"
)

const (
	apiPrefix = "/v1"

	// maxBodyBytes bounds request bodies on the admin API
	maxBodyBytes = 1 << 20
)

// Config wires the router
type Config struct {
	Service      *authz.Service
	Auth         *middleware.AuthMiddleware
	LoginLimiter middleware.Limiter
	Logger       *observability.Logger
	Metrics      *observability.Metrics
}

// Server serves the admin API over the authz facade
type Server struct {
	svc    *authz.Service
	auth   *middleware.AuthMiddleware
	router *mux.Router
}

// NewRouter builds the API handler: request ids, logging, recovery, metrics
// and tracing around every route under /v1.
func NewRouter(cfg Config) (http.Handler, error) {
	if cfg.Service == nil || cfg.Auth == nil {
		return nil, errors.New("server: service and auth middleware are required")
	}
	if cfg.Metrics == nil {
		cfg.Metrics = observability.NewNopMetrics()
	}

	s := &Server{svc: cfg.Service, auth: cfg.Auth, router: mux.NewRouter()}
	s.router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		httputil.WriteErrorMessage(w, http.StatusNotFound, "not found")
	})
	s.router.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		httputil.WriteErrorMessage(w, http.StatusMethodNotAllowed, "method not allowed")
	})
	s.router.Use(observability.HTTPMetricsMiddleware(cfg.Metrics))

	// Subrouters carry no path prefix: a prefix matcher that matches would
	// clear the method mismatch recorded by an earlier route, turning 405
	// into 404.
	public := s.router.NewRoute().Subrouter()
	public.Use(audit.CaptureOrigin)
	login := http.Handler(http.HandlerFunc(s.login))
	if cfg.LoginLimiter != nil {
		login = middleware.RateLimit(cfg.LoginLimiter, middleware.ClientIPKey)(login)
	}
	public.Handle(apiPrefix+"/auth/login", login).Methods(http.MethodPost)
	public.HandleFunc(apiPrefix+"/auth/refresh", s.refresh).Methods(http.MethodPost)

	private := s.router.NewRoute().Subrouter()
	private.Use(cfg.Auth.Handler, audit.CaptureOrigin)
	s.registerSessionRoutes(private)
	s.registerOrgRoutes(private)
	s.registerMemberRoutes(private)
	s.registerPolicyRoutes(private)

	auditRoutes := private.NewRoute().Subrouter()
	auditRoutes.Use(cfg.Auth.RequireCapability(authz.CapAuditRead))
	audit.NewHandlers(cfg.Service).RegisterRoutes(auditRoutes, apiPrefix)

	handler := httputil.Chain(
		httputil.RequestIDMiddleware(cfg.Logger),
		httputil.LoggingMiddleware,
		httputil.RecoveryMiddleware,
		httputil.ContentTypeMiddleware,
		httputil.MaxBytesMiddleware(maxBodyBytes),
	)(s.router)
	return otelhttp.NewHandler(handler, "warden.api"), nil
}

// guard wraps h with a capability check
func (s *Server) guard(code string, h http.HandlerFunc) http.Handler {
	return s.auth.RequireCapability(code)(h)
}

func writeResult(w http.ResponseWriter, status int, v interface{}, err error) {
	if err != nil {
		httputil.WriteKindError(w, err)
		return
	}
	if v == nil {
		httputil.WriteNoContent(w)
		return
	}
	httputil.WriteJSON(w, status, v)
}
