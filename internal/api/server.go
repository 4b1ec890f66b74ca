// Package api serves the CDP REST API under /api.
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/sumanism/ECA2/internal/ai"
	"github.com/sumanism/ECA2/internal/analytics"
	"github.com/sumanism/ECA2/internal/audience"
	"github.com/sumanism/ECA2/internal/auth"
	"github.com/sumanism/ECA2/internal/logger"
	"github.com/sumanism/ECA2/internal/store"
	"github.com/sumanism/ECA2/internal/telemetry"
)

// Banner is returned by GET /.
const Banner = "E-commerce CDP Assistant API"

const (
	defaultRequestTimeout = 30 * time.Second
	// AI generations wait on a remote model.
	aiRequestTimeout = 120 * time.Second
	maxBodyBytes     = 1 << 20
)

// Options tunes the HTTP surface. Zero values disable the feature they
// control.
type Options struct {
	RateLimitPerIP    int // requests per minute
	RateLimitAIPerKey int // AI requests per minute
	CORSOrigins       []string
	RequestTimeout    time.Duration
}

// Deps are the services behind the handlers. Only Store is required.
type Deps struct {
	Store     store.Store
	Audience  *audience.Service
	Analytics *analytics.Service
	Assistant *ai.Assistant
	// Auth guards mutating routes; nil leaves them open.
	Auth   *auth.Authenticator
	Logger logger.Logger
}

type Server struct {
	store     store.Store
	audience  *audience.Service
	analytics *analytics.Service
	assistant *ai.Assistant
	auth      *auth.Authenticator
	log       logger.Logger
	opts      Options
}

func NewServer(d Deps, opts Options) *Server {
	if d.Audience == nil {
		d.Audience = audience.NewService(d.Store, nil, d.Logger)
	}
	if d.Analytics == nil {
		d.Analytics = analytics.NewService(d.Store)
	}
	if d.Assistant == nil {
		// every generation answers with its fallback and a configuration error
		d.Assistant = ai.NewAssistant(nil, nil, d.Logger, false)
	}
	if d.Auth == nil {
		d.Auth = NewAuthenticator(nil, "")
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = defaultRequestTimeout
	}
	return &Server{
		store:     d.Store,
		audience:  d.Audience,
		analytics: d.Analytics,
		assistant: d.Assistant,
		auth:      d.Auth,
		log:       d.Logger.Component("api"),
		opts:      opts,
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, middleware.Recoverer)
	r.Use(s.accessLog, telemetry.Middleware)
	if s.opts.RateLimitPerIP > 0 {
		r.Use(s.rateLimitByIP(s.opts.RateLimitPerIP))
	}

	r.Get("/", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"message": Banner})
	})
	r.Get("/health", s.handleHealth)
	r.Get("/version", s.handleVersion)

	r.Route("/api", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(s.opts.RequestTimeout))
			r.Route("/users", s.userRoutes)
			r.Route("/products", s.productRoutes)
			r.Route("/orders", s.orderRoutes)
			r.Route("/segments", s.segmentRoutes)
			r.Route("/campaigns", s.campaignRoutes)
			r.Route("/flows", s.flowRoutes)
			r.Route("/metrics", s.metricsRoutes)
		})
		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(aiRequestTimeout))
			r.Route("/ai", s.aiRoutes)
		})
	})

	return s.withCORS(r)
}

// NewAuthenticator builds an authenticator whose rejections use the API's
// error format. admins may be nil to accept only the bearer key.
func NewAuthenticator(admins auth.AdminStore, adminKey string) *auth.Authenticator {
	return auth.NewAuthenticator(admins, adminKey, denyAuth)
}

// admin wraps a handler with the admin credential check.
func (s *Server) admin(h http.HandlerFunc) http.Handler {
	return s.auth.RequireAdmin(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if p, ok := auth.PrincipalFromContext(r.Context()); ok {
			l := s.log.WithContext(r.Context())
			l.Debug().
				Str("principal", p.Display()).
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Msg("admin request")
		}
		h(w, r)
	}))
}
