// Package api exposes content rendering and administration over HTTP.
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/TimurManjosov/contentship/internal/evaluation"
	"github.com/TimurManjosov/contentship/internal/reqctx"
	"github.com/TimurManjosov/contentship/internal/telemetry"
)

// DefaultRateLimit is the per-IP request budget per minute on public routes.
const DefaultRateLimit = 600

type Server struct {
	svc         *evaluation.Service
	builder     *reqctx.Builder
	adminAPIKey string
	metrics     *telemetry.Metrics
	log         zerolog.Logger
	rateLimit   int
}

type Option func(*Server)

func WithMetrics(m *telemetry.Metrics) Option { return func(s *Server) { s.metrics = m } }
func WithLogger(log zerolog.Logger) Option    { return func(s *Server) { s.log = log } }
func WithRateLimit(perMinute int) Option      { return func(s *Server) { s.rateLimit = perMinute } }

func NewServer(svc *evaluation.Service, builder *reqctx.Builder, adminKey string, opts ...Option) *Server {
	s := &Server{
		svc:         svc,
		builder:     builder,
		adminAPIKey: adminKey,
		log:         zerolog.Nop(),
		rateLimit:   DefaultRateLimit,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, middleware.Recoverer)
	r.Use(middleware.Timeout(5 * time.Second))
	r.Use(requestLogger(s.log))
	if s.metrics != nil {
		r.Use(s.metrics.Middleware)
	}

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	r.Route("/v1", func(r chi.Router) {
		// public
		r.Group(func(r chi.Router) {
			r.Use(httprate.Limit(s.rateLimit, time.Minute,
				httprate.WithKeyFuncs(httprate.KeyByRealIP),
				httprate.WithLimitHandler(RateLimitedError),
			))
			r.Get("/content/{id}/render", s.handleRender)
			r.Post("/content/{id}/select", s.handleSelect)
			r.Post("/conditions/test", s.handleTestConditions)
			r.Post("/conditions/guard", s.handleGuard)
			r.Post("/expressions/validate", s.handleValidateExpression)
		})

		// admin
		r.Group(func(r chi.Router) {
			r.Use(s.authAdmin)
			r.Get("/content", s.handleListDefinitions)
			r.Get("/content/{id}", s.handleGetDefinition)
			r.Put("/content/{id}", s.handlePutDefinition)
			r.Delete("/content/{id}", s.handleDeleteDefinition)
			r.Get("/content/{id}/views", s.handleViews)
		})
	})

	return otelhttp.NewHandler(r, "contentship-http")
}
