package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	orchestratorx "github.com/tanpawarit/agent-orchestrator/agent/agents/orchestrator"
	contractx "github.com/tanpawarit/agent-orchestrator/agent/contract"
	webhookx "github.com/tanpawarit/agent-orchestrator/agent/webhook"
	metricsx "github.com/tanpawarit/agent-orchestrator/pkg/metrics"
)

const defaultMaxBodyBytes = 1 << 20

// Service is the orchestrator surface the HTTP layer depends on.
type Service interface {
	Submit(ctx context.Context, in orchestratorx.SubmitRequest) (contractx.ProcessingRequest, error)
	GetResult(ctx context.Context, requestID string) (*contractx.RequestRecord, error)
	ListResults(ctx context.Context, page contractx.Page) (contractx.RequestPage, error)
	RetryWebhook(ctx context.Context, requestID string) (contractx.DeliveryOutcome, error)
}

type Pinger interface {
	Ping(ctx context.Context) error
}

type Config struct {
	// ProviderConfigured is reported by /health.
	ProviderConfigured bool
	// CallbackSecret, when set, lets /webhooks/callback/test check signatures.
	CallbackSecret string
	MaxBodyBytes   int64
	HealthTimeout  time.Duration
}

type Option func(*Server)

func WithMetrics(m *metricsx.Metrics, gatherer prometheus.Gatherer) Option {
	return func(s *Server) {
		s.metrics = m
		s.gatherer = gatherer
	}
}

func WithInboundVerifier(v *webhookx.InboundVerifier) Option {
	return func(s *Server) {
		s.inbound = v
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Server) {
		if now != nil {
			s.now = now
		}
	}
}

type Server struct {
	svc      Service
	health   Pinger
	cfg      Config
	metrics  *metricsx.Metrics
	gatherer prometheus.Gatherer
	inbound  *webhookx.InboundVerifier
	now      func() time.Time
	logger   zerolog.Logger
	router   chi.Router
}

func New(svc Service, health Pinger, cfg Config, opts ...Option) (*Server, error) {
	if svc == nil {
		return nil, errors.New("api service is required")
	}
	if health == nil {
		return nil, errors.New("api health pinger is required")
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = defaultMaxBodyBytes
	}
	if cfg.HealthTimeout <= 0 {
		cfg.HealthTimeout = 5 * time.Second
	}

	s := &Server{
		svc:    svc,
		health: health,
		cfg:    cfg,
		now:    time.Now,
		logger: log.With().Str("component", "api").Logger(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	s.router = s.routes()
	return s, nil
}

func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.recoverer)
	r.Use(s.observe)

	r.Get("/health", s.handleHealth)
	if s.gatherer != nil {
		r.Method(http.MethodGet, "/metrics", metricsx.Handler(s.gatherer))
	}

	r.Post("/process", s.handleProcess)
	r.Get("/results", s.handleListResults)
	r.Get("/results/{requestID}", s.handleGetResult)
	r.Get("/webhook-logs/{requestID}", s.handleWebhookLogs)
	r.Post("/webhook/retry/{requestID}", s.handleRetryWebhook)

	r.Route("/webhooks", func(r chi.Router) {
		r.With(s.verifyInbound).Post("/receive", s.handleProcess)
		r.Post("/callback/test", s.handleCallbackTest)
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		s.writeError(w, r, http.StatusNotFound, "not_found", "route not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		s.writeError(w, r, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
	})
	return r
}

// observe logs every request and records its metrics under the chi route pattern.
func (s *Server) observe(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := s.now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		elapsed := s.now().Sub(start)
		route := routePattern(r)
		s.metrics.ObserveHTTP(r.Method, route, status, elapsed)

		evt := s.logger.Info()
		if status >= http.StatusInternalServerError {
			evt = s.logger.Error()
		}
		evt.
			Str("http_request_id", middleware.GetReqID(r.Context())).
			Str("method", r.Method).
			Str("route", route).
			Int("status_code", status).
			Int("bytes", ww.BytesWritten()).
			Dur("elapsed", elapsed).
			Msg("http request")
	})
}

func (s *Server) recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				s.logger.Error().
					Interface("panic", rec).
					Str("http_request_id", middleware.GetReqID(r.Context())).
					Msg("handler panicked")
				s.writeError(w, r, http.StatusInternalServerError, "internal_error", "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
		return rctx.RoutePattern()
	}
	return "unmatched"
}
