package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"paywall-access/internal/usecase"
)

// WebhookProcessor applies a raw, still-unverified webhook delivery.
type WebhookProcessor interface {
	Handle(ctx context.Context, rawBody []byte, signature string) (usecase.WebhookOutcome, error)
}

// HealthCheck reports whether a dependency is reachable.
type HealthCheck func(ctx context.Context) error

type Options struct {
	SignatureHeader string
	MaxWebhookBytes int64
	RequestTimeout  time.Duration
	// KeyID is the processor's public key id, echoed to clients for checkout.
	KeyID  string
	Checks map[string]HealthCheck
}

// Server exposes the /access surface.
type Server struct {
	access   usecase.AccessUseCase
	webhooks WebhookProcessor
	auth     *AuthManager
	opts     Options
	log      *zerolog.Logger
}

func NewServer(access usecase.AccessUseCase, webhooks WebhookProcessor, auth *AuthManager, opts Options, logger *zerolog.Logger) *Server {
	if opts.SignatureHeader == "" {
		opts.SignatureHeader = "X-Payment-Signature"
	}
	if opts.MaxWebhookBytes <= 0 {
		opts.MaxWebhookBytes = 1 << 20
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 15 * time.Second
	}
	l := logger.With().Str("component", "HTTP").Logger()
	return &Server{access: access, webhooks: webhooks, auth: auth, opts: opts, log: &l}
}

// Routes returns the full handler including the guard chain.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	s.Register(r)
	return Chain(r,
		TraceID(),
		RequestLog(s.log),
		Recover(s.log),
		Timeout(s.opts.RequestTimeout),
	)
}

// Register mounts the routes on r without the guard chain.
func (s *Server) Register(r chi.Router) {
	r.Get("/health", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/access", func(r chi.Router) {
		// the webhook authenticates by signature, not by bearer token
		r.Post("/webhook", s.handleWebhook)

		r.Group(func(r chi.Router) {
			r.Use(s.auth.Authenticate)
			r.Post("/create-order", s.handleCreateOrder)
			r.Post("/verify", s.handleVerify)
			r.Get("/status/{resourceId}", s.handleStatus)
			r.Get("/reveal/{resourceId}", s.handleReveal)
		})
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	status := map[string]string{}
	code := http.StatusOK
	for name, check := range s.opts.Checks {
		if err := check(ctx); err != nil {
			status[name] = "down"
			code = http.StatusServiceUnavailable
			s.log.Warn().Err(err).Str("check", name).Msg("health check failed")
			continue
		}
		status[name] = "ok"
	}
	writeJSON(w, code, map[string]any{"status": http.StatusText(code), "checks": status})
}
