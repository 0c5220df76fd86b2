// Package httpserver exposes the YooKassa notification endpoint, a health
// check and prometheus metrics.
package httpserver

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"
	"github.com/go-playground/validator"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"

	"github.com/skoret/assistant-bot/internal/billing"
	"github.com/skoret/assistant-bot/internal/lib/sl"
	"github.com/skoret/assistant-bot/internal/yookassa"
)

const shutdownTimeout = 10 * time.Second

type PaymentProcessor interface {
	ProcessPayment(ctx context.Context, providerID string) (billing.Outcome, error)
}

type HealthChecker interface {
	Ping(ctx context.Context) error
}

type Options struct {
	Address     string
	Timeout     time.Duration
	IdleTimeout time.Duration
	// NotificationRate limits notification requests per second; zero disables the limit.
	NotificationRate float64
}

type Server struct {
	log      *slog.Logger
	payments PaymentProcessor
	health   HealthChecker
	gatherer prometheus.Gatherer
	validate *validator.Validate
	limiter  *rate.Limiter
	server   *http.Server
}

func New(log *slog.Logger, payments PaymentProcessor, health HealthChecker, gatherer prometheus.Gatherer, opts Options) *Server {
	s := &Server{
		log:      log.With(slog.String("component", "http")),
		payments: payments,
		health:   health,
		gatherer: gatherer,
		validate: validator.New(),
	}
	if opts.NotificationRate > 0 {
		s.limiter = rate.NewLimiter(rate.Limit(opts.NotificationRate), int(opts.NotificationRate)+1)
	}
	s.server = &http.Server{
		Addr:         opts.Address,
		Handler:      s.Router(),
		ReadTimeout:  opts.Timeout,
		WriteTimeout: opts.Timeout,
		IdleTimeout:  opts.IdleTimeout,
	}
	return s
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.RequestID,
		middleware.RealIP,
		middleware.Logger,
		middleware.Recoverer,
	)

	r.Get("/health", s.handleHealth)
	r.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	r.Group(func(r chi.Router) {
		r.Use(s.rateLimit)
		r.Post("/yookassa/notifications", s.handleNotification)
	})
	return r
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.log.Info("HTTP server starting", slog.String("address", s.server.Addr))
		err := s.server.ListenAndServe()
		if errors.Is(err, http.ErrServerClosed) {
			errCh <- nil
		} else {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		timeoutCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		s.log.Info("shutting down HTTP server gracefully")
		return s.server.Shutdown(timeoutCtx)
	}
}

func (s *Server) rateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.limiter != nil && !s.limiter.Allow() {
			s.log.Warn("too many requests", slog.String("path", r.URL.Path))
			render.Status(r, http.StatusTooManyRequests)
			render.JSON(w, r, response{Status: "error", Error: "too many requests"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

type response struct {
	Status  string `json:"status"`
	Error   string `json:"error,omitempty"`
	Outcome string `json:"outcome,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.health.Ping(r.Context()); err != nil {
		s.log.Error("health check failed", sl.Err(err))
		render.Status(r, http.StatusServiceUnavailable)
		render.JSON(w, r, response{Status: "error", Error: "storage unavailable"})
		return
	}
	render.JSON(w, r, response{Status: "ok"})
}

// handleNotification never trusts the notification body beyond the payment
// id: the payment is re-read from the provider before anything is applied.
// A 5xx makes YooKassa redeliver the notification.
func (s *Server) handleNotification(w http.ResponseWriter, r *http.Request) {
	const op = "httpserver.handleNotification"
	log := s.log.With(
		slog.String("op", op),
		slog.String("request_id", middleware.GetReqID(r.Context())),
	)

	var n yookassa.Notification
	if err := render.DecodeJSON(r.Body, &n); err != nil {
		log.Error("failed to decode notification", sl.Err(err))
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, response{Status: "error", Error: "invalid request body"})
		return
	}
	if err := s.validate.Struct(n); err != nil {
		log.Error("invalid notification", sl.Err(err))
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, response{Status: "error", Error: "invalid notification"})
		return
	}

	log = log.With(slog.String("event", n.Event), slog.String("payment_id", n.Object.ID))

	switch n.Event {
	case yookassa.EventPaymentSucceeded, yookassa.EventPaymentCanceled:
	default:
		log.Info("ignored notification")
		render.JSON(w, r, response{Status: "ignored"})
		return
	}

	outcome, err := s.payments.ProcessPayment(r.Context(), n.Object.ID)
	switch {
	case errors.Is(err, billing.ErrUnknownPayment), errors.Is(err, billing.ErrAmountMismatch):
		log.Warn("notification rejected", sl.Err(err))
		render.JSON(w, r, response{Status: "rejected", Error: err.Error()})
		return
	case err != nil:
		log.Error("failed to process notification", sl.Err(err))
		render.Status(r, http.StatusInternalServerError)
		render.JSON(w, r, response{Status: "error", Error: "processing failed"})
		return
	}

	log.Info("notification processed", slog.String("outcome", string(outcome)))
	render.JSON(w, r, response{Status: "ok", Outcome: string(outcome)})
}
