// Package httpserver serves the bot's HTTP surface: probes, metrics, the Telegram webhook and the Web Push receiver.
package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/librimoms/club-bot/internal/lifecycle"
	"github.com/librimoms/club-bot/internal/push"
	"github.com/librimoms/club-bot/pkg/logger"
	"github.com/librimoms/club-bot/pkg/metrics"
)

// maxPushBody bounds a Web Push request. RFC 8291 records are at most 4096 bytes.
const maxPushBody = 8 << 10

// WebhookPath is where Telegram posts updates in webhook mode.
const WebhookPath = "/telegram/webhook"

// PushReceiver decrypts a delivery for one subscription endpoint.
type PushReceiver interface {
	Receive(ctx context.Context, endpointID string, body []byte) (int64, *push.Message, error)
}

// PushForwarder relays a decrypted push to the subscriber's chat.
type PushForwarder interface {
	ForwardPush(ctx context.Context, telegramID int64, msg *push.Message) error
}

type Options struct {
	Probes    lifecycle.HealthChecker
	Push      PushReceiver
	Forwarder PushForwarder
	// Webhook receives Telegram updates; nil in polling mode.
	Webhook http.Handler
	Log     *slog.Logger
}

type Server struct {
	opts   Options
	log    *slog.Logger
	router chi.Router
}

func New(opts Options) *Server {
	log := opts.Log
	if log == nil {
		log = slog.Default()
	}
	s := &Server{opts: opts, log: log.With(slog.String("component", "http"))}
	s.setupRoutes()
	return s
}

func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) setupRoutes() {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(logger.Middleware)
	r.Use(s.observe)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleLiveness)
	r.Get("/readyz", s.handleReadiness)
	r.Handle("/metrics", promhttp.Handler())

	if s.opts.Push != nil {
		r.Post("/push/receive/{endpointID}", s.handlePushReceive)
	}
	if s.opts.Webhook != nil {
		r.Handle(WebhookPath, s.opts.Webhook)
	}

	s.router = r
}

// observe logs and measures every request with its chi route pattern.
func (s *Server) observe(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := chi.RouteContext(r.Context()).RoutePattern()
		elapsed := time.Since(start)
		metrics.RecordHTTPRequest(route, ww.Status(), elapsed)

		level := slog.LevelDebug
		if ww.Status() >= http.StatusInternalServerError {
			level = slog.LevelWarn
		}
		s.log.Log(r.Context(), level, "http request",
			slog.String("method", r.Method),
			slog.String("route", route),
			slog.Int("status", ww.Status()),
			slog.Duration("elapsed", elapsed),
			slog.String("correlation_id", logger.CorrelationIDFromContext(r.Context())),
		)
	})
}

func (s *Server) handleLiveness(w http.ResponseWriter, r *http.Request) {
	if s.opts.Probes != nil {
		if err := s.opts.Probes.Liveness(r.Context()); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "down", "error": err.Error()})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleReadiness(w http.ResponseWriter, r *http.Request) {
	if s.opts.Probes == nil {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		return
	}

	report, err := s.opts.Probes.Readiness(r.Context())
	status := http.StatusOK
	if err != nil {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, report)
}

func (s *Server) handlePushReceive(w http.ResponseWriter, r *http.Request) {
	endpointID := chi.URLParam(r, "endpointID")

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxPushBody))
	if err != nil {
		http.Error(w, "payload too large", http.StatusRequestEntityTooLarge)
		return
	}

	telegramID, msg, err := s.opts.Push.Receive(r.Context(), endpointID, body)
	switch {
	case errors.Is(err, push.ErrNotSubscribed):
		// 410 tells the push service to drop the subscription.
		http.Error(w, "subscription gone", http.StatusGone)
		return
	case errors.Is(err, push.ErrMalformedPayload), errors.Is(err, push.ErrInvalidKey):
		s.log.Warn("rejected push payload", slog.String("endpoint_id", endpointID), slog.Any("error", err))
		http.Error(w, "malformed payload", http.StatusBadRequest)
		return
	case err != nil:
		s.log.Error("push receive failed", slog.String("endpoint_id", endpointID), slog.Any("error", err))
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	if s.opts.Forwarder != nil {
		if err := s.opts.Forwarder.ForwardPush(r.Context(), telegramID, msg); err != nil {
			s.log.Warn("failed to forward push to chat", slog.Int64("telegram_id", telegramID), slog.Any("error", err))
		}
	}
	w.WriteHeader(http.StatusCreated)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
