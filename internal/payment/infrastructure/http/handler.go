package http

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/dmehra2102/payment-webhooks/internal/metrics"
	"github.com/dmehra2102/payment-webhooks/internal/payment/application"
	"github.com/dmehra2102/payment-webhooks/internal/payment/domain"
	"github.com/dmehra2102/payment-webhooks/internal/payment/provider"
	"github.com/dmehra2102/payment-webhooks/pkg/tracing"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const maxBodyBytes = 1 << 20

// RequestGuard remembers idempotency keys of admin requests. Seen takes the
// key; Forget gives it back when the request did not go through.
type RequestGuard interface {
	Seen(ctx context.Context, key string) (bool, error)
	Forget(ctx context.Context, key string) error
}

type Handler struct {
	log     *slog.Logger
	service *application.Service
	tokens  map[domain.Provider]string
	admin   string
	guard   RequestGuard
	tracer  trace.Tracer
}

// NewHandler wires the webhook routes. tokens holds the expected bearer token
// per provider; adminToken enables the balance routes when non-empty.
func NewHandler(log *slog.Logger, service *application.Service, tokens map[domain.Provider]string, adminToken string, guard RequestGuard) *Handler {
	return &Handler{
		log:     log,
		service: service,
		tokens:  tokens,
		admin:   adminToken,
		guard:   guard,
		tracer:  otel.Tracer("payment-http"),
	}
}

type webhookData struct {
	Provider        domain.Provider  `json:"provider"`
	ExternalOrderID string           `json:"external_order_id"`
	UserID          string           `json:"user_id"`
	Amount          decimal.Decimal  `json:"amount"`
	Currency        string           `json:"currency"`
	PaymentStatus   domain.Status    `json:"payment_status"`
	Balance         *decimal.Decimal `json:"balance,omitempty"`
	Duplicate       bool             `json:"duplicate"`
}

type consumeReq struct {
	Amount decimal.Decimal `json:"amount"`
}

func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger(h.log))
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusMethodNotAllowed)
	})

	for _, p := range []domain.Provider{domain.ProviderCryptomus, domain.ProviderTlync} {
		r.With(bearer(h.tokens[p])).Post("/"+string(p)+"-webhook", h.webhook(p))
	}

	if h.admin != "" {
		r.Group(func(r chi.Router) {
			r.Use(bearer(h.admin))
			r.Get("/balances/{userID}", h.getBalance)
			r.Post("/balances/{userID}/consume", h.consume)
		})
	}
	return r
}

func (h *Handler) webhook(p domain.Provider) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := h.tracer.Start(tracing.ExtractHTTP(r), "Webhook", trace.WithAttributes(attribute.String("provider", string(p))))
		defer span.End()

		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		defer func() {
			metrics.WebhookDuration.WithLabelValues(string(p)).Observe(time.Since(start).Seconds())
			metrics.WebhookRequests.WithLabelValues(string(p), strconv.Itoa(rec.status)).Inc()
		}()

		raw, err := io.ReadAll(http.MaxBytesReader(rec, r.Body, maxBodyBytes))
		if err != nil {
			h.fail(rec, p, fmt.Errorf("%w: unreadable body", domain.ErrMalformedRequest))
			return
		}
		if !json.Valid(raw) {
			h.fail(rec, p, fmt.Errorf("%w: invalid JSON body", domain.ErrMalformedRequest))
			return
		}

		res, err := h.service.Ingest(ctx, p, raw, provider.Signature(p, raw, r.Header))
		if err != nil {
			span.RecordError(err)
			h.fail(rec, p, err)
			return
		}

		data := webhookData{
			Provider:        p,
			ExternalOrderID: res.Event.ExternalOrderID,
			UserID:          res.Event.UserID,
			Amount:          res.Event.Amount,
			Currency:        res.Event.Currency,
			PaymentStatus:   res.Event.Status,
		}
		switch res.Outcome {
		case application.OutcomeApplied:
			data.Balance = &res.Record.Amount
			writeOK(rec, "balance updated", data)
		case application.OutcomeDuplicate:
			data.Balance = &res.Record.Amount
			data.Duplicate = true
			writeOK(rec, "event already processed", data)
		default:
			writeOK(rec, "event ignored", data)
		}
	}
}

func (h *Handler) fail(w http.ResponseWriter, p domain.Provider, err error) {
	status, msg := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.log.Error("webhook failed", "provider", p, "status", status, "err", err)
	} else {
		h.log.Warn("webhook rejected", "provider", p, "status", status, "err", err)
	}
	writeError(w, status, msg)
}

func (h *Handler) getBalance(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "GetBalance")
	defer span.End()

	rec, err := h.service.Balance(ctx, chi.URLParam(r, "userID"))
	if err != nil {
		status, msg := statusFor(err)
		writeError(w, status, msg)
		return
	}
	writeOK(w, "balance", rec)
}

func (h *Handler) consume(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "ConsumeBalance")
	defer span.End()

	userID := chi.URLParam(r, "userID")
	var req consumeReq
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}

	var reserved string
	if key := r.Header.Get("Idempotency-Key"); key != "" && h.guard != nil {
		guardKey := "consume:" + userID + ":" + key
		seen, err := h.guard.Seen(ctx, guardKey)
		if err != nil {
			h.log.Warn("idempotency check failed", "user_id", userID, "err", err)
		} else if !seen {
			reserved = guardKey
		} else {
			rec, err := h.service.Balance(ctx, userID)
			if err != nil {
				status, msg := statusFor(err)
				writeError(w, status, msg)
				return
			}
			writeOK(w, "request already processed", rec)
			return
		}
	}

	rec, err := h.service.Consume(ctx, userID, req.Amount)
	if err != nil {
		if reserved != "" {
			if ferr := h.guard.Forget(context.WithoutCancel(ctx), reserved); ferr != nil {
				h.log.Warn("idempotency release failed", "user_id", userID, "err", ferr)
			}
		}
		status, msg := statusFor(err)
		if status >= http.StatusInternalServerError {
			h.log.Error("consume failed", "user_id", userID, "err", err)
		}
		writeError(w, status, msg)
		return
	}
	writeOK(w, "balance consumed", rec)
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}
