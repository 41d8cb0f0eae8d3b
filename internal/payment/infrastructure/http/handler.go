package http

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/dmehra2102/payment-aggregator/internal/payment/application"
	"github.com/dmehra2102/payment-aggregator/internal/payment/domain"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

const maxRequestBytes = 1 << 20

type Handler struct {
	log     *slog.Logger
	service *application.Service
	tracer  trace.Tracer
}

func NewHandler(log *slog.Logger, service *application.Service) *Handler {
	return &Handler{
		log:     log,
		service: service,
		tracer:  otel.Tracer("payment-http"),
	}
}

// Routes serves the API under /v1 and /api/v1.
func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Get("/healthz", h.healthz)

	api := chi.NewRouter()
	api.Post("/payments", h.createPayment)
	api.Get("/payments", h.listPayments)
	api.Get("/payments/{id}", h.getPayment)
	api.Get("/wallets", h.listWallets)
	api.Get("/wallets/{method}/balance", h.getBalance)

	r.Mount("/v1", api)
	r.Mount("/api/v1", api)
	return r
}

type balanceResponse struct {
	Method    string      `json:"method"`
	AccountID string      `json:"accountId"`
	Balance   json.Number `json:"balance"`
}

func (h *Handler) createPayment(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.startSpan(r, "CreatePayment")
	defer span.End()

	var req domain.PaymentRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBytes))
	if err := dec.Decode(&req); err != nil {
		writeMessage(w, http.StatusBadRequest, "invalid body")
		return
	}
	span.SetAttributes(attribute.String("payment.method", req.PaymentMethod))

	resp, err := h.service.CreatePayment(ctx, req)
	switch {
	case errors.Is(err, domain.ErrUnsupportedMethod), errors.Is(err, domain.ErrInvalidRequest):
		writeMessage(w, http.StatusBadRequest, err.Error())
		return
	case err != nil:
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		h.log.Error("create payment failed", "method", req.PaymentMethod, "err", err)
		writeMessage(w, http.StatusInternalServerError, "payment could not be processed")
		return
	}

	span.SetAttributes(attribute.String("payment.id", resp.ID), attribute.String("payment.status", string(resp.Status)))
	if resp.Status != domain.StatusSuccess {
		writeJSON(w, http.StatusBadGateway, resp)
		return
	}
	w.Header().Set("Location", "/v1/payments/"+resp.ID)
	writeJSON(w, http.StatusCreated, resp)
}

func (h *Handler) getPayment(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.startSpan(r, "GetPayment")
	defer span.End()

	id := chi.URLParam(r, "id")
	payment, err := h.service.GetPayment(ctx, id)
	if errors.Is(err, domain.ErrNotFound) {
		writeMessage(w, http.StatusNotFound, "payment not found")
		return
	}
	if err != nil {
		span.RecordError(err)
		h.log.Error("get payment failed", "payment_id", id, "err", err)
		writeMessage(w, http.StatusInternalServerError, "payment lookup failed")
		return
	}
	writeJSON(w, http.StatusOK, payment)
}

func (h *Handler) listPayments(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.startSpan(r, "GetAllPayments")
	defer span.End()

	payments, err := h.service.GetAllPayments(ctx)
	if err != nil {
		span.RecordError(err)
		h.log.Error("list payments failed", "err", err)
		writeMessage(w, http.StatusInternalServerError, "payment listing failed")
		return
	}
	writeJSON(w, http.StatusOK, payments)
}

func (h *Handler) listWallets(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.service.ListWallets())
}

func (h *Handler) getBalance(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.startSpan(r, "GetBalance")
	defer span.End()

	method := strings.ToLower(chi.URLParam(r, "method"))
	accountID := r.URL.Query().Get("accountId")
	balance, _, err := h.service.GetBalance(ctx, method, accountID)
	if err != nil {
		span.RecordError(err)
		h.log.Error("balance lookup failed", "method", method, "err", err)
		writeMessage(w, http.StatusInternalServerError, "balance lookup failed")
		return
	}
	if balance == nil {
		writeMessage(w, http.StatusNotFound, "balance not available")
		return
	}
	writeJSON(w, http.StatusOK, balanceResponse{Method: method, AccountID: accountID, Balance: json.Number(balance.String())})
}

func (h *Handler) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// startSpan continues the caller's trace when the request carries one.
func (h *Handler) startSpan(r *http.Request, name string) (context.Context, trace.Span) {
	ctx := otel.GetTextMapPropagator().Extract(r.Context(), propagation.HeaderCarrier(r.Header))
	return h.tracer.Start(ctx, name, trace.WithSpanKind(trace.SpanKindServer))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeMessage(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"message": msg})
}
