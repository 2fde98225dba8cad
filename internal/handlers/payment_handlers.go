package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"payment_processing/internal/cache"
	"payment_processing/internal/kafka"
	"payment_processing/internal/metrics"
	"payment_processing/internal/models"
	"payment_processing/internal/repository"

	"github.com/google/uuid"
)

// PaymentService is the slice of the service layer the handlers need.
// The HTTP surface drives the exact same saga-handler code path as the bus,
// so a force-processed payment is indistinguishable from a bus-processed one.
type PaymentService interface {
	HandleProcessPayment(ctx context.Context, cmd *kafka.ProcessPaymentRequest) error
	HandleCompensatePayment(ctx context.Context, cmd *kafka.CompensatePayment) error
}

type PaymentReader interface {
	GetByOrderID(ctx context.Context, orderID uuid.UUID) (*models.Payment, error)
}

type PaymentHandler struct {
	service  PaymentService
	payments PaymentReader
	cache    cache.Cache
	ttl      time.Duration
}

func NewPaymentHandler(service PaymentService, payments PaymentReader, c cache.Cache, ttl time.Duration) *PaymentHandler {
	return &PaymentHandler{
		service:  service,
		payments: payments,
		cache:    c,
		ttl:      ttl,
	}
}

type processRequest struct {
	CorrelationID uuid.UUID `json:"correlation_id"`
	OrderID       uuid.UUID `json:"order_id"`
	Amount        float64   `json:"amount"`
}

type refundRequest struct {
	CorrelationID uuid.UUID `json:"correlation_id"`
	OrderID       uuid.UUID `json:"order_id"`
}

// POST /api/payments/process
// 200: the payment row after processing
// 400: invalid input
// 500: internal error
func (h *PaymentHandler) ProcessPayment(w http.ResponseWriter, r *http.Request) {
	var req processRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json: "+err.Error())
		return
	}
	if req.CorrelationID == uuid.Nil {
		req.CorrelationID = uuid.New()
	}

	cmd := &kafka.ProcessPaymentRequest{
		CorrelationID: req.CorrelationID,
		OrderID:       req.OrderID,
		Amount:        req.Amount,
	}

	if err := h.service.HandleProcessPayment(r.Context(), cmd); err != nil {
		switch {
		case errors.Is(err, kafka.ErrUnprocessable):
			writeError(w, http.StatusBadRequest, err.Error())
		default:
			writeError(w, http.StatusInternalServerError, "internal error")
		}
		return
	}

	h.invalidate(r.Context(), req.OrderID)
	h.respondWithPayment(w, r, req.OrderID, req.CorrelationID)
}

// POST /api/payments/refund
// 200: the payment row after compensation
// 404: no payment for order_id (compensation still recorded as a no-op)
func (h *PaymentHandler) RefundPayment(w http.ResponseWriter, r *http.Request) {
	var req refundRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json: "+err.Error())
		return
	}
	if req.CorrelationID == uuid.Nil {
		req.CorrelationID = uuid.New()
	}

	cmd := &kafka.CompensatePayment{
		CorrelationID: req.CorrelationID,
		OrderID:       req.OrderID,
	}

	if err := h.service.HandleCompensatePayment(r.Context(), cmd); err != nil {
		switch {
		case errors.Is(err, kafka.ErrUnprocessable):
			writeError(w, http.StatusBadRequest, err.Error())
		default:
			writeError(w, http.StatusInternalServerError, "internal error")
		}
		return
	}

	h.invalidate(r.Context(), req.OrderID)

	payment, err := h.payments.GetByOrderID(r.Context(), req.OrderID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeError(w, http.StatusNotFound, "payment not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	writeJSON(w, http.StatusOK, payment)
}

// GET /api/payments?order_id=...
// 200: payment row
// 400: missing/invalid order_id
// 404: not found
func (h *PaymentHandler) GetPayment(w http.ResponseWriter, r *http.Request) {
	raw := strings.TrimSpace(r.URL.Query().Get("order_id"))
	if raw == "" {
		writeError(w, http.StatusBadRequest, "order_id is required")
		return
	}

	orderID, err := uuid.Parse(raw)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid order_id, expected UUID")
		return
	}

	// 1) cache lookup
	var cacheKey string
	if h.cache != nil {
		cacheKey = cache.PaymentKey(orderID.String())
		if b, ok, err := h.cache.Get(r.Context(), cacheKey); err == nil && ok {
			metrics.IncRedisHit()
			w.Header().Set("X-Cache", "HIT")
			writeRawJSON(w, http.StatusOK, b)
			return
		}
	}

	// 2) DB
	payment, err := h.payments.GetByOrderID(r.Context(), orderID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeError(w, http.StatusNotFound, "payment not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	b, _ := json.Marshal(payment)

	// 3) cache store
	if h.cache != nil {
		_ = h.cache.Set(r.Context(), cacheKey, b, h.ttl)
	}

	metrics.IncRedisMiss()
	w.Header().Set("X-Cache", "MISS")
	writeRawJSON(w, http.StatusOK, b)
}

func (h *PaymentHandler) respondWithPayment(w http.ResponseWriter, r *http.Request, orderID, correlationID uuid.UUID) {
	payment, err := h.payments.GetByOrderID(r.Context(), orderID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			// processed without a surviving row (recovery path); the outcome
			// event is still in the outbox
			writeJSON(w, http.StatusAccepted, map[string]any{
				"order_id":       orderID,
				"correlation_id": correlationID,
			})
			return
		}
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, payment)
}

func (h *PaymentHandler) invalidate(ctx context.Context, orderID uuid.UUID) {
	if h.cache == nil {
		return
	}
	_ = h.cache.Del(ctx, cache.PaymentKey(orderID.String()))
}

func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, 1<<20))
	dec.DisallowUnknownFields()

	if err := dec.Decode(dst); err != nil {
		return err
	}

	// reject a second JSON object in the body
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return errors.New("only one JSON object is allowed")
	}

	return nil
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeRawJSON(w http.ResponseWriter, status int, b []byte) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(b)
}
