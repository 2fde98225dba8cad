package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"payment_processing/internal/kafka"
	"payment_processing/internal/models"
	"payment_processing/internal/repository"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

type fakeService struct {
	processErr    error
	compensateErr error

	processed   []*kafka.ProcessPaymentRequest
	compensated []*kafka.CompensatePayment

	// applied to the reader on a successful process call, mimicking the
	// service writing the row
	reader *fakeReader
}

func (s *fakeService) HandleProcessPayment(ctx context.Context, cmd *kafka.ProcessPaymentRequest) error {
	if s.processErr != nil {
		return s.processErr
	}
	s.processed = append(s.processed, cmd)
	if s.reader != nil {
		s.reader.byOrder[cmd.OrderID] = &models.Payment{
			ID:      uuid.New(),
			OrderID: cmd.OrderID,
			Amount:  cmd.Amount,
			Status:  models.StatusProcessed,
		}
	}
	return nil
}

func (s *fakeService) HandleCompensatePayment(ctx context.Context, cmd *kafka.CompensatePayment) error {
	if s.compensateErr != nil {
		return s.compensateErr
	}
	s.compensated = append(s.compensated, cmd)
	if s.reader != nil {
		if p, ok := s.reader.byOrder[cmd.OrderID]; ok && p.Status == models.StatusProcessed {
			p.Status = models.StatusRefunded
		}
	}
	return nil
}

type fakeReader struct {
	byOrder map[uuid.UUID]*models.Payment
	err     error
}

func newFakeReader() *fakeReader {
	return &fakeReader{byOrder: make(map[uuid.UUID]*models.Payment)}
}

func (r *fakeReader) GetByOrderID(ctx context.Context, orderID uuid.UUID) (*models.Payment, error) {
	if r.err != nil {
		return nil, r.err
	}
	p, ok := r.byOrder[orderID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

type fakeCache struct {
	data    map[string][]byte
	deleted []string
}

func newFakeCache() *fakeCache {
	return &fakeCache{data: make(map[string][]byte)}
}

func (c *fakeCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	b, ok := c.data[key]
	return b, ok, nil
}

func (c *fakeCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	c.data[key] = value
	return nil
}

func (c *fakeCache) Del(ctx context.Context, keys ...string) error {
	for _, key := range keys {
		c.deleted = append(c.deleted, key)
		delete(c.data, key)
	}
	return nil
}

func (c *fakeCache) Close() error { return nil }

func newTestRouter(svc *fakeService, reader *fakeReader, c *fakeCache) http.Handler {
	var h *PaymentHandler
	if c == nil {
		// a typed nil in the interface would not read as "no cache"
		h = NewPaymentHandler(svc, reader, nil, time.Minute)
	} else {
		h = NewPaymentHandler(svc, reader, c, time.Minute)
	}
	r := chi.NewRouter()
	RegisterPaymentRoutes(r, h)
	return r
}

func postJSON(t *testing.T, router http.Handler, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestProcessPaymentEndpoint(t *testing.T) {
	reader := newFakeReader()
	svc := &fakeService{reader: reader}
	router := newTestRouter(svc, reader, nil)

	orderID := uuid.New()
	body := fmt.Sprintf(`{"order_id":%q,"amount":19.99}`, orderID)

	rec := postJSON(t, router, "/api/payments/process", body)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200; body: %s", rec.Code, rec.Body)
	}

	if len(svc.processed) != 1 {
		t.Fatalf("processed commands = %d, want 1", len(svc.processed))
	}
	cmd := svc.processed[0]
	if cmd.OrderID != orderID || cmd.Amount != 19.99 {
		t.Errorf("command = %+v, want order=%s amount=19.99", cmd, orderID)
	}
	// Omitted correlation id is generated server-side.
	if cmd.CorrelationID == uuid.Nil {
		t.Error("handler must generate a correlation id when the client omits it")
	}

	var got models.Payment
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if got.OrderID != orderID || got.Status != models.StatusProcessed {
		t.Errorf("response payment = %+v", got)
	}
}

func TestProcessPaymentEndpointBadInput(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"malformed json", `{"order_id":`},
		{"unknown field", `{"order_id":"` + uuid.NewString() + `","amount":1,"extra":true}`},
		{"two objects", `{"amount":1}{"amount":2}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router := newTestRouter(&fakeService{}, newFakeReader(), nil)
			rec := postJSON(t, router, "/api/payments/process", tt.body)
			if rec.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400; body: %s", rec.Code, rec.Body)
			}
		})
	}
}

func TestProcessPaymentEndpointUnprocessable(t *testing.T) {
	svc := &fakeService{processErr: fmt.Errorf("%w: amount must be positive", kafka.ErrUnprocessable)}
	router := newTestRouter(svc, newFakeReader(), nil)

	rec := postJSON(t, router, "/api/payments/process", fmt.Sprintf(`{"order_id":%q,"amount":-1}`, uuid.New()))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestProcessPaymentEndpointInternalError(t *testing.T) {
	svc := &fakeService{processErr: errors.New("db down")}
	router := newTestRouter(svc, newFakeReader(), nil)

	rec := postJSON(t, router, "/api/payments/process", fmt.Sprintf(`{"order_id":%q,"amount":1}`, uuid.New()))
	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", rec.Code)
	}
	// Internal details never reach the client.
	if body := rec.Body.String(); bytes.Contains([]byte(body), []byte("db down")) {
		t.Errorf("response leaks the internal error: %s", body)
	}
}

func TestProcessPaymentEndpointAcceptedWithoutRow(t *testing.T) {
	// Service succeeded via the recovery path: outcome recorded, no row.
	svc := &fakeService{} // reader is nil, so no row is written
	router := newTestRouter(svc, newFakeReader(), nil)

	rec := postJSON(t, router, "/api/payments/process", fmt.Sprintf(`{"order_id":%q,"amount":1}`, uuid.New()))
	if rec.Code != http.StatusAccepted {
		t.Errorf("status = %d, want 202; body: %s", rec.Code, rec.Body)
	}
}

func TestRefundPaymentEndpoint(t *testing.T) {
	reader := newFakeReader()
	orderID := uuid.New()
	reader.byOrder[orderID] = &models.Payment{
		ID:      uuid.New(),
		OrderID: orderID,
		Status:  models.StatusProcessed,
	}
	svc := &fakeService{reader: reader}
	router := newTestRouter(svc, reader, nil)

	rec := postJSON(t, router, "/api/payments/refund", fmt.Sprintf(`{"order_id":%q}`, orderID))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200; body: %s", rec.Code, rec.Body)
	}

	var got models.Payment
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if got.Status != models.StatusRefunded {
		t.Errorf("payment status = %q, want %q", got.Status, models.StatusRefunded)
	}
}

func TestRefundPaymentEndpointNotFound(t *testing.T) {
	svc := &fakeService{}
	router := newTestRouter(svc, newFakeReader(), nil)

	rec := postJSON(t, router, "/api/payments/refund", fmt.Sprintf(`{"order_id":%q}`, uuid.New()))
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404; body: %s", rec.Code, rec.Body)
	}
	// The compensation itself is still recorded.
	if len(svc.compensated) != 1 {
		t.Errorf("compensated commands = %d, want 1", len(svc.compensated))
	}
}

func TestGetPaymentEndpoint(t *testing.T) {
	reader := newFakeReader()
	orderID := uuid.New()
	reader.byOrder[orderID] = &models.Payment{
		ID:      uuid.New(),
		OrderID: orderID,
		Amount:  5,
		Status:  models.StatusProcessed,
	}
	c := newFakeCache()
	router := newTestRouter(&fakeService{}, reader, c)

	// First request misses the cache and fills it.
	req := httptest.NewRequest(http.MethodGet, "/api/payments/?order_id="+orderID.String(), nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200; body: %s", rec.Code, rec.Body)
	}
	if got := rec.Header().Get("X-Cache"); got != "MISS" {
		t.Errorf("X-Cache = %q, want MISS", got)
	}

	// Second request is served from the cache.
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("cached status = %d, want 200", rec.Code)
	}
	if got := rec.Header().Get("X-Cache"); got != "HIT" {
		t.Errorf("X-Cache = %q, want HIT", got)
	}
	var got models.Payment
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode cached response: %v", err)
	}
	if got.OrderID != orderID {
		t.Errorf("cached payment order = %s, want %s", got.OrderID, orderID)
	}
}

func TestGetPaymentEndpointBadRequest(t *testing.T) {
	router := newTestRouter(&fakeService{}, newFakeReader(), nil)

	for _, query := range []string{"", "?order_id=", "?order_id=not-a-uuid"} {
		req := httptest.NewRequest(http.MethodGet, "/api/payments/"+query, nil)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("query %q: status = %d, want 400", query, rec.Code)
		}
	}
}

func TestGetPaymentEndpointNotFound(t *testing.T) {
	router := newTestRouter(&fakeService{}, newFakeReader(), nil)

	req := httptest.NewRequest(http.MethodGet, "/api/payments/?order_id="+uuid.NewString(), nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestProcessPaymentInvalidatesCache(t *testing.T) {
	reader := newFakeReader()
	svc := &fakeService{reader: reader}
	c := newFakeCache()
	router := newTestRouter(svc, reader, c)

	orderID := uuid.New()
	c.data["payment:data:"+orderID.String()] = []byte(`{"stale":true}`)

	rec := postJSON(t, router, "/api/payments/process", fmt.Sprintf(`{"order_id":%q,"amount":1}`, orderID))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200; body: %s", rec.Code, rec.Body)
	}
	if len(c.deleted) != 1 {
		t.Fatalf("cache deletions = %d, want 1", len(c.deleted))
	}
	if c.deleted[0] != "payment:data:"+orderID.String() {
		t.Errorf("deleted key = %q", c.deleted[0])
	}
}
