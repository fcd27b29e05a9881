package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/cobrafacil/billing-go/internal/domain"
	"github.com/cobrafacil/billing-go/internal/handler"
	"github.com/cobrafacil/billing-go/internal/infra/cache"
	"github.com/cobrafacil/billing-go/internal/infra/observability"
	"github.com/cobrafacil/billing-go/internal/service"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
)

const testSecret = "router-test-secret"

// fakeStore serves a single merchant with one pending invoice.
type fakeStore struct {
	invoice    domain.Invoice
	subscriber domain.Subscriber
	merchant   domain.Merchant
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		merchant: domain.Merchant{
			ID: "merch-1", Name: "Oficina do João", City: "Curitiba", PixKey: "user@mail.com",
		},
		subscriber: domain.Subscriber{
			ID: "sub-1", MerchantID: "merch-1", Name: "Cliente Um", Active: true,
		},
		invoice: domain.Invoice{
			ID:           "inv-1",
			SubscriberID: "sub-1",
			MerchantID:   "merch-1",
			Amount:       99.90,
			DueDate:      time.Date(2024, 6, 10, 0, 0, 0, 0, time.UTC),
			Status:       domain.InvoiceStatusPending,
			CreatedAt:    time.Now(),
		},
	}
}

func (f *fakeStore) CreateInvoice(_ context.Context, inv *domain.Invoice) (*domain.Invoice, error) {
	return inv, nil
}

func (f *fakeStore) GetInvoice(_ context.Context, invoiceID string) (*domain.Invoice, error) {
	if invoiceID != f.invoice.ID {
		return nil, &domain.ErrNotFound{Resource: "invoice", ID: invoiceID}
	}
	inv := f.invoice
	return &inv, nil
}

func (f *fakeStore) ListInvoices(_ context.Context, merchantID string, _ domain.InvoiceFilter) ([]domain.Invoice, error) {
	if merchantID != f.merchant.ID {
		return nil, nil
	}
	return []domain.Invoice{f.invoice}, nil
}

func (f *fakeStore) UpdateInvoicePayment(_ context.Context, invoiceID, status, paymentMethod string, paidAt *time.Time) error {
	f.invoice.Status = status
	f.invoice.PaymentMethod = paymentMethod
	f.invoice.PaidAt = paidAt
	return nil
}

func (f *fakeStore) UpdateInvoiceStatus(_ context.Context, _, status string) error {
	f.invoice.Status = status
	return nil
}

func (f *fakeStore) InvoiceExists(_ context.Context, _ string, _ time.Time) (bool, error) {
	return false, nil
}

func (f *fakeStore) ListPaidRecurringWithoutSuccessor(_ context.Context, _ int) ([]domain.Invoice, error) {
	return nil, nil
}

func (f *fakeStore) GetSubscriber(_ context.Context, subscriberID string) (*domain.Subscriber, error) {
	if subscriberID != f.subscriber.ID {
		return nil, &domain.ErrNotFound{Resource: "subscriber", ID: subscriberID}
	}
	sub := f.subscriber
	return &sub, nil
}

func (f *fakeStore) ListSubscribers(_ context.Context, _ string) ([]domain.Subscriber, error) {
	return []domain.Subscriber{f.subscriber}, nil
}

func (f *fakeStore) CreateSubscriber(_ context.Context, sub *domain.Subscriber) (*domain.Subscriber, error) {
	return sub, nil
}

func (f *fakeStore) GetPlan(_ context.Context, planID string) (*domain.Plan, error) {
	return nil, &domain.ErrNotFound{Resource: "plan", ID: planID}
}

func (f *fakeStore) ListPlans(_ context.Context, _ string) ([]domain.Plan, error) {
	return nil, nil
}

func (f *fakeStore) CreatePlan(_ context.Context, plan *domain.Plan) (*domain.Plan, error) {
	return plan, nil
}

func (f *fakeStore) GetMerchant(_ context.Context, merchantID string) (*domain.Merchant, error) {
	if merchantID != f.merchant.ID {
		return nil, &domain.ErrNotFound{Resource: "merchant", ID: merchantID}
	}
	m := f.merchant
	return &m, nil
}

type fakePinger struct{ err error }

func (p fakePinger) Ping(context.Context) error { return p.err }

func newTestRouter(store *fakeStore, deps ...handler.Pinger) http.Handler {
	svc := service.NewBillingService(
		store,
		nil,
		cache.New[*domain.Merchant](time.Minute),
		service.NewPaymentLinkSigner(testSecret, "http://localhost:8080"),
		observability.NewMetrics(),
		zap.NewNop(),
	)
	return handler.NewRouter(svc, observability.NewMetrics(), zap.NewNop(), testSecret, deps...)
}

func merchantToken(t *testing.T, merchantID string) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   merchantID,
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}).SignedString([]byte(testSecret))
	if err != nil {
		t.Fatalf("failed to sign test token: %v", err)
	}
	return token
}

func doRequest(router http.Handler, method, path, token string, body any) *httptest.ResponseRecorder {
	var reader *bytes.Reader
	if body != nil {
		b, _ := json.Marshal(body)
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestHealthz(t *testing.T) {
	router := newTestRouter(newFakeStore())

	rec := doRequest(router, http.MethodGet, "/healthz", "", nil)
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
}

func TestReadyz(t *testing.T) {
	router := newTestRouter(newFakeStore(), fakePinger{})

	rec := doRequest(router, http.MethodGet, "/readyz", "", nil)
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
}

func TestReadyz_DependencyDown(t *testing.T) {
	router := newTestRouter(newFakeStore(), fakePinger{err: errors.New("connection refused")})

	rec := doRequest(router, http.MethodGet, "/readyz", "", nil)
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("expected 503, got %d", rec.Code)
	}
}

func TestMetrics(t *testing.T) {
	router := newTestRouter(newFakeStore())

	rec := doRequest(router, http.MethodGet, "/metrics", "", nil)
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
}

func TestInvoices_RequireAuth(t *testing.T) {
	router := newTestRouter(newFakeStore())

	rec := doRequest(router, http.MethodGet, "/v1/invoices", "", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("expected 401 without token, got %d", rec.Code)
	}

	rec = doRequest(router, http.MethodGet, "/v1/invoices", "not-a-jwt", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("expected 401 with bad token, got %d", rec.Code)
	}
}

func TestListInvoices(t *testing.T) {
	router := newTestRouter(newFakeStore())
	token := merchantToken(t, "merch-1")

	rec := doRequest(router, http.MethodGet, "/v1/invoices", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var resp struct {
		Invoices []service.InvoiceView `json:"invoices"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if len(resp.Invoices) != 1 {
		t.Fatalf("expected 1 invoice, got %d", len(resp.Invoices))
	}
	if resp.Invoices[0].ComputedStatus != domain.ComputedStatusOverdue {
		t.Errorf("expected overdue for a 2024 due date, got %s", resp.Invoices[0].ComputedStatus)
	}
}

func TestGetInvoice(t *testing.T) {
	router := newTestRouter(newFakeStore())
	token := merchantToken(t, "merch-1")

	rec := doRequest(router, http.MethodGet, "/v1/invoices/inv-1", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var view service.InvoiceView
	if err := json.Unmarshal(rec.Body.Bytes(), &view); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if view.ID != "inv-1" {
		t.Errorf("expected inv-1, got %s", view.ID)
	}
	if view.ComputedStatus != domain.ComputedStatusOverdue {
		t.Errorf("expected overdue for a 2024 due date, got %s", view.ComputedStatus)
	}
}

func TestPayInvoice(t *testing.T) {
	store := newFakeStore()
	router := newTestRouter(store)
	token := merchantToken(t, "merch-1")

	rec := doRequest(router, http.MethodPost, "/v1/invoices/inv-1/pay", token, map[string]string{"payment_method": "pix"})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if store.invoice.Status != domain.InvoiceStatusPaid {
		t.Errorf("expected invoice paid, got %s", store.invoice.Status)
	}

	// Second payment conflicts.
	rec = doRequest(router, http.MethodPost, "/v1/invoices/inv-1/pay", token, nil)
	if rec.Code != http.StatusConflict {
		t.Errorf("expected 409 on double pay, got %d", rec.Code)
	}
}

func TestInvoice_OtherMerchantHidden(t *testing.T) {
	router := newTestRouter(newFakeStore())
	token := merchantToken(t, "merch-2")

	rec := doRequest(router, http.MethodGet, "/v1/invoices/inv-1", token, nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404 for another merchant's invoice, got %d", rec.Code)
	}
}

func TestPixCodeEndpoint(t *testing.T) {
	router := newTestRouter(newFakeStore())
	token := merchantToken(t, "merch-1")

	rec := doRequest(router, http.MethodGet, "/v1/invoices/inv-1/pix-code", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var resp struct {
		Code string `json:"code"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}

	// The generated code must round-trip through the public validator.
	rec = doRequest(router, http.MethodPost, "/v1/pix/validate", "", map[string]string{"code": resp.Code})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var validation struct {
		Valid bool `json:"valid"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &validation); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if !validation.Valid {
		t.Error("expected generated code to validate")
	}
}

func TestPixValidate_BadCode(t *testing.T) {
	router := newTestRouter(newFakeStore())

	rec := doRequest(router, http.MethodPost, "/v1/pix/validate", "", map[string]string{"code": "000201garbage"})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var validation struct {
		Valid bool `json:"valid"`
	}
	json.Unmarshal(rec.Body.Bytes(), &validation)
	if validation.Valid {
		t.Error("expected garbage code to be invalid")
	}
}

func TestPaymentLinkRoundTrip(t *testing.T) {
	router := newTestRouter(newFakeStore())
	token := merchantToken(t, "merch-1")

	rec := doRequest(router, http.MethodPost, "/v1/invoices/inv-1/payment-link", token, nil)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}

	var link struct {
		Token string `json:"token"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &link); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}

	// Public resolution, no merchant token.
	rec = doRequest(router, http.MethodGet, "/v1/payment-links/"+link.Token, "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var view struct {
		InvoiceID string  `json:"invoice_id"`
		Amount    float64 `json:"amount"`
		PixCode   string  `json:"pix_code"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &view); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if view.InvoiceID != "inv-1" {
		t.Errorf("expected inv-1, got %s", view.InvoiceID)
	}
	if view.PixCode == "" {
		t.Error("expected a PIX code in the link view")
	}
}

func TestPaymentLink_InvalidToken(t *testing.T) {
	router := newTestRouter(newFakeStore())

	rec := doRequest(router, http.MethodGet, "/v1/payment-links/garbage", "", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("expected 401 for a forged link, got %d", rec.Code)
	}
}
