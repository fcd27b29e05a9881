package service_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/cobrafacil/billing-go/internal/domain"
	"github.com/cobrafacil/billing-go/internal/infra/cache"
	"github.com/cobrafacil/billing-go/internal/infra/observability"
	"github.com/cobrafacil/billing-go/internal/port"
	"github.com/cobrafacil/billing-go/internal/service"

	"go.uber.org/zap"
)

// --- Mocks ---

// mockStore is an in-memory BillingStore enforcing the unique
// (subscriber_id, due_date) constraint the way the real stores do.
type mockStore struct {
	mu          sync.Mutex
	invoices    map[string]*domain.Invoice
	subscribers map[string]*domain.Subscriber
	plans       map[string]*domain.Plan
	merchants   map[string]*domain.Merchant

	createErr error // forced error on CreateInvoice
	getSubErr error // forced error on GetSubscriber
}

func newMockStore() *mockStore {
	return &mockStore{
		invoices:    make(map[string]*domain.Invoice),
		subscribers: make(map[string]*domain.Subscriber),
		plans:       make(map[string]*domain.Plan),
		merchants:   make(map[string]*domain.Merchant),
	}
}

func (m *mockStore) CreateInvoice(_ context.Context, inv *domain.Invoice) (*domain.Invoice, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createErr != nil {
		return nil, m.createErr
	}
	for _, existing := range m.invoices {
		if existing.SubscriberID == inv.SubscriberID && existing.DueDate.Equal(inv.DueDate) {
			return nil, &domain.ErrDuplicate{
				Key: fmt.Sprintf("invoice %s/%s", inv.SubscriberID, inv.DueDate.Format("2006-01-02")),
			}
		}
	}
	cp := *inv
	m.invoices[inv.ID] = &cp
	return inv, nil
}

func (m *mockStore) GetInvoice(_ context.Context, invoiceID string) (*domain.Invoice, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	inv, ok := m.invoices[invoiceID]
	if !ok {
		return nil, &domain.ErrNotFound{Resource: "invoice", ID: invoiceID}
	}
	cp := *inv
	return &cp, nil
}

func (m *mockStore) ListInvoices(_ context.Context, merchantID string, f domain.InvoiceFilter) ([]domain.Invoice, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Invoice
	for _, inv := range m.invoices {
		if inv.MerchantID != merchantID {
			continue
		}
		if f.SubscriberID != "" && inv.SubscriberID != f.SubscriberID {
			continue
		}
		if f.Status != "" && inv.Status != f.Status {
			continue
		}
		out = append(out, *inv)
	}
	return out, nil
}

func (m *mockStore) UpdateInvoicePayment(_ context.Context, invoiceID, status, paymentMethod string, paidAt *time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	inv, ok := m.invoices[invoiceID]
	if !ok {
		return &domain.ErrNotFound{Resource: "invoice", ID: invoiceID}
	}
	inv.Status = status
	inv.PaymentMethod = paymentMethod
	inv.PaidAt = paidAt
	return nil
}

func (m *mockStore) UpdateInvoiceStatus(_ context.Context, invoiceID, status string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	inv, ok := m.invoices[invoiceID]
	if !ok {
		return &domain.ErrNotFound{Resource: "invoice", ID: invoiceID}
	}
	inv.Status = status
	return nil
}

func (m *mockStore) InvoiceExists(_ context.Context, subscriberID string, dueDate time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, inv := range m.invoices {
		if inv.SubscriberID == subscriberID && inv.DueDate.Equal(dueDate) {
			return true, nil
		}
	}
	return false, nil
}

func (m *mockStore) ListPaidRecurringWithoutSuccessor(_ context.Context, limit int) ([]domain.Invoice, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Invoice
	for _, inv := range m.invoices {
		if inv.Status != domain.InvoiceStatusPaid || !inv.IsRecurring {
			continue
		}
		hasSuccessor := false
		for _, other := range m.invoices {
			if other.SubscriberID == inv.SubscriberID && other.SequenceNumber == inv.SequenceNumber+1 {
				hasSuccessor = true
				break
			}
		}
		if !hasSuccessor && len(out) < limit {
			out = append(out, *inv)
		}
	}
	return out, nil
}

func (m *mockStore) GetSubscriber(_ context.Context, subscriberID string) (*domain.Subscriber, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.getSubErr != nil {
		return nil, m.getSubErr
	}
	sub, ok := m.subscribers[subscriberID]
	if !ok {
		return nil, &domain.ErrNotFound{Resource: "subscriber", ID: subscriberID}
	}
	cp := *sub
	return &cp, nil
}

func (m *mockStore) ListSubscribers(_ context.Context, merchantID string) ([]domain.Subscriber, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Subscriber
	for _, sub := range m.subscribers {
		if sub.MerchantID == merchantID {
			out = append(out, *sub)
		}
	}
	return out, nil
}

func (m *mockStore) CreateSubscriber(_ context.Context, sub *domain.Subscriber) (*domain.Subscriber, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *sub
	m.subscribers[sub.ID] = &cp
	return sub, nil
}

func (m *mockStore) GetPlan(_ context.Context, planID string) (*domain.Plan, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	plan, ok := m.plans[planID]
	if !ok {
		return nil, &domain.ErrNotFound{Resource: "plan", ID: planID}
	}
	cp := *plan
	return &cp, nil
}

func (m *mockStore) ListPlans(_ context.Context, merchantID string) ([]domain.Plan, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Plan
	for _, plan := range m.plans {
		if plan.MerchantID == merchantID {
			out = append(out, *plan)
		}
	}
	return out, nil
}

func (m *mockStore) CreatePlan(_ context.Context, plan *domain.Plan) (*domain.Plan, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *plan
	m.plans[plan.ID] = &cp
	return plan, nil
}

func (m *mockStore) GetMerchant(_ context.Context, merchantID string) (*domain.Merchant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	merch, ok := m.merchants[merchantID]
	if !ok {
		return nil, &domain.ErrNotFound{Resource: "merchant", ID: merchantID}
	}
	cp := *merch
	return &cp, nil
}

func (m *mockStore) countInvoices(subscriberID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, inv := range m.invoices {
		if inv.SubscriberID == subscriberID {
			n++
		}
	}
	return n
}

// mockGuard is an in-memory IdempotencyGuard.
type mockGuard struct {
	mu       sync.Mutex
	reserved map[string]bool
	err      error
}

func newMockGuard() *mockGuard {
	return &mockGuard{reserved: make(map[string]bool)}
}

func (g *mockGuard) Reserve(_ context.Context, key string, _ time.Duration) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.err != nil {
		return false, g.err
	}
	if g.reserved[key] {
		return false, nil
	}
	g.reserved[key] = true
	return true, nil
}

func newTestService(store *mockStore, guard *mockGuard) *service.BillingService {
	var g port.IdempotencyGuard
	if guard != nil {
		g = guard
	}
	return service.NewBillingService(
		store,
		g,
		cache.New[*domain.Merchant](5*time.Minute),
		service.NewPaymentLinkSigner("test-secret", "http://localhost:8080"),
		observability.NewMetrics(),
		zap.NewNop(),
	)
}

func seedChain(store *mockStore) *domain.Invoice {
	store.merchants["merch-1"] = &domain.Merchant{
		ID:     "merch-1",
		Name:   "José da Silva",
		City:   "São Paulo",
		PixKey: "user@mail.com",
	}
	store.subscribers["sub-1"] = &domain.Subscriber{
		ID:         "sub-1",
		MerchantID: "merch-1",
		Name:       "Maria Souza",
		Active:     true,
	}
	inv := &domain.Invoice{
		ID:             "inv-1",
		SubscriberID:   "sub-1",
		MerchantID:     "merch-1",
		Amount:         150.00,
		DueDate:        time.Date(2024, 1, 31, 0, 0, 0, 0, time.UTC),
		Status:         domain.InvoiceStatusPending,
		IsRecurring:    true,
		SequenceNumber: 3,
		Recurrence: &domain.Recurrence{
			Type:      domain.RecurrenceTypeMonthly,
			StartDate: time.Date(2023, 10, 31, 0, 0, 0, 0, time.UTC),
		},
		CreatedAt: time.Now(),
	}
	store.invoices[inv.ID] = inv
	return inv
}

// --- NextDueDate ---

func TestNextDueDate(t *testing.T) {
	tests := []struct {
		name string
		in   time.Time
		want time.Time
	}{
		{
			name: "jan 31 leap year clamps to feb 29",
			in:   time.Date(2024, 1, 31, 0, 0, 0, 0, time.UTC),
			want: time.Date(2024, 2, 29, 0, 0, 0, 0, time.UTC),
		},
		{
			name: "jan 31 non-leap year clamps to feb 28",
			in:   time.Date(2023, 1, 31, 0, 0, 0, 0, time.UTC),
			want: time.Date(2023, 2, 28, 0, 0, 0, 0, time.UTC),
		},
		{
			name: "mid-month day is preserved",
			in:   time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC),
			want: time.Date(2024, 4, 15, 0, 0, 0, 0, time.UTC),
		},
		{
			name: "mar 31 clamps to apr 30",
			in:   time.Date(2024, 3, 31, 0, 0, 0, 0, time.UTC),
			want: time.Date(2024, 4, 30, 0, 0, 0, 0, time.UTC),
		},
		{
			name: "december rolls into next year",
			in:   time.Date(2024, 12, 15, 0, 0, 0, 0, time.UTC),
			want: time.Date(2025, 1, 15, 0, 0, 0, 0, time.UTC),
		},
		{
			name: "feb 29 advances to mar 29",
			in:   time.Date(2024, 2, 29, 0, 0, 0, 0, time.UTC),
			want: time.Date(2024, 3, 29, 0, 0, 0, 0, time.UTC),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := service.NextDueDate(tt.in)
			if !got.Equal(tt.want) {
				t.Errorf("NextDueDate(%s) = %s, want %s",
					tt.in.Format("2006-01-02"), got.Format("2006-01-02"), tt.want.Format("2006-01-02"))
			}
		})
	}
}

// --- Successor generation ---

func TestMarkPaid_GeneratesSuccessor(t *testing.T) {
	store := newMockStore()
	paid := seedChain(store)
	svc := newTestService(store, nil)

	result, err := svc.MarkPaid(context.Background(), paid.ID, "pix")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	if result.Invoice.Status != domain.InvoiceStatusPaid {
		t.Errorf("expected status paid, got %s", result.Invoice.Status)
	}
	if result.Recurrence == nil {
		t.Fatal("expected recurrence outcome")
	}
	if result.Recurrence.Outcome != service.RecurrenceOutcomeGenerated {
		t.Fatalf("expected outcome generated, got %s (%s)", result.Recurrence.Outcome, result.Recurrence.Reason)
	}

	next := result.Recurrence.Invoice
	wantDue := time.Date(2024, 2, 29, 0, 0, 0, 0, time.UTC)
	if !next.DueDate.Equal(wantDue) {
		t.Errorf("expected next due date 2024-02-29, got %s", next.DueDate.Format("2006-01-02"))
	}
	if next.Amount != 150.00 {
		t.Errorf("expected amount 150.00, got %.2f", next.Amount)
	}
	if next.SequenceNumber != 4 {
		t.Errorf("expected sequence number 4, got %d", next.SequenceNumber)
	}
	if next.Status != domain.InvoiceStatusPending {
		t.Errorf("expected successor pending, got %s", next.Status)
	}
	if !next.IsRecurring {
		t.Error("expected successor to stay recurring")
	}
	if store.countInvoices("sub-1") != 2 {
		t.Errorf("expected exactly 2 invoices, got %d", store.countInvoices("sub-1"))
	}
}

func TestGenerateNextInvoice_SecondCallSkips(t *testing.T) {
	store := newMockStore()
	paid := seedChain(store)
	paid.Status = domain.InvoiceStatusPaid
	svc := newTestService(store, nil)

	first := svc.GenerateNextInvoice(context.Background(), paid)
	if first.Outcome != service.RecurrenceOutcomeGenerated {
		t.Fatalf("expected first call generated, got %s", first.Outcome)
	}

	second := svc.GenerateNextInvoice(context.Background(), paid)
	if second.Outcome != service.RecurrenceOutcomeSkipped {
		t.Fatalf("expected second call skipped, got %s", second.Outcome)
	}
	if store.countInvoices("sub-1") != 2 {
		t.Errorf("expected exactly 2 invoices, got %d", store.countInvoices("sub-1"))
	}
}

func TestGenerateNextInvoice_GuardReservationSkips(t *testing.T) {
	store := newMockStore()
	paid := seedChain(store)
	paid.Status = domain.InvoiceStatusPaid
	guard := newMockGuard()
	svc := newTestService(store, guard)

	first := svc.GenerateNextInvoice(context.Background(), paid)
	if first.Outcome != service.RecurrenceOutcomeGenerated {
		t.Fatalf("expected generated, got %s", first.Outcome)
	}

	// Delete the successor: the reservation alone must still skip.
	store.mu.Lock()
	delete(store.invoices, first.Invoice.ID)
	store.mu.Unlock()

	second := svc.GenerateNextInvoice(context.Background(), paid)
	if second.Outcome != service.RecurrenceOutcomeSkipped {
		t.Fatalf("expected skipped via reservation, got %s", second.Outcome)
	}
}

func TestGenerateNextInvoice_GuardOutageFallsThrough(t *testing.T) {
	store := newMockStore()
	paid := seedChain(store)
	paid.Status = domain.InvoiceStatusPaid
	guard := newMockGuard()
	guard.err = errors.New("connection refused")
	svc := newTestService(store, guard)

	outcome := svc.GenerateNextInvoice(context.Background(), paid)
	if outcome.Outcome != service.RecurrenceOutcomeGenerated {
		t.Fatalf("expected generated despite guard outage, got %s (%s)", outcome.Outcome, outcome.Reason)
	}
}

func TestGenerateNextInvoice_InactiveSubscriberEndsChain(t *testing.T) {
	store := newMockStore()
	paid := seedChain(store)
	paid.Status = domain.InvoiceStatusPaid
	store.subscribers["sub-1"].Active = false
	svc := newTestService(store, nil)

	outcome := svc.GenerateNextInvoice(context.Background(), paid)
	if outcome.Outcome != service.RecurrenceOutcomeInactive {
		t.Fatalf("expected subscriber_inactive, got %s", outcome.Outcome)
	}
	if store.countInvoices("sub-1") != 1 {
		t.Errorf("expected no successor, got %d invoices", store.countInvoices("sub-1"))
	}
}

func TestGenerateNextInvoice_StoreFailureDoesNotFailPayment(t *testing.T) {
	store := newMockStore()
	paid := seedChain(store)
	svc := newTestService(store, nil)

	store.createErr = errors.New("connection reset")

	result, err := svc.MarkPaid(context.Background(), paid.ID, "pix")
	if err != nil {
		t.Fatalf("payment must not fail when successor creation fails, got %v", err)
	}
	if result.Invoice.Status != domain.InvoiceStatusPaid {
		t.Errorf("expected invoice paid, got %s", result.Invoice.Status)
	}
	if result.Recurrence.Outcome != service.RecurrenceOutcomeFailed {
		t.Errorf("expected recurrence failed, got %s", result.Recurrence.Outcome)
	}
}

func TestGenerateNextInvoice_NonRecurringSkips(t *testing.T) {
	store := newMockStore()
	paid := seedChain(store)
	paid.IsRecurring = false
	paid.Status = domain.InvoiceStatusPaid
	svc := newTestService(store, nil)

	outcome := svc.GenerateNextInvoice(context.Background(), paid)
	if outcome.Outcome != service.RecurrenceOutcomeSkipped {
		t.Fatalf("expected skipped, got %s", outcome.Outcome)
	}
}

// --- Healing sweep ---

func TestHealMissingSuccessors(t *testing.T) {
	store := newMockStore()
	paid := seedChain(store)
	paid.Status = domain.InvoiceStatusPaid
	svc := newTestService(store, nil)

	healed, err := svc.HealMissingSuccessors(context.Background())
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if healed != 1 {
		t.Fatalf("expected 1 healed chain, got %d", healed)
	}
	if store.countInvoices("sub-1") != 2 {
		t.Errorf("expected 2 invoices after healing, got %d", store.countInvoices("sub-1"))
	}

	// A second sweep finds nothing: the new chain tip is pending.
	healed, err = svc.HealMissingSuccessors(context.Background())
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if healed != 0 {
		t.Errorf("expected 0 healed chains on second pass, got %d", healed)
	}
}
