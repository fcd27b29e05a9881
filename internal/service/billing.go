// Package service provides the business logic layer (use cases).
// BillingService handles the mensalidade lifecycle: invoice creation,
// payment transitions, recurrence generation, PIX code generation and
// payment links.
package service

import (
	"context"
	"fmt"
	"time"

	"github.com/cobrafacil/billing-go/internal/domain"
	"github.com/cobrafacil/billing-go/internal/infra/observability"
	"github.com/cobrafacil/billing-go/internal/port"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

var billingTracer = otel.Tracer("service/billing")

// BillingService orchestrates all billing operations via the store.
type BillingService struct {
	store     port.BillingStore
	guard     port.IdempotencyGuard // optional, may be nil
	cache     port.Cache[*domain.Merchant]
	metrics   *observability.Metrics
	logger    *zap.Logger
	linkToken *PaymentLinkSigner
	now       func() time.Time
}

// NewBillingService creates a new billing service. guard may be nil when
// no Redis fast path is configured.
func NewBillingService(
	store port.BillingStore,
	guard port.IdempotencyGuard,
	cache port.Cache[*domain.Merchant],
	linkToken *PaymentLinkSigner,
	metrics *observability.Metrics,
	logger *zap.Logger,
) *BillingService {
	return &BillingService{
		store:     store,
		guard:     guard,
		cache:     cache,
		metrics:   metrics,
		logger:    logger,
		linkToken: linkToken,
		now:       time.Now,
	}
}

// ============================================================
// Invoices
// ============================================================

// CreateInvoiceRequest is the payload to create an invoice manually
// (the first of a chain, or a one-off charge).
type CreateInvoiceRequest struct {
	SubscriberID  string  `json:"subscriber_id"`
	PlanID        string  `json:"plan_id,omitempty"`
	Amount        float64 `json:"amount"`
	DueDate       string  `json:"due_date"` // YYYY-MM-DD
	IsRecurring   bool    `json:"is_recurring"`
	PaymentMethod string  `json:"payment_method,omitempty"`
}

// CreateInvoice validates and persists a new invoice. When PlanID is
// set and Amount is zero, the plan's amount is used.
func (s *BillingService) CreateInvoice(ctx context.Context, merchantID string, req *CreateInvoiceRequest) (*domain.Invoice, error) {
	ctx, span := billingTracer.Start(ctx, "BillingService.CreateInvoice")
	defer span.End()
	span.SetAttributes(attribute.String("merchant.id", merchantID))

	if req.SubscriberID == "" {
		return nil, &domain.ErrValidation{Field: "subscriber_id", Message: "required"}
	}
	dueDate, err := time.Parse("2006-01-02", req.DueDate)
	if err != nil {
		return nil, &domain.ErrValidation{Field: "due_date", Message: "invalid format, use YYYY-MM-DD"}
	}

	sub, err := s.store.GetSubscriber(ctx, req.SubscriberID)
	if err != nil {
		return nil, err
	}
	if sub.MerchantID != merchantID {
		return nil, &domain.ErrNotFound{Resource: "subscriber", ID: req.SubscriberID}
	}

	amount := req.Amount
	if amount == 0 && req.PlanID != "" {
		plan, err := s.store.GetPlan(ctx, req.PlanID)
		if err != nil {
			return nil, err
		}
		amount = plan.Amount
	}
	if amount <= 0 {
		return nil, &domain.ErrValidation{Field: "amount", Message: "must be positive"}
	}

	inv := &domain.Invoice{
		ID:             uuid.New().String(),
		SubscriberID:   req.SubscriberID,
		MerchantID:     merchantID,
		Amount:         amount,
		DueDate:        dueDate,
		Status:         domain.InvoiceStatusPending,
		IsRecurring:    req.IsRecurring,
		SequenceNumber: 1,
		PaymentMethod:  req.PaymentMethod,
		CreatedAt:      s.now(),
	}
	if req.IsRecurring {
		inv.Recurrence = &domain.Recurrence{Type: domain.RecurrenceTypeMonthly, StartDate: dueDate}
	}

	created, err := s.store.CreateInvoice(ctx, inv)
	if err != nil {
		s.logger.Error("failed to create invoice",
			zap.String("subscriber_id", req.SubscriberID),
			zap.Error(err),
		)
		return nil, err
	}
	s.metrics.IncrInvoiceCreated("manual")

	s.logger.Info("invoice created",
		zap.String("invoice_id", created.ID),
		zap.String("subscriber_id", created.SubscriberID),
		zap.Float64("amount", created.Amount),
		zap.String("due_date", created.DueDate.Format("2006-01-02")),
	)
	return created, nil
}

// GetInvoice returns one invoice.
func (s *BillingService) GetInvoice(ctx context.Context, invoiceID string) (*domain.Invoice, error) {
	ctx, span := billingTracer.Start(ctx, "BillingService.GetInvoice")
	defer span.End()

	return s.store.GetInvoice(ctx, invoiceID)
}

// InvoiceView is an invoice plus its display status, which depends on
// the clock and therefore is computed per read, never stored.
type InvoiceView struct {
	domain.Invoice
	ComputedStatus string `json:"computed_status"`
}

// View wraps an invoice with its status computed at the service clock.
// Callers outside the service must go through here so that every read
// path classifies against the same injected clock.
func (s *BillingService) View(inv *domain.Invoice) InvoiceView {
	return InvoiceView{Invoice: *inv, ComputedStatus: inv.ComputedStatus(s.now())}
}

// ListInvoices returns a merchant's invoices with their computed status.
func (s *BillingService) ListInvoices(ctx context.Context, merchantID string, f domain.InvoiceFilter) ([]InvoiceView, error) {
	ctx, span := billingTracer.Start(ctx, "BillingService.ListInvoices")
	defer span.End()
	span.SetAttributes(attribute.String("merchant.id", merchantID))

	invoices, err := s.store.ListInvoices(ctx, merchantID, f)
	if err != nil {
		return nil, err
	}

	today := s.now()
	views := make([]InvoiceView, 0, len(invoices))
	for _, inv := range invoices {
		views = append(views, InvoiceView{
			Invoice:        inv,
			ComputedStatus: inv.ComputedStatus(today),
		})
	}
	return views, nil
}

// ============================================================
// Payment transitions
// ============================================================

// PayResult reports a payment transition plus the recurrence outcome.
// A failed successor generation never reverts the payment itself.
type PayResult struct {
	Invoice    *InvoiceView       `json:"invoice"`
	Recurrence *RecurrenceOutcome `json:"recurrence,omitempty"`
}

// MarkPaid transitions a pending invoice to paid and, for active
// recurring chains, spawns the next occurrence.
func (s *BillingService) MarkPaid(ctx context.Context, invoiceID, paymentMethod string) (*PayResult, error) {
	ctx, span := billingTracer.Start(ctx, "BillingService.MarkPaid")
	defer span.End()
	span.SetAttributes(attribute.String("invoice.id", invoiceID))

	start := s.now()
	defer func() { s.metrics.RecordRequestDuration("mark_paid", time.Since(start)) }()

	inv, err := s.store.GetInvoice(ctx, invoiceID)
	if err != nil {
		return nil, err
	}
	switch inv.Status {
	case domain.InvoiceStatusPaid:
		return nil, &domain.ErrConflict{Message: "invoice is already paid"}
	case domain.InvoiceStatusCanceled:
		return nil, &domain.ErrConflict{Message: "cannot pay a canceled invoice"}
	}

	paidAt := s.now()
	if err := s.store.UpdateInvoicePayment(ctx, invoiceID, domain.InvoiceStatusPaid, paymentMethod, &paidAt); err != nil {
		s.logger.Error("failed to mark invoice paid",
			zap.String("invoice_id", invoiceID),
			zap.Error(err),
		)
		return nil, err
	}

	inv.Status = domain.InvoiceStatusPaid
	inv.PaidAt = &paidAt
	inv.PaymentMethod = paymentMethod

	s.logger.Info("invoice paid",
		zap.String("invoice_id", invoiceID),
		zap.String("subscriber_id", inv.SubscriberID),
		zap.Float64("amount", inv.Amount),
		zap.String("payment_method", paymentMethod),
	)

	result := &PayResult{
		Invoice: &InvoiceView{Invoice: *inv, ComputedStatus: domain.ComputedStatusPaid},
	}

	// The payment is already settled; whatever happens to the successor
	// is a warning, never an error on this call.
	if inv.IsRecurring {
		outcome := s.GenerateNextInvoice(ctx, inv)
		result.Recurrence = &outcome
	}

	return result, nil
}

// MarkUnpaid reverts a paid invoice to pending, clearing payment data.
func (s *BillingService) MarkUnpaid(ctx context.Context, invoiceID string) (*InvoiceView, error) {
	ctx, span := billingTracer.Start(ctx, "BillingService.MarkUnpaid")
	defer span.End()
	span.SetAttributes(attribute.String("invoice.id", invoiceID))

	inv, err := s.store.GetInvoice(ctx, invoiceID)
	if err != nil {
		return nil, err
	}
	if inv.Status != domain.InvoiceStatusPaid {
		return nil, &domain.ErrConflict{Message: fmt.Sprintf("cannot unpay invoice with status '%s'", inv.Status)}
	}

	if err := s.store.UpdateInvoicePayment(ctx, invoiceID, domain.InvoiceStatusPending, "", nil); err != nil {
		s.logger.Error("failed to unpay invoice",
			zap.String("invoice_id", invoiceID),
			zap.Error(err),
		)
		return nil, err
	}

	inv.Status = domain.InvoiceStatusPending
	inv.PaidAt = nil
	inv.PaymentMethod = ""

	s.logger.Info("invoice payment reverted", zap.String("invoice_id", invoiceID))

	return &InvoiceView{Invoice: *inv, ComputedStatus: inv.ComputedStatus(s.now())}, nil
}

// CancelInvoice cancels a pending invoice.
func (s *BillingService) CancelInvoice(ctx context.Context, invoiceID string) error {
	ctx, span := billingTracer.Start(ctx, "BillingService.CancelInvoice")
	defer span.End()

	inv, err := s.store.GetInvoice(ctx, invoiceID)
	if err != nil {
		return err
	}
	if inv.Status != domain.InvoiceStatusPending {
		return &domain.ErrConflict{Message: fmt.Sprintf("cannot cancel invoice with status '%s'", inv.Status)}
	}

	return s.store.UpdateInvoiceStatus(ctx, invoiceID, domain.InvoiceStatusCanceled)
}

// ============================================================
// Subscribers & Plans
// ============================================================

func (s *BillingService) ListSubscribers(ctx context.Context, merchantID string) ([]domain.Subscriber, error) {
	ctx, span := billingTracer.Start(ctx, "BillingService.ListSubscribers")
	defer span.End()

	return s.store.ListSubscribers(ctx, merchantID)
}

func (s *BillingService) CreateSubscriber(ctx context.Context, merchantID string, sub *domain.Subscriber) (*domain.Subscriber, error) {
	ctx, span := billingTracer.Start(ctx, "BillingService.CreateSubscriber")
	defer span.End()

	if sub.Name == "" {
		return nil, &domain.ErrValidation{Field: "name", Message: "required"}
	}
	sub.ID = uuid.New().String()
	sub.MerchantID = merchantID
	sub.Active = true
	sub.CreatedAt = s.now()

	return s.store.CreateSubscriber(ctx, sub)
}

func (s *BillingService) ListPlans(ctx context.Context, merchantID string) ([]domain.Plan, error) {
	ctx, span := billingTracer.Start(ctx, "BillingService.ListPlans")
	defer span.End()

	return s.store.ListPlans(ctx, merchantID)
}

func (s *BillingService) CreatePlan(ctx context.Context, merchantID string, plan *domain.Plan) (*domain.Plan, error) {
	ctx, span := billingTracer.Start(ctx, "BillingService.CreatePlan")
	defer span.End()

	if plan.Name == "" {
		return nil, &domain.ErrValidation{Field: "name", Message: "required"}
	}
	if plan.Amount <= 0 {
		return nil, &domain.ErrValidation{Field: "amount", Message: "must be positive"}
	}
	if plan.IntervalMonths <= 0 {
		plan.IntervalMonths = 1
	}
	plan.ID = uuid.New().String()
	plan.MerchantID = merchantID
	plan.CreatedAt = s.now()

	return s.store.CreatePlan(ctx, plan)
}

// merchantProfile loads the merchant billing profile through the cache.
func (s *BillingService) merchantProfile(ctx context.Context, merchantID string) (*domain.Merchant, error) {
	cacheKey := fmt.Sprintf("merchant:%s", merchantID)
	if cached, ok := s.cache.Get(cacheKey); ok {
		s.metrics.IncrCacheHit("merchant")
		return cached, nil
	}
	s.metrics.IncrCacheMiss("merchant")

	m, err := s.store.GetMerchant(ctx, merchantID)
	if err != nil {
		return nil, err
	}
	s.cache.Set(cacheKey, m)
	return m, nil
}
