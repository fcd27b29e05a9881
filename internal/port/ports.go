// Package port defines the interfaces (ports) for external dependencies.
// Following hexagonal architecture, these ports decouple the domain/service
// layer from concrete implementations.
package port

import (
	"context"
	"time"

	"github.com/cobrafacil/billing-go/internal/domain"
)

// BillingStore defines all data operations of the billing core.
// Implemented by the Postgres adapter and the Supabase PostgREST adapter.
type BillingStore interface {
	// Invoices. CreateInvoice must enforce the unique
	// (subscriber_id, due_date) constraint and report a violation as
	// *domain.ErrDuplicate — the insert, not the existence check, is
	// the source of truth for recurrence idempotency.
	CreateInvoice(ctx context.Context, inv *domain.Invoice) (*domain.Invoice, error)
	GetInvoice(ctx context.Context, invoiceID string) (*domain.Invoice, error)
	ListInvoices(ctx context.Context, merchantID string, f domain.InvoiceFilter) ([]domain.Invoice, error)
	UpdateInvoicePayment(ctx context.Context, invoiceID, status, paymentMethod string, paidAt *time.Time) error
	UpdateInvoiceStatus(ctx context.Context, invoiceID, status string) error
	InvoiceExists(ctx context.Context, subscriberID string, dueDate time.Time) (bool, error)

	// ListPaidRecurringWithoutSuccessor feeds the self-healing sweep:
	// paid recurring invoices whose next occurrence never got created.
	ListPaidRecurringWithoutSuccessor(ctx context.Context, limit int) ([]domain.Invoice, error)

	// Subscribers
	GetSubscriber(ctx context.Context, subscriberID string) (*domain.Subscriber, error)
	ListSubscribers(ctx context.Context, merchantID string) ([]domain.Subscriber, error)
	CreateSubscriber(ctx context.Context, sub *domain.Subscriber) (*domain.Subscriber, error)

	// Plans
	GetPlan(ctx context.Context, planID string) (*domain.Plan, error)
	ListPlans(ctx context.Context, merchantID string) ([]domain.Plan, error)
	CreatePlan(ctx context.Context, plan *domain.Plan) (*domain.Plan, error)

	// Merchant billing profile
	GetMerchant(ctx context.Context, merchantID string) (*domain.Merchant, error)
}

// Cache provides generic caching with TTL.
type Cache[T any] interface {
	Get(key string) (T, bool)
	Set(key string, value T)
	Delete(key string)
}

// IdempotencyGuard is a fast-path reservation against duplicate
// side effects. Reserve returns false when the key was already taken
// within the TTL window. It is an optimization only — the storage
// layer's unique constraint remains the source of truth.
type IdempotencyGuard interface {
	Reserve(ctx context.Context, key string, ttl time.Duration) (bool, error)
}
