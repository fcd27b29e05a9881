package domain

import "time"

// ============================================================
// Invoices (Mensalidades)
// ============================================================

// Invoice statuses as persisted. The displayed status is derived —
// see ComputeStatus.
const (
	InvoiceStatusPending  = "pending"
	InvoiceStatusPaid     = "paid"
	InvoiceStatusCanceled = "canceled"
)

// Computed (display) statuses. Never stored: "overdue" depends on the
// clock, so it must be recomputed on every read.
const (
	ComputedStatusPaid    = "paid"
	ComputedStatusOverdue = "overdue"
	ComputedStatusOpen    = "open"
)

// RecurrenceTypeMonthly is the only recurrence interval supported.
const RecurrenceTypeMonthly = "monthly"

// Recurrence holds the recurrence metadata carried by every invoice
// in a chain.
type Recurrence struct {
	Type      string    `json:"type"` // monthly
	StartDate time.Time `json:"start_date"`
}

// Invoice is a single mensalidade in a subscriber's billing chain.
type Invoice struct {
	ID             string      `json:"id"`
	SubscriberID   string      `json:"subscriber_id"`
	MerchantID     string      `json:"merchant_id"`
	Amount         float64     `json:"amount"`
	DueDate        time.Time   `json:"due_date"`
	Status         string      `json:"status"` // pending, paid, canceled
	IsRecurring    bool        `json:"is_recurring"`
	SequenceNumber int         `json:"sequence_number"`
	Recurrence     *Recurrence `json:"recurrence,omitempty"`
	PaymentMethod  string      `json:"payment_method,omitempty"`
	PaidAt         *time.Time  `json:"paid_at,omitempty"`
	CreatedAt      time.Time   `json:"created_at"`
}

// ComputeStatus classifies an invoice for display: paid wins regardless
// of dates, a pending invoice past its due date is overdue, anything
// else is open. Comparison is by calendar date, so time-of-day and the
// location carried by either value are ignored; a due date stored as
// UTC midnight matches a server clock in any zone on the same day.
func ComputeStatus(status string, dueDate, today time.Time) string {
	if status == InvoiceStatusPaid {
		return ComputedStatusPaid
	}
	if status == InvoiceStatusPending && dateBefore(dueDate, today) {
		return ComputedStatusOverdue
	}
	return ComputedStatusOpen
}

// ComputedStatus classifies the invoice against the given clock.
func (i *Invoice) ComputedStatus(today time.Time) string {
	return ComputeStatus(i.Status, i.DueDate, today)
}

// dateBefore reports whether a's calendar date precedes b's, each read
// in its own location.
func dateBefore(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	if ay != by {
		return ay < by
	}
	if am != bm {
		return am < bm
	}
	return ad < bd
}

// InvoiceFilter narrows invoice listings.
type InvoiceFilter struct {
	SubscriberID string
	Status       string // persisted status, not computed
	Page         int
	PageSize     int
}

// ============================================================
// Payment Links
// ============================================================

// PaymentLinkTTL is the hard validity window of a payment link,
// measured from creation.
const PaymentLinkTTL = 24 * time.Hour

// PaymentLink is a token-addressed entry point for paying one invoice.
type PaymentLink struct {
	Token     string    `json:"token"`
	InvoiceID string    `json:"invoice_id"`
	Amount    float64   `json:"amount"`
	DueDate   time.Time `json:"due_date"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// PaymentLinkExpired reports whether a link created at createdAt is past
// its validity window at the instant now.
func PaymentLinkExpired(createdAt, now time.Time) bool {
	return now.Sub(createdAt) > PaymentLinkTTL
}

// IsExpired reports whether the link is past its validity window.
func (l *PaymentLink) IsExpired(now time.Time) bool {
	return PaymentLinkExpired(l.CreatedAt, now)
}
