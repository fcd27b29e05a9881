package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cobrafacil/billing-go/internal/domain"

	"github.com/jackc/pgx/v5/pgconn"
)

// pgUniqueViolation is the SQLSTATE for a unique constraint violation.
const pgUniqueViolation = "23505"

// BillingStore implements port.BillingStore on PostgreSQL.
type BillingStore struct {
	db *sql.DB
}

// NewBillingStore wraps an open connection pool.
func NewBillingStore(db *sql.DB) *BillingStore {
	return &BillingStore{db: db}
}

// Ping reports store health for the readiness probe.
func (s *BillingStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// ============================================================
// Invoices
// ============================================================

const invoiceColumns = `id, subscriber_id, merchant_id, amount, due_date, status,
	is_recurring, sequence_number, recurrence, payment_method, paid_at, created_at`

func (s *BillingStore) CreateInvoice(ctx context.Context, inv *domain.Invoice) (*domain.Invoice, error) {
	var recurrence []byte
	if inv.Recurrence != nil {
		var err error
		recurrence, err = json.Marshal(inv.Recurrence)
		if err != nil {
			return nil, fmt.Errorf("marshaling recurrence: %w", err)
		}
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO invoices
			(id, subscriber_id, merchant_id, amount, due_date, status,
			 is_recurring, sequence_number, recurrence, payment_method, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		inv.ID, inv.SubscriberID, inv.MerchantID, inv.Amount, inv.DueDate, inv.Status,
		inv.IsRecurring, inv.SequenceNumber, recurrence, nullString(inv.PaymentMethod), inv.CreatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return nil, &domain.ErrDuplicate{
				Key: fmt.Sprintf("invoice %s/%s", inv.SubscriberID, inv.DueDate.Format("2006-01-02")),
			}
		}
		return nil, fmt.Errorf("inserting invoice: %w", err)
	}
	return inv, nil
}

func (s *BillingStore) GetInvoice(ctx context.Context, invoiceID string) (*domain.Invoice, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+invoiceColumns+` FROM invoices WHERE id = $1`, invoiceID)

	inv, err := scanInvoice(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &domain.ErrNotFound{Resource: "invoice", ID: invoiceID}
	}
	if err != nil {
		return nil, fmt.Errorf("querying invoice: %w", err)
	}
	return inv, nil
}

func (s *BillingStore) ListInvoices(ctx context.Context, merchantID string, f domain.InvoiceFilter) ([]domain.Invoice, error) {
	query := `SELECT ` + invoiceColumns + ` FROM invoices WHERE merchant_id = $1`
	args := []any{merchantID}

	if f.SubscriberID != "" {
		args = append(args, f.SubscriberID)
		query += fmt.Sprintf(" AND subscriber_id = $%d", len(args))
	}
	if f.Status != "" {
		args = append(args, f.Status)
		query += fmt.Sprintf(" AND status = $%d", len(args))
	}
	query += " ORDER BY due_date DESC, created_at DESC"

	if f.PageSize > 0 {
		args = append(args, f.PageSize)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
		if f.Page > 1 {
			args = append(args, (f.Page-1)*f.PageSize)
			query += fmt.Sprintf(" OFFSET $%d", len(args))
		}
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying invoices: %w", err)
	}
	defer rows.Close()

	return collectInvoices(rows)
}

func (s *BillingStore) UpdateInvoicePayment(ctx context.Context, invoiceID, status, paymentMethod string, paidAt *time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE invoices SET status = $2, payment_method = $3, paid_at = $4
		WHERE id = $1`,
		invoiceID, status, nullString(paymentMethod), paidAt,
	)
	if err != nil {
		return fmt.Errorf("updating invoice payment: %w", err)
	}
	return requireRow(res, "invoice", invoiceID)
}

func (s *BillingStore) UpdateInvoiceStatus(ctx context.Context, invoiceID, status string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE invoices SET status = $2 WHERE id = $1`, invoiceID, status)
	if err != nil {
		return fmt.Errorf("updating invoice status: %w", err)
	}
	return requireRow(res, "invoice", invoiceID)
}

func (s *BillingStore) InvoiceExists(ctx context.Context, subscriberID string, dueDate time.Time) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM invoices WHERE subscriber_id = $1 AND due_date = $2
		)`, subscriberID, dueDate).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("probing invoice existence: %w", err)
	}
	return exists, nil
}

// ListPaidRecurringWithoutSuccessor matches chains by sequence number:
// a paid recurring invoice is broken when no invoice of the same
// subscriber carries the next sequence number.
func (s *BillingStore) ListPaidRecurringWithoutSuccessor(ctx context.Context, limit int) ([]domain.Invoice, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+invoiceColumns+`
		FROM invoices i
		WHERE i.status = 'paid'
		  AND i.is_recurring = TRUE
		  AND NOT EXISTS (
			SELECT 1 FROM invoices n
			WHERE n.subscriber_id = i.subscriber_id
			  AND n.sequence_number = i.sequence_number + 1
		  )
		ORDER BY i.paid_at ASC
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("querying broken chains: %w", err)
	}
	defer rows.Close()

	return collectInvoices(rows)
}

// ============================================================
// Subscribers
// ============================================================

func (s *BillingStore) GetSubscriber(ctx context.Context, subscriberID string) (*domain.Subscriber, error) {
	var sub domain.Subscriber
	var phone, planID sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT id, merchant_id, name, email, phone, plan_id, active, created_at
		FROM subscribers WHERE id = $1`, subscriberID).
		Scan(&sub.ID, &sub.MerchantID, &sub.Name, &sub.Email, &phone, &planID, &sub.Active, &sub.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &domain.ErrNotFound{Resource: "subscriber", ID: subscriberID}
	}
	if err != nil {
		return nil, fmt.Errorf("querying subscriber: %w", err)
	}
	sub.Phone = phone.String
	sub.PlanID = planID.String
	return &sub, nil
}

func (s *BillingStore) ListSubscribers(ctx context.Context, merchantID string) ([]domain.Subscriber, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, merchant_id, name, email, phone, plan_id, active, created_at
		FROM subscribers WHERE merchant_id = $1 ORDER BY name ASC`, merchantID)
	if err != nil {
		return nil, fmt.Errorf("querying subscribers: %w", err)
	}
	defer rows.Close()

	var subs []domain.Subscriber
	for rows.Next() {
		var sub domain.Subscriber
		var phone, planID sql.NullString
		if err := rows.Scan(&sub.ID, &sub.MerchantID, &sub.Name, &sub.Email, &phone, &planID, &sub.Active, &sub.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning subscriber: %w", err)
		}
		sub.Phone = phone.String
		sub.PlanID = planID.String
		subs = append(subs, sub)
	}
	return subs, rows.Err()
}

func (s *BillingStore) CreateSubscriber(ctx context.Context, sub *domain.Subscriber) (*domain.Subscriber, error) {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO subscribers (id, merchant_id, name, email, phone, plan_id, active, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		sub.ID, sub.MerchantID, sub.Name, sub.Email, nullString(sub.Phone), nullString(sub.PlanID), sub.Active, sub.CreatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return nil, &domain.ErrDuplicate{Key: fmt.Sprintf("subscriber %s", sub.Email)}
		}
		return nil, fmt.Errorf("inserting subscriber: %w", err)
	}
	return sub, nil
}

// ============================================================
// Plans
// ============================================================

func (s *BillingStore) GetPlan(ctx context.Context, planID string) (*domain.Plan, error) {
	var plan domain.Plan
	err := s.db.QueryRowContext(ctx, `
		SELECT id, merchant_id, name, amount, interval_months, created_at
		FROM plans WHERE id = $1`, planID).
		Scan(&plan.ID, &plan.MerchantID, &plan.Name, &plan.Amount, &plan.IntervalMonths, &plan.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &domain.ErrNotFound{Resource: "plan", ID: planID}
	}
	if err != nil {
		return nil, fmt.Errorf("querying plan: %w", err)
	}
	return &plan, nil
}

func (s *BillingStore) ListPlans(ctx context.Context, merchantID string) ([]domain.Plan, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, merchant_id, name, amount, interval_months, created_at
		FROM plans WHERE merchant_id = $1 ORDER BY amount ASC`, merchantID)
	if err != nil {
		return nil, fmt.Errorf("querying plans: %w", err)
	}
	defer rows.Close()

	var plans []domain.Plan
	for rows.Next() {
		var plan domain.Plan
		if err := rows.Scan(&plan.ID, &plan.MerchantID, &plan.Name, &plan.Amount, &plan.IntervalMonths, &plan.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning plan: %w", err)
		}
		plans = append(plans, plan)
	}
	return plans, rows.Err()
}

func (s *BillingStore) CreatePlan(ctx context.Context, plan *domain.Plan) (*domain.Plan, error) {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO plans (id, merchant_id, name, amount, interval_months, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		plan.ID, plan.MerchantID, plan.Name, plan.Amount, plan.IntervalMonths, plan.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("inserting plan: %w", err)
	}
	return plan, nil
}

// ============================================================
// Merchants
// ============================================================

func (s *BillingStore) GetMerchant(ctx context.Context, merchantID string) (*domain.Merchant, error) {
	var m domain.Merchant
	var keyType sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, city, pix_key, pix_key_type
		FROM merchants WHERE id = $1`, merchantID).
		Scan(&m.ID, &m.Name, &m.City, &m.PixKey, &keyType)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &domain.ErrNotFound{Resource: "merchant", ID: merchantID}
	}
	if err != nil {
		return nil, fmt.Errorf("querying merchant: %w", err)
	}
	m.PixKeyType = keyType.String
	return &m, nil
}

// ============================================================
// Helpers
// ============================================================

type rowScanner interface {
	Scan(dest ...any) error
}

func scanInvoice(row rowScanner) (*domain.Invoice, error) {
	var inv domain.Invoice
	var recurrence []byte
	var paymentMethod sql.NullString
	var paidAt sql.NullTime

	err := row.Scan(
		&inv.ID, &inv.SubscriberID, &inv.MerchantID, &inv.Amount, &inv.DueDate, &inv.Status,
		&inv.IsRecurring, &inv.SequenceNumber, &recurrence, &paymentMethod, &paidAt, &inv.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	inv.PaymentMethod = paymentMethod.String
	if paidAt.Valid {
		t := paidAt.Time
		inv.PaidAt = &t
	}
	if len(recurrence) > 0 && !strings.EqualFold(string(recurrence), "null") {
		var rec domain.Recurrence
		if err := json.Unmarshal(recurrence, &rec); err != nil {
			return nil, fmt.Errorf("unmarshaling recurrence: %w", err)
		}
		inv.Recurrence = &rec
	}
	return &inv, nil
}

func collectInvoices(rows *sql.Rows) ([]domain.Invoice, error) {
	var invoices []domain.Invoice
	for rows.Next() {
		inv, err := scanInvoice(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning invoice: %w", err)
		}
		invoices = append(invoices, *inv)
	}
	return invoices, rows.Err()
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func requireRow(res sql.Result, resource, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return &domain.ErrNotFound{Resource: resource, ID: id}
	}
	return nil
}
