package supabase

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/cobrafacil/billing-go/internal/domain"

	"go.opentelemetry.io/otel/attribute"
)

// ============================================================
// Invoices — CRUD via PostgREST
// ============================================================

// invoiceRow maps the invoices table columns.
type invoiceRow struct {
	ID             string             `json:"id"`
	SubscriberID   string             `json:"subscriber_id"`
	MerchantID     string             `json:"merchant_id"`
	Amount         float64            `json:"amount"`
	DueDate        string             `json:"due_date"`
	Status         string             `json:"status"`
	IsRecurring    bool               `json:"is_recurring"`
	SequenceNumber int                `json:"sequence_number"`
	Recurrence     *domain.Recurrence `json:"recurrence,omitempty"`
	PaymentMethod  string             `json:"payment_method,omitempty"`
	PaidAt         *time.Time         `json:"paid_at,omitempty"`
	CreatedAt      time.Time          `json:"created_at"`
}

func (r invoiceRow) toDomain() (domain.Invoice, error) {
	due, err := time.Parse("2006-01-02", r.DueDate)
	if err != nil {
		return domain.Invoice{}, fmt.Errorf("parsing due_date %q: %w", r.DueDate, err)
	}
	return domain.Invoice{
		ID:             r.ID,
		SubscriberID:   r.SubscriberID,
		MerchantID:     r.MerchantID,
		Amount:         r.Amount,
		DueDate:        due,
		Status:         r.Status,
		IsRecurring:    r.IsRecurring,
		SequenceNumber: r.SequenceNumber,
		Recurrence:     r.Recurrence,
		PaymentMethod:  r.PaymentMethod,
		PaidAt:         r.PaidAt,
		CreatedAt:      r.CreatedAt,
	}, nil
}

func (c *Client) CreateInvoice(ctx context.Context, inv *domain.Invoice) (*domain.Invoice, error) {
	ctx, span := tracer.Start(ctx, "Supabase.CreateInvoice")
	defer span.End()
	span.SetAttributes(attribute.String("subscriber.id", inv.SubscriberID))

	row := map[string]any{
		"id":              inv.ID,
		"subscriber_id":   inv.SubscriberID,
		"merchant_id":     inv.MerchantID,
		"amount":          inv.Amount,
		"due_date":        inv.DueDate.Format("2006-01-02"),
		"status":          inv.Status,
		"is_recurring":    inv.IsRecurring,
		"sequence_number": inv.SequenceNumber,
		"created_at":      inv.CreatedAt.Format(time.RFC3339),
	}
	if inv.Recurrence != nil {
		row["recurrence"] = inv.Recurrence
	}
	if inv.PaymentMethod != "" {
		row["payment_method"] = inv.PaymentMethod
	}

	err := c.execute(ctx, func() error {
		_, err := c.doPost(ctx, "invoices", row)
		if isDuplicate(err) {
			return &domain.ErrDuplicate{
				Key: fmt.Sprintf("invoice %s/%s", inv.SubscriberID, inv.DueDate.Format("2006-01-02")),
			}
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	return inv, nil
}

func (c *Client) GetInvoice(ctx context.Context, invoiceID string) (*domain.Invoice, error) {
	ctx, span := tracer.Start(ctx, "Supabase.GetInvoice")
	defer span.End()
	span.SetAttributes(attribute.String("invoice.id", invoiceID))

	var inv *domain.Invoice
	err := c.execute(ctx, func() error {
		path := fmt.Sprintf("invoices?id=eq.%s&limit=1", url.QueryEscape(invoiceID))
		rows, err := c.fetchInvoices(ctx, path)
		if err != nil {
			return err
		}
		if len(rows) == 0 {
			return &domain.ErrNotFound{Resource: "invoice", ID: invoiceID}
		}
		inv = &rows[0]
		return nil
	})
	if err != nil {
		return nil, err
	}
	return inv, nil
}

func (c *Client) ListInvoices(ctx context.Context, merchantID string, f domain.InvoiceFilter) ([]domain.Invoice, error) {
	ctx, span := tracer.Start(ctx, "Supabase.ListInvoices")
	defer span.End()
	span.SetAttributes(attribute.String("merchant.id", merchantID))

	path := fmt.Sprintf("invoices?merchant_id=eq.%s&order=due_date.desc", url.QueryEscape(merchantID))
	if f.SubscriberID != "" {
		path += "&subscriber_id=eq." + url.QueryEscape(f.SubscriberID)
	}
	if f.Status != "" {
		path += "&status=eq." + url.QueryEscape(f.Status)
	}
	if f.PageSize > 0 {
		offset := 0
		if f.Page > 1 {
			offset = (f.Page - 1) * f.PageSize
		}
		path += fmt.Sprintf("&limit=%d&offset=%d", f.PageSize, offset)
	}

	var invoices []domain.Invoice
	err := c.execute(ctx, func() error {
		rows, err := c.fetchInvoices(ctx, path)
		if err != nil {
			return err
		}
		invoices = rows
		return nil
	})
	return invoices, err
}

func (c *Client) UpdateInvoicePayment(ctx context.Context, invoiceID, status, paymentMethod string, paidAt *time.Time) error {
	ctx, span := tracer.Start(ctx, "Supabase.UpdateInvoicePayment")
	defer span.End()
	span.SetAttributes(attribute.String("invoice.id", invoiceID))

	data := map[string]any{
		"status":         status,
		"payment_method": paymentMethod,
		"paid_at":        nil,
	}
	if paymentMethod == "" {
		data["payment_method"] = nil
	}
	if paidAt != nil {
		data["paid_at"] = paidAt.Format(time.RFC3339)
	}

	return c.execute(ctx, func() error {
		path := fmt.Sprintf("invoices?id=eq.%s", url.QueryEscape(invoiceID))
		return c.doPatch(ctx, path, data)
	})
}

func (c *Client) UpdateInvoiceStatus(ctx context.Context, invoiceID, status string) error {
	ctx, span := tracer.Start(ctx, "Supabase.UpdateInvoiceStatus")
	defer span.End()

	return c.execute(ctx, func() error {
		path := fmt.Sprintf("invoices?id=eq.%s", url.QueryEscape(invoiceID))
		return c.doPatch(ctx, path, map[string]any{"status": status})
	})
}

func (c *Client) InvoiceExists(ctx context.Context, subscriberID string, dueDate time.Time) (bool, error) {
	ctx, span := tracer.Start(ctx, "Supabase.InvoiceExists")
	defer span.End()

	var exists bool
	err := c.execute(ctx, func() error {
		path := fmt.Sprintf("invoices?subscriber_id=eq.%s&due_date=eq.%s&select=id&limit=1",
			url.QueryEscape(subscriberID), dueDate.Format("2006-01-02"))
		body, err := c.doRequest(ctx, http.MethodGet, path)
		if err != nil {
			return err
		}
		exists = body != nil && string(body) != "[]"
		return nil
	})
	return exists, err
}

// ListPaidRecurringWithoutSuccessor calls a database function: PostgREST
// cannot express the anti-join over sequence numbers directly, so the
// filtering lives in a broken_recurrence_chains() SQL function exposed
// via RPC.
func (c *Client) ListPaidRecurringWithoutSuccessor(ctx context.Context, limit int) ([]domain.Invoice, error) {
	ctx, span := tracer.Start(ctx, "Supabase.ListPaidRecurringWithoutSuccessor")
	defer span.End()

	var invoices []domain.Invoice
	err := c.execute(ctx, func() error {
		rows, err := c.fetchInvoices(ctx, fmt.Sprintf("rpc/broken_recurrence_chains?max_rows=%d", limit))
		if err != nil {
			return err
		}
		invoices = rows
		return nil
	})
	return invoices, err
}

func (c *Client) fetchInvoices(ctx context.Context, path string) ([]domain.Invoice, error) {
	body, err := c.doRequest(ctx, http.MethodGet, path)
	if err != nil {
		return nil, err
	}
	if body == nil || string(body) == "[]" {
		return nil, nil
	}

	var rows []invoiceRow
	if err := json.Unmarshal(body, &rows); err != nil {
		return nil, fmt.Errorf("decoding invoices: %w", err)
	}

	invoices := make([]domain.Invoice, 0, len(rows))
	for _, r := range rows {
		inv, err := r.toDomain()
		if err != nil {
			return nil, err
		}
		invoices = append(invoices, inv)
	}
	return invoices, nil
}

// ============================================================
// Subscribers
// ============================================================

type subscriberRow struct {
	ID         string    `json:"id"`
	MerchantID string    `json:"merchant_id"`
	Name       string    `json:"name"`
	Email      string    `json:"email"`
	Phone      string    `json:"phone,omitempty"`
	PlanID     string    `json:"plan_id,omitempty"`
	Active     bool      `json:"active"`
	CreatedAt  time.Time `json:"created_at"`
}

func (r subscriberRow) toDomain() domain.Subscriber {
	return domain.Subscriber(r)
}

func (c *Client) GetSubscriber(ctx context.Context, subscriberID string) (*domain.Subscriber, error) {
	ctx, span := tracer.Start(ctx, "Supabase.GetSubscriber")
	defer span.End()

	var sub *domain.Subscriber
	err := c.execute(ctx, func() error {
		path := fmt.Sprintf("subscribers?id=eq.%s&limit=1", url.QueryEscape(subscriberID))
		body, err := c.doRequest(ctx, http.MethodGet, path)
		if err != nil {
			return err
		}
		if body == nil || string(body) == "[]" {
			return &domain.ErrNotFound{Resource: "subscriber", ID: subscriberID}
		}
		var rows []subscriberRow
		if err := json.Unmarshal(body, &rows); err != nil {
			return fmt.Errorf("decoding subscriber: %w", err)
		}
		if len(rows) == 0 {
			return &domain.ErrNotFound{Resource: "subscriber", ID: subscriberID}
		}
		s := rows[0].toDomain()
		sub = &s
		return nil
	})
	if err != nil {
		return nil, err
	}
	return sub, nil
}

func (c *Client) ListSubscribers(ctx context.Context, merchantID string) ([]domain.Subscriber, error) {
	ctx, span := tracer.Start(ctx, "Supabase.ListSubscribers")
	defer span.End()

	var subs []domain.Subscriber
	err := c.execute(ctx, func() error {
		path := fmt.Sprintf("subscribers?merchant_id=eq.%s&order=name.asc", url.QueryEscape(merchantID))
		body, err := c.doRequest(ctx, http.MethodGet, path)
		if err != nil {
			return err
		}
		if body == nil || string(body) == "[]" {
			return nil
		}
		var rows []subscriberRow
		if err := json.Unmarshal(body, &rows); err != nil {
			return fmt.Errorf("decoding subscribers: %w", err)
		}
		subs = make([]domain.Subscriber, 0, len(rows))
		for _, r := range rows {
			subs = append(subs, r.toDomain())
		}
		return nil
	})
	return subs, err
}

func (c *Client) CreateSubscriber(ctx context.Context, sub *domain.Subscriber) (*domain.Subscriber, error) {
	ctx, span := tracer.Start(ctx, "Supabase.CreateSubscriber")
	defer span.End()

	row := map[string]any{
		"id":          sub.ID,
		"merchant_id": sub.MerchantID,
		"name":        sub.Name,
		"email":       sub.Email,
		"active":      sub.Active,
		"created_at":  sub.CreatedAt.Format(time.RFC3339),
	}
	if sub.Phone != "" {
		row["phone"] = sub.Phone
	}
	if sub.PlanID != "" {
		row["plan_id"] = sub.PlanID
	}

	err := c.execute(ctx, func() error {
		_, err := c.doPost(ctx, "subscribers", row)
		if isDuplicate(err) {
			return &domain.ErrDuplicate{Key: fmt.Sprintf("subscriber %s", sub.Email)}
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	return sub, nil
}

// ============================================================
// Plans & Merchants
// ============================================================

type planRow struct {
	ID             string    `json:"id"`
	MerchantID     string    `json:"merchant_id"`
	Name           string    `json:"name"`
	Amount         float64   `json:"amount"`
	IntervalMonths int       `json:"interval_months"`
	CreatedAt      time.Time `json:"created_at"`
}

func (c *Client) GetPlan(ctx context.Context, planID string) (*domain.Plan, error) {
	ctx, span := tracer.Start(ctx, "Supabase.GetPlan")
	defer span.End()

	var plan *domain.Plan
	err := c.execute(ctx, func() error {
		path := fmt.Sprintf("plans?id=eq.%s&limit=1", url.QueryEscape(planID))
		body, err := c.doRequest(ctx, http.MethodGet, path)
		if err != nil {
			return err
		}
		if body == nil || string(body) == "[]" {
			return &domain.ErrNotFound{Resource: "plan", ID: planID}
		}
		var rows []planRow
		if err := json.Unmarshal(body, &rows); err != nil {
			return fmt.Errorf("decoding plan: %w", err)
		}
		if len(rows) == 0 {
			return &domain.ErrNotFound{Resource: "plan", ID: planID}
		}
		p := domain.Plan(rows[0])
		plan = &p
		return nil
	})
	if err != nil {
		return nil, err
	}
	return plan, nil
}

func (c *Client) ListPlans(ctx context.Context, merchantID string) ([]domain.Plan, error) {
	ctx, span := tracer.Start(ctx, "Supabase.ListPlans")
	defer span.End()

	var plans []domain.Plan
	err := c.execute(ctx, func() error {
		path := fmt.Sprintf("plans?merchant_id=eq.%s&order=amount.asc", url.QueryEscape(merchantID))
		body, err := c.doRequest(ctx, http.MethodGet, path)
		if err != nil {
			return err
		}
		if body == nil || string(body) == "[]" {
			return nil
		}
		var rows []planRow
		if err := json.Unmarshal(body, &rows); err != nil {
			return fmt.Errorf("decoding plans: %w", err)
		}
		plans = make([]domain.Plan, 0, len(rows))
		for _, r := range rows {
			plans = append(plans, domain.Plan(r))
		}
		return nil
	})
	return plans, err
}

func (c *Client) CreatePlan(ctx context.Context, plan *domain.Plan) (*domain.Plan, error) {
	ctx, span := tracer.Start(ctx, "Supabase.CreatePlan")
	defer span.End()

	row := map[string]any{
		"id":              plan.ID,
		"merchant_id":     plan.MerchantID,
		"name":            plan.Name,
		"amount":          plan.Amount,
		"interval_months": plan.IntervalMonths,
		"created_at":      plan.CreatedAt.Format(time.RFC3339),
	}
	err := c.execute(ctx, func() error {
		_, err := c.doPost(ctx, "plans", row)
		return err
	})
	if err != nil {
		return nil, err
	}
	return plan, nil
}

type merchantRow struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	City       string `json:"city"`
	PixKey     string `json:"pix_key"`
	PixKeyType string `json:"pix_key_type,omitempty"`
}

func (c *Client) GetMerchant(ctx context.Context, merchantID string) (*domain.Merchant, error) {
	ctx, span := tracer.Start(ctx, "Supabase.GetMerchant")
	defer span.End()

	var m *domain.Merchant
	err := c.execute(ctx, func() error {
		path := fmt.Sprintf("merchants?id=eq.%s&limit=1", url.QueryEscape(merchantID))
		body, err := c.doRequest(ctx, http.MethodGet, path)
		if err != nil {
			return err
		}
		if body == nil || string(body) == "[]" {
			return &domain.ErrNotFound{Resource: "merchant", ID: merchantID}
		}
		var rows []merchantRow
		if err := json.Unmarshal(body, &rows); err != nil {
			return fmt.Errorf("decoding merchant: %w", err)
		}
		if len(rows) == 0 {
			return &domain.ErrNotFound{Resource: "merchant", ID: merchantID}
		}
		mm := domain.Merchant(rows[0])
		m = &mm
		return nil
	})
	if err != nil {
		return nil, err
	}
	return m, nil
}
