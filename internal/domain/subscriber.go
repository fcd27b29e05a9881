package domain

import "time"

// ============================================================
// Subscribers (Clientes)
// ============================================================

// Subscriber is a client of a merchant, billed through an invoice chain.
type Subscriber struct {
	ID         string    `json:"id"`
	MerchantID string    `json:"merchant_id"`
	Name       string    `json:"name"`
	Email      string    `json:"email,omitempty"`
	Phone      string    `json:"phone,omitempty"`
	PlanID     string    `json:"plan_id,omitempty"`
	Active     bool      `json:"active"`
	CreatedAt  time.Time `json:"created_at"`
}

// Plan is a billing plan a subscriber can be attached to.
type Plan struct {
	ID             string    `json:"id"`
	MerchantID     string    `json:"merchant_id"`
	Name           string    `json:"name"`
	Amount         float64   `json:"amount"`
	IntervalMonths int       `json:"interval_months"`
	CreatedAt      time.Time `json:"created_at"`
}

// Merchant is the billing profile of the business receiving payments.
// Its PIX key and display data go into every BR Code the service emits.
type Merchant struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	City       string `json:"city"`
	PixKey     string `json:"pix_key"`
	PixKeyType string `json:"pix_key_type,omitempty"` // cpf, cnpj, email, phone, random
}
