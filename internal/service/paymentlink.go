package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cobrafacil/billing-go/internal/domain"

	"github.com/golang-jwt/jwt/v5"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// PaymentLinkSigner issues and verifies self-contained payment-link
// tokens. The token carries the invoice ID and its own issue time, so
// links need no storage and expire exactly 24h after creation.
type PaymentLinkSigner struct {
	secret  []byte
	baseURL string
	now     func() time.Time
}

// NewPaymentLinkSigner builds a signer. baseURL is the public prefix the
// final link is rooted at, e.g. "https://pay.example.com".
func NewPaymentLinkSigner(secret, baseURL string) *PaymentLinkSigner {
	return &PaymentLinkSigner{secret: []byte(secret), baseURL: baseURL, now: time.Now}
}

type paymentLinkClaims struct {
	InvoiceID string `json:"inv"`
	jwt.RegisteredClaims
}

// Sign mints a link token for one invoice.
func (p *PaymentLinkSigner) Sign(invoiceID string) (string, time.Time, error) {
	issuedAt := p.now()
	expiresAt := issuedAt.Add(domain.PaymentLinkTTL)
	claims := paymentLinkClaims{
		InvoiceID: invoiceID,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "billing",
			Subject:   "payment-link",
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(p.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("signing payment link token: %w", err)
	}
	return token, expiresAt, nil
}

// Verify parses a link token and returns the invoice ID it addresses.
// Expired tokens come back as *domain.ErrExpired, everything else
// malformed as *domain.ErrUnauthorized.
func (p *PaymentLinkSigner) Verify(token string) (string, error) {
	parsed, err := jwt.ParseWithClaims(token, &paymentLinkClaims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return p.secret, nil
	}, jwt.WithTimeFunc(p.now))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return "", &domain.ErrExpired{Resource: "payment link"}
		}
		return "", &domain.ErrUnauthorized{Message: "invalid payment link token"}
	}
	claims, ok := parsed.Claims.(*paymentLinkClaims)
	if !ok || !parsed.Valid || claims.InvoiceID == "" {
		return "", &domain.ErrUnauthorized{Message: "invalid payment link token"}
	}
	return claims.InvoiceID, nil
}

// URL renders the shareable link for a token.
func (p *PaymentLinkSigner) URL(token string) string {
	return fmt.Sprintf("%s/payment-links/%s", p.baseURL, token)
}

// ============================================================
// Payment link operations
// ============================================================

// PaymentLinkResponse is returned on link creation.
type PaymentLinkResponse struct {
	InvoiceID string    `json:"invoice_id"`
	URL       string    `json:"url"`
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// CreatePaymentLink issues a 24h payment link for a payable invoice.
func (s *BillingService) CreatePaymentLink(ctx context.Context, invoiceID string) (*PaymentLinkResponse, error) {
	ctx, span := billingTracer.Start(ctx, "BillingService.CreatePaymentLink")
	defer span.End()
	span.SetAttributes(attribute.String("invoice.id", invoiceID))

	inv, err := s.store.GetInvoice(ctx, invoiceID)
	if err != nil {
		return nil, err
	}
	if inv.Status != domain.InvoiceStatusPending {
		return nil, &domain.ErrConflict{Message: fmt.Sprintf("cannot create a payment link for a '%s' invoice", inv.Status)}
	}

	token, expiresAt, err := s.linkToken.Sign(inv.ID)
	if err != nil {
		s.logger.Error("failed to sign payment link",
			zap.String("invoice_id", invoiceID),
			zap.Error(err),
		)
		return nil, err
	}

	s.logger.Info("payment link created",
		zap.String("invoice_id", invoiceID),
		zap.Time("expires_at", expiresAt),
	)

	return &PaymentLinkResponse{
		InvoiceID: inv.ID,
		URL:       s.linkToken.URL(token),
		Token:     token,
		ExpiresAt: expiresAt,
	}, nil
}

// PaymentLinkView is the public payload behind a payment link: the
// invoice summary plus a fresh PIX code to pay it with.
type PaymentLinkView struct {
	InvoiceID      string    `json:"invoice_id"`
	Amount         float64   `json:"amount"`
	DueDate        time.Time `json:"due_date"`
	ComputedStatus string    `json:"computed_status"`
	PixCode        string    `json:"pix_code,omitempty"`
}

// ResolvePaymentLink validates a link token and returns the payable
// view of the invoice it addresses. Expired links return
// *domain.ErrExpired regardless of the invoice's state.
func (s *BillingService) ResolvePaymentLink(ctx context.Context, token string) (*PaymentLinkView, error) {
	ctx, span := billingTracer.Start(ctx, "BillingService.ResolvePaymentLink")
	defer span.End()

	invoiceID, err := s.linkToken.Verify(token)
	if err != nil {
		return nil, err
	}

	inv, err := s.store.GetInvoice(ctx, invoiceID)
	if err != nil {
		return nil, err
	}

	view := &PaymentLinkView{
		InvoiceID:      inv.ID,
		Amount:         inv.Amount,
		DueDate:        inv.DueDate,
		ComputedStatus: inv.ComputedStatus(s.now()),
	}

	if inv.Status == domain.InvoiceStatusPending {
		if code, err := s.GeneratePixCode(ctx, inv.ID); err == nil {
			view.PixCode = code.Code
		} else {
			s.logger.Warn("payment link: could not attach PIX code",
				zap.String("invoice_id", inv.ID),
				zap.Error(err),
			)
		}
	}
	return view, nil
}
