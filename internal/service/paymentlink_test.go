package service_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/cobrafacil/billing-go/internal/domain"
	"github.com/cobrafacil/billing-go/internal/pix"
)

func TestCreateAndResolvePaymentLink(t *testing.T) {
	store := newMockStore()
	inv := seedChain(store)
	svc := newTestService(store, nil)

	link, err := svc.CreatePaymentLink(context.Background(), inv.ID)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if link.Token == "" {
		t.Fatal("expected a token")
	}
	if !strings.Contains(link.URL, link.Token) {
		t.Errorf("expected URL to embed the token, got %s", link.URL)
	}

	view, err := svc.ResolvePaymentLink(context.Background(), link.Token)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if view.InvoiceID != inv.ID {
		t.Errorf("expected invoice %s, got %s", inv.ID, view.InvoiceID)
	}
	if view.Amount != 150.00 {
		t.Errorf("expected amount 150.00, got %.2f", view.Amount)
	}
	if view.PixCode == "" || !pix.Validate(view.PixCode) {
		t.Error("expected a valid PIX code attached to the link view")
	}
}

func TestCreatePaymentLink_NonPendingConflicts(t *testing.T) {
	store := newMockStore()
	inv := seedChain(store)
	inv.Status = domain.InvoiceStatusPaid
	svc := newTestService(store, nil)

	_, err := svc.CreatePaymentLink(context.Background(), inv.ID)
	var conflict *domain.ErrConflict
	if !errors.As(err, &conflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
}

func TestResolvePaymentLink_PaidInvoiceHasNoCode(t *testing.T) {
	store := newMockStore()
	inv := seedChain(store)
	svc := newTestService(store, nil)

	link, err := svc.CreatePaymentLink(context.Background(), inv.ID)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	if _, err := svc.MarkPaid(context.Background(), inv.ID, "pix"); err != nil {
		t.Fatalf("payment failed: %v", err)
	}

	view, err := svc.ResolvePaymentLink(context.Background(), link.Token)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if view.ComputedStatus != domain.ComputedStatusPaid {
		t.Errorf("expected paid, got %s", view.ComputedStatus)
	}
	if view.PixCode != "" {
		t.Error("expected no PIX code on a paid invoice")
	}
}

func TestResolvePaymentLink_InvalidToken(t *testing.T) {
	store := newMockStore()
	seedChain(store)
	svc := newTestService(store, nil)

	_, err := svc.ResolvePaymentLink(context.Background(), "garbage")
	var unauthorized *domain.ErrUnauthorized
	if !errors.As(err, &unauthorized) {
		t.Fatalf("expected unauthorized, got %v", err)
	}
}
