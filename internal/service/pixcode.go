package service

import (
	"context"

	"github.com/cobrafacil/billing-go/internal/domain"
	"github.com/cobrafacil/billing-go/internal/pix"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// PixCodeResponse carries a generated "Copia e Cola" code.
type PixCodeResponse struct {
	InvoiceID   string  `json:"invoice_id"`
	Code        string  `json:"code"`
	Amount      float64 `json:"amount"`
	ReferenceID string  `json:"reference_id"`
}

// GeneratePixCode builds the BR Code for one invoice using its
// merchant's billing profile (PIX key, display name, city).
func (s *BillingService) GeneratePixCode(ctx context.Context, invoiceID string) (*PixCodeResponse, error) {
	ctx, span := billingTracer.Start(ctx, "BillingService.GeneratePixCode")
	defer span.End()
	span.SetAttributes(attribute.String("invoice.id", invoiceID))

	inv, err := s.store.GetInvoice(ctx, invoiceID)
	if err != nil {
		return nil, err
	}
	if inv.Status == domain.InvoiceStatusCanceled {
		return nil, &domain.ErrConflict{Message: "cannot generate a code for a canceled invoice"}
	}
	if inv.Status == domain.InvoiceStatusPaid {
		return nil, &domain.ErrConflict{Message: "invoice is already paid"}
	}

	merchant, err := s.merchantProfile(ctx, inv.MerchantID)
	if err != nil {
		return nil, err
	}
	if merchant.PixKey == "" {
		return nil, &domain.ErrValidation{Field: "pix_key", Message: "merchant has no PIX key configured"}
	}

	refID := pix.GenerateReferenceID(inv.ID)
	code, err := pix.Encode(pix.Payment{
		Key:          merchant.PixKey,
		KeyType:      merchant.PixKeyType,
		Amount:       inv.Amount,
		MerchantName: merchant.Name,
		MerchantCity: merchant.City,
		ReferenceID:  refID,
	})
	if err != nil {
		s.metrics.IncrPixEncodingFailure()
		s.logger.Error("failed to encode PIX code",
			zap.String("invoice_id", invoiceID),
			zap.String("merchant_id", inv.MerchantID),
			zap.Error(err),
		)
		return nil, err
	}
	s.metrics.IncrPixCodeGenerated()

	s.logger.Info("PIX code generated",
		zap.String("invoice_id", invoiceID),
		zap.Float64("amount", inv.Amount),
		zap.String("reference_id", refID),
	)

	return &PixCodeResponse{
		InvoiceID:   inv.ID,
		Code:        code,
		Amount:      inv.Amount,
		ReferenceID: refID,
	}, nil
}

// ValidatePixCode checks a pasted "Copia e Cola" string: structure plus
// CRC. Public endpoint, so invalid inputs are a normal answer, not an
// error.
func (s *BillingService) ValidatePixCode(ctx context.Context, code string) bool {
	_, span := billingTracer.Start(ctx, "BillingService.ValidatePixCode")
	defer span.End()

	valid := pix.Validate(code)
	if !valid {
		s.metrics.IncrPixValidationFailure()
	}
	span.SetAttributes(attribute.Bool("pix.valid", valid))
	return valid
}
