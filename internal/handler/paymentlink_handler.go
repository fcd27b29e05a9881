package handler

import (
	"net/http"

	"github.com/cobrafacil/billing-go/internal/service"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// ============================================================
// Payment Links
// ============================================================

func createPaymentLinkHandler(svc *service.BillingService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /v1/invoices/{invoiceId}/payment-link")
		defer span.End()

		inv := requireInvoice(ctx, svc, w, r, logger)
		if inv == nil {
			return
		}

		link, err := svc.CreatePaymentLink(ctx, inv.ID)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusCreated, link)
	}
}

// resolvePaymentLinkHandler is public: the payer follows the link
// without merchant credentials. Expired links answer 410.
func resolvePaymentLinkHandler(svc *service.BillingService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "GET /v1/payment-links/{token}")
		defer span.End()

		token := chi.URLParam(r, "token")
		if token == "" {
			writeError(w, http.StatusBadRequest, "token is required")
			return
		}

		view, err := svc.ResolvePaymentLink(ctx, token)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, view)
	}
}
