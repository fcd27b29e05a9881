package handler

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/cobrafacil/billing-go/internal/domain"
	"github.com/cobrafacil/billing-go/internal/service"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// requireInvoice loads the invoice from the URL parameter and checks it
// belongs to the authenticated merchant. On failure it writes the error
// response and returns nil.
func requireInvoice(ctx context.Context, svc *service.BillingService, w http.ResponseWriter, r *http.Request, logger *zap.Logger) *domain.Invoice {
	invoiceID := chi.URLParam(r, "invoiceId")
	if invoiceID == "" {
		writeError(w, http.StatusBadRequest, "invoice_id is required")
		return nil
	}

	inv, err := svc.GetInvoice(ctx, invoiceID)
	if err != nil {
		handleServiceError(w, err, logger)
		return nil
	}
	if inv.MerchantID != MerchantIDFromContext(ctx) {
		// Hide other merchants' invoices behind a 404.
		writeError(w, http.StatusNotFound, "invoice not found: "+invoiceID)
		return nil
	}
	return inv
}

// ============================================================
// Invoices — /v1/invoices
// ============================================================

func listInvoicesHandler(svc *service.BillingService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "GET /v1/invoices")
		defer span.End()

		merchantID := MerchantIDFromContext(ctx)
		span.SetAttributes(attribute.String("merchant.id", merchantID))

		page, pageSize := parsePagination(r)
		filter := domain.InvoiceFilter{
			SubscriberID: r.URL.Query().Get("subscriber_id"),
			Status:       r.URL.Query().Get("status"),
			Page:         page,
			PageSize:     pageSize,
		}

		invoices, err := svc.ListInvoices(ctx, merchantID, filter)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		if invoices == nil {
			invoices = []service.InvoiceView{}
		}

		writeJSON(w, http.StatusOK, map[string]any{
			"invoices":  invoices,
			"page":      page,
			"page_size": pageSize,
		})
	}
}

func createInvoiceHandler(svc *service.BillingService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /v1/invoices")
		defer span.End()

		var req service.CreateInvoiceRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}

		inv, err := svc.CreateInvoice(ctx, MerchantIDFromContext(ctx), &req)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusCreated, inv)
	}
}

func getInvoiceHandler(svc *service.BillingService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "GET /v1/invoices/{invoiceId}")
		defer span.End()

		inv := requireInvoice(ctx, svc, w, r, logger)
		if inv == nil {
			return
		}
		writeJSON(w, http.StatusOK, svc.View(inv))
	}
}

func payInvoiceHandler(svc *service.BillingService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /v1/invoices/{invoiceId}/pay")
		defer span.End()

		inv := requireInvoice(ctx, svc, w, r, logger)
		if inv == nil {
			return
		}

		var req struct {
			PaymentMethod string `json:"payment_method"`
		}
		// Body is optional; an empty one defaults the method to pix.
		_ = json.NewDecoder(r.Body).Decode(&req)
		if req.PaymentMethod == "" {
			req.PaymentMethod = "pix"
		}

		result, err := svc.MarkPaid(ctx, inv.ID, req.PaymentMethod)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, result)
	}
}

func unpayInvoiceHandler(svc *service.BillingService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /v1/invoices/{invoiceId}/unpay")
		defer span.End()

		inv := requireInvoice(ctx, svc, w, r, logger)
		if inv == nil {
			return
		}

		view, err := svc.MarkUnpaid(ctx, inv.ID)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, view)
	}
}

func cancelInvoiceHandler(svc *service.BillingService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /v1/invoices/{invoiceId}/cancel")
		defer span.End()

		inv := requireInvoice(ctx, svc, w, r, logger)
		if inv == nil {
			return
		}

		if err := svc.CancelInvoice(ctx, inv.ID); err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{
			"id":     inv.ID,
			"status": domain.InvoiceStatusCanceled,
		})
	}
}
