package handler

import (
	"encoding/json"
	"net/http"

	"github.com/cobrafacil/billing-go/internal/service"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// ============================================================
// PIX — code generation and validation
// ============================================================

func pixCodeHandler(svc *service.BillingService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "GET /v1/invoices/{invoiceId}/pix-code")
		defer span.End()

		inv := requireInvoice(ctx, svc, w, r, logger)
		if inv == nil {
			return
		}
		span.SetAttributes(attribute.String("invoice.id", inv.ID))

		resp, err := svc.GeneratePixCode(ctx, inv.ID)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

// pixValidateHandler is public: anyone pasting a code can check it
// before paying. Invalid is an answer, not an error status.
func pixValidateHandler(svc *service.BillingService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /v1/pix/validate")
		defer span.End()

		var req struct {
			Code string `json:"code"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		if req.Code == "" {
			writeError(w, http.StatusBadRequest, "code is required")
			return
		}

		writeJSON(w, http.StatusOK, map[string]bool{
			"valid": svc.ValidatePixCode(ctx, req.Code),
		})
	}
}
