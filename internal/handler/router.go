package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/cobrafacil/billing-go/internal/infra/observability"
	"github.com/cobrafacil/billing-go/internal/service"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
)

var tracer = otel.Tracer("handler")

// Pinger reports the health of a backing dependency.
type Pinger interface {
	Ping(ctx context.Context) error
}

// NewRouter creates the HTTP router with all routes and middleware.
// deps are probed by the readiness endpoint; pass the store (and the
// idempotency guard when configured).
func NewRouter(svc *service.BillingService, metrics *observability.Metrics, logger *zap.Logger, jwtSecret string, deps ...Pinger) http.Handler {
	r := chi.NewRouter()

	// --- Middleware ---
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(observability.ZapLoggerMiddleware(logger))
	r.Use(observability.TracingMiddleware)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Heartbeat("/ping"))

	// --- Operational endpoints ---
	r.Get("/healthz", healthzHandler())
	r.Get("/readyz", readyzHandler(deps))
	r.Handle("/metrics", promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}))

	// --- API v1 ---
	r.Route("/v1", func(r chi.Router) {

		// =============================================
		// Public — no merchant token required
		// =============================================
		r.Post("/pix/validate", pixValidateHandler(svc, logger))
		r.Get("/payment-links/{token}", resolvePaymentLinkHandler(svc, logger))

		// =============================================
		// Merchant API — Bearer token carries merchant ID
		// =============================================
		r.Group(func(r chi.Router) {
			r.Use(JWTAuthMiddleware(jwtSecret, logger))

			// Invoices (mensalidades)
			r.Get("/invoices", listInvoicesHandler(svc, logger))
			r.Post("/invoices", createInvoiceHandler(svc, logger))
			r.Get("/invoices/{invoiceId}", getInvoiceHandler(svc, logger))
			r.Post("/invoices/{invoiceId}/pay", payInvoiceHandler(svc, logger))
			r.Post("/invoices/{invoiceId}/unpay", unpayInvoiceHandler(svc, logger))
			r.Post("/invoices/{invoiceId}/cancel", cancelInvoiceHandler(svc, logger))

			// PIX & payment links for one invoice
			r.Get("/invoices/{invoiceId}/pix-code", pixCodeHandler(svc, logger))
			r.Post("/invoices/{invoiceId}/payment-link", createPaymentLinkHandler(svc, logger))

			// Subscribers & plans
			r.Get("/subscribers", listSubscribersHandler(svc, logger))
			r.Post("/subscribers", createSubscriberHandler(svc, logger))
			r.Get("/plans", listPlansHandler(svc, logger))
			r.Post("/plans", createPlanHandler(svc, logger))

			// Metrics summary
			r.Get("/metrics/billing", billingMetricsHandler(metrics, logger))
		})
	})

	return r
}

// ============================================================
// Operational endpoints
// ============================================================

func healthzHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}

func readyzHandler(deps []Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
		defer cancel()

		for _, dep := range deps {
			if err := dep.Ping(ctx); err != nil {
				writeJSON(w, http.StatusServiceUnavailable, map[string]string{
					"status": "not ready",
					"error":  err.Error(),
				})
				return
			}
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
	}
}

func billingMetricsHandler(metrics *observability.Metrics, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, metrics.GetBillingSnapshot())
	}
}
