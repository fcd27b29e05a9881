package handler

import (
	"encoding/json"
	"net/http"

	"github.com/cobrafacil/billing-go/internal/domain"
	"github.com/cobrafacil/billing-go/internal/service"

	"go.uber.org/zap"
)

// ============================================================
// Subscribers & Plans
// ============================================================

func listSubscribersHandler(svc *service.BillingService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "GET /v1/subscribers")
		defer span.End()

		subs, err := svc.ListSubscribers(ctx, MerchantIDFromContext(ctx))
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		if subs == nil {
			subs = []domain.Subscriber{}
		}
		writeJSON(w, http.StatusOK, map[string]any{"subscribers": subs})
	}
}

func createSubscriberHandler(svc *service.BillingService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /v1/subscribers")
		defer span.End()

		var sub domain.Subscriber
		if err := json.NewDecoder(r.Body).Decode(&sub); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}

		created, err := svc.CreateSubscriber(ctx, MerchantIDFromContext(ctx), &sub)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusCreated, created)
	}
}

func listPlansHandler(svc *service.BillingService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "GET /v1/plans")
		defer span.End()

		plans, err := svc.ListPlans(ctx, MerchantIDFromContext(ctx))
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		if plans == nil {
			plans = []domain.Plan{}
		}
		writeJSON(w, http.StatusOK, map[string]any{"plans": plans})
	}
}

func createPlanHandler(svc *service.BillingService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /v1/plans")
		defer span.End()

		var plan domain.Plan
		if err := json.NewDecoder(r.Body).Decode(&plan); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}

		created, err := svc.CreatePlan(ctx, MerchantIDFromContext(ctx), &plan)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusCreated, created)
	}
}
