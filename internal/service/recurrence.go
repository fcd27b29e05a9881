package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cobrafacil/billing-go/internal/domain"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Recurrence outcomes, labels on the recurrence_outcomes_total metric.
const (
	RecurrenceOutcomeGenerated = "generated"
	RecurrenceOutcomeSkipped   = "skipped"
	RecurrenceOutcomeInactive  = "subscriber_inactive"
	RecurrenceOutcomeFailed    = "failed"
)

// idempotencyTTL bounds how long a recurrence reservation is held in
// Redis. The unique constraint on (subscriber_id, due_date) remains the
// source of truth; the reservation only short-circuits the common case.
const idempotencyTTL = 48 * time.Hour

// NextDueDate advances a due date by one calendar month, clamping to the
// last day of the target month when the source day does not exist there
// (Jan 31 -> Feb 29 on leap years, Feb 28 otherwise).
func NextDueDate(dueDate time.Time) time.Time {
	y, m, d := dueDate.Date()
	firstOfNext := time.Date(y, m+1, 1, 0, 0, 0, 0, dueDate.Location())
	lastDay := daysInMonth(firstOfNext.Year(), firstOfNext.Month())
	if d > lastDay {
		d = lastDay
	}
	return time.Date(firstOfNext.Year(), firstOfNext.Month(), d,
		dueDate.Hour(), dueDate.Minute(), dueDate.Second(), dueDate.Nanosecond(), dueDate.Location())
}

func daysInMonth(year int, month time.Month) int {
	// Day zero of the next month is the last day of this one.
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

// RecurrenceOutcome reports what happened when the next occurrence of a
// chain was requested.
type RecurrenceOutcome struct {
	Outcome string          `json:"outcome"` // generated, skipped, subscriber_inactive, failed
	Invoice *domain.Invoice `json:"invoice,omitempty"`
	Reason  string          `json:"reason,omitempty"`
}

// GenerateNextInvoice creates the successor occurrence of a recurring
// invoice that was just paid. It never returns an error: the caller's
// payment has already settled, so every failure here degrades to a
// "failed" outcome plus a warning log. Duplicate successors are
// prevented three ways, cheapest first: a Redis reservation, an
// existence probe, and finally the store's unique constraint on
// (subscriber_id, due_date).
func (s *BillingService) GenerateNextInvoice(ctx context.Context, paid *domain.Invoice) RecurrenceOutcome {
	ctx, span := billingTracer.Start(ctx, "BillingService.GenerateNextInvoice")
	defer span.End()
	span.SetAttributes(
		attribute.String("invoice.id", paid.ID),
		attribute.String("subscriber.id", paid.SubscriberID),
	)

	outcome := s.generateNext(ctx, paid)
	s.metrics.IncrRecurrenceOutcome(outcome.Outcome)
	span.SetAttributes(attribute.String("recurrence.outcome", outcome.Outcome))
	return outcome
}

func (s *BillingService) generateNext(ctx context.Context, paid *domain.Invoice) RecurrenceOutcome {
	if !paid.IsRecurring {
		return RecurrenceOutcome{Outcome: RecurrenceOutcomeSkipped, Reason: "invoice is not recurring"}
	}

	sub, err := s.store.GetSubscriber(ctx, paid.SubscriberID)
	if err != nil {
		s.logger.Warn("recurrence: failed to load subscriber",
			zap.String("invoice_id", paid.ID),
			zap.String("subscriber_id", paid.SubscriberID),
			zap.Error(err),
		)
		return RecurrenceOutcome{Outcome: RecurrenceOutcomeFailed, Reason: "subscriber lookup failed"}
	}
	if !sub.Active {
		s.logger.Info("recurrence: subscriber inactive, chain ends",
			zap.String("subscriber_id", sub.ID),
		)
		return RecurrenceOutcome{Outcome: RecurrenceOutcomeInactive, Reason: "subscription is inactive"}
	}

	nextDue := NextDueDate(paid.DueDate)

	// Redis reservation: a concurrent generator for the same slot loses
	// the SETNX race and skips. A Redis outage just disables this fast
	// path, the unique constraint still holds.
	if s.guard != nil {
		key := fmt.Sprintf("recurrence:%s:%s", paid.SubscriberID, nextDue.Format("2006-01-02"))
		reserved, err := s.guard.Reserve(ctx, key, idempotencyTTL)
		if err != nil {
			s.logger.Warn("recurrence: idempotency guard unavailable",
				zap.String("key", key),
				zap.Error(err),
			)
		} else if !reserved {
			return RecurrenceOutcome{Outcome: RecurrenceOutcomeSkipped, Reason: "successor already reserved"}
		}
	}

	exists, err := s.store.InvoiceExists(ctx, paid.SubscriberID, nextDue)
	if err != nil {
		s.logger.Warn("recurrence: existence probe failed",
			zap.String("subscriber_id", paid.SubscriberID),
			zap.Error(err),
		)
		// Fall through: the insert's unique constraint decides.
	} else if exists {
		return RecurrenceOutcome{Outcome: RecurrenceOutcomeSkipped, Reason: "successor already exists"}
	}

	next := &domain.Invoice{
		ID:             uuid.New().String(),
		SubscriberID:   paid.SubscriberID,
		MerchantID:     paid.MerchantID,
		Amount:         paid.Amount,
		DueDate:        nextDue,
		Status:         domain.InvoiceStatusPending,
		IsRecurring:    true,
		SequenceNumber: paid.SequenceNumber + 1,
		Recurrence:     paid.Recurrence,
		CreatedAt:      s.now(),
	}

	created, err := s.store.CreateInvoice(ctx, next)
	if err != nil {
		var dup *domain.ErrDuplicate
		if errors.As(err, &dup) {
			return RecurrenceOutcome{Outcome: RecurrenceOutcomeSkipped, Reason: "successor already exists"}
		}
		var ext *domain.ErrExternalService
		if errors.As(err, &ext) {
			s.metrics.IncrExternalError(ext.Service)
		}
		s.logger.Warn("recurrence: failed to persist successor",
			zap.String("invoice_id", paid.ID),
			zap.String("subscriber_id", paid.SubscriberID),
			zap.String("next_due_date", nextDue.Format("2006-01-02")),
			zap.Error(err),
		)
		return RecurrenceOutcome{Outcome: RecurrenceOutcomeFailed, Reason: "failed to persist successor"}
	}

	s.metrics.IncrInvoiceCreated("recurrence")
	s.logger.Info("recurrence: successor generated",
		zap.String("invoice_id", created.ID),
		zap.String("subscriber_id", created.SubscriberID),
		zap.Int("sequence_number", created.SequenceNumber),
		zap.String("due_date", created.DueDate.Format("2006-01-02")),
	)
	return RecurrenceOutcome{Outcome: RecurrenceOutcomeGenerated, Invoice: created}
}

// sweepBatchSize caps how many chains a single healing pass repairs.
const sweepBatchSize = 200

// sweepConcurrency bounds parallel successor generation in a sweep.
const sweepConcurrency = 4

// HealMissingSuccessors finds paid recurring invoices whose successor
// was never created (a crash between the payment update and the
// successor insert) and generates them. Returns how many chains were
// repaired.
func (s *BillingService) HealMissingSuccessors(ctx context.Context) (int, error) {
	ctx, span := billingTracer.Start(ctx, "BillingService.HealMissingSuccessors")
	defer span.End()

	orphans, err := s.store.ListPaidRecurringWithoutSuccessor(ctx, sweepBatchSize)
	if err != nil {
		s.logger.Error("sweep: failed to list broken chains", zap.Error(err))
		return 0, err
	}
	if len(orphans) == 0 {
		return 0, nil
	}

	s.logger.Info("sweep: repairing broken recurrence chains", zap.Int("count", len(orphans)))

	var healed int
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(sweepConcurrency)
	results := make([]RecurrenceOutcome, len(orphans))
	for i := range orphans {
		i := i
		g.Go(func() error {
			results[i] = s.GenerateNextInvoice(gctx, &orphans[i])
			return nil
		})
	}
	_ = g.Wait()

	for _, r := range results {
		if r.Outcome == RecurrenceOutcomeGenerated {
			healed++
		}
	}
	if healed > 0 {
		s.logger.Info("sweep: chains repaired", zap.Int("healed", healed))
	}
	return healed, nil
}
