package observability

import (
	"time"

	"github.com/cobrafacil/billing-go/internal/domain"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	dto "github.com/prometheus/client_model/go"
)

// Metrics holds all Prometheus metrics for the billing service.
type Metrics struct {
	// Registry is the Prometheus registry that owns these metrics.
	// Exposed so the /metrics endpoint can use it.
	Registry *prometheus.Registry

	requestDuration       *prometheus.HistogramVec
	invoicesCreated       *prometheus.CounterVec
	recurrenceOutcomes    *prometheus.CounterVec
	pixCodesGenerated     prometheus.Counter
	pixEncodingFailures   prometheus.Counter
	pixValidationFailures prometheus.Counter
	externalErrors        *prometheus.CounterVec
	cacheHits             *prometheus.CounterVec
	cacheMisses           *prometheus.CounterVec
}

// NewMetrics creates a dedicated Prometheus registry and registers all
// application metrics in it. Using a private registry avoids "duplicate
// collector" panics when NewMetrics is called more than once (e.g. in tests).
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		Registry: reg,

		requestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "billing_request_duration_seconds",
				Help:    "Duration of requests by operation.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
		invoicesCreated: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "billing_invoices_created_total",
				Help: "Total invoices created, by origin (manual, recurrence).",
			},
			[]string{"origin"},
		),
		recurrenceOutcomes: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "billing_recurrence_outcomes_total",
				Help: "Outcomes of recurrence successor generation.",
			},
			[]string{"outcome"},
		),
		pixCodesGenerated: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "billing_pix_codes_generated_total",
				Help: "Total PIX Copia e Cola codes generated.",
			},
		),
		pixEncodingFailures: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "billing_pix_encoding_failures_total",
				Help: "Total PIX code encoding failures.",
			},
		),
		pixValidationFailures: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "billing_pix_validation_failures_total",
				Help: "Total PIX codes that failed structure or CRC validation.",
			},
		),
		externalErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "billing_external_errors_total",
				Help: "Total errors from external services.",
			},
			[]string{"service"},
		),
		cacheHits: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "billing_cache_hits_total",
				Help: "Total cache hits.",
			},
			[]string{"cache"},
		),
		cacheMisses: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "billing_cache_misses_total",
				Help: "Total cache misses.",
			},
			[]string{"cache"},
		),
	}
}

// RecordRequestDuration records the duration of an operation.
func (m *Metrics) RecordRequestDuration(operation string, d time.Duration) {
	m.requestDuration.WithLabelValues(operation).Observe(d.Seconds())
}

// IncrInvoiceCreated increments the invoice counter for an origin.
func (m *Metrics) IncrInvoiceCreated(origin string) {
	m.invoicesCreated.WithLabelValues(origin).Inc()
}

// IncrRecurrenceOutcome increments the recurrence outcome counter.
func (m *Metrics) IncrRecurrenceOutcome(outcome string) {
	m.recurrenceOutcomes.WithLabelValues(outcome).Inc()
}

// IncrPixCodeGenerated increments the generated-codes counter.
func (m *Metrics) IncrPixCodeGenerated() {
	m.pixCodesGenerated.Inc()
}

// IncrPixEncodingFailure increments the encoding-failures counter.
func (m *Metrics) IncrPixEncodingFailure() {
	m.pixEncodingFailures.Inc()
}

// IncrPixValidationFailure increments the validation-failures counter.
func (m *Metrics) IncrPixValidationFailure() {
	m.pixValidationFailures.Inc()
}

// IncrExternalError increments the external error counter.
func (m *Metrics) IncrExternalError(service string) {
	m.externalErrors.WithLabelValues(service).Inc()
}

// IncrCacheHit increments the cache hit counter.
func (m *Metrics) IncrCacheHit(cache string) {
	m.cacheHits.WithLabelValues(cache).Inc()
}

// IncrCacheMiss increments the cache miss counter.
func (m *Metrics) IncrCacheMiss(cache string) {
	m.cacheMisses.WithLabelValues(cache).Inc()
}

// GetBillingSnapshot returns a summary of billing metrics suitable for
// the GET /v1/metrics/billing endpoint.
func (m *Metrics) GetBillingSnapshot() *domain.BillingMetrics {
	manual := getCounterValue(m.invoicesCreated, "manual")
	recurring := getCounterValue(m.invoicesCreated, "recurrence")
	generated := getCounterValue(m.recurrenceOutcomes, "generated")
	skipped := getCounterValue(m.recurrenceOutcomes, "skipped")
	failed := getCounterValue(m.recurrenceOutcomes, "failed")
	hits := getCounterValue(m.cacheHits, "merchant")
	misses := getCounterValue(m.cacheMisses, "merchant")

	cacheHitRate := float64(0)
	if hits+misses > 0 {
		cacheHitRate = hits / (hits + misses)
	}

	return &domain.BillingMetrics{
		InvoicesCreatedManual:    int64(manual),
		InvoicesCreatedRecurring: int64(recurring),
		RecurrenceGenerated:      int64(generated),
		RecurrenceSkipped:        int64(skipped),
		RecurrenceFailed:         int64(failed),
		PixCodesGenerated:        int64(getSingleCounterValue(m.pixCodesGenerated)),
		PixValidationFailures:    int64(getSingleCounterValue(m.pixValidationFailures)),
		CacheHitRate:             cacheHitRate,
		Period:                   "all_time",
	}
}

// getCounterValue extracts the current float64 value from a CounterVec for a given label.
func getCounterValue(cv *prometheus.CounterVec, label string) float64 {
	counter := cv.WithLabelValues(label)
	m := &dto.Metric{}
	if err := counter.(prometheus.Metric).Write(m); err != nil {
		return 0
	}
	if m.Counter != nil && m.Counter.Value != nil {
		return *m.Counter.Value
	}
	return 0
}

func getSingleCounterValue(c prometheus.Counter) float64 {
	m := &dto.Metric{}
	if err := c.Write(m); err != nil {
		return 0
	}
	if m.Counter != nil && m.Counter.Value != nil {
		return *m.Counter.Value
	}
	return 0
}
