package domain

// BillingMetrics is the operational summary exposed by the metrics
// summary endpoint.
type BillingMetrics struct {
	InvoicesCreatedManual    int64   `json:"invoices_created_manual"`
	InvoicesCreatedRecurring int64   `json:"invoices_created_recurring"`
	RecurrenceGenerated      int64   `json:"recurrence_generated"`
	RecurrenceSkipped        int64   `json:"recurrence_skipped"`
	RecurrenceFailed         int64   `json:"recurrence_failed"`
	PixCodesGenerated        int64   `json:"pix_codes_generated"`
	PixValidationFailures    int64   `json:"pix_validation_failures"`
	CacheHitRate             float64 `json:"cache_hit_rate"`
	Period                   string  `json:"period"`
}
