package domain_test

import (
	"testing"
	"time"

	"github.com/cobrafacil/billing-go/internal/domain"
)

func TestComputeStatus(t *testing.T) {
	today := time.Date(2024, 6, 15, 10, 30, 0, 0, time.UTC)

	cases := []struct {
		name    string
		status  string
		dueDate time.Time
		want    string
	}{
		{"pending yesterday is overdue", domain.InvoiceStatusPending, today.AddDate(0, 0, -1), domain.ComputedStatusOverdue},
		{"pending today is open", domain.InvoiceStatusPending, today, domain.ComputedStatusOpen},
		{"pending tomorrow is open", domain.InvoiceStatusPending, today.AddDate(0, 0, 1), domain.ComputedStatusOpen},
		{"paid last year is paid", domain.InvoiceStatusPaid, today.AddDate(-1, 0, 0), domain.ComputedStatusPaid},
		{"paid in the future is paid", domain.InvoiceStatusPaid, today.AddDate(0, 1, 0), domain.ComputedStatusPaid},
		{"canceled past due is open", domain.InvoiceStatusCanceled, today.AddDate(0, 0, -10), domain.ComputedStatusOpen},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := domain.ComputeStatus(tc.status, tc.dueDate, today)
			if got != tc.want {
				t.Errorf("ComputeStatus(%s, %s) = %s, want %s", tc.status, tc.dueDate.Format("2006-01-02"), got, tc.want)
			}
		})
	}
}

func TestComputeStatus_IgnoresTimeOfDay(t *testing.T) {
	// Due at 23:59 today must still be open at 00:01 today.
	today := time.Date(2024, 6, 15, 0, 1, 0, 0, time.UTC)
	due := time.Date(2024, 6, 15, 23, 59, 0, 0, time.UTC)

	got := domain.ComputeStatus(domain.InvoiceStatusPending, due, today)
	if got != domain.ComputedStatusOpen {
		t.Errorf("expected open for same-day due date, got %s", got)
	}
}

func TestComputeStatus_MixedTimeZones(t *testing.T) {
	// Due dates persist as UTC midnight; the server clock may carry
	// any local zone. Same calendar day must still classify as open.
	saoPaulo := time.FixedZone("America/Sao_Paulo", -3*60*60)
	due := time.Date(2024, 5, 10, 0, 0, 0, 0, time.UTC)

	cases := []struct {
		name  string
		today time.Time
		want  string
	}{
		{"same day local morning", time.Date(2024, 5, 10, 9, 0, 0, 0, saoPaulo), domain.ComputedStatusOpen},
		{"same day local night", time.Date(2024, 5, 10, 23, 30, 0, 0, saoPaulo), domain.ComputedStatusOpen},
		{"next day local", time.Date(2024, 5, 11, 0, 5, 0, 0, saoPaulo), domain.ComputedStatusOverdue},
		{"previous day local", time.Date(2024, 5, 9, 22, 0, 0, 0, saoPaulo), domain.ComputedStatusOpen},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := domain.ComputeStatus(domain.InvoiceStatusPending, due, tc.today)
			if got != tc.want {
				t.Errorf("ComputeStatus(pending, %s, %s) = %s, want %s",
					due.Format(time.RFC3339), tc.today.Format(time.RFC3339), got, tc.want)
			}
		})
	}
}

func TestPaymentLinkExpired(t *testing.T) {
	created := time.Date(2024, 6, 15, 12, 0, 0, 0, time.UTC)

	cases := []struct {
		name string
		now  time.Time
		want bool
	}{
		{"just created", created, false},
		{"23h59m later", created.Add(24*time.Hour - time.Minute), false},
		{"exactly 24h later", created.Add(24 * time.Hour), false},
		{"24h01m later", created.Add(24*time.Hour + time.Minute), true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := domain.PaymentLinkExpired(created, tc.now); got != tc.want {
				t.Errorf("PaymentLinkExpired at %s = %v, want %v", tc.now, got, tc.want)
			}
		})
	}
}
