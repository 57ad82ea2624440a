package ledger

import (
	"testing"
	"time"

	"github.com/fatturaanalyzer/reconciler/pkg/models"
)

var today = time.Date(2024, 6, 15, 0, 0, 0, 0, time.UTC)

func datePtr(y int, m time.Month, d int) *time.Time {
	t := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
	return &t
}

func TestRecomputeInvoiceStatus(t *testing.T) {
	cases := []struct {
		name   string
		inv    models.Invoice
		linked float64
		want   models.PaymentStatus
	}{
		{"unlinked stays open", models.Invoice{TotalAmount: 100}, 0, models.PaymentOpen},
		{"unlinked past due is overdue", models.Invoice{TotalAmount: 100, DueDate: datePtr(2024, 5, 1)}, 0, models.PaymentOverdue},
		{"unlinked future due stays open", models.Invoice{TotalAmount: 100, DueDate: datePtr(2024, 12, 1)}, 0, models.PaymentOpen},
		{"partial", models.Invoice{TotalAmount: 100}, 60, models.PaymentPartiallyPaid},
		{"full", models.Invoice{TotalAmount: 100}, 100, models.PaymentFullyPaid},
		{"full within tolerance", models.Invoice{TotalAmount: 100}, 99.995, models.PaymentFullyPaid},
		{"partial past due is not overdue", models.Invoice{TotalAmount: 100, DueDate: datePtr(2024, 5, 1)}, 60, models.PaymentPartiallyPaid},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if got := recomputeInvoiceStatus(c.inv, c.linked, today); got != c.want {
				t.Fatalf("recomputeInvoiceStatus(linked=%v) = %v, want %v", c.linked, got, c.want)
			}
		})
	}
}

func TestRecomputeTransactionStatus(t *testing.T) {
	cases := []struct {
		name   string
		txn    models.BankTransaction
		linked float64
		want   models.ReconciliationStatus
	}{
		{"unlinked", models.BankTransaction{Amount: 100}, 0, models.ReconciliationUnreconciled},
		{"partial", models.BankTransaction{Amount: 100}, 40, models.ReconciliationPartiallyReconciled},
		{"full", models.BankTransaction{Amount: 100}, 100, models.ReconciliationFullyReconciled},
		{"full on debit uses absolute amount", models.BankTransaction{Amount: -100}, 100, models.ReconciliationFullyReconciled},
		{"excess", models.BankTransaction{Amount: 100}, 100.50, models.ReconciliationExcessReconciled},
		{"ignored is sticky", models.BankTransaction{Amount: 100, ReconciliationStatus: models.ReconciliationIgnored}, 100, models.ReconciliationIgnored},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if got := recomputeTransactionStatus(c.txn, c.linked); got != c.want {
				t.Fatalf("recomputeTransactionStatus(linked=%v) = %v, want %v", c.linked, got, c.want)
			}
		})
	}
}

func TestValidateDirection(t *testing.T) {
	outgoing := models.Invoice{Direction: models.DirectionOutgoing}
	incoming := models.Invoice{Direction: models.DirectionIncoming}
	credit := models.BankTransaction{Amount: 100}
	debit := models.BankTransaction{Amount: -100}

	if err := validateDirection(outgoing, credit); err != nil {
		t.Fatalf("outgoing + credit should validate: %v", err)
	}
	if err := validateDirection(incoming, debit); err != nil {
		t.Fatalf("incoming + debit should validate: %v", err)
	}
	if err := validateDirection(outgoing, debit); err == nil {
		t.Fatal("outgoing + debit should be rejected")
	}
	if err := validateDirection(incoming, credit); err == nil {
		t.Fatal("incoming + credit should be rejected")
	}
}

func TestValidateStates(t *testing.T) {
	open := models.Invoice{ID: 1, PaymentStatus: models.PaymentPartiallyPaid}
	paid := models.Invoice{ID: 2, PaymentStatus: models.PaymentFullyPaid}
	free := models.BankTransaction{ID: 1, ReconciliationStatus: models.ReconciliationPartiallyReconciled}

	if err := validateStates(open, free); err != nil {
		t.Fatalf("open pair should validate: %v", err)
	}
	if err := validateStates(paid, free); err == nil {
		t.Fatal("fully paid invoice should be rejected")
	}
	for _, status := range []models.ReconciliationStatus{
		models.ReconciliationFullyReconciled,
		models.ReconciliationExcessReconciled,
		models.ReconciliationIgnored,
	} {
		if err := validateStates(open, models.BankTransaction{ID: 2, ReconciliationStatus: status}); err == nil {
			t.Fatalf("transaction in %v should be rejected", status)
		}
	}
}

func TestSumLinksQuantizes(t *testing.T) {
	links := []models.ReconciliationLink{
		{ReconciledAmount: 0.1},
		{ReconciledAmount: 0.2},
		{ReconciledAmount: 0.3},
	}
	if got := sumLinks(links); got != 0.6 {
		t.Fatalf("sumLinks = %v, want 0.6", got)
	}
}
