package batch

import (
	"testing"
	"time"

	"github.com/fatturaanalyzer/reconciler/internal/store"
	"github.com/fatturaanalyzer/reconciler/pkg/models"
)

func TestInvoiceStatusClassification(t *testing.T) {
	today := time.Date(2024, 6, 15, 0, 0, 0, 0, time.UTC)
	due := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)

	cases := []struct {
		name   string
		inv    store.InvoiceState
		linked float64
		want   models.PaymentStatus
	}{
		{"open", store.InvoiceState{TotalAmount: 250}, 0, models.PaymentOpen},
		{"overdue", store.InvoiceState{TotalAmount: 250, DueDate: &due}, 0, models.PaymentOverdue},
		{"partial", store.InvoiceState{TotalAmount: 250}, 100, models.PaymentPartiallyPaid},
		{"full", store.InvoiceState{TotalAmount: 250}, 250, models.PaymentFullyPaid},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if got := invoiceStatus(c.inv, c.linked, today); got != c.want {
				t.Fatalf("invoiceStatus(linked=%v) = %v, want %v", c.linked, got, c.want)
			}
		})
	}
}

func TestTransactionStatusClassification(t *testing.T) {
	cases := []struct {
		name   string
		txn    store.TransactionState
		linked float64
		want   models.ReconciliationStatus
	}{
		{"unreconciled", store.TransactionState{Amount: -80}, 0, models.ReconciliationUnreconciled},
		{"partial", store.TransactionState{Amount: -80}, 30, models.ReconciliationPartiallyReconciled},
		{"full", store.TransactionState{Amount: -80}, 80, models.ReconciliationFullyReconciled},
		{"excess", store.TransactionState{Amount: -80}, 80.5, models.ReconciliationExcessReconciled},
		{"sticky ignored", store.TransactionState{Amount: -80, Status: models.ReconciliationIgnored}, 0, models.ReconciliationIgnored},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if got := transactionStatus(c.txn, c.linked); got != c.want {
				t.Fatalf("transactionStatus(linked=%v) = %v, want %v", c.linked, got, c.want)
			}
		})
	}
}
