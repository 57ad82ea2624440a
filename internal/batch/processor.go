// Package batch implements the whole-ledger recomputation sweep:
// an on-demand pass that re-derives every invoice and transaction's
// paid/reconciled status from the ground truth of reconciliation_links
// and writes back only the rows that drifted. Unlike internal/ledger,
// which raises on any single validation failure, this sweep records a
// failed batch write in its report and goes on with the other table,
// reporting counts at the end; a failed read ends the pass with that
// error. It exists to repair drift, not to gate a single user action.
package batch

import (
	"context"
	"fmt"
	"time"

	"github.com/fatturaanalyzer/reconciler/internal/money"
	"github.com/fatturaanalyzer/reconciler/internal/store"
	"github.com/fatturaanalyzer/reconciler/pkg/models"
)

// Processor drives the recomputation sweep over a Store.
type Processor struct {
	store *store.Store
	now   func() time.Time
}

// New builds a Processor over s.
func New(s *store.Store) *Processor {
	return &Processor{store: s, now: time.Now}
}

// Report summarizes one RecomputeAll pass.
type Report struct {
	InvoicesChecked     int
	InvoicesUpdated     int
	TransactionsChecked int
	TransactionsUpdated int
	Errors              []string
}

// RecomputeAll reads every invoice/transaction projection plus the two
// aggregate link-sum maps (one SQL query each, not one per row), diffs
// in memory, and writes each table's dirty rows back in one batched
// multi-row UPDATE — the query count is constant regardless of how
// many rows the sweep touches.
func (p *Processor) RecomputeAll(ctx context.Context) (Report, error) {
	var report Report

	invoices, err := p.store.ListInvoiceStates(ctx)
	if err != nil {
		return report, err
	}
	transactions, err := p.store.ListTransactionStates(ctx)
	if err != nil {
		return report, err
	}
	invoiceSums, err := p.store.InvoiceLinkSums(ctx)
	if err != nil {
		return report, err
	}
	txSums, err := p.store.TransactionLinkSums(ctx)
	if err != nil {
		return report, err
	}

	today := p.now()

	var dirtyInvoices []store.InvoicePaymentUpdate
	for _, inv := range invoices {
		report.InvoicesChecked++
		linked := money.Quantize(invoiceSums[inv.ID])
		status := invoiceStatus(inv, linked, today)
		if money.Equal(linked, inv.PaidAmount) && status == inv.Status {
			continue
		}
		dirtyInvoices = append(dirtyInvoices, store.InvoicePaymentUpdate{
			ID:         inv.ID,
			PaidAmount: linked,
			Status:     status,
		})
	}
	if err := p.store.UpdateInvoicePaymentStates(ctx, dirtyInvoices); err != nil {
		report.Errors = append(report.Errors, fmt.Sprintf("invoice batch write: %v", err))
	} else {
		report.InvoicesUpdated = len(dirtyInvoices)
	}

	var dirtyTransactions []store.TransactionReconciliationUpdate
	for _, txn := range transactions {
		report.TransactionsChecked++
		linked := money.Quantize(txSums[txn.ID])
		status := transactionStatus(txn, linked)
		if money.Equal(linked, txn.ReconciledAmount) && status == txn.Status {
			continue
		}
		dirtyTransactions = append(dirtyTransactions, store.TransactionReconciliationUpdate{
			ID:               txn.ID,
			ReconciledAmount: linked,
			Status:           status,
		})
	}
	if err := p.store.UpdateTransactionReconciliationStates(ctx, dirtyTransactions); err != nil {
		report.Errors = append(report.Errors, fmt.Sprintf("transaction batch write: %v", err))
	} else {
		report.TransactionsUpdated = len(dirtyTransactions)
	}

	return report, nil
}

// invoiceStatus mirrors internal/ledger's recomputeInvoiceStatus; the
// sweep must agree byte-for-byte with the ledger on the ground-truth
// function, so it is duplicated here rather than imported to keep the
// two packages free of a dependency cycle (ledger does not need batch,
// and vice versa) while both stay pure functions of the same inputs.
func invoiceStatus(inv store.InvoiceState, linked float64, today time.Time) models.PaymentStatus {
	switch {
	case linked <= money.Tolerance/2:
		if inv.DueDate != nil && inv.DueDate.Before(today) {
			return models.PaymentOverdue
		}
		return models.PaymentOpen
	case money.Equal(linked, inv.TotalAmount):
		return models.PaymentFullyPaid
	default:
		return models.PaymentPartiallyPaid
	}
}

func transactionStatus(txn store.TransactionState, linked float64) models.ReconciliationStatus {
	if txn.Status == models.ReconciliationIgnored {
		return models.ReconciliationIgnored
	}
	absAmount := txn.Amount
	if absAmount < 0 {
		absAmount = -absAmount
	}
	switch {
	case linked <= money.Tolerance/2:
		return models.ReconciliationUnreconciled
	case money.Equal(linked, absAmount):
		return models.ReconciliationFullyReconciled
	case linked > absAmount+money.Tolerance:
		return models.ReconciliationExcessReconciled
	default:
		return models.ReconciliationPartiallyReconciled
	}
}
