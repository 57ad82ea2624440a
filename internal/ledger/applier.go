// Package ledger implements the link applier and state reducer: the
// only path that mutates invoices, transactions and reconciliation
// links. Every mutation runs inside one SQL transaction — preflight
// validation, the write, and status recomputation from the
// ground-truth sum of links — with the Begin/defer Rollback/Commit
// idiom wrapping the multi-statement write.
package ledger

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/fatturaanalyzer/reconciler/internal/core"
	"github.com/fatturaanalyzer/reconciler/internal/money"
	"github.com/fatturaanalyzer/reconciler/internal/store"
	"github.com/fatturaanalyzer/reconciler/pkg/models"
)

// Applier is the ledger write surface. It holds no mutable state of its
// own; every invariant is re-derived from the store inside a
// transaction on every call.
type Applier struct {
	store *store.Store
	now   func() time.Time
}

// New builds an Applier over s. now defaults to time.Now and is
// overridable so tests can pin "today" for due-date/Overdue checks.
func New(s *store.Store) *Applier {
	return &Applier{store: s, now: time.Now}
}

// ApplyResult reports the post-mutation state of both items.
type ApplyResult struct {
	LinkID               int64
	InvoicePaidAmount    float64
	InvoicePaymentStatus models.PaymentStatus
	TransactionReconciled float64
	TransactionStatus    models.ReconciliationStatus
}

// ApplyMatch is the manual application primitive.
func (a *Applier) ApplyMatch(ctx context.Context, invoiceID, transactionID int64, amount float64) (ApplyResult, error) {
	var result ApplyResult

	tx, err := a.store.BeginTx(ctx)
	if err != nil {
		return result, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	res, err := a.applyMatchTx(ctx, tx, invoiceID, transactionID, amount)
	if err != nil {
		return ApplyResult{}, err
	}

	if err := core.RetryCommit("commit apply_match", func() error { return tx.Commit(ctx) }); err != nil {
		return ApplyResult{}, err
	}
	return res, nil
}

// applyMatchTx runs the full preflight + mutation + recomputation
// inside an already-open transaction, so ApplyBatch can compose it.
func (a *Applier) applyMatchTx(ctx context.Context, tx pgx.Tx, invoiceID, transactionID int64, amount float64) (ApplyResult, error) {
	if amount <= 0 {
		return ApplyResult{}, core.Validation("amount must be positive, got %v", amount)
	}

	inv, err := a.store.GetInvoiceForUpdate(ctx, tx, invoiceID)
	if err != nil {
		return ApplyResult{}, err
	}
	txn, err := a.store.GetTransactionForUpdate(ctx, tx, transactionID)
	if err != nil {
		return ApplyResult{}, err
	}

	if err := validateDirection(inv, txn); err != nil {
		return ApplyResult{}, err
	}
	if err := validateStates(inv, txn); err != nil {
		return ApplyResult{}, err
	}
	if amount > inv.Residual()+money.Tolerance {
		return ApplyResult{}, core.Validation("amount %v exceeds invoice residual %v", amount, inv.Residual())
	}
	if amount > absFloat(txn.Residual())+money.Tolerance {
		return ApplyResult{}, core.Validation("amount %v exceeds transaction residual %v", amount, txn.Residual())
	}

	linkID, err := a.upsertLink(ctx, tx, invoiceID, transactionID, amount)
	if err != nil {
		return ApplyResult{}, err
	}

	invLinks, err := a.store.ListLinksForInvoice(ctx, tx, invoiceID)
	if err != nil {
		return ApplyResult{}, err
	}
	txLinks, err := a.store.ListLinksForTransaction(ctx, tx, transactionID)
	if err != nil {
		return ApplyResult{}, err
	}

	invPaid := sumLinks(invLinks)
	invStatus := recomputeInvoiceStatus(inv, invPaid, a.now())
	if err := a.store.UpdateInvoicePaymentState(ctx, tx, invoiceID, invPaid, invStatus); err != nil {
		return ApplyResult{}, err
	}

	txReconciled := sumLinks(txLinks)
	txStatus := recomputeTransactionStatus(txn, txReconciled)
	if err := a.store.UpdateTransactionReconciliationState(ctx, tx, transactionID, txReconciled, txStatus); err != nil {
		return ApplyResult{}, err
	}

	return ApplyResult{
		LinkID:                linkID,
		InvoicePaidAmount:     invPaid,
		InvoicePaymentStatus:  invStatus,
		TransactionReconciled: txReconciled,
		TransactionStatus:     txStatus,
	}, nil
}

// upsertLink sum-merges into an existing link for the (invoice,
// transaction) pair, or inserts a new one.
func (a *Applier) upsertLink(ctx context.Context, tx pgx.Tx, invoiceID, transactionID int64, amount float64) (int64, error) {
	existing, err := a.store.ListLinksForInvoice(ctx, tx, invoiceID)
	if err != nil {
		return 0, err
	}
	for _, l := range existing {
		if l.TransactionID == transactionID {
			if err := a.store.DeleteLink(ctx, tx, l.ID); err != nil {
				return 0, err
			}
			return a.store.InsertLink(ctx, tx, models.ReconciliationLink{
				InvoiceID:        invoiceID,
				TransactionID:    transactionID,
				ReconciledAmount: l.ReconciledAmount + amount,
			})
		}
	}
	return a.store.InsertLink(ctx, tx, models.ReconciliationLink{
		InvoiceID:        invoiceID,
		TransactionID:    transactionID,
		ReconciledAmount: amount,
	})
}

// ValidateMatch runs the preflight checks without writing
// anything, for the facade's dry-run validate_match operation.
func (a *Applier) ValidateMatch(ctx context.Context, invoiceID, transactionID int64, amount float64) error {
	if amount <= 0 {
		return core.Validation("amount must be positive, got %v", amount)
	}
	inv, err := a.store.GetInvoice(ctx, invoiceID)
	if err != nil {
		return err
	}
	txn, err := a.store.GetTransaction(ctx, transactionID)
	if err != nil {
		return err
	}
	if err := validateDirection(inv, txn); err != nil {
		return err
	}
	if err := validateStates(inv, txn); err != nil {
		return err
	}
	if amount > inv.Residual()+money.Tolerance {
		return core.Validation("amount %v exceeds invoice residual %v", amount, inv.Residual())
	}
	if amount > absFloat(txn.Residual())+money.Tolerance {
		return core.Validation("amount %v exceeds transaction residual %v", amount, txn.Residual())
	}
	return nil
}

func validateDirection(inv models.Invoice, txn models.BankTransaction) error {
	switch inv.Direction {
	case models.DirectionOutgoing:
		if txn.Amount < 0 {
			return core.Validation("outgoing invoice requires a positive (credit) transaction")
		}
	case models.DirectionIncoming:
		if txn.Amount > 0 {
			return core.Validation("incoming invoice requires a negative (debit) transaction")
		}
	}
	return nil
}

func validateStates(inv models.Invoice, txn models.BankTransaction) error {
	if inv.PaymentStatus == models.PaymentFullyPaid {
		return core.Validation("invoice %d is already fully paid", inv.ID)
	}
	switch txn.ReconciliationStatus {
	case models.ReconciliationFullyReconciled, models.ReconciliationExcessReconciled, models.ReconciliationIgnored:
		return core.Validation("transaction %d is not open for reconciliation (status=%s)", txn.ID, txn.ReconciliationStatus)
	}
	return nil
}

// recomputeInvoiceStatus derives the invoice payment status from the linked sum of its links.
func recomputeInvoiceStatus(inv models.Invoice, linked float64, today time.Time) models.PaymentStatus {
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

// recomputeTransactionStatus derives the transaction reconciliation status from its linked sum.
func recomputeTransactionStatus(txn models.BankTransaction, linked float64) models.ReconciliationStatus {
	if txn.ReconciliationStatus == models.ReconciliationIgnored {
		return models.ReconciliationIgnored
	}
	absAmount := absFloat(txn.Amount)
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

func sumLinks(links []models.ReconciliationLink) float64 {
	var sum float64
	for _, l := range links {
		sum += l.ReconciledAmount
	}
	return money.Quantize(sum)
}

func absFloat(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
