package ledger

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/fatturaanalyzer/reconciler/internal/core"
	"github.com/fatturaanalyzer/reconciler/pkg/models"
)

// Ignore removes every link touching a transaction, recomputes the
// invoices that were attached to them, and marks the transaction
// Ignored — the sticky status recomputeTransactionStatus always
// preserves until Unignore clears it.
func (a *Applier) Ignore(ctx context.Context, transactionID int64) error {
	tx, err := a.store.BeginTx(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	txn, err := a.store.GetTransactionForUpdate(ctx, tx, transactionID)
	if err != nil {
		return err
	}
	if err := a.detachTransaction(ctx, tx, txn.ID); err != nil {
		return err
	}
	if err := a.store.UpdateTransactionReconciliationState(ctx, tx, transactionID, 0, models.ReconciliationIgnored); err != nil {
		return err
	}
	if err := core.RetryCommit("commit ignore", func() error { return tx.Commit(ctx) }); err != nil {
		return err
	}
	return nil
}

// Unignore clears the sticky Ignored bit and recomputes the
// transaction's status from its (now empty, since Ignore already
// detached every link) set of links.
func (a *Applier) Unignore(ctx context.Context, transactionID int64) error {
	tx, err := a.store.BeginTx(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	txn, err := a.store.GetTransactionForUpdate(ctx, tx, transactionID)
	if err != nil {
		return err
	}
	if txn.ReconciliationStatus != models.ReconciliationIgnored {
		return core.Validation("transaction %d is not ignored", transactionID)
	}
	links, err := a.store.ListLinksForTransaction(ctx, tx, transactionID)
	if err != nil {
		return err
	}
	linked := sumLinks(links)
	status := recomputeTransactionStatus(models.BankTransaction{Amount: txn.Amount}, linked)
	if err := a.store.UpdateTransactionReconciliationState(ctx, tx, transactionID, linked, status); err != nil {
		return err
	}
	if err := core.RetryCommit("commit unignore", func() error { return tx.Commit(ctx) }); err != nil {
		return err
	}
	return nil
}

// Undo removes every link touching a transaction and recomputes every
// invoice it had been attached to, without altering the transaction's
// own Ignored bit.
func (a *Applier) Undo(ctx context.Context, transactionID int64) error {
	tx, err := a.store.BeginTx(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	txn, err := a.store.GetTransactionForUpdate(ctx, tx, transactionID)
	if err != nil {
		return err
	}
	if err := a.detachTransaction(ctx, tx, txn.ID); err != nil {
		return err
	}
	status := models.ReconciliationUnreconciled
	if txn.ReconciliationStatus == models.ReconciliationIgnored {
		status = models.ReconciliationIgnored
	}
	if err := a.store.UpdateTransactionReconciliationState(ctx, tx, transactionID, 0, status); err != nil {
		return err
	}
	if err := core.RetryCommit("commit undo", func() error { return tx.Commit(ctx) }); err != nil {
		return err
	}
	return nil
}

// UndoByInvoice removes every link touching an invoice and recomputes
// every transaction it had been attached to — the by-invoice mirror of
// Undo, for the DELETE /reconciliation/by-invoice/{id} surface.
func (a *Applier) UndoByInvoice(ctx context.Context, invoiceID int64) error {
	tx, err := a.store.BeginTx(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := a.store.GetInvoiceForUpdate(ctx, tx, invoiceID); err != nil {
		return err
	}
	if err := a.detachInvoice(ctx, tx, invoiceID); err != nil {
		return err
	}
	if err := core.RetryCommit("commit undo by invoice", func() error { return tx.Commit(ctx) }); err != nil {
		return err
	}
	return nil
}

// detachInvoice deletes every link touching invoiceID, recomputes the
// invoice itself (to zero), and recomputes every transaction on the
// other end of those links — the invoice-anchored mirror of
// detachTransaction.
func (a *Applier) detachInvoice(ctx context.Context, tx pgx.Tx, invoiceID int64) error {
	links, err := a.store.ListLinksForInvoice(ctx, tx, invoiceID)
	if err != nil {
		return err
	}
	for _, l := range links {
		if err := a.store.DeleteLink(ctx, tx, l.ID); err != nil {
			return err
		}
		txn, err := a.store.GetTransactionForUpdate(ctx, tx, l.TransactionID)
		if err != nil {
			return err
		}
		remaining, err := a.store.ListLinksForTransaction(ctx, tx, l.TransactionID)
		if err != nil {
			return err
		}
		linked := sumLinks(remaining)
		status := recomputeTransactionStatus(txn, linked)
		if err := a.store.UpdateTransactionReconciliationState(ctx, tx, l.TransactionID, linked, status); err != nil {
			return err
		}
	}
	inv, err := a.store.GetInvoiceForUpdate(ctx, tx, invoiceID)
	if err != nil {
		return err
	}
	return a.store.UpdateInvoicePaymentState(ctx, tx, invoiceID, 0, recomputeInvoiceStatus(inv, 0, a.now()))
}

// detachTransaction deletes every link touching transactionID and
// recomputes the paid_amount/status of every invoice that was on the
// other end of those links, all inside the caller's transaction.
func (a *Applier) detachTransaction(ctx context.Context, tx pgx.Tx, transactionID int64) error {
	links, err := a.store.ListLinksForTransaction(ctx, tx, transactionID)
	if err != nil {
		return err
	}
	for _, l := range links {
		if err := a.store.DeleteLink(ctx, tx, l.ID); err != nil {
			return err
		}
		inv, err := a.store.GetInvoiceForUpdate(ctx, tx, l.InvoiceID)
		if err != nil {
			return err
		}
		remaining, err := a.store.ListLinksForInvoice(ctx, tx, l.InvoiceID)
		if err != nil {
			return err
		}
		paid := sumLinks(remaining)
		status := recomputeInvoiceStatus(inv, paid, a.now())
		if err := a.store.UpdateInvoicePaymentState(ctx, tx, l.InvoiceID, paid, status); err != nil {
			return err
		}
	}
	return nil
}
