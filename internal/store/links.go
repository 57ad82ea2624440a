package store

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"github.com/fatturaanalyzer/reconciler/internal/core"
	"github.com/fatturaanalyzer/reconciler/pkg/models"
)

// BeginTx starts a transaction the ledger writer drives directly, so it
// can update an invoice, a transaction and a link atomically.
func (s *Store) BeginTx(ctx context.Context) (pgx.Tx, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, core.Transient("begin transaction", err)
	}
	return tx, nil
}

// InsertLink records a new reconciliation link inside an existing
// transaction.
func (s *Store) InsertLink(ctx context.Context, tx pgx.Tx, link models.ReconciliationLink) (int64, error) {
	const q = `
		INSERT INTO reconciliation_links (invoice_id, transaction_id, reconciled_amount)
		VALUES ($1, $2, $3)
		RETURNING id, created_at`
	var id int64
	err := tx.QueryRow(ctx, q, link.InvoiceID, link.TransactionID, link.ReconciledAmount).Scan(&id, &link.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return 0, core.Conflict("link between invoice %d and transaction %d already exists", link.InvoiceID, link.TransactionID)
		}
		return 0, core.Internal("insert link", err)
	}
	return id, nil
}

// DeleteLink removes a link inside an existing transaction, used by
// Undo.
func (s *Store) DeleteLink(ctx context.Context, tx pgx.Tx, linkID int64) error {
	const q = `DELETE FROM reconciliation_links WHERE id = $1`
	tag, err := tx.Exec(ctx, q, linkID)
	if err != nil {
		return core.Internal("delete link", err)
	}
	if tag.RowsAffected() == 0 {
		return core.NotFound("link %d not found", linkID)
	}
	return nil
}

// GetLink fetches a single link by ID.
func (s *Store) GetLink(ctx context.Context, id int64) (models.ReconciliationLink, error) {
	const q = `SELECT id, invoice_id, transaction_id, reconciled_amount, created_at FROM reconciliation_links WHERE id = $1`
	var l models.ReconciliationLink
	err := s.pool.QueryRow(ctx, q, id).Scan(&l.ID, &l.InvoiceID, &l.TransactionID, &l.ReconciledAmount, &l.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.ReconciliationLink{}, core.NotFound("link %d not found", id)
	}
	if err != nil {
		return models.ReconciliationLink{}, core.Internal("fetch link", err)
	}
	return l, nil
}

// ListLinksForInvoice returns every link touching an invoice, used to
// recompute paid_amount from ground truth.
func (s *Store) ListLinksForInvoice(ctx context.Context, tx pgx.Tx, invoiceID int64) ([]models.ReconciliationLink, error) {
	const q = `SELECT id, invoice_id, transaction_id, reconciled_amount, created_at FROM reconciliation_links WHERE invoice_id = $1`
	rows, err := tx.Query(ctx, q, invoiceID)
	if err != nil {
		return nil, core.Internal("list links for invoice", err)
	}
	defer rows.Close()
	return collectLinks(rows)
}

// ListLinksForTransaction returns every link touching a transaction.
func (s *Store) ListLinksForTransaction(ctx context.Context, tx pgx.Tx, transactionID int64) ([]models.ReconciliationLink, error) {
	const q = `SELECT id, invoice_id, transaction_id, reconciled_amount, created_at FROM reconciliation_links WHERE transaction_id = $1`
	rows, err := tx.Query(ctx, q, transactionID)
	if err != nil {
		return nil, core.Internal("list links for transaction", err)
	}
	defer rows.Close()
	return collectLinks(rows)
}

// ListLinksByInvoice is the read-only variant of ListLinksForInvoice
// for callers (the facade's list_links operation) that are not already
// inside a ledger write transaction.
func (s *Store) ListLinksByInvoice(ctx context.Context, invoiceID int64) ([]models.ReconciliationLink, error) {
	const q = `SELECT id, invoice_id, transaction_id, reconciled_amount, created_at FROM reconciliation_links WHERE invoice_id = $1`
	rows, err := s.pool.Query(ctx, q, invoiceID)
	if err != nil {
		return nil, core.Internal("list links for invoice", err)
	}
	defer rows.Close()
	return collectLinks(rows)
}

// ListLinksByTransaction is the read-only variant of
// ListLinksForTransaction.
func (s *Store) ListLinksByTransaction(ctx context.Context, transactionID int64) ([]models.ReconciliationLink, error) {
	const q = `SELECT id, invoice_id, transaction_id, reconciled_amount, created_at FROM reconciliation_links WHERE transaction_id = $1`
	rows, err := s.pool.Query(ctx, q, transactionID)
	if err != nil {
		return nil, core.Internal("list links for transaction", err)
	}
	defer rows.Close()
	return collectLinks(rows)
}

// ListAllLinks returns every reconciliation link, the unfiltered path
// for the facade's list_links operation.
func (s *Store) ListAllLinks(ctx context.Context) ([]models.ReconciliationLink, error) {
	const q = `SELECT id, invoice_id, transaction_id, reconciled_amount, created_at FROM reconciliation_links ORDER BY id ASC`
	rows, err := s.pool.Query(ctx, q)
	if err != nil {
		return nil, core.Internal("list all links", err)
	}
	defer rows.Close()
	return collectLinks(rows)
}

func collectLinks(rows pgx.Rows) ([]models.ReconciliationLink, error) {
	var out []models.ReconciliationLink
	for rows.Next() {
		var l models.ReconciliationLink
		if err := rows.Scan(&l.ID, &l.InvoiceID, &l.TransactionID, &l.ReconciledAmount, &l.CreatedAt); err != nil {
			return nil, core.Internal("scan link", err)
		}
		out = append(out, l)
	}
	if err := rows.Err(); err != nil {
		return nil, core.Internal("iterate links", err)
	}
	return out, nil
}

// GetInvoiceForUpdate fetches an invoice inside the given transaction
// with a row lock, so concurrent ApplyMatch calls against the same
// invoice serialize instead of racing on residual computation.
func (s *Store) GetInvoiceForUpdate(ctx context.Context, tx pgx.Tx, id int64) (models.Invoice, error) {
	const q = `SELECT ` + invoiceColumns + ` FROM invoices WHERE id = $1 FOR UPDATE`
	inv, err := scanInvoice(tx.QueryRow(ctx, q, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Invoice{}, core.NotFound("invoice %d not found", id)
	}
	if err != nil {
		return models.Invoice{}, core.Internal("fetch invoice for update", err)
	}
	return inv, nil
}

// GetTransactionForUpdate fetches a transaction inside the given
// transaction with a row lock.
func (s *Store) GetTransactionForUpdate(ctx context.Context, tx pgx.Tx, id int64) (models.BankTransaction, error) {
	const q = `SELECT ` + transactionColumns + ` FROM bank_transactions WHERE id = $1 FOR UPDATE`
	t, err := scanTransaction(tx.QueryRow(ctx, q, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return models.BankTransaction{}, core.NotFound("transaction %d not found", id)
	}
	if err != nil {
		return models.BankTransaction{}, core.Internal("fetch transaction for update", err)
	}
	return t, nil
}
