package store

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"github.com/fatturaanalyzer/reconciler/internal/core"
	"github.com/fatturaanalyzer/reconciler/pkg/models"
)

const invoiceColumns = `id, counterparty_id, direction, doc_number, doc_date, due_date, total_amount, paid_amount, payment_status, content_hash`

func scanInvoice(row pgx.Row) (models.Invoice, error) {
	var inv models.Invoice
	var direction, status int
	err := row.Scan(&inv.ID, &inv.CounterpartyID, &direction, &inv.DocNumber, &inv.DocDate, &inv.DueDate,
		&inv.TotalAmount, &inv.PaidAmount, &status, &inv.ContentHash)
	if err != nil {
		return models.Invoice{}, err
	}
	inv.Direction = models.Direction(direction)
	inv.PaymentStatus = models.PaymentStatus(status)
	return inv, nil
}

// InsertInvoice inserts a new invoice and returns its ID. Callers must
// pre-check content_hash uniqueness via FindInvoiceByHash for idempotent
// importers; a duplicate hash here returns KindConflict.
func (s *Store) InsertInvoice(ctx context.Context, inv models.Invoice) (int64, error) {
	const q = `
		INSERT INTO invoices (counterparty_id, direction, doc_number, doc_date, due_date, total_amount, paid_amount, payment_status, content_hash)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id`
	var id int64
	err := s.pool.QueryRow(ctx, q, inv.CounterpartyID, int(inv.Direction), inv.DocNumber, inv.DocDate, inv.DueDate,
		inv.TotalAmount, inv.PaidAmount, int(inv.PaymentStatus), inv.ContentHash).Scan(&id)
	if err != nil {
		if isUniqueViolation(err) {
			return 0, core.Conflict("invoice with hash %s already exists", inv.ContentHash)
		}
		return 0, core.Internal("insert invoice", err)
	}
	return id, nil
}

// GetInvoice fetches a single invoice by ID.
func (s *Store) GetInvoice(ctx context.Context, id int64) (models.Invoice, error) {
	const q = `SELECT ` + invoiceColumns + ` FROM invoices WHERE id = $1`
	inv, err := scanInvoice(s.pool.QueryRow(ctx, q, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Invoice{}, core.NotFound("invoice %d not found", id)
	}
	if err != nil {
		return models.Invoice{}, core.Internal("fetch invoice", err)
	}
	return inv, nil
}

// FindInvoiceByHash supports importer idempotency.
func (s *Store) FindInvoiceByHash(ctx context.Context, hash string) (models.Invoice, bool, error) {
	const q = `SELECT ` + invoiceColumns + ` FROM invoices WHERE content_hash = $1`
	inv, err := scanInvoice(s.pool.QueryRow(ctx, q, hash))
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Invoice{}, false, nil
	}
	if err != nil {
		return models.Invoice{}, false, core.Internal("fetch invoice by hash", err)
	}
	return inv, true, nil
}

// ListOpenInvoicesForCounterparty returns invoices not yet fully paid,
// the candidate set the suggestion engine scans for a counterparty.
func (s *Store) ListOpenInvoicesForCounterparty(ctx context.Context, counterpartyID int64) ([]models.Invoice, error) {
	const q = `
		SELECT ` + invoiceColumns + ` FROM invoices
		WHERE counterparty_id = $1 AND payment_status <> $2
		ORDER BY doc_date ASC`
	rows, err := s.pool.Query(ctx, q, counterpartyID, int(models.PaymentFullyPaid))
	if err != nil {
		return nil, core.Internal("list open invoices", err)
	}
	defer rows.Close()
	return collectInvoices(rows)
}

// ListAllOpenInvoices is the full candidate pool used by the batch
// reconciliation sweep.
func (s *Store) ListAllOpenInvoices(ctx context.Context) ([]models.Invoice, error) {
	const q = `SELECT ` + invoiceColumns + ` FROM invoices WHERE payment_status <> $1 ORDER BY doc_date ASC`
	rows, err := s.pool.Query(ctx, q, int(models.PaymentFullyPaid))
	if err != nil {
		return nil, core.Internal("list all open invoices", err)
	}
	defer rows.Close()
	return collectInvoices(rows)
}

func collectInvoices(rows pgx.Rows) ([]models.Invoice, error) {
	var out []models.Invoice
	for rows.Next() {
		inv, err := scanInvoice(rows)
		if err != nil {
			return nil, core.Internal("scan invoice", err)
		}
		out = append(out, inv)
	}
	if err := rows.Err(); err != nil {
		return nil, core.Internal("iterate invoices", err)
	}
	return out, nil
}

// UpdateInvoicePaymentState writes back paidAmount/status after a ledger
// mutation; always called inside the ledger's transaction.
func (s *Store) UpdateInvoicePaymentState(ctx context.Context, tx pgx.Tx, id int64, paidAmount float64, status models.PaymentStatus) error {
	const q = `UPDATE invoices SET paid_amount = $2, payment_status = $3 WHERE id = $1`
	tag, err := tx.Exec(ctx, q, id, paidAmount, int(status))
	if err != nil {
		return core.Internal("update invoice payment state", err)
	}
	if tag.RowsAffected() == 0 {
		return core.NotFound("invoice %d not found", id)
	}
	return nil
}

// InsertInvoiceLines persists the parser-supplied line items; the core
// never reads them back.
func (s *Store) InsertInvoiceLines(ctx context.Context, invoiceID int64, lines []models.InvoiceLine) error {
	const q = `
		INSERT INTO invoice_lines (invoice_id, line_number, description, quantity, unit_price, total_amount, vat_rate)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`
	for _, l := range lines {
		if _, err := s.pool.Exec(ctx, q, invoiceID, l.LineNumber, l.Description, l.Quantity, l.UnitPrice, l.TotalAmount, l.VATRate); err != nil {
			return core.Internal("insert invoice line", err)
		}
	}
	return nil
}

// InsertInvoiceVATSummary persists the parser-supplied VAT aggregate
// rows; the core never computes tax from them.
func (s *Store) InsertInvoiceVATSummary(ctx context.Context, invoiceID int64, rows []models.InvoiceVATSummary) error {
	const q = `
		INSERT INTO invoice_vat_summary (invoice_id, vat_rate, taxable, vat_amount)
		VALUES ($1, $2, $3, $4)`
	for _, r := range rows {
		if _, err := s.pool.Exec(ctx, q, invoiceID, r.VATRate, r.Taxable, r.VATAmount); err != nil {
			return core.Internal("insert invoice vat summary", err)
		}
	}
	return nil
}
