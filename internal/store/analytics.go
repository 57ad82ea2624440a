package store

import (
	"context"

	"github.com/fatturaanalyzer/reconciler/internal/core"
	"github.com/fatturaanalyzer/reconciler/pkg/models"
)

// ListPaymentRecords returns the settled (invoice, transaction) history
// for one counterparty, joining through reconciliation_links — the raw
// training set the pattern learner consumes. Each link touching a
// transaction contributes one record per invoice it settles; a single
// transaction split across invoices yields one record per invoice,
// each carrying the other invoice doc numbers it was paid alongside.
func (s *Store) ListPaymentRecords(ctx context.Context, counterpartyID int64) ([]models.PaymentRecord, error) {
	const q = `
		SELECT i.doc_date, t.transaction_date, l.reconciled_amount, t.description,
		       (SELECT array_agg(i2.doc_number) FROM reconciliation_links l2
		        JOIN invoices i2 ON i2.id = l2.invoice_id
		        WHERE l2.transaction_id = t.id AND i2.id != i.id)
		FROM reconciliation_links l
		JOIN invoices i ON i.id = l.invoice_id
		JOIN bank_transactions t ON t.id = l.transaction_id
		WHERE i.counterparty_id = $1
		  AND t.transaction_date >= NOW() - INTERVAL '3 years'
		ORDER BY t.transaction_date ASC
		LIMIT 5000`

	rows, err := s.pool.Query(ctx, q, counterpartyID)
	if err != nil {
		return nil, core.Internal("list payment records", err)
	}
	defer rows.Close()

	var records []models.PaymentRecord
	for rows.Next() {
		var r models.PaymentRecord
		var related []string
		if err := rows.Scan(&r.InvoiceDate, &r.PaymentDate, &r.Amount, &r.Description, &related); err != nil {
			return nil, core.Internal("scan payment record", err)
		}
		r.RelatedDocNumbers = related
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, core.Internal("iterate payment records", err)
	}
	return records, nil
}

// DashboardSummary is what the read-only analytics endpoint returns:
// counts by status plus the total unreconciled amount outstanding
// across both invoices and transactions.
type DashboardSummary struct {
	OpenInvoices           int64
	OverdueInvoices        int64
	PartiallyPaidInvoices  int64
	FullyPaidInvoices      int64
	UnreconciledTxns       int64
	PartiallyReconciledTxns int64
	FullyReconciledTxns    int64
	IgnoredTxns            int64
	TotalOutstanding       float64
}

// DashboardSummary aggregates status counts in two queries (one per
// table) rather than a per-row scan, the same single-aggregate-read
// discipline the recomputation sweep uses.
func (s *Store) DashboardSummary(ctx context.Context) (DashboardSummary, error) {
	var out DashboardSummary

	const invQ = `
		SELECT payment_status, COUNT(*), COALESCE(SUM(total_amount - paid_amount), 0)
		FROM invoices GROUP BY payment_status`
	rows, err := s.pool.Query(ctx, invQ)
	if err != nil {
		return out, core.Internal("aggregate invoice statuses", err)
	}
	for rows.Next() {
		var status int
		var count int64
		var residual float64
		if err := rows.Scan(&status, &count, &residual); err != nil {
			rows.Close()
			return out, core.Internal("scan invoice status aggregate", err)
		}
		switch models.PaymentStatus(status) {
		case models.PaymentOpen:
			out.OpenInvoices = count
		case models.PaymentOverdue:
			out.OverdueInvoices = count
		case models.PaymentPartiallyPaid:
			out.PartiallyPaidInvoices = count
		case models.PaymentFullyPaid:
			out.FullyPaidInvoices = count
		}
		if models.PaymentStatus(status) != models.PaymentFullyPaid {
			out.TotalOutstanding += residual
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return out, core.Internal("iterate invoice status aggregate", err)
	}

	const txnQ = `SELECT reconciliation_status, COUNT(*) FROM bank_transactions GROUP BY reconciliation_status`
	txnRows, err := s.pool.Query(ctx, txnQ)
	if err != nil {
		return out, core.Internal("aggregate transaction statuses", err)
	}
	defer txnRows.Close()
	for txnRows.Next() {
		var status int
		var count int64
		if err := txnRows.Scan(&status, &count); err != nil {
			return out, core.Internal("scan transaction status aggregate", err)
		}
		switch models.ReconciliationStatus(status) {
		case models.ReconciliationUnreconciled:
			out.UnreconciledTxns = count
		case models.ReconciliationPartiallyReconciled:
			out.PartiallyReconciledTxns = count
		case models.ReconciliationFullyReconciled:
			out.FullyReconciledTxns = count
		case models.ReconciliationIgnored:
			out.IgnoredTxns = count
		}
	}
	if err := txnRows.Err(); err != nil {
		return out, core.Internal("iterate transaction status aggregate", err)
	}
	return out, nil
}
