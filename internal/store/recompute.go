package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/fatturaanalyzer/reconciler/internal/core"
	"github.com/fatturaanalyzer/reconciler/pkg/models"
)

// InvoiceState is the projection of an invoice the recomputation sweep
// needs: enough to re-derive paid_amount/status and to diff against
// the stored values, nothing more.
type InvoiceState struct {
	ID          int64
	TotalAmount float64
	PaidAmount  float64
	DueDate     *time.Time
	Status      models.PaymentStatus
}

// TransactionState is the transaction-side projection for the sweep.
type TransactionState struct {
	ID               int64
	Amount           float64
	ReconciledAmount float64
	Status           models.ReconciliationStatus
}

// ListInvoiceStates reads every invoice's recompute projection in one
// query, the full sweep surface for batch recomputation (a single
// aggregate read, not a per-row query per invoice).
func (s *Store) ListInvoiceStates(ctx context.Context) ([]InvoiceState, error) {
	const q = `SELECT id, total_amount, paid_amount, due_date, payment_status FROM invoices ORDER BY id ASC`
	rows, err := s.pool.Query(ctx, q)
	if err != nil {
		return nil, core.Internal("list invoice states", err)
	}
	defer rows.Close()

	var out []InvoiceState
	for rows.Next() {
		var st InvoiceState
		var status int
		if err := rows.Scan(&st.ID, &st.TotalAmount, &st.PaidAmount, &st.DueDate, &status); err != nil {
			return nil, core.Internal("scan invoice state", err)
		}
		st.Status = models.PaymentStatus(status)
		out = append(out, st)
	}
	if err := rows.Err(); err != nil {
		return nil, core.Internal("iterate invoice states", err)
	}
	return out, nil
}

// ListTransactionStates reads every bank transaction's recompute
// projection in one query.
func (s *Store) ListTransactionStates(ctx context.Context) ([]TransactionState, error) {
	const q = `SELECT id, amount, reconciled_amount, reconciliation_status FROM bank_transactions ORDER BY id ASC`
	rows, err := s.pool.Query(ctx, q)
	if err != nil {
		return nil, core.Internal("list transaction states", err)
	}
	defer rows.Close()

	var out []TransactionState
	for rows.Next() {
		var st TransactionState
		var status int
		if err := rows.Scan(&st.ID, &st.Amount, &st.ReconciledAmount, &status); err != nil {
			return nil, core.Internal("scan transaction state", err)
		}
		st.Status = models.ReconciliationStatus(status)
		out = append(out, st)
	}
	if err := rows.Err(); err != nil {
		return nil, core.Internal("iterate transaction states", err)
	}
	return out, nil
}

// InvoiceLinkSums returns, in one aggregate query, the sum of
// reconciled_amount linked to every invoice that has at least one
// link. Invoices absent from the map have zero linked amount.
func (s *Store) InvoiceLinkSums(ctx context.Context) (map[int64]float64, error) {
	const q = `SELECT invoice_id, SUM(reconciled_amount) FROM reconciliation_links GROUP BY invoice_id`
	rows, err := s.pool.Query(ctx, q)
	if err != nil {
		return nil, core.Internal("aggregate invoice link sums", err)
	}
	defer rows.Close()
	out := map[int64]float64{}
	for rows.Next() {
		var id int64
		var sum float64
		if err := rows.Scan(&id, &sum); err != nil {
			return nil, core.Internal("scan invoice link sum", err)
		}
		out[id] = sum
	}
	if err := rows.Err(); err != nil {
		return nil, core.Internal("iterate invoice link sums", err)
	}
	return out, nil
}

// TransactionLinkSums returns, in one aggregate query, the sum of
// reconciled_amount linked to every transaction that has at least one
// link.
func (s *Store) TransactionLinkSums(ctx context.Context) (map[int64]float64, error) {
	const q = `SELECT transaction_id, SUM(reconciled_amount) FROM reconciliation_links GROUP BY transaction_id`
	rows, err := s.pool.Query(ctx, q)
	if err != nil {
		return nil, core.Internal("aggregate transaction link sums", err)
	}
	defer rows.Close()
	out := map[int64]float64{}
	for rows.Next() {
		var id int64
		var sum float64
		if err := rows.Scan(&id, &sum); err != nil {
			return nil, core.Internal("scan transaction link sum", err)
		}
		out[id] = sum
	}
	if err := rows.Err(); err != nil {
		return nil, core.Internal("iterate transaction link sums", err)
	}
	return out, nil
}

// InvoicePaymentUpdate is one dirty invoice row the sweep writes back.
type InvoicePaymentUpdate struct {
	ID         int64
	PaidAmount float64
	Status     models.PaymentStatus
}

// TransactionReconciliationUpdate is one dirty transaction row the
// sweep writes back.
type TransactionReconciliationUpdate struct {
	ID               int64
	ReconciledAmount float64
	Status           models.ReconciliationStatus
}

// UpdateInvoicePaymentStates writes every dirty invoice row back in a
// single multi-row UPDATE inside one transaction, so the sweep's write
// cost is one statement regardless of how many rows drifted.
func (s *Store) UpdateInvoicePaymentStates(ctx context.Context, updates []InvoicePaymentUpdate) error {
	if len(updates) == 0 {
		return nil
	}
	tx, err := s.BeginTx(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var values strings.Builder
	args := make([]interface{}, 0, len(updates)*3)
	for i, u := range updates {
		if i > 0 {
			values.WriteString(", ")
		}
		fmt.Fprintf(&values, "($%d::bigint, $%d::double precision, $%d::smallint)", i*3+1, i*3+2, i*3+3)
		args = append(args, u.ID, u.PaidAmount, int(u.Status))
	}
	q := `
		UPDATE invoices SET paid_amount = v.paid_amount, payment_status = v.payment_status
		FROM (VALUES ` + values.String() + `) AS v(id, paid_amount, payment_status)
		WHERE invoices.id = v.id`
	if _, err := tx.Exec(ctx, q, args...); err != nil {
		return core.Internal("batch update invoice payment states", err)
	}
	return core.RetryCommit("commit invoice payment state batch", func() error { return tx.Commit(ctx) })
}

// UpdateTransactionReconciliationStates is the transaction-side
// counterpart of UpdateInvoicePaymentStates.
func (s *Store) UpdateTransactionReconciliationStates(ctx context.Context, updates []TransactionReconciliationUpdate) error {
	if len(updates) == 0 {
		return nil
	}
	tx, err := s.BeginTx(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var values strings.Builder
	args := make([]interface{}, 0, len(updates)*3)
	for i, u := range updates {
		if i > 0 {
			values.WriteString(", ")
		}
		fmt.Fprintf(&values, "($%d::bigint, $%d::double precision, $%d::smallint)", i*3+1, i*3+2, i*3+3)
		args = append(args, u.ID, u.ReconciledAmount, int(u.Status))
	}
	q := `
		UPDATE bank_transactions SET reconciled_amount = v.reconciled_amount, reconciliation_status = v.reconciliation_status
		FROM (VALUES ` + values.String() + `) AS v(id, reconciled_amount, reconciliation_status)
		WHERE bank_transactions.id = v.id`
	if _, err := tx.Exec(ctx, q, args...); err != nil {
		return core.Internal("batch update transaction reconciliation states", err)
	}
	return core.RetryCommit("commit transaction reconciliation state batch", func() error { return tx.Commit(ctx) })
}
