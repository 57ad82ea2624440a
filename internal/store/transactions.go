package store

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"github.com/fatturaanalyzer/reconciler/internal/core"
	"github.com/fatturaanalyzer/reconciler/pkg/models"
)

const transactionColumns = `id, transaction_date, amount, description, causal_code, reconciled_amount, reconciliation_status, content_hash`

func scanTransaction(row pgx.Row) (models.BankTransaction, error) {
	var t models.BankTransaction
	var status int
	err := row.Scan(&t.ID, &t.TransactionDate, &t.Amount, &t.Description, &t.CausalCode, &t.ReconciledAmount, &status, &t.ContentHash)
	if err != nil {
		return models.BankTransaction{}, err
	}
	t.ReconciliationStatus = models.ReconciliationStatus(status)
	return t, nil
}

// InsertTransaction inserts a new bank transaction row.
func (s *Store) InsertTransaction(ctx context.Context, t models.BankTransaction) (int64, error) {
	const q = `
		INSERT INTO bank_transactions (transaction_date, amount, description, causal_code, reconciled_amount, reconciliation_status, content_hash)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id`
	var id int64
	err := s.pool.QueryRow(ctx, q, t.TransactionDate, t.Amount, t.Description, t.CausalCode,
		t.ReconciledAmount, int(t.ReconciliationStatus), t.ContentHash).Scan(&id)
	if err != nil {
		if isUniqueViolation(err) {
			return 0, core.Conflict("transaction with hash %s already exists", t.ContentHash)
		}
		return 0, core.Internal("insert transaction", err)
	}
	return id, nil
}

// GetTransaction fetches a single bank transaction by ID.
func (s *Store) GetTransaction(ctx context.Context, id int64) (models.BankTransaction, error) {
	const q = `SELECT ` + transactionColumns + ` FROM bank_transactions WHERE id = $1`
	t, err := scanTransaction(s.pool.QueryRow(ctx, q, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return models.BankTransaction{}, core.NotFound("transaction %d not found", id)
	}
	if err != nil {
		return models.BankTransaction{}, core.Internal("fetch transaction", err)
	}
	return t, nil
}

// FindTransactionByHash supports importer idempotency.
func (s *Store) FindTransactionByHash(ctx context.Context, hash string) (models.BankTransaction, bool, error) {
	const q = `SELECT ` + transactionColumns + ` FROM bank_transactions WHERE content_hash = $1`
	t, err := scanTransaction(s.pool.QueryRow(ctx, q, hash))
	if errors.Is(err, pgx.ErrNoRows) {
		return models.BankTransaction{}, false, nil
	}
	if err != nil {
		return models.BankTransaction{}, false, core.Internal("fetch transaction by hash", err)
	}
	return t, true, nil
}

// ListUnreconciledTransactions is the candidate pool the suggestion
// engine and batch processor both scan.
func (s *Store) ListUnreconciledTransactions(ctx context.Context) ([]models.BankTransaction, error) {
	const q = `
		SELECT ` + transactionColumns + ` FROM bank_transactions
		WHERE reconciliation_status NOT IN ($1, $2)
		ORDER BY transaction_date ASC`
	rows, err := s.pool.Query(ctx, q, int(models.ReconciliationFullyReconciled), int(models.ReconciliationIgnored))
	if err != nil {
		return nil, core.Internal("list unreconciled transactions", err)
	}
	defer rows.Close()
	return collectTransactions(rows)
}

func collectTransactions(rows pgx.Rows) ([]models.BankTransaction, error) {
	var out []models.BankTransaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, core.Internal("scan transaction", err)
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, core.Internal("iterate transactions", err)
	}
	return out, nil
}

// UpdateTransactionReconciliationState writes back reconciled_amount/
// status after a ledger mutation; always called inside the ledger's
// transaction.
func (s *Store) UpdateTransactionReconciliationState(ctx context.Context, tx pgx.Tx, id int64, reconciledAmount float64, status models.ReconciliationStatus) error {
	const q = `UPDATE bank_transactions SET reconciled_amount = $2, reconciliation_status = $3 WHERE id = $1`
	tag, err := tx.Exec(ctx, q, id, reconciledAmount, int(status))
	if err != nil {
		return core.Internal("update transaction reconciliation state", err)
	}
	if tag.RowsAffected() == 0 {
		return core.NotFound("transaction %d not found", id)
	}
	return nil
}
