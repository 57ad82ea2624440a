package ledger

import (
	"context"
	"sort"

	"github.com/fatturaanalyzer/reconciler/internal/core"
	"github.com/fatturaanalyzer/reconciler/internal/money"
	"github.com/fatturaanalyzer/reconciler/pkg/models"
)

// MatchPair is one (invoice, transaction, amount) triple submitted to
// ApplyBatch.
type MatchPair struct {
	InvoiceID     int64
	TransactionID int64
	Amount        float64
}

// PairOutcome reports what happened to a single pair within a batch.
type PairOutcome struct {
	Pair    MatchPair
	Applied bool
	Error   string
}

// BatchResult is all-or-nothing: Committed is true only if every pair
// validated and the whole batch was written in one transaction.
type BatchResult struct {
	Committed bool
	Outcomes  []PairOutcome
}

// ApplyBatch applies every pair inside a single transaction. A single
// pair failing rolls the whole batch back; the returned outcomes still
// describe which pair failed and why, for diagnostics, but nothing is
// persisted unless every pair succeeds.
func (a *Applier) ApplyBatch(ctx context.Context, pairs []MatchPair) (BatchResult, error) {
	result := BatchResult{Outcomes: make([]PairOutcome, len(pairs))}

	tx, err := a.store.BeginTx(ctx)
	if err != nil {
		return result, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var firstErr error
	for i, p := range pairs {
		_, err := a.applyMatchTx(ctx, tx, p.InvoiceID, p.TransactionID, p.Amount)
		if err != nil {
			result.Outcomes[i] = PairOutcome{Pair: p, Applied: false, Error: err.Error()}
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		result.Outcomes[i] = PairOutcome{Pair: p, Applied: true}
	}

	if firstErr != nil {
		return result, core.Validation("batch rolled back: %v", firstErr)
	}

	if err := core.RetryCommit("commit apply_batch", func() error { return tx.Commit(ctx) }); err != nil {
		return result, err
	}
	result.Committed = true
	return result, nil
}

// AutoReconcile greedily balances a caller-supplied set of open
// invoices against open transactions. Transactions are taken in
// ascending order of residual; for each one the unused invoices are
// walked in ascending residual order, taking every invoice that still
// fits, until the running sum equals the transaction within ε. A
// transaction that cannot be balanced that way gets no links. Every
// resulting link is then applied as one batch, and ApplyBatch's error
// (any failing pair rolls the whole batch back) is returned as is.
func (a *Applier) AutoReconcile(ctx context.Context, invoices []models.Invoice, transactions []models.BankTransaction) (BatchResult, error) {
	sort.Slice(invoices, func(i, j int) bool { return invoices[i].Residual() < invoices[j].Residual() })
	sort.Slice(transactions, func(i, j int) bool {
		return absFloat(transactions[i].Residual()) < absFloat(transactions[j].Residual())
	})

	used := make(map[int64]bool)
	var pairs []MatchPair

	for _, txn := range transactions {
		target := absFloat(txn.Residual())
		if target <= money.Tolerance {
			continue
		}
		var acc float64
		var picked []models.Invoice
		for _, inv := range invoices {
			if used[inv.ID] {
				continue
			}
			if acc+inv.Residual() > target+money.Tolerance {
				continue
			}
			acc = money.Quantize(acc + inv.Residual())
			picked = append(picked, inv)
			if money.Equal(acc, target) {
				break
			}
		}
		if !money.Equal(acc, target) {
			continue
		}
		for _, inv := range picked {
			used[inv.ID] = true
			pairs = append(pairs, MatchPair{InvoiceID: inv.ID, TransactionID: txn.ID, Amount: inv.Residual()})
		}
	}

	if len(pairs) == 0 {
		return BatchResult{Committed: true}, nil
	}
	return a.ApplyBatch(ctx, pairs)
}
