// Package facade implements the orchestration façade: the single
// entry point internal/api (and any CLI) drives, wrapping every
// operation in the uniform {success, message, data|error} envelope so
// callers never branch on a component's own error type.
package facade

import (
	"context"

	"github.com/fatturaanalyzer/reconciler/internal/batch"
	"github.com/fatturaanalyzer/reconciler/internal/core"
	"github.com/fatturaanalyzer/reconciler/internal/ledger"
	"github.com/fatturaanalyzer/reconciler/internal/store"
	"github.com/fatturaanalyzer/reconciler/internal/suggest"
	"github.com/fatturaanalyzer/reconciler/pkg/models"
)

// Envelope is the uniform response shape every facade operation
// returns, so the HTTP adapter (internal/api) never has to special-case
// a component's own error type.
type Envelope struct {
	Success bool         `json:"success"`
	Message string       `json:"message,omitempty"`
	Data    interface{}  `json:"data,omitempty"`
	Error   *ErrorDetail `json:"error,omitempty"`
}

// ErrorDetail is the machine-readable failure shape: Kind lets the
// HTTP adapter pick a status code without parsing Message.
type ErrorDetail struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

func ok(message string, data interface{}) Envelope {
	return Envelope{Success: true, Message: message, Data: data}
}

func fail(err error) Envelope {
	return Envelope{
		Success: false,
		Error: &ErrorDetail{
			Kind:    core.KindOf(err).String(),
			Message: err.Error(),
		},
	}
}

// Facade is the single entry point the HTTP adapter and CLI drive:
// every operation it exposes takes plain IDs/values in, and returns an
// Envelope, never a raw error.
type Facade struct {
	store     *store.Store
	suggester *suggest.Engine
	applier   *ledger.Applier
	batch     *batch.Processor
}

// NewFacade wires the three write/read subsystems into one surface.
func NewFacade(s *store.Store, suggester *suggest.Engine, applier *ledger.Applier, b *batch.Processor) *Facade {
	return &Facade{store: s, suggester: suggester, applier: applier, batch: b}
}

// GetSuggestions1to1 implements the get_suggestions_1_to_1 operation.
// Exactly one of invoiceID/transactionID anchors the search;
// counterpartyID optionally narrows a transaction-anchored scan.
func (f *Facade) GetSuggestions1to1(ctx context.Context, invoiceID, transactionID, counterpartyID int64) Envelope {
	switch {
	case transactionID != 0:
		return ok("", f.suggester.Suggest1to1(ctx, transactionID, counterpartyID))
	case invoiceID != 0:
		return ok("", f.suggester.Suggest1to1ForInvoice(ctx, invoiceID))
	default:
		return fail(core.Validation("either invoice_id or transaction_id is required"))
	}
}

// GetSuggestionsNtoM implements get_suggestions_n_to_m.
func (f *Facade) GetSuggestionsNtoM(ctx context.Context, transactionID, counterpartyID int64) Envelope {
	suggestions := f.suggester.SuggestNtoM(ctx, transactionID, counterpartyID)
	return ok("", suggestions)
}

// ApplyMatch implements apply_match.
func (f *Facade) ApplyMatch(ctx context.Context, invoiceID, transactionID int64, amount float64) Envelope {
	result, err := f.applier.ApplyMatch(ctx, invoiceID, transactionID, amount)
	if err != nil {
		return fail(err)
	}
	if inv, err := f.store.GetInvoice(ctx, invoiceID); err == nil {
		f.suggester.TrainCounterparty(ctx, inv.CounterpartyID)
	}
	return ok("match applied", result)
}

// ClientReliability implements the get_client_reliability
// operation: the counterparty's learned payment pattern,
// rendered as operator-facing strings. The raw reliability score is not
// included; recommendations is nil until a model has been trained.
func (f *Facade) ClientReliability(ctx context.Context, counterpartyID int64) Envelope {
	cp, err := f.store.GetCounterparty(ctx, counterpartyID)
	if err != nil {
		return fail(err)
	}
	recommendations := f.suggester.ClientRecommendations(counterpartyID)
	return ok("", map[string]interface{}{
		"counterpartyId":  cp.ID,
		"denomination":    cp.Denomination,
		"recommendations": recommendations,
	})
}

// ReconciliationAnalytics implements the get_reconciliation_analytics
// dashboard summary read.
func (f *Facade) ReconciliationAnalytics(ctx context.Context) Envelope {
	summary, err := f.store.DashboardSummary(ctx)
	if err != nil {
		return fail(err)
	}
	return ok("", summary)
}

// ApplyBatch implements apply_batch.
func (f *Facade) ApplyBatch(ctx context.Context, pairs []ledger.MatchPair) Envelope {
	result, err := f.applier.ApplyBatch(ctx, pairs)
	if err != nil {
		return Envelope{
			Success: false,
			Data:    result,
			Error:   &ErrorDetail{Kind: core.KindOf(err).String(), Message: err.Error()},
		}
	}
	f.retrainTouched(ctx, result)
	return ok("batch applied", result)
}

// retrainTouched kicks off background pattern training for every distinct
// counterparty touched by a committed batch, tolerating fetch failures
// the same way the rest of the post-commit training trigger does.
func (f *Facade) retrainTouched(ctx context.Context, result ledger.BatchResult) {
	if !result.Committed {
		return
	}
	seenInvoice := make(map[int64]bool)
	seenCounterparty := make(map[int64]bool)
	for _, o := range result.Outcomes {
		if !o.Applied || seenInvoice[o.Pair.InvoiceID] {
			continue
		}
		seenInvoice[o.Pair.InvoiceID] = true
		inv, err := f.store.GetInvoice(ctx, o.Pair.InvoiceID)
		if err != nil || seenCounterparty[inv.CounterpartyID] {
			continue
		}
		seenCounterparty[inv.CounterpartyID] = true
		f.suggester.TrainCounterparty(ctx, inv.CounterpartyID)
	}
}

// AutoReconcile implements auto_reconcile. invoiceIDs/transactionIDs
// name the caller-selected candidate set to balance; a fetch
// failure on any id degrades that id out of the set rather than
// aborting the whole operation, matching the read layers' tolerant style for
// this read-then-balance step (the write itself, via ApplyBatch, still
// raises on any validation failure).
func (f *Facade) AutoReconcile(ctx context.Context, invoiceIDs, transactionIDs []int64) Envelope {
	var invoices []models.Invoice
	for _, id := range invoiceIDs {
		inv, err := f.store.GetInvoice(ctx, id)
		if err != nil {
			continue
		}
		invoices = append(invoices, inv)
	}
	var transactions []models.BankTransaction
	for _, id := range transactionIDs {
		txn, err := f.store.GetTransaction(ctx, id)
		if err != nil {
			continue
		}
		transactions = append(transactions, txn)
	}

	result, err := f.applier.AutoReconcile(ctx, invoices, transactions)
	if err != nil {
		return fail(err)
	}
	return ok("auto-reconciliation complete", result)
}

// IgnoreTransaction implements ignore_transaction.
func (f *Facade) IgnoreTransaction(ctx context.Context, transactionID int64) Envelope {
	if err := f.applier.Ignore(ctx, transactionID); err != nil {
		return fail(err)
	}
	return ok("transaction ignored", nil)
}

// UnignoreTransaction reverses IgnoreTransaction, so an ignore can be
// corrected without a direct database edit.
func (f *Facade) UnignoreTransaction(ctx context.Context, transactionID int64) Envelope {
	if err := f.applier.Unignore(ctx, transactionID); err != nil {
		return fail(err)
	}
	return ok("transaction unignored", nil)
}

// UndoReconciliation implements undo_reconciliation, detaching every
// link touching a transaction.
func (f *Facade) UndoReconciliation(ctx context.Context, transactionID int64) Envelope {
	if err := f.applier.Undo(ctx, transactionID); err != nil {
		return fail(err)
	}
	return ok("reconciliation undone", nil)
}

// UndoReconciliationByInvoice is the by-invoice mirror of
// UndoReconciliation, for DELETE /reconciliation/by-invoice/{id}.
func (f *Facade) UndoReconciliationByInvoice(ctx context.Context, invoiceID int64) Envelope {
	if err := f.applier.UndoByInvoice(ctx, invoiceID); err != nil {
		return fail(err)
	}
	return ok("reconciliation undone", nil)
}

// LinkFilter selects which links list_links returns; at most one of
// InvoiceID/TransactionID should be set, else InvoiceID wins.
type LinkFilter struct {
	InvoiceID     *int64
	TransactionID *int64
}

// ListLinks implements list_links(filter).
func (f *Facade) ListLinks(ctx context.Context, filter LinkFilter) Envelope {
	var links []models.ReconciliationLink
	var err error
	switch {
	case filter.InvoiceID != nil:
		links, err = f.store.ListLinksByInvoice(ctx, *filter.InvoiceID)
	case filter.TransactionID != nil:
		links, err = f.store.ListLinksByTransaction(ctx, *filter.TransactionID)
	default:
		links, err = f.store.ListAllLinks(ctx)
	}
	if err != nil {
		return fail(err)
	}
	return ok("", links)
}

// ValidateMatch implements validate_match: a dry run of ApplyMatch's
// preflight checks with no write.
func (f *Facade) ValidateMatch(ctx context.Context, invoiceID, transactionID int64, amount float64) Envelope {
	if err := f.applier.ValidateMatch(ctx, invoiceID, transactionID, amount); err != nil {
		return fail(err)
	}
	return ok("match is valid", nil)
}

// confidenceLabels maps the Alta/Media/Bassa display labels onto the
// canonical confidence bands for ManualSuggestion.
var confidenceLabels = map[string]models.ConfidenceBand{
	"Alta":  models.BandHigh,
	"Media": models.BandMedium,
	"Bassa": models.BandLow,
}

// ManualSuggestion implements the create_manual_suggestion
// operation: an operator hand-authors a suggestion with an explicit
// band label instead of running the scoring pipeline. It is still
// validated against ApplyMatch's preflight checks (amount/direction/
// state) so a manual suggestion can never describe an impossible
// match, but it never writes a link — the caller still calls ApplyMatch
// to commit it.
func (f *Facade) ManualSuggestion(ctx context.Context, invoiceID, transactionID int64, amount float64, confidenceLabel string) Envelope {
	band, known := confidenceLabels[confidenceLabel]
	if !known {
		return fail(core.Validation("unrecognized confidence label %q (expected Alta, Media or Bassa)", confidenceLabel))
	}
	if err := f.applier.ValidateMatch(ctx, invoiceID, transactionID, amount); err != nil {
		return fail(err)
	}
	return ok("manual suggestion recorded", suggest.Suggestion{
		TransactionID: transactionID,
		InvoiceIDs:    []int64{invoiceID},
		Amount:        amount,
		Band:          band,
		Reasons:       []string{"manually authored by operator"},
	})
}

// RecomputeAll exposes the batch recomputation sweep through the same
// uniform envelope.
func (f *Facade) RecomputeAll(ctx context.Context) Envelope {
	report, err := f.batch.RecomputeAll(ctx)
	if err != nil {
		return fail(err)
	}
	return ok("recomputation complete", report)
}
