// Package suggest implements the suggestion engine: it orchestrates
// the counterparty resolver, the combination generator and the match
// analyzer — optionally nudged by the client-pattern learner — into
// the two read-only suggestion operations the facade exposes. The
// engine never raises outward once the anchor item itself has been
// found: any downstream failure degrades to an empty suggestion list
// rather than propagating.
package suggest

import (
	"context"
	"log"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/fatturaanalyzer/reconciler/internal/combination"
	"github.com/fatturaanalyzer/reconciler/internal/matching"
	"github.com/fatturaanalyzer/reconciler/internal/money"
	"github.com/fatturaanalyzer/reconciler/internal/pattern"
	"github.com/fatturaanalyzer/reconciler/internal/resolver"
	"github.com/fatturaanalyzer/reconciler/internal/store"
	"github.com/fatturaanalyzer/reconciler/pkg/models"
)

// Suggestion is one candidate reconciliation the engine proposes.
type Suggestion struct {
	TransactionID int64
	InvoiceIDs    []int64
	Amount        float64
	Confidence    float64
	Band          models.ConfidenceBand
	Reasons       []string
}

// oneToOneCandidatePool is how many residual-nearest invoices feed the
// 1:1 analyzer pass.
const oneToOneCandidatePool = 50

// nToMCandidatePool bounds the combination search's invoice universe.
const nToMCandidatePool = 100

// Engine wires the resolver, analyzer and combination generator,
// optionally the pattern learner, over a Store.
type Engine struct {
	store       *store.Store
	resolver    *resolver.Resolver
	analyzer    *matching.Analyzer
	combos      *combination.Generator
	patterns    *pattern.Learner // nil disables the pattern confidence nudge
	minConfidence float64
}

// New builds a suggestion Engine. patterns may be nil.
func New(s *store.Store, r *resolver.Resolver, a *matching.Analyzer, g *combination.Generator, p *pattern.Learner, minConfidence float64) *Engine {
	return &Engine{store: s, resolver: r, analyzer: a, combos: g, patterns: p, minConfidence: minConfidence}
}

// Suggest1to1 proposes single-invoice matches for one bank
// transaction. counterpartyID narrows the candidate pool to one
// counterparty; 0 falls back to resolving one from the description.
func (e *Engine) Suggest1to1(ctx context.Context, transactionID, counterpartyID int64) []Suggestion {
	txn, err := e.store.GetTransaction(ctx, transactionID)
	if err != nil {
		log.Printf("suggest: anchor transaction %d unavailable: %v", transactionID, err)
		return nil
	}
	if txn.ReconciliationStatus == models.ReconciliationFullyReconciled || txn.ReconciliationStatus == models.ReconciliationIgnored {
		return nil
	}

	target := math.Abs(txn.Residual())
	if target <= money.Tolerance/2 {
		return nil
	}
	direction := directionForSign(txn.Residual())

	candidates := e.candidateInvoices(ctx, txn, counterpartyID)
	sort.Slice(candidates, func(i, j int) bool {
		return math.Abs(candidates[i].Residual()-target) < math.Abs(candidates[j].Residual()-target)
	})
	if len(candidates) > oneToOneCandidatePool {
		candidates = candidates[:oneToOneCandidatePool]
	}

	extracted := matching.ExtractInvoiceNumberCandidates(txn.Description)

	var out []Suggestion
	for _, inv := range candidates {
		if inv.Direction != direction {
			continue
		}
		denom := e.counterpartyDenomination(ctx, inv.CounterpartyID)
		result := e.analyzer.Score(matching.Pair{
			TargetAmount:             target,
			TransactionDescription:   txn.Description,
			TransactionDate:          txn.TransactionDate,
			ExtractedNumbers:         extracted,
			InvoiceAmount:            inv.Residual(),
			InvoiceNumber:            inv.DocNumber,
			CounterpartyDenomination: denom,
			InvoiceDate:              inv.DocDate,
		})

		score, band := e.adjustWithPattern(inv.CounterpartyID, inv, txn, result.Score)
		if score < e.minConfidence {
			continue
		}
		out = append(out, Suggestion{
			TransactionID: transactionID,
			InvoiceIDs:    []int64{inv.ID},
			Amount:        money.Quantize(math.Min(inv.Residual(), target)),
			Confidence:    score,
			Band:          band,
			Reasons:       result.Reasons,
		})
	}

	sortSuggestions(out)
	return out
}

// Suggest1to1ForInvoice is the invoice-anchored mirror of Suggest1to1:
// given an open invoice, it scans unreconciled transactions of the
// matching sign and scores each candidate pair with the analyzer.
func (e *Engine) Suggest1to1ForInvoice(ctx context.Context, invoiceID int64) []Suggestion {
	inv, err := e.store.GetInvoice(ctx, invoiceID)
	if err != nil {
		log.Printf("suggest: anchor invoice %d unavailable: %v", invoiceID, err)
		return nil
	}
	if inv.PaymentStatus == models.PaymentFullyPaid {
		return nil
	}
	target := inv.Residual()
	if target <= money.Tolerance/2 {
		return nil
	}

	txns, err := e.store.ListUnreconciledTransactions(ctx)
	if err != nil {
		log.Printf("suggest: candidate transaction fetch failed: %v", err)
		return nil
	}

	sort.Slice(txns, func(i, j int) bool {
		return math.Abs(math.Abs(txns[i].Residual())-target) < math.Abs(math.Abs(txns[j].Residual())-target)
	})
	if len(txns) > oneToOneCandidatePool {
		txns = txns[:oneToOneCandidatePool]
	}

	denom := e.counterpartyDenomination(ctx, inv.CounterpartyID)

	var out []Suggestion
	for _, txn := range txns {
		if directionForSign(txn.Residual()) != inv.Direction {
			continue
		}
		if math.Abs(txn.Residual()) <= money.Tolerance/2 {
			continue
		}
		result := e.analyzer.Score(matching.Pair{
			TargetAmount:             math.Abs(txn.Residual()),
			TransactionDescription:   txn.Description,
			TransactionDate:          txn.TransactionDate,
			ExtractedNumbers:         matching.ExtractInvoiceNumberCandidates(txn.Description),
			InvoiceAmount:            target,
			InvoiceNumber:            inv.DocNumber,
			CounterpartyDenomination: denom,
			InvoiceDate:              inv.DocDate,
		})

		score, band := e.adjustWithPattern(inv.CounterpartyID, inv, txn, result.Score)
		if score < e.minConfidence {
			continue
		}
		out = append(out, Suggestion{
			TransactionID: txn.ID,
			InvoiceIDs:    []int64{inv.ID},
			Amount:        money.Quantize(math.Min(target, math.Abs(txn.Residual()))),
			Confidence:    score,
			Band:          band,
			Reasons:       result.Reasons,
		})
	}

	sortSuggestions(out)
	return out
}

// SuggestNtoM proposes multi-invoice combinations for one transaction
// against a single counterparty. By design it never searches
// across counterparties, so counterpartyID is required; 0 yields an
// empty list.
func (e *Engine) SuggestNtoM(ctx context.Context, transactionID, counterpartyID int64) []Suggestion {
	if counterpartyID == 0 {
		return nil
	}
	txn, err := e.store.GetTransaction(ctx, transactionID)
	if err != nil {
		log.Printf("suggest: anchor transaction %d unavailable: %v", transactionID, err)
		return nil
	}
	if txn.ReconciliationStatus == models.ReconciliationFullyReconciled || txn.ReconciliationStatus == models.ReconciliationIgnored {
		return nil
	}

	target := math.Abs(txn.Residual())
	if target <= money.Tolerance/2 {
		return nil
	}
	direction := directionForSign(txn.Residual())

	invoices, err := e.store.ListOpenInvoicesForCounterparty(ctx, counterpartyID)
	if err != nil {
		log.Printf("suggest: candidate fetch failed for counterparty %d: %v", counterpartyID, err)
		return nil
	}

	var pool []models.Invoice
	for _, inv := range invoices {
		if inv.Direction != direction {
			continue
		}
		r := inv.Residual()
		if r <= money.Tolerance/2 || r > 1.5*target {
			continue
		}
		pool = append(pool, inv)
	}
	sort.Slice(pool, func(i, j int) bool { return pool[i].Residual() < pool[j].Residual() })
	if len(pool) > nToMCandidatePool {
		pool = pool[:nToMCandidatePool]
	}

	byID := make(map[int64]models.Invoice, len(pool))
	candidates := make([]combination.Candidate, 0, len(pool))
	for _, inv := range pool {
		byID[inv.ID] = inv
		candidates = append(candidates, combination.Candidate{ID: inv.ID, Residual: inv.Residual()})
	}

	combos := e.combos.Enumerate(ctx, candidates, target)

	seen := make(map[string]bool)
	var out []Suggestion
	for _, c := range combos {
		key := dedupKey(c.IDs)
		if seen[key] {
			continue
		}
		seen[key] = true

		invs := make([]models.Invoice, 0, len(c.IDs))
		for _, id := range c.IDs {
			invs = append(invs, byID[id])
		}

		confidence := combinationConfidence(c.Sum, target, invs)
		score, band := e.adjustWithPatternGroup(counterpartyID, invs, txn, confidence)
		if score < e.minConfidence {
			continue
		}
		out = append(out, Suggestion{
			TransactionID: transactionID,
			InvoiceIDs:    c.IDs,
			Amount:        money.Quantize(c.Sum),
			Confidence:    score,
			Band:          band,
			Reasons:       []string{"combination sums to transaction amount within tolerance"},
		})
	}

	sortSuggestions(out)
	return groupNearDuplicates(out)
}

// groupNearDuplicates collapses combinations that propose the same
// amount and share most of their invoices, keeping only the
// best-scoring representative of each group. The input is already
// sorted best-first, so the first member seen wins.
func groupNearDuplicates(suggestions []Suggestion) []Suggestion {
	var kept []Suggestion
	for _, s := range suggestions {
		dup := false
		for _, k := range kept {
			if money.Equal(s.Amount, k.Amount) && idOverlap(s.InvoiceIDs, k.InvoiceIDs) >= 0.5 {
				dup = true
				break
			}
		}
		if !dup {
			kept = append(kept, s)
		}
	}
	return kept
}

// idOverlap is the Jaccard overlap of two invoice-id sets.
func idOverlap(a, b []int64) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	set := make(map[int64]bool, len(a))
	for _, id := range a {
		set[id] = true
	}
	inter := 0
	for _, id := range b {
		if set[id] {
			inter++
		}
	}
	union := len(a) + len(b) - inter
	return float64(inter) / float64(union)
}

// candidateInvoices narrows the 1:1 scan to one counterparty: the
// caller's explicit filter first, then a resolver pass over the
// transaction description; on both missing it falls back to the full
// open-invoice pool.
func (e *Engine) candidateInvoices(ctx context.Context, txn models.BankTransaction, counterpartyID int64) []models.Invoice {
	if counterpartyID != 0 {
		invoices, err := e.store.ListOpenInvoicesForCounterparty(ctx, counterpartyID)
		if err != nil {
			log.Printf("suggest: candidate fetch failed for counterparty %d: %v", counterpartyID, err)
			return nil
		}
		return invoices
	}
	if id, ok := e.resolver.Resolve(txn.Description); ok {
		invoices, err := e.store.ListOpenInvoicesForCounterparty(ctx, id)
		if err == nil {
			return invoices
		}
		log.Printf("suggest: candidate fetch failed for resolved counterparty %d: %v", id, err)
	}
	invoices, err := e.store.ListAllOpenInvoices(ctx)
	if err != nil {
		log.Printf("suggest: candidate fetch failed: %v", err)
		return nil
	}
	return invoices
}

func (e *Engine) counterpartyDenomination(ctx context.Context, id int64) string {
	c, err := e.store.GetCounterparty(ctx, id)
	if err != nil {
		return ""
	}
	return c.Denomination
}

// TrainCounterparty dispatches background pattern training for a
// counterparty from its settled payment history. A fetch failure is
// logged and skipped rather than raised, matching the engine's
// degrade-not-propagate error policy.
func (e *Engine) TrainCounterparty(ctx context.Context, counterpartyID int64) {
	if e.patterns == nil {
		return
	}
	records, err := e.store.ListPaymentRecords(ctx, counterpartyID)
	if err != nil {
		log.Printf("suggest: failed to load payment history for counterparty %d: %v", counterpartyID, err)
		return
	}
	e.patterns.TrainAsync(ctx, counterpartyID, records)
}

// ClientRecommendations exposes the trained-model summary behind
// GET /clients/{id}/reliability. Returns nil if no model has been
// trained for this counterparty yet.
func (e *Engine) ClientRecommendations(counterpartyID int64) []string {
	if e.patterns == nil {
		return nil
	}
	return e.patterns.Recommendations(counterpartyID)
}

// adjustWithPattern blends the analyzer's single-pair score with the
// learner's prediction when a trained model exists, then reclassifies
// the band.
func (e *Engine) adjustWithPattern(counterpartyID int64, inv models.Invoice, txn models.BankTransaction, score float64) (float64, models.ConfidenceBand) {
	if e.patterns == nil {
		return score, matching.ClassifyBand(score)
	}
	pred, ok := e.patterns.Predict(counterpartyID, models.PaymentRecord{
		InvoiceDate: inv.DocDate,
		PaymentDate: txn.TransactionDate,
		Amount:      inv.Residual(),
		Description: txn.Description,
	})
	if !ok {
		return score, matching.ClassifyBand(score)
	}
	blended := clamp01(0.9*score + 0.1*pred.OverallConfidence)
	return blended, matching.ClassifyBand(blended)
}

func (e *Engine) adjustWithPatternGroup(counterpartyID int64, invs []models.Invoice, txn models.BankTransaction, score float64) (float64, models.ConfidenceBand) {
	if e.patterns == nil || len(invs) == 0 {
		return score, matching.ClassifyBand(score)
	}
	pred, ok := e.patterns.Predict(counterpartyID, models.PaymentRecord{
		InvoiceDate: invs[0].DocDate,
		PaymentDate: txn.TransactionDate,
		Amount:      invs[0].Residual(),
		Description: txn.Description,
	})
	if !ok {
		return score, matching.ClassifyBand(score)
	}
	blended := clamp01(0.9*score + 0.1*pred.OverallConfidence)
	return blended, matching.ClassifyBand(blended)
}

// combinationConfidence scores one candidate combination.
func combinationConfidence(sum, target float64, invs []models.Invoice) float64 {
	base := 0.6 + 0.25*(1-math.Abs(sum-target)/target)
	base += 0.1 * temporalCoherence(invs)
	base += 0.1 * numericSequenceBonus(invs)
	if size := len(invs); size > 3 {
		base -= 0.05 * float64(size-3)
	}
	return clamp01(base)
}

// temporalCoherence rewards invoice dates clustered close together:
// 1.0 when every invoice shares the same date, decaying to 0 once the
// span reaches 60 days.
func temporalCoherence(invs []models.Invoice) float64 {
	if len(invs) < 2 {
		return 1
	}
	min, max := invs[0].DocDate, invs[0].DocDate
	for _, inv := range invs[1:] {
		if inv.DocDate.Before(min) {
			min = inv.DocDate
		}
		if inv.DocDate.After(max) {
			max = inv.DocDate
		}
	}
	spanDays := max.Sub(min).Hours() / 24
	if spanDays >= 60 {
		return 0
	}
	return 1 - spanDays/60
}

// numericSequenceBonus rewards invoice numbers that look consecutive,
// the way a single batch of invoices from one counterparty typically
// is (e.g. "2024/118", "2024/119", "2024/120"). The bonus is the
// number of adjacent pairs (after sorting the trailing integers) that
// differ by exactly one, divided by one less than the number of
// invoices, so an invoice without a trailing number lowers it.
func numericSequenceBonus(invs []models.Invoice) float64 {
	if len(invs) < 2 {
		return 0
	}
	nums := make([]int, 0, len(invs))
	for _, inv := range invs {
		if n, ok := matching.TrailingNumber(inv.DocNumber); ok {
			nums = append(nums, n)
		}
	}
	if len(nums) < 2 {
		return 0
	}
	sort.Ints(nums)
	consecutive := 0
	for i := 1; i < len(nums); i++ {
		if nums[i]-nums[i-1] == 1 {
			consecutive++
		}
	}
	return float64(consecutive) / float64(len(invs)-1)
}

func directionForSign(residual float64) models.Direction {
	if residual >= 0 {
		return models.DirectionOutgoing
	}
	return models.DirectionIncoming
}

func sortSuggestions(out []Suggestion) {
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Band != out[j].Band {
			return out[i].Band > out[j].Band
		}
		return out[i].Confidence > out[j].Confidence
	})
}

func dedupKey(ids []int64) string {
	sorted := append([]int64(nil), ids...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	var b strings.Builder
	for _, id := range sorted {
		b.WriteString(strconv.FormatInt(id, 10))
		b.WriteByte('|')
	}
	return b.String()
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
