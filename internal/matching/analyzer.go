// Package matching implements the match analyzer: a weighted
// multi-signal scorer for a single (invoice, transaction) pair that
// composes independent evidence signals into one posterior score
// instead of letting correlated signals double-count.
package matching

import (
	"math"
	"strings"
	"time"

	"github.com/fatturaanalyzer/reconciler/internal/money"
	"github.com/fatturaanalyzer/reconciler/pkg/models"
)

// Pair is everything the analyzer needs to score one invoice against
// one transaction-residual target.
type Pair struct {
	TargetAmount            float64
	TransactionDescription  string
	TransactionDate         time.Time
	ExtractedNumbers        []string // invoice-number candidates pulled from the description

	InvoiceAmount            float64
	InvoiceNumber            string
	CounterpartyDenomination string
	InvoiceDate              time.Time
}

// Result is the analyzer's output: the composed score, its confidence
// band, human-readable reasons and the raw per-signal breakdown.
type Result struct {
	Score           float64
	Band            models.ConfidenceBand
	Reasons         []string
	SignalBreakdown map[string]float64
}

// Analyzer scores (invoice, transaction) pairs; it holds no state and
// is safe for concurrent use.
type Analyzer struct{}

// New constructs a stateless Analyzer.
func New() *Analyzer {
	return &Analyzer{}
}

// Score computes the weighted signal sum, capped at 1.0.
func (a *Analyzer) Score(p Pair) Result {
	signals := make(map[string]float64)
	var reasons []string

	if s, ok := amountSignal(p); ok {
		signals["amount"] = s
		if s >= 0.6 {
			reasons = append(reasons, "exact amount match")
		} else {
			reasons = append(reasons, "similar amount")
		}
	}

	if s, reason, ok := invoiceNumberSignal(p); ok {
		signals["invoice_number"] = s
		reasons = append(reasons, reason)
	}

	if s, reason, ok := nameSignal(p); ok {
		signals["name"] = s
		reasons = append(reasons, reason)
	}

	if s := temporalSignal(p); s > 0 {
		signals["temporal"] = s
		reasons = append(reasons, "dates close together")
	}

	if s := patternSignal(p); s > 0 {
		signals["pattern"] = s
		reasons = append(reasons, "matching numeric reference or keyword")
	}

	total := 0.0
	for _, v := range signals {
		total += v
	}
	if total > 1.0 {
		total = 1.0
	}

	return Result{
		Score:           total,
		Band:            ClassifyBand(total),
		Reasons:         reasons,
		SignalBreakdown: signals,
	}
}

// ClassifyBand buckets a score into confidence bands; exported so the
// suggestion engine can classify a combination-level confidence the
// same way a single-pair score is.
func ClassifyBand(score float64) models.ConfidenceBand {
	switch {
	case score >= 0.6:
		return models.BandHigh
	case score >= 0.3:
		return models.BandMedium
	case score >= 0.15:
		return models.BandLow
	default:
		return models.BandVeryLow
	}
}

func amountSignal(p Pair) (float64, bool) {
	diff := math.Abs(p.InvoiceAmount - p.TargetAmount)
	if diff <= money.Tolerance {
		return 0.6, true
	}
	if p.TargetAmount == 0 {
		return 0, false
	}
	r := diff / p.TargetAmount
	if r > money.Tolerance/p.TargetAmount && r <= 0.02 {
		return 0.4 * (1 - r/0.02), true
	}
	return 0, false
}

func invoiceNumberSignal(p Pair) (float64, string, bool) {
	if p.InvoiceNumber == "" {
		return 0, "", false
	}
	best := 0.0
	for _, candidate := range p.ExtractedNumbers {
		if sim := NumberSimilarity(candidate, p.InvoiceNumber); sim > best {
			best = sim
		}
	}
	if best >= 0.9 {
		return 0.3 * best, "invoice number referenced in description", true
	}
	return 0, "", false
}

func nameSignal(p Pair) (float64, string, bool) {
	denom := strings.TrimSpace(p.CounterpartyDenomination)
	if denom == "" {
		return 0, "", false
	}
	descUpper := strings.ToUpper(p.TransactionDescription)
	denomUpper := strings.ToUpper(denom)

	if strings.Contains(descUpper, denomUpper) {
		coverage := 1.0
		return 0.25 * (0.7 + 0.3*coverage), "counterparty name in description", true
	}

	descTokens := wordTokens(descUpper)
	denomTokens := wordTokens(denomUpper)
	if len(denomTokens) == 0 || len(descTokens) == 0 {
		return 0, "", false
	}

	descSet := toSet(descTokens)
	denomSet := toSet(denomTokens)

	intersection := 0
	for t := range denomSet {
		if descSet[t] {
			intersection++
		}
	}
	if intersection == 0 {
		return 0, "", false
	}

	wordCoverage := float64(intersection) / float64(len(denomSet))
	descCoverage := float64(intersection) / float64(len(descSet))

	avgTokenLen := averageLen(denomTokens)
	specificity := math.Min(1.2, avgTokenLen/6)

	score := 0.15 * wordCoverage * (0.7 + 0.3*descCoverage) * specificity
	if score > 0 {
		return score, "partial counterparty name match", true
	}
	return 0, "", false
}

// temporalSignal decays with the date gap: linear over the first 30
// days down to half weight, then an exponential tail that continues
// from that point out to 90 days. The two segments meet at 30 days so
// the signal is monotone in the date gap.
func temporalSignal(p Pair) float64 {
	if p.InvoiceDate.IsZero() || p.TransactionDate.IsZero() {
		return 0
	}
	days := math.Abs(p.TransactionDate.Sub(p.InvoiceDate).Hours() / 24)
	switch {
	case days <= 30:
		return 0.10 * (1 - 0.5*days/30)
	case days <= 90:
		return 0.10 * 0.5 * math.Exp(-(days-30)/30)
	default:
		return 0
	}
}

// patternSignal bonuses numeric-reference proximity (the invoice
// number's digits appearing near a transaction reference) and shared
// domain keywords, capped at 0.10.
func patternSignal(p Pair) float64 {
	score := 0.0
	descUpper := strings.ToUpper(p.TransactionDescription)

	for _, kw := range []string{"BONIFICO", "PAGAMENTO", "RIFERIMENTO", "FATTURA", "SALDO"} {
		if strings.Contains(descUpper, kw) {
			score += 0.02
		}
	}

	if p.InvoiceNumber != "" {
		digits := digitsOnly(p.InvoiceNumber)
		if digits != "" && strings.Contains(digitsOnly(descUpper), digits) {
			score += 0.05
		}
	}

	if score > 0.10 {
		score = 0.10
	}
	return score
}

func wordTokens(s string) []string {
	var out []string
	for _, f := range strings.FieldsFunc(s, func(r rune) bool {
		return !((r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9'))
	}) {
		if len(f) >= 2 {
			out = append(out, f)
		}
	}
	return out
}

func toSet(tokens []string) map[string]bool {
	set := make(map[string]bool, len(tokens))
	for _, t := range tokens {
		set[t] = true
	}
	return set
}

func averageLen(tokens []string) float64 {
	if len(tokens) == 0 {
		return 0
	}
	total := 0
	for _, t := range tokens {
		total += len(t)
	}
	return float64(total) / float64(len(tokens))
}

func digitsOnly(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
