// Package resolver implements the counterparty resolver: it turns
// a free-text transaction description into a best-guess counterparty,
// first by exact fiscal-code extraction, then by fuzzy token scoring
// over the anagraphics cache.
package resolver

import (
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/fatturaanalyzer/reconciler/internal/anagraphics"
	"github.com/fatturaanalyzer/reconciler/pkg/models"
)

var (
	reVATCode = regexp.MustCompile(`\b(?:IT)?\d{11}\b`)
	reTaxCode = regexp.MustCompile(`\b[A-Z0-9]{16}\b`)
	reWord    = regexp.MustCompile(`[A-Za-z0-9]+`)
)

// minTokenScore is the acceptance threshold for the fuzzy path.
const minTokenScore = 0.3

// Resolver memoizes per-description lookups for memoTTL. InvalidateMemo
// drops them all at once; changes to the backing cache do not.
type Resolver struct {
	cache *anagraphics.Cache

	mu      sync.Mutex
	memo    map[string]memoEntry
	memoTTL time.Duration
}

type memoEntry struct {
	id        int64
	found     bool
	expiresAt time.Time
}

// New builds a resolver over cache, memoizing hits/misses for memoTTL.
func New(cache *anagraphics.Cache, memoTTL time.Duration) *Resolver {
	return &Resolver{
		cache:   cache,
		memo:    make(map[string]memoEntry),
		memoTTL: memoTTL,
	}
}

// InvalidateMemo drops every memoized result.
func (r *Resolver) InvalidateMemo() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.memo = make(map[string]memoEntry)
}

// Resolve returns the best-matching counterparty id for description, or
// false if nothing scores above threshold.
func (r *Resolver) Resolve(description string) (int64, bool) {
	r.mu.Lock()
	if e, ok := r.memo[description]; ok && time.Now().Before(e.expiresAt) {
		r.mu.Unlock()
		return e.id, e.found
	}
	r.mu.Unlock()

	id, found := r.resolveUncached(description)

	r.mu.Lock()
	r.memo[description] = memoEntry{id: id, found: found, expiresAt: time.Now().Add(r.memoTTL)}
	r.mu.Unlock()

	return id, found
}

func (r *Resolver) resolveUncached(description string) (int64, bool) {
	for _, code := range extractFiscalCodes(description) {
		if party, ok := r.cache.LookupByFiscalID(code); ok {
			return party.ID, true
		}
	}

	descTokens := tokenizeDescription(description)
	if len(descTokens) == 0 {
		return 0, false
	}
	descSet := toSet(descTokens)
	descUpper := strings.ToUpper(description)

	// A description mentions far more than the counterparty's name, so
	// the candidate pool is the union of each token's postings rather
	// than one intersection query over all description tokens — any
	// shared token makes a counterparty worth scoring.
	candidateIDs := make(map[int64]bool)
	for _, qt := range descTokens {
		for _, id := range r.cache.SearchByTokens([]string{qt}) {
			candidateIDs[id] = true
		}
	}

	var bestID int64
	var bestScore float64
	for id := range candidateIDs {
		c, ok := r.cache.Get(id)
		if !ok {
			continue
		}
		score := scoreCandidate(descSet, descUpper, c)
		if score > bestScore {
			bestScore = score
			bestID = c.ID
		}
	}
	if bestScore >= minTokenScore {
		return bestID, true
	}
	return 0, false
}

// scoreCandidate implements the weighted Jaccard/coverage formula,
// with a substring boost when the full denomination appears verbatim
// in the description.
func scoreCandidate(descSet map[string]bool, descUpper string, c models.Counterparty) float64 {
	candTokens := tokenizeDescription(c.Denomination)
	if len(candTokens) == 0 {
		return 0
	}
	candSet := toSet(candTokens)

	intersection := 0
	for t := range candSet {
		if descSet[t] {
			intersection++
		}
	}
	union := len(descSet) + len(candSet) - intersection
	jaccard := 0.0
	if union > 0 {
		jaccard = float64(intersection) / float64(union)
	}
	coverage := float64(intersection) / float64(len(candSet))

	score := 0.4*jaccard + 0.6*coverage

	if strings.Contains(descUpper, strings.ToUpper(strings.TrimSpace(c.Denomination))) {
		score += 0.2
	}
	if score > 1 {
		score = 1
	}
	return score
}

func toSet(tokens []string) map[string]bool {
	set := make(map[string]bool, len(tokens))
	for _, t := range tokens {
		set[t] = true
	}
	return set
}

// tokenizeDescription uppercases, splits on non-alphanumerics, and keeps
// tokens of length >= 3.
func tokenizeDescription(s string) []string {
	words := reWord.FindAllString(strings.ToUpper(s), -1)
	var out []string
	for _, w := range words {
		if len(w) >= 3 {
			out = append(out, w)
		}
	}
	return out
}

// extractFiscalCodes pulls 11-digit VAT numbers (bare or IT-prefixed) and 16-char alphanumeric
// tax codes out of free text.
func extractFiscalCodes(s string) []string {
	upper := strings.ToUpper(s)
	var out []string
	out = append(out, reVATCode.FindAllString(upper, -1)...)
	out = append(out, reTaxCode.FindAllString(upper, -1)...)
	return out
}
