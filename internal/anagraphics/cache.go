// Package anagraphics implements the counterparty lookup cache: a
// concurrent-safe, TTL-bounded index over fiscal IDs and name tokens,
// O(1) on the exact path, with all writes serialized behind a single
// mutex.
package anagraphics

import (
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/fatturaanalyzer/reconciler/pkg/models"
)

// entry is a cache-resident counterparty plus the tokens its
// denomination was split into, so the resolver's fuzzy path doesn't
// re-tokenize on every lookup.
type entry struct {
	party     models.Counterparty
	tokens    []string
	expiresAt time.Time
}

// Cache holds the whole counterparty anagraphic in memory: a fiscal-ID
// index for the resolver's exact-match fast path and an inverted token
// index over denominations for fuzzy name lookups, both kept in
// lockstep with the LRU-bounded residency set.
type Cache struct {
	mu          sync.RWMutex
	fiscalIndex map[string]int64   // normalized fiscal id/tax code -> counterparty id
	tokenIndex  map[string][]int64 // denomination token -> postings list of counterparty ids
	byID        map[int64]*entry
	tokenLRU    *lru.Cache[int64, struct{}]
	ttl         time.Duration
}

// New builds an empty cache. maxSize caps the number of resident
// counterparties; inserting past it evicts the least recently used
// entry from every index in lockstep. ttl is how long an entry counts
// as fresh (see Stale); an expired entry stays resident and is not
// re-fetched.
func New(maxSize int, ttl time.Duration) *Cache {
	if maxSize <= 0 {
		maxSize = 10000
	}
	c := &Cache{
		fiscalIndex: make(map[string]int64),
		tokenIndex:  make(map[string][]int64),
		byID:        make(map[int64]*entry),
		ttl:         ttl,
	}
	// The LRU is the authority on residency: its eviction callback
	// tears the entry out of the other indices, so they can never
	// outgrow maxSize. The callback always runs with c.mu held by the
	// mutating caller.
	c.tokenLRU, _ = lru.NewWithEvict[int64, struct{}](maxSize, func(id int64, _ struct{}) {
		c.removeLocked(id)
	})
	return c
}

// Put inserts or refreshes a counterparty in the cache, keeping the
// fiscal and token indices in lockstep.
func (c *Cache) Put(party models.Counterparty) {
	c.mu.Lock()
	defer c.mu.Unlock()

	// A refresh may carry a changed denomination or fiscal code; clear
	// the old entry's index rows before writing the new ones.
	c.removeLocked(party.ID)

	e := &entry{
		party:     party,
		tokens:    tokenize(party.Denomination),
		expiresAt: time.Now().Add(c.ttl),
	}
	c.byID[party.ID] = e
	c.tokenLRU.Add(party.ID, struct{}{})

	for _, t := range e.tokens {
		c.tokenIndex[t] = append(c.tokenIndex[t], party.ID)
	}
	if fid := normalizeFiscal(party.FiscalID); fid != "" {
		c.fiscalIndex[fid] = party.ID
	}
	if tc := normalizeFiscal(party.TaxCode); tc != "" {
		c.fiscalIndex[tc] = party.ID
	}
}

// Remove evicts a counterparty entirely, used when a record is merged
// or deleted upstream.
func (c *Cache) Remove(id int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	// Remove fires the eviction callback, which clears the other
	// indices via removeLocked.
	c.tokenLRU.Remove(id)
}

// removeLocked clears id from the map indices. Callers must hold c.mu;
// it never touches tokenLRU so it is safe to run from its eviction
// callback.
func (c *Cache) removeLocked(id int64) {
	e, ok := c.byID[id]
	if !ok {
		return
	}
	delete(c.byID, id)
	for _, t := range e.tokens {
		c.tokenIndex[t] = removeID(c.tokenIndex[t], id)
		if len(c.tokenIndex[t]) == 0 {
			delete(c.tokenIndex, t)
		}
	}
	if fid := normalizeFiscal(e.party.FiscalID); fid != "" && c.fiscalIndex[fid] == id {
		delete(c.fiscalIndex, fid)
	}
	if tc := normalizeFiscal(e.party.TaxCode); tc != "" && c.fiscalIndex[tc] == id {
		delete(c.fiscalIndex, tc)
	}
}

func removeID(postings []int64, id int64) []int64 {
	for i, v := range postings {
		if v == id {
			return append(postings[:i], postings[i+1:]...)
		}
	}
	return postings
}

// LookupByFiscalID is the resolver's O(1) fast path. A stale
// (expired) hit is still returned: expiry never changes a lookup's
// result, since the fiscal ID itself never changes underneath a
// counterparty.
func (c *Cache) LookupByFiscalID(fiscalID string) (models.Counterparty, bool) {
	key := normalizeFiscal(fiscalID)
	if key == "" {
		return models.Counterparty{}, false
	}
	c.mu.RLock()
	defer c.mu.RUnlock()

	id, ok := c.fiscalIndex[key]
	if !ok {
		return models.Counterparty{}, false
	}
	e, ok := c.byID[id]
	if !ok {
		return models.Counterparty{}, false
	}
	c.tokenLRU.Get(id) // touch recency; the LRU carries its own lock
	return e.party, true
}

// SearchByTokens intersects the postings lists of every given token:
// the returned ids are the counterparties whose denomination contains
// all of them. Tokens are normalized the same way denominations are on
// Put, so short and legal-form tokens never constrain the result.
func (c *Cache) SearchByTokens(tokens []string) []int64 {
	var normalized []string
	for _, t := range tokens {
		normalized = append(normalized, tokenize(t)...)
	}
	if len(normalized) == 0 {
		return nil
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	// Intersect starting from the rarest postings list, so a single
	// selective token bounds the whole scan.
	shortest := ""
	for _, t := range normalized {
		postings, ok := c.tokenIndex[t]
		if !ok {
			return nil
		}
		if shortest == "" || len(postings) < len(c.tokenIndex[shortest]) {
			shortest = t
		}
	}

	var out []int64
	for _, id := range c.tokenIndex[shortest] {
		inAll := true
		for _, t := range normalized {
			if !postingsContain(c.tokenIndex[t], id) {
				inAll = false
				break
			}
		}
		if inAll {
			out = append(out, id)
		}
	}
	return out
}

func postingsContain(postings []int64, id int64) bool {
	for _, v := range postings {
		if v == id {
			return true
		}
	}
	return false
}

// Get returns the cached counterparty by ID, if present.
func (c *Cache) Get(id int64) (models.Counterparty, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.byID[id]
	if !ok {
		return models.Counterparty{}, false
	}
	c.tokenLRU.Get(id)
	return e.party, true
}

// Size returns the number of cached counterparties.
func (c *Cache) Size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.byID)
}

// Stale reports whether id's entry has outlived the cache TTL. The
// resolver does not consult it.
func (c *Cache) Stale(id int64) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.byID[id]
	if !ok {
		return true
	}
	return time.Now().After(e.expiresAt)
}

func normalizeFiscal(s string) string {
	s = strings.ToUpper(strings.TrimSpace(s))
	s = strings.ReplaceAll(s, " ", "")
	// An Italian P.IVA is indexed without its country prefix, so
	// "IT01234567890" and "01234567890" name the same counterparty.
	if len(s) == 13 && strings.HasPrefix(s, "IT") && strings.Trim(s[2:], "0123456789") == "" {
		s = s[2:]
	}
	return s
}

func tokenize(denomination string) []string {
	fields := strings.FieldsFunc(strings.ToUpper(denomination), func(r rune) bool {
		return !((r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9'))
	})
	var tokens []string
	for _, f := range fields {
		if len(f) < 3 {
			continue
		}
		if isLegalFormSuffix(f) {
			continue
		}
		tokens = append(tokens, f)
	}
	return tokens
}

var legalFormSuffixes = map[string]bool{
	"SRL": true, "SPA": true, "SNC": true, "SAS": true,
	"SRLS": true, "COOP": true, "SOC": true,
}

func isLegalFormSuffix(token string) bool {
	return legalFormSuffixes[token]
}
