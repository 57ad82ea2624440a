// Package combination implements the combination generator: given a
// sorted list of candidate residuals and a target amount, it
// enumerates subsets summing to the target within tolerance, pruning
// the search with prefix/suffix bounds instead of brute-forcing every
// subset and capping recursion with an explicit budget instead of
// running unbounded.
package combination

import (
	"context"
	"sort"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/fatturaanalyzer/reconciler/internal/money"
)

// Candidate is one invoice residual eligible for the search.
type Candidate struct {
	ID       int64
	Residual float64
}

// Combination is a set of candidate IDs whose residuals sum to the
// target within tolerance.
type Combination struct {
	IDs []int64
	Sum float64

	key string // amounts-multiset dedup key, set by emit
}

// Limits bounds the search: a per-run wall-clock budget and a
// per-size iteration budget.
type Limits struct {
	MaxWallclock       time.Duration
	MaxCombinationSize int
	MaxIterationsPerSize int
	Workers            int
}

// DefaultLimits matches the engine's documented defaults.
func DefaultLimits() Limits {
	return Limits{
		MaxWallclock:         30 * time.Second,
		MaxCombinationSize:   5,
		MaxIterationsPerSize: 200000,
		Workers:              4,
	}
}

// Generator enumerates target-summing subsets of a candidate set.
type Generator struct {
	limits Limits
}

// New builds a Generator bounded by limits.
func New(limits Limits) *Generator {
	if limits.MaxCombinationSize <= 0 {
		limits.MaxCombinationSize = 5
	}
	if limits.MaxIterationsPerSize <= 0 {
		limits.MaxIterationsPerSize = 200000
	}
	if limits.Workers <= 0 {
		limits.Workers = 4
	}
	return &Generator{limits: limits}
}

// search is the mutable state threaded through one run's recursion: it
// tracks the budget deadline and the per-size iteration counter and
// dedup set, all guarded implicitly by single-goroutine use per
// partition (parallel partitions get their own search and are merged).
type search struct {
	candidates []Candidate
	prefix     []float64 // prefix[i] = sum of candidates[0:i]
	target     float64
	deadline   time.Time
	maxSize    int
	maxIter    int
	results    []Combination
	seen       map[string]bool
	iterations int
}

// Enumerate searches sizes 2-3 eagerly, then sizes 4..max only if
// fewer than 5 combinations were found and budget remains.
// Candidates are sorted ascending by residual internally; the returned
// combinations reference original IDs.
func (g *Generator) Enumerate(ctx context.Context, candidates []Candidate, target float64) []Combination {
	if len(candidates) < 2 || target <= money.Tolerance/2 {
		return nil
	}

	sorted := append([]Candidate(nil), candidates...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Residual < sorted[j].Residual })

	prefix := make([]float64, len(sorted)+1)
	for i, c := range sorted {
		prefix[i+1] = prefix[i] + c.Residual
	}

	deadline := time.Now().Add(g.limits.MaxWallclock)
	var all []Combination
	seen := make(map[string]bool)

	for size := 2; size <= 3 && size <= len(sorted); size++ {
		if time.Now().After(deadline) || ctxDone(ctx) {
			return all
		}
		all = append(all, g.enumerateSize(ctx, sorted, prefix, target, size, deadline, seen)...)
	}

	if len(all) < 5 {
		for size := 4; size <= g.limits.MaxCombinationSize && size <= len(sorted); size++ {
			if time.Now().After(deadline) || ctxDone(ctx) {
				return all
			}
			var found []Combination
			if size >= 3 && len(sorted) >= 10 {
				found = g.enumerateSizeParallel(ctx, sorted, prefix, target, size, deadline, seen)
			} else {
				found = g.enumerateSize(ctx, sorted, prefix, target, size, deadline, seen)
			}
			all = append(all, found...)
		}
	}

	return all
}

func ctxDone(ctx context.Context) bool {
	select {
	case <-ctx.Done():
		return true
	default:
		return false
	}
}

// enumerateSize runs the bounded backtracking search for an exact
// subset size over the whole candidate range.
func (g *Generator) enumerateSize(ctx context.Context, sorted []Candidate, prefix []float64, target float64, size int, deadline time.Time, seen map[string]bool) []Combination {
	s := &search{
		candidates: sorted,
		prefix:     prefix,
		target:     target,
		deadline:   deadline,
		maxSize:    size,
		maxIter:    g.limits.MaxIterationsPerSize,
		seen:       seen,
	}
	picks := make([]int, 0, size)
	s.recurse(ctx, 0, picks, 0)
	return s.results
}

// enumerateSizeParallel partitions the candidate array by first-pick
// index across worker goroutines and merges their results.
func (g *Generator) enumerateSizeParallel(ctx context.Context, sorted []Candidate, prefix []float64, target float64, size int, deadline time.Time, seen map[string]bool) []Combination {
	n := len(sorted) - size + 1
	if n <= 0 {
		return nil
	}
	workers := g.limits.Workers
	if workers > n {
		workers = n
	}

	type partial struct {
		idx     int
		results []Combination
	}
	resultsCh := make(chan partial, workers)

	grp, gctx := errgroup.WithContext(ctx)
	chunk := (n + workers - 1) / workers
	for w := 0; w < workers; w++ {
		start := w * chunk
		end := start + chunk
		if end > n {
			end = n
		}
		if start >= end {
			continue
		}
		w := w
		grp.Go(func() error {
			local := &search{
				candidates: sorted,
				prefix:     prefix,
				target:     target,
				deadline:   deadline,
				maxSize:    size,
				maxIter:    g.limits.MaxIterationsPerSize,
				seen:       make(map[string]bool), // dedup merged after
			}
			for first := start; first < end; first++ {
				if time.Now().After(deadline) || ctxDone(gctx) {
					break
				}
				firstVal := sorted[first].Residual
				local.recurse(gctx, first+1, []int{first}, firstVal)
			}
			resultsCh <- partial{idx: w, results: local.results}
			return nil
		})
	}
	_ = grp.Wait()
	close(resultsCh)

	var merged []Combination
	for p := range resultsCh {
		for _, c := range p.results {
			if seen[c.key] {
				continue
			}
			seen[c.key] = true
			merged = append(merged, c)
		}
	}
	return merged
}

// recurse is the pruned backtracking search: feasibility bounds from
// prefix/suffix sums, and amounts-multiset deduplication on emit.
func (s *search) recurse(ctx context.Context, start int, picks []int, currentSum float64) {
	if s.iterations >= s.maxIter || time.Now().After(s.deadline) || ctxDone(ctx) {
		return
	}
	s.iterations++

	remaining := s.maxSize - len(picks)
	if remaining == 0 {
		if money.Equal(currentSum, s.target) {
			s.emit(picks, currentSum)
		}
		return
	}

	n := len(s.candidates)
	if start >= n || n-start < remaining {
		return
	}

	eps := money.Tolerance
	lowTarget := s.target - eps*float64(remaining)
	highTarget := s.target + eps*float64(remaining)

	// Feasibility bounds using the smallest/largest remaining candidates.
	smallestSum := sumRange(s.prefix, start, start+remaining)
	largestSum := sumRange(s.prefix, n-remaining, n)

	if currentSum+smallestSum > highTarget || currentSum+largestSum < lowTarget {
		return
	}

	// Binary-search the first index beyond which a single pick would
	// already overshoot the target, capping the inner loop.
	capIdx := searchUpperBound(s.candidates, start, n, highTarget-currentSum)

	for i := start; i < capIdx; i++ {
		next := currentSum + s.candidates[i].Residual
		if next > highTarget {
			break
		}
		s.recurse(ctx, i+1, append(picks, i), next)
		if s.iterations >= s.maxIter || time.Now().After(s.deadline) {
			return
		}
	}
}

func (s *search) emit(picks []int, sum float64) {
	// The dedup key is the sorted multiset of quantized amounts, so two
	// combinations that differ only by swapping invoices of identical
	// amounts collapse to one, while distinct amount compositions at
	// the same total both survive.
	key := s.amountsKey(picks)
	if s.seen[key] {
		return
	}
	s.seen[key] = true

	ids := make([]int64, len(picks))
	for i, idx := range picks {
		ids[i] = s.candidates[idx].ID
	}
	s.results = append(s.results, Combination{IDs: ids, Sum: money.Quantize(sum), key: key})
}

func (s *search) amountsKey(picks []int) string {
	amounts := make([]float64, len(picks))
	for i, idx := range picks {
		amounts[i] = money.Quantize(s.candidates[idx].Residual)
	}
	sort.Float64s(amounts)
	var b strings.Builder
	for _, a := range amounts {
		b.WriteString(money.FormatAmount(a))
		b.WriteByte('|')
	}
	return b.String()
}

func sumRange(prefix []float64, from, to int) float64 {
	if from < 0 {
		from = 0
	}
	if to > len(prefix)-1 {
		to = len(prefix) - 1
	}
	if from >= to {
		return 0
	}
	return prefix[to] - prefix[from]
}

// searchUpperBound binary-searches candidates[start:end] for the first
// index whose residual alone would push currentSum past budget.
func searchUpperBound(candidates []Candidate, start, end int, budget float64) int {
	lo, hi := start, end
	for lo < hi {
		mid := (lo + hi) / 2
		if candidates[mid].Residual > budget {
			hi = mid
		} else {
			lo = mid + 1
		}
	}
	return lo
}

func idsKey(ids []int64) string {
	sorted := append([]int64(nil), ids...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	var b strings.Builder
	for _, id := range sorted {
		b.WriteString(strconv.FormatInt(id, 10))
		b.WriteByte(',')
	}
	return b.String()
}
