package suggest

import (
	"testing"
	"time"

	"github.com/fatturaanalyzer/reconciler/pkg/models"
)

func TestCombinationConfidenceExactSumHighBase(t *testing.T) {
	invs := []models.Invoice{
		{ID: 1, DocDate: time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), DocNumber: "2024/118"},
		{ID: 2, DocDate: time.Date(2024, 3, 2, 0, 0, 0, 0, time.UTC), DocNumber: "2024/119"},
	}
	conf := combinationConfidence(1000, 1000, invs)
	if conf < 0.9 {
		t.Fatalf("expected high confidence for exact sum + coherent dates + sequence, got %v", conf)
	}
}

func TestCombinationConfidencePenalizesSize(t *testing.T) {
	small := combinationConfidence(1000, 1000, []models.Invoice{{ID: 1}, {ID: 2}})
	large := combinationConfidence(1000, 1000, []models.Invoice{{ID: 1}, {ID: 2}, {ID: 3}, {ID: 4}, {ID: 5}})
	if large >= small {
		t.Fatalf("expected larger combinations to score lower: small=%v large=%v", small, large)
	}
}

func TestTemporalCoherenceSingleInvoiceIsPerfect(t *testing.T) {
	if got := temporalCoherence([]models.Invoice{{ID: 1}}); got != 1 {
		t.Fatalf("expected 1.0 for a single invoice, got %v", got)
	}
}

func TestTemporalCoherenceDecaysWithSpread(t *testing.T) {
	invs := []models.Invoice{
		{DocDate: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)},
		{DocDate: time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)},
	}
	if got := temporalCoherence(invs); got >= 0.5 {
		t.Fatalf("expected low coherence for a 5-month spread, got %v", got)
	}
}

func TestNumericSequenceBonusDetectsConsecutive(t *testing.T) {
	invs := []models.Invoice{{DocNumber: "2024/10"}, {DocNumber: "2024/11"}, {DocNumber: "2024/12"}}
	if got := numericSequenceBonus(invs); got != 1 {
		t.Fatalf("expected sequence bonus 1.0, got %v", got)
	}
}

func TestNumericSequenceBonusRejectsGaps(t *testing.T) {
	invs := []models.Invoice{{DocNumber: "2024/10"}, {DocNumber: "2024/50"}}
	if got := numericSequenceBonus(invs); got != 0 {
		t.Fatalf("expected sequence bonus 0, got %v", got)
	}
}

func TestNumericSequenceBonusFractional(t *testing.T) {
	invs := []models.Invoice{{DocNumber: "2024/10"}, {DocNumber: "2024/11"}, {DocNumber: "2024/50"}}
	if got := numericSequenceBonus(invs); got != 0.5 {
		t.Fatalf("expected bonus 0.5 for one consecutive pair out of two, got %v", got)
	}
}

func TestGroupNearDuplicatesKeepsBestRepresentative(t *testing.T) {
	in := []Suggestion{
		{InvoiceIDs: []int64{1, 2, 3}, Amount: 100, Confidence: 0.9},
		{InvoiceIDs: []int64{1, 2, 4}, Amount: 100, Confidence: 0.8},
		{InvoiceIDs: []int64{7, 8}, Amount: 100, Confidence: 0.7},
	}
	out := groupNearDuplicates(in)
	if len(out) != 2 {
		t.Fatalf("expected 2 groups, got %d", len(out))
	}
	if out[0].Confidence != 0.9 || out[1].Confidence != 0.7 {
		t.Fatalf("expected best representatives kept, got %+v", out)
	}
}

func TestIDOverlap(t *testing.T) {
	if got := idOverlap([]int64{1, 2, 3}, []int64{2, 3, 4}); got != 0.5 {
		t.Fatalf("idOverlap = %v, want 0.5", got)
	}
	if got := idOverlap([]int64{1}, []int64{2}); got != 0 {
		t.Fatalf("idOverlap disjoint = %v, want 0", got)
	}
}

func TestDedupKeyOrderIndependent(t *testing.T) {
	a := dedupKey([]int64{3, 1, 2})
	b := dedupKey([]int64{1, 2, 3})
	if a != b {
		t.Fatalf("expected order-independent dedup keys, got %q vs %q", a, b)
	}
}

func TestClamp01(t *testing.T) {
	if clamp01(-1) != 0 || clamp01(2) != 1 || clamp01(0.5) != 0.5 {
		t.Fatal("clamp01 out of range")
	}
}
