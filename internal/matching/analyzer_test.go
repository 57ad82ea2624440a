package matching

import (
	"testing"
	"time"

	"github.com/fatturaanalyzer/reconciler/pkg/models"
)

func TestScoreExactAmountOnlyMeetsHighThreshold(t *testing.T) {
	// An exact amount match carries weight 0.6, which
	// alone already meets the High threshold (score >= 0.6).
	a := New()
	res := a.Score(Pair{
		TargetAmount:  1000.00,
		InvoiceAmount: 1000.00,
	})
	if res.Band != models.BandHigh {
		t.Fatalf("got band %s, want High (score=%v)", res.Band, res.Score)
	}
}

func TestScoreExactAmountPlusNameIsHigh(t *testing.T) {
	a := New()
	res := a.Score(Pair{
		TargetAmount:             1000.00,
		InvoiceAmount:            1000.00,
		TransactionDescription:   "Bonifico da Rossi Costruzioni Srl saldo fattura",
		CounterpartyDenomination: "Rossi Costruzioni Srl",
		TransactionDate:          time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC),
		InvoiceDate:              time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
	})
	if res.Band != models.BandHigh {
		t.Fatalf("got band %s, want High (score=%v, signals=%v)", res.Band, res.Score, res.SignalBreakdown)
	}
}

func TestScoreNoSignalsIsVeryLow(t *testing.T) {
	a := New()
	res := a.Score(Pair{
		TargetAmount:  1000.00,
		InvoiceAmount: 500.00,
	})
	if res.Band != models.BandVeryLow {
		t.Fatalf("got band %s, want VeryLow", res.Band)
	}
}

func TestScoreSimilarAmountDecaysWithDistance(t *testing.T) {
	a := New()
	closer := a.Score(Pair{TargetAmount: 1000, InvoiceAmount: 1005})
	farther := a.Score(Pair{TargetAmount: 1000, InvoiceAmount: 1015})
	if closer.Score <= farther.Score {
		t.Fatalf("expected closer amount to score higher: closer=%v farther=%v", closer.Score, farther.Score)
	}
}

func TestScoreInvoiceNumberSignal(t *testing.T) {
	a := New()
	res := a.Score(Pair{
		TargetAmount:      1000,
		InvoiceAmount:     900, // no amount signal
		InvoiceNumber:     "2024/00123",
		ExtractedNumbers:  []string{"2024/00123"},
	})
	if _, ok := res.SignalBreakdown["invoice_number"]; !ok {
		t.Fatalf("expected invoice_number signal present, got %v", res.SignalBreakdown)
	}
}

func TestScoreNeverExceedsOne(t *testing.T) {
	a := New()
	res := a.Score(Pair{
		TargetAmount:             1000,
		InvoiceAmount:            1000,
		InvoiceNumber:            "2024/00123",
		ExtractedNumbers:         []string{"2024/00123"},
		TransactionDescription:   "Bonifico Rossi Costruzioni Srl rif 2024/00123 pagamento fattura saldo riferimento",
		CounterpartyDenomination: "Rossi Costruzioni Srl",
		TransactionDate:          time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
		InvoiceDate:              time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
	})
	if res.Score > 1.0 {
		t.Fatalf("score %v exceeds 1.0", res.Score)
	}
}

func TestExtractInvoiceNumberCandidatesFiltersFalsePositives(t *testing.T) {
	candidates := ExtractInvoiceNumberCandidates("Bonifico EUR 100.00 rif 2024/00123 del 2024-03-05")
	found := false
	for _, c := range candidates {
		if c == "2024/00123" {
			found = true
		}
		if c == "2024-03-05" {
			t.Fatalf("date-shaped token should be filtered: %v", candidates)
		}
	}
	if !found {
		t.Fatalf("expected 2024/00123 among candidates, got %v", candidates)
	}
}

func TestNumberSimilarityExactAndPrefix(t *testing.T) {
	if NumberSimilarity("2024/123", "2024/123") != 1 {
		t.Fatal("expected identical tokens to score 1")
	}
	if NumberSimilarity("123", "00123") == 0 {
		t.Fatal("expected leading-zero variant to score > 0")
	}
}
