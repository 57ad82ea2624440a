package resolver

import (
	"testing"
	"time"

	"github.com/fatturaanalyzer/reconciler/internal/anagraphics"
	"github.com/fatturaanalyzer/reconciler/pkg/models"
)

func newTestCache() *anagraphics.Cache {
	c := anagraphics.New(100, time.Hour)
	c.Put(models.Counterparty{ID: 1, Denomination: "Rossi Costruzioni Srl", FiscalID: "IT01234567890"})
	c.Put(models.Counterparty{ID: 2, Denomination: "Bianchi Impianti Spa", TaxCode: "BNCMRA80A01H501Z"})
	return c
}

func TestResolveByFiscalCode(t *testing.T) {
	r := New(newTestCache(), time.Minute)
	id, ok := r.Resolve("Bonifico da IT01234567890 per fattura 123")
	if !ok || id != 1 {
		t.Fatalf("got id=%d ok=%v, want id=1 ok=true", id, ok)
	}
}

func TestResolveByTaxCode(t *testing.T) {
	r := New(newTestCache(), time.Minute)
	id, ok := r.Resolve("Pagamento BNCMRA80A01H501Z saldo")
	if !ok || id != 2 {
		t.Fatalf("got id=%d ok=%v, want id=2 ok=true", id, ok)
	}
}

func TestResolveByNameTokens(t *testing.T) {
	r := New(newTestCache(), time.Minute)
	id, ok := r.Resolve("Bonifico ricevuto da Rossi Costruzioni per saldo fattura")
	if !ok || id != 1 {
		t.Fatalf("got id=%d ok=%v, want id=1 ok=true", id, ok)
	}
}

func TestResolveNoMatch(t *testing.T) {
	r := New(newTestCache(), time.Minute)
	if _, ok := r.Resolve("generic unrelated payment text here"); ok {
		t.Fatal("expected no match")
	}
}

func TestResolveMemoized(t *testing.T) {
	r := New(newTestCache(), time.Minute)
	id1, ok1 := r.Resolve("Bonifico da IT01234567890")
	id2, ok2 := r.Resolve("Bonifico da IT01234567890")
	if id1 != id2 || ok1 != ok2 {
		t.Fatalf("memoized result mismatch: (%d,%v) vs (%d,%v)", id1, ok1, id2, ok2)
	}
}

func TestInvalidateMemo(t *testing.T) {
	r := New(newTestCache(), time.Minute)
	r.Resolve("Bonifico da IT01234567890")
	r.InvalidateMemo()
	if len(r.memo) != 0 {
		t.Fatal("expected memo to be cleared")
	}
}
