package anagraphics

import (
	"testing"
	"time"

	"github.com/fatturaanalyzer/reconciler/pkg/models"
)

func TestLookupByFiscalIDCaseInsensitive(t *testing.T) {
	c := New(100, time.Minute)
	c.Put(models.Counterparty{ID: 1, Denomination: "Rossi Srl", FiscalID: "it01234567890"})

	got, ok := c.LookupByFiscalID("IT01234567890")
	if !ok {
		t.Fatal("expected fiscal id lookup to hit")
	}
	if got.ID != 1 {
		t.Fatalf("got id %d, want 1", got.ID)
	}
}

func TestLookupByFiscalIDMiss(t *testing.T) {
	c := New(100, time.Minute)
	if _, ok := c.LookupByFiscalID("IT99999999999"); ok {
		t.Fatal("expected miss")
	}
}

func TestSearchByTokensIntersectsPostings(t *testing.T) {
	c := New(100, time.Minute)
	c.Put(models.Counterparty{ID: 1, Denomination: "Rossi Costruzioni Srl"})
	c.Put(models.Counterparty{ID: 2, Denomination: "Rossi Impianti Spa"})

	ids := c.SearchByTokens([]string{"Rossi", "Costruzioni"})
	if len(ids) != 1 || ids[0] != 1 {
		t.Fatalf("expected only id 1 to contain both tokens, got %v", ids)
	}

	ids = c.SearchByTokens([]string{"Rossi"})
	if len(ids) != 2 {
		t.Fatalf("expected both ids for the shared token, got %v", ids)
	}

	if ids := c.SearchByTokens([]string{"Rossi", "Verdi"}); ids != nil {
		t.Fatalf("expected empty intersection for unknown token, got %v", ids)
	}
}

func TestSearchByTokensFiltersLegalForm(t *testing.T) {
	c := New(100, time.Minute)
	c.Put(models.Counterparty{ID: 1, Denomination: "Rossi Costruzioni Srl"})

	// "Srl" never enters the index, so it must not constrain a search.
	ids := c.SearchByTokens([]string{"Rossi", "Srl"})
	if len(ids) != 1 || ids[0] != 1 {
		t.Fatalf("expected legal-form token to be ignored, got %v", ids)
	}
}

func TestPutRefreshReindexesTokens(t *testing.T) {
	c := New(100, time.Minute)
	c.Put(models.Counterparty{ID: 1, Denomination: "Rossi Costruzioni Srl"})
	c.Put(models.Counterparty{ID: 1, Denomination: "Rossi Scavi Srl"})

	if ids := c.SearchByTokens([]string{"Costruzioni"}); ids != nil {
		t.Fatalf("expected old tokens to be dropped on refresh, got %v", ids)
	}
	if ids := c.SearchByTokens([]string{"Scavi"}); len(ids) != 1 || ids[0] != 1 {
		t.Fatalf("expected refreshed tokens to resolve, got %v", ids)
	}
}

func TestRemoveClearsFiscalIndex(t *testing.T) {
	c := New(100, time.Minute)
	c.Put(models.Counterparty{ID: 1, FiscalID: "IT01234567890"})
	c.Remove(1)

	if _, ok := c.LookupByFiscalID("IT01234567890"); ok {
		t.Fatal("expected lookup to miss after removal")
	}
	if _, ok := c.Get(1); ok {
		t.Fatal("expected Get to miss after removal")
	}
}

func TestStaleAfterTTL(t *testing.T) {
	c := New(100, -time.Second) // already expired on insert
	c.Put(models.Counterparty{ID: 1})
	if !c.Stale(1) {
		t.Fatal("expected entry to be stale immediately with negative TTL")
	}
}

func TestSize(t *testing.T) {
	c := New(100, time.Minute)
	c.Put(models.Counterparty{ID: 1})
	c.Put(models.Counterparty{ID: 2})
	if c.Size() != 2 {
		t.Fatalf("got size %d, want 2", c.Size())
	}
}
