package money

import (
	"math"
	"testing"
	"time"
)

func TestToDecimalFormats(t *testing.T) {
	cases := []struct {
		name  string
		in    interface{}
		want  float64
	}{
		{"plain english", "1234.56", 1234.56},
		{"italian thousands+comma", "1.234,56", 1234.56},
		{"comma decimal only", "12,5", 12.5},
		{"plain int", 42, 42},
		{"nil", nil, 0},
		{"null-like string", "null", 0},
		{"date-shaped string rejected", "2024-03-05", 0},
		{"currency symbol", "€ 1.234,56", 1234.56},
		{"garbage", "not-a-number", 0},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			got := ToDecimal(c.in, 0)
			if !Equal(got, c.want) {
				t.Fatalf("ToDecimal(%v) = %v, want %v", c.in, got, c.want)
			}
		})
	}
}

func TestQuantizeNonFinite(t *testing.T) {
	if got := Quantize(math.NaN()); got != 0 {
		t.Fatalf("Quantize(NaN) = %v, want 0", got)
	}
	if got := Quantize(math.Inf(1)); got != 0 {
		t.Fatalf("Quantize(+Inf) = %v, want 0", got)
	}
	if got := Quantize(1.005); got != 1.01 && got != 1.0 {
		// half-up rounding should land on 1.01 for this representable case
		t.Fatalf("unexpected rounding: %v", got)
	}
}

func TestInvoiceHashStability(t *testing.T) {
	date := time.Date(2024, 3, 5, 0, 0, 0, 0, time.UTC)
	h1 := InvoiceHash("it01234567890", "IT99988877766", "TD01", "2024/123", date)
	h2 := InvoiceHash("IT01234567890", "it99988877766", "td01", "2024/123", date)
	h3 := InvoiceHash(" IT01234567890 ", "IT99988877766", "TD01", "2024 / 123", date)
	if h1 != h2 {
		t.Fatalf("hash should be case-insensitive: %s != %s", h1, h2)
	}
	if h1 != h3 {
		t.Fatalf("hash should be whitespace-insensitive: %s != %s", h1, h3)
	}
}

func TestTransactionHashStability(t *testing.T) {
	date := time.Date(2024, 3, 5, 0, 0, 0, 0, time.UTC)
	h1 := TransactionHash(date, 100.00, "Bonifico ricevuto")
	h2 := TransactionHash(date, 100.001, "  bonifico   ricevuto  ")
	if h1 != h2 {
		t.Fatalf("transaction hash should normalize whitespace/case/amount rounding: %s != %s", h1, h2)
	}
}

func TestInvoiceHashUnique(t *testing.T) {
	date := time.Date(2024, 3, 5, 0, 0, 0, 0, time.UTC)
	h1 := InvoiceHash("A", "B", "TD01", "123", date)
	h2 := InvoiceHash("A", "B", "TD01", "124", date)
	if h1 == h2 {
		t.Fatalf("different doc numbers must hash differently")
	}
}
