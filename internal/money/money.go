// Package money implements the fixed-precision decimal primitives and
// stable content hashes the reconciliation engine is built on: parsing
// of Italian/English monetary strings, banker-safe quantization, and the
// canonical invoice/transaction hashes used for importer idempotency.
package money

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Tolerance is the ε monetary comparison tolerance used throughout the
// reconciliation engine.
const Tolerance = 0.01

var (
	reDecimalClean  = regexp.MustCompile(`[^\d.,\-+]`)
	reDateLike      = regexp.MustCompile(`^\d{1,4}[-/]\d{1,2}[-/]\d{1,4}$`)
	reMultiSpace    = regexp.MustCompile(`\s+`)
	reNonAlnumSep   = regexp.MustCompile(`[^\w\s./\-]`)
)

// ToDecimal accepts strings in Italian or English monetary formats
// (thousands separator and decimal comma/point both supported), native
// numeric types, and null-like inputs; it rejects date-shaped strings.
// Non-finite results and unparsable input collapse to defaultVal. This
// function never errors — hashing and reconciliation math must be total.
func ToDecimal(value interface{}, defaultVal float64) float64 {
	switch v := value.(type) {
	case nil:
		return defaultVal
	case float64:
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return defaultVal
		}
		return v
	case float32:
		return ToDecimal(float64(v), defaultVal)
	case int:
		return float64(v)
	case int64:
		return float64(v)
	case decimal.Decimal:
		f, _ := v.Float64()
		return f
	case string:
		return parseMonetaryString(v, defaultVal)
	default:
		return defaultVal
	}
}

func parseMonetaryString(raw string, defaultVal float64) float64 {
	s := strings.TrimSpace(raw)
	if s == "" {
		return defaultVal
	}
	lower := strings.ToLower(s)
	switch lower {
	case "nan", "nat", "none", "null":
		return defaultVal
	}

	// Reject values that look like dates rather than amounts (e.g. "2024-03-05").
	if reDateLike.MatchString(s) {
		return defaultVal
	}

	cleaned := cleanNumericFormat(s)
	if cleaned == "" || cleaned == "-" || cleaned == "+" || cleaned == "." || cleaned == "," {
		return defaultVal
	}

	d, err := decimal.NewFromString(cleaned)
	if err != nil {
		return defaultVal
	}
	f, _ := d.Float64()
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return defaultVal
	}
	return f
}

// cleanNumericFormat normalizes an Italian- or English-formatted amount
// string to a plain dot-decimal string, following the same
// rightmost-separator heuristic Italian bank exports require.
func cleanNumericFormat(text string) string {
	cleaned := reDecimalClean.ReplaceAllString(strings.TrimSpace(text), "")
	if cleaned == "" {
		return ""
	}

	negative := strings.HasPrefix(cleaned, "-")
	if strings.HasPrefix(cleaned, "+") || strings.HasPrefix(cleaned, "-") {
		cleaned = cleaned[1:]
	}

	hasComma := strings.Contains(cleaned, ",")
	hasDot := strings.Contains(cleaned, ".")

	switch {
	case hasComma && hasDot:
		commaPos := strings.LastIndex(cleaned, ",")
		dotPos := strings.LastIndex(cleaned, ".")
		if commaPos > dotPos {
			// Comma is the decimal separator: dots are thousands separators.
			cleaned = strings.ReplaceAll(cleaned, ".", "")
			cleaned = strings.Replace(cleaned, ",", ".", 1)
		} else {
			cleaned = strings.ReplaceAll(cleaned, ",", "")
		}
	case hasComma:
		parts := strings.Split(cleaned, ",")
		if len(parts) == 2 && len(parts[1]) <= 2 && isDigits(parts[1]) {
			cleaned = strings.Replace(cleaned, ",", ".", 1)
		} else {
			cleaned = strings.ReplaceAll(cleaned, ",", "")
		}
	}

	// Collapse "1.234.567"-style repeated thousands separators.
	if strings.Count(cleaned, ".") > 1 {
		parts := strings.Split(cleaned, ".")
		cleaned = strings.Join(parts[:len(parts)-1], "") + "." + parts[len(parts)-1]
	}

	if negative && cleaned != "" && cleaned != "0.0" {
		cleaned = "-" + cleaned
	}
	return cleaned
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// Quantize rounds value to 2 fractional digits using banker-safe
// half-up rounding. Non-finite input collapses to 0.00.
func Quantize(value float64) float64 {
	if math.IsNaN(value) || math.IsInf(value, 0) {
		return 0
	}
	d := decimal.NewFromFloat(value).Round(2)
	f, _ := d.Float64()
	return f
}

// Equal reports whether a and b are equal within ε.
func Equal(a, b float64) bool {
	return math.Abs(a-b) <= Tolerance
}

// LessOrEqual reports whether a <= b within ε.
func LessOrEqual(a, b float64) bool {
	return a <= b+Tolerance
}

func normalizeDateForHash(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format("2006-01-02")
}

func normalizeTextForHash(s string) string {
	return strings.ToUpper(reMultiSpace.ReplaceAllString(strings.TrimSpace(s), ""))
}

// InvoiceHash computes the stable content hash for an invoice from the
// identifying fields the core requires for importer idempotency.
// It is total: malformed inputs still produce a deterministic
// hash rather than an error.
func InvoiceHash(cedenteID, cessionarioID, docType, docNumber string, docDate time.Time) string {
	cedente := strings.ToUpper(strings.TrimSpace(cedenteID))
	cessionario := strings.ToUpper(strings.TrimSpace(cessionarioID))
	docTypeClean := strings.ToUpper(strings.TrimSpace(docType))
	docNumberClean := normalizeTextForHash(docNumber)
	dateNormalized := normalizeDateForHash(docDate)

	payload := fmt.Sprintf("INV|%s|%s|%s|%s|%s", cedente, cessionario, docTypeClean, docNumberClean, dateNormalized)
	sum := sha256.Sum256([]byte(payload))
	return hex.EncodeToString(sum[:])
}

// TransactionHash computes the stable content hash for a bank
// transaction row.
func TransactionHash(date time.Time, amount float64, description string) string {
	dateNormalized := normalizeDateForHash(date)
	amountNormalized := fmt.Sprintf("%.2f", Quantize(amount))

	desc := strings.ToUpper(strings.TrimSpace(description))
	desc = reNonAlnumSep.ReplaceAllString(desc, " ")
	desc = reMultiSpace.ReplaceAllString(desc, " ")
	desc = strings.TrimSpace(desc)
	if len(desc) > 200 {
		desc = desc[:200]
	}

	payload := fmt.Sprintf("TRX|%s|%s|%s", dateNormalized, amountNormalized, desc)
	sum := sha256.Sum256([]byte(payload))
	return hex.EncodeToString(sum[:])
}

// FormatAmount renders a quantized amount with a fixed 2-decimal format,
// used by hashing and by log/diagnostic output.
func FormatAmount(value float64) string {
	return strconv.FormatFloat(Quantize(value), 'f', 2, 64)
}
