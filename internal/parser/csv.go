package parser

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"strings"
	"time"
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/transform"

	"github.com/fatturaanalyzer/reconciler/internal/money"
)

// ParsedTransaction is one bank statement row, in the shape a
// BankTransaction insert needs.
type ParsedTransaction struct {
	TransactionDate time.Time
	ValueDate       *time.Time
	Amount          float64 // signed: credit positive, debit negative
	Description     string
	CausalCode      string
}

// csvColumnAliases maps a canonical column name onto the header spellings
// Italian and English bank exports use for it (EXPECTED_COLUMNS).
var csvColumnAliases = map[string][]string{
	"DataContabile": {"data", "data operazione", "date", "transaction date"},
	"DataValuta":    {"valuta", "data valuta", "value date"},
	"ImportoDare":   {"dare", "addebiti", "debit", "uscite"},
	"ImportoAvere":  {"avere", "accrediti", "credit", "entrate"},
	"Descrizione":   {"descrizione operazione", "descrizione", "description", "dettagli"},
	"CausaleABI":    {"causale abi", "causale", "codice causale", "abi code"},
}

var requiredColumns = []string{"DataContabile", "ImportoDare", "ImportoAvere", "Descrizione"}

// filterKeywords marks statement rows that are balance snapshots or
// recurring bank fees rather than real movements.
var filterKeywords = []string{
	"saldo iniziale", "saldo contabile", "saldo liquido", "disponibilità al",
	"giroconto", "canone mensile", "imposta di bollo", "competenze",
}

// ParseBankCSV parses an Italian bank CSV export, trying each
// candidate delimiter against a detected/fallback encoding until one
// yields a header row all required columns can be mapped from.
func ParseBankCSV(data []byte) ([]ParsedTransaction, error) {
	var lastErr error
	for _, enc := range candidateEncodings(data) {
		decoded, err := decodeBytes(data, enc)
		if err != nil {
			lastErr = err
			continue
		}
		for _, delim := range []rune{';', ',', '\t'} {
			rows, err := parseDelimited(decoded, delim)
			if err != nil {
				lastErr = err
				continue
			}
			return rows, nil
		}
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("no delimiter/encoding combination produced a valid header")
	}
	return nil, fmt.Errorf("parse bank csv: %w", lastErr)
}

// candidateEncodings orders encodings to try, detected-or-utf8 first.
func candidateEncodings(data []byte) []string {
	if utf8.Valid(data) {
		return []string{"utf-8", "windows-1252", "iso-8859-1"}
	}
	return []string{"windows-1252", "iso-8859-1", "utf-8"}
}

func decodeBytes(data []byte, enc string) (string, error) {
	switch enc {
	case "utf-8":
		if !utf8.Valid(data) {
			return "", fmt.Errorf("invalid utf-8")
		}
		return string(data), nil
	case "windows-1252":
		return decodeCharmap(data, charmap.Windows1252)
	case "iso-8859-1":
		return decodeCharmap(data, charmap.ISO8859_1)
	default:
		return "", fmt.Errorf("unsupported encoding %q", enc)
	}
}

func decodeCharmap(data []byte, cm *charmap.Charmap) (string, error) {
	reader := transform.NewReader(bytes.NewReader(data), cm.NewDecoder())
	out, err := io.ReadAll(reader)
	if err != nil {
		return "", err
	}
	return string(out), nil
}

func parseDelimited(text string, delim rune) ([]ParsedTransaction, error) {
	reader := csv.NewReader(strings.NewReader(text))
	reader.Comma = delim
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true
	reader.LazyQuotes = true

	header, err := reader.Read()
	if err != nil {
		return nil, err
	}
	if len(header) < 3 {
		return nil, fmt.Errorf("only %d columns with delimiter %q", len(header), string(delim))
	}
	mapping, err := mapColumns(header)
	if err != nil {
		return nil, err
	}

	var out []ParsedTransaction
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		row, ok := buildRow(record, mapping)
		if !ok {
			continue
		}
		out = append(out, row)
	}
	return out, nil
}

// mapColumns resolves each alias to its column index, case-insensitively.
func mapColumns(header []string) (map[string]int, error) {
	lowered := make(map[string]int, len(header))
	for i, h := range header {
		lowered[strings.ToLower(strings.TrimSpace(h))] = i
	}

	mapping := make(map[string]int)
	for canonical, aliases := range csvColumnAliases {
		for _, alias := range aliases {
			if idx, ok := lowered[alias]; ok {
				mapping[canonical] = idx
				break
			}
		}
	}

	var missing []string
	for _, req := range requiredColumns {
		if _, ok := mapping[req]; !ok {
			missing = append(missing, req)
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("missing required columns: %s", strings.Join(missing, ", "))
	}
	return mapping, nil
}

func buildRow(record []string, mapping map[string]int) (ParsedTransaction, bool) {
	field := func(name string) string {
		idx, ok := mapping[name]
		if !ok || idx >= len(record) {
			return ""
		}
		return strings.TrimSpace(record[idx])
	}

	rawDate := field("DataContabile")
	if strings.EqualFold(rawDate, "data") || strings.EqualFold(rawDate, "date") {
		return ParsedTransaction{}, false
	}
	txnDate, err := parseItalianDayfirst(rawDate)
	if err != nil {
		return ParsedTransaction{}, false
	}

	description := field("Descrizione")
	if isNonOperativeRow(description) {
		return ParsedTransaction{}, false
	}

	debit := money.ToDecimal(field("ImportoDare"), 0)
	credit := money.ToDecimal(field("ImportoAvere"), 0)
	amount := money.Quantize(credit - debit)

	row := ParsedTransaction{
		TransactionDate: txnDate,
		Amount:          amount,
		Description:     description,
		CausalCode:      field("CausaleABI"),
	}
	if rawValuta := field("DataValuta"); rawValuta != "" {
		if vd, err := parseItalianDayfirst(rawValuta); err == nil {
			row.ValueDate = &vd
		}
	}
	return row, true
}

func isNonOperativeRow(description string) bool {
	desc := strings.ToLower(strings.TrimSpace(description))
	if desc == "" || desc == "eur" {
		return true
	}
	for _, kw := range filterKeywords {
		if strings.Contains(desc, kw) {
			return true
		}
	}
	return false
}

// parseItalianDayfirst parses DD/MM/YYYY (and DD-MM-YYYY) as Italian
// bank exports format dates, day first.
func parseItalianDayfirst(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, fmt.Errorf("empty date")
	}
	for _, layout := range []string{"02/01/2006", "02-01-2006", "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized date format %q", s)
}
