// Package parser implements the importer collaborators that turn a
// FatturaPA XML/P7M document or a bank CSV export into the canonical
// records the reconciliation core persists. It is a thin
// producer: none of the matching/suggestion/ledger packages import it,
// only the importer entrypoint in cmd/reconcile-cli does.
package parser

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/beevik/etree"

	"github.com/fatturaanalyzer/reconciler/internal/money"
	"github.com/fatturaanalyzer/reconciler/pkg/models"
)

// PartyIdentity is the subset of DatiAnagrafici a FatturaPA document
// carries for CedentePrestatore/CessionarioCommittente.
type PartyIdentity struct {
	Denomination string
	FiscalID     string // IdFiscaleIVA (IdPaese+IdCodice), e.g. "IT01234567890"
	TaxCode      string // CodiceFiscale
}

// Empty reports whether neither identifier was present in the document.
func (p PartyIdentity) Empty() bool {
	return p.FiscalID == "" && p.TaxCode == ""
}

// ParsedInvoiceLine is one DettaglioLinee row.
type ParsedInvoiceLine struct {
	LineNumber  int
	Description string
	Quantity    float64
	UnitMeasure string
	UnitPrice   float64
	TotalAmount float64
	VATRate     float64
}

// ParsedVATSummary is one DatiRiepilogo row.
type ParsedVATSummary struct {
	VATRate float64
	Taxable float64
	VATAmount float64
}

// ParsedInvoice is the canonical shape ParseFatturaXML produces,
// direction already resolved against the operating company's identity.
type ParsedInvoice struct {
	Direction   models.Direction
	DocType     string
	DocNumber   string
	DocDate     time.Time
	DueDate     *time.Time
	TotalAmount float64

	Cedente     PartyIdentity
	Cessionario PartyIdentity
	Counterparty PartyIdentity // whichever side is not the operating company
	CounterpartyKind models.CounterpartyKind

	Lines      []ParsedInvoiceLine
	VATSummary []ParsedVATSummary

	SourceFile string
}

// OwnCompany identifies the operating business so ParseFatturaXML can
// tell an Attiva (sales) invoice from a Passiva (purchase) one by
// comparing CedentePrestatore/CessionarioCommittente against it.
type OwnCompany struct {
	FiscalID string
	TaxCode  string
}

func (o OwnCompany) matches(p PartyIdentity) bool {
	if o.FiscalID == "" && o.TaxCode == "" {
		return false
	}
	own := normalizeID(o.FiscalID)
	ownCF := normalizeID(o.TaxCode)
	partyID := normalizeID(p.FiscalID)
	partyCF := normalizeID(p.TaxCode)
	if own != "" && partyID != "" && own == partyID {
		return true
	}
	if ownCF != "" && partyCF != "" && ownCF == partyCF {
		return true
	}
	// A VAT number is sometimes reused numerically as the fiscal code
	// for companies, so cross-check both directions.
	if own != "" && partyCF != "" && own == partyCF {
		return true
	}
	if ownCF != "" && partyID != "" && ownCF == partyID {
		return true
	}
	return false
}

func normalizeID(s string) string {
	s = strings.ToUpper(strings.TrimSpace(s))
	return strings.TrimPrefix(s, "IT")
}

// ParseFatturaXML parses one FatturaPA XML document, resolving
// Attiva/Passiva direction against own. A document where neither party
// matches own, or where both do (self-billed), is rejected: the
// importer cannot file it without ambiguity.
func ParseFatturaXML(data []byte, sourceFile string, own OwnCompany) (ParsedInvoice, error) {
	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(data); err != nil {
		return ParsedInvoice{}, fmt.Errorf("parse FatturaPA XML: %w", err)
	}

	cedente := readParty(doc, "CedentePrestatore")
	cessionario := readParty(doc, "CessionarioCommittente")
	if cedente.Empty() && cessionario.Empty() {
		return ParsedInvoice{}, fmt.Errorf("parse FatturaPA XML: neither CedentePrestatore nor CessionarioCommittente found")
	}

	matchesCedente := own.matches(cedente)
	matchesCessionario := own.matches(cessionario)
	var inv ParsedInvoice
	switch {
	case matchesCedente && !matchesCessionario:
		inv.Direction = models.DirectionOutgoing
		inv.Counterparty = cessionario
		inv.CounterpartyKind = models.CounterpartyCustomer
	case matchesCessionario && !matchesCedente:
		inv.Direction = models.DirectionIncoming
		inv.Counterparty = cedente
		inv.CounterpartyKind = models.CounterpartySupplier
	default:
		return ParsedInvoice{}, fmt.Errorf("parse FatturaPA XML: cannot determine invoice direction for operating company (P.IVA/CF unset or ambiguous)")
	}
	inv.Cedente = cedente
	inv.Cessionario = cessionario
	inv.SourceFile = sourceFile

	generale := doc.FindElement("//DatiGeneraliDocumento")
	if generale == nil {
		return ParsedInvoice{}, fmt.Errorf("parse FatturaPA XML: DatiGeneraliDocumento not found")
	}
	inv.DocType = elementText(generale, "TipoDocumento")
	inv.DocNumber = strings.TrimSpace(elementText(generale, "Numero"))
	if inv.DocNumber == "" {
		return ParsedInvoice{}, fmt.Errorf("parse FatturaPA XML: missing document number")
	}
	docDate, err := parseItalianDate(elementText(generale, "Data"))
	if err != nil {
		return ParsedInvoice{}, fmt.Errorf("parse FatturaPA XML: invalid document date: %w", err)
	}
	inv.DocDate = docDate
	inv.TotalAmount = parseAmount(elementText(generale, "ImportoTotaleDocumento"))

	if due := dueDate(doc); due != nil {
		inv.DueDate = due
	}

	for i, line := range doc.FindElements("//DatiBeniServizi/DettaglioLinee") {
		lineNumber := i + 1
		if n, err := strconv.Atoi(elementText(line, "NumeroLinea")); err == nil {
			lineNumber = n
		}
		inv.Lines = append(inv.Lines, ParsedInvoiceLine{
			LineNumber:  lineNumber,
			Description: elementText(line, "Descrizione"),
			Quantity:    parseAmount(elementText(line, "Quantita")),
			UnitMeasure: elementText(line, "UnitaMisura"),
			UnitPrice:   parseAmount(elementText(line, "PrezzoUnitario")),
			TotalAmount: parseAmount(elementText(line, "PrezzoTotale")),
			VATRate:     parseAmount(elementText(line, "AliquotaIVA")),
		})
	}

	for _, summary := range doc.FindElements("//DatiBeniServizi/DatiRiepilogo") {
		inv.VATSummary = append(inv.VATSummary, ParsedVATSummary{
			VATRate:   parseAmount(elementText(summary, "AliquotaIVA")),
			Taxable:   parseAmount(elementText(summary, "ImponibileImporto")),
			VATAmount: parseAmount(elementText(summary, "Imposta")),
		})
	}

	return inv, nil
}

func readParty(doc *etree.Document, tag string) PartyIdentity {
	root := doc.FindElement("//" + tag)
	if root == nil {
		return PartyIdentity{}
	}
	anag := root.FindElement("DatiAnagrafici")
	if anag == nil {
		return PartyIdentity{}
	}
	var p PartyIdentity
	if idFiscale := anag.FindElement("IdFiscaleIVA"); idFiscale != nil {
		country := elementText(idFiscale, "IdPaese")
		code := elementText(idFiscale, "IdCodice")
		if code != "" {
			p.FiscalID = country + code
		}
	}
	p.TaxCode = elementText(anag, "CodiceFiscale")
	if anagrafica := anag.FindElement("Anagrafica"); anagrafica != nil {
		if denom := elementText(anagrafica, "Denominazione"); denom != "" {
			p.Denomination = denom
		} else {
			name := elementText(anagrafica, "Nome")
			surname := elementText(anagrafica, "Cognome")
			p.Denomination = strings.TrimSpace(name + " " + surname)
		}
	}
	return p
}

func dueDate(doc *etree.Document) *time.Time {
	for _, el := range doc.FindElements("//DatiPagamento/DettaglioPagamento") {
		raw := elementText(el, "DataScadenzaPagamento")
		if raw == "" {
			continue
		}
		if t, err := parseItalianDate(raw); err == nil {
			return &t
		}
	}
	return nil
}

func elementText(el *etree.Element, tag string) string {
	child := el.FindElement(tag)
	if child == nil {
		return ""
	}
	return strings.TrimSpace(child.Text())
}

// parseItalianDate accepts FatturaPA's canonical YYYY-MM-DD form.
func parseItalianDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, fmt.Errorf("empty date")
	}
	if t, err := time.Parse("2006-01-02", s); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02T15:04:05", s)
}

// parseAmount is defensive rather than strict: a malformed decimal in
// an otherwise valid document degrades to 0 instead of aborting the
// whole import, matching to_decimal's total-function contract.
func parseAmount(s string) float64 {
	return money.ToDecimal(s, 0)
}
