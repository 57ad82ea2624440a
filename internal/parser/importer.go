package parser

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/fatturaanalyzer/reconciler/internal/anagraphics"
	"github.com/fatturaanalyzer/reconciler/internal/core"
	"github.com/fatturaanalyzer/reconciler/internal/money"
	"github.com/fatturaanalyzer/reconciler/internal/store"
	"github.com/fatturaanalyzer/reconciler/pkg/models"
)

// Importer drives a single file or batch through parse -> resolve
// counterparty -> idempotent insert.
type Importer struct {
	store *store.Store
	cache *anagraphics.Cache
	own   OwnCompany
}

// New wires a store and the warm anagraphics cache (kept in sync on
// every newly-created counterparty) behind the configured operating
// company identity.
func New(s *store.Store, cache *anagraphics.Cache, own OwnCompany) *Importer {
	return &Importer{store: s, cache: cache, own: own}
}

// FileResult is the per-file outcome of a batch import.
type FileResult struct {
	Name   string
	Status string
}

// BatchResult aggregates a multi-file import, counted per file
// instead of per DB row.
type BatchResult struct {
	Processed   int
	Success     int
	Duplicates  int
	Errors      int
	Unsupported int
	Files       []FileResult
}

// ImportBatch processes every file, continuing past per-file
// failures; a failure in one file never aborts the rest, each error
// isolated to a single status string per file.
func (im *Importer) ImportBatch(ctx context.Context, files map[string][]byte) BatchResult {
	var result BatchResult
	names := make([]string, 0, len(files))
	for name := range files {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		status := im.importOne(ctx, name, files[name])
		result.Files = append(result.Files, FileResult{Name: name, Status: status})
		switch {
		case strings.HasPrefix(status, "Success"):
			result.Success++
		case status == "Duplicate":
			result.Duplicates++
		case strings.HasPrefix(status, "Error"):
			result.Errors++
		default:
			result.Unsupported++
		}
	}
	result.Processed = result.Success + result.Duplicates + result.Errors + result.Unsupported
	return result
}

func (im *Importer) importOne(ctx context.Context, name string, data []byte) string {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".p7m":
		xmlData, err := ExtractXMLFromP7M(data)
		if err != nil {
			return fmt.Sprintf("Error - P7M extraction failed: %v", err)
		}
		return im.importInvoiceXML(ctx, xmlData, name)
	case ".xml":
		return im.importInvoiceXML(ctx, data, name)
	case ".csv":
		return im.importBankCSV(ctx, data, name)
	default:
		return "Unsupported File Type"
	}
}

func (im *Importer) importInvoiceXML(ctx context.Context, data []byte, sourceFile string) string {
	inv, err := ParseFatturaXML(data, sourceFile, im.own)
	if err != nil {
		return fmt.Sprintf("Error - XML parse: %v", err)
	}

	hash := money.InvoiceHash(inv.Cedente.FiscalID, inv.Cessionario.FiscalID, inv.DocType, inv.DocNumber, inv.DocDate)
	if _, found, err := im.store.FindInvoiceByHash(ctx, hash); err != nil {
		return fmt.Sprintf("Error - duplicate check failed: %v", err)
	} else if found {
		return "Duplicate"
	}

	counterpartyID, err := im.resolveCounterparty(ctx, inv.Counterparty, inv.CounterpartyKind)
	if err != nil {
		return fmt.Sprintf("Error - counterparty resolution failed: %v", err)
	}

	invoiceID, err := im.store.InsertInvoice(ctx, models.Invoice{
		CounterpartyID: counterpartyID,
		Direction:      inv.Direction,
		DocNumber:      inv.DocNumber,
		DocDate:        inv.DocDate,
		DueDate:        inv.DueDate,
		TotalAmount:    money.Quantize(inv.TotalAmount),
		PaidAmount:     0,
		PaymentStatus:  models.PaymentOpen,
		ContentHash:    hash,
	})
	if err != nil {
		if core.KindOf(err) == core.KindConflict {
			return "Duplicate"
		}
		return fmt.Sprintf("Error - invoice insert failed: %v", err)
	}

	if len(inv.Lines) > 0 {
		lines := make([]models.InvoiceLine, len(inv.Lines))
		for i, l := range inv.Lines {
			lines[i] = models.InvoiceLine{
				InvoiceID:   invoiceID,
				LineNumber:  l.LineNumber,
				Description: l.Description,
				Quantity:    money.Quantize(l.Quantity),
				UnitPrice:   money.Quantize(l.UnitPrice),
				TotalAmount: money.Quantize(l.TotalAmount),
				VATRate:     money.Quantize(l.VATRate),
			}
		}
		if err := im.store.InsertInvoiceLines(ctx, invoiceID, lines); err != nil {
			return fmt.Sprintf("Success (invoice %d, but line insert failed: %v)", invoiceID, err)
		}
	}

	if len(inv.VATSummary) > 0 {
		rows := make([]models.InvoiceVATSummary, len(inv.VATSummary))
		for i, v := range inv.VATSummary {
			rows[i] = models.InvoiceVATSummary{
				InvoiceID: invoiceID,
				VATRate:   money.Quantize(v.VATRate),
				Taxable:   money.Quantize(v.Taxable),
				VATAmount: money.Quantize(v.VATAmount),
			}
		}
		if err := im.store.InsertInvoiceVATSummary(ctx, invoiceID, rows); err != nil {
			return fmt.Sprintf("Success (invoice %d, but VAT summary insert failed: %v)", invoiceID, err)
		}
	}

	return "Success"
}

func (im *Importer) importBankCSV(ctx context.Context, data []byte, sourceFile string) string {
	rows, err := ParseBankCSV(data)
	if err != nil {
		return fmt.Sprintf("Error - CSV parse failed: %v", err)
	}
	if len(rows) == 0 {
		return "Success - Empty/Filtered CSV"
	}

	inserted, duplicates, errs := 0, 0, 0
	for _, row := range rows {
		hash := money.TransactionHash(row.TransactionDate, row.Amount, row.Description)
		if _, found, err := im.store.FindTransactionByHash(ctx, hash); err != nil {
			errs++
			continue
		} else if found {
			duplicates++
			continue
		}

		status := models.ReconciliationUnreconciled
		if _, err := im.store.InsertTransaction(ctx, models.BankTransaction{
			TransactionDate:      row.TransactionDate,
			Amount:               row.Amount,
			Description:          row.Description,
			CausalCode:           row.CausalCode,
			ReconciledAmount:     0,
			ReconciliationStatus: status,
			ContentHash:          hash,
		}); err != nil {
			if core.KindOf(err) == core.KindConflict {
				duplicates++
				continue
			}
			errs++
			continue
		}
		inserted++
	}

	switch {
	case errs > 0:
		return fmt.Sprintf("Error - %d DB errors during CSV insert", errs)
	case inserted > 0:
		return fmt.Sprintf("Success (%d new)", inserted)
	case duplicates > 0:
		return "Duplicate"
	default:
		return "Success - No new data"
	}
}

// resolveCounterparty finds an existing counterparty by fiscal ID/tax
// code or creates one, keeping the warm anagraphics cache in sync so
// a newly imported counterparty is immediately resolvable.
func (im *Importer) resolveCounterparty(ctx context.Context, party PartyIdentity, kind models.CounterpartyKind) (int64, error) {
	party.FiscalID = normalizeID(party.FiscalID)
	party.TaxCode = strings.ToUpper(strings.TrimSpace(party.TaxCode))
	lookupKey := party.FiscalID
	if lookupKey == "" {
		lookupKey = party.TaxCode
	}
	if lookupKey == "" {
		return 0, fmt.Errorf("counterparty has neither P.IVA nor Codice Fiscale")
	}

	existing, err := im.store.FindCounterpartyByFiscalID(ctx, lookupKey)
	if err == nil {
		return existing.ID, nil
	}
	if core.KindOf(err) != core.KindNotFound {
		return 0, err
	}

	id, err := im.store.UpsertCounterparty(ctx, models.Counterparty{
		Kind:         kind,
		Denomination: party.Denomination,
		FiscalID:     party.FiscalID,
		TaxCode:      party.TaxCode,
		Score:        0,
	})
	if err != nil {
		return 0, err
	}
	if im.cache != nil {
		im.cache.Put(models.Counterparty{
			ID:           id,
			Kind:         kind,
			Denomination: party.Denomination,
			FiscalID:     party.FiscalID,
			TaxCode:      party.TaxCode,
		})
	}
	return id, nil
}
