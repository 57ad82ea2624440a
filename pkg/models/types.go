// Package models holds the canonical domain records shared across the
// reconciliation engine: counterparties, invoices, bank transactions,
// reconciliation links and the derived client-pattern model.
package models

import "time"

// CounterpartyKind distinguishes the two roles a counterparty can play.
type CounterpartyKind int

const (
	CounterpartyCustomer CounterpartyKind = iota
	CounterpartySupplier
)

func (k CounterpartyKind) String() string {
	if k == CounterpartySupplier {
		return "Supplier"
	}
	return "Customer"
}

// Direction is the invoice flow direction, which constrains the sign of
// any transaction that can settle it (Outgoing -> positive credit,
// Incoming -> negative debit).
type Direction int

const (
	DirectionOutgoing Direction = iota
	DirectionIncoming
)

func (d Direction) String() string {
	if d == DirectionIncoming {
		return "Incoming"
	}
	return "Outgoing"
}

// PaymentStatus is a pure function of (total_amount, paid_amount, due_date, today).
type PaymentStatus int

const (
	PaymentOpen PaymentStatus = iota
	PaymentOverdue
	PaymentPartiallyPaid
	PaymentFullyPaid
)

func (s PaymentStatus) String() string {
	switch s {
	case PaymentOverdue:
		return "Overdue"
	case PaymentPartiallyPaid:
		return "PartiallyPaid"
	case PaymentFullyPaid:
		return "FullyPaid"
	default:
		return "Open"
	}
}

// ReconciliationStatus is a pure function of the linked sum against the
// transaction amount, except for the sticky Ignored bit.
type ReconciliationStatus int

const (
	ReconciliationUnreconciled ReconciliationStatus = iota
	ReconciliationPartiallyReconciled
	ReconciliationFullyReconciled
	ReconciliationExcessReconciled
	ReconciliationIgnored
)

func (s ReconciliationStatus) String() string {
	switch s {
	case ReconciliationPartiallyReconciled:
		return "PartiallyReconciled"
	case ReconciliationFullyReconciled:
		return "FullyReconciled"
	case ReconciliationExcessReconciled:
		return "ExcessReconciled"
	case ReconciliationIgnored:
		return "Ignored"
	default:
		return "Unreconciled"
	}
}

// ConfidenceBand buckets a match-analyzer score.
type ConfidenceBand int

const (
	BandVeryLow ConfidenceBand = iota
	BandLow
	BandMedium
	BandHigh
)

func (b ConfidenceBand) String() string {
	switch b {
	case BandLow:
		return "Low"
	case BandMedium:
		return "Medium"
	case BandHigh:
		return "High"
	default:
		return "VeryLow"
	}
}

// Counterparty is the other party to an invoice: a customer for outgoing
// invoices, a supplier for incoming ones.
type Counterparty struct {
	ID            int64
	Kind          CounterpartyKind
	Denomination  string
	FiscalID      string // P.IVA, normalized uppercase, country-prefix stripped
	TaxCode       string // Codice Fiscale, normalized uppercase
	Score         float64
}

// InvoiceLine is persisted for parsers but never inspected by the core.
type InvoiceLine struct {
	ID          int64
	InvoiceID   int64
	LineNumber  int
	Description string
	Quantity    float64
	UnitPrice   float64
	TotalAmount float64
	VATRate     float64
}

// InvoiceVATSummary is persisted alongside an invoice; neither the
// content hash nor any other part of the core reads it.
type InvoiceVATSummary struct {
	InvoiceID  int64
	VATRate    float64
	Taxable    float64
	VATAmount  float64
}

// Invoice is immutable except paid_amount/payment_status, which are
// mutated only by link creation/removal (internal/ledger).
type Invoice struct {
	ID             int64
	CounterpartyID int64
	Direction      Direction
	DocNumber      string
	DocDate        time.Time
	DueDate        *time.Time
	TotalAmount    float64
	PaidAmount     float64
	PaymentStatus  PaymentStatus
	ContentHash    string
}

// Residual is total_amount - paid_amount.
func (i Invoice) Residual() float64 {
	return i.TotalAmount - i.PaidAmount
}

// BankTransaction is immutable except reconciled_amount/reconciliation_status.
type BankTransaction struct {
	ID                   int64
	TransactionDate      time.Time
	Amount               float64 // signed: positive=credit, negative=debit
	Description          string
	CausalCode           string
	ReconciledAmount     float64 // absolute value, never negative, whatever the sign of Amount
	ReconciliationStatus ReconciliationStatus
	ContentHash          string
}

// Residual is amount - reconciled_amount, sign preserved.
func (t BankTransaction) Residual() float64 {
	if t.Amount >= 0 {
		return t.Amount - t.ReconciledAmount
	}
	return t.Amount + t.ReconciledAmount
}

// ReconciliationLink asserts that a portion of a transaction pays a
// portion of an invoice.
type ReconciliationLink struct {
	ID               int64
	InvoiceID        int64
	TransactionID    int64
	ReconciledAmount float64
	CreatedAt        time.Time
}

// ClientPattern is the per-counterparty learned statistical model,
// derived and lazily rebuilt — never persisted as authoritative state.
type ClientPattern struct {
	CounterpartyID int64
	Records        []PaymentRecord
	AmountClusters *AmountClusterModel
	Temporal       *TemporalModel
	Sequence       *SequenceModel
	ReliabilityScore float64
	Version        int64
	LastUpdated    time.Time
}

// PaymentRecord is one historical (invoice, transaction) settlement used
// to train a ClientPattern.
type PaymentRecord struct {
	InvoiceDate      time.Time
	PaymentDate      time.Time
	Amount           float64
	Description      string
	RelatedDocNumbers []string
}

// Settings is a single row of the persisted key/value configuration table.
type Settings struct {
	Key   string
	Value string
}
