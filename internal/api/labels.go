package api

import "github.com/fatturaanalyzer/reconciler/pkg/models"

// Italian presentation labels for the two status enums, applied only
// at the JSON response boundary — core logic and persisted state stay
// on the English iota-based enum from pkg/models — business logic
// never branches on these strings, since they are not a stable
// contract.
var paymentStatusLabels = map[models.PaymentStatus]string{
	models.PaymentOpen:          "Aperta",
	models.PaymentOverdue:       "Scaduta",
	models.PaymentPartiallyPaid: "Pagata Parz.",
	models.PaymentFullyPaid:     "Pagata Tot.",
}

var reconciliationStatusLabels = map[models.ReconciliationStatus]string{
	models.ReconciliationUnreconciled:       "Da Riconciliare",
	models.ReconciliationPartiallyReconciled: "Riconciliato Parz.",
	models.ReconciliationFullyReconciled:     "Riconciliato Tot.",
	models.ReconciliationExcessReconciled:    "Riconciliato Eccesso",
	models.ReconciliationIgnored:             "Ignorato",
}

// PaymentStatusLabel renders an invoice payment status with its
// Italian display label.
func PaymentStatusLabel(s models.PaymentStatus) string {
	if label, ok := paymentStatusLabels[s]; ok {
		return label
	}
	return s.String()
}

// ReconciliationStatusLabel renders a transaction reconciliation
// status with its Italian display label.
func ReconciliationStatusLabel(s models.ReconciliationStatus) string {
	if label, ok := reconciliationStatusLabels[s]; ok {
		return label
	}
	return s.String()
}

// invoiceView/transactionView are the JSON-facing shapes presented to
// the dashboard: the stored English enum plus its Italian label,
// side by side.
type invoiceView struct {
	ID             int64   `json:"id"`
	CounterpartyID int64   `json:"counterpartyId"`
	Direction      string  `json:"direction"`
	DocNumber      string  `json:"docNumber"`
	TotalAmount    float64 `json:"totalAmount"`
	PaidAmount     float64 `json:"paidAmount"`
	Status         string  `json:"status"`
	StatusLabel    string  `json:"statusLabel"`
}

func renderInvoice(inv models.Invoice) invoiceView {
	return invoiceView{
		ID:             inv.ID,
		CounterpartyID: inv.CounterpartyID,
		Direction:      inv.Direction.String(),
		DocNumber:      inv.DocNumber,
		TotalAmount:    inv.TotalAmount,
		PaidAmount:     inv.PaidAmount,
		Status:         inv.PaymentStatus.String(),
		StatusLabel:    PaymentStatusLabel(inv.PaymentStatus),
	}
}

type transactionView struct {
	ID               int64   `json:"id"`
	Amount           float64 `json:"amount"`
	ReconciledAmount float64 `json:"reconciledAmount"`
	Description      string  `json:"description"`
	Status           string  `json:"status"`
	StatusLabel      string  `json:"statusLabel"`
}

func renderTransaction(t models.BankTransaction) transactionView {
	return transactionView{
		ID:               t.ID,
		Amount:           t.Amount,
		ReconciledAmount: t.ReconciledAmount,
		Description:      t.Description,
		Status:           t.ReconciliationStatus.String(),
		StatusLabel:      ReconciliationStatusLabel(t.ReconciliationStatus),
	}
}
