package billing

import (
	"time"

	"github.com/odonto/payments/internal/platform/apperr"
	"github.com/odonto/payments/pkg/money"
)

type InvoiceStatus string

const (
	StatusPending   InvoiceStatus = "Pending"
	StatusPaid      InvoiceStatus = "Paid"
	StatusCancelled InvoiceStatus = "Cancelled"
)

var validInvoiceStatuses = map[InvoiceStatus]bool{
	StatusPending: true, StatusPaid: true, StatusCancelled: true,
}

// ParseStatus accepts "" (no filter) or one of the invoice statuses.
func ParseStatus(s string) (InvoiceStatus, error) {
	st := InvoiceStatus(s)
	if s != "" && !validInvoiceStatuses[st] {
		return "", apperr.Validation("invalid invoice status %q", s)
	}
	return st, nil
}

// Invoice bills one treatment to one patient. Remaining is the outstanding
// balance; a non-cancelled invoice is Paid exactly when Remaining is zero.
type Invoice struct {
	ID          int64         `json:"id"`
	PatientID   int64         `json:"patient_id"`
	TreatmentID int64         `json:"treatment_id"`
	Total       money.Amount  `json:"total"`
	Remaining   money.Amount  `json:"remaining"`
	Status      InvoiceStatus `json:"status"`
	CreatedAt   time.Time     `json:"created_at"`
	UpdatedAt   time.Time     `json:"updated_at"`
	Version     int           `json:"version"`
}

// ApplyPayment reduces the outstanding balance by amount and flips the
// invoice to Paid when nothing remains.
func (inv *Invoice) ApplyPayment(amount money.Amount) error {
	if amount.IsNegative() {
		return apperr.Validation("payment amount must not be negative")
	}
	if amount > inv.Remaining {
		return apperr.Validation("payment amount %s exceeds remaining balance %s of invoice %d",
			amount, inv.Remaining, inv.ID)
	}
	inv.Remaining -= amount
	if inv.Remaining.IsZero() {
		inv.Status = StatusPaid
	}
	return nil
}

// MarkPaid settles the invoice in full.
func (inv *Invoice) MarkPaid() {
	inv.Status = StatusPaid
	inv.Remaining = money.Zero
}

// PaymentValidation reports whether an invoice can receive a payment.
type PaymentValidation struct {
	Valid bool   `json:"valid"`
	Error string `json:"error,omitempty"`
}

// NewInvoice is the request to bill a treatment. Total defaults to the
// treatment's cost.
type NewInvoice struct {
	TreatmentID int64         `json:"treatment_id"`
	Total       *money.Amount `json:"total,omitempty"`
}

type BalanceDetail struct {
	InvoiceID int64         `json:"invoice_id"`
	Amount    money.Amount  `json:"amount"`
	Remaining money.Amount  `json:"remaining"`
	Status    InvoiceStatus `json:"status"`
	CreatedAt time.Time     `json:"created_at"`
}

type BalanceData struct {
	ProcessDate        string          `json:"process_date"`
	TotalPrincipal     money.Amount    `json:"total_principal"`
	AccruedInterest    money.Amount    `json:"accrued_interest"`
	ContingentInterest money.Amount    `json:"contingent_interest"`
	Detail             []BalanceDetail `json:"detail"`
}

// BalanceResponse is the result of a patient balance query.
type BalanceResponse struct {
	Message string      `json:"message"`
	Data    BalanceData `json:"data"`
	Success bool        `json:"success"`
}

const (
	MsgNoPendingInvoices = "No pending invoices"
	MsgBalanceQueryOK    = "Balance query successful"
)

type PatientSummary struct {
	PatientID      int64        `json:"patient_id"`
	InvoiceCount   int          `json:"invoice_count"`
	TotalBilled    money.Amount `json:"total_billed"`
	TotalPaid      money.Amount `json:"total_paid"`
	TotalPending   money.Amount `json:"total_pending"`
	PercentagePaid float64      `json:"percentage_paid"`
}
