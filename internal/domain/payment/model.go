package payment

import (
	"strings"
	"time"

	"github.com/odonto/payments/internal/platform/apperr"
	"github.com/odonto/payments/pkg/money"
)

type Status string

const (
	StatusInProgress Status = "InProgress"
	StatusPaid       Status = "Paid"
	StatusRejected   Status = "Rejected"
)

// ParseStatus accepts one of the payment statuses.
func ParseStatus(s string) (Status, error) {
	switch st := Status(s); st {
	case StatusInProgress, StatusPaid, StatusRejected:
		return st, nil
	}
	return "", apperr.Validation("invalid payment status %q", s)
}

// IsTerminal reports whether no further transition is allowed.
func (s Status) IsTerminal() bool {
	return s == StatusPaid || s == StatusRejected
}

// Payment is one attempt to pay an invoice. It starts InProgress and moves
// exactly once to Paid or Rejected.
type Payment struct {
	ID           int64        `json:"id"`
	InvoiceID    int64        `json:"invoice_id"`
	Amount       money.Amount `json:"amount"`
	Status       Status       `json:"status"`
	BankTxnRef   *string      `json:"bank_txn_ref,omitempty"`
	ProcessorRef *string      `json:"processor_ref,omitempty"`
	StartedAt    time.Time    `json:"started_at"`
	CompletedAt  *time.Time   `json:"completed_at,omitempty"`
	Version      int          `json:"version"`
}

// Finalize moves the payment to a terminal status. Repeating the current
// terminal status is a no-op and reports changed=false.
func (p *Payment) Finalize(final Status, bankRef string, now time.Time) (changed bool, err error) {
	if !final.IsTerminal() {
		return false, apperr.Validation("final status must be %s or %s, got %q", StatusPaid, StatusRejected, final)
	}
	if p.Status == final {
		return false, nil
	}
	if p.Status.IsTerminal() {
		return false, apperr.Conflict("payment %d is already %s", p.ID, p.Status)
	}
	p.Status = final
	if bankRef != "" {
		p.BankTxnRef = &bankRef
	}
	p.CompletedAt = &now
	return true, nil
}

// InitiateRequest starts a payment. Card data is forwarded to the processor
// and never stored.
type InitiateRequest struct {
	InvoiceID  int64        `json:"invoice_id"`
	Amount     money.Amount `json:"amount"`
	CardNumber string       `json:"card_number"`
	PIN        string       `json:"pin"`
}

func (r *InitiateRequest) Validate() error {
	if r.InvoiceID <= 0 {
		return apperr.Validation("invoice_id is required")
	}
	if !r.Amount.IsPositive() {
		return apperr.Validation("amount must be greater than 0")
	}
	r.CardNumber = strings.ReplaceAll(strings.TrimSpace(r.CardNumber), " ", "")
	if !isDigits(r.CardNumber, 12, 19) {
		return apperr.Validation("card_number must be 12 to 19 digits")
	}
	if !isDigits(r.PIN, 3, 4) {
		return apperr.Validation("pin must be 3 or 4 digits")
	}
	return nil
}

func isDigits(s string, min, max int) bool {
	if len(s) < min || len(s) > max {
		return false
	}
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}

// StatusChange is the internal request that finalizes a payment.
type StatusChange struct {
	PaymentID   int64  `json:"payment_id"`
	FinalStatus Status `json:"final_status"`
	BankTxnRef  string `json:"bank_txn_ref"`
}

// Validate trims the bank reference before checking it.
func (r *StatusChange) Validate() error {
	r.BankTxnRef = strings.TrimSpace(r.BankTxnRef)
	if r.PaymentID <= 0 {
		return apperr.Validation("payment_id is required")
	}
	if _, err := ParseStatus(string(r.FinalStatus)); err != nil {
		return err
	}
	if len(r.BankTxnRef) > 50 {
		return apperr.Validation("bank_txn_ref must be at most 50 characters")
	}
	return nil
}

// BankNotice is the bank's asynchronous confirmation. PaymentID is optional;
// without it the payment is found by TransactionID.
type BankNotice struct {
	Status        Status `json:"status"`
	TransactionID string `json:"transaction_id"`
	PaymentID     int64  `json:"payment_id,omitempty"`
}

// Validate trims TransactionID in place; lookups and the stored bank
// reference use the trimmed value.
func (n *BankNotice) Validate() error {
	n.TransactionID = strings.TrimSpace(n.TransactionID)
	if _, err := ParseStatus(string(n.Status)); err != nil {
		return err
	}
	if l := len(n.TransactionID); l == 0 || l > 50 {
		return apperr.Validation("transaction_id must be 1 to 50 characters")
	}
	return nil
}

type BankNoticeResponse struct {
	Message       string `json:"message"`
	TransactionID string `json:"transaction_id"`
	UpdatedStatus Status `json:"updated_status"`
}

const (
	MsgStatusUpdated   = "Status received and payment updated"
	MsgStatusUnchanged = "Status received; payment already in this state"
	MsgStillInProgress = "Status received; payment still in progress"
)
