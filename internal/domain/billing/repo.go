package billing

import (
	"context"

	"github.com/odonto/payments/pkg/money"
)

// InvoiceRepository persists invoices. Mutating methods lock the row and
// bump Version; they take part in a transaction carried by ctx.
type InvoiceRepository interface {
	Create(ctx context.Context, inv *Invoice) error
	GetByID(ctx context.Context, id int64) (*Invoice, error)
	ListByPatient(ctx context.Context, patientID int64, status InvoiceStatus) ([]*Invoice, error)
	ListPendingByPatient(ctx context.Context, patientID int64) ([]*Invoice, error)
	ListByStatus(ctx context.Context, status InvoiceStatus, limit, offset int) ([]*Invoice, int, error)
	ApplyPayment(ctx context.Context, id int64, amount money.Amount) (*Invoice, error)
	MarkPaid(ctx context.Context, id int64) (*Invoice, error)
	MarkCancelled(ctx context.Context, id int64) (*Invoice, error)
	Delete(ctx context.Context, id int64) (bool, error)

	// SumTotalByPatient sums totals of the patient's non-cancelled invoices.
	SumTotalByPatient(ctx context.Context, patientID int64) (money.Amount, error)
	SumRemainingPendingByPatient(ctx context.Context, patientID int64) (money.Amount, error)
}
