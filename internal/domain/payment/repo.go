package payment

import "context"

// Repository persists payments. ApplyFinalStatus locks the row and takes part
// in a transaction carried by ctx.
type Repository interface {
	Create(ctx context.Context, p *Payment) error
	GetByID(ctx context.Context, id int64) (*Payment, error)
	// GetByReference matches either the processor receipt or the bank
	// transaction reference.
	GetByReference(ctx context.Context, ref string) (*Payment, error)
	ListByInvoice(ctx context.Context, invoiceID int64) ([]*Payment, error)
	SetProcessorRef(ctx context.Context, id int64, ref string) error
	ApplyFinalStatus(ctx context.Context, id int64, final Status, bankRef string) (*Payment, bool, error)
}
