package payment

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/odonto/payments/internal/domain/billing"
	"github.com/odonto/payments/internal/platform/apperr"
	"github.com/odonto/payments/internal/platform/auth"
	"github.com/odonto/payments/internal/platform/db"
	"github.com/odonto/payments/pkg/money"
)

// InvoiceService is the part of the billing service the workflow drives.
type InvoiceService interface {
	GetInvoice(ctx context.Context, id int64) (*billing.Invoice, error)
	ProcessSuccessfulPayment(ctx context.Context, invoiceID int64, amount money.Amount, bankRef string) (*billing.Invoice, error)
	ProcessRejectedPayment(ctx context.Context, invoiceID int64, reason string) (*billing.Invoice, error)
}

const defaultNotifyTimeout = 30 * time.Second

// Workflow moves payments through InProgress -> Paid|Rejected and keeps the
// invoice in step. The payment row and the invoice change in one
// transaction; the patient notification runs after commit.
type Workflow struct {
	payments      Repository
	invoices      InvoiceService
	tx            db.TxRunner
	processor     Processor
	notifier      Notifier
	notifyTimeout time.Duration
	wg            sync.WaitGroup
}

func NewWorkflow(payments Repository, invoices InvoiceService, tx db.TxRunner, processor Processor, notifier Notifier) *Workflow {
	return &Workflow{
		payments:      payments,
		invoices:      invoices,
		tx:            tx,
		processor:     processor,
		notifier:      notifier,
		notifyTimeout: defaultNotifyTimeout,
	}
}

// Initiate records an InProgress payment for a Pending invoice and submits
// it to the processor. The amount must cover the whole outstanding balance.
// A processor failure or a declined card leaves the InProgress row.
func (w *Workflow) Initiate(ctx context.Context, req InitiateRequest) (*Payment, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	inv, err := w.invoices.GetInvoice(ctx, req.InvoiceID)
	if err != nil {
		return nil, err
	}
	if inv.Status != billing.StatusPending {
		return nil, apperr.InvalidState("invoice %d is not pending and cannot be paid (status: %s)", inv.ID, inv.Status)
	}
	if req.Amount != inv.Remaining {
		return nil, apperr.Validation("amount %s must equal the outstanding balance %s of invoice %d", req.Amount, inv.Remaining, inv.ID)
	}

	p := &Payment{InvoiceID: inv.ID, Amount: req.Amount}
	if err := w.payments.Create(ctx, p); err != nil {
		return nil, err
	}

	log := zerolog.Ctx(ctx)
	ref, err := w.processor.Submit(ctx, ProcessorRequest{
		PaymentID:  p.ID,
		InvoiceID:  p.InvoiceID,
		Amount:     p.Amount,
		CardNumber: req.CardNumber,
		PIN:        req.PIN,
	})
	if apperr.KindOf(err) == apperr.KindValidation {
		log.Warn().Err(err).Int64("payment_id", p.ID).Msg("payment refused by processor")
		return nil, err
	}
	if err != nil {
		log.Error().Err(err).Int64("payment_id", p.ID).Msg("payment processor call failed")
		return nil, apperr.External(err, "payment processor unavailable for payment %d", p.ID)
	}
	if err := w.payments.SetProcessorRef(ctx, p.ID, ref); err != nil {
		return nil, err
	}
	p.ProcessorRef = &ref

	log.Info().
		Int64("payment_id", p.ID).
		Int64("invoice_id", p.InvoiceID).
		Str("amount", p.Amount.String()).
		Str("processor_ref", ref).
		Msg("payment initiated")
	return p, nil
}

// ChangeStatus finalizes a payment on behalf of patientID. Payments on
// another patient's invoice are reported as not found.
func (w *Workflow) ChangeStatus(ctx context.Context, patientID int64, req StatusChange) (*Payment, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	p, err := w.payments.GetByID(ctx, req.PaymentID)
	if err != nil {
		return nil, err
	}
	inv, err := w.invoices.GetInvoice(ctx, p.InvoiceID)
	if err != nil {
		return nil, err
	}
	if inv.PatientID != patientID {
		return nil, apperr.NotFound("payment %d not found for patient %d", req.PaymentID, patientID)
	}

	updated, _, err := w.finalize(ctx, p.ID, req.FinalStatus, req.BankTxnRef)
	return updated, err
}

// HandleBankNotice applies the bank's confirmation. An InProgress notice is
// acknowledged without changes.
func (w *Workflow) HandleBankNotice(ctx context.Context, n BankNotice) (*BankNoticeResponse, error) {
	if err := n.Validate(); err != nil {
		return nil, err
	}

	var (
		p   *Payment
		err error
	)
	if n.PaymentID > 0 {
		p, err = w.payments.GetByID(ctx, n.PaymentID)
	} else {
		p, err = w.payments.GetByReference(ctx, n.TransactionID)
	}
	if err != nil {
		return nil, err
	}
	zerolog.Ctx(ctx).Info().
		Str("caller", auth.CallerFromContext(ctx)).
		Int64("payment_id", p.ID).
		Str("status", string(n.Status)).
		Str("transaction_id", n.TransactionID).
		Msg("bank notice received")

	resp := &BankNoticeResponse{TransactionID: n.TransactionID}
	if n.Status == StatusInProgress {
		resp.Message = MsgStillInProgress
		resp.UpdatedStatus = p.Status
		return resp, nil
	}

	updated, changed, err := w.finalize(ctx, p.ID, n.Status, n.TransactionID)
	if err != nil {
		return nil, err
	}
	resp.Message = MsgStatusUpdated
	if !changed {
		resp.Message = MsgStatusUnchanged
	}
	resp.UpdatedStatus = updated.Status
	return resp, nil
}

// finalize runs the payment and invoice updates in one transaction and
// notifies after commit when the payment actually changed.
func (w *Workflow) finalize(ctx context.Context, paymentID int64, final Status, bankRef string) (*Payment, bool, error) {
	var (
		p       *Payment
		changed bool
	)
	err := w.tx.WithTx(ctx, func(ctx context.Context) error {
		var err error
		p, changed, err = w.payments.ApplyFinalStatus(ctx, paymentID, final, bankRef)
		if err != nil || !changed {
			return err
		}
		switch p.Status {
		case StatusPaid:
			_, err = w.invoices.ProcessSuccessfulPayment(ctx, p.InvoiceID, p.Amount, bankRef)
		case StatusRejected:
			_, err = w.invoices.ProcessRejectedPayment(ctx, p.InvoiceID, "rejected by bank, transaction "+bankRef)
		}
		return err
	})
	if err != nil {
		return nil, false, err
	}

	log := zerolog.Ctx(ctx)
	if !changed {
		log.Info().Int64("payment_id", p.ID).Str("status", string(p.Status)).Msg("payment already final, nothing to do")
		return p, false, nil
	}
	log.Info().
		Int64("payment_id", p.ID).
		Int64("invoice_id", p.InvoiceID).
		Str("status", string(p.Status)).
		Str("bank_ref", bankRef).
		Msg("payment status updated")

	w.notifyAsync(ctx, p)
	return p, true, nil
}

func (w *Workflow) notifyAsync(ctx context.Context, p *Payment) {
	snapshot := *p
	ctx = context.WithoutCancel(ctx)

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		ctx, cancel := context.WithTimeout(ctx, w.notifyTimeout)
		defer cancel()

		if err := w.notifier.Notify(ctx, &snapshot); err != nil {
			zerolog.Ctx(ctx).Error().Err(err).
				Int64("payment_id", snapshot.ID).
				Str("status", string(snapshot.Status)).
				Msg("payment notification failed")
		}
	}()
}

// Wait blocks until in-flight notifications finish.
func (w *Workflow) Wait() {
	w.wg.Wait()
}

func (w *Workflow) GetPayment(ctx context.Context, id int64) (*Payment, error) {
	return w.payments.GetByID(ctx, id)
}

func (w *Workflow) ListForInvoice(ctx context.Context, invoiceID int64) ([]*Payment, error) {
	if _, err := w.invoices.GetInvoice(ctx, invoiceID); err != nil {
		return nil, err
	}
	return w.payments.ListByInvoice(ctx, invoiceID)
}
