package billing

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/odonto/payments/internal/domain/patient"
	"github.com/odonto/payments/internal/domain/treatment"
	"github.com/odonto/payments/internal/platform/apperr"
	"github.com/odonto/payments/pkg/money"
)

// PatientLookup resolves patients; a miss is an apperr not-found error.
type PatientLookup interface {
	GetByID(ctx context.Context, id int64) (*patient.Patient, error)
}

// TreatmentLookup resolves treatments; a miss is an apperr not-found error.
type TreatmentLookup interface {
	GetByID(ctx context.Context, id int64) (*treatment.Treatment, error)
}

type Service struct {
	invoices   InvoiceRepository
	patients   PatientLookup
	treatments TreatmentLookup
	now        func() time.Time
}

func NewService(invoices InvoiceRepository, patients PatientLookup, treatments TreatmentLookup) *Service {
	return &Service{invoices: invoices, patients: patients, treatments: treatments, now: time.Now}
}

func (s *Service) ensurePatient(ctx context.Context, patientID int64) error {
	if _, err := s.patients.GetByID(ctx, patientID); err != nil {
		return err
	}
	return nil
}

// -- Balance queries --

// ListPendingForPatient returns the patient's Pending invoices.
func (s *Service) ListPendingForPatient(ctx context.Context, patientID int64) ([]*Invoice, error) {
	if err := s.ensurePatient(ctx, patientID); err != nil {
		return nil, err
	}
	return s.invoices.ListPendingByPatient(ctx, patientID)
}

// ConsultBalances builds the patient's outstanding balance statement.
// Interest figures are echoed back only when something is pending.
func (s *Service) ConsultBalances(ctx context.Context, patientID int64, accrued, contingent money.Amount) (*BalanceResponse, error) {
	if accrued.IsNegative() || contingent.IsNegative() {
		return nil, apperr.Validation("interest amounts must not be negative")
	}
	pending, err := s.ListPendingForPatient(ctx, patientID)
	if err != nil {
		return nil, err
	}

	data := BalanceData{
		ProcessDate: s.now().Format(time.DateOnly),
		Detail:      []BalanceDetail{},
	}
	if len(pending) == 0 {
		return &BalanceResponse{Message: MsgNoPendingInvoices, Data: data, Success: true}, nil
	}

	remaining := make([]money.Amount, 0, len(pending))
	for _, inv := range pending {
		remaining = append(remaining, inv.Remaining)
		data.Detail = append(data.Detail, BalanceDetail{
			InvoiceID: inv.ID,
			Amount:    inv.Total,
			Remaining: inv.Remaining,
			Status:    inv.Status,
			CreatedAt: inv.CreatedAt,
		})
	}
	data.TotalPrincipal = money.Sum(remaining...)
	data.AccruedInterest = accrued
	data.ContingentInterest = contingent

	return &BalanceResponse{Message: MsgBalanceQueryOK, Data: data, Success: true}, nil
}

// -- Payment support --

// ValidateInvoiceForPayment checks that the invoice exists, is Pending and
// still has a balance. Only storage failures are returned as errors.
func (s *Service) ValidateInvoiceForPayment(ctx context.Context, invoiceID int64) (PaymentValidation, error) {
	inv, err := s.invoices.GetByID(ctx, invoiceID)
	if apperr.KindOf(err) == apperr.KindNotFound {
		return PaymentValidation{Error: fmt.Sprintf("invoice %d does not exist", invoiceID)}, nil
	}
	if err != nil {
		return PaymentValidation{}, err
	}
	return validateForPayment(inv), nil
}

func validateForPayment(inv *Invoice) PaymentValidation {
	if inv.Status != StatusPending {
		return PaymentValidation{Error: fmt.Sprintf("invoice %d is not pending (status: %s)", inv.ID, inv.Status)}
	}
	if !inv.Remaining.IsPositive() {
		return PaymentValidation{Error: fmt.Sprintf("invoice %d has no outstanding balance", inv.ID)}
	}
	return PaymentValidation{Valid: true}
}

// ProcessSuccessfulPayment settles the invoice in full for a confirmed bank
// payment. An amount that no longer matches the outstanding balance still
// settles it, through MarkPaid.
func (s *Service) ProcessSuccessfulPayment(ctx context.Context, invoiceID int64, amount money.Amount, bankRef string) (*Invoice, error) {
	current, err := s.invoices.GetByID(ctx, invoiceID)
	if apperr.KindOf(err) == apperr.KindNotFound {
		return nil, apperr.Validation("invoice %d does not exist", invoiceID)
	}
	if err != nil {
		return nil, err
	}
	if v := validateForPayment(current); !v.Valid {
		return nil, apperr.Validation("%s", v.Error)
	}

	log := zerolog.Ctx(ctx)
	var inv *Invoice
	if amount == current.Remaining {
		inv, err = s.invoices.ApplyPayment(ctx, invoiceID, amount)
	} else {
		log.Warn().
			Int64("invoice_id", invoiceID).
			Str("amount", amount.String()).
			Str("outstanding", current.Remaining.String()).
			Msg("payment amount differs from outstanding balance, settling invoice")
		inv, err = s.invoices.MarkPaid(ctx, invoiceID)
	}
	if err != nil {
		return nil, err
	}
	if inv == nil {
		return nil, fmt.Errorf("settle invoice %d: store returned no invoice", invoiceID)
	}

	log.Info().
		Int64("invoice_id", invoiceID).
		Str("amount", amount.String()).
		Str("settled", current.Remaining.String()).
		Str("status", string(inv.Status)).
		Str("bank_ref", bankRef).
		Msg("invoice settled by payment")
	return inv, nil
}

// ProcessRejectedPayment records a bank rejection. The invoice is unchanged.
func (s *Service) ProcessRejectedPayment(ctx context.Context, invoiceID int64, reason string) (*Invoice, error) {
	inv, err := s.invoices.GetByID(ctx, invoiceID)
	if err != nil {
		return nil, err
	}
	zerolog.Ctx(ctx).Warn().
		Int64("invoice_id", invoiceID).
		Str("reason", reason).
		Msg("payment rejected")
	return inv, nil
}

// -- Invoice management --

func (s *Service) CreateInvoice(ctx context.Context, patientID int64, req NewInvoice) (*Invoice, error) {
	if req.TreatmentID <= 0 {
		return nil, apperr.Validation("treatment_id is required")
	}
	if err := s.ensurePatient(ctx, patientID); err != nil {
		return nil, err
	}
	t, err := s.treatments.GetByID(ctx, req.TreatmentID)
	if err != nil {
		return nil, err
	}

	inv := &Invoice{PatientID: patientID, TreatmentID: t.ID, Total: t.TotalCost}
	if req.Total != nil {
		inv.Total = *req.Total
	}
	if !inv.Total.IsPositive() {
		return nil, apperr.Validation("invoice total must be greater than 0")
	}
	if err := s.invoices.Create(ctx, inv); err != nil {
		return nil, err
	}
	zerolog.Ctx(ctx).Info().Int64("invoice_id", inv.ID).Int64("patient_id", patientID).Msg("invoice created")
	return inv, nil
}

func (s *Service) GetInvoice(ctx context.Context, id int64) (*Invoice, error) {
	return s.invoices.GetByID(ctx, id)
}

// InvoiceHolder returns the patient an invoice was issued to.
func (s *Service) InvoiceHolder(ctx context.Context, invoiceID int64) (*patient.Patient, error) {
	inv, err := s.invoices.GetByID(ctx, invoiceID)
	if err != nil {
		return nil, err
	}
	return s.patients.GetByID(ctx, inv.PatientID)
}

func (s *Service) ListInvoicesForPatient(ctx context.Context, patientID int64, status InvoiceStatus) ([]*Invoice, error) {
	if err := s.ensurePatient(ctx, patientID); err != nil {
		return nil, err
	}
	return s.invoices.ListByPatient(ctx, patientID, status)
}

func (s *Service) ListInvoicesByStatus(ctx context.Context, status InvoiceStatus, limit, offset int) ([]*Invoice, int, error) {
	return s.invoices.ListByStatus(ctx, status, limit, offset)
}

// CancelInvoice cancels a Pending invoice.
func (s *Service) CancelInvoice(ctx context.Context, id int64) (*Invoice, error) {
	inv, err := s.invoices.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if inv.Status != StatusPending {
		return nil, apperr.InvalidState("invoice %d cannot be cancelled (status: %s)", id, inv.Status)
	}
	return s.invoices.MarkCancelled(ctx, id)
}

func (s *Service) DeleteInvoice(ctx context.Context, id int64) error {
	ok, err := s.invoices.Delete(ctx, id)
	if err != nil {
		return err
	}
	if !ok {
		return apperr.NotFound("invoice %d not found", id)
	}
	return nil
}

// PatientSummary reports billed, paid and pending totals. Cancelled invoices
// are not counted as billed.
func (s *Service) PatientSummary(ctx context.Context, patientID int64) (*PatientSummary, error) {
	invoices, err := s.ListInvoicesForPatient(ctx, patientID, "")
	if err != nil {
		return nil, err
	}
	billed, err := s.invoices.SumTotalByPatient(ctx, patientID)
	if err != nil {
		return nil, err
	}
	pending, err := s.invoices.SumRemainingPendingByPatient(ctx, patientID)
	if err != nil {
		return nil, err
	}

	sum := &PatientSummary{
		PatientID:    patientID,
		InvoiceCount: len(invoices),
		TotalBilled:  billed,
		TotalPaid:    billed - pending,
		TotalPending: pending,
	}
	if billed.IsPositive() {
		pct := sum.TotalPaid.Decimal().Div(billed.Decimal()).Mul(decimal.NewFromInt(100)).Round(2)
		sum.PercentagePaid = pct.InexactFloat64()
	}
	return sum, nil
}
