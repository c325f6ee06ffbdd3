package payment

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/odonto/payments/internal/domain/billing"
	"github.com/odonto/payments/internal/platform/apperr"
	"github.com/odonto/payments/pkg/money"
)

// -- Payment store --

type memPayments struct {
	payments map[int64]*Payment
	nextID   int64
	saved    map[int64]Payment
}

func newMemPayments() *memPayments {
	return &memPayments{payments: make(map[int64]*Payment)}
}

func (m *memPayments) Create(_ context.Context, p *Payment) error {
	m.nextID++
	p.ID = m.nextID
	p.Status = StatusInProgress
	p.StartedAt = time.Now()
	p.Version = 1
	cp := *p
	m.payments[p.ID] = &cp
	return nil
}

func (m *memPayments) GetByID(_ context.Context, id int64) (*Payment, error) {
	p, ok := m.payments[id]
	if !ok {
		return nil, apperr.NotFound("payment %d not found", id)
	}
	cp := *p
	return &cp, nil
}

func (m *memPayments) GetByReference(_ context.Context, ref string) (*Payment, error) {
	for id := int64(1); id <= m.nextID; id++ {
		p, ok := m.payments[id]
		if !ok {
			continue
		}
		if (p.ProcessorRef != nil && *p.ProcessorRef == ref) || (p.BankTxnRef != nil && *p.BankTxnRef == ref) {
			cp := *p
			return &cp, nil
		}
	}
	return nil, apperr.NotFound("no payment with transaction reference %q", ref)
}

func (m *memPayments) ListByInvoice(_ context.Context, invoiceID int64) ([]*Payment, error) {
	out := []*Payment{}
	for id := int64(1); id <= m.nextID; id++ {
		if p, ok := m.payments[id]; ok && p.InvoiceID == invoiceID {
			cp := *p
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *memPayments) SetProcessorRef(_ context.Context, id int64, ref string) error {
	p, ok := m.payments[id]
	if !ok {
		return apperr.NotFound("payment %d not found", id)
	}
	p.ProcessorRef = &ref
	return nil
}

func (m *memPayments) ApplyFinalStatus(_ context.Context, id int64, final Status, bankRef string) (*Payment, bool, error) {
	stored, ok := m.payments[id]
	if !ok {
		return nil, false, apperr.NotFound("payment %d not found", id)
	}
	cp := *stored
	changed, err := cp.Finalize(final, bankRef, time.Now())
	if err != nil {
		return nil, false, err
	}
	if changed {
		cp.Version++
		m.payments[id] = &cp
	}
	out := cp
	return &out, changed, nil
}

func (m *memPayments) snapshot() {
	m.saved = make(map[int64]Payment, len(m.payments))
	for id, p := range m.payments {
		m.saved[id] = *p
	}
}

func (m *memPayments) restore() {
	m.payments = make(map[int64]*Payment, len(m.saved))
	for id, p := range m.saved {
		cp := p
		m.payments[id] = &cp
	}
}

// -- Invoice service --

type memInvoices struct {
	invoices      map[int64]*billing.Invoice
	saved         map[int64]billing.Invoice
	rejections    int
	settledWith   []money.Amount
	failSuccessOn error
}

func newMemInvoices(invs ...*billing.Invoice) *memInvoices {
	m := &memInvoices{invoices: make(map[int64]*billing.Invoice)}
	for _, inv := range invs {
		m.invoices[inv.ID] = inv
	}
	return m
}

func (m *memInvoices) GetInvoice(_ context.Context, id int64) (*billing.Invoice, error) {
	inv, ok := m.invoices[id]
	if !ok {
		return nil, apperr.NotFound("invoice %d not found", id)
	}
	cp := *inv
	return &cp, nil
}

func (m *memInvoices) ProcessSuccessfulPayment(_ context.Context, invoiceID int64, amount money.Amount, _ string) (*billing.Invoice, error) {
	m.settledWith = append(m.settledWith, amount)
	if m.failSuccessOn != nil {
		return nil, m.failSuccessOn
	}
	stored, ok := m.invoices[invoiceID]
	if !ok || stored.Status != billing.StatusPending {
		return nil, apperr.Validation("invoice %d cannot receive payments", invoiceID)
	}
	cp := *stored
	cp.MarkPaid()
	m.invoices[invoiceID] = &cp
	return &cp, nil
}

func (m *memInvoices) ProcessRejectedPayment(_ context.Context, invoiceID int64, _ string) (*billing.Invoice, error) {
	inv, ok := m.invoices[invoiceID]
	if !ok {
		return nil, apperr.NotFound("invoice %d not found", invoiceID)
	}
	m.rejections++
	cp := *inv
	return &cp, nil
}

func (m *memInvoices) snapshot() {
	m.saved = make(map[int64]billing.Invoice, len(m.invoices))
	for id, inv := range m.invoices {
		m.saved[id] = *inv
	}
}

func (m *memInvoices) restore() {
	m.invoices = make(map[int64]*billing.Invoice, len(m.saved))
	for id, inv := range m.saved {
		cp := inv
		m.invoices[id] = &cp
	}
}

// -- Transaction runner --

type snapshotter interface {
	snapshot()
	restore()
}

// fakeTx restores every store when fn fails, standing in for a rollback.
type fakeTx struct {
	stores []snapshotter
	calls  int
}

func (f *fakeTx) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	f.calls++
	for _, s := range f.stores {
		s.snapshot()
	}
	if err := fn(ctx); err != nil {
		for _, s := range f.stores {
			s.restore()
		}
		return err
	}
	return nil
}

// -- Processor --

type mockProcessor struct {
	mock.Mock
}

func (m *mockProcessor) Submit(ctx context.Context, req ProcessorRequest) (string, error) {
	args := m.Called(ctx, req)
	return args.String(0), args.Error(1)
}

// -- Notifier --

type recordingNotifier struct {
	mu    sync.Mutex
	calls []Payment
	err   error
}

func (n *recordingNotifier) Notify(_ context.Context, p *Payment) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.calls = append(n.calls, *p)
	return n.err
}

func (n *recordingNotifier) Calls() []Payment {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]Payment, len(n.calls))
	copy(out, n.calls)
	return out
}

var errProcessorDown = errors.New("connection refused")

type fixture struct {
	wf        *Workflow
	payments  *memPayments
	invoices  *memInvoices
	tx        *fakeTx
	processor *mockProcessor
	notifier  *recordingNotifier
}

func pendingInvoice(id, patientID int64, total money.Amount) *billing.Invoice {
	return &billing.Invoice{ID: id, PatientID: patientID, TreatmentID: 1, Total: total, Remaining: total,
		Status: billing.StatusPending, Version: 1}
}

func newFixture(invs ...*billing.Invoice) *fixture {
	f := &fixture{
		payments:  newMemPayments(),
		invoices:  newMemInvoices(invs...),
		processor: &mockProcessor{},
		notifier:  &recordingNotifier{},
	}
	f.tx = &fakeTx{stores: []snapshotter{f.payments, f.invoices}}
	f.wf = NewWorkflow(f.payments, f.invoices, f.tx, f.processor, f.notifier)
	return f
}

// seedPayment stores an InProgress payment directly.
func (f *fixture) seedPayment(invoiceID int64, amount money.Amount, processorRef string) *Payment {
	p := &Payment{InvoiceID: invoiceID, Amount: amount}
	f.payments.Create(context.Background(), p)
	if processorRef != "" {
		f.payments.SetProcessorRef(context.Background(), p.ID, processorRef)
	}
	return p
}
