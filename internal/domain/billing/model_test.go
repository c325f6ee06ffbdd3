package billing

import (
	"errors"
	"testing"

	"github.com/odonto/payments/internal/platform/apperr"
	"github.com/odonto/payments/pkg/money"
)

func pendingInvoice(total money.Amount) *Invoice {
	return &Invoice{ID: 1, Total: total, Remaining: total, Status: StatusPending}
}

func TestInvoice_ApplyPayment_Full(t *testing.T) {
	inv := pendingInvoice(money.FromUnits(500000))
	if err := inv.ApplyPayment(money.FromUnits(500000)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !inv.Remaining.IsZero() {
		t.Errorf("expected remaining 0, got %s", inv.Remaining)
	}
	if inv.Status != StatusPaid {
		t.Errorf("expected Paid, got %s", inv.Status)
	}
}

func TestInvoice_ApplyPayment_Partial(t *testing.T) {
	inv := pendingInvoice(money.MustParse("300.00"))
	if err := inv.ApplyPayment(money.MustParse("100.10")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if inv.Remaining != money.MustParse("199.90") {
		t.Errorf("expected remaining 199.90, got %s", inv.Remaining)
	}
	if inv.Status != StatusPending {
		t.Errorf("expected Pending, got %s", inv.Status)
	}

	// Cents that would not sum exactly in floating point settle to zero.
	if err := inv.ApplyPayment(money.MustParse("199.90")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if inv.Status != StatusPaid || !inv.Remaining.IsZero() {
		t.Errorf("expected Paid with 0 remaining, got %s / %s", inv.Status, inv.Remaining)
	}
}

func TestInvoice_ApplyPayment_ExceedsRemaining(t *testing.T) {
	inv := pendingInvoice(money.FromUnits(100))
	err := inv.ApplyPayment(money.FromUnits(101))
	if !errors.Is(err, apperr.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if inv.Remaining != money.FromUnits(100) || inv.Status != StatusPending {
		t.Errorf("expected invoice unchanged, got %s / %s", inv.Remaining, inv.Status)
	}
}

func TestInvoice_ApplyPayment_Negative(t *testing.T) {
	inv := pendingInvoice(money.FromUnits(100))
	if err := inv.ApplyPayment(-1); !errors.Is(err, apperr.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestInvoice_ApplyPayment_ZeroKeepsPending(t *testing.T) {
	inv := pendingInvoice(money.FromUnits(100))
	if err := inv.ApplyPayment(money.Zero); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if inv.Status != StatusPending {
		t.Errorf("expected Pending, got %s", inv.Status)
	}
}

func TestInvoice_RemainingStaysInRange(t *testing.T) {
	inv := pendingInvoice(money.FromUnits(1000))
	payments := []money.Amount{250_00, 400_00, 500_00, 350_00, 1}
	for _, p := range payments {
		_ = inv.ApplyPayment(p)
		if inv.Remaining.IsNegative() || inv.Remaining > inv.Total {
			t.Fatalf("remaining %s out of [0, %s]", inv.Remaining, inv.Total)
		}
		if (inv.Status == StatusPaid) != inv.Remaining.IsZero() {
			t.Fatalf("status %s inconsistent with remaining %s", inv.Status, inv.Remaining)
		}
	}
}

func TestInvoice_MarkPaid(t *testing.T) {
	inv := pendingInvoice(money.FromUnits(100))
	inv.MarkPaid()
	if inv.Status != StatusPaid || !inv.Remaining.IsZero() {
		t.Errorf("expected Paid with 0 remaining, got %s / %s", inv.Status, inv.Remaining)
	}
}

func TestParseStatus(t *testing.T) {
	for _, s := range []string{"", "Pending", "Paid", "Cancelled"} {
		if _, err := ParseStatus(s); err != nil {
			t.Errorf("ParseStatus(%q) unexpected error: %v", s, err)
		}
	}
	if _, err := ParseStatus("Pendiente"); !errors.Is(err, apperr.ErrValidation) {
		t.Errorf("expected validation error for unknown status, got %v", err)
	}
}
