package billing

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odonto/payments/internal/platform/apperr"
	"github.com/odonto/payments/internal/platform/db"
	"github.com/odonto/payments/pkg/money"
)

type invoiceRepoPG struct {
	pool *pgxpool.Pool
	tx   db.TxRunner
}

func NewInvoiceRepoPG(pool *pgxpool.Pool) InvoiceRepository {
	return &invoiceRepoPG{pool: pool, tx: db.NewTxRunner(pool)}
}

const invoiceCols = `id, patient_id, treatment_id, total, remaining, status, created_at, updated_at, version`

func (r *invoiceRepoPG) Create(ctx context.Context, inv *Invoice) error {
	if !inv.Total.IsPositive() {
		return apperr.Validation("invoice total must be greater than 0")
	}
	if inv.Remaining.IsZero() {
		inv.Remaining = inv.Total
	}
	if inv.Remaining.IsNegative() || inv.Remaining > inv.Total {
		return apperr.Validation("remaining balance must be between 0 and the invoice total")
	}
	inv.Status = StatusPending

	err := db.Conn(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO invoices (patient_id, treatment_id, total, remaining, status)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at, updated_at, version`,
		inv.PatientID, inv.TreatmentID, inv.Total, inv.Remaining, inv.Status,
	).Scan(&inv.ID, &inv.CreatedAt, &inv.UpdatedAt, &inv.Version)
	if db.IsForeignKeyViolation(err) {
		return apperr.NotFound("patient %d or treatment %d does not exist", inv.PatientID, inv.TreatmentID)
	}
	if err != nil {
		return fmt.Errorf("insert invoice: %w", err)
	}
	return nil
}

func (r *invoiceRepoPG) GetByID(ctx context.Context, id int64) (*Invoice, error) {
	inv, err := scanInvoice(db.Conn(ctx, r.pool).QueryRow(ctx,
		`SELECT `+invoiceCols+` FROM invoices WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFound("invoice %d not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get invoice %d: %w", id, err)
	}
	return inv, nil
}

func (r *invoiceRepoPG) list(ctx context.Context, sql string, args ...any) ([]*Invoice, error) {
	rows, err := db.Conn(ctx, r.pool).Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("list invoices: %w", err)
	}
	defer rows.Close()

	out := []*Invoice{}
	for rows.Next() {
		inv, err := scanInvoice(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, inv)
	}
	return out, rows.Err()
}

func (r *invoiceRepoPG) ListByPatient(ctx context.Context, patientID int64, status InvoiceStatus) ([]*Invoice, error) {
	if status == "" {
		return r.list(ctx, `SELECT `+invoiceCols+` FROM invoices WHERE patient_id = $1 ORDER BY created_at, id`, patientID)
	}
	return r.list(ctx, `SELECT `+invoiceCols+` FROM invoices WHERE patient_id = $1 AND status = $2 ORDER BY created_at, id`,
		patientID, status)
}

func (r *invoiceRepoPG) ListPendingByPatient(ctx context.Context, patientID int64) ([]*Invoice, error) {
	return r.list(ctx, `
		SELECT i.id, i.patient_id, i.treatment_id, i.total, i.remaining, i.status, i.created_at, i.updated_at, i.version
		FROM invoices i
		JOIN patients p ON p.id = i.patient_id
		WHERE i.patient_id = $1 AND i.status = $2
		ORDER BY i.created_at, i.id`, patientID, StatusPending)
}

func (r *invoiceRepoPG) ListByStatus(ctx context.Context, status InvoiceStatus, limit, offset int) ([]*Invoice, int, error) {
	var total int
	if err := db.Conn(ctx, r.pool).QueryRow(ctx,
		`SELECT COUNT(*) FROM invoices WHERE ($1 = '' OR status = $1)`, string(status),
	).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count invoices: %w", err)
	}
	items, err := r.list(ctx,
		`SELECT `+invoiceCols+` FROM invoices WHERE ($1 = '' OR status = $1) ORDER BY id LIMIT $2 OFFSET $3`,
		string(status), limit, offset)
	if err != nil {
		return nil, 0, err
	}
	return items, total, nil
}

// mutate locks the invoice row, applies fn and writes the result back under
// an optimistic version check.
func (r *invoiceRepoPG) mutate(ctx context.Context, id int64, fn func(inv *Invoice) error) (*Invoice, error) {
	var out *Invoice
	err := r.tx.WithTx(ctx, func(ctx context.Context) error {
		q := db.Conn(ctx, r.pool)
		inv, err := scanInvoice(q.QueryRow(ctx,
			`SELECT `+invoiceCols+` FROM invoices WHERE id = $1 FOR UPDATE`, id))
		if errors.Is(err, pgx.ErrNoRows) {
			return apperr.NotFound("invoice %d not found", id)
		}
		if err != nil {
			return fmt.Errorf("lock invoice %d: %w", id, err)
		}

		if err := fn(inv); err != nil {
			return err
		}

		err = q.QueryRow(ctx, `
			UPDATE invoices
			SET remaining = $2, status = $3, version = version + 1, updated_at = NOW()
			WHERE id = $1 AND version = $4
			RETURNING version, updated_at`,
			inv.ID, inv.Remaining, inv.Status, inv.Version,
		).Scan(&inv.Version, &inv.UpdatedAt)
		if errors.Is(err, pgx.ErrNoRows) {
			return apperr.Conflict("invoice %d was modified concurrently", id)
		}
		if err != nil {
			return fmt.Errorf("update invoice %d: %w", id, err)
		}
		out = inv
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (r *invoiceRepoPG) ApplyPayment(ctx context.Context, id int64, amount money.Amount) (*Invoice, error) {
	return r.mutate(ctx, id, func(inv *Invoice) error {
		return inv.ApplyPayment(amount)
	})
}

func (r *invoiceRepoPG) MarkPaid(ctx context.Context, id int64) (*Invoice, error) {
	return r.mutate(ctx, id, func(inv *Invoice) error {
		inv.MarkPaid()
		return nil
	})
}

func (r *invoiceRepoPG) MarkCancelled(ctx context.Context, id int64) (*Invoice, error) {
	return r.mutate(ctx, id, func(inv *Invoice) error {
		inv.Status = StatusCancelled
		return nil
	})
}

func (r *invoiceRepoPG) Delete(ctx context.Context, id int64) (bool, error) {
	tag, err := db.Conn(ctx, r.pool).Exec(ctx, `DELETE FROM invoices WHERE id = $1`, id)
	if db.IsForeignKeyViolation(err) {
		return false, apperr.Conflict("invoice %d has payments and cannot be deleted", id)
	}
	if err != nil {
		return false, fmt.Errorf("delete invoice %d: %w", id, err)
	}
	return tag.RowsAffected() > 0, nil
}

func (r *invoiceRepoPG) SumTotalByPatient(ctx context.Context, patientID int64) (money.Amount, error) {
	var sum money.Amount
	err := db.Conn(ctx, r.pool).QueryRow(ctx,
		`SELECT COALESCE(SUM(total), 0)::BIGINT FROM invoices WHERE patient_id = $1 AND status <> $2`,
		patientID, StatusCancelled,
	).Scan(&sum)
	if err != nil {
		return 0, fmt.Errorf("sum invoice totals: %w", err)
	}
	return sum, nil
}

func (r *invoiceRepoPG) SumRemainingPendingByPatient(ctx context.Context, patientID int64) (money.Amount, error) {
	var sum money.Amount
	err := db.Conn(ctx, r.pool).QueryRow(ctx,
		`SELECT COALESCE(SUM(remaining), 0)::BIGINT FROM invoices WHERE patient_id = $1 AND status = $2`,
		patientID, StatusPending,
	).Scan(&sum)
	if err != nil {
		return 0, fmt.Errorf("sum pending balances: %w", err)
	}
	return sum, nil
}

func scanInvoice(row pgx.Row) (*Invoice, error) {
	var inv Invoice
	err := row.Scan(&inv.ID, &inv.PatientID, &inv.TreatmentID, &inv.Total, &inv.Remaining,
		&inv.Status, &inv.CreatedAt, &inv.UpdatedAt, &inv.Version)
	if err != nil {
		return nil, err
	}
	return &inv, nil
}
