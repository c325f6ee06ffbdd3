package payment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odonto/payments/internal/platform/apperr"
	"github.com/odonto/payments/internal/platform/db"
)

type repoPG struct {
	pool *pgxpool.Pool
	tx   db.TxRunner
}

func NewRepoPG(pool *pgxpool.Pool) Repository {
	return &repoPG{pool: pool, tx: db.NewTxRunner(pool)}
}

const paymentCols = `id, invoice_id, amount, status, bank_txn_ref, processor_ref, started_at, completed_at, version`

func (r *repoPG) Create(ctx context.Context, p *Payment) error {
	p.Status = StatusInProgress
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO payments (invoice_id, amount, status)
		VALUES ($1, $2, $3)
		RETURNING id, started_at, version`,
		p.InvoiceID, p.Amount, p.Status,
	).Scan(&p.ID, &p.StartedAt, &p.Version)
	if db.IsForeignKeyViolation(err) {
		return apperr.NotFound("invoice %d not found", p.InvoiceID)
	}
	if err != nil {
		return fmt.Errorf("insert payment: %w", err)
	}
	return nil
}

func (r *repoPG) GetByID(ctx context.Context, id int64) (*Payment, error) {
	p, err := scanPayment(db.Conn(ctx, r.pool).QueryRow(ctx,
		`SELECT `+paymentCols+` FROM payments WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFound("payment %d not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get payment %d: %w", id, err)
	}
	return p, nil
}

func (r *repoPG) GetByReference(ctx context.Context, ref string) (*Payment, error) {
	p, err := scanPayment(db.Conn(ctx, r.pool).QueryRow(ctx,
		`SELECT `+paymentCols+` FROM payments WHERE processor_ref = $1 OR bank_txn_ref = $1
		 ORDER BY id LIMIT 1`, ref))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFound("no payment with transaction reference %q", ref)
	}
	if err != nil {
		return nil, fmt.Errorf("get payment by reference: %w", err)
	}
	return p, nil
}

func (r *repoPG) ListByInvoice(ctx context.Context, invoiceID int64) ([]*Payment, error) {
	rows, err := db.Conn(ctx, r.pool).Query(ctx,
		`SELECT `+paymentCols+` FROM payments WHERE invoice_id = $1 ORDER BY started_at, id`, invoiceID)
	if err != nil {
		return nil, fmt.Errorf("list payments: %w", err)
	}
	defer rows.Close()

	out := []*Payment{}
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (r *repoPG) SetProcessorRef(ctx context.Context, id int64, ref string) error {
	tag, err := db.Conn(ctx, r.pool).Exec(ctx,
		`UPDATE payments SET processor_ref = $2 WHERE id = $1`, id, ref)
	if db.IsUniqueViolation(err, "payments_processor_ref_key") {
		return apperr.Conflict("processor reference %q already in use", ref)
	}
	if err != nil {
		return fmt.Errorf("set processor ref of payment %d: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("payment %d not found", id)
	}
	return nil
}

// ApplyFinalStatus locks the payment row and writes the terminal status,
// bank reference and completion time in one statement.
func (r *repoPG) ApplyFinalStatus(ctx context.Context, id int64, final Status, bankRef string) (*Payment, bool, error) {
	var (
		out     *Payment
		changed bool
	)
	err := r.tx.WithTx(ctx, func(ctx context.Context) error {
		q := db.Conn(ctx, r.pool)
		p, err := scanPayment(q.QueryRow(ctx,
			`SELECT `+paymentCols+` FROM payments WHERE id = $1 FOR UPDATE`, id))
		if errors.Is(err, pgx.ErrNoRows) {
			return apperr.NotFound("payment %d not found", id)
		}
		if err != nil {
			return fmt.Errorf("lock payment %d: %w", id, err)
		}

		changed, err = p.Finalize(final, bankRef, time.Now().UTC())
		if err != nil {
			return err
		}
		out = p
		if !changed {
			return nil
		}

		err = q.QueryRow(ctx, `
			UPDATE payments
			SET status = $2, bank_txn_ref = $3, completed_at = $4, version = version + 1
			WHERE id = $1 AND version = $5
			RETURNING version`,
			p.ID, p.Status, p.BankTxnRef, p.CompletedAt, p.Version,
		).Scan(&p.Version)
		if errors.Is(err, pgx.ErrNoRows) {
			return apperr.Conflict("payment %d was modified concurrently", id)
		}
		if db.IsUniqueViolation(err, "payments_bank_txn_ref_key") {
			return apperr.Conflict("bank transaction %q is already recorded on another payment", bankRef)
		}
		if err != nil {
			return fmt.Errorf("update payment %d: %w", id, err)
		}
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return out, changed, nil
}

func scanPayment(row pgx.Row) (*Payment, error) {
	var p Payment
	err := row.Scan(&p.ID, &p.InvoiceID, &p.Amount, &p.Status, &p.BankTxnRef, &p.ProcessorRef,
		&p.StartedAt, &p.CompletedAt, &p.Version)
	if err != nil {
		return nil, err
	}
	return &p, nil
}
