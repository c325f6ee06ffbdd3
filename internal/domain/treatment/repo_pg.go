package treatment

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odonto/payments/internal/platform/apperr"
	"github.com/odonto/payments/internal/platform/db"
)

type repoPG struct {
	pool *pgxpool.Pool
}

func NewRepoPG(pool *pgxpool.Pool) Repository {
	return &repoPG{pool: pool}
}

func (r *repoPG) Create(ctx context.Context, t *Treatment) error {
	err := db.Conn(ctx, r.pool).QueryRow(ctx,
		`INSERT INTO treatments (name, total_cost) VALUES ($1, $2) RETURNING id, created_at`,
		t.Name, t.TotalCost,
	).Scan(&t.ID, &t.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert treatment: %w", err)
	}
	return nil
}

func (r *repoPG) GetByID(ctx context.Context, id int64) (*Treatment, error) {
	var t Treatment
	err := db.Conn(ctx, r.pool).QueryRow(ctx,
		`SELECT id, name, total_cost, created_at FROM treatments WHERE id = $1`, id,
	).Scan(&t.ID, &t.Name, &t.TotalCost, &t.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFound("treatment %d not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get treatment %d: %w", id, err)
	}
	return &t, nil
}

func (r *repoPG) Update(ctx context.Context, t *Treatment) error {
	tag, err := db.Conn(ctx, r.pool).Exec(ctx,
		`UPDATE treatments SET name = $2, total_cost = $3 WHERE id = $1`,
		t.ID, t.Name, t.TotalCost)
	if err != nil {
		return fmt.Errorf("update treatment %d: %w", t.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("treatment %d not found", t.ID)
	}
	return nil
}

func (r *repoPG) Delete(ctx context.Context, id int64) (bool, error) {
	tag, err := db.Conn(ctx, r.pool).Exec(ctx, `DELETE FROM treatments WHERE id = $1`, id)
	if db.IsForeignKeyViolation(err) {
		return false, apperr.Conflict("treatment %d is referenced by invoices", id)
	}
	if err != nil {
		return false, fmt.Errorf("delete treatment %d: %w", id, err)
	}
	return tag.RowsAffected() > 0, nil
}

func (r *repoPG) List(ctx context.Context, limit, offset int) ([]*Treatment, int, error) {
	q := db.Conn(ctx, r.pool)
	var total int
	if err := q.QueryRow(ctx, `SELECT COUNT(*) FROM treatments`).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count treatments: %w", err)
	}
	rows, err := q.Query(ctx,
		`SELECT id, name, total_cost, created_at FROM treatments ORDER BY id LIMIT $1 OFFSET $2`,
		limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list treatments: %w", err)
	}
	defer rows.Close()

	out := []*Treatment{}
	for rows.Next() {
		var t Treatment
		if err := rows.Scan(&t.ID, &t.Name, &t.TotalCost, &t.CreatedAt); err != nil {
			return nil, 0, err
		}
		out = append(out, &t)
	}
	return out, total, rows.Err()
}
