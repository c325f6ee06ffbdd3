package db

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

const healthTimeout = 5 * time.Second

// PoolSnapshot is the pool's connection accounting at one point in time.
type PoolSnapshot struct {
	Total       int32  `json:"total"`
	Idle        int32  `json:"idle"`
	InUse       int32  `json:"in_use"`
	Max         int32  `json:"max"`
	Acquires    int64  `json:"acquires"`
	AcquireWait string `json:"acquire_wait"`
}

func snapshot(pool *pgxpool.Pool) PoolSnapshot {
	stat := pool.Stat()
	return PoolSnapshot{
		Total:       stat.TotalConns(),
		Idle:        stat.IdleConns(),
		InUse:       stat.AcquiredConns(),
		Max:         stat.MaxConns(),
		Acquires:    stat.AcquireCount(),
		AcquireWait: stat.AcquireDuration().String(),
	}
}

// SchemaState tells how far the database schema is migrated.
type SchemaState struct {
	Applied int      `json:"applied"`
	Latest  int      `json:"latest_version"`
	Pending []string `json:"pending"`
}

// Current reports whether every known migration has been applied.
func (s SchemaState) Current() bool { return len(s.Pending) == 0 }

// Summarize folds the migration files and the applied set into a SchemaState.
func Summarize(migrations []Migration, applied map[int]time.Time) SchemaState {
	st := SchemaState{Pending: []string{}}
	for _, mig := range migrations {
		if _, ok := applied[mig.Version]; !ok {
			st.Pending = append(st.Pending, mig.Name)
			continue
		}
		st.Applied++
		if mig.Version > st.Latest {
			st.Latest = mig.Version
		}
	}
	return st
}

// Schema reads the migration state without creating schema_migrations; a
// database that was never migrated has every migration pending.
func (m *Migrator) Schema(ctx context.Context) (SchemaState, error) {
	migrations, err := m.LoadMigrations()
	if err != nil {
		return SchemaState{}, err
	}
	done, err := m.applied(ctx)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "42P01" {
		done, err = nil, nil
	}
	if err != nil {
		return SchemaState{}, err
	}
	return Summarize(migrations, done), nil
}

// DBHealth is the body served on /health/db.
type DBHealth struct {
	Status string        `json:"status"`
	Error  string        `json:"error,omitempty"`
	Pool   *PoolSnapshot `json:"pool,omitempty"`
	Schema *SchemaState  `json:"schema,omitempty"`
}

type healthChecks struct {
	ping   func(ctx context.Context) error
	pool   func() PoolSnapshot
	schema func(ctx context.Context) (SchemaState, error)
}

// HealthHandler serves /health/db: 200 when the database answers and the
// schema is current, 503 otherwise.
func HealthHandler(pool *pgxpool.Pool, migrator *Migrator) echo.HandlerFunc {
	return healthChecks{
		ping:   func(ctx context.Context) error { return pool.Ping(ctx) },
		pool:   func() PoolSnapshot { return snapshot(pool) },
		schema: migrator.Schema,
	}.handler()
}

func (hc healthChecks) handler() echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx, cancel := context.WithTimeout(c.Request().Context(), healthTimeout)
		defer cancel()

		report, ok := hc.check(ctx)
		if !ok {
			zerolog.Ctx(ctx).Warn().Str("status", report.Status).Str("error", report.Error).Msg("database health check failed")
			return c.JSON(http.StatusServiceUnavailable, report)
		}
		return c.JSON(http.StatusOK, report)
	}
}

func (hc healthChecks) check(ctx context.Context) (DBHealth, bool) {
	if err := hc.ping(ctx); err != nil {
		return DBHealth{Status: "unreachable", Error: err.Error()}, false
	}
	pool := hc.pool()
	report := DBHealth{Pool: &pool}

	schema, err := hc.schema(ctx)
	if err != nil {
		report.Status = "unhealthy"
		report.Error = fmt.Sprintf("read migration state: %v", err)
		return report, false
	}
	report.Schema = &schema
	if !schema.Current() {
		report.Status = "migrations pending"
		return report, false
	}
	report.Status = "healthy"
	return report, true
}
