package backend

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/JonMunkholm/subimport/internal/core"
)

// TxBeginner is satisfied by *pgxpool.Pool and *pgx.Conn.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Execer runs a statement without returning rows.
type Execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

const schemaSQL = `
CREATE TABLE IF NOT EXISTS subscribers (
	email      text PRIMARY KEY,
	first_name text NOT NULL DEFAULT '',
	last_name  text NOT NULL DEFAULT '',
	tags       text[] NOT NULL DEFAULT '{}',
	created_at timestamptz NOT NULL DEFAULT now(),
	updated_at timestamptz NOT NULL DEFAULT now()
)`

// Unmapped optional fields arrive empty and must not clear stored values.
const upsertSQL = `
INSERT INTO subscribers (email, first_name, last_name, tags)
VALUES ($1, $2, $3, COALESCE($4::text[], '{}'))
ON CONFLICT (email) DO UPDATE SET
	first_name = COALESCE(NULLIF(EXCLUDED.first_name, ''), subscribers.first_name),
	last_name  = COALESCE(NULLIF(EXCLUDED.last_name, ''), subscribers.last_name),
	tags       = CASE WHEN $4::text[] IS NULL THEN subscribers.tags ELSE EXCLUDED.tags END,
	updated_at = now()`

// Postgres upserts subscribers into the subscribers table. Each batch is
// one transaction with a savepoint per row, so a bad row fails alone.
type Postgres struct {
	db     TxBeginner
	logger *slog.Logger
}

// NewPostgres returns a Postgres submitter.
func NewPostgres(db TxBeginner, logger *slog.Logger) *Postgres {
	if logger == nil {
		logger = slog.Default()
	}
	return &Postgres{db: db, logger: logger}
}

// EnsureSchema creates the subscribers table if it does not exist.
func EnsureSchema(ctx context.Context, db Execer) error {
	if _, err := db.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("create subscribers table: %w", err)
	}
	return nil
}

// SubmitBatch implements core.BatchSubmitter. Failures to begin or commit
// fail the whole batch; the upsert is idempotent so it is safe to retry.
func (p *Postgres) SubmitBatch(ctx context.Context, records []core.Record) ([]core.RowOutcome, error) {
	tx, err := p.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	outcomes := make([]core.RowOutcome, 0, len(records))
	for i, rec := range records {
		savepoint := fmt.Sprintf("sp_%d", i)
		if _, err := tx.Exec(ctx, "SAVEPOINT "+savepoint); err != nil {
			return nil, fmt.Errorf("create savepoint: %w", err)
		}

		_, err := tx.Exec(ctx, upsertSQL, rec.Email, rec.FirstName, rec.LastName, rec.Tags)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			_, _ = tx.Exec(ctx, "ROLLBACK TO SAVEPOINT "+savepoint)
			outcomes = append(outcomes, core.RowOutcome{RowIndex: rec.RowIndex, Reason: rowReason(err)})
			continue
		}

		_, _ = tx.Exec(ctx, "RELEASE SAVEPOINT "+savepoint)
		outcomes = append(outcomes, core.RowOutcome{RowIndex: rec.RowIndex, OK: true})
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	p.logger.Debug("batch committed", "records", len(records))
	return outcomes, nil
}

// rowReason keeps the server message of a Postgres error and drops the
// driver's prefix.
func rowReason(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		if pgErr.Detail != "" {
			return fmt.Sprintf("%s: %s", pgErr.Message, pgErr.Detail)
		}
		return pgErr.Message
	}
	return fmt.Sprintf("upsert: %v", err)
}
