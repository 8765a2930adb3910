package backend

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/JonMunkholm/subimport/internal/core"
)

// fakeTx implements the parts of pgx.Tx the submitter uses.
type fakeTx struct {
	pgx.Tx
	statements []string
	fail       map[string]error // by email
	commitErr  error
	committed  bool
	rolledBack bool
}

func (f *fakeTx) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	sql = strings.TrimSpace(sql)
	if strings.HasPrefix(sql, "INSERT INTO subscribers") {
		f.statements = append(f.statements, "UPSERT "+args[0].(string))
		if err := f.fail[args[0].(string)]; err != nil {
			return pgconn.CommandTag{}, err
		}
		return pgconn.NewCommandTag("INSERT 0 1"), nil
	}
	f.statements = append(f.statements, sql)
	return pgconn.NewCommandTag(sql), nil
}

func (f *fakeTx) Commit(ctx context.Context) error {
	if f.commitErr != nil {
		return f.commitErr
	}
	f.committed = true
	return nil
}

func (f *fakeTx) Rollback(ctx context.Context) error {
	if !f.committed {
		f.rolledBack = true
	}
	return nil
}

type fakeDB struct {
	tx       *fakeTx
	beginErr error
}

func (d *fakeDB) Begin(ctx context.Context) (pgx.Tx, error) {
	if d.beginErr != nil {
		return nil, d.beginErr
	}
	return d.tx, nil
}

func TestPostgres_SavepointPerRow(t *testing.T) {
	tx := &fakeTx{fail: map[string]error{
		"b@x.com": &pgconn.PgError{Code: "23514", Message: "new row violates check constraint", Detail: "email too long"},
	}}
	p := NewPostgres(&fakeDB{tx: tx}, nil)

	outcomes, err := p.SubmitBatch(context.Background(), []core.Record{
		{RowIndex: 1, Email: "a@x.com"},
		{RowIndex: 2, Email: "b@x.com"},
		{RowIndex: 4, Email: "c@x.com", Tags: []string{"vip"}},
	})
	if err != nil {
		t.Fatalf("SubmitBatch() error = %v", err)
	}

	want := []core.RowOutcome{
		{RowIndex: 1, OK: true},
		{RowIndex: 2, Reason: "new row violates check constraint: email too long"},
		{RowIndex: 4, OK: true},
	}
	if diff := cmp.Diff(want, outcomes); diff != "" {
		t.Errorf("outcomes mismatch (-want +got):\n%s", diff)
	}

	wantStatements := []string{
		"SAVEPOINT sp_0", "UPSERT a@x.com", "RELEASE SAVEPOINT sp_0",
		"SAVEPOINT sp_1", "UPSERT b@x.com", "ROLLBACK TO SAVEPOINT sp_1",
		"SAVEPOINT sp_2", "UPSERT c@x.com", "RELEASE SAVEPOINT sp_2",
	}
	if diff := cmp.Diff(wantStatements, tx.statements); diff != "" {
		t.Errorf("statements mismatch (-want +got):\n%s", diff)
	}
	if !tx.committed {
		t.Error("transaction not committed")
	}
}

func TestPostgres_BatchFailures(t *testing.T) {
	recs := []core.Record{{RowIndex: 1, Email: "a@x.com"}}

	t.Run("begin", func(t *testing.T) {
		p := NewPostgres(&fakeDB{beginErr: errors.New("connection refused")}, nil)
		if _, err := p.SubmitBatch(context.Background(), recs); err == nil || !strings.Contains(err.Error(), "begin transaction") {
			t.Errorf("got %v, want begin error", err)
		}
	})

	t.Run("commit", func(t *testing.T) {
		tx := &fakeTx{commitErr: errors.New("connection reset")}
		p := NewPostgres(&fakeDB{tx: tx}, nil)
		if _, err := p.SubmitBatch(context.Background(), recs); err == nil || !strings.Contains(err.Error(), "commit") {
			t.Errorf("got %v, want commit error", err)
		}
		if !tx.rolledBack {
			t.Error("transaction not rolled back")
		}
	})

	t.Run("context done mid batch", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		tx := &fakeTx{fail: map[string]error{"a@x.com": context.Canceled}}
		p := NewPostgres(&fakeDB{tx: tx}, nil)
		if _, err := p.SubmitBatch(ctx, recs); !errors.Is(err, context.Canceled) {
			t.Errorf("got %v, want context.Canceled", err)
		}
	})
}

func TestEnsureSchema(t *testing.T) {
	tx := &fakeTx{}
	if err := EnsureSchema(context.Background(), tx); err != nil {
		t.Fatal(err)
	}
	if len(tx.statements) != 1 || !strings.HasPrefix(tx.statements[0], "CREATE TABLE IF NOT EXISTS subscribers") {
		t.Errorf("statements = %v", tx.statements)
	}
}

func TestRowReason(t *testing.T) {
	if got := rowReason(&pgconn.PgError{Message: "duplicate key"}); got != "duplicate key" {
		t.Errorf("rowReason(PgError) = %q", got)
	}
	if got := rowReason(errors.New("boom")); got != "upsert: boom" {
		t.Errorf("rowReason(other) = %q", got)
	}
}
