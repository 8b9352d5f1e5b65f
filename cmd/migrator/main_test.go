package main

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

type fakeMigrationDB struct {
	applied map[string]bool
	execSQL []string
	txErr   error
	txs     []*fakeTx
}

func (f *fakeMigrationDB) Exec(_ context.Context, sql string, _ ...any) (pgconn.CommandTag, error) {
	f.execSQL = append(f.execSQL, sql)
	return pgconn.NewCommandTag("CREATE TABLE"), nil
}

func (f *fakeMigrationDB) QueryRow(_ context.Context, _ string, args ...any) pgx.Row {
	name, _ := args[0].(string)
	return existsRow{exists: f.applied[name]}
}

func (f *fakeMigrationDB) Begin(context.Context) (pgx.Tx, error) {
	tx := &fakeTx{execErr: f.txErr}
	f.txs = append(f.txs, tx)
	return tx, nil
}

type existsRow struct{ exists bool }

func (r existsRow) Scan(dest ...any) error {
	if b, ok := dest[0].(*bool); ok {
		*b = r.exists
		return nil
	}
	return errors.New("unexpected scan destination")
}

type fakeTx struct {
	sql        []string
	execErr    error
	committed  bool
	rolledBack bool
}

func (t *fakeTx) Begin(context.Context) (pgx.Tx, error) { return t, nil }
func (t *fakeTx) Commit(context.Context) error          { t.committed = true; return nil }
func (t *fakeTx) Rollback(context.Context) error        { t.rolledBack = true; return nil }
func (t *fakeTx) CopyFrom(context.Context, pgx.Identifier, []string, pgx.CopyFromSource) (int64, error) {
	return 0, errors.New("not supported")
}
func (t *fakeTx) SendBatch(context.Context, *pgx.Batch) pgx.BatchResults { return nil }
func (t *fakeTx) LargeObjects() pgx.LargeObjects                         { return pgx.LargeObjects{} }
func (t *fakeTx) Prepare(context.Context, string, string) (*pgconn.StatementDescription, error) {
	return nil, errors.New("not supported")
}
func (t *fakeTx) Exec(_ context.Context, sql string, _ ...any) (pgconn.CommandTag, error) {
	if t.execErr != nil {
		return pgconn.CommandTag{}, t.execErr
	}
	t.sql = append(t.sql, sql)
	return pgconn.NewCommandTag("CREATE TABLE"), nil
}
func (t *fakeTx) Query(context.Context, string, ...any) (pgx.Rows, error) {
	return nil, errors.New("not supported")
}
func (t *fakeTx) QueryRow(context.Context, string, ...any) pgx.Row { return existsRow{} }
func (t *fakeTx) Conn() *pgx.Conn                                  { return nil }

func TestValidateMigrationPath(t *testing.T) {
	if _, err := validateMigrationPath("migrations", "migrations/001_init.sql"); err != nil {
		t.Fatalf("in-dir path rejected: %v", err)
	}
	if _, err := validateMigrationPath("migrations", "migrations/../secrets.sql"); err == nil {
		t.Fatal("traversal path must be rejected")
	}
	if _, err := validateMigrationPath("migrations", "/etc/passwd"); err == nil {
		t.Fatal("absolute outside path must be rejected")
	}
}

func TestRunMigrationsAppliesPendingInOrder(t *testing.T) {
	db := &fakeMigrationDB{applied: map[string]bool{"001_init.sql": true}}
	files := []string{"migrations/002_two.sql", "migrations/001_init.sql"}
	contents := map[string]string{
		"migrations/002_two.sql": "CREATE TABLE two (id TEXT)",
	}
	var logged []string

	err := runMigrations(context.Background(), db, "migrations",
		func(name string) ([]byte, error) { return []byte(contents[name]), nil },
		func(string) ([]string, error) { return files, nil },
		func(format string, args ...any) { logged = append(logged, format) },
	)
	if err != nil {
		t.Fatalf("runMigrations: %v", err)
	}
	if len(db.execSQL) != 1 || !strings.Contains(db.execSQL[0], "schema_migrations") {
		t.Fatalf("expected only the bookkeeping table outside tx: %v", db.execSQL)
	}
	if len(db.txs) != 1 {
		t.Fatalf("already-applied files must be skipped, got %d txs", len(db.txs))
	}
	tx := db.txs[0]
	if !tx.committed || tx.rolledBack {
		t.Fatalf("tx state committed=%v rolledBack=%v", tx.committed, tx.rolledBack)
	}
	if len(tx.sql) != 2 || !strings.Contains(tx.sql[0], "CREATE TABLE two") || !strings.Contains(tx.sql[1], "INSERT INTO schema_migrations") {
		t.Fatalf("unexpected tx statements %v", tx.sql)
	}
}

func TestRunMigrationsRollsBackOnFailure(t *testing.T) {
	db := &fakeMigrationDB{applied: map[string]bool{}, txErr: errors.New("syntax error")}
	err := runMigrations(context.Background(), db, "migrations",
		func(string) ([]byte, error) { return []byte("BROKEN SQL"), nil },
		func(string) ([]string, error) { return []string{"migrations/001_init.sql"}, nil },
		nil,
	)
	if err == nil || !strings.Contains(err.Error(), "apply migration") {
		t.Fatalf("expected apply failure, got %v", err)
	}
	if len(db.txs) != 1 || !db.txs[0].rolledBack || db.txs[0].committed {
		t.Fatal("failed migration must roll back its transaction")
	}
}

func TestRunMigrationsRejectsEscapingPath(t *testing.T) {
	db := &fakeMigrationDB{applied: map[string]bool{}}
	err := runMigrations(context.Background(), db, "migrations",
		func(string) ([]byte, error) { return nil, errors.New("must not be read") },
		func(string) ([]string, error) { return []string{"migrations/../evil.sql"}, nil },
		nil,
	)
	if err == nil || !strings.Contains(err.Error(), "invalid migration path") {
		t.Fatalf("expected path validation failure, got %v", err)
	}
}
