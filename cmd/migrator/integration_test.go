//go:build integration

package main

import (
	"context"
	"log"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

// TestMigrationsAgainstRealPostgres applies the shipped schema to a real
// PostgreSQL instance.
// Run with: go test -tags=integration -timeout 120s -run TestMigrationsAgainstRealPostgres ./cmd/migrator/...
func TestMigrationsAgainstRealPostgres(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}

	ctx := context.Background()

	pgContainer, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("cms"),
		postgres.WithUsername("cms"),
		postgres.WithPassword("cms"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	if err != nil {
		t.Fatalf("failed to start postgres container: %v", err)
	}
	defer func() {
		if err := pgContainer.Terminate(ctx); err != nil {
			log.Printf("failed to terminate postgres container: %v", err)
		}
	}()

	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("failed to get connection string: %v", err)
	}

	pool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		t.Fatalf("failed to connect: %v", err)
	}
	defer pool.Close()

	// Copy the real schema into a temp dir so the test is cwd-independent.
	schema, err := os.ReadFile(filepath.Join("..", "..", "migrations", "001_init.sql"))
	if err != nil {
		t.Fatalf("failed to read schema: %v", err)
	}
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "001_init.sql"), schema, 0644); err != nil {
		t.Fatalf("failed to write migration: %v", err)
	}

	if err := runMigrations(ctx, pool, dir, nil, nil, log.Printf); err != nil {
		t.Fatalf("runMigrations failed: %v", err)
	}

	var exists bool
	err = pool.QueryRow(ctx, "SELECT EXISTS (SELECT 1 FROM schema_migrations WHERE filename='001_init.sql')").Scan(&exists)
	if err != nil || !exists {
		t.Fatalf("migration not recorded: exists=%v err=%v", exists, err)
	}

	// Exercise the schema end to end: a user, a page owned by the user, and
	// the FK between them.
	_, err = pool.Exec(ctx, `
		INSERT INTO users (id, external_subject_id, email, name, role, is_active, created_at)
		VALUES ('u-1', 'sub-1', 'author@example.com', 'Author', 'author', TRUE, now())
	`)
	if err != nil {
		t.Fatalf("users insert failed: %v", err)
	}
	_, err = pool.Exec(ctx, `
		INSERT INTO pages (id, title, slug, content, status, author_id, created_at, updated_at)
		VALUES ('p-1', 'Home', 'home', 'Welcome', 'draft', 'u-1', now(), now())
	`)
	if err != nil {
		t.Fatalf("pages insert failed: %v", err)
	}
	_, err = pool.Exec(ctx, `
		INSERT INTO pages (id, title, slug, content, status, author_id, created_at, updated_at)
		VALUES ('p-2', 'Orphan', 'orphan', '', 'draft', 'missing', now(), now())
	`)
	if err == nil {
		t.Fatal("pages author FK must reject unknown users")
	}

	// Second run is a no-op.
	if err := runMigrations(ctx, pool, dir, nil, nil, log.Printf); err != nil {
		t.Fatalf("second runMigrations failed: %v", err)
	}
}
