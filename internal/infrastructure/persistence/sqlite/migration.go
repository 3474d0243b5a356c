package sqlite

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"strings"
)

//go:embed schema.sql
var schemaSQL string

// SchemaVersion is the newest migration version
const SchemaVersion = 1

type migration struct {
	version     int
	description string
	script      string
}

var migrations = []migration{
	{version: 1, description: "workflow tables", script: schemaSQL},
}

// Migrator applies the embedded migrations in version order
type Migrator struct {
	db *sql.DB
}

func NewMigrator(db *sql.DB) *Migrator {
	return &Migrator{db: db}
}

// Migrate applies every migration newer than the recorded version, each in
// its own transaction.
func (m *Migrator) Migrate(ctx context.Context) error {
	if _, err := m.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
		version     INTEGER PRIMARY KEY,
		description TEXT,
		applied_at  DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`); err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}

	current, err := m.Version(ctx)
	if err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	for _, mg := range migrations {
		if mg.version <= current {
			continue
		}
		if err := m.apply(ctx, mg); err != nil {
			return fmt.Errorf("migration %d (%s): %w", mg.version, mg.description, err)
		}
	}
	return nil
}

func (m *Migrator) apply(ctx context.Context, mg migration) error {
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for i, stmt := range splitSQLStatements(mg.script) {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("statement %d: %w", i+1, err)
		}
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO schema_migrations (version, description) VALUES (?, ?)`,
		mg.version, mg.description,
	); err != nil {
		return err
	}
	return tx.Commit()
}

// Version returns the highest applied version, 0 on a fresh database
func (m *Migrator) Version(ctx context.Context) (int, error) {
	var version sql.NullInt64
	err := m.db.QueryRowContext(ctx, `SELECT MAX(version) FROM schema_migrations`).Scan(&version)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) || strings.Contains(err.Error(), "no such table") {
			return 0, nil
		}
		return 0, err
	}
	return int(version.Int64), nil
}

// splitSQLStatements drops "--" comment lines and splits on ';'
func splitSQLStatements(script string) []string {
	var b strings.Builder
	for _, line := range strings.Split(script, "\n") {
		if strings.HasPrefix(strings.TrimSpace(line), "--") {
			continue
		}
		b.WriteString(line)
		b.WriteByte('\n')
	}

	var stmts []string
	for _, part := range strings.Split(b.String(), ";") {
		if stmt := strings.TrimSpace(part); stmt != "" {
			stmts = append(stmts, stmt)
		}
	}
	return stmts
}
