// Package migrations embeds the billing schema for both relational backends.
package migrations

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"sort"
	"strings"
)

//go:embed sqlite/*.sql postgres/*.sql
var schemaFS embed.FS

// RunSQLiteMigrations executes all SQLite migrations in order.
// Statements use IF NOT EXISTS, so running twice is harmless.
func RunSQLiteMigrations(ctx context.Context, db *sql.DB) error {
	files, err := upFiles("sqlite")
	if err != nil {
		return err
	}

	for _, file := range files {
		migration, err := schemaFS.ReadFile(file)
		if err != nil {
			return fmt.Errorf("failed to read migration %s: %w", file, err)
		}
		if _, err := db.ExecContext(ctx, string(migration)); err != nil {
			return fmt.Errorf("failed to execute migration %s: %w", file, err)
		}
	}

	return nil
}

// PostgresSchema returns the concatenated Postgres migrations, for operators
// applying them through their own tooling (the Supabase SQL editor, psql).
func PostgresSchema() (string, error) {
	files, err := upFiles("postgres")
	if err != nil {
		return "", err
	}

	var b strings.Builder
	for _, file := range files {
		migration, err := schemaFS.ReadFile(file)
		if err != nil {
			return "", fmt.Errorf("failed to read migration %s: %w", file, err)
		}
		b.Write(migration)
		b.WriteString("\n")
	}
	return b.String(), nil
}

func upFiles(dir string) ([]string, error) {
	entries, err := fs.ReadDir(schemaFS, dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read migrations directory: %w", err)
	}

	var files []string
	for _, entry := range entries {
		if strings.HasSuffix(entry.Name(), ".up.sql") {
			files = append(files, dir+"/"+entry.Name())
		}
	}
	sort.Strings(files)
	return files, nil
}
