package sqlbackend

import (
	"bufio"
	"context"
	_ "embed"
	"fmt"
	"io"
	"strings"

	"github.com/jmoiron/sqlx"
)

//go:embed schema.sql
var schemaSQL string

// Migrate creates the tables on a SQLite database. MySQL databases are set up with
// scripts/database.sql through the migration command.
func Migrate(ctx context.Context, db *sqlx.DB) error {
	return ExecScript(ctx, db, strings.NewReader(schemaSQL))
}

// ExecScript executes the statements of an SQL script one after another. A statement ends on the
// line that contains a ';'.
func ExecScript(ctx context.Context, db *sqlx.DB, script io.Reader) error {
	scanner := bufio.NewScanner(script)
	scanner.Split(bufio.ScanLines)
	builder := strings.Builder{}
	for scanner.Scan() {
		line := scanner.Text()
		builder.WriteString(line)
		builder.WriteString(" ")
		if strings.Contains(line, ";") {
			statement := builder.String()
			if _, err := db.ExecContext(ctx, statement); err != nil {
				return fmt.Errorf("execute %q: %w", strings.TrimSpace(statement), err)
			}
			builder = strings.Builder{}
		}
	}
	return scanner.Err()
}
