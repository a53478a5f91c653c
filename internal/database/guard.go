package database

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	apierr "github.com/victorgomez09/suivi/internal/auth"
	"github.com/victorgomez09/suivi/internal/version"
)

// Versioned tables. Table and column names in guarded updates only come from this package.
const (
	tableIdentities = "identities"
	tableTasks      = "tasks"
	tableReports    = "reports"
)

var entityNames = map[string]string{
	tableIdentities: "identity",
	tableTasks:      "task",
	tableReports:    "report",
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

type assignment struct {
	column string
	value  any
}

func set(column string, value any) assignment {
	return assignment{column: column, value: value}
}

// updateVersioned is the only write path for versioned rows. It issues one conditional
// statement; zero affected rows means the version was stale or the row is gone, and
// nothing was changed.
func (s *Store) updateVersioned(ctx context.Context, ex execer, table string, id int64, expected version.Token, fields ...assignment) (version.Token, error) {
	if expected.IsZero() {
		return version.Token{}, apierr.Validation("version is required")
	}

	cols := make([]string, 0, len(fields)+2)
	args := make([]any, 0, len(fields)+3)
	for _, f := range fields {
		cols = append(cols, f.column+" = ?")
		args = append(args, f.value)
	}
	cols = append(cols, "updated_at = ?", "version = version + 1")
	args = append(args, millis(s.now()), id, int64(expected.Counter()))

	stmt := fmt.Sprintf("UPDATE %s SET %s WHERE id = ? AND version = ?", table, strings.Join(cols, ", "))
	res, err := ex.ExecContext(ctx, stmt, args...)
	if err != nil {
		return version.Token{}, mapErr(err, entityNames[table])
	}
	n, err := res.RowsAffected()
	if err != nil {
		return version.Token{}, apierr.Store(err)
	}
	if n == 0 {
		return version.Token{}, apierr.ErrConflict
	}
	return expected.Next(), nil
}
