package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/pgpavlides/3dprintwiki-sub000/internal/model"
)

// timeLayout is fixed width so that text comparison orders timestamps.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

func createTableSQL(t model.Table) string {
	var b strings.Builder
	fmt.Fprintf(&b, "CREATE TABLE IF NOT EXISTS %s (\n", t.Name)
	b.WriteString("  id TEXT PRIMARY KEY,\n")
	b.WriteString("  created_by TEXT NOT NULL DEFAULT '',\n")
	b.WriteString("  created_at TEXT NOT NULL,\n")
	b.WriteString("  updated_at TEXT NOT NULL")
	for _, c := range t.Columns {
		fmt.Fprintf(&b, ",\n  %s TEXT", c.Name)
		if !c.Nullable {
			b.WriteString(" NOT NULL")
		}
		if len(c.Enum) > 0 {
			quoted := make([]string, len(c.Enum))
			for i, v := range c.Enum {
				quoted[i] = "'" + v + "'"
			}
			fmt.Fprintf(&b, " CHECK (%s IN (%s))", c.Name, strings.Join(quoted, ", "))
		}
	}
	b.WriteString("\n)")
	return b.String()
}

// EnsureSchema creates every admin table and its created_at index.
func EnsureSchema(ctx context.Context, db *sql.DB) error {
	for _, name := range model.TableNames() {
		t, _ := model.LookupTable(name)
		if _, err := db.ExecContext(ctx, createTableSQL(t)); err != nil {
			return fmt.Errorf("create table %s: %w", name, err)
		}
		idx := fmt.Sprintf("CREATE INDEX IF NOT EXISTS idx_%s_created_at ON %s (created_at DESC, id DESC)", name, name)
		if _, err := db.ExecContext(ctx, idx); err != nil {
			return fmt.Errorf("create index %s: %w", name, err)
		}
	}
	return nil
}
