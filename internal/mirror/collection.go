package mirror

import (
	"fmt"
	"strings"

	"github.com/10d3/nexora/internal/record"
	"github.com/10d3/nexora/internal/schema"
)

func tableName(kind schema.Kind) string {
	return "mirror_" + string(kind)
}

// columnExpr maps a record JSON key to the SQL expression that reads it.
// Field names are validated by the registry at compile time.
func columnExpr(field string) string {
	switch field {
	case record.KeyID:
		return "id"
	case record.KeyTenantID:
		return "tenant_id"
	case record.KeyCreatedAt:
		return "created_at"
	case record.KeyUpdatedAt:
		return "updated_at"
	case record.KeyDeletedAt:
		return "deleted_at"
	default:
		return fmt.Sprintf("json_extract(data, '$.%s')", field)
	}
}

func collectionDDL(coll *schema.Collection) []string {
	table := tableName(coll.Kind)
	stmts := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
    id TEXT PRIMARY KEY,
    tenant_id TEXT NOT NULL DEFAULT '',
    data TEXT NOT NULL,
    created_at TEXT,
    updated_at TEXT,
    deleted_at TEXT
)`, table),
		fmt.Sprintf("CREATE INDEX IF NOT EXISTS idx_%s_tenant ON %s(tenant_id)", table, table),
	}
	for _, idx := range coll.Indices {
		cols := make([]string, len(idx.Fields))
		for i, f := range idx.Fields {
			cols[i] = columnExpr(f)
		}
		stmts = append(stmts, fmt.Sprintf("CREATE INDEX IF NOT EXISTS idx_%s_%s ON %s(%s)",
			table, idx.Name, table, strings.Join(cols, ", ")))
	}
	return stmts
}

// orderBy renders the natural ordering of a collection: its sort key, then
// id as the tiebreaker.
func orderBy(fields []string, descending bool) string {
	dir := ""
	if descending {
		dir = " DESC"
	}
	parts := make([]string, 0, len(fields)+1)
	for _, f := range fields {
		parts = append(parts, columnExpr(f)+dir)
	}
	parts = append(parts, "id"+dir)
	return "ORDER BY " + strings.Join(parts, ", ")
}
