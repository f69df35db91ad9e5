package mirror

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/10d3/nexora/internal/record"
	"github.com/10d3/nexora/internal/schema"
)

// createTestStore opens a mirror in a temp directory and closes it when the
// test ends.
func createTestStore(t *testing.T, opts ...Option) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "mirror.db"), schema.MustDefault(), opts...)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func customer(id, tenant, first, last string) record.Record {
	return record.Record{
		ID:       id,
		TenantID: tenant,
		Attrs: record.Object{
			"firstName": record.String(first),
			"lastName":  record.String(last),
		},
	}
}

func product(id, tenant, name, category string, cents int64) record.Record {
	return record.Record{
		ID:       id,
		TenantID: tenant,
		Attrs: record.Object{
			"name":       record.String(name),
			"categoryId": record.String(category),
			"priceCents": record.Int(cents),
		},
	}
}

func order(id, tenant, status string, created time.Time) record.Record {
	return record.Record{
		ID:        id,
		TenantID:  tenant,
		CreatedAt: &created,
		Attrs:     record.Object{"status": record.String(status)},
	}
}

func ids(recs []record.Record) []string {
	out := make([]string, len(recs))
	for i, r := range recs {
		out[i] = r.ID
	}
	return out
}

var bg = context.Background()
