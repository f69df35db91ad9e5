package mirror

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/10d3/nexora/internal/record"
	"github.com/10d3/nexora/internal/schema"
)

func TestGet_MissIsNotAnError(t *testing.T) {
	s := createTestStore(t)
	_, found, err := s.Get(bg, schema.KindCustomerProfile, "nope")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestQueryByTenant_IsolatesTenants(t *testing.T) {
	s := createTestStore(t)
	require.NoError(t, s.BulkPut(bg, schema.KindCustomerProfile, []record.Record{
		customer("a1", "t1", "Ada", "Lovelace"),
		customer("b1", "t2", "Grace", "Hopper"),
		customer("a2", "t1", "Alan", "Turing"),
	}))

	got, err := s.QueryByTenant(bg, schema.KindCustomerProfile, "t1")
	require.NoError(t, err)
	for _, r := range got {
		assert.Equal(t, "t1", r.TenantID)
	}
	assert.Len(t, got, 2)

	none, err := s.QueryByTenant(bg, schema.KindCustomerProfile, "t3")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestQueryByTenant_CustomersSortedByLastThenFirstName(t *testing.T) {
	s := createTestStore(t)
	require.NoError(t, s.BulkPut(bg, schema.KindCustomerProfile, []record.Record{
		customer("c1", "t1", "Alan", "Turing"),
		customer("c2", "t1", "Grace", "Hopper"),
		customer("c3", "t1", "Ada", "Lovelace"),
		customer("c4", "t1", "Betty", "Hopper"),
	}))

	got, err := s.QueryByTenant(bg, schema.KindCustomerProfile, "t1")
	require.NoError(t, err)
	assert.Equal(t, []string{"c4", "c2", "c3", "c1"}, ids(got))
}

func TestQueryIndex_ProductsByCategory(t *testing.T) {
	s := createTestStore(t)
	require.NoError(t, s.BulkPut(bg, schema.KindProduct, []record.Record{
		product("p1", "t1", "Tea", "drinks", 300),
		product("p2", "t1", "Scone", "food", 450),
		product("p3", "t1", "Coffee", "drinks", 350),
	}))

	got, err := s.QueryIndex(bg, schema.KindProduct, IndexQuery{Index: "category", Equal: []any{"drinks"}})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"p1", "p3"}, ids(got))
}

func TestQueryIndex_RecentOrders(t *testing.T) {
	s := createTestStore(t)
	base := time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)
	require.NoError(t, s.BulkPut(bg, schema.KindOrder, []record.Record{
		order("o1", "t1", "paid", base),
		order("o2", "t1", "paid", base.Add(2*time.Hour)),
		order("o3", "t1", "open", base.Add(3*time.Hour)),
		order("o4", "t1", "paid", base.Add(90*time.Minute)),
		order("o5", "t2", "paid", base.Add(5*time.Hour)),
	}))

	got, err := s.QueryIndex(bg, schema.KindOrder, IndexQuery{
		Index:      "recent",
		Equal:      []any{"t1", "paid"},
		Descending: true,
		Limit:      2,
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"o2", "o4"}, ids(got))
}

func TestQueryIndex_SubsecondTimestampsSortChronologically(t *testing.T) {
	s := createTestStore(t)
	base := time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)
	require.NoError(t, s.BulkPut(bg, schema.KindOrder, []record.Record{
		order("o1", "t1", "paid", base),
		order("o2", "t1", "paid", base.Add(500*time.Millisecond)),
	}))

	got, err := s.QueryIndex(bg, schema.KindOrder, IndexQuery{Index: "recent", Equal: []any{"t1", "paid"}})
	require.NoError(t, err)
	assert.Equal(t, []string{"o1", "o2"}, ids(got))
}

func TestQueryIndex_Errors(t *testing.T) {
	s := createTestStore(t)

	_, err := s.QueryIndex(bg, schema.KindProduct, IndexQuery{Index: "missing"})
	assert.True(t, HasCode(err, CodeInvalidQuery))

	_, err = s.QueryIndex(bg, schema.KindProduct, IndexQuery{Index: "category", Equal: []any{"a", "b"}})
	assert.True(t, HasCode(err, CodeInvalidQuery))
}
