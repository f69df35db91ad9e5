package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOp_String(t *testing.T) {
	assert.Equal(t, "create_customer", NewOp(VerbCreate, "customer").String())
	assert.Equal(t, "fetch_order_item", NewOp(VerbFetch, "order_item").String())
}

func TestParseOp(t *testing.T) {
	op, err := ParseOp("create_order_item")
	require.NoError(t, err)
	assert.Equal(t, VerbCreate, op.Verb)
	assert.Equal(t, "order_item", op.Entity)
	assert.False(t, op.IsRead())

	op, err = ParseOp("fetch_customer")
	require.NoError(t, err)
	assert.True(t, op.IsRead())

	for _, bad := range []string{"", "create", "archive_customer", "create_", "create_Customer"} {
		_, err := ParseOp(bad)
		assert.True(t, HasCode(err, ErrCodeInvalidOperation), "input %q", bad)
	}
}

func TestVerb_IsRead(t *testing.T) {
	assert.True(t, VerbFetch.IsRead())
	assert.True(t, VerbGet.IsRead())
	assert.False(t, VerbCreate.IsRead())
	assert.False(t, VerbUpdate.IsRead())
	assert.False(t, VerbDelete.IsRead())
}
