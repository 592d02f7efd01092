package idgen

import (
	"strings"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewUsesPrefixAndIsUnique(t *testing.T) {
	seen := map[string]struct{}{}
	for i := 0; i < 1000; i++ {
		id := New(PrefixPayment)
		assert.True(t, strings.HasPrefix(id, PrefixPayment))
		assert.Len(t, id, len(PrefixPayment)+32)
		_, dup := seen[id]
		require.False(t, dup, "duplicate id %s", id)
		seen[id] = struct{}{}
	}
}

func TestNewInvoiceNumber(t *testing.T) {
	now := time.Date(2025, 6, 10, 10, 0, 0, 0, time.UTC)
	a := NewInvoiceNumber(now)
	b := NewInvoiceNumber(now.Add(time.Second))
	assert.True(t, strings.HasPrefix(a, PrefixInvoiceNumber))
	assert.Less(t, a, b)
	assert.True(t, HasPrefix(a, PrefixInvoiceNumber))
	assert.False(t, HasPrefix(PrefixInvoice, PrefixInvoice))
}

func TestSequencerIsMonotonic(t *testing.T) {
	node, err := snowflake.NewNode(3)
	require.NoError(t, err)
	seq := NewSequencer(node)

	prev := seq.Next()
	for i := 0; i < 100; i++ {
		next := seq.Next()
		assert.Greater(t, next, prev)
		prev = next
	}
}
