package conversation

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"firestige.xyz/ibdissect/internal/core"
	"firestige.xyz/ibdissect/pkg/plugin"
)

func key(lid uint16, qp uint32) plugin.ConversationKey {
	return plugin.ConversationKey{Addr: core.LIDAddress(lid), QP: qp}
}

func TestTableCreateLookupDelete(t *testing.T) {
	tbl := NewTable()

	_, ok := tbl.Lookup(key(1, 0x11))
	assert.False(t, ok)

	rec := tbl.Create(key(1, 0x11), plugin.ConversationRecord{ServiceID: 0xAB, SourceQP: 0x22})
	require.NotNil(t, rec)
	assert.NotZero(t, rec.ID)

	got, ok := tbl.Lookup(key(1, 0x11))
	require.True(t, ok)
	assert.Same(t, rec, got)
	assert.Equal(t, uint64(0xAB), got.ServiceID)
	assert.Equal(t, 1, tbl.Count())

	tbl.Delete(key(1, 0x11))
	_, ok = tbl.Lookup(key(1, 0x11))
	assert.False(t, ok)
	assert.Equal(t, 0, tbl.Count())

	tbl.Delete(key(1, 0x11))
	assert.Equal(t, 0, tbl.Count())
}

func TestTableReplaceKeepsID(t *testing.T) {
	tbl := NewTable()
	first := tbl.Create(key(2, 5), plugin.ConversationRecord{SourceQP: 1})
	second := tbl.Create(key(2, 5), plugin.ConversationRecord{SourceQP: 2})

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, 1, tbl.Count())
	got, _ := tbl.Lookup(key(2, 5))
	assert.Equal(t, uint32(2), got.SourceQP)
}

func TestTableDistinctIDs(t *testing.T) {
	tbl := NewTable()
	a := tbl.Create(key(1, 1), plugin.ConversationRecord{})
	b := tbl.Create(key(1, 2), plugin.ConversationRecord{})
	c := tbl.Create(plugin.ConversationKey{QP: 1}, plugin.ConversationRecord{})
	assert.NotEqual(t, a.ID, b.ID)
	assert.NotEqual(t, b.ID, c.ID)
}

func TestTableRangeAndClear(t *testing.T) {
	tbl := NewTable()
	for i := uint32(0); i < 5; i++ {
		tbl.Create(key(3, i), plugin.ConversationRecord{SourceQP: i})
	}

	seen := 0
	tbl.Range(func(_ plugin.ConversationKey, _ *plugin.ConversationRecord) bool {
		seen++
		return seen < 3
	})
	assert.Equal(t, 3, seen)

	tbl.Clear()
	assert.Equal(t, 0, tbl.Count())
}

func TestTableConcurrent(t *testing.T) {
	tbl := NewTable()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				k := key(uint16(i), uint32(j))
				tbl.Create(k, plugin.ConversationRecord{})
				tbl.Lookup(k)
			}
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 800, tbl.Count())
}
