// Package conversation implements the per-session conversation table.
package conversation

import (
	"sync"
	"sync/atomic"

	"firestige.xyz/ibdissect/internal/metrics"
	"firestige.xyz/ibdissect/pkg/plugin"
)

// Table stores conversation records keyed by (address, queue pair).
// Connection management writes it; payload dispatch reads it. It is safe for
// concurrent use.
type Table struct {
	data   sync.Map // map[plugin.ConversationKey]*plugin.ConversationRecord
	nextID atomic.Uint64
	size   atomic.Int64
}

// NewTable creates an empty table.
func NewTable() *Table {
	return &Table{}
}

// Lookup returns the record registered under key.
func (t *Table) Lookup(key plugin.ConversationKey) (*plugin.ConversationRecord, bool) {
	v, ok := t.data.Load(key)
	if !ok {
		return nil, false
	}
	return v.(*plugin.ConversationRecord), true
}

// Create stores rec under key, assigning it a conversation id, and returns the
// stored record. An existing record is replaced but keeps its id so that
// reassembly state keyed by id stays attached.
func (t *Table) Create(key plugin.ConversationKey, rec plugin.ConversationRecord) *plugin.ConversationRecord {
	stored := &rec
	if prev, ok := t.Lookup(key); ok {
		stored.ID = prev.ID
		t.data.Store(key, stored)
		return stored
	}
	stored.ID = t.nextID.Add(1)
	if _, loaded := t.data.LoadOrStore(key, stored); loaded {
		t.data.Store(key, stored)
		return stored
	}
	t.size.Add(1)
	metrics.ConversationsActive.Inc()
	return stored
}

// Delete removes the record registered under key.
func (t *Table) Delete(key plugin.ConversationKey) {
	if _, loaded := t.data.LoadAndDelete(key); loaded {
		t.size.Add(-1)
		metrics.ConversationsActive.Dec()
	}
}

// Range iterates over all conversations.
// f should return true to continue iteration or false to stop.
func (t *Table) Range(f func(key plugin.ConversationKey, rec *plugin.ConversationRecord) bool) {
	t.data.Range(func(k, v any) bool {
		return f(k.(plugin.ConversationKey), v.(*plugin.ConversationRecord))
	})
}

// Count returns the number of conversations.
func (t *Table) Count() int {
	return int(t.size.Load())
}

// Clear removes all conversations. Used at session end.
func (t *Table) Clear() {
	t.data.Range(func(key, _ any) bool {
		t.Delete(key.(plugin.ConversationKey))
		return true
	})
}

var _ plugin.ConversationTable = (*Table)(nil)
