// Package reassembly rebuilds multi-packet Send messages from PSN-ordered
// fragments.
package reassembly

import (
	"container/list"
	"context"
	"fmt"
	"sync"
	"time"

	"firestige.xyz/ibdissect/internal/core"
	"firestige.xyz/ibdissect/internal/metrics"
	"firestige.xyz/ibdissect/pkg/plugin"
)

const (
	psnBits = 24
	psnMask = 1<<psnBits - 1

	defaultMaxFragments   = 64
	defaultMaxMessageSize = 1 << 20
	defaultTimeout        = 60 * time.Second
)

// Config contains configuration for Send reassembly.
type Config struct {
	MaxFragments   int           `mapstructure:"max_fragments"`    // fragments per message
	MaxMessageSize int           `mapstructure:"max_message_size"` // bytes per reassembled message
	Timeout        time.Duration `mapstructure:"timeout"`          // idle time before a partial message is dropped
}

// fragment is one packet's payload and its position relative to the lowest
// PSN seen for the message.
type fragment struct {
	seq     int
	payload []byte
}

// message keeps fragments sorted by seq. On a duplicate PSN the earlier copy
// is kept.
type message struct {
	list     list.List // of *fragment, ascending seq
	base     uint32    // PSN of seq 0
	size     int
	last     int // seq of the final fragment, -1 until seen
	lastSeen time.Time
}

// Reassembler tracks partial Send messages per conversation id.
type Reassembler struct {
	mu       sync.Mutex
	messages map[uint64]*message
	config   Config
}

// New creates a reassembler. Zero config fields take defaults.
func New(cfg Config) *Reassembler {
	if cfg.MaxFragments <= 0 {
		cfg.MaxFragments = defaultMaxFragments
	}
	if cfg.MaxMessageSize <= 0 {
		cfg.MaxMessageSize = defaultMaxMessageSize
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	return &Reassembler{
		messages: make(map[uint64]*message),
		config:   cfg,
	}
}

// Add stores a fragment of conversation id's current message.
// Returns:
//   - message not complete: (nil, false, nil)
//   - message complete: (payload, true, nil); the state for id is released
//   - limits exceeded: (nil, false, err wrapping core.ErrReassemblyLimit);
//     the partial message is dropped
func (r *Reassembler) Add(id uint64, psn uint32, data []byte, more bool, ts time.Time) ([]byte, bool, error) {
	psn &= psnMask

	r.mu.Lock()
	defer r.mu.Unlock()

	m, exists := r.messages[id]
	if !exists {
		m = &message{base: psn, last: -1}
		r.messages[id] = m
		metrics.ReassemblyActiveMessages.Inc()
	}

	if m.list.Len() >= r.config.MaxFragments {
		r.evict(id)
		return nil, false, fmt.Errorf("conversation %d: more than %d fragments: %w",
			id, r.config.MaxFragments, core.ErrReassemblyLimit)
	}
	if m.size+len(data) > r.config.MaxMessageSize {
		r.evict(id)
		return nil, false, fmt.Errorf("conversation %d: message exceeds %d bytes: %w",
			id, r.config.MaxMessageSize, core.ErrReassemblyLimit)
	}

	m.lastSeen = ts
	seq := distance(m.base, psn)
	if seq < 0 {
		m.rebase(psn, -seq)
		seq = 0
	}

	payload := make([]byte, len(data))
	copy(payload, data)
	if m.insert(&fragment{seq: seq, payload: payload}) {
		m.size += len(payload)
	}
	if !more {
		m.last = seq
	}

	if !m.complete() {
		return nil, false, nil
	}
	out := m.build()
	r.evict(id)
	return out, true, nil
}

// Discard drops any partial message for id.
func (r *Reassembler) Discard(id uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.evict(id)
}

// Pending returns the number of partial messages.
func (r *Reassembler) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.messages)
}

// Sweep drops partial messages idle for longer than the timeout and returns
// how many were dropped.
func (r *Reassembler) Sweep(now time.Time) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	expired := 0
	for id, m := range r.messages {
		if now.Sub(m.lastSeen) > r.config.Timeout {
			delete(r.messages, id)
			expired++
		}
	}
	if expired > 0 {
		metrics.ReassemblyActiveMessages.Sub(float64(expired))
	}
	return expired
}

// Run sweeps on a ticker until ctx is done.
func (r *Reassembler) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			r.Sweep(now)
		}
	}
}

// evict must be called with r.mu held.
func (r *Reassembler) evict(id uint64) {
	if _, exists := r.messages[id]; exists {
		delete(r.messages, id)
		metrics.ReassemblyActiveMessages.Dec()
	}
}

// distance is the signed 24-bit serial-number difference psn - base.
func distance(base, psn uint32) int {
	d := int32((psn-base)&psnMask) << (32 - psnBits) >> (32 - psnBits)
	return int(d)
}

// rebase moves seq 0 to psn, shifting existing fragments by shift.
func (m *message) rebase(psn uint32, shift int) {
	m.base = psn
	for e := m.list.Front(); e != nil; e = e.Next() {
		e.Value.(*fragment).seq += shift
	}
	if m.last >= 0 {
		m.last += shift
	}
}

// insert places f in seq order. It returns false when f duplicates an
// existing fragment, which is kept.
func (m *message) insert(f *fragment) bool {
	for e := m.list.Front(); e != nil; e = e.Next() {
		existing := e.Value.(*fragment)
		if existing.seq == f.seq {
			return false
		}
		if existing.seq > f.seq {
			m.list.InsertBefore(f, e)
			return true
		}
	}
	m.list.PushBack(f)
	return true
}

// complete reports whether seq 0..last are all present.
func (m *message) complete() bool {
	if m.last < 0 || m.list.Len() < m.last+1 {
		return false
	}
	want := 0
	for e := m.list.Front(); e != nil && want <= m.last; e = e.Next() {
		if e.Value.(*fragment).seq != want {
			return false
		}
		want++
	}
	return want == m.last+1
}

func (m *message) build() []byte {
	out := make([]byte, 0, m.size)
	for e := m.list.Front(); e != nil; e = e.Next() {
		f := e.Value.(*fragment)
		if f.seq > m.last {
			break
		}
		out = append(out, f.payload...)
	}
	return out
}

var _ plugin.Reassembler = (*Reassembler)(nil)
