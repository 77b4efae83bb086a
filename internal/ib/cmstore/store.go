// Package cmstore tracks connection-management exchanges across packets.
package cmstore

import (
	"encoding/binary"

	"github.com/cespare/xxhash/v2"

	"firestige.xyz/ibdissect/internal/core"
	"firestige.xyz/ibdissect/internal/metrics"
)

// Record is one in-flight or established connection-management exchange.
type Record struct {
	RequesterAddr core.Address
	ResponderAddr core.Address
	RequesterLID  uint16
	ResponderLID  uint16
	RequesterQP   uint32 // 24 bits
	ResponderQP   uint32 // 24 bits, zero until the reply is seen
	ServiceID     uint64
}

// Key folds a transaction id and an endpoint address into the table key.
// The transaction id is folded first.
func Key(txid uint64, addr core.Address) uint64 {
	var b [8 + 1 + 16]byte
	binary.BigEndian.PutUint64(b[:8], txid)
	b[8] = byte(addr.Type)
	copy(b[9:], addr.Bytes[:])
	return xxhash.Sum64(b[:])
}

// Store is the session-scoped connection context table. It performs no
// locking: the host feeds packets from one capture in order, one at a time.
type Store struct {
	records map[uint64]Record
	closed  bool
}

// New creates an initialized store. Call Close at session end.
func New() *Store {
	return &Store{records: make(map[uint64]Record)}
}

// Lookup returns the record for (txid, addr).
func (s *Store) Lookup(txid uint64, addr core.Address) (Record, bool) {
	if s == nil || s.closed {
		return Record{}, false
	}
	r, ok := s.records[Key(txid, addr)]
	return r, ok
}

// Insert stores rec under (txid, addr), replacing any previous record.
func (s *Store) Insert(txid uint64, addr core.Address, rec Record) error {
	if s == nil || s.closed {
		return core.ErrStoreClosed
	}
	k := Key(txid, addr)
	if _, exists := s.records[k]; !exists {
		metrics.ConnectionContexts.Inc()
	}
	s.records[k] = rec
	return nil
}

// Remove deletes the record for (txid, addr). Removing a missing key is a no-op.
func (s *Store) Remove(txid uint64, addr core.Address) {
	if s == nil || s.closed {
		return
	}
	k := Key(txid, addr)
	if _, exists := s.records[k]; exists {
		delete(s.records, k)
		metrics.ConnectionContexts.Dec()
	}
}

// Len returns the number of live records.
func (s *Store) Len() int {
	if s == nil {
		return 0
	}
	return len(s.records)
}

// Close drops all records. Later inserts fail with core.ErrStoreClosed.
func (s *Store) Close() {
	if s == nil {
		return
	}
	metrics.ConnectionContexts.Sub(float64(len(s.records)))
	s.records = nil
	s.closed = true
}
