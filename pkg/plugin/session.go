package plugin

import (
	"time"

	"firestige.xyz/ibdissect/internal/core"
)

// ConversationKey identifies the destination endpoint of a queue pair flow.
type ConversationKey struct {
	Addr core.Address
	QP   uint32
}

// ConversationRecord is the per-flow state registered by connection
// management and consumed by payload dispatch.
type ConversationRecord struct {
	ID             uint64
	ServiceID      uint64
	ClientToServer bool
	SourceQP       uint32
	PrivateData    []byte
	// Reassembling is set while a multi-packet Send message is in progress.
	Reassembling bool
}

// ConversationTable stores conversation records for a capture session.
type ConversationTable interface {
	Lookup(key ConversationKey) (*ConversationRecord, bool)
	// Create registers rec under key and returns the stored record. An
	// existing record is replaced.
	Create(key ConversationKey, rec ConversationRecord) *ConversationRecord
	Delete(key ConversationKey)
}

// Reassembler accumulates fragments of an application message.
type Reassembler interface {
	// Add stores a fragment for conversation id. It returns the complete
	// message and true once the final fragment (more=false) closes a gap-free
	// sequence; otherwise (nil, false, nil) means wait for more data.
	Add(id uint64, psn uint32, data []byte, more bool, ts time.Time) ([]byte, bool, error)
	// Discard drops any partial message held for id.
	Discard(id uint64)
}
