package plugin

import "firestige.xyz/ibdissect/internal/core"

// PayloadContext is what a next-stage decoder may know about the packet
// whose payload it is offered.
type PayloadContext struct {
	Frame       uint64
	Opcode      uint8
	SrcAddr     core.Address
	DstAddr     core.Address
	SrcQP       uint32
	DstQP       uint32
	PKey        uint16
	Reassembled bool
	// Populated from the conversation table when the connection was
	// established by a captured connection-management exchange.
	Conversation *ConversationRecord
}

// Dissection is the result of a next-stage decoder.
type Dissection struct {
	Decoder string   `json:"decoder" yaml:"decoder"`
	Layers  []string `json:"layers,omitempty" yaml:"layers,omitempty"`
	Summary any      `json:"summary,omitempty" yaml:"summary,omitempty"`
	// Opaque holds bytes the decoder recognised but did not interpret.
	Opaque []byte `json:"-" yaml:"-"`
	// Diagnostics from the downstream decode; they do not fail the packet.
	Diagnostics core.Diagnostics `json:"diagnostics,omitempty" yaml:"diagnostics,omitempty"`
}

// Decoder is an exact-match next-stage payload decoder.
type Decoder interface {
	Name() string
	Handle(data []byte, pctx *PayloadContext) (*Dissection, error)
}

// HeuristicDecoder inspects the bytes and declares whether it can decode them.
type HeuristicDecoder interface {
	Decoder
	CanHandle(data []byte, pctx *PayloadContext) bool
}

// Handoff decodes sibling protocols the dissector hands remainders to.
type Handoff interface {
	IPv6(data []byte) (*Dissection, error)
	// Ethertype reports known=false when no decoder is registered for etype.
	Ethertype(etype uint16, data []byte) (d *Dissection, known bool, err error)
	Ethernet(data []byte) (*Dissection, error)
}
