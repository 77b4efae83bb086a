package ib

import (
	"firestige.xyz/ibdissect/internal/core"
	"firestige.xyz/ibdissect/internal/core/wire"
)

const (
	linkControlLen = 6

	// Link control operands; larger values are reserved.
	LinkOpNormal = 0
	LinkOpInit   = 1
)

// LinkControl is a flow-control packet exchanged between link peers.
type LinkControl struct {
	Operand  uint8  `json:"op" yaml:"op"`
	FCTBS    uint16 `json:"fctbs" yaml:"fctbs"` // flow control total blocks sent
	VL       uint8  `json:"vl,omitempty" yaml:"vl,omitempty"`
	FCCL     uint16 `json:"fccl,omitempty" yaml:"fccl,omitempty"` // flow control credit limit
	LPCRC    uint16 `json:"lpcrc,omitempty" yaml:"lpcrc,omitempty"`
	Reserved bool   `json:"reserved,omitempty" yaml:"reserved,omitempty"`
	// Data is the undecoded remainder of a reserved operand.
	Data []byte `json:"data,omitempty" yaml:"data,omitempty"`

	Diagnostics core.Diagnostics `json:"diagnostics,omitempty" yaml:"diagnostics,omitempty"`
}

// DecodeLinkControl decodes a link flow-control packet. It holds no state.
func DecodeLinkControl(buf []byte) *LinkControl {
	r := wire.NewReader(buf, len(buf))
	lc := &LinkControl{}
	if !r.Need(2) {
		lc.Diagnostics.Add(core.DiagTruncated, "linkctl", 0, wire.Truncated("link control"))
		return lc
	}
	w := r.U16()
	lc.Operand = uint8(w >> 12)
	lc.FCTBS = w & 0x0FFF
	if lc.Operand > LinkOpInit {
		lc.Reserved = true
		lc.Data = r.Rest()
		return lc
	}
	if !r.Need(linkControlLen - 2) {
		lc.Diagnostics.Add(core.DiagTruncated, "linkctl", r.Offset(), wire.Truncated("link control"))
		return lc
	}
	w = r.U16()
	lc.VL = uint8(w >> 12)
	lc.FCCL = w & 0x0FFF
	lc.LPCRC = r.U16()
	return lc
}
