package ib

import (
	"firestige.xyz/ibdissect/internal/core"
	"firestige.xyz/ibdissect/internal/ib/mad"
	"firestige.xyz/ibdissect/pkg/plugin"
)

// InvalidQP marks a source queue pair that no header has supplied.
const InvalidQP = mad.InvalidQP

// TransportContext carries what later headers and the payload step need
// from earlier headers of the same packet. It lives for one packet.
type TransportContext struct {
	Opcode    uint8  `json:"opcode" yaml:"opcode"`
	PadCount  uint8  `json:"pad" yaml:"pad"`
	PKey      uint16 `json:"pkey" yaml:"pkey"`
	PSN       uint32 `json:"psn" yaml:"psn"`
	DestQP    uint32 `json:"dest_qp" yaml:"dest_qp"`
	SrcQP     uint32 `json:"src_qp" yaml:"src_qp"` // InvalidQP until a DETH supplies it
	DCConnect bool   `json:"dc_connect,omitempty" yaml:"dc_connect,omitempty"`

	RemoteAddress uint64 `json:"reth_va,omitempty" yaml:"reth_va,omitempty"`
	RemoteKey     uint32 `json:"reth_rkey,omitempty" yaml:"reth_rkey,omitempty"`
	DMALength     uint32 `json:"reth_dma_length,omitempty" yaml:"reth_dma_length,omitempty"`

	SrcAddr core.Address `json:"src" yaml:"src"`
	DstAddr core.Address `json:"dst" yaml:"dst"`
	SrcLID  uint16       `json:"-" yaml:"-"`
	DstLID  uint16       `json:"-" yaml:"-"`
}

func newTransportContext() TransportContext {
	return TransportContext{SrcQP: InvalidQP}
}

// Management reports whether the payload is a management datagram: either
// queue pair 0 or 1 is the destination, or a datagram header names one of
// them as the source.
func (c *TransportContext) Management() bool {
	return c.DestQP <= 1 || c.SrcQP <= 1
}

func (c *TransportContext) madContext(frame uint64, firstVisit bool) *mad.Context {
	return &mad.Context{
		Frame:      frame,
		FirstVisit: firstVisit,
		SrcAddr:    c.SrcAddr,
		DstAddr:    c.DstAddr,
		SrcLID:     c.SrcLID,
		DstLID:     c.DstLID,
		SrcQP:      c.SrcQP,
		DstQP:      c.DestQP,
		PKey:       c.PKey,
	}
}

func (c *TransportContext) payloadContext(frame uint64) *plugin.PayloadContext {
	return &plugin.PayloadContext{
		Frame:   frame,
		Opcode:  c.Opcode,
		SrcAddr: c.SrcAddr,
		DstAddr: c.DstAddr,
		SrcQP:   c.SrcQP,
		DstQP:   c.DestQP,
		PKey:    c.PKey,
	}
}
