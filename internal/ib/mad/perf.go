package mad

import (
	"encoding/binary"

	"firestige.xyz/ibdissect/internal/core/wire"
)

const (
	perfReservedSize = 40
	perfDataSize     = 192
)

// Perf is a performance management body.
type Perf struct {
	Attribute any `json:",omitempty"`
}

func (d *Decoder) decodePerf(r *wire.Reader, dg *Datagram) *Perf {
	r.Skip(perfReservedSize)
	data := r.Sub(perfDataSize)
	p := &Perf{}
	switch dg.Header.AttributeID {
	case AttrClassPortInfo:
		p.Attribute = DecodeClassPortInfo(data)
	case AttrPortCounters:
		p.Attribute = decodePortCounters(data)
	case AttrPortCountersExtended:
		p.Attribute = decodePortCountersExtended(data)
	default:
		p.Attribute = &Opaque{Data: data.N(perfDataSize)}
	}
	if err := data.Err(); err != nil {
		dg.Diagnostics.Add(0, "perf", HeaderSize+perfReservedSize+data.Offset(), err)
	}
	return p
}

// Redirect is the redirect or trap target inside ClassPortInfo.
type Redirect struct {
	GID       [16]byte
	TC        uint8
	SL        uint8
	FlowLabel uint32
	LID       uint16
	PKey      uint16
	HopLimit  uint8 `json:",omitempty"` // trap target only
	QP        uint32
	QKey      uint32
}

type ClassPortInfo struct {
	BaseVersion     uint8
	ClassVersion    uint8
	CapabilityMask  uint16
	CapabilityMask2 uint32
	RespTimeValue   uint8
	Redirect        Redirect
	Trap            Redirect
}

func readTarget(r *wire.Reader, trap bool) Redirect {
	t := Redirect{GID: r.GID()}
	v := r.U32()
	t.TC, t.SL, t.FlowLabel = uint8(v>>24), uint8(v>>20)&0x0F, v&0xFFFFF
	t.LID = r.U16()
	t.PKey = r.U16()
	v = r.U32()
	if trap {
		t.HopLimit = uint8(v >> 24)
	}
	t.QP = v & 0xFFFFFF
	t.QKey = r.U32()
	return t
}

// DecodeClassPortInfo decodes the 72-byte ClassPortInfo block.
//
// CapabilityMask2 is read as four bytes while the cursor advances three, and
// RespTimeValue is then taken from the low five bits of the fourth byte.
func DecodeClassPortInfo(r *wire.Reader) *ClassPortInfo {
	c := &ClassPortInfo{BaseVersion: r.U8(), ClassVersion: r.U8(), CapabilityMask: r.U16()}
	if r.Need(4) {
		v, _ := wire.Uint32(r.Buffer(), r.Offset(), binary.BigEndian)
		c.CapabilityMask2 = v >> 5
	}
	r.Skip(3)
	c.RespTimeValue = r.U8() & 0x1F
	c.Redirect = readTarget(r, false)
	c.Trap = readTarget(r, true)
	return c
}

type PortCounters struct {
	PortSelect                   uint8
	CounterSelect                uint16
	SymbolErrorCounter           uint16
	LinkErrorRecoveryCounter     uint8
	LinkDownedCounter            uint8
	PortRcvErrors                uint16
	PortRcvRemotePhysicalErrors  uint16
	PortRcvSwitchRelayErrors     uint16
	PortXmitDiscards             uint16
	PortXmitConstraintErrors     uint8
	PortRcvConstraintErrors      uint8
	LocalLinkIntegrityErrors     uint8
	ExcessiveBufferOverrunErrors uint8
	VL15Dropped                  uint16
	PortXmitData                 uint32
	PortRcvData                  uint32
	PortXmitPkts                 uint32
	PortRcvPkts                  uint32
}

func decodePortCounters(r *wire.Reader) *PortCounters {
	r.Skip(1)
	c := &PortCounters{
		PortSelect:                  r.U8(),
		CounterSelect:               r.U16(),
		SymbolErrorCounter:          r.U16(),
		LinkErrorRecoveryCounter:    r.U8(),
		LinkDownedCounter:           r.U8(),
		PortRcvErrors:               r.U16(),
		PortRcvRemotePhysicalErrors: r.U16(),
		PortRcvSwitchRelayErrors:    r.U16(),
		PortXmitDiscards:            r.U16(),
		PortXmitConstraintErrors:    r.U8(),
		PortRcvConstraintErrors:     r.U8(),
	}
	r.Skip(1)
	b := r.U8()
	c.LocalLinkIntegrityErrors, c.ExcessiveBufferOverrunErrors = hi4(b), lo4(b)
	r.Skip(2)
	c.VL15Dropped = r.U16()
	c.PortXmitData = r.U32()
	c.PortRcvData = r.U32()
	c.PortXmitPkts = r.U32()
	c.PortRcvPkts = r.U32()
	return c
}

type PortCountersExtended struct {
	PortSelect            uint8
	CounterSelect         uint16
	PortXmitData          uint64
	PortRcvData           uint64
	PortXmitPkts          uint64
	PortRcvPkts           uint64
	PortUnicastXmitPkts   uint64
	PortUnicastRcvPkts    uint64
	PortMulticastXmitPkts uint64
	PortMulticastRcvPkts  uint64
}

func decodePortCountersExtended(r *wire.Reader) *PortCountersExtended {
	r.Skip(1)
	c := &PortCountersExtended{PortSelect: r.U8(), CounterSelect: r.U16()}
	r.Skip(4)
	c.PortXmitData = r.U64()
	c.PortRcvData = r.U64()
	c.PortXmitPkts = r.U64()
	c.PortRcvPkts = r.U64()
	c.PortUnicastXmitPkts = r.U64()
	c.PortUnicastRcvPkts = r.U64()
	c.PortMulticastXmitPkts = r.U64()
	c.PortMulticastRcvPkts = r.U64()
	return c
}
