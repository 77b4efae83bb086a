package mad

import (
	"bytes"

	"firestige.xyz/ibdissect/internal/core/wire"
)

const maxMultiPathGIDs = 11

type InformInfo struct {
	GID              [16]byte
	LIDRangeBegin    uint16
	LIDRangeEnd      uint16
	IsGeneric        bool
	Subscribe        bool
	Type             uint16
	TrapOrDeviceID   uint16
	QPN              uint32
	RespTimeValue    uint8
	ProducerOrVendor uint32
}

func decodeInformInfo(r *wire.Reader) *InformInfo {
	in := &InformInfo{GID: r.GID(), LIDRangeBegin: r.U16(), LIDRangeEnd: r.U16()}
	r.Skip(2)
	in.IsGeneric = r.U8() != 0
	in.Subscribe = r.U8() != 0
	in.Type = r.U16()
	in.TrapOrDeviceID = r.U16()
	v := r.U32()
	in.QPN, in.RespTimeValue = v>>8, uint8(v&0x1F)
	r.Skip(1)
	in.ProducerOrVendor = r.U24()
	return in
}

type NodeRecord struct {
	Info        *NodeInfo
	Description *NodeDescription
}

type LinkRecord struct {
	FromLID  uint16
	FromPort uint8
	ToPort   uint8
	ToLID    uint16
}

func decodeLinkRecord(r *wire.Reader) *LinkRecord {
	return &LinkRecord{FromLID: r.U16(), FromPort: r.U8(), ToPort: r.U8(), ToLID: r.U16()}
}

type ServiceRecord struct {
	ServiceID     uint64
	ServiceGID    [16]byte
	ServicePKey   uint16
	ServiceLease  uint32
	ServiceKey    []byte
	ServiceName   string
	ServiceData8  []byte
	ServiceData16 []byte
	ServiceData32 []byte
	ServiceData64 []byte
}

func decodeServiceRecord(r *wire.Reader) *ServiceRecord {
	s := &ServiceRecord{ServiceID: r.U64(), ServiceGID: r.GID(), ServicePKey: r.U16()}
	r.Skip(2)
	s.ServiceLease = r.U32()
	s.ServiceKey = r.N(16)
	s.ServiceName = cstring(r.N(64))
	s.ServiceData8 = r.N(16)
	s.ServiceData16 = r.N(16)
	s.ServiceData32 = r.N(16)
	s.ServiceData64 = r.N(16)
	return s
}

// PathSelector pairs a selector with its value, as in MTU, rate and packet
// lifetime fields.
type PathSelector struct {
	Selector uint8
	Value    uint8
}

func selector(b uint8) PathSelector { return PathSelector{Selector: b >> 6, Value: b & 0x3F} }

type PathRecord struct {
	DGID           [16]byte
	SGID           [16]byte
	DLID           uint16
	SLID           uint16
	RawTraffic     bool
	FlowLabel      uint32
	HopLimit       uint8
	TClass         uint8
	Reversible     bool
	NumbPath       uint8
	PKey           uint16
	SL             uint8
	MTU            PathSelector
	Rate           PathSelector
	PacketLifeTime PathSelector
	Preference     uint8
}

func decodePathRecord(r *wire.Reader) *PathRecord {
	r.Skip(8)
	p := &PathRecord{DGID: r.GID(), SGID: r.GID(), DLID: r.U16(), SLID: r.U16()}
	v := r.U32()
	p.RawTraffic = v&0x80000000 != 0
	p.FlowLabel = (v >> 8) & 0xFFFFF
	p.HopLimit = uint8(v)
	p.TClass = r.U8()
	b := r.U8()
	p.Reversible, p.NumbPath = b&0x80 != 0, b&0x7F
	p.PKey = r.U16()
	p.SL = uint8(r.U16() & 0x0F)
	p.MTU = selector(r.U8())
	p.Rate = selector(r.U8())
	p.PacketLifeTime = selector(r.U8())
	p.Preference = r.U8()
	r.Skip(6)
	return p
}

type MCMemberRecord struct {
	MGID           [16]byte
	PortGID        [16]byte
	QKey           uint32
	MLID           uint16
	MTU            PathSelector
	TClass         uint8
	PKey           uint16
	Rate           PathSelector
	PacketLifeTime PathSelector
	SL             uint8
	FlowLabel      uint32
	HopLimit       uint8
	Scope          uint8
	JoinState      uint8
	ProxyJoin      bool
}

func decodeMCMemberRecord(r *wire.Reader) *MCMemberRecord {
	m := &MCMemberRecord{MGID: r.GID(), PortGID: r.GID(), QKey: r.U32(), MLID: r.U16()}
	m.MTU = selector(r.U8())
	m.TClass = r.U8()
	m.PKey = r.U16()
	m.Rate = selector(r.U8())
	m.PacketLifeTime = selector(r.U8())
	v := r.U32()
	m.SL, m.FlowLabel, m.HopLimit = uint8(v>>28), (v>>8)&0xFFFFF, uint8(v)
	b := r.U8()
	m.Scope, m.JoinState = hi4(b), lo4(b)
	m.ProxyJoin = r.U8()&0x80 != 0
	r.Skip(2)
	return m
}

type TraceRecord struct {
	GIDPrefix    uint64
	IDGeneration uint16
	NodeType     uint8
	NodeID       uint64
	ChassisID    uint64
	EntryPortID  uint64
	ExitPortID   uint64
	EntryPort    uint8
	ExitPort     uint8
}

func decodeTraceRecord(r *wire.Reader) *TraceRecord {
	t := &TraceRecord{GIDPrefix: r.U64(), IDGeneration: r.U16()}
	r.Skip(1)
	t.NodeType = r.U8()
	t.NodeID = r.U64()
	t.ChassisID = r.U64()
	t.EntryPortID = r.U64()
	t.ExitPortID = r.U64()
	t.EntryPort = r.U8()
	t.ExitPort = r.U8()
	return t
}

// MultiPathRecord has a 16-byte fixed part followed by SGIDCount source GIDs
// then DGIDCount destination GIDs.
type MultiPathRecord struct {
	RawTraffic           bool
	FlowLabel            uint32
	HopLimit             uint8
	TClass               uint8
	Reversible           bool
	NumbPath             uint8
	PKey                 uint16
	SL                   uint8
	MTU                  PathSelector
	Rate                 PathSelector
	PacketLifeTime       PathSelector
	IndependenceSelector uint8
	SGIDCount            uint8
	DGIDCount            uint8
	SGIDs                [][16]byte
	DGIDs                [][16]byte
}

func decodeMultiPathRecord(r *wire.Reader) *MultiPathRecord {
	m := &MultiPathRecord{}
	v := r.U32()
	m.RawTraffic = v&0x80000000 != 0
	m.FlowLabel = (v >> 8) & 0xFFFFF
	m.HopLimit = uint8(v)
	m.TClass = r.U8()
	b := r.U8()
	m.Reversible, m.NumbPath = b&0x80 != 0, b&0x7F
	m.PKey = r.U16()
	m.SL = uint8(r.U16() & 0x0F)
	m.MTU = selector(r.U8())
	m.Rate = selector(r.U8())
	m.PacketLifeTime = selector(r.U8())
	m.IndependenceSelector = (r.U8() >> 5) & 0x03
	m.SGIDCount = r.U8()
	m.DGIDCount = r.U8()

	// Only as many GIDs as fit in the record region are decoded.
	budget := maxMultiPathGIDs
	for i := 0; i < int(m.SGIDCount) && budget > 0 && r.Err() == nil; i++ {
		m.SGIDs = append(m.SGIDs, r.GID())
		budget--
	}
	for i := 0; i < int(m.DGIDCount) && budget > 0 && r.Err() == nil; i++ {
		m.DGIDs = append(m.DGIDs, r.GID())
		budget--
	}
	return m
}

type ServiceAssociationRecord struct {
	ServiceKey  []byte
	ServiceName string
}

func decodeServiceAssociationRecord(r *wire.Reader) *ServiceAssociationRecord {
	return &ServiceAssociationRecord{ServiceKey: r.N(16), ServiceName: cstring(r.N(64))}
}

func cstring(b []byte) string {
	if i := bytes.IndexByte(b, 0); i >= 0 {
		b = b[:i]
	}
	return string(b)
}
