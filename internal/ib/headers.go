package ib

import (
	"fmt"
	"net/netip"

	"firestige.xyz/ibdissect/internal/core/wire"
	"firestige.xyz/ibdissect/internal/ib/opcode"
)

const (
	// Header lengths
	linkHeaderLen      = 8
	globalHeaderLen    = 40
	rawHeaderLen       = 4
	transportHeaderLen = 12
	transportExtLen    = 8

	// Trailer lengths
	icrcLen = 4
	vcrcLen = 2

	// NextHeaderIBA is the global-route next header value announcing a
	// transport header.
	NextHeaderIBA = 0x1B
)

// NextHeader is the link header's next-header discriminant.
type NextHeader uint8

const (
	NextRaw    NextHeader = iota // raw header and an ethertype-keyed payload
	NextIPv6                     // non-IBA global packet, an IPv6 header follows
	NextLocal                    // transport header follows
	NextGlobal                   // global-route header follows
)

func (n NextHeader) String() string {
	switch n {
	case NextRaw:
		return "raw"
	case NextIPv6:
		return "ipv6"
	case NextLocal:
		return "local"
	case NextGlobal:
		return "global"
	}
	return fmt.Sprintf("lnh(%d)", uint8(n))
}

func (n NextHeader) MarshalText() ([]byte, error) { return []byte(n.String()), nil }

// LinkHeader is the 8-byte local route header.
type LinkHeader struct {
	VirtualLane  uint8      `json:"vl" yaml:"vl"`
	LinkVersion  uint8      `json:"lver" yaml:"lver"`
	ServiceLevel uint8      `json:"sl" yaml:"sl"`
	Next         NextHeader `json:"lnh" yaml:"lnh"`
	DLID         uint16     `json:"dlid" yaml:"dlid"`
	PacketLength uint16     `json:"pktlen" yaml:"pktlen"` // in 4-byte words
	SLID         uint16     `json:"slid" yaml:"slid"`
}

// Length returns the packet length in bytes.
func (h LinkHeader) Length() int { return int(h.PacketLength) * 4 }

func decodeLink(r *wire.Reader) (LinkHeader, error) {
	if !r.Need(linkHeaderLen) {
		return LinkHeader{}, wire.Truncated("link header")
	}
	var h LinkHeader
	b := r.U8()
	h.VirtualLane = b >> 4
	h.LinkVersion = b & 0x0F
	b = r.U8()
	h.ServiceLevel = b >> 4
	h.Next = NextHeader(b & 0x03)
	h.DLID = r.U16()
	h.PacketLength = r.U16() & 0x07FF
	h.SLID = r.U16()
	return h, r.Err()
}

// GID is a 128-bit global identifier, rendered in IPv6 notation.
type GID [16]byte

func (g GID) String() string { return netip.AddrFrom16(g).String() }

func (g GID) MarshalText() ([]byte, error) { return []byte(g.String()), nil }

// GlobalHeader is the 40-byte global route header.
type GlobalHeader struct {
	IPVersion     uint8  `json:"ip_version" yaml:"ip_version"`
	TrafficClass  uint8  `json:"traffic_class" yaml:"traffic_class"`
	FlowLabel     uint32 `json:"flow_label" yaml:"flow_label"`
	PayloadLength uint16 `json:"payload_length" yaml:"payload_length"`
	NextHeader    uint8  `json:"next_header" yaml:"next_header"`
	HopLimit      uint8  `json:"hop_limit" yaml:"hop_limit"`
	SGID          GID    `json:"sgid" yaml:"sgid"`
	DGID          GID    `json:"dgid" yaml:"dgid"`
}

func decodeGlobal(r *wire.Reader) (GlobalHeader, error) {
	if !r.Need(globalHeaderLen) {
		return GlobalHeader{}, wire.Truncated("global route header")
	}
	var h GlobalHeader
	w := r.U32()
	h.IPVersion = uint8(w >> 28)
	h.TrafficClass = uint8(w >> 20)
	h.FlowLabel = w & 0x000FFFFF
	h.PayloadLength = r.U16()
	h.NextHeader = r.U8()
	h.HopLimit = r.U8()
	h.SGID = GID(r.GID())
	h.DGID = GID(r.GID())
	return h, r.Err()
}

// RawHeader precedes an ethertype-keyed payload when the link header
// announces raw transport.
type RawHeader struct {
	Ethertype uint16 `json:"ethertype" yaml:"ethertype"`
}

func decodeRaw(r *wire.Reader) (RawHeader, error) {
	if !r.Need(rawHeaderLen) {
		return RawHeader{}, wire.Truncated("raw header")
	}
	r.Skip(2)
	return RawHeader{Ethertype: r.U16()}, r.Err()
}

// TransportHeader is the base transport header, with the 8-byte extension
// kept opaque when the opcode selects it.
type TransportHeader struct {
	Opcode         uint8  `json:"opcode" yaml:"opcode"`
	SolicitedEvent bool   `json:"se" yaml:"se"`
	MigReq         bool   `json:"m" yaml:"m"`
	PadCount       uint8  `json:"pad" yaml:"pad"`
	Version        uint8  `json:"tver" yaml:"tver"`
	PKey           uint16 `json:"pkey" yaml:"pkey"`
	FECN           bool   `json:"fecn" yaml:"fecn"`
	BECN           bool   `json:"becn" yaml:"becn"`
	DestQP         uint32 `json:"dest_qp" yaml:"dest_qp"`
	AckRequest     bool   `json:"ack_req" yaml:"ack_req"`
	PSN            uint32 `json:"psn" yaml:"psn"`
	Extension      []byte `json:"extension,omitempty" yaml:"extension,omitempty"`

	// DCConnect is derived from the opcode and the flag bit that follows it.
	DCConnect bool `json:"dc_connect,omitempty" yaml:"dc_connect,omitempty"`
}

// Len returns the wire length of the header.
func (h TransportHeader) Len() int {
	if opcode.IsExtendedTransport(h.Opcode) {
		return transportHeaderLen + transportExtLen
	}
	return transportHeaderLen
}

func decodeTransport(r *wire.Reader) (TransportHeader, error) {
	if !r.Need(transportHeaderLen) {
		return TransportHeader{}, wire.Truncated("transport header")
	}
	var h TransportHeader
	h.Opcode = r.U8()
	b := r.U8()
	h.DCConnect = opcode.IsDCConnect(h.Opcode, b)
	h.SolicitedEvent = b&0x80 != 0
	h.MigReq = b&0x40 != 0
	h.PadCount = (b >> 4) & 0x03
	h.Version = b & 0x0F
	h.PKey = r.U16()
	b = r.U8()
	h.FECN = b&0x80 != 0
	h.BECN = b&0x40 != 0
	h.DestQP = r.U24()
	h.AckRequest = r.U8()&0x80 != 0
	h.PSN = r.U24()
	if opcode.IsExtendedTransport(h.Opcode) {
		if !r.Need(transportExtLen) {
			return h, wire.Truncated("transport header extension")
		}
		h.Extension = r.N(transportExtLen)
	}
	return h, r.Err()
}

// RDETH carries the end-to-end context of a reliable datagram.
type RDETH struct {
	EEContext uint32 `json:"ee_context" yaml:"ee_context"`
}

// DETH carries the queue key and source queue pair of a datagram.
type DETH struct {
	QKey     uint32 `json:"qkey" yaml:"qkey"`
	SourceQP uint32 `json:"src_qp" yaml:"src_qp"`
}

// RETH describes the remote buffer of an RDMA operation.
type RETH struct {
	VirtualAddress uint64 `json:"va" yaml:"va"`
	RemoteKey      uint32 `json:"rkey" yaml:"rkey"`
	DMALength      uint32 `json:"dma_length" yaml:"dma_length"`
}

// AtomicETH describes an atomic compare-and-swap or fetch-and-add.
type AtomicETH struct {
	VirtualAddress uint64 `json:"va" yaml:"va"`
	RemoteKey      uint32 `json:"rkey" yaml:"rkey"`
	SwapOrAdd      uint64 `json:"swap_add" yaml:"swap_add"`
	Compare        uint64 `json:"compare" yaml:"compare"`
}

// Syndrome classes of the acknowledge header.
const (
	SyndromeACK      = 0
	SyndromeRNRNak   = 1
	SyndromeReserved = 2
	SyndromeNak      = 3
)

var syndromeNames = [4]string{"ACK", "RNR NAK", "Reserved", "NAK"}

// AETH acknowledges a reliable request.
type AETH struct {
	Syndrome uint8 `json:"syndrome" yaml:"syndrome"`
	// Class is bits 6..5 of the syndrome.
	Class uint8 `json:"class" yaml:"class"`
	// Value is bits 4..0 of the syndrome, read as a credit count, an RNR
	// timer code or a NAK code depending on Class.
	Value uint8  `json:"value" yaml:"value"`
	MSN   uint32 `json:"msn" yaml:"msn"`
}

// ClassName returns the display name of the syndrome class.
func (a AETH) ClassName() string { return syndromeNames[a.Class&0x03] }

// CreditCount returns the end-to-end credit count of an ACK.
func (a AETH) CreditCount() (uint8, bool) { return a.Value, a.Class == SyndromeACK }

// RNRTimer returns the timer code of an RNR NAK.
func (a AETH) RNRTimer() (uint8, bool) { return a.Value, a.Class == SyndromeRNRNak }

// NakCode returns the error code of a NAK.
func (a AETH) NakCode() (uint8, bool) { return a.Value, a.Class == SyndromeNak }

// AtomicAckETH returns the original remote data of an atomic operation.
type AtomicAckETH struct {
	OriginalData uint64 `json:"orig_data" yaml:"orig_data"`
}

// FETH selects the placement of a flush.
type FETH struct {
	Selectivity   uint8 `json:"sel" yaml:"sel"`
	PlacementType uint8 `json:"plt" yaml:"plt"`
}

// DCCETH is the DC connect header.
type DCCETH struct {
	AccessKey uint64 `json:"dc_access_key" yaml:"dc_access_key"`
}

// Extended holds whichever extended transport headers the opcode selected.
type Extended struct {
	RDETH        *RDETH        `json:"rdeth,omitempty" yaml:"rdeth,omitempty"`
	DETH         *DETH         `json:"deth,omitempty" yaml:"deth,omitempty"`
	RETH         *RETH         `json:"reth,omitempty" yaml:"reth,omitempty"`
	ImmDt        *uint32       `json:"immdt,omitempty" yaml:"immdt,omitempty"`
	AtomicETH    *AtomicETH    `json:"atomiceth,omitempty" yaml:"atomiceth,omitempty"`
	AETH         *AETH         `json:"aeth,omitempty" yaml:"aeth,omitempty"`
	AtomicAckETH *AtomicAckETH `json:"atomicacketh,omitempty" yaml:"atomicacketh,omitempty"`
	IETH         *uint32       `json:"ieth_rkey,omitempty" yaml:"ieth_rkey,omitempty"`
	FETH         *FETH         `json:"feth,omitempty" yaml:"feth,omitempty"`
	DCCETH       *DCCETH       `json:"dcceth,omitempty" yaml:"dcceth,omitempty"`
	// Vendor holds the remainder of a packet whose opcode is unassigned.
	Vendor []byte `json:"vendor,omitempty" yaml:"vendor,omitempty"`
}

// decodeExtended decodes one extended header and records what the rest of
// the packet needs in tctx.
func decodeExtended(r *wire.Reader, kind opcode.Header, ext *Extended, tctx *TransportContext) error {
	if !r.Need(kind.Size()) {
		return wire.Truncated(kind.String())
	}
	switch kind {
	case opcode.RDETH:
		ext.RDETH = &RDETH{EEContext: r.U32() & 0x00FFFFFF}
	case opcode.DETH:
		h := &DETH{QKey: r.U32()}
		r.Skip(1)
		h.SourceQP = r.U24()
		ext.DETH = h
		tctx.SrcQP = h.SourceQP
	case opcode.RETH:
		h := &RETH{VirtualAddress: r.U64(), RemoteKey: r.U32(), DMALength: r.U32()}
		ext.RETH = h
		tctx.RemoteAddress = h.VirtualAddress
		tctx.RemoteKey = h.RemoteKey
		tctx.DMALength = h.DMALength
	case opcode.ImmDt:
		v := r.U32()
		ext.ImmDt = &v
	case opcode.AtomicETH:
		ext.AtomicETH = &AtomicETH{
			VirtualAddress: r.U64(),
			RemoteKey:      r.U32(),
			SwapOrAdd:      r.U64(),
			Compare:        r.U64(),
		}
	case opcode.AETH:
		s := r.U8()
		ext.AETH = &AETH{Syndrome: s, Class: (s >> 5) & 0x03, Value: s & 0x1F, MSN: r.U24()}
	case opcode.AtomicAckETH:
		ext.AtomicAckETH = &AtomicAckETH{OriginalData: r.U64()}
	case opcode.IETH:
		v := r.U32()
		ext.IETH = &v
	case opcode.FETH:
		v := r.U32()
		ext.FETH = &FETH{Selectivity: uint8(v>>4) & 0x03, PlacementType: uint8(v) & 0x0F}
	case opcode.DCCETH:
		ext.DCCETH = &DCCETH{AccessKey: r.U64()}
		r.Skip(8)
	default:
		r.Skip(kind.Size())
	}
	return r.Err()
}
