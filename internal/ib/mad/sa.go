package mad

import (
	"fmt"

	"firestige.xyz/ibdissect/internal/core"
	"firestige.xyz/ibdissect/internal/core/wire"
)

// RMPP types.
const (
	RMPPNone  uint8 = 0
	RMPPData  uint8 = 1
	RMPPAck   uint8 = 2
	RMPPStop  uint8 = 3
	RMPPAbort uint8 = 4
)

const (
	rmppSize       = 12
	rmppRegionSize = DataSize - rmppSize // 220
	saHeaderSize   = 20
	saDataSize     = 200
)

// RMPP is the multi-packet transaction header carried by every
// administration datagram.
type RMPP struct {
	Version  uint8
	Type     uint8
	RespTime uint8
	Flags    uint8
	Status   uint8

	// Data
	SegmentNumber uint32 `json:",omitempty"`
	PayloadLength uint32 `json:",omitempty"`
	// Ack
	NewWindowLast uint32 `json:",omitempty"`
	// Not an RMPP transfer
	Data1 uint32 `json:",omitempty"`
	Data2 uint32 `json:",omitempty"`

	// Region is the 220 bytes after the header: transferred data for Data,
	// extended error data for Stop and Abort.
	Region []byte `json:"-"`
}

// ParseRMPP decodes the RMPP header at the cursor and leaves the cursor after
// its 12 bytes.
func ParseRMPP(r *wire.Reader) (*RMPP, error) {
	p := &RMPP{Version: r.U8(), Type: r.U8()}
	b := r.U8()
	p.RespTime, p.Flags = b>>3, b&0x07
	p.Status = r.U8()

	switch p.Type {
	case RMPPData:
		p.SegmentNumber = r.U32()
		p.PayloadLength = r.U32()
	case RMPPAck:
		p.SegmentNumber = r.U32()
		p.NewWindowLast = r.U32()
	case RMPPStop, RMPPAbort:
		r.Skip(8)
	case RMPPNone:
		p.Data1 = r.U32()
		p.Data2 = r.U32()
	default:
		return p, fmt.Errorf("rmpp type %d: %w", p.Type, core.ErrMalformed)
	}
	if err := r.Err(); err != nil {
		return p, err
	}
	if p.Type != RMPPNone && p.Type != RMPPAck {
		p.Region = r.Rest()
		if len(p.Region) > rmppRegionSize {
			p.Region = p.Region[:rmppRegionSize]
		}
	}
	return p, nil
}

// SAHeader follows the RMPP header.
type SAHeader struct {
	SMKey           uint64
	AttributeOffset uint16
	ComponentMask   uint64
}

// SA is a subnet administration body.
type SA struct {
	RMPP   *RMPP
	Header SAHeader
	// RecordID is the key prefix of table records, nil when the record has none.
	RecordID any `json:",omitempty"`
	Record   any `json:",omitempty"`
}

func (d *Decoder) decodeSA(r *wire.Reader, dg *Datagram) *SA {
	rmpp, err := ParseRMPP(r)
	if err != nil {
		dg.fail("rmpp", r, err)
		return nil
	}
	sa := &SA{RMPP: rmpp}
	sa.Header.SMKey = r.U64()
	sa.Header.AttributeOffset = r.U16()
	r.Skip(2)
	sa.Header.ComponentMask = r.U64()
	if err := r.Err(); err != nil {
		dg.fail("sa", r, err)
		return sa
	}

	data := r.Sub(saDataSize)
	sa.RecordID, sa.Record = decodeSARecord(data, dg.Header.AttributeID)
	if err := data.Err(); err != nil {
		dg.Diagnostics.Add(0, "sa", HeaderSize+rmppSize+saHeaderSize+data.Offset(), err)
	}
	return sa
}

// decodeSARecord decodes the record key prefix, if any, then the record body.
func decodeSARecord(r *wire.Reader, id uint16) (rid, rec any) {
	switch id {
	case AttrClassPortInfo:
		return nil, DecodeClassPortInfo(r)
	case AttrNotice:
		return nil, decodeNotice(r)
	case AttrInformInfo:
		return nil, decodeInformInfo(r)
	case AttrNodeRecord:
		rid := &LIDRecordID{LID: r.U16()}
		r.Skip(2)
		return rid, &NodeRecord{Info: decodeNodeInfo(r), Description: decodeNodeDescription(r)}
	case AttrPortInfoRecord:
		rid := &PortRecordID{LID: r.U16(), Port: r.U8()}
		r.Skip(1)
		return rid, DecodePortInfo(r)
	case AttrSLtoVLMappingTableRecord:
		rid := &SLtoVLRecordID{LID: r.U16(), InputPort: r.U8(), OutputPort: r.U8()}
		r.Skip(4)
		return rid, decodeSLtoVL(r)
	case AttrSwitchInfoRecord:
		rid := &LIDRecordID{LID: r.U16()}
		r.Skip(2)
		return rid, decodeSwitchInfo(r)
	case AttrLinearForwardingRecord:
		rid := &BlockRecordID{LID: r.U16(), Block: r.U16()}
		r.Skip(4)
		return rid, decodeLinearForwarding(r)
	case AttrRandomForwardingRecord:
		rid := &BlockRecordID{LID: r.U16(), Block: r.U16()}
		r.Skip(4)
		return rid, decodeRandomForwarding(r)
	case AttrMulticastForwardingRecord:
		rid := &BlockRecordID{LID: r.U16()}
		v := r.U16()
		rid.Position, rid.Block = uint8(v>>12), v&0x01FF
		r.Skip(4)
		return rid, decodeMulticastForwarding(r)
	case AttrSMInfoRecord:
		rid := &LIDRecordID{LID: r.U16()}
		r.Skip(2)
		return rid, decodeSMInfo(r)
	case AttrGuidInfoRecord:
		rid := &BlockRecordID{LID: r.U16(), Block: uint16(r.U8())}
		r.Skip(5)
		return rid, decodeGUIDInfo(r)
	case AttrPKeyTableRecord:
		rid := &BlockRecordID{LID: r.U16(), Block: r.U16()}
		rid.Port = r.U8()
		r.Skip(3)
		return rid, decodePKeyTable(r)
	case AttrVLArbitrationTableRecord:
		rid := &BlockRecordID{LID: r.U16()}
		rid.Port = r.U8()
		rid.Block = uint16(r.U8())
		r.Skip(4)
		return rid, decodeVLArbitration(r)
	case AttrInformInfoRecord:
		rid := &InformInfoRecordID{SubscriberGID: r.GID(), Enum: r.U16()}
		r.Skip(6)
		return rid, decodeInformInfo(r)
	case AttrLinkRecord:
		return nil, decodeLinkRecord(r)
	case AttrServiceRecord:
		return nil, decodeServiceRecord(r)
	case AttrPathRecord:
		return nil, decodePathRecord(r)
	case AttrMCMemberRecord:
		return nil, decodeMCMemberRecord(r)
	case AttrTraceRecord:
		return nil, decodeTraceRecord(r)
	case AttrMultiPathRecord:
		return nil, decodeMultiPathRecord(r)
	case AttrServiceAssociationRecord:
		return nil, decodeServiceAssociationRecord(r)
	}
	return nil, &Opaque{Data: r.N(saDataSize)}
}

// Record key prefixes.

type LIDRecordID struct {
	LID uint16
}

type PortRecordID struct {
	LID  uint16
	Port uint8
}

type SLtoVLRecordID struct {
	LID        uint16
	InputPort  uint8
	OutputPort uint8
}

// BlockRecordID keys block-indexed tables. Port and Position are only set by
// the records that carry them.
type BlockRecordID struct {
	LID      uint16
	Block    uint16
	Port     uint8 `json:",omitempty"`
	Position uint8 `json:",omitempty"`
}

type InformInfoRecordID struct {
	SubscriberGID [16]byte
	Enum          uint16
}
