package mad

import "firestige.xyz/ibdissect/internal/core/wire"

const smpDataSize = 64

// SMP is a subnet management packet body, LID-routed or directed-route.
type SMP struct {
	MKey      uint64
	Directed  bool
	Route     *DirectedRoute `json:",omitempty"`
	Attribute any            `json:",omitempty"`
}

// DirectedRoute carries the directed-route fields. Direction, status and the
// hop fields live in the common header; the rest follows the M_Key.
type DirectedRoute struct {
	Direction   bool // set on the return path
	Status      uint16
	HopPointer  uint8
	HopCount    uint8
	DrSLID      uint16
	DrDLID      uint16
	InitialPath []byte
	ReturnPath  []byte
}

func (d *Decoder) decodeSMP(r *wire.Reader, dg *Datagram) *SMP {
	smp := &SMP{Directed: dg.Kind == KindSubnetDirected}
	if smp.Directed {
		h := dg.Header
		smp.Route = &DirectedRoute{
			Direction:  h.Status&0x8000 != 0,
			Status:     h.Status & 0x7FFF,
			HopPointer: uint8(h.ClassSpecific >> 8),
			HopCount:   uint8(h.ClassSpecific),
		}
	}

	smp.MKey = r.U64()
	if smp.Directed {
		smp.Route.DrSLID = r.U16()
		smp.Route.DrDLID = r.U16()
		r.Skip(28)
	} else {
		r.Skip(32)
	}

	dataStart := r.Offset()
	smp.Attribute = decodeSMPAttribute(r, dg.Header.AttributeID)
	if err := r.Err(); err != nil {
		dg.fail("smp", r, err)
		return smp
	}
	// Attribute decoders may read past the 64-byte region (Notice does).
	r.Seek(dataStart + smpDataSize)

	if smp.Directed {
		smp.Route.InitialPath = r.N(64)
		smp.Route.ReturnPath = r.N(64)
	} else {
		r.Skip(128)
	}
	if err := r.Err(); err != nil {
		dg.fail("smp", r, err)
	}
	return smp
}

// decodeSMPAttribute decodes one attribute at the cursor. Unknown attributes
// are returned as a 64-byte opaque region.
func decodeSMPAttribute(r *wire.Reader, id uint16) any {
	switch id {
	case AttrNotice:
		return decodeNotice(r)
	case AttrNodeDescription:
		return decodeNodeDescription(r)
	case AttrNodeInfo:
		return decodeNodeInfo(r)
	case AttrSwitchInfo:
		return decodeSwitchInfo(r)
	case AttrGUIDInfo:
		return decodeGUIDInfo(r)
	case AttrPortInfo:
		return DecodePortInfo(r)
	case AttrPKeyTable:
		return decodePKeyTable(r)
	case AttrSLtoVLMappingTable:
		return decodeSLtoVL(r)
	case AttrVLArbitrationTable:
		return decodeVLArbitration(r)
	case AttrLinearForwarding:
		return decodeLinearForwarding(r)
	case AttrRandomForwarding:
		return decodeRandomForwarding(r)
	case AttrMulticastForwarding:
		return decodeMulticastForwarding(r)
	case AttrSMInfo:
		return decodeSMInfo(r)
	case AttrVendorDiag:
		return decodeVendorDiag(r)
	case AttrLedInfo:
		return decodeLedInfo(r)
	case AttrLinkSpeedWidthPairs:
		return decodeLinkSpeedWidthPairs(r)
	}
	return &Opaque{Data: r.N(smpDataSize)}
}
