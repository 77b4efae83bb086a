package mad

import "firestige.xyz/ibdissect/internal/core/wire"

func hi4(b uint8) uint8 { return b >> 4 }
func lo4(b uint8) uint8 { return b & 0x0F }

// Notice is the trap/notice attribute. In a subnet management packet it runs
// past the 64-byte attribute region into the reserved area.
type Notice struct {
	IsGeneric        bool
	Type             uint8
	ProducerOrVendor uint32 // ProducerType when generic, VendorID otherwise
	TrapOrDeviceID   uint16 // TrapNumber when generic, DeviceID otherwise
	IssuerLID        uint16
	Toggle           bool
	Count            uint16
	DataDetails      []byte
	IssuerGID        [16]byte
}

func decodeNotice(r *wire.Reader) *Notice {
	n := &Notice{}
	b := r.U8()
	n.IsGeneric = b&0x80 != 0
	n.Type = b & 0x7F
	n.ProducerOrVendor = r.U24()
	n.TrapOrDeviceID = r.U16()
	n.IssuerLID = r.U16()
	tc := r.U16()
	n.Toggle = tc&0x8000 != 0
	n.Count = tc & 0x7FFF
	n.DataDetails = r.N(54)
	n.IssuerGID = r.GID()
	return n
}

type NodeDescription struct {
	Description string
}

func decodeNodeDescription(r *wire.Reader) *NodeDescription {
	return &NodeDescription{Description: cstring(r.N(64))}
}

type NodeInfo struct {
	BaseVersion     uint8
	ClassVersion    uint8
	NodeType        uint8
	NumPorts        uint8
	SystemImageGUID uint64
	NodeGUID        uint64
	PortGUID        uint64
	PartitionCap    uint16
	DeviceID        uint16
	Revision        uint32
	LocalPortNum    uint8
	VendorID        uint32
}

func decodeNodeInfo(r *wire.Reader) *NodeInfo {
	return &NodeInfo{
		BaseVersion:     r.U8(),
		ClassVersion:    r.U8(),
		NodeType:        r.U8(),
		NumPorts:        r.U8(),
		SystemImageGUID: r.U64(),
		NodeGUID:        r.U64(),
		PortGUID:        r.U64(),
		PartitionCap:    r.U16(),
		DeviceID:        r.U16(),
		Revision:        r.U32(),
		LocalPortNum:    r.U8(),
		VendorID:        r.U24(),
	}
}

type SwitchInfo struct {
	LinearFDBCap                      uint16
	RandomFDBCap                      uint16
	MulticastFDBCap                   uint16
	LinearFDBTop                      uint16
	DefaultPort                       uint8
	DefaultMulticastPrimaryPort       uint8
	DefaultMulticastNotPrimaryPort    uint8
	LifeTimeValue                     uint8
	PortStateChange                   bool
	OptimizedSLtoVLMappingProgramming uint8
	LIDsPerPort                       uint16
	PartitionEnforcementCap           uint16
	InboundEnforcementCap             bool
	OutboundEnforcementCap            bool
	FilterRawInboundCap               bool
	FilterRawOutboundCap              bool
	EnhancedPortZero                  bool
}

func decodeSwitchInfo(r *wire.Reader) *SwitchInfo {
	s := &SwitchInfo{
		LinearFDBCap:                   r.U16(),
		RandomFDBCap:                   r.U16(),
		MulticastFDBCap:                r.U16(),
		LinearFDBTop:                   r.U16(),
		DefaultPort:                    r.U8(),
		DefaultMulticastPrimaryPort:    r.U8(),
		DefaultMulticastNotPrimaryPort: r.U8(),
	}
	b := r.U8()
	s.LifeTimeValue = b >> 3
	s.PortStateChange = b&0x04 != 0
	s.OptimizedSLtoVLMappingProgramming = b & 0x03
	s.LIDsPerPort = r.U16()
	s.PartitionEnforcementCap = r.U16()
	b = r.U8()
	s.InboundEnforcementCap = b&0x80 != 0
	s.OutboundEnforcementCap = b&0x40 != 0
	s.FilterRawInboundCap = b&0x20 != 0
	s.FilterRawOutboundCap = b&0x10 != 0
	s.EnhancedPortZero = b&0x08 != 0
	return s
}

type GUIDInfo struct {
	GUIDs [8]uint64
}

func decodeGUIDInfo(r *wire.Reader) *GUIDInfo {
	g := &GUIDInfo{}
	for i := range g.GUIDs {
		g.GUIDs[i] = r.U64()
	}
	return g
}

// CapabilityMask is the PortInfo capability bitmask.
type CapabilityMask uint32

// capabilityFlags lists the defined bits of the capability mask in bit order.
var capabilityFlags = []struct {
	bit  uint
	name string
}{
	{1, "IsSM"},
	{2, "IsNoticeSupported"},
	{3, "IsTrapSupported"},
	{4, "IsOptionalIPDSupported"},
	{5, "IsAutomaticMigrationSupported"},
	{6, "IsSLMappingSupported"},
	{7, "IsMKeyNVRAM"},
	{8, "IsPKeyNVRAM"},
	{9, "IsLEDInfoSupported"},
	{10, "IsSMdisabled"},
	{11, "IsSystemImageGUIDSupported"},
	{12, "IsPKeySwitchExternalPortTrapSupported"},
	{16, "IsCommunicationManagementSupported"},
	{17, "IsSNMPTunnelingSupported"},
	{18, "IsReinitSupported"},
	{19, "IsDeviceManagementSupported"},
	{20, "IsVendorClassSupported"},
	{21, "IsDRNoticeSupported"},
	{22, "IsCapabilityMaskNoticeSupported"},
	{23, "IsBootManagementSupported"},
	{24, "IsLinkRoundTripLatencySupported"},
	{25, "IsClientReregistrationSupported"},
	{26, "IsOtherLocalChangesNoticeSupported"},
	{27, "IsLinkSpeedWidthPairsTableSupported"},
}

// Flags returns every defined flag keyed by name.
func (m CapabilityMask) Flags() map[string]bool {
	out := make(map[string]bool, len(capabilityFlags))
	for _, f := range capabilityFlags {
		out[f.name] = uint32(m)&(1<<f.bit) != 0
	}
	return out
}

// Has reports whether the named flag is set.
func (m CapabilityMask) Has(name string) bool {
	for _, f := range capabilityFlags {
		if f.name == name {
			return uint32(m)&(1<<f.bit) != 0
		}
	}
	return false
}

// PortInfo is the largest subnet management attribute.
type PortInfo struct {
	MKey                         uint64
	GIDPrefix                    uint64
	LID                          uint16
	MasterSMLID                  uint16
	CapabilityMask               CapabilityMask
	DiagCode                     uint16
	MKeyLeasePeriod              uint16
	LocalPortNum                 uint8
	LinkWidthEnabled             uint8
	LinkWidthSupported           uint8
	LinkWidthActive              uint8
	LinkSpeedSupported           uint8
	PortState                    uint8
	PortPhysicalState            uint8
	LinkDownDefaultState         uint8
	MKeyProtectBits              uint8
	LMC                          uint8
	LinkSpeedActive              uint8
	LinkSpeedEnabled             uint8
	NeighborMTU                  uint8
	MasterSMSL                   uint8
	VLCap                        uint8
	InitType                     uint8
	VLHighLimit                  uint8
	VLArbitrationHighCap         uint8
	VLArbitrationLowCap          uint8
	InitTypeReply                uint8
	MTUCap                       uint8
	VLStallCount                 uint8
	HOQLife                      uint8
	OperationalVLs               uint8
	PartitionEnforcementInbound  bool
	PartitionEnforcementOutbound bool
	FilterRawInbound             bool
	FilterRawOutbound            bool
	MKeyViolations               uint16
	PKeyViolations               uint16
	QKeyViolations               uint16
	GUIDCap                      uint8
	ClientReregister             bool
	SubnetTimeOut                uint8
	RespTimeValue                uint8
	LocalPhyErrors               uint8
	OverrunErrors                uint8
	MaxCreditHint                uint16
	LinkRoundTripLatency         uint32
	CapabilityMask2              uint16
	LinkSpeedExtActive           uint8
	LinkSpeedExtSupported        uint8
	LinkSpeedExtEnabled          uint8
}

// DecodePortInfo decodes a 64-byte PortInfo attribute at the cursor.
func DecodePortInfo(r *wire.Reader) *PortInfo {
	p := &PortInfo{
		MKey:               r.U64(),
		GIDPrefix:          r.U64(),
		LID:                r.U16(),
		MasterSMLID:        r.U16(),
		CapabilityMask:     CapabilityMask(r.U32()),
		DiagCode:           r.U16(),
		MKeyLeasePeriod:    r.U16(),
		LocalPortNum:       r.U8(),
		LinkWidthEnabled:   r.U8(),
		LinkWidthSupported: r.U8(),
		LinkWidthActive:    r.U8(),
	}

	b := r.U8()
	p.LinkSpeedSupported, p.PortState = hi4(b), lo4(b)
	b = r.U8()
	p.PortPhysicalState, p.LinkDownDefaultState = hi4(b), lo4(b)
	b = r.U8()
	p.MKeyProtectBits, p.LMC = b>>6, b&0x07
	b = r.U8()
	p.LinkSpeedActive, p.LinkSpeedEnabled = hi4(b), lo4(b)
	b = r.U8()
	p.NeighborMTU, p.MasterSMSL = hi4(b), lo4(b)
	b = r.U8()
	p.VLCap, p.InitType = hi4(b), lo4(b)
	p.VLHighLimit = r.U8()
	p.VLArbitrationHighCap = r.U8()
	p.VLArbitrationLowCap = r.U8()
	b = r.U8()
	p.InitTypeReply, p.MTUCap = hi4(b), lo4(b)
	b = r.U8()
	p.VLStallCount, p.HOQLife = b>>5, b&0x1F
	b = r.U8()
	p.OperationalVLs = hi4(b)
	p.PartitionEnforcementInbound = b&0x08 != 0
	p.PartitionEnforcementOutbound = b&0x04 != 0
	p.FilterRawInbound = b&0x02 != 0
	p.FilterRawOutbound = b&0x01 != 0

	p.MKeyViolations = r.U16()
	p.PKeyViolations = r.U16()
	p.QKeyViolations = r.U16()
	p.GUIDCap = r.U8()
	b = r.U8()
	p.ClientReregister = b&0x80 != 0
	p.SubnetTimeOut = b & 0x1F
	p.RespTimeValue = r.U8() & 0x1F
	b = r.U8()
	p.LocalPhyErrors, p.OverrunErrors = hi4(b), lo4(b)
	p.MaxCreditHint = r.U16()
	r.Skip(1)
	p.LinkRoundTripLatency = r.U24()
	p.CapabilityMask2 = r.U16()
	b = r.U8()
	p.LinkSpeedExtActive, p.LinkSpeedExtSupported = hi4(b), lo4(b)
	p.LinkSpeedExtEnabled = r.U8() & 0x1F
	return p
}

// PKeyEntry is one partition key; Full is the membership bit.
type PKeyEntry struct {
	Full bool
	Base uint16
}

type PKeyTable struct {
	Entries [32]PKeyEntry
}

func decodePKeyTable(r *wire.Reader) *PKeyTable {
	t := &PKeyTable{}
	for i := range t.Entries {
		v := r.U16()
		t.Entries[i] = PKeyEntry{Full: v&0x8000 != 0, Base: v & 0x7FFF}
	}
	return t
}

// SLtoVLMappingTable maps each of the 16 service levels to a virtual lane.
type SLtoVLMappingTable struct {
	VL [16]uint8
}

func decodeSLtoVL(r *wire.Reader) *SLtoVLMappingTable {
	t := &SLtoVLMappingTable{}
	for i := 0; i < 8; i++ {
		b := r.U8()
		t.VL[2*i], t.VL[2*i+1] = hi4(b), lo4(b)
	}
	return t
}

type VLWeight struct {
	VL     uint8
	Weight uint8
}

type VLArbitrationTable struct {
	Entries [32]VLWeight
}

func decodeVLArbitration(r *wire.Reader) *VLArbitrationTable {
	t := &VLArbitrationTable{}
	for i := range t.Entries {
		t.Entries[i] = VLWeight{VL: lo4(r.U8()), Weight: r.U8()}
	}
	return t
}

type LinearForwardingTable struct {
	Ports [64]uint8
}

func decodeLinearForwarding(r *wire.Reader) *LinearForwardingTable {
	t := &LinearForwardingTable{}
	for i := range t.Ports {
		t.Ports[i] = r.U8()
	}
	return t
}

type RandomForwardingEntry struct {
	LID   uint16
	Valid bool
	LMC   uint8
	Port  uint8
}

type RandomForwardingTable struct {
	Entries [16]RandomForwardingEntry
}

func decodeRandomForwarding(r *wire.Reader) *RandomForwardingTable {
	t := &RandomForwardingTable{}
	for i := range t.Entries {
		e := RandomForwardingEntry{LID: r.U16()}
		b := r.U8()
		e.Valid = b&0x80 != 0
		e.LMC = (b >> 4) & 0x07
		e.Port = r.U8()
		t.Entries[i] = e
	}
	return t
}

type MulticastForwardingTable struct {
	PortMasks [16]uint16
}

func decodeMulticastForwarding(r *wire.Reader) *MulticastForwardingTable {
	t := &MulticastForwardingTable{}
	for i := range t.PortMasks {
		t.PortMasks[i] = r.U16()
	}
	return t
}

type SMInfo struct {
	GUID     uint64
	SMKey    uint64
	ActCount uint32
	Priority uint8
	SMState  uint8
}

func decodeSMInfo(r *wire.Reader) *SMInfo {
	s := &SMInfo{GUID: r.U64(), SMKey: r.U64(), ActCount: r.U32()}
	b := r.U8()
	s.Priority, s.SMState = hi4(b), lo4(b)
	return s
}

type VendorDiag struct {
	NextIndex uint16
	DiagData  []byte
}

func decodeVendorDiag(r *wire.Reader) *VendorDiag {
	return &VendorDiag{NextIndex: r.U16(), DiagData: r.N(62)}
}

type LedInfo struct {
	LedMask bool
}

func decodeLedInfo(r *wire.Reader) *LedInfo {
	return &LedInfo{LedMask: r.U8()&0x80 != 0}
}

type LinkSpeedWidthPairs struct {
	NumTables    uint8
	PortMask     []byte
	SpeedTwoFive uint8
	SpeedFive    uint8
	SpeedTen     uint8
}

func decodeLinkSpeedWidthPairs(r *wire.Reader) *LinkSpeedWidthPairs {
	t := &LinkSpeedWidthPairs{NumTables: r.U8()}
	r.Skip(3)
	t.PortMask = r.N(32)
	t.SpeedTwoFive = r.U8()
	t.SpeedFive = r.U8()
	t.SpeedTen = r.U8()
	return t
}
