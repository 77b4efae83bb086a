package mad

import "fmt"

var methodNames = map[uint8]string{
	0x01: "Get",
	0x02: "Set",
	0x03: "Send",
	0x05: "Trap",
	0x06: "Report",
	0x07: "TrapRepress",
	0x12: "GetTable",
	0x13: "GetTraceTable",
	0x14: "GetMulti",
	0x15: "Delete",
	0x81: "GetResp",
	0x86: "ReportResp",
	0x92: "GetTableResp",
	0x94: "GetMultiResp",
	0x95: "DeleteResp",
}

// MethodName returns the label of a method byte, response bit included.
func MethodName(method uint8) string {
	if n, ok := methodNames[method]; ok {
		return n
	}
	return fmt.Sprintf("Method(0x%02x)", method)
}

// Subnet management attributes.
const (
	AttrNotice              uint16 = 0x0002
	AttrNodeDescription     uint16 = 0x0010
	AttrNodeInfo            uint16 = 0x0011
	AttrSwitchInfo          uint16 = 0x0012
	AttrGUIDInfo            uint16 = 0x0014
	AttrPortInfo            uint16 = 0x0015
	AttrPKeyTable           uint16 = 0x0016
	AttrSLtoVLMappingTable  uint16 = 0x0017
	AttrVLArbitrationTable  uint16 = 0x0018
	AttrLinearForwarding    uint16 = 0x0019
	AttrRandomForwarding    uint16 = 0x001A
	AttrMulticastForwarding uint16 = 0x001B
	AttrSMInfo              uint16 = 0x0020
	AttrVendorDiag          uint16 = 0x0030
	AttrLedInfo             uint16 = 0x0031
	AttrLinkSpeedWidthPairs uint16 = 0x0035
)

// Subnet administration attributes.
const (
	AttrClassPortInfo             uint16 = 0x0001
	AttrInformInfo                uint16 = 0x0003
	AttrNodeRecord                uint16 = 0x0011
	AttrPortInfoRecord            uint16 = 0x0012
	AttrSLtoVLMappingTableRecord  uint16 = 0x0013
	AttrSwitchInfoRecord          uint16 = 0x0014
	AttrLinearForwardingRecord    uint16 = 0x0015
	AttrRandomForwardingRecord    uint16 = 0x0016
	AttrMulticastForwardingRecord uint16 = 0x0017
	AttrSMInfoRecord              uint16 = 0x0018
	AttrLinkRecord                uint16 = 0x0020
	AttrGuidInfoRecord            uint16 = 0x0030
	AttrServiceRecord             uint16 = 0x0031
	AttrPKeyTableRecord           uint16 = 0x0033
	AttrPathRecord                uint16 = 0x0035
	AttrVLArbitrationTableRecord  uint16 = 0x0036
	AttrMCMemberRecord            uint16 = 0x0038
	AttrTraceRecord               uint16 = 0x0039
	AttrMultiPathRecord           uint16 = 0x003A
	AttrServiceAssociationRecord  uint16 = 0x003B
	AttrInformInfoRecord          uint16 = 0x00F3
)

// Performance management attributes.
const (
	AttrPortCounters         uint16 = 0x0012
	AttrPortCountersExtended uint16 = 0x001D
)

// Communication management attributes.
const (
	AttrConnectRequest     uint16 = 0x0010
	AttrMessageReceiptAck  uint16 = 0x0011
	AttrConnectReject      uint16 = 0x0012
	AttrConnectReply       uint16 = 0x0013
	AttrReadyToUse         uint16 = 0x0014
	AttrDisconnectRequest  uint16 = 0x0015
	AttrDisconnectReply    uint16 = 0x0016
	AttrSIDRRequest        uint16 = 0x0017
	AttrSIDRReply          uint16 = 0x0018
	AttrLoadAlternatePath  uint16 = 0x0019
	AttrAlternatePathReply uint16 = 0x001A
)

var smpAttributeNames = map[uint16]string{
	AttrNotice:              "Notice",
	AttrNodeDescription:     "NodeDescription",
	AttrNodeInfo:            "NodeInfo",
	AttrSwitchInfo:          "SwitchInfo",
	AttrGUIDInfo:            "GUIDInfo",
	AttrPortInfo:            "PortInfo",
	AttrPKeyTable:           "P_KeyTable",
	AttrSLtoVLMappingTable:  "SLtoVLMappingTable",
	AttrVLArbitrationTable:  "VLArbitrationTable",
	AttrLinearForwarding:    "LinearForwardingTable",
	AttrRandomForwarding:    "RandomForwardingTable",
	AttrMulticastForwarding: "MulticastForwardingTable",
	AttrSMInfo:              "SMInfo",
	AttrVendorDiag:          "VendorDiag",
	AttrLedInfo:             "LedInfo",
	AttrLinkSpeedWidthPairs: "LinkSpeedWidthPairsTable",
	AttrClassPortInfo:       "ClassPortInfo",
}

var saAttributeNames = map[uint16]string{
	AttrClassPortInfo:             "ClassPortInfo",
	AttrNotice:                    "Notice",
	AttrInformInfo:                "InformInfo",
	AttrNodeRecord:                "NodeRecord",
	AttrPortInfoRecord:            "PortInfoRecord",
	AttrSLtoVLMappingTableRecord:  "SLtoVLMappingTableRecord",
	AttrSwitchInfoRecord:          "SwitchInfoRecord",
	AttrLinearForwardingRecord:    "LinearForwardingTableRecord",
	AttrRandomForwardingRecord:    "RandomForwardingTableRecord",
	AttrMulticastForwardingRecord: "MulticastForwardingTableRecord",
	AttrSMInfoRecord:              "SMInfoRecord",
	AttrLinkRecord:                "LinkRecord",
	AttrGuidInfoRecord:            "GuidInfoRecord",
	AttrServiceRecord:             "ServiceRecord",
	AttrPKeyTableRecord:           "P_KeyTableRecord",
	AttrPathRecord:                "PathRecord",
	AttrVLArbitrationTableRecord:  "VLArbitrationTableRecord",
	AttrMCMemberRecord:            "MCMemberRecord",
	AttrTraceRecord:               "TraceRecord",
	AttrMultiPathRecord:           "MultiPathRecord",
	AttrServiceAssociationRecord:  "ServiceAssociationRecord",
	AttrInformInfoRecord:          "InformInfoRecord",
}

var perfAttributeNames = map[uint16]string{
	AttrClassPortInfo:        "ClassPortInfo",
	AttrPortCounters:         "PortCounters",
	AttrPortCountersExtended: "PortCountersExtended",
}

var cmAttributeNames = map[uint16]string{
	AttrClassPortInfo:      "ClassPortInfo",
	AttrConnectRequest:     "ConnectRequest",
	AttrMessageReceiptAck:  "MsgRcptAck",
	AttrConnectReject:      "ConnectReject",
	AttrConnectReply:       "ConnectReply",
	AttrReadyToUse:         "ReadyToUse",
	AttrDisconnectRequest:  "DisconnectRequest",
	AttrDisconnectReply:    "DisconnectReply",
	AttrSIDRRequest:        "ServiceIDResReq",
	AttrSIDRReply:          "ServiceIDResReqResp",
	AttrLoadAlternatePath:  "LoadAlternatePath",
	AttrAlternatePathReply: "AlternatePathResponse",
}

// AttributeName returns the attribute label within the class branch.
func AttributeName(kind Kind, id uint16) string {
	var table map[uint16]string
	switch kind {
	case KindSubnetLID, KindSubnetDirected:
		table = smpAttributeNames
	case KindSubnetAdmin:
		table = saAttributeNames
	case KindPerformance:
		table = perfAttributeNames
	case KindConnection:
		table = cmAttributeNames
	}
	if n, ok := table[id]; ok {
		return n
	}
	return fmt.Sprintf("Attribute(0x%04x)", id)
}
