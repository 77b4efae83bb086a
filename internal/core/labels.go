// Package core defines core types.
package core

// Labels represents key-value metadata attached by the dissector.
type Labels map[string]string

// Label naming constants following {layer}.{field} convention.
const (
	LabelLinkDLID  = "lrh.dlid"
	LabelLinkSLID  = "lrh.slid"
	LabelLinkNext  = "lrh.lnh"
	LabelGlobalSrc = "grh.sgid"
	LabelGlobalDst = "grh.dgid"

	LabelOpcode   = "bth.opcode"   // Opcode name (e.g. "RC SEND Only")
	LabelDestQP   = "bth.dest_qp"  // Destination queue pair (hex)
	LabelPSN      = "bth.psn"      // Packet sequence number (decimal)
	LabelPKey     = "bth.pkey"     // Partition key (hex)
	LabelSequence = "bth.sequence" // Extended header sequence (e.g. "RETH+Payload")

	LabelMADClass     = "mad.class"     // Management class name
	LabelMADMethod    = "mad.method"    // Method name
	LabelMADAttribute = "mad.attribute" // Attribute name
	LabelMADTID       = "mad.tid"       // Transaction id (hex)

	LabelCMService = "cm.service_id" // Service id from a connection request (hex)

	LabelPayloadDecoder = "payload.decoder"
	LabelPayloadLength  = "payload.length"
	LabelTrailer        = "trailer" // icrc, vcrc, icrc+vcrc
)
