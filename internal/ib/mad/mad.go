// Package mad decodes management datagrams: the common header, class
// dispatch and the per-class attribute bodies.
package mad

import (
	"fmt"

	"firestige.xyz/ibdissect/internal/core"
	"firestige.xyz/ibdissect/internal/core/wire"
	"firestige.xyz/ibdissect/internal/ib/cmstore"
	"firestige.xyz/ibdissect/internal/log"
	"firestige.xyz/ibdissect/internal/metrics"
	"firestige.xyz/ibdissect/pkg/plugin"
)

const (
	// Size is the fixed envelope of every management datagram.
	Size = 256
	// HeaderSize is the common header.
	HeaderSize = 24
	// DataSize is the class-specific region after the common header.
	DataSize = Size - HeaderSize
)

// Management classes.
const (
	ClassSubnetLID      uint8 = 0x01
	ClassSubnetAdmin    uint8 = 0x03
	ClassPerformance    uint8 = 0x04
	ClassBaseboard      uint8 = 0x05
	ClassDevice         uint8 = 0x06
	ClassConnection     uint8 = 0x07
	ClassSNMP           uint8 = 0x08
	ClassSubnetDirected uint8 = 0x81
)

func vendor(class uint8) bool {
	return (class >= 0x09 && class <= 0x0F) || (class >= 0x30 && class <= 0x4F)
}

func application(class uint8) bool { return class >= 0x10 && class <= 0x2F }

// Kind is the decoding branch selected by the management class.
type Kind uint8

const (
	KindNone Kind = iota
	KindSubnetLID
	KindSubnetDirected
	KindSubnetAdmin
	KindPerformance
	KindBaseboard
	KindDevice
	KindConnection
	KindSNMP
	KindVendor
	KindApplication
	KindReserved
)

var kindNames = [...]string{
	KindNone:           "none",
	KindSubnetLID:      "SubnMgt",
	KindSubnetDirected: "SubnMgt (directed route)",
	KindSubnetAdmin:    "SubnAdm",
	KindPerformance:    "Perf",
	KindBaseboard:      "BM",
	KindDevice:         "DevMgt",
	KindConnection:     "ComMgt",
	KindSNMP:           "SNMP",
	KindVendor:         "Vendor",
	KindApplication:    "Application",
	KindReserved:       "Reserved",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return "none"
}

func (k Kind) MarshalText() ([]byte, error) { return []byte(k.String()), nil }

func reserved(class uint8) bool {
	return class == 0x00 || class == 0x02 ||
		(class >= 0x50 && class <= 0x80) || class >= 0x82
}

// ClassifyClass maps a management class byte to its branch. Vendor ranges
// are tested first, then the application range, then the reserved ranges,
// then the named classes.
func ClassifyClass(class uint8) Kind {
	switch {
	case vendor(class):
		return KindVendor
	case application(class):
		return KindApplication
	case reserved(class):
		return KindReserved
	}
	switch class {
	case ClassSubnetLID:
		return KindSubnetLID
	case ClassSubnetDirected:
		return KindSubnetDirected
	case ClassSubnetAdmin:
		return KindSubnetAdmin
	case ClassPerformance:
		return KindPerformance
	case ClassBaseboard:
		return KindBaseboard
	case ClassDevice:
		return KindDevice
	case ClassConnection:
		return KindConnection
	case ClassSNMP:
		return KindSNMP
	}
	return KindNone
}

// Header is the common management header.
type Header struct {
	BaseVersion       uint8
	Class             uint8
	ClassVersion      uint8
	Response          bool
	Method            uint8 // including the response bit
	Status            uint16
	ClassSpecific     uint16
	TransactionID     uint64
	AttributeID       uint16
	AttributeModifier uint32
}

// MethodName returns the method label.
func (h Header) MethodName() string { return MethodName(h.Method) }

// ParseHeader decodes the common header at the cursor. A full envelope must
// be captured from the cursor even though the header is shorter.
func ParseHeader(r *wire.Reader) (Header, error) {
	if r.Captured() < Size {
		return Header{}, wire.Truncated(fmt.Sprintf("management datagram needs %d bytes, %d captured", Size, r.Captured()))
	}
	var h Header
	h.BaseVersion = r.U8()
	h.Class = r.U8()
	h.ClassVersion = r.U8()
	h.Method = r.U8()
	h.Response = h.Method&0x80 != 0
	h.Status = r.U16()
	h.ClassSpecific = r.U16()
	h.TransactionID = r.U64()
	h.AttributeID = r.U16()
	r.Skip(2)
	h.AttributeModifier = r.U32()
	return h, r.Err()
}

// Context is the per-packet information the decoder needs from the
// transport layers.
type Context struct {
	Frame      uint64
	FirstVisit bool
	SrcAddr    core.Address
	DstAddr    core.Address
	SrcLID     uint16
	DstLID     uint16
	SrcQP      uint32
	DstQP      uint32
	PKey       uint16
}

// Datagram is a decoded management datagram. Body holds one of *SMP, *SA,
// *Perf, *CM or *Opaque depending on Kind.
type Datagram struct {
	Header        Header
	Kind          Kind
	AttributeName string
	Body          any
	Diagnostics   core.Diagnostics
}

// Opaque is the body of stub classes and unrecognized attributes.
type Opaque struct {
	Data []byte
}

// Deps are the session collaborators of the connection-management branch.
// Any of them may be nil.
type Deps struct {
	Store         *cmstore.Store
	Conversations plugin.ConversationTable
	Heuristics    []plugin.HeuristicDecoder
	Logger        log.Logger
}

// Decoder decodes management datagrams.
type Decoder struct {
	store      *cmstore.Store
	convs      plugin.ConversationTable
	heuristics []plugin.HeuristicDecoder
	logger     log.Logger
}

// NewDecoder creates a decoder bound to session collaborators.
func NewDecoder(deps Deps) *Decoder {
	if deps.Logger == nil {
		deps.Logger = log.GetLogger()
	}
	return &Decoder{
		store:      deps.Store,
		convs:      deps.Conversations,
		heuristics: deps.Heuristics,
		logger:     deps.Logger,
	}
}

// DecodeBytes decodes a datagram starting at buf[0].
func (d *Decoder) DecodeBytes(buf []byte, ctx *Context) *Datagram {
	return d.Decode(wire.NewReader(buf, len(buf)), ctx)
}

// Decode decodes the datagram at the cursor. On success the cursor is left at
// the end of the envelope; when the common header cannot be parsed it is
// left where it was and the datagram carries a truncation diagnostic.
// Diagnostic offsets are relative to the start of the datagram.
func (d *Decoder) Decode(r *wire.Reader, ctx *Context) *Datagram {
	if ctx == nil {
		ctx = &Context{}
	}
	start := r.Offset()
	dg := &Datagram{}

	h, err := ParseHeader(r)
	if err != nil {
		r.Seek(start)
		dg.Diagnostics.Add(core.DiagTruncated, "mad", 0, err)
		return dg
	}
	dg.Header = h
	dg.Kind = ClassifyClass(h.Class)
	dg.AttributeName = AttributeName(dg.Kind, h.AttributeID)
	metrics.ManagementDatagramsTotal.WithLabelValues(dg.Kind.String()).Inc()

	body := r.Sub(DataSize)
	switch dg.Kind {
	case KindSubnetLID, KindSubnetDirected:
		dg.Body = d.decodeSMP(body, dg)
	case KindSubnetAdmin:
		dg.Body = d.decodeSA(body, dg)
	case KindPerformance:
		dg.Body = d.decodePerf(body, dg)
	case KindConnection:
		dg.Body = d.decodeCM(body, dg, ctx)
	case KindNone:
	default:
		dg.Body = &Opaque{Data: body.N(DataSize)}
	}

	if d.logger.IsDebugEnabled() {
		for _, diag := range dg.Diagnostics {
			d.logger.WithFields(map[string]interface{}{
				"frame":  ctx.Frame,
				"offset": diag.Offset,
				"kind":   diag.Kind.String(),
			}).Debug("management datagram: ", diag.Layer)
		}
	}
	return dg
}

// fail records a failure inside the class body; offsets are relative to the
// start of the class-specific region.
func (dg *Datagram) fail(layer string, r *wire.Reader, err error) {
	dg.Diagnostics.Add(0, layer, HeaderSize+r.Offset(), err)
}
