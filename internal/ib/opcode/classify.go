package opcode

// Header identifies one extended transport header kind.
type Header uint8

const (
	RDETH        Header = iota + 1 // reliable datagram extended transport header
	DETH                           // datagram extended transport header
	RETH                           // RDMA extended transport header
	ImmDt                          // immediate data
	AtomicETH                      // atomic extended transport header
	AETH                           // ACK extended transport header
	AtomicAckETH                   // atomic ACK extended transport header
	IETH                           // invalidate extended transport header
	FETH                           // flush extended transport header
	DCCETH                         // DC connect extended transport header
)

var headerInfo = map[Header]struct {
	name string
	size int
}{
	RDETH:        {"RDETH", 4},
	DETH:         {"DETH", 8},
	RETH:         {"RETH", 16},
	ImmDt:        {"ImmDt", 4},
	AtomicETH:    {"AtomicETH", 28},
	AETH:         {"AETH", 4},
	AtomicAckETH: {"AtomicAckETH", 8},
	IETH:         {"IETH", 4},
	FETH:         {"FETH", 4},
	DCCETH:       {"DCCETH", 16},
}

// Size returns the fixed wire length of the header.
func (h Header) Size() int { return headerInfo[h].size }

func (h Header) String() string {
	if i, ok := headerInfo[h]; ok {
		return i.name
	}
	return "unknown"
}

// Tag names the ordered sequence of extended headers implied by an opcode.
type Tag uint8

const (
	TagUnknown Tag = iota
	TagRdethDethPayload
	TagRdethDethRethPayload
	TagRdethDethImmdtPayload
	TagRdethDethRethImmdtPayload
	TagRdethDethReth
	TagRdethAethPayload
	TagRdethPayload
	TagRdethAeth
	TagRdethAethAtomicAckEth
	TagRdethDethAtomicEth
	TagRdethDethFethReth
	TagRdethDethRethAtomicWrite
	TagDethPayload
	TagDethImmdtPayload
	TagPayload
	TagImmdtPayload
	TagRethPayload
	TagRethImmdtPayload
	TagReth
	TagAethPayload
	TagAeth
	TagAethAtomicAckEth
	TagAtomicEth
	TagIethPayload
	TagDcceth
	TagFethReth
	TagRethAtomicWrite

	numTags
)

// Sequence describes what a tag decodes.
type Sequence struct {
	Name    string
	Headers []Header
	// Payload is true when a payload follows the extended headers.
	Payload bool
}

var sequences = [numTags]Sequence{
	TagUnknown:                   {Name: "Unknown/Vendor"},
	TagRdethDethPayload:          {"RDETH+DETH+Payload", []Header{RDETH, DETH}, true},
	TagRdethDethRethPayload:      {"RDETH+DETH+RETH+Payload", []Header{RDETH, DETH, RETH}, true},
	TagRdethDethImmdtPayload:     {"RDETH+DETH+ImmDt+Payload", []Header{RDETH, DETH, ImmDt}, true},
	TagRdethDethRethImmdtPayload: {"RDETH+DETH+RETH+ImmDt+Payload", []Header{RDETH, DETH, RETH, ImmDt}, true},
	TagRdethDethReth:             {"RDETH+DETH+RETH", []Header{RDETH, DETH, RETH}, false},
	TagRdethAethPayload:          {"RDETH+AETH+Payload", []Header{RDETH, AETH}, true},
	TagRdethPayload:              {"RDETH+Payload", []Header{RDETH}, true},
	TagRdethAeth:                 {"RDETH+AETH", []Header{RDETH, AETH}, false},
	TagRdethAethAtomicAckEth:     {"RDETH+AETH+AtomicAckETH", []Header{RDETH, AETH, AtomicAckETH}, false},
	TagRdethDethAtomicEth:        {"RDETH+DETH+AtomicETH", []Header{RDETH, DETH, AtomicETH}, false},
	TagRdethDethFethReth:         {"RDETH+DETH+FETH+RETH", []Header{RDETH, DETH, FETH, RETH}, false},
	TagRdethDethRethAtomicWrite:  {"RDETH+DETH+RETH+AtomicWrite", []Header{RDETH, DETH, RETH}, true},
	TagDethPayload:               {"DETH+Payload", []Header{DETH}, true},
	TagDethImmdtPayload:          {"DETH+ImmDt+Payload", []Header{DETH, ImmDt}, true},
	TagPayload:                   {"Payload", nil, true},
	TagImmdtPayload:              {"ImmDt+Payload", []Header{ImmDt}, true},
	TagRethPayload:               {"RETH+Payload", []Header{RETH}, true},
	TagRethImmdtPayload:          {"RETH+ImmDt+Payload", []Header{RETH, ImmDt}, true},
	// RDMA READ requests carry no payload on the wire, but the payload step
	// still runs after the RETH so any trailing bytes are accounted for.
	TagReth:             {"RETH", []Header{RETH}, true},
	TagAethPayload:      {"AETH+Payload", []Header{AETH}, true},
	TagAeth:             {"AETH", []Header{AETH}, false},
	TagAethAtomicAckEth: {"AETH+AtomicAckETH", []Header{AETH, AtomicAckETH}, false},
	TagAtomicEth:        {"AtomicETH", []Header{AtomicETH}, false},
	TagIethPayload:      {"IETH+Payload", []Header{IETH}, true},
	TagDcceth:           {"DCCETH", []Header{DCCETH}, false},
	TagFethReth:         {"FETH+RETH", []Header{FETH, RETH}, false},
	TagRethAtomicWrite:  {"RETH+AtomicWrite", []Header{RETH}, true},
}

// Sequence returns the header sequence selected by t.
func (t Tag) Sequence() Sequence {
	if t >= numTags {
		return sequences[TagUnknown]
	}
	return sequences[t]
}

func (t Tag) String() string { return t.Sequence().Name }

// Tags returns every tag in declaration order.
func Tags() []Tag {
	out := make([]Tag, 0, numTags)
	for t := Tag(0); t < numTags; t++ {
		out = append(out, t)
	}
	return out
}

// set is a 256-bit opcode membership bitmap.
type set [4]uint64

func newSet(ops ...uint8) set {
	var s set
	for _, op := range ops {
		s[op>>6] |= 1 << (op & 63)
	}
	return s
}

func (s set) has(op uint8) bool { return s[op>>6]&(1<<(op&63)) != 0 }

// rule pairs a membership set with the tag it selects.
type rule struct {
	tag Tag
	ops set
}

func rc(op uint8) uint8  { return ClassRC<<5 | op }
func uc(op uint8) uint8  { return ClassUC<<5 | op }
func rd(op uint8) uint8  { return ClassRD<<5 | op }
func ud(op uint8) uint8  { return ClassUD<<5 | op }
func xrc(op uint8) uint8 { return ClassXRC<<5 | op }

// connected expands an operation list over the RC, UC-capable and XRC
// classes. UC only carries Send and RDMA Write operations, so uc filters.
func connected(withUC bool, ops ...uint8) []uint8 {
	out := make([]uint8, 0, len(ops)*3)
	for _, op := range ops {
		out = append(out, rc(op), xrc(op))
		if withUC {
			out = append(out, uc(op))
		}
	}
	return out
}

// rules is evaluated in order and the first matching set wins. The sets are
// disjoint for every assigned opcode; TestClassifySetsDisjoint guards this.
var rules = []rule{
	// Reliable datagram
	{TagRdethDethPayload, newSet(rd(SendFirst), rd(SendMiddle), rd(SendLast), rd(SendOnly),
		rd(RDMAWriteMiddle), rd(RDMAWriteLast))},
	{TagRdethDethRethPayload, newSet(rd(RDMAWriteFirst), rd(RDMAWriteOnly))},
	{TagRdethDethImmdtPayload, newSet(rd(SendLastImm), rd(SendOnlyImm), rd(RDMAWriteLastImm))},
	{TagRdethDethRethImmdtPayload, newSet(rd(RDMAWriteOnlyImm))},
	{TagRdethDethReth, newSet(rd(RDMAReadRequest))},
	{TagRdethAethPayload, newSet(rd(RDMAReadResponseFirst), rd(RDMAReadResponseLast), rd(RDMAReadResponseOnly))},
	{TagRdethPayload, newSet(rd(RDMAReadResponseMiddle))},
	{TagRdethAeth, newSet(rd(Acknowledge))},
	{TagRdethAethAtomicAckEth, newSet(rd(AtomicAcknowledge))},
	{TagRdethDethAtomicEth, newSet(rd(CmpSwap), rd(FetchAdd))},
	{TagRdethDethFethReth, newSet(rd(Flush))},
	{TagRdethDethRethAtomicWrite, newSet(rd(AtomicWrite))},

	// Unreliable datagram
	{TagDethPayload, newSet(ud(SendOnly))},
	{TagDethImmdtPayload, newSet(ud(SendOnlyImm))},

	// Reliable connection, unreliable connection and XRC
	{TagPayload, newSet(append(connected(true, SendFirst, SendMiddle, SendLast, SendOnly,
		RDMAWriteMiddle, RDMAWriteLast), append(connected(false, RDMAReadResponseMiddle), CNP)...)...)},
	{TagImmdtPayload, newSet(connected(true, SendLastImm, SendOnlyImm, RDMAWriteLastImm)...)},
	{TagRethPayload, newSet(connected(true, RDMAWriteFirst, RDMAWriteOnly)...)},
	{TagRethImmdtPayload, newSet(connected(true, RDMAWriteOnlyImm)...)},
	{TagReth, newSet(connected(false, RDMAReadRequest)...)},
	{TagAethPayload, newSet(connected(false, RDMAReadResponseFirst, RDMAReadResponseLast, RDMAReadResponseOnly)...)},
	{TagAeth, newSet(connected(false, Acknowledge)...)},
	{TagAethAtomicAckEth, newSet(connected(false, AtomicAcknowledge)...)},
	{TagAtomicEth, newSet(connected(false, CmpSwap, FetchAdd)...)},
	{TagIethPayload, newSet(connected(false, SendLastInval, SendOnlyInval)...)},
	{TagFethReth, newSet(connected(false, Flush)...)},
	{TagRethAtomicWrite, newSet(connected(false, AtomicWrite)...)},
}

// Classify returns the header sequence tag for op. dcConnect is the derived
// DC-connect flag (see IsDCConnect). Unassigned opcodes yield TagUnknown and
// the remaining bytes are treated as an opaque vendor header.
func Classify(op uint8, dcConnect bool) Tag {
	if op == RDResync {
		if dcConnect {
			return TagDcceth
		}
		return TagPayload
	}
	for _, r := range rules {
		if r.ops.has(op) {
			return r.tag
		}
	}
	return TagUnknown
}
