// Package opcode maps transport opcodes to the extended-header sequence that
// follows the base transport header.
package opcode

// Transport service classes occupy the top three bits of the opcode.
const (
	ClassRC  = 0x0
	ClassUC  = 0x1
	ClassRD  = 0x2
	ClassUD  = 0x3
	ClassCNP = 0x4
	ClassXRC = 0x5

	// ExtendedTransportClass is the class whose transport header carries an
	// 8-byte extension and whose RESYNC opcode doubles as DC connect.
	ExtendedTransportClass = ClassRD
)

// Operation codes within a service class (low five bits).
const (
	SendFirst              = 0x00
	SendMiddle             = 0x01
	SendLast               = 0x02
	SendLastImm            = 0x03
	SendOnly               = 0x04
	SendOnlyImm            = 0x05
	RDMAWriteFirst         = 0x06
	RDMAWriteMiddle        = 0x07
	RDMAWriteLast          = 0x08
	RDMAWriteLastImm       = 0x09
	RDMAWriteOnly          = 0x0A
	RDMAWriteOnlyImm       = 0x0B
	RDMAReadRequest        = 0x0C
	RDMAReadResponseFirst  = 0x0D
	RDMAReadResponseMiddle = 0x0E
	RDMAReadResponseLast   = 0x0F
	RDMAReadResponseOnly   = 0x10
	Acknowledge            = 0x11
	AtomicAcknowledge      = 0x12
	CmpSwap                = 0x13
	FetchAdd               = 0x14
	Resync                 = 0x15
	SendLastInval          = 0x16
	SendOnlyInval          = 0x17
	Flush                  = 0x1C
	AtomicWrite            = 0x1D
)

// Full opcode values referenced outside this package.
const (
	RCSendFirst   = ClassRC<<5 | SendFirst
	RCSendOnly    = ClassRC<<5 | SendOnly
	RCRDMAReadReq = ClassRC<<5 | RDMAReadRequest
	RCAcknowledge = ClassRC<<5 | Acknowledge
	RDResync      = ClassRD<<5 | Resync // 0x55
	UDSendOnly    = ClassUD<<5 | SendOnly
	UDSendOnlyImm = ClassUD<<5 | SendOnlyImm
	CNP           = ClassCNP<<5 | 0x01 // 0x81
)

// Class returns the service class of op.
func Class(op uint8) uint8 { return op >> 5 }

// Operation returns the low five bits of op.
func Operation(op uint8) uint8 { return op & 0x1F }

// IsExtendedTransport reports whether the transport header for op carries
// the 8-byte extension.
func IsExtendedTransport(op uint8) bool { return Class(op) == ExtendedTransportClass }

// IsDCConnect derives the DC-connect flag from the opcode and the byte that
// follows it in the transport header.
func IsDCConnect(op, next uint8) bool {
	return IsExtendedTransport(op) && next&0x80 == 0
}

// Connected reports whether op belongs to a connected service whose Send
// messages may be split across packets.
func Connected(op uint8) bool {
	switch Class(op) {
	case ClassRC, ClassUC, ClassXRC:
		return true
	}
	return false
}

// SendPosition classifies a Send opcode by its place in a multi-packet
// message. ok is false for anything other than a Send.
func SendPosition(op uint8) (first, last, ok bool) {
	if !Connected(op) {
		return false, false, false
	}
	switch Operation(op) {
	case SendFirst:
		return true, false, true
	case SendMiddle:
		return false, false, true
	case SendLast, SendLastImm, SendLastInval:
		return false, true, true
	case SendOnly, SendOnlyImm, SendOnlyInval:
		return true, true, true
	}
	return false, false, false
}

var opNames = map[uint8]string{
	SendFirst:              "SEND First",
	SendMiddle:             "SEND Middle",
	SendLast:               "SEND Last",
	SendLastImm:            "SEND Last with Immediate",
	SendOnly:               "SEND Only",
	SendOnlyImm:            "SEND Only with Immediate",
	RDMAWriteFirst:         "RDMA WRITE First",
	RDMAWriteMiddle:        "RDMA WRITE Middle",
	RDMAWriteLast:          "RDMA WRITE Last",
	RDMAWriteLastImm:       "RDMA WRITE Last with Immediate",
	RDMAWriteOnly:          "RDMA WRITE Only",
	RDMAWriteOnlyImm:       "RDMA WRITE Only with Immediate",
	RDMAReadRequest:        "RDMA READ Request",
	RDMAReadResponseFirst:  "RDMA READ response First",
	RDMAReadResponseMiddle: "RDMA READ response Middle",
	RDMAReadResponseLast:   "RDMA READ response Last",
	RDMAReadResponseOnly:   "RDMA READ response Only",
	Acknowledge:            "Acknowledge",
	AtomicAcknowledge:      "ATOMIC Acknowledge",
	CmpSwap:                "CmpSwap",
	FetchAdd:               "FetchAdd",
	Resync:                 "RESYNC",
	SendLastInval:          "SEND Last with Invalidate",
	SendOnlyInval:          "SEND Only with Invalidate",
	Flush:                  "FLUSH",
	AtomicWrite:            "ATOMIC WRITE",
}

var classNames = [8]string{"RC", "UC", "RD", "UD", "CNP", "XRC", "Vendor", "Vendor"}

// Name returns a display name such as "RC SEND Only".
func Name(op uint8) string {
	if op == CNP {
		return "CNP"
	}
	cls := classNames[Class(op)]
	switch Class(op) {
	case ClassRC, ClassUC, ClassRD, ClassUD, ClassXRC:
		if n, ok := opNames[Operation(op)]; ok {
			return cls + " " + n
		}
	}
	return cls + " opcode"
}
