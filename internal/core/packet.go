// Package core defines core data structures with zero external dependencies.
package core

import (
	"net/netip"
	"time"
)

// StartKind tells the dissector which header the buffer begins with.
type StartKind uint8

const (
	StartLinkRouted    StartKind = iota // link header first (native link capture)
	StartGlobalRouted                   // global-route header first (RoCE over Ethernet)
	StartTransportOnly                  // transport header first (routable RoCE over UDP)
)

func (k StartKind) String() string {
	switch k {
	case StartLinkRouted:
		return "link"
	case StartGlobalRouted:
		return "global"
	case StartTransportOnly:
		return "transport"
	default:
		return "unknown"
	}
}

// ParseStartKind parses the configuration spelling of a start kind.
func ParseStartKind(s string) (StartKind, bool) {
	switch s {
	case "link", "lrh":
		return StartLinkRouted, true
	case "global", "grh":
		return StartGlobalRouted, true
	case "transport", "bth":
		return StartTransportOnly, true
	}
	return 0, false
}

// RawPacket is one captured frame, already demultiplexed down to the bytes
// the dissector starts on.
type RawPacket struct {
	Data      []byte    // Captured bytes from the start header onwards
	Timestamp time.Time // Capture timestamp
	// ReportedLen is the logical length of Data; it may exceed len(Data)
	// when the capture was sliced.
	ReportedLen int
	Frame       uint64
	Start       StartKind
	// FirstVisit gates state mutation; false on re-dissection.
	FirstVisit bool
	// Outer addresses for routable RoCE, where the transport header is not
	// preceded by link or global-route headers.
	SrcIP netip.Addr
	DstIP netip.Addr
}

// OutputPacket is the flattened summary sent to reporters.
type OutputPacket struct {
	Frame     uint64    `json:"frame" yaml:"frame"`
	Timestamp time.Time `json:"timestamp" yaml:"timestamp"`
	Start     string    `json:"start" yaml:"start"`
	Src       Address   `json:"src" yaml:"src"`
	Dst       Address   `json:"dst" yaml:"dst"`
	Labels    Labels    `json:"labels" yaml:"labels"`

	Malformed   bool     `json:"malformed" yaml:"malformed"`
	Diagnostics []string `json:"diagnostics,omitempty" yaml:"diagnostics,omitempty"`

	// Detail is the full decoded packet; reporters marshal it as-is.
	Detail any `json:"detail,omitempty" yaml:"detail,omitempty"`
}
