package core

import (
	"errors"
	"fmt"
)

// DiagnosticKind classifies a per-packet decode outcome.
type DiagnosticKind uint8

const (
	DiagTruncated DiagnosticKind = iota + 1
	DiagMalformed
	DiagUnrecognizedOpcode
	DiagForeignPayload
	DiagLookupMiss
	DiagReassemblyPending
	DiagDispatchError
)

var diagnosticNames = map[DiagnosticKind]string{
	DiagTruncated:          "truncated",
	DiagMalformed:          "malformed",
	DiagUnrecognizedOpcode: "unrecognized_opcode",
	DiagForeignPayload:     "foreign_payload",
	DiagLookupMiss:         "lookup_miss",
	DiagReassemblyPending:  "reassembly_pending",
	DiagDispatchError:      "dispatch_error",
}

func (k DiagnosticKind) String() string {
	if s, ok := diagnosticNames[k]; ok {
		return s
	}
	return fmt.Sprintf("diagnostic(%d)", uint8(k))
}

// Diagnostic is attached to a decoded packet instead of unwinding past it.
type Diagnostic struct {
	Kind   DiagnosticKind `json:"kind" yaml:"kind"`
	Layer  string         `json:"layer" yaml:"layer"`
	Offset int            `json:"offset" yaml:"offset"`
	Err    error          `json:"-" yaml:"-"`
}

// Anomaly reports whether the diagnostic should be surfaced to the user as a
// malformed packet. The remaining kinds are valid decode branches.
func (d Diagnostic) Anomaly() bool {
	return d.Kind == DiagTruncated || d.Kind == DiagMalformed
}

func (d Diagnostic) Error() string {
	if d.Err == nil {
		return fmt.Sprintf("%s at %s+%d", d.Kind, d.Layer, d.Offset)
	}
	return fmt.Sprintf("%s at %s+%d: %v", d.Kind, d.Layer, d.Offset, d.Err)
}

func (d Diagnostic) Unwrap() error { return d.Err }

// Diagnostics is the ordered list of outcomes for one packet.
type Diagnostics []Diagnostic

// Add appends a diagnostic, deriving its kind from err when kind is zero.
func (ds *Diagnostics) Add(kind DiagnosticKind, layer string, offset int, err error) {
	if kind == 0 {
		kind = KindOf(err)
	}
	*ds = append(*ds, Diagnostic{Kind: kind, Layer: layer, Offset: offset, Err: err})
}

// Has reports whether any diagnostic of the given kind was recorded.
func (ds Diagnostics) Has(kind DiagnosticKind) bool {
	for _, d := range ds {
		if d.Kind == kind {
			return true
		}
	}
	return false
}

// Malformed reports whether any diagnostic is a user-visible anomaly.
func (ds Diagnostics) Malformed() bool {
	for _, d := range ds {
		if d.Anomaly() {
			return true
		}
	}
	return false
}

// KindOf maps a sentinel error to its diagnostic kind.
func KindOf(err error) DiagnosticKind {
	switch {
	case errors.Is(err, ErrTruncated):
		return DiagTruncated
	case errors.Is(err, ErrUnrecognizedOpcode):
		return DiagUnrecognizedOpcode
	case errors.Is(err, ErrForeignPayload):
		return DiagForeignPayload
	case errors.Is(err, ErrLookupMiss):
		return DiagLookupMiss
	case errors.Is(err, ErrReassemblyPending):
		return DiagReassemblyPending
	case errors.Is(err, ErrDispatch):
		return DiagDispatchError
	default:
		return DiagMalformed
	}
}
