// Package core defines sentinel errors.
package core

import "errors"

// Sentinel errors. Per-packet outcomes are carried as Diagnostics wrapping
// these; only I/O and configuration paths return them directly.
var (
	// Packet decoding outcomes
	ErrTruncated          = errors.New("ibdissect: truncated buffer")
	ErrMalformed          = errors.New("ibdissect: malformed packet")
	ErrUnrecognizedOpcode = errors.New("ibdissect: unrecognized opcode")
	ErrForeignPayload     = errors.New("ibdissect: foreign payload")

	// Session state outcomes
	ErrLookupMiss        = errors.New("ibdissect: connection context not found")
	ErrReassemblyPending = errors.New("ibdissect: reassembly pending")
	ErrReassemblyLimit   = errors.New("ibdissect: reassembly limit exceeded")
	ErrStoreClosed       = errors.New("ibdissect: store closed")

	// Collaborator errors
	ErrDispatch = errors.New("ibdissect: payload dispatch failed")

	// Configuration errors
	ErrConfigInvalid = errors.New("ibdissect: invalid configuration")
)
