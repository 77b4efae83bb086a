// Package core defines core types with zero external dependencies.
package core

import (
	"encoding/binary"
	"fmt"
	"net/netip"
)

// AddressType tells how the bytes of an Address are interpreted.
type AddressType uint8

const (
	AddressNone AddressType = iota
	AddressLID              // 16-bit local identifier from the link header
	AddressGID              // 128-bit global identifier from the global-route header
	AddressIP               // outer IPv4/IPv6 address for routable RoCE
)

// Address is a comparable endpoint address usable as a map key.
// IPv4 addresses are stored v4-mapped.
type Address struct {
	Type  AddressType
	Bytes [16]byte
}

// LIDAddress builds an address from a local identifier.
func LIDAddress(lid uint16) Address {
	a := Address{Type: AddressLID}
	binary.BigEndian.PutUint16(a.Bytes[14:], lid)
	return a
}

// GIDAddress builds an address from a global identifier.
func GIDAddress(gid [16]byte) Address {
	return Address{Type: AddressGID, Bytes: gid}
}

// IPAddress builds an address from an IP address.
func IPAddress(ip netip.Addr) Address {
	if !ip.IsValid() {
		return Address{}
	}
	return Address{Type: AddressIP, Bytes: ip.As16()}
}

// IsZero reports whether the address is unset.
func (a Address) IsZero() bool { return a.Type == AddressNone }

// LID returns the local identifier of a LID address.
func (a Address) LID() uint16 { return binary.BigEndian.Uint16(a.Bytes[14:]) }

func (a Address) String() string {
	switch a.Type {
	case AddressLID:
		return fmt.Sprintf("lid:%d", a.LID())
	case AddressGID:
		return netip.AddrFrom16(a.Bytes).String()
	case AddressIP:
		return netip.AddrFrom16(a.Bytes).Unmap().String()
	default:
		return "none"
	}
}

// MarshalText renders the address in its display form.
func (a Address) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}
