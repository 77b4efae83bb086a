// Package wire implements fixed-offset field extraction over captured bytes.
//
// All reads consult the captured length and fail closed with
// core.ErrTruncated; length bookkeeping uses the reported length.
package wire

import (
	"encoding/binary"
	"fmt"

	"firestige.xyz/ibdissect/internal/core"
)

func check(buf []byte, off, n int) error {
	if off < 0 || n < 0 || off+n > len(buf) {
		return fmt.Errorf("read %d bytes at %d of %d: %w", n, off, len(buf), core.ErrTruncated)
	}
	return nil
}

// Uint8 reads one byte at off.
func Uint8(buf []byte, off int) (uint8, error) {
	if err := check(buf, off, 1); err != nil {
		return 0, err
	}
	return buf[off], nil
}

// Uint16 reads two bytes at off.
func Uint16(buf []byte, off int, order binary.ByteOrder) (uint16, error) {
	if err := check(buf, off, 2); err != nil {
		return 0, err
	}
	return order.Uint16(buf[off:]), nil
}

// Uint24 reads three bytes at off. There is no native 24-bit primitive.
func Uint24(buf []byte, off int, order binary.ByteOrder) (uint32, error) {
	if err := check(buf, off, 3); err != nil {
		return 0, err
	}
	b := buf[off : off+3]
	if order == binary.LittleEndian {
		return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16, nil
	}
	return uint32(b[0])<<16 | uint32(b[1])<<8 | uint32(b[2]), nil
}

// Uint32 reads four bytes at off.
func Uint32(buf []byte, off int, order binary.ByteOrder) (uint32, error) {
	if err := check(buf, off, 4); err != nil {
		return 0, err
	}
	return order.Uint32(buf[off:]), nil
}

// Uint64 reads eight bytes at off.
func Uint64(buf []byte, off int, order binary.ByteOrder) (uint64, error) {
	if err := check(buf, off, 8); err != nil {
		return 0, err
	}
	return order.Uint64(buf[off:]), nil
}

// Bytes returns a copy of n bytes at off. The input is never aliased.
func Bytes(buf []byte, off, n int) ([]byte, error) {
	if err := check(buf, off, n); err != nil {
		return nil, err
	}
	out := make([]byte, n)
	copy(out, buf[off:off+n])
	return out, nil
}

// Bits reads width bits starting at bit offset bitOff, counting from the most
// significant bit of buf[0]. width must be at most 64.
func Bits(buf []byte, bitOff, width int) (uint64, error) {
	if width < 0 || width > 64 {
		return 0, fmt.Errorf("bit width %d: %w", width, core.ErrMalformed)
	}
	if width == 0 {
		return 0, nil
	}
	first := bitOff / 8
	last := (bitOff + width - 1) / 8
	if err := check(buf, first, last-first+1); err != nil {
		return 0, err
	}
	var v uint64
	for i := 0; i < width; i++ {
		bit := bitOff + i
		v = v<<1 | uint64(buf[bit/8]>>(7-uint(bit%8))&1)
	}
	return v, nil
}
