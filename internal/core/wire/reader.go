package wire

import (
	"encoding/binary"

	"firestige.xyz/ibdissect/internal/core"
)

// Reader is a big-endian cursor over a captured buffer. The first failed read
// is sticky: later reads return zero values and Err reports the failure, so a
// header can be decoded field by field and checked once.
type Reader struct {
	buf      []byte
	reported int
	off      int
	err      error
}

// NewReader creates a cursor. reported is the logical packet length, which
// may exceed len(buf) when the capture was sliced.
func NewReader(buf []byte, reported int) *Reader {
	if reported < len(buf) {
		reported = len(buf)
	}
	return &Reader{buf: buf, reported: reported}
}

// Offset returns the current position.
func (r *Reader) Offset() int { return r.off }

// Err returns the first read failure, if any.
func (r *Reader) Err() error { return r.err }

// Captured returns the number of physically available bytes left.
func (r *Reader) Captured() int {
	if r.off >= len(r.buf) {
		return 0
	}
	return len(r.buf) - r.off
}

// Reported returns the logical number of bytes left.
func (r *Reader) Reported() int {
	if r.off >= r.reported {
		return 0
	}
	return r.reported - r.off
}

// ReportedLen returns the logical length of the whole buffer.
func (r *Reader) ReportedLen() int { return r.reported }

// Buffer returns the underlying captured buffer.
func (r *Reader) Buffer() []byte { return r.buf }

// Need checks that n bytes are captured at the cursor without consuming them.
func (r *Reader) Need(n int) bool {
	if r.err != nil {
		return false
	}
	if err := check(r.buf, r.off, n); err != nil {
		r.err = err
		return false
	}
	return true
}

// Seek moves the cursor to an absolute offset within the reported length.
func (r *Reader) Seek(off int) {
	if off < 0 {
		off = 0
	}
	r.off = off
}

// Skip advances the cursor by n bytes. Skipping past the captured data is
// allowed; the next read reports the truncation.
func (r *Reader) Skip(n int) { r.off += n }

// Peek8 reads a byte at a relative offset without advancing.
func (r *Reader) Peek8(rel int) uint8 {
	v, err := Uint8(r.buf, r.off+rel)
	if err != nil {
		r.fail(err)
	}
	return v
}

func (r *Reader) fail(err error) {
	if r.err == nil {
		r.err = err
	}
}

func (r *Reader) U8() uint8 {
	if r.err != nil {
		return 0
	}
	v, err := Uint8(r.buf, r.off)
	r.fail(err)
	r.off++
	return v
}

func (r *Reader) U16() uint16 {
	if r.err != nil {
		return 0
	}
	v, err := Uint16(r.buf, r.off, binary.BigEndian)
	r.fail(err)
	r.off += 2
	return v
}

func (r *Reader) U24() uint32 {
	if r.err != nil {
		return 0
	}
	v, err := Uint24(r.buf, r.off, binary.BigEndian)
	r.fail(err)
	r.off += 3
	return v
}

func (r *Reader) U32() uint32 {
	if r.err != nil {
		return 0
	}
	v, err := Uint32(r.buf, r.off, binary.BigEndian)
	r.fail(err)
	r.off += 4
	return v
}

func (r *Reader) U64() uint64 {
	if r.err != nil {
		return 0
	}
	v, err := Uint64(r.buf, r.off, binary.BigEndian)
	r.fail(err)
	r.off += 8
	return v
}

// N returns a copy of the next n bytes.
func (r *Reader) N(n int) []byte {
	if r.err != nil {
		return nil
	}
	v, err := Bytes(r.buf, r.off, n)
	r.fail(err)
	r.off += n
	return v
}

// GID reads a 16-byte global identifier.
func (r *Reader) GID() [16]byte {
	var g [16]byte
	copy(g[:], r.N(16))
	return g
}

// Rest returns a copy of all captured bytes from the cursor without advancing.
func (r *Reader) Rest() []byte {
	n := r.Captured()
	out := make([]byte, n)
	if n > 0 {
		copy(out, r.buf[r.off:])
	}
	return out
}

// Sub returns a cursor over the next n reported bytes, starting at zero, and
// advances past them. The sub-reader sees only the captured part.
func (r *Reader) Sub(n int) *Reader {
	start := r.off
	r.off += n
	end := start + n
	if start > len(r.buf) {
		start = len(r.buf)
	}
	if end > len(r.buf) {
		end = len(r.buf)
	}
	return &Reader{buf: r.buf[start:end:end], reported: n}
}

// Truncated returns a wrapped core.ErrTruncated describing a missing region.
func Truncated(what string) error {
	return &truncatedError{what: what}
}

type truncatedError struct{ what string }

func (e *truncatedError) Error() string { return e.what + ": " + core.ErrTruncated.Error() }
func (e *truncatedError) Unwrap() error { return core.ErrTruncated }
