package wire

import (
	"encoding/binary"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"firestige.xyz/ibdissect/internal/core"
)

func TestPositionalReads(t *testing.T) {
	buf := []byte{0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08, 0x09}

	v8, err := Uint8(buf, 8)
	require.NoError(t, err)
	assert.Equal(t, uint8(0x09), v8)

	v16, _ := Uint16(buf, 1, binary.BigEndian)
	assert.Equal(t, uint16(0x0203), v16)
	v16, _ = Uint16(buf, 1, binary.LittleEndian)
	assert.Equal(t, uint16(0x0302), v16)

	v24, _ := Uint24(buf, 0, binary.BigEndian)
	assert.Equal(t, uint32(0x010203), v24)
	v24, _ = Uint24(buf, 0, binary.LittleEndian)
	assert.Equal(t, uint32(0x030201), v24)

	v32, _ := Uint32(buf, 2, binary.BigEndian)
	assert.Equal(t, uint32(0x03040506), v32)

	v64, _ := Uint64(buf, 1, binary.BigEndian)
	assert.Equal(t, uint64(0x0203040506070809), v64)
}

func TestReadsFailClosed(t *testing.T) {
	buf := []byte{1, 2, 3}

	_, err := Uint32(buf, 0, binary.BigEndian)
	assert.True(t, errors.Is(err, core.ErrTruncated))
	_, err = Uint24(buf, 1, binary.BigEndian)
	assert.True(t, errors.Is(err, core.ErrTruncated))
	_, err = Uint8(buf, -1)
	assert.True(t, errors.Is(err, core.ErrTruncated))
	_, err = Bytes(buf, 2, 2)
	assert.True(t, errors.Is(err, core.ErrTruncated))
}

func TestBytesCopies(t *testing.T) {
	buf := []byte{1, 2, 3}
	out, err := Bytes(buf, 1, 2)
	require.NoError(t, err)
	out[0] = 0xFF
	assert.Equal(t, byte(2), buf[1])
}

func TestBits(t *testing.T) {
	buf := []byte{0xA5, 0x3C} // 1010 0101 0011 1100

	tests := []struct {
		off, width int
		want       uint64
	}{
		{0, 4, 0xA},
		{4, 4, 0x5},
		{4, 8, 0x53},
		{6, 2, 0x1},
		{0, 16, 0xA53C},
		{15, 1, 0},
		{0, 0, 0},
	}
	for _, tt := range tests {
		got, err := Bits(buf, tt.off, tt.width)
		require.NoError(t, err)
		assert.Equal(t, tt.want, got, "bits(%d,%d)", tt.off, tt.width)
	}

	_, err := Bits(buf, 12, 8)
	assert.True(t, errors.Is(err, core.ErrTruncated))
	_, err = Bits(buf, 0, 65)
	assert.True(t, errors.Is(err, core.ErrMalformed))
}

func TestReaderSequential(t *testing.T) {
	buf := []byte{
		0xAA,
		0x12, 0x34,
		0x00, 0x00, 0x05,
		0xDE, 0xAD, 0xBE, 0xEF,
		1, 2, 3, 4, 5, 6, 7, 8,
	}
	r := NewReader(buf, 0)
	assert.Equal(t, uint8(0xAA), r.U8())
	assert.Equal(t, uint16(0x1234), r.U16())
	assert.Equal(t, uint32(5), r.U24())
	assert.Equal(t, uint32(0xDEADBEEF), r.U32())
	assert.Equal(t, uint64(0x0102030405060708), r.U64())
	assert.NoError(t, r.Err())
	assert.Equal(t, len(buf), r.Offset())
	assert.Equal(t, 0, r.Captured())
}

func TestReaderStickyError(t *testing.T) {
	r := NewReader([]byte{1, 2, 3}, 0)
	assert.Equal(t, uint16(0x0102), r.U16())
	assert.Equal(t, uint16(0), r.U16())
	require.Error(t, r.Err())
	assert.True(t, errors.Is(r.Err(), core.ErrTruncated))

	// Later reads keep the first error and return zero.
	first := r.Err()
	assert.Equal(t, uint8(0), r.U8())
	assert.Equal(t, first, r.Err())
}

func TestReaderReportedLength(t *testing.T) {
	r := NewReader([]byte{1, 2, 3, 4}, 10)
	assert.Equal(t, 10, r.ReportedLen())
	assert.Equal(t, 4, r.Captured())
	assert.Equal(t, 10, r.Reported())

	r.Skip(6)
	assert.Equal(t, 0, r.Captured())
	assert.Equal(t, 4, r.Reported())
	assert.NoError(t, r.Err(), "skipping past captured data is not an error")
	assert.Equal(t, uint8(0), r.U8())
	assert.Error(t, r.Err())

	// reported never falls below captured
	assert.Equal(t, 2, NewReader([]byte{1, 2}, 1).ReportedLen())
}

func TestReaderNeedAndPeek(t *testing.T) {
	r := NewReader([]byte{0x55, 0x80}, 0)
	assert.Equal(t, uint8(0x80), r.Peek8(1))
	assert.Equal(t, 0, r.Offset())
	assert.True(t, r.Need(2))
	assert.False(t, r.Need(3))
	assert.Error(t, r.Err())
}

func TestReaderSub(t *testing.T) {
	r := NewReader([]byte{1, 2, 3, 4, 5, 6}, 0)
	r.Skip(1)
	sub := r.Sub(3)
	assert.Equal(t, 4, r.Offset())
	assert.Equal(t, []byte{2, 3, 4}, sub.Rest())
	assert.Equal(t, uint16(0x0203), sub.U16())

	// A sub-reader past the captured end sees nothing but keeps its length.
	tail := r.Sub(8)
	assert.Equal(t, 8, tail.ReportedLen())
	assert.Equal(t, 2, tail.Captured())
}

func TestReaderGIDAndN(t *testing.T) {
	buf := make([]byte, 20)
	for i := range buf {
		buf[i] = byte(i)
	}
	r := NewReader(buf, 0)
	r.Skip(2)
	g := r.GID()
	assert.Equal(t, byte(2), g[0])
	assert.Equal(t, byte(17), g[15])
	assert.Equal(t, []byte{18, 19}, r.N(2))
	assert.Nil(t, r.N(1))
}

func TestTruncated(t *testing.T) {
	err := Truncated("management header")
	assert.True(t, errors.Is(err, core.ErrTruncated))
	assert.Equal(t, "management header: ibdissect: truncated buffer", err.Error())
}
