package eoib

import (
	"errors"
	"net"
	"testing"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"firestige.xyz/ibdissect/internal/core"
	"firestige.xyz/ibdissect/pkg/plugin"
)

func ethernetFrame(t *testing.T) []byte {
	t.Helper()
	buf := gopacket.NewSerializeBuffer()
	err := gopacket.SerializeLayers(buf, gopacket.SerializeOptions{FixLengths: true},
		&layers.Ethernet{
			SrcMAC:       net.HardwareAddr{0x02, 0, 0, 0, 0, 1},
			DstMAC:       net.HardwareAddr{0x02, 0, 0, 0, 0, 2},
			EthernetType: layers.EthernetTypeIPv4,
		},
		&layers.IPv4{
			Version:  4,
			TTL:      64,
			Protocol: layers.IPProtocolUDP,
			SrcIP:    net.IPv4(10, 2, 0, 1),
			DstIP:    net.IPv4(10, 2, 0, 2),
		},
		&layers.UDP{SrcPort: 5000, DstPort: 6000},
		gopacket.Payload("hi"),
	)
	require.NoError(t, err)
	return buf.Bytes()
}

func TestParseHeader(t *testing.T) {
	h, err := ParseHeader([]byte{0xC7, 0x80, 0x10, 0x2A})
	require.NoError(t, err)
	assert.Equal(t, Header{
		Version:       1,
		TCPChecksumOK: true,
		IPChecksumOK:  true,
		MoreSegments:  true,
		SegmentOffset: 0x10,
		SegmentID:     0x2A,
	}, h)

	_, err = ParseHeader([]byte{0xC0, 0x00})
	assert.ErrorIs(t, err, core.ErrTruncated)
}

func TestDecoder_CanHandle(t *testing.T) {
	d := New()
	assert.Equal(t, "eoib", d.Name())
	assert.True(t, d.CanHandle([]byte{0xC0, 0, 0, 0}, nil))
	assert.False(t, d.CanHandle([]byte{0x08, 0, 0, 0}, nil))
	assert.False(t, d.CanHandle([]byte{0xC0, 0}, nil))
}

func TestDecoder_HandleFinalSegment(t *testing.T) {
	frame := ethernetFrame(t)
	data := append([]byte{0xC3, 0x00, 0x00, 0x01}, frame...)

	out, err := New().Handle(data, &plugin.PayloadContext{})
	require.NoError(t, err)
	assert.Equal(t, "eoib", out.Decoder)
	assert.Equal(t, []string{"EoIB", "Ethernet", "IPv4", "UDP", "Payload"}, out.Layers)
	assert.Equal(t, []byte("hi"), out.Opaque)
	assert.Empty(t, out.Diagnostics)
}

func TestDecoder_HandleMoreSegments(t *testing.T) {
	data := []byte{0xC0, 0x80, 0x00, 0x01, 0xAA, 0xBB}

	out, err := New().Handle(data, &plugin.PayloadContext{})
	require.NoError(t, err)
	assert.Equal(t, []string{"EoIB"}, out.Layers)
	assert.Equal(t, []byte{0xAA, 0xBB}, out.Opaque)
	hdr, ok := out.Summary.(Header)
	require.True(t, ok)
	assert.True(t, hdr.MoreSegments)
}

type failingHandoff struct{}

func (failingHandoff) IPv6([]byte) (*plugin.Dissection, error) { return nil, errors.New("unused") }
func (failingHandoff) Ethernet([]byte) (*plugin.Dissection, error) {
	return nil, errors.New("short frame")
}
func (failingHandoff) Ethertype(uint16, []byte) (*plugin.Dissection, bool, error) {
	return nil, false, nil
}

func TestDecoder_HandleDownstreamFailure(t *testing.T) {
	data := []byte{0xC0, 0x00, 0x00, 0x01, 0xAA}

	out, err := NewDecoder(failingHandoff{}).Handle(data, &plugin.PayloadContext{})
	require.NoError(t, err)
	assert.True(t, out.Diagnostics.Has(core.DiagDispatchError))
	assert.Equal(t, []byte{0xAA}, out.Opaque)
}
