package handoff

import (
	"net"
	"testing"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func serialize(t *testing.T, ls ...gopacket.SerializableLayer) []byte {
	t.Helper()
	buf := gopacket.NewSerializeBuffer()
	require.NoError(t, gopacket.SerializeLayers(buf, gopacket.SerializeOptions{FixLengths: true}, ls...))
	return buf.Bytes()
}

func udp() *layers.UDP {
	return &layers.UDP{SrcPort: 1000, DstPort: 2000}
}

func ipv4() *layers.IPv4 {
	return &layers.IPv4{
		Version:  4,
		TTL:      64,
		Protocol: layers.IPProtocolUDP,
		SrcIP:    net.IPv4(192, 168, 0, 1),
		DstIP:    net.IPv4(192, 168, 0, 2),
	}
}

func TestGopacket_IPv6(t *testing.T) {
	data := serialize(t, &layers.IPv6{
		Version:    6,
		NextHeader: layers.IPProtocolUDP,
		HopLimit:   64,
		SrcIP:      net.ParseIP("fd00::1"),
		DstIP:      net.ParseIP("fd00::2"),
	}, udp(), gopacket.Payload("hi"))

	d, err := Gopacket{}.IPv6(data)
	require.NoError(t, err)
	assert.Equal(t, "ipv6", d.Decoder)
	assert.Equal(t, []string{"IPv6", "UDP", "Payload"}, d.Layers)
	assert.Equal(t, map[string]string{
		"network":   "fd00::1->fd00::2",
		"transport": "1000->2000",
	}, d.Summary)
	assert.Equal(t, []byte("hi"), d.Opaque)
}

func TestGopacket_IPv6Truncated(t *testing.T) {
	d, err := Gopacket{}.IPv6([]byte{0x60, 0x00, 0x00})
	assert.Error(t, err)
	require.NotNil(t, d)
	assert.Contains(t, d.Layers, "DecodeFailure")
}

func TestGopacket_Ethertype(t *testing.T) {
	data := serialize(t, ipv4(), udp(), gopacket.Payload("hi"))

	d, known, err := Gopacket{}.Ethertype(0x0800, data)
	require.NoError(t, err)
	assert.True(t, known)
	assert.Equal(t, "IPv4", d.Decoder)
	assert.Equal(t, []string{"IPv4", "UDP", "Payload"}, d.Layers)

	d, known, err = Gopacket{}.Ethertype(0x88B5, data)
	assert.NoError(t, err)
	assert.False(t, known)
	assert.Nil(t, d)
}

func TestGopacket_Ethernet(t *testing.T) {
	data := serialize(t, &layers.Ethernet{
		SrcMAC:       net.HardwareAddr{0x02, 0, 0, 0, 0, 1},
		DstMAC:       net.HardwareAddr{0x02, 0, 0, 0, 0, 2},
		EthernetType: layers.EthernetTypeIPv4,
	}, ipv4(), udp(), gopacket.Payload("hi"))

	d, err := Gopacket{}.Ethernet(data)
	require.NoError(t, err)
	assert.Equal(t, "ethernet", d.Decoder)
	assert.Equal(t, []string{"Ethernet", "IPv4", "UDP", "Payload"}, d.Layers)
	assert.Equal(t, []byte("hi"), d.Opaque)
}

func TestKnownEthertype(t *testing.T) {
	assert.True(t, KnownEthertype(0x0800))
	assert.True(t, KnownEthertype(0x86DD))
	assert.True(t, KnownEthertype(0x0806))
	assert.False(t, KnownEthertype(0x88B5))
	assert.False(t, KnownEthertype(0x8915))
}
