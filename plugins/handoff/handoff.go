// Package handoff decodes the sibling protocols the dissector hands
// remainders to, using gopacket layers.
package handoff

import (
	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"

	"firestige.xyz/ibdissect/pkg/plugin"
)

var decodeOptions = gopacket.DecodeOptions{NoCopy: true}

// Gopacket implements plugin.Handoff.
type Gopacket struct{}

var _ plugin.Handoff = Gopacket{}

// IPv6 decodes data as an IPv6 packet.
func (Gopacket) IPv6(data []byte) (*plugin.Dissection, error) {
	return dissect("ipv6", gopacket.NewPacket(data, layers.LayerTypeIPv6, decodeOptions))
}

// Ethertype decodes data with the decoder registered for etype. known is
// false when gopacket has none.
func (Gopacket) Ethertype(etype uint16, data []byte) (*plugin.Dissection, bool, error) {
	et := layers.EthernetType(etype)
	if !KnownEthertype(etype) {
		return nil, false, nil
	}
	d, err := dissect(et.String(), gopacket.NewPacket(data, et, decodeOptions))
	return d, true, err
}

// Ethernet decodes data as an Ethernet frame.
func (Gopacket) Ethernet(data []byte) (*plugin.Dissection, error) {
	return dissect("ethernet", gopacket.NewPacket(data, layers.LayerTypeEthernet, decodeOptions))
}

// KnownEthertype reports whether gopacket decodes etype to a layer.
func KnownEthertype(etype uint16) bool {
	return layers.EthernetTypeMetadata[layers.EthernetType(etype)].LayerType != gopacket.LayerTypeZero
}

// dissect summarizes a gopacket decode. The decode failure layer, if any,
// becomes the error.
func dissect(name string, p gopacket.Packet) (*plugin.Dissection, error) {
	d := &plugin.Dissection{Decoder: name}
	for _, l := range p.Layers() {
		d.Layers = append(d.Layers, l.LayerType().String())
	}

	summary := map[string]string{}
	if n := p.NetworkLayer(); n != nil {
		summary["network"] = n.NetworkFlow().String()
	}
	if t := p.TransportLayer(); t != nil {
		summary["transport"] = t.TransportFlow().String()
	}
	if a := p.ApplicationLayer(); a != nil {
		d.Opaque = a.Payload()
	}
	if len(summary) > 0 {
		d.Summary = summary
	}

	if el := p.ErrorLayer(); el != nil {
		return d, el.Error()
	}
	return d, nil
}
