package ib

import (
	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"

	"firestige.xyz/ibdissect/internal/core"
)

// LinkTypeInfiniBand is the capture link type of native link captures.
const LinkTypeInfiniBand layers.LinkType = 247

// LayerTypeInfiniBand exposes the dissector to gopacket. Packets decoded
// through it see no session state.
var LayerTypeInfiniBand = gopacket.RegisterLayerType(1870, gopacket.LayerTypeMetadata{
	Name:    "InfiniBand",
	Decoder: gopacket.DecodeFunc(decodeInfiniBand),
})

var layerDissector = New(DefaultConfig(), Deps{})

func init() {
	layers.LinkTypeMetadata[LinkTypeInfiniBand] = layers.EnumMetadata{
		DecodeWith: LayerTypeInfiniBand,
		Name:       "InfiniBand",
	}
}

// Layer is a decoded packet as a gopacket layer.
type Layer struct {
	Packet   *Packet
	contents []byte
	payload  []byte
}

func (l *Layer) LayerType() gopacket.LayerType { return LayerTypeInfiniBand }
func (l *Layer) LayerContents() []byte         { return l.contents }
func (l *Layer) LayerPayload() []byte          { return l.payload }

func decodeInfiniBand(data []byte, p gopacket.PacketBuilder) error {
	pkt := layerDissector.DecodeBytes(data, core.StartLinkRouted)
	hdr := pkt.HeaderLen
	if hdr > len(data) {
		hdr = len(data)
	}
	p.AddLayer(&Layer{Packet: pkt, contents: data[:hdr], payload: data[hdr:]})
	return nil
}
