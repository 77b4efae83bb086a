package capture

import (
	"fmt"
	"net/netip"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"

	"firestige.xyz/ibdissect/internal/core"
	"firestige.xyz/ibdissect/internal/ib"
)

// EthernetTypeRoCE carries a global-route header directly over Ethernet.
const EthernetTypeRoCE layers.EthernetType = 0x8915

// Demuxer maps captured frames to dissector input. It numbers frames in
// capture order, so one Demuxer serves one capture.
type Demuxer struct {
	forced  bool
	start   core.StartKind
	udpPort layers.UDPPort
	frame   uint64
}

// NewDemuxer validates cfg.
func NewDemuxer(cfg Config) (*Demuxer, error) {
	d := &Demuxer{udpPort: layers.UDPPort(cfg.RRoCEUDPPort)}
	if d.udpPort == 0 {
		d.udpPort = ib.DefaultRRoCEUDPPort
	}
	switch cfg.StartKind {
	case "", "auto":
	default:
		kind, ok := core.ParseStartKind(cfg.StartKind)
		if !ok {
			return nil, fmt.Errorf("%w: unknown start kind %q", core.ErrConfigInvalid, cfg.StartKind)
		}
		d.forced, d.start = true, kind
	}
	return d, nil
}

// Demux returns the dissector input for one frame, or false when the frame
// carries nothing to dissect. Every frame advances the frame counter.
func (d *Demuxer) Demux(data []byte, ci gopacket.CaptureInfo, lt layers.LinkType) (core.RawPacket, bool) {
	d.frame++
	raw := core.RawPacket{
		Data:        data,
		Timestamp:   ci.Timestamp,
		ReportedLen: reportedLen(ci, len(data)),
		Frame:       d.frame,
		FirstVisit:  true,
	}
	if d.forced {
		raw.Start = d.start
		return raw, true
	}
	if lt == ib.LinkTypeInfiniBand {
		raw.Start = core.StartLinkRouted
		return raw, true
	}

	pkt := gopacket.NewPacket(data, lt, gopacket.DecodeOptions{Lazy: true, NoCopy: true})
	var src, dst netip.Addr
	for _, l := range pkt.Layers() {
		switch v := l.(type) {
		case *layers.Ethernet:
			if v.EthernetType == EthernetTypeRoCE {
				return d.slice(raw, v.Payload, core.StartGlobalRouted), true
			}
		case *layers.Dot1Q:
			if v.Type == EthernetTypeRoCE {
				return d.slice(raw, v.Payload, core.StartGlobalRouted), true
			}
		case *layers.LinuxSLL:
			if v.EthernetType == EthernetTypeRoCE {
				return d.slice(raw, v.Payload, core.StartGlobalRouted), true
			}
		case *layers.IPv4:
			src, _ = netip.AddrFromSlice(v.SrcIP)
			dst, _ = netip.AddrFromSlice(v.DstIP)
		case *layers.IPv6:
			src, _ = netip.AddrFromSlice(v.SrcIP)
			dst, _ = netip.AddrFromSlice(v.DstIP)
		case *layers.UDP:
			if v.DstPort != d.udpPort {
				return raw, false
			}
			raw = d.slice(raw, v.Payload, core.StartTransportOnly)
			raw.SrcIP, raw.DstIP = src.Unmap(), dst.Unmap()
			return raw, true
		}
	}
	return raw, false
}

// slice narrows raw to payload, a subslice of raw.Data. Bytes the capture
// cut off still count towards ReportedLen unless an inner length field
// already ended the payload early.
func (d *Demuxer) slice(raw core.RawPacket, payload []byte, start core.StartKind) core.RawPacket {
	off := cap(raw.Data) - cap(payload)
	if off+len(payload) < len(raw.Data) {
		raw.ReportedLen = len(payload)
	} else {
		raw.ReportedLen -= off
	}
	raw.Data = payload
	raw.Start = start
	return raw
}

func reportedLen(ci gopacket.CaptureInfo, captured int) int {
	if ci.Length > captured {
		return ci.Length
	}
	return captured
}
