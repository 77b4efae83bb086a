// Package eoib recognizes the vendor Ethernet-over-InfiniBand segmentation
// header.
package eoib

import (
	"fmt"

	"firestige.xyz/ibdissect/internal/core"
	"firestige.xyz/ibdissect/pkg/plugin"
	"firestige.xyz/ibdissect/plugins/handoff"
)

const (
	headerLen = 4
	signature = 0xC
)

// Header is the 4-byte segmentation header.
//
//	byte 0: signature(4) version(2) TCP checksum ok(1) IP checksum ok(1)
//	byte 1: more segments(1) reserved(7)
//	byte 2-3: segment offset(8) segment id(8)
type Header struct {
	Version       uint8 `json:"version" yaml:"version"`
	TCPChecksumOK bool  `json:"tcp_chk_ok" yaml:"tcp_chk_ok"`
	IPChecksumOK  bool  `json:"ip_chk_ok" yaml:"ip_chk_ok"`
	MoreSegments  bool  `json:"more_segments" yaml:"more_segments"`
	SegmentOffset uint8 `json:"segment_offset" yaml:"segment_offset"`
	SegmentID     uint8 `json:"segment_id" yaml:"segment_id"`
}

// ParseHeader decodes the segmentation header at the start of data.
func ParseHeader(data []byte) (Header, error) {
	if len(data) < headerLen {
		return Header{}, fmt.Errorf("eoib header: %w", core.ErrTruncated)
	}
	return Header{
		Version:       (data[0] >> 2) & 0x03,
		TCPChecksumOK: data[0]&0x02 != 0,
		IPChecksumOK:  data[0]&0x01 != 0,
		MoreSegments:  data[1]&0x80 != 0,
		SegmentOffset: data[2],
		SegmentID:     data[3],
	}, nil
}

// Decoder is the segmentation heuristic.
type Decoder struct {
	handoff plugin.Handoff
}

// NewDecoder creates the heuristic. Complete segments go to h.
func NewDecoder(h plugin.Handoff) *Decoder {
	return &Decoder{handoff: h}
}

// New creates the heuristic with the gopacket handoff.
func New() plugin.HeuristicDecoder {
	return NewDecoder(handoff.Gopacket{})
}

func (d *Decoder) Name() string { return "eoib" }

// CanHandle matches the signature nibble.
func (d *Decoder) CanHandle(data []byte, pctx *plugin.PayloadContext) bool {
	return len(data) >= headerLen && data[0]>>4 == signature
}

// Handle decodes the header and hands a final segment to the Ethernet
// decoder. Bytes of a segment with more to follow stay opaque.
func (d *Decoder) Handle(data []byte, pctx *plugin.PayloadContext) (*plugin.Dissection, error) {
	hdr, err := ParseHeader(data)
	if err != nil {
		return nil, err
	}
	out := &plugin.Dissection{
		Decoder: d.Name(),
		Layers:  []string{"EoIB"},
		Summary: hdr,
	}
	rest := data[headerLen:]
	if hdr.MoreSegments {
		out.Opaque = rest
		return out, nil
	}

	inner, err := d.handoff.Ethernet(rest)
	if err != nil {
		out.Diagnostics.Add(core.DiagDispatchError, "eoib", headerLen, fmt.Errorf("%w: %v", core.ErrDispatch, err))
	}
	if inner == nil {
		out.Opaque = rest
		return out, nil
	}
	out.Layers = append(out.Layers, inner.Layers...)
	out.Opaque = inner.Opaque
	return out, nil
}
