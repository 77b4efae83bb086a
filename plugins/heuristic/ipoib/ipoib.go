// Package ipoib recognizes payloads carried behind a 4-byte encapsulation
// header: a 16-bit ethertype followed by 16 reserved bits that must be zero.
package ipoib

import (
	"encoding/binary"
	"fmt"

	"github.com/google/gopacket/layers"

	"firestige.xyz/ibdissect/internal/core"
	"firestige.xyz/ibdissect/pkg/plugin"
	"firestige.xyz/ibdissect/plugins/handoff"
)

const headerLen = 4

// Header is the encapsulation header.
type Header struct {
	Ethertype uint16 `json:"ethertype" yaml:"ethertype"`
}

// Decoder is the encapsulation heuristic.
type Decoder struct {
	handoff plugin.Handoff
}

// NewDecoder creates the heuristic. Remainders go to h.
func NewDecoder(h plugin.Handoff) *Decoder {
	return &Decoder{handoff: h}
}

// New creates the heuristic with the gopacket handoff.
func New() plugin.HeuristicDecoder {
	return NewDecoder(handoff.Gopacket{})
}

func (d *Decoder) Name() string { return "ipoib" }

// CanHandle requires the reserved half of the header to be zero and an
// ethertype with a registered decoder.
func (d *Decoder) CanHandle(data []byte, pctx *plugin.PayloadContext) bool {
	if len(data) < headerLen {
		return false
	}
	if binary.BigEndian.Uint16(data[2:4]) != 0 {
		return false
	}
	return handoff.KnownEthertype(binary.BigEndian.Uint16(data[0:2]))
}

// Handle hands the rest to the ethertype dispatch. A failing downstream
// decode is recorded on the result, never returned, so the caller still
// locates the trailer. Decoder panics inside gopacket already surface as
// handoff errors.
func (d *Decoder) Handle(data []byte, pctx *plugin.PayloadContext) (*plugin.Dissection, error) {
	if len(data) < headerLen {
		return nil, fmt.Errorf("ipoib header: %w", core.ErrTruncated)
	}
	hdr := Header{Ethertype: binary.BigEndian.Uint16(data[0:2])}
	summary := map[string]any{"ethertype": layers.EthernetType(hdr.Ethertype).String()}
	out := &plugin.Dissection{
		Decoder: d.Name(),
		Layers:  []string{"IPoIB"},
		Summary: summary,
	}
	rest := data[headerLen:]

	inner, known, derr := d.handoff.Ethertype(hdr.Ethertype, rest)
	if derr != nil {
		out.Diagnostics.Add(core.DiagDispatchError, "ipoib", headerLen, fmt.Errorf("%w: %v", core.ErrDispatch, derr))
	}
	if !known || inner == nil {
		out.Opaque = rest
		return out, nil
	}
	out.Layers = append(out.Layers, inner.Layers...)
	if inner.Summary != nil {
		summary["inner"] = inner.Summary
	}
	out.Opaque = inner.Opaque
	return out, nil
}
