package ib

import (
	"fmt"

	"firestige.xyz/ibdissect/internal/core"
	"firestige.xyz/ibdissect/internal/core/wire"
	"firestige.xyz/ibdissect/internal/ib/mad"
	"firestige.xyz/ibdissect/internal/ib/opcode"
	"firestige.xyz/ibdissect/internal/metrics"
	"firestige.xyz/ibdissect/pkg/plugin"
)

// Decoder names recorded on a payload that no next-stage decoder claimed.
const (
	DecoderData      = "data"
	DecoderMAD       = "mad"
	DecoderIPv6      = "ipv6"
	DecoderEthertype = "ethertype"
)

// Payload describes the bytes between the last header and the trailer.
type Payload struct {
	Decoder     string             `json:"decoder" yaml:"decoder"`
	Length      int                `json:"length" yaml:"length"`
	Reassembled bool               `json:"reassembled,omitempty" yaml:"reassembled,omitempty"`
	Pending     bool               `json:"pending,omitempty" yaml:"pending,omitempty"`
	Dissection  *plugin.Dissection `json:"dissection,omitempty" yaml:"dissection,omitempty"`
	// Data holds the captured bytes when nothing interpreted them.
	Data []byte `json:"-" yaml:"-"`
}

func opaque(r *wire.Reader, n int) *Payload {
	return &Payload{Decoder: DecoderData, Length: n, Data: r.Sub(n).Rest()}
}

// dispatcher hands the payload to management decoding, reassembly and the
// next-stage decoders.
type dispatcher struct {
	heuristicFirst bool
	reassemble     bool
	heuristics     []plugin.HeuristicDecoder
	exact          map[uint8]plugin.Decoder
	convs          plugin.ConversationTable
	reasm          plugin.Reassembler
	mad            *mad.Decoder
}

func (d *dispatcher) run(r *wire.Reader, pkt *Packet, trailer int, raw *core.RawPacket) {
	tctx := &pkt.Context
	off := r.Offset()
	n := clamp(r.Reported() - trailer)

	if tctx.Management() {
		dg := d.mad.Decode(r, tctx.madContext(raw.Frame, raw.FirstVisit))
		pkt.Management = dg
		for _, diag := range dg.Diagnostics {
			diag.Offset += off
			pkt.Diagnostics = append(pkt.Diagnostics, diag)
		}
		if consumed := r.Offset() - off; consumed > 0 {
			pkt.Payload = &Payload{Decoder: DecoderMAD, Length: consumed}
			metrics.PayloadDispatchTotal.WithLabelValues(DecoderMAD).Inc()
			return
		}
		pkt.Payload = opaque(r, n)
		return
	}

	pctx := tctx.payloadContext(raw.Frame)
	pctx.Conversation = d.conversation(tctx)
	data := r.Sub(n).Rest()
	payload := &Payload{Length: n}
	pkt.Payload = payload

	msg, pending := d.reassembleSend(pctx.Conversation, tctx, data, raw, pkt, off)
	if pending {
		payload.Decoder = DecoderData
		payload.Pending = true
		return
	}
	if msg != nil {
		data = msg
		payload.Reassembled = true
		pctx.Reassembled = true
	}

	out := d.try(data, pctx, pkt, off)
	if out == nil {
		payload.Decoder = DecoderData
		payload.Data = data
		return
	}
	payload.Decoder = out.Decoder
	payload.Dissection = out
	metrics.PayloadDispatchTotal.WithLabelValues(out.Decoder).Inc()
}

// conversation finds the record for the destination queue pair, first with
// the destination address and then without one.
func (d *dispatcher) conversation(tctx *TransportContext) *plugin.ConversationRecord {
	if d.convs == nil {
		return nil
	}
	if rec, ok := d.convs.Lookup(plugin.ConversationKey{Addr: tctx.DstAddr, QP: tctx.DestQP}); ok {
		return rec
	}
	if rec, ok := d.convs.Lookup(plugin.ConversationKey{QP: tctx.DestQP}); ok {
		return rec
	}
	return nil
}

// reassembleSend feeds a Send fragment to the reassembler. It returns the
// complete message once the last fragment closes it, or pending=true while
// fragments are still missing. State is only touched on a first visit; a
// re-visited fragment is dispatched as it is.
func (d *dispatcher) reassembleSend(conv *plugin.ConversationRecord, tctx *TransportContext, data []byte,
	raw *core.RawPacket, pkt *Packet, off int) (msg []byte, pending bool) {
	if !d.reassemble || d.reasm == nil || conv == nil || !raw.FirstVisit {
		return nil, false
	}
	first, last, ok := opcode.SendPosition(tctx.Opcode)
	if !ok || (first && last) {
		return nil, false
	}
	if first {
		// A new First supersedes a message whose Last never arrived.
		d.reasm.Discard(conv.ID)
		conv.Reassembling = true
	} else if !conv.Reassembling {
		return nil, false
	}

	out, done, err := d.reasm.Add(conv.ID, tctx.PSN, data, !last, raw.Timestamp)
	if err != nil {
		conv.Reassembling = false
		pkt.Diagnostics.Add(core.DiagDispatchError, "reassembly", off, err)
		return nil, false
	}
	if done {
		conv.Reassembling = false
		return out, false
	}
	pkt.Diagnostics.Add(core.DiagReassemblyPending, "reassembly", off,
		fmt.Errorf("psn %d: %w", tctx.PSN, core.ErrReassemblyPending))
	return nil, true
}

// try offers data to the heuristic list and the opcode table in the
// configured order. The first decoder to succeed wins.
func (d *dispatcher) try(data []byte, pctx *plugin.PayloadContext, pkt *Packet, off int) *plugin.Dissection {
	if d.heuristicFirst {
		if out := d.tryHeuristics(data, pctx, pkt, off); out != nil {
			return out
		}
		return d.tryExact(data, pctx, pkt, off)
	}
	if out := d.tryExact(data, pctx, pkt, off); out != nil {
		return out
	}
	return d.tryHeuristics(data, pctx, pkt, off)
}

func (d *dispatcher) tryHeuristics(data []byte, pctx *plugin.PayloadContext, pkt *Packet, off int) *plugin.Dissection {
	for _, h := range d.heuristics {
		if !h.CanHandle(data, pctx) {
			continue
		}
		out, err := h.Handle(data, pctx)
		if err != nil {
			pkt.Diagnostics.Add(core.DiagDispatchError, "payload", off, fmt.Errorf("%s: %w: %v", h.Name(), core.ErrDispatch, err))
			continue
		}
		if out != nil {
			return out
		}
	}
	return nil
}

func (d *dispatcher) tryExact(data []byte, pctx *plugin.PayloadContext, pkt *Packet, off int) *plugin.Dissection {
	dec, ok := d.exact[pctx.Opcode]
	if !ok {
		return nil
	}
	out, err := dec.Handle(data, pctx)
	if err != nil {
		pkt.Diagnostics.Add(core.DiagDispatchError, "payload", off, fmt.Errorf("%s: %w: %v", dec.Name(), core.ErrDispatch, err))
		return nil
	}
	return out
}
