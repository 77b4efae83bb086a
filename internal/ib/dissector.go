// Package ib decodes the InfiniBand header stack: link, global-route and
// transport headers, the opcode-selected extended headers, the payload and
// the trailer.
package ib

import (
	"fmt"
	"strings"

	"firestige.xyz/ibdissect/internal/core"
	"firestige.xyz/ibdissect/internal/core/wire"
	"firestige.xyz/ibdissect/internal/ib/cmstore"
	"firestige.xyz/ibdissect/internal/ib/mad"
	"firestige.xyz/ibdissect/internal/ib/opcode"
	"firestige.xyz/ibdissect/internal/log"
	"firestige.xyz/ibdissect/internal/metrics"
	"firestige.xyz/ibdissect/pkg/plugin"
)

// DefaultRRoCEUDPPort is the UDP destination port of routable RoCE.
const DefaultRRoCEUDPPort = 4791

// Config contains dissector options.
type Config struct {
	RRoCEUDPPort      uint16 `mapstructure:"rroce_udp_port"`      // UDP port whose payload starts with a transport header
	TryHeuristicFirst bool   `mapstructure:"try_heuristic_first"` // heuristic decoders before the opcode table
	ReassembleSend    bool   `mapstructure:"reassemble_send"`     // rebuild multi-packet Send messages
}

// DefaultConfig returns the default dissector options.
func DefaultConfig() Config {
	return Config{
		RRoCEUDPPort:      DefaultRRoCEUDPPort,
		TryHeuristicFirst: true,
		ReassembleSend:    true,
	}
}

// Deps are the session collaborators. Any of them may be nil; the
// corresponding enrichment is then skipped.
type Deps struct {
	Store         *cmstore.Store
	Conversations plugin.ConversationTable
	Reassembler   plugin.Reassembler
	Heuristics    []plugin.HeuristicDecoder
	// Decoders is the exact-match payload table keyed by opcode.
	Decoders map[uint8]plugin.Decoder
	Handoff  plugin.Handoff
	Logger   log.Logger
}

// Packet is the decoded form of one buffer. Fields are set as far as
// decoding got; Diagnostics explains where and why it stopped.
type Packet struct {
	Frame       uint64         `json:"frame" yaml:"frame"`
	Start       core.StartKind `json:"-" yaml:"-"`
	ReportedLen int            `json:"reported_length" yaml:"reported_length"`

	Link      *LinkHeader      `json:"lrh,omitempty" yaml:"lrh,omitempty"`
	Global    *GlobalHeader    `json:"grh,omitempty" yaml:"grh,omitempty"`
	Raw       *RawHeader       `json:"raw,omitempty" yaml:"raw,omitempty"`
	Transport *TransportHeader `json:"bth,omitempty" yaml:"bth,omitempty"`
	Sequence  opcode.Tag       `json:"-" yaml:"-"`
	Extended  Extended         `json:"extended" yaml:"extended"`

	Management *mad.Datagram `json:"mad,omitempty" yaml:"mad,omitempty"`
	Payload    *Payload      `json:"payload,omitempty" yaml:"payload,omitempty"`
	Trailer    Trailer       `json:"trailer" yaml:"trailer"`

	Context TransportContext `json:"context" yaml:"context"`

	// HeaderLen is the number of header bytes consumed.
	HeaderLen int `json:"header_length" yaml:"header_length"`
	// Budget is what the header lengths leave of the declared packet
	// length. It is bookkeeping only; slicing uses the reported length.
	Budget int `json:"budget" yaml:"budget"`

	Diagnostics core.Diagnostics `json:"diagnostics,omitempty" yaml:"diagnostics,omitempty"`
}

// SequenceName returns the name of the extended header sequence, or the
// empty string when no transport header was decoded.
func (p *Packet) SequenceName() string {
	if p.Transport == nil {
		return ""
	}
	return p.Sequence.String()
}

// Malformed reports whether decoding hit a user-visible anomaly.
func (p *Packet) Malformed() bool { return p.Diagnostics.Malformed() }

func (p *Packet) consume(n int) {
	p.HeaderLen += n
	p.Budget -= n
}

func (p *Packet) fail(layer string, off int, err error) {
	p.Diagnostics.Add(0, layer, off, err)
}

// Dissector decodes packets of one capture session. Decode is not safe for
// concurrent use: the session collaborators expect packets in capture order.
type Dissector struct {
	config   Config
	dispatch *dispatcher
	handoff  plugin.Handoff
	logger   log.Logger
}

// New creates a dissector bound to session collaborators.
func New(cfg Config, deps Deps) *Dissector {
	if deps.Logger == nil {
		deps.Logger = log.GetLogger()
	}
	return &Dissector{
		config: cfg,
		dispatch: &dispatcher{
			heuristicFirst: cfg.TryHeuristicFirst,
			reassemble:     cfg.ReassembleSend,
			heuristics:     deps.Heuristics,
			exact:          deps.Decoders,
			convs:          deps.Conversations,
			reasm:          deps.Reassembler,
			mad: mad.NewDecoder(mad.Deps{
				Store:         deps.Store,
				Conversations: deps.Conversations,
				Heuristics:    deps.Heuristics,
				Logger:        deps.Logger,
			}),
		},
		handoff: deps.Handoff,
		logger:  deps.Logger,
	}
}

// Config returns the options the dissector was created with.
func (d *Dissector) Config() Config { return d.config }

// DecodeBytes decodes buf without touching session state, as a re-visit
// would.
func (d *Dissector) DecodeBytes(buf []byte, start core.StartKind) *Packet {
	return d.Decode(&core.RawPacket{Data: buf, ReportedLen: len(buf), Start: start})
}

// Decode walks the header stack of raw. It never fails: every outcome is
// recorded on the returned packet.
func (d *Dissector) Decode(raw *core.RawPacket) *Packet {
	r := wire.NewReader(raw.Data, raw.ReportedLen)
	pkt := &Packet{
		Frame:       raw.Frame,
		Start:       raw.Start,
		ReportedLen: r.ReportedLen(),
		Budget:      r.ReportedLen(),
		Context:     newTransportContext(),
	}

	next := NextLocal
	trailer := icrcLen
	switch raw.Start {
	case core.StartTransportOnly:
		pkt.Context.SrcAddr = core.IPAddress(raw.SrcIP)
		pkt.Context.DstAddr = core.IPAddress(raw.DstIP)
	case core.StartGlobalRouted:
		next = NextGlobal
	default:
		lrh, err := decodeLink(r)
		if err != nil {
			pkt.fail("lrh", 0, err)
			return d.finish(pkt, r)
		}
		pkt.Link = &lrh
		pkt.HeaderLen = linkHeaderLen
		pkt.Budget = lrh.Length() - linkHeaderLen
		pkt.Context.SrcLID = lrh.SLID
		pkt.Context.DstLID = lrh.DLID
		pkt.Context.SrcAddr = core.LIDAddress(lrh.SLID)
		pkt.Context.DstAddr = core.LIDAddress(lrh.DLID)
		next = lrh.Next
		trailer = icrcLen + vcrcLen
	}

	d.walk(r, pkt, next, trailer, raw)
	return d.finish(pkt, r)
}

func (d *Dissector) walk(r *wire.Reader, pkt *Packet, next NextHeader, trailer int, raw *core.RawPacket) {
	if next == NextGlobal {
		off := r.Offset()
		grh, err := decodeGlobal(r)
		if err != nil {
			pkt.fail("grh", off, err)
			return
		}
		pkt.Global = &grh
		pkt.consume(globalHeaderLen)
		pkt.Context.SrcAddr = core.GIDAddress(grh.SGID)
		pkt.Context.DstAddr = core.GIDAddress(grh.DGID)
		if grh.NextHeader != NextHeaderIBA {
			pkt.Diagnostics.Add(core.DiagForeignPayload, "grh", off,
				fmt.Errorf("next header 0x%02x: %w", grh.NextHeader, core.ErrForeignPayload))
			// The whole remainder is opaque, trailer bytes included.
			pkt.Payload = opaque(r, r.Reported())
			return
		}
		next = NextLocal
	}

	switch next {
	case NextLocal:
		d.transport(r, pkt, trailer, raw)
	case NextIPv6:
		d.handOffIPv6(r, pkt)
	case NextRaw:
		off := r.Offset()
		rh, err := decodeRaw(r)
		if err != nil {
			pkt.fail("raw", off, err)
			return
		}
		pkt.Raw = &rh
		pkt.consume(rawHeaderLen)
		d.handOffEthertype(r, pkt, rh.Ethertype)
	default:
		pkt.Payload = opaque(r, r.Reported())
	}
}

func (d *Dissector) transport(r *wire.Reader, pkt *Packet, trailer int, raw *core.RawPacket) {
	off := r.Offset()
	bth, err := decodeTransport(r)
	if err != nil {
		pkt.fail("bth", off, err)
		return
	}
	pkt.Transport = &bth
	pkt.consume(bth.Len())

	tctx := &pkt.Context
	tctx.Opcode = bth.Opcode
	tctx.PadCount = bth.PadCount
	tctx.PKey = bth.PKey
	tctx.PSN = bth.PSN
	tctx.DestQP = bth.DestQP
	tctx.DCConnect = bth.DCConnect

	tag := opcode.Classify(bth.Opcode, bth.DCConnect)
	pkt.Sequence = tag
	metrics.HeaderSequenceTotal.WithLabelValues(tag.String()).Inc()

	if tag == opcode.TagUnknown {
		pkt.Diagnostics.Add(core.DiagUnrecognizedOpcode, "bth", off,
			fmt.Errorf("opcode 0x%02x: %w", bth.Opcode, core.ErrUnrecognizedOpcode))
		n := r.Reported()
		pkt.Extended.Vendor = r.Sub(n).Rest()
		pkt.consume(n)
		return
	}

	seq := tag.Sequence()
	for _, h := range seq.Headers {
		off := r.Offset()
		if err := decodeExtended(r, h, &pkt.Extended, tctx); err != nil {
			pkt.fail(strings.ToLower(h.String()), off, err)
			return
		}
		pkt.consume(h.Size())
	}
	if seq.Payload {
		d.dispatch.run(r, pkt, trailer, raw)
	}
}

func (d *Dissector) handOffIPv6(r *wire.Reader, pkt *Packet) {
	off := r.Offset()
	n := clamp(r.Reported() - vcrcLen)
	data := r.Sub(n).Rest()
	if d.handoff == nil {
		pkt.Payload = &Payload{Decoder: DecoderData, Length: n, Data: data}
		return
	}
	out, err := d.handoff.IPv6(data)
	if err != nil {
		pkt.Diagnostics.Add(core.DiagDispatchError, "ipv6", off, fmt.Errorf("ipv6: %w: %v", core.ErrDispatch, err))
	}
	pkt.Payload = &Payload{Decoder: DecoderIPv6, Length: n, Dissection: out}
	metrics.PayloadDispatchTotal.WithLabelValues(DecoderIPv6).Inc()
}

func (d *Dissector) handOffEthertype(r *wire.Reader, pkt *Packet, etype uint16) {
	off := r.Offset()
	n := clamp(r.Reported() - vcrcLen)
	data := r.Sub(n).Rest()
	if d.handoff != nil {
		out, known, err := d.handoff.Ethertype(etype, data)
		if err != nil {
			pkt.Diagnostics.Add(core.DiagDispatchError, "ethertype", off,
				fmt.Errorf("ethertype 0x%04x: %w: %v", etype, core.ErrDispatch, err))
		}
		if known {
			pkt.Payload = &Payload{Decoder: DecoderEthertype, Length: n, Dissection: out}
			metrics.PayloadDispatchTotal.WithLabelValues(DecoderEthertype).Inc()
			return
		}
	}
	pkt.Payload = &Payload{Decoder: DecoderData, Length: n, Data: data}
}

// finish locates the trailer on the true remainder and records metrics.
func (d *Dissector) finish(pkt *Packet, r *wire.Reader) *Packet {
	pkt.Trailer = locateTrailer(r)
	metrics.PacketsDecodedTotal.WithLabelValues(pkt.Start.String()).Inc()
	for _, diag := range pkt.Diagnostics {
		metrics.DiagnosticsTotal.WithLabelValues(diag.Kind.String(), diag.Layer).Inc()
	}
	if d.logger.IsDebugEnabled() {
		for _, diag := range pkt.Diagnostics {
			d.logger.WithFields(map[string]interface{}{
				"frame":  pkt.Frame,
				"offset": diag.Offset,
				"kind":   diag.Kind.String(),
			}).Debug("dissector: ", diag.Error())
		}
	}
	return pkt
}

func clamp(n int) int {
	if n < 0 {
		return 0
	}
	return n
}
