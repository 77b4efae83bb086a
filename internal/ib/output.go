package ib

import (
	"fmt"
	"strconv"
	"time"

	"firestige.xyz/ibdissect/internal/core"
	"firestige.xyz/ibdissect/internal/ib/mad"
	"firestige.xyz/ibdissect/internal/ib/opcode"
)

// Output flattens the packet into the summary reporters consume.
func (p *Packet) Output(ts time.Time) *core.OutputPacket {
	out := &core.OutputPacket{
		Frame:     p.Frame,
		Timestamp: ts,
		Start:     p.Start.String(),
		Src:       p.Context.SrcAddr,
		Dst:       p.Context.DstAddr,
		Labels:    p.Labels(),
		Malformed: p.Malformed(),
		Detail:    p,
	}
	for _, d := range p.Diagnostics {
		out.Diagnostics = append(out.Diagnostics, d.Error())
	}
	return out
}

// Labels returns the key fields of the packet as flat labels.
func (p *Packet) Labels() core.Labels {
	l := core.Labels{}
	if p.Link != nil {
		l[core.LabelLinkDLID] = strconv.Itoa(int(p.Link.DLID))
		l[core.LabelLinkSLID] = strconv.Itoa(int(p.Link.SLID))
		l[core.LabelLinkNext] = p.Link.Next.String()
	}
	if p.Global != nil {
		l[core.LabelGlobalSrc] = p.Global.SGID.String()
		l[core.LabelGlobalDst] = p.Global.DGID.String()
	}
	if t := p.Transport; t != nil {
		l[core.LabelOpcode] = opcode.Name(t.Opcode)
		l[core.LabelDestQP] = fmt.Sprintf("0x%06x", t.DestQP)
		l[core.LabelPSN] = strconv.FormatUint(uint64(t.PSN), 10)
		l[core.LabelPKey] = fmt.Sprintf("0x%04x", t.PKey)
		l[core.LabelSequence] = p.SequenceName()
	}
	if dg := p.Management; dg != nil && dg.Kind != mad.KindNone {
		l[core.LabelMADClass] = dg.Kind.String()
		l[core.LabelMADMethod] = dg.Header.MethodName()
		l[core.LabelMADAttribute] = dg.AttributeName
		l[core.LabelMADTID] = fmt.Sprintf("0x%016x", dg.Header.TransactionID)
		if cm, ok := dg.Body.(*mad.CM); ok {
			if req, ok := cm.Message.(*mad.ConnectRequest); ok {
				l[core.LabelCMService] = fmt.Sprintf("0x%016x", req.ServiceID)
			}
		}
	}
	if p.Payload != nil {
		l[core.LabelPayloadDecoder] = p.Payload.Decoder
		l[core.LabelPayloadLength] = strconv.Itoa(p.Payload.Length)
	}
	if s := p.Trailer.String(); s != "" {
		l[core.LabelTrailer] = s
	}
	return l
}
