package ib

import (
	"encoding/binary"
	"errors"
	"net/netip"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"firestige.xyz/ibdissect/internal/conversation"
	"firestige.xyz/ibdissect/internal/core"
	"firestige.xyz/ibdissect/internal/ib/mad"
	"firestige.xyz/ibdissect/internal/ib/opcode"
	"firestige.xyz/ibdissect/internal/reassembly"
	"firestige.xyz/ibdissect/pkg/plugin"
)

var (
	testICRC = []byte{0xDE, 0xAD, 0xBE, 0xEF}
	testVCRC = []byte{0x12, 0x34}

	srcIP = netip.MustParseAddr("10.0.0.1")
	dstIP = netip.MustParseAddr("10.0.0.2")
)

func join(parts ...[]byte) []byte {
	var out []byte
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}

// lrh builds a link header for a packet of total bytes, VCRC included.
func lrh(next NextHeader, dlid, slid uint16, total int) []byte {
	b := make([]byte, linkHeaderLen)
	b[0] = 0x20 // VL 2, LVer 0
	b[1] = 0x30 | byte(next)
	binary.BigEndian.PutUint16(b[2:], dlid)
	binary.BigEndian.PutUint16(b[4:], uint16((total-vcrcLen)/4))
	binary.BigEndian.PutUint16(b[6:], slid)
	return b
}

func grh(next uint8, sgid, dgid GID) []byte {
	b := make([]byte, globalHeaderLen)
	binary.BigEndian.PutUint32(b[0:], 6<<28|0x25<<20|0xABCDE)
	b[6] = next
	b[7] = 64
	copy(b[8:], sgid[:])
	copy(b[24:], dgid[:])
	return b
}

func bth(op uint8, destQP, psn uint32) []byte {
	b := make([]byte, transportHeaderLen)
	b[0] = op
	binary.BigEndian.PutUint16(b[2:], 0xFFFF)
	binary.BigEndian.PutUint32(b[4:], destQP&0xFFFFFF)
	binary.BigEndian.PutUint32(b[8:], 0x80000000|psn&0xFFFFFF)
	return b
}

func transportOnly(data []byte) *core.RawPacket {
	return &core.RawPacket{
		Data:        data,
		ReportedLen: len(data),
		Start:       core.StartTransportOnly,
		FirstVisit:  true,
		SrcIP:       srcIP,
		DstIP:       dstIP,
	}
}

func assertConserved(t *testing.T, pkt *Packet) {
	t.Helper()
	payload := 0
	if pkt.Payload != nil {
		payload = pkt.Payload.Length
	}
	assert.Equal(t, pkt.ReportedLen, pkt.HeaderLen+payload+pkt.Trailer.Len(), "header+payload+trailer")
}

func TestDecodeLinkRouted(t *testing.T) {
	buf := join(lrh(NextLocal, 2, 1, 30), bth(opcode.RCSendOnly, 0x12, 7), []byte("ping"), testICRC, testVCRC)
	require.Len(t, buf, 30)

	pkt := New(DefaultConfig(), Deps{}).DecodeBytes(buf, core.StartLinkRouted)
	require.Empty(t, pkt.Diagnostics)

	require.NotNil(t, pkt.Link)
	assert.Equal(t, uint8(2), pkt.Link.VirtualLane)
	assert.Equal(t, uint8(3), pkt.Link.ServiceLevel)
	assert.Equal(t, NextLocal, pkt.Link.Next)
	assert.Equal(t, uint16(2), pkt.Link.DLID)
	assert.Equal(t, uint16(1), pkt.Link.SLID)
	assert.Equal(t, 28, pkt.Link.Length())

	require.NotNil(t, pkt.Transport)
	assert.Equal(t, uint8(opcode.RCSendOnly), pkt.Transport.Opcode)
	assert.Equal(t, uint32(0x12), pkt.Transport.DestQP)
	assert.Equal(t, uint32(7), pkt.Transport.PSN)
	assert.Equal(t, uint16(0xFFFF), pkt.Transport.PKey)
	assert.True(t, pkt.Transport.AckRequest)
	assert.Equal(t, opcode.TagPayload, pkt.Sequence)

	require.NotNil(t, pkt.Payload)
	assert.Equal(t, DecoderData, pkt.Payload.Decoder)
	assert.Equal(t, 4, pkt.Payload.Length)
	assert.Equal(t, []byte("ping"), pkt.Payload.Data)

	require.NotNil(t, pkt.Trailer.ICRC)
	require.NotNil(t, pkt.Trailer.VCRC)
	assert.Equal(t, uint32(0xDEADBEEF), *pkt.Trailer.ICRC)
	assert.Equal(t, uint16(0x1234), *pkt.Trailer.VCRC)

	assert.Equal(t, 20, pkt.HeaderLen)
	assert.Equal(t, 8, pkt.Budget)
	assert.Equal(t, core.LIDAddress(1), pkt.Context.SrcAddr)
	assert.Equal(t, core.LIDAddress(2), pkt.Context.DstAddr)
	assert.Equal(t, InvalidQP, pkt.Context.SrcQP)
	assertConserved(t, pkt)
}

func TestDecodeRoutable(t *testing.T) {
	buf := join(bth(opcode.RCSendOnly, 0x12, 1), []byte("hello"), testICRC)

	pkt := New(DefaultConfig(), Deps{}).Decode(transportOnly(buf))
	require.Empty(t, pkt.Diagnostics)
	assert.Nil(t, pkt.Link)
	assert.Nil(t, pkt.Global)
	assert.Equal(t, core.IPAddress(srcIP), pkt.Context.SrcAddr)
	assert.Equal(t, core.IPAddress(dstIP), pkt.Context.DstAddr)
	assert.Equal(t, 5, pkt.Payload.Length)
	require.NotNil(t, pkt.Trailer.ICRC)
	assert.Nil(t, pkt.Trailer.VCRC)
	assertConserved(t, pkt)
}

func TestDecodeGlobalRouted(t *testing.T) {
	var sgid, dgid GID
	sgid[0], sgid[1], sgid[15] = 0xfe, 0x80, 0x01
	dgid[0], dgid[1], dgid[15] = 0xfe, 0x80, 0x02

	t.Run("RoCE", func(t *testing.T) {
		buf := join(grh(NextHeaderIBA, sgid, dgid), bth(opcode.RCSendOnly, 0x12, 1), []byte("data"), testICRC)
		pkt := New(DefaultConfig(), Deps{}).DecodeBytes(buf, core.StartGlobalRouted)
		require.Empty(t, pkt.Diagnostics)
		require.NotNil(t, pkt.Global)
		assert.Equal(t, uint8(6), pkt.Global.IPVersion)
		assert.Equal(t, uint8(0x25), pkt.Global.TrafficClass)
		assert.Equal(t, uint32(0xABCDE), pkt.Global.FlowLabel)
		assert.Equal(t, uint8(64), pkt.Global.HopLimit)
		assert.Equal(t, "fe80::1", pkt.Global.SGID.String())
		assert.Equal(t, core.GIDAddress(dgid), pkt.Context.DstAddr)
		assert.Equal(t, 52, pkt.HeaderLen)
		assertConserved(t, pkt)
	})

	t.Run("LinkThenGlobal", func(t *testing.T) {
		body := join(grh(NextHeaderIBA, sgid, dgid), bth(opcode.RCSendOnly, 0x12, 1), []byte("data"), testICRC)
		total := linkHeaderLen + len(body) + vcrcLen
		buf := join(lrh(NextGlobal, 2, 1, total), body, testVCRC)
		pkt := New(DefaultConfig(), Deps{}).DecodeBytes(buf, core.StartLinkRouted)
		require.Empty(t, pkt.Diagnostics)
		require.NotNil(t, pkt.Link)
		require.NotNil(t, pkt.Global)
		assert.Equal(t, core.GIDAddress(sgid), pkt.Context.SrcAddr, "global addresses replace local ones")
		assert.Equal(t, "icrc+vcrc", pkt.Trailer.String())
		assertConserved(t, pkt)
	})

	t.Run("ForeignPayload", func(t *testing.T) {
		buf := join(grh(0x3B, sgid, dgid), []byte("0123456789"))
		pkt := New(DefaultConfig(), Deps{}).DecodeBytes(buf, core.StartGlobalRouted)
		assert.True(t, pkt.Diagnostics.Has(core.DiagForeignPayload))
		assert.False(t, pkt.Malformed())
		assert.Nil(t, pkt.Transport)
		require.NotNil(t, pkt.Payload)
		assert.Equal(t, 10, pkt.Payload.Length)
		assertConserved(t, pkt)
	})

	t.Run("ForeignPayloadTrailerSized", func(t *testing.T) {
		buf := join(grh(0x3B, sgid, dgid), []byte("abcd"))
		pkt := New(DefaultConfig(), Deps{}).DecodeBytes(buf, core.StartGlobalRouted)
		assert.True(t, pkt.Diagnostics.Has(core.DiagForeignPayload))
		require.NotNil(t, pkt.Payload)
		assert.Equal(t, 4, pkt.Payload.Length)
		assert.Equal(t, []byte("abcd"), pkt.Payload.Data)
		assert.Zero(t, pkt.Trailer.Len(), "foreign bytes are not read as a trailer")
		assertConserved(t, pkt)
	})
}

func TestDecodeTruncated(t *testing.T) {
	tests := []struct {
		name  string
		buf   []byte
		start core.StartKind
		layer string
	}{
		{"link", []byte{0x20, 0x32, 0x00, 0x02, 0x00}, core.StartLinkRouted, "lrh"},
		{"transport", join(lrh(NextLocal, 2, 1, 16), []byte{0x04, 0, 0xFF, 0xFF, 0, 0}), core.StartLinkRouted, "bth"},
		{"global", make([]byte, 20), core.StartGlobalRouted, "grh"},
		{"reth", join(bth(opcode.ClassRC<<5|opcode.RDMAWriteFirst, 0x12, 1), make([]byte, 8)), core.StartTransportOnly, "reth"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pkt := New(DefaultConfig(), Deps{}).DecodeBytes(tt.buf, tt.start)
			assert.True(t, pkt.Malformed())
			require.NotEmpty(t, pkt.Diagnostics)
			d := pkt.Diagnostics[0]
			assert.Equal(t, core.DiagTruncated, d.Kind)
			assert.Equal(t, tt.layer, d.Layer)
			assert.True(t, errors.Is(d, core.ErrTruncated))
		})
	}
}

func TestDecodeSlicedCapture(t *testing.T) {
	full := join(bth(opcode.RCSendOnly, 0x12, 1), make([]byte, 100), testICRC)
	raw := transportOnly(full[:30])
	raw.ReportedLen = len(full)

	pkt := New(DefaultConfig(), Deps{}).Decode(raw)
	assert.False(t, pkt.Malformed())
	assert.Equal(t, 116, pkt.ReportedLen)
	require.NotNil(t, pkt.Payload)
	assert.Equal(t, 100, pkt.Payload.Length, "length follows the reported size")
	assert.Len(t, pkt.Payload.Data, 18, "data holds only captured bytes")
	assert.Nil(t, pkt.Trailer.ICRC, "trailer was not captured")
}

func TestDecodeAcknowledge(t *testing.T) {
	aeth := []byte{0x65, 0x00, 0x01, 0x02}
	buf := join(bth(opcode.RCAcknowledge, 0x12, 3), aeth, testICRC)

	pkt := New(DefaultConfig(), Deps{}).Decode(transportOnly(buf))
	require.Empty(t, pkt.Diagnostics)
	assert.Equal(t, opcode.TagAeth, pkt.Sequence)
	require.NotNil(t, pkt.Extended.AETH)
	a := pkt.Extended.AETH
	assert.Equal(t, uint8(SyndromeNak), a.Class)
	assert.Equal(t, "NAK", a.ClassName())
	code, ok := a.NakCode()
	assert.True(t, ok)
	assert.Equal(t, uint8(5), code)
	_, ok = a.CreditCount()
	assert.False(t, ok)
	assert.Equal(t, uint32(0x102), a.MSN)
	assert.Nil(t, pkt.Payload)
	assert.Equal(t, 16, pkt.HeaderLen)
	assertConserved(t, pkt)
}

func TestDecodeRDMAWrite(t *testing.T) {
	reth := make([]byte, 16)
	binary.BigEndian.PutUint64(reth[0:], 0x00007F0012345000)
	binary.BigEndian.PutUint32(reth[8:], 0xABCD)
	binary.BigEndian.PutUint32(reth[12:], 4096)
	imm := []byte{0, 0, 0, 9}
	buf := join(bth(opcode.ClassRC<<5|opcode.RDMAWriteOnlyImm, 0x12, 1), reth, imm, []byte("xy"), testICRC)

	pkt := New(DefaultConfig(), Deps{}).Decode(transportOnly(buf))
	require.Empty(t, pkt.Diagnostics)
	assert.Equal(t, "RETH+ImmDt+Payload", pkt.SequenceName())
	require.NotNil(t, pkt.Extended.RETH)
	assert.Equal(t, uint32(4096), pkt.Extended.RETH.DMALength)
	assert.Equal(t, uint64(0x00007F0012345000), pkt.Context.RemoteAddress)
	assert.Equal(t, uint32(0xABCD), pkt.Context.RemoteKey)
	require.NotNil(t, pkt.Extended.ImmDt)
	assert.Equal(t, uint32(9), *pkt.Extended.ImmDt)
	assert.Equal(t, 2, pkt.Payload.Length)
	assertConserved(t, pkt)
}

func TestDecodeRDMAReadRequest(t *testing.T) {
	reth := make([]byte, 16)
	binary.BigEndian.PutUint64(reth[0:], 0x0000550000001000)
	binary.BigEndian.PutUint32(reth[8:], 0x1234)
	binary.BigEndian.PutUint32(reth[12:], 65536)
	buf := join(bth(opcode.RCRDMAReadReq, 0x12, 3), reth, testICRC)

	pkt := New(DefaultConfig(), Deps{}).Decode(transportOnly(buf))
	require.Empty(t, pkt.Diagnostics)
	assert.Equal(t, opcode.TagReth, pkt.Sequence)
	assert.Equal(t, uint64(0x0000550000001000), pkt.Context.RemoteAddress)
	assert.Equal(t, uint32(0x1234), pkt.Context.RemoteKey)
	assert.Equal(t, uint32(65536), pkt.Context.DMALength)
	assert.Equal(t, 28, pkt.HeaderLen)

	require.NotNil(t, pkt.Payload, "the payload step runs after the RETH")
	assert.Equal(t, DecoderData, pkt.Payload.Decoder)
	assert.Zero(t, pkt.Payload.Length)
	require.NotNil(t, pkt.Trailer.ICRC)
	assertConserved(t, pkt)
}

func TestDecodeExtendedTransport(t *testing.T) {
	ext := make([]byte, 8)
	rdeth := []byte{0x00, 0x00, 0x00, 0x42}
	deth := make([]byte, 8)
	binary.BigEndian.PutUint32(deth[0:], 0x80010000)
	binary.BigEndian.PutUint32(deth[4:], 0x22)
	dcceth := make([]byte, 16)
	binary.BigEndian.PutUint64(dcceth[0:], 0x0102030405060708)

	// connect clears the bit the DC-connect flag is derived from
	resync := func(connect bool) []byte {
		b := bth(opcode.RDResync, 0x12, 1)
		if !connect {
			b[1] |= 0x80
		}
		return b
	}

	tests := []struct {
		name      string
		buf       []byte
		seq       opcode.Tag
		headerLen int
		payload   int
	}{
		{"rd send", join(bth(opcode.ClassRD<<5|opcode.SendOnly, 0x12, 1), ext, rdeth, deth, []byte("data"), testICRC),
			opcode.TagRdethDethPayload, 32, 4},
		{"dc connect", join(resync(true), ext, dcceth, testICRC), opcode.TagDcceth, 36, 0},
		{"resync", join(resync(false), ext, []byte("xy"), testICRC), opcode.TagPayload, 20, 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pkt := New(DefaultConfig(), Deps{}).Decode(transportOnly(tt.buf))
			require.Empty(t, pkt.Diagnostics)
			require.NotNil(t, pkt.Transport)
			assert.Len(t, pkt.Transport.Extension, 8)
			assert.Equal(t, tt.seq, pkt.Sequence)
			assert.Equal(t, tt.headerLen, pkt.HeaderLen)
			if tt.payload > 0 {
				require.NotNil(t, pkt.Payload)
				assert.Equal(t, tt.payload, pkt.Payload.Length)
			}
			require.NotNil(t, pkt.Trailer.ICRC)
			assertConserved(t, pkt)
		})
	}

	t.Run("rd fields", func(t *testing.T) {
		pkt := New(DefaultConfig(), Deps{}).Decode(transportOnly(tests[0].buf))
		require.NotNil(t, pkt.Extended.RDETH)
		assert.Equal(t, uint32(0x42), pkt.Extended.RDETH.EEContext)
		assert.Equal(t, uint32(0x22), pkt.Context.SrcQP)
		assert.False(t, pkt.Context.DCConnect)
	})

	t.Run("dc fields", func(t *testing.T) {
		pkt := New(DefaultConfig(), Deps{}).Decode(transportOnly(tests[1].buf))
		assert.True(t, pkt.Context.DCConnect)
		require.NotNil(t, pkt.Extended.DCCETH)
		assert.Equal(t, uint64(0x0102030405060708), pkt.Extended.DCCETH.AccessKey)
	})
}

func TestDecodeUnknownOpcode(t *testing.T) {
	buf := join(bth(0xC0, 0x12, 1), make([]byte, 10))

	pkt := New(DefaultConfig(), Deps{}).Decode(transportOnly(buf))
	assert.True(t, pkt.Diagnostics.Has(core.DiagUnrecognizedOpcode))
	assert.False(t, pkt.Malformed())
	assert.Equal(t, opcode.TagUnknown, pkt.Sequence)
	assert.Len(t, pkt.Extended.Vendor, 10)
	assert.Equal(t, 22, pkt.HeaderLen, "vendor bytes count as header")
	assert.Nil(t, pkt.Payload)
	assertConserved(t, pkt)
}

func TestDecodeManagementDatagram(t *testing.T) {
	deth := make([]byte, 8)
	binary.BigEndian.PutUint32(deth[0:], 0x80010000)
	binary.BigEndian.PutUint32(deth[4:], 1)

	dg := make([]byte, mad.Size)
	dg[0] = 1
	dg[1] = mad.ClassPerformance
	dg[2] = 1
	dg[3] = 0x81
	binary.BigEndian.PutUint64(dg[8:], 0x42)
	binary.BigEndian.PutUint16(dg[16:], mad.AttrPortCounters)

	body := join(bth(opcode.UDSendOnly, 1, 5), deth, dg, testICRC)
	total := linkHeaderLen + len(body) + vcrcLen
	buf := join(lrh(NextLocal, 2, 1, total), body, testVCRC)

	pkt := New(DefaultConfig(), Deps{}).DecodeBytes(buf, core.StartLinkRouted)
	require.Empty(t, pkt.Diagnostics)
	assert.Equal(t, uint32(1), pkt.Context.SrcQP)
	require.NotNil(t, pkt.Management)
	assert.Equal(t, mad.KindPerformance, pkt.Management.Kind)
	require.NotNil(t, pkt.Payload)
	assert.Equal(t, DecoderMAD, pkt.Payload.Decoder)
	assert.Equal(t, mad.Size, pkt.Payload.Length)
	assert.Equal(t, "icrc+vcrc", pkt.Trailer.String())
	assertConserved(t, pkt)

	labels := pkt.Labels()
	assert.Equal(t, "Perf", labels[core.LabelMADClass])
	assert.Equal(t, "GetResp", labels[core.LabelMADMethod])
	assert.Equal(t, "0x0000000000000042", labels[core.LabelMADTID])
	assert.Equal(t, "UD SEND Only", labels[core.LabelOpcode])
	assert.Equal(t, "DETH+Payload", labels[core.LabelSequence])
}

type fakeHandoff struct {
	got   []byte
	etype uint16
	known bool
	err   error
}

func (f *fakeHandoff) IPv6(data []byte) (*plugin.Dissection, error) {
	f.got = data
	return &plugin.Dissection{Decoder: "ipv6", Layers: []string{"IPv6"}}, f.err
}

func (f *fakeHandoff) Ethertype(etype uint16, data []byte) (*plugin.Dissection, bool, error) {
	f.got, f.etype = data, etype
	if !f.known {
		return nil, false, nil
	}
	return &plugin.Dissection{Decoder: "IPv4"}, true, f.err
}

func (f *fakeHandoff) Ethernet(data []byte) (*plugin.Dissection, error) {
	f.got = data
	return nil, f.err
}

func TestDecodeHandoff(t *testing.T) {
	inner := []byte("an ipv6 packet")

	t.Run("IPv6", func(t *testing.T) {
		h := &fakeHandoff{}
		total := linkHeaderLen + len(inner) + vcrcLen
		buf := join(lrh(NextIPv6, 2, 1, total), inner, testVCRC)

		pkt := New(DefaultConfig(), Deps{Handoff: h}).DecodeBytes(buf, core.StartLinkRouted)
		require.Empty(t, pkt.Diagnostics)
		assert.Equal(t, inner, h.got)
		assert.Equal(t, DecoderIPv6, pkt.Payload.Decoder)
		assert.Equal(t, "vcrc", pkt.Trailer.String())
		assertConserved(t, pkt)
	})

	t.Run("IPv6Error", func(t *testing.T) {
		h := &fakeHandoff{err: errors.New("bad header")}
		total := linkHeaderLen + len(inner) + vcrcLen
		buf := join(lrh(NextIPv6, 2, 1, total), inner, testVCRC)

		pkt := New(DefaultConfig(), Deps{Handoff: h}).DecodeBytes(buf, core.StartLinkRouted)
		assert.True(t, pkt.Diagnostics.Has(core.DiagDispatchError))
		assert.False(t, pkt.Malformed())
		assert.Equal(t, "vcrc", pkt.Trailer.String(), "trailer located after a failed handoff")
	})

	t.Run("RawEthertype", func(t *testing.T) {
		h := &fakeHandoff{known: true}
		raw := []byte{0, 0, 0x08, 0x00}
		total := linkHeaderLen + len(raw) + len(inner) + vcrcLen
		buf := join(lrh(NextRaw, 2, 1, total), raw, inner, testVCRC)

		pkt := New(DefaultConfig(), Deps{Handoff: h}).DecodeBytes(buf, core.StartLinkRouted)
		require.Empty(t, pkt.Diagnostics)
		require.NotNil(t, pkt.Raw)
		assert.Equal(t, uint16(0x0800), pkt.Raw.Ethertype)
		assert.Equal(t, uint16(0x0800), h.etype)
		assert.Equal(t, DecoderEthertype, pkt.Payload.Decoder)
		assertConserved(t, pkt)
	})

	t.Run("RawUnknownEthertype", func(t *testing.T) {
		h := &fakeHandoff{}
		raw := []byte{0, 0, 0x88, 0xB5}
		total := linkHeaderLen + len(raw) + len(inner) + vcrcLen
		buf := join(lrh(NextRaw, 2, 1, total), raw, inner, testVCRC)

		pkt := New(DefaultConfig(), Deps{Handoff: h}).DecodeBytes(buf, core.StartLinkRouted)
		assert.Equal(t, DecoderData, pkt.Payload.Decoder)
		assert.Equal(t, inner, pkt.Payload.Data)
		assertConserved(t, pkt)
	})
}

type fakeDecoder struct {
	name   string
	accept bool
	err    error
	calls  int
}

func (f *fakeDecoder) Name() string { return f.name }

func (f *fakeDecoder) CanHandle(data []byte, pctx *plugin.PayloadContext) bool { return f.accept }

func (f *fakeDecoder) Handle(data []byte, pctx *plugin.PayloadContext) (*plugin.Dissection, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return &plugin.Dissection{Decoder: f.name}, nil
}

func TestDispatchOrder(t *testing.T) {
	buf := join(bth(opcode.RCSendOnly, 0x12, 1), []byte("ping"), testICRC)

	tests := []struct {
		name           string
		heuristicFirst bool
		heuristic      *fakeDecoder
		want           string
		wantDiag       bool
	}{
		{"heuristic first", true, &fakeDecoder{name: "heur", accept: true}, "heur", false},
		{"table first", false, &fakeDecoder{name: "heur", accept: true}, "exact", false},
		{"heuristic declines", true, &fakeDecoder{name: "heur"}, "exact", false},
		{"heuristic fails", true, &fakeDecoder{name: "heur", accept: true, err: errors.New("boom")}, "exact", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.TryHeuristicFirst = tt.heuristicFirst
			d := New(cfg, Deps{
				Heuristics: []plugin.HeuristicDecoder{tt.heuristic},
				Decoders:   map[uint8]plugin.Decoder{opcode.RCSendOnly: &fakeDecoder{name: "exact"}},
			})
			pkt := d.Decode(transportOnly(buf))
			require.NotNil(t, pkt.Payload)
			assert.Equal(t, tt.want, pkt.Payload.Decoder)
			assert.Equal(t, tt.wantDiag, pkt.Diagnostics.Has(core.DiagDispatchError))
			assert.False(t, pkt.Malformed())
			assertConserved(t, pkt)
		})
	}
}

func TestDispatchReassembly(t *testing.T) {
	convs := conversation.NewTable()
	rec := convs.Create(plugin.ConversationKey{Addr: core.IPAddress(dstIP), QP: 0x12},
		plugin.ConversationRecord{ServiceID: 0x1000})
	d := New(DefaultConfig(), Deps{
		Conversations: convs,
		Reassembler:   reassembly.New(reassembly.Config{}),
	})
	ts := time.Unix(1700000000, 0)

	first := transportOnly(join(bth(opcode.RCSendFirst, 0x12, 10), []byte("hel"), testICRC))
	first.Timestamp = ts
	pkt := d.Decode(first)
	require.NotNil(t, pkt.Payload)
	assert.True(t, pkt.Payload.Pending)
	assert.True(t, pkt.Diagnostics.Has(core.DiagReassemblyPending))
	assert.False(t, pkt.Malformed())
	assert.True(t, rec.Reassembling)

	last := transportOnly(join(bth(opcode.ClassRC<<5|opcode.SendLast, 0x12, 11), []byte("lo"), testICRC))
	last.Timestamp = ts.Add(time.Millisecond)
	pkt = d.Decode(last)
	require.NotNil(t, pkt.Payload)
	assert.True(t, pkt.Payload.Reassembled)
	assert.Equal(t, []byte("hello"), pkt.Payload.Data)
	assert.Equal(t, 2, pkt.Payload.Length)
	assert.False(t, rec.Reassembling)
	assertConserved(t, pkt)

	revisit := transportOnly(first.Data)
	revisit.FirstVisit = false
	pkt = d.Decode(revisit)
	assert.False(t, pkt.Payload.Pending, "re-visits leave state alone")
	assert.Equal(t, []byte("hel"), pkt.Payload.Data)
}

func TestDispatchReassemblyLostLast(t *testing.T) {
	convs := conversation.NewTable()
	rec := convs.Create(plugin.ConversationKey{Addr: core.IPAddress(dstIP), QP: 0x12},
		plugin.ConversationRecord{ServiceID: 0x1000})
	reasm := reassembly.New(reassembly.Config{})
	d := New(DefaultConfig(), Deps{Conversations: convs, Reassembler: reasm})
	ts := time.Unix(1700000000, 0)

	send := func(op uint8, psn uint32, data string) *Packet {
		raw := transportOnly(join(bth(op, 0x12, psn), []byte(data), testICRC))
		raw.Timestamp = ts
		return d.Decode(raw)
	}

	// First message loses its Last.
	assert.True(t, send(opcode.RCSendFirst, 10, "aa").Payload.Pending)
	assert.True(t, send(opcode.ClassRC<<5|opcode.SendMiddle, 11, "bb").Payload.Pending)
	require.Equal(t, 1, reasm.Pending())

	assert.True(t, send(opcode.RCSendFirst, 20, "hel").Payload.Pending)
	assert.Equal(t, 1, reasm.Pending(), "the stale message is dropped")

	pkt := send(opcode.ClassRC<<5|opcode.SendLast, 21, "lo")
	require.NotNil(t, pkt.Payload)
	assert.False(t, pkt.Payload.Pending)
	assert.True(t, pkt.Payload.Reassembled)
	assert.Equal(t, []byte("hello"), pkt.Payload.Data)
	assert.False(t, rec.Reassembling)
	assert.Zero(t, reasm.Pending())
	assertConserved(t, pkt)
}

func TestDecodeDeterministic(t *testing.T) {
	buf := join(lrh(NextLocal, 2, 1, 30), bth(opcode.RCSendOnly, 0x12, 7), []byte("ping"), testICRC, testVCRC)
	d := New(DefaultConfig(), Deps{})
	assert.Equal(t, d.DecodeBytes(buf, core.StartLinkRouted), d.DecodeBytes(buf, core.StartLinkRouted))
}

func TestOutput(t *testing.T) {
	buf := join(lrh(NextLocal, 2, 1, 30), bth(opcode.RCSendOnly, 0x12, 7), []byte("ping"), testICRC, testVCRC)
	pkt := New(DefaultConfig(), Deps{}).Decode(&core.RawPacket{
		Data:        buf,
		ReportedLen: len(buf),
		Frame:       9,
		Start:       core.StartLinkRouted,
	})
	ts := time.Unix(1700000000, 0)

	out := pkt.Output(ts)
	assert.Equal(t, uint64(9), out.Frame)
	assert.Equal(t, ts, out.Timestamp)
	assert.Equal(t, "link", out.Start)
	assert.Equal(t, core.LIDAddress(1), out.Src)
	assert.False(t, out.Malformed)
	assert.Empty(t, out.Diagnostics)
	assert.Same(t, pkt, out.Detail)

	assert.Equal(t, core.Labels{
		core.LabelLinkDLID:       "2",
		core.LabelLinkSLID:       "1",
		core.LabelLinkNext:       "local",
		core.LabelOpcode:         "RC SEND Only",
		core.LabelDestQP:         "0x000012",
		core.LabelPSN:            "7",
		core.LabelPKey:           "0xffff",
		core.LabelSequence:       "Payload",
		core.LabelPayloadDecoder: "data",
		core.LabelPayloadLength:  "4",
		core.LabelTrailer:        "icrc+vcrc",
	}, out.Labels)
}

func TestDecodeLinkControl(t *testing.T) {
	lc := DecodeLinkControl([]byte{0x10, 0x05, 0x20, 0x10, 0xAB, 0xCD})
	assert.Empty(t, lc.Diagnostics)
	assert.Equal(t, uint8(LinkOpInit), lc.Operand)
	assert.Equal(t, uint16(5), lc.FCTBS)
	assert.Equal(t, uint8(2), lc.VL)
	assert.Equal(t, uint16(16), lc.FCCL)
	assert.Equal(t, uint16(0xABCD), lc.LPCRC)

	lc = DecodeLinkControl([]byte{0x20, 0x01, 0xFF})
	assert.True(t, lc.Reserved)
	assert.Equal(t, []byte{0xFF}, lc.Data)

	lc = DecodeLinkControl([]byte{0x00, 0x01, 0x20})
	assert.True(t, lc.Diagnostics.Has(core.DiagTruncated))
}
