package mad

import (
	"fmt"
	"net/netip"

	"firestige.xyz/ibdissect/internal/core"
	"firestige.xyz/ibdissect/internal/core/wire"
	"firestige.xyz/ibdissect/internal/ib/cmstore"
	"firestige.xyz/ibdissect/pkg/plugin"
)

// InvalidQP marks a queue pair that is not known yet. Zero is a valid QP.
const InvalidQP uint32 = 0xFFFFFFFF

const (
	ipcmServiceMask   uint64 = 0xFFFFFFFFFF000000
	ipcmServicePrefix uint64 = 0x0000000001000000
)

// CM is a communication management body.
type CM struct {
	Message any `json:",omitempty"`
	// PrivateData is the message's private data region.
	PrivateData []byte `json:"-"`
	// Heuristic is the next-stage decode of PrivateData, if any decoder took it.
	Heuristic *plugin.Dissection `json:",omitempty"`
	// Context is the connection context the message was correlated with.
	Context *cmstore.Record `json:",omitempty"`
}

// PathInfo is the primary or alternate path of a connect request.
type PathInfo struct {
	LocalLID        uint16
	RemoteLID       uint16
	LocalGID        [16]byte
	RemoteGID       [16]byte
	FlowLabel       uint32
	PacketRate      uint8
	TrafficClass    uint8
	HopLimit        uint8
	SL              uint8
	SubnetLocal     bool
	LocalACKTimeout uint8
}

func readPath(r *wire.Reader) PathInfo {
	p := PathInfo{LocalLID: r.U16(), RemoteLID: r.U16(), LocalGID: r.GID(), RemoteGID: r.GID()}
	v := r.U32()
	p.FlowLabel, p.PacketRate = v>>12, uint8(v&0x3F)
	p.TrafficClass = r.U8()
	p.HopLimit = r.U8()
	b := r.U8()
	p.SL, p.SubnetLocal = hi4(b), b&0x08 != 0
	p.LocalACKTimeout = r.U8() >> 3
	return p
}

// IPCMHeader is carried in the service id of an IP-addressed connect request.
type IPCMHeader struct {
	Protocol uint8
	Port     uint16
}

// IPCMPrivateData is the private data of an IP-addressed connect request.
// Addresses are unset when the version nibble is neither 4 nor 6.
type IPCMPrivateData struct {
	MajorVersion uint8
	MinorVersion uint8
	IPVersion    uint8
	SourcePort   uint16
	SourceIP     netip.Addr
	DestIP       netip.Addr
	ConsumerData []byte
}

// IsIPCMService reports whether a service id is in the IP CM range.
func IsIPCMService(serviceID uint64) bool {
	return serviceID&ipcmServiceMask == ipcmServicePrefix
}

func decodeIPCMPrivateData(data []byte) *IPCMPrivateData {
	r := wire.NewReader(data, len(data))
	p := &IPCMPrivateData{}
	b := r.U8()
	p.MajorVersion, p.MinorVersion = hi4(b), lo4(b)
	p.IPVersion = hi4(r.U8())
	p.SourcePort = r.U16()
	src, dst := r.GID(), r.GID()
	switch p.IPVersion {
	case 4:
		p.SourceIP = netip.AddrFrom4([4]byte(src[12:]))
		p.DestIP = netip.AddrFrom4([4]byte(dst[12:]))
	case 6:
		p.SourceIP = netip.AddrFrom16(src)
		p.DestIP = netip.AddrFrom16(dst)
	}
	p.ConsumerData = r.N(56)
	if r.Err() != nil {
		return nil
	}
	return p
}

type ConnectRequest struct {
	LocalCommID             uint32
	ServiceID               uint64
	LocalCAGUID             uint64
	LocalQKey               uint32
	LocalQPN                uint32
	ResponderResources      uint8
	LocalEECN               uint32
	InitiatorDepth          uint8
	RemoteEECN              uint32
	RemoteCMResponseTimeout uint8
	TransportServiceType    uint8
	EndToEndFlowControl     bool
	StartingPSN             uint32
	LocalCMResponseTimeout  uint8
	RetryCount              uint8
	PartitionKey            uint16
	PathMTU                 uint8
	RDCExists               bool
	RNRRetryCount           uint8
	MaxCMRetries            uint8
	SRQ                     bool
	ExtendedTransportType   uint8
	Primary                 PathInfo
	Alternate               PathInfo
	IPCM                    *IPCMHeader      `json:",omitempty"`
	IPPrivateData           *IPCMPrivateData `json:",omitempty"`
}

func decodeConnectRequest(r *wire.Reader) (*ConnectRequest, []byte) {
	q := &ConnectRequest{LocalCommID: r.U32()}
	r.Skip(4)
	q.ServiceID = r.U64()
	q.LocalCAGUID = r.U64()
	r.Skip(4)
	q.LocalQKey = r.U32()
	v := r.U32()
	q.LocalQPN, q.ResponderResources = v>>8, uint8(v)
	v = r.U32()
	q.LocalEECN, q.InitiatorDepth = v>>8, uint8(v)
	v = r.U32()
	q.RemoteEECN = v >> 8
	q.RemoteCMResponseTimeout = uint8(v>>3) & 0x1F
	q.TransportServiceType = uint8(v>>1) & 0x03
	q.EndToEndFlowControl = v&0x01 != 0
	v = r.U32()
	q.StartingPSN = v >> 8
	q.LocalCMResponseTimeout = uint8(v>>3) & 0x1F
	q.RetryCount = uint8(v) & 0x07
	q.PartitionKey = r.U16()
	b := r.U8()
	q.PathMTU, q.RDCExists, q.RNRRetryCount = hi4(b), b&0x08 != 0, b&0x07
	b = r.U8()
	q.MaxCMRetries, q.SRQ, q.ExtendedTransportType = hi4(b), b&0x08 != 0, b&0x07
	q.Primary = readPath(r)
	q.Alternate = readPath(r)
	private := r.N(92)

	if IsIPCMService(q.ServiceID) {
		q.IPCM = &IPCMHeader{Protocol: uint8(q.ServiceID >> 16), Port: uint16(q.ServiceID)}
		if private != nil {
			q.IPPrivateData = decodeIPCMPrivateData(private)
		}
	}
	return q, private
}

type MessageReceiptAck struct {
	LocalCommID    uint32
	RemoteCommID   uint32
	MessageMRAed   uint8
	ServiceTimeout uint8
}

func decodeMRA(r *wire.Reader) (*MessageReceiptAck, []byte) {
	m := &MessageReceiptAck{LocalCommID: r.U32(), RemoteCommID: r.U32()}
	m.MessageMRAed = r.U8() >> 6
	m.ServiceTimeout = r.U8() >> 3
	return m, r.N(222)
}

type ConnectReject struct {
	LocalCommID          uint32
	RemoteCommID         uint32
	MessageRejected      uint8
	RejectInfoLength     uint8
	Reason               uint16
	AdditionalRejectInfo []byte
}

func decodeConnectReject(r *wire.Reader) (*ConnectReject, []byte) {
	j := &ConnectReject{LocalCommID: r.U32(), RemoteCommID: r.U32()}
	j.MessageRejected = r.U8() >> 6
	j.RejectInfoLength = r.U8() >> 1
	j.Reason = r.U16()
	j.AdditionalRejectInfo = r.N(72)
	return j, r.N(148)
}

type ConnectReply struct {
	LocalCommID         uint32
	RemoteCommID        uint32
	LocalQKey           uint32
	LocalQPN            uint32
	LocalEEContext      uint32
	StartingPSN         uint32
	ResponderResources  uint8
	InitiatorDepth      uint8
	TargetACKDelay      uint8
	FailoverAccepted    uint8
	EndToEndFlowControl bool
	RNRRetryCount       uint8
	SRQ                 bool
	LocalCAGUID         uint64
}

func decodeConnectReply(r *wire.Reader) (*ConnectReply, []byte) {
	p := &ConnectReply{LocalCommID: r.U32(), RemoteCommID: r.U32(), LocalQKey: r.U32()}
	p.LocalQPN = r.U32() >> 8
	p.LocalEEContext = r.U32() >> 8
	p.StartingPSN = r.U32() >> 8
	p.ResponderResources = r.U8()
	p.InitiatorDepth = r.U8()
	b := r.U8()
	p.TargetACKDelay, p.FailoverAccepted, p.EndToEndFlowControl = b>>3, (b>>1)&0x03, b&0x01 != 0
	b = r.U8()
	p.RNRRetryCount, p.SRQ = b>>5, b&0x10 != 0
	p.LocalCAGUID = r.U64()
	return p, r.N(196)
}

// CommIDs is the body shared by ready-to-use and disconnect reply.
type CommIDs struct {
	LocalCommID  uint32
	RemoteCommID uint32
}

type DisconnectRequest struct {
	LocalCommID  uint32
	RemoteCommID uint32
	RemoteQPN    uint32
}

type LoadAlternatePath struct {
	LocalCommID             uint32
	RemoteCommID            uint32
	RemoteQPN               uint32
	RemoteCMResponseTimeout uint8
	Alternate               PathInfo
}

func decodeLAP(r *wire.Reader) (*LoadAlternatePath, []byte) {
	l := &LoadAlternatePath{LocalCommID: r.U32(), RemoteCommID: r.U32()}
	r.Skip(4)
	v := r.U32()
	l.RemoteQPN, l.RemoteCMResponseTimeout = v>>8, uint8(v>>3)&0x1F
	r.Skip(4)
	a := PathInfo{LocalLID: r.U16(), RemoteLID: r.U16(), LocalGID: r.GID(), RemoteGID: r.GID()}
	v = r.U32()
	a.FlowLabel, a.TrafficClass = v>>12, uint8(v)
	a.HopLimit = r.U8()
	a.PacketRate = r.U8() & 0x3F
	b := r.U8()
	a.SL, a.SubnetLocal = hi4(b), b&0x08 != 0
	a.LocalACKTimeout = r.U8() >> 3
	l.Alternate = a
	return l, r.N(168)
}

type AlternatePathReply struct {
	LocalCommID          uint32
	RemoteCommID         uint32
	AdditionalInfoLength uint8
	APStatus             uint8
	AdditionalInfo       []byte
}

func decodeAPR(r *wire.Reader) (*AlternatePathReply, []byte) {
	a := &AlternatePathReply{LocalCommID: r.U32(), RemoteCommID: r.U32()}
	a.AdditionalInfoLength = r.U8()
	a.APStatus = r.U8()
	r.Skip(2)
	a.AdditionalInfo = r.N(72)
	return a, r.N(148)
}

func (d *Decoder) decodeCM(r *wire.Reader, dg *Datagram, ctx *Context) *CM {
	cm := &CM{}
	txid := dg.Header.TransactionID

	switch dg.Header.AttributeID {
	case AttrConnectRequest:
		req, private := decodeConnectRequest(r)
		cm.Message, cm.PrivateData = req, private
		if r.Err() == nil && ctx.FirstVisit {
			cm.Context = d.connectRequested(txid, req, private, ctx)
		}
	case AttrConnectReply:
		rep, private := decodeConnectReply(r)
		cm.Message, cm.PrivateData = rep, private
		if r.Err() == nil {
			cm.Context = d.connectReplied(txid, rep, ctx, dg)
		}
	case AttrReadyToUse:
		m := &CommIDs{LocalCommID: r.U32(), RemoteCommID: r.U32()}
		cm.Message, cm.PrivateData = m, r.N(224)
	case AttrConnectReject:
		cm.Message, cm.PrivateData = decodeConnectReject(r)
	case AttrDisconnectRequest:
		m := &DisconnectRequest{LocalCommID: r.U32(), RemoteCommID: r.U32(), RemoteQPN: r.U32() >> 8}
		cm.Message, cm.PrivateData = m, r.N(220)
	case AttrDisconnectReply:
		m := &CommIDs{LocalCommID: r.U32(), RemoteCommID: r.U32()}
		cm.Message, cm.PrivateData = m, r.N(224)
		if r.Err() == nil && ctx.FirstVisit {
			d.store.Remove(txid, ctx.DstAddr)
		}
	case AttrMessageReceiptAck:
		cm.Message, cm.PrivateData = decodeMRA(r)
	case AttrLoadAlternatePath:
		cm.Message, cm.PrivateData = decodeLAP(r)
	case AttrAlternatePathReply:
		cm.Message, cm.PrivateData = decodeAPR(r)
	default:
		cm.Message = &Opaque{Data: r.N(DataSize)}
		return cm
	}

	if err := r.Err(); err != nil {
		dg.fail("cm", r, err)
		return cm
	}
	if len(cm.PrivateData) > 0 {
		cm.Heuristic = d.offerPrivateData(cm.PrivateData, ctx, dg)
	}
	return cm
}

// connectRequested records a new exchange keyed by the requester address and
// registers the requester's conversation plus a placeholder for the
// responder, completed by the reply.
func (d *Decoder) connectRequested(txid uint64, req *ConnectRequest, private []byte, ctx *Context) *cmstore.Record {
	rec := cmstore.Record{
		RequesterAddr: ctx.SrcAddr,
		ResponderAddr: ctx.DstAddr,
		RequesterLID:  req.Primary.LocalLID,
		ResponderLID:  req.Primary.RemoteLID,
		RequesterQP:   req.LocalQPN,
		ServiceID:     req.ServiceID,
	}
	if err := d.store.Insert(txid, ctx.SrcAddr, rec); err != nil {
		d.logger.WithError(err).Debug("connection context not recorded")
		return nil
	}

	if d.convs != nil {
		// Traffic addressed to the requester flows server to client.
		d.convs.Create(plugin.ConversationKey{Addr: ctx.SrcAddr, QP: req.LocalQPN}, plugin.ConversationRecord{
			ServiceID:   req.ServiceID,
			SourceQP:    InvalidQP,
			PrivateData: private,
		})
		d.convs.Create(plugin.ConversationKey{Addr: ctx.DstAddr, QP: InvalidQP}, plugin.ConversationRecord{
			ServiceID:      req.ServiceID,
			ClientToServer: true,
			SourceQP:       req.LocalQPN,
			PrivateData:    private,
		})
	}
	return &rec
}

// connectReplied completes the exchange started by the matching request. The
// reply travels back to the requester, so its destination is the key.
func (d *Decoder) connectReplied(txid uint64, rep *ConnectReply, ctx *Context, dg *Datagram) *cmstore.Record {
	rec, ok := d.store.Lookup(txid, ctx.DstAddr)
	if !ok {
		dg.Diagnostics.Add(core.DiagLookupMiss, "cm", HeaderSize,
			fmt.Errorf("connect reply tid 0x%x: %w", txid, core.ErrLookupMiss))
		return nil
	}
	if !ctx.FirstVisit {
		return &rec
	}

	rec.ResponderQP = rep.LocalQPN
	if err := d.store.Insert(txid, ctx.DstAddr, rec); err != nil {
		d.logger.WithError(err).Debug("connection context not updated")
	}

	if d.convs != nil {
		var private []byte
		if fwd, ok := d.convs.Lookup(plugin.ConversationKey{Addr: rec.RequesterAddr, QP: rec.RequesterQP}); ok {
			fwd.SourceQP = rep.LocalQPN
			private = fwd.PrivateData
		}
		toResponder := plugin.ConversationRecord{
			ServiceID:      rec.ServiceID,
			ClientToServer: true,
			SourceQP:       rec.RequesterQP,
			PrivateData:    private,
		}
		d.convs.Create(plugin.ConversationKey{Addr: rec.ResponderAddr, QP: rep.LocalQPN}, toResponder)
		// Keyed without an address so RoCE peers whose addresses differ from
		// the connection's still match on the queue pair.
		d.convs.Create(plugin.ConversationKey{QP: rep.LocalQPN}, toResponder)
		d.convs.Delete(plugin.ConversationKey{Addr: rec.ResponderAddr, QP: InvalidQP})
	}
	return &rec
}

// offerPrivateData hands private data to the heuristic decoders. The result
// is informational; it never changes how the datagram is decoded.
func (d *Decoder) offerPrivateData(data []byte, ctx *Context, dg *Datagram) *plugin.Dissection {
	pctx := &plugin.PayloadContext{
		Frame:   ctx.Frame,
		SrcAddr: ctx.SrcAddr,
		DstAddr: ctx.DstAddr,
		SrcQP:   ctx.SrcQP,
		DstQP:   ctx.DstQP,
		PKey:    ctx.PKey,
	}
	for _, h := range d.heuristics {
		if !h.CanHandle(data, pctx) {
			continue
		}
		out, err := h.Handle(data, pctx)
		if err != nil {
			dg.Diagnostics.Add(core.DiagDispatchError, "cm.private", HeaderSize, fmt.Errorf("%s: %w", h.Name(), err))
			continue
		}
		return out
	}
	return nil
}
