package pipeline

import (
	"context"
	"errors"
	"net/netip"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"firestige.xyz/ibdissect/internal/core"
	"firestige.xyz/ibdissect/internal/ib"
)

type sliceSource struct {
	packets []core.RawPacket
	err     error
}

func (s *sliceSource) Capture(ctx context.Context, out chan<- core.RawPacket) error {
	for _, p := range s.packets {
		select {
		case out <- p:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return s.err
}

// blockingSource delivers nothing until cancelled.
type blockingSource struct{}

func (blockingSource) Capture(ctx context.Context, _ chan<- core.RawPacket) error {
	<-ctx.Done()
	return ctx.Err()
}

type countingSweeper struct {
	calls []time.Time
}

func (s *countingSweeper) Sweep(now time.Time) int {
	s.calls = append(s.calls, now)
	return 1
}

// sendOnly is an RC Send Only to QP 0x12 carrying "hello" plus the ICRC.
func sendOnly(frame uint64, ts time.Time) core.RawPacket {
	data := []byte{
		0x04, 0x00, 0xff, 0xff, 0x00, 0x00, 0x00, 0x12, 0x00, 0x00, 0x00, 0x01,
		'h', 'e', 'l', 'l', 'o',
		0xde, 0xad, 0xbe, 0xef,
	}
	return core.RawPacket{
		Data:        data,
		ReportedLen: len(data),
		Frame:       frame,
		Timestamp:   ts,
		Start:       core.StartTransportOnly,
		FirstVisit:  true,
		SrcIP:       netip.MustParseAddr("10.0.0.1"),
		DstIP:       netip.MustParseAddr("10.0.0.2"),
	}
}

func truncated(frame uint64) core.RawPacket {
	data := []byte{0x04, 0x00, 0xff}
	return core.RawPacket{Data: data, ReportedLen: len(data), Frame: frame, Start: core.StartTransportOnly}
}

func TestPipeline_BasicFlow(t *testing.T) {
	base := time.Unix(1700000000, 0)
	src := &sliceSource{packets: []core.RawPacket{
		sendOnly(1, base),
		truncated(2),
		sendOnly(3, base.Add(time.Millisecond)),
	}}
	rep := &mockReporter{name: "mock"}

	p, err := NewBuilder().
		WithSource(src).
		WithDissector(ib.New(ib.DefaultConfig(), ib.Deps{})).
		WithReporters(NewReporterWrapper(WrapperConfig{Primary: rep, BatchSize: 2})).
		Build()
	require.NoError(t, err)
	require.NoError(t, p.Start())
	require.NoError(t, p.Wait())

	stats := p.Stats()
	assert.Equal(t, uint64(3), stats.Received)
	assert.Equal(t, uint64(3), stats.Decoded)
	assert.Equal(t, uint64(1), stats.Malformed)
	assert.Equal(t, uint64(3), stats.Reported)

	pkts := rep.packets()
	require.Len(t, pkts, 3)
	assert.Equal(t, uint64(1), pkts[0].Frame)
	assert.Equal(t, "RC SEND Only", pkts[0].Labels[core.LabelOpcode])
	assert.Equal(t, "data", pkts[0].Labels[core.LabelPayloadDecoder])
	assert.Equal(t, "5", pkts[0].Labels[core.LabelPayloadLength])
	assert.Equal(t, "10.0.0.2", pkts[0].Dst.String())
	assert.True(t, pkts[1].Malformed)
	assert.NotEmpty(t, pkts[1].Diagnostics)
}

func TestPipeline_CaptureError(t *testing.T) {
	src := &sliceSource{err: errors.New("bad file")}
	p, err := New(Config{Source: src, Dissector: ib.New(ib.DefaultConfig(), ib.Deps{})})
	require.NoError(t, err)
	require.NoError(t, p.Start())
	assert.EqualError(t, p.Wait(), "bad file")
}

func TestPipeline_Stop(t *testing.T) {
	p, err := New(Config{Source: blockingSource{}, Dissector: ib.New(ib.DefaultConfig(), ib.Deps{})})
	require.NoError(t, err)
	require.NoError(t, p.Start())

	done := make(chan error, 1)
	go func() { done <- p.Stop() }()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not return")
	}
}

func TestPipeline_SweepsOnCaptureTime(t *testing.T) {
	base := time.Unix(1700000000, 0)
	src := &sliceSource{packets: []core.RawPacket{
		sendOnly(1, base),
		sendOnly(2, base.Add(5*time.Second)),
		sendOnly(3, base.Add(11*time.Second)),
		sendOnly(4, base.Add(12*time.Second)),
		sendOnly(5, base.Add(25*time.Second)),
	}}
	sw := &countingSweeper{}

	p, err := NewBuilder().
		WithSource(src).
		WithDissector(ib.New(ib.DefaultConfig(), ib.Deps{})).
		WithSweepers(10*time.Second, sw).
		Build()
	require.NoError(t, err)
	require.NoError(t, p.Start())
	require.NoError(t, p.Wait())

	assert.Equal(t, []time.Time{base.Add(11 * time.Second), base.Add(25 * time.Second)}, sw.calls)
	assert.Equal(t, uint64(2), p.Stats().Expired)
	assert.Equal(t, uint64(0), p.Stats().Reported, "no reporters configured")
}

func TestNew_RequiresSourceAndDissector(t *testing.T) {
	_, err := New(Config{Dissector: ib.New(ib.DefaultConfig(), ib.Deps{})})
	assert.ErrorIs(t, err, core.ErrConfigInvalid)

	_, err = New(Config{Source: &sliceSource{}})
	assert.ErrorIs(t, err, core.ErrConfigInvalid)
}

func TestMetricsReset(t *testing.T) {
	m := NewMetrics()
	m.Received.Add(3)
	m.Expired.Add(1)
	m.Reset()
	assert.Zero(t, m.Received.Load())
	assert.Zero(t, m.Expired.Load())
}
