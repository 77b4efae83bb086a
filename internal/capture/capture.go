// Package capture reads offline captures and demultiplexes each frame down
// to the header the dissector starts on.
package capture

import (
	"bufio"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"

	"firestige.xyz/ibdissect/internal/core"
	"firestige.xyz/ibdissect/internal/log"
	"firestige.xyz/ibdissect/internal/metrics"
)

// pcapng section header block type, identical in either byte order.
const ngSectionHeader = 0x0A0D0D0A

// Config selects how frames are mapped to a start header.
type Config struct {
	// StartKind is auto, link, global or transport. Auto infers it from the
	// link type and encapsulation of each frame.
	StartKind string `mapstructure:"start_kind"`
	// RRoCEUDPPort is the UDP destination port carrying transport headers.
	RRoCEUDPPort uint16 `mapstructure:"-"`
}

// packetReader is satisfied by both pcapgo readers.
type packetReader interface {
	ReadPacketData() ([]byte, gopacket.CaptureInfo, error)
	LinkType() layers.LinkType
}

// FileSource reads a pcap or pcapng file.
type FileSource struct {
	path  string
	demux *Demuxer
}

// NewFileSource creates a source for path. The file is opened by Capture.
func NewFileSource(path string, cfg Config) (*FileSource, error) {
	if path == "" {
		return nil, fmt.Errorf("%w: capture file path is required", core.ErrConfigInvalid)
	}
	d, err := NewDemuxer(cfg)
	if err != nil {
		return nil, err
	}
	return &FileSource{path: path, demux: d}, nil
}

// Capture sends every demultiplexed frame to out until the file ends or ctx
// is done. Frames that carry no dissectable header are skipped.
func (s *FileSource) Capture(ctx context.Context, out chan<- core.RawPacket) error {
	f, err := os.Open(s.path)
	if err != nil {
		return fmt.Errorf("open capture %s: %w", s.path, err)
	}
	defer f.Close()

	r, err := openReader(f)
	if err != nil {
		return fmt.Errorf("read capture %s: %w", s.path, err)
	}
	log.GetLogger().WithFields(map[string]interface{}{
		"path":      s.path,
		"link_type": r.LinkType().String(),
	}).Info("capture opened")
	return s.demux.Run(ctx, r, out)
}

// openReader sniffs the magic number to pick the pcap or pcapng reader.
func openReader(r io.Reader) (packetReader, error) {
	br := bufio.NewReader(r)
	magic, err := br.Peek(4)
	if err != nil {
		return nil, err
	}
	if binary.BigEndian.Uint32(magic) == ngSectionHeader {
		return pcapgo.NewNgReader(br, pcapgo.DefaultNgReaderOptions)
	}
	return pcapgo.NewReader(br)
}

// Run drains r into out.
func (d *Demuxer) Run(ctx context.Context, r packetReader, out chan<- core.RawPacket) error {
	lt := r.LinkType()
	for {
		data, ci, err := r.ReadPacketData()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("read packet: %w", err)
		}

		raw, ok := d.Demux(data, ci, lt)
		if !ok {
			metrics.CaptureFramesTotal.WithLabelValues("skipped").Inc()
			continue
		}
		metrics.CaptureFramesTotal.WithLabelValues(raw.Start.String()).Inc()

		select {
		case out <- raw:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
