package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"firestige.xyz/ibdissect/internal/config"
	"firestige.xyz/ibdissect/internal/core"
	"firestige.xyz/ibdissect/pkg/plugin"
)

// MockReporter is a testify mock of plugin.Reporter.
type MockReporter struct {
	mock.Mock
}

func (m *MockReporter) Name() string { return "mock" }

func (m *MockReporter) Init(cfg map[string]any) error {
	return m.Called(cfg).Error(0)
}

func (m *MockReporter) Start(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func (m *MockReporter) Stop(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func (m *MockReporter) Flush(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func (m *MockReporter) Report(ctx context.Context, pkt *core.OutputPacket) error {
	return m.Called(ctx, pkt).Error(0)
}

var currentMock *MockReporter

func init() {
	plugin.RegisterReporter("mock", func() plugin.Reporter { return currentMock })
}

// sendOnlyBTH is an RC Send Only to QP 0x12 carrying "hello" plus the ICRC.
var sendOnlyBTH = []byte{
	0x04, 0x00, 0xff, 0xff, 0x00, 0x00, 0x00, 0x12, 0x00, 0x00, 0x00, 0x01,
	'h', 'e', 'l', 'l', 'o',
	0xde, 0xad, 0xbe, 0xef,
}

func makeRoCEv2Frame(t *testing.T, payload []byte) []byte {
	t.Helper()
	eth := &layers.Ethernet{
		SrcMAC:       net.HardwareAddr{0x02, 0, 0, 0, 0, 1},
		DstMAC:       net.HardwareAddr{0x02, 0, 0, 0, 0, 2},
		EthernetType: layers.EthernetTypeIPv4,
	}
	ip := &layers.IPv4{
		Version:  4,
		IHL:      5,
		TTL:      64,
		Protocol: layers.IPProtocolUDP,
		SrcIP:    net.IP{10, 0, 0, 1},
		DstIP:    net.IP{10, 0, 0, 2},
	}
	udp := &layers.UDP{SrcPort: 49152, DstPort: 4791}
	require.NoError(t, udp.SetNetworkLayerForChecksum(ip))

	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
	require.NoError(t, gopacket.SerializeLayers(buf, opts, eth, ip, udp, gopacket.Payload(payload)))
	return buf.Bytes()
}

func writeCapture(t *testing.T, frames ...[]byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "roce.pcap")
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()

	w := pcapgo.NewWriter(f)
	require.NoError(t, w.WriteFileHeader(65536, layers.LinkTypeEthernet))
	for i, data := range frames {
		ci := gopacket.CaptureInfo{
			Timestamp:     time.Unix(1700000000, int64(i)*1000),
			CaptureLength: len(data),
			Length:        len(data),
		}
		require.NoError(t, w.WritePacket(ci, data))
	}
	return path
}

func defaultConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg, err := config.Load("")
	require.NoError(t, err)
	return cfg
}

func TestRunDecode_Console(t *testing.T) {
	path := writeCapture(t, makeRoCEv2Frame(t, sendOnlyBTH), makeRoCEv2Frame(t, sendOnlyBTH))
	cfg := defaultConfig(t)
	cfg.Reporter.Console = map[string]any{"format": "json"}

	var out bytes.Buffer
	stats, err := runDecode(context.Background(), cfg, path, &out)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), stats.Decoded)
	assert.Equal(t, uint64(0), stats.Malformed)

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 2)
	var first map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &first))
	assert.Equal(t, float64(1), first["frame"])
	assert.Equal(t, "transport", first["start"])
	assert.Equal(t, "10.0.0.2", first["dst"])
	labels, ok := first["labels"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "RC SEND Only", labels[core.LabelOpcode])
}

func TestRunDecode_MockReporter(t *testing.T) {
	currentMock = new(MockReporter)
	currentMock.On("Init", mock.Anything).Return(nil)
	currentMock.On("Start", mock.Anything).Return(nil)
	currentMock.On("Report", mock.Anything, mock.Anything).Return(nil)
	currentMock.On("Flush", mock.Anything).Return(nil)
	currentMock.On("Stop", mock.Anything).Return(nil)

	path := writeCapture(t, makeRoCEv2Frame(t, sendOnlyBTH), makeRoCEv2Frame(t, sendOnlyBTH[:5]))
	cfg := defaultConfig(t)
	cfg.Reporter.Type = "mock"

	stats, err := runDecode(context.Background(), cfg, path, &bytes.Buffer{})
	require.NoError(t, err)
	assert.Equal(t, uint64(2), stats.Reported)
	assert.Equal(t, uint64(1), stats.Malformed)

	currentMock.AssertExpectations(t)
	currentMock.AssertNumberOfCalls(t, "Report", 2)
}

func TestRunDecode_UnknownReporter(t *testing.T) {
	path := writeCapture(t, makeRoCEv2Frame(t, sendOnlyBTH))
	cfg := defaultConfig(t)
	cfg.Reporter.Type = "carrier-pigeon"

	_, err := runDecode(context.Background(), cfg, path, &bytes.Buffer{})
	assert.Error(t, err)
}

func TestRunDecode_UnknownHeuristic(t *testing.T) {
	path := writeCapture(t, makeRoCEv2Frame(t, sendOnlyBTH))
	cfg := defaultConfig(t)
	cfg.Heuristics = []string{"nope"}

	_, err := runDecode(context.Background(), cfg, path, &bytes.Buffer{})
	assert.Error(t, err)
}

func TestRunPacket(t *testing.T) {
	var out bytes.Buffer
	err := runPacket(defaultConfig(t), "0400ffff00000012:00000001 68656c6c6f deadbeef", "transport", "json", &out)
	require.NoError(t, err)

	var got map[string]any
	require.NoError(t, json.Unmarshal(out.Bytes(), &got))
	bth, ok := got["bth"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, float64(4), bth["opcode"])
	assert.Equal(t, float64(0x12), bth["dest_qp"])
	payload, ok := got["payload"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "data", payload["decoder"])
	assert.Equal(t, float64(5), payload["length"])
	assert.Equal(t, float64(12), got["header_length"])
}

func TestRunPacket_Errors(t *testing.T) {
	cfg := defaultConfig(t)
	assert.Error(t, runPacket(cfg, "04", "ethernet", "yaml", &bytes.Buffer{}))
	assert.Error(t, runPacket(cfg, "zz", "link", "yaml", &bytes.Buffer{}))
	assert.Error(t, runPacket(cfg, "04", "link", "xml", &bytes.Buffer{}))
}

func TestRunLinkCtl(t *testing.T) {
	var out bytes.Buffer
	require.NoError(t, runLinkCtl("1005 2010 abcd", "yaml", &out))

	s := out.String()
	assert.Contains(t, s, "op: 1")
	assert.Contains(t, s, "fctbs: 5")
	assert.Contains(t, s, "vl: 2")
	assert.Contains(t, s, "fccl: 16")
	assert.Contains(t, s, "lpcrc: 43981")
}

func TestRunClassify(t *testing.T) {
	var out bytes.Buffer
	require.NoError(t, runClassify(&out, false))
	s := out.String()
	assert.Contains(t, s, "OPCODE")
	assert.Regexp(t, `0x04\s+RC SEND Only\s+Payload\s+yes`, s)
	assert.Regexp(t, `0x64\s+UD SEND Only\s+DETH\+Payload\s+yes`, s)
	assert.Regexp(t, `0x11\s+RC Acknowledge\s+AETH\s+no`, s)

	var all bytes.Buffer
	require.NoError(t, runClassify(&all, true))
	assert.Len(t, strings.Split(strings.TrimSpace(all.String()), "\n"), 257)
	assert.Greater(t, len(all.String()), len(s))
}

func TestParseHex(t *testing.T) {
	tests := []struct {
		in   string
		want []byte
	}{
		{"0a0b", []byte{0x0a, 0x0b}},
		{"0x0a0b", []byte{0x0a, 0x0b}},
		{"0a:0b", []byte{0x0a, 0x0b}},
		{" 0a 0b\n", []byte{0x0a, 0x0b}},
	}
	for _, tt := range tests {
		got, err := parseHex(tt.in)
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}
	_, err := parseHex("0a0")
	assert.Error(t, err)
}

func TestDecodeOptionsApply(t *testing.T) {
	cfg := defaultConfig(t)
	cfg.Reporter.Kafka = map[string]any{"topic": "ib"}
	opts := decodeOptions{start: "global", reporter: "kafka", format: "yaml", detail: true}
	opts.apply(cfg)

	assert.Equal(t, "global", cfg.Capture.StartKind)
	assert.Equal(t, "kafka", cfg.Reporter.Type)
	assert.Equal(t, "yaml", cfg.Reporter.Console["format"])
	assert.Equal(t, true, cfg.Reporter.Console["detail"])
	assert.Equal(t, true, cfg.Reporter.Kafka["detail"])
}

func TestPrintVersion(t *testing.T) {
	var out bytes.Buffer
	printVersion(&out)
	assert.True(t, strings.HasPrefix(out.String(), "ibdissect "+version))
}
