// Package console implements console debug reporter.
// Outputs decoded packets to stdout as text, JSON or YAML.
package console

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"gopkg.in/yaml.v3"

	"firestige.xyz/ibdissect/internal/core"
	"firestige.xyz/ibdissect/internal/log"
	"firestige.xyz/ibdissect/pkg/plugin"
)

// ConsoleReporter outputs packets to console for debugging.
type ConsoleReporter struct {
	name          string
	format        string // "text", "json" or "yaml"
	detail        bool   // include the full decoded packet
	out           io.Writer
	mu            sync.Mutex
	reportedCount atomic.Uint64
}

// Config represents console reporter configuration.
type Config struct {
	Format string `mapstructure:"format"` // "text", "json" or "yaml", default "text"
	Detail bool   `mapstructure:"detail"` // include the decoded header tree
}

// NewConsoleReporter creates a new console reporter.
func NewConsoleReporter() plugin.Reporter {
	return &ConsoleReporter{
		name:   "console",
		format: "text", // default
		out:    os.Stdout,
	}
}

// Name returns the plugin name.
func (r *ConsoleReporter) Name() string {
	return r.name
}

// Init initializes the reporter with configuration.
func (r *ConsoleReporter) Init(config map[string]any) error {
	if config == nil {
		return nil
	}

	if format, ok := config["format"].(string); ok {
		switch format {
		case "text", "json", "yaml":
			r.format = format
		default:
			return fmt.Errorf("invalid format %q, must be text, json or yaml", format)
		}
	}
	if detail, ok := config["detail"].(bool); ok {
		r.detail = detail
	}
	if w, ok := config["writer"].(io.Writer); ok {
		r.out = w
	}
	return nil
}

// Start starts the reporter.
func (r *ConsoleReporter) Start(ctx context.Context) error {
	log.GetLogger().WithField("format", r.format).Info("console reporter started")
	return nil
}

// Stop stops the reporter.
func (r *ConsoleReporter) Stop(ctx context.Context) error {
	log.GetLogger().WithField("total_reported", r.reportedCount.Load()).Info("console reporter stopped")
	return nil
}

// Report outputs a packet to console.
func (r *ConsoleReporter) Report(ctx context.Context, pkt *core.OutputPacket) error {
	if pkt == nil {
		return fmt.Errorf("nil packet")
	}

	view := *pkt
	if !r.detail {
		view.Detail = nil
	}

	var (
		data []byte
		err  error
	)
	switch r.format {
	case "json":
		data, err = json.Marshal(&view)
		data = append(data, '\n')
	case "yaml":
		data, err = yaml.Marshal(&view)
		data = append([]byte("---\n"), data...)
	default:
		data = []byte(formatText(&view))
	}
	if err != nil {
		return fmt.Errorf("%s marshal failed: %w", r.format, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, err := r.out.Write(data); err != nil {
		return err
	}
	r.reportedCount.Add(1)
	return nil
}

// formatText renders one line per packet with labels in key order.
func formatText(pkt *core.OutputPacket) string {
	var b strings.Builder
	fmt.Fprintf(&b, "#%d [%s] %s %s -> %s",
		pkt.Frame,
		pkt.Timestamp.Format("15:04:05.000000"),
		pkt.Start,
		pkt.Src, pkt.Dst,
	)

	keys := make([]string, 0, len(pkt.Labels))
	for k := range pkt.Labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, " %s=%q", k, pkt.Labels[k])
	}

	if pkt.Malformed {
		b.WriteString(" [malformed]")
	}
	for _, d := range pkt.Diagnostics {
		fmt.Fprintf(&b, " !%s", d)
	}
	b.WriteByte('\n')
	return b.String()
}

// Flush is a no-op for console reporter (stdout auto-flushes).
func (r *ConsoleReporter) Flush(ctx context.Context) error {
	return nil
}
