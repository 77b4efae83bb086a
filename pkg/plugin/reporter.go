package plugin

import (
	"context"

	"firestige.xyz/ibdissect/internal/core"
)

// Reporter sends decoded packet summaries to external systems.
type Reporter interface {
	Plugin
	Report(ctx context.Context, pkt *core.OutputPacket) error
	Flush(ctx context.Context) error
}

// BatchReporter is implemented by reporters that deliver many packets in
// one call more cheaply than one at a time.
type BatchReporter interface {
	Reporter
	ReportBatch(ctx context.Context, pkts []*core.OutputPacket) error
}
