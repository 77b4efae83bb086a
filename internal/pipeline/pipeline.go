// Package pipeline implements the capture, dissect and report chain.
package pipeline

import (
	"context"
	"fmt"
	"sync"
	"time"

	"firestige.xyz/ibdissect/internal/core"
	"firestige.xyz/ibdissect/internal/ib"
	"firestige.xyz/ibdissect/internal/log"
)

const defaultBufferSize = 1024

// Source delivers captured packets until it is exhausted or ctx is done.
// It must not close out.
type Source interface {
	Capture(ctx context.Context, out chan<- core.RawPacket) error
}

// Sweeper expires idle session state. Pipelines drive it with capture
// timestamps so offline captures age state at capture speed.
type Sweeper interface {
	Sweep(now time.Time) int
}

// Pipeline represents a single-threaded packet processing chain.
type Pipeline struct {
	source        Source
	dissector     *ib.Dissector
	reporters     []*ReporterWrapper
	sweepers      []Sweeper
	sweepInterval time.Duration
	lastSweep     time.Time
	metrics       *Metrics

	// Runtime state
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	errOnce sync.Once
	err     error

	// Channel for backpressure control
	rawPacketChan chan core.RawPacket
}

// Config contains pipeline configuration.
type Config struct {
	Source        Source
	Dissector     *ib.Dissector
	Reporters     []*ReporterWrapper
	Sweepers      []Sweeper
	SweepInterval time.Duration // capture time between sweeps; 0 disables sweeping
	BufferSize    int           // Raw packet channel buffer size
}

// New creates a new pipeline.
func New(cfg Config) (*Pipeline, error) {
	if cfg.Source == nil {
		return nil, fmt.Errorf("%w: pipeline source is required", core.ErrConfigInvalid)
	}
	if cfg.Dissector == nil {
		return nil, fmt.Errorf("%w: pipeline dissector is required", core.ErrConfigInvalid)
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = defaultBufferSize
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Pipeline{
		source:        cfg.Source,
		dissector:     cfg.Dissector,
		reporters:     cfg.Reporters,
		sweepers:      cfg.Sweepers,
		sweepInterval: cfg.SweepInterval,
		metrics:       NewMetrics(),
		ctx:           ctx,
		cancel:        cancel,
		rawPacketChan: make(chan core.RawPacket, cfg.BufferSize),
	}, nil
}

// Start starts the pipeline processing.
func (p *Pipeline) Start() error {
	log.GetLogger().WithField("reporters", len(p.reporters)).Info("pipeline starting")

	// Batches in flight are flushed after a cancel, so the wrappers must
	// outlive the pipeline context.
	reportCtx := context.WithoutCancel(p.ctx)
	for _, w := range p.reporters {
		w.Start(reportCtx)
	}

	p.wg.Add(1)
	go p.captureLoop()

	p.wg.Add(1)
	go p.processLoop()

	return nil
}

// Wait blocks until the source is exhausted and every packet has been
// handed to the reporters, then flushes them. It returns the capture error.
func (p *Pipeline) Wait() error {
	p.wg.Wait()
	p.errOnce.Do(func() {
		for _, w := range p.reporters {
			w.Close()
		}
		s := p.Stats()
		log.GetLogger().WithFields(map[string]interface{}{
			"received":  s.Received,
			"decoded":   s.Decoded,
			"malformed": s.Malformed,
			"reported":  s.Reported,
			"expired":   s.Expired,
		}).Info("pipeline stopped")
	})
	return p.err
}

// Stop cancels capture and waits for in-flight packets to drain.
func (p *Pipeline) Stop() error {
	log.GetLogger().Info("pipeline stopping")
	p.cancel()
	return p.Wait()
}

// captureLoop reads packets from the source into the processing channel.
func (p *Pipeline) captureLoop() {
	defer p.wg.Done()
	defer close(p.rawPacketChan)

	if err := p.source.Capture(p.ctx, p.rawPacketChan); err != nil && p.ctx.Err() == nil {
		log.GetLogger().WithError(err).Error("capture failed")
		p.err = err
	}
}

// processLoop drains the channel; it returns once the source has closed it.
func (p *Pipeline) processLoop() {
	defer p.wg.Done()

	for raw := range p.rawPacketChan {
		p.processPacket(&raw)
	}
}

// processPacket runs one packet through the dissector and the reporters.
func (p *Pipeline) processPacket(raw *core.RawPacket) {
	p.metrics.Received.Add(1)

	pkt := p.dissector.Decode(raw)
	p.metrics.Decoded.Add(1)
	if pkt.Malformed() {
		p.metrics.Malformed.Add(1)
	}
	p.sweep(raw.Timestamp)

	if len(p.reporters) == 0 {
		return
	}
	out := pkt.Output(raw.Timestamp)
	for _, w := range p.reporters {
		w.Send(out)
	}
	p.metrics.Reported.Add(1)
}

func (p *Pipeline) sweep(ts time.Time) {
	if p.sweepInterval <= 0 || len(p.sweepers) == 0 || ts.IsZero() {
		return
	}
	if p.lastSweep.IsZero() {
		p.lastSweep = ts
		return
	}
	if ts.Sub(p.lastSweep) < p.sweepInterval {
		return
	}
	p.lastSweep = ts
	for _, s := range p.sweepers {
		p.metrics.Expired.Add(uint64(s.Sweep(ts)))
	}
}

// Stats returns pipeline statistics.
func (p *Pipeline) Stats() Stats {
	return Stats{
		Received:  p.metrics.Received.Load(),
		Decoded:   p.metrics.Decoded.Load(),
		Malformed: p.metrics.Malformed.Load(),
		Reported:  p.metrics.Reported.Load(),
		Expired:   p.metrics.Expired.Load(),
	}
}

// Stats represents pipeline statistics.
type Stats struct {
	Received  uint64
	Decoded   uint64
	Malformed uint64
	Reported  uint64
	Expired   uint64 // session entries dropped by sweeps
}
