package pipeline

import (
	"context"
	"sync/atomic"
	"time"

	"firestige.xyz/ibdissect/internal/core"
	"firestige.xyz/ibdissect/internal/log"
	"firestige.xyz/ibdissect/internal/metrics"
	"firestige.xyz/ibdissect/pkg/plugin"
)

const (
	defaultWrapperBatchSize    = 100
	defaultWrapperBatchTimeout = 50 * time.Millisecond
	defaultWrapperChanCap      = 10000
)

// ReporterWrapper queues decoded packets for one reporter and delivers them
// in batches from its own goroutine. A batch the primary rejects is retried
// packet by packet on the fallback, if one is configured.
type ReporterWrapper struct {
	primary  plugin.Reporter
	fallback plugin.Reporter

	batchSize        int
	batchTimeout     time.Duration
	flushOnMalformed bool

	queue chan *core.OutputPacket
	done  chan struct{}

	stats deliveryCounters
}

// WrapperConfig contains configuration for creating a ReporterWrapper.
type WrapperConfig struct {
	Primary      plugin.Reporter
	Fallback     plugin.Reporter // optional
	BatchSize    int
	BatchTimeout time.Duration
	// FlushOnMalformed delivers the pending batch as soon as a malformed
	// packet joins it.
	FlushOnMalformed bool
}

// DeliveryStats counts what happened to the packets handed to a wrapper.
type DeliveryStats struct {
	Delivered uint64 // accepted by the primary
	Fallback  uint64 // accepted by the fallback after the primary failed
	Dropped   uint64 // accepted by neither
}

type deliveryCounters struct {
	delivered atomic.Uint64
	fallback  atomic.Uint64
	dropped   atomic.Uint64
}

// NewReporterWrapper creates a wrapper around cfg.Primary.
func NewReporterWrapper(cfg WrapperConfig) *ReporterWrapper {
	w := &ReporterWrapper{
		primary:          cfg.Primary,
		fallback:         cfg.Fallback,
		batchSize:        cfg.BatchSize,
		batchTimeout:     cfg.BatchTimeout,
		flushOnMalformed: cfg.FlushOnMalformed,
		queue:            make(chan *core.OutputPacket, defaultWrapperChanCap),
		done:             make(chan struct{}),
	}
	if w.batchSize <= 0 {
		w.batchSize = defaultWrapperBatchSize
	}
	if w.batchTimeout <= 0 {
		w.batchTimeout = defaultWrapperBatchTimeout
	}
	return w
}

// Start runs the delivery goroutine. The reporters themselves are started
// by the caller.
func (w *ReporterWrapper) Start(ctx context.Context) {
	go w.run(ctx)
}

// Send queues pkt. It blocks while the queue is full.
func (w *ReporterWrapper) Send(pkt *core.OutputPacket) {
	w.queue <- pkt
}

// Close delivers everything still queued and waits for it.
func (w *ReporterWrapper) Close() {
	close(w.queue)
	<-w.done

	s := w.Stats()
	log.GetLogger().WithFields(map[string]interface{}{
		"reporter":  w.primary.Name(),
		"delivered": s.Delivered,
		"fallback":  s.Fallback,
		"dropped":   s.Dropped,
	}).Debug("reporter wrapper closed")
}

// Stats returns the delivery counters.
func (w *ReporterWrapper) Stats() DeliveryStats {
	return DeliveryStats{
		Delivered: w.stats.delivered.Load(),
		Fallback:  w.stats.fallback.Load(),
		Dropped:   w.stats.dropped.Load(),
	}
}

func (w *ReporterWrapper) run(ctx context.Context) {
	defer close(w.done)

	ticker := time.NewTicker(w.batchTimeout)
	defer ticker.Stop()

	batch := make([]*core.OutputPacket, 0, w.batchSize)
	for {
		select {
		case pkt, ok := <-w.queue:
			if !ok {
				w.deliver(ctx, batch)
				return
			}
			batch = append(batch, pkt)
			if len(batch) >= w.batchSize || (w.flushOnMalformed && pkt.Malformed) {
				w.deliver(ctx, batch)
				batch = batch[:0]
			}
		case <-ticker.C:
			w.deliver(ctx, batch)
			batch = batch[:0]
		}
	}
}

// deliver hands batch to the primary, then to the fallback for whatever the
// primary did not take.
func (w *ReporterWrapper) deliver(ctx context.Context, batch []*core.OutputPacket) {
	if len(batch) == 0 {
		return
	}
	name := w.primary.Name()
	metrics.ReporterBatchSize.WithLabelValues(name).Observe(float64(len(batch)))

	failed, err := w.toPrimary(ctx, batch)
	w.stats.delivered.Add(uint64(len(batch) - len(failed)))
	if len(failed) == 0 {
		return
	}
	log.GetLogger().WithFields(map[string]interface{}{
		"reporter": name,
		"failed":   len(failed),
		"batch":    len(batch),
	}).WithError(err).Warn("reporter delivery failed")

	if w.fallback == nil {
		w.stats.dropped.Add(uint64(len(failed)))
		return
	}
	for _, pkt := range failed {
		if err := w.fallback.Report(ctx, pkt); err != nil {
			metrics.ReporterErrorsTotal.WithLabelValues(w.fallback.Name(), "fallback").Inc()
			w.stats.dropped.Add(1)
			log.GetLogger().WithField("reporter", w.fallback.Name()).WithError(err).Debug("fallback reporter failed")
			continue
		}
		w.stats.fallback.Add(1)
	}
}

// toPrimary returns the packets the primary did not accept and the last
// error seen. A BatchReporter accepts or rejects the batch as a whole.
func (w *ReporterWrapper) toPrimary(ctx context.Context, batch []*core.OutputPacket) ([]*core.OutputPacket, error) {
	name := w.primary.Name()
	if br, ok := w.primary.(plugin.BatchReporter); ok {
		if err := br.ReportBatch(ctx, batch); err != nil {
			metrics.ReporterErrorsTotal.WithLabelValues(name, "batch").Inc()
			return batch, err
		}
		return nil, nil
	}

	var failed []*core.OutputPacket
	var lastErr error
	for _, pkt := range batch {
		if err := w.primary.Report(ctx, pkt); err != nil {
			metrics.ReporterErrorsTotal.WithLabelValues(name, "report").Inc()
			failed = append(failed, pkt)
			lastErr = err
		}
	}
	return failed, lastErr
}
