// Package kafka implements Kafka reporter plugin.
// Sends decoded packet summaries to Kafka with batching, compression, and retry support.
package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/segmentio/kafka-go/compress"

	"firestige.xyz/ibdissect/internal/core"
	"firestige.xyz/ibdissect/internal/log"
	"firestige.xyz/ibdissect/internal/metrics"
	"firestige.xyz/ibdissect/pkg/plugin"
)

const (
	defaultBatchSize    = 100
	defaultBatchTimeout = 100 * time.Millisecond
	defaultCompression  = "snappy"
	defaultMaxAttempts  = 3
)

// messageWriter is the part of kafka.Writer the reporter uses.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaReporter sends packets to Kafka.
type KafkaReporter struct {
	name   string
	writer messageWriter
	config Config

	// Statistics
	reportedCount atomic.Uint64
	errorCount    atomic.Uint64
}

// Config represents Kafka reporter configuration.
type Config struct {
	Brokers      []string      `mapstructure:"brokers"`       // required
	Topic        string        `mapstructure:"topic"`         // required
	BatchSize    int           `mapstructure:"batch_size"`    // optional, default 100
	BatchTimeout time.Duration `mapstructure:"batch_timeout"` // optional, default 100ms
	Compression  string        `mapstructure:"compression"`   // optional: none|gzip|snappy|lz4|zstd, default snappy
	MaxAttempts  int           `mapstructure:"max_attempts"`  // optional, default 3
	Detail       bool          `mapstructure:"detail"`        // include the decoded header tree
}

// NewKafkaReporter creates a new Kafka reporter.
func NewKafkaReporter() plugin.Reporter {
	return &KafkaReporter{
		name: "kafka",
	}
}

// Name returns the plugin name.
func (r *KafkaReporter) Name() string {
	return r.name
}

// Init initializes the reporter with configuration.
func (r *KafkaReporter) Init(config map[string]any) error {
	if config == nil {
		return fmt.Errorf("kafka reporter requires configuration")
	}

	cfg := Config{
		BatchSize:    defaultBatchSize,
		BatchTimeout: defaultBatchTimeout,
		Compression:  defaultCompression,
		MaxAttempts:  defaultMaxAttempts,
	}

	// Required: brokers
	switch brokers := config["brokers"].(type) {
	case []string:
		cfg.Brokers = brokers
	case []any:
		cfg.Brokers = make([]string, len(brokers))
		for i, b := range brokers {
			broker, ok := b.(string)
			if !ok {
				return fmt.Errorf("invalid broker type at index %d", i)
			}
			cfg.Brokers[i] = broker
		}
	default:
		return fmt.Errorf("brokers is required")
	}
	if len(cfg.Brokers) == 0 {
		return fmt.Errorf("brokers is required")
	}

	// Required: topic
	if topic, ok := config["topic"].(string); ok && topic != "" {
		cfg.Topic = topic
	} else {
		return fmt.Errorf("topic is required")
	}

	// Optional: batch_size
	switch v := config["batch_size"].(type) {
	case int:
		cfg.BatchSize = v
	case float64:
		cfg.BatchSize = int(v)
	}

	// Optional: batch_timeout (can be string or duration)
	switch v := config["batch_timeout"].(type) {
	case string:
		timeout, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid batch_timeout: %w", err)
		}
		cfg.BatchTimeout = timeout
	case time.Duration:
		cfg.BatchTimeout = v
	}

	// Optional: compression
	if compression, ok := config["compression"].(string); ok {
		cfg.Compression = compression
	}

	// Optional: max_attempts
	switch v := config["max_attempts"].(type) {
	case int:
		cfg.MaxAttempts = v
	case float64:
		cfg.MaxAttempts = int(v)
	}

	if detail, ok := config["detail"].(bool); ok {
		cfg.Detail = detail
	}

	w := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{}, // same endpoints, same partition
		BatchSize:    cfg.BatchSize,
		BatchTimeout: cfg.BatchTimeout,
		MaxAttempts:  cfg.MaxAttempts,
		Async:        false, // Synchronous for error handling
	}

	switch cfg.Compression {
	case "none", "":
	case "gzip":
		w.Compression = compress.Gzip
	case "snappy":
		w.Compression = compress.Snappy
	case "lz4":
		w.Compression = compress.Lz4
	case "zstd":
		w.Compression = compress.Zstd
	default:
		return fmt.Errorf("invalid compression type: %s", cfg.Compression)
	}

	r.config = cfg
	r.writer = w
	return nil
}

// Start starts the reporter.
func (r *KafkaReporter) Start(ctx context.Context) error {
	log.GetLogger().WithFields(map[string]interface{}{
		"brokers":       r.config.Brokers,
		"topic":         r.config.Topic,
		"batch_size":    r.config.BatchSize,
		"batch_timeout": r.config.BatchTimeout,
		"compression":   r.config.Compression,
	}).Info("kafka reporter started")
	return nil
}

// Stop stops the reporter.
func (r *KafkaReporter) Stop(ctx context.Context) error {
	if r.writer != nil {
		// Flush any pending messages
		if err := r.writer.Close(); err != nil {
			log.GetLogger().WithError(err).Error("error closing kafka writer")
			return err
		}
	}

	log.GetLogger().WithFields(map[string]interface{}{
		"total_reported": r.reportedCount.Load(),
		"total_errors":   r.errorCount.Load(),
	}).Info("kafka reporter stopped")
	return nil
}

// Report sends a packet to Kafka.
func (r *KafkaReporter) Report(ctx context.Context, pkt *core.OutputPacket) error {
	if pkt == nil {
		return fmt.Errorf("nil packet")
	}

	msg, err := r.message(pkt)
	if err != nil {
		r.errorCount.Add(1)
		metrics.ReporterErrorsTotal.WithLabelValues(r.name, "serialize").Inc()
		return fmt.Errorf("serialize packet failed: %w", err)
	}

	if err := r.writer.WriteMessages(ctx, msg); err != nil {
		r.errorCount.Add(1)
		metrics.ReporterErrorsTotal.WithLabelValues(r.name, "write").Inc()
		return fmt.Errorf("kafka write failed: %w", err)
	}

	r.reportedCount.Add(1)
	return nil
}

// ReportBatch sends a batch of packets in one write.
func (r *KafkaReporter) ReportBatch(ctx context.Context, pkts []*core.OutputPacket) error {
	msgs := make([]kafka.Message, 0, len(pkts))
	for _, pkt := range pkts {
		if pkt == nil {
			continue
		}
		msg, err := r.message(pkt)
		if err != nil {
			r.errorCount.Add(1)
			metrics.ReporterErrorsTotal.WithLabelValues(r.name, "serialize").Inc()
			continue
		}
		msgs = append(msgs, msg)
	}
	if len(msgs) == 0 {
		return nil
	}

	if err := r.writer.WriteMessages(ctx, msgs...); err != nil {
		r.errorCount.Add(uint64(len(msgs)))
		metrics.ReporterErrorsTotal.WithLabelValues(r.name, "write").Inc()
		return fmt.Errorf("kafka batch write failed: %w", err)
	}
	r.reportedCount.Add(uint64(len(msgs)))
	return nil
}

// message builds the Kafka message for pkt. Labels travel as headers as well
// as in the value so consumers can filter without decoding.
func (r *KafkaReporter) message(pkt *core.OutputPacket) (kafka.Message, error) {
	view := *pkt
	if !r.config.Detail {
		view.Detail = nil
	}
	value, err := json.Marshal(&view)
	if err != nil {
		return kafka.Message{}, err
	}

	msg := kafka.Message{
		Key:   []byte(fmt.Sprintf("%s-%s", pkt.Src, pkt.Dst)),
		Value: value,
		Time:  pkt.Timestamp,
	}
	if len(pkt.Labels) > 0 {
		msg.Headers = make([]kafka.Header, 0, len(pkt.Labels))
		for k, v := range pkt.Labels {
			msg.Headers = append(msg.Headers, kafka.Header{
				Key:   k,
				Value: []byte(v),
			})
		}
	}
	return msg, nil
}

// Flush forces any pending messages to be sent.
func (r *KafkaReporter) Flush(ctx context.Context) error {
	// Writes are synchronous; WriteMessages returns once the batch is acknowledged
	return nil
}
