package pipeline

import (
	"time"

	"firestige.xyz/ibdissect/internal/ib"
)

// Builder provides a fluent interface for building pipelines.
type Builder struct {
	config Config
}

// NewBuilder creates a new pipeline builder.
func NewBuilder() *Builder {
	return &Builder{
		config: Config{
			BufferSize: defaultBufferSize,
		},
	}
}

// WithSource sets the packet source.
func (b *Builder) WithSource(s Source) *Builder {
	b.config.Source = s
	return b
}

// WithDissector sets the dissector.
func (b *Builder) WithDissector(d *ib.Dissector) *Builder {
	b.config.Dissector = d
	return b
}

// WithReporters appends reporter wrappers.
func (b *Builder) WithReporters(reporters ...*ReporterWrapper) *Builder {
	b.config.Reporters = append(b.config.Reporters, reporters...)
	return b
}

// WithSweepers sets the state sweepers and the capture-time interval
// between sweeps.
func (b *Builder) WithSweepers(interval time.Duration, sweepers ...Sweeper) *Builder {
	b.config.SweepInterval = interval
	b.config.Sweepers = sweepers
	return b
}

// WithBufferSize sets the raw packet channel buffer size.
func (b *Builder) WithBufferSize(size int) *Builder {
	b.config.BufferSize = size
	return b
}

// Build creates the pipeline.
func (b *Builder) Build() (*Pipeline, error) {
	return New(b.config)
}
