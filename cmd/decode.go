package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"firestige.xyz/ibdissect/internal/capture"
	"firestige.xyz/ibdissect/internal/config"
	"firestige.xyz/ibdissect/internal/conversation"
	"firestige.xyz/ibdissect/internal/ib"
	"firestige.xyz/ibdissect/internal/ib/cmstore"
	"firestige.xyz/ibdissect/internal/log"
	"firestige.xyz/ibdissect/internal/metrics"
	"firestige.xyz/ibdissect/internal/pipeline"
	"firestige.xyz/ibdissect/internal/reassembly"
	"firestige.xyz/ibdissect/pkg/plugin"
	"firestige.xyz/ibdissect/plugins/handoff"
)

var decodeCmd = &cobra.Command{
	Use:   "decode",
	Short: "Decode a pcap or pcapng capture",
	Long: `Decode every InfiniBand or RoCE frame of a capture file and stream the
results to the configured reporter.

Frames are mapped to a start header by link type and encapsulation unless
--start forces one:
  link       native InfiniBand capture (link type 247)
  global     RoCE over Ethernet (ethertype 0x8915)
  transport  RoCE over UDP (destination port dissector.rroce_udp_port)

Examples:
  ibdissect decode -r roce.pcapng
  ibdissect decode -r ib.pcap --format json --detail
  ibdissect decode -r roce.pcap -c ibdissect.yml --reporter kafka`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		decodeFlags.apply(cfg)

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		stats, err := runDecode(ctx, cfg, decodeFlags.read, cmd.OutOrStdout())
		fmt.Fprintf(cmd.ErrOrStderr(), "%d packets decoded, %d malformed, %d reported\n",
			stats.Decoded, stats.Malformed, stats.Reported)
		return err
	},
}

type decodeOptions struct {
	read     string
	start    string
	reporter string
	format   string
	detail   bool
}

var decodeFlags decodeOptions

func init() {
	decodeCmd.Flags().StringVarP(&decodeFlags.read, "read", "r", "",
		"capture file to decode (pcap or pcapng, required)")
	decodeCmd.Flags().StringVar(&decodeFlags.start, "start", "",
		"force the start header: link, global or transport")
	decodeCmd.Flags().StringVar(&decodeFlags.reporter, "reporter", "",
		"override reporter.type")
	decodeCmd.Flags().StringVar(&decodeFlags.format, "format", "",
		"console output format: text, json or yaml")
	decodeCmd.Flags().BoolVar(&decodeFlags.detail, "detail", false,
		"include the full decoded header tree")
	decodeCmd.MarkFlagRequired("read")
}

// apply lays command-line overrides over the loaded config.
func (o *decodeOptions) apply(cfg *config.Config) {
	if o.start != "" {
		cfg.Capture.StartKind = o.start
	}
	if o.reporter != "" {
		cfg.Reporter.Type = o.reporter
	}
	if o.format != "" || o.detail {
		if cfg.Reporter.Console == nil {
			cfg.Reporter.Console = map[string]any{}
		}
		if o.format != "" {
			cfg.Reporter.Console["format"] = o.format
		}
		if o.detail {
			cfg.Reporter.Console["detail"] = true
			if cfg.Reporter.Kafka != nil {
				cfg.Reporter.Kafka["detail"] = true
			}
		}
	}
}

// session holds the per-capture state shared by the dissector and the
// pipeline sweeper.
type session struct {
	store  *cmstore.Store
	convs  *conversation.Table
	reasm  *reassembly.Reassembler
	heurs  []plugin.HeuristicDecoder
	logger log.Logger
}

func newSession(cfg *config.Config) (*session, error) {
	heurs, err := heuristics(cfg.Heuristics)
	if err != nil {
		return nil, err
	}
	return &session{
		store:  cmstore.New(),
		convs:  conversation.NewTable(),
		reasm:  reassembly.New(cfg.Reassembly),
		heurs:  heurs,
		logger: log.GetLogger(),
	}, nil
}

func (s *session) dissector(cfg ib.Config) *ib.Dissector {
	return ib.New(cfg, ib.Deps{
		Store:         s.store,
		Conversations: s.convs,
		Reassembler:   s.reasm,
		Heuristics:    s.heurs,
		Handoff:       handoff.Gopacket{},
		Logger:        s.logger,
	})
}

func (s *session) close() {
	s.store.Close()
	s.convs.Clear()
}

// heuristics instantiates the named heuristic decoders in order, or every
// registered one when names is empty.
func heuristics(names []string) ([]plugin.HeuristicDecoder, error) {
	if len(names) == 0 {
		return plugin.Heuristics(), nil
	}
	out := make([]plugin.HeuristicDecoder, 0, len(names))
	for _, n := range names {
		f, err := plugin.GetHeuristicFactory(n)
		if err != nil {
			return nil, err
		}
		out = append(out, f())
	}
	return out, nil
}

// startReporter creates, initializes and starts the named reporter. Console
// output goes to out unless the config names another writer.
func startReporter(ctx context.Context, rc *config.ReporterConfig, name string, out io.Writer) (plugin.Reporter, error) {
	factory, err := plugin.GetReporterFactory(name)
	if err != nil {
		return nil, err
	}
	settings := map[string]any{"writer": out}
	for k, v := range rc.PluginConfig(name) {
		settings[k] = v
	}

	r := factory()
	if err := r.Init(settings); err != nil {
		return nil, fmt.Errorf("init reporter %s: %w", name, err)
	}
	if err := r.Start(ctx); err != nil {
		return nil, fmt.Errorf("start reporter %s: %w", name, err)
	}
	return r, nil
}

func stopReporter(r plugin.Reporter) {
	ctx := context.Background()
	if err := r.Flush(ctx); err != nil {
		log.GetLogger().WithError(err).WithField("reporter", r.Name()).Warn("reporter flush failed")
	}
	if err := r.Stop(ctx); err != nil {
		log.GetLogger().WithError(err).WithField("reporter", r.Name()).Warn("reporter stop failed")
	}
}

// runDecode streams the capture at path through the dissector to the
// configured reporters and returns the pipeline counters.
func runDecode(ctx context.Context, cfg *config.Config, path string, out io.Writer) (pipeline.Stats, error) {
	src, err := capture.NewFileSource(path, cfg.Capture)
	if err != nil {
		return pipeline.Stats{}, err
	}
	sess, err := newSession(cfg)
	if err != nil {
		return pipeline.Stats{}, err
	}
	defer sess.close()

	primary, err := startReporter(ctx, &cfg.Reporter, cfg.Reporter.Type, out)
	if err != nil {
		return pipeline.Stats{}, err
	}
	defer stopReporter(primary)

	var fallback plugin.Reporter
	if cfg.Reporter.Fallback != "" {
		fallback, err = startReporter(ctx, &cfg.Reporter, cfg.Reporter.Fallback, out)
		if err != nil {
			return pipeline.Stats{}, err
		}
		defer stopReporter(fallback)
	}

	if cfg.Metrics.Enabled {
		srv := metrics.NewServer(cfg.Metrics.Listen, cfg.Metrics.Path)
		if err := srv.Start(ctx); err != nil {
			return pipeline.Stats{}, err
		}
		defer srv.Stop(context.Background())
	}

	p, err := pipeline.NewBuilder().
		WithSource(src).
		WithDissector(sess.dissector(cfg.Dissector)).
		WithReporters(pipeline.NewReporterWrapper(pipeline.WrapperConfig{
			Primary:          primary,
			Fallback:         fallback,
			BatchSize:        cfg.Reporter.BatchSize,
			BatchTimeout:     cfg.Reporter.BatchTimeout,
			FlushOnMalformed: cfg.Reporter.FlushOnMalformed,
		})).
		WithSweepers(cfg.Pipeline.SweepInterval, sess.reasm).
		WithBufferSize(cfg.Pipeline.BufferSize).
		Build()
	if err != nil {
		return pipeline.Stats{}, err
	}
	if err := p.Start(); err != nil {
		return pipeline.Stats{}, err
	}

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			p.Stop()
		case <-done:
		}
	}()

	err = p.Wait()
	return p.Stats(), err
}
