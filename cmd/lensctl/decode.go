package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"topiclens/internal/config"
	"topiclens/internal/storage"
	"topiclens/internal/storage/postgres"
	"topiclens/internal/stream"
)

func runDecode(cmd *cobra.Command, _ []string) error {
	cfgFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.LoadDecode(cfgFile, cmd.Flags())
	if err != nil {
		return err
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	p, err := openPipeline(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer p.Close()

	logger.Info("decode start",
		zap.String("in", cfg.In),
		zap.String("out", cfg.Out),
		zap.String("errors", cfg.Errors),
		zap.Bool("abi_injected", len(p.source.abiJSON) > 0),
		zap.Bool("postgres", cfg.PGDSN != ""),
		zap.Uint64("skip_through", p.source.skipThrough),
	)

	transformer := stream.NewTransformer(p.source, nil, logger)
	step := func(context.Context) (stream.Option[[]byte], error) {
		return transformer.Next()
	}
	if err := drain(ctx, p.source, step, p.writer, nil); err != nil {
		return err
	}

	p.logCounts("decode complete")
	return nil
}

// pipeline holds the input, sinks, and writer shared by decode and run.
type pipeline struct {
	source  *lineSource
	writer  *resultWriter
	logger  *zap.Logger
	closers []func() error
}

func openPipeline(ctx context.Context, cfg config.DecodeConfig, logger *zap.Logger) (*pipeline, error) {
	if cfg.In == "" {
		return nil, fmt.Errorf("input path is required")
	}
	if cfg.Out == "" {
		return nil, fmt.Errorf("output path is required")
	}
	if cfg.Errors == "" {
		return nil, fmt.Errorf("errors path is required")
	}
	if cfg.Resume && cfg.PGDSN == "" {
		return nil, fmt.Errorf("resume requires pg-dsn")
	}

	abiJSON, err := loadABI(cfg.ABIPreset, cfg.ABIFile)
	if err != nil {
		return nil, err
	}

	p := &pipeline{logger: logger}
	inputFile, err := os.Open(cfg.In)
	if err != nil {
		return nil, fmt.Errorf("open input: %w", err)
	}
	p.closers = append(p.closers, inputFile.Close)

	var sinks storage.MultiSink
	var onFlush func(ctx context.Context, lastSeq uint64) error
	var skipThrough uint64
	var resumed bool
	if cfg.PGDSN != "" {
		store, err := postgres.NewStore(ctx, cfg.PGDSN, cfg.Source)
		if err != nil {
			p.Close()
			return nil, fmt.Errorf("connect postgres: %w", err)
		}
		p.closers = append(p.closers, func() error { store.Close(); return nil })

		if err := store.EnsureSchema(ctx); err != nil {
			p.Close()
			return nil, err
		}
		sinks = append(sinks, store)

		if cfg.Resume {
			last, ok, err := store.LoadState(ctx, cfg.Source)
			if err != nil {
				p.Close()
				return nil, fmt.Errorf("load state: %w", err)
			}
			if ok {
				skipThrough = last
				resumed = true
				logger.Info("resume from state", zap.String("source", cfg.Source), zap.Uint64("last_seq", last))
			}
			onFlush = func(ctx context.Context, lastSeq uint64) error {
				return store.SaveState(ctx, cfg.Source, lastSeq)
			}
		}
	}

	jsonlSink, err := openJSONL(cfg, resumed)
	if err != nil {
		p.Close()
		return nil, err
	}
	p.closers = append(p.closers, jsonlSink.Close)
	sinks = append(storage.MultiSink{jsonlSink}, sinks...)

	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = 1
	}

	p.source = &lineSource{
		reader:      storage.NewLineReader(inputFile),
		abiJSON:     abiJSON,
		skipThrough: skipThrough,
	}
	p.writer = &resultWriter{
		sink:      sinks,
		logger:    logger,
		batchSize: batchSize,
		onFlush:   onFlush,
	}
	return p, nil
}

// openJSONL truncates the JSONL outputs on a fresh run. A resumed run skips the
// committed prefix of the input, so its rows are already in the files and are kept.
func openJSONL(cfg config.DecodeConfig, resumed bool) (*storage.JSONLSink, error) {
	return storage.NewJSONLSink(cfg.Out, cfg.Errors, resumed)
}

func (p *pipeline) logCounts(msg string) {
	c := p.writer.counts
	p.logger.Info(msg,
		zap.Int("total", c.total),
		zap.Int("decoded", c.decoded),
		zap.Int("absent", c.absent),
		zap.Int("failed", c.failed),
	)
}

// Close releases resources in reverse order of acquisition.
func (p *pipeline) Close() error {
	var first error
	for i := len(p.closers) - 1; i >= 0; i-- {
		if err := p.closers[i](); err != nil && first == nil {
			first = err
		}
	}
	p.closers = nil
	return first
}
