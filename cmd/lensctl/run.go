package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"topiclens/internal/config"
	"topiclens/internal/host"
	"topiclens/internal/lensvm"
	"topiclens/internal/stream"
)

func runLens(cmd *cobra.Command, _ []string) error {
	cfgFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.LoadRun(cfgFile, cmd.Flags())
	if err != nil {
		return err
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	if cfg.Lens == "" {
		return fmt.Errorf("lens path is required")
	}
	wasm, err := os.ReadFile(cfg.Lens)
	if err != nil {
		return fmt.Errorf("read lens: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	p, err := openPipeline(ctx, cfg.DecodeConfig, logger)
	if err != nil {
		return err
	}
	defer p.Close()

	rt, err := host.NewRuntime(ctx, wasm, host.Config{MemoryLimitPages: cfg.MemoryLimitPages, Logger: logger})
	if err != nil {
		return err
	}
	defer rt.Close(ctx)

	inst, err := rt.Instantiate(ctx, sourceFeed(p.source))
	if err != nil {
		return err
	}
	defer inst.Close(ctx)

	logger.Info("run start",
		zap.String("lens", cfg.Lens),
		zap.String("in", cfg.In),
		zap.String("out", cfg.Out),
		zap.Uint32("memory_limit_pages", cfg.MemoryLimitPages),
	)

	if err := drain(ctx, p.source, inst.Transform, p.writer, isHostFailure); err != nil {
		return err
	}

	p.logCounts("run complete")
	return nil
}

// sourceFeed serves lens.next from the line source.
func sourceFeed(src stream.Source) host.Feed {
	return host.FeedFunc(func(ctx context.Context) (stream.Option[[]byte], error) {
		if err := ctx.Err(); err != nil {
			return stream.Option[[]byte]{}, err
		}
		in, err := src.Pull()
		if err != nil {
			return stream.Option[[]byte]{}, err
		}
		if in.Release != nil {
			if err := in.Release(); err != nil {
				return stream.Option[[]byte]{}, err
			}
		}
		return in.Item, nil
	})
}

// isHostFailure reports errors that are not a lens result: traps, or a broken lens.next.
func isHostFailure(err error) bool {
	var terr *lensvm.TransportError
	return !errors.As(err, &terr)
}
