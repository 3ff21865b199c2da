package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"topiclens/internal/chain"
	"topiclens/internal/config"
	"topiclens/internal/decoder"
	"topiclens/internal/indexer"
	"topiclens/internal/storage"
)

func runFetch(cmd *cobra.Command, _ []string) error {
	cfgFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.LoadFetch(cfgFile, cmd.Flags())
	if err != nil {
		return err
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	if cfg.RPCURL == "" {
		return fmt.Errorf("rpc url is required")
	}

	addresses, err := indexer.ParseAddresses(cfg.Addresses)
	if err != nil {
		return err
	}
	if len(addresses) == 0 {
		return fmt.Errorf("address list is required")
	}

	topics, err := indexer.ParseTopicFilter(cfg.Topics...)
	if err != nil {
		return err
	}

	abiJSON, err := loadABI(cfg.ABIPreset, cfg.ABIFile)
	if err != nil {
		return err
	}
	abis, err := parseABIMap(cfg.ABIMap)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	chainClient, err := chain.NewClient(ctx, cfg.RPCURL)
	if err != nil {
		return fmt.Errorf("connect rpc: %w", err)
	}
	defer chainClient.Close()

	runner := indexer.NewRunner(indexer.RunConfig{
		FromBlock:         cfg.FromBlock,
		ToBlock:           cfg.ToBlock,
		Addresses:         addresses,
		Topics:            topics,
		BatchSize:         cfg.BatchSize,
		CheckpointPath:    cfg.Checkpoint,
		CheckpointEnabled: cfg.CheckpointEnabled,
		MaxRetries:        cfg.MaxRetries,
		RetryBackoff:      cfg.RetryBackoff,
		ABI:               abiJSON,
		ABIs:              abis,
		SkipRemoved:       cfg.SkipRemoved,
	}, chainClient, storage.NewJsonlStorage(cfg.Out), logger)

	logger.Info("fetch start",
		zap.String("rpc", cfg.RPCURL),
		zap.Uint64("from", cfg.FromBlock),
		zap.Uint64("to", cfg.ToBlock),
		zap.Int("addresses", len(addresses)),
		zap.Int("abi_overrides", len(abis)),
		zap.Uint64("batch_size", cfg.BatchSize),
		zap.String("out", cfg.Out),
		zap.Bool("checkpoint_enabled", cfg.CheckpointEnabled),
		zap.String("checkpoint", cfg.Checkpoint),
	)

	return runner.Run(ctx)
}

// parseABIMap resolves address=preset-or-file pairs.
func parseABIMap(entries map[string]string) (map[common.Address][]byte, error) {
	out := make(map[common.Address][]byte, len(entries))
	for addr, ref := range entries {
		addr = strings.TrimSpace(addr)
		if !common.IsHexAddress(addr) {
			return nil, fmt.Errorf("abi-map: invalid address: %s", addr)
		}
		abiJSON, err := decoder.Preset(ref)
		if err != nil {
			abiJSON, err = readABIFile(ref)
			if err != nil {
				return nil, fmt.Errorf("abi-map %s: %w", addr, err)
			}
		}
		out[common.HexToAddress(addr)] = abiJSON
	}
	return out, nil
}
