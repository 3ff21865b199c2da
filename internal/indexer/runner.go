package indexer

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"

	"topiclens/internal/model"
	"topiclens/internal/storage"
)

// ChainReader is the RPC surface the fetcher needs. chain.Client implements it.
type ChainReader interface {
	GetChainID(ctx context.Context) (*big.Int, error)
	LatestBlockNumber(ctx context.Context) (uint64, error)
	FilterLogs(ctx context.Context, fromBlock, toBlock uint64, addresses []common.Address, topics [][]common.Hash) ([]types.Log, error)
}

// RunConfig holds runtime settings for the fetcher.
type RunConfig struct {
	FromBlock         uint64
	ToBlock           uint64
	Addresses         []common.Address
	Topics            [][]common.Hash
	BatchSize         uint64
	CheckpointPath    string
	CheckpointEnabled bool
	MaxRetries        int
	RetryBackoff      time.Duration

	// ABI, when set, is embedded in every produced record whose address has no entry in ABIs.
	ABI  []byte
	ABIs map[common.Address][]byte

	// SkipRemoved drops logs flagged as removed by a reorg.
	SkipRemoved bool
}

func (cfg RunConfig) validate() error {
	if cfg.BatchSize == 0 {
		return errZeroBatch
	}
	if len(cfg.Addresses) == 0 {
		return fmt.Errorf("at least one address is required")
	}
	return nil
}

// logKey identifies a log across duplicate deliveries from the provider.
type logKey struct {
	block uint64
	tx    common.Hash
	index uint
}

// Runner pulls logs from the chain in block windows and appends them as input records.
type Runner struct {
	cfg        RunConfig
	filter     string
	chain      ChainReader
	sink       storage.LogSink
	logger     *zap.Logger
	retry      retryPolicy
	checkpoint *CheckpointFile
	seen       map[logKey]struct{}
}

// NewRunner builds a Runner with its dependencies.
func NewRunner(cfg RunConfig, chainClient ChainReader, sink storage.LogSink, logger *zap.Logger) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{
		cfg:        cfg,
		filter:     FilterFingerprint(cfg),
		chain:      chainClient,
		sink:       sink,
		logger:     logger,
		retry:      newRetryPolicy(cfg.MaxRetries, cfg.RetryBackoff),
		checkpoint: NewCheckpointFile(cfg.CheckpointPath, cfg.CheckpointEnabled),
		seen:       make(map[logKey]struct{}),
	}
}

// Run fetches every window of the configured range, checkpointing after each one.
func (r *Runner) Run(ctx context.Context) error {
	if r.chain == nil || r.sink == nil {
		return fmt.Errorf("runner needs a chain reader and a log sink")
	}
	if err := r.cfg.validate(); err != nil {
		return err
	}

	chainID, err := r.chainID(ctx)
	if err != nil {
		return err
	}

	span, ok, err := r.plan(ctx, chainID)
	if err != nil || !ok {
		return err
	}

	windows, err := SplitRange(span, r.cfg.BatchSize)
	if err != nil {
		return err
	}

	for _, window := range windows {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := r.fetchWindow(ctx, chainID, window); err != nil {
			return err
		}
		if err := r.checkpoint.Save(Checkpoint{ChainID: chainID, Filter: r.filter, LastBlock: window.To}); err != nil {
			return err
		}
	}
	return nil
}

func (r *Runner) chainID(ctx context.Context) (uint64, error) {
	id, err := r.chain.GetChainID(ctx)
	if err != nil {
		return 0, fmt.Errorf("get chain id: %w", err)
	}
	if !id.IsUint64() {
		return 0, fmt.Errorf("chain id does not fit in uint64: %s", id)
	}
	return id.Uint64(), nil
}

// plan resolves the block span still to fetch. A checkpoint written for another chain or
// another filter is ignored and the fetch starts over at FromBlock. ok is false when
// there is nothing left to do.
func (r *Runner) plan(ctx context.Context, chainID uint64) (BlockRange, bool, error) {
	span := BlockRange{From: r.cfg.FromBlock, To: r.cfg.ToBlock}
	if span.To == 0 {
		latest, err := r.chain.LatestBlockNumber(ctx)
		if err != nil {
			return BlockRange{}, false, fmt.Errorf("get latest block: %w", err)
		}
		span.To = latest
	}

	cp, found, err := r.checkpoint.Load()
	if err != nil {
		return BlockRange{}, false, err
	}
	switch {
	case !found:
	case !cp.Matches(chainID, r.filter):
		r.logger.Warn("checkpoint was written for a different fetch, starting over",
			zap.Uint64("checkpoint_chain_id", cp.ChainID),
			zap.Uint64("chain_id", chainID),
			zap.String("checkpoint_filter", cp.Filter),
			zap.String("filter", r.filter),
			zap.Uint64("from", span.From),
		)
	case cp.LastBlock >= span.From:
		span.From = cp.LastBlock + 1
		r.logger.Info("resume from checkpoint", zap.Uint64("last_block", cp.LastBlock), zap.Uint64("from", span.From))
	}

	if span.From > span.To {
		r.logger.Info("nothing to fetch", zap.Uint64("from", span.From), zap.Uint64("to", span.To))
		return span, false, nil
	}
	return span, true, nil
}

func (r *Runner) fetchWindow(ctx context.Context, chainID uint64, window BlockRange) error {
	var logs []types.Log
	err := r.retry.do(ctx, func(ctx context.Context) error {
		var err error
		logs, err = r.chain.FilterLogs(ctx, window.From, window.To, r.cfg.Addresses, r.cfg.Topics)
		return err
	}, func(attempt int, wait time.Duration, err error) {
		r.logger.Warn("filter logs failed, retrying",
			zap.Error(err),
			zap.Stringer("window", window),
			zap.Int("attempt", attempt),
			zap.Duration("wait", wait),
		)
	})
	if err != nil {
		return fmt.Errorf("filter logs %s: %w", window, err)
	}

	records := make([]model.SourceLog, 0, len(logs))
	var removed, dupes int
	for _, log := range logs {
		if log.Removed && r.cfg.SkipRemoved {
			removed++
			continue
		}
		if r.isDuplicate(log) {
			dupes++
			continue
		}
		records = append(records, buildSourceLog(chainID, log, r.abiFor(log.Address)))
	}

	if err := r.sink.PutLogBatch(records); err != nil {
		return fmt.Errorf("store logs %s: %w", window, err)
	}

	r.logger.Info("window fetched",
		zap.Stringer("window", window),
		zap.Int("records", len(records)),
		zap.Int("removed", removed),
		zap.Int("duplicates", dupes),
	)
	return nil
}

func (r *Runner) abiFor(addr common.Address) []byte {
	if abiJSON, ok := r.cfg.ABIs[addr]; ok {
		return abiJSON
	}
	return r.cfg.ABI
}

func (r *Runner) isDuplicate(log types.Log) bool {
	key := logKey{block: log.BlockNumber, tx: log.TxHash, index: log.Index}
	if _, ok := r.seen[key]; ok {
		return true
	}
	r.seen[key] = struct{}{}
	return false
}
