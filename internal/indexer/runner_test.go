package indexer

import (
	"context"
	"errors"
	"math/big"
	"path/filepath"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"topiclens/internal/model"
)

type fakeChain struct {
	logs     []types.Log
	latest   uint64
	failures int
	calls    []BlockRange
}

func (f *fakeChain) GetChainID(context.Context) (*big.Int, error) {
	return big.NewInt(56), nil
}

func (f *fakeChain) LatestBlockNumber(context.Context) (uint64, error) {
	return f.latest, nil
}

func (f *fakeChain) FilterLogs(_ context.Context, from, to uint64, _ []common.Address, _ [][]common.Hash) ([]types.Log, error) {
	if f.failures > 0 {
		f.failures--
		return nil, errors.New("rate limited")
	}
	f.calls = append(f.calls, BlockRange{From: from, To: to})
	var out []types.Log
	for _, log := range f.logs {
		if log.BlockNumber >= from && log.BlockNumber <= to {
			out = append(out, log)
		}
	}
	// Providers sometimes return the same log twice.
	if len(out) > 0 {
		out = append(out, out[0])
	}
	return out, nil
}

type memorySink struct {
	logs []model.SourceLog
}

func (m *memorySink) PutLogBatch(logs []model.SourceLog) error {
	m.logs = append(m.logs, logs...)
	return nil
}

func testLog(block uint64, index uint, removed bool) types.Log {
	return types.Log{
		Address:     common.HexToAddress("0x00000000000000000000000000000000000000aa"),
		Topics:      []common.Hash{common.HexToHash("0x01"), common.HexToHash("0x02")},
		Data:        []byte{0xbe, 0xef},
		BlockNumber: block,
		TxHash:      common.HexToHash("0xfeed"),
		Index:       index,
		Removed:     removed,
	}
}

func TestRunnerFetchesAndCheckpoints(t *testing.T) {
	chain := &fakeChain{
		logs:     []types.Log{testLog(10, 0, false), testLog(11, 1, true), testLog(14, 2, false)},
		latest:   15,
		failures: 1,
	}
	sink := &memorySink{}
	cpPath := filepath.Join(t.TempDir(), "checkpoint.json")

	cfg := RunConfig{
		FromBlock:         10,
		Addresses:         []common.Address{common.HexToAddress("0xaa")},
		BatchSize:         3,
		CheckpointPath:    cpPath,
		CheckpointEnabled: true,
		MaxRetries:        2,
		RetryBackoff:      time.Millisecond,
		ABI:               []byte(`[]`),
		SkipRemoved:       true,
	}
	if err := NewRunner(cfg, chain, sink, nil).Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}

	if len(sink.logs) != 2 {
		t.Fatalf("expected 2 deduplicated logs, got %d", len(sink.logs))
	}
	first := sink.logs[0]
	if first.ChainID != 56 || first.BlockNumber != 10 || first.Record.Number != 2 || len(first.Record.Topics) != 2 {
		t.Fatalf("unexpected record: %+v", first)
	}
	if first.Record.Value != "0xbeef" || string(first.Record.ABI) != `[]` {
		t.Fatalf("value or abi not carried: %+v", first.Record)
	}

	cp, ok, err := NewCheckpointFile(cpPath, true).Load()
	if err != nil || !ok || cp.LastBlock != 15 {
		t.Fatalf("checkpoint mismatch: %+v %v %v", cp, ok, err)
	}
	if !cp.Matches(56, FilterFingerprint(cfg)) {
		t.Fatalf("checkpoint should carry chain id and filter: %+v", cp)
	}

	// A second run resumes after the checkpoint and has nothing to do.
	chain.calls = nil
	if err := NewRunner(cfg, chain, sink, nil).Run(context.Background()); err != nil {
		t.Fatalf("second run: %v", err)
	}
	if len(chain.calls) != 0 {
		t.Fatalf("expected no fetches after checkpoint, got %v", chain.calls)
	}
}

func TestRunnerRestartsWhenFilterChanges(t *testing.T) {
	chain := &fakeChain{logs: []types.Log{testLog(10, 0, false), testLog(12, 1, false)}, latest: 12}
	cpPath := filepath.Join(t.TempDir(), "checkpoint.json")
	cfg := RunConfig{
		FromBlock:         10,
		Addresses:         []common.Address{common.HexToAddress("0xaa")},
		BatchSize:         5,
		CheckpointPath:    cpPath,
		CheckpointEnabled: true,
	}
	if err := NewRunner(cfg, chain, &memorySink{}, nil).Run(context.Background()); err != nil {
		t.Fatalf("first run: %v", err)
	}

	// Same range, new topic filter: the old checkpoint must not hide blocks 10..12.
	changed := cfg
	changed.Topics = [][]common.Hash{{common.HexToHash("0x01")}}
	chain.calls = nil
	sink := &memorySink{}
	if err := NewRunner(changed, chain, sink, nil).Run(context.Background()); err != nil {
		t.Fatalf("second run: %v", err)
	}
	if len(chain.calls) != 1 || chain.calls[0] != (BlockRange{From: 10, To: 12}) {
		t.Fatalf("expected a full refetch, got %v", chain.calls)
	}
	if len(sink.logs) != 2 {
		t.Fatalf("expected 2 logs after restart, got %d", len(sink.logs))
	}

	cp, ok, err := NewCheckpointFile(cpPath, true).Load()
	if err != nil || !ok || !cp.Matches(56, FilterFingerprint(changed)) {
		t.Fatalf("checkpoint should follow the new filter: %+v %v %v", cp, ok, err)
	}

	// A different ABI is a different fetch as well.
	withABI := changed
	withABI.ABI = []byte(`[]`)
	chain.calls = nil
	if err := NewRunner(withABI, chain, &memorySink{}, nil).Run(context.Background()); err != nil {
		t.Fatalf("third run: %v", err)
	}
	if len(chain.calls) != 1 {
		t.Fatalf("expected refetch after abi change, got %v", chain.calls)
	}
}

func TestRunnerIgnoresCheckpointFromOtherChain(t *testing.T) {
	chain := &fakeChain{logs: []types.Log{testLog(4, 0, false)}, latest: 6}
	cpPath := filepath.Join(t.TempDir(), "checkpoint.json")
	cfg := RunConfig{
		FromBlock:         1,
		Addresses:         []common.Address{common.HexToAddress("0xaa")},
		BatchSize:         10,
		CheckpointPath:    cpPath,
		CheckpointEnabled: true,
	}
	stale := Checkpoint{ChainID: 1, Filter: FilterFingerprint(cfg), LastBlock: 6}
	if err := NewCheckpointFile(cpPath, true).Save(stale); err != nil {
		t.Fatalf("save: %v", err)
	}

	if err := NewRunner(cfg, chain, &memorySink{}, nil).Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(chain.calls) != 1 || chain.calls[0] != (BlockRange{From: 1, To: 6}) {
		t.Fatalf("expected fetch from block 1, got %v", chain.calls)
	}
}

func TestFilterFingerprintIgnoresOrder(t *testing.T) {
	a := common.HexToAddress("0xaa")
	b := common.HexToAddress("0xbb")
	t1 := common.HexToHash("0x01")
	t2 := common.HexToHash("0x02")

	left := RunConfig{Addresses: []common.Address{a, b}, Topics: [][]common.Hash{{t1, t2}}}
	right := RunConfig{Addresses: []common.Address{b, a}, Topics: [][]common.Hash{{t2, t1}}}
	if FilterFingerprint(left) != FilterFingerprint(right) {
		t.Fatalf("fingerprint should not depend on order")
	}

	// Moving a topic to another position changes the filter.
	moved := RunConfig{Addresses: []common.Address{a, b}, Topics: [][]common.Hash{nil, {t1, t2}}}
	if FilterFingerprint(left) == FilterFingerprint(moved) {
		t.Fatalf("fingerprint should depend on topic position")
	}
	skip := left
	skip.SkipRemoved = true
	if FilterFingerprint(left) == FilterFingerprint(skip) {
		t.Fatalf("fingerprint should depend on skip-removed")
	}
}

func TestCheckpointFileDisabled(t *testing.T) {
	store := NewCheckpointFile(filepath.Join(t.TempDir(), "cp.json"), false)
	if err := store.Save(Checkpoint{LastBlock: 9}); err != nil {
		t.Fatalf("save: %v", err)
	}
	if _, ok, err := store.Load(); ok || err != nil {
		t.Fatalf("disabled checkpoint should load nothing: %v %v", ok, err)
	}
}

func TestRunnerPerAddressABI(t *testing.T) {
	log := testLog(3, 0, false)
	other := testLog(3, 1, false)
	other.Address = common.HexToAddress("0xbb")

	chain := &fakeChain{logs: []types.Log{log, other}, latest: 3}
	sink := &memorySink{}
	cfg := RunConfig{
		FromBlock: 3,
		Addresses: []common.Address{log.Address, other.Address},
		BatchSize: 10,
		ABI:       []byte(`["default"]`),
		ABIs:      map[common.Address][]byte{log.Address: []byte(`["pool"]`)},
	}
	if err := NewRunner(cfg, chain, sink, nil).Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(sink.logs) != 2 {
		t.Fatalf("expected 2 logs, got %d", len(sink.logs))
	}
	if string(sink.logs[0].Record.ABI) != `["pool"]` || string(sink.logs[1].Record.ABI) != `["default"]` {
		t.Fatalf("abi selection mismatch: %s / %s", sink.logs[0].Record.ABI, sink.logs[1].Record.ABI)
	}
}

func TestRunnerGivesUpAfterRetries(t *testing.T) {
	chain := &fakeChain{latest: 5, failures: 10}
	cfg := RunConfig{
		FromBlock:    1,
		Addresses:    []common.Address{common.HexToAddress("0xaa")},
		BatchSize:    10,
		MaxRetries:   1,
		RetryBackoff: time.Millisecond,
	}
	if err := NewRunner(cfg, chain, &memorySink{}, nil).Run(context.Background()); err == nil {
		t.Fatalf("expected error after retries")
	}
}

func TestRunnerValidatesConfig(t *testing.T) {
	if err := NewRunner(RunConfig{BatchSize: 1}, &fakeChain{}, &memorySink{}, nil).Run(context.Background()); err == nil {
		t.Fatalf("expected error without addresses")
	}
	cfg := RunConfig{Addresses: []common.Address{{}}}
	if err := NewRunner(cfg, &fakeChain{}, &memorySink{}, nil).Run(context.Background()); err == nil {
		t.Fatalf("expected error for zero batch size")
	}
}

func TestParseTopicFilter(t *testing.T) {
	full := "0x" + "11111111111111111111111111111111" + "11111111111111111111111111111111"
	filter, err := ParseTopicFilter([]string{full}, nil, []string{" ", full})
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(filter) != 3 || len(filter[0]) != 1 || len(filter[1]) != 0 || len(filter[2]) != 1 {
		t.Fatalf("unexpected filter: %v", filter)
	}
	if _, err := ParseTopicFilter([]string{"0x1234"}); err == nil {
		t.Fatalf("expected error for short topic")
	}
	if _, err := ParseAddresses([]string{"nope"}); err == nil {
		t.Fatalf("expected error for bad address")
	}
}
