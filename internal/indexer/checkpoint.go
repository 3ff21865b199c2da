package indexer

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// Checkpoint records the last fetched block together with the chain and the log filter
// that produced it. A checkpoint only resumes a fetch that asks for the same logs.
type Checkpoint struct {
	ChainID   uint64 `json:"chain_id"`
	Filter    string `json:"filter"`
	LastBlock uint64 `json:"last_block"`
	SavedAt   string `json:"saved_at"`
}

// Matches reports whether cp was written for chainID and filter.
func (cp Checkpoint) Matches(chainID uint64, filter string) bool {
	return cp.ChainID == chainID && cp.Filter == filter
}

// FilterFingerprint hashes everything that decides which records a fetch writes:
// addresses, positional topics, the default and per-address ABIs, and reorg handling.
// Order of addresses and of alternatives inside a topic position does not matter.
func FilterFingerprint(cfg RunConfig) string {
	var buf bytes.Buffer

	addrs := make([]string, 0, len(cfg.Addresses))
	for _, addr := range cfg.Addresses {
		addrs = append(addrs, addr.Hex())
	}
	sort.Strings(addrs)
	fmt.Fprintf(&buf, "addresses=%v\n", addrs)

	for i, position := range cfg.Topics {
		alts := make([]string, 0, len(position))
		for _, topic := range position {
			alts = append(alts, topic.Hex())
		}
		sort.Strings(alts)
		fmt.Fprintf(&buf, "topic%d=%v\n", i, alts)
	}

	fmt.Fprintf(&buf, "abi=%s\n", abiDigest(cfg.ABI))

	overrides := make([]common.Address, 0, len(cfg.ABIs))
	for addr := range cfg.ABIs {
		overrides = append(overrides, addr)
	}
	sort.Slice(overrides, func(i, j int) bool { return bytes.Compare(overrides[i][:], overrides[j][:]) < 0 })
	for _, addr := range overrides {
		fmt.Fprintf(&buf, "abi[%s]=%s\n", addr.Hex(), abiDigest(cfg.ABIs[addr]))
	}

	fmt.Fprintf(&buf, "skip_removed=%t\n", cfg.SkipRemoved)
	return crypto.Keccak256Hash(buf.Bytes()).Hex()
}

func abiDigest(abiJSON []byte) string {
	if len(abiJSON) == 0 {
		return "-"
	}
	return crypto.Keccak256Hash(abiJSON).Hex()
}

// CheckpointFile persists a Checkpoint as JSON. A nil *CheckpointFile is disabled:
// Load finds nothing and Save does nothing.
type CheckpointFile struct {
	path string
}

// NewCheckpointFile returns nil when checkpoints are disabled or no path is set.
func NewCheckpointFile(path string, enabled bool) *CheckpointFile {
	if !enabled || path == "" {
		return nil
	}
	return &CheckpointFile{path: path}
}

func (c *CheckpointFile) Load() (Checkpoint, bool, error) {
	if c == nil {
		return Checkpoint{}, false, nil
	}

	data, err := os.ReadFile(c.path)
	if errors.Is(err, fs.ErrNotExist) {
		return Checkpoint{}, false, nil
	}
	if err != nil {
		return Checkpoint{}, false, fmt.Errorf("read checkpoint %s: %w", c.path, err)
	}

	var cp Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return Checkpoint{}, false, fmt.Errorf("parse checkpoint %s: %w", c.path, err)
	}
	return cp, true, nil
}

// Save writes cp through a temp file in the same directory so a crash never leaves a
// truncated checkpoint behind.
func (c *CheckpointFile) Save(cp Checkpoint) error {
	if c == nil {
		return nil
	}

	dir := filepath.Dir(c.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create checkpoint dir: %w", err)
	}

	cp.SavedAt = time.Now().UTC().Format(time.RFC3339Nano)
	data, err := json.Marshal(cp)
	if err != nil {
		return fmt.Errorf("marshal checkpoint: %w", err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(c.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create checkpoint tmp: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("write checkpoint tmp: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("close checkpoint tmp: %w", err)
	}
	if err := os.Rename(tmp.Name(), c.path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("rename checkpoint: %w", err)
	}
	return nil
}
