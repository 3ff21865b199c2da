package indexer

import (
	"errors"
	"fmt"
)

var (
	errZeroBatch  = errors.New("batch size must be greater than zero")
	errEmptyRange = errors.New("to block must be >= from block")
)

// BlockRange is an inclusive span of block numbers.
type BlockRange struct {
	From uint64
	To   uint64
}

func (r BlockRange) String() string {
	return fmt.Sprintf("[%d,%d]", r.From, r.To)
}

// SplitRange cuts r into consecutive windows of at most size blocks. It never steps past
// r.To, so ranges ending at the top of the uint64 space are safe.
func SplitRange(r BlockRange, size uint64) ([]BlockRange, error) {
	if size == 0 {
		return nil, errZeroBatch
	}
	if r.To < r.From {
		return nil, fmt.Errorf("%w: %s", errEmptyRange, r)
	}

	var windows []BlockRange
	for from := r.From; ; {
		to := r.To
		if r.To-from >= size {
			to = from + size - 1
		}
		windows = append(windows, BlockRange{From: from, To: to})
		if to == r.To {
			return windows, nil
		}
		from = to + 1
	}
}
