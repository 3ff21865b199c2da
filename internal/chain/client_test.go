package chain

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
)

func TestNewFilterQueryTrimsWildcards(t *testing.T) {
	topic := common.HexToHash("0x01")
	q := NewFilterQuery(10, 20, nil, [][]common.Hash{{topic}, nil, nil})
	if len(q.Topics) != 1 || q.Topics[0][0] != topic {
		t.Fatalf("unexpected topics: %v", q.Topics)
	}
	if q.FromBlock.Uint64() != 10 || q.ToBlock.Uint64() != 20 {
		t.Fatalf("unexpected range: %s-%s", q.FromBlock, q.ToBlock)
	}

	q = NewFilterQuery(1, 1, nil, [][]common.Hash{nil, {topic}})
	if len(q.Topics) != 2 || len(q.Topics[0]) != 0 {
		t.Fatalf("inner wildcard must be kept: %v", q.Topics)
	}

	if q = NewFilterQuery(1, 1, nil, nil); q.Topics != nil {
		t.Fatalf("expected no topic filter: %v", q.Topics)
	}
}
