package indexer

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// ParseAddresses converts string addresses into common.Address.
func ParseAddresses(inputs []string) ([]common.Address, error) {
	addresses := make([]common.Address, 0, len(inputs))
	for _, input := range inputs {
		input = strings.TrimSpace(input)
		if input == "" {
			continue
		}
		if !common.IsHexAddress(input) {
			return nil, fmt.Errorf("invalid address: %s", input)
		}
		addresses = append(addresses, common.HexToAddress(input))
	}
	return addresses, nil
}

// ParseTopics converts one topic position's filter values into hashes.
func ParseTopics(position int, inputs []string) ([]common.Hash, error) {
	topics := make([]common.Hash, 0, len(inputs))
	for _, input := range inputs {
		input = strings.TrimSpace(input)
		if input == "" {
			continue
		}
		data, err := hexutil.Decode(input)
		if err != nil {
			return nil, fmt.Errorf("invalid topic%d: %s", position, input)
		}
		if len(data) != common.HashLength {
			return nil, fmt.Errorf("invalid topic%d length: %s", position, input)
		}
		topics = append(topics, common.BytesToHash(data))
	}
	return topics, nil
}

// ParseTopicFilter builds a positional topic filter from per-position lists.
func ParseTopicFilter(positions ...[]string) ([][]common.Hash, error) {
	filter := make([][]common.Hash, len(positions))
	for i, inputs := range positions {
		topics, err := ParseTopics(i, inputs)
		if err != nil {
			return nil, err
		}
		filter[i] = topics
	}
	return filter, nil
}
