package decoder

import (
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// ErrTopicFormat marks a topic that is not 0x-prefixed hex of exactly 32 bytes.
var ErrTopicFormat = errors.New("malformed topic")

var errBadBool = errors.New("abi: improperly encoded boolean value")

// ParseTopicHash converts a topic string into a 32-byte hash.
func ParseTopicHash(topic string) (common.Hash, error) {
	data, err := hexutil.Decode(strings.TrimSpace(topic))
	if err != nil {
		return common.Hash{}, fmt.Errorf("%w: %q: %v", ErrTopicFormat, topic, err)
	}
	if len(data) != common.HashLength {
		return common.Hash{}, fmt.Errorf("%w: %q is %d bytes, want %d", ErrTopicFormat, topic, len(data), common.HashLength)
	}
	return common.BytesToHash(data), nil
}

func indexedArguments(args abi.Arguments) abi.Arguments {
	indexed := make(abi.Arguments, 0, len(args))
	for _, arg := range args {
		if arg.Indexed {
			indexed = append(indexed, arg)
		}
	}
	return indexed
}

// readBool accepts only the canonical 0 or 1 word.
func readBool(word []byte) (bool, error) {
	if len(word) != common.HashLength {
		return false, errBadBool
	}
	for _, b := range word[:common.HashLength-1] {
		if b != 0 {
			return false, errBadBool
		}
	}
	switch word[common.HashLength-1] {
	case 0:
		return false, nil
	case 1:
		return true, nil
	default:
		return false, errBadBool
	}
}
