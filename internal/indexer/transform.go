package indexer

import (
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"

	"topiclens/internal/model"
)

// buildSourceLog turns a chain log into an input record: every topic, number set to the
// topic count, and the raw data carried as the value.
func buildSourceLog(chainID uint64, log types.Log, abiJSON []byte) model.SourceLog {
	topics := make([]string, 0, len(log.Topics))
	for _, topic := range log.Topics {
		topics = append(topics, topic.Hex())
	}

	return model.SourceLog{
		LogRef: model.LogRef{
			ChainID:     chainID,
			BlockNumber: log.BlockNumber,
			TxHash:      log.TxHash.Hex(),
			LogIndex:    uint64(log.Index),
			Address:     log.Address.Hex(),
		},
		Record: model.InputRecord{
			Topics: topics,
			Number: len(topics),
			ABI:    abiJSON,
			Value:  hexutil.Encode(log.Data),
		},
	}
}
