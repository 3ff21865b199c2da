package decoder

import (
	"fmt"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"topiclens/internal/model"
)

// Decoder maps one input record to one output record.
type Decoder interface {
	Decode(input model.InputRecord) (model.OutputRecord, error)
}

// TopicDecoder resolves topics against an optional per-record ABI.
// It keeps no state between calls; the zero value is ready to use.
type TopicDecoder struct{}

var _ Decoder = TopicDecoder{}

// Decode fills the output slots from the record's topics.
//
// Without an ABI every populated slot is the raw topic. With an ABI each topic must be a
// 32-byte hash; slot 0 resolves to the matching event signature, later slots to the
// corresponding indexed argument of that event. Topics that match nothing are copied raw.
func (TopicDecoder) Decode(input model.InputRecord) (model.OutputRecord, error) {
	if input.Number < 0 {
		return model.OutputRecord{}, fmt.Errorf("%w: negative number %d", model.ErrInputShape, input.Number)
	}

	out := model.NewOutputRecord(input.Value)
	limit := min(input.Number, model.TopicSlots, len(input.Topics))

	if !input.HasABI() {
		for k := 0; k < limit; k++ {
			if err := out.SetSlot(k, input.Topics[k]); err != nil {
				return model.OutputRecord{}, err
			}
		}
		return out, nil
	}

	parsed, err := ParseABI(input.ABI)
	if err != nil {
		return model.OutputRecord{}, err
	}

	res := resolver{abi: &parsed}
	for k := 0; k < limit; k++ {
		topic, err := ParseTopicHash(input.Topics[k])
		if err != nil {
			return model.OutputRecord{}, fmt.Errorf("topic %d: %w", k, err)
		}

		value, ok := res.resolve(k, topic)
		if !ok {
			value = input.Topics[k]
		}
		if err := out.SetSlot(k, value); err != nil {
			return model.OutputRecord{}, err
		}
	}

	return out, nil
}

// resolver carries the event matched at slot 0 to the later slots of the same record.
type resolver struct {
	abi   *abi.ABI
	event *abi.Event
}

func (r *resolver) resolve(k int, topic common.Hash) (string, bool) {
	if k == 0 {
		event, err := r.abi.EventByID(topic)
		if err != nil || event.Anonymous {
			return "", false
		}
		r.event = event
		return event.Sig, true
	}

	if r.event == nil {
		return "", false
	}
	indexed := indexedArguments(r.event.Inputs)
	if k-1 >= len(indexed) {
		return "", false
	}
	return decodeIndexed(indexed[k-1], topic)
}

func decodeIndexed(arg abi.Argument, topic common.Hash) (string, bool) {
	var value interface{}
	if arg.Type.T == abi.BoolTy {
		b, err := readBool(topic.Bytes())
		if err != nil {
			return "", false
		}
		value = b
	} else {
		values := make(map[string]interface{}, 1)
		if err := abi.ParseTopicsIntoMap(values, abi.Arguments{arg}, []common.Hash{topic}); err != nil {
			return "", false
		}
		value = values[arg.Name]
	}

	rendered := formatValue(value)
	if arg.Name == "" {
		return rendered, true
	}
	return arg.Name + "=" + rendered, true
}
