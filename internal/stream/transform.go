package stream

import (
	"encoding/json"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"topiclens/internal/decoder"
	"topiclens/internal/model"
)

var (
	// ErrBufferRelease marks a failure to give a borrowed input buffer back.
	ErrBufferRelease = errors.New("buffer release failed")
	// ErrTransport marks a malformed or error-tagged transport block.
	ErrTransport = errors.New("transport error")
)

// Transformer pulls one input per call, decodes it, and returns the serialized output.
type Transformer struct {
	source  Source
	decoder decoder.Decoder
	logger  *zap.Logger
}

// NewTransformer wires a source to a decoder. A nil decoder means TopicDecoder.
func NewTransformer(source Source, dec decoder.Decoder, logger *zap.Logger) *Transformer {
	if dec == nil {
		dec = decoder.TopicDecoder{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Transformer{source: source, decoder: dec, logger: logger}
}

// Next runs one pull. Absent and end-of-stream are returned unchanged without decoding.
// The pulled buffer is released on every path; a failed release is returned as
// ErrBufferRelease even when decoding succeeded.
func (t *Transformer) Next() (result Option[[]byte], err error) {
	in, err := t.source.Pull()
	if err != nil {
		return Option[[]byte]{}, fmt.Errorf("pull: %w", err)
	}
	defer func() {
		if in.Release == nil {
			return
		}
		if relErr := in.Release(); relErr != nil {
			t.logger.Warn("input buffer release failed", zap.Error(relErr))
			result = Option[[]byte]{}
			if err != nil {
				err = fmt.Errorf("%w: %v (after: %v)", ErrBufferRelease, relErr, err)
				return
			}
			err = fmt.Errorf("%w: %v", ErrBufferRelease, relErr)
		}
	}()

	return Map(in.Item, t.transform)
}

func (t *Transformer) transform(data []byte) ([]byte, error) {
	rec, err := model.ParseInputRecord(data)
	if err != nil {
		return nil, err
	}
	out, err := t.decoder.Decode(rec)
	if err != nil {
		return nil, err
	}
	encoded, err := json.Marshal(out)
	if err != nil {
		return nil, fmt.Errorf("encode output: %w", err)
	}
	return encoded, nil
}

// Error kinds reported by ErrorKind.
const (
	ErrorKindInputShape    = "input_shape"
	ErrorKindABIParse      = "abi_parse"
	ErrorKindTopicFormat   = "topic_format"
	ErrorKindBufferRelease = "buffer_release"
	ErrorKindTransport     = "transport"
	ErrorKindUnknown       = "unknown"
)

// ErrorKind classifies err for the errors side channel.
func ErrorKind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrBufferRelease):
		return ErrorKindBufferRelease
	case errors.Is(err, model.ErrInputShape):
		return ErrorKindInputShape
	case errors.Is(err, decoder.ErrABIParse):
		return ErrorKindABIParse
	case errors.Is(err, decoder.ErrTopicFormat):
		return ErrorKindTopicFormat
	case errors.Is(err, ErrTransport):
		return ErrorKindTransport
	default:
		return ErrorKindUnknown
	}
}
