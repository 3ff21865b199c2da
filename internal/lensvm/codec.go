// Package lensvm implements the tagged memory blocks exchanged between a lens module
// and its host.
//
// A block is a one-byte signed type ID followed, for payload-carrying types, by a
// little-endian uint32 length and the payload bytes. Nil and end-of-stream blocks are
// the type byte alone.
package lensvm

import (
	"encoding/binary"
	"fmt"
	"strings"

	"topiclens/internal/decoder"
	"topiclens/internal/model"
	"topiclens/internal/stream"
)

// Type IDs of a block.
const (
	TypeError       int8 = -1
	TypeNil         int8 = 0
	TypeJSON        int8 = 1
	TypeEndOfStream int8 = 127
)

const (
	typeLen   = 1
	lengthLen = 4
	headerLen = typeLen + lengthLen
)

// Memory is linear memory readable at an offset. wazero's api.Memory satisfies it.
type Memory interface {
	Read(offset, byteCount uint32) ([]byte, bool)
}

// TransportError is an error-tagged block, or a block that could not be read.
type TransportError struct {
	Message string
}

func (e *TransportError) Error() string {
	return "lens: " + e.Message
}

// wireSentinels are the errors whose text identifies them across the memory boundary.
var wireSentinels = []error{
	model.ErrInputShape,
	decoder.ErrABIParse,
	decoder.ErrTopicFormat,
	stream.ErrBufferRelease,
}

// Is matches stream.ErrTransport, and any sentinel whose text the lens reported.
func (e *TransportError) Is(target error) bool {
	if target == stream.ErrTransport {
		return true
	}
	for _, sentinel := range wireSentinels {
		if target == sentinel {
			return strings.Contains(e.Message, sentinel.Error())
		}
	}
	return false
}

// Encode serializes a pull result into a block.
func Encode(item stream.Option[[]byte]) []byte {
	switch item.Kind() {
	case stream.KindValue:
		payload, _ := item.Get()
		return encodePayload(TypeJSON, payload)
	case stream.KindEndOfStream:
		return []byte{byte(TypeEndOfStream)}
	case stream.KindAbsent:
		return []byte{byte(TypeNil)}
	default:
		return EncodeError(stream.ErrInvalidOption)
	}
}

// EncodeError serializes err into an error-tagged block carrying its message.
func EncodeError(err error) []byte {
	msg := "unknown error"
	if err != nil {
		msg = err.Error()
	}
	return encodePayload(TypeError, []byte(msg))
}

func encodePayload(typeID int8, payload []byte) []byte {
	block := make([]byte, headerLen+len(payload))
	block[0] = byte(typeID)
	binary.LittleEndian.PutUint32(block[typeLen:headerLen], uint32(len(payload)))
	copy(block[headerLen:], payload)
	return block
}

// Read decodes the block at ptr. The payload is copied out of mem.
// An error-tagged block is returned as *TransportError.
func Read(mem Memory, ptr uint32) (stream.Option[[]byte], error) {
	typeByte, ok := mem.Read(ptr, typeLen)
	if !ok {
		return stream.Option[[]byte]{}, &TransportError{Message: fmt.Sprintf("block type out of range at %d", ptr)}
	}

	typeID := int8(typeByte[0])
	switch typeID {
	case TypeNil:
		return stream.Absent[[]byte](), nil
	case TypeEndOfStream:
		return stream.EndOfStream[[]byte](), nil
	case TypeJSON, TypeError:
	default:
		return stream.Option[[]byte]{}, &TransportError{Message: fmt.Sprintf("unknown block type %d", typeID)}
	}

	lenBytes, ok := mem.Read(ptr+typeLen, lengthLen)
	if !ok {
		return stream.Option[[]byte]{}, &TransportError{Message: fmt.Sprintf("block length out of range at %d", ptr)}
	}
	size := binary.LittleEndian.Uint32(lenBytes)

	payload, ok := mem.Read(ptr+headerLen, size)
	if !ok {
		return stream.Option[[]byte]{}, &TransportError{Message: fmt.Sprintf("block payload of %d bytes out of range at %d", size, ptr)}
	}
	out := make([]byte, len(payload))
	copy(out, payload)

	if typeID == TypeError {
		return stream.Option[[]byte]{}, &TransportError{Message: string(out)}
	}
	return stream.Some(out), nil
}

// Bytes is a Memory over a plain byte slice.
type Bytes []byte

// Read implements Memory.
func (b Bytes) Read(offset, byteCount uint32) ([]byte, bool) {
	end := uint64(offset) + uint64(byteCount)
	if end > uint64(len(b)) {
		return nil, false
	}
	return b[offset:end], true
}
