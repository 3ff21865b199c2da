package lensvm

import (
	"errors"

	"go.uber.org/zap"

	"topiclens/internal/stream"
)

// ArenaSource pulls blocks the host wrote into arena memory. next asks the host for the
// address of the following block; the host allocates that block through the arena.
type ArenaSource struct {
	arena *Arena
	next  func() uint32
}

// NewArenaSource builds a source reading from arena via next.
func NewArenaSource(arena *Arena, next func() uint32) *ArenaSource {
	return &ArenaSource{arena: arena, next: next}
}

// Pull implements stream.Source. A block that cannot be decoded is released before the
// error is returned.
func (s *ArenaSource) Pull() (stream.Input, error) {
	ptr := s.next()
	release := func() error { return s.arena.Release(ptr) }

	item, err := Read(s.arena, ptr)
	if err != nil {
		if relErr := release(); relErr != nil {
			return stream.Input{}, errors.Join(err, relErr)
		}
		return stream.Input{}, err
	}
	return stream.Input{Item: item, Release: release}, nil
}

// Lens is the guest side of one transform call: pull, decode, pin the result block.
type Lens struct {
	arena       *Arena
	transformer *stream.Transformer
}

// NewLens wires a topic-decoding transformer to the host through arena and next.
func NewLens(arena *Arena, next func() uint32, logger *zap.Logger) *Lens {
	return &Lens{
		arena:       arena,
		transformer: stream.NewTransformer(NewArenaSource(arena, next), nil, logger),
	}
}

// Transform runs one pull and returns the address of the encoded result. Errors are
// encoded as error blocks.
func (l *Lens) Transform() uint32 {
	out, err := l.transformer.Next()
	if err != nil {
		return l.arena.Keep(EncodeError(err))
	}
	return l.arena.Keep(Encode(out))
}
