package stream

import (
	"errors"
	"sync"
)

var errReleasedTwice = errors.New("input released twice")

// Input is one borrowed pull result. Release must be called exactly once when the
// consumer is done with the bytes; a nil Release means nothing is borrowed.
type Input struct {
	Item    Option[[]byte]
	Release func() error
}

// Source hands out serialized input records one pull at a time.
type Source interface {
	Pull() (Input, error)
}

// SliceSource serves a fixed list of pull results, then end-of-stream forever.
// It counts releases so tests can check buffer ownership.
type SliceSource struct {
	mu       sync.Mutex
	items    []Option[[]byte]
	pos      int
	pulled   int
	released int

	// ReleaseErr, when set, is returned from every Release.
	ReleaseErr error
}

// NewSliceSource builds a source over items.
func NewSliceSource(items ...Option[[]byte]) *SliceSource {
	return &SliceSource{items: items}
}

// Records builds a source that yields each record as a value.
func Records(records ...[]byte) *SliceSource {
	items := make([]Option[[]byte], 0, len(records))
	for _, rec := range records {
		items = append(items, Some(rec))
	}
	return NewSliceSource(items...)
}

// Pull implements Source.
func (s *SliceSource) Pull() (Input, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	item := EndOfStream[[]byte]()
	if s.pos < len(s.items) {
		item = s.items[s.pos]
		s.pos++
	}
	s.pulled++

	var once bool
	return Input{
		Item: item,
		Release: func() error {
			s.mu.Lock()
			defer s.mu.Unlock()
			if once {
				return errReleasedTwice
			}
			once = true
			s.released++
			return s.ReleaseErr
		},
	}, nil
}

// Outstanding reports pulls whose input has not been released yet.
func (s *SliceSource) Outstanding() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pulled - s.released
}
