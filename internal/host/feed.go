package host

import (
	"context"
	"sync"

	"topiclens/internal/stream"
)

// Feed supplies the blocks a lens pulls through lens.next.
type Feed interface {
	Next(ctx context.Context) (stream.Option[[]byte], error)
}

// FeedFunc adapts a function to Feed.
type FeedFunc func(ctx context.Context) (stream.Option[[]byte], error)

// Next implements Feed.
func (f FeedFunc) Next(ctx context.Context) (stream.Option[[]byte], error) {
	return f(ctx)
}

// SliceFeed serves fixed items, then end-of-stream forever.
type SliceFeed struct {
	mu    sync.Mutex
	items []stream.Option[[]byte]
	errs  map[int]error
	pos   int
}

// NewSliceFeed builds a feed over items.
func NewSliceFeed(items ...stream.Option[[]byte]) *SliceFeed {
	return &SliceFeed{items: items, errs: make(map[int]error)}
}

// FailAt makes the pull at position i return err instead of its item.
func (f *SliceFeed) FailAt(i int, err error) *SliceFeed {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errs[i] = err
	return f
}

// Next implements Feed.
func (f *SliceFeed) Next(ctx context.Context) (stream.Option[[]byte], error) {
	if err := ctx.Err(); err != nil {
		return stream.Option[[]byte]{}, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.pos >= len(f.items) {
		return stream.EndOfStream[[]byte](), nil
	}
	pos := f.pos
	f.pos++
	if err, ok := f.errs[pos]; ok {
		return stream.Option[[]byte]{}, err
	}
	return f.items[pos], nil
}
