package host

import (
	"context"
	"fmt"

	"github.com/tetratelabs/wazero/api"

	"topiclens/internal/lensvm"
	"topiclens/internal/stream"
)

// Instance is one running lens. It is not safe for concurrent use.
type Instance struct {
	name      string
	feed      Feed
	runtime   *Runtime
	module    api.Module
	alloc     api.Function
	transform api.Function

	// hostErr is set when lens.next could not hand a block to the guest.
	hostErr error
}

// Transform runs one guest transform call and decodes the block it returns.
// An error-tagged result is returned as *lensvm.TransportError.
func (i *Instance) Transform(ctx context.Context) (stream.Option[[]byte], error) {
	i.hostErr = nil

	results, err := i.transform.Call(ctx)
	if i.hostErr != nil {
		return stream.Option[[]byte]{}, fmt.Errorf("lens.next: %w", i.hostErr)
	}
	if err != nil {
		return stream.Option[[]byte]{}, fmt.Errorf("call %s: %w", exportTransform, err)
	}
	if len(results) != 1 {
		return stream.Option[[]byte]{}, &lensvm.TransportError{Message: fmt.Sprintf("%s returned %d values", exportTransform, len(results))}
	}

	return lensvm.Read(i.module.Memory(), api.DecodeU32(results[0]))
}

// Close stops the instance.
func (i *Instance) Close(ctx context.Context) error {
	i.runtime.instances.Delete(i.name)
	if i.module == nil {
		return nil
	}
	return i.module.Close(ctx)
}

func (i *Instance) write(ctx context.Context, block []byte) (uint32, error) {
	if i.alloc == nil {
		return 0, fmt.Errorf("lens.next called before %s was resolved", exportAlloc)
	}
	results, err := i.alloc.Call(ctx, api.EncodeU32(uint32(len(block))))
	if err != nil {
		return 0, fmt.Errorf("call %s: %w", exportAlloc, err)
	}
	if len(results) != 1 {
		return 0, fmt.Errorf("%s returned %d values", exportAlloc, len(results))
	}
	ptr := api.DecodeU32(results[0])
	if !i.module.Memory().Write(ptr, block) {
		return 0, fmt.Errorf("block of %d bytes out of range at %d", len(block), ptr)
	}
	return ptr, nil
}
