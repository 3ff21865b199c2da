// Package host runs lens modules under wazero and serves their lens.next import.
package host

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"
	"go.uber.org/zap"

	"topiclens/internal/lensvm"
)

const (
	importModule = "lens"
	importNext   = "next"

	exportAlloc     = "alloc"
	exportTransform = "transform"
)

// Config tunes the wasm runtime.
type Config struct {
	// MemoryLimitPages caps guest memory in 64KiB pages. Zero keeps the wazero default.
	MemoryLimitPages uint32
	Logger           *zap.Logger
}

// Runtime holds a compiled lens module. Instances created from it share the compiled code.
type Runtime struct {
	runtime  wazero.Runtime
	compiled wazero.CompiledModule
	logger   *zap.Logger

	instances sync.Map // module name -> *Instance
	seq       atomic.Uint64
}

// NewRuntime compiles wasm and registers the host imports it may use.
func NewRuntime(ctx context.Context, wasm []byte, cfg Config) (*Runtime, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	rc := wazero.NewRuntimeConfig()
	if cfg.MemoryLimitPages > 0 {
		rc = rc.WithMemoryLimitPages(cfg.MemoryLimitPages)
	}
	r := &Runtime{
		runtime: wazero.NewRuntimeWithConfig(ctx, rc),
		logger:  logger,
	}

	if _, err := wasi_snapshot_preview1.Instantiate(ctx, r.runtime); err != nil {
		_ = r.runtime.Close(ctx)
		return nil, fmt.Errorf("instantiate wasi: %w", err)
	}

	_, err := r.runtime.NewHostModuleBuilder(importModule).
		NewFunctionBuilder().
		WithGoModuleFunction(api.GoModuleFunc(r.next), nil, []api.ValueType{api.ValueTypeI32}).
		Export(importNext).
		Instantiate(ctx)
	if err != nil {
		_ = r.runtime.Close(ctx)
		return nil, fmt.Errorf("instantiate %s host module: %w", importModule, err)
	}

	compiled, err := r.runtime.CompileModule(ctx, wasm)
	if err != nil {
		_ = r.runtime.Close(ctx)
		return nil, fmt.Errorf("compile lens: %w", err)
	}
	r.compiled = compiled

	return r, nil
}

// Close releases the runtime and every instance created from it.
func (r *Runtime) Close(ctx context.Context) error {
	return r.runtime.Close(ctx)
}

// Instantiate starts a fresh lens instance that pulls its input from feed.
func (r *Runtime) Instantiate(ctx context.Context, feed Feed) (*Instance, error) {
	if feed == nil {
		return nil, errors.New("feed is nil")
	}

	name := fmt.Sprintf("lens-%d", r.seq.Add(1))
	inst := &Instance{name: name, feed: feed, runtime: r}
	r.instances.Store(name, inst)

	// Missing start functions are skipped, so plain modules instantiate too.
	modCfg := wazero.NewModuleConfig().
		WithName(name).
		WithStartFunctions("_initialize")

	mod, err := r.runtime.InstantiateModule(ctx, r.compiled, modCfg)
	if err != nil {
		r.instances.Delete(name)
		return nil, fmt.Errorf("instantiate lens: %w", err)
	}
	inst.module = mod

	inst.alloc = mod.ExportedFunction(exportAlloc)
	inst.transform = mod.ExportedFunction(exportTransform)
	switch {
	case inst.alloc == nil:
		_ = inst.Close(ctx)
		return nil, fmt.Errorf("lens does not export %q", exportAlloc)
	case inst.transform == nil:
		_ = inst.Close(ctx)
		return nil, fmt.Errorf("lens does not export %q", exportTransform)
	case mod.Memory() == nil:
		_ = inst.Close(ctx)
		return nil, errors.New("lens does not export memory")
	}

	r.logger.Debug("lens instantiated", zap.String("module", name))
	return inst, nil
}

// next serves lens.next: it pulls from the calling instance's feed, asks the guest for a
// buffer, and writes the block there.
func (r *Runtime) next(ctx context.Context, mod api.Module, stack []uint64) {
	stack[0] = 0

	v, ok := r.instances.Load(mod.Name())
	if !ok {
		r.logger.Error("lens.next from unknown module", zap.String("module", mod.Name()))
		return
	}
	inst := v.(*Instance)

	item, err := inst.feed.Next(ctx)
	var block []byte
	if err != nil {
		r.logger.Warn("feed failed", zap.String("module", inst.name), zap.Error(err))
		block = lensvm.EncodeError(err)
	} else {
		block = lensvm.Encode(item)
	}

	ptr, err := inst.write(ctx, block)
	if err != nil {
		inst.hostErr = err
		return
	}
	stack[0] = api.EncodeU32(ptr)
}
