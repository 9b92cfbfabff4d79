package wasmplugin

import (
	"context"
	"fmt"
	"sync"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"
)

const wasmPageSize = 65536

// Guest is the callable surface of a loaded plugin instance. The
// runtime talks to guests exclusively through this interface.
type Guest interface {
	// Call invokes a guest export with a byte payload and returns the
	// result bytes. Cancelling the context aborts the call.
	Call(ctx context.Context, export string, payload []byte) ([]byte, error)
	// Close tears the instance down.
	Close(ctx context.Context) error
}

// SandboxConfig describes one plugin instantiation.
type SandboxConfig struct {
	// PluginName names the module instance.
	PluginName string
	// WASM is the plugin binary.
	WASM []byte
	// Host supplies the host functions imported under the "aspen"
	// namespace.
	Host *HostContext
	// MemoryLimit caps the guest's linear memory, in bytes.
	MemoryLimit uint64
	// CompilationCache, when set, is shared across sandboxes so
	// reloading a plugin skips recompilation.
	CompilationCache wazero.CompilationCache
}

// Sandbox is a loaded WASM plugin instance. Guest calls are serialized
// by a mutex; the module instance is not goroutine-safe.
type Sandbox struct {
	name    string
	runtime wazero.Runtime

	mu     sync.Mutex
	module api.Module
}

// NewSandbox compiles and instantiates a plugin module with the host
// functions registered.
func NewSandbox(ctx context.Context, cfg SandboxConfig) (*Sandbox, error) {
	if cfg.Host == nil {
		return nil, fmt.Errorf("sandbox for '%s' requires a host context", cfg.PluginName)
	}

	pages := (cfg.MemoryLimit + wasmPageSize - 1) / wasmPageSize
	runtimeConfig := wazero.NewRuntimeConfig().
		WithCloseOnContextDone(true).
		WithMemoryLimitPages(uint32(pages))
	if cfg.CompilationCache != nil {
		runtimeConfig = runtimeConfig.WithCompilationCache(cfg.CompilationCache)
	}
	runtime := wazero.NewRuntimeWithConfig(ctx, runtimeConfig)

	if err := registerHostModule(ctx, runtime, cfg.Host); err != nil {
		_ = runtime.Close(ctx)
		return nil, fmt.Errorf("failed to register host module for '%s': %w", cfg.PluginName, err)
	}
	if _, err := wasi_snapshot_preview1.Instantiate(ctx, runtime); err != nil {
		_ = runtime.Close(ctx)
		return nil, fmt.Errorf("failed to instantiate WASI for '%s': %w", cfg.PluginName, err)
	}

	moduleConfig := wazero.NewModuleConfig().
		WithName(cfg.PluginName).
		WithStartFunctions("_initialize")
	module, err := runtime.InstantiateWithConfig(ctx, cfg.WASM, moduleConfig)
	if err != nil {
		_ = runtime.Close(ctx)
		return nil, fmt.Errorf("failed to instantiate module for '%s': %w", cfg.PluginName, err)
	}

	return &Sandbox{name: cfg.PluginName, runtime: runtime, module: module}, nil
}

// Call implements Guest. The payload is copied into guest memory via
// plugin_alloc; the packed result is read back and the guest buffers
// freed.
func (s *Sandbox) Call(ctx context.Context, export string, payload []byte) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	fn := s.module.ExportedFunction(export)
	if fn == nil {
		return nil, fmt.Errorf("plugin '%s' does not export '%s'", s.name, export)
	}

	var inPtr, inLen uint64
	if len(payload) > 0 {
		ptr, err := s.guestAlloc(ctx, uint32(len(payload)))
		if err != nil {
			return nil, err
		}
		if !s.module.Memory().Write(ptr, payload) {
			return nil, fmt.Errorf("plugin '%s': payload write out of bounds", s.name)
		}
		inPtr, inLen = uint64(ptr), uint64(len(payload))
		defer s.guestFree(ctx, ptr, uint32(len(payload)))
	}

	results, err := fn.Call(ctx, inPtr, inLen)
	if err != nil {
		return nil, fmt.Errorf("plugin '%s': call to '%s' failed: %w", s.name, export, err)
	}
	if len(results) == 0 {
		return nil, nil
	}

	outPtr, outLen := unpackResult(results[0])
	if outLen == 0 {
		return nil, nil
	}
	data, ok := s.module.Memory().Read(outPtr, outLen)
	if !ok {
		return nil, fmt.Errorf("plugin '%s': result read out of bounds", s.name)
	}
	out := make([]byte, len(data))
	copy(out, data)
	s.guestFree(ctx, outPtr, outLen)
	return out, nil
}

// Close implements Guest.
func (s *Sandbox) Close(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.runtime.Close(ctx)
}

func (s *Sandbox) guestAlloc(ctx context.Context, size uint32) (uint32, error) {
	alloc := s.module.ExportedFunction(ExportAlloc)
	if alloc == nil {
		return 0, fmt.Errorf("plugin '%s' does not export '%s'", s.name, ExportAlloc)
	}
	results, err := alloc.Call(ctx, uint64(size))
	if err != nil {
		return 0, fmt.Errorf("plugin '%s': %s failed: %w", s.name, ExportAlloc, err)
	}
	if len(results) == 0 || uint32(results[0]) == 0 {
		return 0, fmt.Errorf("plugin '%s': %s returned null", s.name, ExportAlloc)
	}
	return uint32(results[0]), nil
}

func (s *Sandbox) guestFree(ctx context.Context, ptr, size uint32) {
	free := s.module.ExportedFunction(ExportFree)
	if free == nil {
		return
	}
	_, _ = free.Call(ctx, uint64(ptr), uint64(size))
}
