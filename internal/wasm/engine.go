package wasm

import (
	"context"
	"fmt"
	"sync"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"
)

// Engine is the shared compilation/instantiation context every Actor
// loaded through it reuses, grounded on the teacher's per-module
// wazero.Runtime in compiled_module.go — here lifted one level so a
// single host process need not pay wazero's runtime setup cost per
// actor. WASI preview1 and the capability-call host import are wired
// in once and shared the same way.
type Engine struct {
	runtime wazero.Runtime

	mu        sync.RWMutex
	instances map[api.Module]*moduleInstance
}

// NewEngine constructs an Engine backed by a fresh wazero runtime with
// WASI preview1 and the generic capability-call host function wired
// in, matching NewWASMCompiledModule's setup plus the capability
// import every guest module can link against (see hostcap.go).
func NewEngine(ctx context.Context) (*Engine, error) {
	runtime := wazero.NewRuntime(ctx)
	if _, err := wasi_snapshot_preview1.Instantiate(ctx, runtime); err != nil {
		runtime.Close(ctx)
		return nil, fmt.Errorf("wasm: instantiate WASI: %w", err)
	}

	e := &Engine{runtime: runtime, instances: make(map[api.Module]*moduleInstance)}
	if err := registerCapabilityHostFunctions(ctx, runtime, e); err != nil {
		runtime.Close(ctx)
		return nil, fmt.Errorf("wasm: register capability host functions: %w", err)
	}
	return e, nil
}

func (e *Engine) registerInstance(mod api.Module, inst *moduleInstance) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.instances[mod] = inst
}

func (e *Engine) unregisterInstance(mod api.Module) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.instances, mod)
}

func (e *Engine) lookupInstance(mod api.Module) *moduleInstance {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.instances[mod]
}

// Close releases every module compiled through this Engine.
func (e *Engine) Close(ctx context.Context) error {
	return e.runtime.Close(ctx)
}
