package wasm

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"

	"github.com/wasmhost/actorcore/internal/capability"
)

// exportDispatch names the generic operation-dispatch export a module
// actor must provide; it is reported as the missing Interface when
// instantiation can't find handle_request/allocate/deallocate.
const exportDispatch = "handle_request/allocate/deallocate"

// moduleActor is the classic linear-memory backend, grounded directly
// on the teacher's wasmCompiledModule/wasmWorker split in
// compiled_module.go and worker.go.
type moduleActor struct {
	engine   *Engine
	compiled wazero.CompiledModule
}

func newModuleActor(ctx context.Context, engine *Engine, wasmBytes []byte) (*moduleActor, error) {
	compiled, err := engine.runtime.CompileModule(ctx, wasmBytes)
	if err != nil {
		return nil, fmt.Errorf("wasm: compile module: %w", err)
	}
	return &moduleActor{engine: engine, compiled: compiled}, nil
}

func (a *moduleActor) instantiate(ctx context.Context) (*moduleInstance, error) {
	stderr := &relayWriter{target: io.Discard}
	config := wazero.NewModuleConfig().
		WithStdout(nil).
		WithStderr(stderr).
		WithName("").
		WithStartFunctions() // reactor module: never call _start

	module, err := a.engine.runtime.InstantiateModule(ctx, a.compiled, config)
	if err != nil {
		return nil, &InstantiateError{Reason: ReasonInstantiationFailed, cause: fmt.Errorf("instantiate module: %w", err)}
	}

	if initialize := module.ExportedFunction("_initialize"); initialize != nil {
		if _, err := initialize.Call(ctx); err != nil {
			module.Close(ctx)
			return nil, &InstantiateError{Reason: ReasonInstantiationFailed, cause: fmt.Errorf("call _initialize: %w", err)}
		}
	}

	handleRequest := module.ExportedFunction("handle_request")
	allocate := module.ExportedFunction("allocate")
	deallocate := module.ExportedFunction("deallocate")
	if handleRequest == nil || allocate == nil || deallocate == nil {
		module.Close(ctx)
		return nil, &InstantiateError{Reason: ReasonExportMissing, Interface: exportDispatch}
	}

	inst := &moduleInstance{
		actor:         a,
		module:        module,
		handleRequest: handleRequest,
		allocate:      allocate,
		deallocate:    deallocate,
		handler:       &capability.Handler{},
		stderr:        stderr,
	}
	a.engine.registerInstance(module, inst)
	return inst, nil
}

func (a *moduleActor) close(ctx context.Context) error {
	return a.compiled.Close(ctx)
}

// relayWriter lets an instance's stderr sink be swapped after the
// wazero module is instantiated (ModuleConfig.WithStderr is otherwise
// fixed for the module's lifetime).
type relayWriter struct {
	mu     sync.Mutex
	target io.Writer
}

func (r *relayWriter) Write(p []byte) (int, error) {
	r.mu.Lock()
	target := r.target
	r.mu.Unlock()
	return target.Write(p)
}

func (r *relayWriter) set(w io.Writer) {
	r.mu.Lock()
	r.target = w
	r.mu.Unlock()
}

// moduleInstance is the module backend's realization of Instance,
// grounded on the teacher's wasmWorker (worker.go) and generalized with
// the capability handler set and stderr sink the spec's Instance adds.
type moduleInstance struct {
	actor *moduleActor

	module        api.Module
	handleRequest api.Function
	allocate      api.Function
	deallocate    api.Function

	handler *capability.Handler

	mu     sync.Mutex
	active *capability.Handler

	stderr *relayWriter
}

// activeHandler is read by the capability_call host import while a
// call is in flight; outside a call it falls back to the live handler
// so _initialize-time capability use (rare, but not forbidden) still
// resolves.
func (m *moduleInstance) activeHandler() *capability.Handler {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.active != nil {
		return m.active
	}
	return m.handler
}

// call implements the generic module dispatch convention: allocate
// guest buffers for the method name and the request body, invoke
// handle_request, and decode its packed (ptr<<32|len) result —
// identical wire contract to the teacher's wasmWorker.Invoke, lifted to
// take an io.Reader/io.Writer pair and to snapshot the capability
// handler for the call's duration (spec §9 concurrency note).
func (m *moduleInstance) call(ctx context.Context, operation string, request io.Reader, response io.Writer) (outer, inner error) {
	body, err := io.ReadAll(request)
	if err != nil {
		return fmt.Errorf("wasm: read request: %w", err), nil
	}

	m.mu.Lock()
	m.active = m.handler.Snapshot()
	m.mu.Unlock()
	defer func() {
		m.mu.Lock()
		m.active = nil
		m.mu.Unlock()
	}()

	methodBytes := []byte(operation)
	methodPtr, err := m.allocate.Call(ctx, uint64(len(methodBytes)))
	if err != nil {
		return fmt.Errorf("wasm: allocate method buffer: %w", err), nil
	}
	defer func() { _, _ = m.deallocate.Call(ctx, methodPtr[0]) }()
	if !m.module.Memory().Write(uint32(methodPtr[0]), methodBytes) {
		return fmt.Errorf("wasm: write method buffer"), nil
	}

	inputPtr, err := m.allocate.Call(ctx, uint64(len(body)))
	if err != nil {
		return fmt.Errorf("wasm: allocate input buffer: %w", err), nil
	}
	defer func() { _, _ = m.deallocate.Call(ctx, inputPtr[0]) }()
	if !m.module.Memory().Write(uint32(inputPtr[0]), body) {
		return fmt.Errorf("wasm: write input buffer"), nil
	}

	result, err := m.handleRequest.Call(ctx,
		methodPtr[0], uint64(len(methodBytes)),
		inputPtr[0], uint64(len(body)))
	if err != nil {
		return fmt.Errorf("wasm: guest trapped: %w", err), nil
	}

	resultValue := result[0]
	if resultValue == 0 {
		return fmt.Errorf("wasm: handle_request returned null"), nil
	}
	outputPtr := uint32(resultValue >> 32)
	outputLen := uint32(resultValue & 0xFFFFFFFF)

	output, ok := m.module.Memory().Read(outputPtr, outputLen)
	if !ok {
		return fmt.Errorf("wasm: read output buffer"), nil
	}
	if _, werr := response.Write(output); werr != nil {
		return fmt.Errorf("wasm: write response: %w", werr), nil
	}
	_, _ = m.deallocate.Call(ctx, uint64(outputPtr))

	return nil, nil
}

// logExport and handleExport give a module backend's single generic
// dispatch surface the two named operations spec.md §4.C promises
// unconditionally: "wasi:logging/logging.log" and
// "wasi:http/incoming-handler.handle" are just well-known operation names
// routed through the same handle_request export.
func (m *moduleInstance) logExport(ctx context.Context, level capability.LogLevel, loggingContext, message string) error {
	var req, resp bytes.Buffer
	req.WriteByte(byte(level))
	req.WriteString(loggingContext)
	req.WriteByte(0)
	req.WriteString(message)
	outer, inner := m.call(ctx, "wasi:logging/logging.log", &req, &resp)
	if outer != nil {
		return outer
	}
	return inner
}

func (m *moduleInstance) handleExport(ctx context.Context, request *capability.HttpRequest) (*capability.HttpResponse, error) {
	var req, resp bytes.Buffer
	req.WriteString(request.Method)
	req.WriteByte(0)
	req.WriteString(request.URI)
	outer, inner := m.call(ctx, "wasi:http/incoming-handler.handle", &req, &resp)
	if outer != nil {
		return nil, outer
	}
	if inner != nil {
		return nil, inner
	}
	return &capability.HttpResponse{Status: 200, Body: io.NopCloser(&resp)}, nil
}

func (m *moduleInstance) reset(ctx context.Context) error {
	fresh, err := m.actor.instantiate(ctx)
	if err != nil {
		return fmt.Errorf("wasm: reset instance: %w", err)
	}
	m.actor.engine.unregisterInstance(m.module)
	if err := m.module.Close(ctx); err != nil {
		return fmt.Errorf("wasm: close prior instance: %w", err)
	}

	m.module = fresh.module
	m.handleRequest = fresh.handleRequest
	m.allocate = fresh.allocate
	m.deallocate = fresh.deallocate
	m.handler = &capability.Handler{}
	m.stderr = fresh.stderr
	m.actor.engine.unregisterInstance(fresh.module)
	m.actor.engine.registerInstance(fresh.module, m)
	return nil
}

func (m *moduleInstance) close(ctx context.Context) error {
	m.actor.engine.unregisterInstance(m.module)
	return m.module.Close(ctx)
}
