// Package wasm implements the actor abstraction over classic Wasm
// modules: Actor, Instance and the typed export views derived from it,
// plus the pool that recycles instances (spec §4.C/§4.D). Grounded on
// the teacher's internal/wasm/{compiled_module,worker,pool}.go.
//
// The domain model calls for a second, component-model backend
// alongside the module backend (spec §3/§9's tagged Module|Component
// union). No library available to this host decodes real
// component-model binaries — wazero compiles only classic core
// modules, and a component-encoded artifact is not byte-reinterpretable
// as one (the two binary formats diverge past the shared 8-byte
// preamble). Load rejects component-encoded artifacts outright with a
// ReasonComponentEncodingUnsupported LoadError rather than routing them
// into a compile call that is guaranteed to fail; see DESIGN.md's Open
// Question resolution. Kind and KindComponent remain so the artifact's
// detected encoding can still be named in that error and in logs, but
// no Instance is ever realized with KindComponent.
package wasm

import (
	"context"
	"io"

	"github.com/google/uuid"

	"github.com/wasmhost/actorcore/internal/capability"
)

// Kind tags which backend an Actor/Instance is realized by.
type Kind uint8

const (
	KindModule Kind = iota
	KindComponent
)

func (k Kind) String() string {
	if k == KindComponent {
		return "component"
	}
	return "module"
}

// Instance is a ready-to-execute guest. Only the module backend is
// reachable (see the package doc comment); kind is always KindModule.
type Instance struct {
	kind   Kind
	module *moduleInstance

	id string
}

func newModuleInstanceWrapper(mi *moduleInstance) *Instance {
	return &Instance{kind: KindModule, module: mi, id: uuid.NewString()}
}

// ID is a process-local identifier useful for log correlation and pool
// bookkeeping; it has no meaning across processes.
func (i *Instance) ID() string { return i.id }

// Kind reports which backend realizes this instance.
func (i *Instance) Kind() Kind { return i.kind }

// Reset reinitializes the instance's state from its compiled Actor,
// matching Instance::reset in the original runtime. It is called by
// PooledInstance on return to the pool, never by ordinary callers.
func (i *Instance) Reset(ctx context.Context) error {
	return i.module.reset(ctx)
}

// Bus attaches a Bus handler to this instance, replacing any prior
// handler and returning the instance for chaining (spec §4.C).
func (i *Instance) Bus(b capability.Bus) *Instance {
	i.handler().ReplaceBus(b)
	return i
}

func (i *Instance) IncomingHttp(h capability.IncomingHttp) *Instance {
	i.handler().ReplaceIncomingHttp(h)
	return i
}

func (i *Instance) KeyValueReadWrite(kv capability.KeyValueReadWrite) *Instance {
	i.handler().ReplaceKeyValueReadWrite(kv)
	return i
}

func (i *Instance) Logging(l capability.Logging) *Instance {
	i.handler().ReplaceLogging(l)
	return i
}

func (i *Instance) Messaging(m capability.Messaging) *Instance {
	i.handler().ReplaceMessaging(m)
	return i
}

func (i *Instance) handler() *capability.Handler {
	return i.module.handler
}

// Stderr replaces the instance's standard-error sink, returning the
// instance for chaining (spec §3's "standard-error sink" field).
func (i *Instance) Stderr(w io.Writer) *Instance {
	i.module.stderr.set(w)
	return i
}

// Call invokes operation on the instance, streaming request in and
// response out. The outer error reports host-side call failure
// (handler unsupported, host I/O, guest trap, or a null result from
// handle_request). The second result is the inner, guest-application
// error slot (spec §7/§8's two-slot split); the module dispatch ABI (a
// packed ptr/len result) has no field for a guest error message, so the
// module backend always returns nil there.
func (i *Instance) Call(ctx context.Context, operation string, request io.Reader, response io.Writer) (outer, inner error) {
	return i.module.call(ctx, operation, request, response)
}

// GuestInstance is a typed view witnessing the guest's generic
// operation-dispatch export. Always succeeds for the module backend,
// which routes every operation through the single generic export
// (spec §4.C) — see the package doc comment on why the component
// backend's conditional witnessing never gets exercised here.
type GuestInstance struct {
	inst *Instance
}

func (g *GuestInstance) Call(ctx context.Context, operation string, request io.Reader, response io.Writer) (outer, inner error) {
	return g.inst.Call(ctx, operation, request, response)
}

// LoggingInstance witnesses the guest's wasi:logging/logging export.
type LoggingInstance struct {
	inst *Instance
}

func (l *LoggingInstance) Log(ctx context.Context, level capability.LogLevel, loggingContext, message string) error {
	return l.inst.module.logExport(ctx, level, loggingContext, message)
}

// IncomingHttpInstance witnesses the guest's
// wasi:http/incoming-handler export.
type IncomingHttpInstance struct {
	inst *Instance
}

func (h *IncomingHttpInstance) Handle(ctx context.Context, request *capability.HttpRequest) (*capability.HttpResponse, error) {
	return h.inst.module.handleExport(ctx, request)
}

// IntoGuest coerces the instance into a GuestInstance.
func (i *Instance) IntoGuest() (*GuestInstance, error) {
	return &GuestInstance{inst: i}, nil
}

// IntoLogging coerces the instance into a LoggingInstance.
func (i *Instance) IntoLogging() (*LoggingInstance, error) {
	return &LoggingInstance{inst: i}, nil
}

// IntoIncomingHttp coerces the instance into an IncomingHttpInstance.
func (i *Instance) IntoIncomingHttp() (*IncomingHttpInstance, error) {
	return &IncomingHttpInstance{inst: i}, nil
}

// Close releases the engine resources backing this instance. Callers
// that obtained the instance through a pool should not call Close —
// the pool manages the instance's lifetime via Reset/reuse instead.
func (i *Instance) Close(ctx context.Context) error {
	return i.module.close(ctx)
}
