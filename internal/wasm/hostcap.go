package wasm

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"

	"github.com/wasmhost/actorcore/internal/capability"
)

func stringsReader(s string) io.Reader { return strings.NewReader(s) }

func stringsReaderCloser(s string) io.ReadCloser { return io.NopCloser(strings.NewReader(s)) }

// capStatus is the single status byte prefixed to every capability-call
// response envelope, distinguishing an outer (host-infrastructure)
// failure from the guest-visible inner result the spec requires kept
// separate (spec §7/§8).
type capStatus uint8

const (
	capStatusOK capStatus = iota
	capStatusOuterError
	capStatusInnerError
)

// dispatchCapabilityCall is the pure dispatch logic behind the
// "wasmhost" "capability_call" host import: given a snapshot of the
// guest's handler set, a capability name, an operation name and a
// request payload, it returns the response envelope (status byte plus
// payload) a guest import wrapper would decode. Kept free of any wazero
// memory plumbing so it is unit-testable without instantiating a
// module.
func dispatchCapabilityCall(ctx context.Context, h *capability.Handler, capName, op string, request []byte) []byte {
	switch capName {
	case "logging":
		return dispatchLogging(ctx, h, op, request)
	case "bus":
		return dispatchBus(ctx, h, op, request)
	case "keyvalue":
		return dispatchKeyValue(ctx, h, op, request)
	case "http":
		return dispatchHTTP(ctx, h, op, request)
	case "messaging":
		return dispatchMessaging(ctx, h, op, request)
	default:
		return envelope(capStatusOuterError, fmt.Sprintf("unknown capability %q", capName))
	}
}

func envelope(status capStatus, payload string) []byte {
	out := make([]byte, 1+len(payload))
	out[0] = byte(status)
	copy(out[1:], payload)
	return out
}

func dispatchLogging(ctx context.Context, h *capability.Handler, op string, request []byte) []byte {
	if op != "log" {
		return envelope(capStatusOuterError, fmt.Sprintf("logging: unknown operation %q", op))
	}
	if len(request) < 1 {
		return envelope(capStatusOuterError, "logging: malformed request")
	}
	level := capability.LogLevel(request[0])
	rest := string(request[1:])
	// context and message are separated by a NUL the guest wrapper
	// inserts; absent one, treat the whole remainder as the message.
	loggingContext, message := splitNUL(rest)
	if err := h.Log(ctx, level, loggingContext, message); err != nil {
		return envelope(capStatusOuterError, err.Error())
	}
	return envelope(capStatusOK, "")
}

func splitNUL(s string) (before, after string) {
	for i := 0; i < len(s); i++ {
		if s[i] == 0 {
			return s[:i], s[i+1:]
		}
	}
	return "", s
}

func dispatchBus(ctx context.Context, h *capability.Handler, op string, request []byte) []byte {
	if op != "call_oneshot" {
		return envelope(capStatusOuterError, fmt.Sprintf("bus: unknown operation %q", op))
	}
	operation, body := splitNUL(string(request))
	inner, outer := capability.CallOneshot(ctx, h, operation, []byte(body))
	if outer != nil {
		return envelope(capStatusOuterError, outer.Error())
	}
	if inner != nil {
		return envelope(capStatusInnerError, inner.Error())
	}
	return envelope(capStatusOK, "")
}

func dispatchKeyValue(ctx context.Context, h *capability.Handler, op string, request []byte) []byte {
	bucket, rest := splitNUL(string(request))
	key, body := splitNUL(rest)
	switch op {
	case "get":
		rc, _, err := h.Get(ctx, bucket, key)
		if err != nil {
			return envelope(capStatusOuterError, err.Error())
		}
		defer rc.Close()
		buf := make([]byte, 0, 256)
		tmp := make([]byte, 256)
		for {
			n, rerr := rc.Read(tmp)
			buf = append(buf, tmp[:n]...)
			if rerr != nil {
				break
			}
		}
		return envelope(capStatusOK, string(buf))
	case "set":
		if err := h.Set(ctx, bucket, key, stringsReader(body)); err != nil {
			return envelope(capStatusOuterError, err.Error())
		}
		return envelope(capStatusOK, "")
	case "delete":
		if err := h.Delete(ctx, bucket, key); err != nil {
			return envelope(capStatusOuterError, err.Error())
		}
		return envelope(capStatusOK, "")
	case "exists":
		ok, err := h.Exists(ctx, bucket, key)
		if err != nil {
			return envelope(capStatusOuterError, err.Error())
		}
		if ok {
			return envelope(capStatusOK, "1")
		}
		return envelope(capStatusOK, "0")
	default:
		return envelope(capStatusOuterError, fmt.Sprintf("keyvalue: unknown operation %q", op))
	}
}

func dispatchHTTP(ctx context.Context, h *capability.Handler, op string, request []byte) []byte {
	if op != "handle" {
		return envelope(capStatusOuterError, fmt.Sprintf("http: unknown operation %q", op))
	}
	method, rest := splitNUL(string(request))
	uri, body := splitNUL(rest)
	resp, err := h.Handle(ctx, &capability.HttpRequest{Method: method, URI: uri, Body: stringsReaderCloser(body)})
	if err != nil {
		return envelope(capStatusOuterError, err.Error())
	}
	defer resp.Body.Close()
	return envelope(capStatusOK, fmt.Sprintf("%d", resp.Status))
}

func dispatchMessaging(ctx context.Context, h *capability.Handler, op string, request []byte) []byte {
	subject, body := splitNUL(string(request))
	switch op {
	case "publish":
		if err := h.Publish(ctx, capability.BrokerMessage{Subject: subject, Body: []byte(body)}); err != nil {
			return envelope(capStatusOuterError, err.Error())
		}
		return envelope(capStatusOK, "")
	case "request":
		msg, err := h.Request(ctx, subject, []byte(body), 5*time.Second)
		if err != nil {
			return envelope(capStatusOuterError, err.Error())
		}
		return envelope(capStatusOK, string(msg.Body))
	default:
		return envelope(capStatusOuterError, fmt.Sprintf("messaging: unknown operation %q", op))
	}
}

// registerCapabilityHostFunctions wires the single generic
// "wasmhost"/"capability_call" import every guest module can use to
// reach the logging, bus, keyvalue, http and messaging capabilities
// (Blobstore has no operations to dispatch), backed by activeHandler — the
// snapshot Instance.call installs for the duration of a single call
// (see the concurrency note in spec §9 on consistent handler
// snapshots). The ABI mirrors the guest's own handle_request
// convention (spec.md §4.C / teacher's worker.go): the guest writes
// capability name, operation name and request bytes into its own
// linear memory via its allocate export, and the host returns a packed
// (ptr<<32|len) pointing at a status-prefixed response it wrote using
// that same allocate export.
func registerCapabilityHostFunctions(ctx context.Context, runtime wazero.Runtime, engine *Engine) error {
	builder := runtime.NewHostModuleBuilder("wasmhost")
	builder.NewFunctionBuilder().
		WithFunc(func(ctx context.Context, mod api.Module, capPtr, capLen, opPtr, opLen, reqPtr, reqLen uint32) uint64 {
			inst := engine.lookupInstance(mod)
			if inst == nil {
				return 0
			}
			capName, ok1 := mod.Memory().Read(capPtr, capLen)
			opName, ok2 := mod.Memory().Read(opPtr, opLen)
			req, ok3 := mod.Memory().Read(reqPtr, reqLen)
			if !ok1 || !ok2 || !ok3 {
				return 0
			}
			handler := inst.activeHandler()
			resp := dispatchCapabilityCall(ctx, handler, string(capName), string(opName), req)

			allocated, err := inst.allocate.Call(ctx, uint64(len(resp)))
			if err != nil || len(allocated) == 0 {
				return 0
			}
			respPtr := uint32(allocated[0])
			if !mod.Memory().Write(respPtr, resp) {
				return 0
			}
			return (uint64(respPtr) << 32) | uint64(len(resp))
		}).
		Export("capability_call")
	_, err := builder.Instantiate(ctx)
	return err
}
