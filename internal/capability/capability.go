// Package capability defines the six host-provided service contracts a
// guest instance can call into, and the late-bound Handler that fans
// calls out to whichever implementation an embedder has installed
// (spec §4.A). The core never supplies an implementation of any of
// these — that is the embedder's job (spec §1 Non-goals).
package capability

import (
	"context"
	"fmt"
	"io"
	"time"
)

// LogLevel mirrors wasi:logging/logging's level enum.
type LogLevel uint8

const (
	LogLevelTrace LogLevel = iota
	LogLevelDebug
	LogLevelInfo
	LogLevelWarn
	LogLevelError
)

func (l LogLevel) String() string {
	switch l {
	case LogLevelTrace:
		return "trace"
	case LogLevelDebug:
		return "debug"
	case LogLevelInfo:
		return "info"
	case LogLevelWarn:
		return "warn"
	case LogLevelError:
		return "error"
	default:
		return "unknown"
	}
}

// BrokerMessage is the unit exchanged through the Messaging capability,
// mirroring wasmcloud:messaging/types.BrokerMessage.
type BrokerMessage struct {
	Subject string
	ReplyTo string
	Body    []byte
}

// Bus implements wasmcloud:bus/host: a guest-initiated host call that
// streams a request out and a response back, with completion signaled
// independently of the streams themselves.
type Bus interface {
	// Call begins a host call for operation. The caller writes the
	// request to requestSink, reads the response from responseSource,
	// and learns the inner result by waiting on done. done never
	// carries an infrastructure error — that is returned from Call
	// itself; done carries only the guest-visible application result.
	Call(ctx context.Context, operation string) (done <-chan error, requestSink io.WriteCloser, responseSource io.ReadCloser, err error)
}

// CallOneshot is a convenience built on Bus.Call: it writes request,
// asserts the handler produced no response bytes, and returns the
// completion result. It is not a method on Bus because Go interfaces
// have no default methods — this is the free-function equivalent of
// capability::builtin::Bus::call_oneshot in the original Rust runtime.
func CallOneshot(ctx context.Context, bus Bus, operation string, request []byte) (error, error) {
	done, sink, source, err := bus.Call(ctx, operation)
	if err != nil {
		return nil, fmt.Errorf("capability: bus call failed: %w", err)
	}
	if _, werr := sink.Write(request); werr != nil {
		return nil, fmt.Errorf("capability: writing request: %w", werr)
	}
	if cerr := sink.Close(); cerr != nil {
		return nil, fmt.Errorf("capability: closing request sink: %w", cerr)
	}

	var scratch [1]byte
	n, rerr := source.Read(scratch[:])
	if rerr != nil && rerr != io.EOF {
		return nil, fmt.Errorf("capability: reading response: %w", rerr)
	}
	if n != 0 {
		return nil, fmt.Errorf("capability: unexpected output received")
	}

	select {
	case innerErr := <-done:
		return innerErr, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// CallOneshotWithResponse writes request and reads the response to end,
// returning the byte count alongside the inner (guest-application)
// result.
func CallOneshotWithResponse(ctx context.Context, bus Bus, operation string, request []byte, response io.Writer) (int, error, error) {
	done, sink, source, err := bus.Call(ctx, operation)
	if err != nil {
		return 0, nil, fmt.Errorf("capability: bus call failed: %w", err)
	}
	if _, werr := sink.Write(request); werr != nil {
		return 0, nil, fmt.Errorf("capability: writing request: %w", werr)
	}
	if cerr := sink.Close(); cerr != nil {
		return 0, nil, fmt.Errorf("capability: closing request sink: %w", cerr)
	}

	n, rerr := io.Copy(response, source)
	if rerr != nil {
		return int(n), nil, fmt.Errorf("capability: reading response: %w", rerr)
	}

	select {
	case innerErr := <-done:
		return int(n), innerErr, nil
	case <-ctx.Done():
		return int(n), nil, ctx.Err()
	}
}

// IncomingHttp implements wasi:http/incoming-handler.
type IncomingHttp interface {
	Handle(ctx context.Context, request *HttpRequest) (*HttpResponse, error)
}

// HttpRequest/HttpResponse are deliberately minimal streaming wrappers —
// the core has no opinion on HTTP semantics beyond "a request goes in, a
// response with a status and a body comes out" (spec §4.A).
type HttpRequest struct {
	Method  string
	URI     string
	Headers map[string][]string
	Body    io.ReadCloser
}

type HttpResponse struct {
	Status  int
	Headers map[string][]string
	Body    io.ReadCloser
}

// KeyValueReadWrite implements wasi:keyvalue/readwrite.
type KeyValueReadWrite interface {
	Get(ctx context.Context, bucket, key string) (value io.ReadCloser, length uint64, err error)
	Set(ctx context.Context, bucket, key string, value io.Reader) error
	Delete(ctx context.Context, bucket, key string) error
	Exists(ctx context.Context, bucket, key string) (bool, error)
}

// Logging implements wasi:logging/logging. Unlike every other
// capability, an unset Logging handler is not an error — see Handler.Log.
type Logging interface {
	Log(ctx context.Context, level LogLevel, loggingContext, message string) error
}

// Messaging implements wasmcloud:messaging/consumer.
type Messaging interface {
	Request(ctx context.Context, subject string, body []byte, timeout time.Duration) (BrokerMessage, error)
	RequestMulti(ctx context.Context, subject string, body []byte, timeout time.Duration, maxResults uint32) ([]BrokerMessage, error)
	Publish(ctx context.Context, msg BrokerMessage) error
}

// Blobstore implements wasi:blobstore/consumer. Its operation surface is
// intentionally undefined by the spec — the type exists so a Handler has
// a slot to carry a future implementation and a way to report it
// unsupported in the meantime.
type Blobstore interface {
	Unimplemented() error
}
