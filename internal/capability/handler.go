package capability

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"
)

// ErrUnsupported is wrapped with the capability operation name and
// returned whenever a guest calls into a slot that has no handler
// installed. Logging is the sole exception — see Handler.Log.
var ErrUnsupported = errors.New("capability: unsupported")

func unsupported(op string) error {
	return fmt.Errorf("%w: host cannot handle %q", ErrUnsupported, op)
}

// Handler is a six-slot capability fan-out: it implements every
// capability interface itself by forwarding to whichever slot is
// installed, and reports ErrUnsupported for any slot left empty. It is
// the Go realization of capability::builtin::Handler in the original
// wasmCloud runtime this spec distills.
//
// All six Replace* methods are safe for concurrent use and return the
// value they displaced, so a caller can dispose of it in turn. A call in
// flight on an Instance observes a consistent snapshot of the handler
// set because Instance.call clones a Handler by value before invoking
// it — see the note in spec §9 on late handler binding.
type Handler struct {
	mu                 sync.RWMutex
	blobstore          Blobstore
	bus                Bus
	keyvalueReadWrite  KeyValueReadWrite
	logging            Logging
	incomingHttp       IncomingHttp
	messaging          Messaging
}

// Snapshot returns a copy of h holding the same six slot values, safe to
// use without further synchronization. Instance.call takes a snapshot at
// call start so concurrent handler replacement never changes the
// capability set observed mid-call.
func (h *Handler) Snapshot() *Handler {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return &Handler{
		blobstore:         h.blobstore,
		bus:               h.bus,
		keyvalueReadWrite: h.keyvalueReadWrite,
		logging:           h.logging,
		incomingHttp:      h.incomingHttp,
		messaging:         h.messaging,
	}
}

func (h *Handler) ReplaceBlobstore(b Blobstore) Blobstore {
	h.mu.Lock()
	defer h.mu.Unlock()
	old := h.blobstore
	h.blobstore = b
	return old
}

func (h *Handler) ReplaceBus(b Bus) Bus {
	h.mu.Lock()
	defer h.mu.Unlock()
	old := h.bus
	h.bus = b
	return old
}

func (h *Handler) ReplaceKeyValueReadWrite(kv KeyValueReadWrite) KeyValueReadWrite {
	h.mu.Lock()
	defer h.mu.Unlock()
	old := h.keyvalueReadWrite
	h.keyvalueReadWrite = kv
	return old
}

func (h *Handler) ReplaceLogging(l Logging) Logging {
	h.mu.Lock()
	defer h.mu.Unlock()
	old := h.logging
	h.logging = l
	return old
}

func (h *Handler) ReplaceIncomingHttp(i IncomingHttp) IncomingHttp {
	h.mu.Lock()
	defer h.mu.Unlock()
	old := h.incomingHttp
	h.incomingHttp = i
	return old
}

func (h *Handler) ReplaceMessaging(m Messaging) Messaging {
	h.mu.Lock()
	defer h.mu.Unlock()
	old := h.messaging
	h.messaging = m
	return old
}

// Call implements Bus by forwarding to the installed bus handler.
func (h *Handler) Call(ctx context.Context, operation string) (<-chan error, io.WriteCloser, io.ReadCloser, error) {
	h.mu.RLock()
	bus := h.bus
	h.mu.RUnlock()
	if bus == nil {
		return nil, nil, nil, unsupported("wasmcloud:bus/host.call")
	}
	return bus.Call(ctx, operation)
}

// Log implements Logging. Unlike every other capability, an unset
// Logging handler silently discards the log rather than failing the
// guest call (spec §4.A).
func (h *Handler) Log(ctx context.Context, level LogLevel, loggingContext, message string) error {
	h.mu.RLock()
	logging := h.logging
	h.mu.RUnlock()
	if logging == nil {
		return nil
	}
	return logging.Log(ctx, level, loggingContext, message)
}

// Get implements KeyValueReadWrite.
func (h *Handler) Get(ctx context.Context, bucket, key string) (io.ReadCloser, uint64, error) {
	h.mu.RLock()
	kv := h.keyvalueReadWrite
	h.mu.RUnlock()
	if kv == nil {
		return nil, 0, unsupported("wasi:keyvalue/readwrite.get")
	}
	return kv.Get(ctx, bucket, key)
}

func (h *Handler) Set(ctx context.Context, bucket, key string, value io.Reader) error {
	h.mu.RLock()
	kv := h.keyvalueReadWrite
	h.mu.RUnlock()
	if kv == nil {
		return unsupported("wasi:keyvalue/readwrite.set")
	}
	return kv.Set(ctx, bucket, key, value)
}

func (h *Handler) Delete(ctx context.Context, bucket, key string) error {
	h.mu.RLock()
	kv := h.keyvalueReadWrite
	h.mu.RUnlock()
	if kv == nil {
		return unsupported("wasi:keyvalue/readwrite.delete")
	}
	return kv.Delete(ctx, bucket, key)
}

func (h *Handler) Exists(ctx context.Context, bucket, key string) (bool, error) {
	h.mu.RLock()
	kv := h.keyvalueReadWrite
	h.mu.RUnlock()
	if kv == nil {
		return false, unsupported("wasi:keyvalue/readwrite.exists")
	}
	return kv.Exists(ctx, bucket, key)
}

// Handle implements IncomingHttp.
func (h *Handler) Handle(ctx context.Context, request *HttpRequest) (*HttpResponse, error) {
	h.mu.RLock()
	ih := h.incomingHttp
	h.mu.RUnlock()
	if ih == nil {
		return nil, unsupported("wasi:http/incoming-handler.handle")
	}
	return ih.Handle(ctx, request)
}

// Request implements Messaging.
func (h *Handler) Request(ctx context.Context, subject string, body []byte, timeout time.Duration) (BrokerMessage, error) {
	h.mu.RLock()
	m := h.messaging
	h.mu.RUnlock()
	if m == nil {
		return BrokerMessage{}, unsupported("wasmcloud:messaging/consumer.request")
	}
	return m.Request(ctx, subject, body, timeout)
}

func (h *Handler) RequestMulti(ctx context.Context, subject string, body []byte, timeout time.Duration, maxResults uint32) ([]BrokerMessage, error) {
	h.mu.RLock()
	m := h.messaging
	h.mu.RUnlock()
	if m == nil {
		return nil, unsupported("wasmcloud:messaging/consumer.request_multi")
	}
	return m.RequestMulti(ctx, subject, body, timeout, maxResults)
}

func (h *Handler) Publish(ctx context.Context, msg BrokerMessage) error {
	h.mu.RLock()
	m := h.messaging
	h.mu.RUnlock()
	if m == nil {
		return unsupported("wasmcloud:messaging/consumer.publish")
	}
	return m.Publish(ctx, msg)
}

// Unimplemented implements Blobstore.
func (h *Handler) Unimplemented() error {
	h.mu.RLock()
	b := h.blobstore
	h.mu.RUnlock()
	if b == nil {
		return unsupported("wasi:blobstore/consumer")
	}
	return b.Unimplemented()
}

var (
	_ Bus               = (*Handler)(nil)
	_ Logging           = (*Handler)(nil)
	_ KeyValueReadWrite = (*Handler)(nil)
	_ IncomingHttp      = (*Handler)(nil)
	_ Messaging         = (*Handler)(nil)
)

// HandlerBuilder configures a Handler before it is attached to an
// Instance, mirroring capability::builtin::HandlerBuilder in the
// original runtime (spec §10 supplement). Once attached, further
// changes go through the Replace* setters instead.
type HandlerBuilder struct {
	h Handler
}

func NewHandlerBuilder() *HandlerBuilder {
	return &HandlerBuilder{}
}

func (b *HandlerBuilder) Blobstore(v Blobstore) *HandlerBuilder {
	b.h.blobstore = v
	return b
}

func (b *HandlerBuilder) Bus(v Bus) *HandlerBuilder {
	b.h.bus = v
	return b
}

func (b *HandlerBuilder) KeyValueReadWrite(v KeyValueReadWrite) *HandlerBuilder {
	b.h.keyvalueReadWrite = v
	return b
}

func (b *HandlerBuilder) Logging(v Logging) *HandlerBuilder {
	b.h.logging = v
	return b
}

func (b *HandlerBuilder) IncomingHttp(v IncomingHttp) *HandlerBuilder {
	b.h.incomingHttp = v
	return b
}

func (b *HandlerBuilder) Messaging(v Messaging) *HandlerBuilder {
	b.h.messaging = v
	return b
}

func (b *HandlerBuilder) Build() *Handler {
	return b.h.Snapshot()
}
