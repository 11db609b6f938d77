package wasm

import (
	"bytes"
	"context"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wasmhost/actorcore/internal/capability"
)

type recordingLogger struct {
	level          capability.LogLevel
	loggingContext string
	message        string
}

func (r *recordingLogger) Log(ctx context.Context, level capability.LogLevel, loggingContext, message string) error {
	r.level = level
	r.loggingContext = loggingContext
	r.message = message
	return nil
}

func TestDispatchLogging_ForwardsToHandler(t *testing.T) {
	h := &capability.Handler{}
	rl := &recordingLogger{}
	h.ReplaceLogging(rl)

	req := append([]byte{byte(capability.LogLevelWarn)}, []byte("ctx\x00hello world")...)
	resp := dispatchCapabilityCall(context.Background(), h, "logging", "log", req)

	require.Equal(t, byte(capStatusOK), resp[0])
	assert.Equal(t, capability.LogLevelWarn, rl.level)
	assert.Equal(t, "ctx", rl.loggingContext)
	assert.Equal(t, "hello world", rl.message)
}

func TestDispatchLogging_AbsentIsSilentSuccess(t *testing.T) {
	h := &capability.Handler{}
	req := append([]byte{byte(capability.LogLevelInfo)}, []byte("ctx\x00hello")...)
	resp := dispatchCapabilityCall(context.Background(), h, "logging", "log", req)
	require.Equal(t, byte(capStatusOK), resp[0])
}

type fakeKeyValue struct {
	store map[string]string
}

func (f *fakeKeyValue) Get(ctx context.Context, bucket, key string) (io.ReadCloser, uint64, error) {
	v, ok := f.store[bucket+"/"+key]
	if !ok {
		return io.NopCloser(bytes.NewReader(nil)), 0, nil
	}
	return io.NopCloser(bytes.NewReader([]byte(v))), uint64(len(v)), nil
}

func (f *fakeKeyValue) Set(ctx context.Context, bucket, key string, value io.Reader) error {
	b, err := io.ReadAll(value)
	if err != nil {
		return err
	}
	f.store[bucket+"/"+key] = string(b)
	return nil
}

func (f *fakeKeyValue) Delete(ctx context.Context, bucket, key string) error {
	delete(f.store, bucket+"/"+key)
	return nil
}

func (f *fakeKeyValue) Exists(ctx context.Context, bucket, key string) (bool, error) {
	_, ok := f.store[bucket+"/"+key]
	return ok, nil
}

func TestDispatchKeyValue_SetThenGet(t *testing.T) {
	h := &capability.Handler{}
	h.ReplaceKeyValueReadWrite(&fakeKeyValue{store: map[string]string{}})

	setReq := []byte("bucket\x00key\x00value-bytes")
	resp := dispatchCapabilityCall(context.Background(), h, "keyvalue", "set", setReq)
	require.Equal(t, byte(capStatusOK), resp[0])

	getReq := []byte("bucket\x00key\x00")
	resp = dispatchCapabilityCall(context.Background(), h, "keyvalue", "get", getReq)
	require.Equal(t, byte(capStatusOK), resp[0])
	assert.Equal(t, "value-bytes", string(resp[1:]))
}

func TestDispatchKeyValue_UnsupportedWhenUnset(t *testing.T) {
	h := &capability.Handler{}
	resp := dispatchCapabilityCall(context.Background(), h, "keyvalue", "exists", []byte("b\x00k\x00"))
	require.Equal(t, byte(capStatusOuterError), resp[0])
}

type fakeMessaging struct{}

func (fakeMessaging) Request(ctx context.Context, subject string, body []byte, timeout time.Duration) (capability.BrokerMessage, error) {
	return capability.BrokerMessage{Subject: subject, Body: []byte("reply-to-" + string(body))}, nil
}
func (fakeMessaging) RequestMulti(ctx context.Context, subject string, body []byte, timeout time.Duration, max uint32) ([]capability.BrokerMessage, error) {
	return nil, nil
}
func (fakeMessaging) Publish(ctx context.Context, msg capability.BrokerMessage) error { return nil }

func TestDispatchMessaging_Request(t *testing.T) {
	h := &capability.Handler{}
	h.ReplaceMessaging(fakeMessaging{})

	resp := dispatchCapabilityCall(context.Background(), h, "messaging", "request", []byte("subj\x00payload"))
	require.Equal(t, byte(capStatusOK), resp[0])
	assert.Equal(t, "reply-to-payload", string(resp[1:]))
}

func TestDispatchCapabilityCall_UnknownCapability(t *testing.T) {
	h := &capability.Handler{}
	resp := dispatchCapabilityCall(context.Background(), h, "nope", "op", nil)
	require.Equal(t, byte(capStatusOuterError), resp[0])
}
