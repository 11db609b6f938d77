package capability

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeLogging struct {
	calls []string
}

func (f *fakeLogging) Log(ctx context.Context, level LogLevel, loggingContext, message string) error {
	f.calls = append(f.calls, level.String()+":"+loggingContext+":"+message)
	return nil
}

type fakeKV struct{}

func (fakeKV) Get(ctx context.Context, bucket, key string) (io.ReadCloser, uint64, error) {
	return io.NopCloser(bytes.NewReader([]byte("v"))), 1, nil
}
func (fakeKV) Set(ctx context.Context, bucket, key string, value io.Reader) error { return nil }
func (fakeKV) Delete(ctx context.Context, bucket, key string) error              { return nil }
func (fakeKV) Exists(ctx context.Context, bucket, key string) (bool, error)      { return true, nil }

func TestHandler_LoggingAbsentIsSilent(t *testing.T) {
	h := &Handler{}
	err := h.Log(context.Background(), LogLevelInfo, "ctx", "hello")
	assert.NoError(t, err)
}

func TestHandler_LoggingPresentForwards(t *testing.T) {
	h := &Handler{}
	fl := &fakeLogging{}
	h.ReplaceLogging(fl)

	err := h.Log(context.Background(), LogLevelInfo, "ctx", "hello")
	require.NoError(t, err)
	require.Len(t, fl.calls, 1)
	assert.Equal(t, "info:ctx:hello", fl.calls[0])
}

func TestHandler_UnsetSlotsFailUnsupported(t *testing.T) {
	h := &Handler{}

	_, _, _, err := h.Call(context.Background(), "op")
	assert.ErrorIs(t, err, ErrUnsupported)

	_, _, err2 := h.Get(context.Background(), "bucket", "key")
	assert.ErrorIs(t, err2, ErrUnsupported)

	assert.ErrorIs(t, h.Set(context.Background(), "b", "k", bytes.NewReader(nil)), ErrUnsupported)
	assert.ErrorIs(t, h.Delete(context.Background(), "b", "k"), ErrUnsupported)
	_, err3 := h.Exists(context.Background(), "b", "k")
	assert.ErrorIs(t, err3, ErrUnsupported)

	_, err4 := h.Handle(context.Background(), &HttpRequest{})
	assert.ErrorIs(t, err4, ErrUnsupported)

	_, err5 := h.Request(context.Background(), "subj", nil, time.Second)
	assert.ErrorIs(t, err5, ErrUnsupported)
	_, err6 := h.RequestMulti(context.Background(), "subj", nil, time.Second, 1)
	assert.ErrorIs(t, err6, ErrUnsupported)
	assert.ErrorIs(t, h.Publish(context.Background(), BrokerMessage{}), ErrUnsupported)
}

func TestHandler_KeyValueForwards(t *testing.T) {
	h := &Handler{}
	h.ReplaceKeyValueReadWrite(fakeKV{})

	ok, err := h.Exists(context.Background(), "b", "k")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestHandler_ReplaceReturnsPrevious(t *testing.T) {
	h := &Handler{}
	first := &fakeLogging{}
	second := &fakeLogging{}

	assert.Nil(t, h.ReplaceLogging(first))
	prev := h.ReplaceLogging(second)
	assert.Same(t, first, prev)
}

func TestHandlerBuilder_Build(t *testing.T) {
	fl := &fakeLogging{}
	h := NewHandlerBuilder().Logging(fl).Build()

	require.NoError(t, h.Log(context.Background(), LogLevelWarn, "c", "m"))
	require.Len(t, fl.calls, 1)
}

func TestCallOneshot_RejectsPartialResponse(t *testing.T) {
	bus := &fakeBus{response: []byte{0x01}}
	_, err := bus.Call(context.Background(), "op")
	_ = err

	_, err2 := CallOneshotErr(t, bus)
	require.Error(t, err2)
}

// fakeBus is a minimal Bus used to exercise CallOneshot's response
// sanity check.
type fakeBus struct {
	response []byte
}

func (f *fakeBus) Call(ctx context.Context, operation string) (<-chan error, io.WriteCloser, io.ReadCloser, error) {
	done := make(chan error, 1)
	done <- nil
	var buf bytes.Buffer
	return done, nopWriteCloser{&buf}, io.NopCloser(bytes.NewReader(f.response)), nil
}

type nopWriteCloser struct{ io.Writer }

func (nopWriteCloser) Close() error { return nil }

// CallOneshotErr is a small test seam so TestCallOneshot_RejectsPartialResponse
// reads cleanly.
func CallOneshotErr(t *testing.T, bus Bus) (error, error) {
	t.Helper()
	return CallOneshot(context.Background(), bus, "op", []byte("req"))
}

func TestCallOneshotWithResponse_ReadsToEnd(t *testing.T) {
	bus := &fakeBus{response: []byte("hello world")}
	var out bytes.Buffer
	n, inner, err := CallOneshotWithResponse(context.Background(), bus, "op", []byte("req"), &out)
	require.NoError(t, err)
	require.NoError(t, inner)
	assert.Equal(t, 11, n)
	assert.Equal(t, "hello world", out.String())
}

func TestCallOneshot_PropagatesInnerError(t *testing.T) {
	bus := &errBus{innerErr: errors.New("guest failed")}
	inner, err := CallOneshot(context.Background(), bus, "op", nil)
	require.NoError(t, err)
	require.Error(t, inner)
	assert.Equal(t, "guest failed", inner.Error())
}

type errBus struct{ innerErr error }

func (e *errBus) Call(ctx context.Context, operation string) (<-chan error, io.WriteCloser, io.ReadCloser, error) {
	done := make(chan error, 1)
	done <- e.innerErr
	var buf bytes.Buffer
	return done, nopWriteCloser{&buf}, io.NopCloser(bytes.NewReader(nil)), nil
}
