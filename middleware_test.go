package xchannel

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestRetryMiddleware tests bounded and selective retries.
func TestRetryMiddleware(t *testing.T) {
	errTransient := errors.New("transient")
	errFatal := errors.New("fatal")

	tests := []struct {
		name      string
		failures  []error
		cfg       RetryConfig
		wantCalls int
		wantErr   error
	}{
		{
			name:      "succeeds after retries",
			failures:  []error{errTransient, errTransient},
			cfg:       RetryConfig{MaxAttempts: 3, Backoff: ExponentialBackoff(time.Millisecond, 4*time.Millisecond)},
			wantCalls: 3,
		},
		{
			name:      "gives up",
			failures:  []error{errTransient, errTransient, errTransient},
			cfg:       RetryConfig{MaxAttempts: 2},
			wantCalls: 2,
			wantErr:   errTransient,
		},
		{
			name:     "stops on non retryable",
			failures: []error{errFatal, errTransient},
			cfg: RetryConfig{
				MaxAttempts: 5,
				RetryIf:     func(err error) bool { return !errors.Is(err, errFatal) },
			},
			wantCalls: 1,
			wantErr:   errFatal,
		},
		{
			name:      "zero attempts runs once",
			failures:  []error{errTransient},
			cfg:       RetryConfig{},
			wantCalls: 1,
			wantErr:   errTransient,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			calls := 0
			send := Chain(func(context.Context, *ConnectorMessage) (*Response, error) {
				calls++
				if calls <= len(tt.failures) {
					return nil, tt.failures[calls-1]
				}
				return &Response{Status: StatusSent}, nil
			}, RetryMiddleware(tt.cfg))

			resp, err := send(context.Background(), nil)
			assert.Equal(t, tt.wantCalls, calls)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, StatusSent, resp.Status)
		})
	}
}

// TestExponentialBackoff tests doubling up to the cap.
func TestExponentialBackoff(t *testing.T) {
	b := ExponentialBackoff(10*time.Millisecond, 50*time.Millisecond)
	assert.Equal(t, 10*time.Millisecond, b(1))
	assert.Equal(t, 20*time.Millisecond, b(2))
	assert.Equal(t, 40*time.Millisecond, b(3))
	assert.Equal(t, 50*time.Millisecond, b(4))
	assert.Equal(t, 50*time.Millisecond, b(10))
}

// TestTimeoutMiddleware tests that slow sends are cut off.
func TestTimeoutMiddleware(t *testing.T) {
	slow := func(ctx context.Context, _ *ConnectorMessage) (*Response, error) {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(time.Second):
			return &Response{Status: StatusSent}, nil
		}
	}

	_, err := Chain(slow, TimeoutMiddleware(20*time.Millisecond))(context.Background(), nil)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	fast := func(context.Context, *ConnectorMessage) (*Response, error) {
		return &Response{Status: StatusSent}, nil
	}
	resp, err := Chain(fast, TimeoutMiddleware(time.Second), TimeoutMiddleware(0), nil)(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, StatusSent, resp.Status)
}

// TestRecoveryMiddleware tests that sender panics become errors.
func TestRecoveryMiddleware(t *testing.T) {
	send := Chain(func(context.Context, *ConnectorMessage) (*Response, error) {
		panic("socket gone")
	}, RecoveryMiddleware())

	resp, err := send(context.Background(), nil)
	assert.Nil(t, resp)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "socket gone")
}

// TestDelimitedBatchAdaptor tests splitting and blank entry skipping.
func TestDelimitedBatchAdaptor(t *testing.T) {
	ctx := context.Background()
	collect := func(a BatchAdaptor) []string {
		var out []string
		for {
			msg, ok, err := a.Next(ctx)
			require.NoError(t, err)
			if !ok {
				break
			}
			out = append(out, msg)
		}
		require.NoError(t, a.Close())
		return out
	}

	assert.Equal(t, []string{"one", "two", "three"}, collect(NewDelimitedBatchAdaptor("one\n\ntwo\n  \nthree\n", "")))
	assert.Equal(t, []string{"a", "b"}, collect(DelimitedBatch("||")("a||||b||")))
	assert.Empty(t, collect(NewDelimitedBatchAdaptor("", ",")))

	a := NewDelimitedBatchAdaptor("x,y", ",")
	require.NoError(t, a.Close())
	_, ok, err := a.Next(ctx)
	assert.False(t, ok)
	assert.NoError(t, err)

	f, err := NewBatchAdaptor(DataTypeJSON)
	require.NoError(t, err)
	assert.Equal(t, []string{`{"a":1}`, `{"a":2}`}, collect(f("{\"a\":1}\n{\"a\":2}")))

	_, err = NewBatchAdaptor("NOPE")
	assert.Error(t, err)
	assert.Error(t, RegisterBatchAdaptor("", DelimitedBatch(",")))
	assert.Error(t, RegisterBatchAdaptor("CSV", nil))
}

// TestCodecs tests the built-in codecs.
func TestCodecs(t *testing.T) {
	raw, err := NewCodec("")
	require.NoError(t, err)
	assert.Equal(t, DataTypeRaw, raw.Name())
	s, err := raw.Serialize([]byte("bytes"))
	require.NoError(t, err)
	assert.Equal(t, "bytes", s)

	js, err := NewCodec(DataTypeJSON)
	require.NoError(t, err)
	s, err = js.Serialize("{ \"a\" : 1 }")
	require.NoError(t, err)
	assert.Equal(t, `{"a":1}`, s)
	_, err = js.Serialize("{broken")
	assert.Error(t, err)

	v, err := js.Deserialize(`{"type":"lab","n":2}`)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"type": "lab", "n": float64(2)}, v)

	md, err := js.ExtractMetaData(`{"type":"lab","version":"1","other":"x"}`)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"type": "lab", "version": "1"}, md)

	_, err = NewCodec("XML")
	assert.Error(t, err)
}
