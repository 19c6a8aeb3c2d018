package circuitbreaker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() Config {
	return Config{
		Name:         "test-store",
		MaxRequests:  1,
		Interval:     time.Minute,
		Timeout:      time.Minute,
		FailureRatio: 0.5,
		MinRequests:  2,
	}
}

func TestExecute_ReturnsValue(t *testing.T) {
	b := New(testConfig())

	n, err := Execute(context.Background(), b, func(context.Context) (int, error) {
		return 7, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 7, n)
}

func TestBreaker_OpensAfterFailures(t *testing.T) {
	b := New(testConfig())
	boom := errors.New("connection reset")

	for i := 0; i < 2; i++ {
		err := b.Run(context.Background(), func(context.Context) error { return boom })
		assert.ErrorIs(t, err, boom)
	}

	assert.True(t, b.IsOpen())

	called := false
	err := b.Run(context.Background(), func(context.Context) error {
		called = true
		return nil
	})
	assert.ErrorIs(t, err, ErrOpen)
	assert.False(t, called)
}

func TestBreaker_CancellationDoesNotTrip(t *testing.T) {
	b := New(testConfig())

	for i := 0; i < 4; i++ {
		_ = b.Run(context.Background(), func(context.Context) error { return context.Canceled })
	}
	assert.False(t, b.IsOpen())
}

func TestExecute_CancelledContextSkipsCall(t *testing.T) {
	b := New(testConfig())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := Execute(ctx, b, func(context.Context) (string, error) {
		t.Fatal("must not be called")
		return "", nil
	})
	assert.ErrorIs(t, err, context.Canceled)
}
