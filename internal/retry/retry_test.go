package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDo_SucceedsFirstTry(t *testing.T) {
	calls := 0
	err := Do(context.Background(), 3, time.Millisecond, func() error {
		calls++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestDo_RetriesUntilSuccess(t *testing.T) {
	calls := 0
	err := Do(context.Background(), 3, time.Millisecond, func() error {
		calls++
		if calls < 3 {
			return errors.New("connection reset")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestDo_ReturnsLastError(t *testing.T) {
	sentinel := errors.New("scorer down")
	calls := 0
	err := Do(context.Background(), 2, time.Millisecond, func() error {
		calls++
		return sentinel
	})
	assert.ErrorIs(t, err, sentinel)
	assert.Equal(t, 2, calls)
}

func TestDo_PermanentStops(t *testing.T) {
	sentinel := errors.New("bad request")
	calls := 0
	err := Do(context.Background(), 5, time.Millisecond, func() error {
		calls++
		return Permanent(sentinel)
	})
	assert.Equal(t, sentinel, err)
	assert.Equal(t, 1, calls)
}

func TestDo_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err := Do(ctx, 5, 50*time.Millisecond, func() error {
		calls++
		cancel()
		return errors.New("transient")
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}

func TestDo_ZeroAttemptsRunsOnce(t *testing.T) {
	calls := 0
	_ = Do(context.Background(), 0, time.Millisecond, func() error {
		calls++
		return errors.New("x")
	})
	assert.Equal(t, 1, calls)
}

func TestDoIf_SkipsNonRetryable(t *testing.T) {
	retryable := errors.New("serialization failure")
	fatal := errors.New("constraint violation")

	calls := 0
	err := DoIf(context.Background(), 4, time.Millisecond,
		func(err error) bool { return errors.Is(err, retryable) },
		func() error {
			calls++
			if calls == 1 {
				return retryable
			}
			return fatal
		})
	assert.ErrorIs(t, err, fatal)
	assert.Equal(t, 2, calls)
}

func TestPermanent_NilAndUnwrap(t *testing.T) {
	assert.NoError(t, Permanent(nil))

	inner := errors.New("inner")
	var pe *PermanentError
	require.True(t, errors.As(Permanent(inner), &pe))
	assert.ErrorIs(t, pe, inner)
	assert.Equal(t, "inner", pe.Error())
}

func TestJittered_Bounds(t *testing.T) {
	for i := 0; i < 50; i++ {
		d := jittered(100 * time.Millisecond)
		assert.GreaterOrEqual(t, d, 75*time.Millisecond)
		assert.LessOrEqual(t, d, 125*time.Millisecond)
	}
	assert.Equal(t, time.Duration(0), jittered(0))
}
