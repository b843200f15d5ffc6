package retry

import (
	"context"
	"testing"
	"time"

	"github.com/privdao/privdao/internal/testing/fake"
	"github.com/privdao/privdao/ledger"
	"github.com/stretchr/testify/require"
	"golang.org/x/xerrors"
)

func TestPolicy_Do(t *testing.T) {
	p := NewPolicy(WithDelays(time.Millisecond, 2*time.Millisecond))
	require.Equal(t, DefaultMaxAttempts, p.MaxAttempts())

	calls := 0
	err := p.Do(context.Background(), func(context.Context) error {
		calls++
		if calls < 3 {
			return ledger.NewTransient(ledger.ClassTimeout, nil)
		}

		return nil
	})
	require.NoError(t, err)
	require.Equal(t, 3, calls)
}

func TestPolicy_Do_LastError(t *testing.T) {
	p := NewPolicy(WithMaxAttempts(4), WithDelays(time.Millisecond, time.Millisecond))

	calls := 0
	err := p.Do(context.Background(), func(context.Context) error {
		calls++
		return ledger.NewTransient(ledger.ClassUnavailable, xerrors.Errorf("attempt %d", calls))
	})
	require.EqualError(t, err, "transient ledger error (unavailable): attempt 4")
	require.Equal(t, 4, calls)
}

func TestPolicy_Do_Permanent(t *testing.T) {
	p := NewPolicy(WithDelays(time.Millisecond, time.Millisecond))

	calls := 0
	err := p.Do(context.Background(), func(context.Context) error {
		calls++
		return fake.GetError()
	})
	require.Equal(t, fake.GetError(), err)
	require.Equal(t, 1, calls)

	calls = 0
	err = p.Do(context.Background(), func(context.Context) error {
		calls++
		return xerrors.Errorf("read: %w", ledger.ErrNotFound)
	})
	require.ErrorIs(t, err, ledger.ErrNotFound)
	require.Equal(t, 1, calls)
}

func TestPolicy_Do_Canceled(t *testing.T) {
	p := NewPolicy(WithDelays(time.Hour, time.Hour))

	ctx, cancel := context.WithCancel(context.Background())

	calls := 0
	err := p.Do(ctx, func(context.Context) error {
		calls++
		cancel()
		return ledger.NewTransient(ledger.ClassTimeout, nil)
	})
	require.Error(t, err)
	require.Equal(t, 1, calls)
}

func TestPolicy_Do_Retryable(t *testing.T) {
	p := NewPolicy(
		WithMaxAttempts(0),
		WithRetryable(func(error) bool { return true }),
	)

	calls := 0
	err := p.Do(context.Background(), func(context.Context) error {
		calls++
		return fake.GetError()
	})
	require.Equal(t, fake.GetError(), err)
	require.Equal(t, 1, calls)
}

func TestGet(t *testing.T) {
	p := NewPolicy(WithDelays(time.Millisecond, time.Millisecond))

	calls := 0
	value, err := Get(context.Background(), p, func(context.Context) (int, error) {
		calls++
		if calls == 1 {
			return 0, ledger.NewTransient(ledger.ClassRateLimited, nil)
		}

		return 42, nil
	})
	require.NoError(t, err)
	require.Equal(t, 42, value)

	_, err = Get(context.Background(), p, func(context.Context) (string, error) {
		return "", fake.GetError()
	})
	require.Equal(t, fake.GetError(), err)
}

func TestPolicy_With(t *testing.T) {
	p := NewPolicy(WithDelays(time.Millisecond, time.Millisecond))

	other := p.With(WithMaxAttempts(0), WithRetryable(ledger.IsNotApplied))
	require.Equal(t, 1, other.MaxAttempts())
	require.Equal(t, DefaultMaxAttempts, p.MaxAttempts())

	calls := 0
	err := p.With(WithRetryable(ledger.IsNotApplied)).Do(context.Background(), func(context.Context) error {
		calls++
		return ledger.NewTransient(ledger.ClassTimeout, nil)
	})
	require.True(t, ledger.IsIndeterminate(err))
	require.Equal(t, 1, calls)
}
