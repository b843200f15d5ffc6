// Package retry implements the bounded retry of the idempotent reads made
// against the ledger and the cluster.
//
// Only the errors classified as transient are retried. Writes must not be
// wrapped in a policy: a submitted transaction is bound to its nonce and its
// ciphertext and cannot be replayed blindly.
package retry

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/privdao/privdao"
	"github.com/privdao/privdao/ledger"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/xerrors"
)

const (
	// DefaultMaxAttempts is the default ceiling of attempts of an operation.
	DefaultMaxAttempts = 3
	// DefaultBaseDelay is the default delay before the first retry.
	DefaultBaseDelay = 200 * time.Millisecond
	// DefaultMaxDelay is the default upper bound of a delay.
	DefaultMaxDelay = 2 * time.Second
)

var promAttempts = prometheus.NewCounterVec(prometheus.CounterOpts{
	Name: "privdao_retry_attempts_total",
	Help: "attempts of the retried operations, by outcome",
}, []string{"result"})

func init() {
	privdao.PromCollectors = append(privdao.PromCollectors, promAttempts)
}

// Policy is a bounded exponential backoff. The zero value is not usable; use
// NewPolicy.
type Policy struct {
	maxAttempts int
	baseDelay   time.Duration
	maxDelay    time.Duration
	retryable   func(error) bool
}

// Option is the type of option to set some fields of a policy.
type Option func(*Policy)

// WithMaxAttempts sets the ceiling of attempts, the first one included.
func WithMaxAttempts(n int) Option {
	return func(p *Policy) {
		p.maxAttempts = n
	}
}

// WithDelays sets the delay before the first retry and the upper bound of
// the following ones.
func WithDelays(base, max time.Duration) Option {
	return func(p *Policy) {
		p.baseDelay = base
		p.maxDelay = max
	}
}

// WithRetryable sets the predicate of the errors worth another attempt. It
// defaults to the transient errors of the ledger.
func WithRetryable(fn func(error) bool) Option {
	return func(p *Policy) {
		p.retryable = fn
	}
}

// NewPolicy returns a policy with the default bounds, changed by the options.
func NewPolicy(opts ...Option) Policy {
	p := Policy{
		maxAttempts: DefaultMaxAttempts,
		baseDelay:   DefaultBaseDelay,
		maxDelay:    DefaultMaxDelay,
		retryable:   ledger.IsTransient,
	}

	for _, opt := range opts {
		opt(&p)
	}

	if p.maxAttempts < 1 {
		p.maxAttempts = 1
	}

	return p
}

// With returns a copy of the policy changed by the options.
func (p Policy) With(opts ...Option) Policy {
	for _, opt := range opts {
		opt(&p)
	}

	if p.maxAttempts < 1 {
		p.maxAttempts = 1
	}

	return p
}

// MaxAttempts returns the ceiling of attempts.
func (p Policy) MaxAttempts() int {
	return p.maxAttempts
}

// Do runs the operation until it succeeds, fails with an error that is not
// retryable, or exhausts the attempts. The error of the last attempt is
// returned as is.
func (p Policy) Do(ctx context.Context, op func(context.Context) error) error {
	attempt := 0

	err := backoff.RetryNotify(func() error {
		attempt++

		err := op(ctx)
		if err == nil {
			promAttempts.WithLabelValues("success").Inc()
			return nil
		}

		if !p.retryable(err) || ctx.Err() != nil {
			promAttempts.WithLabelValues("permanent").Inc()
			return backoff.Permanent(err)
		}

		promAttempts.WithLabelValues("transient").Inc()

		return err
	}, p.backOff(ctx), func(err error, delay time.Duration) {
		privdao.Logger.Debug().
			Int("attempt", attempt).
			Dur("delay", delay).
			Err(err).
			Msg("retrying")
	})

	var permanent *backoff.PermanentError
	if xerrors.As(err, &permanent) {
		return permanent.Err
	}

	return err
}

func (p Policy) backOff(ctx context.Context) backoff.BackOffContext {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = p.baseDelay
	exp.MaxInterval = p.maxDelay
	exp.Multiplier = 2
	exp.RandomizationFactor = 0.2
	exp.MaxElapsedTime = 0

	return backoff.WithContext(backoff.WithMaxRetries(exp, uint64(p.maxAttempts-1)), ctx)
}

// Get runs the read with the policy and returns its result.
func Get[T any](ctx context.Context, p Policy, read func(context.Context) (T, error)) (T, error) {
	var res T

	err := p.Do(ctx, func(ctx context.Context) error {
		value, err := read(ctx)
		if err != nil {
			return err
		}

		res = value

		return nil
	})

	return res, err
}
