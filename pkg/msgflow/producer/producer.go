// Package producer wraps a queue's Enqueue with a backpressure policy.
//
// The queue never blocks on admission; when its buffer is full Enqueue
// fails with msgflow.ErrBackpressure. A Producer decides what happens next:
// back off and retry (the default), retry immediately, or drop.
package producer

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"

	"github.com/randalmurphal/msgflow/pkg/msgflow"
	"github.com/randalmurphal/msgflow/pkg/msgflow/retry"
)

// Enqueuer is the admission side of a queue.
type Enqueuer interface {
	Enqueue(ctx context.Context, msg msgflow.Message) error
}

// Producer sends messages to an Enqueuer, retrying while it applies
// backpressure. A Producer is safe for concurrent use.
type Producer struct {
	target Enqueuer
	retry  retry.Config
	logger *slog.Logger

	sent    atomic.Int64
	dropped atomic.Int64
}

// Option configures a Producer.
type Option func(*Producer)

// WithBackoff retries with exponential backoff. This is the default, using
// retry.DefaultBackoff.
func WithBackoff(cfg retry.Config) Option {
	return func(p *Producer) {
		p.retry = cfg
	}
}

// WithBusyRetry retries immediately, up to attempts times in total.
func WithBusyRetry(attempts int) Option {
	return func(p *Producer) {
		p.retry = retry.NewConfig(retry.Immediate, retry.WithMaxAttempts(attempts))
	}
}

// WithDrop gives up on the first rejection.
func WithDrop() Option {
	return func(p *Producer) {
		p.retry = retry.NoRetry
	}
}

// WithLogger logs dropped messages at debug level.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Producer) {
		p.logger = logger
	}
}

// New creates a Producer for target.
func New(target Enqueuer, opts ...Option) *Producer {
	p := &Producer{
		target: target,
		retry:  retry.DefaultBackoff,
	}
	for _, opt := range opts {
		opt(p)
	}
	// Only backpressure is worth retrying.
	p.retry.RetryableFunc = func(err error) bool {
		return errors.Is(err, msgflow.ErrBackpressure)
	}
	p.retry.OnAttemptError = nil
	return p
}

// Send enqueues msg, retrying according to the producer's policy while the
// queue applies backpressure. It returns msgflow.ErrBackpressure if every
// attempt was rejected, the context error if ctx ends first, and any other
// Enqueue error (e.g. msgflow.ErrClosed) without retrying.
func (p *Producer) Send(ctx context.Context, msg msgflow.Message) error {
	res := retry.Do(ctx, p.retry, func(ctx context.Context) error {
		return p.target.Enqueue(ctx, msg)
	})
	if res.Err == nil {
		p.sent.Add(1)
		return nil
	}

	p.dropped.Add(1)
	if p.logger != nil {
		p.logger.Debug("message dropped",
			slog.Int("attempts", res.Attempts),
			slog.String("error", res.Err.Error()),
		)
	}

	var cerr *retry.CategorizedError
	if errors.As(res.Err, &cerr) && cerr.Err != nil {
		return cerr.Err
	}
	return res.Err
}

// SendAll sends msgs in order and stops at the first failure. It returns
// the number of messages admitted.
func (p *Producer) SendAll(ctx context.Context, msgs ...msgflow.Message) (int, error) {
	for i, msg := range msgs {
		if err := p.Send(ctx, msg); err != nil {
			return i, err
		}
	}
	return len(msgs), nil
}

// Sent returns the number of messages admitted.
func (p *Producer) Sent() int64 {
	return p.sent.Load()
}

// Dropped returns the number of messages given up on.
func (p *Producer) Dropped() int64 {
	return p.dropped.Load()
}
