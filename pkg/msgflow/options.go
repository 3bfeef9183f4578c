package msgflow

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/randalmurphal/msgflow/pkg/msgflow/config"
	"github.com/randalmurphal/msgflow/pkg/msgflow/observability"
	"github.com/randalmurphal/msgflow/pkg/msgflow/retry"
)

// Defaults used by New.
const (
	DefaultCapacity    = 10
	DefaultWorkers     = 2
	DefaultMaxAttempts = 3
)

// queueConfig holds configuration for a Queue.
type queueConfig struct {
	capacity  int
	workers   int
	retry     retry.Config
	policy    DependencyPolicy
	logger    *slog.Logger
	metrics   observability.MetricsRecorder
	spans     observability.SpanManager
	onAbandon func(Abandoned)
}

// defaultQueueConfig returns the default queue configuration.
func defaultQueueConfig() queueConfig {
	return queueConfig{
		capacity: DefaultCapacity,
		workers:  DefaultWorkers,
		retry:    retry.NewConfig(retry.Immediate, retry.WithMaxAttempts(DefaultMaxAttempts)),
		policy:   DependencyStrict,
		metrics:  observability.NoopMetrics{},
		spans:    observability.NoopSpanManager{},
	}
}

// Option configures a Queue.
type Option func(*queueConfig)

// WithCapacity sets the admission buffer capacity.
// Default: 10
//
// Enqueue returns ErrBackpressure while this many messages are admitted
// and not yet picked up by a worker.
func WithCapacity(n int) Option {
	return func(c *queueConfig) {
		if n > 0 {
			c.capacity = n
		}
	}
}

// WithWorkers sets the number of dispatch workers.
// Default: 2
func WithWorkers(n int) Option {
	return func(c *queueConfig) {
		if n > 0 {
			c.workers = n
		}
	}
}

// WithMaxAttempts sets how many times a consumer is called for one message
// before the invocation is abandoned.
// Default: 3
func WithMaxAttempts(n int) Option {
	return func(c *queueConfig) {
		if n > 0 {
			c.retry.MaxAttempts = n
		}
	}
}

// WithRetryConfig replaces the consumer retry policy, e.g. to add backoff
// between attempts. OnAttemptError is owned by the queue and is ignored.
func WithRetryConfig(cfg retry.Config) Option {
	return func(c *queueConfig) {
		cfg.OnAttemptError = nil
		c.retry = cfg
	}
}

// WithBackoff waits between consumer attempts, starting at initial and
// doubling up to ceiling. A zero ceiling leaves the delay uncapped.
// Default: no delay
func WithBackoff(initial, ceiling time.Duration) Option {
	return func(c *queueConfig) {
		if initial < 0 || ceiling < 0 {
			return
		}
		c.retry.InitialBackoff = initial
		c.retry.MaxBackoff = ceiling
		if c.retry.BackoffFactor == 0 {
			c.retry.BackoffFactor = 2
		}
	}
}

// WithDependencyPolicy sets how Subscribe treats dependencies that are not
// subscribed under the same condition.
// Default: DependencyStrict
func WithDependencyPolicy(p DependencyPolicy) Option {
	return func(c *queueConfig) {
		c.policy = p
	}
}

// WithLogger enables structured logging.
// Subscriptions, dispatches and abandoned invocations are logged;
// per-dispatch records carry message_id and dispatch_id.
//
// Example:
//
//	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
//	q := msgflow.New(msgflow.WithLogger(logger))
func WithLogger(logger *slog.Logger) Option {
	return func(c *queueConfig) {
		c.logger = logger
	}
}

// WithMetrics enables OpenTelemetry metrics.
//
// Metrics recorded:
//   - msgflow.messages.enqueued (counter, accepted attr)
//   - msgflow.dispatches (counter)
//   - msgflow.dispatch.latency_ms (histogram)
//   - msgflow.consumer.invocations (counter, outcome attr)
//   - msgflow.consumer.abandoned (counter)
func WithMetrics(enabled bool) Option {
	return func(c *queueConfig) {
		if enabled {
			c.metrics = observability.NewMetricsRecorder()
		} else {
			c.metrics = observability.NoopMetrics{}
		}
	}
}

// WithTracing enables OpenTelemetry tracing.
//
// Each dispatch gets a span, parented to the span active when the message
// was enqueued; each consumer invocation gets a child span.
func WithTracing(enabled bool) Option {
	return func(c *queueConfig) {
		if enabled {
			c.spans = observability.NewSpanManager()
		} else {
			c.spans = observability.NoopSpanManager{}
		}
	}
}

// WithMetricsRecorder sets a custom metrics recorder.
func WithMetricsRecorder(m observability.MetricsRecorder) Option {
	return func(c *queueConfig) {
		if m != nil {
			c.metrics = m
		}
	}
}

// WithSpanManager sets a custom span manager.
func WithSpanManager(s observability.SpanManager) Option {
	return func(c *queueConfig) {
		if s != nil {
			c.spans = s
		}
	}
}

// WithAbandonHandler registers fn to be called, on the dispatching worker,
// for every invocation abandoned after its final attempt.
// fn must not block for long; the worker waits for it.
func WithAbandonHandler(fn func(Abandoned)) Option {
	return func(c *queueConfig) {
		c.onAbandon = fn
	}
}

// OptionsFromConfig translates configuration keys into queue options.
// Missing keys keep their defaults. When cfg has a msgflow section, the
// keys are read from that section instead.
//
// Example:
//
//	cfg, err := config.FromFile("msgflow.yaml")
//	cfg, err = config.ApplyEnv(cfg)
//	opts, err := msgflow.OptionsFromConfig(cfg)
//	q := msgflow.New(opts...)
func OptionsFromConfig(cfg config.Config) ([]Option, error) {
	var opts []Option

	if cfg.Has(config.Section) {
		cfg = cfg.Sub(config.Section)
	}

	if cfg.Has(config.KeyCapacity) {
		n := cfg.Int(config.KeyCapacity, 0)
		if n < 1 {
			return nil, fmt.Errorf("%s must be positive, got %v", config.KeyCapacity, cfg.Raw()[config.KeyCapacity])
		}
		opts = append(opts, WithCapacity(n))
	}
	if cfg.Has(config.KeyWorkers) {
		n := cfg.Int(config.KeyWorkers, 0)
		if n < 1 {
			return nil, fmt.Errorf("%s must be positive, got %v", config.KeyWorkers, cfg.Raw()[config.KeyWorkers])
		}
		opts = append(opts, WithWorkers(n))
	}
	if cfg.Has(config.KeyMaxAttempts) {
		n := cfg.Int(config.KeyMaxAttempts, 0)
		if n < 1 {
			return nil, fmt.Errorf("%s must be positive, got %v", config.KeyMaxAttempts, cfg.Raw()[config.KeyMaxAttempts])
		}
		opts = append(opts, WithMaxAttempts(n))
	}
	if cfg.Has(config.KeyDependencyPolicy) {
		p, err := ParseDependencyPolicy(cfg.String(config.KeyDependencyPolicy, ""))
		if err != nil {
			return nil, fmt.Errorf("%s: %w", config.KeyDependencyPolicy, err)
		}
		opts = append(opts, WithDependencyPolicy(p))
	}
	if cfg.Has(config.KeyInitialBackoff) || cfg.Has(config.KeyMaxBackoff) {
		initial, err := backoffSetting(cfg, config.KeyInitialBackoff)
		if err != nil {
			return nil, err
		}
		ceiling, err := backoffSetting(cfg, config.KeyMaxBackoff)
		if err != nil {
			return nil, err
		}
		opts = append(opts, WithBackoff(initial, ceiling))
	}

	return opts, nil
}

// backoffSetting reads a non-negative duration; a missing key is zero.
func backoffSetting(cfg config.Config, key string) (time.Duration, error) {
	if !cfg.Has(key) {
		return 0, nil
	}
	d := cfg.Duration(key, -1)
	if d < 0 {
		return 0, fmt.Errorf("%s must be a non-negative duration, got %v", key, cfg.Raw()[key])
	}
	return d, nil
}
