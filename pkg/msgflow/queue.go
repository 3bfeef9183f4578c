package msgflow

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"

	"github.com/randalmurphal/msgflow/pkg/msgflow/observability"
)

// Queue admits messages into a bounded buffer and dispatches each one to
// the consumers subscribed under matching conditions.
//
// Enqueue and Subscribe never block on dispatch. Messages are picked up by
// a fixed pool of workers; one worker runs one message's dispatch from
// start to finish, so different messages may be dispatched concurrently.
//
// A Queue is safe for concurrent use.
type Queue struct {
	cfg        queueConfig
	registry   *Registry
	dispatcher *dispatcher
	buffer     *Buffer[envelope]
	ledger     *ledger

	// mu guards closed and the send side of tasks.
	mu     sync.RWMutex
	closed bool
	tasks  chan struct{}

	workers sync.WaitGroup
	done    chan struct{}
}

// New creates a Queue and starts its workers.
//
// Example:
//
//	q := msgflow.New(msgflow.WithCapacity(100), msgflow.WithWorkers(4))
//	defer q.Close(context.Background())
func New(opts ...Option) *Queue {
	cfg := defaultQueueConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	registry := NewRegistry(cfg.policy)
	q := &Queue{
		cfg:      cfg,
		registry: registry,
		dispatcher: &dispatcher{
			registry:  registry,
			retry:     cfg.retry,
			logger:    cfg.logger,
			metrics:   cfg.metrics,
			spans:     cfg.spans,
			onAbandon: cfg.onAbandon,
		},
		buffer: NewBuffer[envelope](cfg.capacity),
		ledger: newLedger(),
		// Pending tasks never outnumber buffered messages, so sends on
		// tasks never block.
		tasks: make(chan struct{}, cfg.capacity),
		done:  make(chan struct{}),
	}

	for i := 0; i < cfg.workers; i++ {
		q.workers.Add(1)
		go q.work()
	}
	go func() {
		q.workers.Wait()
		close(q.done)
	}()

	return q
}

// Enqueue admits msg for dispatch and returns immediately.
//
// It returns ErrBackpressure if the buffer is full, ErrClosed after Close,
// and ErrNilMessage for a nil message. In every error case nothing is
// admitted. The span active in ctx, if any, becomes the parent of the
// message's dispatch span.
func (q *Queue) Enqueue(ctx context.Context, msg Message) error {
	if msg == nil {
		return ErrNilMessage
	}

	env := envelope{
		id:   uuid.New().String(),
		msg:  msg,
		span: trace.SpanContextFromContext(ctx),
	}

	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.closed {
		return ErrClosed
	}

	env.ticket = q.ledger.Add()
	if err := q.buffer.Push(env); err != nil {
		q.ledger.Done(env.ticket)
		q.cfg.metrics.RecordEnqueue(ctx, false)
		observability.LogBackpressure(q.cfg.logger, q.buffer.Cap())
		return err
	}

	q.tasks <- struct{}{}
	q.cfg.metrics.RecordEnqueue(ctx, true)
	return nil
}

// Subscribe registers consumer under cond, to run after deps whenever a
// message matches cond. Subscribing is safe while messages are being
// dispatched; a dispatch already in progress may or may not see the new
// binding. On error the condition's group is unchanged and the error is a
// *SubscriptionError wrapping one of ErrCycle, ErrUnresolvableDependency,
// ErrDuplicateConsumer, ErrNilConsumer or ErrNilCondition.
func (q *Queue) Subscribe(cond Condition, consumer Consumer, deps ...Consumer) error {
	err := q.registry.Subscribe(cond, consumer, deps...)

	key := ""
	if cond != nil {
		key = cond.Key()
	}
	q.cfg.metrics.RecordSubscription(context.Background(), key, err)

	if err != nil {
		observability.LogSubscribeRejected(q.cfg.logger, key, consumerName(consumer), err)
		return err
	}

	names := make([]string, len(deps))
	for i, d := range deps {
		names[i] = d.Name()
	}
	observability.LogSubscribe(q.cfg.logger, key, consumer.Name(), names)
	return nil
}

// WaitForIdle blocks until every message admitted before the call has been
// dispatched, or ctx ends.
func (q *Queue) WaitForIdle(ctx context.Context) error {
	return q.ledger.Wait(ctx)
}

// Close stops admission and waits for the workers to dispatch every
// admitted message. If ctx ends first, Close returns ctx.Err() and the
// workers keep draining in the background. Close is idempotent.
func (q *Queue) Close(ctx context.Context) error {
	q.mu.Lock()
	if !q.closed {
		q.closed = true
		close(q.tasks)
	}
	q.mu.Unlock()

	select {
	case <-q.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Len returns the number of admitted messages not yet picked up by a worker.
func (q *Queue) Len() int {
	return q.buffer.Len()
}

// Capacity returns the buffer capacity.
func (q *Queue) Capacity() int {
	return q.buffer.Cap()
}

// Pending returns the number of admitted messages whose dispatch has not
// completed.
func (q *Queue) Pending() int {
	return q.ledger.Pending()
}

// Registry returns the queue's subscription registry.
func (q *Queue) Registry() *Registry {
	return q.registry
}

// work dispatches messages until tasks is closed and drained.
func (q *Queue) work() {
	defer q.workers.Done()

	for range q.tasks {
		env, ok := q.buffer.Pop()
		if !ok {
			continue
		}
		q.dispatcher.dispatch(env)
		q.ledger.Done(env.ticket)
	}
}
