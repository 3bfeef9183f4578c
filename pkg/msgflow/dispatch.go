package msgflow

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/randalmurphal/msgflow/pkg/msgflow/observability"
	"github.com/randalmurphal/msgflow/pkg/msgflow/retry"
)

// envelope is a buffered message plus what the dispatch needs to report on it.
type envelope struct {
	id     string
	ticket uint64
	msg    Message
	span   trace.SpanContext
}

// Abandoned describes a consumer invocation given up after its final attempt.
type Abandoned struct {
	MessageID  string
	DispatchID string
	Condition  string
	Consumer   string
	Message    Message
	Attempts   int
	Err        error
	At         time.Time
}

// invocation records one consumer invocation within a dispatch.
type invocation struct {
	condition string
	consumer  string
	attempts  int
	err       error
}

// dispatchResult summarizes the dispatch of one message.
type dispatchResult struct {
	messageID     string
	dispatchID    string
	groupsMatched int
	invocations   []invocation
}

// bindingState is the per-dispatch state of one binding.
type bindingState struct {
	processed bool
	attempts  int
}

// dispatchState holds everything that lives only as long as one dispatch.
// Bindings are shared between concurrent dispatches, so their processed
// flags and attempt counts are kept here, keyed by binding.
type dispatchState struct {
	id       string
	env      envelope
	bindings map[*binding]*bindingState
	result   dispatchResult
	logger   *slog.Logger
}

func (s *dispatchState) state(b *binding) *bindingState {
	st, ok := s.bindings[b]
	if !ok {
		st = &bindingState{}
		s.bindings[b] = st
	}
	return st
}

// dispatcher runs one message against every matching group.
type dispatcher struct {
	registry  *Registry
	retry     retry.Config
	logger    *slog.Logger
	metrics   observability.MetricsRecorder
	spans     observability.SpanManager
	onAbandon func(Abandoned)
}

// dispatch evaluates every group against env's message and runs the
// bindings of each matching group in dependency order. Groups run one after
// another on the calling goroutine.
func (d *dispatcher) dispatch(env envelope) dispatchResult {
	st := &dispatchState{
		id:       uuid.New().String(),
		env:      env,
		bindings: make(map[*binding]*bindingState),
	}
	st.result = dispatchResult{messageID: env.id, dispatchID: st.id}
	st.logger = observability.EnrichLogger(d.logger, env.id, st.id)

	ctx := context.Background()
	if env.span.IsValid() {
		ctx = trace.ContextWithRemoteSpanContext(ctx, env.span)
	}
	ctx, span := d.spans.StartDispatchSpan(ctx, env.id, st.id)
	done := observability.TimedOperation()
	start := time.Now()
	observability.LogDispatchStart(st.logger)

	for _, g := range d.registry.snapshot() {
		bindings := g.load()
		if len(bindings) == 0 {
			continue
		}
		if !d.matches(st, g, env.msg) {
			continue
		}
		st.result.groupsMatched++
		d.runGroup(ctx, st, g, bindings)
	}

	d.metrics.RecordDispatch(ctx, st.result.groupsMatched, time.Since(start))
	observability.LogDispatchComplete(st.logger, done(), st.result.groupsMatched, len(st.result.invocations))
	d.spans.EndSpanWithError(span, nil)
	return st.result
}

// matches tests g's condition. A panicking condition does not match.
func (d *dispatcher) matches(st *dispatchState, g *group, msg Message) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			err := &PanicError{Source: "condition " + g.key, Value: r, Stack: string(debug.Stack())}
			if st.logger != nil {
				st.logger.Error("condition panicked", slog.String("condition", g.key), slog.String("error", err.Error()))
			}
			ok = false
		}
	}()
	return g.cond.Test(msg)
}

// runGroup executes one group's bindings so that every binding runs after
// its dependencies, each exactly once.
//
// Bindings sit on an explicit stack with the earliest subscription on top.
// The top binding runs once all of its dependencies are processed;
// otherwise each unprocessed dependency is moved to the top and visited
// first. Dependencies missing from the group cannot be enforced and are
// skipped.
func (d *dispatcher) runGroup(ctx context.Context, st *dispatchState, g *group, bindings []*binding) {
	index := make(map[string]*binding, len(bindings))
	for _, b := range bindings {
		index[b.name] = b
	}

	stack := make([]*binding, 0, len(bindings))
	for i := len(bindings) - 1; i >= 0; i-- {
		stack = append(stack, bindings[i])
	}

	for len(stack) > 0 {
		top := stack[len(stack)-1]

		ready := true
		for _, name := range top.deps {
			dep, ok := index[name]
			if !ok || st.state(dep).processed {
				continue
			}
			ready = false
			if stack[len(stack)-1] != dep {
				stack = moveToTop(stack, dep)
			}
		}

		if ready {
			d.invoke(ctx, st, g, top)
			stack = stack[:len(stack)-1]
		}
	}
}

// moveToTop removes b from stack and pushes it back on top.
func moveToTop(stack []*binding, b *binding) []*binding {
	for i, s := range stack {
		if s == b {
			stack = append(stack[:i], stack[i+1:]...)
			break
		}
	}
	return append(stack, b)
}

// invoke runs one binding through the retry executor and marks it
// processed whether it succeeded or was abandoned.
func (d *dispatcher) invoke(ctx context.Context, st *dispatchState, g *group, b *binding) {
	ctx, span := d.spans.StartConsumerSpan(ctx, g.key, b.name)
	bs := st.state(b)

	cfg := d.retry
	cfg.OnAttemptError = func(attempt int, err error) {
		bs.attempts = attempt
		observability.LogInvocationFailed(st.logger, b.name, attempt, err)
		d.spans.AddSpanEvent(ctx, "consumer.attempt_failed",
			attribute.Int("attempt", attempt),
			attribute.String("error", err.Error()),
		)
	}

	res := retry.Do(ctx, cfg, func(ctx context.Context) error {
		return safeProcess(ctx, b, st.env.msg)
	})
	bs.attempts = res.Attempts
	bs.processed = true

	var err error
	if res.Err != nil {
		err = &InvocationError{Consumer: b.name, MessageID: st.env.id, Attempts: res.Attempts, Err: res.Err}
		d.abandon(st, g, b, res.Attempts, err)
	}

	d.metrics.RecordInvocation(ctx, b.name, res.Attempts, res.Duration, err)
	st.result.invocations = append(st.result.invocations, invocation{
		condition: g.key,
		consumer:  b.name,
		attempts:  res.Attempts,
		err:       err,
	})
	d.spans.EndSpanWithError(span, err)
}

// abandon reports an exhausted invocation. Nothing is returned to the
// dispatch loop; the next binding runs regardless.
func (d *dispatcher) abandon(st *dispatchState, g *group, b *binding, attempts int, err error) {
	observability.LogAbandoned(st.logger, g.key, b.name, attempts, err)
	if d.onAbandon == nil {
		return
	}
	d.onAbandon(Abandoned{
		MessageID:  st.env.id,
		DispatchID: st.id,
		Condition:  g.key,
		Consumer:   b.name,
		Message:    st.env.msg,
		Attempts:   attempts,
		Err:        err,
		At:         time.Now(),
	})
}

// safeProcess calls the consumer, converting a panic into a failed attempt.
func safeProcess(ctx context.Context, b *binding, msg Message) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &PanicError{
				Source: fmt.Sprintf("consumer %s", b.name),
				Value:  r,
				Stack:  string(debug.Stack()),
			}
		}
	}()
	return b.consumer.Process(ctx, msg)
}
