package msgflow

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/randalmurphal/msgflow/pkg/msgflow/observability"
	"github.com/randalmurphal/msgflow/pkg/msgflow/retry"
)

func newTestDispatcher(r *Registry) *dispatcher {
	return &dispatcher{
		registry: r,
		retry:    retry.Immediate,
		metrics:  observability.NoopMetrics{},
		spans:    observability.NoopSpanManager{},
	}
}

func dispatchText(d *dispatcher, text string) dispatchResult {
	return d.dispatch(envelope{id: "msg-1", msg: TextMessage(text)})
}

func TestDispatch_DependencyOrder(t *testing.T) {
	log := &journal{}
	a, b, c := newRecorder("A", log), newRecorder("B", log), newRecorder("C", log)
	r := NewRegistry(DependencyStrict)
	require.NoError(t, r.Subscribe(always, a, b, c))
	require.NoError(t, r.Subscribe(always, b))
	require.NoError(t, r.Subscribe(always, c, b))

	res := dispatchText(newTestDispatcher(r), "m")

	assert.Equal(t, []string{"B:m", "C:m", "A:m"}, log.list())
	assert.Equal(t, 1, res.groupsMatched)
	assert.Len(t, res.invocations, 3)
	assert.NotEmpty(t, res.dispatchID)
	assert.Equal(t, "msg-1", res.messageID)
}

func TestDispatch_TiesRunInSubscriptionOrder(t *testing.T) {
	log := &journal{}
	r := NewRegistry(DependencyStrict)
	for _, name := range []string{"first", "second", "third"} {
		require.NoError(t, r.Subscribe(always, newRecorder(name, log)))
	}

	dispatchText(newTestDispatcher(r), "m")

	assert.Equal(t, []string{"first:m", "second:m", "third:m"}, log.list())
}

func TestDispatch_DiamondRunsEachOnce(t *testing.T) {
	log := &journal{}
	root, left, right, sink := newRecorder("root", log), newRecorder("left", log), newRecorder("right", log), newRecorder("sink", log)
	r := NewRegistry(DependencyStrict)
	require.NoError(t, r.Subscribe(always, root))
	require.NoError(t, r.Subscribe(always, left, root))
	require.NoError(t, r.Subscribe(always, right, root))
	require.NoError(t, r.Subscribe(always, sink, left, right))

	dispatchText(newTestDispatcher(r), "m")

	assert.Equal(t, []string{"root:m", "left:m", "right:m", "sink:m"}, log.list())
	for _, rec := range []*recorder{root, left, right, sink} {
		assert.Equal(t, int32(1), rec.calls.Load(), rec.name)
	}
}

func TestDispatch_AbsentDependencySkipped(t *testing.T) {
	log := &journal{}
	r := NewRegistry(DependencyDeferred)
	require.NoError(t, r.Subscribe(always, newRecorder("A", log), newRecorder("ghost", nil)))
	require.NoError(t, r.Subscribe(always, newRecorder("B", log), newRecorder("A", nil)))

	dispatchText(newTestDispatcher(r), "m")

	assert.Equal(t, []string{"A:m", "B:m"}, log.list())
}

func TestDispatch_DeferredDependencyHonouredOnceSubscribed(t *testing.T) {
	log := &journal{}
	r := NewRegistry(DependencyDeferred)
	require.NoError(t, r.Subscribe(always, newRecorder("A", log)))
	require.NoError(t, r.Subscribe(always, newRecorder("B", log), newRecorder("C", nil)))
	require.NoError(t, r.Subscribe(always, newRecorder("C", log)))

	dispatchText(newTestDispatcher(r), "m")

	assert.Equal(t, []string{"A:m", "C:m", "B:m"}, log.list())
}

func TestDispatch_SelectiveRouting(t *testing.T) {
	log := &journal{}
	r := NewRegistry(DependencyStrict)
	require.NoError(t, r.Subscribe(MustPatternCondition(".*true.*"), newRecorder("yes", log)))
	require.NoError(t, r.Subscribe(MustPatternCondition(".*false.*"), newRecorder("no", log)))
	d := newTestDispatcher(r)

	res := dispatchText(d, "this is true")
	assert.Equal(t, 1, res.groupsMatched)

	res = dispatchText(d, "nothing here")
	assert.Equal(t, 0, res.groupsMatched)

	assert.Equal(t, []string{"yes:this is true"}, log.list())
}

func TestDispatch_GroupsRunIndependently(t *testing.T) {
	log := &journal{}
	shared := newRecorder("shared", log)
	r := NewRegistry(DependencyStrict)
	require.NoError(t, r.Subscribe(ContainsCondition("a"), shared))
	require.NoError(t, r.Subscribe(ContainsCondition("b"), shared))

	res := dispatchText(newTestDispatcher(r), "ab")

	assert.Equal(t, 2, res.groupsMatched)
	assert.Equal(t, int32(2), shared.calls.Load())
}

func TestDispatch_RetryBound(t *testing.T) {
	tests := []struct {
		name      string
		failUntil int
		wantCalls int32
		abandoned bool
	}{
		{name: "succeeds first time", failUntil: 0, wantCalls: 1},
		{name: "succeeds on third attempt", failUntil: 2, wantCalls: 3},
		{name: "always fails", failUntil: 100, wantCalls: 3, abandoned: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := newRecorder("flaky", nil)
			rec.fail = func(attempt int) error {
				if attempt <= tt.failUntil {
					return errors.New("boom")
				}
				return nil
			}
			r := NewRegistry(DependencyStrict)
			require.NoError(t, r.Subscribe(always, rec))

			var abandoned []Abandoned
			d := newTestDispatcher(r)
			d.onAbandon = func(a Abandoned) { abandoned = append(abandoned, a) }

			res := dispatchText(d, "m")

			assert.Equal(t, tt.wantCalls, rec.calls.Load())
			require.Len(t, res.invocations, 1)
			assert.Equal(t, int(tt.wantCalls), res.invocations[0].attempts)
			if !tt.abandoned {
				assert.NoError(t, res.invocations[0].err)
				assert.Empty(t, abandoned)
				return
			}

			require.Len(t, abandoned, 1)
			assert.Equal(t, "flaky", abandoned[0].Consumer)
			assert.Equal(t, "always", abandoned[0].Condition)
			assert.Equal(t, 3, abandoned[0].Attempts)
			assert.Equal(t, "msg-1", abandoned[0].MessageID)
			assert.Equal(t, res.dispatchID, abandoned[0].DispatchID)
			assert.True(t, Equal(TextMessage("m"), abandoned[0].Message))

			var invErr *InvocationError
			require.ErrorAs(t, abandoned[0].Err, &invErr)
			assert.Equal(t, 3, invErr.Attempts)
		})
	}
}

func TestDispatch_AbandonedDependencyStillUnblocksDependents(t *testing.T) {
	log := &journal{}
	broken := newRecorder("broken", log)
	broken.fail = func(int) error { return errors.New("down") }
	after := newRecorder("after", log)

	r := NewRegistry(DependencyStrict)
	require.NoError(t, r.Subscribe(always, broken))
	require.NoError(t, r.Subscribe(always, after, broken))

	dispatchText(newTestDispatcher(r), "m")

	assert.Equal(t, int32(3), broken.calls.Load())
	assert.Equal(t, []string{"after:m"}, log.list())
}

func TestDispatch_PermanentErrorStopsRetrying(t *testing.T) {
	rec := newRecorder("strict", nil)
	rec.fail = func(int) error { return retry.Permanent(errors.New("bad input")) }
	r := NewRegistry(DependencyStrict)
	require.NoError(t, r.Subscribe(always, rec))

	res := dispatchText(newTestDispatcher(r), "m")

	assert.Equal(t, int32(1), rec.calls.Load())
	require.Len(t, res.invocations, 1)
	assert.Error(t, res.invocations[0].err)
}

func TestDispatch_PanicCountsAsFailedAttempt(t *testing.T) {
	var calls int
	panicky := NewConsumerFunc("panicky", func(context.Context, Message) error {
		calls++
		panic("kaboom")
	})
	log := &journal{}
	r := NewRegistry(DependencyStrict)
	require.NoError(t, r.Subscribe(always, panicky))
	require.NoError(t, r.Subscribe(always, newRecorder("next", log)))

	var abandoned Abandoned
	d := newTestDispatcher(r)
	d.onAbandon = func(a Abandoned) { abandoned = a }

	dispatchText(d, "m")

	assert.Equal(t, 3, calls)
	assert.Equal(t, []string{"next:m"}, log.list())
	var panicErr *PanicError
	require.ErrorAs(t, abandoned.Err, &panicErr)
	assert.Equal(t, "kaboom", panicErr.Value)
	assert.Contains(t, panicErr.Stack, "goroutine")
}

func TestDispatch_PanickingConditionDoesNotMatch(t *testing.T) {
	log := &journal{}
	r := NewRegistry(DependencyStrict)
	bad := NewConditionFunc("bad", func(Message) bool { panic("no") })
	require.NoError(t, r.Subscribe(bad, newRecorder("never", log)))
	require.NoError(t, r.Subscribe(always, newRecorder("ok", log)))

	res := dispatchText(newTestDispatcher(r), "m")

	assert.Equal(t, 1, res.groupsMatched)
	assert.Equal(t, []string{"ok:m"}, log.list())
}

func TestDispatch_ConcurrentDispatchesKeepSeparateState(t *testing.T) {
	log := &journal{}
	r := NewRegistry(DependencyStrict)
	require.NoError(t, r.Subscribe(always, newRecorder("A", log)))
	require.NoError(t, r.Subscribe(always, newRecorder("B", log), newRecorder("A", nil)))
	d := newTestDispatcher(r)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res := dispatchText(d, "m")
			assert.Len(t, res.invocations, 2)
		}()
	}
	wg.Wait()

	assert.Len(t, log.list(), 40)
}

func TestMoveToTop(t *testing.T) {
	a, b, c := &binding{name: "a"}, &binding{name: "b"}, &binding{name: "c"}

	stack := moveToTop([]*binding{a, b, c}, a)
	assert.Equal(t, []*binding{b, c, a}, stack)

	stack = moveToTop(stack, a)
	assert.Equal(t, []*binding{b, c, a}, stack)
}
