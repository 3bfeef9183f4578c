package producer

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/randalmurphal/msgflow/pkg/msgflow"
	"github.com/randalmurphal/msgflow/pkg/msgflow/retry"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// scriptedEnqueuer returns the scripted errors in order, then nil.
type scriptedEnqueuer struct {
	mu       sync.Mutex
	errs     []error
	calls    int
	admitted []msgflow.Message
}

func (s *scriptedEnqueuer) Enqueue(_ context.Context, msg msgflow.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if len(s.errs) > 0 {
		err := s.errs[0]
		s.errs = s.errs[1:]
		if err != nil {
			return err
		}
	}
	s.admitted = append(s.admitted, msg)
	return nil
}

func rejections(n int) []error {
	errs := make([]error, n)
	for i := range errs {
		errs[i] = msgflow.ErrBackpressure
	}
	return errs
}

func TestSend_RetriesThroughBackpressure(t *testing.T) {
	target := &scriptedEnqueuer{errs: rejections(3)}
	p := New(target, WithBusyRetry(5))

	require.NoError(t, p.Send(context.Background(), msgflow.TextMessage("m")))

	assert.Equal(t, 4, target.calls)
	assert.Equal(t, int64(1), p.Sent())
	assert.Equal(t, int64(0), p.Dropped())
}

func TestSend_GivesUpAfterAttempts(t *testing.T) {
	target := &scriptedEnqueuer{errs: rejections(10)}
	p := New(target, WithBusyRetry(4))

	err := p.Send(context.Background(), msgflow.TextMessage("m"))

	assert.ErrorIs(t, err, msgflow.ErrBackpressure)
	assert.Equal(t, 4, target.calls)
	assert.Equal(t, int64(1), p.Dropped())
}

func TestSend_DropPolicy(t *testing.T) {
	target := &scriptedEnqueuer{errs: rejections(1)}
	p := New(target, WithDrop())

	assert.ErrorIs(t, p.Send(context.Background(), msgflow.TextMessage("m")), msgflow.ErrBackpressure)
	assert.Equal(t, 1, target.calls)
}

func TestSend_OtherErrorsNotRetried(t *testing.T) {
	target := &scriptedEnqueuer{errs: []error{msgflow.ErrClosed}}
	p := New(target)

	assert.ErrorIs(t, p.Send(context.Background(), msgflow.TextMessage("m")), msgflow.ErrClosed)
	assert.Equal(t, 1, target.calls)
}

func TestSend_BackoffHonoursContext(t *testing.T) {
	target := &scriptedEnqueuer{errs: rejections(1000)}
	cfg := retry.NewConfig(retry.DefaultBackoff,
		retry.WithMaxAttempts(1000),
		retry.WithInitialBackoff(5*time.Millisecond),
		retry.WithMaxBackoff(5*time.Millisecond),
	)
	p := New(target, WithBackoff(cfg))

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	err := p.Send(ctx, msgflow.TextMessage("m"))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, target.calls, 1000)
}

func TestSendAll_StopsAtFirstFailure(t *testing.T) {
	target := &scriptedEnqueuer{errs: []error{nil, msgflow.ErrClosed}}
	p := New(target)

	n, err := p.SendAll(context.Background(),
		msgflow.TextMessage("a"), msgflow.TextMessage("b"), msgflow.TextMessage("c"))

	assert.Equal(t, 1, n)
	assert.ErrorIs(t, err, msgflow.ErrClosed)
	require.Len(t, target.admitted, 1)
	assert.Equal(t, "a", target.admitted[0].String())
}

func TestProducer_AgainstQueue(t *testing.T) {
	var (
		mu   sync.Mutex
		seen int
	)
	q := msgflow.New(msgflow.WithCapacity(2), msgflow.WithWorkers(1))
	defer func() { require.NoError(t, q.Close(context.Background())) }()

	counter := msgflow.NewConsumerFunc("count", func(context.Context, msgflow.Message) error {
		time.Sleep(time.Millisecond)
		mu.Lock()
		seen++
		mu.Unlock()
		return nil
	})
	require.NoError(t, q.Subscribe(msgflow.ContainsCondition(""), counter))

	p := New(q)
	for i := 0; i < 20; i++ {
		require.NoError(t, p.Send(context.Background(), msgflow.TextMessage("m")))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, q.WaitForIdle(ctx))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 20, seen)
	assert.Equal(t, int64(20), p.Sent())
}
