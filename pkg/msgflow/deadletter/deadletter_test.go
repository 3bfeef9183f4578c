package deadletter

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"golang.org/x/sync/errgroup"

	"github.com/randalmurphal/msgflow/pkg/msgflow"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func abandoned(consumer, text string) msgflow.Abandoned {
	return msgflow.Abandoned{
		MessageID: "msg-" + text,
		Consumer:  consumer,
		Condition: "always",
		Message:   msgflow.TextMessage(text),
		Attempts:  3,
		Err:       errors.New("down"),
		At:        time.Now(),
	}
}

func TestStore_RecordAndList(t *testing.T) {
	s := New(Config{})

	s.Record(abandoned("A", "one"))
	s.Record(abandoned("B", "two"))
	s.Record(abandoned("A", "three"))

	assert.Equal(t, 3, s.Len())

	all := s.List(0)
	require.Len(t, all, 3)
	assert.Equal(t, "msg-one", all[0].MessageID)
	assert.Equal(t, "msg-three", all[2].MessageID)
	assert.NotEmpty(t, all[0].ID)

	assert.Len(t, s.List(2), 2)

	byA := s.ListByConsumer("A")
	require.Len(t, byA, 2)
	assert.Equal(t, "msg-one", byA[0].MessageID)
	assert.Empty(t, s.ListByConsumer("missing"))
}

func TestStore_EvictsOldestWhenFull(t *testing.T) {
	var evicted []string
	s := New(Config{
		MaxSize: 2,
		OnEvict: func(e Entry) { evicted = append(evicted, e.MessageID) },
	})

	s.Record(abandoned("A", "one"))
	s.Record(abandoned("A", "two"))
	s.Record(abandoned("A", "three"))

	assert.Equal(t, []string{"msg-one"}, evicted)
	list := s.List(0)
	require.Len(t, list, 2)
	assert.Equal(t, "msg-two", list[0].MessageID)

	stats := s.Stats()
	assert.Equal(t, 2, stats.Size)
	assert.Equal(t, int64(3), stats.Recorded)
	assert.Equal(t, int64(1), stats.Evicted)
}

func TestStore_GetAndRemove(t *testing.T) {
	var recorded Entry
	s := New(Config{OnRecord: func(e Entry) { recorded = e }})
	s.Record(abandoned("A", "one"))

	got, err := s.Get(recorded.ID)
	require.NoError(t, err)
	assert.Equal(t, "A", got.Consumer)

	require.NoError(t, s.Remove(recorded.ID))
	assert.ErrorIs(t, s.Remove(recorded.ID), ErrNotFound)
	_, err = s.Get(recorded.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, 0, s.Len())
}

type fakeEnqueuer struct {
	err  error
	msgs []msgflow.Message
}

func (f *fakeEnqueuer) Enqueue(_ context.Context, msg msgflow.Message) error {
	if f.err != nil {
		return f.err
	}
	f.msgs = append(f.msgs, msg)
	return nil
}

func TestStore_Redeliver(t *testing.T) {
	s := New(Config{})
	s.Record(abandoned("A", "one"))
	id := s.List(0)[0].ID

	rejecting := &fakeEnqueuer{err: msgflow.ErrBackpressure}
	assert.ErrorIs(t, s.Redeliver(context.Background(), id, rejecting), msgflow.ErrBackpressure)
	assert.Equal(t, 1, s.Len(), "entry kept when enqueue fails")

	q := &fakeEnqueuer{}
	require.NoError(t, s.Redeliver(context.Background(), id, q))
	require.Len(t, q.msgs, 1)
	assert.Equal(t, "one", q.msgs[0].String())
	assert.Equal(t, 0, s.Len())
	assert.Equal(t, int64(1), s.Stats().Redelivered)

	assert.ErrorIs(t, s.Redeliver(context.Background(), id, q), ErrNotFound)
}

// countingEnqueuer accepts every message and counts them.
type countingEnqueuer struct{ n atomic.Int32 }

func (c *countingEnqueuer) Enqueue(context.Context, msgflow.Message) error {
	c.n.Add(1)
	return nil
}

func TestStore_RedeliverConcurrentDeliversOnce(t *testing.T) {
	s := New(Config{})
	s.Record(abandoned("A", "one"))
	id := s.List(0)[0].ID

	q := &countingEnqueuer{}
	var found atomic.Int32
	var g errgroup.Group
	for range 16 {
		g.Go(func() error {
			err := s.Redeliver(context.Background(), id, q)
			if err == nil {
				found.Add(1)
				return nil
			}
			if errors.Is(err, ErrNotFound) {
				return nil
			}
			return err
		})
	}
	require.NoError(t, g.Wait())

	assert.Equal(t, int32(1), q.n.Load())
	assert.Equal(t, int32(1), found.Load())
	assert.Equal(t, int64(1), s.Stats().Redelivered)
	assert.Equal(t, 0, s.Len())
}

func TestStore_RedeliverFailureKeepsPosition(t *testing.T) {
	s := New(Config{})
	s.Record(abandoned("A", "one"))
	s.Record(abandoned("A", "two"))
	s.Record(abandoned("A", "three"))
	middle := s.List(0)[1].ID

	rejecting := &fakeEnqueuer{err: msgflow.ErrBackpressure}
	require.ErrorIs(t, s.Redeliver(context.Background(), middle, rejecting), msgflow.ErrBackpressure)

	entries := s.List(0)
	require.Len(t, entries, 3)
	assert.Equal(t, middle, entries[1].ID)
	assert.Equal(t, "two", entries[1].Message.String())
	assert.Equal(t, int64(0), s.Stats().Redelivered)
}

func TestStore_AsAbandonHandler(t *testing.T) {
	s := New(Config{})
	q := msgflow.New(msgflow.WithAbandonHandler(s.Record), msgflow.WithMaxAttempts(2))
	defer func() { require.NoError(t, q.Close(context.Background())) }()

	var healthy atomic.Bool
	flaky := msgflow.NewConsumerFunc("flaky", func(context.Context, msgflow.Message) error {
		if healthy.Load() {
			return nil
		}
		return errors.New("down")
	})
	require.NoError(t, q.Subscribe(msgflow.ContainsCondition("order"), flaky))

	require.NoError(t, q.Enqueue(context.Background(), msgflow.TextMessage("order-1")))
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, q.WaitForIdle(ctx))

	entries := s.List(0)
	require.Len(t, entries, 1)
	assert.Equal(t, "flaky", entries[0].Consumer)
	assert.Equal(t, "contains:order", entries[0].Condition)
	assert.Equal(t, 2, entries[0].Attempts)

	healthy.Store(true)
	require.NoError(t, s.Redeliver(ctx, entries[0].ID, q))
	require.NoError(t, q.WaitForIdle(ctx))
	assert.Equal(t, 0, s.Len())
}
