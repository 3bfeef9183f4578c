package msgflow

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// Test helpers shared across tests

// journal records consumer invocations in the order they happen.
type journal struct {
	mu      sync.Mutex
	entries []string
}

func (j *journal) add(entry string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.entries = append(j.entries, entry)
}

func (j *journal) list() []string {
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]string(nil), j.entries...)
}

// recorder is a consumer that records every message it processes.
type recorder struct {
	name  string
	log   *journal
	calls atomic.Int32
	fail  func(attempt int) error
}

func newRecorder(name string, log *journal) *recorder {
	return &recorder{name: name, log: log}
}

func (r *recorder) Name() string { return r.name }

func (r *recorder) Process(_ context.Context, msg Message) error {
	n := int(r.calls.Add(1))
	if r.fail != nil {
		if err := r.fail(n); err != nil {
			return err
		}
	}
	if r.log != nil {
		r.log.add(r.name + ":" + msg.String())
	}
	return nil
}

// gate is a consumer that blocks until released.
type gate struct {
	name    string
	started chan struct{}
	release chan struct{}
	once    sync.Once
}

func newGate(name string) *gate {
	return &gate{
		name:    name,
		started: make(chan struct{}, 64),
		release: make(chan struct{}),
	}
}

func (g *gate) Name() string { return g.name }

func (g *gate) Process(_ context.Context, _ Message) error {
	g.started <- struct{}{}
	<-g.release
	return nil
}

func (g *gate) open() {
	g.once.Do(func() { close(g.release) })
}

// always matches every message.
var always = NewConditionFunc("always", func(Message) bool { return true })

// idleWithin waits for the queue to go idle or fails the test.
func idleWithin(t *testing.T, q *Queue, d time.Duration) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), d)
	defer cancel()
	require.NoError(t, q.WaitForIdle(ctx))
}

// closeQueue closes q at the end of the test.
func closeQueue(t *testing.T, q *Queue) {
	t.Helper()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = q.Close(ctx)
	})
}
