package msgflow

import (
	"context"
	"sync"
)

// ledger tracks admitted messages until their dispatch completes.
//
// Each admission takes the next ticket. Wait blocks until every ticket
// issued before the call is done, so messages admitted while waiting do not
// extend the wait.
type ledger struct {
	mu          sync.Mutex
	next        uint64
	outstanding map[uint64]struct{}
	waiters     []ledgerWaiter
}

type ledgerWaiter struct {
	upTo uint64
	ch   chan struct{}
}

func newLedger() *ledger {
	return &ledger{outstanding: make(map[uint64]struct{})}
}

// Add issues a ticket for a newly admitted message.
func (l *ledger) Add() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.next++
	l.outstanding[l.next] = struct{}{}
	return l.next
}

// Done retires a ticket and releases waiters whose tickets are all retired.
func (l *ledger) Done(ticket uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()

	delete(l.outstanding, ticket)
	l.release()
}

// Wait blocks until every ticket issued so far is done, or ctx ends.
func (l *ledger) Wait(ctx context.Context) error {
	l.mu.Lock()
	if len(l.outstanding) == 0 {
		l.mu.Unlock()
		return nil
	}
	w := ledgerWaiter{upTo: l.next, ch: make(chan struct{})}
	l.waiters = append(l.waiters, w)
	l.mu.Unlock()

	select {
	case <-w.ch:
		return nil
	case <-ctx.Done():
		l.mu.Lock()
		for i, other := range l.waiters {
			if other.ch == w.ch {
				l.waiters = append(l.waiters[:i], l.waiters[i+1:]...)
				break
			}
		}
		l.mu.Unlock()
		return ctx.Err()
	}
}

// Pending returns the number of outstanding tickets.
func (l *ledger) Pending() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.outstanding)
}

// release must be called with mu held.
func (l *ledger) release() {
	if len(l.waiters) == 0 {
		return
	}

	low := l.next + 1
	for t := range l.outstanding {
		if t < low {
			low = t
		}
	}

	kept := l.waiters[:0]
	for _, w := range l.waiters {
		if low > w.upTo {
			close(w.ch)
			continue
		}
		kept = append(kept, w)
	}
	l.waiters = kept
}
