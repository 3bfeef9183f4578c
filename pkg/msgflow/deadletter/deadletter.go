// Package deadletter keeps consumer invocations the queue gave up on.
//
// Register a Store's Record method as the queue's abandon handler:
//
//	dlq := deadletter.New(deadletter.Config{MaxSize: 1000})
//	q := msgflow.New(msgflow.WithAbandonHandler(dlq.Record))
//
// Entries can be inspected, removed, or redelivered to a queue once the
// failing consumer has recovered.
package deadletter

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"

	"github.com/randalmurphal/msgflow/pkg/msgflow"
)

// ErrNotFound indicates no entry has the given ID.
var ErrNotFound = errors.New("dead letter not found")

// Entry is one abandoned invocation.
type Entry struct {
	ID string
	msgflow.Abandoned
}

// Config configures a Store.
type Config struct {
	// MaxSize limits the number of entries kept.
	// Default: 10000
	MaxSize int

	// OnRecord is called after an entry is stored.
	OnRecord func(Entry)

	// OnEvict is called when a full store discards its oldest entry.
	OnEvict func(Entry)
}

// DefaultConfig provides reasonable defaults.
var DefaultConfig = Config{
	MaxSize: 10000,
}

// Store is an in-memory, bounded dead letter store. It is safe for
// concurrent use.
type Store struct {
	mu      sync.RWMutex
	order   []string
	entries map[string]*Entry
	cfg     Config

	recorded    int64
	evicted     int64
	redelivered int64
}

// New creates an empty Store.
func New(cfg Config) *Store {
	if cfg.MaxSize <= 0 {
		cfg.MaxSize = DefaultConfig.MaxSize
	}
	return &Store{
		entries: make(map[string]*Entry),
		cfg:     cfg,
	}
}

// Record stores an abandoned invocation. When the store is full the oldest
// entry is evicted. Record has the signature msgflow.WithAbandonHandler
// expects.
func (s *Store) Record(a msgflow.Abandoned) {
	entry := &Entry{ID: uuid.New().String(), Abandoned: a}

	s.mu.Lock()
	var evicted *Entry
	if len(s.order) >= s.cfg.MaxSize {
		oldest := s.order[0]
		s.order = s.order[1:]
		evicted = s.entries[oldest]
		delete(s.entries, oldest)
		s.evicted++
	}
	s.order = append(s.order, entry.ID)
	s.entries[entry.ID] = entry
	s.recorded++
	s.mu.Unlock()

	if evicted != nil && s.cfg.OnEvict != nil {
		s.cfg.OnEvict(*evicted)
	}
	if s.cfg.OnRecord != nil {
		s.cfg.OnRecord(*entry)
	}
}

// Len returns the number of stored entries.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.order)
}

// List returns up to limit entries, oldest first. A limit of zero or less
// returns every entry.
func (s *Store) List(limit int) []Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 || limit > len(s.order) {
		limit = len(s.order)
	}
	result := make([]Entry, 0, limit)
	for _, id := range s.order[:limit] {
		result = append(result, *s.entries[id])
	}
	return result
}

// ListByConsumer returns the entries abandoned by the named consumer,
// oldest first.
func (s *Store) ListByConsumer(consumer string) []Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []Entry
	for _, id := range s.order {
		if e := s.entries[id]; e.Consumer == consumer {
			result = append(result, *e)
		}
	}
	return result
}

// Get returns the entry with the given ID.
func (s *Store) Get(id string) (Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.entries[id]
	if !ok {
		return Entry{}, ErrNotFound
	}
	return *e, nil
}

// Remove deletes the entry with the given ID.
func (s *Store) Remove(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.removeLocked(id)
}

// removeLocked must be called with mu held.
func (s *Store) removeLocked(id string) error {
	if _, ok := s.entries[id]; !ok {
		return ErrNotFound
	}
	delete(s.entries, id)
	for i, other := range s.order {
		if other == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	return nil
}

// Enqueuer is the admission side of a queue.
type Enqueuer interface {
	Enqueue(ctx context.Context, msg msgflow.Message) error
}

// Redeliver enqueues the entry's message on q and removes the entry. The
// message is dispatched afresh, so every consumer whose condition matches
// sees it again, not only the one that abandoned it. The entry is claimed
// before Enqueue, so concurrent calls for one id deliver it once; if Enqueue
// fails the entry is put back in its place.
func (s *Store) Redeliver(ctx context.Context, id string, q Enqueuer) error {
	s.mu.Lock()
	entry, ok := s.entries[id]
	if !ok {
		s.mu.Unlock()
		return ErrNotFound
	}
	pos := s.indexLocked(id)
	_ = s.removeLocked(id)
	s.mu.Unlock()

	if err := q.Enqueue(ctx, entry.Message); err != nil {
		s.restore(entry, pos)
		return err
	}

	s.mu.Lock()
	s.redelivered++
	s.mu.Unlock()
	return nil
}

// restore puts a claimed entry back at pos, evicting the oldest entry if
// the store filled up in the meantime.
func (s *Store) restore(entry *Entry, pos int) {
	s.mu.Lock()
	pos = min(pos, len(s.order))
	s.order = append(s.order, "")
	copy(s.order[pos+1:], s.order[pos:])
	s.order[pos] = entry.ID
	s.entries[entry.ID] = entry

	var evicted *Entry
	if len(s.order) > s.cfg.MaxSize {
		oldest := s.order[0]
		s.order = s.order[1:]
		evicted = s.entries[oldest]
		delete(s.entries, oldest)
		s.evicted++
	}
	s.mu.Unlock()

	if evicted != nil && s.cfg.OnEvict != nil {
		s.cfg.OnEvict(*evicted)
	}
}

// indexLocked must be called with mu held.
func (s *Store) indexLocked(id string) int {
	for i, other := range s.order {
		if other == id {
			return i
		}
	}
	return len(s.order)
}

// Stats returns store statistics.
func (s *Store) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return Stats{
		Size:        len(s.order),
		Recorded:    s.recorded,
		Evicted:     s.evicted,
		Redelivered: s.redelivered,
	}
}

// Stats provides statistics about a Store.
type Stats struct {
	Size        int   // Current number of entries
	Recorded    int64 // Total entries recorded
	Evicted     int64 // Total entries evicted when full
	Redelivered int64 // Total entries redelivered
}
