package msgflow

import (
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
)

// DependencyPolicy decides how Subscribe treats a dependency that is not
// (yet) subscribed under the same condition.
type DependencyPolicy int

const (
	// DependencyStrict rejects a binding whose dependencies are not all
	// committed under the condition. The first binding of a group is
	// accepted without validation, so it may name consumers subscribed
	// later.
	DependencyStrict DependencyPolicy = iota

	// DependencyDeferred accepts unknown dependencies and resolves them by
	// name at dispatch time. Only cycles are rejected.
	DependencyDeferred
)

// String returns the policy name.
func (p DependencyPolicy) String() string {
	switch p {
	case DependencyStrict:
		return "strict"
	case DependencyDeferred:
		return "deferred"
	default:
		return "unknown"
	}
}

// ParseDependencyPolicy parses "strict" or "deferred" (case-insensitive).
func ParseDependencyPolicy(s string) (DependencyPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "strict", "":
		return DependencyStrict, nil
	case "deferred":
		return DependencyDeferred, nil
	default:
		return 0, fmt.Errorf("unknown dependency policy %q", s)
	}
}

// binding is one consumer's registration under one condition.
// It is immutable once committed; per-dispatch state lives in dispatchState.
type binding struct {
	consumer Consumer
	name     string
	deps     []string
}

// group holds every binding registered under one condition key.
type group struct {
	key  string
	cond Condition

	// mu serializes validate-and-commit for this condition.
	mu       sync.Mutex
	bindings atomic.Pointer[[]*binding]
}

// load returns the committed bindings in subscription order.
// The returned slice must not be modified.
func (g *group) load() []*binding {
	if p := g.bindings.Load(); p != nil {
		return *p
	}
	return nil
}

// BindingInfo describes a committed binding.
type BindingInfo struct {
	Consumer  string
	DependsOn []string
}

// Registry maps conditions to ordered groups of consumer bindings.
//
// Subscribes to the same condition are serialized; subscribes to different
// conditions run in parallel. Readers see a binding either fully committed
// or not at all.
type Registry struct {
	policy DependencyPolicy

	mu     sync.RWMutex
	groups map[string]*group
	order  atomic.Pointer[[]*group] // creation order
}

// NewRegistry creates an empty registry.
func NewRegistry(policy DependencyPolicy) *Registry {
	return &Registry{
		policy: policy,
		groups: make(map[string]*group),
	}
}

// Policy returns the registry's dependency policy.
func (r *Registry) Policy() DependencyPolicy {
	return r.policy
}

// Subscribe registers consumer under cond, to run after deps for every
// matching message. On error the condition's group is left unchanged and
// the error is a *SubscriptionError.
func (r *Registry) Subscribe(cond Condition, consumer Consumer, deps ...Consumer) error {
	if cond == nil {
		return &SubscriptionError{Consumer: consumerName(consumer), Err: ErrNilCondition}
	}
	if consumer == nil {
		return &SubscriptionError{Condition: cond.Key(), Err: ErrNilConsumer}
	}

	candidate := &binding{
		consumer: consumer,
		name:     consumer.Name(),
		deps:     make([]string, 0, len(deps)),
	}
	for _, d := range deps {
		if d == nil {
			return &SubscriptionError{Condition: cond.Key(), Consumer: candidate.name, Err: ErrNilConsumer}
		}
		if d.Name() == candidate.name {
			return &SubscriptionError{Condition: cond.Key(), Consumer: candidate.name, Dependency: candidate.name, Err: ErrCycle}
		}
		candidate.deps = append(candidate.deps, d.Name())
	}

	// Past this point a binding for an empty group always commits, so
	// groupFor never leaves an empty group behind.
	g := r.groupFor(cond)

	g.mu.Lock()
	defer g.mu.Unlock()

	committed := g.load()
	if err := r.validate(g.key, committed, candidate); err != nil {
		return err
	}

	next := make([]*binding, len(committed), len(committed)+1)
	copy(next, committed)
	next = append(next, candidate)
	g.bindings.Store(&next)
	return nil
}

// groupFor returns the group for cond's key, creating it if needed.
func (r *Registry) groupFor(cond Condition) *group {
	key := cond.Key()

	r.mu.RLock()
	g, ok := r.groups[key]
	r.mu.RUnlock()
	if ok {
		return g
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if g, ok := r.groups[key]; ok {
		return g
	}
	g = &group{key: key, cond: cond}
	r.groups[key] = g

	var order []*group
	if p := r.order.Load(); p != nil {
		order = make([]*group, len(*p), len(*p)+1)
		copy(order, *p)
	}
	order = append(order, g)
	r.order.Store(&order)
	return g
}

// validate checks candidate against the committed bindings of one group.
//
// The candidate is not part of committed. Its dependency closure is walked
// through committed bindings only: reaching the candidate's own name means
// a cycle, and reaching an unknown name means the dependency is not
// subscribed. Committed bindings never form a cycle, so the walk ends.
func (r *Registry) validate(key string, committed []*binding, candidate *binding) error {
	reject := func(dep string, err error) error {
		return &SubscriptionError{Condition: key, Consumer: candidate.name, Dependency: dep, Err: err}
	}

	index := make(map[string]*binding, len(committed))
	for _, b := range committed {
		index[b.name] = b
	}

	if _, exists := index[candidate.name]; exists {
		return reject("", ErrDuplicateConsumer)
	}

	if len(committed) == 0 {
		// A lone binding cannot form a cycle.
		return nil
	}

	visited := make(map[string]bool)
	stack := append([]string(nil), candidate.deps...)
	for len(stack) > 0 {
		name := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		if visited[name] {
			continue
		}
		visited[name] = true

		if name == candidate.name {
			return reject(name, ErrCycle)
		}

		b, ok := index[name]
		if !ok {
			if r.policy == DependencyDeferred {
				continue
			}
			return reject(name, ErrUnresolvableDependency)
		}
		stack = append(stack, b.deps...)
	}

	return nil
}

// snapshot returns the groups in creation order.
func (r *Registry) snapshot() []*group {
	if p := r.order.Load(); p != nil {
		return *p
	}
	return nil
}

// Conditions returns the keys of conditions with at least one binding, in
// the order their groups were created.
func (r *Registry) Conditions() []string {
	groups := r.snapshot()
	keys := make([]string, 0, len(groups))
	for _, g := range groups {
		if len(g.load()) > 0 {
			keys = append(keys, g.key)
		}
	}
	return keys
}

// Bindings returns the committed bindings for a condition key in
// subscription order, or nil if there are none.
func (r *Registry) Bindings(key string) []BindingInfo {
	r.mu.RLock()
	g, ok := r.groups[key]
	r.mu.RUnlock()
	if !ok {
		return nil
	}

	committed := g.load()
	if len(committed) == 0 {
		return nil
	}
	infos := make([]BindingInfo, 0, len(committed))
	for _, b := range committed {
		infos = append(infos, BindingInfo{
			Consumer:  b.name,
			DependsOn: append([]string(nil), b.deps...),
		})
	}
	return infos
}

func consumerName(c Consumer) string {
	if c == nil {
		return ""
	}
	return c.Name()
}
