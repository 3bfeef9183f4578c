package msgflow

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

// Message is an opaque payload with a canonical textual representation.
// The representation is used for condition matching and for equality:
// two messages are equal when their String values are equal.
type Message interface {
	String() string
}

// Condition selects the messages a group of consumers cares about.
//
// Key identifies the condition in the registry. Conditions with equal keys
// share one group, so Key must be derived from the condition's value
// (e.g. its pattern), not from its identity.
type Condition interface {
	Test(msg Message) bool
	Key() string
}

// Consumer processes messages.
//
// Name is the consumer's identity: dependencies, duplicate detection and
// logging all refer to consumers by name. Process may fail; failed calls
// are retried up to the queue's attempt limit.
type Consumer interface {
	Name() string
	Process(ctx context.Context, msg Message) error
}

// Equal reports whether two messages have the same canonical representation.
func Equal(a, b Message) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.String() == b.String()
}

// TextMessage is a message whose canonical representation is the text itself.
type TextMessage string

// String implements Message.
func (m TextMessage) String() string {
	return string(m)
}

// JSONMessage is a message carrying a JSON document.
type JSONMessage struct {
	raw string
}

// NewJSONMessage encodes v as JSON.
func NewJSONMessage(v any) (JSONMessage, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return JSONMessage{}, fmt.Errorf("encode message: %w", err)
	}
	return JSONMessage{raw: string(data)}, nil
}

// String implements Message.
func (m JSONMessage) String() string {
	return m.raw
}

// Decode unmarshals the message into v.
func (m JSONMessage) Decode(v any) error {
	return json.Unmarshal([]byte(m.raw), v)
}

// PatternCondition matches messages whose whole representation matches a
// regular expression.
type PatternCondition struct {
	expr string
	re   *regexp.Regexp
}

// NewPatternCondition compiles expr. The expression is anchored at both
// ends, so ".*true.*" matches any representation containing "true".
func NewPatternCondition(expr string) (*PatternCondition, error) {
	re, err := regexp.Compile("^(?:" + expr + ")$")
	if err != nil {
		return nil, fmt.Errorf("compile pattern %q: %w", expr, err)
	}
	return &PatternCondition{expr: expr, re: re}, nil
}

// MustPatternCondition is like NewPatternCondition but panics on error.
func MustPatternCondition(expr string) *PatternCondition {
	c, err := NewPatternCondition(expr)
	if err != nil {
		panic(err)
	}
	return c
}

// Test implements Condition.
func (c *PatternCondition) Test(msg Message) bool {
	return c.re.MatchString(msg.String())
}

// Key implements Condition.
func (c *PatternCondition) Key() string {
	return "pattern:" + c.expr
}

// ContainsCondition matches messages whose representation contains the
// substring.
type ContainsCondition string

// Test implements Condition.
func (c ContainsCondition) Test(msg Message) bool {
	return strings.Contains(msg.String(), string(c))
}

// Key implements Condition.
func (c ContainsCondition) Key() string {
	return "contains:" + string(c)
}

// conditionFunc adapts a predicate to Condition.
type conditionFunc struct {
	key string
	fn  func(Message) bool
}

// NewConditionFunc adapts fn to Condition. Callers choose the key; reusing a
// key joins the existing group regardless of fn.
func NewConditionFunc(key string, fn func(Message) bool) Condition {
	return conditionFunc{key: key, fn: fn}
}

func (c conditionFunc) Test(msg Message) bool { return c.fn(msg) }
func (c conditionFunc) Key() string           { return c.key }

// consumerFunc adapts a function to Consumer.
type consumerFunc struct {
	name string
	fn   func(ctx context.Context, msg Message) error
}

// NewConsumerFunc adapts fn to a Consumer named name.
func NewConsumerFunc(name string, fn func(ctx context.Context, msg Message) error) Consumer {
	return consumerFunc{name: name, fn: fn}
}

func (c consumerFunc) Name() string { return c.name }

func (c consumerFunc) Process(ctx context.Context, msg Message) error {
	return c.fn(ctx, msg)
}
