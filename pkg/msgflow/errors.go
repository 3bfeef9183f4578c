package msgflow

import (
	"errors"
	"fmt"
)

// Sentinel errors for admission.
var (
	// ErrBackpressure indicates the buffer is at capacity. Nothing was
	// enqueued; the caller decides whether to retry or drop.
	ErrBackpressure = errors.New("buffer at capacity")

	// ErrClosed indicates the queue no longer accepts messages.
	ErrClosed = errors.New("queue closed")

	// ErrNilMessage indicates Enqueue was called with a nil message.
	ErrNilMessage = errors.New("message cannot be nil")
)

// Sentinel errors for subscription. Subscribe wraps them in a
// SubscriptionError.
var (
	// ErrCycle indicates the new binding would close a dependency cycle.
	ErrCycle = errors.New("dependency cycle")

	// ErrUnresolvableDependency indicates a declared dependency is not
	// subscribed under the same condition.
	ErrUnresolvableDependency = errors.New("dependency not subscribed under condition")

	// ErrDuplicateConsumer indicates a consumer with the same name is already
	// subscribed under the condition.
	ErrDuplicateConsumer = errors.New("consumer already subscribed under condition")

	// ErrNilConsumer indicates a nil consumer or dependency.
	ErrNilConsumer = errors.New("consumer cannot be nil")

	// ErrNilCondition indicates a nil condition.
	ErrNilCondition = errors.New("condition cannot be nil")
)

// SubscriptionError describes a rejected Subscribe call.
// The condition's group is unchanged when it is returned.
type SubscriptionError struct {
	// Condition is the key of the condition subscribed to.
	Condition string
	// Consumer is the name of the consumer being subscribed.
	Consumer string
	// Dependency is the dependency that failed validation, if any.
	Dependency string
	// Err is one of the subscription sentinels.
	Err error
}

// Error implements the error interface.
func (e *SubscriptionError) Error() string {
	if e.Dependency != "" {
		return fmt.Sprintf("subscribe %s under %s: %v: %s", e.Consumer, e.Condition, e.Err, e.Dependency)
	}
	return fmt.Sprintf("subscribe %s under %s: %v", e.Consumer, e.Condition, e.Err)
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *SubscriptionError) Unwrap() error {
	return e.Err
}

// InvocationError describes a consumer invocation that was abandoned after
// its final attempt.
type InvocationError struct {
	// Consumer is the consumer's name.
	Consumer string
	// MessageID identifies the message being dispatched.
	MessageID string
	// Attempts is how many times Process was called.
	Attempts int
	// Err is the last error returned by the consumer.
	Err error
}

// Error implements the error interface.
func (e *InvocationError) Error() string {
	return fmt.Sprintf("consumer %s abandoned message %s after %d attempts: %v",
		e.Consumer, e.MessageID, e.Attempts, e.Err)
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *InvocationError) Unwrap() error {
	return e.Err
}

// PanicError captures a panic raised by a consumer or condition.
type PanicError struct {
	// Source names the consumer or condition that panicked.
	Source string
	// Value is the value passed to panic().
	Value any
	// Stack is the stack trace at the point of panic.
	Stack string
}

// Error implements the error interface.
func (e *PanicError) Error() string {
	return fmt.Sprintf("%s panicked: %v", e.Source, e.Value)
}
