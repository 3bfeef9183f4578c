// Package retry provides bounded retry of fallible operations.
//
// Consumers are retried immediately with no delay (Immediate); producers
// that want to wait out backpressure use an exponential backoff
// configuration (DefaultBackoff). Errors marked Permanent stop the loop
// after the attempt that produced them.
package retry

import (
	"errors"
	"fmt"
)

// Category represents how an error should be handled.
type Category int

const (
	// CategoryTransient indicates another attempt may succeed.
	CategoryTransient Category = iota

	// CategoryPermanent indicates retry won't help.
	CategoryPermanent
)

// String returns the category name.
func (c Category) String() string {
	switch c {
	case CategoryTransient:
		return "transient"
	case CategoryPermanent:
		return "permanent"
	default:
		return "unknown"
	}
}

// CategorizedError wraps an error with its category and context.
type CategorizedError struct {
	// Err is the underlying error.
	Err error

	// Category indicates how this error should be handled.
	Category Category

	// Retries is the number of attempts that have been made.
	Retries int

	// Context describes what operation was being attempted.
	Context string
}

// Error implements the error interface.
func (e *CategorizedError) Error() string {
	if e.Context != "" {
		return fmt.Sprintf("%s: %s (category: %s, attempts: %d)",
			e.Context, e.Err, e.Category, e.Retries)
	}
	return fmt.Sprintf("%s (category: %s, attempts: %d)",
		e.Err, e.Category, e.Retries)
}

// Unwrap returns the underlying error.
func (e *CategorizedError) Unwrap() error {
	return e.Err
}

// Permanent marks err as not worth retrying.
// Returns nil if err is nil.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &CategorizedError{Err: err, Category: CategoryPermanent}
}

// Categorize returns the category of err. Errors that were not explicitly
// categorized are transient.
func Categorize(err error) Category {
	var ce *CategorizedError
	if errors.As(err, &ce) {
		return ce.Category
	}
	return CategoryTransient
}

// IsPermanent reports whether err was marked with Permanent.
func IsPermanent(err error) bool {
	return err != nil && Categorize(err) == CategoryPermanent
}
