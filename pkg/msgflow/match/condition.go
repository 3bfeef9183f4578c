package match

import (
	"fmt"

	"github.com/randalmurphal/msgflow/pkg/msgflow"
)

// Condition is a msgflow.Condition defined by an expression.
type Condition struct {
	src  string
	root node
}

var _ msgflow.Condition = (*Condition)(nil)

// Compile parses src into a condition.
func Compile(src string) (*Condition, error) {
	root, err := parse(src)
	if err != nil {
		return nil, fmt.Errorf("compile %q: %w", src, err)
	}
	return &Condition{src: src, root: root}, nil
}

// MustCompile is like Compile but panics on error.
func MustCompile(src string) *Condition {
	c, err := Compile(src)
	if err != nil {
		panic(err)
	}
	return c
}

// Test implements msgflow.Condition.
func (c *Condition) Test(msg msgflow.Message) bool {
	return c.root.eval(newFields(msg))
}

// Key implements msgflow.Condition.
func (c *Condition) Key() string {
	return "expr:" + c.src
}

// String returns the expression source.
func (c *Condition) String() string {
	return c.src
}

// Eval compiles src and evaluates it against msg.
func Eval(src string, msg msgflow.Message) (bool, error) {
	c, err := Compile(src)
	if err != nil {
		return false, err
	}
	return c.Test(msg), nil
}
