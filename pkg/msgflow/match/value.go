package match

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/randalmurphal/msgflow/pkg/msgflow"
)

// fields resolves field paths against one message.
type fields struct {
	msg     msgflow.Message
	text    string
	decoded bool
	object  map[string]any
}

func newFields(msg msgflow.Message) *fields {
	return &fields{msg: msg, text: msg.String()}
}

// lookup returns the value at path, or nil if there is none.
func (f *fields) lookup(path string) any {
	if path == "message" {
		return f.text
	}
	if !f.decoded {
		f.decode()
	}
	if f.object == nil {
		return nil
	}

	var cur any = f.object
	for _, part := range strings.Split(path, ".") {
		obj, ok := cur.(map[string]any)
		if !ok {
			return nil
		}
		if cur, ok = obj[part]; !ok {
			return nil
		}
	}
	return cur
}

func (f *fields) decode() {
	f.decoded = true

	if jm, ok := f.msg.(msgflow.JSONMessage); ok {
		_ = jm.Decode(&f.object)
		return
	}
	trimmed := strings.TrimSpace(f.text)
	if strings.HasPrefix(trimmed, "{") {
		_ = json.Unmarshal([]byte(trimmed), &f.object)
	}
}

// isTruthy returns whether a value is truthy.
func isTruthy(v any) bool {
	switch val := v.(type) {
	case nil:
		return false
	case bool:
		return val
	case string:
		return val != ""
	case int64:
		return val != 0
	case float64:
		return val != 0
	default:
		return true
	}
}

// toFloat64 converts a value for numeric comparison.
// The second result is false for values that are not numbers.
func toFloat64(v any) (float64, bool) {
	switch val := v.(type) {
	case float64:
		return val, true
	case int64:
		return float64(val), true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(val), 64)
		return f, err == nil
	default:
		return 0, false
	}
}

// text renders a value for textual comparison.
func text(v any) string {
	switch val := v.(type) {
	case nil:
		return "null"
	case string:
		return val
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	default:
		return fmt.Sprintf("%v", val)
	}
}
