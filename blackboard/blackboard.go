// Package blackboard implements the per-run keyed data store threaded through
// a single flow invocation.
package blackboard

import (
	"encoding/json"
	"fmt"
)

// Reserved keys set by the interpreter at flow construction time.
const (
	KeyErrors    = "__errors__"
	KeyInput     = "__input__"
	KeyLoopIndex = "__loop_index__"
	KeyJobID     = "__job_id__"
	KeyTimestamp = "__timestamp__"
	KeyFlowPath  = "__flow_path__"
)

// Error is one recorded step failure, ignored or not.
type Error struct {
	Step    string `json:"step"`
	Err     any    `json:"error"`
	Ignored string `json:"ignored,omitempty"`
}

// Blackboard is the mutable, string-keyed map scoped to one flow invocation.
// Exactly one goroutine (the interpreter running that invocation) writes it;
// no locking is required.
type Blackboard struct {
	data map[string]any
}

// New builds a Blackboard with the reserved keys populated per the flow's
// construction-time context.
func New(input map[string]any, loopIndex *int, jobID, timestamp, flowPath string) *Blackboard {
	b := &Blackboard{data: make(map[string]any)}
	b.data[KeyErrors] = []Error{}
	if input == nil {
		input = map[string]any{}
	}
	b.data[KeyInput] = input
	if loopIndex != nil {
		b.data[KeyLoopIndex] = *loopIndex
	} else {
		b.data[KeyLoopIndex] = nil
	}
	b.data[KeyJobID] = jobID
	b.data[KeyTimestamp] = timestamp
	b.data[KeyFlowPath] = flowPath
	return b
}

// Get returns the value stored under key, and whether it was present.
func (b *Blackboard) Get(key string) (any, bool) {
	v, ok := b.data[key]
	return v, ok
}

// GetByKey implements the "." sentinel convention used by several step kinds:
// "." means the whole data map, anything else is a direct key lookup that
// must exist.
func (b *Blackboard) GetByKey(key string) (any, error) {
	if key == "." {
		return b.data, nil
	}
	v, ok := b.data[key]
	if !ok {
		return nil, &MissingKeyError{Key: key}
	}
	return v, nil
}

// Set writes value under key. Reserved keys may be overwritten by the
// interpreter itself (e.g. __errors__) but step authors should not target
// them as a result_key.
func (b *Blackboard) Set(key string, value any) {
	b.data[key] = value
}

// AppendError appends one error record to __errors__, preserving visit order.
func (b *Blackboard) AppendError(e Error) {
	errs, _ := b.data[KeyErrors].([]Error)
	b.data[KeyErrors] = append(errs, e)
}

// Errors returns the current __errors__ slice.
func (b *Blackboard) Errors() []Error {
	errs, _ := b.data[KeyErrors].([]Error)
	return errs
}

// ExtendErrors appends a whole batch of errors, used by flow_loop to merge a
// child's errors into the parent after all children complete.
func (b *Blackboard) ExtendErrors(batch []Error) {
	errs, _ := b.data[KeyErrors].([]Error)
	b.data[KeyErrors] = append(errs, batch...)
}

// Raw returns the underlying map. Used by the templating engine, which needs
// to render expressions against the whole data set.
func (b *Blackboard) Raw() map[string]any {
	return b.data
}

// MissingKeyError is returned by GetByKey when a non-"." key is absent.
type MissingKeyError struct {
	Key string
}

func (e *MissingKeyError) Error() string {
	return "blackboard: key not found: " + e.Key
}

// MarshalJSON renders the Blackboard as a JSON-safe document: any value that
// encoding/json cannot marshal natively is recursively converted to its
// string form first, matching the Runner's result-sanitization pass.
func (b *Blackboard) MarshalJSON() ([]byte, error) {
	return json.Marshal(Sanitize(b.data))
}

// Sanitize recursively walks a value tree, converting anything
// encoding/json would reject (channels, funcs, complex numbers, errors) into
// its string representation, and leaving ordinary JSON-safe values alone.
func Sanitize(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, vv := range val {
			out[k] = Sanitize(vv)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, vv := range val {
			out[i] = Sanitize(vv)
		}
		return out
	case []Error:
		out := make([]any, len(val))
		for i, e := range val {
			out[i] = map[string]any{
				"step":    e.Step,
				"error":   Sanitize(e.Err),
				"ignored": e.Ignored,
			}
		}
		return out
	case nil, bool, string, int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64, float32, float64:
		return val
	case error:
		return val.Error()
	default:
		if _, err := json.Marshal(val); err == nil {
			return val
		}
		return toString(val)
	}
}

func toString(v any) string {
	return fmt.Sprintf("%v", v)
}
