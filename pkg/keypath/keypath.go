// Package keypath models event payloads as a single uniform tree value
// (scalar, mapping, or sequence) and resolves dot-separated key paths
// against it. Representing every payload as one tree type keeps path
// resolution a single recursive function instead of reflection over
// arbitrary shapes.
package keypath

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Kind discriminates the tree value variants.
type Kind int

const (
	KindNothing Kind = iota
	KindScalar
	KindMapping
	KindSequence
)

// Value is a tagged union over {scalar, mapping, sequence}. The zero Value is
// Nothing: the sentinel a missing or type-mismatched path resolves to.
type Value struct {
	kind     Kind
	scalar   any
	mapping  map[string]Value
	sequence []Value
}

// Nothing is the resolution sentinel. It never equals any configured value.
var Nothing = Value{}

func String(s string) Value { return Value{kind: KindScalar, scalar: s} }
func Bool(b bool) Value     { return Value{kind: KindScalar, scalar: b} }
func Int(i int64) Value     { return Value{kind: KindScalar, scalar: i} }
func Float(f float64) Value { return Value{kind: KindScalar, scalar: f} }
func Seq(vs ...Value) Value { return Value{kind: KindSequence, sequence: vs} }

// Map builds a mapping value from the given entries.
func Map(entries map[string]Value) Value {
	m := make(map[string]Value, len(entries))
	for k, v := range entries {
		m[k] = v
	}
	return Value{kind: KindMapping, mapping: m}
}

func (v Value) Kind() Kind      { return v.kind }
func (v Value) IsNothing() bool { return v.kind == KindNothing }

// Get descends one mapping key. Non-mappings and absent keys yield Nothing.
func (v Value) Get(key string) Value {
	if v.kind != KindMapping {
		return Nothing
	}
	child, ok := v.mapping[key]
	if !ok {
		return Nothing
	}
	return child
}

// Keys returns the mapping keys in sorted order, empty for non-mappings.
func (v Value) Keys() []string {
	if v.kind != KindMapping {
		return nil
	}
	keys := make([]string, 0, len(v.mapping))
	for k := range v.mapping {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Items returns the sequence elements, nil for non-sequences.
func (v Value) Items() []Value {
	if v.kind != KindSequence {
		return nil
	}
	return v.sequence
}

// Text renders a scalar in its canonical string form: booleans as
// "True"/"False", numbers without a trailing fraction when integral.
// Non-scalars render empty.
func (v Value) Text() string {
	if v.kind != KindScalar {
		return ""
	}
	switch s := v.scalar.(type) {
	case string:
		return s
	case bool:
		if s {
			return "True"
		}
		return "False"
	case int64:
		return strconv.FormatInt(s, 10)
	case float64:
		return strconv.FormatFloat(s, 'f', -1, 64)
	default:
		return fmt.Sprintf("%v", s)
	}
}

// Resolve descends the tree one key per dot-separated segment of path.
// Missing keys, non-mapping intermediates, or a malformed path resolve to
// Nothing.
func Resolve(v Value, path string) Value {
	if path == "" {
		return Nothing
	}
	current := v
	for _, segment := range strings.Split(path, ".") {
		if segment == "" {
			return Nothing
		}
		current = current.Get(segment)
		if current.IsNothing() {
			return Nothing
		}
	}
	return current
}

// ValidPath reports whether path is syntactically usable: non-empty with no
// empty segments.
func ValidPath(path string) bool {
	if path == "" {
		return false
	}
	for _, segment := range strings.Split(path, ".") {
		if segment == "" {
			return false
		}
	}
	return true
}

// FromAny converts a decoded JSON value (map[string]any, []any, scalars)
// into a tree Value. Unknown types collapse to Nothing.
func FromAny(raw any) Value {
	switch val := raw.(type) {
	case nil:
		return Nothing
	case map[string]any:
		m := make(map[string]Value, len(val))
		for k, child := range val {
			m[k] = FromAny(child)
		}
		return Value{kind: KindMapping, mapping: m}
	case []any:
		items := make([]Value, 0, len(val))
		for _, child := range val {
			items = append(items, FromAny(child))
		}
		return Value{kind: KindSequence, sequence: items}
	case string:
		return String(val)
	case bool:
		return Bool(val)
	case int:
		return Int(int64(val))
	case int64:
		return Int(val)
	case float64:
		return Float(val)
	case json.Number:
		if i, err := val.Int64(); err == nil {
			return Int(i)
		}
		if f, err := val.Float64(); err == nil {
			return Float(f)
		}
		return String(val.String())
	default:
		return Nothing
	}
}

// DecodeJSON parses raw JSON into a tree Value.
func DecodeJSON(raw []byte) (Value, error) {
	decoder := json.NewDecoder(strings.NewReader(string(raw)))
	decoder.UseNumber()
	var decoded any
	if err := decoder.Decode(&decoded); err != nil {
		return Nothing, fmt.Errorf("decode payload: %w", err)
	}
	return FromAny(decoded), nil
}
