package pointer

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
)

// #region kind
// Kind tags the variant held by a Value.
type Kind uint8

const (
	KindUndefined Kind = iota
	KindNull
	KindString
	KindNumber
	KindBool
	KindArray
	KindMap
)

func (k Kind) String() string {
	switch k {
	case KindUndefined:
		return "undefined"
	case KindNull:
		return "null"
	case KindString:
		return "string"
	case KindNumber:
		return "number"
	case KindBool:
		return "boolean"
	case KindArray:
		return "array"
	case KindMap:
		return "map"
	default:
		return "unknown"
	}
}

// #endregion kind

// #region value
// Value is a node of the context document: a scalar (string, number, boolean,
// null), an array or a map. The zero Value is undefined, which is distinct from
// Null and from falsy scalars.
type Value struct {
	kind Kind
	str  string
	num  float64
	b    bool
	arr  []Value
	obj  map[string]Value
}

func String(s string) Value { return Value{kind: KindString, str: s} }
func Number(n float64) Value { return Value{kind: KindNumber, num: n} }
func Int(n int) Value { return Value{kind: KindNumber, num: float64(n)} }
func Bool(b bool) Value { return Value{kind: KindBool, b: b} }
func Null() Value { return Value{kind: KindNull} }
func Undefined() Value { return Value{} }

// Array builds an array value. The slice is copied.
func Array(items ...Value) Value {
	arr := make([]Value, len(items))
	copy(arr, items)
	return Value{kind: KindArray, arr: arr}
}

// Map builds a map value that shares m. A nil m yields an empty map.
func Map(m map[string]Value) Value {
	if m == nil {
		m = map[string]Value{}
	}
	return Value{kind: KindMap, obj: m}
}

// NewDocument returns an empty context document.
func NewDocument() Value { return Map(nil) }

// #endregion value

// #region accessors
func (v Value) Kind() Kind { return v.kind }
func (v Value) IsDefined() bool { return v.kind != KindUndefined }
func (v Value) IsNull() bool { return v.kind == KindNull }
func (v Value) IsZero() bool { return v.kind == KindUndefined }
func (v Value) IsMap() bool { return v.kind == KindMap }
func (v Value) IsArray() bool { return v.kind == KindArray }

func (v Value) AsString() (string, bool) { return v.str, v.kind == KindString }
func (v Value) AsNumber() (float64, bool) { return v.num, v.kind == KindNumber }
func (v Value) AsBool() (bool, bool) { return v.b, v.kind == KindBool }

// AsArray returns the items of an array value. The slice must not be mutated.
func (v Value) AsArray() ([]Value, bool) { return v.arr, v.kind == KindArray }

// AsMap returns the entries of a map value. Mutating the map mutates the value.
func (v Value) AsMap() (map[string]Value, bool) { return v.obj, v.kind == KindMap }

// Field returns the entry stored under key, or undefined.
func (v Value) Field(key string) Value {
	if v.kind != KindMap {
		return Value{}
	}
	return v.obj[key]
}

// Keys returns the sorted keys of a map value.
func (v Value) Keys() []string {
	if v.kind != KindMap {
		return nil
	}
	keys := make([]string, 0, len(v.obj))
	for k := range v.obj {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Len is the number of items of an array or entries of a map.
func (v Value) Len() int {
	switch v.kind {
	case KindArray:
		return len(v.arr)
	case KindMap:
		return len(v.obj)
	default:
		return 0
	}
}

// IsEmpty reports whether v counts as missing: undefined, null or "".
func (v Value) IsEmpty() bool {
	switch v.kind {
	case KindUndefined, KindNull:
		return true
	case KindString:
		return v.str == ""
	default:
		return false
	}
}

// Text renders a scalar for display. Arrays and maps render as JSON.
func (v Value) Text() string {
	switch v.kind {
	case KindUndefined:
		return ""
	case KindNull:
		return "null"
	case KindString:
		return v.str
	case KindNumber:
		return strconv.FormatFloat(v.num, 'g', -1, 64)
	case KindBool:
		return strconv.FormatBool(v.b)
	default:
		b, _ := json.Marshal(v)
		return string(b)
	}
}

func (v Value) String() string { return v.Text() }

// #endregion accessors

// #region clone-equal
// Clone deep-copies v.
func Clone(v Value) Value {
	switch v.kind {
	case KindArray:
		arr := make([]Value, len(v.arr))
		for i, item := range v.arr {
			arr[i] = Clone(item)
		}
		return Value{kind: KindArray, arr: arr}
	case KindMap:
		obj := make(map[string]Value, len(v.obj))
		for k, item := range v.obj {
			obj[k] = Clone(item)
		}
		return Value{kind: KindMap, obj: obj}
	default:
		return v
	}
}

// Equal reports deep equality.
func Equal(a, b Value) bool {
	if a.kind != b.kind {
		return false
	}
	switch a.kind {
	case KindUndefined, KindNull:
		return true
	case KindString:
		return a.str == b.str
	case KindNumber:
		return a.num == b.num
	case KindBool:
		return a.b == b.b
	case KindArray:
		if len(a.arr) != len(b.arr) {
			return false
		}
		for i := range a.arr {
			if !Equal(a.arr[i], b.arr[i]) {
				return false
			}
		}
		return true
	case KindMap:
		if len(a.obj) != len(b.obj) {
			return false
		}
		for k, av := range a.obj {
			bv, ok := b.obj[k]
			if !ok || !Equal(av, bv) {
				return false
			}
		}
		return true
	}
	return false
}

// #endregion clone-equal

// #region any-bridge
// FromAny converts decoded JSON (or plain Go values) into a Value.
func FromAny(x any) (Value, error) {
	switch t := x.(type) {
	case nil:
		return Null(), nil
	case Value:
		return t, nil
	case string:
		return String(t), nil
	case bool:
		return Bool(t), nil
	case float64:
		return Number(t), nil
	case float32:
		return Number(float64(t)), nil
	case int:
		return Number(float64(t)), nil
	case int64:
		return Number(float64(t)), nil
	case int32:
		return Number(float64(t)), nil
	case json.Number:
		f, err := t.Float64()
		if err != nil {
			return Value{}, fmt.Errorf("number %q: %w", t, err)
		}
		return Number(f), nil
	case []string:
		arr := make([]Value, len(t))
		for i, s := range t {
			arr[i] = String(s)
		}
		return Value{kind: KindArray, arr: arr}, nil
	case []Value:
		return Array(t...), nil
	case []any:
		arr := make([]Value, len(t))
		for i, item := range t {
			v, err := FromAny(item)
			if err != nil {
				return Value{}, err
			}
			arr[i] = v
		}
		return Value{kind: KindArray, arr: arr}, nil
	case map[string]string:
		obj := make(map[string]Value, len(t))
		for k, s := range t {
			obj[k] = String(s)
		}
		return Map(obj), nil
	case map[string]Value:
		return Map(t), nil
	case map[string]any:
		obj := make(map[string]Value, len(t))
		for k, item := range t {
			v, err := FromAny(item)
			if err != nil {
				return Value{}, fmt.Errorf("key %q: %w", k, err)
			}
			obj[k] = v
		}
		return Map(obj), nil
	default:
		return Value{}, fmt.Errorf("unsupported value type %T", x)
	}
}

// MustFromAny is FromAny for literals known to be convertible.
func MustFromAny(x any) Value {
	v, err := FromAny(x)
	if err != nil {
		panic(err)
	}
	return v
}

// ToAny converts a Value back into plain Go values (nil for undefined and null).
func ToAny(v Value) any {
	switch v.kind {
	case KindString:
		return v.str
	case KindNumber:
		return v.num
	case KindBool:
		return v.b
	case KindArray:
		out := make([]any, len(v.arr))
		for i, item := range v.arr {
			out[i] = ToAny(item)
		}
		return out
	case KindMap:
		out := make(map[string]any, len(v.obj))
		for k, item := range v.obj {
			out[k] = ToAny(item)
		}
		return out
	default:
		return nil
	}
}

// #endregion any-bridge

// #region json
// MarshalJSON encodes undefined as null; use `omitzero` on struct fields to drop it.
func (v Value) MarshalJSON() ([]byte, error) {
	switch v.kind {
	case KindUndefined, KindNull:
		return []byte("null"), nil
	case KindNumber:
		if math.IsNaN(v.num) || math.IsInf(v.num, 0) {
			return nil, fmt.Errorf("number %v is not representable in JSON", v.num)
		}
		return json.Marshal(v.num)
	case KindString:
		return json.Marshal(v.str)
	case KindBool:
		return json.Marshal(v.b)
	case KindArray:
		if v.arr == nil {
			return []byte("[]"), nil
		}
		return json.Marshal(v.arr)
	default:
		if v.obj == nil {
			return []byte("{}"), nil
		}
		return json.Marshal(v.obj)
	}
}

func (v *Value) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var raw any
	if err := dec.Decode(&raw); err != nil {
		return err
	}
	out, err := FromAny(raw)
	if err != nil {
		return err
	}
	*v = out
	return nil
}

// Decode parses a JSON document into a Value.
func Decode(data []byte) (Value, error) {
	var v Value
	if err := v.UnmarshalJSON(data); err != nil {
		return Value{}, fmt.Errorf("decode value: %w", err)
	}
	return v, nil
}

// #endregion json
