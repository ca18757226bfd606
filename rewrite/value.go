package rewrite

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
)

// Kind identifies the variant held by a Value.
type Kind uint8

// Value kinds. The zero Value is Undefined.
const (
	KindUndefined Kind = iota
	KindNull
	KindBool
	KindNumber
	KindString
	KindArray
	KindObject
)

func (k Kind) String() string {
	switch k {
	case KindUndefined:
		return "undefined"
	case KindNull:
		return "null"
	case KindBool:
		return "bool"
	case KindNumber:
		return "number"
	case KindString:
		return "string"
	case KindArray:
		return "array"
	case KindObject:
		return "object"
	default:
		return "unknown"
	}
}

// Value is the dynamic value templates are rendered against: a coerced payload,
// a set of topic captures, or a literal from the configuration.
type Value struct {
	kind Kind
	b    bool
	num  float64
	str  string
	arr  []Value
	obj  map[string]Value
}

// Undefined returns the value of a missing path.
func Undefined() Value { return Value{} }

// Null returns the JSON null value.
func Null() Value { return Value{kind: KindNull} }

// Bool returns a boolean value.
func Bool(b bool) Value { return Value{kind: KindBool, b: b} }

// Number returns a numeric value.
func Number(f float64) Value { return Value{kind: KindNumber, num: f} }

// String returns a string value.
func String(s string) Value { return Value{kind: KindString, str: s} }

// Array returns an array value.
func Array(items ...Value) Value { return Value{kind: KindArray, arr: items} }

// Object returns an object value. The map is not copied.
func Object(fields map[string]Value) Value {
	if fields == nil {
		fields = map[string]Value{}
	}
	return Value{kind: KindObject, obj: fields}
}

// FromAny converts decoded JSON or YAML data into a Value.
func FromAny(x any) Value {
	switch v := x.(type) {
	case nil:
		return Null()
	case Value:
		return v
	case bool:
		return Bool(v)
	case float64:
		return Number(v)
	case float32:
		return Number(float64(v))
	case int:
		return Number(float64(v))
	case int8:
		return Number(float64(v))
	case int16:
		return Number(float64(v))
	case int32:
		return Number(float64(v))
	case int64:
		return Number(float64(v))
	case uint:
		return Number(float64(v))
	case uint8:
		return Number(float64(v))
	case uint16:
		return Number(float64(v))
	case uint32:
		return Number(float64(v))
	case uint64:
		return Number(float64(v))
	case json.Number:
		f, err := v.Float64()
		if err != nil {
			return String(v.String())
		}
		return Number(f)
	case string:
		return String(v)
	case []any:
		items := make([]Value, len(v))
		for i, item := range v {
			items[i] = FromAny(item)
		}
		return Array(items...)
	case map[string]any:
		fields := make(map[string]Value, len(v))
		for k, item := range v {
			fields[k] = FromAny(item)
		}
		return Object(fields)
	case map[any]any:
		fields := make(map[string]Value, len(v))
		for k, item := range v {
			fields[FromAny(k).String()] = FromAny(item)
		}
		return Object(fields)
	default:
		return Undefined()
	}
}

// Kind returns the variant held by v.
func (v Value) Kind() Kind { return v.kind }

// IsDefined reports whether v is anything other than Undefined.
func (v Value) IsDefined() bool { return v.kind != KindUndefined }

// Float returns the number held by v and whether v is a number.
func (v Value) Float() (float64, bool) {
	if v.kind != KindNumber {
		return 0, false
	}
	return v.num, true
}

// Str returns the string held by v and whether v is a string.
func (v Value) Str() (string, bool) {
	if v.kind != KindString {
		return "", false
	}
	return v.str, true
}

// Len returns the number of elements of an array or fields of an object.
func (v Value) Len() int {
	switch v.kind {
	case KindArray:
		return len(v.arr)
	case KindObject:
		return len(v.obj)
	default:
		return 0
	}
}

// Get returns a field of an object, or Undefined.
func (v Value) Get(key string) Value {
	if v.kind != KindObject {
		return Undefined()
	}
	return v.obj[key]
}

// Index returns an element of an array, or Undefined.
func (v Value) Index(i int) Value {
	if v.kind != KindArray || i < 0 || i >= len(v.arr) {
		return Undefined()
	}
	return v.arr[i]
}

// Lookup resolves a dotted path against v. "." (or "") is v itself. Each step
// selects an object field, an array index or the length of an array or string;
// any other step yields Undefined.
func (v Value) Lookup(path string) Value {
	if path == "" || path == "." {
		return v
	}
	cur := v
	for _, step := range strings.Split(path, ".") {
		cur = cur.step(step)
		if !cur.IsDefined() {
			return cur
		}
	}
	return cur
}

func (v Value) step(name string) Value {
	switch v.kind {
	case KindObject:
		return v.obj[name]
	case KindArray:
		if name == "length" {
			return Number(float64(len(v.arr)))
		}
		i, err := strconv.Atoi(name)
		if err != nil {
			return Undefined()
		}
		return v.Index(i)
	case KindString:
		if name == "length" {
			return Number(float64(len([]rune(v.str))))
		}
	}
	return Undefined()
}

// String renders v the way a template variable does: Undefined and Null are
// empty, numbers use JavaScript formatting, arrays are comma joined and
// objects render as "[object Object]".
func (v Value) String() string {
	switch v.kind {
	case KindBool:
		return strconv.FormatBool(v.b)
	case KindNumber:
		return formatNumber(v.num)
	case KindString:
		return v.str
	case KindArray:
		parts := make([]string, len(v.arr))
		for i, item := range v.arr {
			parts[i] = item.String()
		}
		return strings.Join(parts, ",")
	case KindObject:
		return "[object Object]"
	default:
		return ""
	}
}

// ToNumber converts v to a number following JavaScript Number() semantics.
// The result is NaN when v has no numeric interpretation.
func (v Value) ToNumber() float64 {
	switch v.kind {
	case KindNull:
		return 0
	case KindBool:
		if v.b {
			return 1
		}
		return 0
	case KindNumber:
		return v.num
	case KindString:
		f, _ := parseNumber(v.str)
		return f
	case KindArray:
		f, _ := parseNumber(v.String())
		return f
	default:
		return math.NaN()
	}
}
