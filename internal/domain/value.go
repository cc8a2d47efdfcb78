package domain

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
)

// Kind is the discriminator of a typed parameter value.
type Kind string

const (
	KindString  Kind = "string"
	KindBoolean Kind = "boolean"
	KindFile    Kind = "file"
	KindFloat   Kind = "float"
	KindInteger Kind = "integer"
	KindList    Kind = "list"
)

// Kinds returns every supported kind in a stable order.
func Kinds() []Kind {
	return []Kind{KindString, KindBoolean, KindFile, KindFloat, KindInteger, KindList}
}

// ParseKind maps a free-form kind name to a Kind.
func ParseKind(value string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "string", "str":
		return KindString, nil
	case "boolean", "bool":
		return KindBoolean, nil
	case "file", "path":
		return KindFile, nil
	case "float", "number":
		return KindFloat, nil
	case "integer", "int":
		return KindInteger, nil
	case "list", "array":
		return KindList, nil
	default:
		return "", fmt.Errorf("unknown kind %q", value)
	}
}

func (k Kind) Valid() bool {
	for _, known := range Kinds() {
		if k == known {
			return true
		}
	}
	return false
}

// Numeric reports whether bounds apply to values of this kind.
func (k Kind) Numeric() bool {
	return k == KindInteger || k == KindFloat
}

// Textual reports whether choices apply to values of this kind.
func (k Kind) Textual() bool {
	return k == KindString
}

// Value is a tagged variant over the supported parameter kinds. Only the field
// matching Kind is meaningful.
type Value struct {
	Kind    Kind
	Str     string
	Bool    bool
	Integer int64
	Float   float64
	List    []Value
}

func StringValue(s string) Value  { return Value{Kind: KindString, Str: s} }
func FileValue(path string) Value { return Value{Kind: KindFile, Str: path} }
func BoolValue(b bool) Value      { return Value{Kind: KindBoolean, Bool: b} }
func IntegerValue(i int64) Value  { return Value{Kind: KindInteger, Integer: i} }

// FloatValue folds negative zero into zero so equal values hash equally.
func FloatValue(f float64) Value {
	if f == 0 {
		f = 0
	}
	return Value{Kind: KindFloat, Float: f}
}

func ListValue(items ...Value) Value { return Value{Kind: KindList, List: items} }

// Number returns the numeric value for integer and float kinds.
func (v Value) Number() (float64, bool) {
	switch v.Kind {
	case KindInteger:
		return float64(v.Integer), true
	case KindFloat:
		return v.Float, true
	default:
		return 0, false
	}
}

// Interface returns the plain Go representation used for JSON and executors.
func (v Value) Interface() any {
	switch v.Kind {
	case KindString, KindFile:
		return v.Str
	case KindBoolean:
		return v.Bool
	case KindInteger:
		return v.Integer
	case KindFloat:
		if v.Float == 0 {
			return 0.0
		}
		return v.Float
	case KindList:
		out := make([]any, 0, len(v.List))
		for _, item := range v.List {
			out = append(out, item.Interface())
		}
		return out
	default:
		return nil
	}
}

func (v Value) String() string {
	switch v.Kind {
	case KindString, KindFile:
		return v.Str
	case KindBoolean:
		return strconv.FormatBool(v.Bool)
	case KindInteger:
		return strconv.FormatInt(v.Integer, 10)
	case KindFloat:
		return strconv.FormatFloat(v.Float, 'g', -1, 64)
	case KindList:
		parts := make([]string, 0, len(v.List))
		for _, item := range v.List {
			parts = append(parts, item.String())
		}
		return "[" + strings.Join(parts, ",") + "]"
	default:
		return ""
	}
}

func (v Value) Equal(other Value) bool {
	if v.Kind != other.Kind {
		return false
	}
	switch v.Kind {
	case KindString, KindFile:
		return v.Str == other.Str
	case KindBoolean:
		return v.Bool == other.Bool
	case KindInteger:
		return v.Integer == other.Integer
	case KindFloat:
		return v.Float == other.Float
	case KindList:
		if len(v.List) != len(other.List) {
			return false
		}
		for i := range v.List {
			if !v.List[i].Equal(other.List[i]) {
				return false
			}
		}
		return true
	default:
		return true
	}
}

type valuePayload struct {
	Kind  Kind            `json:"kind"`
	Value json.RawMessage `json:"value"`
}

func (v Value) MarshalJSON() ([]byte, error) {
	var raw []byte
	var err error
	switch v.Kind {
	case KindList:
		items := v.List
		if items == nil {
			items = []Value{}
		}
		raw, err = json.Marshal(items)
	case KindString, KindFile, KindBoolean, KindInteger, KindFloat:
		raw, err = json.Marshal(v.Interface())
	default:
		return nil, fmt.Errorf("marshal value: unknown kind %q", v.Kind)
	}
	if err != nil {
		return nil, err
	}
	return json.Marshal(valuePayload{Kind: v.Kind, Value: raw})
}

func (v *Value) UnmarshalJSON(data []byte) error {
	var payload valuePayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return err
	}
	out := Value{Kind: payload.Kind}
	var err error
	switch payload.Kind {
	case KindString, KindFile:
		err = json.Unmarshal(payload.Value, &out.Str)
	case KindBoolean:
		err = json.Unmarshal(payload.Value, &out.Bool)
	case KindInteger:
		err = json.Unmarshal(payload.Value, &out.Integer)
	case KindFloat:
		err = json.Unmarshal(payload.Value, &out.Float)
	case KindList:
		err = json.Unmarshal(payload.Value, &out.List)
	default:
		return fmt.Errorf("unmarshal value: unknown kind %q", payload.Kind)
	}
	if err != nil {
		return fmt.Errorf("unmarshal %s value: %w", payload.Kind, err)
	}
	*v = out
	return nil
}

// ErrKindMismatch is returned when a raw value cannot represent the requested kind.
var ErrKindMismatch = errors.New("kind mismatch")

// ValueFromInterface coerces a decoded JSON/YAML or native Go value into a
// Value of the requested kind. elem is the element kind for lists.
func ValueFromInterface(kind, elem Kind, raw any) (Value, error) {
	if existing, ok := raw.(Value); ok {
		if existing.Kind != kind {
			return Value{}, fmt.Errorf("%w: have %s, want %s", ErrKindMismatch, existing.Kind, kind)
		}
		return existing, nil
	}
	switch kind {
	case KindString, KindFile:
		s, ok := raw.(string)
		if !ok {
			return Value{}, mismatch(kind, raw)
		}
		return Value{Kind: kind, Str: s}, nil
	case KindBoolean:
		b, ok := raw.(bool)
		if !ok {
			return Value{}, mismatch(kind, raw)
		}
		return BoolValue(b), nil
	case KindInteger:
		i, ok := asInteger(raw)
		if !ok {
			return Value{}, mismatch(kind, raw)
		}
		return IntegerValue(i), nil
	case KindFloat:
		f, ok := asFloat(raw)
		if !ok {
			return Value{}, mismatch(kind, raw)
		}
		return FloatValue(f), nil
	case KindList:
		items, ok := asSlice(raw)
		if !ok {
			return Value{}, mismatch(kind, raw)
		}
		if elem == KindList || !elem.Valid() {
			return Value{}, fmt.Errorf("%w: invalid list element kind %q", ErrKindMismatch, elem)
		}
		out := make([]Value, 0, len(items))
		for i, item := range items {
			v, err := ValueFromInterface(elem, "", item)
			if err != nil {
				return Value{}, fmt.Errorf("element %d: %w", i, err)
			}
			out = append(out, v)
		}
		return ListValue(out...), nil
	default:
		return Value{}, fmt.Errorf("%w: unknown kind %q", ErrKindMismatch, kind)
	}
}

func mismatch(kind Kind, raw any) error {
	return fmt.Errorf("%w: %T is not a %s", ErrKindMismatch, raw, kind)
}

func asInteger(raw any) (int64, bool) {
	switch t := raw.(type) {
	case int:
		return int64(t), true
	case int8:
		return int64(t), true
	case int16:
		return int64(t), true
	case int32:
		return int64(t), true
	case int64:
		return t, true
	case uint:
		if uint64(t) > math.MaxInt64 {
			return 0, false
		}
		return int64(t), true
	case uint64:
		if t > math.MaxInt64 {
			return 0, false
		}
		return int64(t), true
	case uint8:
		return int64(t), true
	case uint16:
		return int64(t), true
	case uint32:
		return int64(t), true
	case float64:
		if t != math.Trunc(t) || math.IsInf(t, 0) || math.IsNaN(t) {
			return 0, false
		}
		// float64(math.MaxInt64) rounds up to 2^63, which does not fit.
		if t >= math.MaxInt64 || t < math.MinInt64 {
			return 0, false
		}
		return int64(t), true
	case float32:
		return asInteger(float64(t))
	case json.Number:
		if i, err := t.Int64(); err == nil {
			return i, true
		}
		f, err := t.Float64()
		if err != nil {
			return 0, false
		}
		return asInteger(f)
	default:
		return 0, false
	}
}

func asFloat(raw any) (float64, bool) {
	switch t := raw.(type) {
	case float64:
		return t, true
	case float32:
		return float64(t), true
	case json.Number:
		f, err := t.Float64()
		return f, err == nil
	default:
		if i, ok := asInteger(raw); ok {
			return float64(i), true
		}
		return 0, false
	}
}

func asSlice(raw any) ([]any, bool) {
	switch t := raw.(type) {
	case []any:
		return t, true
	case []string:
		out := make([]any, 0, len(t))
		for _, s := range t {
			out = append(out, s)
		}
		return out, true
	case []int:
		out := make([]any, 0, len(t))
		for _, i := range t {
			out = append(out, i)
		}
		return out, true
	case []int64:
		out := make([]any, 0, len(t))
		for _, i := range t {
			out = append(out, i)
		}
		return out, true
	case []float64:
		out := make([]any, 0, len(t))
		for _, f := range t {
			out = append(out, f)
		}
		return out, true
	case []bool:
		out := make([]any, 0, len(t))
		for _, b := range t {
			out = append(out, b)
		}
		return out, true
	default:
		return nil, false
	}
}

// Configuration is a resolved key to value map.
type Configuration map[string]Value

func (c Configuration) Keys() []string {
	keys := make([]string, 0, len(c))
	for k := range c {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (c Configuration) Equal(other Configuration) bool {
	if len(c) != len(other) {
		return false
	}
	for k, v := range c {
		o, ok := other[k]
		if !ok || !v.Equal(o) {
			return false
		}
	}
	return true
}

// Interface returns the plain map passed to executors and JSON responses.
func (c Configuration) Interface() map[string]any {
	out := make(map[string]any, len(c))
	for k, v := range c {
		out[k] = v.Interface()
	}
	return out
}

// Hash returns the sha256 of the canonical JSON encoding. Map keys are sorted
// by encoding/json, so equal configurations always hash equally.
func (c Configuration) Hash() (string, error) {
	if c == nil {
		c = Configuration{}
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(map[string]Value(c)); err != nil {
		return "", fmt.Errorf("encode configuration: %w", err)
	}
	sum := sha256.Sum256(bytes.TrimSpace(buf.Bytes()))
	return hex.EncodeToString(sum[:]), nil
}
