package model

import (
	"bytes"
	"fmt"
	"math"
	"time"
)

// Kind identifies the active variant of a Value.
type Kind int

const (
	KindNull Kind = iota
	KindBoolean
	KindInteger
	KindDouble
	KindTimestamp
	KindString
	KindBytes
	KindReference
	KindGeoPoint
	KindArray
	KindMap
)

var kindNames = [...]string{
	KindNull:      "null",
	KindBoolean:   "boolean",
	KindInteger:   "integer",
	KindDouble:    "double",
	KindTimestamp: "timestamp",
	KindString:    "string",
	KindBytes:     "bytes",
	KindReference: "reference",
	KindGeoPoint:  "geopoint",
	KindArray:     "array",
	KindMap:       "map",
}

func (k Kind) String() string {
	if k < 0 || int(k) >= len(kindNames) {
		return fmt.Sprintf("kind(%d)", int(k))
	}
	return kindNames[k]
}

// GeoPoint is a latitude/longitude pair in degrees.
type GeoPoint struct {
	Latitude  float64
	Longitude float64
}

// Value is a tagged union over the field types a document can hold.
// The zero Value is a null.
//
// Accessors return ErrWrongKind when the requested variant is not the
// active one.
type Value struct {
	kind Kind

	b   bool
	i   int64
	f   float64
	s   string // string and reference
	t   time.Time
	raw []byte
	geo GeoPoint
	arr []Value
	m   map[string]Value
}

func Null() Value                    { return Value{kind: KindNull} }
func Boolean(v bool) Value           { return Value{kind: KindBoolean, b: v} }
func Integer(v int64) Value          { return Value{kind: KindInteger, i: v} }
func Double(v float64) Value         { return Value{kind: KindDouble, f: v} }
func Timestamp(v time.Time) Value    { return Value{kind: KindTimestamp, t: v} }
func String(v string) Value          { return Value{kind: KindString, s: v} }
func Reference(name string) Value    { return Value{kind: KindReference, s: name} }
func GeoPointValue(p GeoPoint) Value { return Value{kind: KindGeoPoint, geo: p} }

// Bytes copies v.
func Bytes(v []byte) Value {
	return Value{kind: KindBytes, raw: bytes.Clone(v)}
}

// Array builds an array value. The slice is copied.
func Array(values ...Value) Value {
	arr := make([]Value, len(values))
	for i, v := range values {
		arr[i] = v.Clone()
	}
	return Value{kind: KindArray, arr: arr}
}

// Map builds a map value. The map is copied.
func Map(fields map[string]Value) Value {
	m := make(map[string]Value, len(fields))
	for k, v := range fields {
		m[k] = v.Clone()
	}
	return Value{kind: KindMap, m: m}
}

// Kind returns the active variant.
func (v Value) Kind() Kind { return v.kind }

// IsNull reports whether v holds a null.
func (v Value) IsNull() bool { return v.kind == KindNull }

func (v Value) check(want Kind) error {
	if v.kind != want {
		return fmt.Errorf("%w: want %s, have %s", ErrWrongKind, want, v.kind)
	}
	return nil
}

func (v Value) AsBoolean() (bool, error) {
	if err := v.check(KindBoolean); err != nil {
		return false, err
	}
	return v.b, nil
}

func (v Value) AsInteger() (int64, error) {
	if err := v.check(KindInteger); err != nil {
		return 0, err
	}
	return v.i, nil
}

func (v Value) AsDouble() (float64, error) {
	if err := v.check(KindDouble); err != nil {
		return 0, err
	}
	return v.f, nil
}

func (v Value) AsTimestamp() (time.Time, error) {
	if err := v.check(KindTimestamp); err != nil {
		return time.Time{}, err
	}
	return v.t, nil
}

func (v Value) AsString() (string, error) {
	if err := v.check(KindString); err != nil {
		return "", err
	}
	return v.s, nil
}

// AsBytes returns a copy of the bytes payload.
func (v Value) AsBytes() ([]byte, error) {
	if err := v.check(KindBytes); err != nil {
		return nil, err
	}
	return bytes.Clone(v.raw), nil
}

// AsReference returns the fully-qualified document name the value points at.
func (v Value) AsReference() (string, error) {
	if err := v.check(KindReference); err != nil {
		return "", err
	}
	return v.s, nil
}

func (v Value) AsGeoPoint() (GeoPoint, error) {
	if err := v.check(KindGeoPoint); err != nil {
		return GeoPoint{}, err
	}
	return v.geo, nil
}

// AsArray returns a copy of the elements.
func (v Value) AsArray() ([]Value, error) {
	if err := v.check(KindArray); err != nil {
		return nil, err
	}
	out := make([]Value, len(v.arr))
	for i, e := range v.arr {
		out[i] = e.Clone()
	}
	return out, nil
}

// AsMap returns a copy of the entries.
func (v Value) AsMap() (map[string]Value, error) {
	if err := v.check(KindMap); err != nil {
		return nil, err
	}
	out := make(map[string]Value, len(v.m))
	for k, e := range v.m {
		out[k] = e.Clone()
	}
	return out, nil
}

// Clone returns a deep copy of v.
func (v Value) Clone() Value {
	switch v.kind {
	case KindBytes:
		v.raw = bytes.Clone(v.raw)
	case KindArray:
		arr := make([]Value, len(v.arr))
		for i, e := range v.arr {
			arr[i] = e.Clone()
		}
		v.arr = arr
	case KindMap:
		m := make(map[string]Value, len(v.m))
		for k, e := range v.m {
			m[k] = e.Clone()
		}
		v.m = m
	}
	return v
}

// Equal reports whether v and o hold the same variant and payload.
func (v Value) Equal(o Value) bool {
	if v.kind != o.kind {
		return false
	}
	switch v.kind {
	case KindNull:
		return true
	case KindBoolean:
		return v.b == o.b
	case KindInteger:
		return v.i == o.i
	case KindDouble:
		return v.f == o.f
	case KindTimestamp:
		return v.t.Equal(o.t)
	case KindString, KindReference:
		return v.s == o.s
	case KindBytes:
		return bytes.Equal(v.raw, o.raw)
	case KindGeoPoint:
		return v.geo == o.geo
	case KindArray:
		if len(v.arr) != len(o.arr) {
			return false
		}
		for i := range v.arr {
			if !v.arr[i].Equal(o.arr[i]) {
				return false
			}
		}
		return true
	case KindMap:
		return fieldsEqual(v.m, o.m)
	}
	return false
}

// Interface returns the payload as a plain Go value, recursively.
// Used for JSON rendering.
func (v Value) Interface() any {
	switch v.kind {
	case KindBoolean:
		return v.b
	case KindInteger:
		return v.i
	case KindDouble:
		return v.f
	case KindTimestamp:
		return v.t
	case KindString, KindReference:
		return v.s
	case KindBytes:
		return bytes.Clone(v.raw)
	case KindGeoPoint:
		return map[string]any{"latitude": v.geo.Latitude, "longitude": v.geo.Longitude}
	case KindArray:
		out := make([]any, len(v.arr))
		for i, e := range v.arr {
			out[i] = e.Interface()
		}
		return out
	case KindMap:
		out := make(map[string]any, len(v.m))
		for k, e := range v.m {
			out[k] = e.Interface()
		}
		return out
	}
	return nil
}

// number is a JSON number literal kept as text, such as json.Number from
// a decoder with UseNumber.
type number interface {
	Int64() (int64, error)
	Float64() (float64, error)
}

// FromInterface converts decoded JSON-like data into a Value.
// Whole float64 numbers in the int64 range become integers. Number
// literals become integers when they parse as int64 and doubles
// otherwise.
func FromInterface(x any) (Value, error) {
	switch t := x.(type) {
	case nil:
		return Null(), nil
	case bool:
		return Boolean(t), nil
	case int:
		return Integer(int64(t)), nil
	case int32:
		return Integer(int64(t)), nil
	case int64:
		return Integer(t), nil
	case float64:
		if isWholeInt64(t) {
			return Integer(int64(t)), nil
		}
		return Double(t), nil
	case string:
		return String(t), nil
	case []byte:
		return Bytes(t), nil
	case time.Time:
		return Timestamp(t), nil
	case []any:
		arr := make([]Value, len(t))
		for i, e := range t {
			ev, err := FromInterface(e)
			if err != nil {
				return Value{}, err
			}
			arr[i] = ev
		}
		return Value{kind: KindArray, arr: arr}, nil
	case map[string]any:
		m := make(map[string]Value, len(t))
		for k, e := range t {
			ev, err := FromInterface(e)
			if err != nil {
				return Value{}, fmt.Errorf("field %q: %w", k, err)
			}
			m[k] = ev
		}
		return Value{kind: KindMap, m: m}, nil
	case number:
		if i, err := t.Int64(); err == nil {
			return Integer(i), nil
		}
		f, err := t.Float64()
		if err != nil {
			return Value{}, fmt.Errorf("invalid number %v: %w", t, err)
		}
		return Double(f), nil
	default:
		return Value{}, fmt.Errorf("unsupported value type %T", x)
	}
}

// isWholeInt64 reports whether f converts to int64 without loss. The
// conversion itself is implementation-defined outside [-2^63, 2^63).
func isWholeInt64(f float64) bool {
	return f == math.Trunc(f) && f >= math.MinInt64 && f < -math.MinInt64
}

func fieldsEqual(a, b map[string]Value) bool {
	if len(a) != len(b) {
		return false
	}
	for k, av := range a {
		bv, ok := b[k]
		if !ok || !av.Equal(bv) {
			return false
		}
	}
	return true
}
