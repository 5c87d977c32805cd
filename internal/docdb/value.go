// Path lookup, matching, field selection and deep copy of record values.

package docdb

import (
	"encoding/json"
	"math"
	"reflect"
	"slices"
	"strconv"
	"strings"
	"time"
)

// Record is one document. Nested objects are map[string]any and sequences are
// []any once stored.
type Record map[string]any

// Query maps a dotted field path to the value it must be strictly equal to.
type Query map[string]any

// Pair is one (path, expected value) condition of a query.
type Pair struct {
	Path  string
	Value any
}

// GetDeepValue returns the value at the dotted path in v.
//
// Segments are plain map keys; numeric looking segments do not index
// sequences. It returns false when the path is empty, a segment is empty or
// missing, or an intermediate value is not an object.
func GetDeepValue(v any, path string) (any, bool) {
	if path == "" {
		return nil, false
	}
	return GetDeepValueSegments(v, strings.Split(path, "."))
}

// GetDeepValueSegments is GetDeepValue with a pre-split path.
func GetDeepValueSegments(v any, segments []string) (any, bool) {
	if len(segments) == 0 {
		return nil, false
	}
	cur := v
	for _, seg := range segments {
		if seg == "" {
			return nil, false
		}
		m, ok := asObject(cur)
		if !ok || m == nil {
			return nil, false
		}
		if cur, ok = m[seg]; !ok {
			return nil, false
		}
	}
	return cur, true
}

// ToPairs converts q into conditions ordered by path. A nil or empty query
// yields no pairs.
func ToPairs(q Query) []Pair {
	if len(q) == 0 {
		return nil
	}
	pairs := make([]Pair, 0, len(q))
	for k, v := range q {
		pairs = append(pairs, Pair{Path: k, Value: v})
	}
	slices.SortFunc(pairs, func(a, b Pair) int { return strings.Compare(a.Path, b.Path) })
	return pairs
}

// Match reports whether every pair resolves in r to a strictly equal value.
// No pairs matches everything.
func Match(r any, pairs []Pair) bool {
	for _, p := range pairs {
		v, ok := GetDeepValue(r, p.Path)
		if !ok || !StrictEqual(v, p.Value) {
			return false
		}
	}
	return true
}

// StrictEqual compares two scalar values.
//
// Numbers compare by value whatever their Go kind, so a float64 decoded from
// JSON equals the int a caller queries with. Integers compare exactly, without
// going through float64. Times compare by instant. Objects
// and sequences are never equal to anything since stored values are always
// private copies.
func StrictEqual(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if na, ok := toNumber(a); ok {
		nb, ok := toNumber(b)
		return ok && na.equal(nb)
	}
	switch x := a.(type) {
	case string:
		y, ok := b.(string)
		return ok && x == y
	case bool:
		y, ok := b.(bool)
		return ok && x == y
	case time.Time:
		y, ok := b.(time.Time)
		return ok && x.Equal(y)
	}
	return false
}

// ComputeKeys returns the top-level keys of r selected by fields.
//
// fields is a whitespace separated list of names, each optionally prefixed
// with "-" to exclude it. Without any non-empty token all keys are returned.
// When at least one inclusion token is present exactly the inclusion tokens
// are returned in the given order and exclusions are ignored. Otherwise all
// keys except the excluded ones are returned. Keys of r are sorted.
func ComputeKeys(r Record, fields string) []string {
	tokens := strings.Fields(fields)
	all := make([]string, 0, len(r))
	for k := range r {
		all = append(all, k)
	}
	slices.Sort(all)
	if len(tokens) == 0 {
		return all
	}
	var included []string
	excluded := map[string]bool{}
	for _, tok := range tokens {
		if name, ok := strings.CutPrefix(tok, "-"); ok {
			excluded[name] = true
			continue
		}
		included = append(included, tok)
	}
	if len(included) != 0 {
		return included
	}
	out := all[:0]
	for _, k := range all {
		if !excluded[k] {
			out = append(out, k)
		}
	}
	return out
}

// CopyRecord deep copies r keeping the top-level keys selected by fields.
// Selected keys missing from r, or holding values that cannot be copied, are
// left out. A nil record copies to nil.
func CopyRecord(r Record, fields string) Record {
	if r == nil {
		return nil
	}
	out := make(Record, len(r))
	for _, k := range ComputeKeys(r, fields) {
		v, ok := r[k]
		if !ok {
			continue
		}
		if c, ok := DeepCopy(v); ok {
			out[k] = c
		}
	}
	return out
}

// DeepCopy returns a copy of v sharing no mutable state with it.
//
// Scalars and nil are returned as is. Objects become map[string]any and
// sequences []any, copied recursively. Any other value (structs, channels,
// funcs, maps with non-string keys) cannot be copied and false is returned.
func DeepCopy(v any) (any, bool) {
	switch x := v.(type) {
	case nil:
		return nil, true
	case bool, string, json.Number,
		int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64,
		float32, float64:
		return x, true
	case time.Time:
		return x, true
	case *time.Time:
		if x == nil {
			return nil, true
		}
		return *x, true
	case Record:
		return copyObject(x), true
	case map[string]any:
		return copyObject(x), true
	case []any:
		return copySequence(x), true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() { //nolint:exhaustive // Only containers are converted; default rejects the rest
	case reflect.Slice, reflect.Array:
		if rv.Kind() == reflect.Slice && rv.IsNil() {
			return []any(nil), true
		}
		out := make([]any, rv.Len())
		for i := range out {
			out[i], _ = DeepCopy(rv.Index(i).Interface())
		}
		return out, true
	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			return nil, false
		}
		out := make(map[string]any, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			if c, ok := DeepCopy(iter.Value().Interface()); ok {
				out[iter.Key().String()] = c
			}
		}
		return out, true
	case reflect.Pointer:
		if rv.IsNil() {
			return nil, true
		}
		return DeepCopy(rv.Elem().Interface())
	default:
		return nil, false
	}
}

func copyObject[M ~map[string]any](m M) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		if c, ok := DeepCopy(v); ok {
			out[k] = c
		}
	}
	return out
}

// copySequence keeps positions: elements that cannot be copied become nil.
func copySequence(s []any) []any {
	if s == nil {
		return nil
	}
	out := make([]any, len(s))
	for i, v := range s {
		out[i], _ = DeepCopy(v)
	}
	return out
}

func asObject(v any) (map[string]any, bool) {
	switch x := v.(type) {
	case map[string]any:
		return x, true
	case Record:
		return x, true
	}
	return nil, false
}

type numKind int

const (
	signedNum numKind = iota + 1
	unsignedNum
	floatNum
)

// number is a numeric value in the widest representation of its kind.
type number struct {
	kind numKind
	i    int64
	u    uint64
	f    float64
}

func toNumber(v any) (number, bool) {
	switch x := v.(type) {
	case int:
		return number{kind: signedNum, i: int64(x)}, true
	case int8:
		return number{kind: signedNum, i: int64(x)}, true
	case int16:
		return number{kind: signedNum, i: int64(x)}, true
	case int32:
		return number{kind: signedNum, i: int64(x)}, true
	case int64:
		return number{kind: signedNum, i: x}, true
	case uint:
		return number{kind: unsignedNum, u: uint64(x)}, true
	case uint8:
		return number{kind: unsignedNum, u: uint64(x)}, true
	case uint16:
		return number{kind: unsignedNum, u: uint64(x)}, true
	case uint32:
		return number{kind: unsignedNum, u: uint64(x)}, true
	case uint64:
		return number{kind: unsignedNum, u: x}, true
	case float32:
		return number{kind: floatNum, f: float64(x)}, true
	case float64:
		return number{kind: floatNum, f: x}, true
	case json.Number:
		if i, err := x.Int64(); err == nil {
			return number{kind: signedNum, i: i}, true
		}
		if u, err := strconv.ParseUint(string(x), 10, 64); err == nil {
			return number{kind: unsignedNum, u: u}, true
		}
		f, err := x.Float64()
		return number{kind: floatNum, f: f}, err == nil
	}
	return number{}, false
}

func (n number) equal(o number) bool {
	if n.kind > o.kind {
		n, o = o, n
	}
	switch n.kind {
	case signedNum:
		switch o.kind {
		case signedNum:
			return n.i == o.i
		case unsignedNum:
			return n.i >= 0 && uint64(n.i) == o.u
		case floatNum:
			// 2^63 itself is out of range.
			return o.f == math.Trunc(o.f) && o.f >= math.MinInt64 && o.f < math.MaxInt64 && int64(o.f) == n.i
		}
	case unsignedNum:
		switch o.kind {
		case unsignedNum:
			return n.u == o.u
		case floatNum:
			return o.f == math.Trunc(o.f) && o.f >= 0 && o.f < math.MaxUint64 && uint64(o.f) == n.u
		}
	case floatNum:
		return n.f == o.f
	}
	return false
}
