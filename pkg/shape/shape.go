// Package shape checks untrusted JSON against an expected structure before it is
// decoded into a Go type.
//
// A Predicate inspects a parsed but untyped value. Decode turns a Predicate into a
// Decoder that either yields a fully decoded T or reports why it could not.
package shape

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"

	"github.com/tidwall/gjson"
)

var (
	// ErrInvalidJSON means the input is not valid JSON.
	ErrInvalidJSON = errors.New("invalid JSON")
	// ErrShapeMismatch means the input is JSON but not of the expected shape.
	ErrShapeMismatch = errors.New("unexpected shape")
)

// Predicate reports whether v has the expected shape. Predicates must be pure.
type Predicate func(v gjson.Result) bool

// Decoder converts raw JSON into a validated T.
type Decoder[T any] func(data []byte) (T, error)

// Decode builds a Decoder that validates with p and then unmarshals into T.
func Decode[T any](p Predicate) Decoder[T] {
	return func(data []byte) (T, error) {
		var out T
		if !gjson.ValidBytes(data) {
			return out, ErrInvalidJSON
		}
		if !p(gjson.ParseBytes(data)) {
			return out, ErrShapeMismatch
		}
		if err := json.Unmarshal(data, &out); err != nil {
			return out, fmt.Errorf("%w: %v", ErrShapeMismatch, err)
		}
		return out, nil
	}
}

// Is reports whether data is valid JSON satisfying p.
func Is(data []byte, p Predicate) bool {
	return gjson.ValidBytes(data) && p(gjson.ParseBytes(data))
}

// String matches JSON strings.
func String(v gjson.Result) bool { return v.Type == gjson.String }

// Number matches JSON numbers.
func Number(v gjson.Result) bool { return v.Type == gjson.Number }

// EpochMillis converts a JSON number of epoch milliseconds to int64. Any value
// Number accepts converts: fractions are floored and values outside the int64
// range saturate.
func EpochMillis(n json.Number) (int64, error) {
	if i, err := n.Int64(); err == nil {
		return i, nil
	}
	f, err := strconv.ParseFloat(string(n), 64)
	if err != nil && !errors.Is(err, strconv.ErrRange) {
		return 0, fmt.Errorf("%w: %v", ErrShapeMismatch, err)
	}
	switch {
	case math.IsNaN(f):
		return 0, fmt.Errorf("%w: %s is not a number", ErrShapeMismatch, n)
	case f >= math.MaxInt64:
		return math.MaxInt64, nil
	case f <= math.MinInt64:
		return math.MinInt64, nil
	}
	return int64(math.Floor(f)), nil
}

// Bool matches true and false.
func Bool(v gjson.Result) bool { return v.Type == gjson.True || v.Type == gjson.False }

// Any matches every present value, including null.
func Any(v gjson.Result) bool { return v.Exists() }

// FieldRule constrains one member of an object.
type FieldRule struct {
	name     string
	check    Predicate
	optional bool
}

// Field requires member name to be present and to satisfy p.
func Field(name string, p Predicate) FieldRule {
	return FieldRule{name: name, check: p}
}

// Optional allows member name to be missing or null; when present it must satisfy p.
func Optional(name string, p Predicate) FieldRule {
	return FieldRule{name: name, check: p, optional: true}
}

// Object matches JSON objects whose members satisfy every rule. Unlisted members are
// ignored, so Object() with no rules matches any object.
func Object(rules ...FieldRule) Predicate {
	return func(v gjson.Result) bool {
		if !v.IsObject() {
			return false
		}
		for _, r := range rules {
			m, ok := member(v, r.name)
			if !ok || m.Type == gjson.Null {
				if r.optional {
					continue
				}
				return false
			}
			if !r.check(m) {
				return false
			}
		}
		return true
	}
}

// ArrayOf matches arrays whose every element satisfies p.
func ArrayOf(p Predicate) Predicate {
	return func(v gjson.Result) bool {
		if !v.IsArray() {
			return false
		}
		ok := true
		v.ForEach(func(_, elem gjson.Result) bool {
			ok = p(elem)
			return ok
		})
		return ok
	}
}

// MapOf matches objects whose every member value satisfies p.
func MapOf(p Predicate) Predicate {
	return func(v gjson.Result) bool {
		if !v.IsObject() {
			return false
		}
		ok := true
		v.ForEach(func(_, elem gjson.Result) bool {
			ok = p(elem)
			return ok
		})
		return ok
	}
}

// OneOf matches strings equal to one of values.
func OneOf(values ...string) Predicate {
	return func(v gjson.Result) bool {
		if v.Type != gjson.String {
			return false
		}
		for _, s := range values {
			if v.Str == s {
				return true
			}
		}
		return false
	}
}

// member looks a key up literally; gjson paths would treat dots and wildcards specially.
func member(obj gjson.Result, name string) (gjson.Result, bool) {
	var found gjson.Result
	ok := false
	obj.ForEach(func(key, value gjson.Result) bool {
		if key.Str == name {
			found, ok = value, true
			return false
		}
		return true
	})
	return found, ok
}
