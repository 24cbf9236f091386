// Package routing resolves a routing strategy against a principal.
//
// A strategy is a dotted attribute path such as "user.id" or
// "user.profile.team". The leading "user" segment names the principal
// itself and is dropped. The empty strategy means broadcast and resolves
// to the empty key.
package routing

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
)

// ErrUnresolvable is returned when a strategy names an attribute the
// principal does not have.
var ErrUnresolvable = errors.New("routing strategy unresolvable")

// Attributer is implemented by values that expose named attributes.
type Attributer interface {
	Attribute(name string) (any, bool)
}

// Resolve walks strategy against principal and returns the resulting value
// as a string. Nil values resolve to "".
func Resolve(principal any, strategy string) (string, error) {
	if strategy == "" {
		return "", nil
	}
	segments, err := split(strategy)
	if err != nil {
		return "", err
	}

	cur := principal
	for _, seg := range segments {
		next, ok := lookup(cur, seg)
		if !ok {
			return "", fmt.Errorf("%w: %q has no attribute %q", ErrUnresolvable, strategy, seg)
		}
		cur = next
	}
	if cur == nil {
		return "", nil
	}
	return fmt.Sprint(cur), nil
}

// Validate checks strategy against sample, a principal with no custom
// attributes, as far as that is possible before a real principal exists.
// Paths that start at a field sample has must resolve fully; other paths
// name per-principal attributes and only need to be well formed.
func Validate(sample any, strategy string) error {
	if strategy == "" {
		return nil
	}
	segments, err := split(strategy)
	if err != nil || len(segments) == 0 {
		return err
	}
	if _, ok := lookup(sample, segments[0]); !ok {
		return nil
	}
	_, err = Resolve(sample, strategy)
	return err
}

// split drops the leading "user" segment and rejects empty segments.
func split(strategy string) ([]string, error) {
	segments := strings.Split(strategy, ".")
	if segments[0] == "user" {
		segments = segments[1:]
	}
	for _, seg := range segments {
		if seg == "" {
			return nil, fmt.Errorf("%w: empty segment in %q", ErrUnresolvable, strategy)
		}
	}
	return segments, nil
}

func lookup(v any, name string) (any, bool) {
	switch t := v.(type) {
	case nil:
		return nil, false
	case Attributer:
		return t.Attribute(name)
	case map[string]any:
		x, ok := t[name]
		return x, ok
	case map[string]string:
		x, ok := t[name]
		return x, ok
	}

	rv := reflect.ValueOf(v)
	for rv.Kind() == reflect.Pointer || rv.Kind() == reflect.Interface {
		if rv.IsNil() {
			return nil, false
		}
		rv = rv.Elem()
	}
	switch rv.Kind() {
	case reflect.Struct:
		return structField(rv, name)
	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			return nil, false
		}
		x := rv.MapIndex(reflect.ValueOf(name).Convert(rv.Type().Key()))
		if !x.IsValid() {
			return nil, false
		}
		return x.Interface(), true
	}
	return nil, false
}

// structField matches an exported field by name or json tag, ignoring case.
func structField(rv reflect.Value, name string) (any, bool) {
	rt := rv.Type()
	for i := 0; i < rt.NumField(); i++ {
		f := rt.Field(i)
		if !f.IsExported() {
			continue
		}
		tag := strings.Split(f.Tag.Get("json"), ",")[0]
		if strings.EqualFold(f.Name, name) || (tag != "" && tag == name) {
			return rv.Field(i).Interface(), true
		}
	}
	return nil, false
}
