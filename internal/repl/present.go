package repl

import (
	"context"
	"fmt"
	"reflect"
	"strconv"
	"strings"
)

// Describer is implemented by element handles.
type Describer interface {
	Describe(ctx context.Context) (string, error)
}

// Awaiter is implemented by futures.
type Awaiter interface {
	AwaitAny(ctx context.Context) (any, error)
}

// Present prepares a result for display: a future is awaited first, then element handles
// are replaced by their descriptions, including inside slices and arrays. Other containers
// are left alone.
func Present(ctx context.Context, v any) (any, error) {
	if a, ok := v.(Awaiter); ok {
		res, err := a.AwaitAny(ctx)
		if err != nil {
			return nil, err
		}
		v = res
	}
	return describeDeep(ctx, v)
}

func describeDeep(ctx context.Context, v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Interface, reflect.Map, reflect.Func, reflect.Chan:
		if rv.IsNil() {
			return nil, nil
		}
	}
	if d, ok := v.(Describer); ok {
		return d.Describe(ctx)
	}
	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		if rv.Kind() == reflect.Slice && rv.IsNil() {
			return v, nil
		}
		if rv.Type().Elem().Kind() == reflect.Uint8 {
			return v, nil
		}
		out := make([]any, rv.Len())
		for i := range out {
			elem := rv.Index(i)
			if !elem.CanInterface() {
				out[i] = elem.String()
				continue
			}
			d, err := describeDeep(ctx, elem.Interface())
			if err != nil {
				return nil, err
			}
			out[i] = d
		}
		return out, nil
	}
	return v, nil
}

// Format renders a presented value: strings quoted, sequences bracketed.
func Format(v any) string {
	switch x := v.(type) {
	case nil:
		return "nil"
	case string:
		return strconv.Quote(x)
	case []byte:
		return fmt.Sprintf("<%d bytes>", len(x))
	case []any:
		parts := make([]string, len(x))
		for i, e := range x {
			parts[i] = Format(e)
		}
		return "[" + strings.Join(parts, ", ") + "]"
	case error:
		return fmt.Sprintf("%+v", x)
	}
	return fmt.Sprintf("%+v", v)
}
