package stacktrace

import (
	"reflect"
	"strings"
)

// Method is a slot in a method table: a struct whose fields are the operations of some
// type. Callers invoke Fn; WrapOwnMethods replaces Fn with a repairing wrapper and keeps the
// original so that wrapping twice is a no-op.
type Method[F any] struct {
	Fn   F
	orig *F
}

// M returns a method slot holding fn.
func M[F any](fn F) Method[F] {
	return Method[F]{Fn: fn}
}

// Original returns the unwrapped function.
func (m *Method[F]) Original() F {
	if m.orig != nil {
		return *m.orig
	}
	return m.Fn
}

// Wrapped reports whether the slot holds a repairing wrapper.
func (m *Method[F]) Wrapped() bool { return m.orig != nil }

func (m *Method[F]) wrapMethod() {
	if m.orig != nil {
		return
	}
	o := m.Fn
	m.orig = &o
	m.Fn = wrap(o)
}

type methodSlot interface {
	wrapMethod()
}

// WrapOwnMethods wraps, in place, every Method field of the struct table points to.
// Unexported fields and fields whose name ends in "_" are internal and left alone. It must
// run before the table is used concurrently.
func WrapOwnMethods[T any](table *T) *T {
	if !Enabled() || table == nil {
		return table
	}
	v := reflect.ValueOf(table).Elem()
	if v.Kind() != reflect.Struct {
		return table
	}
	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		if !f.IsExported() || strings.HasSuffix(f.Name, "_") {
			continue
		}
		if slot, ok := v.Field(i).Addr().Interface().(methodSlot); ok {
			slot.wrapMethod()
		}
	}
	return table
}
