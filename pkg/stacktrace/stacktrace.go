// Package stacktrace makes failures of asynchronous operations point back at their callers.
//
// An operation that hands its work to another goroutine (a future, a CDP round trip) fails
// with an error that knows nothing about who asked for the work. When repair is enabled,
// wrapped functions capture the caller's stack at invocation time and, if the operation
// later fails, append it to the error as lines starting with "at [enhanced]".
//
// Repair is off by default. While off, Func and WrapOwnMethods return their argument
// unchanged, so there is no cost at all.
package stacktrace

import (
	"errors"
	"fmt"
	"io"
	"reflect"
	"runtime"
	"strings"
	"sync/atomic"
)

const maxDepth = 32

// EnhancedMarker prefixes every spliced-in frame.
const EnhancedMarker = "[enhanced]"

var (
	enabled atomic.Bool

	selfPkg   = reflect.TypeOf(Origin{}).PkgPath() + "."
	errorType = reflect.TypeOf((*error)(nil)).Elem()
)

// SetEnabled turns repair on or off for functions wrapped afterwards.
func SetEnabled(on bool) { enabled.Store(on) }

// Enabled reports whether repair is on.
func Enabled() bool { return enabled.Load() }

// Repairable is implemented by future-like results. WithRepair must return a value of the
// same concrete type whose failure has been passed through fix.
type Repairable interface {
	WithRepair(fix func(error) error) any
}

// Exempt marks results that are returned untouched even if they look Repairable, such as
// the session handle whose own methods are wrapped separately.
type Exempt interface {
	StackRepairExempt()
}

type stacker interface {
	Stack() string
}

// Origin is the call stack captured when a wrapped function was invoked.
type Origin struct {
	pcs []uintptr
}

// Capture records the caller's stack, skipping skip additional frames.
func Capture(skip int) *Origin {
	pcs := make([]uintptr, maxDepth)
	n := runtime.Callers(skip+2, pcs)
	return &Origin{pcs: pcs[:n]}
}

// String renders the origin as "at [enhanced]" lines, leaving out frames of this package
// and of reflect.
func (o *Origin) String() string {
	if o == nil || len(o.pcs) == 0 {
		return ""
	}
	var b strings.Builder
	frames := runtime.CallersFrames(o.pcs)
	for {
		fr, more := frames.Next()
		if !internalFrame(fr.Function) {
			if b.Len() > 0 {
				b.WriteByte('\n')
			}
			fmt.Fprintf(&b, "    at %s %s (%s:%d)", EnhancedMarker, fr.Function, fr.File, fr.Line)
		}
		if !more {
			break
		}
	}
	return b.String()
}

func internalFrame(fn string) bool {
	return fn == "" ||
		strings.HasPrefix(fn, selfPkg) ||
		strings.HasPrefix(fn, "reflect.") ||
		fn == "runtime.goexit"
}

// Error is an error carrying a repaired stack.
type Error struct {
	err   error
	stack string
}

func (e *Error) Error() string { return e.err.Error() }

func (e *Error) Unwrap() error { return e.err }

// Stack returns the error's own stack (if it had one) followed by the enhanced frames.
func (e *Error) Stack() string { return e.stack }

// Format prints the stack with %+v.
func (e *Error) Format(s fmt.State, verb rune) {
	switch verb {
	case 'v':
		if s.Flag('+') {
			_, _ = io.WriteString(s, e.Error())
			if e.stack != "" {
				_, _ = io.WriteString(s, "\n"+e.stack)
			}
			return
		}
		_, _ = io.WriteString(s, e.Error())
	case 's':
		_, _ = io.WriteString(s, e.Error())
	case 'q':
		fmt.Fprintf(s, "%q", e.Error())
	}
}

// Repair appends origin to err's stack. An err whose stack already ends with the same
// origin is returned as is.
func Repair(err error, origin *Origin) error {
	if err == nil {
		return nil
	}
	extra := origin.String()
	if extra == "" {
		return err
	}
	var base string
	var st stacker
	if errors.As(err, &st) {
		base = st.Stack()
	}
	if strings.HasSuffix(base, extra) {
		return err
	}
	stack := extra
	if base != "" {
		stack = base + "\n" + extra
	}
	if e, ok := err.(*Error); ok {
		return &Error{err: e.err, stack: stack}
	}
	return &Error{err: err, stack: stack}
}

// Func wraps fn, which must be a function, when repair is enabled.
func Func[F any](fn F) F {
	if !Enabled() {
		return fn
	}
	return wrap(fn)
}

func wrap[F any](fn F) F {
	v := reflect.ValueOf(fn)
	if v.Kind() != reflect.Func || v.IsNil() {
		return fn
	}
	t := v.Type()
	w := reflect.MakeFunc(t, func(args []reflect.Value) []reflect.Value {
		origin := Capture(0)
		var out []reflect.Value
		if t.IsVariadic() {
			out = v.CallSlice(args)
		} else {
			out = v.Call(args)
		}
		return repairResults(out, origin)
	})
	return w.Interface().(F)
}

func repairResults(out []reflect.Value, origin *Origin) []reflect.Value {
	fix := func(err error) error { return Repair(err, origin) }
	for i, r := range out {
		if isNil(r) {
			continue
		}
		if r.Type() == errorType {
			repaired := reflect.New(errorType).Elem()
			repaired.Set(reflect.ValueOf(fix(r.Interface().(error))))
			out[i] = repaired
			continue
		}
		if !r.CanInterface() {
			continue
		}
		x := r.Interface()
		if _, ok := x.(Exempt); ok {
			continue
		}
		if rep, ok := x.(Repairable); ok {
			nv := reflect.ValueOf(rep.WithRepair(fix))
			if nv.IsValid() && nv.Type().AssignableTo(r.Type()) {
				out[i] = nv
			}
		}
	}
	return out
}

func isNil(v reflect.Value) bool {
	switch v.Kind() {
	case reflect.Chan, reflect.Func, reflect.Interface, reflect.Map, reflect.Pointer, reflect.Slice, reflect.UnsafePointer:
		return v.IsNil()
	}
	return false
}
