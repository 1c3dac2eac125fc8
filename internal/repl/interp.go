// Package repl is the interactive prompt used to poke at a live browser session: a Go
// interpreter with the session and helpers in scope, and a presenter that awaits futures
// and shows elements by description.
package repl

import (
	"context"
	"fmt"
	"reflect"
	"sort"
	"strings"
	"unicode"

	"github.com/traefik/yaegi/interp"
	"github.com/traefik/yaegi/stdlib"
)

// PackageName is the import path bindings are exported under.
const PackageName = "repl"

// Binding is a value placed in the interpreter's scope.
type Binding struct {
	Name        string
	Value       any
	Description string
}

// Interp evaluates Go source with a fixed set of bindings in scope.
type Interp struct {
	i        *interp.Interpreter
	bindings []Binding
	shadowed []string
	prefix   string
}

// ExportName turns a registration name into an exported Go identifier.
func ExportName(name string) string {
	r := []rune(name)
	if len(r) == 0 {
		return name
	}
	r[0] = unicode.ToUpper(r[0])
	return string(r)
}

// NewInterp builds an interpreter with the standard library and bindings available.
// Bindings are dot-imported, so they can be used unqualified. When two bindings export
// the same name the first one wins; the others are reported by Shadowed.
func NewInterp(bindings []Binding) (*Interp, error) {
	i := interp.New(interp.Options{})
	if err := i.Use(stdlib.Symbols); err != nil {
		return nil, fmt.Errorf("failed to load stdlib: %w", err)
	}

	kept := make([]Binding, 0, len(bindings))
	var shadowed []string
	seen := make(map[string]bool, len(bindings))
	syms := make(map[string]reflect.Value, len(bindings))
	for _, b := range bindings {
		name := ExportName(b.Name)
		if seen[name] {
			shadowed = append(shadowed, b.Name)
			continue
		}
		seen[name] = true
		b.Name = name
		kept = append(kept, b)
		if b.Value == nil {
			continue
		}
		v := reflect.ValueOf(b.Value)
		if c, ok := b.Value.(context.Context); ok {
			// keep the interface type so it can be passed where a context.Context is expected
			v = reflect.ValueOf(&c).Elem()
		}
		syms[name] = v
	}
	if err := i.Use(interp.Exports{PackageName + "/" + PackageName: syms}); err != nil {
		return nil, fmt.Errorf("failed to export bindings: %w", err)
	}

	it := &Interp{i: i, bindings: kept, shadowed: shadowed}
	if _, err := i.Eval(`import . "` + PackageName + `"`); err != nil {
		// fall back to qualified names
		if _, err := i.Eval(`import "` + PackageName + `"`); err != nil {
			return nil, fmt.Errorf("failed to import bindings: %w", err)
		}
		it.prefix = PackageName + "."
	}
	return it, nil
}

// Bindings returns the bindings in scope, sorted by name.
func (it *Interp) Bindings() []Binding {
	out := append([]Binding(nil), it.bindings...)
	sort.Slice(out, func(a, b int) bool { return out[a].Name < out[b].Name })
	return out
}

// Shadowed returns the registration names dropped because an earlier binding exported
// the same name.
func (it *Interp) Shadowed() []string {
	return append([]string(nil), it.shadowed...)
}

// Qualify returns how a binding is referred to in source.
func (it *Interp) Qualify(name string) string {
	return it.prefix + ExportName(name)
}

// Eval evaluates src. Statements without a value yield nil.
func (it *Interp) Eval(ctx context.Context, src string) (any, error) {
	src = strings.TrimSpace(src)
	if src == "" {
		return nil, nil
	}
	res, err := it.i.EvalWithContext(ctx, src)
	if err != nil {
		return nil, err
	}
	if !res.IsValid() || !res.CanInterface() {
		return nil, nil
	}
	return res.Interface(), nil
}
