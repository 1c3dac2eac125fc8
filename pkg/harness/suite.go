package harness

import (
	"context"
	"errors"
	"runtime"
	"strings"
	"sync"
	"testing"

	"rodharness/pkg/browser"
)

// ErrRootCapture is returned by EnableDebugCapture on the run's root suite.
var ErrRootCapture = errors.New("harness: EnableDebugCapture must be called inside a suite, not at the root")

// TestState is the outcome of one test.
type TestState int

const (
	Pending TestState = iota // running, or skipped
	Passed
	Failed
)

func (s TestState) String() string {
	switch s {
	case Passed:
		return "passed"
	case Failed:
		return "failed"
	}
	return "pending"
}

// Test is one It case as seen by hooks.
type Test struct {
	name  string
	file  string
	t     *testing.T
	suite *Suite

	mu    sync.Mutex
	state TestState
	sess  *browser.Session
}

// Name returns the full test name, as reported by go test.
func (t *Test) Name() string { return t.name }

// TopLevel returns the name of the top-level Test function the case belongs to.
func (t *Test) TopLevel() string {
	top, _, _ := strings.Cut(t.name, "/")
	return top
}

// File returns the source file that declared the test.
func (t *Test) File() string { return t.file }

// T returns the test's *testing.T.
func (t *Test) T() *testing.T { return t.t }

// Suite returns the suite the test belongs to.
func (t *Test) Suite() *Suite { return t.suite }

// Session returns the run's session.
func (t *Test) Session() *browser.Session {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.sess
}

// State returns the test's outcome. It is Pending until the test body has returned.
func (t *Test) State() TestState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

func (t *Test) settle(failed, skipped bool) TestState {
	t.mu.Lock()
	defer t.mu.Unlock()
	switch {
	case failed:
		t.state = Failed
	case skipped:
		t.state = Pending
	default:
		t.state = Passed
	}
	return t.state
}

// Hook runs before or after each test of a suite.
type Hook func(tc *Test)

// Suite groups tests that share hooks. Suites nest with Describe.
type Suite struct {
	run    *Run
	parent *Suite
	name   string
	t      *testing.T // nil for the root

	mu         sync.Mutex
	beforeEach []Hook
	afterEach  []Hook
	after      []func()
	tests      []*Test
	children   []*Suite
	afterDone  bool
}

// Suite returns a suite for the top-level test t, making sure the run's session exists.
// Its After hooks run when t finishes.
func (r *Run) Suite(t *testing.T) *Suite {
	t.Helper()
	s := r.root.child(t.Name(), t)
	if _, err := r.EnsureReady(context.Background()); err != nil {
		t.Fatalf("browser session: %v", err)
	}
	return s
}

func (s *Suite) child(name string, t *testing.T) *Suite {
	c := &Suite{run: s.run, parent: s, name: name, t: t}
	s.mu.Lock()
	s.children = append(s.children, c)
	s.mu.Unlock()
	t.Cleanup(c.runAfter)
	return c
}

// Name returns the suite name.
func (s *Suite) Name() string { return s.name }

// Run returns the run the suite belongs to.
func (s *Suite) Run() *Run { return s.run }

// BeforeEach registers a hook that runs before each test of the suite and its
// descendants. Outer suites' hooks run first.
func (s *Suite) BeforeEach(h Hook) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.beforeEach = append(s.beforeEach, h)
}

// AfterEach registers a hook that runs after each test of the suite and its descendants,
// including failed ones. Inner suites' hooks run first.
func (s *Suite) AfterEach(h Hook) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.afterEach = append(s.afterEach, h)
}

// After registers fn to run once the suite is done. On the root suite that is the end of
// the run.
func (s *Suite) After(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.after = append(s.after, fn)
}

// Describe runs fn as a nested suite in a subtest.
func (s *Suite) Describe(name string, fn func(s *Suite)) bool {
	t := s.mustT("Describe")
	return t.Run(name, func(t *testing.T) {
		fn(s.child(name, t))
	})
}

// It runs fn as a test case in a subtest, with the suite's hooks around it.
func (s *Suite) It(name string, fn func(t *testing.T, sess *browser.Session)) bool {
	_, file, _, _ := runtime.Caller(1)
	parent := s.mustT("It")
	return parent.Run(name, func(t *testing.T) {
		tc := &Test{name: t.Name(), file: file, t: t, suite: s}
		s.mu.Lock()
		s.tests = append(s.tests, tc)
		s.mu.Unlock()
		s.run.record(tc)

		t.Cleanup(func() {
			if tc.settle(t.Failed(), t.Skipped()) == Failed {
				s.run.noteFailure(tc)
			}
			if tc.Session() != nil {
				s.runAfterEach(tc)
			}
		})

		sess, err := s.run.EnsureReady(context.Background())
		if err != nil {
			t.Fatalf("browser session: %v", err)
		}
		tc.mu.Lock()
		tc.sess = sess
		tc.mu.Unlock()

		s.runBeforeEach(tc)
		fn(t, sess)
	})
}

func (s *Suite) mustT(op string) *testing.T {
	if s.t == nil {
		panic("harness: " + op + " needs a suite from Run.Suite, not the root suite")
	}
	return s.t
}

// chain returns the suite and its ancestors, outermost first.
func (s *Suite) chain() []*Suite {
	var out []*Suite
	for c := s; c != nil; c = c.parent {
		out = append([]*Suite{c}, out...)
	}
	return out
}

func (s *Suite) hooks(after bool) []Hook {
	s.mu.Lock()
	defer s.mu.Unlock()
	if after {
		return append([]Hook(nil), s.afterEach...)
	}
	return append([]Hook(nil), s.beforeEach...)
}

func (s *Suite) runBeforeEach(tc *Test) {
	for _, c := range s.chain() {
		for _, h := range c.hooks(false) {
			h(tc)
		}
	}
}

func (s *Suite) runAfterEach(tc *Test) {
	chain := s.chain()
	for i := len(chain) - 1; i >= 0; i-- {
		for _, h := range chain[i].hooks(true) {
			h(tc)
		}
	}
}

func (s *Suite) runAfter() {
	s.mu.Lock()
	if s.afterDone {
		s.mu.Unlock()
		return
	}
	s.afterDone = true
	fns := append([]func(){}, s.after...)
	s.mu.Unlock()

	for _, fn := range fns {
		fn()
	}
}

// Failed reports whether a test in the suite or any nested suite failed. For the root
// suite that is any test of the run.
func (s *Suite) Failed() bool {
	if s.parent == nil {
		return s.run.Failed()
	}
	s.mu.Lock()
	tests := append([]*Test(nil), s.tests...)
	children := append([]*Suite(nil), s.children...)
	s.mu.Unlock()

	for _, t := range tests {
		if t.State() == Failed {
			return true
		}
	}
	for _, c := range children {
		if c.Failed() {
			return true
		}
	}
	return false
}

// EachTest calls fn for every test of the suite and its descendants, in declaration order.
func (s *Suite) EachTest(fn func(*Test)) {
	s.mu.Lock()
	tests := append([]*Test(nil), s.tests...)
	children := append([]*Suite(nil), s.children...)
	s.mu.Unlock()

	for _, t := range tests {
		fn(t)
	}
	for _, c := range children {
		c.EachTest(fn)
	}
}

// AddToREPL makes value available under name in the triage prompt, if this suite has a
// failed test and the session is kept open. The name is exported (capitalised) in the
// prompt.
func (s *Suite) AddToREPL(name string, value any, description ...string) {
	desc := "no description"
	if len(description) > 0 && description[0] != "" {
		desc = description[0]
	}
	s.After(func() {
		if s.Failed() && s.run.NoExit() {
			s.run.addToREPL(name, value, desc)
		}
	})
}
