package harness

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"rodharness/internal/config"
	"rodharness/internal/lifecycle"
	"rodharness/pkg/browser"
)

type fakeLauncher struct {
	mu    sync.Mutex
	opts  []browser.Options
	fail  error
	calls int
}

func (f *fakeLauncher) launch(_ context.Context, opts browser.Options) (*browser.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.opts = append(f.opts, opts)
	if f.fail != nil {
		return nil, f.fail
	}
	return new(browser.Session), nil
}

func (f *fakeLauncher) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeRerunner struct {
	mu      sync.Mutex
	targets []RerunTarget
}

func (f *fakeRerunner) Rerun(_ context.Context, target RerunTarget) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.targets = append(f.targets, target)
	return nil
}

type testRun struct {
	*Run
	launcher *fakeLauncher
	rerunner *fakeRerunner
	cfg      *config.Config
	fs       afero.Fs
}

func newTestRun(t *testing.T, configure func(*config.Config), opts ...Option) *testRun {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Harness.TriageDelay = "1ms"
	if configure != nil {
		configure(cfg)
	}
	tr := &testRun{launcher: &fakeLauncher{}, rerunner: &fakeRerunner{}, cfg: cfg, fs: afero.NewMemMapFs()}
	base := []Option{
		WithConfig(cfg),
		WithLogger(zap.NewNop()),
		WithFs(tr.fs),
		WithNoExit(false),
		WithIO(strings.NewReader(""), io.Discard),
		WithLauncher(tr.launcher.launch),
		WithRerunner(tr.rerunner),
	}
	tr.Run = New(append(base, opts...)...)
	return tr
}

func failedTest(r *Run, name, file string) *Test {
	tc := &Test{name: name, file: file}
	tc.settle(true, false)
	r.record(tc)
	r.noteFailure(tc)
	return tc
}

func TestSuiteHooksAndState(t *testing.T) {
	tr := newTestRun(t, nil)

	var mu sync.Mutex
	var order []string
	note := func(s string) {
		mu.Lock()
		defer mu.Unlock()
		order = append(order, s)
	}
	hook := func(s string) Hook { return func(*Test) { note(s) } }

	tr.Root().BeforeEach(hook("root-before"))
	tr.Root().AfterEach(hook("root-after"))

	var passed, skipped *Test
	t.Run("TestLogin", func(t *testing.T) {
		s := tr.Suite(t)
		s.BeforeEach(hook("outer-before"))
		s.AfterEach(hook("outer-after"))

		s.Describe("form", func(s *Suite) {
			s.BeforeEach(hook("inner-before"))
			s.AfterEach(hook("inner-after"))

			s.It("renders", func(t *testing.T, sess *browser.Session) {
				assert.NotNil(t, sess)
				note("body")
			})
		})
		s.It("is skipped", func(t *testing.T, sess *browser.Session) {
			t.Skip("not today")
		})

		var tests []*Test
		s.EachTest(func(tc *Test) { tests = append(tests, tc) })
		require.Len(t, tests, 2)
		skipped, passed = tests[0], tests[1]
		assert.False(t, s.Failed())
	})

	assert.Equal(t, []string{
		"root-before", "outer-before", "inner-before", "body", "inner-after", "outer-after", "root-after",
		"root-before", "outer-before", "outer-after", "root-after",
	}, order)

	assert.Equal(t, Passed, passed.State())
	assert.Equal(t, "TestSuiteHooksAndState/TestLogin/form/renders", passed.Name())
	assert.Equal(t, "TestSuiteHooksAndState", passed.TopLevel())
	assert.Equal(t, "harness_test.go", filepath.Base(passed.File()))
	assert.Equal(t, Pending, skipped.State())

	assert.Equal(t, 1, tr.launcher.count(), "one session for the whole run")
	assert.Len(t, tr.Tests(), 2)
	assert.False(t, tr.Failed())
	assert.Empty(t, tr.FailedFiles())
}

func TestSuiteFailedAndAddToREPL(t *testing.T) {
	for _, tc := range []struct {
		name   string
		failed bool
		noExit bool
		want   bool
	}{
		{"failed and kept open", true, true, true},
		{"failed but exiting", true, false, false},
		{"passed", false, true, false},
	} {
		t.Run(tc.name, func(t *testing.T) {
			tr := newTestRun(t, nil, WithNoExit(tc.noExit))
			var suite *Suite
			t.Run("TestCheckout", func(t *testing.T) {
				suite = tr.Suite(t)
				inner := suite.child("cart", t)
				if tc.failed {
					test := &Test{name: "TestCheckout/cart/adds", suite: inner}
					test.settle(true, false)
					inner.tests = append(inner.tests, test)
				}
				suite.AddToREPL("cart", []string{"apple"}, "items in the cart")
				suite.AddToREPL("total", 3)
			})

			assert.Equal(t, tc.failed, suite.Failed())
			if !tc.want {
				assert.Empty(t, tr.bindings)
				return
			}
			require.Len(t, tr.bindings, 2)
			assert.Equal(t, replEntry{"cart", []string{"apple"}, "items in the cart"}, tr.bindings[0])
			assert.Equal(t, "no description", tr.bindings[1].description)
		})
	}
}

func TestSessionAccessors(t *testing.T) {
	tr := newTestRun(t, nil)

	_, err := tr.Session()
	assert.ErrorIs(t, err, lifecycle.ErrNotInitialized)

	first := new(browser.Session)
	assert.Nil(t, tr.SetSession(first))
	second := new(browser.Session)
	assert.Same(t, first, tr.SetSession(second))

	got, err := tr.Session()
	require.NoError(t, err)
	assert.Same(t, second, got)
	assert.Zero(t, tr.launcher.count())
}

func TestCreateSessionOptions(t *testing.T) {
	tr := newTestRun(t, func(c *config.Config) {
		c.Browser.Headless = true
		c.Browser.WindowSize = "800x600"
		c.Browser.Args = []string{"--lang=en"}
		c.Browser.MaxCalls = 4
	})
	tr.SetOptionsModifyFunc(func(o *browser.Options) {
		o.Args = append(o.Args, "--mute-audio")
	})

	_, err := tr.EnsureReady(context.Background())
	require.NoError(t, err)

	require.Len(t, tr.launcher.opts, 1)
	opts := tr.launcher.opts[0]
	assert.True(t, opts.Headless)
	assert.Equal(t, 800, opts.Width)
	assert.Equal(t, 600, opts.Height)
	assert.Equal(t, []string{"--lang=en", "--mute-audio"}, opts.Args)
	assert.Equal(t, 4, opts.MaxCalls)
	assert.Same(t, tr.fs, opts.Fs)
}

func TestSuiteFailsWhenSessionCannotStart(t *testing.T) {
	tr := newTestRun(t, nil)
	tr.launcher.fail = errors.New("no chrome")

	_, err := tr.EnsureReady(context.Background())
	assert.ErrorContains(t, err, "no chrome")
	assert.Equal(t, lifecycle.Absent, tr.mgr.State())

	for _, name := range []string{"A", "B", "C"} {
		t.Run(name, func(t *testing.T) {
			_, err := tr.EnsureReady(context.Background())
			assert.ErrorContains(t, err, "no chrome")
		})
	}
	assert.Equal(t, 1, tr.launcher.count())
}

func TestFinish(t *testing.T) {
	t.Run("passing run tears down", func(t *testing.T) {
		tr := newTestRun(t, nil, WithNoExit(true))
		_, err := tr.EnsureReady(context.Background())
		require.NoError(t, err)

		assert.Equal(t, 0, tr.finish(context.Background(), 0))
		assert.Equal(t, lifecycle.Absent, tr.mgr.State())
	})

	t.Run("skip cleanup leaves the session", func(t *testing.T) {
		tr := newTestRun(t, func(c *config.Config) { c.Harness.SkipCleanup = true })
		_, err := tr.EnsureReady(context.Background())
		require.NoError(t, err)

		assert.Equal(t, 1, tr.finish(context.Background(), 1))
		assert.Equal(t, lifecycle.Ready, tr.mgr.State())
	})

	t.Run("multi worker never triages", func(t *testing.T) {
		var out bytes.Buffer
		tr := newTestRun(t, func(c *config.Config) { c.Harness.WorkerID = "2" },
			WithNoExit(true), WithIO(strings.NewReader(""), &out))
		_, err := tr.EnsureReady(context.Background())
		require.NoError(t, err)
		failedTest(tr.Run, "TestA", "/src/a_test.go")

		assert.Equal(t, 1, tr.finish(context.Background(), 1))
		assert.Empty(t, out.String())
		assert.Equal(t, lifecycle.Absent, tr.mgr.State())
	})

	t.Run("root after hooks run first", func(t *testing.T) {
		tr := newTestRun(t, nil)
		ran := false
		tr.Root().After(func() { ran = true })
		tr.finish(context.Background(), 0)
		assert.True(t, ran)
	})
}

func TestTriage(t *testing.T) {
	in := strings.Join([]string{
		"1 + 1",
		"Answer",
		"Rerun()",
		`ResetModule("")`,
		"Rerun(1)",
		"Rerun(5)",
		`ShowLogs("client")`,
		".exit",
		"Rerun()",
	}, "\n")
	var out bytes.Buffer
	tr := newTestRun(t, nil, WithNoExit(true), WithIO(strings.NewReader(in), &out))
	_, err := tr.EnsureReady(context.Background())
	require.NoError(t, err)

	failedTest(tr.Run, "TestLogin/form/renders", "/src/app/login_test.go")
	failedTest(tr.Run, "TestCart/adds", "/src/shop/cart_test.go")
	failedTest(tr.Run, "TestLogout", "/src/app/login_test.go")
	tr.addToREPL("answer", 42, "the answer")

	assert.Equal(t, 1, tr.finish(context.Background(), 1))
	assert.Equal(t, lifecycle.Absent, tr.mgr.State())

	got := out.String()
	assert.Contains(t, got, "Not exiting. Abort with Ctrl-C, or type '.exit'")
	assert.Contains(t, got, "Rerun tests in /src/app/login_test.go")
	assert.Contains(t, got, "Rerun tests in /src/shop/cart_test.go")
	assert.Contains(t, got, "the answer")
	assert.Contains(t, got, "2\n")
	assert.Contains(t, got, "42\n")
	assert.Contains(t, got, "no failed test file 5")
	assert.Contains(t, got, "ERROR FETCHING LOGS: client")

	require.Len(t, tr.rerunner.targets, 2, "nothing after .exit runs")
	assert.Equal(t, RerunTarget{Dir: "/src/app", Tests: []string{"TestLogin", "TestLogout"}}, tr.rerunner.targets[0])
	assert.Equal(t, RerunTarget{Dir: "/src/shop", Tests: []string{"TestCart"}, Rebuild: true}, tr.rerunner.targets[1])
}

func TestFailedFiles(t *testing.T) {
	tr := newTestRun(t, nil)
	failedTest(tr.Run, "TestB", "/src/b_test.go")
	failedTest(tr.Run, "TestA/x", "/src/a_test.go")
	failedTest(tr.Run, "TestB/y", "/src/b_test.go")

	assert.True(t, tr.Failed())
	assert.True(t, tr.Root().Failed())
	assert.Equal(t, []string{"/src/b_test.go", "/src/a_test.go"}, tr.FailedFiles())
	assert.Equal(t, []string{"TestB"}, tr.failedTopLevel("/src/b_test.go"))
}

func TestRerunArgs(t *testing.T) {
	assert.Equal(t, []string{"test", "-count=1", "-failfast", "."}, RerunArgs(RerunTarget{}))
	assert.Equal(t,
		[]string{"test", "-count=1", "-failfast", "-run", `^(TestA|Test_b\.c)$`, "-a", "."},
		RerunArgs(RerunTarget{Tests: []string{"TestA", "Test_b.c"}, Rebuild: true}))
}

func TestNoExitRequested(t *testing.T) {
	assert.True(t, noExitRequested([]string{"-test.v", "-E"}))
	assert.True(t, noExitRequested([]string{"--no-exit"}))
	assert.False(t, noExitRequested([]string{"-test.run", "TestX"}))
	assert.False(t, noExitRequested([]string{"--", "-E"}))
}

func TestNoExitFromConfig(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Harness.NoExit = true
	r := New(WithConfig(cfg), WithLogger(zap.NewNop()))
	assert.True(t, r.NoExit())
	assert.NotEmpty(t, r.ID())
}

func TestStaticServer(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "fixture.html"), []byte("<h1>fixture</h1>"), 0644))

	tr := newTestRun(t, nil)
	srv := NewStaticServer(dir, nil)
	ctx := context.Background()

	require.NoError(t, tr.UseServer(ctx, srv))
	host := srv.Host()
	require.NoError(t, tr.UseServer(ctx, srv))
	assert.Equal(t, host, srv.Host(), "started once")

	resp, err := http.Get(srv.URL("/fixture.html"))
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "<h1>fixture</h1>", string(body))

	assert.Equal(t, 0, tr.finish(ctx, 0))
	_, err = http.Get(host + "/fixture.html")
	assert.Error(t, err, "stopped with the run")
}
