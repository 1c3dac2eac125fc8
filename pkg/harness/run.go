// Package harness ties a browser session to the lifecycle of a Go test binary.
//
// A test package creates one Run, hands TestMain to Run.Main, and builds its tests with
// Run.Suite:
//
//	var run = harness.New()
//
//	func TestMain(m *testing.M) { os.Exit(run.Main(m)) }
//
//	func TestLogin(t *testing.T) {
//		s := run.Suite(t)
//		s.It("shows the form", func(t *testing.T, sess *browser.Session) { ... })
//	}
//
// The session is created on first use and shared by every test. At the end of the run it
// is torn down, unless a test failed and the operator asked to keep it open (-E,
// --no-exit or RODHARNESS_NO_EXIT), in which case an interactive prompt bound to the live
// session starts first.
package harness

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/spf13/afero"
	"go.uber.org/zap"

	"rodharness/internal/config"
	"rodharness/internal/lifecycle"
	"rodharness/internal/logging"
	"rodharness/pkg/browser"
	"rodharness/pkg/stacktrace"
)

// LaunchFunc starts a session from fully assembled options.
type LaunchFunc func(ctx context.Context, opts browser.Options) (*browser.Session, error)

// Option configures a Run.
type Option func(*Run)

// WithConfig replaces the configuration read from the environment.
func WithConfig(cfg *config.Config) Option {
	return func(r *Run) { r.cfg = cfg }
}

// WithLogger sets the base logger.
func WithLogger(logger *zap.Logger) Option {
	return func(r *Run) { r.logger = logger }
}

// WithFs sets the filesystem diagnostics are written to.
func WithFs(fsys afero.Fs) Option {
	return func(r *Run) { r.fs = fsys }
}

// WithIO sets the streams of the triage prompt.
func WithIO(in io.Reader, out io.Writer) Option {
	return func(r *Run) { r.in, r.out = in, out }
}

// WithLauncher replaces browser.Launch.
func WithLauncher(launch LaunchFunc) Option {
	return func(r *Run) { r.launch = launch }
}

// WithRerunner replaces the go test runner used by Rerun.
func WithRerunner(rr Rerunner) Option {
	return func(r *Run) { r.rerunner = rr }
}

// WithNoExit forces interactive triage on or off, ignoring flags and environment.
func WithNoExit(on bool) Option {
	return func(r *Run) { r.noExitSet, r.noExitVal = true, on }
}

// Run is the per-process harness state: the session cell, auxiliary servers, the REPL
// registry and the record of every test.
type Run struct {
	id       string
	cfg      *config.Config
	logger   *zap.Logger
	fs       afero.Fs
	in       io.Reader
	out      io.Writer
	launch   LaunchFunc
	rerunner Rerunner

	noExitSet bool
	noExitVal bool

	mgr  *lifecycle.Manager[*browser.Session]
	root *Suite

	mu        sync.Mutex
	modify    browser.OptionsModifyFunc
	tests     []*Test
	failures  []*Test
	bindings  []replEntry
	rebuild   bool
	triageLog *zap.Logger
}

type replEntry struct {
	name        string
	value       any
	description string
}

// New returns a Run configured from RODHARNESS_* variables and the optional config file.
// It panics if that configuration is invalid, since no test could run.
func New(opts ...Option) *Run {
	registerFlags()

	r := &Run{
		id:     uuid.NewString(),
		in:     os.Stdin,
		out:    os.Stdout,
		launch: browser.Launch,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.cfg == nil {
		cfg, err := config.FromEnv()
		if err != nil {
			panic(fmt.Sprintf("rodharness: %v", err))
		}
		r.cfg = cfg
	}
	if r.logger == nil {
		logger, err := logging.New(r.cfg.Logging.Level)
		if err != nil {
			panic(fmt.Sprintf("rodharness: %v", err))
		}
		r.logger = logger
	}
	r.logger = r.logger.With(zap.String("run", r.id))
	if r.fs == nil {
		r.fs = afero.NewOsFs()
	}
	if r.rerunner == nil {
		r.rerunner = &GoTestRerunner{Stdout: r.out, Stderr: r.out}
	}
	r.triageLog = logging.For(r.logger, logging.CategoryTriage)
	r.mgr = lifecycle.New(r.createSession, logging.For(r.logger, logging.CategorySession))
	r.root = &Suite{run: r}
	return r
}

// ID identifies this run in log output.
func (r *Run) ID() string { return r.id }

// Config returns the effective configuration.
func (r *Run) Config() *config.Config { return r.cfg }

// Logger returns the run's base logger.
func (r *Run) Logger() *zap.Logger { return r.logger }

// Root returns the suite whose hooks apply to every test of the run.
func (r *Run) Root() *Suite { return r.root }

// NoExit reports whether the session should be kept open for triage after a failure.
func (r *Run) NoExit() bool {
	if r.noExitSet {
		return r.noExitVal
	}
	return r.cfg.Harness.NoExit || noExitRequested(os.Args[1:])
}

// SetOptionsModifyFunc installs a callback that adjusts the launch options of sessions
// created after this call.
func (r *Run) SetOptionsModifyFunc(fn browser.OptionsModifyFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.modify = fn
}

func (r *Run) createSession(ctx context.Context) (*browser.Session, error) {
	stacktrace.SetEnabled(r.cfg.Harness.StackTraces)
	browser.WrapMethods()

	opts, err := browser.OptionsFromConfig(r.cfg)
	if err != nil {
		return nil, err
	}
	opts.Fs = r.fs
	opts.Logger = r.logger

	r.mu.Lock()
	modify := r.modify
	r.mu.Unlock()
	if modify != nil {
		modify(&opts)
	}
	return r.launch(ctx, opts)
}

// EnsureReady returns the run's session, creating it on first use.
func (r *Run) EnsureReady(ctx context.Context) (*browser.Session, error) {
	return r.mgr.EnsureReady(ctx)
}

// Session returns the current session, or lifecycle.ErrNotInitialized before the first
// EnsureReady.
func (r *Run) Session() (*browser.Session, error) {
	return r.mgr.Current()
}

// SetSession replaces the run's session and returns the previous one, nil if there was
// none. The previous session is left open.
func (r *Run) SetSession(s *browser.Session) *browser.Session {
	prev, had := r.mgr.Replace(s)
	if !had {
		return nil
	}
	return prev
}

// UseServer starts srv for this run unless it is already started and waits until it is
// up. It is stopped with the session at the end of the run.
func (r *Run) UseServer(ctx context.Context, srv lifecycle.Server) error {
	return r.mgr.UseServer(ctx, srv)
}

// Close quits the session and stops every server of the run.
func (r *Run) Close(ctx context.Context) error {
	return r.mgr.Teardown(ctx)
}

// Main runs the tests and then ends the run. Its result is the process exit code.
func (r *Run) Main(m *testing.M) int {
	return r.finish(context.Background(), m.Run())
}

func (r *Run) finish(ctx context.Context, code int) int {
	r.root.runAfter()

	if r.cfg.Harness.SkipCleanup {
		r.logger.Info("Skipping cleanup", zap.String("env", config.EnvSkipCleanup))
		return code
	}
	outcome := lifecycle.Outcome{
		Failed:      code != 0 || r.Failed(),
		Interactive: r.NoExit(),
		MultiWorker: r.cfg.IsMultiWorker(),
	}
	if err := r.mgr.Finish(ctx, outcome, r.Interact); err != nil {
		r.logger.Warn("Run cleanup failed", zap.Error(err))
		if code == 0 {
			code = 1
		}
	}
	return code
}

func (r *Run) record(t *Test) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tests = append(r.tests, t)
}

func (r *Run) noteFailure(t *Test) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failures = append(r.failures, t)
}

// Failed reports whether any test of the run failed.
func (r *Run) Failed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.failures) > 0
}

// Tests returns every test started so far, in start order.
func (r *Run) Tests() []*Test {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*Test(nil), r.tests...)
}

// FailedFiles returns the distinct source files of failed tests, in order of first
// failure.
func (r *Run) FailedFiles() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var files []string
	seen := make(map[string]bool)
	for _, t := range r.failures {
		if !seen[t.file] {
			seen[t.file] = true
			files = append(files, t.file)
		}
	}
	return files
}

// failedTopLevel returns the distinct top-level test names that failed in file.
func (r *Run) failedTopLevel(file string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var names []string
	seen := make(map[string]bool)
	for _, t := range r.failures {
		if t.file != file {
			continue
		}
		if top := t.TopLevel(); !seen[top] {
			seen[top] = true
			names = append(names, top)
		}
	}
	return names
}

func (r *Run) addToREPL(name string, value any, description string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, e := range r.bindings {
		if e.name == name {
			r.bindings[i] = replEntry{name, value, description}
			return
		}
	}
	r.bindings = append(r.bindings, replEntry{name, value, description})
}
