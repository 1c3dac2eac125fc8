// Package lifecycle owns the single session handle of a test run: lazy shared creation,
// replacement, auxiliary servers, and the decision at the end of the run between tearing
// everything down and handing the live session to an interactive triage.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"rodharness/pkg/future"
)

// ErrNotInitialized is returned by Current before the handle exists.
var ErrNotInitialized = errors.New("lifecycle: session not initialized; call EnsureReady first")

// ErrTornDown is returned to EnsureReady callers whose pending creation was abandoned by
// Teardown.
var ErrTornDown = errors.New("lifecycle: session torn down during creation")

// Handle is the managed session.
type Handle interface {
	Quit(ctx context.Context) error
}

// Server is an auxiliary process (fixture web server, backend) the tests depend on.
// Implementations must be comparable; pointer types are.
type Server interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Host() string
}

// State is the lifecycle state of the handle.
type State int

const (
	Absent State = iota
	Creating
	Ready
	HandedOff
)

func (s State) String() string {
	switch s {
	case Absent:
		return "absent"
	case Creating:
		return "creating"
	case Ready:
		return "ready"
	case HandedOff:
		return "handed-off"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Outcome summarizes a finished run.
type Outcome struct {
	Failed      bool // some test failed
	Interactive bool // the operator asked to keep the session open
	MultiWorker bool // one of several parallel workers; never interactive
}

// Triage runs while the handle is handed off and returns when the operator is done.
type Triage func(ctx context.Context) error

type serverEntry struct {
	srv     Server
	started *future.Future[struct{}]
}

// Manager holds at most one handle of type H.
type Manager[H Handle] struct {
	create func(ctx context.Context) (H, error)
	logger *zap.Logger

	mu       sync.Mutex
	state    State
	handle   H
	has      bool
	creating *future.Future[H]
	// gen changes on Teardown and Replace; a creation started under an older gen
	// must not install its handle.
	gen       uint64
	createErr error
	servers   []*serverEntry
}

// New returns a Manager that builds its handle with create.
func New[H Handle](create func(ctx context.Context) (H, error), logger *zap.Logger) *Manager[H] {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager[H]{create: create, logger: logger}
}

// State returns the current state.
func (m *Manager[H]) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// EnsureReady returns the handle, creating it on first use. Concurrent callers share one
// creation. A failed creation is fatal: every later call returns the same error without
// creating again, until Teardown.
func (m *Manager[H]) EnsureReady(ctx context.Context) (H, error) {
	m.mu.Lock()
	if m.has {
		h := m.handle
		m.mu.Unlock()
		return h, nil
	}
	if m.createErr != nil {
		err := m.createErr
		m.mu.Unlock()
		var zero H
		return zero, fmt.Errorf("session creation failed earlier: %w", err)
	}
	f := m.creating
	if f == nil {
		m.state = Creating
		gen := m.gen
		f = future.Go(func() (H, error) {
			return m.finishCreate(ctx, gen)
		})
		m.creating = f
	}
	m.mu.Unlock()

	return f.Await(ctx)
}

func (m *Manager[H]) finishCreate(ctx context.Context, gen uint64) (H, error) {
	h, err := m.create(ctx)

	m.mu.Lock()
	if m.gen != gen {
		cur, has := m.handle, m.has
		m.mu.Unlock()
		if err != nil {
			return h, err
		}
		m.logger.Info("Discarding session created after teardown or replace")
		if qerr := h.Quit(context.WithoutCancel(ctx)); qerr != nil {
			m.logger.Warn("Failed to quit discarded session", zap.Error(qerr))
		}
		if has {
			return cur, nil
		}
		var zero H
		return zero, ErrTornDown
	}
	defer m.mu.Unlock()
	m.creating = nil
	if err != nil {
		m.state = Absent
		m.createErr = err
		m.logger.Warn("Session creation failed", zap.Error(err))
		return h, err
	}
	m.handle, m.has, m.state = h, true, Ready
	m.logger.Debug("Session created")
	return h, nil
}

// Current returns the handle without creating it.
func (m *Manager[H]) Current() (H, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.has {
		var zero H
		return zero, ErrNotInitialized
	}
	return m.handle, nil
}

// Replace installs h and returns the previous handle, if there was one. The previous
// handle is not quit. A creation still in flight is discarded when it completes and its
// waiters receive h.
func (m *Manager[H]) Replace(h H) (prev H, had bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	prev, had = m.handle, m.has
	m.handle, m.has, m.state = h, true, Ready
	m.gen++
	m.creating, m.createErr = nil, nil
	return prev, had
}

// UseServer starts srv unless it was already requested, and waits until it is up. It is
// stopped by Teardown.
func (m *Manager[H]) UseServer(ctx context.Context, srv Server) error {
	m.mu.Lock()
	var entry *serverEntry
	for _, e := range m.servers {
		if e.srv == srv {
			entry = e
			break
		}
	}
	if entry == nil {
		entry = &serverEntry{
			srv: srv,
			started: future.Go(func() (struct{}, error) {
				return struct{}{}, srv.Start(ctx)
			}),
		}
		m.servers = append(m.servers, entry)
	}
	m.mu.Unlock()

	if _, err := entry.started.Await(ctx); err != nil {
		return fmt.Errorf("start server %s: %w", srv.Host(), err)
	}
	return nil
}

// Teardown quits the handle and stops every started server concurrently, then forgets
// them all. A creation in flight is awaited and its session quit. Every failure is
// logged; the first is returned.
func (m *Manager[H]) Teardown(ctx context.Context) error {
	m.mu.Lock()
	h, has := m.handle, m.has
	servers := m.servers
	pending := m.creating
	var zero H
	m.handle, m.has, m.servers, m.state = zero, false, nil, Absent
	m.creating, m.createErr = nil, nil
	m.gen++
	m.mu.Unlock()

	var g errgroup.Group
	if pending != nil {
		g.Go(func() error {
			// finishCreate quits the late session before the future settles
			_, _ = pending.Await(ctx)
			return nil
		})
	}
	if has {
		g.Go(func() error {
			if err := h.Quit(ctx); err != nil {
				m.logger.Warn("Failed to quit session", zap.Error(err))
				return fmt.Errorf("quit session: %w", err)
			}
			return nil
		})
	}
	for _, e := range servers {
		g.Go(func() error {
			if _, err := e.started.Await(ctx); err != nil {
				// never came up
				return nil
			}
			if err := e.srv.Stop(ctx); err != nil {
				m.logger.Warn("Failed to stop server", zap.String("host", e.srv.Host()), zap.Error(err))
				return fmt.Errorf("stop server %s: %w", e.srv.Host(), err)
			}
			return nil
		})
	}
	return g.Wait()
}

// Finish ends the run. After a failure in interactive mode (and not as one of several
// workers) the handle is handed off and triage runs until the operator leaves. Teardown
// follows in every case.
func (m *Manager[H]) Finish(ctx context.Context, o Outcome, triage Triage) error {
	var triageErr error
	switch {
	case !o.Failed || !o.Interactive || triage == nil:
	case o.MultiWorker:
		m.logger.Info("Not keeping the session open: running as one of several workers")
	default:
		m.mu.Lock()
		if m.has {
			m.state = HandedOff
		}
		m.mu.Unlock()
		if err := triage(ctx); err != nil {
			m.logger.Warn("Triage ended with error", zap.Error(err))
			triageErr = fmt.Errorf("triage: %w", err)
		}
	}
	return multierr.Combine(triageErr, m.Teardown(ctx))
}
