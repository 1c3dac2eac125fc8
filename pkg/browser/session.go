// Package browser drives one Chrome page per Session over CDP and adds the lookups,
// actions and diagnostics test code needs on top of rod.
package browser

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/cdp"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/launcher/flags"
	"github.com/go-rod/rod/lib/proto"
	"github.com/google/uuid"
	"github.com/spf13/afero"
	"go.uber.org/zap"

	"rodharness/internal/config"
	"rodharness/internal/logging"
	"rodharness/pkg/numbered"
	"rodharness/pkg/serialize"
)

// DefaultScreenshotPath is used when SaveScreenshot gets no relative path.
const DefaultScreenshotPath = "screenshot-{N}.png"

// ErrClosed is returned by operations on a session that has quit.
var ErrClosed = errors.New("browser session closed")

// Session owns a Chrome page and, when it launched one, the Chrome process.
type Session struct {
	id       string
	browser  *rod.Browser
	page     *rod.Page
	launcher *launcher.Launcher // nil when attached to a running browser
	control  string
	client   *Client
	logs     *logStore
	fs       afero.Fs
	logDir   string
	logger   *zap.Logger

	cancel context.CancelFunc

	mu     sync.Mutex
	mouse  proto.Point
	closed bool
}

// StackRepairExempt keeps the session handle itself out of stack-trace repair.
func (s *Session) StackRepairExempt() {}

// Launch starts (or attaches to) Chrome and opens a blank page. The session outlives ctx;
// ctx only bounds startup.
func Launch(ctx context.Context, opts Options) (*Session, error) {
	if err := opts.normalize(); err != nil {
		return nil, err
	}
	logger := logging.For(opts.Logger, logging.CategorySession)

	sctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s := &Session{
		id:     uuid.NewString(),
		logs:   newLogStore(opts.LogTypes),
		fs:     opts.Fs,
		logDir: opts.LogDir,
		cancel: cancel,
	}
	s.logger = logger.With(zap.String("session", s.id))

	fail := func(err error) (*Session, error) {
		_ = s.Quit(context.Background())
		return nil, err
	}

	controlURL := opts.ControlURL
	if controlURL == "" {
		l, err := newLauncher(opts)
		if err != nil {
			cancel()
			return nil, err
		}
		u, err := l.Launch()
		if err != nil {
			cancel()
			return nil, fmt.Errorf("launch chrome: %w", err)
		}
		s.launcher = l
		controlURL = u
	}

	s.control = controlURL

	ws, err := cdp.StartWithURL(ctx, controlURL, nil)
	if err != nil {
		return fail(fmt.Errorf("connect to chrome at %s: %w", controlURL, err))
	}

	var ser *serialize.Serializer
	if opts.MaxCalls > 0 {
		if ser, err = serialize.New(opts.MaxCalls); err != nil {
			return fail(err)
		}
	}
	s.client = newClient(ws, ser, s.logs, logging.For(opts.Logger, logging.CategoryCalls))

	s.browser = rod.New().Client(s.client).Context(sctx)
	if err := s.browser.Connect(); err != nil {
		return fail(fmt.Errorf("connect to chrome: %w", err))
	}

	version, err := s.browser.Context(ctx).Version()
	if err != nil {
		return fail(fmt.Errorf("chrome did not answer a version request, the browser and driver may be incompatible: %w", err))
	}

	page, err := s.browser.Page(proto.TargetCreateTarget{URL: "about:blank"})
	if err != nil {
		return fail(fmt.Errorf("create page: %w", err))
	}
	s.page = page

	if opts.Width > 0 && opts.Height > 0 {
		if err := (proto.EmulationSetDeviceMetricsOverride{
			Width:             opts.Width,
			Height:            opts.Height,
			DeviceScaleFactor: 1.0,
			Mobile:            false,
		}).Call(page); err != nil {
			s.logger.Warn("failed to set viewport", zap.Error(err))
		}
	}

	s.startEventStream(sctx)

	s.logger.Info("Browser session ready",
		zap.String("product", version.Product),
		zap.String("control_url", controlURL),
		zap.Int("max_calls", opts.MaxCalls),
		zap.Strings("log_types", opts.LogTypes))
	return s, nil
}

func newLauncher(opts Options) (*launcher.Launcher, error) {
	l := launcher.New().Headless(opts.Headless)

	switch {
	case opts.Bin != "":
		l = l.Bin(opts.Bin)
	case opts.IgnoreChromeVersion:
		bin, ok := launcher.LookPath()
		if !ok {
			return nil, errors.New("no Chrome found on PATH")
		}
		l = l.Bin(bin)
	}

	if opts.Width > 0 && opts.Height > 0 {
		l = l.Set(flags.Flag("window-size"), fmt.Sprintf("%d,%d", opts.Width, opts.Height))
	}
	if opts.NoControlBanner {
		l = l.Delete(flags.Flag("enable-automation"))
	}
	for _, rawFlag := range opts.Args {
		flagStr := strings.TrimLeft(rawFlag, "-")
		if flagStr == "" {
			continue
		}
		name, val, hasVal := strings.Cut(flagStr, "=")
		if hasVal {
			l = l.Set(flags.Flag(name), val)
		} else {
			l = l.Set(flags.Flag(name))
		}
	}
	return l, nil
}

// startEventStream feeds console, browser log and network events into the log store.
func (s *Session) startEventStream(ctx context.Context) {
	handlers := []interface{}{
		func(ev *proto.RuntimeConsoleAPICalled) {
			s.logs.add(config.LogBrowser, LogEntry{
				Time:    time.Now(),
				Level:   consoleLevel(ev.Type),
				Message: stringifyConsoleArgs(ev.Args),
			})
		},
		func(ev *proto.LogEntryAdded) {
			if ev.Entry == nil {
				return
			}
			msg := ev.Entry.Text
			if ev.Entry.URL != "" {
				msg = ev.Entry.URL + " " + msg
			}
			s.logs.add(config.LogBrowser, LogEntry{Time: time.Now(), Level: entryLevel(ev.Entry.Level), Message: msg})
		},
	}
	if s.logs.isEnabled(config.LogPerformance) {
		handlers = append(handlers, func(ev *proto.NetworkResponseReceived) {
			if ev.Response == nil {
				return
			}
			s.logs.add(config.LogPerformance, LogEntry{
				Time:    time.Now(),
				Level:   LevelInfo,
				Message: fmt.Sprintf("Network.responseReceived %d %s", ev.Response.Status, ev.Response.URL),
			})
		})
	}

	wait := s.page.Context(ctx).EachEvent(handlers...)
	go wait()
}

func (s *Session) String() string { return "Session(" + s.id + ")" }

// ControlURL returns the DevTools websocket URL of the browser.
func (s *Session) ControlURL() string { return s.control }

// ID identifies the session in logs.
func (s *Session) ID() string { return s.id }

// Page returns the rod page the session drives.
func (s *Session) Page() *rod.Page { return s.page }

// Browser returns the rod browser.
func (s *Session) Browser() *rod.Browser { return s.browser }

// Client returns the session's CDP client.
func (s *Session) Client() *Client { return s.client }

// LogDir is the configured capture directory; empty when capture is disabled.
func (s *Session) LogDir() string { return s.logDir }

// Fs is the filesystem artifacts are written to.
func (s *Session) Fs() afero.Fs { return s.fs }

func (s *Session) wrap(el *rod.Element) *Element {
	return &Element{el: el, sess: s}
}

func (s *Session) wrapAll(els rod.Elements) []*Element {
	out := make([]*Element, 0, len(els))
	for _, el := range els {
		out = append(out, s.wrap(el))
	}
	return out
}

func (s *Session) moveMouse(ctx context.Context, p proto.Point) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.page.Context(ctx).Mouse.MoveTo(p); err != nil {
		return fmt.Errorf("mouse move: %w", err)
	}
	s.mouse = p
	return nil
}

// Quit closes the page and browser and stops a launched Chrome. Only the first call has
// any effect.
func (s *Session) Quit(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	var err error
	switch {
	case s.launcher != nil && s.browser != nil:
		err = s.browser.Context(ctx).Close()
	case s.page != nil:
		err = s.page.Context(ctx).Close()
	}
	if s.cancel != nil {
		s.cancel()
	}
	if s.launcher != nil {
		s.launcher.Kill()
		s.launcher.Cleanup()
	}
	logger := logging.OrNop(s.logger)
	if err != nil {
		logger.Warn("Browser session closed with error", zap.Error(err))
		return fmt.Errorf("quit browser: %w", err)
	}
	logger.Info("Browser session closed")
	return nil
}

func (s *Session) checkOpen() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	return nil
}

// session operations; the exported methods in methods.go dispatch to these.

func sessionNavigate(s *Session, ctx context.Context, url string) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	p := s.page.Context(ctx)
	if err := p.Navigate(url); err != nil {
		return fmt.Errorf("navigate to %s: %w", url, err)
	}
	if err := p.WaitLoad(); err != nil {
		return fmt.Errorf("wait for %s to load: %w", url, err)
	}
	return nil
}

func sessionEval(s *Session, ctx context.Context, js string, args ...interface{}) (interface{}, error) {
	res, err := s.page.Context(ctx).Eval(js, args...)
	if err != nil {
		return nil, fmt.Errorf("eval: %w", err)
	}
	return res.Value.Val(), nil
}

func sessionFind(s *Session, ctx context.Context, selector string) *ElementFuture {
	return goElement(func() (*Element, error) {
		el, err := s.page.Context(ctx).Sleeper(rod.NotFoundSleeper).Element(selector)
		if err != nil {
			return nil, fmt.Errorf("find %q: %w", selector, err)
		}
		return s.wrap(el), nil
	})
}

func sessionFindAll(s *Session, ctx context.Context, selector string) ([]*Element, error) {
	els, err := s.page.Context(ctx).Elements(selector)
	if err != nil {
		return nil, fmt.Errorf("find all %q: %w", selector, err)
	}
	return s.wrapAll(els), nil
}

func sessionFindWait(s *Session, ctx context.Context, selector string, timeout time.Duration) *ElementFuture {
	return goElement(func() (*Element, error) {
		return waitForValue(ctx, timeout, "for element matching "+selector, func(ctx context.Context) (*Element, error) {
			els, err := s.page.Context(ctx).Elements(selector)
			if err != nil {
				return nil, err
			}
			if len(els) == 0 {
				return nil, fmt.Errorf("no element matches %q", selector)
			}
			return s.wrap(els.First()), nil
		})
	})
}

func sessionFindContent(s *Session, ctx context.Context, selector, pattern string) *ElementFuture {
	return goElement(func() (*Element, error) {
		return s.findContentOnce(ctx, selector, pattern)
	})
}

func sessionFindContentWait(s *Session, ctx context.Context, selector, pattern string, timeout time.Duration) *ElementFuture {
	return goElement(func() (*Element, error) {
		what := fmt.Sprintf("for element matching %s with content /%s/", selector, pattern)
		return waitForValue(ctx, timeout, what, func(ctx context.Context) (*Element, error) {
			return s.findContentOnce(ctx, selector, pattern)
		})
	})
}

func (s *Session) findContentOnce(ctx context.Context, selector, pattern string) (*Element, error) {
	el, err := s.page.Context(ctx).Sleeper(rod.NotFoundSleeper).ElementByJS(rod.Eval(jsFindContent, selector, pattern))
	if err != nil {
		return nil, fmt.Errorf("find %q with content /%s/: %w", selector, pattern, err)
	}
	return s.wrap(el), nil
}

func sessionMouseDown(s *Session, ctx context.Context) error {
	if err := s.page.Context(ctx).Mouse.Down(proto.InputMouseButtonLeft, 1); err != nil {
		return fmt.Errorf("mouse down: %w", err)
	}
	return nil
}

func sessionMouseUp(s *Session, ctx context.Context) error {
	if err := s.page.Context(ctx).Mouse.Up(proto.InputMouseButtonLeft, 1); err != nil {
		return fmt.Errorf("mouse up: %w", err)
	}
	return nil
}

func sessionMouseMoveBy(s *Session, ctx context.Context, dx, dy float64) error {
	s.mu.Lock()
	p := proto.Point{X: s.mouse.X + dx, Y: s.mouse.Y + dy}
	s.mu.Unlock()
	return s.moveMouse(ctx, p)
}

func sessionSendKeys(s *Session, ctx context.Context, keys ...string) error {
	if err := s.page.Context(ctx).InsertText(strings.Join(keys, "")); err != nil {
		return fmt.Errorf("send keys: %w", err)
	}
	return nil
}

func sessionSleep(_ *Session, ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func sessionFetchLogs(s *Session, logType string) ([]string, error) {
	return s.logs.fetchLogs(logType)
}

func sessionScreenshot(s *Session, ctx context.Context) ([]byte, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	data, err := s.page.Context(ctx).Screenshot(false, nil)
	if err != nil {
		return nil, fmt.Errorf("screenshot: %w", err)
	}
	return data, nil
}

func sessionSaveScreenshot(s *Session, ctx context.Context, relPath, dir string) (string, error) {
	if dir == "" {
		return "", nil
	}
	if relPath == "" {
		relPath = DefaultScreenshotPath
	}
	full := filepath.Join(dir, relPath)
	if err := s.fs.MkdirAll(filepath.Dir(full), 0755); err != nil {
		return "", fmt.Errorf("create screenshot directory: %w", err)
	}
	data, err := sessionScreenshot(s, ctx)
	if err != nil {
		return "", err
	}
	path, err := numbered.Create(s.fs, full)
	if err != nil {
		return "", err
	}
	if err := afero.WriteFile(s.fs, path, data, os.FileMode(0644)); err != nil {
		return "", fmt.Errorf("write screenshot: %w", err)
	}
	return path, nil
}
