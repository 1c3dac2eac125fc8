package browser

import (
	"context"
	"sync"
	"time"

	"rodharness/pkg/stacktrace"
)

// Finder is implemented by both Session and Element: lookups scoped to the page or to an
// element's subtree.
type Finder interface {
	Find(ctx context.Context, selector string) *ElementFuture
	FindAll(ctx context.Context, selector string) ([]*Element, error)
	FindWait(ctx context.Context, selector string, timeout time.Duration) *ElementFuture
	FindContent(ctx context.Context, selector, pattern string) *ElementFuture
}

var (
	_ Finder = (*Session)(nil)
	_ Finder = (*Element)(nil)
)

type sessionTable struct {
	Navigate        stacktrace.Method[func(*Session, context.Context, string) error]
	Eval            stacktrace.Method[func(*Session, context.Context, string, ...interface{}) (interface{}, error)]
	Find            stacktrace.Method[func(*Session, context.Context, string) *ElementFuture]
	FindAll         stacktrace.Method[func(*Session, context.Context, string) ([]*Element, error)]
	FindWait        stacktrace.Method[func(*Session, context.Context, string, time.Duration) *ElementFuture]
	FindContent     stacktrace.Method[func(*Session, context.Context, string, string) *ElementFuture]
	FindContentWait stacktrace.Method[func(*Session, context.Context, string, string, time.Duration) *ElementFuture]
	MouseDown       stacktrace.Method[func(*Session, context.Context) error]
	MouseUp         stacktrace.Method[func(*Session, context.Context) error]
	MouseMoveBy     stacktrace.Method[func(*Session, context.Context, float64, float64) error]
	SendKeys        stacktrace.Method[func(*Session, context.Context, ...string) error]
	Sleep           stacktrace.Method[func(*Session, context.Context, time.Duration) error]
	Screenshot      stacktrace.Method[func(*Session, context.Context) ([]byte, error)]
	SaveScreenshot  stacktrace.Method[func(*Session, context.Context, string, string) (string, error)]

	// FetchLogs_ runs inside capture hooks, whose failures are logged rather than
	// reported, so its errors stay as they are.
	FetchLogs_ stacktrace.Method[func(*Session, string) ([]string, error)]
}

type elementTable struct {
	Find        stacktrace.Method[func(*Element, context.Context, string) *ElementFuture]
	FindAll     stacktrace.Method[func(*Element, context.Context, string) ([]*Element, error)]
	FindWait    stacktrace.Method[func(*Element, context.Context, string, time.Duration) *ElementFuture]
	FindContent stacktrace.Method[func(*Element, context.Context, string, string) *ElementFuture]
	FindClosest stacktrace.Method[func(*Element, context.Context, string) *ElementFuture]
	DoClick     stacktrace.Method[func(*Element, context.Context) (*Element, error)]
	DoSendKeys  stacktrace.Method[func(*Element, context.Context, ...string) (*Element, error)]
	DoSubmit    stacktrace.Method[func(*Element, context.Context) (*Element, error)]
	DoClear     stacktrace.Method[func(*Element, context.Context) (*Element, error)]
	MouseMove   stacktrace.Method[func(*Element, context.Context, float64, float64) (*Element, error)]
	Value       stacktrace.Method[func(*Element, context.Context) (string, error)]
	Text        stacktrace.Method[func(*Element, context.Context) (string, error)]
	Rect        stacktrace.Method[func(*Element, context.Context) (Rect, error)]
	HasFocus    stacktrace.Method[func(*Element, context.Context) (bool, error)]
	IsPresent   stacktrace.Method[func(*Element, context.Context) (bool, error)]
	Index       stacktrace.Method[func(*Element, context.Context) (int, error)]
	Matches     stacktrace.Method[func(*Element, context.Context, string) (bool, error)]

	// Describe_ feeds the REPL presenter, which shows the message only.
	Describe_ stacktrace.Method[func(*Element, context.Context) (string, error)]
}

var (
	sessionMethods = sessionTable{
		Navigate:        stacktrace.M(sessionNavigate),
		Eval:            stacktrace.M(sessionEval),
		Find:            stacktrace.M(sessionFind),
		FindAll:         stacktrace.M(sessionFindAll),
		FindWait:        stacktrace.M(sessionFindWait),
		FindContent:     stacktrace.M(sessionFindContent),
		FindContentWait: stacktrace.M(sessionFindContentWait),
		MouseDown:       stacktrace.M(sessionMouseDown),
		MouseUp:         stacktrace.M(sessionMouseUp),
		MouseMoveBy:     stacktrace.M(sessionMouseMoveBy),
		SendKeys:        stacktrace.M(sessionSendKeys),
		Sleep:           stacktrace.M(sessionSleep),
		Screenshot:      stacktrace.M(sessionScreenshot),
		SaveScreenshot:  stacktrace.M(sessionSaveScreenshot),
		FetchLogs_:      stacktrace.M(sessionFetchLogs),
	}

	elementMethods = elementTable{
		Find:        stacktrace.M(elementFind),
		FindAll:     stacktrace.M(elementFindAll),
		FindWait:    stacktrace.M(elementFindWait),
		FindContent: stacktrace.M(elementFindContent),
		FindClosest: stacktrace.M(elementFindClosest),
		DoClick:     stacktrace.M(elementDoClick),
		DoSendKeys:  stacktrace.M(elementDoSendKeys),
		DoSubmit:    stacktrace.M(elementDoSubmit),
		DoClear:     stacktrace.M(elementDoClear),
		MouseMove:   stacktrace.M(elementMouseMove),
		Value:       stacktrace.M(elementValue),
		Text:        stacktrace.M(elementText),
		Rect:        stacktrace.M(elementRect),
		HasFocus:    stacktrace.M(elementHasFocus),
		IsPresent:   stacktrace.M(elementIsPresent),
		Index:       stacktrace.M(elementIndex),
		Matches:     stacktrace.M(elementMatches),
		Describe_:   stacktrace.M(elementDescribe),
	}

	wrapMu sync.Mutex
)

// WrapMethods enables stack-trace repair on every session and element operation, if repair
// is enabled. Call it before the first session is created; later calls are no-ops.
func WrapMethods() {
	wrapMu.Lock()
	defer wrapMu.Unlock()
	stacktrace.WrapOwnMethods(&sessionMethods)
	stacktrace.WrapOwnMethods(&elementMethods)
}

// Navigate loads url and waits for the load event.
func (s *Session) Navigate(ctx context.Context, url string) error {
	return sessionMethods.Navigate.Fn(s, ctx, url)
}

// Eval runs a JavaScript function on the page and returns its JSON value.
func (s *Session) Eval(ctx context.Context, js string, args ...interface{}) (interface{}, error) {
	return sessionMethods.Eval.Fn(s, ctx, js, args...)
}

// Find looks up the first element matching a CSS selector, without waiting.
func (s *Session) Find(ctx context.Context, selector string) *ElementFuture {
	return sessionMethods.Find.Fn(s, ctx, selector)
}

// FindAll returns every element matching selector; none is not an error.
func (s *Session) FindAll(ctx context.Context, selector string) ([]*Element, error) {
	return sessionMethods.FindAll.Fn(s, ctx, selector)
}

// FindWait polls for an element matching selector for up to timeout.
func (s *Session) FindWait(ctx context.Context, selector string, timeout time.Duration) *ElementFuture {
	return sessionMethods.FindWait.Fn(s, ctx, selector, timeout)
}

// FindContent finds the first element matching selector whose visible text matches the
// JavaScript regular expression pattern.
func (s *Session) FindContent(ctx context.Context, selector, pattern string) *ElementFuture {
	return sessionMethods.FindContent.Fn(s, ctx, selector, pattern)
}

// FindContentWait is FindContent, polling for up to timeout.
func (s *Session) FindContentWait(ctx context.Context, selector, pattern string, timeout time.Duration) *ElementFuture {
	return sessionMethods.FindContentWait.Fn(s, ctx, selector, pattern, timeout)
}

func (s *Session) MouseDown(ctx context.Context) error {
	return sessionMethods.MouseDown.Fn(s, ctx)
}

func (s *Session) MouseUp(ctx context.Context) error {
	return sessionMethods.MouseUp.Fn(s, ctx)
}

// MouseMoveBy moves the pointer relative to where it last was.
func (s *Session) MouseMoveBy(ctx context.Context, dx, dy float64) error {
	return sessionMethods.MouseMoveBy.Fn(s, ctx, dx, dy)
}

// SendKeys types text into whatever has focus.
func (s *Session) SendKeys(ctx context.Context, keys ...string) error {
	return sessionMethods.SendKeys.Fn(s, ctx, keys...)
}

func (s *Session) Sleep(ctx context.Context, d time.Duration) error {
	return sessionMethods.Sleep.Fn(s, ctx, d)
}

// FetchLogs returns and clears the messages collected on one log channel since the last
// fetch. Channels Chrome cannot provide yield one "ERROR FETCHING LOGS" line.
func (s *Session) FetchLogs(logType string) ([]string, error) {
	return sessionMethods.FetchLogs_.Fn(s, logType)
}

// Screenshot captures the visible part of the page as PNG.
func (s *Session) Screenshot(ctx context.Context) ([]byte, error) {
	return sessionMethods.Screenshot.Fn(s, ctx)
}

// SaveScreenshot writes a PNG to a numbered file built from relPath (default
// "screenshot-{N}.png") under dir. An empty dir disables saving and returns "".
func (s *Session) SaveScreenshot(ctx context.Context, relPath, dir string) (string, error) {
	return sessionMethods.SaveScreenshot.Fn(s, ctx, relPath, dir)
}

func (e *Element) Find(ctx context.Context, selector string) *ElementFuture {
	return elementMethods.Find.Fn(e, ctx, selector)
}

func (e *Element) FindAll(ctx context.Context, selector string) ([]*Element, error) {
	return elementMethods.FindAll.Fn(e, ctx, selector)
}

func (e *Element) FindWait(ctx context.Context, selector string, timeout time.Duration) *ElementFuture {
	return elementMethods.FindWait.Fn(e, ctx, selector, timeout)
}

func (e *Element) FindContent(ctx context.Context, selector, pattern string) *ElementFuture {
	return elementMethods.FindContent.Fn(e, ctx, selector, pattern)
}

// FindClosest returns the nearest ancestor (or the element itself) matching selector.
func (e *Element) FindClosest(ctx context.Context, selector string) *ElementFuture {
	return elementMethods.FindClosest.Fn(e, ctx, selector)
}

func (e *Element) DoClick(ctx context.Context) (*Element, error) {
	return elementMethods.DoClick.Fn(e, ctx)
}

func (e *Element) DoSendKeys(ctx context.Context, keys ...string) (*Element, error) {
	return elementMethods.DoSendKeys.Fn(e, ctx, keys...)
}

// DoSubmit submits the element's form.
func (e *Element) DoSubmit(ctx context.Context) (*Element, error) {
	return elementMethods.DoSubmit.Fn(e, ctx)
}

// DoClear empties an input, firing input and change events.
func (e *Element) DoClear(ctx context.Context) (*Element, error) {
	return elementMethods.DoClear.Fn(e, ctx)
}

// MouseMove moves the pointer to the element's center plus an offset.
func (e *Element) MouseMove(ctx context.Context, dx, dy float64) (*Element, error) {
	return elementMethods.MouseMove.Fn(e, ctx, dx, dy)
}

func (e *Element) Value(ctx context.Context) (string, error) {
	return elementMethods.Value.Fn(e, ctx)
}

func (e *Element) Text(ctx context.Context) (string, error) {
	return elementMethods.Text.Fn(e, ctx)
}

func (e *Element) Rect(ctx context.Context) (Rect, error) {
	return elementMethods.Rect.Fn(e, ctx)
}

func (e *Element) HasFocus(ctx context.Context) (bool, error) {
	return elementMethods.HasFocus.Fn(e, ctx)
}

// IsPresent reports whether the element is still attached to the document.
func (e *Element) IsPresent(ctx context.Context) (bool, error) {
	return elementMethods.IsPresent.Fn(e, ctx)
}

// Index is the element's position among its parent's children.
func (e *Element) Index(ctx context.Context) (int, error) {
	return elementMethods.Index.Fn(e, ctx)
}

func (e *Element) Matches(ctx context.Context, selector string) (bool, error) {
	return elementMethods.Matches.Fn(e, ctx, selector)
}

// Describe renders the element as "tag#id.class1.class2[objectID]".
func (e *Element) Describe(ctx context.Context) (string, error) {
	return elementMethods.Describe_.Fn(e, ctx)
}
