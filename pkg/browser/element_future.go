package browser

import (
	"context"
	"time"

	"rodharness/pkg/future"
)

// ElementFuture is an element lookup that may still be in flight. Element actions can be
// chained on it before it settles; each returns a new ElementFuture for the same element.
type ElementFuture struct {
	*future.Future[*Element]
}

func goElement(fn func() (*Element, error)) *ElementFuture {
	return &ElementFuture{Future: future.Go(fn)}
}

// ResolvedElement wraps an element that is already at hand.
func ResolvedElement(e *Element) *ElementFuture {
	return &ElementFuture{Future: future.Resolve(e)}
}

// WithRepair keeps element futures element futures under stack-trace repair.
func (f *ElementFuture) WithRepair(fix func(error) error) any {
	return &ElementFuture{Future: f.Future.Catch(fix)}
}

func (f *ElementFuture) then(fn func(*Element) (*Element, error)) *ElementFuture {
	return &ElementFuture{Future: future.Then(f.Future, fn)}
}

func (f *ElementFuture) find(ctx context.Context, next func(*Element) *ElementFuture) *ElementFuture {
	return f.then(func(e *Element) (*Element, error) {
		return next(e).Await(ctx)
	})
}

func (f *ElementFuture) Find(ctx context.Context, selector string) *ElementFuture {
	return f.find(ctx, func(e *Element) *ElementFuture { return e.Find(ctx, selector) })
}

func (f *ElementFuture) FindWait(ctx context.Context, selector string, timeout time.Duration) *ElementFuture {
	return f.find(ctx, func(e *Element) *ElementFuture { return e.FindWait(ctx, selector, timeout) })
}

func (f *ElementFuture) FindContent(ctx context.Context, selector, pattern string) *ElementFuture {
	return f.find(ctx, func(e *Element) *ElementFuture { return e.FindContent(ctx, selector, pattern) })
}

func (f *ElementFuture) FindClosest(ctx context.Context, selector string) *ElementFuture {
	return f.find(ctx, func(e *Element) *ElementFuture { return e.FindClosest(ctx, selector) })
}

func (f *ElementFuture) DoClick(ctx context.Context) *ElementFuture {
	return f.then(func(e *Element) (*Element, error) { return e.DoClick(ctx) })
}

func (f *ElementFuture) DoSendKeys(ctx context.Context, keys ...string) *ElementFuture {
	return f.then(func(e *Element) (*Element, error) { return e.DoSendKeys(ctx, keys...) })
}

func (f *ElementFuture) DoSubmit(ctx context.Context) *ElementFuture {
	return f.then(func(e *Element) (*Element, error) { return e.DoSubmit(ctx) })
}

func (f *ElementFuture) DoClear(ctx context.Context) *ElementFuture {
	return f.then(func(e *Element) (*Element, error) { return e.DoClear(ctx) })
}

func (f *ElementFuture) MouseMove(ctx context.Context, dx, dy float64) *ElementFuture {
	return f.then(func(e *Element) (*Element, error) { return e.MouseMove(ctx, dx, dy) })
}

// Describe awaits the element and describes it.
func (f *ElementFuture) Describe(ctx context.Context) (string, error) {
	e, err := f.Await(ctx)
	if err != nil {
		return "", err
	}
	return e.Describe(ctx)
}
