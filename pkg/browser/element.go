package browser

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
)

// Element is a handle to one DOM element of a session's page.
type Element struct {
	el   *rod.Element
	sess *Session
}

// Rod returns the underlying rod element.
func (e *Element) Rod() *rod.Element { return e.el }

// Session returns the session the element belongs to.
func (e *Element) Session() *Session { return e.sess }

// ID is the remote object id of the element.
func (e *Element) ID() string {
	if e.el == nil || e.el.Object == nil {
		return ""
	}
	return string(e.el.Object.ObjectID)
}

func (e *Element) on(ctx context.Context) *rod.Element {
	return e.el.Context(ctx)
}

func (e *Element) eval(ctx context.Context, js string, args ...interface{}) (*proto.RuntimeRemoteObject, error) {
	res, err := e.on(ctx).Eval(js, args...)
	if err != nil {
		return nil, err
	}
	return res, nil
}

// Rect is an element's bounding box in CSS pixels.
type Rect struct {
	X, Y, Width, Height float64
}

func (r Rect) Top() float64    { return r.Y }
func (r Rect) Bottom() float64 { return r.Y + r.Height }
func (r Rect) Left() float64   { return r.X }
func (r Rect) Right() float64  { return r.X + r.Width }

// Center is the middle of the box.
func (r Rect) Center() proto.Point {
	return proto.Point{X: r.X + r.Width/2, Y: r.Y + r.Height/2}
}

// describe renders "tag#id.cls1.cls2[elemID]".
func describe(tag, id, classAttr, elemID string) string {
	var b strings.Builder
	b.WriteString(strings.ToLower(tag))
	if id != "" {
		b.WriteString("#" + id)
	}
	if classes := strings.Fields(classAttr); len(classes) > 0 {
		b.WriteString("." + strings.Join(classes, "."))
	}
	fmt.Fprintf(&b, "[%s]", elemID)
	return b.String()
}

const (
	jsDescribe = `() => ({
		tag: this.tagName || '',
		id: this.id || '',
		cls: (typeof this.className === 'string') ? this.className : (this.getAttribute('class') || ''),
	})`
	jsRect = `() => {
		const r = this.getBoundingClientRect();
		return {x: r.x, y: r.y, width: r.width, height: r.height};
	}`
	jsValue    = `() => (this.value === undefined || this.value === null) ? '' : String(this.value)`
	jsHasFocus = `() => document.activeElement === this`
	jsPresent  = `() => this.isConnected`
	jsIndex    = `() => this.parentElement ? Array.prototype.indexOf.call(this.parentElement.children, this) : -1`
	jsMatches  = `(sel) => this.matches(sel)`
	jsClosest  = `(sel) => this.closest(sel)`
	jsClear    = `() => {
		this.value = '';
		this.dispatchEvent(new Event('input', {bubbles: true}));
		this.dispatchEvent(new Event('change', {bubbles: true}));
	}`
	jsSubmit = `() => {
		const form = this.form || this.closest('form');
		if (!form) { throw new Error('element is not inside a form'); }
		if (form.requestSubmit) { form.requestSubmit(); } else { form.submit(); }
	}`
	// jsFindContent returns the first element under this (or the document) matching sel
	// whose innerText matches the regular expression source re.
	jsFindContent = `(sel, re) => {
		const root = (this && typeof this.querySelectorAll === 'function') ? this : document;
		const elements = [...root.querySelectorAll(sel)];
		const pattern = new RegExp(re);
		const found = elements.find((el) => pattern.test(el.innerText));
		if (!found) { throw new Error('None of ' + elements.length + ' elements match ' + pattern); }
		return found;
	}`
)

// element operations; the exported methods in methods.go dispatch to these.

func elementFind(e *Element, ctx context.Context, selector string) *ElementFuture {
	return goElement(func() (*Element, error) {
		el, err := e.on(ctx).Sleeper(rod.NotFoundSleeper).Element(selector)
		if err != nil {
			return nil, fmt.Errorf("find %q: %w", selector, err)
		}
		return e.sess.wrap(el), nil
	})
}

func elementFindAll(e *Element, ctx context.Context, selector string) ([]*Element, error) {
	els, err := e.on(ctx).Elements(selector)
	if err != nil {
		return nil, fmt.Errorf("find all %q: %w", selector, err)
	}
	return e.sess.wrapAll(els), nil
}

func elementFindWait(e *Element, ctx context.Context, selector string, timeout time.Duration) *ElementFuture {
	return goElement(func() (*Element, error) {
		return waitForValue(ctx, timeout, "for element matching "+selector, func(ctx context.Context) (*Element, error) {
			els, err := e.on(ctx).Elements(selector)
			if err != nil {
				return nil, err
			}
			if len(els) == 0 {
				return nil, fmt.Errorf("no element matches %q", selector)
			}
			return e.sess.wrap(els.First()), nil
		})
	})
}

func elementFindContent(e *Element, ctx context.Context, selector, pattern string) *ElementFuture {
	return goElement(func() (*Element, error) {
		el, err := e.on(ctx).Sleeper(rod.NotFoundSleeper).ElementByJS(rod.Eval(jsFindContent, selector, pattern))
		if err != nil {
			return nil, fmt.Errorf("find %q with content /%s/: %w", selector, pattern, err)
		}
		return e.sess.wrap(el), nil
	})
}

func elementFindClosest(e *Element, ctx context.Context, selector string) *ElementFuture {
	return goElement(func() (*Element, error) {
		el, err := e.on(ctx).Sleeper(rod.NotFoundSleeper).ElementByJS(rod.Eval(jsClosest, selector))
		if err != nil {
			return nil, fmt.Errorf("find closest %q: %w", selector, err)
		}
		return e.sess.wrap(el), nil
	})
}

func elementDoClick(e *Element, ctx context.Context) (*Element, error) {
	if err := e.on(ctx).Click(proto.InputMouseButtonLeft, 1); err != nil {
		return nil, fmt.Errorf("click: %w", err)
	}
	return e, nil
}

func elementDoSendKeys(e *Element, ctx context.Context, keys ...string) (*Element, error) {
	if err := e.on(ctx).Input(strings.Join(keys, "")); err != nil {
		return nil, fmt.Errorf("send keys: %w", err)
	}
	return e, nil
}

func elementDoSubmit(e *Element, ctx context.Context) (*Element, error) {
	if _, err := e.eval(ctx, jsSubmit); err != nil {
		return nil, fmt.Errorf("submit: %w", err)
	}
	return e, nil
}

func elementDoClear(e *Element, ctx context.Context) (*Element, error) {
	if _, err := e.eval(ctx, jsClear); err != nil {
		return nil, fmt.Errorf("clear: %w", err)
	}
	return e, nil
}

func elementMouseMove(e *Element, ctx context.Context, dx, dy float64) (*Element, error) {
	r, err := elementRect(e, ctx)
	if err != nil {
		return nil, err
	}
	c := r.Center()
	if err := e.sess.moveMouse(ctx, proto.Point{X: c.X + dx, Y: c.Y + dy}); err != nil {
		return nil, err
	}
	return e, nil
}

func elementValue(e *Element, ctx context.Context) (string, error) {
	res, err := e.eval(ctx, jsValue)
	if err != nil {
		return "", fmt.Errorf("value: %w", err)
	}
	return res.Value.Str(), nil
}

func elementText(e *Element, ctx context.Context) (string, error) {
	text, err := e.on(ctx).Text()
	if err != nil {
		return "", fmt.Errorf("text: %w", err)
	}
	return text, nil
}

func elementDescribe(e *Element, ctx context.Context) (string, error) {
	res, err := e.eval(ctx, jsDescribe)
	if err != nil {
		return "", fmt.Errorf("describe: %w", err)
	}
	v := res.Value
	return describe(v.Get("tag").Str(), v.Get("id").Str(), v.Get("cls").Str(), e.ID()), nil
}

func elementRect(e *Element, ctx context.Context) (Rect, error) {
	res, err := e.eval(ctx, jsRect)
	if err != nil {
		return Rect{}, fmt.Errorf("rect: %w", err)
	}
	v := res.Value
	return Rect{
		X:      v.Get("x").Num(),
		Y:      v.Get("y").Num(),
		Width:  v.Get("width").Num(),
		Height: v.Get("height").Num(),
	}, nil
}

func elementHasFocus(e *Element, ctx context.Context) (bool, error) {
	res, err := e.eval(ctx, jsHasFocus)
	if err != nil {
		return false, fmt.Errorf("has focus: %w", err)
	}
	return res.Value.Bool(), nil
}

func elementIsPresent(e *Element, ctx context.Context) (bool, error) {
	res, err := e.eval(ctx, jsPresent)
	if err != nil {
		return false, fmt.Errorf("is present: %w", err)
	}
	return res.Value.Bool(), nil
}

func elementIndex(e *Element, ctx context.Context) (int, error) {
	res, err := e.eval(ctx, jsIndex)
	if err != nil {
		return 0, fmt.Errorf("index: %w", err)
	}
	return res.Value.Int(), nil
}

func elementMatches(e *Element, ctx context.Context, selector string) (bool, error) {
	res, err := e.eval(ctx, jsMatches, selector)
	if err != nil {
		return false, fmt.Errorf("matches %q: %w", selector, err)
	}
	return res.Value.Bool(), nil
}
