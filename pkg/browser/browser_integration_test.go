//go:build integration

package browser_test

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"rodharness/pkg/browser"
	"rodharness/pkg/stacktrace"
)

const page = `<html><body>
<form id="f"><input id="inp" class="cls0 test0" value="hello"><button id="go">Go</button></form>
<ul><li>apple</li><li class="fruit">banana</li><li>cherry</li></ul>
<div id="late"></div>
<script>
  console.log("page loaded", 42);
  setTimeout(() => { document.getElementById("late").innerHTML = '<span class="arrived">here</span>'; }, 300);
</script>
</body></html>`

func startSession(t *testing.T, opts browser.Options) (*browser.Session, string) {
	t.Helper()

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, page)
	}))
	t.Cleanup(ts.Close)

	opts.Headless = true
	opts.Logger = zaptest.NewLogger(t)
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	sess, err := browser.Launch(ctx, opts)
	require.NoError(t, err, "Failed to launch browser")
	t.Cleanup(func() {
		if err := sess.Quit(context.Background()); err != nil {
			t.Logf("Quit error: %v", err)
		}
	})
	return sess, ts.URL
}

func TestSession_FindAndAct_Integration(t *testing.T) {
	sess, url := startSession(t, browser.Options{MaxCalls: 3})
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// 1. Navigate
	require.NoError(t, sess.Navigate(ctx, url))

	// 2. Immediate lookups
	desc, err := sess.Find(ctx, "#inp").Describe(ctx)
	require.NoError(t, err)
	assert.Regexp(t, `^input#inp\.cls0\.test0\[.+\]$`, desc)

	items, err := sess.FindAll(ctx, "li")
	require.NoError(t, err)
	require.Len(t, items, 3)
	idx, err := items[1].Index(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, idx)

	banana, err := sess.FindContent(ctx, "li", "^ban").Await(ctx)
	require.NoError(t, err)
	ok, err := banana.Matches(ctx, ".fruit")
	require.NoError(t, err)
	assert.True(t, ok)

	_, err = sess.FindContent(ctx, "li", "kiwi").Await(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "None of 3 elements match")

	// 3. Chained actions on an element future
	inp, err := sess.Find(ctx, "#inp").DoClear(ctx).DoSendKeys(ctx, "world").Await(ctx)
	require.NoError(t, err)
	val, err := inp.Value(ctx)
	require.NoError(t, err)
	assert.Equal(t, "world", val)
	focused, err := inp.HasFocus(ctx)
	require.NoError(t, err)
	assert.True(t, focused)

	form, err := inp.FindClosest(ctx, "form").Await(ctx)
	require.NoError(t, err)
	d, err := form.Describe(ctx)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(d, "form#f["), d)

	// 4. Waiting lookups
	arrived, err := sess.FindWait(ctx, ".arrived", 5*time.Second).Await(ctx)
	require.NoError(t, err)
	text, err := arrived.Text(ctx)
	require.NoError(t, err)
	assert.Equal(t, "here", text)

	_, err = sess.FindWait(ctx, ".never", 300*time.Millisecond).Await(ctx)
	require.ErrorIs(t, err, browser.ErrTimeout)

	// 5. Mouse
	_, err = inp.MouseMove(ctx, 0, 0)
	require.NoError(t, err)
	require.NoError(t, sess.MouseMoveBy(ctx, 5, 5))

	// 6. Logs: console output is collected and drained
	require.Eventually(t, func() bool {
		lines, err := sess.FetchLogs("browser")
		return err == nil && len(lines) > 0 && strings.Contains(strings.Join(lines, "\n"), "INFO page loaded 42")
	}, 5*time.Second, 50*time.Millisecond)

	driver, err := sess.FetchLogs("driver")
	require.NoError(t, err)
	assert.NotEmpty(t, driver)
}

func TestSession_Screenshot_Integration(t *testing.T) {
	fs := afero.NewMemMapFs()
	sess, url := startSession(t, browser.Options{Fs: fs, Width: 800, Height: 600})
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	require.NoError(t, sess.Navigate(ctx, url))

	p1, err := sess.SaveScreenshot(ctx, "", "shots")
	require.NoError(t, err)
	p2, err := sess.SaveScreenshot(ctx, "", "shots")
	require.NoError(t, err)
	assert.Equal(t, "shots/screenshot-1.png", p1)
	assert.Equal(t, "shots/screenshot-2.png", p2)

	data, err := afero.ReadFile(fs, p1)
	require.NoError(t, err)
	assert.True(t, len(data) > 8 && string(data[1:4]) == "PNG")
}

func TestSession_StackRepair_Integration(t *testing.T) {
	stacktrace.SetEnabled(true)
	t.Cleanup(func() { stacktrace.SetEnabled(false) })
	browser.WrapMethods()

	sess, url := startSession(t, browser.Options{})
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	require.NoError(t, sess.Navigate(ctx, url))

	_, err := sess.Find(ctx, "#missing").DoClick(ctx).Await(ctx)
	require.Error(t, err)
	assert.Contains(t, fmt.Sprintf("%+v", err), "TestSession_StackRepair_Integration")
	assert.Contains(t, fmt.Sprintf("%+v", err), stacktrace.EnhancedMarker)
}
