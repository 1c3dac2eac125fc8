package harness

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"go.uber.org/zap"

	"rodharness/internal/repl"
	"rodharness/pkg/browser"
)

var (
	accentColor = lipgloss.Color("#8BC34A")
	mutedColor  = lipgloss.Color("#7A8694")

	bannerTitle = lipgloss.NewStyle().Bold(true).Foreground(accentColor)
	bannerName  = lipgloss.NewStyle().Bold(true)
	bannerHint  = lipgloss.NewStyle().Foreground(mutedColor)
)

// Interact hands the run's session to an interactive prompt and returns when the operator
// leaves it with .exit, end of input or Ctrl-C. Main calls it after a failed run when the
// session is kept open.
func (r *Run) Interact(ctx context.Context) error {
	files := r.FailedFiles()

	select {
	case <-time.After(r.cfg.GetTriageDelay()):
	case <-ctx.Done():
		return ctx.Err()
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt)
	defer stop()

	sess, err := r.mgr.Current()
	if err != nil {
		r.triageLog.Warn("No browser session to hand off", zap.Error(err))
	}

	it, err := repl.NewInterp(r.replBindings(ctx, sess, files))
	if err != nil {
		return fmt.Errorf("start interpreter: %w", err)
	}
	for _, name := range it.Shadowed() {
		r.triageLog.Warn("REPL name collides with an earlier binding; ignored", zap.String("name", name))
	}
	r.triageLog.Info("Keeping browser session open", zap.Int("failed_files", len(files)))

	p := &repl.Prompt{
		Interp: it,
		In:     r.in,
		Out:    r.out,
		Banner: r.banner(it, files),
		Logger: r.triageLog,
	}
	return p.Run(ctx)
}

func (r *Run) replBindings(ctx context.Context, sess *browser.Session, files []string) []repl.Binding {
	bindings := []repl.Binding{
		{Name: "Session", Value: sess},
		{Name: "Ctx", Value: ctx},
		{Name: "Rerun", Value: func(i ...int) error { return r.rerun(ctx, files, i...) }},
		{Name: "ResetModule", Value: r.resetModule},
		{Name: "Screenshot", Value: func(path ...string) (string, error) {
			if sess == nil {
				return "", browser.ErrClosed
			}
			rel := browser.DefaultScreenshotPath
			if len(path) > 0 && path[0] != "" {
				rel = path[0]
			}
			return sess.SaveScreenshot(ctx, rel, ".")
		}},
		{Name: "ShowLogs", Value: func(logType ...string) error {
			if sess == nil {
				return browser.ErrClosed
			}
			lt := "browser"
			if len(logType) > 0 && logType[0] != "" {
				lt = logType[0]
			}
			lines, err := sess.FetchLogs(lt)
			if err != nil {
				return err
			}
			for _, l := range lines {
				fmt.Fprintln(r.out, l)
			}
			return nil
		}},
	}

	r.mu.Lock()
	for _, e := range r.bindings {
		bindings = append(bindings, repl.Binding{Name: e.name, Value: e.value, Description: e.description})
	}
	r.mu.Unlock()
	return bindings
}

func (r *Run) banner(it *repl.Interp, files []string) string {
	q := it.Qualify
	line := func(sig, desc string) string {
		return "  " + bannerName.Render(sig) + ": " + desc
	}

	var b strings.Builder
	b.WriteString(bannerTitle.Render("Not exiting. Abort with Ctrl-C, or type '.exit'") + "\n")
	b.WriteString(bannerHint.Render(fmt.Sprintf("You may interact with the browser here, e.g. %s.Find(%s, \".css_selector\")", q("Session"), q("Ctx"))) + "\n")
	b.WriteString("Failed tests; available names:\n")
	b.WriteString(line(q("Session"), "the browser session") + "\n")
	b.WriteString(line(q("Ctx"), "context for session calls, cancelled by Ctrl-C") + "\n")
	for i, f := range files {
		arg := ""
		if i > 0 {
			arg = fmt.Sprint(i)
		}
		b.WriteString(line(fmt.Sprintf("%s(%s)", q("Rerun"), arg), "Rerun tests in "+f) + "\n")
	}
	b.WriteString(line(q("ResetModule")+"(dir)", "rebuild packages on the next Rerun") + "\n")
	b.WriteString(line(q("Screenshot")+"(path?)", "save image to './"+browser.DefaultScreenshotPath+"' or the path provided") + "\n")
	b.WriteString(line(q("ShowLogs")+"(logType?)", "show logs of an enabled type, 'browser' by default") + "\n")

	r.mu.Lock()
	for _, e := range r.bindings {
		b.WriteString(line(q(e.name), e.description) + "\n")
	}
	r.mu.Unlock()
	return strings.TrimRight(b.String(), "\n")
}

func (r *Run) rerun(ctx context.Context, files []string, i ...int) error {
	idx := 0
	if len(i) > 0 {
		idx = i[0]
	}
	if idx < 0 || idx >= len(files) {
		return fmt.Errorf("no failed test file %d (have %d)", idx, len(files))
	}
	file := files[idx]

	r.mu.Lock()
	rebuild := r.rebuild
	r.rebuild = false
	r.mu.Unlock()

	target := RerunTarget{
		Dir:     filepath.Dir(file),
		Tests:   r.failedTopLevel(file),
		Rebuild: rebuild,
	}
	r.triageLog.Info("Rerunning tests",
		zap.String("file", file),
		zap.Strings("tests", target.Tests),
		zap.Bool("rebuild", rebuild))
	return r.rerunner.Rerun(ctx, target)
}

// resetModule makes the next Rerun rebuild dir's package and its dependencies from
// source instead of reusing build results.
func (r *Run) resetModule(dir string) error {
	if dir != "" {
		info, err := os.Stat(dir)
		if err != nil {
			return fmt.Errorf("reset module: %w", err)
		}
		if !info.IsDir() {
			return fmt.Errorf("reset module: %s is not a directory", dir)
		}
	}
	r.mu.Lock()
	r.rebuild = true
	r.mu.Unlock()
	r.triageLog.Info("Packages will be rebuilt on the next rerun", zap.String("dir", dir))
	return nil
}
