package harness

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"regexp"
	"strings"

	"rodharness/internal/config"
)

// RerunTarget names the tests to run again.
type RerunTarget struct {
	Dir     string   // package directory
	Tests   []string // top-level test names
	Rebuild bool     // force rebuilding packages
}

// Rerunner runs tests again from the triage prompt.
type Rerunner interface {
	Rerun(ctx context.Context, target RerunTarget) error
}

// GoTestRerunner reruns tests with the go command.
type GoTestRerunner struct {
	GoBin  string // defaults to "go"
	Stdout io.Writer
	Stderr io.Writer
}

// RerunArgs returns the go command arguments for target: uncached, stop at the first
// failure, only the named tests.
func RerunArgs(target RerunTarget) []string {
	args := []string{"test", "-count=1", "-failfast"}
	if len(target.Tests) > 0 {
		quoted := make([]string, len(target.Tests))
		for i, name := range target.Tests {
			quoted[i] = regexp.QuoteMeta(name)
		}
		args = append(args, "-run", "^("+strings.Join(quoted, "|")+")$")
	}
	if target.Rebuild {
		args = append(args, "-a")
	}
	return append(args, ".")
}

// Rerun runs go test in target.Dir. The child never keeps its own session open. A
// non-zero exit is returned as an error.
func (g *GoTestRerunner) Rerun(ctx context.Context, target RerunTarget) error {
	bin := g.GoBin
	if bin == "" {
		bin = "go"
	}
	cmd := exec.CommandContext(ctx, bin, RerunArgs(target)...)
	cmd.Dir = target.Dir
	cmd.Stdout = g.Stdout
	cmd.Stderr = g.Stderr
	cmd.Env = append(os.Environ(), config.EnvNoExit+"=0")

	if err := cmd.Run(); err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return fmt.Errorf("tests failed in %s (exit %d)", target.Dir, exitErr.ExitCode())
		}
		return fmt.Errorf("run go test: %w", err)
	}
	return nil
}
