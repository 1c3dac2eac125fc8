package repl

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/term"
)

// Prompt commands.
const (
	CmdExit = ".exit"
	CmdHelp = ".help"
)

// Prompt reads lines, evaluates them and prints presented results.
type Prompt struct {
	Interp *Interp
	In     io.Reader
	Out    io.Writer
	Banner string
	Logger *zap.Logger
}

// Run loops until .exit, end of input, or ctx ends.
func (p *Prompt) Run(ctx context.Context) error {
	logger := p.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	interactive := isTerminal(p.In)
	if p.Banner != "" {
		fmt.Fprintln(p.Out, p.Banner)
	}

	lines := make(chan string)
	readErr := make(chan error, 1)
	done := make(chan struct{})
	defer close(done)
	go func() {
		sc := bufio.NewScanner(p.In)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-done:
				return
			}
		}
		readErr <- sc.Err()
	}()

	for {
		if interactive {
			fmt.Fprint(p.Out, "> ")
		}
		var line string
		select {
		case <-ctx.Done():
			fmt.Fprintln(p.Out)
			logger.Debug("Prompt interrupted")
			return nil
		case err := <-readErr:
			if err != nil {
				return fmt.Errorf("read input: %w", err)
			}
			return nil
		case line = <-lines:
		}

		switch strings.TrimSpace(line) {
		case "":
			continue
		case CmdExit:
			return nil
		case CmdHelp:
			fmt.Fprintln(p.Out, p.Banner)
			continue
		}

		v, err := p.Interp.Eval(ctx, line)
		if err == nil {
			v, err = Present(ctx, v)
		}
		if err != nil {
			fmt.Fprintf(p.Out, "Error: %+v\n", err)
			continue
		}
		if v != nil {
			fmt.Fprintln(p.Out, Format(v))
		}
	}
}

func isTerminal(r io.Reader) bool {
	f, ok := r.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}
