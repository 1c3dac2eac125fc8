package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"rodharness/pkg/browser"
	"rodharness/pkg/harness"
)

var (
	controlFile string
	controlURL  string
	startURL    string
	shotDir     string
)

var launchCmd = &cobra.Command{
	Use:   "launch",
	Short: "Launch Chrome and keep it running until interrupted",
	Long: `Launches Chrome with the configured flags and prints its control URL. Point
RODHARNESS_CONTROL_URL at it to let test runs attach instead of starting their own.`,
	Args: cobra.NoArgs,
	RunE: browserLaunch,
}

var replCmd = &cobra.Command{
	Use:   "repl",
	Short: "Open an interactive prompt bound to a browser session",
	Args:  cobra.NoArgs,
	RunE:  browserREPL,
}

var screenshotCmd = &cobra.Command{
	Use:   "screenshot [path]",
	Short: "Save a numbered screenshot of a browser page",
	Long: `Saves a PNG under --dir. The path may contain {N}, which is replaced by the
first number that gives an unused file name (default: screenshot-{N}.png).`,
	Args: cobra.MaximumNArgs(1),
	RunE: browserScreenshot,
}

// newRun builds a harness run from the CLI configuration. Unless launch is set, the
// session attaches to --control-url when given.
func newRun(cmd *cobra.Command, launch bool, opts ...harness.Option) *harness.Run {
	base := []harness.Option{
		harness.WithConfig(cfg),
		harness.WithLogger(logger),
		harness.WithIO(cmd.InOrStdin(), cmd.OutOrStdout()),
		harness.WithNoExit(false),
	}
	run := harness.New(append(base, opts...)...)
	run.SetOptionsModifyFunc(func(o *browser.Options) {
		switch {
		case launch:
			o.ControlURL = ""
		case controlURL != "":
			o.ControlURL = controlURL
		}
	})
	return run
}

func openSession(run *harness.Run) (*browser.Session, error) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	sess, err := run.EnsureReady(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to start browser session: %w", err)
	}
	if startURL != "" {
		logger.Info("Navigating", zap.String("url", startURL))
		if err := sess.Navigate(ctx, startURL); err != nil {
			return sess, fmt.Errorf("failed to navigate to %s: %w", startURL, err)
		}
	}
	return sess, nil
}

func closeRun(run *harness.Run) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := run.Close(ctx); err != nil {
		logger.Warn("Failed to close browser session", zap.Error(err))
	}
}

// browserLaunch launches Chrome and waits for SIGINT or SIGTERM.
func browserLaunch(cmd *cobra.Command, args []string) error {
	run := newRun(cmd, true)
	defer closeRun(run)

	sess, err := openSession(run)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Browser launched. Control URL: %s\n", sess.ControlURL())
	if controlFile != "" {
		if err := os.WriteFile(controlFile, []byte(sess.ControlURL()), 0o644); err != nil {
			logger.Warn("Failed to write control file", zap.String("path", controlFile), zap.Error(err))
		} else {
			defer func() {
				if err := os.Remove(controlFile); err != nil && !os.IsNotExist(err) {
					logger.Warn("Failed to remove control file", zap.Error(err))
				}
			}()
		}
	}
	fmt.Fprintln(out, "Press Ctrl+C to shutdown")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()
	return nil
}

// browserREPL opens the interactive prompt on a fresh or attached session.
func browserREPL(cmd *cobra.Command, args []string) error {
	run := newRun(cmd, false)
	defer closeRun(run)

	if _, err := openSession(run); err != nil {
		return err
	}
	return run.Interact(context.Background())
}

// browserScreenshot saves one screenshot and prints its path.
func browserScreenshot(cmd *cobra.Command, args []string) error {
	run := newRun(cmd, false)
	defer closeRun(run)

	sess, err := openSession(run)
	if err != nil {
		return err
	}

	relPath := ""
	if len(args) > 0 {
		relPath = args[0]
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	path, err := sess.SaveScreenshot(ctx, relPath, shotDir)
	if err != nil {
		return fmt.Errorf("failed to save screenshot: %w", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), path)
	return nil
}
