package harness

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"rodharness/internal/logging"
	"rodharness/pkg/browser"
	"rodharness/pkg/numbered"
)

// captureTarget is the part of a session diagnostic capture needs.
type captureTarget interface {
	FetchLogs(logType string) ([]string, error)
	SaveScreenshot(ctx context.Context, relPath, dir string) (string, error)
}

var _ captureTarget = (*browser.Session)(nil)

// EnableDebugCapture saves a screenshot and the enabled log channels of every failed test
// in the suite to RODHARNESS_LOGDIR. Logs are drained before each test so the files only
// hold what that test produced. It does nothing when no log directory is configured.
// Capture problems are logged and never fail the test.
func (s *Suite) EnableDebugCapture() error {
	if s.parent == nil {
		return ErrRootCapture
	}
	capCfg := s.run.cfg.Capture
	logger := logging.For(s.run.logger, logging.CategoryCapture)

	s.BeforeEach(func(tc *Test) {
		if capCfg.LogDir == "" {
			return
		}
		if err := drainLogs(tc.Session(), capCfg.LogTypes); err != nil {
			logger.Warn("Failed to drain logs", zap.String("test", tc.Name()), zap.Error(err))
		}
	})
	s.AfterEach(func(tc *Test) {
		if capCfg.LogDir == "" || tc.State() != Failed {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), s.run.cfg.GetBrowserTimeout())
		defer cancel()

		name := captureName(tc.File())
		if err := captureFailure(ctx, tc.Session(), s.run.fs, capCfg.LogDir, name, capCfg.LogTypes); err != nil {
			logger.Warn("Diagnostic capture incomplete", zap.String("test", tc.Name()), zap.Error(err))
			return
		}
		logger.Info("Saved diagnostics", zap.String("test", tc.Name()), zap.String("dir", capCfg.LogDir))
	})
	return nil
}

// captureName is the file-name prefix for a test's artifacts: its source file without the
// extension.
func captureName(file string) string {
	if file == "" {
		return "unnamed"
	}
	base := filepath.Base(file)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

func drainLogs(target captureTarget, logTypes []string) error {
	var errs error
	for _, lt := range logTypes {
		if _, err := target.FetchLogs(lt); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("%s logs: %w", lt, err))
		}
	}
	return errs
}

func captureFailure(ctx context.Context, target captureTarget, fsys afero.Fs, dir, name string, logTypes []string) error {
	var errs error
	if _, err := target.SaveScreenshot(ctx, name+"-screenshot-"+numbered.Token+".png", dir); err != nil {
		errs = multierr.Append(errs, fmt.Errorf("screenshot: %w", err))
	}
	for _, lt := range logTypes {
		messages, err := target.FetchLogs(lt)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("%s logs: %w", lt, err))
			continue
		}
		relPath := fmt.Sprintf("%s-%s-%s.log", name, lt, numbered.Token)
		if _, err := browser.SaveLogs(fsys, messages, relPath, dir); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("save %s logs: %w", lt, err))
		}
	}
	return errs
}
