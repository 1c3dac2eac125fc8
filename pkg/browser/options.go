package browser

import (
	"fmt"

	"github.com/spf13/afero"
	"go.uber.org/zap"

	"rodharness/internal/config"
)

// Options configures a new Session.
type Options struct {
	Headless            bool
	NoControlBanner     bool
	IgnoreChromeVersion bool // use the Chrome found on PATH instead of rod's pinned revision
	Bin                 string

	Width, Height int
	Args          []string // extra Chrome flags, "--name=value" or "--name"

	// ControlURL connects to an already running browser instead of launching one.
	ControlURL string

	// MaxCalls caps concurrent CDP calls. Zero means no cap.
	MaxCalls int

	LogTypes []string
	LogDir   string

	Fs     afero.Fs
	Logger *zap.Logger
}

// OptionsModifyFunc adjusts Options right before a session is created.
type OptionsModifyFunc func(*Options)

// OptionsFromConfig builds Options from harness configuration.
func OptionsFromConfig(cfg *config.Config) (Options, error) {
	w, h, err := cfg.WindowSize()
	if err != nil {
		return Options{}, err
	}
	return Options{
		Headless:            cfg.Browser.Headless,
		NoControlBanner:     cfg.Browser.NoControlBanner,
		IgnoreChromeVersion: cfg.Browser.IgnoreChromeVersion,
		Width:               w,
		Height:              h,
		Args:                append([]string(nil), cfg.Browser.Args...),
		ControlURL:          cfg.Browser.ControlURL,
		MaxCalls:            cfg.Browser.MaxCalls,
		LogTypes:            append([]string(nil), cfg.Capture.LogTypes...),
		LogDir:              cfg.Capture.LogDir,
	}, nil
}

func (o *Options) normalize() error {
	if o.Fs == nil {
		o.Fs = afero.NewOsFs()
	}
	if o.LogTypes == nil {
		o.LogTypes = []string{config.LogBrowser, config.LogDriver}
	}
	for _, t := range o.LogTypes {
		if !validLogType(t) {
			return fmt.Errorf("%w: LogType %s invalid", config.ErrInvalid, t)
		}
	}
	if o.MaxCalls < 0 {
		return fmt.Errorf("%w: max calls must not be negative", config.ErrInvalid)
	}
	return nil
}

func validLogType(t string) bool {
	for _, v := range config.ValidLogTypes {
		if v == t {
			return true
		}
	}
	return false
}
