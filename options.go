package markup2pdf

import (
	"time"

	"go.uber.org/zap"
)

// Option configures a Converter.
type Option func(*Converter)

// Default timing values.
const (
	defaultTimeout           = 90 * time.Second
	defaultLoadTimeout       = 30 * time.Second
	defaultSettleDelay       = 1 * time.Second
	defaultLegacySettleDelay = 2 * time.Second
	defaultLegacyPDFBin      = "wkhtmltopdf"
	defaultLegacyImageBin    = "wkhtmltoimage"
)

// converterConfig holds internal configuration for Converter.
type converterConfig struct {
	timeout           time.Duration
	loadTimeout       time.Duration
	settleDelay       time.Duration
	legacySettleDelay time.Duration
	browserBin        string
	noSandbox         bool
	legacyPDFBin      string
	legacyImageBin    string
	disableLegacy     bool
	maxConcurrency    int
	logger            *zap.Logger
}

func defaultConfig() converterConfig {
	return converterConfig{
		timeout:           defaultTimeout,
		loadTimeout:       defaultLoadTimeout,
		settleDelay:       defaultSettleDelay,
		legacySettleDelay: defaultLegacySettleDelay,
		noSandbox:         true,
		legacyPDFBin:      defaultLegacyPDFBin,
		legacyImageBin:    defaultLegacyImageBin,
		logger:            zap.NewNop(),
	}
}

// WithTimeout bounds each engine attempt. A legacy fallback gets a fresh
// budget of the same length, so a conversion can take up to twice d.
// Panics if d <= 0 (programmer error, similar to time.NewTicker).
func WithTimeout(d time.Duration) Option {
	if d <= 0 {
		panic("markup2pdf: WithTimeout duration must be positive")
	}
	return func(c *Converter) {
		c.cfg.timeout = d
	}
}

// WithLoadTimeout bounds how long the browser waits for the network to go idle.
// Panics if d <= 0.
func WithLoadTimeout(d time.Duration) Option {
	if d <= 0 {
		panic("markup2pdf: WithLoadTimeout duration must be positive")
	}
	return func(c *Converter) {
		c.cfg.loadTimeout = d
	}
}

// WithSettleDelay sets the pause between page load and measurement that lets
// late layout and font swaps finish. Zero disables the pause.
func WithSettleDelay(d time.Duration) Option {
	return func(c *Converter) {
		if d >= 0 {
			c.cfg.settleDelay = d
		}
	}
}

// WithLegacySettleDelay sets the JavaScript delay given to the legacy renderer.
func WithLegacySettleDelay(d time.Duration) Option {
	return func(c *Converter) {
		if d >= 0 {
			c.cfg.legacySettleDelay = d
		}
	}
}

// WithBrowserBin uses the given Chrome/Chromium executable instead of the
// one located or downloaded by the launcher. Empty keeps ROD_BROWSER_BIN or
// auto-detection.
func WithBrowserBin(path string) Option {
	return func(c *Converter) {
		c.cfg.browserBin = path
	}
}

// WithNoSandbox controls Chrome's sandbox. Containers running as root need
// the sandbox disabled, which is the default.
func WithNoSandbox(disabled bool) Option {
	return func(c *Converter) {
		c.cfg.noSandbox = disabled
	}
}

// WithLegacyBinaries overrides the wkhtmltopdf and wkhtmltoimage executables.
// Empty values keep the defaults.
func WithLegacyBinaries(pdfBin, imageBin string) Option {
	return func(c *Converter) {
		if pdfBin != "" {
			c.cfg.legacyPDFBin = pdfBin
		}
		if imageBin != "" {
			c.cfg.legacyImageBin = imageBin
		}
	}
}

// WithoutLegacy disables the fallback renderer: primary failures are returned as is.
func WithoutLegacy() Option {
	return func(c *Converter) {
		c.cfg.disableLegacy = true
	}
}

// WithMaxConcurrency caps simultaneous renders. Zero or negative selects a
// value from GOMAXPROCS (see ResolveConcurrency).
func WithMaxConcurrency(n int) Option {
	return func(c *Converter) {
		c.cfg.maxConcurrency = n
	}
}

// WithLogger sets the logger used for engine lifecycle and fallback events.
func WithLogger(l *zap.Logger) Option {
	return func(c *Converter) {
		if l != nil {
			c.cfg.logger = l
		}
	}
}

// withEngines replaces both engines. Used by tests; legacy may be nil.
func withEngines(primary, legacy renderEngine) Option {
	return func(c *Converter) {
		c.primary = primary
		c.legacy = legacy
		c.enginesInjected = true
	}
}
