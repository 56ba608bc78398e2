package main

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	flag "github.com/spf13/pflag"

	"github.com/alnah/go-markup2pdf/internal/config"
)

// commonFlags holds flags shared across commands.
type commonFlags struct {
	config   string
	logLevel string
	quiet    bool
	verbose  bool
}

// renderFlags override the render section of the config.
type renderFlags struct {
	timeout        string
	browserBin     string
	noSandbox      bool
	noLegacy       bool
	maxConcurrency int
}

// serveFlags holds all flags for the serve command.
type serveFlags struct {
	common    commonFlags
	render    renderFlags
	addr      string
	mode      string
	outputDir string
	uploadDir string
	baseURL   string

	fs *flag.FlagSet
}

// convertFlags holds all flags for the convert command.
type convertFlags struct {
	common      commonFlags
	render      renderFlags
	contentType string
	format      string
	selector    string

	fs *flag.FlagSet
}

// addCommonFlags adds common flags to a FlagSet.
func addCommonFlags(fs *flag.FlagSet, f *commonFlags) {
	fs.StringVarP(&f.config, "config", "c", "", "config file name or path")
	fs.StringVar(&f.logLevel, "log-level", "", "log level: debug, info, warn, error")
	fs.BoolVarP(&f.quiet, "quiet", "q", false, "only show errors")
	fs.BoolVarP(&f.verbose, "verbose", "v", false, "show debug logs")
}

// addRenderFlags adds engine flags to a FlagSet.
func addRenderFlags(fs *flag.FlagSet, f *renderFlags) {
	fs.StringVarP(&f.timeout, "timeout", "t", "", "per-engine render timeout (e.g., 30s, 2m)")
	fs.StringVar(&f.browserBin, "browser-bin", "", "Chrome/Chromium executable")
	fs.BoolVar(&f.noSandbox, "no-sandbox", true, "disable the Chrome sandbox")
	fs.BoolVar(&f.noLegacy, "no-legacy", false, "disable the wkhtmltopdf fallback")
	fs.IntVarP(&f.maxConcurrency, "concurrency", "j", 0, "simultaneous renders (0 = auto)")
}

// newCommandFlagSet returns a FlagSet that reports errors and usage on stderr.
func newCommandFlagSet(name string, stderr io.Writer, usage func(io.Writer)) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.Usage = func() { usage(stderr) }
	return fs
}

// parseArgs parses args, reporting flag errors as usage errors.
// flag.ErrHelp is returned unchanged.
func parseArgs(fs *flag.FlagSet, args []string) error {
	err := fs.Parse(args)
	if err == nil || errors.Is(err, flag.ErrHelp) {
		return err
	}
	return fmt.Errorf("%w: %v", ErrUsage, err)
}

// parseServeFlags parses serve command flags.
func parseServeFlags(args []string, stderr io.Writer) (*serveFlags, error) {
	fs := newCommandFlagSet("serve", stderr, printServeUsage)
	f := &serveFlags{fs: fs}

	fs.StringVarP(&f.addr, "addr", "a", "", "listen address (e.g., :3000)")
	fs.StringVar(&f.mode, "mode", "", "development or production")
	fs.StringVarP(&f.outputDir, "output-dir", "o", "", "directory of produced files")
	fs.StringVar(&f.uploadDir, "upload-dir", "", "directory of temporary uploads")
	fs.StringVar(&f.baseURL, "base-url", "", "public URL prefix of /output links")
	addCommonFlags(fs, &f.common)
	addRenderFlags(fs, &f.render)

	if err := parseArgs(fs, args); err != nil {
		return nil, err
	}
	if fs.NArg() > 0 {
		return nil, fmt.Errorf("%w: unexpected argument %q", ErrUsage, fs.Arg(0))
	}
	return f, nil
}

// parseConvertFlags parses convert command flags and returns positional args.
func parseConvertFlags(args []string, stderr io.Writer) (*convertFlags, []string, error) {
	fs := newCommandFlagSet("convert", stderr, printConvertUsage)
	f := &convertFlags{fs: fs}

	fs.StringVar(&f.contentType, "type", "", "content type: html, svg (default: from input extension)")
	fs.StringVarP(&f.format, "format", "f", "", "output format: pdf, png (default: from output extension)")
	fs.StringVarP(&f.selector, "selector", "s", "", "CSS selector of the element to capture")
	addCommonFlags(fs, &f.common)
	addRenderFlags(fs, &f.render)

	if err := parseArgs(fs, args); err != nil {
		return nil, nil, err
	}
	return f, fs.Args(), nil
}

// mergeCommonFlags applies logging flags. --quiet wins over --verbose.
func mergeCommonFlags(f *commonFlags, cfg *config.Config) {
	if f.logLevel != "" {
		cfg.Log.Level = f.logLevel
	}
	if f.verbose {
		cfg.Log.Level = "debug"
	}
	if f.quiet {
		cfg.Log.Level = "error"
	}
}

// mergeRenderFlags applies engine flags that were set on the command line.
func mergeRenderFlags(fs *flag.FlagSet, f *renderFlags, cfg *config.Config) error {
	if f.timeout != "" {
		d, err := time.ParseDuration(f.timeout)
		if err != nil {
			return fmt.Errorf("%w: invalid timeout %q: %v", ErrUsage, f.timeout, err)
		}
		if d <= 0 {
			return fmt.Errorf("%w: timeout must be positive, got %s", ErrUsage, f.timeout)
		}
		cfg.Render.Timeout = d
	}
	if f.browserBin != "" {
		cfg.Render.BrowserBin = f.browserBin
	}
	if fs.Changed("no-sandbox") {
		cfg.Render.NoSandbox = f.noSandbox
	}
	if f.noLegacy {
		cfg.Render.DisableLegacy = true
	}
	if fs.Changed("concurrency") {
		if f.maxConcurrency < 0 {
			return fmt.Errorf("%w: concurrency must be >= 0, got %d", ErrUsage, f.maxConcurrency)
		}
		cfg.Render.MaxConcurrency = f.maxConcurrency
	}
	return nil
}

// mergeServeFlags applies serve flags on top of cfg (CLI wins).
func mergeServeFlags(f *serveFlags, cfg *config.Config) error {
	mergeCommonFlags(&f.common, cfg)
	if f.addr != "" {
		cfg.Server.Addr = f.addr
	}
	if f.mode != "" {
		cfg.Server.Mode = strings.ToLower(f.mode)
	}
	if f.outputDir != "" {
		cfg.Server.OutputDir = f.outputDir
	}
	if f.uploadDir != "" {
		cfg.Server.UploadDir = f.uploadDir
	}
	if f.baseURL != "" {
		cfg.Server.BaseURL = f.baseURL
	}
	return mergeRenderFlags(f.fs, &f.render, cfg)
}
