package main

import (
	"fmt"
	"io"

	"go.uber.org/zap"

	markup2pdf "github.com/alnah/go-markup2pdf"
	"github.com/alnah/go-markup2pdf/internal/config"
	"github.com/alnah/go-markup2pdf/internal/logger"
)

// loadSettings resolves the configuration below the flag layer:
// env vars > config file > defaults. flagPath wins over M2P_CONFIG.
func loadSettings(flagPath string, stderr io.Writer) (*config.Config, error) {
	warnUnknownEnvVars(stderr)
	env := loadEnvConfig()

	path := flagPath
	if path == "" {
		path = env.ConfigPath
	}

	cfg := config.DefaultConfig()
	if path != "" {
		loaded, err := config.LoadConfig(path)
		if err != nil {
			return nil, fmt.Errorf("loading config: %w", err)
		}
		cfg = loaded
	}

	applyEnvConfig(env, cfg)
	return cfg, nil
}

// newLogger builds the process logger from the log section.
func newLogger(cfg *config.Config) (*zap.Logger, error) {
	l, err := logger.New(logger.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Output: cfg.Log.Output,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: creating logger: %v", config.ErrInvalidValue, err)
	}
	return l, nil
}

// converterOptions maps the render section onto converter options.
func converterOptions(r config.RenderConfig, log *zap.Logger) []markup2pdf.Option {
	opts := []markup2pdf.Option{
		markup2pdf.WithSettleDelay(r.SettleDelay),
		markup2pdf.WithLegacySettleDelay(r.LegacySettleDelay),
		markup2pdf.WithBrowserBin(r.BrowserBin),
		markup2pdf.WithNoSandbox(r.NoSandbox),
		markup2pdf.WithLegacyBinaries(r.LegacyPDFBin, r.LegacyImageBin),
		markup2pdf.WithMaxConcurrency(r.MaxConcurrency),
		markup2pdf.WithLogger(log),
	}
	if r.Timeout > 0 {
		opts = append(opts, markup2pdf.WithTimeout(r.Timeout))
	}
	if r.LoadTimeout > 0 {
		opts = append(opts, markup2pdf.WithLoadTimeout(r.LoadTimeout))
	}
	if r.DisableLegacy {
		opts = append(opts, markup2pdf.WithoutLegacy())
	}
	return opts
}

// runConfig prints the effective configuration with secrets redacted.
func runConfig(args []string, env *Environment) error {
	f := &commonFlags{}
	fs := newCommandFlagSet("config", env.Stderr, printConfigUsage)
	addCommonFlags(fs, f)
	if err := parseArgs(fs, args); err != nil {
		return err
	}

	cfg, err := loadSettings(f.config, env.Stderr)
	if err != nil {
		return err
	}
	mergeCommonFlags(f, cfg)
	if err := cfg.Validate(); err != nil {
		return err
	}

	out, err := cfg.Encode()
	if err != nil {
		return err
	}
	_, err = env.Stdout.Write(out)
	return err
}
