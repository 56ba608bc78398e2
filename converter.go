package markup2pdf

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/alnah/go-markup2pdf/internal/artifact"
	"github.com/alnah/go-markup2pdf/internal/pipeline"
)

// Converter orchestrates the markup-to-artifact conversion pipeline.
// Create with NewConverter(), use Convert() for conversion, and Close() when done.
// A Converter is safe for concurrent use.
type Converter struct {
	cfg             converterConfig
	primary         renderEngine
	legacy          renderEngine
	enginesInjected bool
	limiter         *renderLimiter
	closeOnce       sync.Once
	closeErr        error
}

// NewConverter creates a Converter with default configuration.
// Use options to customize behavior (e.g., WithTimeout, WithBrowserBin, WithoutLegacy).
// The browser is launched lazily by the first conversion.
func NewConverter(opts ...Option) *Converter {
	c := &Converter{cfg: defaultConfig()}

	for _, opt := range opts {
		opt(c)
	}

	// Create engines if not injected (e.g., by tests)
	if !c.enginesInjected {
		c.primary = newRodEngine(c.cfg)
		c.legacy = newLegacyEngine(c.cfg)
	}
	if c.cfg.disableLegacy {
		c.legacy = nil
	}

	c.limiter = newRenderLimiter(ResolveConcurrency(c.cfg.maxConcurrency))
	return c
}

// Convert renders req and writes the artifact to outputPath.
// The context is honoured until rendering starts; a render in progress runs to
// completion or timeout so that browser pages are always released.
// On error no file is left at outputPath.
// Recovers from internal panics to prevent crashes from propagating to callers.
func (c *Converter) Convert(ctx context.Context, req Request, outputPath string) (result *Result, err error) {
	start := time.Now()
	log := c.cfg.logger.With(
		zap.String("type", string(req.Type)),
		zap.String("format", string(req.Format)),
	)

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: internal error: %v", ErrRenderFailure, r)
		}
		if err != nil {
			log.Debug("conversion failed", zap.String("stage", "failed"), zap.Error(err))
		}
	}()

	if err := c.validate(req, outputPath); err != nil {
		return nil, err
	}

	log.Debug("preprocessing", zap.String("stage", "preprocessing"))
	kind := req.Type.kind()
	content := pipeline.Preprocess(req.Content, kind)
	if strings.TrimSpace(content) == "" {
		return nil, ErrEmptyContent
	}

	log.Debug("normalizing", zap.String("stage", "normalizing"))
	doc, err := pipeline.Normalize(content, kind)
	if err != nil {
		return nil, err
	}

	release, err := c.limiter.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// SVG graphics are always captured whole.
	selector := req.Selector
	if req.Type == ContentSVG {
		selector = ""
	}
	job := &renderJob{Doc: doc, Format: req.Format, Selector: selector}

	log.Debug("rendering", zap.String("stage", "rendering"), zap.String("selector", selector))
	data, engine, fellBack, err := renderWithFallback(ctx, c.primary, c.legacy, job, c.cfg.timeout, log)
	if err != nil {
		return nil, err
	}

	log.Debug("writing", zap.String("stage", "writing"), zap.String("path", outputPath))
	if err := artifact.Write(outputPath, data); err != nil {
		return nil, err
	}

	result = &Result{
		OutputPath: outputPath,
		MIMEType:   req.Format.MIMEType(),
		Engine:     engine,
		FellBack:   fellBack,
		Size:       len(data),
		Duration:   time.Since(start),
	}
	log.Debug("done",
		zap.String("stage", "done"),
		zap.String("engine", engine),
		zap.Bool("fallback", fellBack),
		zap.Int("bytes", result.Size),
		zap.Duration("duration", result.Duration))
	return result, nil
}

// InFlight returns the number of renders currently holding a slot.
func (c *Converter) InFlight() int {
	return c.limiter.inFlight()
}

// MaxConcurrency returns the number of renders allowed at once.
func (c *Converter) MaxConcurrency() int {
	return c.limiter.size()
}

// Close releases resources (headless Chrome browser). Safe to call more than once.
func (c *Converter) Close() error {
	c.closeOnce.Do(func() {
		var errs []error
		for _, e := range []renderEngine{c.primary, c.legacy} {
			if e == nil {
				continue
			}
			if err := e.Close(); err != nil {
				errs = append(errs, fmt.Errorf("closing %s: %w", e.Name(), err))
			}
		}
		c.closeErr = errors.Join(errs...)
	})
	return c.closeErr
}

// validate checks the request before any work is done.
//
// This is a TRUST BOUNDARY for direct library users who build Request manually.
// HTTP and CLI callers are validated earlier, both paths converge here.
func (c *Converter) validate(req Request, outputPath string) error {
	if err := req.Validate(); err != nil {
		return err
	}
	if strings.TrimSpace(outputPath) == "" {
		return ErrEmptyOutputPath
	}
	return nil
}
