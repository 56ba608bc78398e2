package markup2pdf

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/alnah/go-markup2pdf/internal/pipeline"
)

// renderEngine turns a normalized document into PDF or PNG bytes.
type renderEngine interface {
	Name() string
	Render(ctx context.Context, job *renderJob) ([]byte, error)
	Close() error
}

// Compile-time interface checks.
var (
	_ renderEngine = (*rodEngine)(nil)
	_ renderEngine = (*legacyEngine)(nil)
)

// renderJob is the input of a single render.
type renderJob struct {
	Doc      *pipeline.Document
	Format   OutputFormat
	Selector string
}

// transparent reports whether the PNG background should be left transparent.
// Only a whole SVG graphic is exported without a page background.
func (j *renderJob) transparent() bool {
	return j.Format == FormatPNG && j.Doc.Kind == pipeline.KindSVG && j.Selector == ""
}

// renderWithFallback renders with primary and, when that fails with an error
// another engine could avoid, makes one attempt with legacy.
// When both fail the primary error is returned.
//
// Each engine runs detached from ctx cancellation with its own timeout, so a
// page that started rendering is always torn down cleanly. ctx only decides
// whether the fallback is still wanted.
func renderWithFallback(ctx context.Context, primary, legacy renderEngine, job *renderJob, timeout time.Duration, log *zap.Logger) (data []byte, engine string, fellBack bool, err error) {
	data, err = renderDetached(ctx, primary, job, timeout)
	if err == nil {
		return data, primary.Name(), false, nil
	}
	if legacy == nil || !shouldFallback(ctx, err) {
		return nil, "", false, err
	}

	log.Warn("primary engine failed, falling back",
		zap.String("stage", "rendering"),
		zap.String("engine", primary.Name()),
		zap.String("fallback", legacy.Name()),
		zap.Error(err))

	data, legacyErr := renderDetached(ctx, legacy, job, timeout)
	if legacyErr != nil {
		log.Error("fallback engine failed",
			zap.String("stage", "rendering"),
			zap.String("engine", legacy.Name()),
			zap.Error(legacyErr))
		return nil, "", false, err
	}
	return data, legacy.Name(), true, nil
}

func renderDetached(ctx context.Context, e renderEngine, job *renderJob, timeout time.Duration) ([]byte, error) {
	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
	defer cancel()
	data, err := e.Render(rctx, job)
	if err != nil && errors.Is(rctx.Err(), context.DeadlineExceeded) && !errors.Is(err, context.DeadlineExceeded) {
		err = fmt.Errorf("%w (%w after %s)", err, context.DeadlineExceeded, timeout)
	}
	return data, err
}

// shouldFallback reports whether a primary failure is worth a legacy attempt.
// Content errors would fail the same way in any engine.
func shouldFallback(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return false
	}
	switch {
	case errors.Is(err, ErrElementNotFound),
		errors.Is(err, ErrEmptyDocument),
		errors.Is(err, ErrInvalidContent),
		errors.Is(err, context.Canceled):
		return false
	}
	return true
}
