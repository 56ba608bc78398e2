package markup2pdf

import (
	"errors"

	"github.com/alnah/go-markup2pdf/internal/artifact"
	"github.com/alnah/go-markup2pdf/internal/pipeline"
)

// Error categories. Every error returned by Convert wraps exactly one of
// these, so callers can map failures with errors.Is.
var (
	// ErrValidation indicates a malformed request. Nothing was rendered.
	ErrValidation = errors.New("invalid request")

	// ErrInvalidContent indicates content that cannot be a document of the
	// requested type, such as SVG without an <svg> element.
	ErrInvalidContent = pipeline.ErrInvalidContent

	// ErrElementNotFound indicates that the capture selector matched nothing.
	ErrElementNotFound = errors.New("element not found")

	// ErrEngineLaunch indicates a render engine could not be started.
	ErrEngineLaunch = errors.New("render engine unavailable")

	// ErrRenderFailure indicates the engine started but could not produce output.
	ErrRenderFailure = errors.New("render failed")

	// ErrIOFailure indicates the rendered bytes could not be persisted.
	ErrIOFailure = artifact.ErrIOFailure
)

// Validation errors. Each wraps ErrValidation.
var (
	ErrEmptyContent        = wrapSentinel(ErrValidation, "content cannot be empty")
	ErrInvalidContentType  = wrapSentinel(ErrValidation, "invalid content type")
	ErrInvalidOutputFormat = wrapSentinel(ErrValidation, "invalid output format")
	ErrEmptyOutputPath     = wrapSentinel(ErrValidation, "output path cannot be empty")
)

// Engine launch errors. Each wraps ErrEngineLaunch.
var (
	ErrBrowserConnect    = wrapSentinel(ErrEngineLaunch, "failed to connect to browser")
	ErrLegacyUnavailable = wrapSentinel(ErrEngineLaunch, "legacy renderer unavailable")
)

// Render errors. Each wraps ErrRenderFailure.
var (
	ErrPageCreate    = wrapSentinel(ErrRenderFailure, "failed to create browser page")
	ErrPageLoad      = wrapSentinel(ErrRenderFailure, "failed to load page")
	ErrMeasure       = wrapSentinel(ErrRenderFailure, "failed to measure layout")
	ErrEmptyDocument = wrapSentinel(ErrRenderFailure, "document has no visible area")
	ErrPDFGeneration = wrapSentinel(ErrRenderFailure, "PDF generation failed")
	ErrScreenshot    = wrapSentinel(ErrRenderFailure, "screenshot failed")
)

// sentinel is a leaf error that also matches its category with errors.Is.
type sentinel struct {
	msg      string
	category error
}

func (e *sentinel) Error() string { return e.msg }
func (e *sentinel) Unwrap() error { return e.category }

func wrapSentinel(category error, msg string) error {
	return &sentinel{msg: msg, category: category}
}
