package markup2pdf

import (
	"fmt"
	"strings"
	"time"

	"github.com/alnah/go-markup2pdf/internal/artifact"
	"github.com/alnah/go-markup2pdf/internal/pipeline"
)

// ContentType is the markup language of the submitted content.
type ContentType string

// Supported content types.
const (
	ContentHTML ContentType = "html"
	ContentSVG  ContentType = "svg"
)

// OutputFormat is the kind of artifact to produce.
type OutputFormat string

// Supported output formats.
const (
	FormatPDF OutputFormat = "pdf"
	FormatPNG OutputFormat = "png"
)

// Engine names reported in Result.Engine.
const (
	EngineChrome = "chrome"
	EngineLegacy = "wkhtml"
)

// ParseContentType converts a case-insensitive name into a ContentType.
func ParseContentType(s string) (ContentType, error) {
	t := ContentType(strings.ToLower(strings.TrimSpace(s)))
	if !t.valid() {
		return "", fmt.Errorf("%w: %q (must be html or svg)", ErrInvalidContentType, s)
	}
	return t, nil
}

// ParseOutputFormat converts a case-insensitive name into an OutputFormat.
func ParseOutputFormat(s string) (OutputFormat, error) {
	f := OutputFormat(strings.ToLower(strings.TrimSpace(s)))
	if !f.valid() {
		return "", fmt.Errorf("%w: %q (must be pdf or png)", ErrInvalidOutputFormat, s)
	}
	return f, nil
}

func (t ContentType) valid() bool {
	return t == ContentHTML || t == ContentSVG
}

func (t ContentType) kind() pipeline.Kind {
	return pipeline.Kind(t)
}

func (f OutputFormat) valid() bool {
	return f == FormatPDF || f == FormatPNG
}

// MIMEType returns the media type of the format.
func (f OutputFormat) MIMEType() string {
	if f == FormatPNG {
		return artifact.MIMEPNG
	}
	return artifact.MIMEPDF
}

// Extension returns the file extension of the format, without the dot.
func (f OutputFormat) Extension() string {
	if f == FormatPNG {
		return "png"
	}
	return "pdf"
}

// Request describes one conversion.
type Request struct {
	Content  string       // HTML or SVG markup, possibly wrapped in a code fence
	Type     ContentType  // html or svg
	Format   OutputFormat // pdf or png
	Selector string       // optional CSS selector restricting the capture region, HTML only
}

// Validate checks that the request can be rendered.
// Content must contain something other than whitespace.
func (r Request) Validate() error {
	if strings.TrimSpace(r.Content) == "" {
		return ErrEmptyContent
	}
	if !r.Type.valid() {
		return fmt.Errorf("%w: %q", ErrInvalidContentType, r.Type)
	}
	if !r.Format.valid() {
		return fmt.Errorf("%w: %q", ErrInvalidOutputFormat, r.Format)
	}
	return nil
}

// Result describes a completed conversion. It is only returned once the
// artifact has been fully written.
type Result struct {
	OutputPath string
	MIMEType   string
	Engine     string        // engine that produced the bytes
	FellBack   bool          // true when the legacy engine replaced a failed primary
	Size       int           // bytes written
	Duration   time.Duration // wall time of the whole conversion
}
