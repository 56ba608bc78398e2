package pipeline

import "errors"

// Sentinel errors for document normalization.
var (
	ErrInvalidContent = errors.New("invalid content")
	ErrUnknownKind    = errors.New("unknown content kind")
)

// Kind identifies the markup language of submitted content.
type Kind string

// Supported content kinds.
const (
	KindHTML Kind = "html"
	KindSVG  Kind = "svg"
)

// Document is a complete, renderable HTML document built from caller content.
// It is created once per request and never modified afterwards.
type Document struct {
	Kind Kind
	HTML string

	// Width and Height are the intrinsic pixel size declared by an SVG root
	// (attributes or viewBox). Zero when unknown or for HTML documents.
	Width  float64
	Height float64
}

// HasSize reports whether the document declares an intrinsic size.
func (d *Document) HasSize() bool {
	return d.Width > 0 && d.Height > 0
}
