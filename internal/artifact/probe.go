package artifact

import (
	"bytes"
	"fmt"
	"image"
	_ "image/png" // register PNG decoder for image.DecodeConfig
	"os"
	"sync"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
)

// MIME types of supported artifacts.
const (
	MIMEPDF = "application/pdf"
	MIMEPNG = "image/png"
)

var (
	pdfMagic = []byte("%PDF-")
	pngMagic = []byte("\x89PNG\r\n\x1a\n")

	disableConfigDir sync.Once
)

// Info describes a produced artifact.
// Width and Height are pixels for PNG and points of the first page for PDF.
type Info struct {
	MIMEType string
	Width    float64
	Height   float64
	Pages    int
	Size     int64
}

// Probe reads the file at path and reports its format and dimensions.
func Probe(path string) (*Info, error) {
	data, err := os.ReadFile(path) // #nosec G304 -- path produced by the caller's own conversion
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	return ProbeBytes(data)
}

// ProbeBytes reports the format and dimensions of rendered bytes.
// Returns ErrUnknownFormat for anything other than PDF or PNG.
func ProbeBytes(data []byte) (*Info, error) {
	switch {
	case bytes.HasPrefix(data, pngMagic):
		cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("%w: decoding png header: %v", ErrUnknownFormat, err)
		}
		return &Info{
			MIMEType: MIMEPNG,
			Width:    float64(cfg.Width),
			Height:   float64(cfg.Height),
			Pages:    1,
			Size:     int64(len(data)),
		}, nil

	case bytes.HasPrefix(data, pdfMagic):
		return probePDF(data)

	default:
		return nil, ErrUnknownFormat
	}
}

// probePDF reads page dimensions with pdfcpu. The parser panics on some
// malformed inputs, so panics are reported as ErrUnknownFormat.
func probePDF(data []byte) (info *Info, err error) {
	defer func() {
		if r := recover(); r != nil {
			info, err = nil, fmt.Errorf("%w: reading pdf: %v", ErrUnknownFormat, r)
		}
	}()

	disableConfigDir.Do(api.DisableConfigDir)

	dims, err := api.PageDims(bytes.NewReader(data), model.NewDefaultConfiguration())
	if err != nil {
		return nil, fmt.Errorf("%w: reading pdf: %v", ErrUnknownFormat, err)
	}

	info = &Info{MIMEType: MIMEPDF, Pages: len(dims), Size: int64(len(data))}
	if len(dims) > 0 {
		info.Width = dims[0].Width
		info.Height = dims[0].Height
	}
	return info, nil
}
