//go:build integration

package markup2pdf

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/alnah/go-markup2pdf/internal/artifact"
)

func convertForTest(t *testing.T, req Request, name string) (*Result, string, error) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	defer cancel()

	out := filepath.Join(t.TempDir(), name)
	res, err := testConverter.Convert(ctx, req, out)
	return res, out, err
}

func TestConvert_PNGDimensions_Integration(t *testing.T) {
	t.Parallel()

	content := `<html><head><style>body{margin:0}#box{width:400px;height:300px;background:#36c}</style></head><body><div id="box"></div></body></html>`

	res, out, err := convertForTest(t, Request{Content: content, Type: ContentHTML, Format: FormatPNG, Selector: "#box"}, "box.png")
	if err != nil {
		t.Fatalf("Convert() error = %v", err)
	}
	if res.Engine != EngineChrome {
		t.Errorf("Engine = %q, want chrome", res.Engine)
	}

	info, err := artifact.Probe(out)
	if err != nil {
		t.Fatalf("Probe() error = %v", err)
	}
	if info.MIMEType != artifact.MIMEPNG {
		t.Errorf("MIMEType = %q", info.MIMEType)
	}
	if info.Width != 400*DeviceScaleFactor || info.Height != 300*DeviceScaleFactor {
		t.Errorf("PNG size = %vx%v, want %dx%d", info.Width, info.Height, 400*DeviceScaleFactor, 300*DeviceScaleFactor)
	}
}

func TestConvert_SVGToPNG_Integration(t *testing.T) {
	t.Parallel()

	content := `<svg width="200" height="100"><rect width="200" height="100" fill="red"/></svg>`

	_, out, err := convertForTest(t, Request{Content: content, Type: ContentSVG, Format: FormatPNG}, "graphic.png")
	if err != nil {
		t.Fatalf("Convert() error = %v", err)
	}

	info, err := artifact.Probe(out)
	if err != nil {
		t.Fatalf("Probe() error = %v", err)
	}
	if info.Width != 200*DeviceScaleFactor || info.Height != 100*DeviceScaleFactor {
		t.Errorf("PNG size = %vx%v, want 400x200", info.Width, info.Height)
	}
}

func TestConvert_SelectorExcludesSurroundings_Integration(t *testing.T) {
	t.Parallel()

	content := `<header style="height:200px">Top</header><div class="content" style="width:300px;height:120px">Body</div>`

	whole, wholeOut, err := convertForTest(t, Request{Content: content, Type: ContentHTML, Format: FormatPDF}, "whole.pdf")
	if err != nil {
		t.Fatalf("Convert(whole) error = %v", err)
	}
	part, partOut, err := convertForTest(t, Request{Content: content, Type: ContentHTML, Format: FormatPDF, Selector: ".content"}, "part.pdf")
	if err != nil {
		t.Fatalf("Convert(selector) error = %v", err)
	}
	if whole.MIMEType != artifact.MIMEPDF || part.MIMEType != artifact.MIMEPDF {
		t.Error("expected PDF results")
	}

	wholeInfo, err := artifact.Probe(wholeOut)
	if err != nil {
		t.Fatal(err)
	}
	partInfo, err := artifact.Probe(partOut)
	if err != nil {
		t.Fatal(err)
	}

	if partInfo.Pages != 1 {
		t.Errorf("selector PDF pages = %d, want 1", partInfo.Pages)
	}
	if partInfo.Height >= wholeInfo.Height {
		t.Errorf("selector PDF height %v should be smaller than the whole page %v", partInfo.Height, wholeInfo.Height)
	}
}

func TestConvert_MissingSelector_Integration(t *testing.T) {
	t.Parallel()

	_, out, err := convertForTest(t, Request{Content: "<p>x</p>", Type: ContentHTML, Format: FormatPNG, Selector: ".nope"}, "none.png")
	if !errors.Is(err, ErrElementNotFound) {
		t.Fatalf("Convert() error = %v, want ErrElementNotFound", err)
	}
	if _, statErr := os.Stat(out); !os.IsNotExist(statErr) {
		t.Error("no file should be written when the selector matches nothing")
	}
}

func TestConvert_CJKFragment_Integration(t *testing.T) {
	t.Parallel()

	res, out, err := convertForTest(t, Request{Content: "```html\n<div>你好，世界</div>\n```", Type: ContentHTML, Format: FormatPDF}, "cjk.pdf")
	if err != nil {
		t.Fatalf("Convert() error = %v", err)
	}
	info, err := artifact.Probe(out)
	if err != nil {
		t.Fatal(err)
	}
	if info.Pages != 1 || int64(res.Size) != info.Size {
		t.Errorf("unexpected artifact %+v for result %+v", info, res)
	}
}
