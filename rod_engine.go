package markup2pdf

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
	"github.com/ysmood/gson"
	"go.uber.org/zap"

	"github.com/alnah/go-markup2pdf/internal/assets"
	"github.com/alnah/go-markup2pdf/internal/pipeline"
)

// Browser viewport used before the content size is known.
const (
	viewportWidth     = 1200
	viewportHeight    = 800
	DeviceScaleFactor = 2

	// requestIdleWindow is how long the network must stay quiet before the
	// page counts as loaded.
	requestIdleWindow = 500 * time.Millisecond

	// cssPixelsPerInch converts measured CSS pixels to PDF paper inches.
	cssPixelsPerInch = 96.0
)

// rodEngine renders documents in headless Chrome through go-rod.
// Rod automatically downloads Chromium on first run if not found.
type rodEngine struct {
	sessions    *sessionManager
	loadTimeout time.Duration
	settleDelay time.Duration
	fontScript  string
	logger      *zap.Logger
}

func newRodEngine(cfg converterConfig) *rodEngine {
	return &rodEngine{
		sessions:    newSessionManager(chromeLauncher(cfg.browserBin, cfg.noSandbox), cfg.logger),
		loadTimeout: cfg.loadTimeout,
		settleDelay: cfg.settleDelay,
		fontScript:  fontScript(assets.FontFallbackCSS()),
		logger:      cfg.logger,
	}
}

func (e *rodEngine) Name() string { return EngineChrome }

// Close shuts down the shared browser.
func (e *rodEngine) Close() error {
	e.sessions.close()
	return nil
}

// Render opens one page for the job and exports it. The page is closed
// before the session is released.
func (e *rodEngine) Render(ctx context.Context, job *renderJob) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s, release, err := e.sessions.acquire(ctx)
	if err != nil {
		if errors.Is(err, ErrEngineLaunch) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", ErrEngineLaunch, err)
	}
	defer release()

	page, err := s.browser.Page(proto.TargetCreateTarget{})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPageCreate, err)
	}
	defer func() { _ = page.Close() }()

	return e.renderPage(ctx, page.Context(ctx), job)
}

func (e *rodEngine) renderPage(ctx context.Context, page *rod.Page, job *renderJob) ([]byte, error) {
	if err := setViewport(page, viewportWidth, viewportHeight); err != nil {
		return nil, fmt.Errorf("%w: setting viewport: %v", ErrPageCreate, err)
	}
	if _, err := page.EvalOnNewDocument(e.fontScript); err != nil {
		return nil, fmt.Errorf("%w: registering fonts: %v", ErrPageLoad, err)
	}

	if err := e.load(page, job.Doc.HTML); err != nil {
		return nil, err
	}

	if e.settleDelay > 0 {
		select {
		case <-time.After(e.settleDelay):
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %v", ErrPageLoad, ctx.Err())
		}
	}

	svgRoot := job.Doc.Kind == pipeline.KindSVG
	region, err := measureRegion(page, job.Selector, svgRoot)
	if err != nil {
		return nil, err
	}

	// Whole-page captures shrink the viewport to the content. Selector
	// captures keep the layout width so the element does not reflow.
	w, h := region.pageSize()
	if job.Selector == "" {
		w, h = int(region.Width), int(region.Height)
	} else {
		w, h = max(w, viewportWidth), max(h, viewportHeight)
	}
	if err := setViewport(page, w, h); err != nil {
		return nil, fmt.Errorf("%w: resizing viewport: %v", ErrMeasure, err)
	}

	// Centered SVG and selected elements can move after the resize.
	if job.Selector != "" || svgRoot {
		if region, err = measureRegion(page, job.Selector, svgRoot); err != nil {
			return nil, err
		}
	}

	e.logger.Debug("region measured",
		zap.String("stage", "rendering"),
		zap.String("selector", job.Selector),
		zap.Float64("width", region.Width),
		zap.Float64("height", region.Height))

	if job.Format == FormatPNG {
		return screenshot(page, region, job.transparent())
	}
	return printPDF(page, region)
}

// load sets the document and waits until the network is idle, bounded by
// the load timeout.
func (e *rodEngine) load(page *rod.Page, html string) error {
	lp := page.Timeout(e.loadTimeout)
	defer lp.CancelTimeout()

	wait := lp.WaitRequestIdle(requestIdleWindow, nil, nil, nil)
	if err := lp.SetDocumentContent(html); err != nil {
		return fmt.Errorf("%w: %v", ErrPageLoad, err)
	}
	wait()

	if err := lp.GetContext().Err(); err != nil {
		return fmt.Errorf("%w: waiting for network idle: %v", ErrPageLoad, err)
	}
	return nil
}

func setViewport(page *rod.Page, width, height int) error {
	return page.SetViewport(&proto.EmulationSetDeviceMetricsOverride{
		Width:             width,
		Height:            height,
		DeviceScaleFactor: DeviceScaleFactor,
	})
}

// screenshot captures the region as PNG at the device scale factor.
func screenshot(page *rod.Page, r Region, transparent bool) ([]byte, error) {
	if transparent {
		err := proto.EmulationSetDefaultBackgroundColorOverride{
			Color: &proto.DOMRGBA{A: gson.Num(0)},
		}.Call(page)
		if err != nil {
			return nil, fmt.Errorf("%w: clearing background: %v", ErrScreenshot, err)
		}
	}

	data, err := page.Screenshot(false, &proto.PageCaptureScreenshot{
		Format: proto.PageCaptureScreenshotFormatPng,
		Clip: &proto.PageViewport{
			X:      r.X,
			Y:      r.Y,
			Width:  r.Width,
			Height: r.Height,
			Scale:  1,
		},
		CaptureBeyondViewport: true,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrScreenshot, err)
	}
	return data, nil
}

// shiftJS moves the page so the region starts at the paper origin.
const shiftJS = `(x, y) => {
	const b = document.body;
	b.style.transformOrigin = '0 0';
	b.style.transform = 'translate(' + (-x) + 'px,' + (-y) + 'px)';
}`

// printPDF prints the region on a single page of exactly its size.
func printPDF(page *rod.Page, r Region) ([]byte, error) {
	if r.X != 0 || r.Y != 0 {
		if _, err := page.Eval(shiftJS, r.X, r.Y); err != nil {
			return nil, fmt.Errorf("%w: positioning element: %v", ErrPDFGeneration, err)
		}
	}

	reader, err := page.PDF(&proto.PagePrintToPDF{
		PaperWidth:      floatPtr(r.Width / cssPixelsPerInch),
		PaperHeight:     floatPtr(r.Height / cssPixelsPerInch),
		MarginTop:       floatPtr(0),
		MarginBottom:    floatPtr(0),
		MarginLeft:      floatPtr(0),
		MarginRight:     floatPtr(0),
		PrintBackground: true,
		PageRanges:      "1",
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPDFGeneration, err)
	}

	pdfBuf, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("%w: reading PDF stream: %v", ErrPDFGeneration, err)
	}
	return pdfBuf, nil
}

// fontScript returns a script adding the font fallback style to every new
// document before its own scripts run. It is skipped when the document
// already carries the style.
func fontScript(css string) string {
	return `(() => {
	const add = () => {
		if (document.querySelector('style[data-markup2pdf="fonts"]')) return;
		const s = document.createElement('style');
		s.setAttribute('data-markup2pdf', 'fonts');
		s.textContent = ` + gson.New(css).JSON("", "") + `;
		(document.head || document.documentElement).prepend(s);
	};
	if (document.head) add(); else document.addEventListener('DOMContentLoaded', add);
})()`
}

// floatPtr returns a pointer to a float64 value.
func floatPtr(v float64) *float64 {
	return &v
}
