package markup2pdf

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/alnah/go-markup2pdf/internal/fileutil"
	"github.com/alnah/go-markup2pdf/internal/process"
)

// commandRunner abstracts command execution to enable testing without real subprocesses.
type commandRunner interface {
	LookPath(name string) (string, error)
	Run(ctx context.Context, name string, args ...string) (stderr string, err error)
}

// execRunner implements commandRunner using os/exec. The child runs in its
// own process group, which is killed when ctx ends.
type execRunner struct{}

func (r *execRunner) LookPath(name string) (string, error) {
	return exec.LookPath(name)
}

func (r *execRunner) Run(ctx context.Context, name string, args ...string) (string, error) {
	cmd := exec.Command(name, args...) // #nosec G204 -- binary comes from configuration
	process.Isolate(cmd)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		return "", fmt.Errorf("starting command: %w", err)
	}

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	select {
	case err := <-done:
		return stderr.String(), err
	case <-ctx.Done():
		process.KillProcessGroup(cmd.Process.Pid)
		<-done
		return stderr.String(), ctx.Err()
	}
}

// A4 paper in millimetres, used when an HTML document has no size hint.
const (
	a4WidthMM  = 210
	a4HeightMM = 297
	mmPerPixel = 25.4 / cssPixelsPerInch
)

// legacyEngine renders with wkhtmltopdf and wkhtmltoimage. It has no layout
// measurement: selector captures render the first matching element on its own.
type legacyEngine struct {
	pdfBin      string
	imageBin    string
	settleDelay time.Duration
	runner      commandRunner
	logger      *zap.Logger
}

func newLegacyEngine(cfg converterConfig) *legacyEngine {
	return &legacyEngine{
		pdfBin:      cfg.legacyPDFBin,
		imageBin:    cfg.legacyImageBin,
		settleDelay: cfg.legacySettleDelay,
		runner:      &execRunner{},
		logger:      cfg.logger,
	}
}

func (e *legacyEngine) Name() string { return EngineLegacy }

func (e *legacyEngine) Close() error { return nil }

func (e *legacyEngine) Render(ctx context.Context, job *renderJob) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	bin := e.pdfBin
	renderErr := ErrPDFGeneration
	if job.Format == FormatPNG {
		bin = e.imageBin
		renderErr = ErrScreenshot
	}
	if _, err := e.runner.LookPath(bin); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrLegacyUnavailable, bin, err)
	}

	content := job.Doc.HTML
	if job.Selector != "" {
		var err error
		if content, err = isolateSelection(content, job.Selector); err != nil {
			return nil, err
		}
	}

	inPath, cleanupIn, err := fileutil.WriteTempFile(content, "html")
	if err != nil {
		return nil, fmt.Errorf("%w: %v", renderErr, err)
	}
	defer cleanupIn()

	outPath, cleanupOut, err := fileutil.WriteTempFile("", job.Format.Extension())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", renderErr, err)
	}
	defer cleanupOut()

	args := append(e.args(job), inPath, outPath)
	stderr, runErr := e.runner.Run(ctx, bin, args...)

	data, readErr := os.ReadFile(outPath) // #nosec G304 -- path created above
	if runErr != nil {
		// wkhtmltopdf exits non-zero on recoverable load errors (a missing
		// image, say) and still writes the document.
		if ctx.Err() == nil && readErr == nil && len(data) > 0 {
			e.logger.Warn("legacy renderer reported errors",
				zap.String("engine", EngineLegacy),
				zap.String("stderr", strings.TrimSpace(stderr)),
				zap.Error(runErr))
			return data, nil
		}
		return nil, fmt.Errorf("%w: %s: %v", renderErr, strings.TrimSpace(stderr), runErr)
	}
	if readErr != nil {
		return nil, fmt.Errorf("%w: reading output: %v", renderErr, readErr)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: %s produced no output", renderErr, bin)
	}
	return data, nil
}

// args builds the command line, without input and output paths.
func (e *legacyEngine) args(job *renderJob) []string {
	args := []string{
		"--quiet",
		"--enable-local-file-access",
		"--javascript-delay", strconv.FormatInt(e.settleDelay.Milliseconds(), 10),
	}

	if job.Format == FormatPNG {
		width := viewportWidth
		if job.Doc.Width > 0 && job.Selector == "" {
			width = int(job.Doc.Width)
		}
		args = append(args,
			"--format", "png",
			"--zoom", strconv.Itoa(DeviceScaleFactor),
			"--width", strconv.Itoa(width),
		)
		if job.transparent() {
			args = append(args, "--transparent")
		}
		return args
	}

	widthMM, heightMM := float64(a4WidthMM), float64(a4HeightMM)
	if job.Doc.HasSize() && job.Selector == "" {
		widthMM, heightMM = job.Doc.Width*mmPerPixel, job.Doc.Height*mmPerPixel
	}
	return append(args,
		"--encoding", "utf-8",
		"--background",
		"--disable-smart-shrinking",
		"--margin-top", "0",
		"--margin-bottom", "0",
		"--margin-left", "0",
		"--margin-right", "0",
		"--page-width", formatMM(widthMM),
		"--page-height", formatMM(heightMM),
	)
}

func formatMM(v float64) string {
	return strconv.FormatFloat(v, 'f', 2, 64) + "mm"
}

// isolateSelection returns a document holding only the first element matched
// by selector, under the original head so styles and fonts still apply.
// Selectors are matched against the static markup, before any script runs.
func isolateSelection(htmlContent, selector string) (string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(htmlContent))
	if err != nil {
		return "", fmt.Errorf("%w: parsing document: %v", ErrRenderFailure, err)
	}

	// goquery yields an empty selection for invalid selectors.
	sel := doc.Find(selector).First()
	if sel.Length() == 0 {
		return "", fmt.Errorf("%w: %q", ErrElementNotFound, selector)
	}

	element, err := goquery.OuterHtml(sel)
	if err != nil {
		return "", fmt.Errorf("%w: serializing element: %v", ErrRenderFailure, err)
	}
	head, err := doc.Find("head").First().Html()
	if err != nil {
		return "", fmt.Errorf("%w: serializing head: %v", ErrRenderFailure, err)
	}

	var b strings.Builder
	b.WriteString("<!DOCTYPE html><html><head>")
	b.WriteString(head)
	b.WriteString(`</head><body style="margin:0">`)
	b.WriteString(element)
	b.WriteString("</body></html>")
	return b.String(), nil
}
