package pipeline

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/alnah/go-markup2pdf/internal/assets"
)

// Marker values written into the data-markup2pdf attribute.
const (
	FontsMarker    = "fonts"
	SVGShellMarker = "svg-shell"
)

// SVGNamespace is the namespace injected into SVG roots that omit it.
const SVGNamespace = "http://www.w3.org/2000/svg"

// Default size given to SVG roots that declare neither width nor height.
const (
	DefaultSVGWidth  = 800
	DefaultSVGHeight = 600
)

var (
	xmlnsAttrRe   = regexp.MustCompile(`(?i)\sxmlns\s*=`)
	widthAttrRe   = regexp.MustCompile(`(?i)\swidth\s*=\s*["']?\s*([0-9]*\.?[0-9]+)(px)?\s*["'\s/>]`)
	heightAttrRe  = regexp.MustCompile(`(?i)\sheight\s*=\s*["']?\s*([0-9]*\.?[0-9]+)(px)?\s*["'\s/>]`)
	hasWidthRe    = regexp.MustCompile(`(?i)\swidth\s*=`)
	hasHeightRe   = regexp.MustCompile(`(?i)\sheight\s*=`)
	viewBoxAttrRe = regexp.MustCompile(`(?i)\sviewbox\s*=\s*["']\s*([-0-9.eE]+)[\s,]+([-0-9.eE]+)[\s,]+([0-9.eE]+)[\s,]+([0-9.eE]+)\s*["']`)
	svgShellAttr  = markerAttr + `="` + SVGShellMarker + `"`
)

// Normalize turns preprocessed content into a standalone document.
//
// HTML fragments are wrapped in a minimal scaffold; full documents only gain a
// charset declaration when missing. SVG content is embedded in an HTML shell
// after its root gains a namespace and, when it declares no size, the default
// 800x600 size. Both kinds receive the CJK font-fallback stylesheet.
// Normalizing an already normalized document returns it unchanged.
func Normalize(content string, kind Kind) (*Document, error) {
	switch kind {
	case KindHTML:
		return &Document{Kind: KindHTML, HTML: normalizeHTML(content)}, nil
	case KindSVG:
		return normalizeSVG(content)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
}

func normalizeHTML(content string) string {
	lower := strings.ToLower(content)
	if indexTag(lower, "html", 0) == -1 {
		content = scaffold(content)
	}

	content = ensureHead(content)
	content = InjectStyle(content, FontsMarker, assets.FontFallbackCSS())
	return ensureCharset(content)
}

// scaffold wraps an HTML fragment in <html>, adding <head> and <body> only
// when the fragment does not carry its own.
func scaffold(fragment string) string {
	fragment = stripDoctype(fragment)
	lower := strings.ToLower(fragment)
	hasHead := indexTag(lower, "head", 0) != -1
	hasBody := indexTag(lower, "body", 0) != -1

	var b strings.Builder
	b.Grow(len(fragment) + 96)
	b.WriteString("<!DOCTYPE html><html>")

	switch {
	case !hasHead && !hasBody:
		b.WriteString("<head></head><body>")
		b.WriteString(fragment)
		b.WriteString("</body>")
	case hasHead && !hasBody:
		split := len(fragment)
		if i := strings.Index(lower, "</head>"); i != -1 {
			split = i + len("</head>")
		}
		b.WriteString(fragment[:split])
		b.WriteString("<body>")
		b.WriteString(fragment[split:])
		b.WriteString("</body>")
	case !hasHead:
		b.WriteString("<head></head>")
		b.WriteString(fragment)
	default:
		b.WriteString(fragment)
	}

	b.WriteString("</html>")
	return b.String()
}

// stripDoctype removes a leading doctype so the scaffold's own is the only one.
func stripDoctype(fragment string) string {
	trimmed := strings.TrimLeft(fragment, " \t\r\n\ufeff")
	if !strings.HasPrefix(strings.ToLower(trimmed), "<!doctype") {
		return fragment
	}
	if end := strings.IndexByte(trimmed, '>'); end != -1 {
		return trimmed[end+1:]
	}
	return fragment
}

func normalizeSVG(content string) (*Document, error) {
	lower := strings.ToLower(content)
	start := indexTag(lower, "svg", 0)
	if start == -1 {
		return nil, fmt.Errorf("%w: no <svg> element found", ErrInvalidContent)
	}
	end := tagEnd(content, start)
	if end == -1 {
		return nil, fmt.Errorf("%w: unterminated <svg> tag", ErrInvalidContent)
	}

	if strings.Contains(content, svgShellAttr) {
		w, h := svgSize(content[start : end+1])
		return &Document{Kind: KindSVG, HTML: content, Width: w, Height: h}, nil
	}

	open := content[start : end+1]
	rest := content[end+1:]

	var attrs strings.Builder
	if !xmlnsAttrRe.MatchString(open) {
		attrs.WriteString(` xmlns="` + SVGNamespace + `"`)
	}
	if !hasWidthRe.MatchString(open) && !hasHeightRe.MatchString(open) {
		fmt.Fprintf(&attrs, ` width="%d" height="%d"`, DefaultSVGWidth, DefaultSVGHeight)
	}
	if attrs.Len() > 0 {
		open = open[:len("<svg")] + attrs.String() + open[len("<svg"):]
	}

	fragment := strings.TrimRight(open+rest, " \t\r\n")
	w, h := svgSize(open)

	shell := strings.Replace(assets.SVGShell(), assets.SVGShellSlot, fragment, 1)
	shell = InjectStyle(shell, FontsMarker, assets.FontFallbackCSS())
	shell = ensureCharset(shell)

	return &Document{Kind: KindSVG, HTML: shell, Width: w, Height: h}, nil
}

// svgSize extracts the pixel size declared by an SVG open tag. Explicit
// width/height win; a viewBox fills in whatever is missing. Percentages and
// other units are treated as unknown.
func svgSize(open string) (width, height float64) {
	width = attrNumber(widthAttrRe, open)
	height = attrNumber(heightAttrRe, open)
	if width > 0 && height > 0 {
		return width, height
	}

	m := viewBoxAttrRe.FindStringSubmatch(open)
	if m == nil {
		return width, height
	}
	vbW, errW := strconv.ParseFloat(m[3], 64)
	vbH, errH := strconv.ParseFloat(m[4], 64)
	if errW != nil || errH != nil || vbW <= 0 || vbH <= 0 {
		return width, height
	}

	switch {
	case width == 0 && height == 0:
		return vbW, vbH
	case width == 0:
		return height * vbW / vbH, height
	default:
		return width, width * vbH / vbW
	}
}

func attrNumber(re *regexp.Regexp, open string) float64 {
	m := re.FindStringSubmatch(open)
	if m == nil {
		return 0
	}
	v, err := strconv.ParseFloat(m[1], 64)
	if err != nil || v < 0 {
		return 0
	}
	return v
}
