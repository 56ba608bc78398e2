package pipeline

import (
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/parser"
	"github.com/yuin/goldmark/text"
)

// fenceParser is a plain CommonMark block parser. Only fenced code block
// detection is needed, so no extensions are registered.
var fenceParser parser.Parser = goldmark.New().Parser()

// Preprocess strips a code fence that wraps the whole content.
//
// A fence tagged with the content kind ("html" or "svg") is always unwrapped.
// An untagged fence is unwrapped only when the body looks like the expected
// kind: <html, <body or <div for HTML, <svg for SVG. Only backtick fences
// count, and the closing fence may end the last content line. Anything else,
// including a fence tagged for the other kind or text after the closing fence,
// passes through unchanged. Preprocess never fails.
func Preprocess(content string, kind Kind) string {
	if !strings.HasPrefix(content, "```") {
		return content
	}

	src := []byte(content)
	doc := fenceParser.Parse(text.NewReader(src))
	if doc.ChildCount() != 1 {
		return content
	}
	block, ok := doc.FirstChild().(*ast.FencedCodeBlock)
	if !ok || block.Lines().Len() == 0 {
		return content
	}

	lines := block.Lines()
	last := lines.At(lines.Len() - 1)
	rest := strings.TrimSpace(string(src[last.Stop:]))
	body := strings.TrimRight(string(lines.Value(src)), "\r\n")

	switch {
	case strings.HasPrefix(rest, "```"):
	case rest == "" && strings.HasSuffix(strings.TrimRight(body, " \t"), "```"):
		// Closing fence glued to the last content line.
		body = strings.TrimSuffix(strings.TrimRight(body, " \t"), "```")
	default:
		return content
	}
	if strings.TrimSpace(body) == "" {
		return content
	}

	lang := strings.ToLower(string(block.Language(src)))
	switch {
	case lang == string(kind):
		return body
	case lang == "" && hasKindMarkers(content, kind):
		return body
	default:
		return content
	}
}

// hasKindMarkers reports whether the content carries the tags expected for kind.
func hasKindMarkers(content string, kind Kind) bool {
	switch kind {
	case KindHTML:
		return strings.Contains(content, "<html") ||
			strings.Contains(content, "<body") ||
			strings.Contains(content, "<div")
	case KindSVG:
		return strings.Contains(content, "<svg")
	default:
		return false
	}
}
