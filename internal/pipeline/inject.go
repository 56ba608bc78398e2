package pipeline

import (
	"regexp"
	"strings"
)

// markerAttr tags every element inserted by the pipeline so that repeated
// normalization can detect earlier work.
const markerAttr = "data-markup2pdf"

var metaCharsetRe = regexp.MustCompile(`(?i)<meta[^>]*\bcharset\s*=`)

// InjectStyle inserts a marked <style> block as the first child of <head>.
// Styles that come later in the document win the cascade, so the caller's own
// rules keep priority. A missing <head> is created after the <html> open tag;
// without an <html> tag the block is prepended. Calling InjectStyle twice with
// the same marker is a no-op.
func InjectStyle(htmlContent, marker, cssContent string) string {
	if cssContent == "" {
		return htmlContent
	}

	tag := `<style ` + markerAttr + `="` + marker + `">`
	if strings.Contains(htmlContent, tag) {
		return htmlContent
	}

	return insertIntoHead(htmlContent, tag+sanitizeCSS(cssContent)+"</style>")
}

// ensureCharset adds a UTF-8 meta declaration when the document has none.
func ensureCharset(htmlContent string) string {
	if metaCharsetRe.MatchString(htmlContent) {
		return htmlContent
	}
	return insertIntoHead(htmlContent, `<meta charset="UTF-8">`)
}

// ensureHead adds an empty <head> right after <html> when none exists.
func ensureHead(htmlContent string) string {
	lower := strings.ToLower(htmlContent)
	if indexTag(lower, "head", 0) != -1 {
		return htmlContent
	}

	if idx := indexTag(lower, "html", 0); idx != -1 {
		if end := tagEnd(htmlContent, idx); end != -1 {
			return htmlContent[:end+1] + "<head></head>" + htmlContent[end+1:]
		}
	}
	return htmlContent
}

// insertIntoHead places fragment right after the <head> open tag.
// Falls back to after <html>, then to prepending.
func insertIntoHead(htmlContent, fragment string) string {
	lower := strings.ToLower(htmlContent)

	if idx := indexTag(lower, "head", 0); idx != -1 {
		if end := tagEnd(htmlContent, idx); end != -1 {
			return htmlContent[:end+1] + fragment + htmlContent[end+1:]
		}
	}

	if idx := indexTag(lower, "html", 0); idx != -1 {
		if end := tagEnd(htmlContent, idx); end != -1 {
			return htmlContent[:end+1] + "<head>" + fragment + "</head>" + htmlContent[end+1:]
		}
	}

	return fragment + htmlContent
}

// sanitizeCSS escapes sequences that could break out of a <style> block.
func sanitizeCSS(css string) string {
	return strings.ReplaceAll(css, "</", `<\/`)
}

// indexTag returns the index of the first "<name" open tag at or after from
// in lower, which must already be lower-cased. "<header" does not match "head".
func indexTag(lower, name string, from int) int {
	needle := "<" + name
	for from <= len(lower) {
		i := strings.Index(lower[from:], needle)
		if i == -1 {
			return -1
		}
		i += from
		next := i + len(needle)
		if next >= len(lower) {
			return -1
		}
		switch lower[next] {
		case ' ', '\t', '\n', '\r', '\f', '>', '/':
			return i
		}
		from = next
	}
	return -1
}

// tagEnd returns the index of the '>' closing the tag that starts at start.
// Quoted attribute values may contain '>'. Returns -1 for an unterminated tag.
func tagEnd(s string, start int) int {
	var quote byte
	for i := start; i < len(s); i++ {
		c := s[i]
		switch {
		case quote != 0:
			if c == quote {
				quote = 0
			}
		case c == '"' || c == '\'':
			quote = c
		case c == '>':
			return i
		}
	}
	return -1
}
