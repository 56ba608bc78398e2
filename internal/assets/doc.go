// Package assets provides the stylesheets and HTML templates embedded in the
// conversion pipeline.
//
// Two assets ship with the binary:
//
//	styles/fonts.css          # CJK font-fallback chain (local() aliases only)
//	templates/svg-shell.html  # HTML host document for standalone SVG
//
// The font stylesheet never downloads fonts. It aliases the WenQuanYi and
// Noto Sans CJK families installed on the host and sets a zero-specificity
// body font-family, so any rule supplied by the caller wins.
package assets
