package assets

import (
	"embed"
	"fmt"
	"strings"
)

//go:embed styles/*
var styles embed.FS

//go:embed templates/*
var templates embed.FS

// Names of the built-in assets used by the conversion pipeline.
const (
	FontsStyleName   = "fonts"
	SVGShellName     = "svg-shell"
	SVGShellSlot     = "<!--markup2pdf:svg-->"
	fontsStyleMarker = "@font-face"
)

// EmbeddedLoader loads assets from embedded filesystem.
// Implements AssetLoader interface.
type EmbeddedLoader struct{}

// NewEmbeddedLoader creates an EmbeddedLoader.
func NewEmbeddedLoader() *EmbeddedLoader {
	return &EmbeddedLoader{}
}

// LoadStyle loads a CSS style from embedded assets by name.
// The name should not include the .css extension.
func (e *EmbeddedLoader) LoadStyle(name string) (string, error) {
	if err := ValidateAssetName(name); err != nil {
		return "", err
	}

	content, err := styles.ReadFile("styles/" + name + ".css")
	if err != nil {
		return "", fmt.Errorf("%w: %q", ErrStyleNotFound, name)
	}

	return string(content), nil
}

// LoadTemplate loads an HTML template from embedded assets by name.
// The name should not include the .html extension.
func (e *EmbeddedLoader) LoadTemplate(name string) (string, error) {
	if err := ValidateAssetName(name); err != nil {
		return "", err
	}

	content, err := templates.ReadFile("templates/" + name + ".html")
	if err != nil {
		return "", fmt.Errorf("%w: %q", ErrTemplateNotFound, name)
	}

	return string(content), nil
}

// builtin serves the pipeline assets.
var builtin AssetLoader = NewEmbeddedLoader()

// FontFallbackCSS returns the CJK font-fallback stylesheet.
// Panics if the embedded asset is missing, which only happens on a broken build.
func FontFallbackCSS() string {
	return fontFallbackCSS(builtin)
}

func fontFallbackCSS(loader AssetLoader) string {
	css, err := loader.LoadStyle(FontsStyleName)
	if err != nil || !strings.Contains(css, fontsStyleMarker) {
		panic(fmt.Sprintf("assets: embedded font stylesheet unavailable: %v", err))
	}
	return strings.TrimSpace(css)
}

// SVGShell returns the HTML document that hosts standalone SVG graphics.
// The graphic replaces SVGShellSlot.
func SVGShell() string {
	return svgShell(builtin)
}

func svgShell(loader AssetLoader) string {
	shell, err := loader.LoadTemplate(SVGShellName)
	if err != nil || !strings.Contains(shell, SVGShellSlot) {
		panic(fmt.Sprintf("assets: embedded svg shell unavailable: %v", err))
	}
	return shell
}
