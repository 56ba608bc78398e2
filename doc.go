// Package markup2pdf converts HTML and SVG markup to PDF or PNG using headless
// Chrome, with wkhtmltopdf as a fallback renderer.
//
// # Quick Start
//
// Create a converter, convert markup, and close when done:
//
//	conv := markup2pdf.NewConverter()
//	defer conv.Close()
//
//	result, err := conv.Convert(ctx, markup2pdf.Request{
//	    Content: "<h1>Hello</h1>",
//	    Type:    markup2pdf.ContentHTML,
//	    Format:  markup2pdf.FormatPDF,
//	}, "hello.pdf")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(result.OutputPath, result.Engine)
//
// # Conversion Pipeline
//
// The conversion process follows these stages:
//
//  1. Preprocessing: a ```html or ```svg code fence around the content is removed
//  2. Normalization: fragments get a complete document, SVG gets its namespace,
//     a default size and an HTML shell, and a CJK font fallback is added
//  3. Rendering via headless Chrome (go-rod), measured to the content or to the
//     element matched by Request.Selector
//  4. Fallback to wkhtmltopdf/wkhtmltoimage when the browser fails
//  5. Atomic write of the artifact to the output path
//
// Content errors such as a selector that matches nothing are not retried with
// the fallback renderer. When both renderers fail the browser error is returned.
//
// # Errors
//
// Every error returned by Convert wraps one category, so callers can map
// failures with errors.Is:
//
//	switch {
//	case errors.Is(err, markup2pdf.ErrValidation):       // bad request
//	case errors.Is(err, markup2pdf.ErrElementNotFound):  // selector matched nothing
//	case errors.Is(err, markup2pdf.ErrEngineLaunch):     // no browser available
//	}
//
// # Configuration
//
// Use functional options to customize the converter:
//
//	conv := markup2pdf.NewConverter(
//	    markup2pdf.WithTimeout(2 * time.Minute),
//	    markup2pdf.WithBrowserBin("/usr/bin/chromium"),
//	    markup2pdf.WithMaxConcurrency(4),
//	    markup2pdf.WithLogger(logger),
//	)
//
// # Browser Requirements
//
// Rendering requires Chrome/Chromium. The go-rod library automatically
// downloads a managed Chromium instance on first run (~/.cache/rod/browser/).
// Use ROD_BROWSER_BIN or WithBrowserBin to specify a custom Chrome binary.
// The Chrome sandbox is disabled by default for containers running as root.
package markup2pdf
