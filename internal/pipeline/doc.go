// Package pipeline prepares caller markup for rendering.
//
// Two stages run before any engine sees the content:
//   - Preprocess strips a code fence wrapping the whole submission
//   - Normalize builds a standalone HTML document (scaffold, charset,
//     SVG namespace and default size, CJK font fallback)
//
// Rendering is handled by the root markup2pdf package. Everything here is
// pure string work with no I/O, so both stages are safe for concurrent use.
package pipeline
