package markup2pdf

import (
	"fmt"
	"math"

	"github.com/go-rod/rod/lib/proto"
)

// Region is the capture area in CSS pixels, relative to the page origin.
type Region struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// evaluator runs a JavaScript function in a page. *rod.Page satisfies it.
type evaluator interface {
	Eval(js string, args ...interface{}) (*proto.RuntimeRemoteObject, error)
}

// measureJS only reads layout. An invalid selector throws in querySelector
// and is reported the same as a missing element.
const measureJS = `(selector, svgRoot) => {
	const sx = window.scrollX || 0, sy = window.scrollY || 0;
	if (selector) {
		let el = null;
		try { el = document.querySelector(selector); } catch (e) { el = null; }
		if (!el) return { found: false, x: 0, y: 0, w: 0, h: 0 };
		const r = el.getBoundingClientRect();
		return { found: true, x: r.left + sx, y: r.top + sy, w: r.width, h: r.height };
	}
	if (svgRoot) {
		const svg = document.querySelector('body > svg') || document.querySelector('svg');
		if (svg) {
			const r = svg.getBoundingClientRect();
			return { found: true, x: r.left + sx, y: r.top + sy, w: r.width, h: r.height };
		}
	}
	const b = document.body || {}, d = document.documentElement || {};
	const w = Math.max(b.scrollWidth || 0, b.offsetWidth || 0, d.clientWidth || 0, d.scrollWidth || 0, d.offsetWidth || 0);
	const h = Math.max(b.scrollHeight || 0, b.offsetHeight || 0, d.clientHeight || 0, d.scrollHeight || 0, d.offsetHeight || 0);
	return { found: true, x: 0, y: 0, w: w, h: h };
}`

// measureRegion measures what should be captured: the element matched by
// selector, the root SVG of an SVG document, or the whole page.
// Coordinates are floored and sizes rounded up so the region never clips.
func measureRegion(ev evaluator, selector string, svgRoot bool) (Region, error) {
	res, err := ev.Eval(measureJS, selector, svgRoot)
	if err != nil {
		return Region{}, fmt.Errorf("%w: %v", ErrMeasure, err)
	}

	v := res.Value
	if v.Nil() {
		return Region{}, fmt.Errorf("%w: no result", ErrMeasure)
	}
	if !v.Get("found").Bool() {
		return Region{}, fmt.Errorf("%w: %q", ErrElementNotFound, selector)
	}
	m := struct{ X, Y, W, H float64 }{
		X: v.Get("x").Num(),
		Y: v.Get("y").Num(),
		W: v.Get("w").Num(),
		H: v.Get("h").Num(),
	}

	x := math.Max(0, math.Floor(m.X))
	y := math.Max(0, math.Floor(m.Y))
	r := Region{
		X:      x,
		Y:      y,
		Width:  math.Ceil(m.X + m.W - x),
		Height: math.Ceil(m.Y + m.H - y),
	}
	if m.W <= 0 || m.H <= 0 || r.Width <= 0 || r.Height <= 0 {
		return Region{}, fmt.Errorf("%w: %gx%g", ErrEmptyDocument, m.W, m.H)
	}
	return r, nil
}

// pageSize returns the viewport needed to lay out the whole region.
func (r Region) pageSize() (width, height int) {
	return int(r.X + r.Width), int(r.Y + r.Height)
}
