package fit

import (
	"image"
	"image/color"
)

// Canvas holds the two raster buffers the optimizer operates on: the
// immutable target and the running composite built up by committing
// ellipses one at a time. See spec.md §3.
//
// Grounded on the teacher's CPURenderer, adapted from whole-image
// re-rendering per candidate to the spec's incremental compositor: the
// composite is mutated in place by Commit, and candidates are scored by
// the evaluator against the composite's current state rather than by
// rendering a full parameter vector from scratch.
type Canvas struct {
	Target    *image.NRGBA
	Composite *image.NRGBA
	W, H      int
}

// NewCanvas allocates a canvas for the given target pixels, initializing
// the composite to opaque white (spec.md §3's invariant).
func NewCanvas(target *image.NRGBA) *Canvas {
	bounds := target.Bounds()
	w, h := bounds.Dx(), bounds.Dy()

	composite := image.NewNRGBA(image.Rect(0, 0, w, h))
	white := color.NRGBA{R: 255, G: 255, B: 255, A: 255}
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			composite.SetNRGBA(x, y, white)
		}
	}

	return &Canvas{Target: target, Composite: composite, W: w, H: h}
}

// Commit alpha-composites e onto the canvas in place, per spec.md §4.2:
// only pixels inside e's bounding box and its rotated-ellipse membership
// test are touched; alpha is forced to 255 everywhere it paints.
func (c *Canvas) Commit(e Ellipse) {
	minX, minY, maxX, maxY := e.BoundingBox(c.W, c.H)
	if minX >= maxX || minY >= maxY {
		return
	}

	alphaF := float64(e.A) / 255.0

	for y := minY; y < maxY; y++ {
		for x := minX; x < maxX; x++ {
			if !e.Contains(x, y) {
				continue
			}
			i := c.Composite.PixOffset(x, y)
			c.Composite.Pix[i+0] = blendChannel(c.Composite.Pix[i+0], e.R, alphaF)
			c.Composite.Pix[i+1] = blendChannel(c.Composite.Pix[i+1], e.G, alphaF)
			c.Composite.Pix[i+2] = blendChannel(c.Composite.Pix[i+2], e.B, alphaF)
			c.Composite.Pix[i+3] = 255
		}
	}
}

// blendChannel computes c' = trunc(cur*(1-alphaF) + fill*alphaF), truncating
// toward zero via a non-negative floor cast (spec.md §4.2 / §4.4). Both the
// compositor and the evaluator must use this exact rule.
func blendChannel(cur, fill uint8, alphaF float64) uint8 {
	v := float64(cur)*(1-alphaF) + float64(fill)*alphaF
	return uint8(v) // non-negative by construction; Go's float->uint8 cast truncates toward zero
}
