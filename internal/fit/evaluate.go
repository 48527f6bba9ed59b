package fit

import "math"

// Evaluate scores a candidate ellipse against the canvas: the signed
// change in summed squared RGB error painting it would cause, per
// spec.md §4.4. Lower is better; negative means the candidate improves
// the image. A degenerate (empty) bounding box scores +Inf so it is
// always rejected.
//
// Grounded on original_source/rust/src/optimizer.rs's evaluate_shape: the
// color solver is invoked internally, and the blended channel value uses
// the exact same truncation rule as Canvas.Commit (non-negative float
// cast to uint8) so a score computed here always matches the delta the
// compositor would actually produce.
func Evaluate(c *Canvas, e Ellipse) float64 {
	minX, minY, maxX, maxY := e.BoundingBox(c.W, c.H)
	if minX >= maxX || minY >= maxY {
		return math.Inf(1)
	}

	r, g, b, a := SolveColor(c.Target, c.Composite, c.W, c.H, e)
	alphaF := float64(a) / 255.0

	var total int64

	for y := minY; y < maxY; y++ {
		for x := minX; x < maxX; x++ {
			if !e.Contains(x, y) {
				continue
			}
			ti := c.Target.PixOffset(x, y)
			ci := c.Composite.PixOffset(x, y)

			total += pixelErrorDelta(c.Target.Pix[ti:ti+3], c.Composite.Pix[ci:ci+3], r, g, b, alphaF)
		}
	}

	return float64(total)
}

func pixelErrorDelta(target, cur []uint8, r, g, b uint8, alphaF float64) int64 {
	tr, tg, tb := int32(target[0]), int32(target[1]), int32(target[2])
	cr, cg, cb := int32(cur[0]), int32(cur[1]), int32(cur[2])

	nr := int32(blendChannel(cur[0], r, alphaF))
	ng := int32(blendChannel(cur[1], g, alphaF))
	nb := int32(blendChannel(cur[2], b, alphaF))

	oldErr := (tr-cr)*(tr-cr) + (tg-cg)*(tg-cg) + (tb-cb)*(tb-cb)
	newErr := (tr-nr)*(tr-nr) + (tg-ng)*(tg-ng) + (tb-nb)*(tb-nb)

	return int64(newErr) - int64(oldErr)
}
