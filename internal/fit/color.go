package fit

import "image"

// SolveColor computes the RGB that minimizes squared error over an
// ellipse's covered pixels, inverting the alpha-composite equation per
// spec.md §4.3. RGB channels on e are ignored; only geometry and Alpha
// are consulted.
//
// Grounded on original_source/rust/src/optimizer.rs's compute_optimal_color:
// per-pixel ideal k = (target - cur*(1-alphaF)) / alphaF, clamped to
// [0,255] before being averaged (the teacher's color solver bias is
// preserved verbatim, per spec.md §9).
func SolveColor(target, composite *image.NRGBA, w, h int, e Ellipse) (r, g, b, a uint8) {
	alphaF := float64(e.Alpha) / 255.0
	if alphaF < 0.01 {
		return 0, 0, 0, 0
	}

	minX, minY, maxX, maxY := e.BoundingBox(w, h)

	var sumR, sumG, sumB int64
	var count int64

	for y := minY; y < maxY; y++ {
		for x := minX; x < maxX; x++ {
			if !e.Contains(x, y) {
				continue
			}
			ti := target.PixOffset(x, y)
			ci := composite.PixOffset(x, y)

			kr := (float64(target.Pix[ti+0]) - float64(composite.Pix[ci+0])*(1-alphaF)) / alphaF
			kg := (float64(target.Pix[ti+1]) - float64(composite.Pix[ci+1])*(1-alphaF)) / alphaF
			kb := (float64(target.Pix[ti+2]) - float64(composite.Pix[ci+2])*(1-alphaF)) / alphaF

			sumR += int64(clamp(kr, 0, 255))
			sumG += int64(clamp(kg, 0, 255))
			sumB += int64(clamp(kb, 0, 255))
			count++
		}
	}

	if count == 0 {
		return 128, 128, 128, e.Alpha
	}

	return uint8(sumR / count), uint8(sumG / count), uint8(sumB / count), e.Alpha
}
