package fit

import "math/rand"

const (
	errorSampleCount   = 30
	initialSeedMaxRadius = 15.0
)

// PickHighErrorSeed samples errorSampleCount random pixels, keeps the one
// with the largest squared RGB error against the current composite, and
// centers a freshly randomized ellipse there. Its radii are drawn from
// [1, min(maxRadius, initialSeedMaxRadius)), per spec.md §4.5.
//
// Grounded on original_source/rust/src/optimizer.rs's pick_high_error_seed.
func PickHighErrorSeed(rng *rand.Rand, c *Canvas, maxRadius float64) Ellipse {
	bestX := rng.Float64() * float64(c.W)
	bestY := rng.Float64() * float64(c.H)
	maxError := -1.0

	for i := 0; i < errorSampleCount; i++ {
		x := rng.Intn(c.W)
		y := rng.Intn(c.H)

		ti := c.Target.PixOffset(x, y)
		ci := c.Composite.PixOffset(x, y)

		tr, tg, tb := int32(c.Target.Pix[ti+0]), int32(c.Target.Pix[ti+1]), int32(c.Target.Pix[ti+2])
		cr, cg, cb := int32(c.Composite.Pix[ci+0]), int32(c.Composite.Pix[ci+1]), int32(c.Composite.Pix[ci+2])

		err := float64((tr-cr)*(tr-cr) + (tg-cg)*(tg-cg) + (tb-cb)*(tb-cb))
		if err > maxError {
			maxError = err
			bestX = float64(x)
			bestY = float64(y)
		}
	}

	s := NewRandomEllipse(rng, c.W, c.H)
	s.X = bestX
	s.Y = bestY

	rCap := maxRadius
	if initialSeedMaxRadius < rCap {
		rCap = initialSeedMaxRadius
	}
	s.RX = 1 + rng.Float64()*(rCap-1)
	s.RY = 1 + rng.Float64()*(rCap-1)

	return s
}
