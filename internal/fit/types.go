package fit

import (
	"math"
	"math/rand"
)

// Ellipse is a single rotated, semi-transparent filled ellipse and the
// resolved fill color the color solver assigns it before commit.
type Ellipse struct {
	X, Y    float64 // center, pixel coordinates
	RX, RY  float64 // semi-axes, pixels
	Angle   float64 // rotation, radians
	Alpha   uint8   // opacity octet, [10,255]
	R, G, B uint8   // resolved fill color
	A       uint8   // resolved alpha; equals Alpha once the color solver runs
}

const (
	minAlpha  = 10
	maxAlpha  = 255
	minRadius = 0.5

	seedAlphaLo = 10
	seedAlphaHi = 200

	positionMutationRange = 16.0
	radiusMutationRange   = 8.0
	angleMutationRange    = 0.5
	alphaMutationRange    = 30.0
)

// NewRandomEllipse draws an ellipse uniformly at random over the canvas
// dimensions, per spec.md §4.1's "Random construction".
func NewRandomEllipse(rng *rand.Rand, w, h int) Ellipse {
	return Ellipse{
		X:     rng.Float64() * float64(w),
		Y:     rng.Float64() * float64(h),
		RX:    1 + rng.Float64()*31,
		RY:    1 + rng.Float64()*31,
		Angle: rng.Float64() * math.Pi,
		Alpha: uint8(seedAlphaLo + rng.Intn(seedAlphaHi-seedAlphaLo)),
		R:     0, G: 0, B: 0, A: 128,
	}
}

// mutationChannel enumerates the six single-channel mutation targets.
type mutationChannel int

const (
	channelX mutationChannel = iota
	channelY
	channelRX
	channelRY
	channelAngle
	channelAlpha
)

// Mutate perturbs exactly one of the ellipse's six channels in place,
// scaled by 1 - sqrt(iteration/maxIteration) so moves shrink over the
// course of a hill climb. See spec.md §4.1.
func (e *Ellipse) Mutate(rng *rand.Rand, w, h int, iteration, maxIteration int) {
	scale := 1.0
	if maxIteration > 0 {
		scale = 1.0 - math.Sqrt(float64(iteration)/float64(maxIteration))
	}

	switch mutationChannel(rng.Intn(6)) {
	case channelX:
		e.X = clamp(e.X+signedRange(rng, positionMutationRange)*scale, 0, float64(w))
	case channelY:
		e.Y = clamp(e.Y+signedRange(rng, positionMutationRange)*scale, 0, float64(h))
	case channelRX:
		e.RX = clamp(e.RX+signedRange(rng, radiusMutationRange)*scale, minRadius, float64(w))
	case channelRY:
		e.RY = clamp(e.RY+signedRange(rng, radiusMutationRange)*scale, minRadius, float64(h))
	case channelAngle:
		e.Angle += signedRange(rng, angleMutationRange) * scale
	case channelAlpha:
		delta := int(signedRange(rng, alphaMutationRange) * scale) // truncates toward zero
		e.Alpha = clampAlpha(int(e.Alpha) + delta)
	}
}

// signedRange returns a uniform draw in [-r, r).
func signedRange(rng *rand.Rand, r float64) float64 {
	return (rng.Float64()*2 - 1) * r
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func clampAlpha(v int) uint8 {
	if v < minAlpha {
		return minAlpha
	}
	if v > maxAlpha {
		return maxAlpha
	}
	return uint8(v)
}

// Contains reports whether pixel (px, py) lies inside the ellipse, per the
// rotated-conic membership test of spec.md §3.
func (e *Ellipse) Contains(px, py int) bool {
	dx := float64(px) - e.X
	dy := float64(py) - e.Y
	cos, sin := math.Cos(e.Angle), math.Sin(e.Angle)
	rotX := dx*cos + dy*sin
	rotY := -dx*sin + dy*cos
	rx2 := e.RX * e.RX
	ry2 := e.RY * e.RY
	return (rotX*rotX)/rx2+(rotY*rotY)/ry2 <= 1
}

// BoundingBox returns the axis-aligned, canvas-clamped bounding box that
// always safely encloses the rotated ellipse (a square derived from
// max(rx, ry), per spec.md §4.2).
func (e *Ellipse) BoundingBox(w, h int) (minX, minY, maxX, maxY int) {
	rMax := math.Max(e.RX, e.RY)
	minX = clampInt(int(math.Floor(e.X-rMax)), 0, w)
	maxX = clampInt(int(math.Ceil(e.X+rMax)), 0, w)
	minY = clampInt(int(math.Floor(e.Y-rMax)), 0, h)
	maxY = clampInt(int(math.Ceil(e.Y+rMax)), 0, h)
	return
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
