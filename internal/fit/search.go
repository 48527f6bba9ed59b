package fit

import "math/rand"

const (
	lateStageThreshold = 0.8
	midStageThreshold  = 0.5

	lateStageMaxRadius  = 10.0
	midStageMaxRadius   = 30.0
	earlyStageMaxRadius = 200.0

	standardMultiplier     = 1
	highFidelityMultiplier = 3
	superFidelityMultiplier = 10
	hyperFidelityMultiplier = 100

	baseRandomTrials    = 40
	baseHillClimbSteps  = 80
)

// maxRadiusForProgress returns the per-shape radius cap for the given
// progress fraction (shapeIdx/maxShapes), per spec.md §4.6's stage
// schedule. Boundaries are strict: progress must exceed a threshold to
// move to the tighter stage.
func maxRadiusForProgress(progress float64) float64 {
	switch {
	case progress > lateStageThreshold:
		return lateStageMaxRadius
	case progress > midStageThreshold:
		return midStageMaxRadius
	default:
		return earlyStageMaxRadius
	}
}

// fidelityMultiplier maps a fidelity mode to its trial/hill-climb count
// multiplier. Unrecognized modes silently fall back to the standard
// multiplier, per spec.md §4.6.
func fidelityMultiplier(mode int) int {
	switch mode {
	case 0:
		return standardMultiplier
	case 1:
		return highFidelityMultiplier
	case 2:
		return superFidelityMultiplier
	case 3:
		return hyperFidelityMultiplier
	default:
		return standardMultiplier
	}
}

// AddShape runs the full per-shape search: a max-error seed plus
// baseRandomTrials*multiplier random trials (Phase 1), followed by
// baseHillClimbSteps*multiplier strict-descent single-channel
// mutations (Phase 2). The winning shape's color is resolved and
// committed to the canvas before it is returned.
//
// Grounded on original_source/rust/src/optimizer.rs's add_shape.
func AddShape(rng *rand.Rand, c *Canvas, shapeIdx, maxShapes, fidelityMode int) Ellipse {
	progress := float64(shapeIdx) / float64(maxShapes)
	maxRadius := maxRadiusForProgress(progress)
	multiplier := fidelityMultiplier(fidelityMode)

	randomTrials := baseRandomTrials * multiplier
	hillClimbSteps := baseHillClimbSteps * multiplier

	best := PickHighErrorSeed(rng, c, maxRadius)
	bestScore := Evaluate(c, best)

	for i := 0; i < randomTrials; i++ {
		candidate := PickHighErrorSeed(rng, c, maxRadius)
		score := Evaluate(c, candidate)
		if score < bestScore {
			bestScore = score
			best = candidate
		}
	}

	shape := best
	score := bestScore

	for i := 0; i < hillClimbSteps; i++ {
		candidate := shape
		candidate.Mutate(rng, c.W, c.H, i, hillClimbSteps)

		if candidate.RX > maxRadius {
			candidate.RX = maxRadius
		}
		if candidate.RY > maxRadius {
			candidate.RY = maxRadius
		}

		newScore := Evaluate(c, candidate)
		if newScore < score {
			score = newScore
			shape = candidate
		}
	}

	r, g, b, a := SolveColor(c.Target, c.Composite, c.W, c.H, shape)
	shape.R, shape.G, shape.B, shape.A = r, g, b, a
	c.Commit(shape)

	return shape
}
