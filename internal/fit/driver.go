package fit

import (
	"fmt"
	"image"
	"math/rand"
)

// Driver is the stateful session that owns a Canvas and drives the
// per-shape search to completion, per spec.md §4.7. It is not safe for
// concurrent use: callers coordinate Step calls externally (see
// internal/server/worker.go).
type Driver struct {
	canvas       *Canvas
	rng          *rand.Rand
	maxShapes    int
	fidelityMode int
	shapes       []Ellipse
	convergence  *ConvergenceTracker
}

// NewDriver initializes a Driver over the given target pixels, per
// spec.md §4.7's initialize operation.
func NewDriver(target *image.NRGBA, maxShapes, fidelityMode int, rng *rand.Rand) *Driver {
	return &Driver{
		canvas:       NewCanvas(target),
		rng:          rng,
		maxShapes:    maxShapes,
		fidelityMode: fidelityMode,
		shapes:       make([]Ellipse, 0, maxShapes),
		convergence:  NewConvergenceTracker(DefaultConvergenceConfig()),
	}
}

// Plateaued reports whether the audit cost has stopped improving
// meaningfully over the tracker's patience window. It never influences
// Step's behavior; callers may use it to annotate job status.
func (d *Driver) Plateaued() bool { return d.convergence.Plateaued() }

// BestAuditCost returns the lowest full-canvas audit cost observed across
// all Step calls so far.
func (d *Driver) BestAuditCost() float64 { return d.convergence.BestCost() }

// Committed reports how many shapes have been folded into the composite.
func (d *Driver) Committed() int { return len(d.shapes) }

// Done reports whether the shape list has reached max_shapes.
func (d *Driver) Done() bool { return len(d.shapes) >= d.maxShapes }

// Shapes returns the committed shape list. Callers must not mutate it.
func (d *Driver) Shapes() []Ellipse { return d.shapes }

// Composite returns the current composite raster. Callers must not mutate it.
func (d *Driver) Composite() *image.NRGBA { return d.canvas.Composite }

// Target returns the immutable target raster.
func (d *Driver) Target() *image.NRGBA { return d.canvas.Target }

// Step runs the per-shape search for up to batch more shapes, bounded by
// max_shapes, committing each accepted shape as it completes. It returns
// whether the shape list has reached max_shapes. Safe to call repeatedly;
// once done, further calls are no-ops that return true immediately.
func (d *Driver) Step(batch int) bool {
	start := len(d.shapes)
	end := start + batch
	if end > d.maxShapes {
		end = d.maxShapes
	}

	for i := start; i < end; i++ {
		shape := AddShape(d.rng, d.canvas, i, d.maxShapes, d.fidelityMode)
		d.shapes = append(d.shapes, shape)
	}

	if end > start {
		d.convergence.Update(AuditCost(d.canvas.Target, d.canvas.Composite))
	}

	return len(d.shapes) >= d.maxShapes
}

// Export produces the external Desmos-style document from the committed
// shape list. It never mutates Driver state, so it is safe to call
// mid-run for a partial export.
func (d *Driver) Export(seeds SeedSource) (Document, error) {
	bounds := d.canvas.Target.Bounds()
	return BuildDocument(d.shapes, bounds.Dx(), bounds.Dy(), seeds)
}

// Snapshot captures everything needed to reconstruct this Driver later
// via Resume, without persisting the composite buffer itself.
type Snapshot struct {
	Width        int
	Height       int
	MaxShapes    int
	FidelityMode int
	Shapes       []Ellipse
}

// Snapshot returns a serializable snapshot of the Driver's state.
func (d *Driver) Snapshot() Snapshot {
	bounds := d.canvas.Target.Bounds()
	shapes := make([]Ellipse, len(d.shapes))
	copy(shapes, d.shapes)
	return Snapshot{
		Width:        bounds.Dx(),
		Height:       bounds.Dy(),
		MaxShapes:    d.maxShapes,
		FidelityMode: d.fidelityMode,
		Shapes:       shapes,
	}
}

// Resume reconstructs a Driver from a snapshot's committed shape list,
// replaying each shape onto a fresh white composite via the Canvas
// model's compositor. This is O(committed shapes * average shape area),
// not O(1): the composite buffer itself is never persisted, trading
// resume cost for smaller checkpoint files.
func Resume(target *image.NRGBA, snapshot Snapshot, rng *rand.Rand) (*Driver, error) {
	bounds := target.Bounds()
	if bounds.Dx() != snapshot.Width || bounds.Dy() != snapshot.Height {
		return nil, fmt.Errorf("resume: target dimensions %dx%d do not match snapshot %dx%d",
			bounds.Dx(), bounds.Dy(), snapshot.Width, snapshot.Height)
	}
	if len(snapshot.Shapes) > snapshot.MaxShapes {
		return nil, fmt.Errorf("resume: snapshot has %d committed shapes, exceeds max_shapes %d",
			len(snapshot.Shapes), snapshot.MaxShapes)
	}

	d := NewDriver(target, snapshot.MaxShapes, snapshot.FidelityMode, rng)
	for _, shape := range snapshot.Shapes {
		d.canvas.Commit(shape)
		d.shapes = append(d.shapes, shape)
	}
	return d, nil
}
