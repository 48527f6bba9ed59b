package fit

import (
	"math/rand"
	"testing"
)

func TestPickHighErrorSeedLocatesHighErrorRegion(t *testing.T) {
	target := whiteImage(20, 20)
	for y := 0; y < 20; y++ {
		for x := 0; x < 20; x++ {
			i := target.PixOffset(x, y)
			if x >= 15 {
				target.Pix[i+0], target.Pix[i+1], target.Pix[i+2] = 0, 0, 0
			}
		}
	}
	c := NewCanvas(target)
	rng := rand.New(rand.NewSource(1))

	hits := 0
	for i := 0; i < 50; i++ {
		s := PickHighErrorSeed(rng, c, 30.0)
		if s.X >= 15 {
			hits++
		}
	}
	if hits == 0 {
		t.Fatalf("PickHighErrorSeed never landed in the high-error region across 50 draws")
	}
}

func TestPickHighErrorSeedRespectsRadiusCap(t *testing.T) {
	target := whiteImage(10, 10)
	c := NewCanvas(target)
	rng := rand.New(rand.NewSource(2))

	for i := 0; i < 100; i++ {
		s := PickHighErrorSeed(rng, c, 10.0)
		if s.RX < 1 || s.RX >= 10 || s.RY < 1 || s.RY >= 10 {
			t.Fatalf("seed radius out of expected [1,10) range: rx=%f ry=%f", s.RX, s.RY)
		}
	}
}
