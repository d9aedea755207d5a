package motion

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"gonum.org/v1/gonum/spatial/r3"
)

func TestMovingAverageWindow(t *testing.T) {
	f := newMovingAverage(4, r3.Vec{}, r3.Vec{})

	var got r3.Vec
	for _, x := range []float64{4, 8, 4, 8} {
		got, _ = f.update(r3.Vec{X: x}, 0.01)
	}
	assert.InDelta(t, 6.0, got.X, 1e-12)

	// Oldest sample (4) drops out.
	got, _ = f.update(r3.Vec{X: 12}, 0.01)
	assert.InDelta(t, 8.0, got.X, 1e-12)
}

func TestMovingAverageSeeded(t *testing.T) {
	seed := r3.Vec{Y: 2}
	f := newMovingAverage(5, seed, r3.Vec{})

	v, a := f.estimate()
	assert.Equal(t, seed, v)
	assert.Equal(t, r3.Vec{}, a)

	// One new sample moves the mean by a fifth of the difference.
	v, _ = f.update(r3.Vec{Y: 7}, 0.01)
	assert.InDelta(t, 3.0, v.Y, 1e-12)
}

func TestKalmanConvergesToConstantVelocity(t *testing.T) {
	f := newKalmanFilter(0.01, 0.05, r3.Vec{}, r3.Vec{})

	want := r3.Vec{X: 1.5, Y: -0.5}
	var v r3.Vec
	for i := 0; i < 2000; i++ {
		v, _ = f.update(want, 0.011)
	}
	assert.InDelta(t, want.X, v.X, 1e-3)
	assert.InDelta(t, want.Y, v.Y, 1e-3)
}

func TestKalmanTracksAcceleration(t *testing.T) {
	f := newKalmanFilter(1, 0.001, r3.Vec{}, r3.Vec{})

	const dt = 0.01
	var a r3.Vec
	for i := 0; i < 500; i++ {
		_, a = f.update(r3.Vec{Z: 2 * float64(i) * dt}, dt)
	}
	assert.InDelta(t, 2.0, a.Z, 0.05)
}

func TestKalmanSmoothsNoise(t *testing.T) {
	f := newKalmanFilter(0.001, 1, r3.Vec{X: 1}, r3.Vec{})

	// Alternating +-0.5 noise around 1 m/s.
	var v r3.Vec
	for i := 0; i < 200; i++ {
		noise := 0.5
		if i%2 == 1 {
			noise = -0.5
		}
		v, _ = f.update(r3.Vec{X: 1 + noise}, 0.01)
	}
	assert.InDelta(t, 1.0, v.X, 0.1)
}

func TestNewFilterDisabled(t *testing.T) {
	assert.Nil(t, newFilter(Settings{Mode: ModeDisabled, Window: 3}, r3.Vec{}, r3.Vec{}))
}
