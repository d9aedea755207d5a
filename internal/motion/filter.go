package motion

import (
	"gonum.org/v1/gonum/spatial/r3"
)

// velocityFilter smooths the reference device's world velocity and derives
// an acceleration estimate.
type velocityFilter interface {
	update(v r3.Vec, dt float64) (vel, acc r3.Vec)
	estimate() (vel, acc r3.Vec)
}

// newFilter builds the filter for s.Mode seeded with a previous estimate, so
// switching modes continues from where the old filter left off.
func newFilter(s Settings, vel, acc r3.Vec) velocityFilter {
	switch s.Mode {
	case ModeKalman:
		return newKalmanFilter(s.ProcessNoise, s.ObservationNoise, vel, acc)
	case ModeMovingAverage:
		return newMovingAverage(s.Window, vel, acc)
	default:
		return nil
	}
}

// movingAverage is a bounded moving average over the last window samples.
type movingAverage struct {
	samples []r3.Vec
	next    int
	sum     r3.Vec
	mean    r3.Vec
	acc     r3.Vec
}

// newMovingAverage returns a filter whose window is pre-filled with seed.
func newMovingAverage(window int, seed, acc r3.Vec) *movingAverage {
	if window < MinWindow {
		window = MinWindow
	}
	f := &movingAverage{samples: make([]r3.Vec, window), mean: seed, acc: acc}
	for i := range f.samples {
		f.samples[i] = seed
	}
	f.sum = r3.Scale(float64(window), seed)
	return f
}

func (f *movingAverage) update(v r3.Vec, dt float64) (r3.Vec, r3.Vec) {
	f.sum = r3.Add(r3.Sub(f.sum, f.samples[f.next]), v)
	f.samples[f.next] = v
	f.next = (f.next + 1) % len(f.samples)

	mean := r3.Scale(1/float64(len(f.samples)), f.sum)
	if dt > 0 {
		f.acc = r3.Scale(1/dt, r3.Sub(mean, f.mean))
	}
	f.mean = mean
	return f.mean, f.acc
}

func (f *movingAverage) estimate() (r3.Vec, r3.Vec) {
	return f.mean, f.acc
}

// kalmanAxis is a constant-acceleration filter over one axis with state
// [velocity, acceleration] observing velocity.
type kalmanAxis struct {
	v, a float64
	p    [4]float64 // row-major 2x2 covariance
}

func (k *kalmanAxis) predict(dt, q float64) {
	// x' = F x with F = [1 dt; 0 1]
	k.v += k.a * dt

	// P' = F P F^T + Q
	p00, p01, p10, p11 := k.p[0], k.p[1], k.p[2], k.p[3]
	k.p[0] = p00 + dt*(p10+p01) + dt*dt*p11 + q*dt
	k.p[1] = p01 + dt*p11
	k.p[2] = p10 + dt*p11
	k.p[3] = p11 + q*dt
}

func (k *kalmanAxis) correct(z, r float64) {
	y := z - k.v
	s := k.p[0] + r
	if s <= 0 {
		return
	}
	k0 := k.p[0] / s
	k1 := k.p[2] / s

	k.v += k0 * y
	k.a += k1 * y

	p00, p01 := k.p[0], k.p[1]
	k.p[0] = (1 - k0) * p00
	k.p[1] = (1 - k0) * p01
	k.p[2] -= k1 * p00
	k.p[3] -= k1 * p01
}

// kalmanFilter runs one kalmanAxis per world axis.
type kalmanFilter struct {
	processNoise     float64
	observationNoise float64
	axes             [3]kalmanAxis
}

func newKalmanFilter(processNoise, observationNoise float64, vel, acc r3.Vec) *kalmanFilter {
	f := &kalmanFilter{processNoise: processNoise, observationNoise: observationNoise}
	seedV := [3]float64{vel.X, vel.Y, vel.Z}
	seedA := [3]float64{acc.X, acc.Y, acc.Z}
	for i := range f.axes {
		f.axes[i] = kalmanAxis{
			v: seedV[i],
			a: seedA[i],
			p: [4]float64{observationNoise, 0, 0, observationNoise},
		}
	}
	return f
}

func (f *kalmanFilter) setNoise(processNoise, observationNoise float64) {
	f.processNoise = processNoise
	f.observationNoise = observationNoise
}

func (f *kalmanFilter) update(v r3.Vec, dt float64) (r3.Vec, r3.Vec) {
	z := [3]float64{v.X, v.Y, v.Z}
	for i := range f.axes {
		f.axes[i].predict(dt, f.processNoise)
		f.axes[i].correct(z[i], f.observationNoise)
	}
	return f.estimate()
}

func (f *kalmanFilter) estimate() (r3.Vec, r3.Vec) {
	return r3.Vec{X: f.axes[0].v, Y: f.axes[1].v, Z: f.axes[2].v},
		r3.Vec{X: f.axes[0].a, Y: f.axes[1].a, Z: f.axes[2].a}
}
