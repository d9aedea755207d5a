package motion

import (
	"fmt"
	"sync"
	"time"

	"gonum.org/v1/gonum/num/quat"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/nerrad567/inputemu-core/internal/host"
)

// Frame timing bounds used when deriving dt from the clock.
const (
	nominalFramePeriod = time.Second / 93
	maxFrameDt         = 100 * time.Millisecond
)

// Logger defines the logging interface used by the Engine.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Delta is the compensation transform for the current frame: world poses are
// mapped through Rotation and Translation, and the reference device's
// filtered motion is removed from velocities and accelerations.
type Delta struct {
	Rotation     quat.Number
	Translation  r3.Vec
	Velocity     r3.Vec
	Acceleration r3.Vec
}

// Status is a snapshot of the engine.
type Status struct {
	State          State
	Settings       Settings
	ReferenceIndex uint32
	ZeroCaptured   bool
	Delta          Delta
	Frames         uint64
}

// Engine re-bases tracked poses onto a moving reference device.
//
// Configuration calls and the per-frame step serialise on one mutex. The
// engine never calls into the device registry.
type Engine struct {
	mu       sync.Mutex
	settings Settings
	state    State
	refIndex uint32

	latest      host.DriverPose
	latestFresh bool

	zeroCaptured bool
	zeroPos      r3.Vec
	zeroRot      quat.Number

	filter     velocityFilter
	delta      Delta
	deltaValid bool
	lastStep   time.Time
	frames     uint64

	clock          func() time.Time
	telemetry      Telemetry
	telemetryEvery uint64
	listener       func(Status)
	logger         Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock overrides the time source used to derive filter dt.
func WithClock(clock func() time.Time) Option {
	return func(e *Engine) { e.clock = clock }
}

// WithSettings sets the initial settings. Invalid settings are ignored.
func WithSettings(s Settings) Option {
	return func(e *Engine) {
		if s.Validate() == nil {
			s.Mode = e.settings.Mode
			e.settings = s
		}
	}
}

// WithTelemetry samples the compensation delta every n active frames.
func WithTelemetry(t Telemetry, every int) Option {
	return func(e *Engine) {
		if every < 1 {
			every = 1
		}
		e.telemetry = t
		e.telemetryEvery = uint64(every)
	}
}

// NewEngine creates a disabled engine.
//
// Parameters:
//   - opts: Optional settings, clock and telemetry
//
// Returns:
//   - *Engine: Disabled engine; Apply is the identity until Enable
func NewEngine(opts ...Option) *Engine {
	e := &Engine{
		settings: DefaultSettings(),
		refIndex: host.IndexInvalid,
		zeroRot:  host.Identity(),
		clock:    time.Now,
		logger:   noopLogger{},
	}
	e.delta = identityDelta()
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func identityDelta() Delta {
	return Delta{Rotation: host.Identity()}
}

// SetLogger sets the logger for the engine.
func (e *Engine) SetLogger(logger Logger) {
	e.mu.Lock()
	e.logger = logger
	e.mu.Unlock()
}

// SetStateListener registers fn to be called after every state transition.
// fn runs outside the engine lock.
func (e *Engine) SetStateListener(fn func(Status)) {
	e.mu.Lock()
	e.listener = fn
	e.mu.Unlock()
}

// Enable makes the device at index the reference and starts compensating
// with mode. The zero point is captured from the next reference pose.
func (e *Engine) Enable(index uint32, mode Mode) error {
	if index >= host.MaxTrackedDeviceCount {
		return fmt.Errorf("%w: index %d", ErrNoReference, index)
	}
	if mode == ModeDisabled {
		e.Disable()
		return nil
	}
	if mode != ModeMovingAverage && mode != ModeKalman {
		return fmt.Errorf("%w: %d", ErrInvalidMode, int(mode))
	}

	e.mu.Lock()
	e.settings.Mode = mode
	e.state = StateActive
	e.refIndex = index
	e.zeroCaptured = false
	e.latestFresh = false
	e.deltaValid = false
	e.delta = identityDelta()
	e.filter = newFilter(e.settings, r3.Vec{}, r3.Vec{})
	e.lastStep = time.Time{}
	e.logger.Info("motion compensation enabled", "reference_index", index, "mode", mode.String())
	notify := e.snapshotForListener()
	e.mu.Unlock()

	notify()
	return nil
}

// Disable stops compensation. Subsequent Apply calls are identity.
func (e *Engine) Disable() {
	e.mu.Lock()
	changed := e.disableLocked("requested")
	notify := e.snapshotForListener()
	e.mu.Unlock()

	if changed {
		notify()
	}
}

func (e *Engine) disableLocked(reason string) bool {
	if e.state == StateDisabled && e.settings.Mode == ModeDisabled {
		return false
	}
	wasActive := e.state == StateActive
	e.state = StateDisabled
	e.settings.Mode = ModeDisabled
	e.refIndex = host.IndexInvalid
	e.zeroCaptured = false
	e.latestFresh = false
	e.deltaValid = false
	e.delta = identityDelta()
	e.filter = nil
	if wasActive {
		e.logger.Info("motion compensation disabled", "reason", reason)
	}
	return true
}

// SetMode switches the smoothing strategy. While active, the new filter is
// seeded with the current estimate so the output stays continuous.
// ModeDisabled disables the engine.
func (e *Engine) SetMode(mode Mode) error {
	if mode == ModeDisabled {
		e.Disable()
		return nil
	}
	if mode != ModeMovingAverage && mode != ModeKalman {
		return fmt.Errorf("%w: %d", ErrInvalidMode, int(mode))
	}

	e.mu.Lock()
	if e.settings.Mode == mode {
		e.mu.Unlock()
		return nil
	}
	e.settings.Mode = mode
	if e.state == StateActive {
		e.reseedLocked()
	}
	notify := e.snapshotForListener()
	e.mu.Unlock()

	notify()
	return nil
}

// SetWindow sets the moving-average window length.
func (e *Engine) SetWindow(n int) error {
	if err := validateWindow(n); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.settings.Window = n
	if e.state == StateActive && e.settings.Mode == ModeMovingAverage {
		e.reseedLocked()
	}
	return nil
}

// SetProcessNoise sets the Kalman process-noise variance.
func (e *Engine) SetProcessNoise(v float64) error {
	if err := validateNoise("process noise", v); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.settings.ProcessNoise = v
	if k, ok := e.filter.(*kalmanFilter); ok {
		k.setNoise(e.settings.ProcessNoise, e.settings.ObservationNoise)
	}
	return nil
}

// SetObservationNoise sets the Kalman observation-noise variance.
func (e *Engine) SetObservationNoise(v float64) error {
	if err := validateNoise("observation noise", v); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.settings.ObservationNoise = v
	if k, ok := e.filter.(*kalmanFilter); ok {
		k.setNoise(e.settings.ProcessNoise, e.settings.ObservationNoise)
	}
	return nil
}

// ApplySettings replaces every filter parameter except the mode, which only
// changes through Enable, SetMode and Disable.
func (e *Engine) ApplySettings(s Settings) error {
	s.Mode = ModeDisabled
	if err := s.Validate(); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	s.Mode = e.settings.Mode
	e.settings = s
	if e.state == StateActive {
		e.reseedLocked()
	}
	return nil
}

func (e *Engine) reseedLocked() {
	var vel, acc r3.Vec
	if e.filter != nil {
		vel, acc = e.filter.estimate()
	}
	e.filter = newFilter(e.settings, vel, acc)
}

// ResetZero recaptures the zero point from the next reference pose.
func (e *Engine) ResetZero() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state != StateActive {
		return ErrNoReference
	}
	e.zeroCaptured = false
	e.deltaValid = false
	e.delta = identityDelta()
	return nil
}

// Settings returns the current settings.
func (e *Engine) Settings() Settings {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.settings
}

// Status returns a snapshot of the engine.
func (e *Engine) Status() Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.statusLocked()
}

func (e *Engine) statusLocked() Status {
	return Status{
		State:          e.state,
		Settings:       e.settings,
		ReferenceIndex: e.refIndex,
		ZeroCaptured:   e.zeroCaptured,
		Delta:          e.delta,
		Frames:         e.frames,
	}
}

func (e *Engine) snapshotForListener() func() {
	fn := e.listener
	if fn == nil {
		return func() {}
	}
	st := e.statusLocked()
	return func() { fn(st) }
}

// ReferenceIndex returns the reference device index while active.
func (e *Engine) ReferenceIndex() (uint32, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state != StateActive {
		return host.IndexInvalid, false
	}
	return e.refIndex, true
}

// RecordReferencePose stores the raw pose of the reference device for the
// next frame step. Poses from other indices are ignored.
func (e *Engine) RecordReferencePose(index uint32, pose *host.DriverPose) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state != StateActive || index != e.refIndex || !pose.PoseIsValid {
		return
	}
	e.latest = *pose
	e.latestFresh = true
}

// RunFrame is the per-frame step. referenceValid reports whether the device
// at refIndex is still known and valid. The engine disables itself only when
// refIndex is still its reference; a reference chosen after the caller's
// check is kept.
//
// Returns true when the reference was dropped.
func (e *Engine) RunFrame(refIndex uint32, referenceValid bool) bool {
	e.mu.Lock()
	if e.state != StateActive {
		e.mu.Unlock()
		return false
	}
	if !referenceValid && refIndex == e.refIndex {
		e.logger.Warn("motion compensation reference lost", "reference_index", e.refIndex)
		e.disableLocked("reference lost")
		notify := e.snapshotForListener()
		e.mu.Unlock()
		notify()
		return true
	}

	e.frames++
	now := e.clock()
	if e.latestFresh {
		e.stepLocked(now)
		e.latestFresh = false
	}

	var sample *Sample
	if e.telemetry != nil && e.deltaValid && e.frames%e.telemetryEvery == 0 {
		sample = &Sample{
			Time:           now,
			ReferenceIndex: e.refIndex,
			Mode:           e.settings.Mode,
			Delta:          e.delta,
		}
	}
	telemetry := e.telemetry
	e.mu.Unlock()

	if sample != nil {
		telemetry.WriteMotionSample(*sample)
	}
	return false
}

func (e *Engine) stepLocked(now time.Time) {
	pos := e.latest.WorldPosition()
	rot := normalize(e.latest.WorldRotation())

	if !e.zeroCaptured {
		e.zeroPos = pos
		e.zeroRot = rot
		e.zeroCaptured = true
		e.logger.Debug("motion compensation zero captured", "reference_index", e.refIndex)
	}

	dt := nominalFramePeriod
	if !e.lastStep.IsZero() {
		dt = now.Sub(e.lastStep)
		if dt <= 0 {
			dt = nominalFramePeriod
		}
		if dt > maxFrameDt {
			dt = maxFrameDt
		}
	}
	e.lastStep = now

	vel, acc := e.latest.WorldVelocity(), r3.Vec{}
	if e.filter != nil {
		vel, acc = e.filter.update(vel, dt.Seconds())
	}

	r := normalize(quat.Mul(e.zeroRot, quat.Conj(rot)))
	e.delta = Delta{
		Rotation:     r,
		Translation:  r3.Sub(e.zeroPos, r3.Rotation(r).Rotate(pos)),
		Velocity:     vel,
		Acceleration: acc,
	}
	e.deltaValid = true
}

// Apply re-bases a non-reference pose in place. It is the identity while the
// engine is disabled or before the first reference sample.
func (e *Engine) Apply(pose *host.DriverPose) {
	e.mu.Lock()
	if e.state != StateActive || !e.deltaValid {
		e.mu.Unlock()
		return
	}
	d := e.delta
	e.mu.Unlock()

	applyDelta(d, pose)
}

func applyDelta(d Delta, pose *host.DriverPose) {
	rot := r3.Rotation(d.Rotation)
	qw := pose.WorldFromDriverRotation
	newQW := normalize(quat.Mul(d.Rotation, qw))
	back := r3.Rotation(quat.Conj(newQW))

	worldVel := r3.Rotation(qw).Rotate(pose.Velocity)
	worldAcc := r3.Rotation(qw).Rotate(pose.Acceleration)

	pose.WorldFromDriverRotation = newQW
	pose.WorldFromDriverTranslation = r3.Add(rot.Rotate(pose.WorldFromDriverTranslation), d.Translation)
	pose.Velocity = back.Rotate(rot.Rotate(r3.Sub(worldVel, d.Velocity)))
	pose.Acceleration = back.Rotate(rot.Rotate(r3.Sub(worldAcc, d.Acceleration)))
}

func normalize(q quat.Number) quat.Number {
	n := quat.Abs(q)
	if n == 0 {
		return host.Identity()
	}
	return quat.Scale(1/n, q)
}
