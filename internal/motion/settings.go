package motion

import (
	"fmt"
	"math"
	"strings"
)

// Mode selects how the reference device's motion is smoothed.
type Mode int

// Compensation modes.
const (
	ModeDisabled Mode = iota
	ModeMovingAverage
	ModeKalman
)

// String implements fmt.Stringer.
func (m Mode) String() string {
	switch m {
	case ModeDisabled:
		return "disabled"
	case ModeMovingAverage:
		return "moving_average"
	case ModeKalman:
		return "kalman"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

// ParseMode converts a mode name into a Mode.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "disabled", "off", "":
		return ModeDisabled, nil
	case "moving_average", "movingaverage", "average":
		return ModeMovingAverage, nil
	case "kalman":
		return ModeKalman, nil
	default:
		return ModeDisabled, fmt.Errorf("%w: %q", ErrInvalidMode, s)
	}
}

// State is the engine's lifecycle state.
type State int

// Engine states.
const (
	StateDisabled State = iota
	StateActive
)

// String implements fmt.Stringer.
func (s State) String() string {
	if s == StateActive {
		return "active"
	}
	return "disabled"
}

// Filter parameter limits.
const (
	MinWindow = 1
	MaxWindow = 120

	DefaultWindow           = 3
	DefaultProcessNoise     = 0.1
	DefaultObservationNoise = 0.1
)

// Settings are the user-tunable compensation parameters.
type Settings struct {
	Mode             Mode
	Window           int
	ProcessNoise     float64
	ObservationNoise float64
}

// DefaultSettings returns the settings used before any configuration.
func DefaultSettings() Settings {
	return Settings{
		Mode:             ModeDisabled,
		Window:           DefaultWindow,
		ProcessNoise:     DefaultProcessNoise,
		ObservationNoise: DefaultObservationNoise,
	}
}

// Validate checks every parameter.
func (s Settings) Validate() error {
	if s.Mode < ModeDisabled || s.Mode > ModeKalman {
		return fmt.Errorf("%w: %d", ErrInvalidMode, int(s.Mode))
	}
	if err := validateWindow(s.Window); err != nil {
		return err
	}
	if err := validateNoise("process noise", s.ProcessNoise); err != nil {
		return err
	}
	return validateNoise("observation noise", s.ObservationNoise)
}

func validateWindow(n int) error {
	if n < MinWindow || n > MaxWindow {
		return fmt.Errorf("%w: window %d outside [%d, %d]", ErrInvalidParameter, n, MinWindow, MaxWindow)
	}
	return nil
}

func validateNoise(name string, v float64) error {
	if v <= 0 || math.IsNaN(v) || math.IsInf(v, 0) {
		return fmt.Errorf("%w: %s must be a positive finite variance, got %v", ErrInvalidParameter, name, v)
	}
	return nil
}
