// Package findrive drives the two fin banks of the Metasepia vehicle:
// it turns motion commands into per-servo pulse writes through slew-limited,
// phase-accumulated waveforms.
package findrive

import (
	"fmt"
	"time"
)

// NumFins is the number of servo-driven fin spokes per side.
const NumFins = 5

// NumChannels is the total channel count on the PWM controller
// (port bank first, then starboard).
const NumChannels = 2 * NumFins

// Motion limits and blending constants.
const (
	// MaxAngleDelta bounds how far a commanded angle may move from the
	// previous command in a single write, in degrees.
	MaxAngleDelta = 15.0

	// MaxTimeInc bounds the per-cycle advance of a phase accumulator,
	// in milliseconds-equivalent units.
	MaxTimeInc = 50.0

	// Deadband is the surge/yaw magnitude below which a command is
	// treated as pure sway.
	Deadband = 0.05

	// DriveWavelength is the waveform wavelength used for locomotion.
	DriveWavelength = 480.0
)

// Homing sequence constants. The bank is walked to neutral over a fixed
// number of zero-amplitude steps so the slew limiter eases every spoke in
// from whatever pose it powered up at.
const (
	HomingSteps      = 30
	HomingWavelength = 240.0
	HomingStepDelay  = 100 * time.Millisecond
)

// Default pulse range in 12-bit controller ticks at 50 Hz. These bracket
// the usual 1-2 ms hobby servo band; per-vehicle values come from the
// calibration file.
const (
	DefaultPulseMin = 150
	DefaultPulseMax = 600
)

// ServoFreqHz is the PWM update rate analog servos expect.
const ServoFreqHz = 50

// Side selects which fin bank an operation applies to.
type Side int

// Fin bank selectors.
const (
	Port Side = iota
	Starboard
	Both
)

// String returns the config/command name of the side.
func (s Side) String() string {
	switch s {
	case Port:
		return "port"
	case Starboard:
		return "starboard"
	case Both:
		return "both"
	}
	return fmt.Sprintf("unknown(%d)", int(s))
}

// ParseSide resolves a config or command name to a Side.
func ParseSide(name string) (Side, error) {
	switch name {
	case "port":
		return Port, nil
	case "starboard":
		return Starboard, nil
	case "both":
		return Both, nil
	}
	return 0, fmt.Errorf("unknown side %q", name)
}

// PortChannel returns the controller channel for a port-side fin.
func PortChannel(index int) int {
	return index
}

// StarboardChannel returns the controller channel for a starboard-side fin.
func StarboardChannel(index int) int {
	return index + NumFins
}
