// Package waveform computes per-actuator deflection angles for the periodic
// gait patterns of an undulating-fin vehicle.
package waveform

import (
	"fmt"
	"math"
)

// Kind selects which angle function drives the fin bank.
type Kind int

// Supported waveform kinds.
const (
	Sine Kind = iota
	Flat
	Standing
	SineAndFlat
)

// AngleFunc computes the deflection angle in degrees for the actuator at
// index (of count along the bank), given an amplitude in degrees, a
// wavelength, and a time t in the same milliseconds-equivalent units.
type AngleFunc func(amplitude, wavelength, t float64, index, count int) float64

// kindTable maps each kind to its config name and angle function.
var kindTable = []struct {
	kind Kind
	name string
	fn   AngleFunc
}{
	{Sine, "sine", sineAngle},
	{Flat, "flat", flatAngle},
	{Standing, "standing", standingAngle},
	{SineAndFlat, "sine_and_flat", sineAndFlatAngle},
}

// String returns the config/command name of the kind.
func (k Kind) String() string {
	for _, e := range kindTable {
		if e.kind == k {
			return e.name
		}
	}
	return fmt.Sprintf("unknown(%d)", int(k))
}

// Func returns the angle function for the kind, or nil when the kind is
// not recognized. Callers treat a nil function as "hold the previous
// angle" — a benign default, not an error.
func (k Kind) Func() AngleFunc {
	for _, e := range kindTable {
		if e.kind == k {
			return e.fn
		}
	}
	return nil
}

// ParseKind resolves a config or command name to a Kind.
func ParseKind(name string) (Kind, error) {
	for _, e := range kindTable {
		if e.name == name {
			return e.kind, nil
		}
	}
	return 0, fmt.Errorf("unknown waveform %q", name)
}

// sineAngle is a traveling wave: every actuator runs the same sinusoid
// shifted by a fixed fraction of the wavelength, so the crest moves along
// the bank. Amplitude 0 gives angle 0 at every index and time.
func sineAngle(amplitude, wavelength, t float64, index, count int) float64 {
	return amplitude * math.Sin(2*math.Pi*(t/wavelength-float64(index)/float64(count)))
}

// flatAngle paddles the whole bank in unison; the result depends only on
// amplitude and t, never on the actuator index.
func flatAngle(amplitude, wavelength, t float64, index, count int) float64 {
	return amplitude * math.Sin(2*math.Pi*t/wavelength)
}

// standingAngle is a standing wave: a positional envelope fixed along the
// bank oscillating with a phase common to all actuators, so the nodes
// never move.
func standingAngle(amplitude, wavelength, t float64, index, count int) float64 {
	return amplitude * math.Sin(2*math.Pi*float64(index)/float64(count)) * math.Cos(2*math.Pi*t/wavelength)
}

// sineAndFlatAngle blends half flat bias with half traveling wave.
func sineAndFlatAngle(amplitude, wavelength, t float64, index, count int) float64 {
	return 0.5*flatAngle(amplitude, wavelength, t, index, count) +
		0.5*sineAngle(amplitude, wavelength, t, index, count)
}
