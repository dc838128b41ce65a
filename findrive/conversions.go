package findrive

import "math"

// AngleToPulse linearly maps an angle in [-90, 90] degrees onto the
// [min, max] pulse tick range. Angles outside the range extrapolate;
// direction is preserved.
func AngleToPulse(angle float64, min, max int) int {
	return min + int(math.Round((angle+90.0)/180.0*float64(max-min)))
}

// clampTime bounds a phase increment to [-MaxTimeInc, MaxTimeInc].
func clampTime(inc float64) float64 {
	if inc > MaxTimeInc {
		return MaxTimeInc
	}
	if inc < -MaxTimeInc {
		return -MaxTimeInc
	}
	return inc
}

// clampDelta bounds a target angle to within MaxAngleDelta of the
// previously commanded angle.
func clampDelta(target, last float64) float64 {
	if target > last+MaxAngleDelta {
		return last + MaxAngleDelta
	}
	if target < last-MaxAngleDelta {
		return last - MaxAngleDelta
	}
	return target
}
