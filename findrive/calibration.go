package findrive

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Calibration holds the per-vehicle mechanical trims and pulse range.
// Trims are the neutral offset of each fin in degrees; they are read-only
// once the driver is constructed.
type Calibration struct {
	NeutralPort      []float64 `yaml:"neutral_port"`
	NeutralStarboard []float64 `yaml:"neutral_starboard"`
	PulseMin         int       `yaml:"pulse_min"`
	PulseMax         int       `yaml:"pulse_max"`
}

// DefaultCalibration returns zero trims and the default pulse range.
func DefaultCalibration() Calibration {
	return Calibration{
		NeutralPort:      make([]float64, NumFins),
		NeutralStarboard: make([]float64, NumFins),
		PulseMin:         DefaultPulseMin,
		PulseMax:         DefaultPulseMax,
	}
}

// LoadCalibration reads a YAML calibration file. Absent fields take their
// defaults; malformed files and wrong-length trim tables are errors.
func LoadCalibration(path string) (Calibration, error) {
	c := DefaultCalibration()

	data, err := os.ReadFile(path)
	if err != nil {
		return c, fmt.Errorf("failed to read calibration file %s: %w", path, err)
	}

	var in Calibration
	if err := yaml.Unmarshal(data, &in); err != nil {
		return c, fmt.Errorf("failed to parse calibration file %s: %w", path, err)
	}

	if in.NeutralPort != nil {
		c.NeutralPort = in.NeutralPort
	}
	if in.NeutralStarboard != nil {
		c.NeutralStarboard = in.NeutralStarboard
	}
	if in.PulseMin != 0 {
		c.PulseMin = in.PulseMin
	}
	if in.PulseMax != 0 {
		c.PulseMax = in.PulseMax
	}

	if err := c.validate(); err != nil {
		return c, fmt.Errorf("invalid calibration file %s: %w", path, err)
	}
	return c, nil
}

// validate checks the calibration against the fixed fin count.
func (c *Calibration) validate() error {
	if len(c.NeutralPort) != NumFins {
		return fmt.Errorf("neutral_port has %d entries, expected %d", len(c.NeutralPort), NumFins)
	}
	if len(c.NeutralStarboard) != NumFins {
		return fmt.Errorf("neutral_starboard has %d entries, expected %d", len(c.NeutralStarboard), NumFins)
	}
	if c.PulseMin >= c.PulseMax {
		return fmt.Errorf("pulse range [%d, %d] is inverted or empty", c.PulseMin, c.PulseMax)
	}
	return nil
}
