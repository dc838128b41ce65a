// Package servo provides the Viam servo component for a single Metasepia fin.
package servo

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.viam.com/rdk/components/servo"
	"go.viam.com/rdk/logging"
	"go.viam.com/rdk/resource"
	goutils "go.viam.com/utils"

	"github.com/Peppe-Grasso/metasepia-brain/findrive"
)

// Model is the Viam model for a single fin actuator.
var Model = resource.NewModel("peppe", "metasepia", "fin-servo")

func init() {
	resource.RegisterComponent(servo.API, Model, resource.Registration[servo.Servo, *Config]{
		Constructor: NewFinServo,
	})
}

const defaultStepMs = 50

// Config is the configuration for a fin servo.
type Config struct {
	Controller      string `json:"controller,omitempty"`
	I2CBus          string `json:"i2c_bus,omitempty"`
	I2CAddr         int    `json:"i2c_addr,omitempty"`
	SerialPort      string `json:"serial_port,omitempty"`
	CalibrationFile string `json:"calibration_file,omitempty"`

	Side   string `json:"side"`  // port or starboard
	Index  int    `json:"index"` // fin position along the bank
	StepMs int    `json:"step_ms,omitempty"`
}

// Validate validates the config.
func (c *Config) Validate(path string) ([]string, []string, error) {
	switch c.Controller {
	case "", "pca9685":
	case "maestro":
		if c.SerialPort == "" {
			return nil, nil, resource.NewConfigValidationFieldRequiredError(path, "serial_port")
		}
	default:
		return nil, nil, errors.Errorf("unknown controller %q", c.Controller)
	}

	if c.Side == "" {
		return nil, nil, resource.NewConfigValidationFieldRequiredError(path, "side")
	}
	side, err := findrive.ParseSide(c.Side)
	if err != nil {
		return nil, nil, err
	}
	if side == findrive.Both {
		return nil, nil, errors.New("side must address a single bank, not both")
	}

	if c.Index < 0 || c.Index >= findrive.NumFins {
		return nil, nil, errors.Errorf("index %d out of range [0, %d)", c.Index, findrive.NumFins)
	}

	return nil, nil, nil
}

// finServo implements the servo.Servo interface for one fin, stepping it
// through the shared driver's slew limiter.
type finServo struct {
	resource.Named
	resource.AlwaysRebuild

	logger logging.Logger
	driver *findrive.Driver
	side   findrive.Side
	index  int
	step   time.Duration

	mu     sync.Mutex
	moving bool
}

// NewFinServo creates a new fin servo component.
func NewFinServo(ctx context.Context, deps resource.Dependencies, conf resource.Config, logger logging.Logger) (servo.Servo, error) {
	config, err := resource.NativeConfig[*Config](conf)
	if err != nil {
		return nil, err
	}

	side, err := findrive.ParseSide(config.Side)
	if err != nil {
		return nil, err
	}

	s := &finServo{
		Named:  conf.ResourceName().AsNamed(),
		logger: logger,
		side:   side,
		index:  config.Index,
		step:   time.Duration(config.StepMs) * time.Millisecond,
	}
	if s.step == 0 {
		s.step = defaultStepMs * time.Millisecond
	}

	driver, err := findrive.GetDriver(findrive.Options{
		Controller:      config.Controller,
		I2CBus:          config.I2CBus,
		I2CAddr:         config.I2CAddr,
		SerialPort:      config.SerialPort,
		CalibrationFile: config.CalibrationFile,
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to initialize fin driver")
	}
	s.driver = driver

	logger.Infof("Fin servo initialized: %s fin %d", s.side, s.index)
	return s, nil
}

// Move drives the fin to the requested angle. Viam servo angles are
// unsigned 0-180 with 90 at center; fin angles are signed degrees about
// the trimmed neutral. The approach is slew-limited: one CommandAngle
// step per cycle until the commanded angle stops changing.
func (s *finServo) Move(ctx context.Context, angleDeg uint32, extra map[string]interface{}) error {
	if angleDeg > 180 {
		return errors.Errorf("angle %d out of range [0, 180]", angleDeg)
	}
	target := float64(angleDeg) - 90.0

	s.mu.Lock()
	s.moving = true
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.moving = false
		s.mu.Unlock()
	}()

	prev := math.Inf(1)
	for {
		got, err := s.driver.CommandAngle(s.side, s.index, target)
		if err != nil {
			return err
		}
		if got == prev {
			return nil
		}
		prev = got

		if !goutils.SelectContextOrWait(ctx, s.step) {
			return ctx.Err()
		}
	}
}

// Position reports the last commanded angle in Viam's unsigned 0-180
// range. There is no position feedback on the vehicle.
func (s *finServo) Position(ctx context.Context, extra map[string]interface{}) (uint32, error) {
	angle, err := s.driver.Angle(s.side, s.index)
	if err != nil {
		return 0, err
	}

	pos := math.Round(angle + 90.0)
	if pos < 0 {
		pos = 0
	}
	if pos > 180 {
		pos = 180
	}
	return uint32(pos), nil
}

// Stop freezes the fin by re-commanding its current angle.
func (s *finServo) Stop(ctx context.Context, extra map[string]interface{}) error {
	s.mu.Lock()
	s.moving = false
	s.mu.Unlock()

	return s.driver.Hold(s.side, s.index)
}

// IsMoving returns whether a Move is in progress.
func (s *finServo) IsMoving(ctx context.Context) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.moving, nil
}

// DoCommand handles custom commands.
func (s *finServo) DoCommand(ctx context.Context, cmd map[string]interface{}) (map[string]interface{}, error) {
	result := make(map[string]interface{})

	if _, ok := cmd["get_angle"]; ok {
		angle, err := s.driver.Angle(s.side, s.index)
		if err != nil {
			return nil, err
		}
		result["angle"] = angle
	}

	if _, ok := cmd["center"]; ok {
		if err := s.Move(ctx, 90, nil); err != nil {
			return nil, err
		}
		result["center"] = "done"
	}

	return result, nil
}

// Close releases the shared driver.
func (s *finServo) Close(ctx context.Context) error {
	if s.driver != nil {
		findrive.ReleaseDriver()
		s.driver = nil
	}

	s.logger.Infof("Fin servo closed: %s fin %d", s.side, s.index)
	return nil
}
