// Package base provides the Viam base component for the Metasepia fin vehicle.
package base

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"go.viam.com/rdk/components/base"
	"go.viam.com/rdk/logging"
	"go.viam.com/rdk/resource"
	"go.viam.com/rdk/spatialmath"
	goutils "go.viam.com/utils"

	"github.com/Peppe-Grasso/metasepia-brain/findrive"
	"github.com/Peppe-Grasso/metasepia-brain/waveform"
)

// Model is the Viam model for the fin-propelled base.
var Model = resource.NewModel("peppe", "metasepia", "fin-base")

func init() {
	resource.RegisterComponent(base.API, Model, resource.Registration[base.Base, *Config]{
		Constructor: NewFinBase,
	})
}

// Defaults for optional config fields.
const (
	defaultAmplitude        = 15.0
	defaultCycleMs          = 50
	defaultWidthMm          = 300.0
	defaultMaxSpeedMmPerSec = 300.0
	defaultMaxSpinDegPerSec = 60.0

	// Hull dimensions for the collision geometry, nose to tail and keel
	// to spine.
	hullLengthMm = 600.0
	hullHeightMm = 150.0
)

// Config is the configuration for the fin base.
type Config struct {
	Controller      string `json:"controller,omitempty"` // pca9685 (default) or maestro
	I2CBus          string `json:"i2c_bus,omitempty"`
	I2CAddr         int    `json:"i2c_addr,omitempty"`
	SerialPort      string `json:"serial_port,omitempty"`
	CalibrationFile string `json:"calibration_file,omitempty"`

	Amplitude    float64 `json:"amplitude,omitempty"` // cruise fin deflection, degrees
	CycleMs      int     `json:"cycle_ms,omitempty"`
	SwayWaveform string  `json:"sway_waveform,omitempty"` // flat (default) or standing
	BlendOnSway  bool    `json:"blend_on_sway,omitempty"`

	WidthMm          float64 `json:"width_mm,omitempty"`
	MaxSpeedMmPerSec float64 `json:"max_speed_mm_per_sec,omitempty"`
	MaxSpinDegPerSec float64 `json:"max_spin_deg_per_sec,omitempty"`
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

	switch c.SwayWaveform {
	case "", "flat", "standing":
	default:
		return nil, nil, errors.Errorf("sway_waveform must be flat or standing, got %q", c.SwayWaveform)
	}

	if c.Amplitude < 0 {
		return nil, nil, errors.New("amplitude must be positive")
	}
	if c.CycleMs < 0 {
		return nil, nil, errors.New("cycle_ms must be positive")
	}

	return nil, nil, nil
}

// finBase implements the base.Base interface for the fin vehicle.
type finBase struct {
	resource.Named
	resource.AlwaysRebuild

	logger logging.Logger
	driver *findrive.Driver

	cyclePeriod      time.Duration
	widthMm          float64
	maxSpeedMmPerSec float64
	maxSpinDegPerSec float64

	mu        sync.Mutex
	amplitude float64
	cmd       findrive.MotionCommand
	phase     findrive.PhaseState
	moving    bool

	cancelCtx               context.Context
	cancel                  func()
	activeBackgroundWorkers sync.WaitGroup
}

// NewFinBase creates a new fin base component.
func NewFinBase(ctx context.Context, deps resource.Dependencies, conf resource.Config, logger logging.Logger) (base.Base, error) {
	config, err := resource.NativeConfig[*Config](conf)
	if err != nil {
		return nil, err
	}

	b := &finBase{
		Named:            conf.ResourceName().AsNamed(),
		logger:           logger,
		amplitude:        config.Amplitude,
		cyclePeriod:      time.Duration(config.CycleMs) * time.Millisecond,
		widthMm:          config.WidthMm,
		maxSpeedMmPerSec: config.MaxSpeedMmPerSec,
		maxSpinDegPerSec: config.MaxSpinDegPerSec,
	}

	// Set defaults
	if b.amplitude == 0 {
		b.amplitude = defaultAmplitude
	}
	if b.cyclePeriod == 0 {
		b.cyclePeriod = defaultCycleMs * time.Millisecond
	}
	if b.widthMm == 0 {
		b.widthMm = defaultWidthMm
	}
	if b.maxSpeedMmPerSec == 0 {
		b.maxSpeedMmPerSec = defaultMaxSpeedMmPerSec
	}
	if b.maxSpinDegPerSec == 0 {
		b.maxSpinDegPerSec = defaultMaxSpinDegPerSec
	}

	logger.Info("Getting fin driver...")
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
	b.driver = driver
	logger.Info("Fin driver acquired")

	if config.SwayWaveform != "" {
		kind, err := waveform.ParseKind(config.SwayWaveform)
		if err != nil {
			findrive.ReleaseDriver()
			return nil, err
		}
		driver.SetSwayWaveform(kind)
	}
	driver.SetBlendOnSway(config.BlendOnSway)

	logger.Info("Homing fin banks...")
	if err := driver.EnsureHomed(ctx); err != nil {
		findrive.ReleaseDriver()
		return nil, errors.Wrap(err, "failed to home fin banks")
	}

	b.cancelCtx, b.cancel = context.WithCancel(context.Background())
	b.activeBackgroundWorkers.Add(1)
	goutils.PanicCapturingGo(func() {
		defer b.activeBackgroundWorkers.Done()
		b.actuationLoop()
	})

	logger.Infof("Fin base initialized: %d fins per side, %.0fms cycle", findrive.NumFins, float64(b.cyclePeriod)/float64(time.Millisecond))
	return b, nil
}

// actuationLoop is the single owner of the phase state. Once per cycle it
// feeds the held motion command through the driver and carries the
// returned phase into the next cycle.
func (b *finBase) actuationLoop() {
	for {
		if !goutils.SelectContextOrWait(b.cancelCtx, b.cyclePeriod) {
			return
		}

		b.mu.Lock()
		if !b.moving {
			b.mu.Unlock()
			continue
		}
		cmd := b.cmd
		phase := b.phase
		b.mu.Unlock()

		next, err := b.driver.DriveFins(cmd, phase)
		if err != nil {
			b.logger.Errorf("drive cycle failed, stopping: %v", err)
			b.mu.Lock()
			b.moving = false
			b.cmd = findrive.MotionCommand{}
			b.mu.Unlock()
			continue
		}

		b.mu.Lock()
		b.phase = next
		b.mu.Unlock()
	}
}

// setCommand installs a motion command for the actuation loop.
func (b *finBase) setCommand(cmd findrive.MotionCommand) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.cmd = cmd
	b.moving = cmd.Surge != 0 || cmd.Sway != 0 || cmd.Yaw != 0
}

// SetPower maps the normalized power vectors onto the fin drive axes:
// linear Y is surge, linear X is sway, angular Z is yaw, angular Y is the
// reserved pitch axis. Zero vectors stop the vehicle.
func (b *finBase) SetPower(ctx context.Context, linear, angular r3.Vector, extra map[string]interface{}) error {
	b.mu.Lock()
	amplitude := b.amplitude
	b.mu.Unlock()

	if val, ok := extra["amplitude"]; ok {
		amp, ok := val.(float64)
		if !ok {
			return errors.New("amplitude must be a number (degrees)")
		}
		amplitude = amp
	}

	b.setCommand(findrive.MotionCommand{
		Surge:     linear.Y,
		Sway:      linear.X,
		Pitch:     angular.Y,
		Yaw:       angular.Z,
		Amplitude: amplitude,
	})
	return nil
}

// MoveStraight runs a timed surge at the requested speed. The vehicle has
// no odometry, so distance is open-loop: power for |distance/speed|
// seconds, then stop.
func (b *finBase) MoveStraight(ctx context.Context, distanceMm int, mmPerSec float64, extra map[string]interface{}) error {
	if mmPerSec == 0 {
		return errors.New("mm_per_sec must be non-zero")
	}

	power := math.Abs(mmPerSec) / b.maxSpeedMmPerSec
	if power > 1 {
		power = 1
	}
	if distanceMm < 0 {
		power = -power
	}

	duration := time.Duration(math.Abs(float64(distanceMm)/mmPerSec) * float64(time.Second))

	b.mu.Lock()
	amplitude := b.amplitude
	b.mu.Unlock()
	b.setCommand(findrive.MotionCommand{Surge: power, Amplitude: amplitude})

	if !goutils.SelectContextOrWait(ctx, duration) {
		b.setCommand(findrive.MotionCommand{})
		return ctx.Err()
	}
	b.setCommand(findrive.MotionCommand{})
	return nil
}

// Spin runs a timed yaw at the requested rate, open-loop like
// MoveStraight.
func (b *finBase) Spin(ctx context.Context, angleDeg, degsPerSec float64, extra map[string]interface{}) error {
	if degsPerSec == 0 {
		return errors.New("degs_per_sec must be non-zero")
	}

	power := math.Abs(degsPerSec) / b.maxSpinDegPerSec
	if power > 1 {
		power = 1
	}
	if angleDeg < 0 {
		power = -power
	}

	duration := time.Duration(math.Abs(angleDeg/degsPerSec) * float64(time.Second))

	b.mu.Lock()
	amplitude := b.amplitude
	b.mu.Unlock()
	b.setCommand(findrive.MotionCommand{Yaw: power, Amplitude: amplitude})

	if !goutils.SelectContextOrWait(ctx, duration) {
		b.setCommand(findrive.MotionCommand{})
		return ctx.Err()
	}
	b.setCommand(findrive.MotionCommand{})
	return nil
}

// SetVelocity is unsupported: there is no feedback from the water to
// close a velocity loop.
func (b *finBase) SetVelocity(ctx context.Context, linear, angular r3.Vector, extra map[string]interface{}) error {
	return errors.New("fin base does not support closed-loop velocity control; use SetPower")
}

// Stop clears the active command. The fins hold their last pose; with a
// fire-and-forget sink there is nothing to actively brake.
func (b *finBase) Stop(ctx context.Context, extra map[string]interface{}) error {
	b.setCommand(findrive.MotionCommand{})
	return nil
}

// IsMoving returns whether a non-zero motion command is active.
func (b *finBase) IsMoving(ctx context.Context) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.moving, nil
}

// Properties returns the drive geometry. Differential fin thrust turns
// the vehicle in place, so the turning radius is zero.
func (b *finBase) Properties(ctx context.Context, extra map[string]interface{}) (base.Properties, error) {
	return base.Properties{
		TurningRadiusMeters: 0,
		WidthMeters:         b.widthMm / 1000.0,
	}, nil
}

// Geometries returns a box approximating the hull.
func (b *finBase) Geometries(ctx context.Context, extra map[string]interface{}) ([]spatialmath.Geometry, error) {
	box, err := spatialmath.NewBox(
		spatialmath.NewZeroPose(),
		r3.Vector{X: b.widthMm, Y: hullLengthMm, Z: hullHeightMm},
		b.Name().ShortName(),
	)
	if err != nil {
		return nil, err
	}
	return []spatialmath.Geometry{box}, nil
}

// DoCommand handles custom commands.
func (b *finBase) DoCommand(ctx context.Context, cmd map[string]interface{}) (map[string]interface{}, error) {
	result := make(map[string]interface{})

	if _, ok := cmd["home"]; ok {
		if err := b.Stop(ctx, nil); err != nil {
			return nil, err
		}
		if err := b.driver.Home(ctx); err != nil {
			return nil, errors.Wrap(err, "failed to re-home fin banks")
		}
		result["home"] = "done"
	}

	if val, ok := cmd["amplitude"]; ok {
		amp, ok := val.(float64)
		if !ok {
			return nil, errors.New("amplitude must be a number (degrees)")
		}
		if amp <= 0 {
			return nil, errors.New("amplitude must be positive")
		}
		b.mu.Lock()
		b.amplitude = amp
		b.mu.Unlock()
		result["amplitude"] = amp
	}

	if val, ok := cmd["sway_waveform"]; ok {
		name, ok := val.(string)
		if !ok {
			return nil, errors.New("sway_waveform must be a string")
		}
		kind, err := waveform.ParseKind(name)
		if err != nil {
			return nil, err
		}
		b.driver.SetSwayWaveform(kind)
		result["sway_waveform"] = name
	}

	if val, ok := cmd["blend_on_sway"]; ok {
		enable, ok := val.(bool)
		if !ok {
			return nil, errors.New("blend_on_sway must be a boolean")
		}
		b.driver.SetBlendOnSway(enable)
		result["blend_on_sway"] = enable
	}

	if val, ok := cmd["set_positions"]; ok {
		args, ok := val.(map[string]interface{})
		if !ok {
			return nil, errors.New("set_positions must be a map")
		}
		if err := b.doSetPositions(args); err != nil {
			return nil, err
		}
		result["set_positions"] = "done"
	}

	if _, ok := cmd["set_rudder"]; ok {
		pitch, _ := cmd["set_rudder"].(float64)
		if err := b.driver.SetRudder(pitch); err != nil {
			return nil, err
		}
	}

	if _, ok := cmd["get_state"]; ok {
		b.mu.Lock()
		result["phase_port"] = b.phase.Port
		result["phase_starboard"] = b.phase.Starboard
		result["moving"] = b.moving
		b.mu.Unlock()

		port, starboard := b.driver.LastAngles()
		result["last_port_angles"] = port
		result["last_starboard_angles"] = starboard
	}

	return result, nil
}

// doSetPositions drives the banks directly from DoCommand arguments,
// bypassing the motion blender. Used for bench work and gait tuning.
func (b *finBase) doSetPositions(args map[string]interface{}) error {
	amplitude, _ := args["amplitude"].(float64)
	wavelength, ok := args["wavelength"].(float64)
	if !ok || wavelength == 0 {
		wavelength = findrive.DriveWavelength
	}
	phase, _ := args["phase"].(float64)

	kind := waveform.Sine
	if name, ok := args["waveform"].(string); ok {
		var err error
		kind, err = waveform.ParseKind(name)
		if err != nil {
			return err
		}
	}

	side := findrive.Both
	if name, ok := args["side"].(string); ok {
		var err error
		side, err = findrive.ParseSide(name)
		if err != nil {
			return err
		}
	}

	if err := b.Stop(context.Background(), nil); err != nil {
		return err
	}
	return b.driver.SetPositions(amplitude, wavelength, phase, kind, side)
}

// Close stops the actuation loop and releases the shared driver.
func (b *finBase) Close(ctx context.Context) error {
	if err := b.Stop(ctx, nil); err != nil {
		return err
	}

	b.cancel()
	b.activeBackgroundWorkers.Wait()

	if b.driver != nil {
		findrive.ReleaseDriver()
		b.driver = nil
	}

	b.logger.Info("Fin base closed")
	return nil
}
