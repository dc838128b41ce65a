package findrive

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	goutils "go.viam.com/utils"

	"github.com/Peppe-Grasso/metasepia-brain/waveform"
)

// ErrNotOpen is returned when operations are attempted on a closed driver.
var ErrNotOpen = errors.New("driver not open")

// ErrRudderUnsupported is returned by SetRudder; the rudder spoke modes
// were never brought up on the vehicle.
var ErrRudderUnsupported = errors.New("rudder control not implemented")

// PulseSink is the hardware capability the driver writes through: one
// pulse-width command per servo channel. Implementations own their
// transport setup (reset, PWM frequency) and are not consulted for
// feedback.
type PulseSink interface {
	SetPulse(channel, pulse int) error
	Close() error
}

// MotionCommand is one cycle's worth of motion intent. Surge, Sway and
// Yaw are dimensionless in [-1, 1]; Pitch is reserved and not consumed by
// the blending algorithm. Amplitude is the fin deflection in degrees at
// unit gain.
type MotionCommand struct {
	Surge     float64
	Sway      float64
	Pitch     float64
	Yaw       float64
	Amplitude float64
}

// PhaseState carries the two per-side phase accumulators, in
// milliseconds-equivalent units. It is owned by the calling control loop
// and threaded through DriveFins each cycle; nothing else persists
// between cycles at the control level.
type PhaseState struct {
	Port      float64
	Starboard float64
}

// Driver converts waveform targets into slew-limited pulse writes for the
// two fin banks. It holds the last commanded angle per actuator so a
// single write can never yank a servo more than MaxAngleDelta from where
// it was last sent.
type Driver struct {
	mu     sync.Mutex
	sink   PulseSink
	calib  Calibration
	isOpen bool

	lastPort      []float64
	lastStarboard []float64

	swayKind    waveform.Kind
	blendOnSway bool

	homed       bool
	homingDelay time.Duration
}

// NewDriver validates the calibration, seeds both history banks with the
// neutral trims, and returns a driver writing through sink.
func NewDriver(sink PulseSink, calib Calibration) (*Driver, error) {
	if err := calib.validate(); err != nil {
		return nil, fmt.Errorf("invalid calibration: %w", err)
	}

	d := &Driver{
		sink:          sink,
		calib:         calib,
		isOpen:        true,
		lastPort:      make([]float64, NumFins),
		lastStarboard: make([]float64, NumFins),
		swayKind:      waveform.Flat,
		homingDelay:   HomingStepDelay,
	}
	copy(d.lastPort, calib.NeutralPort)
	copy(d.lastStarboard, calib.NeutralStarboard)
	return d, nil
}

// Close closes the driver and its sink.
func (d *Driver) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.isOpen {
		return nil
	}
	d.isOpen = false
	return d.sink.Close()
}

// checkOpen verifies the driver is open.
func (d *Driver) checkOpen() error {
	if !d.isOpen {
		return ErrNotOpen
	}
	return nil
}

// SetSwayWaveform selects the waveform used in pure-sway mode. Flat is
// the default; Standing keeps the nodes fixed along the bank instead of
// paddling it in unison.
func (d *Driver) SetSwayWaveform(kind waveform.Kind) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.swayKind = kind
}

// SetBlendOnSway enables the hybrid sine-and-flat waveform in combined
// mode whenever the sway magnitude exceeds the deadband.
func (d *Driver) SetBlendOnSway(enable bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.blendOnSway = enable
}

// Home walks both banks to neutral: a fixed number of zero-amplitude sine
// steps with a settling delay between them, so the slew limiter eases
// every spoke in from its power-up pose. Blocks for the duration; a
// canceled context aborts early.
func (d *Driver) Home(ctx context.Context) error {
	for i := 0; i < HomingSteps; i++ {
		if err := d.SetPositions(0, HomingWavelength, 0, waveform.Sine, Both); err != nil {
			return fmt.Errorf("homing step %d: %w", i, err)
		}
		if !goutils.SelectContextOrWait(ctx, d.homingDelay) {
			return ctx.Err()
		}
	}

	d.mu.Lock()
	d.homed = true
	d.mu.Unlock()
	return nil
}

// EnsureHomed runs the homing sequence once per driver instance. Later
// callers return immediately.
func (d *Driver) EnsureHomed(ctx context.Context) error {
	d.mu.Lock()
	homed := d.homed
	d.mu.Unlock()
	if homed {
		return nil
	}
	return d.Home(ctx)
}

// SetPositions computes the waveform target for every fin on the selected
// side(s) and writes the resulting pulses. Each write is trimmed by the
// fin's neutral offset, clamped to within MaxAngleDelta of the previous
// command, and mapped from [-90, 90] degrees onto the calibrated pulse
// range. The starboard bank is mechanically mirrored, so its angle sign
// is inverted for the pulse mapping only; history stores the signed
// angle.
//
// An unrecognized waveform kind holds position: every fin is re-commanded
// to its history entry. No fin is ever skipped.
func (d *Driver) SetPositions(amplitude, wavelength, t float64, kind waveform.Kind, side Side) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.setPositions(amplitude, wavelength, t, kind, side)
}

// setPositions is SetPositions with the driver lock held.
func (d *Driver) setPositions(amplitude, wavelength, t float64, kind waveform.Kind, side Side) error {
	if err := d.checkOpen(); err != nil {
		return err
	}

	fn := kind.Func()

	for i := 0; i < NumFins; i++ {
		if side == Both || side == Port {
			angle := d.lastPort[i]
			if fn != nil {
				angle = clampDelta(fn(amplitude, wavelength, t, i, NumFins)+d.calib.NeutralPort[i], d.lastPort[i])
			}
			pulse := AngleToPulse(angle, d.calib.PulseMin, d.calib.PulseMax)
			if err := d.sink.SetPulse(PortChannel(i), pulse); err != nil {
				return fmt.Errorf("failed to write port fin %d: %w", i, err)
			}
			d.lastPort[i] = angle
		}

		if side == Both || side == Starboard {
			angle := d.lastStarboard[i]
			if fn != nil {
				angle = clampDelta(fn(amplitude, wavelength, t, i, NumFins)+d.calib.NeutralStarboard[i], d.lastStarboard[i])
			}
			pulse := AngleToPulse(-angle, d.calib.PulseMin, d.calib.PulseMax)
			if err := d.sink.SetPulse(StarboardChannel(i), pulse); err != nil {
				return fmt.Errorf("failed to write starboard fin %d: %w", i, err)
			}
			d.lastStarboard[i] = angle
		}
	}
	return nil
}

// DriveFins blends one cycle of motion intent into phase advances and
// amplitude scaling for the two banks, then writes both.
//
// When surge and yaw are both inside the deadband the command is pure
// sway: only the bank on the swayed-toward side advances, the other's
// accumulator resets to zero, and the sway waveform (Flat by default)
// paddles the vehicle sideways. Otherwise both accumulators advance from
// the surge increment skewed differentially by yaw, and a non-zero sway
// attenuates the amplitude of the bank opposite the sway direction.
//
// The final writes keep the vehicle's tuned amplitude crossing: the
// sway-attenuated starboard amplitude drives the port bank and vice
// versa, matching the mechanical mirroring of the starboard spokes.
//
// Returns the updated phase state for the caller to carry into the next
// cycle.
func (d *Driver) DriveFins(cmd MotionCommand, phase PhaseState) (PhaseState, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	ampP := cmd.Amplitude
	ampS := cmd.Amplitude
	var kind waveform.Kind

	if math.Abs(cmd.Surge) <= Deadband && math.Abs(cmd.Yaw) <= Deadband {
		// Pure sway: one side undulates, the other resets.
		switch {
		case cmd.Sway > 0:
			phase.Port += clampTime(cmd.Sway * MaxTimeInc)
			phase.Starboard = 0
		case cmd.Sway < 0:
			phase.Starboard += clampTime(cmd.Sway * MaxTimeInc)
			phase.Port = 0
		}
		kind = d.swayKind
	} else {
		incP := cmd.Surge * MaxTimeInc
		incS := cmd.Surge * MaxTimeInc

		// Differential thrust: yaw speeds one bank up and slows the
		// other, signed so the turn follows the commanded direction.
		incP += cmd.Yaw * MaxTimeInc
		incS -= cmd.Yaw * MaxTimeInc

		if cmd.Sway > 0 {
			ampS = cmd.Amplitude * (1 - cmd.Sway)
		} else if cmd.Sway < 0 {
			ampP = cmd.Amplitude * (1 - cmd.Sway)
		}

		phase.Port += clampTime(incP)
		phase.Starboard += clampTime(incS)

		kind = waveform.Sine
		if d.blendOnSway && math.Abs(cmd.Sway) > Deadband {
			kind = waveform.SineAndFlat
		}
	}

	if err := d.setPositions(ampS, DriveWavelength, phase.Port, kind, Port); err != nil {
		return phase, err
	}
	if err := d.setPositions(ampP, DriveWavelength, phase.Starboard, kind, Starboard); err != nil {
		return phase, err
	}
	return phase, nil
}

// SetRudder would shape the aft spokes into a rudder for pitch control.
// The modes were sketched but never implemented on the vehicle.
func (d *Driver) SetRudder(pitch float64) error {
	return ErrRudderUnsupported
}

// CommandAngle drives a single fin toward angle (degrees, relative to its
// neutral trim), moving at most MaxAngleDelta per call. It returns the
// angle stored in history after the write, which callers can compare
// across calls to detect convergence. Side must be Port or Starboard.
func (d *Driver) CommandAngle(side Side, index int, angle float64) (float64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.checkOpen(); err != nil {
		return 0, err
	}
	if err := checkFin(side, index); err != nil {
		return 0, err
	}

	if side == Port {
		target := clampDelta(angle+d.calib.NeutralPort[index], d.lastPort[index])
		pulse := AngleToPulse(target, d.calib.PulseMin, d.calib.PulseMax)
		if err := d.sink.SetPulse(PortChannel(index), pulse); err != nil {
			return 0, fmt.Errorf("failed to write port fin %d: %w", index, err)
		}
		d.lastPort[index] = target
		return target, nil
	}

	target := clampDelta(angle+d.calib.NeutralStarboard[index], d.lastStarboard[index])
	pulse := AngleToPulse(-target, d.calib.PulseMin, d.calib.PulseMax)
	if err := d.sink.SetPulse(StarboardChannel(index), pulse); err != nil {
		return 0, fmt.Errorf("failed to write starboard fin %d: %w", index, err)
	}
	d.lastStarboard[index] = target
	return target, nil
}

// Angle reports the last commanded angle for one fin. There is no
// position feedback on the vehicle; history is the only truth available.
func (d *Driver) Angle(side Side, index int) (float64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := checkFin(side, index); err != nil {
		return 0, err
	}
	if side == Port {
		return d.lastPort[index], nil
	}
	return d.lastStarboard[index], nil
}

// Hold re-commands one fin to its history entry without changing it.
func (d *Driver) Hold(side Side, index int) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.checkOpen(); err != nil {
		return err
	}
	if err := checkFin(side, index); err != nil {
		return err
	}

	if side == Port {
		pulse := AngleToPulse(d.lastPort[index], d.calib.PulseMin, d.calib.PulseMax)
		return d.sink.SetPulse(PortChannel(index), pulse)
	}
	pulse := AngleToPulse(-d.lastStarboard[index], d.calib.PulseMin, d.calib.PulseMax)
	return d.sink.SetPulse(StarboardChannel(index), pulse)
}

// LastAngles returns copies of both history banks, port then starboard.
func (d *Driver) LastAngles() ([]float64, []float64) {
	d.mu.Lock()
	defer d.mu.Unlock()

	port := make([]float64, NumFins)
	starboard := make([]float64, NumFins)
	copy(port, d.lastPort)
	copy(starboard, d.lastStarboard)
	return port, starboard
}

// checkFin validates a single-fin address.
func checkFin(side Side, index int) error {
	if side != Port && side != Starboard {
		return fmt.Errorf("side must be port or starboard, got %q", side)
	}
	if index < 0 || index >= NumFins {
		return fmt.Errorf("fin index %d out of range [0, %d)", index, NumFins)
	}
	return nil
}

// Singleton driver management for sharing between the base and servo
// components. All components on one robot talk to the same controller.

// Options selects and configures the hardware sink for the shared driver.
type Options struct {
	Controller      string // "pca9685" (default) or "maestro"
	I2CBus          string // empty means first available
	I2CAddr         int    // 0 means the PCA9685 default (0x40)
	SerialPort      string // required for the maestro controller
	CalibrationFile string // empty means default calibration
}

var (
	driverInstance *Driver
	driverMu       sync.Mutex
	driverRefCount int
)

// GetDriver returns the shared driver instance, opening the configured
// hardware sink on first acquisition. Multiple components acquire the
// same driver; each must pair its call with ReleaseDriver.
func GetDriver(opts Options) (*Driver, error) {
	driverMu.Lock()
	defer driverMu.Unlock()

	if driverInstance != nil {
		driverRefCount++
		return driverInstance, nil
	}

	calib := DefaultCalibration()
	if opts.CalibrationFile != "" {
		var err error
		calib, err = LoadCalibration(opts.CalibrationFile)
		if err != nil {
			return nil, err
		}
	}

	var sink PulseSink
	var err error
	switch opts.Controller {
	case "", "pca9685":
		addr := opts.I2CAddr
		if addr == 0 {
			addr = DefaultI2CAddr
		}
		sink, err = OpenPCA9685(opts.I2CBus, uint16(addr))
	case "maestro":
		sink, err = OpenMaestro(opts.SerialPort)
	default:
		err = fmt.Errorf("unknown controller %q", opts.Controller)
	}
	if err != nil {
		return nil, err
	}

	driver, err := NewDriver(sink, calib)
	if err != nil {
		sink.Close()
		return nil, err
	}

	driverInstance = driver
	driverRefCount = 1
	return driver, nil
}

// ReleaseDriver decrements the reference count and closes the driver when
// no component holds it anymore.
func ReleaseDriver() {
	driverMu.Lock()
	defer driverMu.Unlock()

	if driverInstance == nil {
		return
	}

	driverRefCount--
	if driverRefCount <= 0 {
		driverInstance.Close()
		driverInstance = nil
		driverRefCount = 0
	}
}
