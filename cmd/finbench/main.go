// Command finbench exercises the fin banks from the bench: it homes the
// vehicle, then either runs drive cycles through the motion blender or
// sweeps each fin one at a time. With -dry it prints pulses instead of
// touching hardware.
package main

import (
	"context"
	"flag"
	"fmt"
	"time"

	"go.viam.com/rdk/logging"

	"github.com/Peppe-Grasso/metasepia-brain/findrive"
	"github.com/Peppe-Grasso/metasepia-brain/waveform"
)

var (
	controller  = flag.String("controller", "pca9685", "pulse controller: pca9685 or maestro")
	bus         = flag.String("bus", "", "I2C bus name (empty = first available)")
	addr        = flag.Int("addr", findrive.DefaultI2CAddr, "PCA9685 I2C address")
	port        = flag.String("port", "", "serial port for the maestro controller")
	calibration = flag.String("calibration", "", "YAML calibration file")
	amplitude   = flag.Float64("amplitude", 15, "fin deflection amplitude in degrees")
	wavelength  = flag.Float64("wavelength", findrive.DriveWavelength, "waveform wavelength")
	kindName    = flag.String("waveform", "sine", "waveform kind: sine, flat, standing, sine_and_flat")
	cycles      = flag.Int("cycles", 100, "number of drive cycles to run")
	surge       = flag.Float64("surge", 0.5, "surge command in [-1, 1]")
	sway        = flag.Float64("sway", 0, "sway command in [-1, 1]")
	yaw         = flag.Float64("yaw", 0, "yaw command in [-1, 1]")
	sweep       = flag.Bool("sweep", false, "sweep each fin through its range instead of driving")
	dry         = flag.Bool("dry", false, "print pulses instead of writing to hardware")
)

// printSink is a stand-in pulse sink for dry runs.
type printSink struct{}

func (printSink) SetPulse(channel, pulse int) error {
	fmt.Printf("ch %2d <- %d\n", channel, pulse)
	return nil
}

func (printSink) Close() error { return nil }

func main() {
	flag.Parse()
	logger := logging.NewLogger("finbench")
	ctx := context.Background()

	if err := run(ctx, logger); err != nil {
		logger.Fatal(err)
	}
}

func run(ctx context.Context, logger logging.Logger) error {
	var sink findrive.PulseSink
	var err error
	switch {
	case *dry:
		sink = printSink{}
	case *controller == "maestro":
		sink, err = findrive.OpenMaestro(*port)
	default:
		sink, err = findrive.OpenPCA9685(*bus, uint16(*addr))
	}
	if err != nil {
		return err
	}

	calib := findrive.DefaultCalibration()
	if *calibration != "" {
		calib, err = findrive.LoadCalibration(*calibration)
		if err != nil {
			return err
		}
	}

	driver, err := findrive.NewDriver(sink, calib)
	if err != nil {
		return err
	}
	defer driver.Close()

	logger.Info("Homing fin banks...")
	if err := driver.Home(ctx); err != nil {
		return err
	}

	if *sweep {
		return runSweep(ctx, driver, logger)
	}
	return runCycles(ctx, driver, logger)
}

// runCycles pushes a fixed motion command through the blender and prints
// the phase accumulators as they evolve.
func runCycles(ctx context.Context, driver *findrive.Driver, logger logging.Logger) error {
	kind, err := waveform.ParseKind(*kindName)
	if err != nil {
		return err
	}
	if kind != waveform.Sine {
		// Non-default gait: bypass the blender and drive the waveform directly.
		logger.Infof("Driving %s waveform directly for %d cycles", kind, *cycles)
		t := 0.0
		for i := 0; i < *cycles; i++ {
			if err := driver.SetPositions(*amplitude, *wavelength, t, kind, findrive.Both); err != nil {
				return err
			}
			t += *surge * findrive.MaxTimeInc
			time.Sleep(50 * time.Millisecond)
		}
		return nil
	}

	cmd := findrive.MotionCommand{
		Surge:     *surge,
		Sway:      *sway,
		Yaw:       *yaw,
		Amplitude: *amplitude,
	}
	logger.Infof("Driving %d cycles: surge=%.2f sway=%.2f yaw=%.2f amp=%.1f",
		*cycles, cmd.Surge, cmd.Sway, cmd.Yaw, cmd.Amplitude)

	var phase findrive.PhaseState
	for i := 0; i < *cycles; i++ {
		phase, err = driver.DriveFins(cmd, phase)
		if err != nil {
			return err
		}
		logger.Infof("cycle %3d: phase port=%8.1f starboard=%8.1f", i, phase.Port, phase.Starboard)
		time.Sleep(50 * time.Millisecond)
	}
	return nil
}

// runSweep walks every fin on both sides out to the amplitude and back,
// one at a time, to check wiring and trims.
func runSweep(ctx context.Context, driver *findrive.Driver, logger logging.Logger) error {
	for _, side := range []findrive.Side{findrive.Port, findrive.Starboard} {
		for i := 0; i < findrive.NumFins; i++ {
			logger.Infof("Sweeping %s fin %d", side, i)
			for _, target := range []float64{*amplitude, -*amplitude, 0} {
				if err := stepTo(driver, side, i, target); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

// stepTo approaches a single-fin target through the slew limiter.
func stepTo(driver *findrive.Driver, side findrive.Side, index int, target float64) error {
	prev := -1e9
	for {
		got, err := driver.CommandAngle(side, index, target)
		if err != nil {
			return err
		}
		if got == prev {
			return nil
		}
		prev = got
		time.Sleep(50 * time.Millisecond)
	}
}
