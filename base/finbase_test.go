package base

import (
	"context"
	"testing"
	"time"

	"github.com/golang/geo/r3"

	"github.com/Peppe-Grasso/metasepia-brain/findrive"
)

type nullSink struct{}

func (nullSink) SetPulse(channel, pulse int) error { return nil }
func (nullSink) Close() error                      { return nil }

func newTestBase(t *testing.T) *finBase {
	t.Helper()
	driver, err := findrive.NewDriver(nullSink{}, findrive.DefaultCalibration())
	if err != nil {
		t.Fatalf("NewDriver: %v", err)
	}
	return &finBase{
		driver:           driver,
		amplitude:        defaultAmplitude,
		cyclePeriod:      defaultCycleMs * time.Millisecond,
		widthMm:          defaultWidthMm,
		maxSpeedMmPerSec: defaultMaxSpeedMmPerSec,
		maxSpinDegPerSec: defaultMaxSpinDegPerSec,
	}
}

func TestConfigValidate(t *testing.T) {
	for _, tc := range []struct {
		name    string
		config  Config
		wantErr bool
	}{
		{"empty defaults to pca9685", Config{}, false},
		{"pca9685", Config{Controller: "pca9685"}, false},
		{"maestro with port", Config{Controller: "maestro", SerialPort: "/dev/ttyACM0"}, false},
		{"maestro without port", Config{Controller: "maestro"}, true},
		{"unknown controller", Config{Controller: "dynamixel"}, true},
		{"standing sway waveform", Config{SwayWaveform: "standing"}, false},
		{"bad sway waveform", Config{SwayWaveform: "sine_and_flat"}, true},
		{"negative amplitude", Config{Amplitude: -1}, true},
		{"negative cycle", Config{CycleMs: -10}, true},
	} {
		_, _, err := tc.config.Validate("test")
		if tc.wantErr && err == nil {
			t.Errorf("%s: Validate should fail", tc.name)
		}
		if !tc.wantErr && err != nil {
			t.Errorf("%s: Validate failed: %v", tc.name, err)
		}
	}
}

func TestSetPowerAxisMapping(t *testing.T) {
	b := newTestBase(t)

	err := b.SetPower(context.Background(),
		r3.Vector{X: 0.3, Y: 0.7}, r3.Vector{Y: 0.1, Z: -0.4}, nil)
	if err != nil {
		t.Fatalf("SetPower: %v", err)
	}

	b.mu.Lock()
	cmd := b.cmd
	moving := b.moving
	b.mu.Unlock()

	if cmd.Surge != 0.7 {
		t.Errorf("Surge = %v, want linear.Y = 0.7", cmd.Surge)
	}
	if cmd.Sway != 0.3 {
		t.Errorf("Sway = %v, want linear.X = 0.3", cmd.Sway)
	}
	if cmd.Pitch != 0.1 {
		t.Errorf("Pitch = %v, want angular.Y = 0.1", cmd.Pitch)
	}
	if cmd.Yaw != -0.4 {
		t.Errorf("Yaw = %v, want angular.Z = -0.4", cmd.Yaw)
	}
	if cmd.Amplitude != defaultAmplitude {
		t.Errorf("Amplitude = %v, want configured %v", cmd.Amplitude, defaultAmplitude)
	}
	if !moving {
		t.Error("base should report moving after a non-zero SetPower")
	}
}

func TestSetPowerAmplitudeOverride(t *testing.T) {
	b := newTestBase(t)

	err := b.SetPower(context.Background(),
		r3.Vector{Y: 0.5}, r3.Vector{}, map[string]interface{}{"amplitude": 25.0})
	if err != nil {
		t.Fatalf("SetPower: %v", err)
	}

	b.mu.Lock()
	amp := b.cmd.Amplitude
	b.mu.Unlock()
	if amp != 25 {
		t.Errorf("Amplitude = %v, want override 25", amp)
	}

	err = b.SetPower(context.Background(),
		r3.Vector{Y: 0.5}, r3.Vector{}, map[string]interface{}{"amplitude": "big"})
	if err == nil {
		t.Error("SetPower should reject a non-numeric amplitude override")
	}
}

func TestStopClearsCommand(t *testing.T) {
	b := newTestBase(t)
	ctx := context.Background()

	if err := b.SetPower(ctx, r3.Vector{Y: 0.5}, r3.Vector{}, nil); err != nil {
		t.Fatalf("SetPower: %v", err)
	}
	if err := b.Stop(ctx, nil); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	moving, err := b.IsMoving(ctx)
	if err != nil {
		t.Fatalf("IsMoving: %v", err)
	}
	if moving {
		t.Error("base should not report moving after Stop")
	}

	b.mu.Lock()
	cmd := b.cmd
	b.mu.Unlock()
	if cmd != (findrive.MotionCommand{}) {
		t.Errorf("command after Stop = %+v, want zero", cmd)
	}
}

func TestZeroPowerIsStopped(t *testing.T) {
	b := newTestBase(t)

	if err := b.SetPower(context.Background(), r3.Vector{}, r3.Vector{}, nil); err != nil {
		t.Fatalf("SetPower: %v", err)
	}
	moving, err := b.IsMoving(context.Background())
	if err != nil {
		t.Fatalf("IsMoving: %v", err)
	}
	if moving {
		t.Error("zero power vectors should leave the base stopped")
	}
}

func TestSetVelocityUnsupported(t *testing.T) {
	b := newTestBase(t)
	if err := b.SetVelocity(context.Background(), r3.Vector{Y: 10}, r3.Vector{}, nil); err == nil {
		t.Error("SetVelocity should be unsupported")
	}
}

func TestMoveStraightRejectsZeroSpeed(t *testing.T) {
	b := newTestBase(t)
	if err := b.MoveStraight(context.Background(), 100, 0, nil); err == nil {
		t.Error("MoveStraight should reject zero speed")
	}
	if err := b.Spin(context.Background(), 90, 0, nil); err == nil {
		t.Error("Spin should reject zero rate")
	}
}

func TestProperties(t *testing.T) {
	b := newTestBase(t)

	props, err := b.Properties(context.Background(), nil)
	if err != nil {
		t.Fatalf("Properties: %v", err)
	}
	if props.TurningRadiusMeters != 0 {
		t.Errorf("TurningRadiusMeters = %v, want 0 (turns in place)", props.TurningRadiusMeters)
	}
	if want := defaultWidthMm / 1000.0; props.WidthMeters != want {
		t.Errorf("WidthMeters = %v, want %v", props.WidthMeters, want)
	}
}

func TestDoCommandGetState(t *testing.T) {
	b := newTestBase(t)
	b.phase = findrive.PhaseState{Port: 12, Starboard: -3}

	result, err := b.DoCommand(context.Background(), map[string]interface{}{"get_state": true})
	if err != nil {
		t.Fatalf("DoCommand: %v", err)
	}
	if result["phase_port"] != 12.0 || result["phase_starboard"] != -3.0 {
		t.Errorf("get_state phase = (%v, %v), want (12, -3)", result["phase_port"], result["phase_starboard"])
	}
}

func TestDoCommandAmplitude(t *testing.T) {
	b := newTestBase(t)

	if _, err := b.DoCommand(context.Background(), map[string]interface{}{"amplitude": 20.0}); err != nil {
		t.Fatalf("DoCommand: %v", err)
	}
	b.mu.Lock()
	amp := b.amplitude
	b.mu.Unlock()
	if amp != 20 {
		t.Errorf("amplitude = %v, want 20", amp)
	}

	if _, err := b.DoCommand(context.Background(), map[string]interface{}{"amplitude": -5.0}); err == nil {
		t.Error("DoCommand should reject a non-positive amplitude")
	}
}
