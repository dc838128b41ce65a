package servo

import (
	"context"
	"testing"
	"time"

	"github.com/Peppe-Grasso/metasepia-brain/findrive"
)

type nullSink struct{}

func (nullSink) SetPulse(channel, pulse int) error { return nil }
func (nullSink) Close() error                      { return nil }

func newTestServo(t *testing.T, side findrive.Side, index int) *finServo {
	t.Helper()
	driver, err := findrive.NewDriver(nullSink{}, findrive.DefaultCalibration())
	if err != nil {
		t.Fatalf("NewDriver: %v", err)
	}
	return &finServo{
		driver: driver,
		side:   side,
		index:  index,
		step:   time.Millisecond,
	}
}

func TestConfigValidate(t *testing.T) {
	for _, tc := range []struct {
		name    string
		config  Config
		wantErr bool
	}{
		{"port fin", Config{Side: "port", Index: 0}, false},
		{"starboard last fin", Config{Side: "starboard", Index: findrive.NumFins - 1}, false},
		{"missing side", Config{Index: 0}, true},
		{"side both", Config{Side: "both", Index: 0}, true},
		{"unknown side", Config{Side: "left", Index: 0}, true},
		{"index too large", Config{Side: "port", Index: findrive.NumFins}, true},
		{"negative index", Config{Side: "port", Index: -1}, true},
		{"maestro without port", Config{Controller: "maestro", Side: "port"}, true},
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

func TestMoveSlewLimitedApproach(t *testing.T) {
	s := newTestServo(t, findrive.Port, 1)

	// 135 on the Viam dial is +45 signed: three slew-limited steps away.
	if err := s.Move(context.Background(), 135, nil); err != nil {
		t.Fatalf("Move: %v", err)
	}

	angle, err := s.driver.Angle(findrive.Port, 1)
	if err != nil {
		t.Fatalf("Angle: %v", err)
	}
	if angle != 45 {
		t.Errorf("angle after Move = %v, want 45", angle)
	}

	pos, err := s.Position(context.Background(), nil)
	if err != nil {
		t.Fatalf("Position: %v", err)
	}
	if pos != 135 {
		t.Errorf("Position = %d, want 135", pos)
	}
}

func TestMoveRejectsOutOfRange(t *testing.T) {
	s := newTestServo(t, findrive.Port, 0)
	if err := s.Move(context.Background(), 181, nil); err == nil {
		t.Error("Move should reject angles above 180")
	}
}

func TestPositionCentered(t *testing.T) {
	s := newTestServo(t, findrive.Starboard, 2)

	pos, err := s.Position(context.Background(), nil)
	if err != nil {
		t.Fatalf("Position: %v", err)
	}
	if pos != 90 {
		t.Errorf("Position at neutral = %d, want 90", pos)
	}
}

func TestMoveHonorsContext(t *testing.T) {
	s := newTestServo(t, findrive.Port, 0)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	// Needs several slew steps, so the canceled context must surface.
	if err := s.Move(ctx, 180, nil); err == nil {
		t.Error("Move with canceled context should return an error")
	}
}

func TestStopNotMoving(t *testing.T) {
	s := newTestServo(t, findrive.Port, 3)

	if err := s.Stop(context.Background(), nil); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	moving, err := s.IsMoving(context.Background())
	if err != nil {
		t.Fatalf("IsMoving: %v", err)
	}
	if moving {
		t.Error("servo should not report moving after Stop")
	}
}
