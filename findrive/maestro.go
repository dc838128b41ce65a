package findrive

import (
	"fmt"

	"go.bug.st/serial"
)

// Pololu Maestro compact-protocol command bytes.
const maestroCmdSetTarget = 0x84

// maestroSink writes pulses through a Pololu Maestro servo controller on
// a serial port, using the compact protocol (single device on the bus).
type maestroSink struct {
	port serial.Port
}

// OpenMaestro opens the Maestro's command port at 9600-8-N-1.
func OpenMaestro(portName string) (PulseSink, error) {
	if portName == "" {
		return nil, fmt.Errorf("maestro controller requires a serial port")
	}

	mode := &serial.Mode{
		BaudRate: 9600,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}

	port, err := serial.Open(portName, mode)
	if err != nil {
		return nil, fmt.Errorf("failed to open serial port %s: %w", portName, err)
	}

	return &maestroSink{port: port}, nil
}

// SetPulse converts the 12-bit tick count to the Maestro's
// quarter-microsecond target units and emits a compact set-target frame.
func (m *maestroSink) SetPulse(channel, pulse int) error {
	target := maestroTarget(pulse)
	frame := []byte{
		maestroCmdSetTarget,
		byte(channel),
		byte(target & 0x7F),
		byte((target >> 7) & 0x7F),
	}
	if _, err := m.port.Write(frame); err != nil {
		return fmt.Errorf("failed to write set-target frame: %w", err)
	}
	return nil
}

// Close closes the serial port.
func (m *maestroSink) Close() error {
	return m.port.Close()
}

// maestroTarget converts 12-bit PWM ticks at the servo update rate into
// quarter-microseconds. One 50 Hz cycle is 20000 us across 4096 ticks.
func maestroTarget(pulse int) int {
	const cycleQuarterMicros = 4 * 1000000 / ServoFreqHz
	return pulse * cycleQuarterMicros / 4096
}
