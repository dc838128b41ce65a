package findrive

import (
	"fmt"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/devices/v3/pca9685"
	"periph.io/x/host/v3"
)

// DefaultI2CAddr is the PCA9685 address with all address pins low.
const DefaultI2CAddr = 0x40

// pca9685Sink writes pulses through a PCA9685 16-channel PWM controller
// on an I2C bus. The chip's reset and prescale programming happen inside
// the periph driver when the device is opened and the frequency set.
type pca9685Sink struct {
	bus i2c.BusCloser
	dev *pca9685.Dev
}

// OpenPCA9685 opens the named I2C bus (empty means the first available)
// and configures the controller at addr for 50 Hz servo updates.
func OpenPCA9685(busName string, addr uint16) (PulseSink, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("failed to initialize host: %w", err)
	}

	bus, err := i2creg.Open(busName)
	if err != nil {
		return nil, fmt.Errorf("failed to open I2C bus %q: %w", busName, err)
	}

	dev, err := pca9685.NewI2C(bus, addr)
	if err != nil {
		bus.Close()
		return nil, fmt.Errorf("failed to open PCA9685 at 0x%x: %w", addr, err)
	}

	if err := dev.SetPwmFreq(ServoFreqHz * physic.Hertz); err != nil {
		bus.Close()
		return nil, fmt.Errorf("failed to set PWM frequency: %w", err)
	}

	return &pca9685Sink{bus: bus, dev: dev}, nil
}

// SetPulse commands one channel: pulse on at tick 0, off at the given
// tick of the 12-bit cycle.
func (p *pca9685Sink) SetPulse(channel, pulse int) error {
	return p.dev.SetPwm(channel, 0, gpio.Duty(pulse))
}

// Close releases the I2C bus.
func (p *pca9685Sink) Close() error {
	return p.bus.Close()
}
