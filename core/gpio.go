package core

// GPIOPin identifies a hardware GPIO pin by its BCM number.
type GPIOPin uint8

// GPIODriver is the abstract GPIO interface the control core uses.
// The rpio implementation drives real Raspberry Pi hardware; tests and
// bench deployments substitute the simulated driver.
type GPIODriver interface {
	// ConfigureOutput configures a pin as a digital output, driven low.
	ConfigureOutput(pin GPIOPin) error

	// ConfigureInputPullUp configures a pin as a digital input with the
	// internal pull-up enabled. All of the turret's safety inputs are
	// wired active-low against a pull-up.
	ConfigureInputPullUp(pin GPIOPin) error

	// SetPin drives an output pin high (true) or low (false).
	SetPin(pin GPIOPin, value bool) error

	// ReadPin reads the current level of an input pin.
	ReadPin(pin GPIOPin) (bool, error)

	// Close releases the underlying hardware resources.
	Close() error
}
