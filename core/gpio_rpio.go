package core

import (
	"fmt"
	"sync"

	"github.com/stianeikeland/go-rpio/v4"
)

// RPiDriver drives the Raspberry Pi GPIO header through /dev/gpiomem.
type RPiDriver struct {
	mu   sync.Mutex
	open bool
}

// OpenRPiDriver maps the GPIO register block. It fails on non-Pi hosts
// or when another process holds the memory region.
func OpenRPiDriver() (*RPiDriver, error) {
	if err := rpio.Open(); err != nil {
		return nil, fmt.Errorf("open gpio: %w", err)
	}
	return &RPiDriver{open: true}, nil
}

func (d *RPiDriver) ConfigureOutput(pin GPIOPin) error {
	p := rpio.Pin(pin)
	p.Output()
	p.Low()
	return nil
}

func (d *RPiDriver) ConfigureInputPullUp(pin GPIOPin) error {
	p := rpio.Pin(pin)
	p.Input()
	p.PullUp()
	return nil
}

func (d *RPiDriver) SetPin(pin GPIOPin, value bool) error {
	if value {
		rpio.Pin(pin).High()
	} else {
		rpio.Pin(pin).Low()
	}
	return nil
}

func (d *RPiDriver) ReadPin(pin GPIOPin) (bool, error) {
	return rpio.Pin(pin).Read() == rpio.High, nil
}

func (d *RPiDriver) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.open {
		return nil
	}
	d.open = false
	return rpio.Close()
}
