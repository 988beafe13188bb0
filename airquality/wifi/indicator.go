package wifi

import (
	"periph.io/x/conn/v3/gpio"
)

// PinIndicator drives a status LED on a GPIO pin, high meaning on.
type PinIndicator struct {
	Pin gpio.PinOut
}

func (p PinIndicator) Set(on bool) error {
	return p.Pin.Out(gpio.Level(on))
}
