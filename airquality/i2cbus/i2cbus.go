// Package i2cbus adapts a periph.io I2C bus to airquality.Bus.
package i2cbus

import (
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"periph.io/x/conn/v3/i2c"
)

// Valid 7-bit addresses; the ranges below and above are reserved.
const (
	FirstAddress uint16 = 0x08
	LastAddress  uint16 = 0x77
)

// Bus exposes scan, write and read over a periph i2c.Bus. Timeouts are those
// configured on the underlying bus driver.
type Bus struct {
	Bus i2c.Bus

	// Scan range, inclusive. Zero values mean FirstAddress..LastAddress.
	First uint16
	Last  uint16
}

func New(b i2c.Bus) *Bus {
	return &Bus{Bus: b}
}

// Scan probes every address in range with a one-byte read and returns the
// ones that acknowledged.
func (b *Bus) Scan() ([]uint16, error) {
	first, last := b.First, b.Last
	if first == 0 {
		first = FirstAddress
	}
	if last == 0 {
		last = LastAddress
	}
	if first > last {
		return nil, errors.Errorf("invalid scan range 0x%02x..0x%02x", first, last)
	}

	var found []uint16
	probe := make([]byte, 1)
	for addr := first; addr <= last; addr++ {
		if err := b.Bus.Tx(addr, nil, probe); err != nil {
			continue
		}
		found = append(found, addr)
	}
	log.Debugf("i2c scan on %s found %d device(s)", b.Bus, len(found))
	return found, nil
}

func (b *Bus) Write(addr uint16, w []byte) error {
	if err := b.Bus.Tx(addr, w, nil); err != nil {
		return errors.Wrapf(err, "i2c write to 0x%02x", addr)
	}
	return nil
}

func (b *Bus) Read(addr uint16, r []byte) error {
	if err := b.Bus.Tx(addr, nil, r); err != nil {
		return errors.Wrapf(err, "i2c read from 0x%02x", addr)
	}
	return nil
}
