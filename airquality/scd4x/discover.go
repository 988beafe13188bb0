package scd4x

import (
	"context"
	"slices"
	"strconv"

	log "github.com/sirupsen/logrus"

	"github.com/alepar/co2monitor/airquality"
)

// Discover scans the bus until the sensor's address shows up. There is no
// timeout: the board is expected to get a sensor eventually.
func (s *Session) Discover(ctx context.Context) error {
	log.Info("Waiting for SCD4x to appear on I2C bus.")
	for {
		devices, err := s.bus.Scan()
		if err != nil {
			log.Errorf("retrying error in scan: %s", err)
		} else if slices.Contains(devices, s.addr) {
			log.Infof("I2C devices: %s", hexAddrs(devices))
			return nil
		}
		if err := airquality.Wait(ctx, s.cfg.Clock, s.cfg.ScanInterval); err != nil {
			return err
		}
		log.Debug(".")
	}
}

func hexAddrs(addrs []uint16) []string {
	out := make([]string, len(addrs))
	for i, a := range addrs {
		out[i] = "0x" + strconv.FormatUint(uint64(a), 16)
	}
	return out
}
