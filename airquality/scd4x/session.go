// Package scd4x drives a Sensirion SCD4x CO2 sensor in periodic measurement
// mode over an airquality.Bus.
package scd4x

import (
	"context"
	"fmt"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/alepar/co2monitor/airquality"
)

// SensorAddress is the only bus address the SCD4x family answers on.
const SensorAddress uint16 = 0x62

// Mode is the sensor state as tracked by the session.
type Mode int

const (
	Idle Mode = iota
	PeriodicMeasuring
	AwaitingData
)

func (m Mode) String() string {
	switch m {
	case Idle:
		return "idle"
	case PeriodicMeasuring:
		return "periodic_measuring"
	case AwaitingData:
		return "awaiting_data"
	}
	return fmt.Sprintf("mode(%d)", int(m))
}

var (
	// ErrModeViolation is returned, before anything is written to the bus,
	// when a command is not legal in the current mode.
	ErrModeViolation = errors.New("scd4x: command not allowed while measuring")
	ErrNotMeasuring  = errors.New("scd4x: periodic measurement not started")
)

const unknownSerial = "unknown"

type Config struct {
	// Address defaults to SensorAddress.
	Address uint16
	// ScanInterval is the pause between bus scans in Discover. Default 1s.
	ScanInterval time.Duration
	// PollInterval is the minimum interval between measurements, and the
	// pause between data ready checks. Default 2.5s.
	PollInterval time.Duration
	// StopDelay is how long the sensor needs after stop_periodic_measurement.
	// Default 500ms.
	StopDelay time.Duration
	// Clock defaults to the wall clock.
	Clock clock.Clock
}

// Session owns the bus and the sensor's mode. It is driven by one task only.
type Session struct {
	bus  airquality.Bus
	addr uint16
	cfg  Config

	mode   Mode
	serial string
	next   uint64
}

var _ airquality.Sensor = (*Session)(nil)

func NewSession(bus airquality.Bus, cfg Config) *Session {
	if cfg.Address == 0 {
		cfg.Address = SensorAddress
	}
	if cfg.ScanInterval <= 0 {
		cfg.ScanInterval = time.Second
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 2500 * time.Millisecond
	}
	if cfg.StopDelay <= 0 {
		cfg.StopDelay = 500 * time.Millisecond
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}
	return &Session{
		bus:    bus,
		addr:   cfg.Address,
		cfg:    cfg,
		serial: unknownSerial,
	}
}

func (s *Session) Mode() Mode { return s.mode }

func (s *Session) SerialNumber() string { return s.serial }

// Initialize puts the sensor in a known state and starts periodic
// measurement: stop (tolerating a sensor that is already stopped), read the
// serial number, disable automatic self-calibration, start.
func (s *Session) Initialize(ctx context.Context) error {
	log.Info("Stopping sensor measurements, in case they were previously started.")
	if _, err := s.send(cmdStopPeriodicMeasurement); err != nil {
		log.Debugf("stop measurement: %s", err)
	}
	s.mode = Idle
	if err := airquality.Wait(ctx, s.cfg.Clock, s.cfg.StopDelay); err != nil {
		return err
	}

	if words, err := s.send(cmdGetSerialNumber); err != nil {
		log.Errorf("failed to read sensor serial number: %s", err)
	} else {
		s.serial = fmt.Sprintf("%04x%04x%04x", words[0], words[1], words[2])
		log.WithField("serial_number", s.serial).Info("Sensor identified.")
	}

	log.Info("Disabling sensor automatic self-calibration (ASC).")
	if _, err := s.send(cmdSetAutomaticSelfCalibration, 0); err != nil {
		return errors.Wrap(err, "failed to disable automatic self-calibration")
	}

	log.Info("Setting sensor to periodic measurement mode.")
	if _, err := s.send(cmdStartPeriodicMeasurement); err != nil {
		return errors.Wrap(err, "failed to start periodic measurement")
	}
	s.mode = PeriodicMeasuring
	return nil
}

// PollAndRead waits one measurement interval, then checks the data ready
// flag at the same cadence until a measurement is available, and reads it.
// Bus faults are returned as *airquality.TransientFault; the session stays
// in periodic measurement and the sequence number does not advance.
func (s *Session) PollAndRead(ctx context.Context) airquality.Result {
	if s.mode == Idle {
		return airquality.Result{Fault: ErrNotMeasuring}
	}
	if err := airquality.Wait(ctx, s.cfg.Clock, s.cfg.PollInterval); err != nil {
		return airquality.Result{Fault: err}
	}
	log.Debugf("%d.", s.next)

	for {
		ready, err := s.dataReady()
		if err != nil {
			s.mode = PeriodicMeasuring
			return transient(cmdGetDataReadyStatus, err)
		}
		if ready {
			break
		}
		s.mode = AwaitingData
		log.Debug(".")
		if err := airquality.Wait(ctx, s.cfg.Clock, s.cfg.PollInterval); err != nil {
			return airquality.Result{Fault: err}
		}
	}

	words, err := s.send(cmdReadMeasurement)
	s.mode = PeriodicMeasuring
	if err != nil {
		return transient(cmdReadMeasurement, err)
	}

	r := airquality.Reading{
		SequenceNumber: s.next,
		CO2:            int(words[0]),
		Temperature:    countToCelsius(words[1]),
		Humidity:       countToPercentRH(words[2]),
	}
	s.next++
	return airquality.Result{Reading: r}
}

func (s *Session) dataReady() (bool, error) {
	words, err := s.send(cmdGetDataReadyStatus)
	if err != nil {
		return false, err
	}
	return words[0]&dataReadyMask != 0, nil
}

// send is the single path for all bus traffic to the sensor.
func (s *Session) send(cmd command, args ...uint16) ([]uint16, error) {
	if s.mode != Idle && !cmd.whileMeasuring {
		return nil, errors.Wrapf(ErrModeViolation, "%s in mode %s", cmd, s.mode)
	}

	log.Debugf("scd4x: sending %s", cmd)
	if err := s.bus.Write(s.addr, cmd.encode(args...)); err != nil {
		return nil, errors.Wrapf(err, "scd4x %s", cmd)
	}
	if cmd.responseWords == 0 {
		return nil, nil
	}

	// The sensor needs execTime before the response is readable.
	s.cfg.Clock.Sleep(cmd.execTime)
	r := make([]byte, cmd.responseWords*3)
	if err := s.bus.Read(s.addr, r); err != nil {
		return nil, errors.Wrapf(err, "scd4x %s", cmd)
	}
	words, err := decodeWords(r)
	if err != nil {
		return nil, errors.Wrapf(err, "scd4x %s", cmd)
	}
	return words, nil
}

func transient(cmd command, err error) airquality.Result {
	return airquality.Result{Fault: &airquality.TransientFault{Op: cmd.name, Err: err}}
}
