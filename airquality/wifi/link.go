// Package wifi joins a wireless network and keeps retrying, power-cycling the
// radio when an association stalls, until an address is assigned.
package wifi

import (
	"context"
	"fmt"
	"time"

	"github.com/benbjohnson/clock"
	log "github.com/sirupsen/logrus"
	"go.uber.org/atomic"

	"github.com/alepar/co2monitor/airquality"
)

// Radio is the wireless interface under management.
type Radio interface {
	SetActive(ctx context.Context, active bool) error
	Connect(ctx context.Context, ssid, password string) error
	IsConnected(ctx context.Context) (bool, error)
	// Address returns the routable address assigned to the radio, or "".
	Address(ctx context.Context) (string, error)
}

// Indicator is a human-visible status light.
type Indicator interface {
	Set(on bool) error
}

type State int32

const (
	Disconnected State = iota
	Connecting
	Connected
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	}
	return fmt.Sprintf("state(%d)", int32(s))
}

type Config struct {
	// PollInterval between connection status checks. Default 500ms.
	PollInterval time.Duration
	// PollsBeforePowerCycle is how many unsuccessful status checks are
	// tolerated before the radio is assumed stuck. Default 12.
	PollsBeforePowerCycle int
	// PowerCycleDelay is the pause between deactivating and reactivating the
	// radio. Default 3s.
	PowerCycleDelay time.Duration
	// Indicator is optional.
	Indicator Indicator
	Clock     clock.Clock
}

// Manager runs the join procedure. Its state only matters while Connect is
// running; callers keep the returned address.
type Manager struct {
	radio Radio
	cfg   Config

	state       atomic.Int32
	powerCycles atomic.Uint64
	led         bool
}

func NewManager(radio Radio, cfg Config) *Manager {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 500 * time.Millisecond
	}
	if cfg.PollsBeforePowerCycle <= 0 {
		cfg.PollsBeforePowerCycle = 12
	}
	if cfg.PowerCycleDelay <= 0 {
		cfg.PowerCycleDelay = 3 * time.Second
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}
	return &Manager{radio: radio, cfg: cfg}
}

func (m *Manager) State() State { return State(m.state.Load()) }

// PowerCycles counts how many times the radio was restarted.
func (m *Manager) PowerCycles() uint64 { return m.powerCycles.Load() }

// Connect associates with the network and returns the assigned address. It
// does not give up: if the radio is not associated after
// PollsBeforePowerCycle checks it is power-cycled and the request reissued,
// indefinitely. Only ctx cancellation makes it return early.
//
// A radio that was associated before losing power tends to stall on the
// next attempt; restarting it clears that.
func (m *Manager) Connect(ctx context.Context, creds Credentials) (string, error) {
	m.setState(Connecting)
	m.indicate(true)
	defer m.indicate(false)

	m.start(ctx, creds)
	log.Infof("Connecting to wireless network %q", creds.SSID)

	polls := 0
	for {
		if addr, ok := m.poll(ctx); ok {
			m.setState(Connected)
			log.WithField("address", addr).Info("Joined network")
			return addr, nil
		}

		if polls == m.cfg.PollsBeforePowerCycle {
			log.Warnf("not associated after %d checks, power-cycling the radio", polls)
			m.powerCycles.Inc()
			m.setState(Disconnected)
			if err := m.radio.SetActive(ctx, false); err != nil {
				log.Errorf("failed to deactivate radio: %s", err)
			}
			if err := airquality.Wait(ctx, m.cfg.Clock, m.cfg.PowerCycleDelay); err != nil {
				return "", err
			}
			m.setState(Connecting)
			m.start(ctx, creds)
			polls = 0
			continue
		}

		log.Debug(".")
		m.indicate(!m.led)
		if err := airquality.Wait(ctx, m.cfg.Clock, m.cfg.PollInterval); err != nil {
			return "", err
		}
		polls++
	}
}

// start activates the radio and issues the association request. Failures are
// logged; the status polls decide what happens next.
func (m *Manager) start(ctx context.Context, creds Credentials) {
	if err := m.radio.SetActive(ctx, true); err != nil {
		log.Errorf("failed to activate radio: %s", err)
		return
	}
	if err := m.radio.Connect(ctx, creds.SSID, creds.Password); err != nil {
		log.Errorf("failed to request association: %s", err)
	}
}

// poll reports whether the radio is associated and has an address.
func (m *Manager) poll(ctx context.Context) (string, bool) {
	ok, err := m.radio.IsConnected(ctx)
	if err != nil {
		log.Errorf("failed to read link status: %s", err)
		return "", false
	}
	if !ok {
		return "", false
	}
	addr, err := m.radio.Address(ctx)
	if err != nil {
		log.Errorf("associated but failed to read address: %s", err)
		return "", false
	}
	return addr, addr != ""
}

func (m *Manager) setState(s State) {
	if prev := State(m.state.Swap(int32(s))); prev != s {
		log.WithFields(log.Fields{"from": prev, "to": s}).Debug("link state")
	}
}

func (m *Manager) indicate(on bool) {
	m.led = on
	if m.cfg.Indicator == nil {
		return
	}
	if err := m.cfg.Indicator.Set(on); err != nil {
		log.Debugf("status indicator: %s", err)
	}
}
