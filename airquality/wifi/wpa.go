package wifi

import (
	"bufio"
	"bytes"
	"context"
	"net"
	"os/exec"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// WPARadio manages a Linux wireless interface through iproute2 and
// wpa_supplicant's control client.
type WPARadio struct {
	Interface string

	run   func(ctx context.Context, name string, args ...string) ([]byte, error)
	addrs func(iface string) ([]net.Addr, error)
}

func NewWPARadio(iface string) *WPARadio {
	return &WPARadio{
		Interface: iface,
		run:       runCommand,
		addrs:     interfaceAddrs,
	}
}

func (r *WPARadio) SetActive(ctx context.Context, active bool) error {
	state := "down"
	if active {
		state = "up"
	}
	_, err := r.run(ctx, "ip", "link", "set", "dev", r.Interface, state)
	return errors.Wrapf(err, "ip link set %s %s", r.Interface, state)
}

// Connect replaces any configured networks with a single one and selects it.
// wpa_supplicant associates in the background.
func (r *WPARadio) Connect(ctx context.Context, ssid, password string) error {
	if _, err := r.wpa(ctx, "remove_network", "all"); err != nil {
		return err
	}
	out, err := r.wpa(ctx, "add_network")
	if err != nil {
		return err
	}
	id := strings.TrimSpace(out)
	if _, err := strconv.Atoi(id); err != nil {
		return errors.Errorf("wpa_cli add_network: unexpected reply %q", id)
	}

	steps := [][]string{
		{"set_network", id, "ssid", `"` + ssid + `"`},
		{"set_network", id, "psk", `"` + password + `"`},
		{"select_network", id},
	}
	if password == "" {
		steps[1] = []string{"set_network", id, "key_mgmt", "NONE"}
	}
	for _, args := range steps {
		if _, err := r.wpa(ctx, args...); err != nil {
			return err
		}
	}
	return nil
}

func (r *WPARadio) IsConnected(ctx context.Context) (bool, error) {
	out, err := r.wpa(ctx, "status")
	if err != nil {
		return false, err
	}
	sc := bufio.NewScanner(strings.NewReader(out))
	for sc.Scan() {
		if state, ok := strings.CutPrefix(sc.Text(), "wpa_state="); ok {
			return state == "COMPLETED", nil
		}
	}
	return false, nil
}

// Address returns the first IPv4 address on the interface.
func (r *WPARadio) Address(ctx context.Context) (string, error) {
	addrs, err := r.addrs(r.Interface)
	if err != nil {
		return "", errors.Wrapf(err, "addresses of %s", r.Interface)
	}
	for _, a := range addrs {
		ipnet, ok := a.(*net.IPNet)
		if !ok || ipnet.IP.IsLoopback() {
			continue
		}
		if ip4 := ipnet.IP.To4(); ip4 != nil {
			return ip4.String(), nil
		}
	}
	return "", nil
}

// wpa runs one wpa_cli command and treats a FAIL reply as an error.
func (r *WPARadio) wpa(ctx context.Context, args ...string) (string, error) {
	full := append([]string{"-i", r.Interface}, args...)
	out, err := r.run(ctx, "wpa_cli", full...)
	if err != nil {
		return "", errors.Wrapf(err, "wpa_cli %s", args[0])
	}
	reply := string(bytes.TrimSpace(out))
	if strings.HasPrefix(reply, "FAIL") {
		return "", errors.Errorf("wpa_cli %s: %s", args[0], reply)
	}
	log.Debugf("wpa_cli %s: %s", args[0], reply)
	return reply, nil
}

func runCommand(ctx context.Context, name string, args ...string) ([]byte, error) {
	out, err := exec.CommandContext(ctx, name, args...).CombinedOutput()
	if err != nil {
		return out, errors.Wrapf(err, "%s: %s", name, bytes.TrimSpace(out))
	}
	return out, nil
}

func interfaceAddrs(iface string) ([]net.Addr, error) {
	ifc, err := net.InterfaceByName(iface)
	if err != nil {
		return nil, err
	}
	return ifc.Addrs()
}
