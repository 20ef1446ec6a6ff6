// Package sysinfo collects the local node's identity and sensor readings.
package sysinfo

import (
	"errors"
	"fmt"
	"math"
	"net"
	"os"
	"runtime"
	"strings"

	"github.com/shirou/gopsutil/v3/host"
)

// ErrNoInterface is returned when no usable network interface is found.
var ErrNoInterface = errors.New("no usable network interface")

// ErrNoSensor is returned when the host exposes no temperature sensor.
var ErrNoSensor = errors.New("no temperature sensor")

// Identity describes this node as it appears in telemetry frames.
type Identity struct {
	MAC          net.HardwareAddr
	IP           net.IP
	Interface    string
	Hostname     string
	SerialNumber string
	MachineType  string
}

// Collect gathers the node identity. The interface is the first one whose
// IPv4 address lies in networkRange, or the first non-loopback interface
// when networkRange is empty.
func Collect(networkRange string) (*Identity, error) {
	iface, ip, err := findInterface(networkRange)
	if err != nil {
		return nil, err
	}

	hostname, _ := os.Hostname()
	id := &Identity{
		MAC:         iface.HardwareAddr,
		IP:          ip,
		Interface:   iface.Name,
		Hostname:    hostname,
		MachineType: runtime.GOARCH,
	}

	hostInfo, err := host.Info()
	if err == nil {
		if hostInfo.KernelArch != "" {
			id.MachineType = hostInfo.KernelArch
		}
		id.SerialNumber = serialFromHostID(hostInfo.HostID)
	}
	if id.SerialNumber == "" {
		id.SerialNumber = strings.ReplaceAll(iface.HardwareAddr.String(), ":", "")
	}

	return id, nil
}

// serialFromHostID reduces a host UUID to a short lowercase hex string.
func serialFromHostID(hostID string) string {
	s := strings.ToLower(strings.ReplaceAll(strings.TrimSpace(hostID), "-", ""))
	if len(s) > 12 {
		s = s[:12]
	}
	return s
}

func findInterface(networkRange string) (*net.Interface, net.IP, error) {
	var ipNet *net.IPNet
	if networkRange != "" {
		var err error
		_, ipNet, err = net.ParseCIDR(networkRange)
		if err != nil {
			return nil, nil, fmt.Errorf("parsing network range: %w", err)
		}
	}

	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, nil, err
	}

	for i := range ifaces {
		iface := &ifaces[i]
		if iface.Flags&net.FlagUp == 0 {
			continue
		}
		if len(iface.HardwareAddr) != 6 {
			continue
		}
		if ipNet == nil && iface.Flags&net.FlagLoopback != 0 {
			continue
		}

		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		for _, addr := range addrs {
			n, ok := addr.(*net.IPNet)
			if !ok || n.IP.To4() == nil {
				continue
			}
			if ipNet != nil && !ipNet.Contains(n.IP) {
				continue
			}
			return iface, n.IP.To4(), nil
		}
	}

	if ipNet != nil {
		return nil, nil, fmt.Errorf("%w in %s", ErrNoInterface, networkRange)
	}
	return nil, nil, ErrNoInterface
}

// preferredSensors are matched against sensor keys in order.
var preferredSensors = []string{"coretemp_package", "k10temp", "cpu", "soc", "coretemp"}

// CPUTemperature reads the host CPU temperature in degrees Celsius, rounded
// to one decimal.
func CPUTemperature() (float64, error) {
	// gopsutil reports partial results alongside a warnings error.
	temps, err := host.SensorsTemperatures()
	if len(temps) == 0 {
		if err != nil {
			return 0, fmt.Errorf("reading temperature sensors: %w", err)
		}
		return 0, ErrNoSensor
	}

	for _, want := range preferredSensors {
		for _, t := range temps {
			if strings.Contains(strings.ToLower(t.SensorKey), want) && t.Temperature > 0 {
				return round1(t.Temperature), nil
			}
		}
	}
	for _, t := range temps {
		if t.Temperature > 0 {
			return round1(t.Temperature), nil
		}
	}
	return 0, ErrNoSensor
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}

// HostSensors reads the local host. Battery status is fixed: hosts running
// the transmitter are mains powered.
type HostSensors struct {
	Battery string
}

func (h HostSensors) CPUTemperature() (float64, error) {
	return CPUTemperature()
}

func (h HostSensors) BatteryStatus() string {
	if h.Battery == "" {
		return "99"
	}
	return h.Battery
}
