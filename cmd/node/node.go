// Package node holds the start-up steps shared by the receiver and
// transmitter commands.
package node

import (
	"fmt"
	"net"

	"github.com/rs/zerolog"

	"psgadget/internal/led"
	"psgadget/internal/radio"
	"psgadget/internal/sysinfo"
	"psgadget/pkg/config"
	"psgadget/pkg/logger"
)

// Node is a configured radio endpoint.
type Node struct {
	Config   *config.Config
	Log      zerolog.Logger
	Identity *sysinfo.Identity
	Radio    *radio.UDP
	LED      *led.Machine
}

// Setup loads the config, detects the local interface and opens the radio.
func Setup(configPath, role string) (*Node, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}

	log := logger.Init(cfg.Log.Level).With().Str("role", role).Logger()

	if cfg.Radio.NetworkRange == "" {
		return nil, fmt.Errorf("radio.network_range must be set in config (e.g. '192.168.1.0/24')")
	}

	id, err := sysinfo.Collect(cfg.Radio.NetworkRange)
	if err != nil {
		return nil, fmt.Errorf("auto-detecting interface: %w", err)
	}
	if cfg.Radio.MAC != "" {
		mac, err := net.ParseMAC(cfg.Radio.MAC)
		if err != nil {
			return nil, fmt.Errorf("parsing radio.mac: %w", err)
		}
		id.MAC = mac
	}

	log.Info().
		Str("interface", id.Interface).
		Str("ip", id.IP.String()).
		Str("mac", id.MAC.String()).
		Str("network_range", cfg.Radio.NetworkRange).
		Msg("Node interface detected")

	r, err := radio.ListenUDP(id.MAC, cfg.Radio.NetworkRange, cfg.Radio.Port, logger.Component(log, "radio"))
	if err != nil {
		return nil, fmt.Errorf("opening radio: %w", err)
	}

	ind, err := led.NewIndicator(cfg.LED.Indicator, logger.Component(log, "led"))
	if err != nil {
		r.Close()
		return nil, err
	}

	return &Node{
		Config:   cfg,
		Log:      log,
		Identity: id,
		Radio:    r,
		LED:      led.NewMachine(ind, log),
	}, nil
}

// Close turns the LED off and closes the radio.
func (n *Node) Close() error {
	n.LED.Stop()
	return n.Radio.Close()
}
