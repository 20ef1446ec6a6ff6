// Package transmitter implements the psgadget transmitter command.
package transmitter

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"psgadget/cmd/node"
	"psgadget/internal/discovery"
	"psgadget/internal/sysinfo"
	"psgadget/internal/transmitter"
	"psgadget/pkg/logger"
)

// Run starts a telemetry node.
func Run(configPath string) error {
	n, err := node.Setup(configPath, "transmitter")
	if err != nil {
		return err
	}
	defer n.Close()

	cfg := n.Config.Transmitter
	log := n.Log

	scanInterval, err := cfg.ParseScanInterval()
	if err != nil {
		return fmt.Errorf("parsing scan interval: %w", err)
	}
	noReceiverInterval, err := cfg.ParseNoReceiverInterval()
	if err != nil {
		return fmt.Errorf("parsing no-receiver interval: %w", err)
	}
	sendInterval, err := cfg.ParseSendInterval()
	if err != nil {
		return fmt.Errorf("parsing send interval: %w", err)
	}

	serialNumber := cfg.SerialNumber
	if serialNumber == "" {
		serialNumber = n.Identity.SerialNumber
	}
	machineType := cfg.MachineType
	if machineType == "" {
		machineType = n.Identity.MachineType
	}

	binder := discovery.NewBinder(n.Radio, cfg.Match, logger.Component(log, "discovery"),
		discovery.WithScanInterval(scanInterval),
		discovery.WithNoReceiverInterval(noReceiverInterval),
		discovery.WithLED(n.LED))

	tx := transmitter.New(n.Radio, binder, sysinfo.HostSensors{Battery: cfg.Battery}, n.LED, transmitter.Config{
		GadgetType:   cfg.GadgetType,
		SerialNumber: serialNumber,
		MachineType:  machineType,
		SendInterval: sendInterval,
		Payload:      cfg.Payload,
	}, log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.Info().
		Str("serial_number", serialNumber).
		Str("machine_type", machineType).
		Str("match", cfg.Match).
		Msg("Starting transmitter")

	if err := tx.Run(ctx); err != nil {
		return err
	}
	log.Info().Msg("Shutting down")
	return nil
}
