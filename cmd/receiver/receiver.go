// Package receiver implements the psgadget receiver command.
package receiver

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/rs/zerolog"

	"psgadget/cmd/node"
	"psgadget/internal/receiver"
	"psgadget/internal/rpc"
	"psgadget/internal/serial"
	"psgadget/internal/store"
	"psgadget/internal/uplink"
	"psgadget/pkg/config"
	"psgadget/pkg/logger"
)

// Run starts the gateway.
func Run(configPath string) error {
	n, err := node.Setup(configPath, "receiver")
	if err != nil {
		return err
	}
	defer n.Close()

	cfg := n.Config
	log := n.Log

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	reg, err := openRegistry(cfg.Receiver, logger.Component(log, "registry"))
	if err != nil {
		return err
	}
	defer reg.Close()

	flushInterval, err := cfg.Receiver.ParseFlushInterval()
	if err != nil {
		return fmt.Errorf("parsing flush interval: %w", err)
	}
	if flushInterval > 0 {
		go reg.RunFlusher(ctx, flushInterval)
	}

	serialLog := logger.Component(log, "serial")
	port := serial.Open(cfg.Serial.Port, cfg.Serial.Baud, serialLog)
	defer port.Close()
	bridge := serial.NewBridge(port, serialLog, serial.WithQueueSize(cfg.Serial.QueueSize))

	advertiseInterval, err := cfg.Receiver.ParseAdvertiseInterval()
	if err != nil {
		return fmt.Errorf("parsing advertise interval: %w", err)
	}
	heartbeatInterval, err := cfg.Receiver.ParseHeartbeatInterval()
	if err != nil {
		return fmt.Errorf("parsing heartbeat interval: %w", err)
	}

	var opts []receiver.Option
	if cfg.MQTT.Broker != "" {
		up, err := uplink.Connect(uplink.Config{
			Broker:   cfg.MQTT.Broker,
			Topic:    cfg.MQTT.Topic,
			ClientID: cfg.MQTT.ClientID,
			Username: cfg.MQTT.Username,
			Password: cfg.MQTT.Password,
		}, logger.Component(log, "uplink"))
		if err != nil {
			return fmt.Errorf("starting MQTT uplink: %w", err)
		}
		defer up.Close()
		opts = append(opts, receiver.WithUplink(up))
	}

	rcv := receiver.New(n.Radio, reg, bridge, n.LED, receiver.Config{
		NetworkName:       cfg.Receiver.NetworkName,
		AdvertiseInterval: advertiseInterval,
		HeartbeatInterval: heartbeatInterval,
		QueueSize:         cfg.Receiver.QueueSize,
		RatePerMinute:     cfg.Receiver.RateLimit,
	}, log, opts...)

	staleThreshold, err := cfg.Receiver.ParseStaleThreshold()
	if err != nil {
		return fmt.Errorf("parsing stale threshold: %w", err)
	}
	sockDir := filepath.Dir(cfg.Receiver.RPCSocket)
	if err := os.MkdirAll(sockDir, 0700); err != nil {
		return fmt.Errorf("creating socket directory %s: %w", sockDir, err)
	}
	svc := rpc.NewService(reg, rcv, staleThreshold, log)
	if err := rpc.StartServer(ctx, cfg.Receiver.RPCSocket, svc, logger.Component(log, "rpc")); err != nil {
		return fmt.Errorf("starting RPC server: %w", err)
	}

	bridgeDone := make(chan struct{})
	go func() {
		bridge.Run(ctx)
		close(bridgeDone)
	}()
	if cfg.Serial.CommandsEnabled() {
		go func() {
			if err := bridge.ServeCommands(ctx, port, rcv.StatusLine); err != nil {
				serialLog.Warn().Err(err).Msg("Host command reader stopped")
			}
		}()
	}

	log.Info().
		Str("registry", cfg.Receiver.RegistryPath).
		Str("backend", cfg.Receiver.RegistryBackend).
		Int("known_peers", reg.Len()).
		Msg("Starting receiver")

	err = rcv.Run(ctx)
	stop()
	<-bridgeDone

	if err != nil {
		return fmt.Errorf("receiver error: %w", err)
	}
	log.Info().Msg("Shutting down")
	return nil
}

func openRegistry(cfg config.ReceiverConfig, log zerolog.Logger) (*store.Registry, error) {
	dir := filepath.Dir(cfg.RegistryPath)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("creating registry directory %s: %w", dir, err)
	}

	var backend store.Backend
	switch cfg.RegistryBackend {
	case "bolt":
		b, err := store.NewBoltBackend(cfg.RegistryPath)
		if err != nil {
			return nil, fmt.Errorf("opening registry: %w", err)
		}
		backend = b
	default:
		backend = store.NewFileBackend(cfg.RegistryPath, nil)
	}

	reg, err := store.Open(backend, log)
	if err != nil {
		backend.Close()
		return nil, fmt.Errorf("opening registry: %w", err)
	}
	return reg, nil
}
