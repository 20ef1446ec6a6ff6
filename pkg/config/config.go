// Package config provides TOML configuration loading for psgadget.
package config

import (
	"fmt"
	"net"
	"os"
	"os/user"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	toml "github.com/pelletier/go-toml/v2"
)

// Config is the top-level configuration structure.
type Config struct {
	Radio       RadioConfig       `toml:"radio"`
	Receiver    ReceiverConfig    `toml:"receiver"`
	Transmitter TransmitterConfig `toml:"transmitter"`
	Serial      SerialConfig      `toml:"serial"`
	LED         LEDConfig         `toml:"led"`
	MQTT        MQTTConfig        `toml:"mqtt"`
	Log         LogConfig         `toml:"log"`
}

// RadioConfig selects the link both roles talk over.
type RadioConfig struct {
	NetworkRange string `toml:"network_range"`
	Port         int    `toml:"port"`
	// MAC overrides the interface's hardware address.
	MAC string `toml:"mac"`
}

// ReceiverConfig holds settings for the gateway.
type ReceiverConfig struct {
	NetworkName       string `toml:"network_name"`
	AdvertiseInterval string `toml:"advertise_interval"`
	HeartbeatInterval string `toml:"heartbeat_interval"`
	RegistryBackend   string `toml:"registry_backend"`
	RegistryPath      string `toml:"registry_path"`
	FlushInterval     string `toml:"flush_interval"`
	QueueSize         int    `toml:"queue_size"`
	RateLimit         int    `toml:"rate_limit"`
	RPCSocket         string `toml:"rpc_socket"`
	StaleThreshold    string `toml:"stale_threshold"`
}

// TransmitterConfig holds settings for a telemetry node.
type TransmitterConfig struct {
	Match              string `toml:"match"`
	ScanInterval       string `toml:"scan_interval"`
	NoReceiverInterval string `toml:"no_receiver_interval"`
	SendInterval       string `toml:"send_interval"`
	GadgetType         string `toml:"gadget_type"`
	SerialNumber       string `toml:"serial_number"`
	MachineType        string `toml:"machine_type"`
	Payload            string `toml:"payload"`
	Battery            string `toml:"battery"`
}

// SerialConfig selects the host link.
type SerialConfig struct {
	Port      string `toml:"port"`
	Baud      int    `toml:"baud"`
	QueueSize int    `toml:"queue_size"`
	Commands  *bool  `toml:"commands"`
}

// LEDConfig selects the LED indicator.
type LEDConfig struct {
	Indicator string `toml:"indicator"`
}

// MQTTConfig enables the telemetry uplink when Broker is set.
type MQTTConfig struct {
	Broker   string `toml:"broker"`
	Topic    string `toml:"topic"`
	ClientID string `toml:"client_id"`
	Username string `toml:"username"`
	Password string `toml:"password"`
}

// LogConfig controls logging.
type LogConfig struct {
	Level string `toml:"level"`
}

func parseDuration(value string, fallback time.Duration) (time.Duration, error) {
	if value == "" {
		return fallback, nil
	}
	return time.ParseDuration(value)
}

// ParseAdvertiseInterval parses the advertisement interval.
func (r *ReceiverConfig) ParseAdvertiseInterval() (time.Duration, error) {
	return parseDuration(r.AdvertiseInterval, 5*time.Second)
}

// ParseHeartbeatInterval parses the LED heartbeat interval. Zero disables it.
func (r *ReceiverConfig) ParseHeartbeatInterval() (time.Duration, error) {
	return parseDuration(r.HeartbeatInterval, 30*time.Second)
}

// ParseFlushInterval parses the registry snapshot interval. Zero persists on
// every sighting.
func (r *ReceiverConfig) ParseFlushInterval() (time.Duration, error) {
	return parseDuration(r.FlushInterval, 0)
}

// ParseStaleThreshold parses how long a peer counts as active.
func (r *ReceiverConfig) ParseStaleThreshold() (time.Duration, error) {
	return parseDuration(r.StaleThreshold, 90*time.Second)
}

// ParseScanInterval parses the discovery polling interval.
func (t *TransmitterConfig) ParseScanInterval() (time.Duration, error) {
	return parseDuration(t.ScanInterval, time.Second)
}

// ParseNoReceiverInterval parses the "no receiver" cue interval.
func (t *TransmitterConfig) ParseNoReceiverInterval() (time.Duration, error) {
	return parseDuration(t.NoReceiverInterval, 10*time.Second)
}

// ParseSendInterval parses the telemetry interval.
func (t *TransmitterConfig) ParseSendInterval() (time.Duration, error) {
	return parseDuration(t.SendInterval, 5*time.Second)
}

// CommandsEnabled reports whether host commands are read from the port.
func (s *SerialConfig) CommandsEnabled() bool {
	return s.Commands == nil || *s.Commands
}

// Load reads and parses a TOML config file, applies PSGADGET_* environment
// overrides (a .env file in the working directory is honored), then fills
// defaults for unset values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}

	cfg := &Config{}
	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}

	_ = godotenv.Load()
	if err := applyEnv(cfg); err != nil {
		return nil, err
	}
	applyDefaults(cfg)
	cfg.expandPaths()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

func (cfg *Config) expandPaths() {
	cfg.Receiver.RegistryPath = ExpandPath(cfg.Receiver.RegistryPath)
	cfg.Receiver.RPCSocket = ExpandPath(cfg.Receiver.RPCSocket)
}

// Validate checks values that defaults cannot fix.
func (cfg *Config) Validate() error {
	if cfg.Radio.NetworkRange != "" {
		if _, _, err := net.ParseCIDR(cfg.Radio.NetworkRange); err != nil {
			return fmt.Errorf("radio.network_range: %w", err)
		}
	}
	if cfg.Radio.Port < 1 || cfg.Radio.Port > 65535 {
		return fmt.Errorf("radio.port %d out of range", cfg.Radio.Port)
	}
	if cfg.Radio.MAC != "" {
		if mac, err := net.ParseMAC(cfg.Radio.MAC); err != nil || len(mac) != 6 {
			return fmt.Errorf("radio.mac %q is not a 6-byte MAC", cfg.Radio.MAC)
		}
	}
	switch cfg.Receiver.RegistryBackend {
	case "file", "bolt":
	default:
		return fmt.Errorf("receiver.registry_backend %q: want file or bolt", cfg.Receiver.RegistryBackend)
	}
	switch cfg.LED.Indicator {
	case "auto", "terminal", "log", "none":
	default:
		return fmt.Errorf("led.indicator %q: want auto, terminal, log or none", cfg.LED.Indicator)
	}
	frameFields := []struct {
		name  string
		value string
	}{
		{"transmitter.gadget_type", cfg.Transmitter.GadgetType},
		{"transmitter.serial_number", cfg.Transmitter.SerialNumber},
		{"transmitter.machine_type", cfg.Transmitter.MachineType},
		{"transmitter.battery", cfg.Transmitter.Battery},
		{"transmitter.payload", cfg.Transmitter.Payload},
	}
	for _, f := range frameFields {
		if strings.ContainsAny(f.value, "|\n") {
			return fmt.Errorf("%s must not contain '|' or newlines", f.name)
		}
	}

	durations := []struct {
		name  string
		parse func() (time.Duration, error)
	}{
		{"receiver.advertise_interval", cfg.Receiver.ParseAdvertiseInterval},
		{"receiver.heartbeat_interval", cfg.Receiver.ParseHeartbeatInterval},
		{"receiver.flush_interval", cfg.Receiver.ParseFlushInterval},
		{"receiver.stale_threshold", cfg.Receiver.ParseStaleThreshold},
		{"transmitter.scan_interval", cfg.Transmitter.ParseScanInterval},
		{"transmitter.no_receiver_interval", cfg.Transmitter.ParseNoReceiverInterval},
		{"transmitter.send_interval", cfg.Transmitter.ParseSendInterval},
	}
	for _, d := range durations {
		v, err := d.parse()
		if err != nil {
			return fmt.Errorf("%s: %w", d.name, err)
		}
		if v < 0 {
			return fmt.Errorf("%s must not be negative", d.name)
		}
	}
	return nil
}

// ExpandPath expands tilde (~) to the user's home directory.
func ExpandPath(path string) string {
	if !strings.HasPrefix(path, "~") {
		return path
	}
	usr, err := user.Current()
	if err != nil {
		return path
	}
	if path == "~" {
		return usr.HomeDir
	}
	if strings.HasPrefix(path, "~/") {
		return filepath.Join(usr.HomeDir, path[2:])
	}
	return path
}

func applyDefaults(cfg *Config) {

	// Radio defaults
	if cfg.Radio.Port == 0 {
		cfg.Radio.Port = 6565
	}

	// Receiver defaults
	if cfg.Receiver.NetworkName == "" {
		cfg.Receiver.NetworkName = "PsGadget-CT"
	}
	if cfg.Receiver.AdvertiseInterval == "" {
		cfg.Receiver.AdvertiseInterval = "5s"
	}
	if cfg.Receiver.HeartbeatInterval == "" {
		cfg.Receiver.HeartbeatInterval = "30s"
	}
	if cfg.Receiver.RegistryBackend == "" {
		cfg.Receiver.RegistryBackend = "file"
	}
	if cfg.Receiver.RegistryPath == "" {
		if cfg.Receiver.RegistryBackend == "bolt" {
			cfg.Receiver.RegistryPath = "/var/lib/psgadget/peers.db"
		} else {
			cfg.Receiver.RegistryPath = "/var/lib/psgadget/known_devices.txt"
		}
	}
	if cfg.Receiver.FlushInterval == "" {
		cfg.Receiver.FlushInterval = "0s"
	}
	if cfg.Receiver.QueueSize == 0 {
		cfg.Receiver.QueueSize = 64
	}
	if cfg.Receiver.RPCSocket == "" {
		cfg.Receiver.RPCSocket = "/run/psgadget/receiver.sock"
	}
	if cfg.Receiver.StaleThreshold == "" {
		cfg.Receiver.StaleThreshold = "90s"
	}

	// Transmitter defaults
	if cfg.Transmitter.Match == "" {
		cfg.Transmitter.Match = "PsGadget-CT"
	}
	if cfg.Transmitter.ScanInterval == "" {
		cfg.Transmitter.ScanInterval = "1s"
	}
	if cfg.Transmitter.NoReceiverInterval == "" {
		cfg.Transmitter.NoReceiverInterval = "10s"
	}
	if cfg.Transmitter.SendInterval == "" {
		cfg.Transmitter.SendInterval = "5s"
	}
	if cfg.Transmitter.GadgetType == "" {
		cfg.Transmitter.GadgetType = "PsGadget-IO"
	}
	if cfg.Transmitter.Battery == "" {
		cfg.Transmitter.Battery = "99"
	}

	// Serial defaults
	if cfg.Serial.Baud == 0 {
		cfg.Serial.Baud = 9600
	}
	if cfg.Serial.QueueSize == 0 {
		cfg.Serial.QueueSize = 128
	}

	if cfg.LED.Indicator == "" {
		cfg.LED.Indicator = "auto"
	}
	if cfg.MQTT.Topic == "" {
		cfg.MQTT.Topic = "psgadget/telemetry"
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
}
