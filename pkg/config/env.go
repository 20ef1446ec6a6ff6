package config

import (
	"fmt"
	"os"
	"strconv"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "PSGADGET_"

// applyEnv overrides file values with any PSGADGET_* variables that are set.
func applyEnv(cfg *Config) error {
	strs := []struct {
		key string
		dst *string
	}{
		{"NETWORK_RANGE", &cfg.Radio.NetworkRange},
		{"MAC", &cfg.Radio.MAC},
		{"NETWORK_NAME", &cfg.Receiver.NetworkName},
		{"REGISTRY_BACKEND", &cfg.Receiver.RegistryBackend},
		{"REGISTRY_PATH", &cfg.Receiver.RegistryPath},
		{"RPC_SOCKET", &cfg.Receiver.RPCSocket},
		{"MATCH", &cfg.Transmitter.Match},
		{"SERIAL_NUMBER", &cfg.Transmitter.SerialNumber},
		{"SERIAL_PORT", &cfg.Serial.Port},
		{"LED_INDICATOR", &cfg.LED.Indicator},
		{"MQTT_BROKER", &cfg.MQTT.Broker},
		{"MQTT_TOPIC", &cfg.MQTT.Topic},
		{"MQTT_USERNAME", &cfg.MQTT.Username},
		{"MQTT_PASSWORD", &cfg.MQTT.Password},
		{"LOG_LEVEL", &cfg.Log.Level},
	}
	for _, s := range strs {
		if v, ok := os.LookupEnv(EnvPrefix + s.key); ok {
			*s.dst = v
		}
	}

	ints := []struct {
		key string
		dst *int
	}{
		{"PORT", &cfg.Radio.Port},
		{"SERIAL_BAUD", &cfg.Serial.Baud},
	}
	for _, i := range ints {
		v, ok := os.LookupEnv(EnvPrefix + i.key)
		if !ok {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s%s: %w", EnvPrefix, i.key, err)
		}
		*i.dst = n
	}
	return nil
}
