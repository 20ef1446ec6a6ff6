// Package uplink publishes received telemetry to an MQTT broker.
package uplink

import (
	"encoding/json"
	"fmt"
	"net"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"psgadget/internal/telemetry"
)

const (
	connectTimeout = 5 * time.Second
	publishQoS     = 0
)

// Config selects the broker and topic.
type Config struct {
	Broker   string
	Topic    string
	ClientID string
	Username string
	Password string
}

// Message is the JSON document published for each frame.
type Message struct {
	MAC            string    `json:"mac"`
	GadgetType     string    `json:"gadget_type"`
	SerialNumber   string    `json:"serial_number"`
	MachineType    string    `json:"machine_type"`
	CPUTemperature *float64  `json:"cpu_temperature"`
	BatteryStatus  string    `json:"battery_status"`
	Payload        string    `json:"payload"`
	LED            *LED      `json:"led,omitempty"`
	ReceivedAt     time.Time `json:"received_at"`
}

// LED is the color requested by the frame's payload, if any.
type LED struct {
	R uint8 `json:"r"`
	G uint8 `json:"g"`
	B uint8 `json:"b"`
}

// NewMessage builds the published document for a frame from src.
func NewMessage(src net.HardwareAddr, f telemetry.TelemetryFrame, at time.Time) Message {
	m := Message{
		MAC:            src.String(),
		GadgetType:     f.GadgetType,
		SerialNumber:   f.SerialNumber,
		MachineType:    f.MachineType,
		BatteryStatus:  f.BatteryStatus,
		Payload:        f.Payload,
		ReceivedAt:     at.UTC(),
	}
	if v, ok := f.Temperature(); ok {
		m.CPUTemperature = &v
	}
	if cmd, ok := f.LedCommand(); ok {
		m.LED = &LED{R: cmd.Red, G: cmd.Green, B: cmd.Blue}
	}
	return m
}

// Topic returns the per-device topic under base.
func Topic(base string, src net.HardwareAddr) string {
	return strings.TrimRight(base, "/") + "/" + strings.ReplaceAll(src.String(), ":", "")
}

// Client publishes frames. Publishing is asynchronous and best effort.
type Client struct {
	client mqtt.Client
	topic  string
	log    zerolog.Logger
}

// Connect starts a client for cfg. If the broker is not reachable within a
// few seconds the client keeps retrying in the background and Connect
// returns without error.
func Connect(cfg Config, log zerolog.Logger) (*Client, error) {
	if cfg.Broker == "" {
		return nil, fmt.Errorf("mqtt broker not configured")
	}
	clientID := cfg.ClientID
	if clientID == "" {
		clientID = "psgadget-" + uuid.NewString()
	}

	opts := mqtt.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(clientID).
		SetKeepAlive(30 * time.Second).
		SetPingTimeout(10 * time.Second).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second).
		SetCleanSession(true)

	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}

	opts.OnConnectionLost = func(_ mqtt.Client, err error) {
		log.Error().Err(err).Msg("MQTT connection lost")
	}
	opts.OnConnect = func(mqtt.Client) {
		log.Info().Str("broker", cfg.Broker).Str("client_id", clientID).Msg("MQTT connected")
	}

	c := &Client{
		client: mqtt.NewClient(opts),
		topic:  cfg.Topic,
		log:    log,
	}

	tk := c.client.Connect()
	if !tk.WaitTimeout(connectTimeout) {
		log.Warn().Str("broker", cfg.Broker).Msg("MQTT broker not reachable yet, retrying in background")
		return c, nil
	}
	if err := tk.Error(); err != nil {
		return nil, fmt.Errorf("connecting to %s: %w", cfg.Broker, err)
	}
	return c, nil
}

// Publish sends the frame from src without waiting for the broker.
func (c *Client) Publish(src net.HardwareAddr, f telemetry.TelemetryFrame, at time.Time) {
	data, err := json.Marshal(NewMessage(src, f, at))
	if err != nil {
		c.log.Error().Err(err).Msg("Failed to marshal uplink message")
		return
	}

	topic := Topic(c.topic, src)
	token := c.client.Publish(topic, publishQoS, false, data)
	go func() {
		<-token.Done()
		if err := token.Error(); err != nil {
			c.log.Warn().Err(err).Str("topic", topic).Msg("Failed to publish telemetry")
			return
		}
		c.log.Debug().Str("topic", topic).Int("bytes", len(data)).Msg("Telemetry published")
	}()
}

// Close disconnects from the broker.
func (c *Client) Close() {
	c.client.Disconnect(500)
}
