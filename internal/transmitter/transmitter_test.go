package transmitter

import (
	"context"
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"psgadget/internal/beacon"
	"psgadget/internal/discovery"
	"psgadget/internal/led"
	"psgadget/internal/radio"
	"psgadget/internal/telemetry"
)

type fixedSensors struct {
	temp float64
	err  error
}

func (f fixedSensors) CPUTemperature() (float64, error) { return f.temp, f.err }
func (f fixedSensors) BatteryStatus() string             { return "99" }

type patterns struct {
	mu  sync.Mutex
	got []led.Pattern
}

func (p *patterns) Trigger(pat led.Pattern) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.got = append(p.got, pat)
}

func (p *patterns) last() led.Pattern {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.got) == 0 {
		return led.Pattern{}
	}
	return p.got[len(p.got)-1]
}

func mustMAC(t *testing.T, s string) net.HardwareAddr {
	t.Helper()
	mac, err := net.ParseMAC(s)
	if err != nil {
		t.Fatalf("parse MAC: %v", err)
	}
	return mac
}

func TestColorPayload(t *testing.T) {
	got := colorPayload(led.Color{R: 12, G: 34, B: 56})
	if got != "rgb(12, 34, 56)" {
		t.Errorf("colorPayload: got %q", got)
	}
	cmd, ok := telemetry.ParseLedCommand(got)
	if !ok || cmd != (telemetry.LedCommand{Red: 12, Green: 34, Blue: 56}) {
		t.Errorf("payload does not parse back: %+v %v", cmd, ok)
	}
}

func TestSendOnce(t *testing.T) {
	medium := radio.NewMedium()
	rxMAC := mustMAC(t, "aa:bb:cc:dd:ee:ff")
	rx := medium.Join(rxMAC)
	tx := medium.Join(mustMAC(t, "11:22:33:44:55:66"))
	if err := tx.AddPeer(rxMAC); err != nil {
		t.Fatalf("add peer: %v", err)
	}

	got := make(chan radio.Datagram, 1)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go rx.Listen(ctx, func(d radio.Datagram) { got <- d })
	for !rx.Listening() {
		time.Sleep(time.Millisecond)
	}

	sig := &patterns{}
	tr := New(tx, discovery.NewBinder(tx, "", zerolog.Nop()), fixedSensors{temp: 45.2}, sig,
		Config{SerialNumber: "S123", MachineType: "ESP32"}, zerolog.Nop(),
		WithColorSource(func() led.Color { return led.Color{R: 1, G: 2, B: 3} }))

	if _, err := tr.SendOnce(rxMAC); err != nil {
		t.Fatalf("send: %v", err)
	}

	d := <-got
	want := "PsGadget-IO|S123|ESP32|45.2|99|rgb(1, 2, 3)"
	if string(d.Payload) != want {
		t.Errorf("frame: got %q, want %q", d.Payload, want)
	}
	if p := sig.last(); p.Name != "sent" || p.Color != (led.Color{R: 1, G: 2, B: 3}) {
		t.Errorf("LED: %+v", p)
	}
}

func TestSendOnce_Failures(t *testing.T) {
	medium := radio.NewMedium()
	rxMAC := mustMAC(t, "aa:bb:cc:dd:ee:ff")
	medium.Join(rxMAC)
	tx := medium.Join(mustMAC(t, "11:22:33:44:55:66"))

	sig := &patterns{}
	tr := New(tx, discovery.NewBinder(tx, "", zerolog.Nop()), fixedSensors{}, sig,
		Config{SerialNumber: "S1", MachineType: "x86_64", Payload: "bad|payload"}, zerolog.Nop())

	if _, err := tr.SendOnce(rxMAC); !errors.Is(err, telemetry.ErrFieldDelimiter) {
		t.Errorf("expected ErrFieldDelimiter, got %v", err)
	}

	tr.cfg.Payload = "hello"
	if _, err := tr.SendOnce(rxMAC); !errors.Is(err, radio.ErrNotRegistered) {
		t.Errorf("expected ErrNotRegistered, got %v", err)
	}

	if _, failed := tr.Counts(); failed != 2 {
		t.Errorf("failed: got %d, want 2", failed)
	}
	if p := sig.last(); p.Name != "error" {
		t.Errorf("LED: %+v", p)
	}
}

func TestSendOnce_SensorFailureReportsZero(t *testing.T) {
	medium := radio.NewMedium()
	rxMAC := mustMAC(t, "aa:bb:cc:dd:ee:ff")
	medium.Join(rxMAC)
	tx := medium.Join(mustMAC(t, "11:22:33:44:55:66"))
	tx.AddPeer(rxMAC)

	tr := New(tx, discovery.NewBinder(tx, "", zerolog.Nop()), fixedSensors{err: errors.New("no sensor")}, nil,
		Config{SerialNumber: "S1", MachineType: "x86_64", Payload: "hello"}, zerolog.Nop())

	frame, err := tr.SendOnce(rxMAC)
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if frame.CPUTemperature != "0" {
		t.Errorf("temperature: got %q", frame.CPUTemperature)
	}
}

func TestRun_BindsAndReports(t *testing.T) {
	medium := radio.NewMedium()
	rxMAC := mustMAC(t, "aa:bb:cc:dd:ee:ff")
	rx := medium.Join(rxMAC)
	tx := medium.Join(mustMAC(t, "11:22:33:44:55:66"))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	frames := make(chan string, 8)
	go rx.Listen(ctx, func(d radio.Datagram) {
		if !radio.SameMAC(d.Source, tx.LocalMAC()) {
			return
		}
		select {
		case frames <- string(d.Payload):
		default:
		}
	})
	go beacon.NewAdvertiser(rx, "", 5*time.Millisecond, zerolog.Nop()).Run(ctx)

	binder := discovery.NewBinder(tx, "PsGadget-CT", zerolog.Nop(), discovery.WithScanInterval(5*time.Millisecond))
	tr := New(tx, binder, fixedSensors{temp: 40}, nil,
		Config{SerialNumber: "S9", MachineType: "ESP32", SendInterval: 10 * time.Millisecond}, zerolog.Nop())

	done := make(chan error, 1)
	go func() { done <- tr.Run(ctx) }()

	select {
	case f := <-frames:
		decoded, err := telemetry.Decode([]byte(f))
		if err != nil {
			t.Fatalf("receiver got undecodable frame %q: %v", f, err)
		}
		if decoded.SerialNumber != "S9" {
			t.Errorf("serial: %q", decoded.SerialNumber)
		}
		if _, ok := decoded.LedCommand(); !ok {
			t.Errorf("random payload %q should be an LED command", decoded.Payload)
		}
	case <-ctx.Done():
		t.Fatal("no telemetry received")
	}

	cancel()
	if err := <-done; err != nil {
		t.Errorf("run: %v", err)
	}
	if binder.State().Phase != discovery.Bound {
		t.Errorf("binder state: %v", binder.State())
	}
}
