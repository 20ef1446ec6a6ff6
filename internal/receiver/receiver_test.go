package receiver

import (
	"bytes"
	"context"
	"errors"
	"net"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"psgadget/internal/led"
	"psgadget/internal/radio"
	"psgadget/internal/serial"
	"psgadget/internal/store"
	"psgadget/internal/telemetry"
)

const sampleFrame = "PsGadget-IO|S123|ESP32|45.2|99|rgb(0,0,0)"

func mustMAC(t *testing.T, s string) net.HardwareAddr {
	t.Helper()
	mac, err := net.ParseMAC(s)
	if err != nil {
		t.Fatalf("parse MAC: %v", err)
	}
	return mac
}

type patterns struct {
	mu  sync.Mutex
	got []led.Pattern
}

func (p *patterns) Trigger(pat led.Pattern) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.got = append(p.got, pat)
}

func (p *patterns) named(name string) []led.Pattern {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []led.Pattern
	for _, pat := range p.got {
		if pat.Name == name {
			out = append(out, pat)
		}
	}
	return out
}

type touches struct {
	mu   sync.Mutex
	macs []string
}

func (s *touches) Touch(mac string, _ time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.macs = append(s.macs, mac)
	return len(s.macs) == 1, nil
}

func (s *touches) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.macs)
}

type forwards struct {
	mu     sync.Mutex
	frames [][]byte
	err    error
}

func (f *forwards) Forward(frame []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.frames = append(f.frames, append([]byte(nil), frame...))
	return f.err
}

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (s *syncBuffer) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buf.Write(p)
}

func (s *syncBuffer) String() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buf.String()
}

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) { return 0, errors.New("port gone") }

func newTestReceiver(t *testing.T, peers PeerStore, out Forwarder, sig Signaler) (*Receiver, *radio.Medium) {
	t.Helper()
	medium := radio.NewMedium()
	rx := medium.Join(mustMAC(t, "aa:bb:cc:dd:ee:ff"))
	r := New(rx, peers, out, sig, Config{AdvertiseInterval: time.Hour}, zerolog.Nop())
	return r, medium
}

func TestHandle_ValidFrame(t *testing.T) {
	peers := &touches{}
	out := &forwards{}
	sig := &patterns{}
	r, _ := newTestReceiver(t, peers, out, sig)

	src := mustMAC(t, "11:22:33:44:55:66")
	if err := r.Handle(radio.Datagram{Source: src, Payload: []byte(sampleFrame)}); err != nil {
		t.Fatalf("handle: %v", err)
	}

	if len(peers.macs) != 1 || peers.macs[0] != "11:22:33:44:55:66" {
		t.Errorf("touches: %v", peers.macs)
	}
	if len(out.frames) != 1 || string(out.frames[0]) != sampleFrame {
		t.Errorf("forwards: %q", out.frames)
	}
	cmds := sig.named("command")
	if len(cmds) != 1 || cmds[0].Color != (led.Color{}) {
		t.Errorf("command cues: %+v", cmds)
	}
	if len(sig.named("message")) != 0 {
		t.Error("message cue should not fire for a frame carrying an LED command")
	}
}

func TestHandle_PlainPayloadSignalsMessage(t *testing.T) {
	sig := &patterns{}
	r, _ := newTestReceiver(t, &touches{}, &forwards{}, sig)

	r.Handle(radio.Datagram{Source: mustMAC(t, "11:22:33:44:55:66"), Payload: []byte("PsGadget-IO|S1|ESP32|40|99|hello")})
	if len(sig.named("message")) != 1 {
		t.Errorf("message cues: %+v", sig.got)
	}
}

func TestHandle_NonNumericTemperatureIsForwarded(t *testing.T) {
	peers := &touches{}
	out := &forwards{}
	sig := &patterns{}
	r, _ := newTestReceiver(t, peers, out, sig)

	frame := "PsGadget-IO|S1|ESP32|N/A|99|rgb(1,2,3)"
	if err := r.Handle(radio.Datagram{Source: mustMAC(t, "11:22:33:44:55:66"), Payload: []byte(frame)}); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if len(peers.macs) != 1 {
		t.Errorf("touches: %v", peers.macs)
	}
	if len(out.frames) != 1 || string(out.frames[0]) != frame {
		t.Errorf("forwards: %q", out.frames)
	}
	if len(sig.named("error")) != 0 {
		t.Errorf("error cue fired: %+v", sig.got)
	}
}

func TestHandle_MalformedFrame(t *testing.T) {
	peers := &touches{}
	out := &forwards{}
	sig := &patterns{}
	r, _ := newTestReceiver(t, peers, out, sig)

	err := r.Handle(radio.Datagram{Source: mustMAC(t, "11:22:33:44:55:66"), Payload: []byte("a|b|c")})
	if !errors.Is(err, telemetry.ErrMalformedFrame) {
		t.Fatalf("expected ErrMalformedFrame, got %v", err)
	}
	if len(peers.macs) != 0 || len(out.frames) != 0 {
		t.Error("malformed frames must not be recorded or forwarded")
	}
	if len(sig.named("error")) != 1 {
		t.Errorf("error cue: %+v", sig.got)
	}
	if s := r.Status(); s.Malformed != 1 || s.Frames != 0 {
		t.Errorf("status: %+v", s)
	}
}

func TestHandle_ForwardFailureStillTouches(t *testing.T) {
	peers := &touches{}
	out := &forwards{err: serial.ErrQueueFull}
	r, _ := newTestReceiver(t, peers, out, &patterns{})

	src := mustMAC(t, "11:22:33:44:55:66")
	for i := 0; i < 2; i++ {
		if err := r.Handle(radio.Datagram{Source: src, Payload: []byte(sampleFrame)}); err != nil {
			t.Fatalf("handle should not surface forward errors: %v", err)
		}
	}
	if len(peers.macs) != 2 {
		t.Errorf("touches: got %d, want 2", len(peers.macs))
	}
	if s := r.Status(); s.SerialFailures != 2 {
		t.Errorf("serial failures: got %d", s.SerialFailures)
	}
}

func TestHandle_SerialWriteFailureIsolation(t *testing.T) {
	reg, err := store.Open(store.NewFileBackend(filepath.Join(t.TempDir(), "known_devices.txt"), time.UTC), zerolog.Nop())
	if err != nil {
		t.Fatalf("open registry: %v", err)
	}
	defer reg.Close()

	bridge := serial.NewBridge(failingWriter{}, zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		bridge.Run(ctx)
		close(done)
	}()

	r, _ := newTestReceiver(t, reg, bridge, &patterns{})
	srcA := mustMAC(t, "11:22:33:44:55:66")
	srcB := mustMAC(t, "11:22:33:44:55:77")
	r.Handle(radio.Datagram{Source: srcA, Payload: []byte(sampleFrame)})
	r.Handle(radio.Datagram{Source: srcB, Payload: []byte(sampleFrame)})

	cancel()
	<-done

	if bridge.Stats().Failed != 2 {
		t.Errorf("failed writes: got %d, want 2", bridge.Stats().Failed)
	}
	for _, mac := range []string{"11:22:33:44:55:66", "11:22:33:44:55:77"} {
		if _, ok := reg.Lookup(mac); !ok {
			t.Errorf("peer %s not recorded", mac)
		}
	}
}

func TestRun_EndToEnd(t *testing.T) {
	reg, err := store.Open(store.NewFileBackend(filepath.Join(t.TempDir(), "known_devices.txt"), time.UTC), zerolog.Nop())
	if err != nil {
		t.Fatalf("open registry: %v", err)
	}
	defer reg.Close()

	var host syncBuffer
	bridge := serial.NewBridge(&host, zerolog.Nop())
	sig := &patterns{}

	medium := radio.NewMedium()
	rxMAC := mustMAC(t, "aa:bb:cc:dd:ee:ff")
	rx := medium.Join(rxMAC)
	tx := medium.Join(mustMAC(t, "11:22:33:44:55:66"))

	r := New(rx, reg, bridge, sig, Config{AdvertiseInterval: time.Hour}, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	wg.Add(2)
	go func() { defer wg.Done(); bridge.Run(ctx) }()
	go func() { defer wg.Done(); r.Run(ctx) }()

	for !rx.Listening() {
		time.Sleep(time.Millisecond)
	}
	if err := tx.AddPeer(rxMAC); err != nil {
		t.Fatalf("add peer: %v", err)
	}
	if err := tx.Send(rxMAC, []byte(sampleFrame)); err != nil {
		t.Fatalf("send: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for host.String() == "" && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	cancel()
	wg.Wait()

	if got := host.String(); got != sampleFrame+"\n" {
		t.Errorf("host received %q", got)
	}
	if reg.Len() != 1 {
		t.Errorf("registry: got %d peers, want 1", reg.Len())
	}
	if _, ok := reg.Lookup("11:22:33:44:55:66"); !ok {
		t.Error("sender not recorded")
	}
	cmds := sig.named("command")
	if len(cmds) != 1 || cmds[0].Color != (led.Color{}) {
		t.Errorf("command cues: %+v", cmds)
	}
}

func TestStatusLine(t *testing.T) {
	r, _ := newTestReceiver(t, &touches{}, &forwards{}, &patterns{})
	r.Handle(radio.Datagram{Source: mustMAC(t, "11:22:33:44:55:66"), Payload: []byte(sampleFrame)})

	want := "PsGadget receiver status: Active peers=1 frames=1 malformed=0"
	if got := r.StatusLine(); got != want {
		t.Errorf("StatusLine: got %q, want %q", got, want)
	}
}
