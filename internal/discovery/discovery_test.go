package discovery

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"psgadget/internal/beacon"
	"psgadget/internal/led"
	"psgadget/internal/radio"
)

func mustMAC(t *testing.T, s string) net.HardwareAddr {
	t.Helper()
	mac, err := net.ParseMAC(s)
	if err != nil {
		t.Fatalf("parse MAC %q: %v", s, err)
	}
	return mac
}

func TestBinder_OfferTransitionsOnce(t *testing.T) {
	medium := radio.NewMedium()
	rxA := mustMAC(t, "aa:bb:cc:dd:ee:ff")
	rxB := mustMAC(t, "aa:bb:cc:dd:ee:01")
	medium.Join(rxA)
	medium.Join(rxB)
	tx := medium.Join(mustMAC(t, "11:22:33:44:55:66"))

	b := NewBinder(tx, "PsGadget-CT", zerolog.Nop())
	if b.State().Phase != Searching {
		t.Fatalf("initial state: %v", b.State())
	}

	ignored := []string{
		"hello world",
		"aa:bb:cc:dd:ee:01:SomeoneElse",
		"PsGadget-CT",
	}
	for _, p := range ignored {
		if b.Offer(radio.Datagram{Source: rxB, Payload: []byte(p)}) {
			t.Errorf("offer %q should be ignored", p)
		}
	}

	transitions := 0
	for _, p := range []string{"aa:bb:cc:dd:ee:ff:PsGadget-CT", "aa:bb:cc:dd:ee:01:PsGadget-CT"} {
		if b.Offer(radio.Datagram{Payload: []byte(p)}) {
			transitions++
		}
	}
	if transitions != 1 {
		t.Errorf("transitions: got %d, want 1", transitions)
	}

	s := b.State()
	if s.Phase != Bound || s.Receiver.String() != "aa:bb:cc:dd:ee:ff" {
		t.Errorf("state: got %v, want bound(aa:bb:cc:dd:ee:ff)", s)
	}
	if err := tx.Send(rxA, []byte("x")); err != nil {
		t.Errorf("receiver should be registered as a peer: %v", err)
	}
}

func TestBinder_SubstringMatch(t *testing.T) {
	medium := radio.NewMedium()
	medium.Join(mustMAC(t, "aa:bb:cc:dd:ee:ff"))
	tx := medium.Join(mustMAC(t, "11:22:33:44:55:66"))

	b := NewBinder(tx, "PsGadget-CT", zerolog.Nop())
	if !b.Offer(radio.Datagram{Payload: []byte("aa:bb:cc:dd:ee:ff:Lab-PsGadget-CT-2")}) {
		t.Error("network name containing the match should bind")
	}
}

func TestBinder_UnknownPeerStaysSearching(t *testing.T) {
	medium := radio.NewMedium()
	tx := medium.Join(mustMAC(t, "11:22:33:44:55:66"))

	b := NewBinder(tx, "PsGadget-CT", zerolog.Nop())
	if b.Offer(radio.Datagram{Payload: []byte("aa:bb:cc:dd:ee:ff:PsGadget-CT")}) {
		t.Error("bind should fail when the peer cannot be registered")
	}
	if b.State().Phase != Searching {
		t.Errorf("state: %v", b.State())
	}
}

func TestBinder_RunBindsToAdvertiser(t *testing.T) {
	medium := radio.NewMedium()
	rx := medium.Join(mustMAC(t, "aa:bb:cc:dd:ee:ff"))
	tx := medium.Join(mustMAC(t, "11:22:33:44:55:66"))

	adv := beacon.NewAdvertiser(rx, "PsGadget-CT", 5*time.Millisecond, zerolog.Nop())
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	go adv.Run(ctx)

	b := NewBinder(tx, "PsGadget-CT", zerolog.Nop(), WithScanInterval(5*time.Millisecond))
	mac, err := b.Run(ctx)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if mac.String() != "aa:bb:cc:dd:ee:ff" {
		t.Errorf("bound to %s", mac)
	}

	// Already bound: returns at once.
	again, err := b.Run(ctx)
	if err != nil || again.String() != mac.String() {
		t.Errorf("second run: %v %v", again, err)
	}
}

type countingIndicator struct{ n chan led.Color }

func (c countingIndicator) Set(col led.Color) error {
	select {
	case c.n <- col:
	default:
	}
	return nil
}

func TestBinder_RunSignalsNoReceiver(t *testing.T) {
	medium := radio.NewMedium()
	tx := medium.Join(mustMAC(t, "11:22:33:44:55:66"))

	ind := countingIndicator{n: make(chan led.Color, 16)}
	m := led.NewMachine(ind, zerolog.Nop())
	defer m.Stop()

	b := NewBinder(tx, "PsGadget-CT", zerolog.Nop(),
		WithScanInterval(5*time.Millisecond),
		WithNoReceiverInterval(10*time.Millisecond),
		WithLED(m))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := b.Run(ctx)
		done <- err
	}()

	select {
	case c := <-ind.n:
		if c != led.NoReceiver.Color {
			t.Errorf("first LED color: got %v, want %v", c, led.NoReceiver.Color)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no-receiver cue never fired")
	}

	cancel()
	if err := <-done; err != context.Canceled {
		t.Errorf("run error: got %v, want context.Canceled", err)
	}
}
