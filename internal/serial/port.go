package serial

import (
	"errors"
	"io"
	"os"

	"github.com/rs/zerolog"
	bugst "go.bug.st/serial"
)

// DefaultBaudRate matches the gateway firmware's UART.
const DefaultBaudRate = 9600

// ErrDetached is returned by writes on a port that could not be opened.
var ErrDetached = errors.New("serial port not attached")

// Open opens the named host port at baud. An empty name uses the process's
// stdin and stdout. A port that cannot be opened yields a detached port whose
// writes fail, so the caller keeps running and the failures are logged per
// frame.
func Open(name string, baud int, log zerolog.Logger) io.ReadWriteCloser {
	if name == "" {
		log.Info().Msg("Serial output on stdout")
		return stdio{}
	}
	if baud <= 0 {
		baud = DefaultBaudRate
	}

	port, err := bugst.Open(name, &bugst.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   bugst.NoParity,
		StopBits: bugst.OneStopBit,
	})
	if err != nil {
		ev := log.Error().Err(err).Str("port", name)
		if available, perr := Ports(); perr == nil {
			ev = ev.Strs("available", available)
		}
		ev.Msg("Failed to open serial port, frames will be discarded")
		return detached{}
	}

	log.Info().Str("port", name).Int("baud", baud).Msg("Serial port opened")
	return port
}

// Ports lists the serial ports present on this host.
func Ports() ([]string, error) {
	return bugst.GetPortsList()
}

type stdio struct{}

func (stdio) Read(p []byte) (int, error)  { return os.Stdin.Read(p) }
func (stdio) Write(p []byte) (int, error) { return os.Stdout.Write(p) }
func (stdio) Close() error                { return nil }

type detached struct{}

func (detached) Read([]byte) (int, error)  { return 0, io.EOF }
func (detached) Write([]byte) (int, error) { return 0, ErrDetached }
func (detached) Close() error              { return nil }
