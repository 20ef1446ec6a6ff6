package led

import (
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/charmbracelet/lipgloss"
	"github.com/rs/zerolog"
	"golang.org/x/term"
)

// NopIndicator discards every change.
type NopIndicator struct{}

func (NopIndicator) Set(Color) error { return nil }

// LogIndicator reports LED changes as debug log lines.
type LogIndicator struct {
	Log zerolog.Logger
}

func (l LogIndicator) Set(c Color) error {
	l.Log.Debug().Str("color", c.String()).Msg("LED")
	return nil
}

// TerminalIndicator draws a colored swatch for every LED change.
type TerminalIndicator struct {
	mu sync.Mutex
	w  io.Writer
}

// NewTerminalIndicator writes swatches to w.
func NewTerminalIndicator(w io.Writer) *TerminalIndicator {
	return &TerminalIndicator{w: w}
}

func (t *TerminalIndicator) Set(c Color) error {
	swatch := lipgloss.NewStyle().Foreground(lipgloss.Color("#444444")).Render("○")
	if c != Black {
		swatch = lipgloss.NewStyle().Foreground(lipgloss.Color(displayHex(c))).Render("●")
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	_, err := fmt.Fprintf(t.w, "%s LED %s\n", swatch, c)
	return err
}

// displayHex brightens c so its strongest channel is full scale. Firmware
// colors are dim (0..50) and would be unreadable on a terminal as-is.
func displayHex(c Color) string {
	peak := c.R
	if c.G > peak {
		peak = c.G
	}
	if c.B > peak {
		peak = c.B
	}
	if peak == 0 {
		return "#000000"
	}
	scale := func(v uint8) uint8 { return uint8(uint16(v) * 255 / uint16(peak)) }
	return fmt.Sprintf("#%02x%02x%02x", scale(c.R), scale(c.G), scale(c.B))
}

// NewIndicator picks an indicator by mode: "terminal", "log", "none", or
// "auto" (terminal when stderr is a TTY, log otherwise). Swatches go to
// stderr alongside the logs; stdout may be carrying frames to the host.
func NewIndicator(mode string, log zerolog.Logger) (Indicator, error) {
	switch mode {
	case "", "auto":
		if term.IsTerminal(int(os.Stderr.Fd())) {
			return NewTerminalIndicator(os.Stderr), nil
		}
		return LogIndicator{Log: log}, nil
	case "terminal":
		return NewTerminalIndicator(os.Stderr), nil
	case "log":
		return LogIndicator{Log: log}, nil
	case "none":
		return NopIndicator{}, nil
	default:
		return nil, fmt.Errorf("unknown LED indicator %q", mode)
	}
}
