// Package peers implements the psgadget peers command: a table of the
// transmitters a running receiver has heard from.
package peers

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"psgadget/internal/receiver"
	"psgadget/internal/rpc"
	"psgadget/internal/store"
	"psgadget/pkg/config"
)

var (
	activeStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	staleStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	titleStyle  = lipgloss.NewStyle().Bold(true)
)

// Run prints known peers and receiver status.
func Run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	client, err := rpc.NewClient(cfg.Receiver.RPCSocket)
	if err != nil {
		return fmt.Errorf("connecting to receiver: %w\nIs 'psgadget receiver' running?", err)
	}
	defer client.Close()

	status, err := client.Status()
	if err != nil {
		return fmt.Errorf("fetching status: %w", err)
	}
	peers, err := client.ListPeers()
	if err != nil {
		return fmt.Errorf("fetching peers: %w", err)
	}

	displayStatus(os.Stdout, status)
	if len(peers) == 0 {
		fmt.Println("\nNo transmitters seen yet. Make sure transmitters are running.")
		return nil
	}

	fmt.Println(titleStyle.Render(fmt.Sprintf("\n  Known Peers (%d)\n", len(peers))))
	displayPeerTable(os.Stdout, peers, time.Now())
	return nil
}

func displayStatus(w io.Writer, s receiver.Status) {
	fmt.Fprintf(w, "\n  Receiver %s on %q, up %s\n", s.MAC, s.NetworkName, s.Uptime)
	fmt.Fprintf(w, "  frames=%d malformed=%d serial_failures=%d dropped=%d rate_limited=%d\n",
		s.Frames, s.Malformed, s.SerialFailures, s.Queue.Dropped, s.Queue.RateLimited)
}

func displayPeerTable(w io.Writer, peers []store.PeerStatus, now time.Time) {
	fmt.Fprintf(w, "  %-4s %-18s %-20s %-12s %-6s\n",
		"#", "MAC Address", "Last Seen", "Ago", "State")
	fmt.Fprintf(w, "  %s %s %s %s %s\n",
		strings.Repeat("─", 4),
		strings.Repeat("─", 18),
		strings.Repeat("─", 20),
		strings.Repeat("─", 12),
		strings.Repeat("─", 6))

	for i, p := range peers {
		state := staleStyle.Render("stale")
		if p.Active {
			state = activeStyle.Render("active")
		}
		fmt.Fprintf(w, "  %-4d %-18s %-20s %-12s %s\n",
			i+1,
			p.MAC,
			p.LastSeen.Format("2006-01-02 15:04:05"),
			ago(now.Sub(p.LastSeen)),
			state,
		)
	}
}

func ago(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	return d.Round(time.Second).String()
}
