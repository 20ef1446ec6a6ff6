package node

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
)

const defaultConfigTemplate = `[radio]
  network_range = "192.168.1.0/24"
  port          = 6565

[receiver]
  network_name       = "PsGadget-CT"
  advertise_interval = "5s"
  heartbeat_interval = "30s"
  registry_backend   = "file"
  registry_path      = "/var/lib/psgadget/known_devices.txt"
  flush_interval     = "0s"
  queue_size         = 64
  rate_limit         = 0
  rpc_socket         = "/run/psgadget/receiver.sock"
  stale_threshold    = "90s"

[transmitter]
  match                = "PsGadget-CT"
  scan_interval        = "1s"
  no_receiver_interval = "10s"
  send_interval        = "5s"
  gadget_type          = "PsGadget-IO"
  battery              = "99"

[serial]
  port       = ""
  baud       = 9600
  queue_size = 128
  commands   = true

[led]
  indicator = "auto"

[mqtt]
  broker = ""
  topic  = "psgadget/telemetry"

[log]
  level = "info"
`

// EditConfig opens the configuration file in the system editor.
// If the file does not exist, it creates it with default values.
func EditConfig(path string) error {
	dir := filepath.Dir(path)
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("creating directory %s: %w", dir, err)
		}
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		fmt.Printf("Creating new config file at %s...\n", path)
		if err := os.WriteFile(path, []byte(defaultConfigTemplate), 0644); err != nil {
			return fmt.Errorf("writing default config: %w", err)
		}
	}

	editor := os.Getenv("EDITOR")
	if editor == "" {
		for _, e := range []string{"vi", "nano", "vim"} {
			if _, err := exec.LookPath(e); err == nil {
				editor = e
				break
			}
		}
	}

	if editor == "" {
		return fmt.Errorf("no editor found ($EDITOR environment variable not set, and vi/nano/vim not in PATH)")
	}

	cmd := exec.Command(editor, path)
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	return cmd.Run()
}
