// psgadget — wireless sensor gateway and telemetry nodes
//
// Usage:
//
//	psgadget receiver    — advertise, ingest telemetry and relay it to the host
//	psgadget transmitter — bind to a receiver and report telemetry
//	psgadget peers       — list transmitters known to a running receiver
package main

import (
	"fmt"
	"os"

	"psgadget/cmd/node"
	"psgadget/cmd/peers"
	"psgadget/cmd/receiver"
	"psgadget/cmd/transmitter"
)

const (
	defaultSystemPath = "/etc/psgadget/config.toml"
	defaultLocalPath  = "config.toml"
	version           = "1.0.0"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	configPath := ""

	// Parse --config flag if present
	args := os.Args[1:]
	for i := 0; i < len(args); i++ {
		arg := args[i]
		if arg == "--config" && i+1 < len(args) {
			configPath = args[i+1]
			args = append(args[:i], args[i+2:]...)
			i--
			continue
		}
		if len(arg) > 9 && arg[:9] == "--config=" {
			configPath = arg[9:]
			args = append(args[:i], args[i+1:]...)
			i--
			continue
		}
	}

	// Auto-discover config if not specified
	if configPath == "" {
		if _, err := os.Stat(defaultLocalPath); err == nil {
			configPath = defaultLocalPath
		} else {
			configPath = defaultSystemPath
		}
	}

	if len(args) == 0 {
		printUsage()
		os.Exit(1)
	}

	subcommand := args[0]
	var err error

	switch subcommand {
	case "receiver":
		err = receiver.Run(configPath)
	case "transmitter":
		err = transmitter.Run(configPath)
	case "peers":
		err = peers.Run(configPath)
	case "edit":
		err = node.EditConfig(configPath)
	case "version":
		fmt.Printf("psgadget v%s\n", version)
		return
	case "help", "--help", "-h":
		printUsage()
		return
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", subcommand)
		printUsage()
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Printf(`psgadget v%s — wireless sensor gateway and telemetry nodes

Usage:
  psgadget <command> [--config <path>]

Commands:
  receiver     Run the gateway (advertise, ingest, relay to serial)
  transmitter  Run a telemetry node (find a receiver, report every interval)
  peers        List transmitters known to the running receiver
  edit         Edit the configuration file in your system editor
  version      Print version information
  help         Show this help message

Options:
  --config <path>  Path to config file (default: looks for ./config.toml, then %s)

Environment:
  PSGADGET_*       Override config values (e.g. PSGADGET_SERIAL_PORT, PSGADGET_MQTT_BROKER);
                   a .env file in the working directory is read first

Examples:
  psgadget receiver                     # Start the gateway with default config
  psgadget transmitter --config tx.toml # Start a node with a specific config
  psgadget peers                        # Show known transmitters

`, version, defaultSystemPath)
}
