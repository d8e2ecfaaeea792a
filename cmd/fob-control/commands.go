package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/remotekey/fob-command/pkg/cli"
	"github.com/remotekey/fob-command/pkg/hostlink"
)

var (
	ErrCommandLineArgs = errors.New("invalid command line arguments")
	ErrUnknownCommand  = errors.New("unrecognized command")
)

type Argument struct {
	name string
	help string
}

type Handler func(client *hostlink.Client, config *cli.Config, args map[string]string) error

type Command struct {
	help string
	// requiresDevice is true for commands that talk to a device; keyring
	// management commands run without a connection.
	requiresDevice bool
	args           []Argument
	handler        Handler
}

func (c *Command) Usage(name string) {
	fmt.Printf("Usage: %s", name)
	for _, arg := range c.args {
		fmt.Printf(" %s", arg.name)
	}
	fmt.Printf("\n%s\n", c.help)
	if len(c.args) > 0 {
		fmt.Println("Arguments:")
		for _, arg := range c.args {
			fmt.Printf("  %-13s %s\n", arg.name, arg.help)
		}
	}
}

// doSimple sends one host command and prints the response value, if any.
func doSimple(client *hostlink.Client, cmd string) error {
	rsp, err := client.Do(cmd)
	if err != nil {
		return err
	}
	if err := rsp.Err(); err != nil {
		return err
	}
	if rsp.Value != "" {
		fmt.Println(rsp.Value)
	}
	return nil
}

var commands = map[string]*Command{
	"pair": &Command{
		help:           "Pair the connected fob's credentials onto a second, unpaired fob",
		requiresDevice: true,
		handler: func(client *hostlink.Client, config *cli.Config, args map[string]string) error {
			pin, err := config.LoadPIN()
			if err != nil {
				return fmt.Errorf("no pairing PIN available: %w", err)
			}
			return doSimple(client, "pair "+pin)
		},
	},
	"enable": &Command{
		help:           "Install a feature enable packet on the connected fob",
		requiresDevice: true,
		args: []Argument{
			Argument{name: "PACKET", help: "Hex-encoded enable packet from fob-package"},
		},
		handler: func(client *hostlink.Client, config *cli.Config, args map[string]string) error {
			return doSimple(client, "enable "+args["PACKET"])
		},
	},
	"unlock": &Command{
		help:           "Simulate an unlock button press (device must run with -test-mode)",
		requiresDevice: true,
		handler: func(client *hostlink.Client, config *cli.Config, args map[string]string) error {
			return doSimple(client, "btnPress")
		},
	},
	"status": &Command{
		help:           "Report whether the connected fob is paired (device must run with -test-mode)",
		requiresDevice: true,
		handler: func(client *hostlink.Client, config *cli.Config, args map[string]string) error {
			rsp, err := client.Do("isPaired")
			if err != nil {
				return err
			}
			if err := rsp.Err(); err != nil {
				return err
			}
			fmt.Printf("paired: %s\n", rsp.Value)
			return nil
		},
	},
	"flash-read": &Command{
		help:           "Dump the fob's persistent state as hex (device must run with -test-mode)",
		requiresDevice: true,
		handler: func(client *hostlink.Client, config *cli.Config, args map[string]string) error {
			return doSimple(client, "getFlashData")
		},
	},
	"flash-write": &Command{
		help:           "Overwrite the fob's persistent state (device must run with -test-mode)",
		requiresDevice: true,
		args: []Argument{
			Argument{name: "DATA", help: "Hex-encoded state image"},
		},
		handler: func(client *hostlink.Client, config *cli.Config, args map[string]string) error {
			return doSimple(client, "setFlashData "+args["DATA"])
		},
	},
	"restart": &Command{
		help:           "Restart the device firmware (device must run with -test-mode)",
		requiresDevice: true,
		handler: func(client *hostlink.Client, config *cli.Config, args map[string]string) error {
			// The response to a restart is the startup banner itself, so read
			// it raw instead of letting Do skip it.
			if err := client.Send("restart"); err != nil {
				return err
			}
			rsp, err := client.ReadLine()
			if err != nil {
				return err
			}
			if rsp.Raw != hostlink.Banner {
				return rsp.Err()
			}
			fmt.Println("restarted")
			return nil
		},
	},
	"factory-reset": &Command{
		help:           "Erase the fob's persistent state (device must run with -test-mode)",
		requiresDevice: true,
		handler: func(client *hostlink.Client, config *cli.Config, args map[string]string) error {
			return doSimple(client, "reset")
		},
	},
	"raw": &Command{
		help:           "Send a raw host-link line and print the response",
		requiresDevice: true,
		args: []Argument{
			Argument{name: "LINE", help: "Command line to send verbatim"},
		},
		handler: func(client *hostlink.Client, config *cli.Config, args map[string]string) error {
			rsp, err := client.Do(args["LINE"])
			if err != nil {
				return err
			}
			fmt.Println(rsp.Raw)
			return nil
		},
	},
	"monitor": &Command{
		help:           "Print host-link output until interrupted; use against a car to watch unlock results",
		requiresDevice: true,
		handler: func(client *hostlink.Client, config *cli.Config, args map[string]string) error {
			return client.Monitor(os.Stdout)
		},
	},
	"save-pin": &Command{
		help: "Store the pairing PIN in the system keyring",
		args: []Argument{
			Argument{name: "PIN", help: "Six-digit pairing PIN"},
		},
		handler: func(client *hostlink.Client, config *cli.Config, args map[string]string) error {
			return config.SavePIN(args["PIN"])
		},
	},
	"delete-pin": &Command{
		help: "Remove the pairing PIN from the system keyring",
		handler: func(client *hostlink.Client, config *cli.Config, args map[string]string) error {
			return config.DeletePIN()
		},
	},
}

func execute(client *hostlink.Client, config *cli.Config, args []string) error {
	if len(args) == 0 {
		return ErrUnknownCommand
	}
	info, ok := commands[args[0]]
	if !ok {
		return ErrUnknownCommand
	}
	if len(args)-1 != len(info.args) {
		info.Usage(args[0])
		return ErrCommandLineArgs
	}
	if info.requiresDevice && client == nil {
		return fmt.Errorf("command %s requires a device connection", args[0])
	}
	named := make(map[string]string)
	for i, arg := range info.args {
		named[arg.name] = args[i+1]
	}
	return info.handler(client, config, named)
}
