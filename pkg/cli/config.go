/*
Package cli facilitates building command-line tools that talk to a device's
host link. It defines a [Config] type that registers common command-line
flags (using the Golang flag package) and environment variable equivalents.

The package uses [keyring]'s platform-agnostic interface for storing the
pairing PIN in an OS-dependent credential store, so that bench tooling does
not need the PIN on the command line or in shell history.

# Example

	config := cli.NewConfig()
	config.RegisterCommandLineFlags() // Adds -addr, -pin, keyring flags, etc.
	flag.Parse()
	config.ReadFromEnvironment()      // Fills in missing fields from FOB_* variables

	client, err := config.Connect()
	if err != nil {
		panic(err)
	}
	defer client.Close()
*/
package cli

import (
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/99designs/keyring"

	"github.com/remotekey/fob-command/pkg/hostlink"
)

// Environment variable names read by [Config.ReadFromEnvironment].
const (
	EnvHostAddr    = "FOB_HOST_ADDR"
	EnvPIN         = "FOB_PAIR_PIN"
	EnvKeyringType = "FOB_KEYRING_TYPE"
	EnvKeyringPath = "FOB_KEYRING_PATH"
	EnvVerbose     = "FOB_VERBOSE"
)

// Config fields determine how a tool reaches a device and where it finds the
// pairing PIN.
type Config struct {
	// HostAddr is the TCP address of the device's host link.
	HostAddr string
	// PIN is the pairing PIN, if provided on the command line or in the
	// environment. When empty, tools fall back to the keyring and then to an
	// interactive prompt.
	PIN string
	// ConnectTimeout bounds the TCP dial.
	ConnectTimeout time.Duration

	Backend     keyring.Config
	BackendType backendType
}

// NewConfig returns a Config with keyring defaults applied.
func NewConfig() *Config {
	c := &Config{
		ConnectTimeout: 5 * time.Second,
		Backend: keyring.Config{
			ServiceName:              keyringServiceName,
			KeychainTrustApplication: true,
			KeyCtlScope:              "user",
		},
	}
	c.BackendType = backendType{c}
	c.Backend.KeychainPasswordFunc = c.getPassword
	c.Backend.FilePasswordFunc = c.getPassword
	return c
}

// RegisterCommandLineFlags adds this Config's fields to the default flag set.
// Call before flag.Parse.
func (c *Config) RegisterCommandLineFlags() {
	flag.StringVar(&c.HostAddr, "addr", "", "Device host-link `address`. Defaults to $"+EnvHostAddr+".")
	flag.StringVar(&c.PIN, "pin", "", "Pairing `PIN`. Defaults to $"+EnvPIN+", then the system keyring.")
	flag.DurationVar(&c.ConnectTimeout, "connect-timeout", c.ConnectTimeout, "Set timeout for establishing the device connection.")

	var names []string
	for _, name := range keyring.AvailableBackends() {
		names = append(names, string(name))
	}
	flag.Var(&c.BackendType, "keyring-type",
		fmt.Sprintf("Keyring `type` (%s). Defaults to $%s.", strings.Join(names, "|"), EnvKeyringType))
	flag.StringVar(&c.Backend.FileDir, "keyring-file-dir", keyringDirectory,
		"Keyring `directory` for file-backed keyring types")
}

// ReadFromEnvironment fills in fields not set on the command line from FOB_*
// environment variables.
func (c *Config) ReadFromEnvironment() {
	if c.HostAddr == "" {
		c.HostAddr = os.Getenv(EnvHostAddr)
	}
	if c.PIN == "" {
		c.PIN = os.Getenv(EnvPIN)
	}
	if len(c.Backend.AllowedBackends) == 0 {
		c.BackendType.Set(os.Getenv(EnvKeyringType))
	}
	if path := os.Getenv(EnvKeyringPath); path != "" {
		c.Backend.FileDir = path
	}
}

// Connect dials the device's host link.
func (c *Config) Connect() (*hostlink.Client, error) {
	if c.HostAddr == "" {
		return nil, fmt.Errorf("cli: no device address (use -addr or $%s)", EnvHostAddr)
	}
	return hostlink.Dial(c.HostAddr, c.ConnectTimeout)
}
