package cli

import (
	"fmt"
	"io"
	"os"

	"github.com/99designs/keyring"
	"golang.org/x/term"

	"github.com/remotekey/fob-command/internal/log"
)

const (
	keyringServiceName = "com.remotekey.fob"
	keyringPINKey      = "pairing-pin"
	keyringDirectory   = "~/.fob_keys"
)

// ErrNoPIN indicates no pairing PIN could be found anywhere.
var ErrNoPIN = keyring.ErrKeyNotFound

type backendType struct {
	config *Config
}

func (b backendType) String() string {
	if b.config == nil || len(b.config.Backend.AllowedBackends) == 0 {
		return string(keyring.InvalidBackend)
	}
	return string(b.config.Backend.AllowedBackends[0])
}

func (b *backendType) Set(v string) error {
	if b.config == nil {
		return fmt.Errorf("invalid backendType")
	}
	if v == "" {
		return nil
	}
	value := keyring.BackendType(v)
	for _, name := range keyring.AvailableBackends() {
		if name == value {
			b.config.Backend.AllowedBackends = []keyring.BackendType{name}
			return nil
		}
	}
	return fmt.Errorf("unsupported credential storage")
}

func (c *Config) getPassword(prompt string) (string, error) {
	return promptHidden(prompt + ": ")
}

// promptHidden reads a secret from the controlling terminal without echo.
func promptHidden(prompt string) (string, error) {
	var w io.Writer
	fd := int(os.Stdout.Fd())
	if !term.IsTerminal(fd) {
		fd = int(os.Stderr.Fd())
		if !term.IsTerminal(fd) {
			return "", fmt.Errorf("no terminal available for prompt")
		}
		w = os.Stderr
	} else {
		w = os.Stdout
	}
	fmt.Fprint(w, prompt)
	secret, err := term.ReadPassword(fd)
	fmt.Fprintln(w)
	if err != nil {
		return "", err
	}
	return string(secret), nil
}

func (c *Config) openKeyring() (keyring.Keyring, error) {
	return keyring.Open(c.Backend)
}

// LoadPIN resolves the pairing PIN: command line or environment first, then
// the system keyring, then an interactive prompt as a last resort.
func (c *Config) LoadPIN() (string, error) {
	if c.PIN != "" {
		return c.PIN, nil
	}
	ring, err := c.openKeyring()
	if err == nil {
		item, err := ring.Get(keyringPINKey)
		if err == nil {
			log.Debug("cli: pairing PIN loaded from keyring")
			return string(item.Data), nil
		}
		if err != keyring.ErrKeyNotFound {
			log.Warning("cli: keyring lookup failed: %s", err)
		}
	} else {
		log.Debug("cli: keyring unavailable: %s", err)
	}
	return promptHidden("Pairing PIN: ")
}

// SavePIN stores the pairing PIN in the system keyring.
func (c *Config) SavePIN(pin string) error {
	ring, err := c.openKeyring()
	if err != nil {
		return fmt.Errorf("cli: open keyring: %w", err)
	}
	return ring.Set(keyring.Item{
		Key:         keyringPINKey,
		Data:        []byte(pin),
		Label:       "fob pairing PIN",
		Description: "pairing PIN",
	})
}

// DeletePIN removes the pairing PIN from the system keyring.
func (c *Config) DeletePIN() error {
	ring, err := c.openKeyring()
	if err != nil {
		return fmt.Errorf("cli: open keyring: %w", err)
	}
	return ring.Remove(keyringPINKey)
}
