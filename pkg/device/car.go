package device

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/remotekey/fob-command/internal/log"
	"github.com/remotekey/fob-command/pkg/message"
	"github.com/remotekey/fob-command/pkg/store"
	"github.com/remotekey/fob-command/pkg/transport"
)

// CarConfig collects the collaborators a Car needs.
type CarConfig struct {
	// Host is the link carrying operator command lines.
	Host transport.Link
	// Board is the link to the fob.
	Board transport.Link
	// Secrets is the car's build-time credential block.
	Secrets *store.CarSecrets
	// Indicator drives the status LED. Optional.
	Indicator Indicator
	// TestMode enables the diagnostic host commands. Production devices
	// leave this off, and the commands are then rejected as unknown.
	TestMode bool
	// MaxSkipped bounds the typed-receive drain loop. Zero (production)
	// means unbounded. Only test harnesses set this.
	MaxSkipped int
}

// Car validates unlock attempts from a fob and reveals unlock and feature
// secrets to its host on success.
//
// The car's protocol position is a three-step state machine per attempt: wait
// for UNLOCK and check the password, wait for START and check the car
// identity, then emit secrets. Both waits block the device. A failed
// password sends an ACK failure and returns the car to waiting; a failed
// identity check aborts without an ACK.
type Car struct {
	host      transport.Link
	framer    *message.Framer
	secrets   *store.CarSecrets
	indicator Indicator
	testMode  bool
	lines     *lineReader

	locked      bool
	unlockCount uint32
}

// NewCar assembles a Car from its collaborators.
func NewCar(cfg CarConfig) (*Car, error) {
	if cfg.Host == nil || cfg.Board == nil {
		return nil, errors.New("device: car requires both host and board links")
	}
	if cfg.Secrets == nil {
		return nil, errors.New("device: car requires provisioned secrets")
	}
	indicator := cfg.Indicator
	if indicator == nil {
		indicator = NopIndicator()
	}
	framer := message.NewFramer(cfg.Board)
	framer.MaxSkipped = cfg.MaxSkipped
	return &Car{
		host:      cfg.Host,
		framer:    framer,
		secrets:   cfg.Secrets,
		indicator: indicator,
		testMode:  cfg.TestMode,
		lines:     newLineReader(cfg.Host, carLineLimit),
		locked:    true,
	}, nil
}

// Start resets runtime state and announces readiness on the host link.
func (c *Car) Start() {
	c.locked = true
	c.unlockCount = 0
	c.indicator.Set(ColorRed)
	respondValue(c.host, "started")
}

// Tick runs one iteration of the polling loop and reports whether any work
// was done.
func (c *Car) Tick() bool {
	worked := false
	if line, ok := c.lines.Poll(); ok {
		c.handleHostCommand(line)
		worked = true
	}
	if c.framer.Available() {
		c.handleUnlock()
		worked = true
	}
	return worked
}

// Run announces readiness and then polls until ctx is canceled. Cancellation
// is only observed between ticks; a blocking receive mid-attempt is
// unbounded by design.
func (c *Car) Run(ctx context.Context) error {
	c.Start()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		if !c.Tick() {
			time.Sleep(pollInterval)
		}
	}
}

// Locked reports whether the car is currently locked.
func (c *Car) Locked() bool { return c.locked }

// UnlockCount returns the number of successful unlocks since startup. The
// counter lives in memory only and resets with the process.
func (c *Car) UnlockCount() uint32 { return c.unlockCount }

// handleUnlock runs the car's side of one unlock/start attempt.
func (c *Car) handleUnlock() {
	msg, err := c.framer.ReceiveByType(message.MagicUnlock)
	if err != nil {
		log.Warning("car: unlock receive failed: %s", err)
		return
	}

	// Exact byte comparison, deliberately not constant-time: the protocol
	// this car speaks makes no timing guarantees.
	if len(msg.Payload) < store.PasswordLength ||
		!bytes.Equal(msg.Payload[:store.PasswordLength], c.secrets.Password[:]) {
		respondError(c.host, "bad password")
		c.framer.Send(message.Ack(false))
		return
	}
	c.framer.Send(message.Ack(true))

	start, err := c.framer.ReceiveByType(message.MagicStart)
	if err != nil {
		log.Warning("car: start receive failed: %s", err)
		return
	}
	var manifest store.FeatureManifest
	if err := manifest.UnmarshalBinary(start.Payload); err != nil {
		log.Warning("car: malformed start message: %s", err)
		return
	}
	if !bytes.Equal(manifest.CarID[:], c.secrets.CarID[:]) {
		// Identity mismatch aborts without an ACK; the fob is left waiting.
		respondError(c.host, "car id mismatch")
		return
	}

	respondValue(c.host, string(c.secrets.UnlockSecret[:]))
	for _, feature := range manifest.Active() {
		secret, ok := c.secrets.FeatureSecret(feature)
		if !ok {
			// Out-of-range identifiers are skipped, not reported.
			continue
		}
		respondValue(c.host, fmt.Sprintf("%d,%s", feature, secret))
	}
	respondValue(c.host, "done")

	c.locked = false
	c.unlockCount++
	c.indicator.Set(ColorGreen)
	log.Info("car: unlocked (count %d)", c.unlockCount)
}

// handleHostCommand dispatches one operator command line.
func (c *Car) handleHostCommand(line string) {
	if c.testMode {
		switch line {
		case "isLocked":
			if c.locked {
				respondValue(c.host, "1")
			} else {
				respondValue(c.host, "0")
			}
			return
		case "getUnlockCount":
			respondValue(c.host, fmt.Sprintf("%d", c.unlockCount))
			return
		case "restart":
			c.Start()
			return
		case "reset":
			c.locked = true
			c.unlockCount = 0
			c.indicator.Set(ColorRed)
			respondOK(c.host)
			return
		}
	}
	respondError(c.host, "unknown command")
}
