// Package device implements the protocol cores of the two devices in the
// access-control system: the car, which validates unlock attempts and reveals
// secrets on success, and the fob, which authenticates to a car, re-pairs
// other fobs, and holds the feature manifest.
//
// Both devices run a single-threaded cooperative polling loop. Each Tick
// checks the host link for a completed command line, the board link for
// protocol traffic, and (fob only) the button for a debounced press. The only
// blocking operations are typed receives on the board link, which stall the
// whole device until the expected message type arrives; that trade-off of
// simplicity over responsiveness is part of the protocol contract, not an
// accident of this implementation.
package device

import (
	"time"

	"github.com/remotekey/fob-command/internal/log"
)

// pollInterval is how long Run sleeps when a Tick found no work.
const pollInterval = time.Millisecond

// Clock supplies monotonic-enough time to the device core so that debounce
// logic is testable without real delays.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// SystemClock returns a Clock backed by the wall clock.
func SystemClock() Clock { return systemClock{} }

// Color enumerates indicator LED states.
type Color int

const (
	ColorOff Color = iota
	ColorRed
	ColorGreen
	ColorWhite
)

func (c Color) String() string {
	switch c {
	case ColorOff:
		return "off"
	case ColorRed:
		return "red"
	case ColorGreen:
		return "green"
	case ColorWhite:
		return "white"
	}
	return "unknown"
}

// Indicator drives a device's status LED. Implementations are platform shims;
// the core only ever sets a color.
type Indicator interface {
	Set(color Color)
}

type nopIndicator struct{}

func (nopIndicator) Set(Color) {}

// NopIndicator returns an Indicator that discards all updates.
func NopIndicator() Indicator { return nopIndicator{} }

type logIndicator struct {
	name string
}

func (l logIndicator) Set(color Color) {
	log.Info("%s: LED %s", l.name, color)
}

// LogIndicator returns an Indicator that records color changes to the log,
// standing in for a physical LED on simulated hardware.
func LogIndicator(name string) Indicator { return logIndicator{name: name} }
