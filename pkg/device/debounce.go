package device

import "time"

// defaultSettleTime is how long a raw button level must hold before a
// transition is believed.
const defaultSettleTime = 10 * time.Millisecond

// Button exposes the raw, unfiltered level of a physical button. True means
// pressed. Implementations are platform shims.
type Button interface {
	Pressed() bool
}

// Debouncer filters a raw button signal into confirmed press edges. A level
// transition is reported only if the new level is still present after a
// settle delay, measured against the injected clock; contact bounce shorter
// than the settle window never surfaces.
type Debouncer struct {
	button Button
	clock  Clock
	settle time.Duration

	level       bool
	pending     bool
	candidate   bool
	candidateAt time.Time
}

// NewDebouncer returns a Debouncer over button. A settle of zero uses the
// default window.
func NewDebouncer(button Button, clock Clock, settle time.Duration) *Debouncer {
	if settle <= 0 {
		settle = defaultSettleTime
	}
	return &Debouncer{button: button, clock: clock, settle: settle}
}

// Poll samples the raw level and returns true exactly once per confirmed
// press (released-to-pressed transition).
func (d *Debouncer) Poll() bool {
	raw := d.button.Pressed()
	if raw == d.level {
		d.pending = false
		return false
	}
	now := d.clock.Now()
	if !d.pending || raw != d.candidate {
		// New transition candidate; start the settle window.
		d.pending = true
		d.candidate = raw
		d.candidateAt = now
		return false
	}
	if now.Sub(d.candidateAt) < d.settle {
		return false
	}
	d.level = raw
	d.pending = false
	return raw
}
