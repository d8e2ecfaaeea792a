package device

import (
	"bytes"
	"context"
	"encoding/hex"
	"errors"
	"strings"
	"time"

	"github.com/remotekey/fob-command/internal/log"
	"github.com/remotekey/fob-command/pkg/message"
	"github.com/remotekey/fob-command/pkg/store"
	"github.com/remotekey/fob-command/pkg/transport"
)

// pairBufferSize bounds the responder's accumulation buffer for inbound
// pairing packets.
const pairBufferSize = 64

// enablePacketSize is the minimum length of a feature-enable packet: the car
// identity followed by one feature byte.
const enablePacketSize = store.IDLength + 1

// FobConfig collects the collaborators a Fob needs.
type FobConfig struct {
	// Host is the link carrying operator command lines.
	Host transport.Link
	// Board is the link to the car (and, during pairing, to another fob).
	Board transport.Link
	// Store persists the fob's state record.
	Store store.Store
	// Factory optionally provisions an unpaired store with credentials on
	// first boot, producing a factory-paired fob.
	Factory *store.PairingSecret
	// Button is the raw unlock button signal. Optional; without one, unlock
	// attempts come only from the test-mode btnPress command.
	Button Button
	// Indicator drives the status LED. Optional.
	Indicator Indicator
	// Clock feeds the button debouncer. Defaults to the system clock.
	Clock Clock
	// SettleTime overrides the debounce window. Zero uses the default.
	SettleTime time.Duration
	// TestMode enables the diagnostic host commands.
	TestMode bool
	// MaxSkipped bounds the typed-receive drain loop. Zero (production)
	// means unbounded. Only test harnesses set this.
	MaxSkipped int
}

// Fob holds a car's credentials and drives the unlock protocol. A paired fob
// relays unlock attempts and can transfer its credentials to an unpaired fob;
// an unpaired fob does nothing but listen for that transfer.
type Fob struct {
	host      transport.Link
	board     transport.Link
	framer    *message.Framer
	store     store.Store
	indicator Indicator
	debounce  *Debouncer
	testMode  bool
	lines     *lineReader

	state *store.FobState

	pairBuf []byte
	pairLen int
}

// NewFob assembles a Fob, loading (and if necessary initializing) its
// persistent state.
func NewFob(cfg FobConfig) (*Fob, error) {
	if cfg.Host == nil || cfg.Board == nil {
		return nil, errors.New("device: fob requires both host and board links")
	}
	if cfg.Store == nil {
		return nil, errors.New("device: fob requires a persistent store")
	}
	indicator := cfg.Indicator
	if indicator == nil {
		indicator = NopIndicator()
	}
	clock := cfg.Clock
	if clock == nil {
		clock = SystemClock()
	}
	framer := message.NewFramer(cfg.Board)
	framer.MaxSkipped = cfg.MaxSkipped
	f := &Fob{
		host:      cfg.Host,
		board:     cfg.Board,
		framer:    framer,
		store:     cfg.Store,
		indicator: indicator,
		testMode:  cfg.TestMode,
		lines:     newLineReader(cfg.Host, fobLineLimit),
		pairBuf:   make([]byte, pairBufferSize),
	}
	if cfg.Button != nil {
		f.debounce = NewDebouncer(cfg.Button, clock, cfg.SettleTime)
	}
	if err := f.boot(cfg.Factory); err != nil {
		return nil, err
	}
	return f, nil
}

// boot loads persistent state and performs first-boot initialization:
// factory provisioning of a paired fob, and normalization of erased storage.
func (f *Fob) boot(factory *store.PairingSecret) error {
	state, err := f.store.Load()
	if err != nil {
		return err
	}
	f.state = state

	if factory != nil && !f.state.Paired {
		f.state.Paired = true
		f.state.PairInfo = *factory
		f.state.FeatureInfo.CarID = factory.CarID
		if err := f.store.Save(f.state); err != nil {
			return err
		}
		log.Info("fob: factory provisioning applied")
	}
	if f.state.Normalize() {
		if err := f.store.Save(f.state); err != nil {
			return err
		}
	}
	return nil
}

// Start announces readiness on the host link.
func (f *Fob) Start() {
	if f.state.Paired {
		f.indicator.Set(ColorWhite)
	} else {
		f.indicator.Set(ColorOff)
	}
	respondValue(f.host, "started")
}

// Tick runs one iteration of the polling loop and reports whether any work
// was done. A paired fob polls the button; an unpaired fob listens for a
// pairing transfer on the board link instead.
func (f *Fob) Tick() bool {
	worked := false
	if line, ok := f.lines.Poll(); ok {
		f.handleHostCommand(line)
		worked = true
	}
	if f.state.Paired {
		if f.debounce != nil && f.debounce.Poll() {
			f.attemptUnlock()
			worked = true
		}
	} else if f.board.Available() {
		f.pollPairing()
		worked = true
	}
	return worked
}

// Run announces readiness and then polls until ctx is canceled.
func (f *Fob) Run(ctx context.Context) error {
	f.Start()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		if !f.Tick() {
			time.Sleep(pollInterval)
		}
	}
}

// Paired reports whether the fob holds car credentials.
func (f *Fob) Paired() bool { return f.state.Paired }

// State exposes the in-memory state record for diagnostics and tests.
func (f *Fob) State() *store.FobState { return f.state }

// pollPairing consumes available board-link bytes while unpaired, looking
// for a line-delimited pairing packet: [PAIR magic][len][secret bytes]
// terminated by a newline. Anything malformed is dropped without side
// effects and the fob keeps listening.
func (f *Fob) pollPairing() {
	for f.board.Available() {
		c, err := f.board.ReadByte()
		if err != nil {
			return
		}
		if c != '\n' && c != '\r' {
			if f.pairLen < len(f.pairBuf)-1 {
				f.pairBuf[f.pairLen] = c
				f.pairLen++
			}
			continue
		}

		n := f.pairLen
		f.pairLen = 0
		if n < 2 || f.pairBuf[0] != message.MagicPair {
			continue
		}
		// The advertised length must match both the serialized secret size
		// and the bytes actually received before the terminator.
		if int(f.pairBuf[1]) != n-2 || n-2 != store.PairingSecretSize {
			continue
		}
		f.acceptPairing(f.pairBuf[2:n])
		return
	}
}

// acceptPairing applies a validated pairing packet and persists the result.
func (f *Fob) acceptPairing(payload []byte) {
	prev := *f.state
	if err := f.state.PairInfo.UnmarshalBinary(payload); err != nil {
		*f.state = prev
		return
	}
	f.state.Paired = true
	f.state.FeatureInfo.CarID = f.state.PairInfo.CarID
	if err := f.store.Save(f.state); err != nil {
		// Keep listening with clean state rather than half-paired.
		*f.state = prev
		log.Error("fob: pairing save failed: %s", err)
		respondError(f.host, "save failed")
		return
	}
	f.indicator.Set(ColorWhite)
	respondValue(f.host, "paired")
	log.Info("fob: paired to car %q", f.state.PairInfo.CarID[:])
}

// pairFob transmits this fob's credentials to an unpaired fob, gated by the
// pairing PIN. Nothing is transmitted on any failure.
func (f *Fob) pairFob(pin string) {
	if !f.state.Paired {
		respondError(f.host, "not paired")
		return
	}
	if len(pin) != store.PINLength {
		respondError(f.host, "invalid pin length")
		return
	}
	if !f.state.PairInfo.PINEqual([]byte(pin)) {
		respondError(f.host, "wrong pin")
		return
	}

	payload, _ := f.state.PairInfo.MarshalBinary()
	if _, err := f.framer.Send(message.Message{Magic: message.MagicPair, Payload: payload}); err != nil {
		respondError(f.host, "send failed")
		return
	}
	// The responder's listener is line-delimited.
	if err := f.board.WriteByte('\n'); err != nil {
		respondError(f.host, "send failed")
		return
	}
	respondOK(f.host)
}

// enableFeature validates a feature-enable packet and appends it to the
// manifest. Every rejection leaves state untouched; only the single success
// path mutates and persists.
func (f *Fob) enableFeature(packet []byte) {
	if !f.state.Paired {
		respondError(f.host, "not paired")
		return
	}
	if len(packet) < enablePacketSize {
		respondError(f.host, "invalid packet")
		return
	}
	if !bytes.Equal(packet[:store.IDLength], f.state.PairInfo.CarID[:]) {
		respondError(f.host, "car id mismatch")
		return
	}
	feature := packet[store.IDLength]
	switch err := f.state.FeatureInfo.Append(feature); {
	case errors.Is(err, store.ErrManifestFull):
		respondError(f.host, "feature list full")
		return
	case errors.Is(err, store.ErrInvalidFeature):
		respondError(f.host, "invalid feature")
		return
	case errors.Is(err, store.ErrDuplicateFeature):
		respondError(f.host, "already enabled")
		return
	}
	if err := f.store.Save(f.state); err != nil {
		// Roll back the append so a retry is possible.
		f.state.FeatureInfo.NumActive--
		f.state.FeatureInfo.Features[f.state.FeatureInfo.NumActive] = 0
		log.Error("fob: enable save failed: %s", err)
		respondError(f.host, "save failed")
		return
	}
	respondOK(f.host)
}

// attemptUnlock runs the fob's side of the unlock/start exchange.
func (f *Fob) attemptUnlock() {
	if !f.state.Paired {
		respondError(f.host, "not paired")
		return
	}
	if _, err := f.framer.Send(message.Message{
		Magic:   message.MagicUnlock,
		Payload: f.state.PairInfo.Password[:],
	}); err != nil {
		respondError(f.host, "unlock failed")
		return
	}
	ack, err := f.framer.ReceiveByType(message.MagicAck)
	if err != nil || !ack.Success() {
		respondError(f.host, "unlock failed")
		return
	}
	manifest, _ := f.state.FeatureInfo.MarshalBinary()
	if _, err := f.framer.Send(message.Message{Magic: message.MagicStart, Payload: manifest}); err != nil {
		respondError(f.host, "unlock failed")
		return
	}
	respondOK(f.host)
}

// handleHostCommand dispatches one operator command line.
func (f *Fob) handleHostCommand(line string) {
	if rest, ok := strings.CutPrefix(line, "enable "); ok {
		packet, err := hex.DecodeString(rest)
		if err != nil {
			respondError(f.host, "invalid hex")
			return
		}
		f.enableFeature(packet)
		return
	}
	if pin, ok := strings.CutPrefix(line, "pair "); ok {
		f.pairFob(pin)
		return
	}

	if f.testMode {
		switch {
		case line == "btnPress":
			f.attemptUnlock()
			return
		case line == "isPaired":
			if f.state.Paired {
				respondValue(f.host, "1")
			} else {
				respondValue(f.host, "0")
			}
			return
		case line == "getFlashData":
			image, _ := f.state.MarshalBinary()
			respondValue(f.host, hex.EncodeToString(image))
			return
		case strings.HasPrefix(line, "setFlashData "):
			f.setFlashData(strings.TrimPrefix(line, "setFlashData "))
			return
		case line == "restart":
			f.restart()
			return
		case line == "reset":
			f.factoryReset()
			return
		}
	}
	respondError(f.host, "unknown command")
}

// setFlashData overwrites the entire state record from a hex image and
// persists it. Diagnostic use only.
func (f *Fob) setFlashData(hexImage string) {
	image, err := hex.DecodeString(hexImage)
	if err != nil {
		respondError(f.host, "invalid hex")
		return
	}
	var state store.FobState
	if err := state.UnmarshalBinary(image); err != nil {
		respondError(f.host, "invalid size")
		return
	}
	prev := *f.state
	*f.state = state
	if err := f.store.Save(f.state); err != nil {
		*f.state = prev
		respondError(f.host, "save failed")
		return
	}
	respondOK(f.host)
}

// restart re-runs boot from persistent storage, as after a power cycle.
func (f *Fob) restart() {
	if err := f.boot(nil); err != nil {
		respondError(f.host, "load failed")
		return
	}
	f.pairLen = 0
	f.Start()
}

// factoryReset wipes the state record back to unpaired with no features.
func (f *Fob) factoryReset() {
	prev := *f.state
	*f.state = store.FobState{}
	if err := f.store.Save(f.state); err != nil {
		*f.state = prev
		respondError(f.host, "save failed")
		return
	}
	f.indicator.Set(ColorOff)
	respondOK(f.host)
}
