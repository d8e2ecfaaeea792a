package device_test

import (
	"encoding/hex"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/remotekey/fob-command/pkg/device"
	"github.com/remotekey/fob-command/pkg/store"
	"github.com/remotekey/fob-command/pkg/transport"
)

// enablementFob is a factory-paired fob under test, driven purely through
// its host link.
type enablementFob struct {
	fob   *device.Fob
	host  *transport.Pipe
	store store.Store
}

func newEnablementFob() *enablementFob {
	hostDev, hostTest := transport.NewPipe()
	boardDev, boardTest := transport.NewPipe()
	DeferCleanup(func() {
		hostDev.Close()
		hostTest.Close()
		boardDev.Close()
		boardTest.Close()
	})

	var factory store.PairingSecret
	copy(factory.CarID[:], "CAR00001")
	copy(factory.Password[:], "unlockme")
	copy(factory.PIN[:], "123456")
	backing := store.NewMemStore()
	fob, err := device.NewFob(device.FobConfig{
		Host:       hostDev,
		Board:      boardDev,
		Store:      backing,
		Factory:    &factory,
		MaxSkipped: 8,
	})
	Expect(err).NotTo(HaveOccurred())
	return &enablementFob{fob: fob, host: hostTest, store: backing}
}

func (e *enablementFob) enable(carID string, feature byte) string {
	packet := append([]byte(carID), feature)
	return e.command("enable " + hex.EncodeToString(packet))
}

func (e *enablementFob) command(cmd string) string {
	_, err := e.host.Write([]byte(cmd + "\n"))
	Expect(err).NotTo(HaveOccurred())
	Expect(e.fob.Tick()).To(BeTrue())
	var line []byte
	for {
		b, err := e.host.ReadByte()
		Expect(err).NotTo(HaveOccurred())
		if b == '\n' {
			return string(line)
		}
		line = append(line, b)
	}
}

var _ = Describe("Feature Enablement", func() {
	var fob *enablementFob

	BeforeEach(func() {
		fob = newEnablementFob()
	})

	It("enables a valid feature and persists it", func() {
		Expect(fob.enable("CAR00001", 1)).To(Equal("OK"))
		saved, err := fob.store.Load()
		Expect(err).NotTo(HaveOccurred())
		Expect(saved.FeatureInfo.Active()).To(Equal([]byte{1}))
	})

	It("keeps features in enablement order", func() {
		Expect(fob.enable("CAR00001", 3)).To(Equal("OK"))
		Expect(fob.enable("CAR00001", 1)).To(Equal("OK"))
		Expect(fob.fob.State().FeatureInfo.Active()).To(Equal([]byte{3, 1}))
	})

	It("rejects a packet for a different car", func() {
		Expect(fob.enable("CAR00002", 1)).To(Equal("ERROR: car id mismatch"))
		Expect(fob.fob.State().FeatureInfo.Active()).To(BeEmpty())
	})

	It("rejects a truncated packet", func() {
		Expect(fob.command("enable " + hex.EncodeToString([]byte("CAR00001")))).To(Equal("ERROR: invalid packet"))
	})

	It("rejects out-of-range feature identifiers", func() {
		Expect(fob.enable("CAR00001", 0)).To(Equal("ERROR: invalid feature"))
		Expect(fob.enable("CAR00001", store.NumFeatures+1)).To(Equal("ERROR: invalid feature"))
		Expect(fob.fob.State().FeatureInfo.Active()).To(BeEmpty())
	})

	It("rejects duplicates, keeping exactly one entry", func() {
		Expect(fob.enable("CAR00001", 2)).To(Equal("OK"))
		Expect(fob.enable("CAR00001", 2)).To(Equal("ERROR: already enabled"))
		Expect(fob.fob.State().FeatureInfo.Active()).To(Equal([]byte{2}))
	})

	It("never exceeds the feature capacity", func() {
		Expect(fob.enable("CAR00001", 1)).To(Equal("OK"))
		Expect(fob.enable("CAR00001", 2)).To(Equal("OK"))
		Expect(fob.enable("CAR00001", 3)).To(Equal("OK"))
		// All identifiers are taken, so any further attempt hits the
		// capacity check first.
		Expect(fob.enable("CAR00001", 1)).To(Equal("ERROR: feature list full"))
		Expect(fob.fob.State().FeatureInfo.Active()).To(HaveLen(store.NumFeatures))
	})

	It("reports full before validating the identifier", func() {
		Expect(fob.enable("CAR00001", 1)).To(Equal("OK"))
		Expect(fob.enable("CAR00001", 2)).To(Equal("OK"))
		Expect(fob.enable("CAR00001", 3)).To(Equal("OK"))
		Expect(fob.enable("CAR00001", 9)).To(Equal("ERROR: feature list full"))
	})

	It("refuses enablement on an unpaired fob", func() {
		hostDev, hostTest := transport.NewPipe()
		boardDev, _ := transport.NewPipe()
		DeferCleanup(func() {
			hostDev.Close()
			hostTest.Close()
			boardDev.Close()
		})
		unpaired, err := device.NewFob(device.FobConfig{
			Host:  hostDev,
			Board: boardDev,
			Store: store.NewMemStore(),
		})
		Expect(err).NotTo(HaveOccurred())
		bare := &enablementFob{fob: unpaired, host: hostTest}
		Expect(bare.enable("CAR00001", 1)).To(Equal("ERROR: not paired"))
	})
})
