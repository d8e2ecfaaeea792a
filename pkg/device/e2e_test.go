package device_test

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/remotekey/fob-command/pkg/device"
	"github.com/remotekey/fob-command/pkg/store"
	"github.com/remotekey/fob-command/pkg/transport"
)

func e2eSecrets(t *testing.T, password string) (*store.CarSecrets, *store.PairingSecret) {
	t.Helper()
	var car store.CarSecrets
	copy(car.CarID[:], "CAR00001")
	copy(car.Password[:], password)
	copy(car.UnlockSecret[:], strings.Repeat("U", store.SecretLength))
	for i := range car.FeatureSecrets {
		copy(car.FeatureSecrets[i][:], strings.Repeat(string(rune('1'+i)), store.SecretLength))
	}
	var fob store.PairingSecret
	fob.CarID = car.CarID
	fob.Password = car.Password
	copy(fob.PIN[:], "123456")
	return &car, &fob
}

func readLine(t *testing.T, link *transport.Pipe) string {
	t.Helper()
	var line []byte
	deadline := time.After(5 * time.Second)
	for {
		if !link.Available() {
			select {
			case <-deadline:
				t.Fatalf("Timed out waiting for host line (got %q so far)", line)
			default:
				time.Sleep(time.Millisecond)
				continue
			}
		}
		b, err := link.ReadByte()
		if err != nil {
			t.Fatalf("Reading host line: %s", err)
		}
		if b == '\n' {
			return string(line)
		}
		line = append(line, b)
	}
}

// startCar launches a car polling loop and returns its host-side link plus a
// stop function that waits for the loop to exit.
func startCar(t *testing.T, secrets *store.CarSecrets, board *transport.Pipe) (*transport.Pipe, func() *device.Car) {
	t.Helper()
	hostDev, hostTest := transport.NewPipe()
	t.Cleanup(func() {
		hostDev.Close()
		hostTest.Close()
	})
	car, err := device.NewCar(device.CarConfig{
		Host:       hostDev,
		Board:      board,
		Secrets:    secrets,
		TestMode:   true,
		MaxSkipped: 64,
	})
	if err != nil {
		t.Fatalf("NewCar failed: %s", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		car.Run(ctx)
	}()
	if line := readLine(t, hostTest); line != "OK: started" {
		t.Fatalf("Car startup banner was %q", line)
	}
	stop := func() *device.Car {
		cancel()
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			t.Fatal("Car loop did not stop")
		}
		return car
	}
	return hostTest, stop
}

func startFob(t *testing.T, factory *store.PairingSecret, board *transport.Pipe) (*device.Fob, *transport.Pipe) {
	t.Helper()
	hostDev, hostTest := transport.NewPipe()
	t.Cleanup(func() {
		hostDev.Close()
		hostTest.Close()
	})
	fob, err := device.NewFob(device.FobConfig{
		Host:       hostDev,
		Board:      board,
		Store:      store.NewMemStore(),
		Factory:    factory,
		TestMode:   true,
		MaxSkipped: 64,
	})
	if err != nil {
		t.Fatalf("NewFob failed: %s", err)
	}
	return fob, hostTest
}

func fobCommand(t *testing.T, fob *device.Fob, host *transport.Pipe, cmd string) string {
	t.Helper()
	if _, err := host.Write([]byte(cmd + "\n")); err != nil {
		t.Fatalf("Writing %q: %s", cmd, err)
	}
	fob.Tick()
	return readLine(t, host)
}

func TestEndToEndUnlock(t *testing.T) {
	carBoard, fobBoard := transport.NewPipe()
	defer carBoard.Close()
	defer fobBoard.Close()

	carSecrets, factory := e2eSecrets(t, "unlockme")
	carHost, stopCar := startCar(t, carSecrets, carBoard)
	fob, fobHost := startFob(t, factory, fobBoard)

	// Enable a feature so the manifest transfer is non-trivial.
	if line := fobCommand(t, fob, fobHost, "enable "+hexPacket("CAR00001", 2)); line != "OK" {
		t.Fatalf("enable returned %q", line)
	}

	if line := fobCommand(t, fob, fobHost, "btnPress"); line != "OK" {
		t.Fatalf("btnPress returned %q", line)
	}

	if line := readLine(t, carHost); line != "OK: "+strings.Repeat("U", store.SecretLength) {
		t.Errorf("Unlock flag line was %q", line)
	}
	if line := readLine(t, carHost); line != "OK: 2,"+strings.Repeat("2", store.SecretLength) {
		t.Errorf("Feature flag line was %q", line)
	}
	if line := readLine(t, carHost); line != "OK: done" {
		t.Errorf("Terminator line was %q", line)
	}

	car := stopCar()
	if car.Locked() {
		t.Error("Car locked after successful end-to-end unlock")
	}
	if car.UnlockCount() != 1 {
		t.Errorf("UnlockCount = %d, expected 1", car.UnlockCount())
	}
}

func TestEndToEndWrongPassword(t *testing.T) {
	carBoard, fobBoard := transport.NewPipe()
	defer carBoard.Close()
	defer fobBoard.Close()

	carSecrets, _ := e2eSecrets(t, "password")
	_, wrongFactory := e2eSecrets(t, "passw0rd")
	carHost, stopCar := startCar(t, carSecrets, carBoard)
	fob, fobHost := startFob(t, wrongFactory, fobBoard)

	if line := fobCommand(t, fob, fobHost, "btnPress"); line != "ERROR: unlock failed" {
		t.Errorf("btnPress with wrong password returned %q", line)
	}
	if line := readLine(t, carHost); line != "ERROR: bad password" {
		t.Errorf("Car host line was %q", line)
	}

	car := stopCar()
	if !car.Locked() {
		t.Error("Car unlocked by a wrong password")
	}
	if car.UnlockCount() != 0 {
		t.Errorf("UnlockCount = %d after failed attempt, expected 0", car.UnlockCount())
	}
}

func TestEndToEndPairing(t *testing.T) {
	initiatorBoard, responderBoard := transport.NewPipe()
	defer initiatorBoard.Close()
	defer responderBoard.Close()

	_, factory := e2eSecrets(t, "unlockme")
	initiator, initiatorHost := startFob(t, factory, initiatorBoard)
	responder, responderHost := startFob(t, nil, responderBoard)

	if responder.Paired() {
		t.Fatal("Responder fob started paired")
	}

	if line := fobCommand(t, initiator, initiatorHost, "pair 123456"); line != "OK" {
		t.Fatalf("pair returned %q", line)
	}
	// Let the responder consume the transfer.
	responder.Tick()
	if line := readLine(t, responderHost); line != "OK: paired" {
		t.Errorf("Responder host line was %q", line)
	}
	if !responder.Paired() {
		t.Fatal("Responder not paired after transfer")
	}
	if responder.State().PairInfo != *factory {
		t.Error("Responder credentials differ from initiator's")
	}
	if responder.State().FeatureInfo.CarID != factory.CarID {
		t.Error("Responder manifest car id not set")
	}

	// The newly paired fob can now relay an unlock attempt; verify the wrong
	// PIN path too while both fobs are up.
	if line := fobCommand(t, initiator, initiatorHost, "pair 999999"); line != "ERROR: wrong pin" {
		t.Errorf("pair with wrong pin returned %q", line)
	}
}

func hexPacket(carID string, feature byte) string {
	const hexDigits = "0123456789abcdef"
	packet := append([]byte(carID), feature)
	out := make([]byte, 0, len(packet)*2)
	for _, b := range packet {
		out = append(out, hexDigits[b>>4], hexDigits[b&0x0F])
	}
	return string(out)
}
