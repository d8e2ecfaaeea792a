package transport_test

import (
	"testing"
	"time"

	"github.com/remotekey/fob-command/pkg/transport"
)

// rwPipe adapts a Pipe end into a plain io.ReadWriter the way a net.Conn
// would present itself to a Hub.
type rwPipe struct {
	p *transport.Pipe
}

func (r rwPipe) Read(buf []byte) (int, error) {
	if err := r.p.ReadFull(buf[:1]); err != nil {
		return 0, err
	}
	return 1, nil
}

func (r rwPipe) Write(buf []byte) (int, error) {
	return r.p.Write(buf)
}

func TestHubCarriesBytesFromAttachedSession(t *testing.T) {
	near, far := transport.NewPipe()
	hub := transport.NewHub()

	done := make(chan struct{})
	go func() {
		hub.Attach(rwPipe{near})
		close(done)
	}()

	if _, err := far.Write([]byte("hi")); err != nil {
		t.Fatal(err)
	}
	got := make([]byte, 2)
	if err := hub.ReadFull(got); err != nil {
		t.Fatal(err)
	}
	if string(got) != "hi" {
		t.Errorf("ReadFull = %q, want %q", got, "hi")
	}

	if _, err := hub.Write([]byte("yo")); err != nil {
		t.Fatal(err)
	}
	reply := make([]byte, 2)
	if err := far.ReadFull(reply); err != nil {
		t.Fatal(err)
	}
	if string(reply) != "yo" {
		t.Errorf("session read %q, want %q", reply, "yo")
	}

	far.Close()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Attach did not return after session close")
	}
}

func TestHubSurvivesSessionChurn(t *testing.T) {
	hub := transport.NewHub()

	near1, far1 := transport.NewPipe()
	first := make(chan struct{})
	go func() {
		hub.Attach(rwPipe{near1})
		close(first)
	}()
	far1.Write([]byte{0x01})
	far1.Close()
	<-first

	// Writes with nothing attached are discarded, not errors.
	if _, err := hub.Write([]byte("dropped")); err != nil {
		t.Fatalf("detached Write: %v", err)
	}

	near2, far2 := transport.NewPipe()
	go hub.Attach(rwPipe{near2})
	far2.Write([]byte{0x02})

	got := make([]byte, 2)
	if err := hub.ReadFull(got); err != nil {
		t.Fatal(err)
	}
	if got[0] != 0x01 || got[1] != 0x02 {
		t.Errorf("ReadFull = %v, want [1 2]", got)
	}
}

func TestHubAvailable(t *testing.T) {
	hub := transport.NewHub()
	if hub.Available() {
		t.Error("Available true on empty hub")
	}
	near, far := transport.NewPipe()
	go hub.Attach(rwPipe{near})
	far.WriteByte(0x55)
	deadline := time.Now().Add(time.Second)
	for !hub.Available() {
		if time.Now().After(deadline) {
			t.Fatal("byte never became available")
		}
		time.Sleep(time.Millisecond)
	}
	b, err := hub.ReadByte()
	if err != nil || b != 0x55 {
		t.Errorf("ReadByte = %v, %v", b, err)
	}
}
