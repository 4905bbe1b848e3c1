package supervisor

import (
	"bytes"
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/tostmann/enocean-mqtt-bridge/pkg/esp3"
)

// fakeGateway implements transport.Transport as a scripted EnOcean
// gateway: every frame written to it is decoded, and known commands are
// answered by queueing an encoded response for the next Read. Muting
// the gateway simulates a link that went deaf.
type fakeGateway struct {
	mu        sync.Mutex
	open      bool
	muted     bool
	readBuf   bytes.Buffer
	openCount int
	written   []*esp3.Packet
}

func (g *fakeGateway) Open(_ context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.open = true
	g.openCount++
	return nil
}

func (g *fakeGateway) Read(p []byte) (int, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.open {
		return 0, io.EOF
	}
	if g.readBuf.Len() == 0 {
		return 0, nil // read timeout, no data
	}
	return g.readBuf.Read(p)
}

func (g *fakeGateway) Write(buf []byte) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	pkt, err := esp3.NewStreamFramer(bytes.NewReader(buf), io.Discard).ReadPacket()
	if err != nil {
		return err
	}
	g.written = append(g.written, pkt)

	if g.muted || pkt.Type != esp3.PacketTypeCommonCommand || len(pkt.Data) == 0 {
		return nil
	}
	enc := esp3.NewStreamFramer(nil, &g.readBuf)
	switch pkt.Data[0] {
	case esp3.CommandReadBaseID:
		// A radio telegram arriving just before the response exercises
		// SendCommand's forwarding of non-matching packets.
		erp1, _ := esp3.NewRadioERP1("0194e0cb", "", esp3.RORG4BS, []byte{0x00, 0x00, 0x55, 0x08}, 0x00)
		enc.WritePacket(erp1)
		enc.WritePacket(&esp3.Packet{Type: esp3.PacketTypeResponse, Data: []byte{0x00, 0xDE, 0xAD, 0xBE, 0xEF}})
	case esp3.CommandReadVersion:
		data := make([]byte, 33)
		data[1], data[2], data[3], data[4] = 1, 2, 3, 4
		copy(data[9:13], []byte{0xCA, 0xFE, 0xBA, 0xBE})
		enc.WritePacket(&esp3.Packet{Type: esp3.PacketTypeResponse, Data: data})
	}
	return nil
}

func (g *fakeGateway) FlushInput() error { return nil }

func (g *fakeGateway) IsOpen() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.open
}

func (g *fakeGateway) Close() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.open = false
	return nil
}

func (g *fakeGateway) Name() string { return "fake" }

func (g *fakeGateway) mute() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.muted = true
}

func (g *fakeGateway) opens() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.openCount
}

func (g *fakeGateway) commandCount(cmd byte) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	n := 0
	for _, p := range g.written {
		if p.Type == esp3.PacketTypeCommonCommand && len(p.Data) > 0 && p.Data[0] == cmd {
			n++
		}
	}
	return n
}

func shrinkTimers(t *testing.T) {
	t.Helper()
	origReconnect, origInterval, origTimeout, origCmd := ReconnectDelay, PingInterval, PingTimeout, DefaultCommandTimeout
	ReconnectDelay = 5 * time.Millisecond
	PingInterval = 50 * time.Millisecond
	PingTimeout = 40 * time.Millisecond
	DefaultCommandTimeout = 200 * time.Millisecond
	t.Cleanup(func() {
		ReconnectDelay, PingInterval, PingTimeout, DefaultCommandTimeout = origReconnect, origInterval, origTimeout, origCmd
	})
}

func waitFor(t *testing.T, timeout time.Duration, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestSupervisorAcquiresIdentityAndForwardsRadio(t *testing.T) {
	shrinkTimers(t)
	gw := &fakeGateway{}

	var mu sync.Mutex
	var dispatched []*esp3.Packet
	sup := New(gw, func(p *esp3.Packet) {
		mu.Lock()
		dispatched = append(dispatched, p)
		mu.Unlock()
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		sup.Run(ctx)
		close(done)
	}()

	waitFor(t, 2*time.Second, "gateway identity", func() bool {
		_, _, ok := sup.Identity()
		return ok
	})

	baseID, version, _ := sup.Identity()
	if baseID != "deadbeef" {
		t.Errorf("base id = %q, want deadbeef", baseID)
	}
	if version.AppVersion != "1.2.3.4" {
		t.Errorf("app version = %q, want 1.2.3.4", version.AppVersion)
	}
	if version.ChipID != "cafebabe" {
		t.Errorf("chip id = %q, want cafebabe", version.ChipID)
	}

	// The ERP1 telegram that arrived ahead of the base-id response must
	// have been forwarded to dispatch, not swallowed by SendCommand.
	mu.Lock()
	forwarded := len(dispatched)
	mu.Unlock()
	if forwarded != 1 {
		t.Errorf("dispatched %d radio packets during identity fetch, want 1", forwarded)
	}

	sup.Stop()
	waitFor(t, 2*time.Second, "run loop exit", func() bool {
		select {
		case <-done:
			return true
		default:
			return false
		}
	})
}

func TestSupervisorPingsIdleLinkThenReconnects(t *testing.T) {
	shrinkTimers(t)
	gw := &fakeGateway{}
	sup := New(gw, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		sup.Run(ctx)
		close(done)
	}()

	waitFor(t, 2*time.Second, "gateway identity", func() bool {
		_, _, ok := sup.Identity()
		return ok
	})
	versionReadsBefore := gw.commandCount(esp3.CommandReadVersion)

	// Silence the gateway: the link idles, a keepalive ping goes out,
	// goes unanswered, and the link is declared dead and reopened.
	gw.mute()
	opensBefore := gw.opens()

	waitFor(t, 2*time.Second, "keepalive ping", func() bool {
		return gw.commandCount(esp3.CommandReadVersion) > versionReadsBefore
	})
	waitFor(t, 2*time.Second, "dead link reopen", func() bool {
		return gw.opens() > opensBefore
	})

	sup.Stop()
	waitFor(t, 2*time.Second, "run loop exit", func() bool {
		select {
		case <-done:
			return true
		default:
			return false
		}
	})
}
