package mesh_test

import (
	"testing"
	"time"

	"github.com/nowmesh/nowlink/internal/link"
	"github.com/nowmesh/nowlink/internal/protocol"
	"github.com/nowmesh/nowlink/internal/radio/mesh"
)

type event struct {
	addr    protocol.HardwareAddr
	status  protocol.SendStatus
	payload []byte
}

// testSink implements link.EventSink on channels.
type testSink struct {
	completions chan event
	datagrams   chan event
}

var _ link.EventSink = (*testSink)(nil)

func newTestSink() *testSink {
	return &testSink{
		completions: make(chan event, 32),
		datagrams:   make(chan event, 32),
	}
}

func (s *testSink) SendComplete(dst protocol.HardwareAddr, status protocol.SendStatus) {
	s.completions <- event{addr: dst, status: status}
}

func (s *testSink) Receive(src protocol.HardwareAddr, payload []byte) {
	s.datagrams <- event{addr: src, payload: payload}
}

func waitEvent(t *testing.T, ch chan event, what string) event {
	t.Helper()
	select {
	case e := <-ch:
		return e
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for %s", what)
		return event{}
	}
}

func armedPair(t *testing.T) (*mesh.Mesh, *mesh.Node, *mesh.Node, *testSink, *testSink) {
	t.Helper()
	m := mesh.New()
	a, b := m.Node(), m.Node()
	sa, sb := newTestSink(), newTestSink()
	if err := a.Init(sa); err != nil {
		t.Fatalf("arm a: %v", err)
	}
	if err := b.Init(sb); err != nil {
		t.Fatalf("arm b: %v", err)
	}
	return m, a, b, sa, sb
}

func TestUnicastDeliveryAndAck(t *testing.T) {
	_, a, b, sa, sb := armedPair(t)

	if err := a.AddPeer(protocol.Peer{Addr: b.Addr()}); err != nil {
		t.Fatalf("AddPeer: %v", err)
	}
	if err := a.Send(b.Addr(), []byte("over the air")); err != nil {
		t.Fatalf("Send: %v", err)
	}

	dg := waitEvent(t, sb.datagrams, "datagram at b")
	if dg.addr != a.Addr() {
		t.Errorf("datagram source = %s, want %s", dg.addr, a.Addr())
	}
	if string(dg.payload) != "over the air" {
		t.Errorf("payload = %q", dg.payload)
	}

	c := waitEvent(t, sa.completions, "completion at a")
	if c.addr != b.Addr() || c.status != protocol.SendSuccess {
		t.Errorf("completion = {%s %s}, want {%s SUCCESS}", c.addr, c.status, b.Addr())
	}
}

func TestUnicastToDetachedPeerFails(t *testing.T) {
	m, a, b, sa, _ := armedPair(t)

	if err := a.AddPeer(protocol.Peer{Addr: b.Addr()}); err != nil {
		t.Fatalf("AddPeer: %v", err)
	}
	m.Detach(b)

	if err := a.Send(b.Addr(), []byte("anyone there")); err != nil {
		t.Fatalf("Send: %v", err)
	}

	c := waitEvent(t, sa.completions, "FAIL completion at a")
	if c.addr != b.Addr() || c.status != protocol.SendFail {
		t.Errorf("completion = {%s %s}, want {%s FAIL}", c.addr, c.status, b.Addr())
	}
}

func TestUnicastRequiresRegisteredPeer(t *testing.T) {
	_, a, b, _, _ := armedPair(t)
	if err := a.Send(b.Addr(), []byte("no intro")); err == nil {
		t.Fatal("Send to unregistered peer succeeded, want error")
	}
}

func TestBroadcastFansOutToRegisteredPeers(t *testing.T) {
	m, a, b, sa, sb := armedPair(t)
	c := m.Node()
	sc := newTestSink()
	if err := c.Init(sc); err != nil {
		t.Fatalf("arm c: %v", err)
	}

	for _, peer := range []*mesh.Node{b, c} {
		if err := a.AddPeer(protocol.Peer{Addr: peer.Addr()}); err != nil {
			t.Fatalf("AddPeer(%s): %v", peer.Addr(), err)
		}
	}

	if err := a.Send(protocol.Broadcast, []byte("hear ye")); err != nil {
		t.Fatalf("broadcast Send: %v", err)
	}

	for name, sink := range map[string]*testSink{"b": sb, "c": sc} {
		dg := waitEvent(t, sink.datagrams, "broadcast at "+name)
		if string(dg.payload) != "hear ye" {
			t.Errorf("%s payload = %q", name, dg.payload)
		}
	}

	done := waitEvent(t, sa.completions, "broadcast completion")
	if !done.addr.IsBroadcast() || done.status != protocol.SendSuccess {
		t.Errorf("broadcast completion = {%s %s}, want {%s SUCCESS}", done.addr, done.status, protocol.Broadcast)
	}
}

func TestDriverRejectsDuplicatePeer(t *testing.T) {
	_, a, b, _, _ := armedPair(t)
	if err := a.AddPeer(protocol.Peer{Addr: b.Addr()}); err != nil {
		t.Fatalf("AddPeer: %v", err)
	}
	if err := a.AddPeer(protocol.Peer{Addr: b.Addr()}); err == nil {
		t.Fatal("duplicate AddPeer succeeded, want error")
	}
}

func TestDeinitForgetsPeersAndDisarms(t *testing.T) {
	_, a, b, _, _ := armedPair(t)
	if err := a.AddPeer(protocol.Peer{Addr: b.Addr()}); err != nil {
		t.Fatalf("AddPeer: %v", err)
	}
	if err := a.Deinit(); err != nil {
		t.Fatalf("Deinit: %v", err)
	}
	if err := a.Send(b.Addr(), []byte("x")); err == nil {
		t.Fatal("Send on disarmed node succeeded, want error")
	}
	// Re-arm: the peer table started over.
	if err := a.Init(newTestSink()); err != nil {
		t.Fatalf("re-Init: %v", err)
	}
	if err := a.AddPeer(protocol.Peer{Addr: b.Addr()}); err != nil {
		t.Fatalf("AddPeer after reset: %v", err)
	}
}

func TestEndToEndOverLinkCore(t *testing.T) {
	m := mesh.New()
	rover, base := m.Node(), m.Node()

	baseGot := make(chan string, 1)
	baseLink := link.New(base)
	if _, err := baseLink.Init(link.Config{Handler: link.HandlerFuncs{
		Datagram: func(src protocol.HardwareAddr, payload []byte) {
			baseGot <- string(payload)
		},
	}}); err != nil {
		t.Fatalf("base Init: %v", err)
	}
	defer baseLink.Deinit()

	completions := make(chan protocol.SendStatus, 1)
	roverLink := link.New(rover)
	if _, err := roverLink.Init(link.Config{Handler: link.HandlerFuncs{
		SendComplete: func(dst protocol.HardwareAddr, status protocol.SendStatus) {
			completions <- status
		},
	}}); err != nil {
		t.Fatalf("rover Init: %v", err)
	}
	defer roverLink.Deinit()

	if err := roverLink.AddPeer(base.Addr()); err != nil {
		t.Fatalf("AddPeer: %v", err)
	}
	if err := roverLink.Send(base.Addr(), []byte("rover checking in")); err != nil {
		t.Fatalf("Send: %v", err)
	}

	select {
	case got := <-baseGot:
		if got != "rover checking in" {
			t.Errorf("base received %q", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("base never received the datagram")
	}
	select {
	case status := <-completions:
		if status != protocol.SendSuccess {
			t.Errorf("completion status = %s, want SUCCESS", status)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("rover never saw the completion")
	}
}
