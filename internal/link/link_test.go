package link_test

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/nowmesh/nowlink/internal/link"
	"github.com/nowmesh/nowlink/internal/protocol"
)

// Compile-time interface check.
var _ link.Driver = (*fakeDriver)(nil)

// fakeDriver implements link.Driver in-process. Tests drive asynchronous
// events by calling the captured sink from their own goroutine, the same
// way a real radio's notification context would.
type fakeDriver struct {
	mu        sync.Mutex
	addr      protocol.HardwareAddr
	addrErr   error
	initErr   error
	sendErr   error
	removeErr error
	deinitErr error
	sink      link.EventSink
	initCalls int
	peers     map[protocol.HardwareAddr]bool
	sent      []protocol.HardwareAddr
}

func newFakeDriver() *fakeDriver {
	return &fakeDriver{
		addr:  protocol.HardwareAddr{0x02, 0x4e, 0x57, 0x00, 0x00, 0x01},
		peers: make(map[protocol.HardwareAddr]bool),
	}
}

func (d *fakeDriver) LocalAddr() (protocol.HardwareAddr, error) {
	return d.addr, d.addrErr
}

func (d *fakeDriver) Init(sink link.EventSink) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.initErr != nil {
		return d.initErr
	}
	d.initCalls++
	d.sink = sink
	return nil
}

func (d *fakeDriver) Send(dst protocol.HardwareAddr, payload []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.sendErr != nil {
		return d.sendErr
	}
	d.sent = append(d.sent, dst)
	return nil
}

func (d *fakeDriver) AddPeer(p protocol.Peer) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.peers[p.Addr] {
		return fmt.Errorf("fake: peer %s already registered", p.Addr)
	}
	d.peers[p.Addr] = true
	return nil
}

func (d *fakeDriver) RemovePeer(addr protocol.HardwareAddr) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.removeErr != nil {
		return d.removeErr
	}
	delete(d.peers, addr)
	return nil
}

func (d *fakeDriver) Deinit() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sink = nil
	return d.deinitErr
}

// events captures handler invocations on channels so tests can wait for
// asynchronous dispatch with a timeout.
type completion struct {
	dst    protocol.HardwareAddr
	status protocol.SendStatus
}

type datagram struct {
	src     protocol.HardwareAddr
	payload []byte
}

func captureHandler() (link.Handler, chan completion, chan datagram) {
	completions := make(chan completion, 8)
	datagrams := make(chan datagram, 8)
	h := link.HandlerFuncs{
		SendComplete: func(dst protocol.HardwareAddr, status protocol.SendStatus) {
			completions <- completion{dst, status}
		},
		Datagram: func(src protocol.HardwareAddr, payload []byte) {
			datagrams <- datagram{src, payload}
		},
	}
	return h, completions, datagrams
}

func peerAddr(i int) protocol.HardwareAddr {
	return protocol.HardwareAddr{0xaa, 0xbb, 0xcc, 0x00, byte(i >> 8), byte(i)}
}

// ---------------------------------------------------------------------------
// Peer directory
// ---------------------------------------------------------------------------

func TestAddThenRemoveLeavesCountUnchanged(t *testing.T) {
	l := link.New(newFakeDriver())
	if _, err := l.Init(link.Config{}); err != nil {
		t.Fatalf("Init: %v", err)
	}

	for i := 1; i <= 3; i++ {
		if err := l.AddPeer(peerAddr(i)); err != nil {
			t.Fatalf("AddPeer(%d): %v", i, err)
		}
	}
	before := l.PeerCount()

	target := peerAddr(99)
	if err := l.AddPeer(target); err != nil {
		t.Fatalf("AddPeer: %v", err)
	}
	if err := l.RemovePeer(target); err != nil {
		t.Fatalf("RemovePeer: %v", err)
	}

	if got := l.PeerCount(); got != before {
		t.Errorf("PeerCount = %d after add+remove, want %d", got, before)
	}
}

func TestPeerTableCapacity(t *testing.T) {
	l := link.New(newFakeDriver())
	if _, err := l.Init(link.Config{}); err != nil {
		t.Fatalf("Init: %v", err)
	}

	for i := 1; i <= protocol.MaxPeers; i++ {
		if err := l.AddPeer(peerAddr(i)); err != nil {
			t.Fatalf("AddPeer #%d: %v", i, err)
		}
	}

	err := l.AddPeer(peerAddr(protocol.MaxPeers + 1))
	if !errors.Is(err, link.ErrTooManyPeers) {
		t.Fatalf("AddPeer #%d = %v, want ErrTooManyPeers", protocol.MaxPeers+1, err)
	}
	if got := l.PeerCount(); got != protocol.MaxPeers {
		t.Errorf("PeerCount = %d, want %d", got, protocol.MaxPeers)
	}
}

func TestAddPeerRejectsZeroAddress(t *testing.T) {
	l := link.New(newFakeDriver())
	if _, err := l.Init(link.Config{}); err != nil {
		t.Fatalf("Init: %v", err)
	}
	if err := l.AddPeer(protocol.HardwareAddr{}); !errors.Is(err, link.ErrInvalidAddress) {
		t.Fatalf("AddPeer(zero) = %v, want ErrInvalidAddress", err)
	}
}

func TestDuplicateAddForwardedToRadio(t *testing.T) {
	d := newFakeDriver()
	l := link.New(d)
	if _, err := l.Init(link.Config{}); err != nil {
		t.Fatalf("Init: %v", err)
	}

	target := peerAddr(1)
	if err := l.AddPeer(target); err != nil {
		t.Fatalf("AddPeer: %v", err)
	}
	// The core does not deduplicate: the radio rejects, the error comes
	// back verbatim and the count does not grow.
	if err := l.AddPeer(target); err == nil {
		t.Fatal("duplicate AddPeer succeeded, want radio rejection")
	}
	if got := l.PeerCount(); got != 1 {
		t.Errorf("PeerCount = %d after rejected duplicate, want 1", got)
	}
}

func TestRemovePeerFailureKeepsCount(t *testing.T) {
	d := newFakeDriver()
	l := link.New(d)
	if _, err := l.Init(link.Config{}); err != nil {
		t.Fatalf("Init: %v", err)
	}
	if err := l.AddPeer(peerAddr(1)); err != nil {
		t.Fatalf("AddPeer: %v", err)
	}

	d.removeErr = errors.New("fake: peer not found")
	if err := l.RemovePeer(peerAddr(2)); err == nil {
		t.Fatal("RemovePeer of unknown address succeeded, want radio error")
	}
	if got := l.PeerCount(); got != 1 {
		t.Errorf("PeerCount = %d after failed removal, want 1", got)
	}
}

// ---------------------------------------------------------------------------
// Send validation and lifecycle
// ---------------------------------------------------------------------------

func TestSendPayloadBoundsCheckedBeforeLifecycle(t *testing.T) {
	dst := peerAddr(1)

	// Deliberately uninitialized: the bounds check must fire regardless.
	l := link.New(newFakeDriver())

	testCases := []struct {
		name    string
		payload []byte
	}{
		{name: "empty payload", payload: nil},
		{name: "zero-length payload", payload: []byte{}},
		{name: "oversized payload", payload: make([]byte, protocol.MaxPayload+1)},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if err := l.Send(dst, tc.payload); !errors.Is(err, link.ErrInvalidPayload) {
				t.Fatalf("Send = %v, want ErrInvalidPayload", err)
			}
		})
	}

	// A maximum-size payload is fine once the link is up.
	if _, err := l.Init(link.Config{}); err != nil {
		t.Fatalf("Init: %v", err)
	}
	if err := l.AddPeer(dst); err != nil {
		t.Fatalf("AddPeer: %v", err)
	}
	if err := l.Send(dst, make([]byte, protocol.MaxPayload)); err != nil {
		t.Fatalf("Send(max payload): %v", err)
	}
}

func TestSendBeforeInitAndAfterDeinit(t *testing.T) {
	l := link.New(newFakeDriver())
	payload := []byte("hello")

	if err := l.Send(peerAddr(1), payload); !errors.Is(err, link.ErrNotInitialized) {
		t.Fatalf("Send before Init = %v, want ErrNotInitialized", err)
	}

	if _, err := l.Init(link.Config{}); err != nil {
		t.Fatalf("Init: %v", err)
	}
	if err := l.Deinit(); err != nil {
		t.Fatalf("Deinit: %v", err)
	}

	if err := l.Send(peerAddr(1), payload); !errors.Is(err, link.ErrNotInitialized) {
		t.Fatalf("Send after Deinit = %v, want ErrNotInitialized", err)
	}
}

func TestLocalAddrCachedFromInit(t *testing.T) {
	d := newFakeDriver()
	l := link.New(d)

	if _, err := l.LocalAddr(); !errors.Is(err, link.ErrNotInitialized) {
		t.Fatalf("LocalAddr before Init = %v, want ErrNotInitialized", err)
	}

	got, err := l.Init(link.Config{})
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	if got.IsZero() {
		t.Fatal("Init returned a zero address")
	}
	if got != d.addr {
		t.Errorf("Init returned %s, environment reported %s", got, d.addr)
	}

	cached, err := l.LocalAddr()
	if err != nil {
		t.Fatalf("LocalAddr: %v", err)
	}
	if cached != d.addr {
		t.Errorf("LocalAddr = %s, want %s", cached, d.addr)
	}
}

func TestInitFailuresPropagated(t *testing.T) {
	t.Run("address query failure", func(t *testing.T) {
		d := newFakeDriver()
		d.addrErr = errors.New("fake: radio not associated")
		if _, err := link.New(d).Init(link.Config{}); !errors.Is(err, d.addrErr) {
			t.Fatalf("Init = %v, want %v", err, d.addrErr)
		}
	})
	t.Run("driver init failure", func(t *testing.T) {
		d := newFakeDriver()
		d.initErr = errors.New("fake: radio busy")
		if _, err := link.New(d).Init(link.Config{}); !errors.Is(err, d.initErr) {
			t.Fatalf("Init = %v, want %v", err, d.initErr)
		}
	})
}

func TestInitIdempotentSwapsHandlerOnly(t *testing.T) {
	d := newFakeDriver()
	l := link.New(d)

	first, _, _ := captureHandler()
	if _, err := l.Init(link.Config{Handler: first}); err != nil {
		t.Fatalf("Init: %v", err)
	}

	second, completions, _ := captureHandler()
	if _, err := l.Init(link.Config{Handler: second}); err != nil {
		t.Fatalf("second Init: %v", err)
	}
	if d.initCalls != 1 {
		t.Fatalf("driver armed %d times across two Init calls, want 1", d.initCalls)
	}

	// Events now land on the replacement handler.
	d.sink.SendComplete(peerAddr(1), protocol.SendSuccess)
	select {
	case c := <-completions:
		if c.dst != peerAddr(1) {
			t.Errorf("completion for %s, want %s", c.dst, peerAddr(1))
		}
	case <-time.After(time.Second):
		t.Fatal("replacement handler never saw the completion event")
	}
}

func TestDeinitIdempotentAndBestEffort(t *testing.T) {
	d := newFakeDriver()
	d.deinitErr = errors.New("fake: radio already powered down")
	l := link.New(d)
	if _, err := l.Init(link.Config{}); err != nil {
		t.Fatalf("Init: %v", err)
	}

	if err := l.Deinit(); err != nil {
		t.Fatalf("Deinit = %v, want nil (teardown failures are swallowed)", err)
	}
	if err := l.Deinit(); err != nil {
		t.Fatalf("second Deinit = %v, want nil", err)
	}

	// A fresh Init starts clean.
	if _, err := l.Init(link.Config{}); err != nil {
		t.Fatalf("Init after Deinit: %v", err)
	}
	if got := l.PeerCount(); got != 0 {
		t.Errorf("PeerCount = %d after re-Init, want 0", got)
	}
}

// ---------------------------------------------------------------------------
// Event dispatch
// ---------------------------------------------------------------------------

func TestSendCompletionDeliveredExactlyOnce(t *testing.T) {
	d := newFakeDriver()
	l := link.New(d)
	h, completions, _ := captureHandler()
	if _, err := l.Init(link.Config{Handler: h}); err != nil {
		t.Fatalf("Init: %v", err)
	}

	target, _ := protocol.ParseHardwareAddr("aa:bb:cc:dd:ee:ff")
	if err := l.AddPeer(target); err != nil {
		t.Fatalf("AddPeer: %v", err)
	}
	if err := l.Send(target, []byte("0123456789")); err != nil {
		t.Fatalf("Send: %v", err)
	}

	// The radio reports the attempt's outcome asynchronously.
	d.sink.SendComplete(target, protocol.SendFail)

	select {
	case c := <-completions:
		if c.dst != target {
			t.Errorf("completion for %s, want %s", c.dst, target)
		}
		if c.status != protocol.SendSuccess && c.status != protocol.SendFail {
			t.Errorf("completion status = %v, want SUCCESS or FAIL", c.status)
		}
	case <-time.After(time.Second):
		t.Fatal("send completion never delivered")
	}

	select {
	case c := <-completions:
		t.Fatalf("unexpected second completion: %+v", c)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestReceiveNeedsNoRegistration(t *testing.T) {
	d := newFakeDriver()
	l := link.New(d)
	h, _, datagrams := captureHandler()
	if _, err := l.Init(link.Config{Handler: h}); err != nil {
		t.Fatalf("Init: %v", err)
	}

	// stranger was never passed to AddPeer.
	stranger := protocol.HardwareAddr{0xde, 0xad, 0xbe, 0xef, 0x00, 0x01}
	d.sink.Receive(stranger, []byte("uninvited"))

	select {
	case dg := <-datagrams:
		if dg.src != stranger {
			t.Errorf("datagram from %s, want %s", dg.src, stranger)
		}
		if string(dg.payload) != "uninvited" {
			t.Errorf("payload = %q, want %q", dg.payload, "uninvited")
		}
	case <-time.After(time.Second):
		t.Fatal("datagram from unregistered sender never delivered")
	}
}

func TestEventsDroppedWithoutHandler(t *testing.T) {
	d := newFakeDriver()
	l := link.New(d)
	if _, err := l.Init(link.Config{}); err != nil {
		t.Fatalf("Init: %v", err)
	}

	// Must not panic; the events are silently dropped.
	d.sink.SendComplete(peerAddr(1), protocol.SendSuccess)
	d.sink.Receive(peerAddr(2), []byte("nobody home"))
	time.Sleep(20 * time.Millisecond)
}

func TestHandlerMayCallBackIntoLink(t *testing.T) {
	d := newFakeDriver()
	l := link.New(d)

	done := make(chan error, 1)
	h := link.HandlerFuncs{
		Datagram: func(src protocol.HardwareAddr, payload []byte) {
			// Reply from inside the notification context.
			done <- l.Send(src, payload)
		},
	}
	if _, err := l.Init(link.Config{Handler: h}); err != nil {
		t.Fatalf("Init: %v", err)
	}
	if err := l.AddPeer(peerAddr(1)); err != nil {
		t.Fatalf("AddPeer: %v", err)
	}

	d.sink.Receive(peerAddr(1), []byte("ping"))

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Send from handler: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("handler never ran")
	}
}
