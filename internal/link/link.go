// Package link implements the peer directory and the asynchronous
// send/receive dispatch layer over a pluggable radio driver.
//
// A Link has two states, uninitialized and active. Init arms the driver and
// caches the local hardware address; Deinit releases the radio best-effort
// and returns the Link to a clean state. Send, AddPeer and RemovePeer are
// synchronous, non-blocking calls that only enqueue work or mutate the
// in-memory directory; delivery outcomes and inbound datagrams arrive later
// through the configured Handler, invoked from the driver's notification
// context.
package link

import (
	"sync"

	"github.com/nowmesh/nowlink/internal/protocol"
	"github.com/nowmesh/nowlink/internal/util"
)

// Handler receives the two asynchronous events a station cares about.
// At most one Handler is active per Link; the last one configured wins.
type Handler interface {
	// HandleSendComplete reports the link-layer outcome of a prior Send.
	// There is no correlation identifier: match on destination address and
	// arrival order. SendSuccess means the frame was acknowledged at the
	// link layer, not that the receiving application processed it.
	HandleSendComplete(dst protocol.HardwareAddr, status protocol.SendStatus)

	// HandleDatagram delivers one inbound datagram. The sender does not
	// need to be a registered peer.
	HandleDatagram(src protocol.HardwareAddr, payload []byte)
}

// HandlerFuncs adapts plain functions to the Handler interface.
// Nil fields drop their events.
type HandlerFuncs struct {
	SendComplete func(dst protocol.HardwareAddr, status protocol.SendStatus)
	Datagram     func(src protocol.HardwareAddr, payload []byte)
}

func (h HandlerFuncs) HandleSendComplete(dst protocol.HardwareAddr, status protocol.SendStatus) {
	if h.SendComplete != nil {
		h.SendComplete(dst, status)
	}
}

func (h HandlerFuncs) HandleDatagram(src protocol.HardwareAddr, payload []byte) {
	if h.Datagram != nil {
		h.Datagram(src, payload)
	}
}

// Config carries what Init needs. Handler may be nil, in which case events
// are dropped (and logged at debug level).
type Config struct {
	Handler Handler
}

// Link ties one radio driver to the peer directory and the dispatch layer.
// All methods are safe for concurrent use, including from inside handlers.
type Link struct {
	drv  Driver
	disp dispatcher

	mu        sync.Mutex
	running   bool
	addr      protocol.HardwareAddr
	peerCount int
}

// New returns an uninitialized Link over drv. The driver's radio must
// already be brought up; New performs no I/O.
func New(drv Driver) *Link {
	return &Link{drv: drv}
}

// Init queries the local hardware address, arms the driver and transitions
// the Link to active. It returns the address the environment reported.
// Address-query and driver failures are returned verbatim.
//
// Calling Init on an active Link only replaces the handler — the driver is
// not armed twice.
func (l *Link) Init(cfg Config) (protocol.HardwareAddr, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.running {
		l.disp.swap(cfg.Handler)
		return l.addr, nil
	}

	addr, err := l.drv.LocalAddr()
	if err != nil {
		return protocol.HardwareAddr{}, err
	}

	l.disp.swap(cfg.Handler)
	if err := l.drv.Init(&l.disp); err != nil {
		l.disp.swap(nil)
		return protocol.HardwareAddr{}, err
	}

	l.addr = addr
	l.running = true
	util.LogInfo("link up, local address %s", addr)
	return addr, nil
}

// Send queues one datagram for transmission. dst may be protocol.Broadcast
// to reach every registered peer; unicast destinations must have been added
// with AddPeer first, which the radio enforces. A nil return means the
// radio accepted the frame for transmission — the delivery outcome arrives
// later through the handler.
func (l *Link) Send(dst protocol.HardwareAddr, payload []byte) error {
	// Payload bounds are checked before anything else, even the lifecycle
	// state: an oversized datagram is invalid no matter what.
	if len(payload) == 0 || len(payload) > protocol.MaxPayload {
		return ErrInvalidPayload
	}
	if dst.IsZero() {
		return ErrInvalidAddress
	}

	l.mu.Lock()
	if !l.running {
		l.mu.Unlock()
		return ErrNotInitialized
	}
	drv := l.drv
	l.mu.Unlock()

	if err := drv.Send(dst, payload); err != nil {
		return err
	}
	util.Stats.AddSent(len(payload))
	return nil
}

// AddPeer registers a new unicast destination. The directory holds at most
// protocol.MaxPeers entries. Duplicates are not deduplicated here: the add
// is forwarded as-is and the radio decides; the entry count grows only when
// the radio accepts.
func (l *Link) AddPeer(addr protocol.HardwareAddr) error {
	if addr.IsZero() {
		return ErrInvalidAddress
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.running {
		return ErrNotInitialized
	}
	if l.peerCount >= protocol.MaxPeers {
		return ErrTooManyPeers
	}
	if err := l.drv.AddPeer(protocol.Peer{Addr: addr}); err != nil {
		return err
	}
	l.peerCount++
	util.LogInfo("peer added: %s", addr)
	return nil
}

// RemovePeer deregisters a destination. Radio failures (for example removing
// an address that was never added) are propagated and leave the entry count
// untouched; the count never drops below zero.
func (l *Link) RemovePeer(addr protocol.HardwareAddr) error {
	if addr.IsZero() {
		return ErrInvalidAddress
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.running {
		return ErrNotInitialized
	}
	if err := l.drv.RemovePeer(addr); err != nil {
		return err
	}
	if l.peerCount > 0 {
		l.peerCount--
	}
	util.LogInfo("peer removed: %s", addr)
	return nil
}

// PeerCount reports the number of directory entries.
func (l *Link) PeerCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.peerCount
}

// LocalAddr returns the hardware address cached at Init; it never queries
// the radio again.
func (l *Link) LocalAddr() (protocol.HardwareAddr, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.running {
		return protocol.HardwareAddr{}, ErrNotInitialized
	}
	return l.addr, nil
}

// Deinit releases the radio and returns the Link to a clean state so a
// later Init starts fresh. Teardown is best-effort: driver failures are
// logged and swallowed, since there is no recovery the caller could attempt.
// Events still queued when the handler is unhooked are dropped. Idempotent.
func (l *Link) Deinit() error {
	l.mu.Lock()
	if !l.running {
		l.mu.Unlock()
		return nil
	}
	l.running = false
	l.addr = protocol.HardwareAddr{}
	l.peerCount = 0
	l.mu.Unlock()

	if err := l.drv.Deinit(); err != nil {
		util.LogWarning("radio teardown failed: %v", err)
	}
	l.disp.swap(nil)
	util.LogInfo("link down")
	return nil
}
