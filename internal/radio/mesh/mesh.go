// Package mesh provides an in-memory radio medium. Every Node hangs off a
// shared Mesh and implements link.Driver, so a whole fleet of stations can
// run inside one process — used by the sim demo and by tests that need real
// asynchronous interleavings without hardware.
package mesh

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/nowmesh/nowlink/internal/link"
	"github.com/nowmesh/nowlink/internal/protocol"
)

// Air timing. Delivery is asynchronous with a random delay so callers see
// the same event interleavings a real radio produces; a failed unicast
// burns the whole retry budget before the FAIL completion fires.
const (
	maxAirDelay = 20 * time.Millisecond
	retryBudget = 60 * time.Millisecond
)

// Compile-time interface check.
var _ link.Driver = (*Node)(nil)

// Mesh is the shared medium. The zero value is not usable; call New.
type Mesh struct {
	mu    sync.Mutex
	nodes map[protocol.HardwareAddr]*Node
	next  uint32
}

// New creates an empty medium.
func New() *Mesh {
	return &Mesh{nodes: make(map[protocol.HardwareAddr]*Node)}
}

// Node attaches a new station to the medium and mints it a locally
// administered hardware address (02:4e:57:xx:xx:xx).
func (m *Mesh) Node() *Node {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.next++
	addr := protocol.HardwareAddr{0x02, 0x4e, 0x57, byte(m.next >> 16), byte(m.next >> 8), byte(m.next)}
	n := &Node{
		mesh:  m,
		addr:  addr,
		peers: make(map[protocol.HardwareAddr]protocol.Peer),
	}
	m.nodes[addr] = n
	return n
}

// Detach takes a node off the air, as if it were powered down. Unicasts to
// it fail after the retry budget; the node itself can no longer be armed.
func (m *Mesh) Detach(n *Node) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.nodes, n.addr)
}

func (m *Mesh) lookup(addr protocol.HardwareAddr) *Node {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.nodes[addr]
}

// Node is one station on the medium.
type Node struct {
	mesh *Mesh
	addr protocol.HardwareAddr

	mu    sync.Mutex
	sink  link.EventSink
	peers map[protocol.HardwareAddr]protocol.Peer
}

// Addr returns the node's minted hardware address. Handy for tests and the
// sim demo, which need to know addresses before any link is initialized.
func (n *Node) Addr() protocol.HardwareAddr { return n.addr }

// LocalAddr implements link.Driver.
func (n *Node) LocalAddr() (protocol.HardwareAddr, error) {
	if n.mesh.lookup(n.addr) != n {
		return protocol.HardwareAddr{}, errors.New("mesh: node is detached")
	}
	return n.addr, nil
}

// Init implements link.Driver.
func (n *Node) Init(sink link.EventSink) error {
	if n.mesh.lookup(n.addr) != n {
		return errors.New("mesh: node is detached")
	}
	n.mu.Lock()
	n.sink = sink
	n.mu.Unlock()
	return nil
}

// Deinit implements link.Driver. It disarms the node and, like a real radio
// reset, forgets every registered peer.
func (n *Node) Deinit() error {
	n.mu.Lock()
	n.sink = nil
	n.peers = make(map[protocol.HardwareAddr]protocol.Peer)
	n.mu.Unlock()
	return nil
}

// AddPeer implements link.Driver. True duplicates are rejected here, not in
// the link core.
func (n *Node) AddPeer(p protocol.Peer) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if _, ok := n.peers[p.Addr]; ok {
		return fmt.Errorf("mesh: peer %s already registered", p.Addr)
	}
	n.peers[p.Addr] = p
	return nil
}

// RemovePeer implements link.Driver.
func (n *Node) RemovePeer(addr protocol.HardwareAddr) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if _, ok := n.peers[addr]; !ok {
		return fmt.Errorf("mesh: peer %s not registered", addr)
	}
	delete(n.peers, addr)
	return nil
}

// Send implements link.Driver. Unicast requires a registered peer; the
// broadcast destination fans out to every registered peer and completes
// once against protocol.Broadcast, which is how the real radio reports
// broadcast attempts.
func (n *Node) Send(dst protocol.HardwareAddr, payload []byte) error {
	n.mu.Lock()
	if n.sink == nil {
		n.mu.Unlock()
		return errors.New("mesh: node not armed")
	}

	if dst.IsBroadcast() {
		targets := make([]protocol.HardwareAddr, 0, len(n.peers))
		for addr := range n.peers {
			targets = append(targets, addr)
		}
		n.mu.Unlock()

		buf := cloneBytes(payload)
		for _, target := range targets {
			go n.airDeliver(target, buf, false)
		}
		go n.complete(protocol.Broadcast, protocol.SendSuccess)
		return nil
	}

	_, registered := n.peers[dst]
	n.mu.Unlock()
	if !registered {
		return fmt.Errorf("mesh: peer %s not registered", dst)
	}

	go n.airDeliver(dst, cloneBytes(payload), true)
	return nil
}

// airDeliver carries one frame across the medium after a random delay and,
// for unicast, reports the attempt's outcome back to this node's sink.
func (n *Node) airDeliver(dst protocol.HardwareAddr, payload []byte, report bool) {
	time.Sleep(time.Duration(rand.Int64N(int64(maxAirDelay))))

	dest := n.mesh.lookup(dst)
	if dest == nil || !dest.receive(n.addr, payload) {
		if report {
			time.Sleep(retryBudget)
			n.complete(dst, protocol.SendFail)
		}
		return
	}
	if report {
		n.complete(dst, protocol.SendSuccess)
	}
}

// receive hands a frame to the node's sink. Reports false when the node is
// not armed, which the sender treats as an unacknowledged frame.
func (n *Node) receive(src protocol.HardwareAddr, payload []byte) bool {
	n.mu.Lock()
	sink := n.sink
	n.mu.Unlock()
	if sink == nil {
		return false
	}
	sink.Receive(src, payload)
	return true
}

func (n *Node) complete(dst protocol.HardwareAddr, status protocol.SendStatus) {
	n.mu.Lock()
	sink := n.sink
	n.mu.Unlock()
	if sink != nil {
		sink.SendComplete(dst, status)
	}
}

func cloneBytes(b []byte) []byte {
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
