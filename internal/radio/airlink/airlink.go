// Package airlink carries the datagram layer between two stations over a
// WebRTC DataChannel — an emulated air interface for stations that sit on
// opposite sides of the internet. Signaling runs over a short-lived,
// PIN-gated WebSocket; after that no infrastructure is involved.
//
// The emulation keeps the radio's contract: every DATA frame addressed to a
// station is answered with an ACK frame, and the sender reports SUCCESS on
// ack or FAIL once the retry budget expires. Broadcast frames are not acked
// and complete as soon as they are on the wire.
package airlink

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pion/webrtc/v4"

	"github.com/nowmesh/nowlink/internal/link"
	"github.com/nowmesh/nowlink/internal/protocol"
	"github.com/nowmesh/nowlink/internal/util"
)

// ackTimeout is the emulated retry budget: how long a DATA frame may stay
// unacknowledged before its FAIL completion fires.
const ackTimeout = 400 * time.Millisecond

const pinLength = 4

// Compile-time interface check.
var _ link.Driver = (*Driver)(nil)

// Driver is a point-to-point air link to one remote station. It implements
// link.Driver; construct it with Host or Join.
type Driver struct {
	local  protocol.HardwareAddr
	remote protocol.HardwareAddr

	pc      *webrtc.PeerConnection
	dc      *webrtc.DataChannel
	out     *sender
	pending *pendingAcks

	ctx    context.Context
	cancel context.CancelFunc

	mu    sync.Mutex
	sink  link.EventSink
	peers map[protocol.HardwareAddr]protocol.Peer
	seq   atomic.Uint32
}

// Host brings up the hosting side: it starts the signaling server, reports
// the port and PIN through announce, waits for one station to dial in and
// completes the WebRTC exchange. It returns once the air link is open.
func Host(ctx context.Context, announce func(port int, pin string)) (*Driver, error) {
	local, err := localHardwareAddr()
	if err != nil {
		return nil, err
	}

	pin := generatePIN(pinLength)
	srv := newServer(pin)
	port, err := srv.start()
	if err != nil {
		return nil, err
	}
	defer srv.close()

	if announce != nil {
		announce(port, pin)
	}

	wsConn, err := srv.waitForStation(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to wait for station: %w", err)
	}
	defer wsConn.Close()
	util.LogDebug("station connected to signaling server")

	return establish(ctx, wsConn, local, true)
}

// Join brings up the joining side: it dials the hosting station's signaling
// URL and completes the WebRTC exchange. It returns once the air link is open.
func Join(ctx context.Context, url string) (*Driver, error) {
	local, err := localHardwareAddr()
	if err != nil {
		return nil, err
	}

	wsConn, err := dialSignaling(ctx, url)
	if err != nil {
		return nil, err
	}
	defer wsConn.Close()
	util.LogDebug("connected to signaling server: %s", url)

	return establish(ctx, wsConn, local, false)
}

// establish runs the common bring-up: PeerConnection + DataChannel, the
// signaling exchange, and the sender goroutine.
func establish(parent context.Context, wsConn *websocket.Conn, local protocol.HardwareAddr, offerer bool) (*Driver, error) {
	pc, err := newPeerConnection()
	if err != nil {
		return nil, fmt.Errorf("failed to create PeerConnection: %w", err)
	}

	dc, err := newDataChannel(pc)
	if err != nil {
		pc.Close()
		return nil, fmt.Errorf("failed to create DataChannel: %w", err)
	}

	ctx, cancel := context.WithCancel(parent)
	d := &Driver{
		local:  local,
		pc:     pc,
		dc:     dc,
		ctx:    ctx,
		cancel: cancel,
		peers:  make(map[protocol.HardwareAddr]protocol.Peer),
	}
	d.pending = newPendingAcks(d.complete)

	openSignal := make(chan struct{})
	var openOnce sync.Once
	dc.OnOpen(func() {
		openOnce.Do(func() { close(openSignal) })
	})
	dc.OnClose(func() {
		util.LogDebug("air link DataChannel closed")
		cancel()
	})
	dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		d.onFrame(msg.Data)
	})

	d.out = newSender(ctx, dc, openSignal)

	remote, err := exchange(ctx, wsConn, pc, local, offerer, openSignal)
	if err != nil {
		cancel()
		pc.Close()
		return nil, err
	}
	d.remote = remote
	util.LogInfo("air link established with station %s", remote)

	return d, nil
}

// RemoteAddr returns the remote station's hardware address learned during
// signaling.
func (d *Driver) RemoteAddr() protocol.HardwareAddr { return d.remote }

// Done is closed when the air link is down (channel closed or parent
// context cancelled).
func (d *Driver) Done() <-chan struct{} { return d.ctx.Done() }

// LocalAddr implements link.Driver. The address was queried from the host
// environment during bring-up.
func (d *Driver) LocalAddr() (protocol.HardwareAddr, error) {
	if d.local.IsZero() {
		return protocol.HardwareAddr{}, errors.New("airlink: no hardware address")
	}
	return d.local, nil
}

// Init implements link.Driver.
func (d *Driver) Init(sink link.EventSink) error {
	select {
	case <-d.ctx.Done():
		return errLinkClosed
	default:
	}
	d.mu.Lock()
	d.sink = sink
	d.mu.Unlock()
	return nil
}

// Deinit implements link.Driver. In-flight sends are failed so their
// completions still fire before the sink is unhooked.
func (d *Driver) Deinit() error {
	d.pending.flushFailed()
	d.mu.Lock()
	d.sink = nil
	d.peers = make(map[protocol.HardwareAddr]protocol.Peer)
	d.mu.Unlock()

	d.cancel()
	return errors.Join(d.dc.Close(), d.pc.Close())
}

// AddPeer implements link.Driver.
func (d *Driver) AddPeer(p protocol.Peer) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.peers[p.Addr]; ok {
		return fmt.Errorf("airlink: peer %s already registered", p.Addr)
	}
	d.peers[p.Addr] = p
	return nil
}

// RemovePeer implements link.Driver.
func (d *Driver) RemovePeer(addr protocol.HardwareAddr) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.peers[addr]; !ok {
		return fmt.Errorf("airlink: peer %s not registered", addr)
	}
	delete(d.peers, addr)
	return nil
}

// Send implements link.Driver.
func (d *Driver) Send(dst protocol.HardwareAddr, payload []byte) error {
	select {
	case <-d.ctx.Done():
		return errLinkClosed
	default:
	}

	if dst.IsBroadcast() {
		f := protocol.Frame{Kind: protocol.FrameData, Src: d.local, Dst: protocol.Broadcast, Payload: payload}
		return d.out.send(d.ctx, outFrame{
			data: protocol.Encode(&f),
			onAir: func() {
				d.complete(protocol.Broadcast, protocol.SendSuccess)
			},
		})
	}

	d.mu.Lock()
	_, registered := d.peers[dst]
	d.mu.Unlock()
	if !registered {
		return fmt.Errorf("airlink: peer %s not registered", dst)
	}

	seq := d.seq.Add(1)
	f := protocol.Frame{Kind: protocol.FrameData, Seq: seq, Src: d.local, Dst: dst, Payload: payload}
	d.pending.track(seq, dst, ackTimeout)
	if err := d.out.send(d.ctx, outFrame{data: protocol.Encode(&f)}); err != nil {
		// Rejected synchronously: the caller gets the error, not a
		// completion event.
		d.pending.drop(seq)
		return err
	}
	return nil
}

// onFrame handles one inbound frame from the DataChannel.
func (d *Driver) onFrame(data []byte) {
	f, err := protocol.Decode(data)
	if err != nil {
		util.LogWarning("dropping malformed frame: %v", err)
		return
	}

	switch f.Kind {
	case protocol.FrameAck:
		d.pending.ack(f.Seq)

	case protocol.FrameData:
		if f.Dst != d.local && !f.Dst.IsBroadcast() {
			util.LogDebug("ignoring frame for %s", f.Dst)
			return
		}
		if !f.Dst.IsBroadcast() {
			ack := protocol.Frame{Kind: protocol.FrameAck, Seq: f.Seq, Src: d.local, Dst: f.Src}
			if err := d.out.send(d.ctx, outFrame{data: protocol.Encode(&ack)}); err != nil {
				util.LogDebug("ack for frame %d not sent: %v", f.Seq, err)
			}
		}
		d.deliver(f.Src, f.Payload)
	}
}

func (d *Driver) deliver(src protocol.HardwareAddr, payload []byte) {
	d.mu.Lock()
	sink := d.sink
	d.mu.Unlock()
	if sink != nil {
		sink.Receive(src, payload)
	}
}

func (d *Driver) complete(dst protocol.HardwareAddr, status protocol.SendStatus) {
	d.mu.Lock()
	sink := d.sink
	d.mu.Unlock()
	if sink != nil {
		sink.SendComplete(dst, status)
	}
}

// localHardwareAddr queries the station's hardware address from the host:
// the first usable interface MAC, or a random locally administered address
// when the host exposes none (containers, CI).
func localHardwareAddr() (protocol.HardwareAddr, error) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return protocol.HardwareAddr{}, fmt.Errorf("airlink: failed to query hardware address: %w", err)
	}
	for _, iface := range ifaces {
		if iface.Flags&net.FlagLoopback != 0 || len(iface.HardwareAddr) != 6 {
			continue
		}
		var a protocol.HardwareAddr
		copy(a[:], iface.HardwareAddr)
		if !a.IsZero() {
			return a, nil
		}
	}

	var a protocol.HardwareAddr
	if _, err := rand.Read(a[:]); err != nil {
		return protocol.HardwareAddr{}, fmt.Errorf("airlink: failed to derive hardware address: %w", err)
	}
	a[0] = a[0]&0xfe | 0x02 // locally administered, unicast
	util.LogDebug("no interface MAC available, using %s", a)
	return a, nil
}
