package link

import "github.com/nowmesh/nowlink/internal/protocol"

// Driver is the seam between the link core and an underlying datagram radio.
// Radio bring-up (association, channel selection, address assignment) is the
// driver's own concern: a Driver handed to New is assumed to already sit on
// an active radio, and the core only arms and releases it.
type Driver interface {
	// LocalAddr queries the radio's hardware address from the environment.
	LocalAddr() (protocol.HardwareAddr, error)

	// Init arms the driver: from the moment it returns nil, events flow
	// into sink until Deinit. The sink may be called from the driver's own
	// notification goroutine.
	Init(sink EventSink) error

	// Send queues one datagram. dst may be protocol.Broadcast, in which
	// case the radio fans out to every registered peer. Returning nil
	// means queued, not delivered — the outcome arrives via the sink.
	Send(dst protocol.HardwareAddr, payload []byte) error

	// AddPeer registers a unicast destination with the radio. The radio is
	// the authority on duplicates.
	AddPeer(peer protocol.Peer) error

	// RemovePeer deregisters a destination.
	RemovePeer(addr protocol.HardwareAddr) error

	// Deinit releases the radio. Best effort; once it returns the driver
	// must stop feeding the sink.
	Deinit() error
}

// EventSink receives the driver's two asynchronous events. Calls execute
// concurrently with the application's normal control flow.
type EventSink interface {
	// SendComplete reports the link-layer outcome of one send attempt.
	SendComplete(dst protocol.HardwareAddr, status protocol.SendStatus)

	// Receive delivers one inbound datagram. No peer registration is
	// involved: any station that knows our address can reach us.
	Receive(src protocol.HardwareAddr, payload []byte)
}
