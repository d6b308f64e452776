package link

import (
	"github.com/Arceliar/phony"

	"github.com/nowmesh/nowlink/internal/protocol"
	"github.com/nowmesh/nowlink/internal/util"
)

// dispatcher is the seam between the driver's notification context and the
// application handler. It is an actor: events and handler swaps are applied
// in arrival order on a single inbox, so handlers never run under the Link
// mutex and a swap is ordered with respect to in-flight events. A nil
// handler drops events.
type dispatcher struct {
	phony.Inbox
	handler Handler
}

// swap replaces the handler. Events already queued behind the swap see the
// new handler; events queued ahead of it see the old one.
func (d *dispatcher) swap(h Handler) {
	d.Act(nil, func() { d.handler = h })
}

// SendComplete implements EventSink.
func (d *dispatcher) SendComplete(dst protocol.HardwareAddr, status protocol.SendStatus) {
	d.Act(nil, func() {
		if status == protocol.SendFail {
			util.Stats.AddSendFailure()
		}
		if d.handler == nil {
			util.LogDebug("send completion for %s dropped: no handler", dst)
			return
		}
		d.handler.HandleSendComplete(dst, status)
	})
}

// Receive implements EventSink.
func (d *dispatcher) Receive(src protocol.HardwareAddr, payload []byte) {
	d.Act(nil, func() {
		util.Stats.AddRecv(len(payload))
		if d.handler == nil {
			util.LogDebug("datagram from %s dropped: no handler", src)
			return
		}
		d.handler.HandleDatagram(src, payload)
	})
}
