package airlink

import (
	"sync"
	"time"

	"github.com/nowmesh/nowlink/internal/protocol"
)

// pendingAcks tracks unacknowledged DATA frames by sequence number and
// reports each frame's outcome exactly once: SUCCESS when the matching ACK
// arrives, FAIL when the retry budget expires first.
type pendingAcks struct {
	report func(dst protocol.HardwareAddr, status protocol.SendStatus)

	mu      sync.Mutex
	entries map[uint32]*pendingEntry
}

type pendingEntry struct {
	dst   protocol.HardwareAddr
	timer *time.Timer
}

func newPendingAcks(report func(dst protocol.HardwareAddr, status protocol.SendStatus)) *pendingAcks {
	return &pendingAcks{
		report:  report,
		entries: make(map[uint32]*pendingEntry),
	}
}

// track arms the retry-budget timer for one in-flight frame.
func (p *pendingAcks) track(seq uint32, dst protocol.HardwareAddr, timeout time.Duration) {
	p.mu.Lock()
	e := &pendingEntry{dst: dst}
	e.timer = time.AfterFunc(timeout, func() {
		p.resolve(seq, protocol.SendFail)
	})
	p.entries[seq] = e
	p.mu.Unlock()
}

// ack resolves a frame as acknowledged. Late acks (after the timer already
// reported FAIL) are ignored.
func (p *pendingAcks) ack(seq uint32) {
	p.resolve(seq, protocol.SendSuccess)
}

// drop removes a frame without reporting an outcome. Used when the frame
// was rejected synchronously and the caller already holds the error.
func (p *pendingAcks) drop(seq uint32) {
	p.mu.Lock()
	e, ok := p.entries[seq]
	if ok {
		delete(p.entries, seq)
	}
	p.mu.Unlock()
	if ok {
		e.timer.Stop()
	}
}

// flushFailed resolves every in-flight frame as FAIL. Used at teardown so
// no caller waits forever on a completion that can no longer arrive.
func (p *pendingAcks) flushFailed() {
	p.mu.Lock()
	seqs := make([]uint32, 0, len(p.entries))
	for seq := range p.entries {
		seqs = append(seqs, seq)
	}
	p.mu.Unlock()

	for _, seq := range seqs {
		p.resolve(seq, protocol.SendFail)
	}
}

func (p *pendingAcks) resolve(seq uint32, status protocol.SendStatus) {
	p.mu.Lock()
	e, ok := p.entries[seq]
	if ok {
		delete(p.entries, seq)
	}
	p.mu.Unlock()

	if !ok {
		return
	}
	e.timer.Stop()
	p.report(e.dst, status)
}
