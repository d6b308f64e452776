package airlink

import (
	"context"
	"errors"

	"github.com/pion/webrtc/v4"

	"github.com/nowmesh/nowlink/internal/util"
)

const (
	highWaterMark  = 32 * 1024 // pause sending when bufferedAmount exceeds this
	lowWaterMark   = 8 * 1024  // resume sending when bufferedAmount drops below this
	sendBufferSize = 64        // outgoing frame channel capacity
)

var errLinkClosed = errors.New("airlink: link closed")

// outFrame is one encoded frame waiting for the wire. onAir, if set, runs
// after the frame was handed to the DataChannel — the hook the driver uses
// to time ack bookkeeping and broadcast completions.
type outFrame struct {
	data  []byte
	onAir func()
}

// sender is the single goroutine allowed to write to the DataChannel. It
// gates on channel open and applies bufferedAmount backpressure.
type sender struct {
	inbox       chan outFrame
	drainSignal chan struct{}
}

// newSender wires the backpressure callbacks on dc and starts the background
// loop. The loop exits when ctx is cancelled.
func newSender(ctx context.Context, dc *webrtc.DataChannel, openSignal <-chan struct{}) *sender {
	s := &sender{
		inbox:       make(chan outFrame, sendBufferSize),
		drainSignal: make(chan struct{}, 1),
	}

	dc.SetBufferedAmountLowThreshold(uint64(lowWaterMark))
	dc.OnBufferedAmountLow(func() {
		select {
		case s.drainSignal <- struct{}{}:
		default:
		}
	})

	go s.loop(ctx, dc, openSignal)

	return s
}

func (s *sender) loop(ctx context.Context, dc *webrtc.DataChannel, openSignal <-chan struct{}) {
	// Phase 1: wait for the channel to open.
	select {
	case <-openSignal:
	case <-ctx.Done():
		return
	}

	// Phase 2: drain the inbox with backpressure.
	for {
		select {
		case f := <-s.inbox:
			if dc.BufferedAmount() > uint64(highWaterMark) {
				select {
				case <-s.drainSignal:
				case <-ctx.Done():
					return
				}
			}

			if err := dc.Send(f.data); err != nil {
				util.LogError("air link write failed: %v", err)
				return
			}
			if f.onAir != nil {
				f.onAir()
			}

		case <-ctx.Done():
			return
		}
	}
}

// send enqueues one frame. It blocks while the inbox is full and fails once
// the link is closed.
func (s *sender) send(ctx context.Context, f outFrame) error {
	select {
	case s.inbox <- f:
		return nil
	case <-ctx.Done():
		return errLinkClosed
	}
}
