// Package util provides logging and traffic accounting shared by all layers.
package util

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/pterm/pterm"
)

// Stats is the process-wide datagram traffic counter.
var Stats = &stats{}

type stats struct {
	DatagramsSent atomic.Int64 // datagrams accepted for transmission
	DatagramsRecv atomic.Int64 // datagrams delivered to the receive handler
	BytesSent     atomic.Int64 // payload bytes accepted for transmission
	BytesRecv     atomic.Int64 // payload bytes delivered
	SendFailures  atomic.Int64 // send completions that reported FAIL
}

func (s *stats) AddSent(n int) {
	s.DatagramsSent.Add(1)
	s.BytesSent.Add(int64(n))
}

func (s *stats) AddRecv(n int) {
	s.DatagramsRecv.Add(1)
	s.BytesRecv.Add(int64(n))
}

func (s *stats) AddSendFailure() { s.SendFailures.Add(1) }

// StartStatsReporter launches a goroutine that logs traffic statistics every
// 10 seconds while anything is moving. It stops when ctx is cancelled.
func StartStatsReporter(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(10 * time.Second)
		defer ticker.Stop()

		var prevSent, prevRecv, prevFail int64
		for {
			select {
			case <-ticker.C:
				sent := Stats.DatagramsSent.Load()
				recv := Stats.DatagramsRecv.Load()
				fail := Stats.SendFailures.Load()

				if sent != prevSent || recv != prevRecv || fail != prevFail {
					pterm.DefaultLogger.Info(fmt.Sprintf("Tx: %3d | Rx: %3d | Fail: %2d",
						sent-prevSent, recv-prevRecv, fail-prevFail))
				}

				prevSent = sent
				prevRecv = recv
				prevFail = fail

			case <-ctx.Done():
				return
			}
		}
	}()
}
