// Package app contains the top-level orchestration for the station roles:
// hosting an air link, joining one, or running a local simulation.
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/pterm/pterm"

	"github.com/nowmesh/nowlink/internal/config"
	"github.com/nowmesh/nowlink/internal/link"
	"github.com/nowmesh/nowlink/internal/protocol"
	"github.com/nowmesh/nowlink/internal/radio/airlink"
	"github.com/nowmesh/nowlink/internal/util"
)

// RunHost orchestrates the hosting lifecycle:
//  1. Start the signaling server with a random PIN and announce it
//  2. Wait for one station to dial in and complete the WebRTC exchange
//  3. Bring up the link, register the remote plus the configured peers
//  4. Heartbeat and dispatch traffic until shutdown
func RunHost(ctx context.Context, st *config.Station) error {
	drv, err := airlink.Host(ctx, func(port int, pin string) {
		pterm.DefaultBox.
			WithTitle("Signaling").
			Println(fmt.Sprintf("Port : %d\nPIN  : %s", port, pin))
		util.LogInfo("waiting for a station to join...")
	})
	if err != nil {
		return fmt.Errorf("failed to establish air link: %w", err)
	}

	util.LogSuccess("air link established with %s", drv.RemoteAddr())
	return runStation(ctx, st, drv, []protocol.HardwareAddr{drv.RemoteAddr()}, drv.Done())
}

// RunJoin orchestrates the joining lifecycle: dial the hosting station's
// signaling URL, complete the WebRTC exchange, then run the station loop.
func RunJoin(ctx context.Context, st *config.Station, wsURL string) error {
	drv, err := airlink.Join(ctx, wsURL)
	if err != nil {
		return fmt.Errorf("failed to establish air link: %w", err)
	}

	util.LogSuccess("air link established with %s", drv.RemoteAddr())
	return runStation(ctx, st, drv, []protocol.HardwareAddr{drv.RemoteAddr()}, drv.Done())
}

// runStation is the shared station loop: bring up the link over drv,
// register peers, broadcast heartbeats and log traffic until ctx is
// cancelled or the driver reports done. A nil done channel never fires.
func runStation(ctx context.Context, st *config.Station, drv link.Driver, peers []protocol.HardwareAddr, done <-chan struct{}) error {
	lk := link.New(drv)
	self, err := lk.Init(link.Config{Handler: stationHandler(st.Name)})
	if err != nil {
		return fmt.Errorf("failed to bring up link: %w", err)
	}
	defer lk.Deinit()

	util.LogInfo("%s on the air as %s", st.Name, self)

	configured, err := st.PeerAddrs()
	if err != nil {
		return err
	}

	seen := make(map[protocol.HardwareAddr]bool)
	for _, addr := range append(peers, configured...) {
		if addr == self || seen[addr] {
			continue
		}
		seen[addr] = true
		if err := lk.AddPeer(addr); err != nil {
			util.LogWarning("failed to register peer %s: %v", addr, err)
			continue
		}
		util.LogDebug("peer %s registered", addr)
	}

	util.StartStatsReporter(ctx)

	var tick <-chan time.Time
	if hb := time.Duration(st.Heartbeat); hb > 0 {
		t := time.NewTicker(hb)
		defer t.Stop()
		tick = t.C
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-done:
			return fmt.Errorf("air link closed")
		case <-tick:
			msg := fmt.Sprintf("%s checking in", st.Name)
			if err := lk.Send(protocol.Broadcast, []byte(msg)); err != nil {
				util.LogWarning("heartbeat rejected: %v", err)
			}
		}
	}
}

// stationHandler logs the two asynchronous events. Failures are warnings;
// successes only show at debug level to keep the heartbeat quiet.
func stationHandler(name string) link.Handler {
	return link.HandlerFuncs{
		SendComplete: func(dst protocol.HardwareAddr, status protocol.SendStatus) {
			if status == protocol.SendSuccess {
				util.LogDebug("delivery to %s: %s", dst, status)
			} else {
				util.LogWarning("delivery to %s: %s", dst, status)
			}
		},
		Datagram: func(src protocol.HardwareAddr, payload []byte) {
			util.LogInfo("[%s] %d bytes from %s: %q", name, len(payload), src, payload)
		},
	}
}
