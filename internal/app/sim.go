package app

import (
	"context"
	"fmt"

	"github.com/nowmesh/nowlink/internal/config"
	"github.com/nowmesh/nowlink/internal/link"
	"github.com/nowmesh/nowlink/internal/protocol"
	"github.com/nowmesh/nowlink/internal/radio/mesh"
	"github.com/nowmesh/nowlink/internal/util"
)

// RunSim runs the station loop against an in-memory radio with one echo
// peer attached, so the whole stack can be exercised without a network.
func RunSim(ctx context.Context, st *config.Station) error {
	m := mesh.New()
	node := m.Node()
	echo := m.Node()

	echoLink, err := startEcho(echo, node.Addr())
	if err != nil {
		return err
	}
	defer echoLink.Deinit()

	util.LogInfo("simulated air: echo peer at %s", echo.Addr())
	return runStation(ctx, st, node, []protocol.HardwareAddr{echo.Addr()}, nil)
}

// startEcho brings up a link on node that answers every datagram with the
// same payload. The sender is pre-registered so the reply can go unicast.
func startEcho(node *mesh.Node, sender protocol.HardwareAddr) (*link.Link, error) {
	lk := link.New(node)

	_, err := lk.Init(link.Config{Handler: link.HandlerFuncs{
		Datagram: func(src protocol.HardwareAddr, payload []byte) {
			if err := lk.Send(src, payload); err != nil {
				util.LogWarning("echo to %s rejected: %v", src, err)
			}
		},
	}})
	if err != nil {
		return nil, fmt.Errorf("failed to bring up echo link: %w", err)
	}

	if err := lk.AddPeer(sender); err != nil {
		lk.Deinit()
		return nil, err
	}
	return lk, nil
}
